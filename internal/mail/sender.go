// Package mail delivers transactional email over SMTP.
package mail

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Message is one outbound email.
type Message struct {
	From    string
	To      string
	Subject string
	HTML    string
}

// Sender delivers a message and returns a provider message id. Every call is
// bounded by the sender's timeout so one unreachable provider cannot stall a
// whole batch.
type Sender interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// SMTPSender talks plain SMTP (Mailpit locally, a relay in production).
type SMTPSender struct {
	addr    string
	from    string
	timeout time.Duration
}

// NewSMTPSender constructs a sender. When from is empty each message must
// carry its own sender address.
func NewSMTPSender(host string, port int, from string, timeout time.Duration) *SMTPSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SMTPSender{
		addr:    fmt.Sprintf("%s:%d", host, port),
		from:    from,
		timeout: timeout,
	}
}

// Send delivers the message. The connection deadline covers the whole SMTP
// conversation; a timeout surfaces as an error and the caller treats it as a
// send failure.
func (s *SMTPSender) Send(ctx context.Context, msg Message) (string, error) {
	from := msg.From
	if from == "" {
		from = s.from
	}
	if from == "" || msg.To == "" {
		return "", fmt.Errorf("mail: from and to are required")
	}

	timeout := s.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until < timeout {
			timeout = until
		}
	}

	conn, err := net.DialTimeout("tcp", s.addr, timeout)
	if err != nil {
		return "", fmt.Errorf("mail: dial %s: %w", s.addr, err)
	}
	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		_ = conn.Close()
		return "", fmt.Errorf("mail: set deadline: %w", err)
	}

	host, _, _ := net.SplitHostPort(s.addr)
	client, err := smtp.NewClient(conn, host)
	if err != nil {
		_ = conn.Close()
		return "", fmt.Errorf("mail: smtp handshake: %w", err)
	}
	defer func() {
		_ = client.Close()
	}()

	if err := client.Mail(from); err != nil {
		return "", fmt.Errorf("mail: MAIL FROM: %w", err)
	}
	if err := client.Rcpt(msg.To); err != nil {
		return "", fmt.Errorf("mail: RCPT TO: %w", err)
	}

	messageID := fmt.Sprintf("<%s@ledgerline>", uuid.NewString())

	w, err := client.Data()
	if err != nil {
		return "", fmt.Errorf("mail: DATA: %w", err)
	}
	if _, err := w.Write(buildMIME(from, msg, messageID)); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("mail: write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("mail: finish body: %w", err)
	}
	if err := client.Quit(); err != nil {
		return "", fmt.Errorf("mail: quit: %w", err)
	}
	return messageID, nil
}

func buildMIME(from string, msg Message, messageID string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	fmt.Fprintf(&b, "Message-ID: %s\r\n", messageID)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.HTML)
	b.WriteString("\r\n")
	return []byte(b.String())
}
