package mail

import (
	"bytes"
	"fmt"
	"html/template"
	texttemplate "text/template"
	"time"

	"github.com/shopspring/decimal"
)

// ReminderData feeds the overdue reminder templates.
type ReminderData struct {
	ClientName    string
	InvoiceNumber string
	Currency      string
	Total         decimal.Decimal
	AmountDue     decimal.Decimal
	DueDate       time.Time
	DaysOverdue   int
}

const defaultReminderSubject = `Payment reminder: invoice {{.InvoiceNumber}} is {{.DaysOverdue}} days overdue`

const defaultReminderBody = `<p>Dear {{if .ClientName}}{{.ClientName}}{{else}}customer{{end}},</p>
<p>This is a friendly reminder that invoice <strong>{{.InvoiceNumber}}</strong>
was due on {{formatDate .DueDate}} and is now {{.DaysOverdue}} days overdue.</p>
<p>Outstanding balance: <strong>{{formatAmount .Currency .AmountDue}}</strong></p>
<p>If you have already made this payment, please disregard this notice.</p>
<p>Thank you.</p>`

// Renderer renders email subjects and bodies. Custom template strings may be
// supplied; empty strings fall back to the built-in defaults.
type Renderer struct {
	subject *texttemplate.Template
	body    *template.Template
}

// NewRenderer parses the reminder templates.
func NewRenderer(subjectTpl, bodyTpl string) (*Renderer, error) {
	if subjectTpl == "" {
		subjectTpl = defaultReminderSubject
	}
	if bodyTpl == "" {
		bodyTpl = defaultReminderBody
	}
	funcMap := template.FuncMap{
		"formatDate": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Format("02 Jan 2006")
		},
		"formatAmount": func(currency string, d decimal.Decimal) string {
			return fmt.Sprintf("%s %s", currency, d.StringFixed(2))
		},
	}
	// Subjects are plain text; only the body goes through HTML escaping.
	subject, err := texttemplate.New("subject").Funcs(funcMap).Parse(subjectTpl)
	if err != nil {
		return nil, fmt.Errorf("mail: parse subject template: %w", err)
	}
	body, err := template.New("body").Funcs(funcMap).Parse(bodyTpl)
	if err != nil {
		return nil, fmt.Errorf("mail: parse body template: %w", err)
	}
	return &Renderer{subject: subject, body: body}, nil
}

// RenderReminder produces the subject and HTML body for one reminder.
func (r *Renderer) RenderReminder(data ReminderData) (subject, body string, err error) {
	var sb, bb bytes.Buffer
	if err := r.subject.Execute(&sb, data); err != nil {
		return "", "", fmt.Errorf("mail: render subject: %w", err)
	}
	if err := r.body.Execute(&bb, data); err != nil {
		return "", "", fmt.Errorf("mail: render body: %w", err)
	}
	return sb.String(), bb.String(), nil
}
