package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ledgerline/ledgerline/internal/mail"
	"github.com/ledgerline/ledgerline/internal/shared"
)

// Job names for the two sweep passes.
const (
	JobReminderSweep = "reminder_sweep"
	JobQuoteExpiry   = "quote_expiry"
)

// Sweep detects overdue invoices needing a reminder and quotes past expiry.
// It is safe to run any number of times per day: status guards make the
// transitions idempotent and the email log dedups reminders per invoice per
// day.
type Sweep struct {
	store       Store
	sender      mail.Sender
	renderer    *mail.Renderer
	activity    shared.ActivityRecorder
	logger      *slog.Logger
	sendTimeout time.Duration
	clock       func() time.Time
}

// NewSweep constructs a sweep.
func NewSweep(store Store, sender mail.Sender, renderer *mail.Renderer, activity shared.ActivityRecorder, logger *slog.Logger, sendTimeout time.Duration) *Sweep {
	if sendTimeout <= 0 {
		sendTimeout = 10 * time.Second
	}
	return &Sweep{
		store:       store,
		sender:      sender,
		renderer:    renderer,
		activity:    activity,
		logger:      logger,
		sendTimeout: sendTimeout,
		clock:       func() time.Time { return time.Now().UTC() },
	}
}

// Run executes the overdue/reminder pass followed by the quote expiry pass.
func (s *Sweep) Run(ctx context.Context, today time.Time) (*SweepReport, error) {
	today = shared.DateOnly(today)

	reminders, marked, err := s.runReminderPass(ctx, today)
	if err != nil {
		return nil, err
	}
	quotes, err := s.runQuoteExpiryPass(ctx, today)
	if err != nil {
		return nil, err
	}
	return &SweepReport{OverdueMarked: marked, Reminders: reminders, Quotes: quotes}, nil
}

func (s *Sweep) runReminderPass(ctx context.Context, today time.Time) (*RunReport, int64, error) {
	report := NewRunReport(JobReminderSweep, s.clock())

	settings, err := s.store.GetSettings(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("billing: load settings: %w", err)
	}

	// The overdue transition is date-driven and runs regardless of the
	// reminder toggle.
	marked, err := s.store.MarkOverdueInvoices(ctx, today)
	if err != nil {
		return nil, 0, fmt.Errorf("billing: mark overdue: %w", err)
	}
	if marked > 0 {
		s.logger.Info("invoices marked overdue", slog.Int64("count", marked))
	}

	if !settings.AutoRemindersEnabled {
		s.logger.Info("auto reminders disabled, skipping reminder pass")
		return report.Finish(s.clock()), marked, nil
	}

	candidates, err := s.store.ListReminderCandidates(ctx, today)
	if err != nil {
		return nil, 0, fmt.Errorf("billing: list reminder candidates: %w", err)
	}

	for _, cand := range candidates {
		daysOverdue := shared.DaysBetween(cand.Invoice.DueDate, today)
		// Exact-match policy: a reminder fires only when daysOverdue
		// equals a configured offset, not "at least".
		if !settings.IsReminderDay(daysOverdue) {
			continue
		}
		report.Due++

		sent, err := s.store.HasReminderSentToday(ctx, cand.Invoice.ID, today)
		if err != nil {
			report.fail(cand.Invoice.ID.String(), err)
			continue
		}
		if sent {
			report.skip()
			continue
		}

		if err := s.sendReminder(ctx, cand, daysOverdue); err != nil {
			report.fail(cand.Invoice.ID.String(), err)
			s.logger.Error("send reminder",
				slog.String("invoice_id", cand.Invoice.ID.String()),
				slog.String("number", cand.Invoice.Number),
				slog.Any("error", err),
			)
			continue
		}
		report.success()
	}

	return report.Finish(s.clock()), marked, nil
}

// sendReminder walks the email log through pending → sent/failed around the
// provider call.
func (s *Sweep) sendReminder(ctx context.Context, cand ReminderCandidate, daysOverdue int) error {
	inv := cand.Invoice
	subject, body, err := s.renderer.RenderReminder(mail.ReminderData{
		ClientName:    cand.ClientName,
		InvoiceNumber: inv.Number,
		Currency:      inv.Currency,
		Total:         inv.Total,
		AmountDue:     inv.Total.Sub(inv.AmountPaid),
		DueDate:       inv.DueDate,
		DaysOverdue:   daysOverdue,
	})
	if err != nil {
		return err
	}

	invID := inv.ID
	logID, err := s.store.CreateEmailLog(ctx, EmailLogEntry{
		InvoiceID: &invID,
		Recipient: cand.ClientEmail,
		Subject:   subject,
		Status:    EmailPending,
	})
	if err != nil {
		return fmt.Errorf("create email log: %w", err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	providerID, err := s.sender.Send(sendCtx, mail.Message{
		To:      cand.ClientEmail,
		Subject: subject,
		HTML:    body,
	})
	cancel()
	if err != nil {
		if markErr := s.store.MarkEmailFailed(ctx, logID); markErr != nil {
			s.logger.Warn("mark email failed", slog.Any("error", markErr))
		}
		return fmt.Errorf("send: %w", err)
	}

	if err := s.store.MarkEmailSent(ctx, logID, providerID); err != nil {
		return fmt.Errorf("mark email sent: %w", err)
	}

	s.record(ctx, shared.Activity{
		EntityType:  "invoice",
		EntityID:    inv.ID.String(),
		Action:      "reminder_sent",
		Description: fmt.Sprintf("Payment reminder sent for invoice %s (%d days overdue)", inv.Number, daysOverdue),
	})
	return nil
}

func (s *Sweep) runQuoteExpiryPass(ctx context.Context, today time.Time) (*RunReport, error) {
	report := NewRunReport(JobQuoteExpiry, s.clock())

	quotes, err := s.store.ListExpirableQuotes(ctx, today)
	if err != nil {
		return nil, fmt.Errorf("billing: list expirable quotes: %w", err)
	}
	report.Due = len(quotes)

	for _, q := range quotes {
		expired, err := s.store.ExpireQuote(ctx, q.ID)
		if err != nil {
			report.fail(q.ID.String(), err)
			s.logger.Error("expire quote", slog.String("quote_id", q.ID.String()), slog.Any("error", err))
			continue
		}
		if !expired {
			// A concurrent edit moved the quote out of draft/sent.
			report.skip()
			continue
		}
		report.success()
		s.record(ctx, shared.Activity{
			EntityType:  "quote",
			EntityID:    q.ID.String(),
			Action:      "expired",
			Description: fmt.Sprintf("Quote %s expired", q.Number),
		})
	}

	return report.Finish(s.clock()), nil
}

func (s *Sweep) record(ctx context.Context, activity shared.Activity) {
	if s.activity == nil {
		return
	}
	if err := s.activity.Record(ctx, activity); err != nil {
		s.logger.Warn("record activity", slog.Any("error", err))
	}
}
