package billing

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ledgerline/ledgerline/internal/shared"
)

// InvoiceStatus enumerates invoice lifecycle states.
type InvoiceStatus string

const (
	InvoiceDraft         InvoiceStatus = "draft"
	InvoiceSent          InvoiceStatus = "sent"
	InvoiceViewed        InvoiceStatus = "viewed"
	InvoicePartiallyPaid InvoiceStatus = "partially_paid"
	InvoicePaid          InvoiceStatus = "paid"
	InvoiceOverdue       InvoiceStatus = "overdue"
	InvoiceCancelled     InvoiceStatus = "cancelled"
	InvoiceWrittenOff    InvoiceStatus = "written_off"
)

// Terminal reports whether the status is final. Terminal invoices are never
// mutated by the engine.
func (s InvoiceStatus) Terminal() bool {
	return s == InvoiceCancelled || s == InvoiceWrittenOff
}

// ErrInvalidTransition indicates an invoice status change not allowed by the
// lifecycle.
var ErrInvalidTransition = errors.New("billing: invoice status transition invalid")

// ValidateInvoiceTransition checks lifecycle edges. Edges not listed here are
// illegal; callers either reject or skip the record.
func ValidateInvoiceTransition(current, target InvoiceStatus) error {
	if current == target {
		return nil
	}
	switch current {
	case InvoiceDraft:
		if target == InvoiceSent || target == InvoiceCancelled {
			return nil
		}
	case InvoiceSent, InvoiceViewed:
		if target == InvoiceOverdue || target == InvoicePartiallyPaid || target == InvoicePaid {
			return nil
		}
		if target == InvoiceCancelled || target == InvoiceWrittenOff {
			return nil
		}
	case InvoiceOverdue:
		if target == InvoicePartiallyPaid || target == InvoicePaid || target == InvoiceWrittenOff {
			return nil
		}
	case InvoicePartiallyPaid:
		if target == InvoicePaid || target == InvoiceSent || target == InvoiceWrittenOff {
			return nil
		}
	case InvoicePaid:
		if target == InvoiceSent || target == InvoicePartiallyPaid {
			return nil
		}
	}
	return ErrInvalidTransition
}

// Frequency enumerates recurring template cadences.
type Frequency string

const (
	FreqWeekly    Frequency = "weekly"
	FreqBiweekly  Frequency = "biweekly"
	FreqMonthly   Frequency = "monthly"
	FreqQuarterly Frequency = "quarterly"
	FreqYearly    Frequency = "yearly"
)

// ErrUnknownFrequency indicates a template with an unsupported cadence.
var ErrUnknownFrequency = errors.New("billing: unknown frequency")

// Advance computes the next occurrence after the given date. Month and year
// steps clamp the day-of-month, so Jan 31 + 1 month lands on the last day of
// February rather than early March.
func (f Frequency) Advance(from time.Time) (time.Time, error) {
	from = shared.DateOnly(from)
	switch f {
	case FreqWeekly:
		return from.AddDate(0, 0, 7), nil
	case FreqBiweekly:
		return from.AddDate(0, 0, 14), nil
	case FreqMonthly:
		return shared.AddMonthsClamped(from, 1), nil
	case FreqQuarterly:
		return shared.AddMonthsClamped(from, 3), nil
	case FreqYearly:
		return shared.AddYearsClamped(from, 1), nil
	default:
		return time.Time{}, ErrUnknownFrequency
	}
}

// TemplateLine is a line item snapshot on a recurring template.
type TemplateLine struct {
	ID          uuid.UUID
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
}

// RecurringTemplate drives periodic invoice generation. Only the materializer
// mutates its schedule fields; line items are owned by the (out of scope)
// template editor.
type RecurringTemplate struct {
	ID          uuid.UUID
	ClientID    uuid.UUID
	Frequency   Frequency
	NextRunDate time.Time
	LastRunDate *time.Time
	EndDate     *time.Time
	IsActive    bool
	Currency    string
	TaxRate     decimal.Decimal
	Notes       string
	Terms       string
	Lines       []TemplateLine
}

// InvoiceLine is a billed line item.
type InvoiceLine struct {
	ID          uuid.UUID
	InvoiceID   uuid.UUID
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	Amount      decimal.Decimal
}

// Invoice model. AmountPaid always equals the sum of the invoice's payments;
// status and AmountPaid/PaidAt are mutated only by the reconciler and the
// sweep's overdue transition.
type Invoice struct {
	ID             uuid.UUID
	Number         string
	ClientID       uuid.UUID
	Status         InvoiceStatus
	IssueDate      time.Time
	DueDate        time.Time
	Currency       string
	Subtotal       decimal.Decimal
	TaxRate        decimal.Decimal
	TaxAmount      decimal.Decimal
	DiscountAmount decimal.Decimal
	Total          decimal.Decimal
	AmountPaid     decimal.Decimal
	PaidAt         *time.Time
	Notes          string
	Terms          string
	IsRecurring    bool
	RecurringID    *uuid.UUID
	Lines          []InvoiceLine
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Payment model.
type Payment struct {
	ID          uuid.UUID
	InvoiceID   uuid.UUID
	Amount      decimal.Decimal
	PaymentDate time.Time
	Method      string
	Note        string
	CreatedAt   time.Time
}

// QuoteStatus enumerates quote lifecycle states.
type QuoteStatus string

const (
	QuoteDraft     QuoteStatus = "draft"
	QuoteSent      QuoteStatus = "sent"
	QuoteAccepted  QuoteStatus = "accepted"
	QuoteRejected  QuoteStatus = "rejected"
	QuoteExpired   QuoteStatus = "expired"
	QuoteConverted QuoteStatus = "converted"
)

// Quote model. The sweep moves draft/sent quotes past their expiry date to
// expired; all other transitions are external.
type Quote struct {
	ID         uuid.UUID
	Number     string
	ClientID   uuid.UUID
	Status     QuoteStatus
	ExpiryDate *time.Time
}

// EmailStatus enumerates email log states.
type EmailStatus string

const (
	EmailPending EmailStatus = "pending"
	EmailSent    EmailStatus = "sent"
	EmailFailed  EmailStatus = "failed"
)

// EmailLogEntry records an outbound email. The sweep uses sent entries as the
// per-day reminder dedup ledger.
type EmailLogEntry struct {
	ID         uuid.UUID
	InvoiceID  *uuid.UUID
	QuoteID    *uuid.UUID
	Recipient  string
	Subject    string
	Status     EmailStatus
	ProviderID string
	SentAt     time.Time
}

// Settings is the singleton billing configuration, loaded once per run.
type Settings struct {
	AutoRemindersEnabled    bool
	ReminderDaysAfterDue    []int
	DefaultPaymentTermsDays int
	InvoiceNumberPrefix     string
	InvoiceNumberCounter    int64
}

// IsReminderDay reports whether daysOverdue matches one of the configured
// offsets exactly. Reminders fire on exact matches only, not "at least".
func (s Settings) IsReminderDay(daysOverdue int) bool {
	for _, d := range s.ReminderDaysAfterDue {
		if d == daysOverdue {
			return true
		}
	}
	return false
}

// ReminderCandidate pairs an overdue invoice with its client's contact data
// for the reminder pass.
type ReminderCandidate struct {
	Invoice     Invoice
	ClientName  string
	ClientEmail string
}
