package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ledgerline/ledgerline/internal/shared"
)

var (
	// ErrInvalidAmount indicates a non-positive payment amount.
	ErrInvalidAmount = errors.New("billing: payment amount must be positive")
)

// Service exposes the payment mutations and invoice transitions the API layer
// calls into. Every payment mutation reconciles the invoice inside the same
// transaction, keeping amountPaid consistent with the payment rows.
type Service struct {
	store      Store
	reconciler *Reconciler
	activity   shared.ActivityRecorder
	logger     *slog.Logger
}

// NewService builds a Service instance.
func NewService(store Store, reconciler *Reconciler, activity shared.ActivityRecorder, logger *slog.Logger) *Service {
	return &Service{store: store, reconciler: reconciler, activity: activity, logger: logger}
}

// RegisterPaymentInput describes a new payment.
type RegisterPaymentInput struct {
	InvoiceID   uuid.UUID
	Amount      decimal.Decimal
	PaymentDate time.Time
	Method      string
	Note        string
}

// RegisterPayment records a payment against an invoice and reconciles the
// invoice in the same transaction.
func (s *Service) RegisterPayment(ctx context.Context, input RegisterPaymentInput) (*Payment, error) {
	if input.InvoiceID == uuid.Nil {
		return nil, errors.New("billing: invoice ID required")
	}
	if !input.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if input.PaymentDate.IsZero() {
		input.PaymentDate = time.Now().UTC()
	}

	payment := &Payment{
		InvoiceID:   input.InvoiceID,
		Amount:      input.Amount.Round(2),
		PaymentDate: input.PaymentDate,
		Method:      input.Method,
		Note:        input.Note,
	}
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		if err := tx.CreatePayment(ctx, payment); err != nil {
			return err
		}
		return s.reconciler.Reconcile(ctx, tx, input.InvoiceID)
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, shared.Activity{
		EntityType:  "payment",
		EntityID:    payment.ID.String(),
		Action:      "created",
		Description: fmt.Sprintf("Payment of %s recorded against invoice %s", payment.Amount.StringFixed(2), input.InvoiceID),
	})
	return payment, nil
}

// RemovePayment deletes a payment and reconciles its invoice in the same
// transaction.
func (s *Service) RemovePayment(ctx context.Context, paymentID uuid.UUID) error {
	var invoiceID uuid.UUID
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		id, err := tx.DeletePayment(ctx, paymentID)
		if err != nil {
			return err
		}
		invoiceID = id
		return s.reconciler.Reconcile(ctx, tx, invoiceID)
	})
	if err != nil {
		return err
	}

	s.record(ctx, shared.Activity{
		EntityType:  "payment",
		EntityID:    paymentID.String(),
		Action:      "deleted",
		Description: fmt.Sprintf("Payment removed from invoice %s", invoiceID),
	})
	return nil
}

// SendInvoice moves a draft invoice to sent. The transition is guarded, so a
// repeat call or a concurrent edit simply reports not found.
func (s *Service) SendInvoice(ctx context.Context, invoiceID uuid.UUID) error {
	sent, err := s.store.MarkInvoiceSent(ctx, invoiceID)
	if err != nil {
		return err
	}
	if !sent {
		return fmt.Errorf("billing: invoice %s: %w", invoiceID, ErrInvalidTransition)
	}
	s.record(ctx, shared.Activity{
		EntityType:  "invoice",
		EntityID:    invoiceID.String(),
		Action:      "sent",
		Description: "Invoice marked as sent",
	})
	return nil
}

// GetInvoice returns one invoice.
func (s *Service) GetInvoice(ctx context.Context, invoiceID uuid.UUID) (*Invoice, error) {
	return s.store.GetInvoice(ctx, invoiceID)
}

func (s *Service) record(ctx context.Context, activity shared.Activity) {
	if s.activity == nil {
		return
	}
	if err := s.activity.Record(ctx, activity); err != nil {
		s.logger.Warn("record activity", slog.Any("error", err))
	}
}
