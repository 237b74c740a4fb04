package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Reconciler recomputes an invoice's paid amount and lifecycle status from
// its payment history. It must run inside the same transaction as the payment
// mutation that triggered it, and calling it twice with unchanged payments
// leaves the invoice row unchanged.
type Reconciler struct {
	clock func() time.Time
}

// NewReconciler constructs a reconciler.
func NewReconciler() *Reconciler {
	return &Reconciler{clock: func() time.Time { return time.Now().UTC() }}
}

// Reconcile sums the invoice's payments and applies the payment decision
// table. Terminal invoices are left untouched.
func (r *Reconciler) Reconcile(ctx context.Context, tx TxStore, invoiceID uuid.UUID) error {
	inv, err := tx.GetInvoiceForUpdate(ctx, invoiceID)
	if err != nil {
		return fmt.Errorf("billing: reconcile %s: %w", invoiceID, err)
	}
	if inv.Status.Terminal() {
		return nil
	}

	totalPaid, err := tx.SumPayments(ctx, invoiceID)
	if err != nil {
		return fmt.Errorf("billing: reconcile %s: sum payments: %w", invoiceID, err)
	}
	totalPaid = totalPaid.Round(2)

	status, paidAt := decide(inv, totalPaid, r.clock())

	if status != inv.Status {
		if err := ValidateInvoiceTransition(inv.Status, status); err != nil {
			// Concurrent edits can leave the invoice in a state with no
			// legal edge; keep the status and only refresh the amount.
			status = inv.Status
		}
	}

	return tx.UpdateInvoicePaymentState(ctx, invoiceID, totalPaid, status, paidAt)
}

// decide applies the payment decision table in order: fully paid, partially
// paid, unpaid.
func decide(inv *Invoice, totalPaid decimal.Decimal, now time.Time) (InvoiceStatus, *time.Time) {
	switch {
	case totalPaid.GreaterThanOrEqual(inv.Total) && inv.Total.IsPositive():
		// paidAt is set once and never overwritten by a repeat
		// reconciliation of an already paid invoice.
		if inv.PaidAt != nil {
			return InvoicePaid, inv.PaidAt
		}
		return InvoicePaid, &now
	case totalPaid.IsPositive():
		return InvoicePartiallyPaid, nil
	default:
		// Payments were removed entirely. Paid and partially paid
		// invoices revert to sent; anything else keeps its status.
		if inv.Status == InvoicePaid || inv.Status == InvoicePartiallyPaid {
			return InvoiceSent, nil
		}
		return inv.Status, nil
	}
}
