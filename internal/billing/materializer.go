package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ledgerline/ledgerline/internal/shared"
)

// JobRecurringRun names the materializer run in reports and metrics.
const JobRecurringRun = "recurring_run"

// Materializer turns due recurring templates into concrete invoices and
// advances their schedules. Each template is processed in its own
// transaction; one broken template never aborts the rest of the batch.
type Materializer struct {
	store    Store
	activity shared.ActivityRecorder
	logger   *slog.Logger
	clock    func() time.Time
}

// NewMaterializer constructs a materializer.
func NewMaterializer(store Store, activity shared.ActivityRecorder, logger *slog.Logger) *Materializer {
	return &Materializer{
		store:    store,
		activity: activity,
		logger:   logger,
		clock:    func() time.Time { return time.Now().UTC() },
	}
}

// Run materializes every active template due on or before today. Re-invoking
// for the same day is safe: committed templates have advanced past today and
// no longer match, while failed ones are retried.
func (m *Materializer) Run(ctx context.Context, today time.Time) (*RunReport, error) {
	today = shared.DateOnly(today)
	report := NewRunReport(JobRecurringRun, m.clock())

	settings, err := m.store.GetSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("billing: load settings: %w", err)
	}

	templates, err := m.store.ListDueTemplates(ctx, today)
	if err != nil {
		return nil, fmt.Errorf("billing: list due templates: %w", err)
	}
	report.Due = len(templates)

	for _, tpl := range templates {
		inv, err := m.materialize(ctx, settings, tpl, today)
		if err != nil {
			report.fail(tpl.ID.String(), err)
			m.logger.Error("materialize template",
				slog.String("template_id", tpl.ID.String()),
				slog.Any("error", err),
			)
			continue
		}
		report.success()
		m.record(ctx, shared.Activity{
			EntityType:  "invoice",
			EntityID:    inv.ID.String(),
			Action:      "auto_generated",
			Description: fmt.Sprintf("Invoice %s auto-generated from recurring template", inv.Number),
		})
		m.logger.Info("invoice materialized",
			slog.String("template_id", tpl.ID.String()),
			slog.String("invoice_id", inv.ID.String()),
			slog.String("number", inv.Number),
		)
	}

	return report.Finish(m.clock()), nil
}

// materialize creates one invoice and advances one template inside a single
// transaction.
func (m *Materializer) materialize(ctx context.Context, settings Settings, tpl RecurringTemplate, today time.Time) (*Invoice, error) {
	if len(tpl.Lines) == 0 {
		return nil, fmt.Errorf("template %s has no line items", tpl.ID)
	}

	next, err := tpl.Frequency.Advance(tpl.NextRunDate)
	if err != nil {
		return nil, err
	}
	active := tpl.EndDate == nil || !next.After(shared.DateOnly(*tpl.EndDate))

	terms := settings.DefaultPaymentTermsDays
	if terms <= 0 {
		terms = 30
	}

	var created *Invoice
	err = m.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		number, err := tx.NextInvoiceNumber(ctx)
		if err != nil {
			return err
		}
		inv := buildInvoice(tpl, number, today, terms)
		if err := tx.CreateInvoice(ctx, inv); err != nil {
			return err
		}
		if err := tx.AdvanceTemplate(ctx, tpl.ID, today, next, active); err != nil {
			return err
		}
		created = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// buildInvoice copies the template snapshot into a draft invoice.
func buildInvoice(tpl RecurringTemplate, number string, today time.Time, termsDays int) *Invoice {
	subtotal := decimal.Zero
	lines := make([]InvoiceLine, 0, len(tpl.Lines))
	for _, l := range tpl.Lines {
		amount := l.Quantity.Mul(l.UnitPrice).Round(2)
		subtotal = subtotal.Add(amount)
		lines = append(lines, InvoiceLine{
			Description: l.Description,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			Amount:      amount,
		})
	}
	taxAmount := subtotal.Mul(tpl.TaxRate).Div(decimal.NewFromInt(100)).Round(2)

	tplID := tpl.ID
	return &Invoice{
		Number:      number,
		ClientID:    tpl.ClientID,
		Status:      InvoiceDraft,
		IssueDate:   today,
		DueDate:     today.AddDate(0, 0, termsDays),
		Currency:    tpl.Currency,
		Subtotal:    subtotal,
		TaxRate:     tpl.TaxRate,
		TaxAmount:   taxAmount,
		Total:       subtotal.Add(taxAmount),
		AmountPaid:  decimal.Zero,
		Notes:       tpl.Notes,
		Terms:       tpl.Terms,
		IsRecurring: true,
		RecurringID: &tplID,
		Lines:       lines,
	}
}

func (m *Materializer) record(ctx context.Context, activity shared.Activity) {
	if m.activity == nil {
		return
	}
	if err := m.activity.Record(ctx, activity); err != nil {
		m.logger.Warn("record activity", slog.Any("error", err))
	}
}
