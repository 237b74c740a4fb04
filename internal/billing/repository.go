package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ledgerline/ledgerline/internal/platform/db"
)

// ErrNotFound indicates resource not found.
var ErrNotFound = errors.New("billing: not found")

// Store defines data access for the billing engine. Single-statement writes
// are atomic on their own; multi-step mutations go through WithTx.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error

	GetSettings(ctx context.Context) (Settings, error)
	ListDueTemplates(ctx context.Context, today time.Time) ([]RecurringTemplate, error)

	GetInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error)
	MarkInvoiceSent(ctx context.Context, id uuid.UUID) (bool, error)
	MarkOverdueInvoices(ctx context.Context, today time.Time) (int64, error)
	ListReminderCandidates(ctx context.Context, today time.Time) ([]ReminderCandidate, error)

	HasReminderSentToday(ctx context.Context, invoiceID uuid.UUID, day time.Time) (bool, error)
	CreateEmailLog(ctx context.Context, entry EmailLogEntry) (uuid.UUID, error)
	MarkEmailSent(ctx context.Context, id uuid.UUID, providerID string) error
	MarkEmailFailed(ctx context.Context, id uuid.UUID) error

	ListExpirableQuotes(ctx context.Context, today time.Time) ([]Quote, error)
	ExpireQuote(ctx context.Context, id uuid.UUID) (bool, error)
}

// TxStore exposes the operations available inside a store transaction.
type TxStore interface {
	NextInvoiceNumber(ctx context.Context) (string, error)
	CreateInvoice(ctx context.Context, inv *Invoice) error
	AdvanceTemplate(ctx context.Context, id uuid.UUID, lastRun, nextRun time.Time, active bool) error

	CreatePayment(ctx context.Context, p *Payment) error
	DeletePayment(ctx context.Context, id uuid.UUID) (uuid.UUID, error)
	GetInvoiceForUpdate(ctx context.Context, id uuid.UUID) (*Invoice, error)
	SumPayments(ctx context.Context, invoiceID uuid.UUID) (decimal.Decimal, error)
	UpdateInvoicePaymentState(ctx context.Context, id uuid.UUID, amountPaid decimal.Decimal, status InvoiceStatus, paidAt *time.Time) error
}

// Repository provides PostgreSQL backed persistence for billing.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx wraps the callback in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txStore{tx: tx})
	})
}

// GetSettings loads the singleton billing settings row.
func (r *Repository) GetSettings(ctx context.Context) (Settings, error) {
	query := `
		SELECT auto_reminders_enabled, reminder_days_after_due,
			default_payment_terms_days, invoice_number_prefix, invoice_number_counter
		FROM settings
		LIMIT 1`

	var s Settings
	err := r.pool.QueryRow(ctx, query).Scan(
		&s.AutoRemindersEnabled,
		&s.ReminderDaysAfterDue,
		&s.DefaultPaymentTermsDays,
		&s.InvoiceNumberPrefix,
		&s.InvoiceNumberCounter,
	)
	if err == pgx.ErrNoRows {
		return Settings{}, ErrNotFound
	}
	if err != nil {
		return Settings{}, err
	}
	return s, nil
}

// ListDueTemplates returns active templates whose next run date has been
// reached, including their line item snapshots.
func (r *Repository) ListDueTemplates(ctx context.Context, today time.Time) ([]RecurringTemplate, error) {
	query := `
		SELECT id, client_id, frequency, next_run_date, last_run_date, end_date,
			is_active, currency, tax_rate, notes, terms
		FROM recurring_templates
		WHERE is_active = TRUE AND next_run_date <= $1
		ORDER BY next_run_date, id`

	rows, err := r.pool.Query(ctx, query, today)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var templates []RecurringTemplate
	for rows.Next() {
		var tpl RecurringTemplate
		var lastRun, endDate pgtype.Date
		var taxRate pgtype.Numeric

		err := rows.Scan(
			&tpl.ID, &tpl.ClientID, &tpl.Frequency, &tpl.NextRunDate, &lastRun, &endDate,
			&tpl.IsActive, &tpl.Currency, &taxRate, &tpl.Notes, &tpl.Terms,
		)
		if err != nil {
			return nil, err
		}
		if lastRun.Valid {
			tpl.LastRunDate = &lastRun.Time
		}
		if endDate.Valid {
			tpl.EndDate = &endDate.Time
		}
		tpl.TaxRate = numericToDecimal(taxRate)
		templates = append(templates, tpl)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range templates {
		lines, err := r.listTemplateLines(ctx, templates[i].ID)
		if err != nil {
			return nil, err
		}
		templates[i].Lines = lines
	}
	return templates, nil
}

func (r *Repository) listTemplateLines(ctx context.Context, templateID uuid.UUID) ([]TemplateLine, error) {
	query := `
		SELECT id, description, quantity, unit_price
		FROM recurring_template_lines
		WHERE template_id = $1
		ORDER BY position, id`

	rows, err := r.pool.Query(ctx, query, templateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []TemplateLine
	for rows.Next() {
		var line TemplateLine
		var qty, price pgtype.Numeric
		if err := rows.Scan(&line.ID, &line.Description, &qty, &price); err != nil {
			return nil, err
		}
		line.Quantity = numericToDecimal(qty)
		line.UnitPrice = numericToDecimal(price)
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// GetInvoice retrieves an invoice by ID.
func (r *Repository) GetInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return scanInvoice(r.pool.QueryRow(ctx, invoiceSelect+` WHERE id = $1`, id))
}

// MarkInvoiceSent moves a draft invoice to sent. The status guard makes the
// call safe to repeat; false means no draft invoice matched.
func (r *Repository) MarkInvoiceSent(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE invoices
		SET status = 'sent', updated_at = NOW()
		WHERE id = $1 AND status = 'draft'`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// MarkOverdueInvoices flips every sent invoice past its due date to overdue.
// The WHERE status guard keeps repeated and concurrent runs idempotent.
func (r *Repository) MarkOverdueInvoices(ctx context.Context, today time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE invoices
		SET status = 'overdue', updated_at = NOW()
		WHERE status = 'sent' AND due_date <= $1`, today)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListReminderCandidates returns due invoices joined with a known client
// email address. Clients without an email cannot be reminded and are
// excluded here.
func (r *Repository) ListReminderCandidates(ctx context.Context, today time.Time) ([]ReminderCandidate, error) {
	query := `
		SELECT i.id, i.number, i.client_id, i.status, i.issue_date, i.due_date,
			i.currency, i.subtotal, i.tax_rate, i.tax_amount, i.discount_amount,
			i.total, i.amount_paid, i.paid_at, i.notes, i.terms,
			i.is_recurring, i.recurring_id, i.created_at, i.updated_at,
			c.name, c.email
		FROM invoices i
		JOIN clients c ON c.id = i.client_id
		WHERE i.status IN ('sent', 'partially_paid', 'overdue')
			AND i.due_date <= $1
			AND c.email IS NOT NULL AND c.email <> ''
		ORDER BY i.due_date, i.id`

	rows, err := r.pool.Query(ctx, query, today)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []ReminderCandidate
	for rows.Next() {
		var c ReminderCandidate
		inv, err := scanInvoiceRow(rows, &c.ClientName, &c.ClientEmail)
		if err != nil {
			return nil, err
		}
		c.Invoice = *inv
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

// HasReminderSentToday answers the dedup guard: was a reminder already sent
// for this invoice on the given day.
func (r *Repository) HasReminderSentToday(ctx context.Context, invoiceID uuid.UUID, day time.Time) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM email_logs
			WHERE invoice_id = $1 AND status = 'sent' AND sent_at::date = $2::date
		)`, invoiceID, day).Scan(&exists)
	return exists, err
}

// CreateEmailLog inserts a pending email log entry.
func (r *Repository) CreateEmailLog(ctx context.Context, entry EmailLogEntry) (uuid.UUID, error) {
	id := entry.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO email_logs (id, invoice_id, quote_id, recipient_email, subject, status, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
		id, entry.InvoiceID, entry.QuoteID, entry.Recipient, entry.Subject, entry.Status,
	)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// MarkEmailSent records the provider message id on a delivered entry.
func (r *Repository) MarkEmailSent(ctx context.Context, id uuid.UUID, providerID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE email_logs SET status = 'sent', provider_id = $2, sent_at = NOW() WHERE id = $1`,
		id, providerID)
	return err
}

// MarkEmailFailed flags a delivery failure.
func (r *Repository) MarkEmailFailed(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE email_logs SET status = 'failed' WHERE id = $1`, id)
	return err
}

// ListExpirableQuotes returns draft or sent quotes strictly past expiry.
func (r *Repository) ListExpirableQuotes(ctx context.Context, today time.Time) ([]Quote, error) {
	query := `
		SELECT id, number, client_id, status, expiry_date
		FROM quotes
		WHERE status IN ('draft', 'sent') AND expiry_date < $1
		ORDER BY expiry_date, id`

	rows, err := r.pool.Query(ctx, query, today)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var quotes []Quote
	for rows.Next() {
		var q Quote
		var expiry pgtype.Date
		if err := rows.Scan(&q.ID, &q.Number, &q.ClientID, &q.Status, &expiry); err != nil {
			return nil, err
		}
		if expiry.Valid {
			q.ExpiryDate = &expiry.Time
		}
		quotes = append(quotes, q)
	}
	return quotes, rows.Err()
}

// ExpireQuote marks a single quote expired. The status guard skips quotes a
// concurrent edit already moved elsewhere.
func (r *Repository) ExpireQuote(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE quotes
		SET status = 'expired', updated_at = NOW()
		WHERE id = $1 AND status IN ('draft', 'sent')`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// --- Transaction Operations ---

type txStore struct {
	tx pgx.Tx
}

// NextInvoiceNumber increments the settings counter and formats the display
// number. The row update serializes concurrent runs, so numbers never repeat.
func (t *txStore) NextInvoiceNumber(ctx context.Context) (string, error) {
	var prefix string
	var counter int64
	err := t.tx.QueryRow(ctx, `
		UPDATE settings
		SET invoice_number_counter = invoice_number_counter + 1
		RETURNING invoice_number_prefix, invoice_number_counter`,
	).Scan(&prefix, &counter)
	if err != nil {
		return "", fmt.Errorf("billing: next invoice number: %w", err)
	}
	return fmt.Sprintf("%s%05d", prefix, counter), nil
}

// CreateInvoice inserts the invoice and its lines.
func (t *txStore) CreateInvoice(ctx context.Context, inv *Invoice) error {
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO invoices (
			id, number, client_id, status, issue_date, due_date, currency,
			subtotal, tax_rate, tax_amount, discount_amount, total, amount_paid,
			notes, terms, is_recurring, recurring_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, NOW(), NOW())`,
		inv.ID, inv.Number, inv.ClientID, inv.Status, inv.IssueDate, inv.DueDate, inv.Currency,
		inv.Subtotal, inv.TaxRate, inv.TaxAmount, inv.DiscountAmount, inv.Total, inv.AmountPaid,
		inv.Notes, inv.Terms, inv.IsRecurring, inv.RecurringID,
	)
	if err != nil {
		return err
	}
	for i := range inv.Lines {
		line := &inv.Lines[i]
		if line.ID == uuid.Nil {
			line.ID = uuid.New()
		}
		line.InvoiceID = inv.ID
		_, err := t.tx.Exec(ctx, `
			INSERT INTO invoice_lines (id, invoice_id, description, quantity, unit_price, amount, position)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			line.ID, inv.ID, line.Description, line.Quantity, line.UnitPrice, line.Amount, i,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// AdvanceTemplate moves the template schedule forward after materialization.
func (t *txStore) AdvanceTemplate(ctx context.Context, id uuid.UUID, lastRun, nextRun time.Time, active bool) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE recurring_templates
		SET last_run_date = $2, next_run_date = $3, is_active = $4, updated_at = NOW()
		WHERE id = $1`,
		id, lastRun, nextRun, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CreatePayment inserts a payment row.
func (t *txStore) CreatePayment(ctx context.Context, p *Payment) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO payments (id, invoice_id, amount, payment_date, method, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
		p.ID, p.InvoiceID, p.Amount, p.PaymentDate, p.Method, p.Note,
	)
	return err
}

// DeletePayment removes a payment and returns its invoice for reconciliation.
func (t *txStore) DeletePayment(ctx context.Context, id uuid.UUID) (uuid.UUID, error) {
	var invoiceID uuid.UUID
	err := t.tx.QueryRow(ctx, `
		DELETE FROM payments WHERE id = $1 RETURNING invoice_id`, id).Scan(&invoiceID)
	if err == pgx.ErrNoRows {
		return uuid.Nil, ErrNotFound
	}
	if err != nil {
		return uuid.Nil, err
	}
	return invoiceID, nil
}

// GetInvoiceForUpdate loads an invoice with a row lock for reconciliation.
func (t *txStore) GetInvoiceForUpdate(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return scanInvoice(t.tx.QueryRow(ctx, invoiceSelect+` WHERE id = $1 FOR UPDATE`, id))
}

// SumPayments totals the invoice's payments inside the transaction.
func (t *txStore) SumPayments(ctx context.Context, invoiceID uuid.UUID) (decimal.Decimal, error) {
	var total pgtype.Numeric
	err := t.tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM payments WHERE invoice_id = $1`, invoiceID).Scan(&total)
	if err != nil {
		return decimal.Zero, err
	}
	return numericToDecimal(total), nil
}

// UpdateInvoicePaymentState writes the reconciled amount, status and paid
// timestamp.
func (t *txStore) UpdateInvoicePaymentState(ctx context.Context, id uuid.UUID, amountPaid decimal.Decimal, status InvoiceStatus, paidAt *time.Time) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE invoices
		SET amount_paid = $2, status = $3, paid_at = $4, updated_at = NOW()
		WHERE id = $1`,
		id, amountPaid, status, paidAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Helpers ---

const invoiceSelect = `
	SELECT id, number, client_id, status, issue_date, due_date, currency,
		subtotal, tax_rate, tax_amount, discount_amount, total, amount_paid,
		paid_at, notes, terms, is_recurring, recurring_id, created_at, updated_at
	FROM invoices`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvoice(row rowScanner) (*Invoice, error) {
	return scanInvoiceRow(row)
}

func scanInvoiceRow(row rowScanner, extra ...any) (*Invoice, error) {
	var inv Invoice
	var subtotal, taxRate, taxAmount, discount, total, amountPaid pgtype.Numeric
	var paidAt pgtype.Timestamptz
	var recurringID pgtype.UUID

	dest := []any{
		&inv.ID, &inv.Number, &inv.ClientID, &inv.Status, &inv.IssueDate, &inv.DueDate, &inv.Currency,
		&subtotal, &taxRate, &taxAmount, &discount, &total, &amountPaid,
		&paidAt, &inv.Notes, &inv.Terms, &inv.IsRecurring, &recurringID, &inv.CreatedAt, &inv.UpdatedAt,
	}
	dest = append(dest, extra...)

	if err := row.Scan(dest...); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}

	inv.Subtotal = numericToDecimal(subtotal)
	inv.TaxRate = numericToDecimal(taxRate)
	inv.TaxAmount = numericToDecimal(taxAmount)
	inv.DiscountAmount = numericToDecimal(discount)
	inv.Total = numericToDecimal(total)
	inv.AmountPaid = numericToDecimal(amountPaid)
	if paidAt.Valid {
		inv.PaidAt = &paidAt.Time
	}
	if recurringID.Valid {
		rid := uuid.UUID(recurringID.Bytes)
		inv.RecurringID = &rid
	}
	return &inv, nil
}

func numericToDecimal(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid || n.Int == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(n.Int, n.Exp)
}
