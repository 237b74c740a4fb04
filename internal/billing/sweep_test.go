package billing

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/ledgerline/internal/mail"
)

type fakeSender struct {
	sent []mail.Message
	fail bool
}

func (f *fakeSender) Send(ctx context.Context, msg mail.Message) (string, error) {
	if f.fail {
		return "", errors.New("smtp unreachable")
	}
	f.sent = append(f.sent, msg)
	return fmt.Sprintf("msg-%d", len(f.sent)), nil
}

func newTestSweep(t *testing.T, store *memoryStore, sender mail.Sender) *Sweep {
	t.Helper()
	renderer, err := mail.NewRenderer("", "")
	require.NoError(t, err)
	return NewSweep(store, sender, renderer, nil, testLogger(), time.Second)
}

func seedClient(store *memoryStore, inv *Invoice, name, email string) {
	store.clients[inv.ClientID] = clientRecord{Name: name, Email: email}
}

func seedQuote(store *memoryStore, status QuoteStatus, expiry *time.Time) *Quote {
	q := &Quote{
		ID:         uuid.New(),
		Number:     fmt.Sprintf("Q-%05d", len(store.quotes)+1),
		ClientID:   uuid.New(),
		Status:     status,
		ExpiryDate: expiry,
	}
	store.quotes[q.ID] = q
	return q
}

func TestSweepMarksOverdueAndSendsExactMatchReminders(t *testing.T) {
	store := newMemoryStore()
	today := time.Date(2024, time.March, 15, 0, 0, 0, 0, time.UTC)
	store.now = today
	store.settings.ReminderDaysAfterDue = []int{3, 7}

	// Due exactly 3 days ago: still sent, so the pass flips it to overdue
	// and then reminds it.
	hit := seedInvoice(store, InvoiceSent, "100.00", today.AddDate(0, 0, -3))
	seedClient(store, hit, "Acme GmbH", "billing@acme.example")

	// Due 5 days ago: overdue but 5 is not a configured offset.
	miss := seedInvoice(store, InvoiceOverdue, "200.00", today.AddDate(0, 0, -5))
	seedClient(store, miss, "Beta Ltd", "ap@beta.example")

	// Due 7 days ago, already overdue: second offset matches.
	second := seedInvoice(store, InvoiceOverdue, "300.00", today.AddDate(0, 0, -7))
	seedClient(store, second, "Gamma LLC", "pay@gamma.example")

	// Overdue on an offset day but without a client email: never a
	// candidate.
	seedInvoice(store, InvoiceOverdue, "50.00", today.AddDate(0, 0, -3))

	sender := &fakeSender{}
	sweep := newTestSweep(t, store, sender)

	report, err := sweep.Run(context.Background(), today)
	require.NoError(t, err)
	require.EqualValues(t, 1, report.OverdueMarked)
	require.Equal(t, 2, report.Reminders.Due)
	require.Equal(t, 2, report.Reminders.Succeeded)
	require.Zero(t, report.Reminders.Failed)
	require.Len(t, sender.sent, 2)

	require.Equal(t, InvoiceOverdue, store.invoices[hit.ID].Status)

	// Email log entries moved to sent with the provider id recorded.
	var sentLogs int
	for _, e := range store.emails {
		if e.Status == EmailSent {
			require.NotEmpty(t, e.ProviderID)
			sentLogs++
		}
	}
	require.Equal(t, 2, sentLogs)
}

func TestSweepDedupsSameDay(t *testing.T) {
	store := newMemoryStore()
	today := time.Date(2024, time.March, 15, 0, 0, 0, 0, time.UTC)
	store.now = today
	store.settings.ReminderDaysAfterDue = []int{3}

	inv := seedInvoice(store, InvoiceOverdue, "100.00", today.AddDate(0, 0, -3))
	seedClient(store, inv, "Acme GmbH", "billing@acme.example")

	sender := &fakeSender{}
	sweep := newTestSweep(t, store, sender)
	ctx := context.Background()

	report, err := sweep.Run(ctx, today)
	require.NoError(t, err)
	require.Equal(t, 1, report.Reminders.Succeeded)

	// The second run finds the day's sent entry in the email log and skips.
	report, err = sweep.Run(ctx, today)
	require.NoError(t, err)
	require.Equal(t, 1, report.Reminders.Due)
	require.Equal(t, 1, report.Reminders.Skipped)
	require.Zero(t, report.Reminders.Succeeded)
	require.Len(t, sender.sent, 1)
}

func TestSweepDisabledStillMarksOverdue(t *testing.T) {
	store := newMemoryStore()
	today := time.Date(2024, time.March, 15, 0, 0, 0, 0, time.UTC)
	store.settings.AutoRemindersEnabled = false

	inv := seedInvoice(store, InvoiceSent, "100.00", today.AddDate(0, 0, -3))
	seedClient(store, inv, "Acme GmbH", "billing@acme.example")

	sender := &fakeSender{}
	sweep := newTestSweep(t, store, sender)

	report, err := sweep.Run(context.Background(), today)
	require.NoError(t, err)
	require.EqualValues(t, 1, report.OverdueMarked)
	require.Zero(t, report.Reminders.Due)
	require.Empty(t, sender.sent)
	require.Equal(t, InvoiceOverdue, store.invoices[inv.ID].Status)
}

func TestSweepSendFailureRecorded(t *testing.T) {
	store := newMemoryStore()
	today := time.Date(2024, time.March, 15, 0, 0, 0, 0, time.UTC)
	store.now = today
	store.settings.ReminderDaysAfterDue = []int{3}

	inv := seedInvoice(store, InvoiceOverdue, "100.00", today.AddDate(0, 0, -3))
	seedClient(store, inv, "Acme GmbH", "billing@acme.example")

	sender := &fakeSender{fail: true}
	sweep := newTestSweep(t, store, sender)

	report, err := sweep.Run(context.Background(), today)
	require.NoError(t, err)
	require.Equal(t, 1, report.Reminders.Failed)
	require.Len(t, report.Reminders.Errors, 1)
	require.Equal(t, inv.ID.String(), report.Reminders.Errors[0].ID)

	var failed int
	for _, e := range store.emails {
		if e.Status == EmailFailed {
			failed++
		}
	}
	require.Equal(t, 1, failed)

	// A failed entry is not a sent entry, so the next run tries again.
	sender.fail = false
	report, err = sweep.Run(context.Background(), today)
	require.NoError(t, err)
	require.Equal(t, 1, report.Reminders.Succeeded)
}

func TestSweepDueDayBoundary(t *testing.T) {
	store := newMemoryStore()
	today := time.Date(2024, time.March, 15, 0, 0, 0, 0, time.UTC)
	store.settings.ReminderDaysAfterDue = []int{0, 3}

	inv := seedInvoice(store, InvoiceSent, "100.00", today)
	seedClient(store, inv, "Acme GmbH", "billing@acme.example")

	sender := &fakeSender{}
	sweep := newTestSweep(t, store, sender)

	report, err := sweep.Run(context.Background(), today)
	require.NoError(t, err)
	// due_date <= today marks it overdue on the due day itself, and a
	// configured offset of 0 reminds immediately.
	require.EqualValues(t, 1, report.OverdueMarked)
	require.Equal(t, 1, report.Reminders.Succeeded)
}

func TestQuoteExpiryBoundary(t *testing.T) {
	store := newMemoryStore()
	today := time.Date(2024, time.March, 15, 0, 0, 0, 0, time.UTC)

	yesterday := today.AddDate(0, 0, -1)
	pastDraft := seedQuote(store, QuoteDraft, &yesterday)
	pastSent := seedQuote(store, QuoteSent, &yesterday)

	// Strictly before today: a quote expiring today is still valid all day.
	todayQuote := seedQuote(store, QuoteSent, &today)

	// Accepted quotes are out of the sweep's reach no matter the date.
	accepted := seedQuote(store, QuoteAccepted, &yesterday)

	noExpiry := seedQuote(store, QuoteSent, nil)

	sweep := newTestSweep(t, store, &fakeSender{})
	report, err := sweep.Run(context.Background(), today)
	require.NoError(t, err)
	require.Equal(t, 2, report.Quotes.Due)
	require.Equal(t, 2, report.Quotes.Succeeded)

	require.Equal(t, QuoteExpired, store.quotes[pastDraft.ID].Status)
	require.Equal(t, QuoteExpired, store.quotes[pastSent.ID].Status)
	require.Equal(t, QuoteSent, store.quotes[todayQuote.ID].Status)
	require.Equal(t, QuoteAccepted, store.quotes[accepted.ID].Status)
	require.Equal(t, QuoteSent, store.quotes[noExpiry.ID].Status)
}

func TestQuoteExpirySkipsConcurrentlyMoved(t *testing.T) {
	store := newMemoryStore()
	today := time.Date(2024, time.March, 15, 0, 0, 0, 0, time.UTC)

	yesterday := today.AddDate(0, 0, -1)
	q := seedQuote(store, QuoteSent, &yesterday)

	// Simulate an edit between listing and the guarded update.
	listed, err := store.ListExpirableQuotes(context.Background(), today)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	store.quotes[q.ID].Status = QuoteAccepted

	expired, err := store.ExpireQuote(context.Background(), q.ID)
	require.NoError(t, err)
	require.False(t, expired)
	require.Equal(t, QuoteAccepted, store.quotes[q.ID].Status)
}
