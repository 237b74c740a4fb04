package billing

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/ledgerline/internal/mail"
)

func newTestHandler(t *testing.T, store *memoryStore) *chi.Mux {
	t.Helper()
	renderer, err := mail.NewRenderer("", "")
	require.NoError(t, err)

	svc := newTestService(store)
	materializer := NewMaterializer(store, nil, testLogger())
	sweep := NewSweep(store, &fakeSender{}, renderer, nil, testLogger(), time.Second)

	r := chi.NewRouter()
	NewHandler(testLogger(), svc, materializer, sweep).MountRoutes(r)
	return r
}

func TestHandlerCreatePayment(t *testing.T) {
	store := newMemoryStore()
	inv := seedInvoice(store, InvoiceSent, "100.00", time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC))
	router := newTestHandler(t, store)

	body := fmt.Sprintf(`{"invoice_id":%q,"amount":"60.00","payment_date":"2024-03-10","method":"bank_transfer"}`, inv.ID)
	req := httptest.NewRequest(http.MethodPost, "/payments", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, InvoicePartiallyPaid, store.invoices[inv.ID].Status)
	require.True(t, store.invoices[inv.ID].AmountPaid.Equal(decimal.RequireFromString("60")))
}

func TestHandlerCreatePaymentValidation(t *testing.T) {
	store := newMemoryStore()
	inv := seedInvoice(store, InvoiceSent, "100.00", time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC))
	router := newTestHandler(t, store)

	cases := []struct {
		name string
		body string
		code int
	}{
		{"missing invoice id", `{"amount":"10"}`, http.StatusBadRequest},
		{"bad uuid", `{"invoice_id":"nope","amount":"10"}`, http.StatusBadRequest},
		{"bad amount", fmt.Sprintf(`{"invoice_id":%q,"amount":"ten"}`, inv.ID), http.StatusBadRequest},
		{"negative amount", fmt.Sprintf(`{"invoice_id":%q,"amount":"-5"}`, inv.ID), http.StatusBadRequest},
		{"bad date", fmt.Sprintf(`{"invoice_id":%q,"amount":"10","payment_date":"10.03.2024"}`, inv.ID), http.StatusBadRequest},
		{"unknown invoice", fmt.Sprintf(`{"invoice_id":%q,"amount":"10"}`, uuid.New()), http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/payments", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			require.Equal(t, tc.code, rec.Code, rec.Body.String())
		})
	}
	require.Empty(t, store.payments)
}

func TestHandlerDeletePayment(t *testing.T) {
	store := newMemoryStore()
	inv := seedInvoice(store, InvoiceSent, "100.00", time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC))
	p := addPayment(store, inv.ID, "100.00")
	router := newTestHandler(t, store)

	req := httptest.NewRequest(http.MethodDelete, "/payments/"+p.ID.String(), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Empty(t, store.payments)

	req = httptest.NewRequest(http.MethodDelete, "/payments/"+p.ID.String(), nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerSendInvoice(t *testing.T) {
	store := newMemoryStore()
	inv := seedInvoice(store, InvoiceDraft, "100.00", time.Date(2024, time.April, 1, 0, 0, 0, 0, time.UTC))
	router := newTestHandler(t, store)

	req := httptest.NewRequest(http.MethodPost, "/invoices/"+inv.ID.String()+"/send", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, InvoiceSent, store.invoices[inv.ID].Status)

	// Repeating the transition conflicts.
	req = httptest.NewRequest(http.MethodPost, "/invoices/"+inv.ID.String()+"/send", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandlerGetInvoice(t *testing.T) {
	store := newMemoryStore()
	inv := seedInvoice(store, InvoiceSent, "100.00", time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC))
	router := newTestHandler(t, store)

	req := httptest.NewRequest(http.MethodGet, "/invoices/"+inv.ID.String(), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var got Invoice
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, inv.ID, got.ID)
	require.Equal(t, inv.Number, got.Number)

	req = httptest.NewRequest(http.MethodGet, "/invoices/"+uuid.NewString(), nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerRunRecurring(t *testing.T) {
	store := newMemoryStore()
	seedTemplate(store, FreqMonthly, time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC))
	router := newTestHandler(t, store)

	req := httptest.NewRequest(http.MethodPost, "/runs/recurring", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var report RunReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.Equal(t, JobRecurringRun, report.Job)
	require.Equal(t, 1, report.Succeeded)
	require.Len(t, store.invoices, 1)
}

func TestHandlerRunReminderSweep(t *testing.T) {
	store := newMemoryStore()
	today := time.Now().UTC()
	store.now = today
	inv := seedInvoice(store, InvoiceSent, "100.00", today.AddDate(0, 0, -3))
	seedClient(store, inv, "Acme GmbH", "billing@acme.example")

	router := newTestHandler(t, store)
	req := httptest.NewRequest(http.MethodPost, "/runs/reminders", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var report SweepReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.EqualValues(t, 1, report.OverdueMarked)
	require.NotNil(t, report.Reminders)
	require.Equal(t, 1, report.Reminders.Succeeded)
}
