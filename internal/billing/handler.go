package billing

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ledgerline/ledgerline/internal/platform/httpx"
)

// Handler exposes the billing engine surfaces: payment mutations, the draft
// to sent transition, and manual run-now triggers for the two engine entry
// points. The wider CRUD API lives elsewhere.
type Handler struct {
	logger       *slog.Logger
	service      *Service
	materializer *Materializer
	sweep        *Sweep
	validate     *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, materializer *Materializer, sweep *Sweep) *Handler {
	return &Handler{
		logger:       logger,
		service:      service,
		materializer: materializer,
		sweep:        sweep,
		validate:     validator.New(),
	}
}

// MountRoutes registers billing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/invoices/{id}", h.getInvoice)
	r.Post("/invoices/{id}/send", h.sendInvoice)
	r.Post("/payments", h.createPayment)
	r.Delete("/payments/{id}", h.deletePayment)
	r.Post("/runs/recurring", h.runRecurring)
	r.Post("/runs/reminders", h.runReminderSweep)
}

type createPaymentRequest struct {
	InvoiceID   string `json:"invoice_id" validate:"required,uuid"`
	Amount      string `json:"amount" validate:"required"`
	PaymentDate string `json:"payment_date,omitempty"`
	Method      string `json:"method,omitempty" validate:"max=50"`
	Note        string `json:"note,omitempty" validate:"max=500"`
}

func (h *Handler) createPayment(w http.ResponseWriter, r *http.Request) {
	var req createPaymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	invoiceID, err := uuid.Parse(req.InvoiceID)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invoice_id is not a valid uuid")
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "amount is not a valid decimal")
		return
	}
	var paymentDate time.Time
	if req.PaymentDate != "" {
		paymentDate, err = time.Parse("2006-01-02", req.PaymentDate)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "payment_date must be YYYY-MM-DD")
			return
		}
	}

	payment, err := h.service.RegisterPayment(r.Context(), RegisterPaymentInput{
		InvoiceID:   invoiceID,
		Amount:      amount,
		PaymentDate: paymentDate,
		Method:      req.Method,
		Note:        req.Note,
	})
	if err != nil {
		h.respondError(w, "create payment", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, payment)
}

func (h *Handler) deletePayment(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "id is not a valid uuid")
		return
	}
	if err := h.service.RemovePayment(r.Context(), id); err != nil {
		h.respondError(w, "delete payment", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "id is not a valid uuid")
		return
	}
	inv, err := h.service.GetInvoice(r.Context(), id)
	if err != nil {
		h.respondError(w, "get invoice", err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) sendInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "id is not a valid uuid")
		return
	}
	if err := h.service.SendInvoice(r.Context(), id); err != nil {
		h.respondError(w, "send invoice", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// runRecurring triggers the materializer immediately. The run is idempotent,
// so operators can invoke it freely alongside the scheduled job.
func (h *Handler) runRecurring(w http.ResponseWriter, r *http.Request) {
	report, err := h.materializer.Run(r.Context(), time.Now().UTC())
	if err != nil {
		h.respondError(w, "run recurring invoices", err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) runReminderSweep(w http.ResponseWriter, r *http.Request) {
	report, err := h.sweep.Run(r.Context(), time.Now().UTC())
	if err != nil {
		h.respondError(w, "run reminder sweep", err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidTransition):
		httpx.Problem(w, http.StatusConflict, "Invalid Transition", err.Error())
	case errors.Is(err, ErrInvalidAmount):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
