package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/ruralpay/fintrack/internal/middleware"
	"github.com/ruralpay/fintrack/internal/services"
)

const maxBodyBytes = 1_048_576

// LedgerHandler exposes the ledger, debt, subscription and reconciliation
// services over HTTP. Handlers only decode, authorize and translate errors.
type LedgerHandler struct {
	ledger        *services.LedgerService
	reconciler    *services.ReconciliationService
	debts         *services.DebtService
	subscriptions *services.SubscriptionService
	validator     *services.ValidationHelper
}

func NewLedgerHandler(ledger *services.LedgerService, reconciler *services.ReconciliationService, debts *services.DebtService, subscriptions *services.SubscriptionService) *LedgerHandler {
	return &LedgerHandler{
		ledger:        ledger,
		reconciler:    reconciler,
		debts:         debts,
		subscriptions: subscriptions,
		validator:     services.NewValidationHelper(),
	}
}

// Routes returns the authenticated API, meant to be mounted at /api/v1.
func (h *LedgerHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/accounts", func(r chi.Router) {
		r.Post("/", h.CreateAccount)
		r.Get("/{accountId}", h.GetAccount)
		r.Post("/{accountId}/archive", h.ArchiveAccount)
		r.Post("/{accountId}/restore", h.RestoreAccount)
		r.Get("/{accountId}/entries", h.ListEntries)
	})

	r.Route("/entries", func(r chi.Router) {
		r.Post("/", h.CreateEntry)
		r.Patch("/{entryId}", h.AmendEntry)
		r.Delete("/{entryId}", h.RetractEntry)
		r.Post("/{entryId}/archive", h.ArchiveEntry)
		r.Post("/{entryId}/restore", h.RestoreEntry)
	})

	r.Post("/transfers", h.CreateTransfer)

	r.Route("/debts", func(r chi.Router) {
		r.Post("/", h.CreateDebt)
		r.Get("/{debtId}", h.GetDebt)
		r.Post("/{debtId}/payments", h.MakeDebtPayment)
	})

	r.Route("/subscriptions", func(r chi.Router) {
		r.Post("/", h.CreateSubscription)
		r.Get("/{subscriptionId}", h.GetSubscription)
		r.Post("/{subscriptionId}/payments", h.RecordSubscriptionPayment)
		r.Post("/{subscriptionId}/pause", h.PauseSubscription)
		r.Post("/{subscriptionId}/resume", h.ResumeSubscription)
		r.Post("/{subscriptionId}/cancel", h.CancelSubscription)
	})

	r.Route("/ops", func(r chi.Router) {
		r.Get("/reconciliation", h.CheckBalances)
		r.Post("/reconciliation", h.ReconcileBalances)
		r.Get("/snapshot", h.Snapshot)
	})

	return r
}

func ownerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := middleware.OwnerID(r.Context())
	if id == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return "", false
	}
	return id, true
}

// decodeJSON reads exactly one JSON object into dst and validates it.
func (h *LedgerHandler) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		log.Printf("[HTTP] %s %s - decode error: %v", r.Method, r.URL.Path, err)
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}

	if err := h.validator.ValidateStruct(dst); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[HTTP] failed to encode response: %v", err)
	}
}

// writeError maps service errors onto status codes.
func writeError(w http.ResponseWriter, err error) {
	var fieldErrs validator.ValidationErrors
	switch {
	case errors.As(err, &fieldErrs):
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
	case errors.Is(err, services.ErrAccountNotFound),
		errors.Is(err, services.ErrEntryNotFound),
		errors.Is(err, services.ErrDebtNotFound),
		errors.Is(err, services.ErrSubscriptionNotFound):
		services.SendErrorResponse(w, err.Error(), http.StatusNotFound, nil)
	case errors.Is(err, services.ErrAccountArchived):
		services.SendErrorResponse(w, err.Error(), http.StatusLocked, nil)
	case errors.Is(err, services.ErrDebtPaid),
		errors.Is(err, services.ErrSubscriptionInactive),
		errors.Is(err, services.ErrConcurrentModification):
		services.SendErrorResponse(w, err.Error(), http.StatusConflict, nil)
	case services.IsPrecondition(err):
		services.SendErrorResponse(w, err.Error(), http.StatusUnprocessableEntity, nil)
	case errors.Is(err, context.DeadlineExceeded):
		services.SendErrorResponse(w, "Operation timed out", http.StatusServiceUnavailable, nil)
	default:
		log.Printf("[HTTP] internal error: %v", err)
		services.SendErrorResponse(w, "Internal server error", http.StatusInternalServerError, nil)
	}
}
