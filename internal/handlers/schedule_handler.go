package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ruralpay/fintrack/internal/models"
	"github.com/ruralpay/fintrack/internal/services"
	"github.com/shopspring/decimal"
)

type createDebtRequest struct {
	Name             string            `json:"name" validate:"required,max=120"`
	Type             models.DebtType   `json:"type" validate:"omitempty,oneof=installment revolving"`
	Currency         string            `json:"currency" validate:"omitempty,currency"`
	Principal        decimal.Decimal   `json:"principal" validate:"gt=0"`
	InterestRate     decimal.Decimal   `json:"interest_rate" validate:"gte=0"`
	Recurrence       models.Recurrence `json:"recurrence"`
	StartDate        *time.Time        `json:"start_date,omitempty"`
	EndDate          *time.Time        `json:"end_date,omitempty"`
	FirstPaymentDate *time.Time        `json:"first_payment_date,omitempty"`
	MinPercentage    decimal.Decimal   `json:"min_percentage" validate:"gte=0,lte=1"`
	MinimumFloor     decimal.Decimal   `json:"minimum_floor" validate:"gte=0"`
	FundingAccountID string            `json:"funding_account_id"`
}

type debtPaymentRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"gt=0"`
	Date   *time.Time      `json:"date,omitempty"`
	Memo   string          `json:"memo" validate:"max=500"`
}

type createSubscriptionRequest struct {
	Name             string            `json:"name" validate:"required,max=120"`
	Amount           decimal.Decimal   `json:"amount" validate:"gt=0"`
	Recurrence       models.Recurrence `json:"recurrence"`
	FundingAccountID string            `json:"funding_account_id" validate:"required"`
	CategoryID       string            `json:"category_id"`
	StartDate        *time.Time        `json:"start_date,omitempty"`
}

type subscriptionPaymentRequest struct {
	Status models.PaymentStatus `json:"status" validate:"omitempty,oneof=success pending failed"`
	Amount decimal.Decimal      `json:"amount" validate:"gte=0"`
	Date   *time.Time           `json:"date,omitempty"`
	Reason string               `json:"reason" validate:"max=500"`
}

func (h *LedgerHandler) ownedDebt(ctx context.Context, owner, debtID string) (*models.Debt, error) {
	d, err := h.debts.Get(ctx, debtID)
	if err != nil {
		return nil, err
	}
	if d.OwnerID != owner {
		return nil, services.ErrDebtNotFound
	}
	return d, nil
}

func (h *LedgerHandler) ownedSubscription(ctx context.Context, owner, subscriptionID string) (*models.Subscription, error) {
	sub, err := h.subscriptions.Get(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.OwnerID != owner {
		return nil, services.ErrSubscriptionNotFound
	}
	return sub, nil
}

// CreateDebt registers a loan or credit line and projects its first payment
// @Summary Create debt
// @Tags Debts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Success 201 {object} models.Debt
// @Router /debts [post]
func (h *LedgerHandler) CreateDebt(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}

	var req createDebtRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if req.FundingAccountID != "" {
		if _, err := h.ownedAccount(r.Context(), owner, req.FundingAccountID); err != nil {
			writeError(w, err)
			return
		}
	}

	debt, err := h.debts.Create(r.Context(), services.NewDebt{
		OwnerID:          owner,
		Name:             req.Name,
		Type:             req.Type,
		Currency:         req.Currency,
		Principal:        req.Principal,
		InterestRate:     req.InterestRate,
		Recurrence:       req.Recurrence,
		StartDate:        dateOrZero(req.StartDate),
		EndDate:          req.EndDate,
		FirstPaymentDate: req.FirstPaymentDate,
		MinPercentage:    req.MinPercentage,
		MinimumFloor:     req.MinimumFloor,
		FundingAccountID: req.FundingAccountID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, debt)
}

func (h *LedgerHandler) GetDebt(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}

	debt, err := h.ownedDebt(r.Context(), owner, chi.URLParam(r, "debtId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, debt)
}

func (h *LedgerHandler) MakeDebtPayment(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}

	var req debtPaymentRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	debtID := chi.URLParam(r, "debtId")
	if _, err := h.ownedDebt(r.Context(), owner, debtID); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.debts.MakePayment(r.Context(), debtID, services.DebtPaymentRequest{
		Amount: req.Amount,
		Date:   dateOrZero(req.Date),
		Memo:   req.Memo,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *LedgerHandler) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}

	var req createSubscriptionRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if _, err := h.ownedAccount(r.Context(), owner, req.FundingAccountID); err != nil {
		writeError(w, err)
		return
	}

	sub, err := h.subscriptions.Create(r.Context(), services.NewSubscription{
		OwnerID:          owner,
		Name:             req.Name,
		Amount:           req.Amount,
		Recurrence:       req.Recurrence,
		FundingAccountID: req.FundingAccountID,
		CategoryID:       req.CategoryID,
		StartDate:        dateOrZero(req.StartDate),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (h *LedgerHandler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}

	sub, err := h.ownedSubscription(r.Context(), owner, chi.URLParam(r, "subscriptionId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// RecordSubscriptionPayment charges or records a subscription payment.
// A rejected charge is stored as a failed payment and answered with 422.
func (h *LedgerHandler) RecordSubscriptionPayment(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}

	var req subscriptionPaymentRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	subscriptionID := chi.URLParam(r, "subscriptionId")
	if _, err := h.ownedSubscription(r.Context(), owner, subscriptionID); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.subscriptions.RecordPayment(r.Context(), subscriptionID, services.SubscriptionPaymentRequest{
		Status: req.Status,
		Amount: req.Amount,
		Date:   dateOrZero(req.Date),
		Reason: req.Reason,
	})
	if err != nil && result != nil {
		status := http.StatusUnprocessableEntity
		if errors.Is(err, services.ErrAccountArchived) {
			status = http.StatusLocked
		}
		writeJSON(w, status, map[string]any{"error": err.Error(), "payment": result.Payment})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *LedgerHandler) PauseSubscription(w http.ResponseWriter, r *http.Request) {
	h.transitionSubscription(w, r, h.subscriptions.Pause)
}

func (h *LedgerHandler) ResumeSubscription(w http.ResponseWriter, r *http.Request) {
	h.transitionSubscription(w, r, h.subscriptions.Resume)
}

func (h *LedgerHandler) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	h.transitionSubscription(w, r, h.subscriptions.Cancel)
}

func (h *LedgerHandler) transitionSubscription(w http.ResponseWriter, r *http.Request, apply func(context.Context, string) (*models.Subscription, error)) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}

	subscriptionID := chi.URLParam(r, "subscriptionId")
	if _, err := h.ownedSubscription(r.Context(), owner, subscriptionID); err != nil {
		writeError(w, err)
		return
	}

	sub, err := apply(r.Context(), subscriptionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}
