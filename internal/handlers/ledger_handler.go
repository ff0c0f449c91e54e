package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ruralpay/fintrack/internal/models"
	"github.com/ruralpay/fintrack/internal/services"
	"github.com/shopspring/decimal"
)

type createAccountRequest struct {
	Name           string             `json:"name" validate:"required,max=120"`
	Kind           models.AccountKind `json:"kind" validate:"required,oneof=ordinary savings goal credit subscription"`
	Currency       string             `json:"currency" validate:"required,currency"`
	InitialBalance decimal.Decimal    `json:"initial_balance"`
	Date           *time.Time         `json:"date,omitempty"`
}

type entryRequest struct {
	AccountID string           `json:"account_id" validate:"required"`
	Kind      models.EntryKind `json:"kind" validate:"required,oneof=income expense"`
	Amount    decimal.Decimal  `json:"amount" validate:"gt=0"`
	Memo      string           `json:"memo" validate:"max=500"`
	Date      *time.Time       `json:"date,omitempty"`
}

type amendRequest struct {
	Amount *decimal.Decimal `json:"amount,omitempty"`
	Memo   *string          `json:"memo,omitempty" validate:"omitempty,max=500"`
	Date   *time.Time       `json:"date,omitempty"`
}

type transferRequest struct {
	FromAccountID string          `json:"from_account_id" validate:"required"`
	ToAccountID   string          `json:"to_account_id" validate:"required"`
	Amount        decimal.Decimal `json:"amount" validate:"gt=0"`
	Memo          string          `json:"memo" validate:"max=500"`
	Date          *time.Time      `json:"date,omitempty"`
}

type balancesResponse struct {
	Balances services.Balances `json:"balances"`
}

func dateOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// ownedAccount hides accounts of other owners behind ErrAccountNotFound.
func (h *LedgerHandler) ownedAccount(ctx context.Context, owner, accountID string) (*models.Account, error) {
	a, err := h.ledger.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if a.OwnerID != owner {
		return nil, &services.AccountError{AccountID: accountID, Err: services.ErrAccountNotFound}
	}
	return a, nil
}

func (h *LedgerHandler) ownedEntry(ctx context.Context, owner, entryID string) (*models.LedgerEntry, error) {
	e, err := h.ledger.GetEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if _, err := h.ownedAccount(ctx, owner, e.AccountID); err != nil {
		return nil, services.ErrEntryNotFound
	}
	return e, nil
}

// CreateAccount opens an account with an optional opening balance
// @Summary Create account
// @Tags Accounts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Success 201 {object} models.Account
// @Failure 400 {object} services.ErrorResponse
// @Router /accounts [post]
func (h *LedgerHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}

	var req createAccountRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	account, err := h.ledger.CreateAccount(r.Context(), services.NewAccount{
		OwnerID:        owner,
		Name:           req.Name,
		Kind:           req.Kind,
		Currency:       req.Currency,
		InitialBalance: req.InitialBalance,
		Date:           dateOrZero(req.Date),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, account)
}

func (h *LedgerHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}

	account, err := h.ownedAccount(r.Context(), owner, chi.URLParam(r, "accountId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (h *LedgerHandler) ArchiveAccount(w http.ResponseWriter, r *http.Request) {
	h.setAccountStatus(w, r, h.ledger.ArchiveAccount)
}

func (h *LedgerHandler) RestoreAccount(w http.ResponseWriter, r *http.Request) {
	h.setAccountStatus(w, r, h.ledger.RestoreAccount)
}

func (h *LedgerHandler) setAccountStatus(w http.ResponseWriter, r *http.Request, apply func(context.Context, string) (*models.Account, error)) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}

	accountID := chi.URLParam(r, "accountId")
	if _, err := h.ownedAccount(r.Context(), owner, accountID); err != nil {
		writeError(w, err)
		return
	}

	account, err := apply(r.Context(), accountID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

// ListEntries returns the account history ordered by date, archived entries included.
func (h *LedgerHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}

	accountID := chi.URLParam(r, "accountId")
	if _, err := h.ownedAccount(r.Context(), owner, accountID); err != nil {
		writeError(w, err)
		return
	}

	entries, err := h.ledger.ListEntries(r.Context(), accountID)
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []models.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// CreateEntry records an income or expense
// @Summary Create ledger entry
// @Tags Entries
// @Accept json
// @Produce json
// @Security BearerAuth
// @Success 201 {object} services.SingleResult
// @Failure 404 {object} services.ErrorResponse
// @Failure 422 {object} services.ErrorResponse
// @Router /entries [post]
func (h *LedgerHandler) CreateEntry(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}

	var req entryRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	if _, err := h.ownedAccount(r.Context(), owner, req.AccountID); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.ledger.ApplySingle(r.Context(), services.SingleRequest{
		AccountID: req.AccountID,
		Kind:      req.Kind,
		Amount:    req.Amount,
		Memo:      req.Memo,
		Date:      dateOrZero(req.Date),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *LedgerHandler) AmendEntry(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}

	var req amendRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}

	entryID := chi.URLParam(r, "entryId")
	if _, err := h.ownedEntry(r.Context(), owner, entryID); err != nil {
		writeError(w, err)
		return
	}

	balances, err := h.ledger.Amend(r.Context(), entryID, services.AmendRequest{
		Amount: req.Amount,
		Memo:   req.Memo,
		Date:   req.Date,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balancesResponse{Balances: balances})
}

func (h *LedgerHandler) RetractEntry(w http.ResponseWriter, r *http.Request) {
	h.mutateEntry(w, r, h.ledger.Retract)
}

func (h *LedgerHandler) ArchiveEntry(w http.ResponseWriter, r *http.Request) {
	h.mutateEntry(w, r, h.ledger.ArchiveEntry)
}

func (h *LedgerHandler) RestoreEntry(w http.ResponseWriter, r *http.Request) {
	h.mutateEntry(w, r, h.ledger.RestoreEntry)
}

func (h *LedgerHandler) mutateEntry(w http.ResponseWriter, r *http.Request, apply func(context.Context, string) (services.Balances, error)) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}

	entryID := chi.URLParam(r, "entryId")
	if _, err := h.ownedEntry(r.Context(), owner, entryID); err != nil {
		writeError(w, err)
		return
	}

	balances, err := apply(r.Context(), entryID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balancesResponse{Balances: balances})
}

// CreateTransfer moves money between two accounts of the caller
// @Summary Transfer between accounts
// @Tags Transfers
// @Accept json
// @Produce json
// @Security BearerAuth
// @Success 201 {object} services.TransferResult
// @Failure 422 {object} services.ErrorResponse
// @Failure 423 {object} services.ErrorResponse
// @Router /transfers [post]
func (h *LedgerHandler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerID(w, r)
	if !ok {
		return
	}

	var req transferRequest
	if !h.decodeJSON(w, r, &req) {
		return
	}
	for _, id := range []string{req.FromAccountID, req.ToAccountID} {
		if _, err := h.ownedAccount(r.Context(), owner, id); err != nil {
			writeError(w, err)
			return
		}
	}

	result, err := h.ledger.ApplyTransfer(r.Context(), services.TransferRequest{
		FromAccountID: req.FromAccountID,
		ToAccountID:   req.ToAccountID,
		Amount:        req.Amount,
		Memo:          req.Memo,
		Date:          dateOrZero(req.Date),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}
