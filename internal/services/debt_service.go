package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/ruralpay/fintrack/internal/lock"
	"github.com/ruralpay/fintrack/internal/models"
	"github.com/ruralpay/fintrack/internal/schedule"
	"github.com/ruralpay/fintrack/internal/store"
	"github.com/shopspring/decimal"
)

type NewDebt struct {
	OwnerID          string
	Name             string
	Type             models.DebtType
	Currency         string
	Principal        decimal.Decimal
	InterestRate     decimal.Decimal
	Recurrence       models.Recurrence
	StartDate        time.Time
	EndDate          *time.Time
	FirstPaymentDate *time.Time
	MinPercentage    decimal.Decimal
	MinimumFloor     decimal.Decimal
	FundingAccountID string
}

type DebtPaymentRequest struct {
	Amount decimal.Decimal
	Date   time.Time
	Memo   string
}

type DebtPaymentResult struct {
	Debt    models.Debt         `json:"debt"`
	Paid    decimal.Decimal     `json:"paid"`
	Entry   *models.LedgerEntry `json:"entry,omitempty"`
	Balance *decimal.Decimal    `json:"funding_balance,omitempty"`
}

// DebtService owns debt schedules. Payments from a funding account are
// written through the ledger so the expense entry, the account balance and
// the debt all commit together.
type DebtService struct {
	store       store.Store
	locker      lock.Locker
	ledger      *LedgerService
	places      int32
	lockTimeout time.Duration
	now         func() time.Time
	newID       func() string
}

func NewDebtService(st store.Store, locker lock.Locker, ledger *LedgerService, places int32, lockTimeout time.Duration) *DebtService {
	return &DebtService{
		store:       st,
		locker:      locker,
		ledger:      ledger,
		places:      places,
		lockTimeout: lockTimeout,
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
	}
}

func (s *DebtService) Create(ctx context.Context, req NewDebt) (*models.Debt, error) {
	if !req.Principal.IsPositive() || req.InterestRate.IsNegative() {
		return nil, ErrInvalidAmount
	}
	if req.Type == "" {
		req.Type = models.DebtInstallment
	}

	now := s.now()
	start := req.StartDate
	if start.IsZero() {
		start = now
	}
	next := schedule.NextDate(start, req.Recurrence)
	if req.FirstPaymentDate != nil {
		next = req.FirstPaymentDate.UTC()
	}

	debt := &models.Debt{
		ID:               s.newID(),
		OwnerID:          req.OwnerID,
		Name:             req.Name,
		Type:             req.Type,
		Currency:         req.Currency,
		Principal:        req.Principal,
		CurrentAmount:    req.Principal,
		InterestRate:     req.InterestRate,
		Recurrence:       req.Recurrence,
		StartDate:        start.UTC(),
		EndDate:          req.EndDate,
		MinPercentage:    req.MinPercentage,
		MinimumFloor:     req.MinimumFloor,
		FundingAccountID: req.FundingAccountID,
		Status:           models.DebtStatusActive,
		NextPaymentDate:  &next,
		Payments:         []models.DebtPayment{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	debt.NextPaymentAmount = schedule.ProjectDebt(debt, s.places)

	err := s.store.Update(ctx, func(tx store.Tx) error {
		if debt.FundingAccountID != "" {
			account, err := tx.GetAccount(debt.FundingAccountID)
			if errors.Is(err, store.ErrNotFound) {
				return accountErr(debt.FundingAccountID, ErrAccountNotFound)
			}
			if err != nil {
				return err
			}
			if debt.Currency == "" {
				debt.Currency = account.Currency
			}
			if debt.Currency != account.Currency {
				return accountErr(account.ID, fmt.Errorf("%w: debt in %s, account in %s", ErrCurrencyMismatch, debt.Currency, account.Currency))
			}
		}
		return tx.PutDebt(debt)
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[DEBT] created %s (%s) principal %s, first payment %s due %s",
		debt.ID, debt.Type, debt.Principal, debt.NextPaymentAmount, next.Format("2006-01-02"))
	return debt, nil
}

func (s *DebtService) Get(ctx context.Context, debtID string) (*models.Debt, error) {
	var debt *models.Debt
	err := s.store.View(ctx, func(r store.Reader) error {
		var err error
		debt, err = getDebt(r, debtID)
		return err
	})
	return debt, err
}

func getDebt(r store.Reader, debtID string) (*models.Debt, error) {
	d, err := r.GetDebt(debtID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrDebtNotFound, debtID)
	}
	return d, err
}

// MakePayment reduces what is owed. An amount above the outstanding balance is
// capped at it. A debt that reaches zero is marked paid and has no next date;
// otherwise the next date moves one recurrence step, or past the payment date
// for a late payment, and the next amount is projected again.
func (s *DebtService) MakePayment(ctx context.Context, debtID string, req DebtPaymentRequest) (*DebtPaymentResult, error) {
	if !req.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	release, err := holdLock(ctx, s.locker, s.lockTimeout, lock.DebtKey(debtID))
	if err != nil {
		return nil, err
	}
	defer release()

	debt, err := s.Get(ctx, debtID)
	if err != nil {
		return nil, err
	}
	if debt.Status == models.DebtStatusPaid {
		return nil, fmt.Errorf("%w: %s", ErrDebtPaid, debtID)
	}

	date := req.Date
	if date.IsZero() {
		date = s.now()
	}
	paid := decimal.Min(req.Amount, debt.CurrentAmount)

	var updated *models.Debt
	record := func(tx store.Tx, entry *models.LedgerEntry) error {
		d, err := getDebt(tx, debtID)
		if err != nil {
			return err
		}
		if !d.CurrentAmount.Equal(debt.CurrentAmount) {
			return fmt.Errorf("%w: debt %s", ErrConcurrentModification, debtID)
		}

		payment := models.DebtPayment{Date: date.UTC(), Amount: paid, Memo: req.Memo}
		if entry != nil {
			payment.EntryID = entry.ID
		}
		s.applyPayment(d, payment)

		updated = d
		return tx.PutDebt(d)
	}

	result := &DebtPaymentResult{Paid: paid}
	if debt.FundingAccountID != "" {
		memo := req.Memo
		if memo == "" {
			memo = "Payment: " + debt.Name
		}
		single, err := s.ledger.applySingle(ctx, SingleRequest{
			AccountID: debt.FundingAccountID,
			Kind:      models.EntryExpense,
			Amount:    paid,
			Memo:      memo,
			Date:      date,
			Source:    models.SourceDebt,
			SourceID:  debtID,
		}, record)
		if err != nil {
			return nil, err
		}
		result.Entry = &single.Entry
		result.Balance = &single.Balance
	} else {
		if err := s.store.Update(ctx, func(tx store.Tx) error { return record(tx, nil) }); err != nil {
			return nil, err
		}
	}

	result.Debt = *updated
	log.Printf("[DEBT] payment of %s on %s, %s remaining", paid, debtID, updated.CurrentAmount)
	return result, nil
}

func (s *DebtService) applyPayment(d *models.Debt, payment models.DebtPayment) {
	d.CurrentAmount = d.CurrentAmount.Sub(payment.Amount)
	d.Payments = append(d.Payments, payment)
	d.UpdatedAt = s.now()

	if !d.CurrentAmount.IsPositive() {
		d.CurrentAmount = decimal.Zero
		d.Status = models.DebtStatusPaid
		d.NextPaymentDate = nil
		d.NextPaymentAmount = decimal.Zero
		return
	}

	from := payment.Date
	if d.NextPaymentDate != nil {
		from = *d.NextPaymentDate
	}
	next := schedule.Advance(from, payment.Date, d.Recurrence)
	d.NextPaymentDate = &next
	d.NextPaymentAmount = schedule.ProjectDebt(d, s.places)
}

// holdLock acquires keys with its own deadline so a stuck holder surfaces as
// ErrConcurrentModification instead of blocking the caller.
func holdLock(ctx context.Context, locker lock.Locker, timeout time.Duration, keys ...string) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	release, err := locker.Lock(lockCtx, keys...)
	if errors.Is(err, lock.ErrLockTimeout) {
		return nil, fmt.Errorf("%w: %v", ErrConcurrentModification, err)
	}
	return release, err
}
