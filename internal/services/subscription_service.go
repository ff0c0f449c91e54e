package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/ruralpay/fintrack/internal/lock"
	"github.com/ruralpay/fintrack/internal/models"
	"github.com/ruralpay/fintrack/internal/schedule"
	"github.com/ruralpay/fintrack/internal/store"
	"github.com/shopspring/decimal"
)

type NewSubscription struct {
	OwnerID          string
	Name             string
	Amount           decimal.Decimal
	Recurrence       models.Recurrence
	FundingAccountID string
	CategoryID       string
	StartDate        time.Time
}

type SubscriptionPaymentRequest struct {
	Status models.PaymentStatus
	// Amount defaults to the subscription amount.
	Amount decimal.Decimal
	Date   time.Time
	Reason string
}

type SubscriptionPaymentResult struct {
	Subscription models.Subscription        `json:"subscription"`
	Payment      models.SubscriptionPayment `json:"payment"`
	Entry        *models.LedgerEntry        `json:"entry,omitempty"`
	Balance      *decimal.Decimal           `json:"funding_balance,omitempty"`
}

type BillingReport struct {
	AsOf    time.Time                   `json:"as_of"`
	Charged []SubscriptionPaymentResult `json:"charged"`
	Failed  []SubscriptionPaymentResult `json:"failed"`
}

type SubscriptionService struct {
	store       store.Store
	locker      lock.Locker
	ledger      *LedgerService
	lockTimeout time.Duration
	now         func() time.Time
	newID       func() string
}

func NewSubscriptionService(st store.Store, locker lock.Locker, ledger *LedgerService, lockTimeout time.Duration) *SubscriptionService {
	return &SubscriptionService{
		store:       st,
		locker:      locker,
		ledger:      ledger,
		lockTimeout: lockTimeout,
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
	}
}

func getSubscription(r store.Reader, id string) (*models.Subscription, error) {
	sub, err := r.GetSubscription(id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSubscriptionNotFound, id)
	}
	return sub, err
}

// Create registers a subscription charged to an active funding account. The
// first payment is due on the start date.
func (s *SubscriptionService) Create(ctx context.Context, req NewSubscription) (*models.Subscription, error) {
	if !req.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	now := s.now()
	start := req.StartDate
	if start.IsZero() {
		start = now
	}
	sub := &models.Subscription{
		ID:               s.newID(),
		OwnerID:          req.OwnerID,
		Name:             req.Name,
		Amount:           req.Amount,
		Recurrence:       req.Recurrence,
		FundingAccountID: req.FundingAccountID,
		CategoryID:       req.CategoryID,
		Status:           models.SubscriptionActive,
		StartDate:        start.UTC(),
		NextPaymentDate:  start.UTC(),
		Payments:         []models.SubscriptionPayment{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err := s.store.Update(ctx, func(tx store.Tx) error {
		account, err := tx.GetAccount(req.FundingAccountID)
		if errors.Is(err, store.ErrNotFound) {
			return accountErr(req.FundingAccountID, ErrAccountNotFound)
		}
		if err != nil {
			return err
		}
		if account.IsArchived() {
			return accountErr(account.ID, ErrAccountArchived)
		}
		sub.Currency = account.Currency
		return tx.PutSubscription(sub)
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[SUBSCRIPTION] created %s: %s %s %s", sub.ID, sub.Amount, sub.Currency, sub.Recurrence.Frequency)
	return sub, nil
}

func (s *SubscriptionService) Get(ctx context.Context, id string) (*models.Subscription, error) {
	var sub *models.Subscription
	err := s.store.View(ctx, func(r store.Reader) error {
		var err error
		sub, err = getSubscription(r, id)
		return err
	})
	return sub, err
}

// RecordPayment records one charge attempt.
//
// A success charges the funding account through the ledger and advances the
// schedule in the same transaction, past the payment date when the charge
// came in late. When the ledger rejects the charge
// (insufficient funds, archived account) a failed payment is recorded instead,
// the schedule stays put, and the rejection is returned alongside the result.
// Pending and failed records never touch a balance.
func (s *SubscriptionService) RecordPayment(ctx context.Context, id string, req SubscriptionPaymentRequest) (*SubscriptionPaymentResult, error) {
	if req.Status == "" {
		req.Status = models.PaymentSuccess
	}
	switch req.Status {
	case models.PaymentSuccess, models.PaymentPending, models.PaymentFailed:
	default:
		return nil, fmt.Errorf("unknown payment status %q", req.Status)
	}
	if req.Amount.IsNegative() {
		return nil, ErrInvalidAmount
	}

	release, err := holdLock(ctx, s.locker, s.lockTimeout, lock.SubscriptionKey(id))
	if err != nil {
		return nil, err
	}
	defer release()

	sub, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Status != models.SubscriptionActive {
		return nil, fmt.Errorf("%w: %s is %s", ErrSubscriptionInactive, id, sub.Status)
	}

	payment := models.SubscriptionPayment{
		Date:   req.Date.UTC(),
		Amount: req.Amount,
		Status: req.Status,
		Reason: req.Reason,
	}
	if req.Date.IsZero() {
		payment.Date = s.now()
	}
	if payment.Amount.IsZero() {
		payment.Amount = sub.Amount
	}

	if req.Status != models.PaymentSuccess {
		return s.recordOnly(ctx, id, payment)
	}

	result := &SubscriptionPaymentResult{Payment: payment}
	single, err := s.ledger.applySingle(ctx, SingleRequest{
		AccountID: sub.FundingAccountID,
		Kind:      models.EntryExpense,
		Amount:    payment.Amount,
		Memo:      "Subscription: " + sub.Name,
		Date:      payment.Date,
		Source:    models.SourceSubscription,
		SourceID:  id,
	}, func(tx store.Tx, entry *models.LedgerEntry) error {
		current, err := getSubscription(tx, id)
		if err != nil {
			return err
		}
		result.Payment.EntryID = entry.ID
		current.Payments = append(current.Payments, result.Payment)
		current.NextPaymentDate = schedule.Advance(current.NextPaymentDate, result.Payment.Date, current.Recurrence)
		current.UpdatedAt = s.now()
		result.Subscription = *current
		return tx.PutSubscription(current)
	})
	if err != nil {
		if !IsPrecondition(err) && !errors.Is(err, ErrAccountNotFound) {
			return nil, err
		}

		payment.Status = models.PaymentFailed
		payment.Reason = err.Error()
		failed, recordErr := s.recordOnly(ctx, id, payment)
		if recordErr != nil {
			return nil, recordErr
		}
		log.Printf("[SUBSCRIPTION] charge for %s rejected: %v", id, err)
		return failed, err
	}

	result.Entry = &single.Entry
	result.Balance = &single.Balance
	log.Printf("[SUBSCRIPTION] charged %s for %s, next payment %s", payment.Amount, id, result.Subscription.NextPaymentDate.Format("2006-01-02"))
	return result, nil
}

func (s *SubscriptionService) recordOnly(ctx context.Context, id string, payment models.SubscriptionPayment) (*SubscriptionPaymentResult, error) {
	result := &SubscriptionPaymentResult{Payment: payment}
	err := s.store.Update(ctx, func(tx store.Tx) error {
		sub, err := getSubscription(tx, id)
		if err != nil {
			return err
		}
		sub.Payments = append(sub.Payments, payment)
		sub.UpdatedAt = s.now()
		result.Subscription = *sub
		return tx.PutSubscription(sub)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *SubscriptionService) Pause(ctx context.Context, id string) (*models.Subscription, error) {
	return s.transition(ctx, id, func(sub *models.Subscription) error {
		if sub.Status != models.SubscriptionActive {
			return fmt.Errorf("%w: %s is %s", ErrSubscriptionInactive, id, sub.Status)
		}
		sub.Status = models.SubscriptionPaused
		return nil
	})
}

// Resume reactivates a paused subscription. Due dates missed while paused are
// skipped, not charged.
func (s *SubscriptionService) Resume(ctx context.Context, id string) (*models.Subscription, error) {
	return s.transition(ctx, id, func(sub *models.Subscription) error {
		if sub.Status != models.SubscriptionPaused {
			return fmt.Errorf("%w: %s is %s", ErrSubscriptionInactive, id, sub.Status)
		}
		sub.Status = models.SubscriptionActive
		if today := s.now(); sub.NextPaymentDate.Before(today) {
			sub.NextPaymentDate = schedule.Advance(sub.NextPaymentDate, today, sub.Recurrence)
		}
		return nil
	})
}

func (s *SubscriptionService) Cancel(ctx context.Context, id string) (*models.Subscription, error) {
	return s.transition(ctx, id, func(sub *models.Subscription) error {
		if sub.Status == models.SubscriptionCancelled {
			return fmt.Errorf("%w: %s is already cancelled", ErrSubscriptionInactive, id)
		}
		sub.Status = models.SubscriptionCancelled
		return nil
	})
}

func (s *SubscriptionService) transition(ctx context.Context, id string, fn func(sub *models.Subscription) error) (*models.Subscription, error) {
	release, err := holdLock(ctx, s.locker, s.lockTimeout, lock.SubscriptionKey(id))
	if err != nil {
		return nil, err
	}
	defer release()

	var updated *models.Subscription
	err = s.store.Update(ctx, func(tx store.Tx) error {
		sub, err := getSubscription(tx, id)
		if err != nil {
			return err
		}
		if err := fn(sub); err != nil {
			return err
		}
		sub.UpdatedAt = s.now()
		updated = sub
		return tx.PutSubscription(sub)
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[SUBSCRIPTION] %s is now %s", id, updated.Status)
	return updated, nil
}

// DueSubscriptions lists active subscriptions whose next payment date is on or
// before asOf, oldest first.
func (s *SubscriptionService) DueSubscriptions(ctx context.Context, asOf time.Time) ([]models.Subscription, error) {
	var due []models.Subscription
	err := s.store.View(ctx, func(r store.Reader) error {
		subs, err := r.ListSubscriptions()
		if err != nil {
			return err
		}
		for _, sub := range subs {
			if sub.Status == models.SubscriptionActive && !sub.NextPaymentDate.After(asOf) {
				due = append(due, sub)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(due, func(i, j int) bool {
		if due[i].NextPaymentDate.Equal(due[j].NextPaymentDate) {
			return due[i].ID < due[j].ID
		}
		return due[i].NextPaymentDate.Before(due[j].NextPaymentDate)
	})
	return due, nil
}

// BillDue charges every due subscription once, dated on its due date.
// Rejected charges land in Failed; other errors stop the run.
func (s *SubscriptionService) BillDue(ctx context.Context, asOf time.Time) (*BillingReport, error) {
	due, err := s.DueSubscriptions(ctx, asOf)
	if err != nil {
		return nil, err
	}

	report := &BillingReport{
		AsOf:    asOf,
		Charged: []SubscriptionPaymentResult{},
		Failed:  []SubscriptionPaymentResult{},
	}
	for _, sub := range due {
		result, err := s.RecordPayment(ctx, sub.ID, SubscriptionPaymentRequest{
			Status: models.PaymentSuccess,
			Date:   sub.NextPaymentDate,
		})
		switch {
		case err == nil:
			report.Charged = append(report.Charged, *result)
		case result != nil:
			report.Failed = append(report.Failed, *result)
		default:
			return report, err
		}
	}
	return report, nil
}
