package services

import (
	"context"
	"testing"
	"time"

	"github.com/ruralpay/fintrack/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscriptionService(t *testing.T) {
	ctx := context.Background()

	newSub := func(t *testing.T, e *testEngine, fundingID, amount string) *models.Subscription {
		sub, err := e.subscriptions.Create(ctx, NewSubscription{
			OwnerID:          "user-1",
			Name:             "Streaming",
			Amount:           dec(amount),
			Recurrence:       monthly(),
			FundingAccountID: fundingID,
			StartDate:        day(2026, 1, 31),
		})
		require.NoError(t, err)
		return sub
	}

	t.Run("successful charge debits the account and advances the schedule", func(t *testing.T) {
		e := newTestEngine(t, nil)
		funding := e.account(t, models.AccountKindOrdinary, "100")
		sub := newSub(t, e, funding.ID, "15")
		assert.Equal(t, "NGN", sub.Currency)
		assert.Equal(t, day(2026, 1, 31), sub.NextPaymentDate)

		res, err := e.subscriptions.RecordPayment(ctx, sub.ID, SubscriptionPaymentRequest{Status: models.PaymentSuccess, Date: day(2026, 1, 31)})
		require.NoError(t, err)

		assert.Equal(t, day(2026, 2, 28), res.Subscription.NextPaymentDate)
		require.NotNil(t, res.Entry)
		assert.Equal(t, models.SourceSubscription, res.Entry.Source)
		assert.Equal(t, res.Entry.ID, res.Payment.EntryID)
		assert.Equal(t, "85.00", res.Balance.StringFixed(2))
		assert.Equal(t, "85.00", e.balance(t, funding.ID))

		got, err := e.subscriptions.Get(ctx, sub.ID)
		require.NoError(t, err)
		require.NotNil(t, got.LastSuccessfulPayment())
		assert.Equal(t, res.Entry.ID, got.LastSuccessfulPayment().EntryID)
	})

	t.Run("late charge moves the next date past the payment", func(t *testing.T) {
		e := newTestEngine(t, nil)
		funding := e.account(t, models.AccountKindOrdinary, "100")
		sub := newSub(t, e, funding.ID, "15")

		res, err := e.subscriptions.RecordPayment(ctx, sub.ID, SubscriptionPaymentRequest{Status: models.PaymentSuccess, Date: day(2026, 4, 15)})
		require.NoError(t, err)
		assert.True(t, res.Subscription.NextPaymentDate.After(res.Payment.Date))
		assert.Equal(t, day(2026, 4, 28), res.Subscription.NextPaymentDate)

		got, err := e.subscriptions.Get(ctx, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, day(2026, 4, 28), got.NextPaymentDate)
		assert.Equal(t, "85.00", e.balance(t, funding.ID))
	})

	t.Run("rejected charge is recorded as failed without advancing", func(t *testing.T) {
		e := newTestEngine(t, nil)
		funding := e.account(t, models.AccountKindOrdinary, "10")
		sub := newSub(t, e, funding.ID, "15")

		res, err := e.subscriptions.RecordPayment(ctx, sub.ID, SubscriptionPaymentRequest{Status: models.PaymentSuccess})
		assert.ErrorIs(t, err, ErrInsufficientFunds)
		require.NotNil(t, res)
		assert.Equal(t, models.PaymentFailed, res.Payment.Status)
		assert.Contains(t, res.Payment.Reason, "insufficient funds")

		got, err := e.subscriptions.Get(ctx, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, day(2026, 1, 31), got.NextPaymentDate)
		require.Len(t, got.Payments, 1)
		assert.Nil(t, got.LastSuccessfulPayment())
		assert.Equal(t, "10.00", e.balance(t, funding.ID))
	})

	t.Run("pending payment has no effect", func(t *testing.T) {
		e := newTestEngine(t, nil)
		funding := e.account(t, models.AccountKindOrdinary, "100")
		sub := newSub(t, e, funding.ID, "15")

		res, err := e.subscriptions.RecordPayment(ctx, sub.ID, SubscriptionPaymentRequest{Status: models.PaymentPending})
		require.NoError(t, err)
		assert.Nil(t, res.Entry)
		assert.Equal(t, day(2026, 1, 31), res.Subscription.NextPaymentDate)
		assert.Equal(t, "100.00", e.balance(t, funding.ID))
	})

	t.Run("pause, resume and cancel", func(t *testing.T) {
		e := newTestEngine(t, nil)
		e.subscriptions.now = func() time.Time { return day(2026, 6, 10) }
		funding := e.account(t, models.AccountKindOrdinary, "100")
		sub := newSub(t, e, funding.ID, "15")

		paused, err := e.subscriptions.Pause(ctx, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, models.SubscriptionPaused, paused.Status)

		_, err = e.subscriptions.RecordPayment(ctx, sub.ID, SubscriptionPaymentRequest{})
		assert.ErrorIs(t, err, ErrSubscriptionInactive)

		_, err = e.subscriptions.Pause(ctx, sub.ID)
		assert.ErrorIs(t, err, ErrSubscriptionInactive)

		resumed, err := e.subscriptions.Resume(ctx, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, models.SubscriptionActive, resumed.Status)
		assert.Equal(t, day(2026, 6, 28), resumed.NextPaymentDate)

		cancelled, err := e.subscriptions.Cancel(ctx, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, models.SubscriptionCancelled, cancelled.Status)

		_, err = e.subscriptions.Cancel(ctx, sub.ID)
		assert.ErrorIs(t, err, ErrSubscriptionInactive)
		_, err = e.subscriptions.Resume(ctx, sub.ID)
		assert.ErrorIs(t, err, ErrSubscriptionInactive)
	})

	t.Run("create validates the funding account", func(t *testing.T) {
		e := newTestEngine(t, nil)
		funding := e.account(t, models.AccountKindOrdinary, "100")
		_, err := e.ledger.ArchiveAccount(ctx, funding.ID)
		require.NoError(t, err)

		_, err = e.subscriptions.Create(ctx, NewSubscription{Name: "x", Amount: dec("1"), Recurrence: monthly(), FundingAccountID: funding.ID})
		assert.ErrorIs(t, err, ErrAccountArchived)

		_, err = e.subscriptions.Create(ctx, NewSubscription{Name: "x", Amount: dec("0"), Recurrence: monthly(), FundingAccountID: funding.ID})
		assert.ErrorIs(t, err, ErrInvalidAmount)

		_, err = e.subscriptions.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrSubscriptionNotFound)
	})

	t.Run("bill charges only what is due", func(t *testing.T) {
		e := newTestEngine(t, nil)
		funding := e.account(t, models.AccountKindOrdinary, "100")
		poor := e.account(t, models.AccountKindOrdinary, "1")

		due := newSub(t, e, funding.ID, "15")
		broke := newSub(t, e, poor.ID, "15")
		later, err := e.subscriptions.Create(ctx, NewSubscription{Name: "Gym", Amount: dec("30"), Recurrence: monthly(), FundingAccountID: funding.ID, StartDate: day(2026, 12, 1)})
		require.NoError(t, err)

		list, err := e.subscriptions.DueSubscriptions(ctx, day(2026, 2, 1))
		require.NoError(t, err)
		assert.Len(t, list, 2)

		report, err := e.subscriptions.BillDue(ctx, day(2026, 2, 1))
		require.NoError(t, err)
		require.Len(t, report.Charged, 1)
		assert.Equal(t, due.ID, report.Charged[0].Subscription.ID)
		require.Len(t, report.Failed, 1)
		assert.Equal(t, broke.ID, report.Failed[0].Subscription.ID)

		assert.Equal(t, "85.00", e.balance(t, funding.ID))
		got, err := e.subscriptions.Get(ctx, later.ID)
		require.NoError(t, err)
		assert.Empty(t, got.Payments)
	})
}
