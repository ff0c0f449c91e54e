package services

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/ruralpay/fintrack/internal/audit"
	"github.com/ruralpay/fintrack/internal/lock"
	"github.com/ruralpay/fintrack/internal/models"
	"github.com/ruralpay/fintrack/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockAuditor struct {
	mock.Mock
}

func (m *MockAuditor) LogEntry(entryID, accountID, kind string, amount decimal.Decimal, status string) {
	m.Called(entryID, accountID, kind, amount, status)
}

func (m *MockAuditor) LogTransfer(correlationID, fromAccount, toAccount string, amount decimal.Decimal, status string) {
	m.Called(correlationID, fromAccount, toAccount, amount, status)
}

func (m *MockAuditor) LogError(reference, accountID string, err error) {
	m.Called(reference, accountID, err)
}

func (m *MockAuditor) LogOperation(reference, accountID, operation, details string) {
	m.Called(reference, accountID, operation, details)
}

func (m *MockAuditor) LogCorrection(accountID string, before, after decimal.Decimal) {
	m.Called(accountID, before, after)
}

// faultyStore wraps a real store and lets a test fail individual writes.
type faultyStore struct {
	store.Store
	failUpdateAccount func(a *models.Account) error
}

func (s *faultyStore) Update(ctx context.Context, fn func(store.Tx) error) error {
	return s.Store.Update(ctx, func(tx store.Tx) error {
		return fn(&faultyTx{Tx: tx, fail: s.failUpdateAccount})
	})
}

type faultyTx struct {
	store.Tx
	fail func(a *models.Account) error
}

func (t *faultyTx) UpdateAccount(a *models.Account, expectedVersion int64) error {
	if t.fail != nil {
		if err := t.fail(a); err != nil {
			return err
		}
	}
	return t.Tx.UpdateAccount(a, expectedVersion)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func openTestStore(t *testing.T) *store.BoltStore {
	t.Helper()
	st, err := store.OpenBolt(filepath.Join(t.TempDir(), "ledger.db"), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func quietAuditor() *audit.AuditLogger {
	return audit.NewAuditLoggerTo(log.New(io.Discard, "", 0))
}

type testEngine struct {
	store         store.Store
	locker        *lock.LocalLocker
	ledger        *LedgerService
	reconciler    *ReconciliationService
	debts         *DebtService
	subscriptions *SubscriptionService
}

func newTestEngine(t *testing.T, st store.Store) *testEngine {
	t.Helper()
	if st == nil {
		st = openTestStore(t)
	}
	locker := lock.NewLocalLocker()
	auditor := quietAuditor()

	cfg := DefaultLedgerConfig()
	cfg.RetryBackoff = time.Millisecond
	ledger := NewLedgerService(st, locker, auditor, cfg)

	return &testEngine{
		store:         st,
		locker:        locker,
		ledger:        ledger,
		reconciler:    NewReconciliationService(st, locker, auditor, DefaultReconciliationConfig()),
		debts:         NewDebtService(st, locker, ledger, 2, time.Second),
		subscriptions: NewSubscriptionService(st, locker, ledger, time.Second),
	}
}

func (e *testEngine) account(t *testing.T, kind models.AccountKind, opening string) *models.Account {
	t.Helper()
	a, err := e.ledger.CreateAccount(context.Background(), NewAccount{
		OwnerID:        "user-1",
		Name:           string(kind) + " account",
		Kind:           kind,
		Currency:       "NGN",
		InitialBalance: dec(opening),
		Date:           day(2026, 1, 1),
	})
	require.NoError(t, err)
	return a
}

func (e *testEngine) balance(t *testing.T, accountID string) string {
	t.Helper()
	a, err := e.ledger.GetAccount(context.Background(), accountID)
	require.NoError(t, err)
	return a.Balance.StringFixed(2)
}

func (e *testEngine) entries(t *testing.T, accountID string) []models.LedgerEntry {
	t.Helper()
	entries, err := e.ledger.ListEntries(context.Background(), accountID)
	require.NoError(t, err)
	return entries
}
