// Package store persists accounts, ledger entries, debts and subscriptions.
//
// All writes happen inside Store.Update; either every write made by the
// callback commits or none does. Callers never see a half-applied transfer.
package store

import (
	"context"
	"errors"

	"github.com/ruralpay/fintrack/internal/models"
)

var (
	// ErrNotFound is returned when a record is not found.
	ErrNotFound = errors.New("record not found")

	// ErrVersionConflict is returned when an account was written by someone
	// else between read and write, or the database aborted on contention.
	ErrVersionConflict = errors.New("version conflict")
)

// Reader exposes keyed lookups and the ordered entry range query.
type Reader interface {
	GetAccount(id string) (*models.Account, error)
	ListAccounts() ([]models.Account, error)

	GetEntry(id string) (*models.LedgerEntry, error)
	// ListEntries returns every entry of the account, archived ones included,
	// ordered by (date, seq).
	ListEntries(accountID string) ([]models.LedgerEntry, error)
	// ActiveEntries is ListEntries restricted to active entries.
	ActiveEntries(accountID string) ([]models.LedgerEntry, error)
	EntriesByCorrelation(correlationID string) ([]models.LedgerEntry, error)

	GetDebt(id string) (*models.Debt, error)
	GetSubscription(id string) (*models.Subscription, error)
	ListSubscriptions() ([]models.Subscription, error)
}

// Tx is a read-write transaction.
type Tx interface {
	Reader

	CreateAccount(a *models.Account) error
	// UpdateAccount persists name, status and balance when the stored version
	// still equals expectedVersion, and bumps a.Version on success.
	UpdateAccount(a *models.Account, expectedVersion int64) error

	// InsertEntry stores a new entry and assigns its insertion sequence.
	InsertEntry(e *models.LedgerEntry) error
	UpdateEntry(e *models.LedgerEntry) error
	DeleteEntry(id string) error

	PutDebt(d *models.Debt) error
	PutSubscription(s *models.Subscription) error
}

type Store interface {
	View(ctx context.Context, fn func(Reader) error) error
	Update(ctx context.Context, fn func(Tx) error) error
	Close() error
}
