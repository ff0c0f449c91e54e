package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountKind classifies an account. Only credit accounts may carry a negative balance.
type AccountKind string

const (
	AccountKindOrdinary     AccountKind = "ordinary"
	AccountKindSavings      AccountKind = "savings"
	AccountKindGoal         AccountKind = "goal"
	AccountKindCredit       AccountKind = "credit"
	AccountKindSubscription AccountKind = "subscription"
)

// AllowsNegative reports whether the cached balance may drop below zero.
func (k AccountKind) AllowsNegative() bool {
	return k == AccountKindCredit
}

// Record status shared by accounts and ledger entries.
const (
	StatusActive   = "active"
	StatusArchived = "archived"
)

type Account struct {
	ID        string          `json:"id" db:"id"`
	OwnerID   string          `json:"owner_id" db:"owner_id"`
	Name      string          `json:"name" db:"name"`
	Kind      AccountKind     `json:"kind" db:"kind"`
	Currency  string          `json:"currency" db:"currency"`
	Status    string          `json:"status" db:"status"`
	Balance   decimal.Decimal `json:"balance" db:"balance"` // cached, materialized from ledger entries
	Version   int64           `json:"version" db:"version"` // for optimistic locking
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

func (a *Account) IsArchived() bool {
	return a.Status == StatusArchived
}

// EntryKind determines the sign an entry contributes to its account.
type EntryKind string

const (
	EntryIncome      EntryKind = "income"
	EntryExpense     EntryKind = "expense"
	EntryTransferOut EntryKind = "transfer_out"
	EntryTransferIn  EntryKind = "transfer_in"
)

// Sign returns +1 for credits and -1 for debits.
func (k EntryKind) Sign() int64 {
	switch k {
	case EntryIncome, EntryTransferIn:
		return 1
	case EntryExpense, EntryTransferOut:
		return -1
	}
	return 0
}

func (k EntryKind) IsTransfer() bool {
	return k == EntryTransferOut || k == EntryTransferIn
}

func (k EntryKind) Valid() bool {
	return k.Sign() != 0
}

// EntrySource records which write path produced an entry.
const (
	SourceManual       = "manual"
	SourceOpening      = "opening"
	SourceTransfer     = "transfer"
	SourceDebt         = "debt"
	SourceSubscription = "subscription"
)

type LedgerEntry struct {
	ID                   string          `json:"id" db:"id"`
	AccountID            string          `json:"account_id" db:"account_id"`
	Kind                 EntryKind       `json:"kind" db:"kind"`
	Amount               decimal.Decimal `json:"amount" db:"amount"` // always positive
	Date                 time.Time       `json:"date" db:"entry_date"`
	Seq                  int64           `json:"seq" db:"seq"`
	CounterpartAccountID string          `json:"counterpart_account_id,omitempty" db:"counterpart_account_id"`
	CorrelationID        string          `json:"correlation_id,omitempty" db:"correlation_id"`
	Memo                 string          `json:"memo,omitempty" db:"memo"`
	Source               string          `json:"source" db:"source"`
	SourceID             string          `json:"source_id,omitempty" db:"source_id"`
	Status               string          `json:"status" db:"status"`
	CreatedAt            time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at" db:"updated_at"`
}

// Effect is the signed contribution of the entry to its account balance.
func (e *LedgerEntry) Effect() decimal.Decimal {
	return e.Amount.Mul(decimal.NewFromInt(e.Kind.Sign()))
}

func (e *LedgerEntry) IsActive() bool {
	return e.Status == StatusActive
}
