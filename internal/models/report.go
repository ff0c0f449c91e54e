package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Mismatch is an account whose cached balance drifted from its ledger replay.
// Delta is cached minus calculated.
type Mismatch struct {
	AccountID  string          `json:"account_id"`
	Cached     decimal.Decimal `json:"cached"`
	Calculated decimal.Decimal `json:"calculated"`
	Delta      decimal.Decimal `json:"delta"`
}

type ReplayFailure struct {
	AccountID string `json:"account_id"`
	Error     string `json:"error"`
}

type CheckReport struct {
	CheckedAt  time.Time       `json:"checked_at"`
	Checked    int             `json:"checked"`
	Mismatches []Mismatch      `json:"mismatches"`
	Failures   []ReplayFailure `json:"failures,omitempty"`
}

type Correction struct {
	AccountID string          `json:"account_id"`
	Before    decimal.Decimal `json:"before"`
	After     decimal.Decimal `json:"after"`
}

type ReconcileReport struct {
	ReconciledAt time.Time       `json:"reconciled_at"`
	Corrected    []Correction    `json:"corrected"`
	Unchanged    []string        `json:"unchanged"`
	Failures     []ReplayFailure `json:"failures,omitempty"`
}

type BalanceSnapshot struct {
	AccountID string          `json:"account_id"`
	OwnerID   string          `json:"owner_id"`
	Currency  string          `json:"currency"`
	Status    string          `json:"status"`
	Balance   decimal.Decimal `json:"balance"`
	Version   int64           `json:"version"`
}

type Snapshot struct {
	TakenAt  time.Time         `json:"taken_at"`
	Accounts []BalanceSnapshot `json:"accounts"`
}
