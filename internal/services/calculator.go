package services

import (
	"errors"
	"fmt"

	"github.com/ruralpay/fintrack/internal/models"
	"github.com/ruralpay/fintrack/internal/store"
	"github.com/shopspring/decimal"
)

// Replay folds entries into a balance. Entries must already be ordered by
// (date, seq); archived entries contribute nothing.
func Replay(entries []models.LedgerEntry) decimal.Decimal {
	balance := decimal.Zero
	for i := range entries {
		if !entries[i].IsActive() {
			continue
		}
		balance = balance.Add(entries[i].Effect())
	}
	return balance
}

// CalculateBalance replays every active entry of the account. It only reads,
// so calling it twice without an intervening write gives the same answer.
//
// A transfer leg whose counterpart account no longer exists, or an entry of
// an unknown kind, yields ErrReplayFailure instead of a silently wrong sum.
func CalculateBalance(r store.Reader, accountID string) (decimal.Decimal, error) {
	if _, err := r.GetAccount(accountID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return decimal.Zero, accountErr(accountID, ErrAccountNotFound)
		}
		return decimal.Zero, err
	}

	entries, err := r.ActiveEntries(accountID)
	if err != nil {
		return decimal.Zero, err
	}

	checked := make(map[string]bool)
	for _, e := range entries {
		if !e.Kind.Valid() {
			return decimal.Zero, fmt.Errorf("%w: entry %s has kind %q", ErrReplayFailure, e.ID, e.Kind)
		}
		if !e.Kind.IsTransfer() || checked[e.CounterpartAccountID] {
			continue
		}
		if e.CounterpartAccountID == "" {
			return decimal.Zero, fmt.Errorf("%w: transfer entry %s has no counterpart", ErrReplayFailure, e.ID)
		}
		if _, err := r.GetAccount(e.CounterpartAccountID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return decimal.Zero, fmt.Errorf("%w: entry %s references missing account %s", ErrReplayFailure, e.ID, e.CounterpartAccountID)
			}
			return decimal.Zero, err
		}
		checked[e.CounterpartAccountID] = true
	}

	return Replay(entries), nil
}
