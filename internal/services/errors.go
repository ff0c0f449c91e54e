package services

import (
	"errors"
	"fmt"
)

var (
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrAccountArchived        = errors.New("account archived")
	ErrAccountNotFound        = errors.New("account not found")
	ErrSameAccount            = errors.New("source and destination account are the same")
	ErrInvalidAmount          = errors.New("amount must be positive")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrReplayFailure          = errors.New("ledger replay failed")
	ErrCurrencyMismatch       = errors.New("accounts use different currencies")

	ErrEntryNotFound        = errors.New("ledger entry not found")
	ErrInvalidEntryKind     = errors.New("invalid entry kind")
	ErrDebtNotFound         = errors.New("debt not found")
	ErrDebtPaid             = errors.New("debt already paid")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrSubscriptionInactive = errors.New("subscription not active")
)

// AccountError ties a precondition failure to the account that caused it.
type AccountError struct {
	AccountID string
	Err       error
}

func (e *AccountError) Error() string {
	return fmt.Sprintf("account %s: %v", e.AccountID, e.Err)
}

func (e *AccountError) Unwrap() error {
	return e.Err
}

func accountErr(accountID string, err error) error {
	return &AccountError{AccountID: accountID, Err: err}
}

// IsPrecondition reports whether err is a caller mistake that must not be retried.
func IsPrecondition(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrAccountArchived) ||
		errors.Is(err, ErrSameAccount) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidEntryKind) ||
		errors.Is(err, ErrCurrencyMismatch) ||
		errors.Is(err, ErrDebtPaid) ||
		errors.Is(err, ErrSubscriptionInactive)
}
