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
	"github.com/ruralpay/fintrack/internal/metrics"
	"github.com/ruralpay/fintrack/internal/models"
	"github.com/ruralpay/fintrack/internal/store"
	"github.com/shopspring/decimal"
)

// Auditor receives the audit trail of every ledger mutation.
type Auditor interface {
	LogEntry(entryID, accountID, kind string, amount decimal.Decimal, status string)
	LogTransfer(correlationID, fromAccount, toAccount string, amount decimal.Decimal, status string)
	LogError(reference, accountID string, err error)
	LogOperation(reference, accountID, operation, details string)
	LogCorrection(accountID string, before, after decimal.Decimal)
}

type LedgerConfig struct {
	MaxRetries       int
	RetryBackoff     time.Duration
	OperationTimeout time.Duration
}

func DefaultLedgerConfig() LedgerConfig {
	return LedgerConfig{
		MaxRetries:       5,
		RetryBackoff:     5 * time.Millisecond,
		OperationTimeout: 10 * time.Second,
	}
}

// LedgerService is the single writer of account balances. Every path that
// changes money (entries, transfers, debt and subscription payments) goes
// through it, and each call writes its entries and the affected cached
// balances in one store transaction.
type LedgerService struct {
	store  store.Store
	locker lock.Locker
	audit  Auditor
	cfg    LedgerConfig
	now    func() time.Time
	newID  func() string
}

func NewLedgerService(st store.Store, locker lock.Locker, audit Auditor, cfg LedgerConfig) *LedgerService {
	return &LedgerService{
		store:  st,
		locker: locker,
		audit:  audit,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
}

type NewAccount struct {
	OwnerID        string
	Name           string
	Kind           models.AccountKind
	Currency       string
	InitialBalance decimal.Decimal
	Date           time.Time
}

type SingleRequest struct {
	AccountID string
	Kind      models.EntryKind // income or expense
	Amount    decimal.Decimal
	Memo      string
	Date      time.Time
	Source    string
	SourceID  string
}

type SingleResult struct {
	Entry   models.LedgerEntry `json:"entry"`
	Balance decimal.Decimal    `json:"balance"`
}

type TransferRequest struct {
	FromAccountID string
	ToAccountID   string
	Amount        decimal.Decimal
	Memo          string
	Date          time.Time
}

type TransferResult struct {
	CorrelationID string             `json:"correlation_id"`
	Out           models.LedgerEntry `json:"out_entry"`
	In            models.LedgerEntry `json:"in_entry"`
	FromBalance   decimal.Decimal    `json:"from_balance"`
	ToBalance     decimal.Decimal    `json:"to_balance"`
}

// AmendRequest carries the corrected fields; nil fields are left unchanged.
type AmendRequest struct {
	Amount *decimal.Decimal
	Memo   *string
	Date   *time.Time
}

// Balances maps account id to the cached balance after an operation.
type Balances map[string]decimal.Decimal

// entryHook runs inside the mutation's store transaction after the entry was
// staged. Returning an error aborts the whole operation.
type entryHook func(tx store.Tx, entry *models.LedgerEntry) error

// mutation stages balance deltas for the accounts locked by one operation and
// writes them with a version check when the operation finishes.
type mutation struct {
	tx       store.Tx
	now      time.Time
	allowed  map[string]bool
	accounts map[string]*models.Account
	versions map[string]int64
	deltas   map[string]decimal.Decimal
}

func newMutation(tx store.Tx, accountIDs []string, now time.Time) *mutation {
	m := &mutation{
		tx:       tx,
		now:      now,
		allowed:  make(map[string]bool, len(accountIDs)),
		accounts: make(map[string]*models.Account),
		versions: make(map[string]int64),
		deltas:   make(map[string]decimal.Decimal),
	}
	for _, id := range accountIDs {
		m.allowed[id] = true
	}
	return m
}

// account loads an active account that this operation holds the lock for.
func (m *mutation) account(id string) (*models.Account, error) {
	if a, ok := m.accounts[id]; ok {
		return a, nil
	}
	if !m.allowed[id] {
		return nil, fmt.Errorf("account %s is not locked by this operation", id)
	}

	a, err := m.tx.GetAccount(id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, accountErr(id, ErrAccountNotFound)
	}
	if err != nil {
		return nil, err
	}
	if a.IsArchived() {
		return nil, accountErr(id, ErrAccountArchived)
	}

	m.accounts[id] = a
	m.versions[id] = a.Version
	return a, nil
}

func (m *mutation) adjust(accountID string, delta decimal.Decimal) error {
	if _, err := m.account(accountID); err != nil {
		return err
	}
	m.deltas[accountID] = m.deltas[accountID].Add(delta)
	return nil
}

func (m *mutation) apply(e *models.LedgerEntry) error {
	return m.adjust(e.AccountID, e.Effect())
}

func (m *mutation) retract(e *models.LedgerEntry) error {
	return m.adjust(e.AccountID, e.Effect().Neg())
}

// commit checks funds on every touched account before writing any of them.
// A non-credit account may not be pushed below zero by an operation that
// lowers its balance.
func (m *mutation) commit() (Balances, error) {
	ids := make([]string, 0, len(m.deltas))
	for id := range m.deltas {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		a, delta := m.accounts[id], m.deltas[id]
		next := a.Balance.Add(delta)
		if delta.IsNegative() && next.IsNegative() && !a.Kind.AllowsNegative() {
			return nil, accountErr(id, ErrInsufficientFunds)
		}
	}

	for _, id := range ids {
		a := m.accounts[id]
		if m.deltas[id].IsZero() {
			continue
		}
		a.Balance = a.Balance.Add(m.deltas[id])
		a.UpdatedAt = m.now
		if err := m.tx.UpdateAccount(a, m.versions[id]); err != nil {
			return nil, err
		}
	}

	balances := make(Balances, len(m.accounts))
	for id, a := range m.accounts {
		balances[id] = a.Balance
	}
	return balances, nil
}

// execute locks the accounts, runs fn in a store transaction and commits the
// staged balances. Version conflicts are retried with exponential backoff.
func (s *LedgerService) execute(ctx context.Context, op string, accountIDs []string, fn func(m *mutation) error) (*mutation, Balances, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.cfg.OperationTimeout)
	defer cancel()

	var (
		m        *mutation
		balances Balances
	)
	err := s.withAccountLocks(ctx, accountIDs, func() error {
		backoff := s.cfg.RetryBackoff
		for attempt := 0; ; attempt++ {
			err := s.store.Update(ctx, func(tx store.Tx) error {
				m = newMutation(tx, accountIDs, s.now())
				if err := fn(m); err != nil {
					return err
				}
				var err error
				balances, err = m.commit()
				return err
			})
			if !errors.Is(err, store.ErrVersionConflict) {
				return err
			}
			if attempt >= s.cfg.MaxRetries {
				return fmt.Errorf("%w: gave up after %d attempts: %v", ErrConcurrentModification, attempt+1, err)
			}

			metrics.MutationRetries.Inc()
			log.Printf("[LEDGER] %s: version conflict, retrying (attempt %d)", op, attempt+1)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrConcurrentModification, ctx.Err())
			}
			backoff *= 2
		}
	})

	metrics.MutationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	metrics.MutationsTotal.WithLabelValues(op, resultLabel(err)).Inc()
	if err != nil {
		return nil, nil, err
	}
	return m, balances, nil
}

func (s *LedgerService) withAccountLocks(ctx context.Context, accountIDs []string, fn func() error) error {
	keys := make([]string, len(accountIDs))
	for i, id := range accountIDs {
		keys[i] = lock.AccountKey(id)
	}

	release, err := s.locker.Lock(ctx, keys...)
	if err != nil {
		if errors.Is(err, lock.ErrLockTimeout) {
			return fmt.Errorf("%w: %v", ErrConcurrentModification, err)
		}
		return err
	}
	defer release()

	return fn()
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case IsPrecondition(err):
		return "rejected"
	case errors.Is(err, ErrConcurrentModification):
		return "conflict"
	default:
		return "error"
	}
}

// CreateAccount stores a new account and, for a non-zero initial balance, the
// opening entry that explains it.
func (s *LedgerService) CreateAccount(ctx context.Context, req NewAccount) (*models.Account, error) {
	if req.InitialBalance.IsNegative() && !req.Kind.AllowsNegative() {
		return nil, ErrInvalidAmount
	}

	id := s.newID()
	m, _, err := s.execute(ctx, "create_account", []string{id}, func(m *mutation) error {
		account := &models.Account{
			ID:        id,
			OwnerID:   req.OwnerID,
			Name:      req.Name,
			Kind:      req.Kind,
			Currency:  req.Currency,
			Status:    models.StatusActive,
			Balance:   decimal.Zero,
			CreatedAt: m.now,
			UpdatedAt: m.now,
		}
		if err := m.tx.CreateAccount(account); err != nil {
			return err
		}
		if req.InitialBalance.IsZero() {
			return nil
		}

		kind := models.EntryIncome
		if req.InitialBalance.IsNegative() {
			kind = models.EntryExpense
		}
		entry := s.newEntry(m.now, id, kind, req.InitialBalance.Abs(), req.Date, "Opening balance")
		entry.Source = models.SourceOpening
		if err := m.tx.InsertEntry(entry); err != nil {
			return err
		}
		return m.apply(entry)
	})
	if err != nil {
		s.audit.LogError(id, id, err)
		return nil, err
	}

	account := *m.accounts[id]
	s.audit.LogOperation(id, id, "ACCOUNT_CREATED", fmt.Sprintf("opening balance %s %s", req.InitialBalance, req.Currency))
	return &account, nil
}

// ArchiveAccount freezes an account. Its balance stays consistent but every
// later mutation is rejected with ErrAccountArchived.
func (s *LedgerService) ArchiveAccount(ctx context.Context, accountID string) (*models.Account, error) {
	return s.setAccountStatus(ctx, accountID, models.StatusArchived)
}

// RestoreAccount re-enables mutation without touching the balance.
func (s *LedgerService) RestoreAccount(ctx context.Context, accountID string) (*models.Account, error) {
	return s.setAccountStatus(ctx, accountID, models.StatusActive)
}

func (s *LedgerService) setAccountStatus(ctx context.Context, accountID, status string) (*models.Account, error) {
	var account *models.Account
	_, _, err := s.execute(ctx, "account_status", []string{accountID}, func(m *mutation) error {
		a, err := m.tx.GetAccount(accountID)
		if errors.Is(err, store.ErrNotFound) {
			return accountErr(accountID, ErrAccountNotFound)
		}
		if err != nil {
			return err
		}
		if a.Status == status {
			account = a
			return nil
		}
		version := a.Version
		a.Status = status
		a.UpdatedAt = m.now
		if err := m.tx.UpdateAccount(a, version); err != nil {
			return err
		}
		account = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit.LogOperation(accountID, accountID, "ACCOUNT_STATUS", status)
	return account, nil
}

func (s *LedgerService) newEntry(now time.Time, accountID string, kind models.EntryKind, amount decimal.Decimal, date time.Time, memo string) *models.LedgerEntry {
	if date.IsZero() {
		date = now
	}
	return &models.LedgerEntry{
		ID:        s.newID(),
		AccountID: accountID,
		Kind:      kind,
		Amount:    amount,
		Date:      date.UTC(),
		Memo:      memo,
		Source:    models.SourceManual,
		Status:    models.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ApplySingle records an income or expense on one account and returns the
// account's new cached balance.
func (s *LedgerService) ApplySingle(ctx context.Context, req SingleRequest) (*SingleResult, error) {
	return s.applySingle(ctx, req, nil)
}

func (s *LedgerService) applySingle(ctx context.Context, req SingleRequest, hook entryHook) (*SingleResult, error) {
	if req.Kind != models.EntryIncome && req.Kind != models.EntryExpense {
		return nil, ErrInvalidEntryKind
	}
	if !req.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	var entry *models.LedgerEntry
	_, balances, err := s.execute(ctx, "apply_"+string(req.Kind), []string{req.AccountID}, func(m *mutation) error {
		if _, err := m.account(req.AccountID); err != nil {
			return err
		}

		entry = s.newEntry(m.now, req.AccountID, req.Kind, req.Amount, req.Date, req.Memo)
		if req.Source != "" {
			entry.Source = req.Source
			entry.SourceID = req.SourceID
		}
		if err := m.tx.InsertEntry(entry); err != nil {
			return err
		}
		if err := m.apply(entry); err != nil {
			return err
		}
		if hook != nil {
			return hook(m.tx, entry)
		}
		return nil
	})
	if err != nil {
		s.audit.LogError(req.SourceID, req.AccountID, err)
		return nil, err
	}

	s.audit.LogEntry(entry.ID, entry.AccountID, string(entry.Kind), entry.Amount, "SUCCESS")
	return &SingleResult{Entry: *entry, Balance: balances[req.AccountID]}, nil
}

// ApplyTransfer moves money between two accounts as a correlated
// transfer_out/transfer_in pair. Both entries and both balances commit
// together or not at all.
func (s *LedgerService) ApplyTransfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	if req.FromAccountID == req.ToAccountID {
		return nil, ErrSameAccount
	}
	if !req.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	correlationID := s.newID()
	var out, in *models.LedgerEntry
	_, balances, err := s.execute(ctx, "transfer", []string{req.FromAccountID, req.ToAccountID}, func(m *mutation) error {
		from, err := m.account(req.FromAccountID)
		if err != nil {
			return err
		}
		to, err := m.account(req.ToAccountID)
		if err != nil {
			return err
		}
		if from.Currency != to.Currency {
			return fmt.Errorf("%w: %s to %s", ErrCurrencyMismatch, from.Currency, to.Currency)
		}

		out = s.newEntry(m.now, from.ID, models.EntryTransferOut, req.Amount, req.Date, req.Memo)
		in = s.newEntry(m.now, to.ID, models.EntryTransferIn, req.Amount, req.Date, req.Memo)
		for _, pair := range [][2]*models.LedgerEntry{{out, in}, {in, out}} {
			e, other := pair[0], pair[1]
			e.CounterpartAccountID = other.AccountID
			e.CorrelationID = correlationID
			e.Source = models.SourceTransfer
			if err := m.tx.InsertEntry(e); err != nil {
				return err
			}
			if err := m.apply(e); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.audit.LogTransfer(correlationID, req.FromAccountID, req.ToAccountID, req.Amount, "FAILED")
		s.audit.LogError(correlationID, req.FromAccountID, err)
		return nil, err
	}

	s.audit.LogTransfer(correlationID, req.FromAccountID, req.ToAccountID, req.Amount, "SUCCESS")
	return &TransferResult{
		CorrelationID: correlationID,
		Out:           *out,
		In:            *in,
		FromBalance:   balances[req.FromAccountID],
		ToBalance:     balances[req.ToAccountID],
	}, nil
}

// entryLegs returns the entry and, for a transfer, its correlated counterpart.
func entryLegs(r store.Reader, entryID string) ([]models.LedgerEntry, error) {
	e, err := r.GetEntry(entryID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, entryID)
	}
	if err != nil {
		return nil, err
	}
	if e.CorrelationID == "" {
		return []models.LedgerEntry{*e}, nil
	}
	return r.EntriesByCorrelation(e.CorrelationID)
}

// mutateEntry locks every account touched by the entry (both legs of a
// transfer) and runs fn once per leg inside one transaction.
func (s *LedgerService) mutateEntry(ctx context.Context, op, entryID string, fn func(m *mutation, leg *models.LedgerEntry) error) (Balances, error) {
	var accountIDs []string
	err := s.store.View(ctx, func(r store.Reader) error {
		legs, err := entryLegs(r, entryID)
		if err != nil {
			return err
		}
		for _, leg := range legs {
			accountIDs = append(accountIDs, leg.AccountID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	_, balances, err := s.execute(ctx, op, accountIDs, func(m *mutation) error {
		legs, err := entryLegs(m.tx, entryID)
		if err != nil {
			return err
		}
		for i := range legs {
			if err := fn(m, &legs[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.audit.LogError(entryID, "", err)
		return nil, err
	}

	s.audit.LogOperation(entryID, "", op, "")
	return balances, nil
}

// Retract deletes an entry (both legs of a transfer) and takes its effect off
// the cached balances.
func (s *LedgerService) Retract(ctx context.Context, entryID string) (Balances, error) {
	return s.mutateEntry(ctx, "retract", entryID, func(m *mutation, leg *models.LedgerEntry) error {
		if _, err := m.account(leg.AccountID); err != nil {
			return err
		}
		if leg.IsActive() {
			if err := m.retract(leg); err != nil {
				return err
			}
		}
		return m.tx.DeleteEntry(leg.ID)
	})
}

// Amend corrects amount, memo or date. The old effect is retracted and the
// new one applied, so the balance is re-derived rather than patched.
func (s *LedgerService) Amend(ctx context.Context, entryID string, req AmendRequest) (Balances, error) {
	if req.Amount != nil && !req.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	return s.mutateEntry(ctx, "amend", entryID, func(m *mutation, leg *models.LedgerEntry) error {
		if _, err := m.account(leg.AccountID); err != nil {
			return err
		}
		if leg.IsActive() {
			if err := m.retract(leg); err != nil {
				return err
			}
		}

		if req.Amount != nil {
			leg.Amount = *req.Amount
		}
		if req.Memo != nil {
			leg.Memo = *req.Memo
		}
		if req.Date != nil {
			leg.Date = req.Date.UTC()
		}
		leg.UpdatedAt = m.now

		if leg.IsActive() {
			if err := m.apply(leg); err != nil {
				return err
			}
		}
		return m.tx.UpdateEntry(leg)
	})
}

// ArchiveEntry removes an entry from balance computation without deleting it.
func (s *LedgerService) ArchiveEntry(ctx context.Context, entryID string) (Balances, error) {
	return s.setEntryStatus(ctx, entryID, models.StatusArchived)
}

// RestoreEntry puts an archived entry back into balance computation. Restoring
// an expense is funds-checked like a new one.
func (s *LedgerService) RestoreEntry(ctx context.Context, entryID string) (Balances, error) {
	return s.setEntryStatus(ctx, entryID, models.StatusActive)
}

func (s *LedgerService) setEntryStatus(ctx context.Context, entryID, status string) (Balances, error) {
	return s.mutateEntry(ctx, "entry_"+status, entryID, func(m *mutation, leg *models.LedgerEntry) error {
		if _, err := m.account(leg.AccountID); err != nil {
			return err
		}
		if leg.Status == status {
			return nil
		}

		var err error
		if status == models.StatusArchived {
			err = m.retract(leg)
		} else {
			err = m.apply(leg)
		}
		if err != nil {
			return err
		}

		leg.Status = status
		leg.UpdatedAt = m.now
		return m.tx.UpdateEntry(leg)
	})
}

func (s *LedgerService) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	var account *models.Account
	err := s.store.View(ctx, func(r store.Reader) error {
		a, err := r.GetAccount(accountID)
		if errors.Is(err, store.ErrNotFound) {
			return accountErr(accountID, ErrAccountNotFound)
		}
		account = a
		return err
	})
	return account, err
}

func (s *LedgerService) GetEntry(ctx context.Context, entryID string) (*models.LedgerEntry, error) {
	var entry *models.LedgerEntry
	err := s.store.View(ctx, func(r store.Reader) error {
		e, err := r.GetEntry(entryID)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrEntryNotFound, entryID)
		}
		entry = e
		return err
	})
	return entry, err
}

// ListEntries returns the account's history, archived entries included.
func (s *LedgerService) ListEntries(ctx context.Context, accountID string) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	err := s.store.View(ctx, func(r store.Reader) error {
		if _, err := r.GetAccount(accountID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return accountErr(accountID, ErrAccountNotFound)
			}
			return err
		}
		var err error
		entries, err = r.ListEntries(accountID)
		return err
	})
	return entries, err
}

// Calculate replays the account's ledger without touching the cache.
func (s *LedgerService) Calculate(ctx context.Context, accountID string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := s.store.View(ctx, func(r store.Reader) error {
		var err error
		balance, err = CalculateBalance(r, accountID)
		return err
	})
	return balance, err
}

// Snapshot dumps every account's cached balance for diagnostics.
func (s *LedgerService) Snapshot(ctx context.Context) (*models.Snapshot, error) {
	snap := &models.Snapshot{TakenAt: s.now()}
	err := s.store.View(ctx, func(r store.Reader) error {
		accounts, err := r.ListAccounts()
		if err != nil {
			return err
		}
		snap.Accounts = make([]models.BalanceSnapshot, 0, len(accounts))
		for _, a := range accounts {
			snap.Accounts = append(snap.Accounts, models.BalanceSnapshot{
				AccountID: a.ID,
				OwnerID:   a.OwnerID,
				Currency:  a.Currency,
				Status:    a.Status,
				Balance:   a.Balance,
				Version:   a.Version,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(snap.Accounts, func(i, j int) bool { return snap.Accounts[i].AccountID < snap.Accounts[j].AccountID })
	return snap, nil
}
