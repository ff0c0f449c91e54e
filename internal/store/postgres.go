package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/ruralpay/fintrack/internal/models"
)

//go:embed schema.sql
var schemaSQL string

const accountColumns = "id, owner_id, name, kind, currency, status, balance, version, created_at, updated_at"

const entryColumns = "id, seq, account_id, kind, amount, entry_date, counterpart_account_id, correlation_id, memo, source, source_id, status, created_at, updated_at"

// PostgresStore is the production store. Write transactions lock every
// account row they read (SELECT ... FOR UPDATE) and additionally guard balance
// writes with the version column.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("error applying schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) View(ctx context.Context, fn func(Reader) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(err)
	}
	defer tx.Rollback()

	if err := fn(&pgTx{ctx: ctx, tx: tx}); err != nil {
		return err
	}
	return mapError(tx.Commit())
}

func (s *PostgresStore) Update(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(err)
	}
	defer tx.Rollback()

	if err := fn(&pgTx{ctx: ctx, tx: tx, writable: true}); err != nil {
		return mapError(err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return mapError(tx.Commit())
}

// mapError turns Postgres contention aborts into ErrVersionConflict so the
// caller's retry loop treats them like a failed compare-and-swap.
func mapError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01", "55P03": // serialization_failure, deadlock_detected, lock_not_available
			return fmt.Errorf("%s: %w", pqErr.Message, ErrVersionConflict)
		}
	}
	return err
}

type pgTx struct {
	ctx      context.Context
	tx       *sql.Tx
	writable bool
}

func (t *pgTx) lockClause() string {
	if t.writable {
		return " FOR UPDATE"
	}
	return ""
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*models.Account, error) {
	var a models.Account
	err := row.Scan(&a.ID, &a.OwnerID, &a.Name, &a.Kind, &a.Currency, &a.Status, &a.Balance, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func scanEntry(row rowScanner) (*models.LedgerEntry, error) {
	var e models.LedgerEntry
	err := row.Scan(&e.ID, &e.Seq, &e.AccountID, &e.Kind, &e.Amount, &e.Date, &e.CounterpartAccountID,
		&e.CorrelationID, &e.Memo, &e.Source, &e.SourceID, &e.Status, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (t *pgTx) GetAccount(id string) (*models.Account, error) {
	row := t.tx.QueryRowContext(t.ctx, "SELECT "+accountColumns+" FROM accounts WHERE id = $1"+t.lockClause(), id)
	return scanAccount(row)
}

func (t *pgTx) ListAccounts() ([]models.Account, error) {
	rows, err := t.tx.QueryContext(t.ctx, "SELECT "+accountColumns+" FROM accounts ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

func (t *pgTx) CreateAccount(a *models.Account) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO accounts (id, owner_id, name, kind, currency, status, balance, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.OwnerID, a.Name, a.Kind, a.Currency, a.Status, a.Balance, a.Version, a.CreatedAt, a.UpdatedAt)
	return err
}

func (t *pgTx) UpdateAccount(a *models.Account, expectedVersion int64) error {
	result, err := t.tx.ExecContext(t.ctx, `
		UPDATE accounts
		SET name = $1, status = $2, balance = $3, version = version + 1, updated_at = $4
		WHERE id = $5 AND version = $6`,
		a.Name, a.Status, a.Balance, a.UpdatedAt, a.ID, expectedVersion)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("optimistic lock failed for account %s: %w", a.ID, ErrVersionConflict)
	}

	a.Version = expectedVersion + 1
	return nil
}

func (t *pgTx) GetEntry(id string) (*models.LedgerEntry, error) {
	row := t.tx.QueryRowContext(t.ctx, "SELECT "+entryColumns+" FROM ledger_entries WHERE id = $1", id)
	return scanEntry(row)
}

func (t *pgTx) queryEntries(query string, args ...any) ([]models.LedgerEntry, error) {
	rows, err := t.tx.QueryContext(t.ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func (t *pgTx) ListEntries(accountID string) ([]models.LedgerEntry, error) {
	return t.queryEntries("SELECT "+entryColumns+" FROM ledger_entries WHERE account_id = $1 ORDER BY entry_date, seq", accountID)
}

func (t *pgTx) ActiveEntries(accountID string) ([]models.LedgerEntry, error) {
	return t.queryEntries("SELECT "+entryColumns+" FROM ledger_entries WHERE account_id = $1 AND status = 'active' ORDER BY entry_date, seq", accountID)
}

func (t *pgTx) EntriesByCorrelation(correlationID string) ([]models.LedgerEntry, error) {
	return t.queryEntries("SELECT "+entryColumns+" FROM ledger_entries WHERE correlation_id = $1 ORDER BY entry_date, seq", correlationID)
}

func (t *pgTx) InsertEntry(e *models.LedgerEntry) error {
	return t.tx.QueryRowContext(t.ctx, `
		INSERT INTO ledger_entries (id, account_id, kind, amount, entry_date, counterpart_account_id, correlation_id, memo, source, source_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING seq`,
		e.ID, e.AccountID, e.Kind, e.Amount, e.Date, e.CounterpartAccountID, e.CorrelationID, e.Memo,
		e.Source, e.SourceID, e.Status, e.CreatedAt, e.UpdatedAt).Scan(&e.Seq)
}

func (t *pgTx) UpdateEntry(e *models.LedgerEntry) error {
	result, err := t.tx.ExecContext(t.ctx, `
		UPDATE ledger_entries
		SET amount = $1, entry_date = $2, memo = $3, status = $4, updated_at = $5
		WHERE id = $6`,
		e.Amount, e.Date, e.Memo, e.Status, e.UpdatedAt, e.ID)
	if err != nil {
		return err
	}
	return expectOneRow(result)
}

func (t *pgTx) DeleteEntry(id string) error {
	result, err := t.tx.ExecContext(t.ctx, "DELETE FROM ledger_entries WHERE id = $1", id)
	if err != nil {
		return err
	}
	return expectOneRow(result)
}

func (t *pgTx) getDocument(table, id string, value any) error {
	var data []byte
	err := t.tx.QueryRowContext(t.ctx, "SELECT data FROM "+table+" WHERE id = $1"+t.lockClause(), id).Scan(&data)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, value)
}

func (t *pgTx) putDocument(table, id, ownerID string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", table, err)
	}
	_, err = t.tx.ExecContext(t.ctx, `
		INSERT INTO `+table+` (id, owner_id, data, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		id, ownerID, data, time.Now())
	return err
}

func (t *pgTx) GetDebt(id string) (*models.Debt, error) {
	var d models.Debt
	if err := t.getDocument("debts", id, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (t *pgTx) PutDebt(d *models.Debt) error {
	return t.putDocument("debts", d.ID, d.OwnerID, d)
}

func (t *pgTx) GetSubscription(id string) (*models.Subscription, error) {
	var s models.Subscription
	if err := t.getDocument("subscriptions", id, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (t *pgTx) ListSubscriptions() ([]models.Subscription, error) {
	rows, err := t.tx.QueryContext(t.ctx, "SELECT data FROM subscriptions ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []models.Subscription
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var s models.Subscription
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

func (t *pgTx) PutSubscription(s *models.Subscription) error {
	return t.putDocument("subscriptions", s.ID, s.OwnerID, s)
}

func expectOneRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
