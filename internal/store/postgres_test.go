package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/ruralpay/fintrack/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(db), mock
}

func accountRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "owner_id", "name", "kind", "currency", "status", "balance", "version", "created_at", "updated_at"})
}

func TestPostgresStore_Migrate(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS accounts").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, st.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetAccount(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	t.Run("reads lock the row inside Update", func(t *testing.T) {
		st, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT .* FROM accounts WHERE id = \$1 FOR UPDATE`).
			WithArgs("acc-1").
			WillReturnRows(accountRows().AddRow("acc-1", "user-1", "Wallet", "ordinary", "NGN", "active", "1250.50", 3, now, now))
		mock.ExpectCommit()

		var got *models.Account
		err := st.Update(context.Background(), func(tx Tx) error {
			var err error
			got, err = tx.GetAccount("acc-1")
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, models.AccountKindOrdinary, got.Kind)
		assert.True(t, got.Balance.Equal(decimal.RequireFromString("1250.50")))
		assert.Equal(t, int64(3), got.Version)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing row is ErrNotFound", func(t *testing.T) {
		st, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT .* FROM accounts WHERE id = \$1$`).
			WithArgs("ghost").
			WillReturnRows(accountRows())
		mock.ExpectRollback()

		err := st.View(context.Background(), func(r Reader) error {
			_, err := r.GetAccount("ghost")
			return err
		})
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresStore_UpdateAccount(t *testing.T) {
	a := &models.Account{ID: "acc-1", Name: "Wallet", Status: models.StatusActive, Balance: decimal.NewFromInt(40)}

	t.Run("bumps the version", func(t *testing.T) {
		st, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE accounts").
			WithArgs("Wallet", "active", sqlmock.AnyArg(), sqlmock.AnyArg(), "acc-1", int64(7)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := st.Update(context.Background(), func(tx Tx) error {
			return tx.UpdateAccount(a, 7)
		})
		require.NoError(t, err)
		assert.Equal(t, int64(8), a.Version)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stale version is a conflict", func(t *testing.T) {
		st, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE accounts").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err := st.Update(context.Background(), func(tx Tx) error {
			return tx.UpdateAccount(a, 2)
		})
		assert.ErrorIs(t, err, ErrVersionConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresStore_ContentionIsAConflict(t *testing.T) {
	for _, code := range []pq.ErrorCode{"40001", "40P01", "55P03"} {
		t.Run(string(code), func(t *testing.T) {
			st, mock := newMockStore(t)
			mock.ExpectBegin()
			mock.ExpectQuery("SELECT .* FROM accounts").WillReturnError(&pq.Error{Code: code, Message: "could not serialize access"})
			mock.ExpectRollback()

			err := st.Update(context.Background(), func(tx Tx) error {
				_, err := tx.GetAccount("acc-1")
				return err
			})
			assert.ErrorIs(t, err, ErrVersionConflict)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresStore_InsertEntry(t *testing.T) {
	st, mock := newMockStore(t)
	e := &models.LedgerEntry{
		ID:        "e-1",
		AccountID: "acc-1",
		Kind:      models.EntryExpense,
		Amount:    decimal.NewFromInt(25),
		Date:      time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		Source:    models.SourceManual,
		Status:    models.StatusActive,
	}

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO ledger_entries").
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(42))
	mock.ExpectCommit()

	err := st.Update(context.Background(), func(tx Tx) error {
		return tx.InsertEntry(e)
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), e.Seq)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteMissingEntry(t *testing.T) {
	st, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM ledger_entries").WithArgs("e-9").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := st.Update(context.Background(), func(tx Tx) error {
		return tx.DeleteEntry("e-9")
	})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Debts(t *testing.T) {
	st, mock := newMockStore(t)
	debt := &models.Debt{ID: "d-1", OwnerID: "user-1", Name: "Car", CurrentAmount: decimal.NewFromInt(900)}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO debts").
		WithArgs("d-1", "user-1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT data FROM debts WHERE id = \$1 FOR UPDATE`).
		WithArgs("d-1").
		WillReturnRows(sqlmock.NewRows([]string{"data"}).AddRow([]byte(`{"id":"d-1","name":"Car","current_amount":"900"}`)))
	mock.ExpectCommit()

	var got *models.Debt
	err := st.Update(context.Background(), func(tx Tx) error {
		if err := tx.PutDebt(debt); err != nil {
			return err
		}
		var err error
		got, err = tx.GetDebt("d-1")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, "Car", got.Name)
	assert.True(t, got.CurrentAmount.Equal(decimal.NewFromInt(900)))
	assert.NoError(t, mock.ExpectationsWereMet())
}
