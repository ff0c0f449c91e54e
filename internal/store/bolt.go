package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/ruralpay/fintrack/internal/models"
	bolt "go.etcd.io/bbolt"
)

// Bucket names.
const (
	BucketAccounts      = "accounts"
	BucketEntries       = "entries"
	BucketAccountIndex  = "account_entries"
	BucketCorrelations  = "correlations"
	BucketDebts         = "debts"
	BucketSubscriptions = "subscriptions"
)

// BoltStore keeps the ledger in a single bbolt file. bbolt serializes write
// transactions, so every Update is isolated from every other Update.
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt opens (or creates) the database file and initializes buckets.
func OpenBolt(path string, timeout time.Duration) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := []string{BucketAccounts, BucketEntries, BucketAccountIndex, BucketCorrelations, BucketDebts, BucketSubscriptions}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(bucket)); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) View(ctx context.Context, fn func(Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(tx *bolt.Tx) error {
		return fn(&boltTx{tx: tx})
	})
}

// Update runs fn in a write transaction. A context that expires before fn
// returns rolls the whole transaction back.
func (s *BoltStore) Update(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := fn(&boltTx{tx: tx}); err != nil {
			return err
		}
		return ctx.Err()
	})
}

type boltTx struct {
	tx *bolt.Tx
}

func (t *boltTx) get(bucket, key string, value any) error {
	data := t.tx.Bucket([]byte(bucket)).Get([]byte(key))
	if data == nil {
		return ErrNotFound
	}
	return json.Unmarshal(data, value)
}

func (t *boltTx) put(bucket, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return t.tx.Bucket([]byte(bucket)).Put([]byte(key), data)
}

func (t *boltTx) GetAccount(id string) (*models.Account, error) {
	var a models.Account
	if err := t.get(BucketAccounts, id, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (t *boltTx) ListAccounts() ([]models.Account, error) {
	var accounts []models.Account
	err := t.tx.Bucket([]byte(BucketAccounts)).ForEach(func(_, v []byte) error {
		var a models.Account
		if err := json.Unmarshal(v, &a); err != nil {
			return err
		}
		accounts = append(accounts, a)
		return nil
	})
	return accounts, err
}

func (t *boltTx) CreateAccount(a *models.Account) error {
	if t.tx.Bucket([]byte(BucketAccounts)).Get([]byte(a.ID)) != nil {
		return fmt.Errorf("account %s already exists", a.ID)
	}
	return t.put(BucketAccounts, a.ID, a)
}

func (t *boltTx) UpdateAccount(a *models.Account, expectedVersion int64) error {
	current, err := t.GetAccount(a.ID)
	if err != nil {
		return err
	}
	if current.Version != expectedVersion {
		return fmt.Errorf("account %s at version %d, expected %d: %w", a.ID, current.Version, expectedVersion, ErrVersionConflict)
	}
	a.Version = expectedVersion + 1
	return t.put(BucketAccounts, a.ID, a)
}

func (t *boltTx) GetEntry(id string) (*models.LedgerEntry, error) {
	var e models.LedgerEntry
	if err := t.get(BucketEntries, id, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (t *boltTx) ListEntries(accountID string) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	prefix := append([]byte(accountID), 0)
	c := t.tx.Bucket([]byte(BucketAccountIndex)).Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		e, err := t.GetEntry(string(v))
		if err != nil {
			return nil, fmt.Errorf("index points at entry %s: %w", v, err)
		}
		entries = append(entries, *e)
	}
	SortEntries(entries)
	return entries, nil
}

func (t *boltTx) ActiveEntries(accountID string) ([]models.LedgerEntry, error) {
	all, err := t.ListEntries(accountID)
	if err != nil {
		return nil, err
	}
	active := all[:0]
	for _, e := range all {
		if e.IsActive() {
			active = append(active, e)
		}
	}
	return active, nil
}

func (t *boltTx) EntriesByCorrelation(correlationID string) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	prefix := append([]byte(correlationID), 0)
	c := t.tx.Bucket([]byte(BucketCorrelations)).Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		e, err := t.GetEntry(string(k[len(prefix):]))
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	SortEntries(entries)
	return entries, nil
}

func (t *boltTx) InsertEntry(e *models.LedgerEntry) error {
	entries := t.tx.Bucket([]byte(BucketEntries))
	if entries.Get([]byte(e.ID)) != nil {
		return fmt.Errorf("entry %s already exists", e.ID)
	}
	seq, err := entries.NextSequence()
	if err != nil {
		return err
	}
	e.Seq = int64(seq)
	if err := t.put(BucketEntries, e.ID, e); err != nil {
		return err
	}
	if err := t.tx.Bucket([]byte(BucketAccountIndex)).Put(indexKey(e.AccountID, e.Seq), []byte(e.ID)); err != nil {
		return err
	}
	if e.CorrelationID != "" {
		key := append(append([]byte(e.CorrelationID), 0), e.ID...)
		return t.tx.Bucket([]byte(BucketCorrelations)).Put(key, nil)
	}
	return nil
}

func (t *boltTx) UpdateEntry(e *models.LedgerEntry) error {
	current, err := t.GetEntry(e.ID)
	if err != nil {
		return err
	}
	if current.AccountID != e.AccountID || current.Seq != e.Seq || current.CorrelationID != e.CorrelationID {
		return fmt.Errorf("entry %s: account, sequence and correlation are immutable", e.ID)
	}
	return t.put(BucketEntries, e.ID, e)
}

func (t *boltTx) DeleteEntry(id string) error {
	e, err := t.GetEntry(id)
	if err != nil {
		return err
	}
	if err := t.tx.Bucket([]byte(BucketAccountIndex)).Delete(indexKey(e.AccountID, e.Seq)); err != nil {
		return err
	}
	if e.CorrelationID != "" {
		key := append(append([]byte(e.CorrelationID), 0), e.ID...)
		if err := t.tx.Bucket([]byte(BucketCorrelations)).Delete(key); err != nil {
			return err
		}
	}
	return t.tx.Bucket([]byte(BucketEntries)).Delete([]byte(id))
}

func (t *boltTx) GetDebt(id string) (*models.Debt, error) {
	var d models.Debt
	if err := t.get(BucketDebts, id, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (t *boltTx) PutDebt(d *models.Debt) error {
	return t.put(BucketDebts, d.ID, d)
}

func (t *boltTx) GetSubscription(id string) (*models.Subscription, error) {
	var s models.Subscription
	if err := t.get(BucketSubscriptions, id, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (t *boltTx) ListSubscriptions() ([]models.Subscription, error) {
	var subs []models.Subscription
	err := t.tx.Bucket([]byte(BucketSubscriptions)).ForEach(func(_, v []byte) error {
		var s models.Subscription
		if err := json.Unmarshal(v, &s); err != nil {
			return err
		}
		subs = append(subs, s)
		return nil
	})
	return subs, err
}

func (t *boltTx) PutSubscription(s *models.Subscription) error {
	return t.put(BucketSubscriptions, s.ID, s)
}

// indexKey is accountID, a zero separator and the big-endian sequence, so a
// prefix scan visits one account's entries in insertion order.
func indexKey(accountID string, seq int64) []byte {
	key := make([]byte, 0, len(accountID)+9)
	key = append(key, accountID...)
	key = append(key, 0)
	return binary.BigEndian.AppendUint64(key, uint64(seq))
}

// SortEntries orders entries by date, breaking same-date ties by insertion order.
func SortEntries(entries []models.LedgerEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].Date.Equal(entries[j].Date) {
			return entries[i].Date.Before(entries[j].Date)
		}
		return entries[i].Seq < entries[j].Seq
	})
}
