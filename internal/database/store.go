package database

import (
	"context"
	"fmt"
	"log"

	"github.com/ruralpay/fintrack/internal/config"
	"github.com/ruralpay/fintrack/internal/store"
)

// OpenStore returns the ledger store selected by cfg.Driver. The Postgres
// schema is applied on open.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case config.StoreBolt:
		st, err := store.OpenBolt(cfg.BoltPath, cfg.BoltTimeout)
		if err != nil {
			return nil, err
		}
		log.Printf("Using bolt store at %s", cfg.BoltPath)
		return st, nil

	case config.StorePostgres:
		db, err := InitDB(ctx)
		if err != nil {
			return nil, err
		}
		st := store.NewPostgresStore(db)
		if err := st.Migrate(ctx); err != nil {
			st.Close()
			return nil, fmt.Errorf("failed to apply schema: %w", err)
		}
		return st, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}
