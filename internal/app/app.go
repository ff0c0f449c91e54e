// Package app wires the store, locker and services from a loaded Config.
package app

import (
	"context"
	"fmt"
	"log"

	"github.com/go-redis/redis/v8"
	"github.com/ruralpay/fintrack/internal/audit"
	"github.com/ruralpay/fintrack/internal/config"
	"github.com/ruralpay/fintrack/internal/database"
	"github.com/ruralpay/fintrack/internal/lock"
	"github.com/ruralpay/fintrack/internal/services"
	"github.com/ruralpay/fintrack/internal/store"
)

type App struct {
	Config        *config.Config
	Store         store.Store
	Redis         *redis.Client
	Locker        lock.Locker
	Ledger        *services.LedgerService
	Reconciler    *services.ReconciliationService
	Debts         *services.DebtService
	Subscriptions *services.SubscriptionService
}

// New opens the configured store and builds every service on top of it.
// Redis is only dialed when the redis locker or report publishing is enabled.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	st, err := database.OpenStore(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	a := &App{Config: cfg, Store: st}

	if cfg.Lock.Driver == config.LockRedis || cfg.Reconcile.PublishReports {
		a.Redis, err = database.InitRedis(ctx)
		if err != nil {
			st.Close()
			return nil, err
		}
	}

	if cfg.Lock.Driver == config.LockRedis {
		a.Locker = lock.NewRedisLocker(a.Redis, cfg.Lock.TTL)
		log.Printf("Using redis account locks (ttl %s)", cfg.Lock.TTL)
	} else {
		a.Locker = lock.NewLocalLocker()
	}

	auditor := audit.NewAuditLogger()

	a.Ledger = services.NewLedgerService(st, a.Locker, auditor, services.LedgerConfig{
		MaxRetries:       cfg.Ledger.MaxRetries,
		RetryBackoff:     cfg.Ledger.RetryBackoff,
		OperationTimeout: cfg.Ledger.OperationTimeout,
	})

	a.Reconciler = services.NewReconciliationService(st, a.Locker, auditor, services.ReconciliationConfig{
		Tolerance:   cfg.Reconcile.Tolerance,
		MaxAttempts: cfg.Reconcile.MaxAttempts,
		LockTimeout: cfg.Ledger.LockTimeout,
	})
	if cfg.Reconcile.PublishReports {
		a.Reconciler.WithSink(services.NewRedisReportSink(a.Redis))
	}

	a.Debts = services.NewDebtService(st, a.Locker, a.Ledger, cfg.Schedule.CurrencyPlaces, cfg.Ledger.LockTimeout)
	a.Subscriptions = services.NewSubscriptionService(st, a.Locker, a.Ledger, cfg.Ledger.LockTimeout)

	return a, nil
}

func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			log.Printf("Failed to close redis: %v", err)
		}
	}
	if err := a.Store.Close(); err != nil {
		log.Printf("Failed to close store: %v", err)
	}
}
