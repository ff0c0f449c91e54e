package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/ruralpay/fintrack/internal/lock"
	"github.com/ruralpay/fintrack/internal/metrics"
	"github.com/ruralpay/fintrack/internal/models"
	"github.com/ruralpay/fintrack/internal/store"
	"github.com/shopspring/decimal"
)

// ReportSink receives every check and reconcile report.
type ReportSink interface {
	Publish(ctx context.Context, kind string, report any) error
}

// RedisReportSink appends reports to a capped Redis list.
type RedisReportSink struct {
	client *redis.Client
	key    string
	limit  int64
}

func NewRedisReportSink(client *redis.Client) *RedisReportSink {
	return &RedisReportSink{client: client, key: "reconciliation_reports", limit: 1000}
}

func (s *RedisReportSink) Publish(ctx context.Context, kind string, report any) error {
	payload, err := json.Marshal(map[string]any{"kind": kind, "report": report})
	if err != nil {
		return err
	}

	if err := s.client.RPush(ctx, s.key, string(payload)).Err(); err != nil {
		return fmt.Errorf("failed to push %s report: %w", kind, err)
	}
	return s.client.LTrim(ctx, s.key, -s.limit, -1).Err()
}

type ReconciliationConfig struct {
	// Tolerance is the largest |cached - calculated| still treated as equal.
	// It should be 0.01 of the minor unit of the currencies in the store;
	// config.DefaultTolerance derives it from the currency places.
	Tolerance   decimal.Decimal
	MaxAttempts int
	LockTimeout time.Duration
}

// DefaultReconciliationConfig assumes currencies with two decimal places.
func DefaultReconciliationConfig() ReconciliationConfig {
	return ReconciliationConfig{
		Tolerance:   decimal.RequireFromString("0.0001"),
		MaxAttempts: 3,
		LockTimeout: 5 * time.Second,
	}
}

// ReconciliationService compares cached balances with the ledger replay and,
// when asked, overwrites drifted caches with the replayed value. It is the
// only path allowed to set a balance directly.
type ReconciliationService struct {
	store  store.Store
	locker lock.Locker
	audit  Auditor
	sink   ReportSink
	cfg    ReconciliationConfig
	now    func() time.Time
}

func NewReconciliationService(st store.Store, locker lock.Locker, audit Auditor, cfg ReconciliationConfig) *ReconciliationService {
	return &ReconciliationService{
		store:  st,
		locker: locker,
		audit:  audit,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithSink publishes every report to sink. Publishing errors are logged only.
func (s *ReconciliationService) WithSink(sink ReportSink) *ReconciliationService {
	s.sink = sink
	return s
}

func (s *ReconciliationService) withinTolerance(delta decimal.Decimal) bool {
	return delta.Abs().LessThanOrEqual(s.cfg.Tolerance)
}

// resolveIDs expands an empty id list to every account.
func (s *ReconciliationService) resolveIDs(ctx context.Context, accountIDs []string) ([]string, error) {
	if len(accountIDs) > 0 {
		return accountIDs, nil
	}

	var ids []string
	err := s.store.View(ctx, func(r store.Reader) error {
		accounts, err := r.ListAccounts()
		if err != nil {
			return err
		}
		for _, a := range accounts {
			ids = append(ids, a.ID)
		}
		return nil
	})
	return ids, err
}

type observation struct {
	cached     decimal.Decimal
	calculated decimal.Decimal
	version    int64
}

func (s *ReconciliationService) observe(ctx context.Context, accountID string) (*observation, error) {
	var obs observation
	err := s.store.View(ctx, func(r store.Reader) error {
		a, err := r.GetAccount(accountID)
		if errors.Is(err, store.ErrNotFound) {
			return accountErr(accountID, ErrAccountNotFound)
		}
		if err != nil {
			return err
		}
		obs.cached = a.Balance
		obs.version = a.Version

		obs.calculated, err = CalculateBalance(r, accountID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &obs, nil
}

// Check reports every account whose cached balance differs from the replay by
// more than the tolerance. Nothing is written and no lock is taken. Accounts
// that cannot be replayed are listed under Failures.
func (s *ReconciliationService) Check(ctx context.Context, accountIDs []string) (*models.CheckReport, error) {
	ids, err := s.resolveIDs(ctx, accountIDs)
	if err != nil {
		return nil, err
	}

	report := &models.CheckReport{CheckedAt: s.now(), Mismatches: []models.Mismatch{}}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		obs, err := s.observe(ctx, id)
		if err != nil {
			report.Failures = append(report.Failures, models.ReplayFailure{AccountID: id, Error: err.Error()})
			metrics.ReconcileFailures.Inc()
			continue
		}
		report.Checked++

		delta := obs.cached.Sub(obs.calculated)
		if s.withinTolerance(delta) {
			continue
		}
		report.Mismatches = append(report.Mismatches, models.Mismatch{
			AccountID:  id,
			Cached:     obs.cached,
			Calculated: obs.calculated,
			Delta:      delta,
		})
		metrics.ReconcileMismatches.Inc()
	}

	log.Printf("[RECONCILE] checked %d accounts: %d mismatches, %d failures", report.Checked, len(report.Mismatches), len(report.Failures))
	s.publish(ctx, "check", report)
	return report, nil
}

// Reconcile sets each drifted cached balance to its replayed value. The replay
// runs without the account lock; the lock is held only for the overwrite,
// which is skipped and recomputed if a mutation committed in between. One
// account failing does not stop the others.
func (s *ReconciliationService) Reconcile(ctx context.Context, accountIDs []string) (*models.ReconcileReport, error) {
	ids, err := s.resolveIDs(ctx, accountIDs)
	if err != nil {
		return nil, err
	}

	report := &models.ReconcileReport{
		ReconciledAt: s.now(),
		Corrected:    []models.Correction{},
		Unchanged:    []string{},
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		correction, err := s.reconcileAccount(ctx, id)
		switch {
		case err != nil:
			report.Failures = append(report.Failures, models.ReplayFailure{AccountID: id, Error: err.Error()})
			metrics.ReconcileFailures.Inc()
			s.audit.LogError("reconcile", id, err)
		case correction == nil:
			report.Unchanged = append(report.Unchanged, id)
		default:
			report.Corrected = append(report.Corrected, *correction)
			metrics.ReconcileCorrections.Inc()
			s.audit.LogCorrection(id, correction.Before, correction.After)
		}
	}

	log.Printf("[RECONCILE] corrected %d accounts, %d unchanged, %d failures", len(report.Corrected), len(report.Unchanged), len(report.Failures))
	s.publish(ctx, "reconcile", report)
	return report, nil
}

var errStaleObservation = errors.New("account changed while reconciling")

func (s *ReconciliationService) reconcileAccount(ctx context.Context, accountID string) (*models.Correction, error) {
	attempts := s.cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		obs, err := s.observe(ctx, accountID)
		if err != nil {
			return nil, err
		}
		if s.withinTolerance(obs.cached.Sub(obs.calculated)) {
			return nil, nil
		}

		err = s.overwrite(ctx, accountID, obs)
		if errors.Is(err, errStaleObservation) || errors.Is(err, store.ErrVersionConflict) {
			log.Printf("[RECONCILE] account %s moved during reconciliation, recomputing", accountID)
			continue
		}
		if err != nil {
			return nil, err
		}
		return &models.Correction{AccountID: accountID, Before: obs.cached, After: obs.calculated}, nil
	}

	return nil, fmt.Errorf("%w: account %s kept changing during reconciliation", ErrConcurrentModification, accountID)
}

func (s *ReconciliationService) overwrite(ctx context.Context, accountID string, obs *observation) error {
	lockCtx, cancel := context.WithTimeout(ctx, s.cfg.LockTimeout)
	defer cancel()

	release, err := s.locker.Lock(lockCtx, lock.AccountKey(accountID))
	if err != nil {
		if errors.Is(err, lock.ErrLockTimeout) {
			return fmt.Errorf("%w: %v", ErrConcurrentModification, err)
		}
		return err
	}
	defer release()

	return s.store.Update(ctx, func(tx store.Tx) error {
		a, err := tx.GetAccount(accountID)
		if err != nil {
			return err
		}
		if a.Version != obs.version {
			return errStaleObservation
		}
		a.Balance = obs.calculated
		a.UpdatedAt = s.now()
		return tx.UpdateAccount(a, obs.version)
	})
}

func (s *ReconciliationService) publish(ctx context.Context, kind string, report any) {
	if s.sink == nil {
		return
	}
	if err := s.sink.Publish(ctx, kind, report); err != nil {
		log.Printf("[RECONCILE] failed to publish %s report: %v", kind, err)
	}
}
