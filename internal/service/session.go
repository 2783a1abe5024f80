package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"

	"crypto-price-alerts/internal/alerting"
	"crypto-price-alerts/internal/config"
	"crypto-price-alerts/internal/evaluator"
	"crypto-price-alerts/internal/fetcher"
	"crypto-price-alerts/internal/metrics"
	"crypto-price-alerts/internal/scheduler"
	"crypto-price-alerts/internal/storage"
)

// AlertView is an alert with its progress against the current snapshot.
type AlertView struct {
	storage.Alert
	Progress *decimal.Decimal `json:"progress,omitempty"`
	Close    bool             `json:"close"`
}

// Session is the client session of one owner: it polls prices, evaluates the
// owner's alerts and dispatches notifications.
type Session struct {
	scheduler  *scheduler.Scheduler
	prices     fetcher.PriceFetcher
	store      storage.AlertStore
	evaluator  *evaluator.Evaluator
	dispatcher *alerting.Dispatcher
	metrics    *metrics.SessionMetrics
	logger     zerolog.Logger

	owner          string
	coins          []string
	trackLastPrice bool
	locker         storage.AdvisoryLocker
	lockKey        int64

	mu         sync.RWMutex
	snapshot   fetcher.Snapshot
	alerts     []storage.Alert
	reconciled bool
}

// New constructs the client session. sched may be nil when only Tick is used;
// m may be nil to disable metrics.
func New(cfg *config.Config, sched *scheduler.Scheduler, prices fetcher.PriceFetcher, store storage.AlertStore, ev *evaluator.Evaluator, dispatcher *alerting.Dispatcher, m *metrics.SessionMetrics, logger zerolog.Logger) *Session {
	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok && cfg.Session.SingleEvaluator {
		locker = l
	}

	return &Session{
		scheduler:      sched,
		prices:         prices,
		store:          store,
		evaluator:      ev,
		dispatcher:     dispatcher,
		metrics:        m,
		logger:         logger.With().Str("component", "session").Str("owner", cfg.Session.UserID).Logger(),
		owner:          cfg.Session.UserID,
		coins:          cfg.Feed.Coins,
		trackLastPrice: cfg.Session.TrackLastPrice,
		locker:         locker,
		lockKey:        cfg.Session.AdvisoryLockKey,
	}
}

// Run begins the polling loop.
func (s *Session) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.Tick)
}

// Tick 执行一次轮询: 拉取价格、评估告警、分发通知并回写状态。
func (s *Session) Tick(ctx context.Context, at time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		s.observeTick("lock_error")
		return err
	}
	if !proceed {
		s.logger.Debug().Time("tick", at).Msg("skip tick because advisory lock held elsewhere")
		s.observeTick("locked")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	if err := s.executeTick(ctx, at); err != nil {
		s.observeTick("error")
		return err
	}
	s.observeTick("ok")
	return nil
}

func (s *Session) executeTick(ctx context.Context, at time.Time) error {
	if !s.isReconciled() {
		if err := s.resync(ctx); err != nil {
			return err
		}
	}

	active, err := s.store.ListActiveAlerts(ctx, s.owner)
	if err != nil {
		s.storeError("list_active")
		return fmt.Errorf("list active alerts: %w", err)
	}
	if s.metrics != nil {
		s.metrics.TrackedAlerts.Set(float64(len(active)))
	}

	coins := fetcher.MergeCoins(s.coins, storage.Coins(active))
	snapshot, err := s.prices.FetchPrices(ctx, coins)
	if err != nil {
		// the previous snapshot stays in place
		return fmt.Errorf("fetch prices: %w", err)
	}
	s.setSnapshot(snapshot)

	var errs error
	if s.trackLastPrice {
		errs = multierr.Append(errs, s.trackPrices(ctx, snapshot, active))
	}

	result := s.evaluator.Evaluate(snapshot, active)
	for _, issue := range result.Issues {
		s.logger.Warn().Str("alert_id", issue.AlertID).Str("coin", issue.Coin).Str("reason", issue.Reason).Msg("alert skipped: data quality")
		if s.metrics != nil {
			s.metrics.DataIssues.Inc()
		}
	}

	for _, trig := range result.Triggers {
		s.dispatcher.NotifyTriggered(ctx, trig.Alert, trig.Price)
		s.logger.Info().
			Str("alert_id", trig.Alert.ID).
			Str("coin", trig.Alert.Coin).
			Str("target", trig.Alert.TargetPrice.String()).
			Str("price", trig.Price.String()).
			Msg("alert triggered")
		if s.metrics != nil {
			s.metrics.Triggers.Inc()
			s.metrics.Banners.Inc()
		}
	}
	// sequential and non-transactional; failed alerts stay untriggered and retry later
	for _, trig := range result.Triggers {
		if err := s.store.UpdateTriggered(ctx, trig.Alert.ID, s.owner, trig.At); err != nil {
			s.storeError("update_triggered")
			errs = multierr.Append(errs, fmt.Errorf("mark alert %s triggered: %w", trig.Alert.ID, err))
		}
	}

	for _, near := range result.NearTarget {
		s.dispatcher.NotifyNearTarget(ctx, near.Alert, near.Price, near.Alert.TargetPrice)
		if s.metrics != nil {
			s.metrics.NearTarget.Inc()
		}
	}

	if len(result.Triggers) > 0 {
		errs = multierr.Append(errs, s.resync(ctx))
	} else {
		s.refreshActive(active)
	}

	s.logger.Debug().
		Time("tick", at).
		Int("active", len(active)).
		Int("triggered", len(result.Triggers)).
		Int("near_target", len(result.NearTarget)).
		Int("close", len(result.Close)).
		Msg("tick evaluated")
	return errs
}

func (s *Session) trackPrices(ctx context.Context, snapshot fetcher.Snapshot, active []storage.Alert) error {
	var errs error
	for _, alert := range active {
		price, ok := snapshot.Price(alert.Coin)
		if !ok {
			continue
		}
		if alert.CurrentPrice != nil && alert.CurrentPrice.Equal(price) {
			continue
		}
		if err := s.store.UpdateLastPrice(ctx, alert.ID, s.owner, price); err != nil {
			s.storeError("update_last_price")
			errs = multierr.Append(errs, fmt.Errorf("update last price of %s: %w", alert.ID, err))
		}
	}
	return errs
}

// resync reloads the owner's full list and announces triggers made elsewhere.
func (s *Session) resync(ctx context.Context) error {
	alerts, err := s.store.ListAlerts(ctx, s.owner)
	if err != nil {
		s.storeError("list")
		return fmt.Errorf("resync alerts: %w", err)
	}

	for _, alert := range s.evaluator.Reconcile(alerts) {
		s.dispatcher.Announce(alert)
		s.logger.Info().Str("alert_id", alert.ID).Str("coin", alert.Coin).Msg("announced alert triggered elsewhere")
		if s.metrics != nil {
			s.metrics.Banners.Inc()
		}
	}

	s.mu.Lock()
	s.alerts = alerts
	s.reconciled = true
	s.mu.Unlock()
	return nil
}

// refreshActive rebuilds the cached list from the freshly listed active
// alerts and the cached triggered ones, without a second store round trip.
func (s *Session) refreshActive(active []storage.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := make([]storage.Alert, 0, len(s.alerts)+len(active))
	merged = append(merged, active...)
	for _, a := range s.alerts {
		if a.Triggered {
			merged = append(merged, a)
		}
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CreatedAt.After(merged[j].CreatedAt)
	})
	s.alerts = merged
}

// Refresh forces a resync, as after a create or delete.
func (s *Session) Refresh(ctx context.Context) error {
	return s.resync(ctx)
}

// Snapshot returns the current price snapshot.
func (s *Session) Snapshot() fetcher.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// Alerts returns the cached alert list with progress and close flags
// computed against the current snapshot.
func (s *Session) Alerts() []AlertView {
	s.mu.RLock()
	alerts := make([]storage.Alert, len(s.alerts))
	copy(alerts, s.alerts)
	snapshot := s.snapshot
	s.mu.RUnlock()

	views := make([]AlertView, 0, len(alerts))
	for _, alert := range alerts {
		view := AlertView{Alert: alert}
		if price, ok := snapshot.Price(alert.Coin); ok && !alert.Triggered {
			if progress, ok := evaluator.Progress(price, alert.TargetPrice); ok {
				view.Progress = &progress
				view.Close = s.evaluator.IsClose(progress)
			}
		}
		views = append(views, view)
	}
	return views
}

// Board exposes the in-app banners.
func (s *Session) Board() *alerting.Board {
	return s.dispatcher.Board()
}

// Wait drains queued emails.
func (s *Session) Wait() {
	s.dispatcher.Wait()
}

func (s *Session) setSnapshot(snapshot fetcher.Snapshot) {
	s.mu.Lock()
	s.snapshot = snapshot
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.SnapshotCoins.Set(float64(len(snapshot.Quotes)))
		s.metrics.LastSnapshotTS.Set(float64(snapshot.FetchedAt.Unix()))
	}
}

func (s *Session) isReconciled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reconciled
}

func (s *Session) observeTick(outcome string) {
	if s.metrics != nil {
		s.metrics.Ticks.WithLabelValues(outcome).Inc()
	}
}

func (s *Session) storeError(op string) {
	if s.metrics != nil {
		s.metrics.StoreErrors.WithLabelValues(op).Inc()
	}
}

func (s *Session) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey, s.owner)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

// RemoveAlert deletes one of the owner's alerts and resyncs the cached list
// so the alert drops out of Alerts immediately.
func (s *Session) RemoveAlert(ctx context.Context, id string) error {
	if err := s.store.DeleteAlert(ctx, id, s.owner); err != nil {
		s.storeError("delete")
		return err
	}
	s.evaluator.Forget(id)
	return s.resync(ctx)
}

// RemoveAlertAction builds the "Remove alert" banner action around remove,
// normally Session.RemoveAlert.
func RemoveAlertAction(remove func(ctx context.Context, id string) error) alerting.ActionFactory {
	return func(alert storage.Alert) []alerting.Action {
		id := alert.ID
		return []alerting.Action{{
			Label: "Remove alert",
			Effect: func(ctx context.Context) error {
				return remove(ctx, id)
			},
		}}
	}
}
