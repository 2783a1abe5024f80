// Package evaluator decides which alerts crossed their target on a price
// snapshot and which are close enough to warrant a near-target warning.
package evaluator

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"crypto-price-alerts/internal/config"
	"crypto-price-alerts/internal/fetcher"
	"crypto-price-alerts/internal/storage"
)

// Options tune the evaluation policy.
type Options struct {
	CloseThreshold     decimal.Decimal
	EmailThreshold     decimal.Decimal
	TriggerSuppression time.Duration
	NearTargetCooldown time.Duration
	Now                func() time.Time
}

// DefaultOptions mirrors the stock evaluator configuration.
func DefaultOptions() Options {
	return Options{
		CloseThreshold:     decimal.RequireFromString("0.8"),
		EmailThreshold:     decimal.RequireFromString("0.9"),
		TriggerSuppression: 60 * time.Second,
		NearTargetCooldown: 30 * time.Second,
	}
}

// OptionsFromConfig converts evaluator configuration.
func OptionsFromConfig(cfg config.EvaluatorConfig) Options {
	return Options{
		CloseThreshold:     decimal.NewFromFloat(cfg.CloseThreshold),
		EmailThreshold:     decimal.NewFromFloat(cfg.EmailThreshold),
		TriggerSuppression: cfg.TriggerSuppression,
		NearTargetCooldown: cfg.NearTargetCooldown,
	}
}

// Trigger is an alert whose target was reached on this pass.
type Trigger struct {
	Alert storage.Alert
	Price decimal.Decimal
	At    time.Time
}

// NearTarget requests a near-target email for an alert.
type NearTarget struct {
	Alert    storage.Alert
	Price    decimal.Decimal
	Progress decimal.Decimal
}

// Issue flags an alert that could not be evaluated sensibly.
type Issue struct {
	AlertID string
	Coin    string
	Reason  string
}

// Result is the outcome of one evaluation pass.
type Result struct {
	Triggers   []Trigger
	NearTarget []NearTarget
	// Close maps alert id to progress for alerts inside the close band.
	Close  map[string]decimal.Decimal
	Issues []Issue
}

// Evaluator owns the in-memory suppression state of one client session.
// It is safe for concurrent use.
type Evaluator struct {
	opts Options
	now  func() time.Time

	mu                sync.Mutex
	recentlyTriggered map[string]time.Time
	cooldowns         map[string]time.Time
	announced         map[string]struct{}
}

// New constructs an Evaluator with empty suppression state.
func New(opts Options) *Evaluator {
	defaults := DefaultOptions()
	if !opts.CloseThreshold.IsPositive() {
		opts.CloseThreshold = defaults.CloseThreshold
	}
	if !opts.EmailThreshold.IsPositive() {
		opts.EmailThreshold = defaults.EmailThreshold
	}
	if opts.TriggerSuppression <= 0 {
		opts.TriggerSuppression = defaults.TriggerSuppression
	}
	if opts.NearTargetCooldown <= 0 {
		opts.NearTargetCooldown = defaults.NearTargetCooldown
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Evaluator{
		opts:              opts,
		now:               now,
		recentlyTriggered: make(map[string]time.Time),
		cooldowns:         make(map[string]time.Time),
		announced:         make(map[string]struct{}),
	}
}

// Progress returns price/target. ok is false when target is not positive.
func Progress(price, target decimal.Decimal) (decimal.Decimal, bool) {
	if !target.IsPositive() {
		return decimal.Zero, false
	}
	return price.Div(target), true
}

// IsClose reports whether progress falls inside [close threshold, 1).
func (e *Evaluator) IsClose(progress decimal.Decimal) bool {
	return progress.GreaterThanOrEqual(e.opts.CloseThreshold) && progress.LessThan(decimal.NewFromInt(1))
}

// Evaluate compares the snapshot against the untriggered alerts. Alerts whose
// coin is missing from the snapshot are skipped. Triggering is upward only.
func (e *Evaluator) Evaluate(snapshot fetcher.Snapshot, alerts []storage.Alert) Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	e.evict(now)

	result := Result{Close: make(map[string]decimal.Decimal)}
	for _, alert := range alerts {
		if alert.Triggered {
			continue
		}
		price, ok := snapshot.Price(alert.Coin)
		if !ok {
			continue
		}
		if !alert.TargetPrice.IsPositive() {
			result.Issues = append(result.Issues, Issue{
				AlertID: alert.ID,
				Coin:    alert.Coin,
				Reason:  "target price is not positive",
			})
			continue
		}

		if price.GreaterThanOrEqual(alert.TargetPrice) {
			if expiry, held := e.recentlyTriggered[alert.ID]; held && now.Before(expiry) {
				continue
			}
			e.recentlyTriggered[alert.ID] = now.Add(e.opts.TriggerSuppression)
			e.announced[alert.ID] = struct{}{}
			result.Triggers = append(result.Triggers, Trigger{Alert: alert, Price: price, At: now})
			continue
		}

		progress, _ := Progress(price, alert.TargetPrice)
		if !e.IsClose(progress) {
			continue
		}
		result.Close[alert.ID] = progress

		if last, ok := e.cooldowns[alert.ID]; ok && now.Sub(last) < e.opts.NearTargetCooldown {
			continue
		}
		e.cooldowns[alert.ID] = now
		if progress.GreaterThanOrEqual(e.opts.EmailThreshold) {
			result.NearTarget = append(result.NearTarget, NearTarget{Alert: alert, Price: price, Progress: progress})
		}
	}
	return result
}

// Reconcile returns the stored-triggered alerts of the list that were not yet
// announced by this session, such as alerts flipped by another session. The
// announced set is rebuilt from the list on every pass, keeping ids of
// triggers whose store write is still within the suppression window.
func (e *Evaluator) Reconcile(alerts []storage.Alert) []storage.Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	fresh := make([]storage.Alert, 0)
	next := make(map[string]struct{})
	for _, alert := range alerts {
		if !alert.Triggered {
			continue
		}
		if _, ok := e.announced[alert.ID]; !ok {
			fresh = append(fresh, alert)
		}
		next[alert.ID] = struct{}{}
	}
	for id := range e.announced {
		if expiry, held := e.recentlyTriggered[id]; held && now.Before(expiry) {
			next[id] = struct{}{}
		}
	}
	e.announced = next
	return fresh
}

// Forget drops all suppression state of an alert, used after deletes.
func (e *Evaluator) Forget(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.recentlyTriggered, id)
	delete(e.cooldowns, id)
	delete(e.announced, id)
}

func (e *Evaluator) evict(now time.Time) {
	for id, expiry := range e.recentlyTriggered {
		if !now.Before(expiry) {
			delete(e.recentlyTriggered, id)
		}
	}
	for id, last := range e.cooldowns {
		if now.Sub(last) >= e.opts.NearTargetCooldown {
			delete(e.cooldowns, id)
		}
	}
}
