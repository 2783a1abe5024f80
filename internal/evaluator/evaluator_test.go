package evaluator

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"crypto-price-alerts/internal/fetcher"
	"crypto-price-alerts/internal/storage"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestEvaluator() (*Evaluator, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	opts := DefaultOptions()
	opts.Now = clock.Now
	return New(opts), clock
}

func snapshot(prices map[string]int64) fetcher.Snapshot {
	quotes := make(map[string]fetcher.Quote, len(prices))
	for coin, usd := range prices {
		quotes[coin] = fetcher.Quote{USD: decimal.NewFromInt(usd)}
	}
	return fetcher.Snapshot{Quotes: quotes}
}

func alert(id, coin string, target int64) storage.Alert {
	return storage.Alert{ID: id, UserID: "alice", Coin: coin, CoinName: coin, TargetPrice: decimal.NewFromInt(target)}
}

func TestEvaluateTriggersOnceAtOrAboveTarget(t *testing.T) {
	ev, clock := newTestEvaluator()
	alerts := []storage.Alert{alert("a1", "bitcoin", 49000)}

	res := ev.Evaluate(snapshot(map[string]int64{"bitcoin": 50000}), alerts)
	if len(res.Triggers) != 1 {
		t.Fatalf("expected one trigger, got %d", len(res.Triggers))
	}
	if !res.Triggers[0].Price.Equal(decimal.NewFromInt(50000)) || !res.Triggers[0].At.Equal(clock.t) {
		t.Fatalf("unexpected trigger %+v", res.Triggers[0])
	}

	// the store write has not landed yet; the alert is still untriggered
	clock.Advance(30 * time.Second)
	res = ev.Evaluate(snapshot(map[string]int64{"bitcoin": 51000}), alerts)
	if len(res.Triggers) != 0 {
		t.Fatalf("suppression window should hold back a second trigger, got %d", len(res.Triggers))
	}

	clock.Advance(31 * time.Second)
	res = ev.Evaluate(snapshot(map[string]int64{"bitcoin": 51000}), alerts)
	if len(res.Triggers) != 1 {
		t.Fatalf("trigger should retry after the window expires, got %d", len(res.Triggers))
	}
}

func TestEvaluateExactTargetTriggers(t *testing.T) {
	ev, _ := newTestEvaluator()
	res := ev.Evaluate(snapshot(map[string]int64{"bitcoin": 49000}), []storage.Alert{alert("a1", "bitcoin", 49000)})
	if len(res.Triggers) != 1 {
		t.Fatalf("price equal to target should trigger")
	}
}

func TestEvaluateIgnoresTriggeredAndMissingCoins(t *testing.T) {
	ev, _ := newTestEvaluator()
	done := alert("a1", "bitcoin", 100)
	done.Triggered = true
	missing := alert("a2", "dogecoin", 1)

	res := ev.Evaluate(snapshot(map[string]int64{"bitcoin": 50000}), []storage.Alert{done, missing})
	if len(res.Triggers) != 0 || len(res.NearTarget) != 0 || len(res.Close) != 0 {
		t.Fatalf("expected no output, got %+v", res)
	}
}

func TestEvaluateZeroPriceIsMissing(t *testing.T) {
	ev, _ := newTestEvaluator()
	res := ev.Evaluate(snapshot(map[string]int64{"bitcoin": 0}), []storage.Alert{alert("a1", "bitcoin", 1)})
	if len(res.Triggers) != 0 {
		t.Fatal("zero price must not trigger")
	}
}

func TestEvaluateDownwardMoveNeverTriggers(t *testing.T) {
	ev, _ := newTestEvaluator()
	res := ev.Evaluate(snapshot(map[string]int64{"bitcoin": 30000}), []storage.Alert{alert("a1", "bitcoin", 49000)})
	if len(res.Triggers) != 0 || len(res.Close) != 0 {
		t.Fatalf("price far below target should be quiet, got %+v", res)
	}
}

func TestEvaluateNonPositiveTargetIsFlagged(t *testing.T) {
	ev, _ := newTestEvaluator()
	zero := alert("a1", "bitcoin", 0)
	negative := alert("a2", "bitcoin", -5)

	res := ev.Evaluate(snapshot(map[string]int64{"bitcoin": 50000}), []storage.Alert{zero, negative})
	if len(res.Triggers) != 0 {
		t.Fatalf("non-positive targets must not trigger, got %d", len(res.Triggers))
	}
	if len(res.Issues) != 2 || res.Issues[0].AlertID != "a1" {
		t.Fatalf("expected two data-quality issues, got %+v", res.Issues)
	}
}

func TestEvaluateNearTargetEmailCooldown(t *testing.T) {
	ev, clock := newTestEvaluator()
	alerts := []storage.Alert{alert("a1", "bitcoin", 100000)}
	snap := snapshot(map[string]int64{"bitcoin": 95000})

	res := ev.Evaluate(snap, alerts)
	if len(res.Triggers) != 0 {
		t.Fatal("near target must not trigger")
	}
	progress, ok := res.Close["a1"]
	if !ok || !progress.Equal(decimal.RequireFromString("0.95")) {
		t.Fatalf("expected close progress 0.95, got %v (%v)", progress, ok)
	}
	if len(res.NearTarget) != 1 {
		t.Fatalf("expected one near-target email, got %d", len(res.NearTarget))
	}

	for i := 0; i < 5; i++ {
		clock.Advance(5 * time.Second)
		res = ev.Evaluate(snap, alerts)
		if len(res.NearTarget) != 0 {
			t.Fatalf("email repeated inside cooldown after %d polls", i+1)
		}
		if _, ok := res.Close["a1"]; !ok {
			t.Fatal("close flag is recomputed every pass")
		}
	}

	clock.Advance(5 * time.Second)
	res = ev.Evaluate(snap, alerts)
	if len(res.NearTarget) != 1 {
		t.Fatalf("email should resume after 30s, got %d", len(res.NearTarget))
	}
}

func TestEvaluateCloseBandWithoutEmail(t *testing.T) {
	ev, clock := newTestEvaluator()
	alerts := []storage.Alert{alert("a1", "bitcoin", 100000)}

	res := ev.Evaluate(snapshot(map[string]int64{"bitcoin": 85000}), alerts)
	if _, ok := res.Close["a1"]; !ok {
		t.Fatal("0.85 is inside the close band")
	}
	if len(res.NearTarget) != 0 {
		t.Fatal("below the email threshold no email is requested")
	}

	// the close pass above started the cooldown
	clock.Advance(10 * time.Second)
	res = ev.Evaluate(snapshot(map[string]int64{"bitcoin": 92000}), alerts)
	if len(res.NearTarget) != 0 {
		t.Fatal("cooldown started in the close band gates the email")
	}
}

func TestReconcileAnnouncesForeignTriggersOnce(t *testing.T) {
	ev, _ := newTestEvaluator()
	foreign := alert("f1", "ethereum", 3000)
	foreign.Triggered = true
	pending := alert("p1", "bitcoin", 1)

	fresh := ev.Reconcile([]storage.Alert{foreign, pending})
	if len(fresh) != 1 || fresh[0].ID != "f1" {
		t.Fatalf("expected foreign trigger announced, got %+v", fresh)
	}
	if fresh = ev.Reconcile([]storage.Alert{foreign, pending}); len(fresh) != 0 {
		t.Fatalf("second pass must not repeat, got %+v", fresh)
	}
}

func TestReconcileSkipsLocallyTriggered(t *testing.T) {
	ev, _ := newTestEvaluator()
	a := alert("a1", "bitcoin", 49000)
	res := ev.Evaluate(snapshot(map[string]int64{"bitcoin": 50000}), []storage.Alert{a})
	if len(res.Triggers) != 1 {
		t.Fatal("expected trigger")
	}

	// before the resync lands the id is still held
	if fresh := ev.Reconcile([]storage.Alert{a}); len(fresh) != 0 {
		t.Fatalf("unexpected announcement %+v", fresh)
	}

	a.Triggered = true
	if fresh := ev.Reconcile([]storage.Alert{a}); len(fresh) != 0 {
		t.Fatalf("locally triggered alert announced twice: %+v", fresh)
	}
}

func TestProgressGuardsZeroTarget(t *testing.T) {
	if _, ok := Progress(decimal.NewFromInt(5), decimal.Zero); ok {
		t.Fatal("zero target must not yield progress")
	}
	p, ok := Progress(decimal.NewFromInt(95000), decimal.NewFromInt(100000))
	if !ok || !p.Equal(decimal.RequireFromString("0.95")) {
		t.Fatalf("unexpected progress %s", p)
	}
}

func TestEvaluatorsAreIsolated(t *testing.T) {
	first, _ := newTestEvaluator()
	second, _ := newTestEvaluator()
	alerts := []storage.Alert{alert("a1", "bitcoin", 49000)}
	snap := snapshot(map[string]int64{"bitcoin": 50000})

	if len(first.Evaluate(snap, alerts).Triggers) != 1 {
		t.Fatal("first evaluator should trigger")
	}
	if len(second.Evaluate(snap, alerts).Triggers) != 1 {
		t.Fatal("suppression state leaked between evaluators")
	}
}
