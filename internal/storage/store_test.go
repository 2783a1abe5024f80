package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"crypto-price-alerts/internal/apperr"
	"crypto-price-alerts/internal/config"
)

type tickingClock struct {
	t time.Time
}

func (c *tickingClock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func TestMemoryStoreContract(t *testing.T) {
	clock := &tickingClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	runStoreContract(t, NewMemoryStore().WithClock(clock.now))
}

func TestSQLiteStoreContract(t *testing.T) {
	store, closer, err := Open(context.Background(), config.DatabaseConfig{
		Driver:      config.DriverSQLite,
		SQLitePath:  filepath.Join(t.TempDir(), "alerts.db"),
		AutoMigrate: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer closer()

	lite := store.(*SQLiteStore)
	clock := &tickingClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	lite.now = clock.now
	runStoreContract(t, lite)
}

func runStoreContract(t *testing.T, store AlertStore) {
	t.Helper()
	ctx := context.Background()

	if _, err := store.CreateAlert(ctx, NewAlert{UserID: "alice", TargetPrice: decimal.NewFromInt(1)}); !apperr.IsValidation(err) {
		t.Fatalf("missing coin should be rejected, got %v", err)
	}
	if _, err := store.CreateAlert(ctx, NewAlert{UserID: "alice", Coin: "bitcoin"}); !apperr.IsValidation(err) {
		t.Fatalf("missing target should be rejected, got %v", err)
	}

	price := decimal.NewFromInt(48000)
	first, err := store.CreateAlert(ctx, NewAlert{UserID: "alice", Coin: "bitcoin", CoinName: "Bitcoin", TargetPrice: decimal.NewFromInt(49000), CurrentPrice: &price})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := store.CreateAlert(ctx, NewAlert{UserID: "alice", Coin: "ethereum", TargetPrice: decimal.RequireFromString("3000.5")})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	foreign, err := store.CreateAlert(ctx, NewAlert{UserID: "bob", Coin: "solana", TargetPrice: decimal.NewFromInt(200)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if second.CoinName != "ethereum" {
		t.Fatalf("coin name should default to coin, got %q", second.CoinName)
	}

	alerts, err := store.ListAlerts(ctx, "alice")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(alerts) != 2 || alerts[0].ID != second.ID || alerts[1].ID != first.ID {
		t.Fatalf("expected newest first, got %+v", alerts)
	}
	if !alerts[1].TargetPrice.Equal(decimal.NewFromInt(49000)) || alerts[1].CurrentPrice == nil || !alerts[1].CurrentPrice.Equal(price) {
		t.Fatalf("prices not round-tripped: %+v", alerts[1])
	}

	// foreign writes are no-ops
	if err := store.DeleteAlert(ctx, foreign.ID, "alice"); err != nil {
		t.Fatalf("foreign delete should not error: %v", err)
	}
	if err := store.UpdateTriggered(ctx, foreign.ID, "alice", time.Now()); err != nil {
		t.Fatalf("foreign update should not error: %v", err)
	}
	bobs, _ := store.ListAlerts(ctx, "bob")
	if len(bobs) != 1 || bobs[0].Triggered {
		t.Fatalf("foreign alert must be untouched, got %+v", bobs)
	}

	at := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	if err := store.UpdateTriggered(ctx, first.ID, "alice", at); err != nil {
		t.Fatalf("update triggered: %v", err)
	}
	if err := store.UpdateLastPrice(ctx, second.ID, "alice", decimal.NewFromInt(2900)); err != nil {
		t.Fatalf("update last price: %v", err)
	}

	active, err := store.ListActiveAlerts(ctx, "alice")
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 || active[0].ID != second.ID {
		t.Fatalf("only the untriggered alert should be active, got %+v", active)
	}
	if active[0].CurrentPrice == nil || !active[0].CurrentPrice.Equal(decimal.NewFromInt(2900)) {
		t.Fatalf("last price not stored: %+v", active[0])
	}

	alerts, _ = store.ListAlerts(ctx, "alice")
	triggered := alerts[1]
	if !triggered.Triggered || triggered.TriggeredAt == nil || !triggered.TriggeredAt.Equal(at) {
		t.Fatalf("triggered state not stored: %+v", triggered)
	}

	if err := store.DeleteAlert(ctx, second.ID, "alice"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	alerts, _ = store.ListAlerts(ctx, "alice")
	if len(alerts) != 1 || alerts[0].ID != first.ID {
		t.Fatalf("delete did not remove alert: %+v", alerts)
	}
}

func TestParseTarget(t *testing.T) {
	got, err := ParseTarget(" $49,000.50 ")
	if err != nil || !got.Equal(decimal.RequireFromString("49000.50")) {
		t.Fatalf("unexpected parse %s %v", got, err)
	}
	if _, err := ParseTarget("abc"); !apperr.IsValidation(err) {
		t.Fatalf("non-numeric target should be a validation error, got %v", err)
	}
}

func TestSummarize(t *testing.T) {
	stats := Summarize([]Alert{
		{Coin: "bitcoin"},
		{Coin: "bitcoin", Triggered: true},
		{Coin: "solana"},
	})
	if stats.Active != 2 || stats.Triggered != 1 || stats.Total != 3 || len(stats.Coins) != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, _, err := Open(context.Background(), config.DatabaseConfig{Driver: "oracle"}); err == nil {
		t.Fatal("unknown driver should fail")
	}
	store, closer, err := Open(context.Background(), config.DatabaseConfig{Driver: config.DriverMemory})
	if err != nil || store == nil || closer == nil {
		t.Fatalf("memory driver should open: %v", err)
	}
	closer()
}

func TestPostgresStoreNotConfigured(t *testing.T) {
	var s *Store
	if _, err := s.ListAlerts(context.Background(), "alice"); err != ErrNotConfigured {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
