package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MemoryStore is an in-process AlertStore.
type MemoryStore struct {
	mu     sync.RWMutex
	alerts map[string]memoryEntry
	seq    int64
	now    func() time.Time
}

type memoryEntry struct {
	alert Alert
	seq   int64
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{alerts: make(map[string]memoryEntry), now: time.Now}
}

// WithClock replaces the creation clock; used by tests.
func (m *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	m.now = now
	return m
}

func (m *MemoryStore) CreateAlert(ctx context.Context, input NewAlert) (Alert, error) {
	input, err := input.Normalize()
	if err != nil {
		return Alert{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	alert := Alert{
		ID:           uuid.NewString(),
		UserID:       input.UserID,
		Coin:         input.Coin,
		CoinName:     input.CoinName,
		TargetPrice:  input.TargetPrice,
		CurrentPrice: copyDecimal(input.CurrentPrice),
		CreatedAt:    m.now().UTC(),
	}
	m.alerts[alert.ID] = memoryEntry{alert: alert, seq: m.seq}
	return cloneAlert(alert), nil
}

func (m *MemoryStore) ListAlerts(ctx context.Context, owner string) ([]Alert, error) {
	return m.list(owner, false), nil
}

func (m *MemoryStore) ListActiveAlerts(ctx context.Context, owner string) ([]Alert, error) {
	return m.list(owner, true), nil
}

func (m *MemoryStore) list(owner string, activeOnly bool) []Alert {
	m.mu.RLock()
	entries := make([]memoryEntry, 0)
	for _, e := range m.alerts {
		if e.alert.UserID != owner {
			continue
		}
		if activeOnly && e.alert.Triggered {
			continue
		}
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.alert.CreatedAt.Equal(b.alert.CreatedAt) {
			return a.alert.CreatedAt.After(b.alert.CreatedAt)
		}
		return a.seq > b.seq
	})

	out := make([]Alert, 0, len(entries))
	for _, e := range entries {
		out = append(out, cloneAlert(e.alert))
	}
	return out
}

func (m *MemoryStore) DeleteAlert(ctx context.Context, id, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.alerts[id]; ok && e.alert.UserID == owner {
		delete(m.alerts, id)
	}
	return nil
}

func (m *MemoryStore) UpdateTriggered(ctx context.Context, id, owner string, at time.Time) error {
	return m.update(id, owner, func(a *Alert) {
		ts := at.UTC()
		a.Triggered = true
		a.TriggeredAt = &ts
	})
}

func (m *MemoryStore) UpdateLastPrice(ctx context.Context, id, owner string, price decimal.Decimal) error {
	return m.update(id, owner, func(a *Alert) {
		a.CurrentPrice = &price
	})
}

func (m *MemoryStore) update(id, owner string, apply func(*Alert)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.alerts[id]
	if !ok || e.alert.UserID != owner {
		return nil
	}
	apply(&e.alert)
	m.alerts[id] = e
	return nil
}

func cloneAlert(a Alert) Alert {
	a.CurrentPrice = copyDecimal(a.CurrentPrice)
	if a.TriggeredAt != nil {
		ts := *a.TriggeredAt
		a.TriggeredAt = &ts
	}
	return a
}

func copyDecimal(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}

var _ AlertStore = (*MemoryStore)(nil)
