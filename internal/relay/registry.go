package relay

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Amount is a price that may arrive as a JSON number or string.
type Amount struct {
	Value decimal.Decimal
	Set   bool
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*a = Amount{}
		return nil
	}
	raw := strings.Trim(string(data), `"`)
	raw = strings.ReplaceAll(strings.TrimPrefix(strings.TrimSpace(raw), "$"), ",", "")
	value, err := decimal.NewFromString(raw)
	if err != nil {
		// unparseable amounts count as missing
		*a = Amount{}
		return nil
	}
	*a = Amount{Value: value, Set: true}
	return nil
}

// Present reports whether the amount is set and non-zero.
func (a Amount) Present() bool {
	return a.Set && !a.Value.IsZero()
}

// AlertPayload holds the fields of an alert object the relay relies on.
type AlertPayload struct {
	Coin         string `json:"coin"`
	CoinName     string `json:"coin_name"`
	TargetPrice  Amount `json:"target_price"`
	CurrentPrice Amount `json:"current_price"`
}

// Valid reports whether the required alert fields are present.
func (p AlertPayload) Valid() bool {
	return p.Coin != "" && p.CoinName != "" && p.TargetPrice.Present()
}

// Notification is a registry entry as returned by GET /api/notifications.
type Notification struct {
	Alert       json.RawMessage `json:"alert"`
	Triggered   bool            `json:"triggered"`
	TriggeredAt *string         `json:"triggeredAt"`
}

type registryEntry struct {
	raw         json.RawMessage
	coin        string
	target      decimal.Decimal
	triggered   bool
	triggeredAt *time.Time
}

func (e *registryEntry) matches(p AlertPayload) bool {
	return e.coin == p.Coin && e.target.Equal(p.TargetPrice.Value)
}

// Registry keeps the alerts reported per user email in memory.
type Registry struct {
	mu      sync.RWMutex
	byEmail map[string][]*registryEntry
	now     func() time.Time
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byEmail: make(map[string][]*registryEntry), now: time.Now}
}

// Register records an untriggered alert unless one with the same coin and
// target already exists. It reports whether an entry was added.
func (r *Registry) Register(email string, raw json.RawMessage, p AlertPayload) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.byEmail[email] {
		if e.matches(p) {
			return false
		}
	}
	r.byEmail[email] = append(r.byEmail[email], &registryEntry{
		raw:    cloneRaw(raw),
		coin:   p.Coin,
		target: p.TargetPrice.Value,
	})
	return true
}

// MarkTriggered flips the first untriggered matching entry, or appends the
// alert as triggered when none matches. It reports whether an existing entry
// was flipped.
func (r *Registry) MarkTriggered(email string, raw json.RawMessage, p AlertPayload) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now().UTC()
	for _, e := range r.byEmail[email] {
		if !e.triggered && e.matches(p) {
			e.triggered = true
			e.triggeredAt = &now
			return true
		}
	}
	r.byEmail[email] = append(r.byEmail[email], &registryEntry{
		raw:         cloneRaw(raw),
		coin:        p.Coin,
		target:      p.TargetPrice.Value,
		triggered:   true,
		triggeredAt: &now,
	})
	return false
}

// List returns the entries of email in insertion order.
func (r *Registry) List(email string) []Notification {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Notification, 0, len(r.byEmail[email]))
	for _, e := range r.byEmail[email] {
		n := Notification{Alert: cloneRaw(e.raw), Triggered: e.triggered}
		if e.triggeredAt != nil {
			ts := e.triggeredAt.Format(isoMillis)
			n.TriggeredAt = &ts
		}
		out = append(out, n)
	}
	return out
}

// Len returns the number of entries across all users.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, entries := range r.byEmail {
		n += len(entries)
	}
	return n
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out
}
