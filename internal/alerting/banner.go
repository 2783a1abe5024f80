package alerting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind classifies a banner.
type Kind string

const (
	KindInfo    Kind = "info"
	KindSuccess Kind = "success"
	KindError   Kind = "error"
)

// MaxActions is the number of actions a banner may carry.
const MaxActions = 2

var (
	// ErrBannerNotFound is returned for unknown banner ids.
	ErrBannerNotFound = errors.New("banner not found")
	// ErrActionNotFound is returned for an out-of-range action index.
	ErrActionNotFound = errors.New("banner action not found")
)

// Effect is the callback of a banner action.
type Effect func(ctx context.Context) error

// Action is a user-invoked banner button. Invoking it runs Effect and then
// removes the banner.
type Action struct {
	Label  string `json:"label"`
	Effect Effect `json:"-"`
}

// Banner is an in-app notification entry.
type Banner struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Icon      string    `json:"icon,omitempty"`
	Actions   []Action  `json:"actions,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// EventType names a board change.
type EventType string

const (
	EventAdded   EventType = "added"
	EventRemoved EventType = "removed"
	EventCleared EventType = "cleared"
)

// Event is delivered to board subscribers.
type Event struct {
	Type   EventType `json:"event"`
	Banner *Banner   `json:"banner,omitempty"`
	ID     string    `json:"id,omitempty"`
}

// Board holds the in-app banners of a session.
type Board struct {
	mu      sync.RWMutex
	banners []Banner
	subs    map[int]chan Event
	nextSub int
	now     func() time.Time
}

// NewBoard returns an empty board.
func NewBoard() *Board {
	return &Board{subs: make(map[int]chan Event), now: time.Now}
}

// Add appends a banner and returns it with its assigned id.
func (b *Board) Add(banner Banner) (Banner, error) {
	if len(banner.Actions) > MaxActions {
		return Banner{}, fmt.Errorf("banner supports at most %d actions, got %d", MaxActions, len(banner.Actions))
	}
	for i, a := range banner.Actions {
		if a.Label == "" || a.Effect == nil {
			return Banner{}, fmt.Errorf("banner action %d needs a label and an effect", i)
		}
	}
	if banner.Kind == "" {
		banner.Kind = KindInfo
	}
	banner.ID = uuid.NewString()

	b.mu.Lock()
	banner.CreatedAt = b.now().UTC()
	b.banners = append(b.banners, banner)
	b.publish(Event{Type: EventAdded, Banner: &banner, ID: banner.ID})
	b.mu.Unlock()
	return banner, nil
}

// Remove deletes a banner, reporting whether it existed.
func (b *Board) Remove(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.removeLocked(id)
}

func (b *Board) removeLocked(id string) bool {
	for i, banner := range b.banners {
		if banner.ID == id {
			b.banners = append(b.banners[:i], b.banners[i+1:]...)
			b.publish(Event{Type: EventRemoved, ID: id})
			return true
		}
	}
	return false
}

// Clear drops every banner and returns how many were removed.
func (b *Board) Clear() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.banners)
	b.banners = nil
	b.publish(Event{Type: EventCleared})
	return n
}

// List returns the banners oldest first.
func (b *Board) List() []Banner {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Banner, len(b.banners))
	copy(out, b.banners)
	return out
}

// Invoke runs action index of banner id and removes the banner, even when the
// effect fails. The effect error is returned.
func (b *Board) Invoke(ctx context.Context, id string, index int) error {
	b.mu.RLock()
	var effect Effect
	found := false
	for _, banner := range b.banners {
		if banner.ID != id {
			continue
		}
		found = true
		if index >= 0 && index < len(banner.Actions) {
			effect = banner.Actions[index].Effect
		}
		break
	}
	b.mu.RUnlock()

	if !found {
		return ErrBannerNotFound
	}
	if effect == nil {
		return ErrActionNotFound
	}

	defer b.Remove(id)
	return effect(ctx)
}

// Subscribe registers for board events. The returned cancel func must be
// called to release the subscription. Slow subscribers miss events.
func (b *Board) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// publish must be called with mu held.
func (b *Board) publish(ev Event) {
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
