// Package connectivity tracks the host's online/offline signal.
//
// The monitor never probes the network itself. It can report online while
// the remote store is unreachable; callers treat remote failures as
// retryable regardless of what the monitor says.
package connectivity

import (
	"slices"
	"sync"

	"drainvoice/internal/logger"
)

// Event is an edge-triggered connectivity transition.
type Event int

const (
	WentOnline Event = iota + 1
	WentOffline
)

func (e Event) String() string {
	switch e {
	case WentOnline:
		return "wentOnline"
	case WentOffline:
		return "wentOffline"
	default:
		return "unknown"
	}
}

// Monitor is the read side the sync engine and invoice manager depend on.
type Monitor interface {
	IsOnline() bool
	// Subscribe registers fn for transition events and returns a function
	// that removes the subscription. Subscribers are called in registration
	// order.
	Subscribe(fn func(Event)) (unsubscribe func())
}

// Tracker is the process-wide Monitor fed by the host signal.
type Tracker struct {
	mu     sync.RWMutex
	online bool
	nextID int
	subs   []subscriber
}

type subscriber struct {
	id int
	fn func(Event)
}

// NewTracker creates a tracker with the given initial state.
func NewTracker(online bool) *Tracker {
	return &Tracker{online: online}
}

func (t *Tracker) IsOnline() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.online
}

func (t *Tracker) Subscribe(fn func(Event)) func() {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.subs = append(t.subs, subscriber{id: id, fn: fn})
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			t.subs = slices.DeleteFunc(t.subs, func(s subscriber) bool { return s.id == id })
			t.mu.Unlock()
		})
	}
}

// SetOnline records the host signal. Subscribers are notified in
// registration order, one after another, only when the state actually
// changes and outside the lock. It reports whether a transition
// happened.
func (t *Tracker) SetOnline(online bool) bool {
	t.mu.Lock()
	if t.online == online {
		t.mu.Unlock()
		return false
	}
	t.online = online
	subs := make([]func(Event), 0, len(t.subs))
	for _, sub := range t.subs {
		subs = append(subs, sub.fn)
	}
	t.mu.Unlock()

	event := WentOffline
	if online {
		event = WentOnline
	}

	log := logger.WithComponent("connectivity")
	log.Info().Str("event", event.String()).Int("subscribers", len(subs)).Msg("Connectivity changed")

	for _, fn := range subs {
		fn(event)
	}
	return true
}
