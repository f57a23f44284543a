package catalog

import (
	"log/slog"
	"sync"
)

type EventState string

const (
	EventRunning   EventState = "running"
	EventCompleted EventState = "completed"
	EventFailed    EventState = "failed"
)

// Event is one sync progress notification for a profile.
type Event struct {
	ProfileID string     `json:"profile_id"`
	TaskID    string     `json:"task_id,omitempty"`
	State     EventState `json:"state"`
	Progress  *Progress  `json:"progress,omitempty"`
	Error     string     `json:"error,omitempty"`
}

const subscriberBuffer = 16

// Hub fans sync events out to subscribers of a profile. Slow subscribers
// drop events instead of blocking the sync.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan Event]struct{})}
}

// Subscribe returns a channel of the profile's events and a func that
// unsubscribes and closes it.
func (h *Hub) Subscribe(profileID string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	if h.subs[profileID] == nil {
		h.subs[profileID] = make(map[chan Event]struct{})
	}
	h.subs[profileID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[profileID], ch)
			if len(h.subs[profileID]) == 0 {
				delete(h.subs, profileID)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *Hub) Publish(event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subs[event.ProfileID] {
		select {
		case ch <- event:
		default:
			slog.Debug("Dropping sync event for slow subscriber", "profile", event.ProfileID, "state", event.State)
		}
	}
}

func (h *Hub) Subscribers(profileID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[profileID])
}
