package session

import (
	"sync"
)

// subscriberBuffer is the per-subscriber channel depth. A subscriber that
// falls further behind than this skips frames rather than stalling writers.
const subscriberBuffer = 64

// Hub owns the current Snapshot and fans it out to subscribers. Every
// mutation goes through Update, making the hub the single serialization
// point for snapshot writes.
type Hub struct {
	mu      sync.RWMutex
	current Snapshot
	subs    map[chan Snapshot]struct{}
}

func NewHub() *Hub {
	return &Hub{
		subs: make(map[chan Snapshot]struct{}),
	}
}

// Subscribe registers a new subscriber channel. The current snapshot is
// delivered immediately so late joiners never start from a zeroed state.
func (h *Hub) Subscribe() chan Snapshot {
	ch := make(chan Snapshot, subscriberBuffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[ch] = struct{}{}
	ch <- h.current
	return ch
}

// Unsubscribe removes and closes a subscriber channel. Calling it for a
// channel that was already removed is a no-op.
func (h *Hub) Unsubscribe(ch chan Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
}

// Update applies mutate to the current snapshot under the hub lock and
// pushes the full resulting snapshot to every subscriber. Delivery is
// best-effort: a subscriber with a full channel misses this frame.
func (h *Hub) Update(mutate func(*Snapshot)) Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	mutate(&h.current)
	snap := h.current
	for ch := range h.subs {
		select {
		case ch <- snap:
		default:
			// Subscriber can't keep up, drop the frame.
		}
	}
	return snap
}

// Current returns a copy of the current snapshot.
func (h *Hub) Current() Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// SubscriberCount returns the number of registered subscriber channels.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
