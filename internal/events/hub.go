// Package events delivers showtime changes to in-process subscribers.
package events

import (
	"context"
	"sync"

	"github.com/kirinyoku/cinego/internal/domain"
)

// Publisher is implemented by Hub and by the Redis pub/sub adapter.
type Publisher interface {
	Publish(ctx context.Context, ev domain.ShowtimeEvent) error
}

// Hub fans events out to subscribers of a single showtime. Slow subscribers
// miss events rather than block publishers.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[chan domain.ShowtimeEvent]struct{}
	buffer int
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{
		subs:   make(map[string]map[chan domain.ShowtimeEvent]struct{}),
		buffer: buffer,
	}
}

// Subscribe registers for events of showtimeID until cancel is called.
func (h *Hub) Subscribe(showtimeID string) (<-chan domain.ShowtimeEvent, func()) {
	ch := make(chan domain.ShowtimeEvent, h.buffer)

	h.mu.Lock()
	set, ok := h.subs[showtimeID]
	if !ok {
		set = make(map[chan domain.ShowtimeEvent]struct{})
		h.subs[showtimeID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()

			delete(h.subs[showtimeID], ch)
			if len(h.subs[showtimeID]) == 0 {
				delete(h.subs, showtimeID)
			}
			close(ch)
		})
	}

	return ch, cancel
}

func (h *Hub) Publish(_ context.Context, ev domain.ShowtimeEvent) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subs[ev.ShowtimeID] {
		select {
		case ch <- ev:
		default:
		}
	}

	return nil
}

// Deliver adapts Publish to the Redis subscription handler signature.
func (h *Hub) Deliver(ctx context.Context, ev domain.ShowtimeEvent) {
	_ = h.Publish(ctx, ev)
}

func (h *Hub) Subscribers(showtimeID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[showtimeID])
}
