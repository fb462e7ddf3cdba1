package feed

import (
	"log/slog"
	"sync"

	"futures_go/internal/domain"
)

const subscriberBuffer = 256

// eventHub fans feed events out to subscriber channels. Slow subscribers
// drop events rather than stalling the quote path.
type eventHub struct {
	mu     sync.RWMutex
	subs   map[int]chan domain.Event
	nextID int
	closed bool
}

func newEventHub() *eventHub {
	return &eventHub{subs: make(map[int]chan domain.Event)}
}

// subscribe registers a listener. The returned cancel func must be called
// (or the hub closed) to release the channel.
func (h *eventHub) subscribe() (<-chan domain.Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		ch := make(chan domain.Event)
		close(ch)
		return ch, func() {}
	}

	id := h.nextID
	h.nextID++
	ch := make(chan domain.Event, subscriberBuffer)
	h.subs[id] = ch

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub)
		}
	}
}

func (h *eventHub) publish(ev domain.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return
	}
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			slog.Debug("event subscriber full, dropping", slog.String("type", string(ev.Type)))
		}
	}
}

// close shuts every subscriber channel down. Called once on Stop.
func (h *eventHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
