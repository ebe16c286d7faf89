// Package events is the in-process notification hub feeding the WS event
// stream. Webhook and poller goroutines publish; WS client goroutines
// subscribe. Delivery is best effort: a slow subscriber drops frames
// rather than blocking a reconciliation path.
package events

import (
	"log/slog"
	"sync"

	"github.com/nextlevelbuilder/chatbridge/pkg/protocol"
)

const subscriberBuffer = 16

// Hub fans out event frames to all current subscribers.
type Hub struct {
	mu   sync.Mutex
	subs map[chan protocol.EventFrame]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan protocol.EventFrame]struct{})}
}

// Subscribe registers a new subscriber. Call the returned cancel func
// when the client goes away.
func (h *Hub) Subscribe() (<-chan protocol.EventFrame, func()) {
	ch := make(chan protocol.EventFrame, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers a frame to every subscriber without blocking.
func (h *Hub) Publish(frame protocol.EventFrame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- frame:
		default:
			slog.Debug("event subscriber buffer full, dropping frame", "event", frame.Event)
		}
	}
}
