package events

import (
	"testing"

	"github.com/nextlevelbuilder/chatbridge/pkg/protocol"
)

// TestHub_FanOut verifies every subscriber receives a published frame.
func TestHub_FanOut(t *testing.T) {
	h := NewHub()
	a, cancelA := h.Subscribe()
	b, cancelB := h.Subscribe()
	defer cancelA()
	defer cancelB()

	h.Publish(protocol.NewEvent(protocol.EventInstanceConnected, map[string]any{"instance": "x"}))

	for name, ch := range map[string]<-chan protocol.EventFrame{"a": a, "b": b} {
		select {
		case frame := <-ch:
			if frame.Event != protocol.EventInstanceConnected || frame.Type != "event" {
				t.Fatalf("%s received %+v", name, frame)
			}
		default:
			t.Fatalf("subscriber %s received nothing", name)
		}
	}
}

// TestHub_CancelStopsDelivery verifies a cancelled subscriber is removed
// and its channel closed, and that cancel is idempotent.
func TestHub_CancelStopsDelivery(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe()
	cancel()
	cancel()

	if _, open := <-ch; open {
		t.Fatal("channel still open after cancel")
	}

	// Publishing after cancel must not panic on the closed channel.
	h.Publish(protocol.NewEvent(protocol.EventInstanceDisconnected, nil))
}

// TestHub_SlowSubscriberDropsFrames verifies a full buffer never blocks
// the publisher.
func TestHub_SlowSubscriberDropsFrames(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe()
	defer cancel()

	for i := 0; i < subscriberBuffer+5; i++ {
		h.Publish(protocol.NewEvent(protocol.EventInstanceQR, nil))
	}

	received := 0
	for {
		select {
		case <-ch:
			received++
			continue
		default:
		}
		break
	}
	if received != subscriberBuffer {
		t.Fatalf("received = %d, want %d buffered frames", received, subscriberBuffer)
	}
}
