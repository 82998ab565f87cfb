package broadcast

import (
	"context"
	"sync"

	"github.com/oshokin/sensor-bridge/internal/logger"
)

// Message is one serialized record queued for delivery.
type Message struct {
	// Kind labels the payload ("event" or "status"); observers receive
	// only the payload, the kind exists for logging and tests.
	Kind string
	// Payload is the serialized record delivered verbatim.
	Payload []byte
}

// Observer receives broadcast messages. Send must not block: an observer
// that cannot accept a message returns an error and is dropped from the
// registry. Implementations must be comparable (pointer types are).
type Observer interface {
	Send(msg Message) error
}

// Hub is the single handoff point between the blocking ingestion side and
// the observer-facing side. Enqueue never waits (the queue is unbounded);
// the delivery loop drains it in FIFO order and fans each message out to
// every registered observer. A failed delivery removes that observer only
// and the message is not retried.
type Hub struct {
	mu        sync.Mutex
	queue     []Message
	observers map[Observer]struct{}

	// wake signals the delivery loop that the queue is non-empty.
	wake chan struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		observers: make(map[Observer]struct{}),
		wake:      make(chan struct{}, 1),
	}
}

// Enqueue appends a message without blocking, regardless of queue depth or
// delivery progress.
func (h *Hub) Enqueue(kind string, payload []byte) {
	h.mu.Lock()
	h.queue = append(h.queue, Message{Kind: kind, Payload: payload})
	h.mu.Unlock()

	select {
	case h.wake <- struct{}{}:
	default:
	}
}

// Register adds an observer. Safe to call while delivery is running; the
// observer starts receiving from the next dequeued message.
func (h *Hub) Register(observer Observer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.observers[observer] = struct{}{}
}

// Unregister removes an observer. Removing an unknown observer is a no-op.
func (h *Hub) Unregister(observer Observer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.observers, observer)
}

// ObserverCount returns the number of registered observers.
func (h *Hub) ObserverCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.observers)
}

// Run drives the delivery loop until the context is canceled. Messages are
// delivered to all observers in exact enqueue order; a failing observer is
// unregistered without aborting delivery to the rest.
func (h *Hub) Run(ctx context.Context) {
	ctx = logger.WithName(ctx, "broadcast")

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.wake:
		}

		h.drain(ctx)
	}
}

func (h *Hub) drain(ctx context.Context) {
	for {
		h.mu.Lock()

		if len(h.queue) == 0 {
			h.mu.Unlock()

			return
		}

		msg := h.queue[0]
		h.queue = h.queue[1:]

		targets := make([]Observer, 0, len(h.observers))
		for observer := range h.observers {
			targets = append(targets, observer)
		}

		h.mu.Unlock()

		for _, observer := range targets {
			if err := observer.Send(msg); err != nil {
				h.Unregister(observer)
				logger.DebugKV(ctx, "Dropped observer", "kind", msg.Kind, "error", err)
			}
		}
	}
}
