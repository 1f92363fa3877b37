// Package progress routes pipeline events from running queries to the
// clients watching them.
package progress

import (
	"sync"

	"github.com/google/uuid"

	"github.com/imedina/evidens/internal/model"
)

// subscriber buffer. Events beyond this while the client is slow are
// dropped rather than blocking the pipeline.
const subscriberBuffer = 32

// Hub fans progress events out to per-request subscribers. Delivery is
// at-most-once: publishing never blocks, and events for requests with
// no subscriber are dropped so work continues after a disconnect.
type Hub struct {
	mu   sync.Mutex
	subs map[string]chan model.ProgressEvent
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]chan model.ProgressEvent)}
}

// NewRequestID mints an identifier for a query request.
func (h *Hub) NewRequestID() string {
	return uuid.NewString()
}

// Subscribe registers the single watcher for a request and returns its
// event channel plus a cancel function. A second subscriber for the
// same request replaces the first, whose channel is closed.
func (h *Hub) Subscribe(requestID string) (<-chan model.ProgressEvent, func()) {
	ch := make(chan model.ProgressEvent, subscriberBuffer)

	h.mu.Lock()
	if prev, ok := h.subs[requestID]; ok {
		close(prev)
	}
	h.subs[requestID] = ch
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.subs[requestID] == ch {
			delete(h.subs, requestID)
			close(ch)
		}
	}
	return ch, cancel
}

// Publish delivers an event to the request's subscriber, if any. A
// terminal event also closes the stream. Slow or absent subscribers
// lose events; the publisher is never delayed.
func (h *Hub) Publish(requestID string, event model.ProgressEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, ok := h.subs[requestID]
	if !ok {
		return
	}
	select {
	case ch <- event:
	default:
	}
	if event.Terminal {
		delete(h.subs, requestID)
		close(ch)
	}
}

// Emitter binds a request ID into a callback the pipeline stages can
// call without knowing about the hub.
func (h *Hub) Emitter(requestID string) func(model.ProgressEvent) {
	return func(event model.ProgressEvent) {
		h.Publish(requestID, event)
	}
}
