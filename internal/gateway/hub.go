package gateway

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// subscriberBuffer is the per-connection outbound queue depth. A subscriber
// that falls this far behind is dropped.
const subscriberBuffer = 64

type subscriber struct {
	send chan []byte
}

// Hub fans outbound messages to every subscribed connection. Publication
// never blocks: a subscriber whose queue is full is removed and its channel
// closed, which terminates that connection's write loop.
type Hub struct {
	logger *zap.Logger

	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger: logger,
		subs:   make(map[*subscriber]struct{}),
	}
}

// Publish encodes the event once and queues it for every subscriber.
func (h *Hub) Publish(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("encoding event failed",
			zap.String("event_type", string(ev.Type)),
			zap.Error(err),
		)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		if !h.enqueueLocked(sub, data) {
			h.logger.Warn("dropping slow subscriber")
		}
	}
}

// deliver queues a message for a single subscriber. It reports false when
// the subscriber has already been dropped or falls behind.
func (h *Hub) deliver(sub *subscriber, data []byte) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; !ok {
		return false
	}
	return h.enqueueLocked(sub, data)
}

// enqueueLocked attempts a non-blocking send, removing the subscriber on a
// full queue. Caller must hold h.mu; channels are only closed under the
// lock, so sends here can never hit a closed channel.
func (h *Hub) enqueueLocked(sub *subscriber, data []byte) bool {
	select {
	case sub.send <- data:
		return true
	default:
		delete(h.subs, sub)
		close(sub.send)
		return false
	}
}

func (h *Hub) subscribe() *subscriber {
	sub := &subscriber{send: make(chan []byte, subscriberBuffer)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

func (h *Hub) unsubscribe(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.send)
	}
}

// Len returns the number of live subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
