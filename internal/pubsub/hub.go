package pubsub

import (
	"log/slog"
	"sync"

	"drumscribe/internal/ledger"
	"drumscribe/internal/logging"
)

// subscriberBuffer bounds how far a subscriber may fall behind before
// events are dropped. Dropped events degrade push freshness only; the
// ledger snapshot remains authoritative.
const subscriberBuffer = 16

type subscriber struct {
	id int
	ch chan ledger.ProgressEvent
}

// Hub is a lightweight fan-out pub/sub primitive keyed by job id. Channels
// are created implicitly on first publish or subscribe and garbage-collected
// when the last subscriber leaves.
type Hub struct {
	logger *slog.Logger

	mu     sync.RWMutex
	subs   map[string][]subscriber
	nextID int
}

// NewHub constructs an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger: logging.NewComponentLogger(logger, "pubsub"),
		subs:   make(map[string][]subscriber),
	}
}

// Publish delivers an event to every current subscriber of the job's
// channel. Delivery is best effort and never blocks: a subscriber whose
// buffer is full misses the event.
func (h *Hub) Publish(event ledger.ProgressEvent) {
	// Sends stay under the read lock so an unsubscribe (which closes the
	// channel under the write lock) cannot interleave with a send. Sends
	// are non-blocking, so the lock is held only briefly.
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs[event.JobID] {
		select {
		case sub.ch <- event:
		default:
			h.logger.Debug("dropping event for slow subscriber",
				logging.String(logging.FieldJobID, event.JobID),
				logging.Int("subscriber", sub.id),
			)
		}
	}
}

// Subscribe registers a new subscriber for a job's channel and returns the
// event stream plus an unsubscribe function. Every subscriber receives every
// subsequent event independently (fan-out, not competing-consumer).
// Unsubscribing closes the stream.
func (h *Hub) Subscribe(jobID string) (<-chan ledger.ProgressEvent, func()) {
	ch := make(chan ledger.ProgressEvent, subscriberBuffer)

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs[jobID] = append(h.subs[jobID], subscriber{id: id, ch: ch})
	h.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			h.mu.Lock()
			subs := h.subs[jobID]
			for i, sub := range subs {
				if sub.id == id {
					h.subs[jobID] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
			if len(h.subs[jobID]) == 0 {
				delete(h.subs, jobID)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsubscribe
}

// Subscribers returns the number of active subscribers for a job id.
func (h *Hub) Subscribers(jobID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[jobID])
}
