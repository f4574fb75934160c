package realtime

import (
	"sync"

	"scanattend/internal/metrics"
	"scanattend/internal/model"
)

// EventNewScan is emitted once per stored scan.
const EventNewScan = "new-scan"

// Event is pushed to live viewers.
type Event struct {
	Type   string
	Record model.AttendanceRecord
}

// Registry is the abstraction over live-session fan-out.
type Registry interface {
	Publish(evt Event)
	Subscribe() *Subscription
	Subscribers() int
}

// Subscription is one live session's view of the event stream. C is closed
// after Close.
type Subscription struct {
	C     <-chan Event
	close func()
	once  sync.Once
}

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(s.close)
}

// Hub is an in-process Registry. Publish never blocks: a subscriber whose
// buffer is full misses the event.
type Hub struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	next    uint64
	buffer  int
	metrics *metrics.Metrics
}

// NewHub creates a hub with a per-subscriber buffer of size buffer.
func NewHub(buffer int, m *metrics.Metrics) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{subs: make(map[uint64]chan Event), buffer: buffer, metrics: m}
}

// Publish delivers evt to every current subscriber.
func (h *Hub) Publish(evt Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- evt:
		default:
			h.metrics.BroadcastDropped()
		}
	}
}

// Subscribe registers a new live session.
func (h *Hub) Subscribe() *Subscription {
	ch := make(chan Event, h.buffer)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = ch
	h.metrics.SetLiveSessions(len(h.subs))
	h.mu.Unlock()

	return &Subscription{
		C: ch,
		close: func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.metrics.SetLiveSessions(len(h.subs))
			h.mu.Unlock()
			close(ch)
		},
	}
}

// Subscribers returns the number of live sessions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
