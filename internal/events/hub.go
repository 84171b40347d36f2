package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the daemon.
const (
	ExecutionStarted  = "execution.started"
	ExecutionFinished = "execution.finished"
	ExecutionFailed   = "execution.failed"
	ExecutionTimedOut = "execution.timed_out"
	ExecutionStopped  = "execution.stopped"
	EmergencyStop     = "vehicle.emergency_stop"
	ScriptOutput      = "script.output"
)

// DefaultCapacity is the replay ring size used when NewHub is given zero.
const DefaultCapacity = 256

const subscriberBuffer = 128

// Event is one published notification. Data holds the JSON-encoded payload.
type Event struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// Publisher is what producers depend on.
type Publisher interface {
	Publish(eventType string, data any)
}

// Hub fans events out to subscribers and keeps the most recent ones so a
// client connecting mid-run can catch up.
type Hub struct {
	seq atomic.Int64

	mu     sync.Mutex
	recent []Event
	head   int
	count  int
	subs   map[int]chan Event
	nextID int
}

// NewHub returns a hub replaying up to capacity events.
func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Hub{
		recent: make([]Event, capacity),
		subs:   make(map[int]chan Event),
	}
}

// Publish implements Publisher. Payloads that fail to encode are published as {}.
func (h *Hub) Publish(eventType string, data any) {
	payload := json.RawMessage("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}
	ev := Event{ID: h.seq.Add(1), Type: eventType, At: time.Now().UTC(), Data: payload}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.remember(ev)
	for _, ch := range h.subs {
		// A slow subscriber loses events rather than stalling the engine.
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe returns a channel of future events and a func that closes it.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan Event, subscriberBuffer)
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			close(ch)
			h.mu.Unlock()
		})
	}
}

// Since returns retained events with ID greater than after, oldest first.
func (h *Hub) Since(after int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, h.count)
	for i := 0; i < h.count; i++ {
		ev := h.recent[(h.head+i)%len(h.recent)]
		if ev.ID > after {
			out = append(out, ev)
		}
	}
	return out
}

// Subscribers reports how many subscriptions are open.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) remember(ev Event) {
	if h.count < len(h.recent) {
		h.recent[(h.head+h.count)%len(h.recent)] = ev
		h.count++
		return
	}
	h.recent[h.head] = ev
	h.head = (h.head + 1) % len(h.recent)
}
