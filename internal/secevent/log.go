package secevent

import (
	"strings"
	"sync"
	"time"

	"kenmesh.org/internal/ids"
	"kenmesh.org/internal/obs"
)

// DefaultCapacity bounds the in-memory event history.
const DefaultCapacity = 1000

// Event is a single security-relevant occurrence (credential issued,
// validation denied, rate limit tripped, ...).
type Event struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	OccurredAt time.Time      `json:"occurred_at"`
	Fields     map[string]any `json:"fields"`
}

// Log keeps the most recent events in a fixed-capacity ring buffer.
// Appends evict the oldest entry once the buffer is full, so memory
// stays bounded without periodic copies.
type Log struct {
	mu    sync.Mutex
	ring  []Event
	head  int // next write position
	count int
	sink  func(Event)
}

// Option configures Log.
type Option func(*Log)

// WithSink registers a callback invoked for every appended event, after
// it has been recorded. Used to feed live subscribers. The sink must not
// block.
func WithSink(fn func(Event)) Option {
	return func(l *Log) { l.sink = fn }
}

// NewLog creates a log holding at most capacity events. Non-positive
// capacity falls back to DefaultCapacity.
func NewLog(capacity int, opts ...Option) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	l := &Log{ring: make([]Event, capacity)}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append records an event and mirrors it to the JSON logger. It never
// fails: a security check must not be able to break on its own logging.
func (l *Log) Append(eventType string, fields map[string]any) {
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return
	}
	var copyFields map[string]any
	if len(fields) > 0 {
		copyFields = make(map[string]any, len(fields))
		for k, v := range fields {
			copyFields[k] = v
		}
	}
	ev := Event{
		ID:         ids.New(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Fields:     copyFields,
	}

	l.mu.Lock()
	l.ring[l.head] = ev
	l.head = (l.head + 1) % len(l.ring)
	if l.count < len(l.ring) {
		l.count++
	}
	l.mu.Unlock()

	entry := map[string]any{
		"ts":    ev.OccurredAt.Format(time.RFC3339Nano),
		"type":  "security_event",
		"event": ev.Type,
		"id":    ev.ID,
	}
	if copyFields != nil {
		entry["fields"] = copyFields
	} else {
		entry["fields"] = map[string]any{}
	}
	obs.LogRequest(entry)

	if l.sink != nil {
		l.sink(ev)
	}
}

// Recent returns up to n events, oldest first. n <= 0 returns everything
// retained.
func (l *Log) Recent(n int) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= 0 || n > l.count {
		n = l.count
	}
	out := make([]Event, 0, n)
	start := l.head - n
	if start < 0 {
		start += len(l.ring)
	}
	for i := 0; i < n; i++ {
		out = append(out, l.ring[(start+i)%len(l.ring)])
	}
	return out
}

// Len reports how many events are currently retained.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}
