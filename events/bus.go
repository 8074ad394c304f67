package events

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Bus is a bounded in-memory event log with synchronous fan-out to
// subscribers and optional JSONL persistence. When the buffer is full the
// oldest events are dropped; emission never blocks on a slow consumer
// because subscriber callbacks are expected to hand off quickly (the
// websocket hub buffers per connection and drops laggards).
type Bus struct {
	mu      sync.Mutex
	buf     []Event
	max     int
	nextSub int
	subs    map[int]func(Event)
	sink    *os.File
	logger  *slog.Logger
}

// NewBus creates a bus holding at most size events. persistPath, when
// non-empty, appends every event as one JSON line.
func NewBus(size int, persistPath string, logger *slog.Logger) (*Bus, error) {
	if size <= 0 {
		size = 1000
	}
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{
		buf:    make([]Event, 0, size),
		max:    size,
		subs:   make(map[int]func(Event)),
		logger: logger,
	}
	if persistPath != "" {
		if err := os.MkdirAll(filepath.Dir(persistPath), 0o755); err != nil {
			return nil, err
		}
		f, err := os.OpenFile(persistPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		b.sink = f
	}
	return b, nil
}

// Emit appends e to the buffer, persists it and notifies subscribers.
func (b *Bus) Emit(e Event) {
	b.mu.Lock()
	if len(b.buf) >= b.max {
		copy(b.buf, b.buf[1:])
		b.buf = b.buf[:len(b.buf)-1]
	}
	b.buf = append(b.buf, e)

	if b.sink != nil {
		if line, err := json.Marshal(e); err == nil {
			line = append(line, '\n')
			if _, werr := b.sink.Write(line); werr != nil {
				b.logger.Warn("event persistence failed", "error", werr)
			}
		}
	}

	subs := make([]func(Event), 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	b.mu.Unlock()

	for _, fn := range subs {
		fn(e)
	}
}

// Subscribe registers fn for every future event. The returned function
// removes the subscription.
func (b *Bus) Subscribe(fn func(Event)) func() {
	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Events returns a snapshot of buffered events, optionally filtered by job.
func (b *Bus) Events(jobID string) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Event, 0, len(b.buf))
	for _, e := range b.buf {
		if jobID == "" || e.JobID == jobID {
			out = append(out, e)
		}
	}
	return out
}

// Close releases the persistence sink.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sink == nil {
		return nil
	}
	err := b.sink.Close()
	b.sink = nil
	return err
}
