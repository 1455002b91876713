// Package events records protocol events for indexers and live subscribers.
//
// Every state-changing protocol call emits one or more events. The Bus keeps
// a bounded in-memory log (queryable over HTTP) and fans each event out to
// registered sinks such as the websocket hub.
package events

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/solace-fi/coverage/internal/chain"
)

// DefaultCapacity is the number of events retained by a Bus.
const DefaultCapacity = 10000

// Event is a single emitted protocol event.
type Event struct {
	Seq       uint64         `json:"seq"`
	Name      string         `json:"name"`
	Source    common.Address `json:"source"`
	Block     uint64         `json:"block"`
	Timestamp time.Time      `json:"timestamp"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Emitter is implemented by anything that accepts protocol events.
type Emitter interface {
	Emit(source common.Address, name string, fields map[string]any)
}

// Sink receives every event after it is appended to the log.
type Sink interface {
	Publish(e Event)
}

// Bus is an Emitter with a bounded log and fan-out sinks.
type Bus struct {
	clock    chain.Clock
	mu       sync.RWMutex
	log      []Event
	capacity int
	nextSeq  uint64
	sinks    []Sink

	holding bool
	pending []Event
}

// NewBus creates an event bus stamped by clock.
func NewBus(clock chain.Clock) *Bus {
	return &Bus{
		clock:    clock,
		capacity: DefaultCapacity,
		nextSeq:  1,
	}
}

// AddSink registers a sink. Sinks are called synchronously and must not block.
func (b *Bus) AddSink(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

// Emit appends an event and publishes it to every sink. Between Hold and
// Commit the event is buffered instead.
func (b *Bus) Emit(source common.Address, name string, fields map[string]any) {
	e := Event{
		Name:      name,
		Source:    source,
		Block:     b.clock.BlockNumber(),
		Timestamp: b.clock.Now(),
		Fields:    fields,
	}
	b.mu.Lock()
	if b.holding {
		b.pending = append(b.pending, e)
		b.mu.Unlock()
		return
	}
	e = b.appendLocked(e)
	sinks := b.sinks
	b.mu.Unlock()

	for _, s := range sinks {
		s.Publish(e)
	}
}

// Hold buffers emitted events until Commit or Discard. The protocol holds
// the bus for the length of one serialized write.
func (b *Bus) Hold() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.holding = true
	b.pending = nil
}

// Commit logs and publishes the buffered events in emission order.
func (b *Bus) Commit() {
	b.mu.Lock()
	if !b.holding {
		b.mu.Unlock()
		return
	}
	held := b.pending
	b.holding = false
	b.pending = nil
	out := make([]Event, len(held))
	for i, e := range held {
		out[i] = b.appendLocked(e)
	}
	sinks := b.sinks
	b.mu.Unlock()

	for _, e := range out {
		for _, s := range sinks {
			s.Publish(e)
		}
	}
}

// Discard drops the buffered events. It is a no-op after Commit.
func (b *Bus) Discard() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.holding = false
	b.pending = nil
}

func (b *Bus) appendLocked(e Event) Event {
	e.Seq = b.nextSeq
	b.nextSeq++
	b.log = append(b.log, e)
	if len(b.log) > b.capacity {
		b.log = b.log[len(b.log)-b.capacity:]
	}
	return e
}

// Since returns up to limit events with Seq > after, optionally filtered by name.
func (b *Bus) Since(after uint64, name string, limit int) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	var out []Event
	for _, e := range b.log {
		if e.Seq <= after {
			continue
		}
		if name != "" && e.Name != name {
			continue
		}
		out = append(out, e)
		if len(out) >= limit {
			break
		}
	}
	return out
}

// Last returns the most recent event with the given name.
func (b *Bus) Last(name string) (Event, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for i := len(b.log) - 1; i >= 0; i-- {
		if b.log[i].Name == name {
			return b.log[i], true
		}
	}
	return Event{}, false
}

// Count returns how many retained events carry the given name.
func (b *Bus) Count(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, e := range b.log {
		if e.Name == name {
			n++
		}
	}
	return n
}

// Nop discards events.
type Nop struct{}

func (Nop) Emit(common.Address, string, map[string]any) {}
