// Package mock provides a recording events.Publisher for tests.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/wakelink/internal/events"
)

var _ events.Publisher = (*Publisher)(nil)

// Publisher records every published event.
type Publisher struct {
	mu sync.Mutex

	// PublishErr, if non-nil, is returned by every Publish call.
	PublishErr error

	// Events records every event passed to Publish in order.
	Events []events.Event

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// Publish records ev and returns PublishErr.
func (p *Publisher) Publish(_ context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Events = append(p.Events, ev)
	return p.PublishErr
}

// Close records the call.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CloseCallCount++
	return nil
}

// Kinds returns the kinds of all recorded events in order. Thread-safe.
func (p *Publisher) Kinds() []events.Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Kind, len(p.Events))
	for i, ev := range p.Events {
		out[i] = ev.Kind
	}
	return out
}

// Recorded returns a copy of the recorded events. Thread-safe.
func (p *Publisher) Recorded() []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.Event(nil), p.Events...)
}
