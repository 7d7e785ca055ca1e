// Package memory keeps publication events in process, for tests and for
// deployments that run without a Pub/Sub topic.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Event is one publication announcement as the publisher saw it.
type Event struct {
	Topic   string
	Payload any
}

// Publisher collects publication events instead of sending them anywhere.
// Tests assert against Events; the no-topic deployment mode just lets the
// slice grow and be garbage collected with the process.
type Publisher struct {
	mu     sync.RWMutex
	events []Event
}

// New returns an empty in-process Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish appends the event and returns a synthetic event ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, Event{Topic: topic, Payload: payload})
	return fmt.Sprintf("local-%d", len(p.events)), nil
}

// Events returns a copy of everything published so far.
func (p *Publisher) Events() []Event {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}
