// Package memory provides an in-process alert event publisher. It backs
// deployments without a Pub/Sub project (events stay local and inspectable)
// and serves as the recorder in pipeline tests.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Event captures one published alert event.
type Event struct {
	Topic   string
	Payload any
}

// Publisher records published alert events in order.
type Publisher struct {
	mu     sync.RWMutex
	events []Event
}

// New returns an empty in-process Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the event and returns a locally generated ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, Event{Topic: topic, Payload: payload})
	return fmt.Sprintf("local-%d", len(p.events)), nil
}

// Events returns a copy of every recorded event.
func (p *Publisher) Events() []Event {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// OnTopic returns the recorded events published to the given topic.
func (p *Publisher) OnTopic(topic string) []Event {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []Event
	for _, ev := range p.events {
		if ev.Topic == topic {
			out = append(out, ev)
		}
	}
	return out
}
