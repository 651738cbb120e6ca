// Package events provides an in-process pub/sub broker for sandbox
// lifecycle events, fanned out to websocket watchers.
package events

import (
	"sync"
	"time"
)

// Kinds of lifecycle events published by the sandbox manager.
const (
	SandboxCreated    = "sandbox.created"
	SandboxPaused     = "sandbox.paused"
	SandboxResumed    = "sandbox.resumed"
	SandboxTerminated = "sandbox.terminated"
)

// Event is one sandbox lifecycle transition.
type Event struct {
	Kind      string    `json:"kind"`
	ProjectID string    `json:"projectId,omitempty"`
	SandboxID string    `json:"sandboxId"`
	Timestamp time.Time `json:"timestamp"`
}

// subscriberBuffer bounds each subscriber's channel; slow subscribers drop
// events rather than blocking publishers.
const subscriberBuffer = 16

// Broker fans events out to subscribers.
type Broker struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a new subscriber. The returned cancel function must be
// called to release the subscription; the channel is closed by cancel.
func (b *Broker) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber, dropping it for any
// subscriber whose buffer is full.
func (b *Broker) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
