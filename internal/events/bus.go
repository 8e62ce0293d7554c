// Package events carries run lifecycle events from the driver to observers
// such as the audit log.
package events

import (
	"sync"
	"time"
)

// EventType represents the type of event being published.
type EventType string

const (
	// EventRunStarted is published once the job has been expanded.
	EventRunStarted EventType = "run_started"
	// EventStepStarted is published before a task is dispatched.
	EventStepStarted EventType = "step_started"
	// EventStepCompleted is published when a task finished successfully.
	EventStepCompleted EventType = "step_completed"
	// EventStepFailed is published when a task failed; no later task runs.
	EventStepFailed EventType = "step_failed"
	// EventRunFinished is published at the end of every run, including
	// runs that failed before any task started.
	EventRunFinished EventType = "run_finished"

	// AllEvents subscribes to every event type.
	AllEvents EventType = "*"
)

// Event represents a run event.
type Event struct {
	Type      EventType
	Timestamp time.Time
	RunID     string
	Data      map[string]any
}

// Subscriber is a function that receives events.
type Subscriber func(Event)

// Bus delivers events synchronously, in publish order, on the publishing
// goroutine. A panicking subscriber does not affect other subscribers or
// the publisher.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]*subscription
}

type subscription struct {
	fn Subscriber
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[EventType][]*subscription)}
}

// Subscribe registers fn for eventType, or for every type with AllEvents.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscription{fn: fn}
	b.subscribers[eventType] = append(b.subscribers[eventType], sub)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		subs := b.subscribers[eventType]
		for i, s := range subs {
			if s == sub {
				b.subscribers[eventType] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
	}
}

// Publish stamps and delivers an event to the subscribers of its type and
// to AllEvents subscribers. A nil Bus drops the event.
func (b *Bus) Publish(eventType EventType, runID string, data map[string]any) {
	if b == nil {
		return
	}
	event := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		RunID:     runID,
		Data:      data,
	}

	b.mu.RLock()
	subs := make([]*subscription, 0, len(b.subscribers[eventType])+len(b.subscribers[AllEvents]))
	subs = append(subs, b.subscribers[eventType]...)
	subs = append(subs, b.subscribers[AllEvents]...)
	b.mu.RUnlock()

	for _, s := range subs {
		deliver(s.fn, event)
	}
}

func deliver(fn Subscriber, event Event) {
	defer func() {
		// subscriber panics must not abort the run
		_ = recover()
	}()
	fn(event)
}

// Close drops all subscriptions.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.subscribers)
}
