// Package notify delivers lifecycle and aging events to observers.
// Delivery is fire-and-forget: the core never blocks on a slow consumer.
package notify

import (
	"log"
	"sync"
)

// Event names emitted by the core.
const (
	TaskCreated      = "taskCreated"
	TaskUpdated      = "taskUpdated"
	TaskDeleted      = "taskDeleted"
	TaskOrderUpdated = "taskOrderUpdated"
	WorkLogCreated   = "workLogCreated"
	TasksAged        = "tasksAged"
)

// Sink receives core events for delivery to observers.
type Sink interface {
	Publish(event string, payload any)
}

// Event is a published event paired with its payload.
type Event struct {
	Name    string `json:"event"`
	Payload any    `json:"payload"`
}

// subscriberBuffer bounds each subscriber channel. A subscriber that falls
// this far behind starts losing events instead of stalling publishers.
const subscriberBuffer = 16

// Broker fans events out to in-process subscribers. It backs the SSE stream
// in the web layer.
type Broker struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[chan Event]struct{})}
}

// Publish delivers the event to every current subscriber. Full subscriber
// channels are skipped.
func (b *Broker) Publish(event string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subs {
		select {
		case ch <- Event{Name: event, Payload: payload}:
		default:
		}
	}
}

// Subscribe registers a new subscriber and returns its channel plus a cancel
// function. Cancel must be called to release the subscription.
func (b *Broker) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		delete(b.subs, ch)
		b.mu.Unlock()
	}
	return ch, cancel
}

// LogSink writes every event to a logger. Useful as a no-frills sink for the
// CLI aging command and in tests.
type LogSink struct {
	Logger *log.Logger
}

func (s *LogSink) Publish(event string, payload any) {
	s.Logger.Printf("event %s: %+v", event, payload)
}

// Multi publishes to every wrapped sink in order.
type Multi []Sink

func (m Multi) Publish(event string, payload any) {
	for _, sink := range m {
		sink.Publish(event, payload)
	}
}
