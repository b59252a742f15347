package events

import (
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventTableLoaded      EventType = "table.loaded"
	EventIngestFailed     EventType = "ingest.failed"
	EventTokenRefreshed   EventType = "token.refreshed"
	EventTokenInvalidated EventType = "token.invalidated"
	EventBreakerOpened    EventType = "breaker.opened"
	EventBreakerClosed    EventType = "breaker.closed"
)

// Event represents a gateway event
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	Message   string
	Metadata  map[string]string
}

// NewTableLoaded builds the event published after a bulk table swap
// completes. Cache managers subscribe to it to flush derived entries.
func NewTableLoaded(table string, rows int64, sourceURL string) *Event {
	return &Event{
		ID:      uuid.New().String(),
		Type:    EventTableLoaded,
		Message: "table " + table + " reloaded",
		Metadata: map[string]string{
			"table":      table,
			"rows":       strconv.FormatInt(rows, 10),
			"source_url": sourceURL,
		},
	}
}

// NewIngestFailed builds the event published when an ingest job run
// fails. The cache keeps serving entries derived from the previous
// snapshot.
func NewIngestFailed(job, table, reason string) *Event {
	return &Event{
		ID:      uuid.New().String(),
		Type:    EventIngestFailed,
		Message: "ingest job " + job + " failed",
		Metadata: map[string]string{
			"job":   job,
			"table": table,
			"error": reason,
		},
	}
}

// Table returns the table name carried by a table.loaded or
// ingest.failed event, or "" for other event types.
func (e *Event) Table() string {
	if e.Metadata == nil {
		return ""
	}
	return e.Metadata["table"]
}

// Rows returns the row count carried by a table.loaded event.
func (e *Event) Rows() int64 {
	if e.Metadata == nil {
		return 0
	}
	n, err := strconv.ParseInt(e.Metadata["rows"], 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// Broker manages event subscriptions and distribution
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100), // Buffer up to 100 events
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50) // Buffer per subscriber
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub)
}

// Publish publishes an event to all subscribers
func (b *Broker) Publish(event *Event) {
	// Set timestamp if not set
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
