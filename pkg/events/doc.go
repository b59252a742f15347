/*
Package events provides an in-memory event broker for the gateway's pub/sub messaging.

The events package implements a lightweight event bus for broadcasting gateway
events to interested subscribers. It supports asynchronous event delivery with
buffered channels, enabling loose coupling between the ingestion pipeline, the
cache layer, and the auth store for state changes and notifications.

# Architecture

The event system provides non-blocking pub/sub messaging with buffered
channels:

	┌──────────────────── EVENT BROKER ────────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │              Event Broker                   │          │
	│  │  - In-memory message bus                    │          │
	│  │  - Topic-agnostic (all events broadcast)    │          │
	│  │  - Non-blocking publish                     │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          Event Distribution                 │          │
	│  │                                              │          │
	│  │  Publisher → Event Channel (buffer: 100)    │          │
	│  │       ↓                                      │          │
	│  │  Broadcast Loop                              │          │
	│  │       ↓                                      │          │
	│  │  Subscriber Channels (buffer: 50 each)      │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Event Types                       │          │
	│  │                                              │          │
	│  │  Ingestion Events:                          │          │
	│  │    - table.loaded                           │          │
	│  │    - ingest.failed                          │          │
	│  │                                              │          │
	│  │  Credential Events:                         │          │
	│  │    - token.refreshed                        │          │
	│  │    - token.invalidated                      │          │
	│  │                                              │          │
	│  │  Resilience Events:                         │          │
	│  │    - breaker.opened                         │          │
	│  │    - breaker.closed                         │          │
	│  └────────────────────────────────────────────┘           │
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Subscribers                      │          │
	│  │                                              │          │
	│  │  Cache Manager: Flush entries after loads   │          │
	│  │  Audit Ledger: Record pipeline activity     │          │
	│  │  Metrics: Count events for dashboards       │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Event Broker:
  - Central message bus for event distribution
  - Manages subscriber lifecycle
  - Non-blocking publish (buffered channel)
  - Graceful shutdown via stop channel

Event:
  - ID: Unique event identifier (UUID, assigned on publish if empty)
  - Type: Event type (table.loaded, token.refreshed, etc.)
  - Timestamp: When event occurred
  - Message: Human-readable description
  - Metadata: Key-value pairs for additional context

Subscriber:
  - Channel that receives Event pointers
  - Buffered (50 events) to handle bursts
  - Created via broker.Subscribe()
  - Closed via broker.Unsubscribe()

# Event Flow

Publish Flow:
 1. Publisher calls broker.Publish(event)
 2. Event added to main event channel (non-blocking)
 3. Broadcast loop receives event
 4. Event sent to all subscriber channels
 5. Subscribers receive event asynchronously
 6. Full subscriber buffers skip (no blocking)

Subscribe Flow:
 1. Subscriber calls broker.Subscribe()
 2. New buffered channel created
 3. Channel registered in subscriber map
 4. Subscriber channel returned
 5. Subscriber receives events via channel
 6. Subscriber processes events in own goroutine

# Usage

Creating and Starting Broker:

	import "github.com/opengreffe/guichet/pkg/events"

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

Subscribing to Events:

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for event := range sub {
			fmt.Printf("Event: %s - %s\n", event.Type, event.Message)
		}
	}()

Publishing a Table Load:

	broker.Publish(events.NewTableLoaded("entities", 2847193,
		"https://www.data.gouv.fr/exports/entities.csv"))

Filtering Events by Type:

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for event := range sub {
			switch event.Type {
			case events.EventTableLoaded:
				handleTableLoaded(event.Table(), event.Rows())
			case events.EventIngestFailed:
				handleIngestFailure(event)
			default:
				// Ignore other events
			}
		}
	}()

# Integration Points

This package integrates with:

  - pkg/ingest: Publishes table.loaded after each atomic table swap and
    ingest.failed when a pipeline run aborts
  - pkg/cache: Manager subscribes and flushes derived cache namespaces
    when the backing table changes
  - pkg/auth: Publishes token.refreshed and token.invalidated (service
    name and expiry only, never token material)
  - pkg/resilience: Publishes breaker.opened and breaker.closed on
    circuit state transitions

# Event Types Catalog

Ingestion Events:

EventTableLoaded:
  - Published when: Bulk CSV load committed via atomic table swap
  - Metadata: table, rows, source_url
  - Subscribers: Cache manager (flush derived entries), metrics

EventIngestFailed:
  - Published when: Download, checksum, or load step aborts
  - Metadata: table, error
  - Subscribers: Audit ledger, alerting

Credential Events:

EventTokenRefreshed:
  - Published when: A provider token was renewed
  - Metadata: service, expires_at
  - Subscribers: Audit ledger

EventTokenInvalidated:
  - Published when: A cached token was dropped after a 401
  - Metadata: service
  - Subscribers: Audit ledger

Resilience Events:

EventBreakerOpened / EventBreakerClosed:
  - Published when: A provider circuit transitions state
  - Metadata: provider, from, to
  - Subscribers: Metrics, alerting

# Design Patterns

Non-Blocking Publish:
  - Publish sends to buffered channel
  - Returns immediately (no waiting)
  - Events may be dropped if buffer full
  - Trade-off: Throughput over guaranteed delivery

Fan-Out Pattern:
  - Single event broadcast to all subscribers
  - Each subscriber gets own channel
  - Independent processing rates
  - Full buffers skip to prevent blocking

Fire-and-Forget:
  - No acknowledgment from subscribers
  - No retry on delivery failure
  - Cache flushes triggered by events are best effort; TTLs bound
    staleness when an event is missed

# Troubleshooting

Events Not Received:
  - Symptom: Subscriber receives no events
  - Check: broker.Start() called
  - Check: Subscriber goroutine running
  - Solution: Verify broker started and subscriber loop active

Events Dropped:
  - Symptom: Missing events in subscriber
  - Cause: Subscriber buffer full (slow processing)
  - Check: SubscriberCount() and event rate
  - Solution: Drain the subscriber channel promptly

Memory Leak:
  - Symptom: Increasing subscriber count over time
  - Cause: Subscribers not unsubscribed
  - Check: SubscriberCount() grows
  - Solution: Always defer broker.Unsubscribe(sub)

# See Also

  - pkg/ingest for the pipeline that publishes table loads
  - pkg/cache for event-driven cache invalidation
  - Pub/sub pattern: https://en.wikipedia.org/wiki/Publish%E2%80%93subscribe_pattern
*/
package events
