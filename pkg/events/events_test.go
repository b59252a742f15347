package events

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	broker.Publish(&Event{
		Type:    EventTableLoaded,
		Message: "table entities reloaded",
		Metadata: map[string]string{
			"table": "entities",
			"rows":  "1000",
		},
	})

	select {
	case event := <-sub:
		if event.Type != EventTableLoaded {
			t.Errorf("expected type %s, got %s", EventTableLoaded, event.Type)
		}
		if event.Table() != "entities" {
			t.Errorf("expected table entities, got %s", event.Table())
		}
		if event.Rows() != 1000 {
			t.Errorf("expected 1000 rows, got %d", event.Rows())
		}
		if event.ID == "" {
			t.Error("expected publish to assign an event ID")
		}
		if event.Timestamp.IsZero() {
			t.Error("expected publish to assign a timestamp")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestMultipleSubscribers(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub1 := broker.Subscribe()
	defer broker.Unsubscribe(sub1)
	sub2 := broker.Subscribe()
	defer broker.Unsubscribe(sub2)

	if broker.SubscriberCount() != 2 {
		t.Errorf("expected 2 subscribers, got %d", broker.SubscriberCount())
	}

	broker.Publish(NewTableLoaded("events", 42, "https://example.test/events.csv"))

	for i, sub := range []Subscriber{sub1, sub2} {
		select {
		case event := <-sub:
			if event.Table() != "events" {
				t.Errorf("subscriber %d: expected table events, got %s", i, event.Table())
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d: timed out waiting for event", i)
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	broker.Unsubscribe(sub)

	if broker.SubscriberCount() != 0 {
		t.Errorf("expected 0 subscribers, got %d", broker.SubscriberCount())
	}

	select {
	case _, ok := <-sub:
		if ok {
			t.Error("expected channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after unsubscribe")
	}
}

func TestNewTableLoaded(t *testing.T) {
	event := NewTableLoaded("contracts", 512, "https://example.test/contracts.csv")

	if event.Type != EventTableLoaded {
		t.Errorf("expected type %s, got %s", EventTableLoaded, event.Type)
	}
	if event.ID == "" {
		t.Error("expected event ID to be set")
	}
	if event.Table() != "contracts" {
		t.Errorf("expected table contracts, got %s", event.Table())
	}
	if event.Rows() != 512 {
		t.Errorf("expected 512 rows, got %d", event.Rows())
	}
	if event.Metadata["source_url"] != "https://example.test/contracts.csv" {
		t.Errorf("unexpected source_url %s", event.Metadata["source_url"])
	}
}

func TestNewIngestFailed(t *testing.T) {
	event := NewIngestFailed("entities_stock", "entities", "checksum mismatch")

	if event.Type != EventIngestFailed {
		t.Errorf("expected type %s, got %s", EventIngestFailed, event.Type)
	}
	if event.Table() != "entities" {
		t.Errorf("expected table entities, got %s", event.Table())
	}
	if event.Metadata["job"] != "entities_stock" {
		t.Errorf("unexpected job %s", event.Metadata["job"])
	}
	if event.Metadata["error"] != "checksum mismatch" {
		t.Errorf("unexpected error %s", event.Metadata["error"])
	}
}

func TestRowsMalformed(t *testing.T) {
	event := &Event{Type: EventTableLoaded, Metadata: map[string]string{"rows": "many"}}
	if event.Rows() != 0 {
		t.Errorf("expected 0 for malformed rows, got %d", event.Rows())
	}

	empty := &Event{Type: EventTableLoaded}
	if empty.Table() != "" || empty.Rows() != 0 {
		t.Error("expected zero values for event without metadata")
	}
}
