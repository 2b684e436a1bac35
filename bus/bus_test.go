package bus

import (
	"testing"
)

func TestPublishDeliversInRegistrationOrder(t *testing.T) {
	b := New()
	var got []int
	b.SubscribeAll(func(e *Event) { got = append(got, 1) })
	b.SubscribeAll(func(e *Event) { got = append(got, 2) })
	b.SubscribeAll(func(e *Event) { got = append(got, 3) })

	event, err := NewEvent(EventInteractionCreated, "test", map[string]string{"id": "a"})
	if err != nil {
		t.Fatalf("NewEvent failed: %v", err)
	}
	b.Publish(event)

	if len(got) != 3 {
		t.Fatalf("expected 3 deliveries, got %d", len(got))
	}
	for i, v := range got {
		if v != i+1 {
			t.Fatalf("delivery order mismatch: got %v", got)
		}
	}
}

func TestSubscribeFiltersByType(t *testing.T) {
	b := New()
	var created, updated int
	b.Subscribe(EventInteractionCreated, func(e *Event) { created++ })
	b.Subscribe(EventInteractionUpdated, func(e *Event) { updated++ })

	e1, _ := NewEvent(EventInteractionCreated, "test", nil)
	e2, _ := NewEvent(EventInteractionUpdated, "test", nil)
	b.Publish(e1)
	b.Publish(e1)
	b.Publish(e2)

	if created != 2 {
		t.Fatalf("expected 2 created deliveries, got %d", created)
	}
	if updated != 1 {
		t.Fatalf("expected 1 updated delivery, got %d", updated)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	var count int
	unsub := b.SubscribeAll(func(e *Event) { count++ })

	e, _ := NewEvent(EventMessageAdded, "test", nil)
	b.Publish(e)
	unsub()
	b.Publish(e)

	if count != 1 {
		t.Fatalf("expected 1 delivery after unsubscribe, got %d", count)
	}
}

func TestPanickingSubscriberIsIsolated(t *testing.T) {
	b := New()
	var after int
	b.SubscribeAll(func(e *Event) { panic("boom") })
	b.SubscribeAll(func(e *Event) { after++ })

	e, _ := NewEvent(EventProcessStarted, "test", nil)
	b.Publish(e)

	if after != 1 {
		t.Fatalf("subscriber after panicking one did not run")
	}
}

func TestSubscribeWithFilter(t *testing.T) {
	b := New()
	var count int
	b.SubscribeWithFilter(EventMessageAdded, func(e *Event) { count++ }, func(e *Event) bool {
		return e.Source == "wanted"
	})

	e1, _ := NewEvent(EventMessageAdded, "wanted", nil)
	e2, _ := NewEvent(EventMessageAdded, "other", nil)
	b.Publish(e1)
	b.Publish(e2)

	if count != 1 {
		t.Fatalf("expected filter to pass 1 event, got %d", count)
	}
}

func TestEventParseData(t *testing.T) {
	payload := ProcessExitedData{ID: "w1", ExitCode: 2, WillRestart: true}
	e, err := NewEvent(EventProcessExited, "supervisor", payload)
	if err != nil {
		t.Fatalf("NewEvent failed: %v", err)
	}
	if e.ID == "" || e.Timestamp.IsZero() {
		t.Fatalf("event id/timestamp not populated")
	}

	var got ProcessExitedData
	if err := e.ParseData(&got); err != nil {
		t.Fatalf("ParseData failed: %v", err)
	}
	if got != payload {
		t.Fatalf("payload mismatch: got %+v", got)
	}
}

func TestEventIDsAreUnique(t *testing.T) {
	e1, _ := NewEvent(EventProcessStarted, "test", nil)
	e2, _ := NewEvent(EventProcessStarted, "test", nil)
	if e1.ID == e2.ID {
		t.Fatalf("expected unique event ids, got %s twice", e1.ID)
	}
}
