package bus

import (
	"sync"

	"github.com/mindloom/mindloom/logger"
)

// Handler is a function that handles events. Handlers are invoked
// synchronously on the publishing goroutine; a handler must not call back
// into the component it observes, and should hand off long work to its own
// goroutine or queue.
type Handler func(event *Event)

type subscription struct {
	id        int64
	eventType EventType // empty means all events
	handler   Handler
	filter    func(*Event) bool
}

// Bus is an ordered listener list. Subscribers receive every matching event
// synchronously, in registration order. A panicking subscriber is isolated
// and does not prevent delivery to the others.
type Bus struct {
	mu         sync.Mutex
	subs       []*subscription
	subCounter int64
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{}
}

// Subscribe registers a handler for events of the given type (empty type
// matches all). It returns an unsubscribe function.
func (b *Bus) Subscribe(eventType EventType, handler Handler) func() {
	return b.subscribe(eventType, handler, nil)
}

// SubscribeWithFilter registers a handler with a custom filter.
func (b *Bus) SubscribeWithFilter(eventType EventType, handler Handler, filter func(*Event) bool) func() {
	return b.subscribe(eventType, handler, filter)
}

// SubscribeAll registers a handler for all events.
func (b *Bus) SubscribeAll(handler Handler) func() {
	return b.subscribe("", handler, nil)
}

func (b *Bus) subscribe(eventType EventType, handler Handler, filter func(*Event) bool) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subCounter++
	sub := &subscription{
		id:        b.subCounter,
		eventType: eventType,
		handler:   handler,
		filter:    filter,
	}
	b.subs = append(b.subs, sub)

	id := sub.id
	return func() { b.unsubscribe(id) }
}

func (b *Bus) unsubscribe(id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subs {
		if sub.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers an event to all matching subscribers, in registration
// order, on the calling goroutine.
func (b *Bus) Publish(event *Event) {
	if event == nil {
		return
	}

	b.mu.Lock()
	subs := make([]*subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.matches(event) {
			subs = append(subs, sub)
		}
	}
	b.mu.Unlock()

	for _, sub := range subs {
		deliver(sub, event)
	}
}

// deliver invokes one handler, recovering from panics so the remaining
// subscribers still receive the event.
func deliver(sub *subscription, event *Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("subscriber panic", "subscription", sub.id, "eventType", event.Type, "panic", r)
		}
	}()
	sub.handler(event)
}

func (sub *subscription) matches(event *Event) bool {
	if sub.eventType != "" && sub.eventType != event.Type {
		return false
	}
	if sub.filter != nil && !sub.filter(event) {
		return false
	}
	return true
}
