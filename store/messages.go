package store

import (
	"fmt"
	"time"

	"github.com/mindloom/mindloom/bus"
	"github.com/mindloom/mindloom/logger"
)

// MessageStore is the append/update log of messages. Messages are totally
// ordered by append time within their interaction; that order is
// authoritative for reconstructing a transcript.
type MessageStore struct {
	actor         *actor
	messages      map[string]*Message
	byInteraction map[string][]string
	lastTimestamp map[string]time.Time
	bus           *bus.Bus
}

// NewMessageStore creates an empty message log.
func NewMessageStore() *MessageStore {
	return &MessageStore{
		actor:         newActor(),
		messages:      make(map[string]*Message),
		byInteraction: make(map[string][]string),
		lastTimestamp: make(map[string]time.Time),
		bus:           bus.New(),
	}
}

// AddMessage appends a message and publishes message:added. Timestamps are
// clamped so they never decrease within an interaction. Returns the id.
func (s *MessageStore) AddMessage(m *Message) string {
	id := m.ID
	s.actor.do(func() {
		if _, ok := s.messages[id]; ok {
			return
		}
		stored := m.Clone()
		ts := stored.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		if last := s.lastTimestamp[stored.InteractionID]; ts.Before(last) {
			ts = last
		}
		stored.Timestamp = ts
		s.lastTimestamp[stored.InteractionID] = ts
		if stored.Status == "" {
			stored.Status = MessagePending
		}
		s.messages[id] = stored
		s.byInteraction[stored.InteractionID] = append(s.byInteraction[stored.InteractionID], id)
		s.publish(bus.EventMessageAdded, stored)
	})
	return id
}

// GetMessage returns a copy of one message, or nil if the id is unknown.
func (s *MessageStore) GetMessage(id string) *Message {
	var out *Message
	s.actor.do(func() {
		out = s.messages[id].Clone()
	})
	return out
}

// GetMessages returns copies of the interaction's messages in append order.
func (s *MessageStore) GetMessages(interactionID string) []*Message {
	var out []*Message
	s.actor.do(func() {
		ids := s.byInteraction[interactionID]
		out = make([]*Message, 0, len(ids))
		for _, id := range ids {
			out = append(out, s.messages[id].Clone())
		}
	})
	return out
}

// UpdateMessageStatus sets the status of a message and publishes
// message:updated. Returns ErrNotFound if the id is absent.
func (s *MessageStore) UpdateMessageStatus(id string, status MessageStatus) error {
	var retErr error
	s.actor.do(func() {
		m, ok := s.messages[id]
		if !ok {
			retErr = fmt.Errorf("message %s: %w", id, ErrNotFound)
			return
		}
		m.Status = status
		s.publish(bus.EventMessageUpdated, m)
	})
	return retErr
}

// UpdateMessageMetadata merges the partial map into the message metadata
// and publishes message:updated. Existing keys are overwritten; no schema
// is enforced. Returns ErrNotFound if the id is absent.
func (s *MessageStore) UpdateMessageMetadata(id string, partial map[string]any) error {
	var retErr error
	s.actor.do(func() {
		m, ok := s.messages[id]
		if !ok {
			retErr = fmt.Errorf("message %s: %w", id, ErrNotFound)
			return
		}
		if m.Metadata == nil {
			m.Metadata = make(map[string]any, len(partial))
		}
		for k, v := range partial {
			m.Metadata[k] = v
		}
		s.publish(bus.EventMessageUpdated, m)
	})
	return retErr
}

// Subscribe registers a listener for every future event of this log.
// Listeners run synchronously in registration order on the store's owning
// goroutine, so they must not call back into this store.
func (s *MessageStore) Subscribe(handler bus.Handler) func() {
	return s.bus.SubscribeAll(handler)
}

// Close stops the store. Subsequent calls are no-ops.
func (s *MessageStore) Close() {
	s.actor.close()
}

func (s *MessageStore) publish(eventType bus.EventType, m *Message) {
	event, err := bus.NewEvent(eventType, "messages", m)
	if err != nil {
		logger.Error("message event marshal failed", "type", eventType, "id", m.ID, "err", err)
		return
	}
	s.bus.Publish(event)
}
