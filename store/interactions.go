package store

import (
	"fmt"
	"time"

	"github.com/mindloom/mindloom/bus"
	"github.com/mindloom/mindloom/logger"
)

// InteractionStore is the append/update log of interactions. All mutation
// goes through Update; there are no partial-field setters, so lifecycle
// legality is enforced by the transform's caller, not the store.
type InteractionStore struct {
	actor        *actor
	interactions map[string]*Interaction
	order        []string
	bus          *bus.Bus
}

// NewInteractionStore creates an empty interaction log.
func NewInteractionStore() *InteractionStore {
	return &InteractionStore{
		actor:        newActor(),
		interactions: make(map[string]*Interaction),
		bus:          bus.New(),
	}
}

// Create appends an interaction and publishes interaction:created. The id
// is pre-populated by the caller; creating an id that already exists is a
// no-op returning the existing id. Returns the id.
func (s *InteractionStore) Create(in *Interaction) string {
	id := in.ID
	s.actor.do(func() {
		if _, ok := s.interactions[id]; ok {
			return
		}
		stored := in.Clone()
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = time.Now()
		}
		if stored.State.Kind == "" {
			stored.State = Queued()
		}
		s.interactions[id] = stored
		s.order = append(s.order, id)
		s.publish(bus.EventInteractionCreated, stored)
	})
	return id
}

// Get returns a copy of the interaction, or nil if the id is unknown.
func (s *InteractionStore) Get(id string) *Interaction {
	var out *Interaction
	s.actor.do(func() {
		out = s.interactions[id].Clone()
	})
	return out
}

// GetAll returns copies of all interactions in creation order.
func (s *InteractionStore) GetAll() []*Interaction {
	var out []*Interaction
	s.actor.do(func() {
		out = make([]*Interaction, 0, len(s.order))
		for _, id := range s.order {
			out = append(out, s.interactions[id].Clone())
		}
	})
	return out
}

// Update applies a pure transform old -> new to the stored interaction and
// publishes interaction:updated with the new value. This is the only
// mutation path. Returns ErrNotFound if the id is absent.
func (s *InteractionStore) Update(id string, transform func(Interaction) Interaction) (*Interaction, error) {
	var (
		out    *Interaction
		retErr error
	)
	err := s.actor.do(func() {
		cur, ok := s.interactions[id]
		if !ok {
			retErr = fmt.Errorf("interaction %s: %w", id, ErrNotFound)
			return
		}
		next := transform(*cur.Clone())
		next.ID = id // identity is immutable
		s.interactions[id] = &next
		out = next.Clone()
		s.publish(bus.EventInteractionUpdated, &next)
	})
	if err != nil {
		return nil, err
	}
	return out, retErr
}

// Subscribe registers a listener for every future event of this log.
// Listeners run synchronously in registration order on the store's owning
// goroutine, so they must not call back into this store.
func (s *InteractionStore) Subscribe(handler bus.Handler) func() {
	return s.bus.SubscribeAll(handler)
}

// Close stops the store. Subsequent calls are no-ops.
func (s *InteractionStore) Close() {
	s.actor.close()
}

func (s *InteractionStore) publish(eventType bus.EventType, in *Interaction) {
	event, err := bus.NewEvent(eventType, "interactions", in)
	if err != nil {
		logger.Error("interaction event marshal failed", "type", eventType, "id", in.ID, "err", err)
		return
	}
	s.bus.Publish(event)
}
