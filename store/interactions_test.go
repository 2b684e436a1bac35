package store

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindloom/mindloom/bus"
)

func TestCreateDefaultsAndGet(t *testing.T) {
	s := NewInteractionStore()
	defer s.Close()

	id := s.Create(&Interaction{ID: "i1", Source: "user"})
	require.Equal(t, "i1", id)

	in := s.Get("i1")
	require.NotNil(t, in)
	assert.Equal(t, "user", in.Source)
	assert.Equal(t, StateQueued, in.State.Kind)
	assert.False(t, in.CreatedAt.IsZero())
}

func TestCreateDuplicateIsNoOp(t *testing.T) {
	s := NewInteractionStore()
	defer s.Close()

	s.Create(&Interaction{ID: "i1", Source: "user"})
	s.Create(&Interaction{ID: "i1", Source: "other"})

	in := s.Get("i1")
	require.NotNil(t, in)
	assert.Equal(t, "user", in.Source, "second create must not overwrite")
	assert.Len(t, s.GetAll(), 1)
}

func TestGetReturnsCopy(t *testing.T) {
	s := NewInteractionStore()
	defer s.Close()

	s.Create(&Interaction{ID: "i1", Source: "user", Metadata: map[string]any{"k": "v"}})

	in := s.Get("i1")
	in.Source = "mutated"
	in.Metadata["k"] = "mutated"

	fresh := s.Get("i1")
	assert.Equal(t, "user", fresh.Source)
	assert.Equal(t, "v", fresh.Metadata["k"])
}

func TestUpdateTransformAndIdentity(t *testing.T) {
	s := NewInteractionStore()
	defer s.Close()
	s.Create(&Interaction{ID: "i1", Source: "user"})

	out, err := s.Update("i1", func(cur Interaction) Interaction {
		cur.State = Processing("worker-i1")
		cur.ID = "hijacked"
		return cur
	})
	require.NoError(t, err)
	assert.Equal(t, "i1", out.ID, "id must be immutable through update")
	assert.Equal(t, StateProcessing, out.State.Kind)
	assert.Equal(t, "worker-i1", out.State.Processor)
}

func TestUpdateUnknownIDReturnsNotFound(t *testing.T) {
	s := NewInteractionStore()
	defer s.Close()

	_, err := s.Update("missing", func(cur Interaction) Interaction { return cur })
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestEventsPublishedInOrder(t *testing.T) {
	s := NewInteractionStore()
	defer s.Close()

	var types []bus.EventType
	s.Subscribe(func(e *bus.Event) { types = append(types, e.Type) })

	s.Create(&Interaction{ID: "i1", Source: "user"})
	_, err := s.Update("i1", func(cur Interaction) Interaction {
		cur.State = Processing("w")
		return cur
	})
	require.NoError(t, err)

	// do() waits for the op (and its synchronous publishes) to complete.
	require.Equal(t, []bus.EventType{bus.EventInteractionCreated, bus.EventInteractionUpdated}, types)
}

func TestUpdatedEventCarriesNewValue(t *testing.T) {
	s := NewInteractionStore()
	defer s.Close()
	s.Create(&Interaction{ID: "i1", Source: "user"})

	var got Interaction
	s.Subscribe(func(e *bus.Event) {
		if e.Type == bus.EventInteractionUpdated {
			_ = e.ParseData(&got)
		}
	})

	_, err := s.Update("i1", func(cur Interaction) Interaction {
		cur.State = Failed("boom")
		return cur
	})
	require.NoError(t, err)
	assert.Equal(t, StateFailed, got.State.Kind)
	assert.Equal(t, "boom", got.State.Error)
}

func TestGetAllPreservesCreationOrder(t *testing.T) {
	s := NewInteractionStore()
	defer s.Close()

	for _, id := range []string{"a", "b", "c"} {
		s.Create(&Interaction{ID: id, Source: "user"})
	}

	all := s.GetAll()
	require.Len(t, all, 3)
	assert.Equal(t, "a", all[0].ID)
	assert.Equal(t, "b", all[1].ID)
	assert.Equal(t, "c", all[2].ID)
}
