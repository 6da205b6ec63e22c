package actorutil

import (
	"testing"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
)

type namedState struct {
	name string
}

func (s namedState) Name() string          { return s.name }
func (s namedState) Receive(actor.Context) {}

func TestActorWithStatesTracksName(t *testing.T) {
	s := ActorWithStates{Behavior: actor.NewBehavior()}
	assert.Equal(t, "", s.StateName())

	s.Become(namedState{name: "starting"})
	assert.Equal(t, "starting", s.StateName())

	s.BecomeStacked(namedState{name: "waiting"})
	assert.Equal(t, "waiting", s.StateName())

	s.UnbecomeStacked()
	assert.Equal(t, "starting", s.StateName())

	s.Become(namedState{name: "running"})
	assert.Equal(t, "running", s.StateName())
}
