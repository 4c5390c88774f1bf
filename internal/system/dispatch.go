package system

import (
	"time"

	"github.com/ambonmud/server/internal/core/event"
	coresys "github.com/ambonmud/server/internal/core/system"
)

// EventDispatchSystem rotates the domain event bus at tick start and
// delivers last tick's events to their subscribers. Registered before
// InputSystem so subscribers observe a stable world: everything they see
// happened before any of this tick's input ran.
type EventDispatchSystem struct {
	bus *event.Bus
}

func NewEventDispatchSystem(bus *event.Bus) *EventDispatchSystem {
	return &EventDispatchSystem{bus: bus}
}

func (s *EventDispatchSystem) Phase() coresys.Phase { return coresys.PhaseInput }

func (s *EventDispatchSystem) Update(_ time.Duration) {
	s.bus.SwapBuffers()
	s.bus.DispatchAll()
}
