package system

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ambonmud/server/internal/bus"
	coresys "github.com/ambonmud/server/internal/core/system"
	"github.com/ambonmud/server/internal/event"
	"github.com/ambonmud/server/internal/handler"
	"github.com/ambonmud/server/internal/sid"
	"github.com/ambonmud/server/internal/wire"
)

// HandoffPeer is the handoff manager's event-facing surface: the input
// phase feeds it the inter-engine handoff traffic and session departures.
// Implemented by handoff.Manager.
type HandoffPeer interface {
	HandlePrepare(ev event.HandoffPrepare)
	HandleAck(ev event.HandoffAck)
	HandleReject(ev event.HandoffReject)
	HandleCommit(ev event.HandoffCommit)
	// Buffer queues a line for a session mid-transfer. False means the
	// session is not pending here.
	Buffer(id sid.ID, line string) bool
	// SessionGone aborts any transfer state for a dropped session.
	SessionGone(id sid.ID)
}

// InputSystem drains the inbound and inter-engine buses and dispatches
// every event, under a wall-clock budget so a login storm cannot starve
// the rest of the tick. Phase 0.
type InputSystem struct {
	deps     *handler.Deps
	registry *handler.Registry
	inbound  bus.InboundBus
	inter    bus.InterEngineBus // nil when the engine runs without peers
	peer     HandoffPeer        // nil in the same case
	engineID string
	budget   time.Duration
	log      *zap.Logger

	drained   uint64
	exhausted uint64
}

func NewInputSystem(
	deps *handler.Deps,
	registry *handler.Registry,
	inbound bus.InboundBus,
	inter bus.InterEngineBus,
	peer HandoffPeer,
	engineID string,
	budget time.Duration,
	log *zap.Logger,
) *InputSystem {
	return &InputSystem{
		deps:     deps,
		registry: registry,
		inbound:  inbound,
		inter:    inter,
		peer:     peer,
		engineID: engineID,
		budget:   budget,
		log:      log,
	}
}

func (s *InputSystem) Phase() coresys.Phase { return coresys.PhaseInput }

func (s *InputSystem) Update(_ time.Duration) {
	deadline := time.Now().Add(s.budget)

	for {
		select {
		case ev, ok := <-s.inbound.Events():
			if !ok {
				goto inter
			}
			s.drained++
			s.dispatch(ev)
		default:
			goto inter
		}
		if time.Now().After(deadline) {
			s.exhausted++
			s.log.Debug("input budget exhausted with inbound events queued",
				zap.Int("remaining", len(s.inbound.Events())))
			return
		}
	}

inter:
	if s.inter == nil {
		return
	}
	for {
		select {
		case ev, ok := <-s.inter.Events():
			if !ok {
				return
			}
			s.drained++
			s.dispatchInter(ev)
		default:
			return
		}
		if time.Now().After(deadline) {
			s.exhausted++
			s.log.Debug("input budget exhausted with inter-engine events queued",
				zap.Int("remaining", len(s.inter.Events())))
			return
		}
	}
}

func (s *InputSystem) dispatch(ev event.Inbound) {
	switch e := ev.(type) {
	case event.Connected:
		s.deps.Login.Begin(e)
	case event.Disconnected:
		s.disconnect(e)
	case event.LineReceived:
		s.line(e)
	case event.GmcpReceived:
		s.gmcp(e)
	case event.LoginCompleted:
		s.deps.Login.Completed(e)
	default:
		s.log.Warn("unhandled inbound event", zap.String("type", fmt.Sprintf("%T", ev)))
	}
}

func (s *InputSystem) line(e event.LineReceived) {
	if s.peer != nil && s.deps.Handoff != nil && s.deps.Handoff.Pending(e.Sid) {
		s.peer.Buffer(e.Sid, e.Line)
		return
	}
	p := s.deps.World.Player(e.Sid)
	if p == nil {
		s.deps.Login.Line(e.Sid, e.Line)
		return
	}
	s.registry.Dispatch(p, e.Line, s.deps)
}

func (s *InputSystem) gmcp(e event.GmcpReceived) {
	switch e.Package {
	case "Core.Ping":
		s.deps.Out.Gmcp(e.Sid, "Core.Ping", nil)
	case "Core.Hello", "Core.Supports.Set", "Core.Supports.Add":
		// Capability chatter; nothing to store engine-side.
	default:
		s.log.Debug("ignoring gmcp package",
			zap.Uint64("sid", uint64(e.Sid)),
			zap.String("package", e.Package))
	}
}

// disconnect tears a session out of every registry, narrating what other
// players can see. Order matters: combat and effects first so their state
// never points at a missing player, the world removal last so the room
// broadcast still knows the name.
func (s *InputSystem) disconnect(e event.Disconnected) {
	s.deps.Login.Forget(e.Sid)
	if s.peer != nil {
		s.peer.SessionGone(e.Sid)
	}
	p := s.deps.World.Player(e.Sid)
	if p == nil {
		return
	}
	s.deps.Combat.Disengage(e.Sid)
	s.deps.Effects.ClearPlayer(e.Sid)

	if g := s.deps.World.Groups.Of(e.Sid); g != nil {
		res, err := s.deps.World.Groups.Leave(e.Sid)
		if err == nil {
			handler.NarrateGroupLeave(s.deps, res, p.Name)
		}
	}

	s.deps.World.RemoveSession(e.Sid)
	// Disconnect snapshots the player through the save hook; the item
	// instances must still exist when that runs, so purge after.
	s.deps.World.Disconnect(e.Sid)
	s.deps.World.PurgeSessionItems(e.Sid)
	for _, other := range s.deps.World.PlayersInRoom(p.RoomID) {
		s.deps.Out.Info(other.Sid, p.Name+" has left the world.")
		s.deps.Out.Prompt(other.Sid)
	}
	s.log.Info("session disconnected",
		zap.Uint64("sid", uint64(e.Sid)),
		zap.String("player", p.Name),
		zap.String("reason", e.Reason))
}

func (s *InputSystem) dispatchInter(ev event.InterEngine) {
	switch e := ev.(type) {
	case event.RoutedInbound:
		if e.TargetEngine != s.engineID {
			return
		}
		inner, err := wire.Unbox(e.Inner)
		if err != nil {
			s.log.Warn("undecodable routed inbound", zap.Error(err))
			return
		}
		in, ok := inner.(event.Inbound)
		if !ok {
			s.log.Warn("routed inbound carried a non-inbound event",
				zap.String("tag", e.Inner.Tag))
			return
		}
		s.dispatch(in)
	case event.HandoffPrepare:
		if s.peer != nil && e.Ticket.ToEngine == s.engineID {
			s.peer.HandlePrepare(e)
		}
	case event.HandoffAck:
		if s.peer != nil {
			s.peer.HandleAck(e)
		}
	case event.HandoffReject:
		if s.peer != nil {
			s.peer.HandleReject(e)
		}
	case event.HandoffCommit:
		if s.peer != nil {
			s.peer.HandleCommit(e)
		}
	case event.CrossEngineTell:
		if e.TargetEngine != s.engineID {
			return
		}
		if p := s.deps.World.PlayerByName(e.ToNameLower); p != nil {
			s.deps.Out.Text(p.Sid, fmt.Sprintf("%s tells you: %s", e.FromName, e.Text))
			s.deps.Out.Prompt(p.Sid)
		}
	case event.ScaleDecision:
		s.log.Info("scale decision observed",
			zap.String("zone", e.Zone),
			zap.String("direction", e.Direction),
			zap.Int("instances", e.Instances))
	default:
		s.log.Warn("unhandled inter-engine event", zap.String("type", fmt.Sprintf("%T", ev)))
	}
}

// Drained reports the events consumed since boot.
func (s *InputSystem) Drained() uint64 { return s.drained }

// Exhausted reports how many ticks hit the input budget with work left.
func (s *InputSystem) Exhausted() uint64 { return s.exhausted }
