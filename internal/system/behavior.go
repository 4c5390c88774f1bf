package system

import (
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/ambonmud/server/internal/content"
	coresys "github.com/ambonmud/server/internal/core/system"
	"github.com/ambonmud/server/internal/handler"
	"github.com/ambonmud/server/internal/scripting"
	"github.com/ambonmud/server/internal/sid"
	"github.com/ambonmud/server/internal/world"
)

// Wander cadence. Jitter keeps a zone's spawns from shuffling in lockstep.
const (
	wanderBaseMs   = 25_000
	wanderJitterMs = 10_000
)

// BehaviorSystem gives mobs their own will: each live mob gets one scripted
// decision per tick, budget permitting. Templates without a behavior script
// fall back to plain wandering. Phase 4, so aggro lands before the combat
// phase resolves it.
type BehaviorSystem struct {
	deps       *handler.Deps
	now        func() int64
	maxPerTick int
	rng        *rand.Rand
	log        *zap.Logger
}

func NewBehaviorSystem(deps *handler.Deps, now func() int64, maxPerTick int, rng *rand.Rand, log *zap.Logger) *BehaviorSystem {
	return &BehaviorSystem{deps: deps, now: now, maxPerTick: maxPerTick, rng: rng, log: log}
}

func (s *BehaviorSystem) Phase() coresys.Phase { return coresys.PhaseBehavior }

func (s *BehaviorSystem) Update(_ time.Duration) {
	now := s.now()
	budget := s.maxPerTick

	for _, id := range s.deps.World.MobIDs() {
		if budget <= 0 {
			break
		}
		m := s.deps.World.Mob(id)
		if m == nil || m.HP <= 0 {
			continue
		}
		budget--

		if m.NextWanderAtMs == 0 {
			m.NextWanderAtMs = now + s.wanderDelay()
			continue
		}
		if s.deps.Effects.HasMobEffect(m.ID, content.EffectStun) {
			continue
		}

		inCombat := s.deps.World.Threat.HasEntry(m.ID)
		wanderDue := now >= m.NextWanderAtMs
		if wanderDue {
			m.NextWanderAtMs = now + s.wanderDelay()
		}

		if m.Behavior == "" {
			if wanderDue && !inCombat {
				s.wander(m)
			}
			continue
		}

		d := s.deps.Scripting.DecideMob(s.mobContext(m, inCombat, wanderDue))
		switch d.Action {
		case "attack":
			s.attack(m, d.Target)
		case "wander":
			if wanderDue && !inCombat {
				s.wander(m)
			}
		case "say":
			if d.Text != "" {
				s.say(m, d.Text)
			}
		case "idle":
		default:
			s.log.Debug("unknown mob decision",
				zap.String("mob", m.ID),
				zap.String("action", d.Action))
		}
	}
}

func (s *BehaviorSystem) mobContext(m *world.Mob, inCombat, wanderDue bool) scripting.MobContext {
	ctx := scripting.MobContext{
		ID:        m.ID,
		Behavior:  m.Behavior,
		Level:     m.Level,
		HP:        m.HP,
		MaxHP:     m.MaxHP,
		InCombat:  inCombat,
		WanderDue: wanderDue,
		Dialogue:  m.Dialogue,
	}
	for _, p := range s.deps.World.PlayersInRoom(m.RoomID) {
		if p.HP <= 0 {
			continue
		}
		ctx.Players = append(ctx.Players, scripting.MobPlayer{
			Sid:   p.Sid.String(),
			Name:  p.Name,
			Level: p.Level,
		})
	}
	return ctx
}

// attack turns a script's target choice into real aggro. The seed threat
// makes the victim the mob's top pick until damage reshuffles the row.
func (s *BehaviorSystem) attack(m *world.Mob, target string) {
	id, err := sid.Parse(target)
	if err != nil {
		s.log.Warn("behavior script returned bad target",
			zap.String("mob", m.ID),
			zap.String("target", target))
		return
	}
	p := s.deps.World.Player(id)
	if p == nil || p.RoomID != m.RoomID || p.HP <= 0 {
		return
	}
	already := s.deps.World.Threat.HasThreat(m.ID, id)
	s.deps.Combat.EngageMob(m.ID, id, 1.0)
	if already {
		return
	}
	s.deps.Out.Text(id, fmt.Sprintf("%s attacks you!", m.Name))
	s.deps.Out.Prompt(id)
	for _, other := range s.deps.World.PlayersInRoom(m.RoomID) {
		if other.Sid == id {
			continue
		}
		s.deps.Out.Text(other.Sid, fmt.Sprintf("%s attacks %s!", m.Name, p.Name))
		s.deps.Out.Prompt(other.Sid)
	}
}

// wander moves the mob through one random open local exit. Remote exits
// are skipped; mobs never leave their zone, let alone their engine.
func (s *BehaviorSystem) wander(m *world.Mob) {
	if s.deps.Effects.HasMobEffect(m.ID, content.EffectRoot) {
		return
	}
	room := s.deps.Content.Rooms[m.RoomID]
	if room == nil {
		return
	}
	var open []string
	for _, dir := range content.Directions {
		res, ok := s.deps.World.ResolveExit(m.RoomID, dir)
		if !ok || res.Remote {
			continue
		}
		if res.Door != nil && !res.Open {
			continue
		}
		open = append(open, dir)
	}
	if len(open) == 0 {
		return
	}
	dir := open[s.rng.Intn(len(open))]
	res, _ := s.deps.World.ResolveExit(m.RoomID, dir)

	for _, p := range s.deps.World.PlayersInRoom(m.RoomID) {
		s.deps.Out.Text(p.Sid, fmt.Sprintf("%s leaves %s.", m.Name, dir))
		s.deps.Out.Prompt(p.Sid)
	}
	s.deps.World.MoveMob(m.ID, res.Target)
	for _, p := range s.deps.World.PlayersInRoom(res.Target) {
		s.deps.Out.Text(p.Sid, fmt.Sprintf("%s arrives.", m.Name))
		s.deps.Out.Prompt(p.Sid)
	}
}

func (s *BehaviorSystem) say(m *world.Mob, text string) {
	for _, p := range s.deps.World.PlayersInRoom(m.RoomID) {
		s.deps.Out.Text(p.Sid, fmt.Sprintf("%s says, '%s'", m.Name, text))
		s.deps.Out.Prompt(p.Sid)
	}
}

func (s *BehaviorSystem) wanderDelay() int64 {
	return wanderBaseMs + s.rng.Int63n(wanderJitterMs)
}
