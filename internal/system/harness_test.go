package system

import (
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ambonmud/server/internal/bus"
	"github.com/ambonmud/server/internal/config"
	"github.com/ambonmud/server/internal/content"
	corevent "github.com/ambonmud/server/internal/core/event"
	"github.com/ambonmud/server/internal/event"
	"github.com/ambonmud/server/internal/handler"
	"github.com/ambonmud/server/internal/scripting"
	"github.com/ambonmud/server/internal/sid"
	"github.com/ambonmud/server/internal/world"
)

// fixture wires the real systems over the testdata world, with a manual
// clock so tests advance time explicitly instead of sleeping.
type fixture struct {
	t   *testing.T
	cfg *config.Config

	nowMs  int64
	outBus *bus.LocalOutbound
	deps   *handler.Deps

	combat    *CombatSystem
	effects   *EffectSystem
	sched     *SchedulerSystem
	abilities *AbilitySystem
	behavior  *BehaviorSystem
	regen     *RegenSystem

	sidSeq sid.ID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	w, err := content.Load(filepath.Join("testdata", "world"))
	require.NoError(t, err)
	scr, err := scripting.NewEngine(filepath.Join("testdata", "scripts"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(scr.Close)

	cfg := config.Default()
	cfg.Combat.RespawnRoom = "fort:yard"

	f := &fixture{t: t, cfg: cfg, nowMs: 1_000_000, sidSeq: 100}
	now := func() int64 { return f.nowMs }
	log := zap.NewNop()
	rng := rand.New(rand.NewSource(7))

	f.outBus = bus.NewLocalOutbound(4096)
	st := world.NewState(w, cfg.Group.MaxSize, cfg.Group.InviteTTL.Milliseconds())

	deps := &handler.Deps{
		Config:    cfg,
		Log:       log,
		World:     st,
		Content:   w,
		Scripting: scr,
		Out:       bus.NewOutput(f.outBus, log),
		Bus:       corevent.NewBus(),
		Now:       now,
	}
	f.deps = deps

	f.effects = NewEffectSystem(deps, now)
	f.combat = NewCombatSystem(deps, now, cfg.Combat, cfg.Engine.MaxCombatsPerTick, rng, log)
	f.sched = NewSchedulerSystem(now, cfg.Engine.MaxScheduledPerTick, cfg.Engine.Tick, log)
	f.abilities = NewAbilitySystem(deps, now, rng, log)
	f.behavior = NewBehaviorSystem(deps, now, cfg.Engine.MaxBehaviorPerTick, rng, log)
	f.regen = NewRegenSystem(deps, now, cfg.Regen, cfg.Combat.BaseStat, cfg.Engine.MaxRegenPerTick)

	deps.Combat = f.combat
	deps.Effects = f.effects
	deps.Sched = f.sched
	deps.Abilities = f.abilities
	return f
}

// advance moves the clock and runs the simulation phases in pipeline
// order, once.
func (f *fixture) advance(ms int64) {
	f.nowMs += ms
	f.sched.Update(0)
	f.regen.Update(0)
	f.effects.Update(0)
	f.behavior.Update(0)
	f.combat.Update(0)
	f.abilities.Update(0)
}

func (f *fixture) addPlayer(name, class string, level int, room string) *world.Player {
	f.t.Helper()
	f.sidSeq++
	p := world.NewPlayer(f.sidSeq, name)
	p.Class = class
	p.Race = "human"
	p.Level = level
	p.RoomID = room
	p.HP, p.MaxHP, p.BaseMaxHP = 30, 30, 30
	p.Mana, p.MaxMana = 20, 20
	p.Str, p.Dex, p.Con, p.Int, p.Wis, p.Cha = 10, 10, 10, 10, 10, 10
	p.XPTotal = f.deps.Scripting.XPForLevel(level)
	require.NoError(f.t, f.deps.World.Connect(p))
	return p
}

func (f *fixture) spawnMob(key, room string) *world.Mob {
	f.t.Helper()
	tpl := f.deps.Content.Mobs.Get(key)
	require.NotNil(f.t, tpl, "unknown mob template %q", key)
	return f.deps.World.SpawnMob(tpl, room)
}

// drain empties the outbound bus. Tests that care about several sessions
// drain once and slice the result per session.
func (f *fixture) drain() []event.Outbound {
	var out []event.Outbound
	for {
		select {
		case ev := <-f.outBus.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

// linesFor drains and returns the text lines sent to one session.
func (f *fixture) linesFor(id sid.ID) []string {
	return textsFor(f.drain(), id)
}

func textsFor(events []event.Outbound, id sid.ID) []string {
	var lines []string
	for _, ev := range events {
		if txt, ok := ev.(event.SendText); ok && txt.Sid == id {
			lines = append(lines, txt.Text)
		}
	}
	return lines
}

func promptsFor(events []event.Outbound, id sid.ID) int {
	n := 0
	for _, ev := range events {
		if p, ok := ev.(event.SendPrompt); ok && p.Sid == id {
			n++
		}
	}
	return n
}

func contains(lines []string, want string) bool {
	for _, l := range lines {
		if l == want {
			return true
		}
	}
	return false
}
