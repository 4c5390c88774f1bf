package system

import (
	"fmt"
	"time"

	coresys "github.com/ambonmud/server/internal/core/system"
	"github.com/ambonmud/server/internal/content"
	"github.com/ambonmud/server/internal/handler"
	"github.com/ambonmud/server/internal/sid"
)

// activeEffect is one applied status effect. Flat record; per-kind behavior
// is a switch in the tick, not a hierarchy.
type activeEffect struct {
	def         *content.Effect
	source      sid.ID // who applied it; DOT damage and HOT healing credit this session
	expiresAtMs int64
	nextPulseMs int64 // dot/hot only
	stacks      int
	absorbLeft  int // shield only
}

// EffectSystem owns every active status effect on players and mobs. It
// expires effects, pulses DOTs and HOTs through the combat core so threat
// and death stay uniform, and answers stat-mod and stun/root queries for
// the rest of the pipeline. Phase 3.
type EffectSystem struct {
	deps *handler.Deps
	now  func() int64

	players map[sid.ID][]*activeEffect
	mobs    map[string][]*activeEffect

	// stacksByPlayer mirrors the per-definition stack counts so building a
	// status snapshot never rescans the effect list per effect.
	stacksByPlayer map[sid.ID]map[string]int
}

func NewEffectSystem(deps *handler.Deps, now func() int64) *EffectSystem {
	return &EffectSystem{
		deps:           deps,
		now:            now,
		players:        make(map[sid.ID][]*activeEffect),
		mobs:           make(map[string][]*activeEffect),
		stacksByPlayer: make(map[sid.ID]map[string]int),
	}
}

func (s *EffectSystem) Phase() coresys.Phase { return coresys.PhaseEffects }

// Apply attaches def to the target, stacking up to the definition's cap.
// Re-applying refreshes the duration either way. Implements
// handler.EffectManager.
func (s *EffectSystem) Apply(target handler.EffectTarget, def *content.Effect) {
	now := s.now()
	list := s.listFor(target)

	for _, e := range list {
		if e.def.Key != def.Key {
			continue
		}
		// Refresh; add a stack if the cap allows.
		e.expiresAtMs = now + def.Duration.Ms()
		if e.stacks < def.MaxStacks {
			e.stacks++
			s.bumpStacks(target, def.Key, +1)
		}
		if def.Kind == content.EffectShield {
			e.absorbLeft = def.Amount * e.stacks
		}
		s.markStatus(target)
		return
	}

	e := &activeEffect{
		def:         def,
		expiresAtMs: now + def.Duration.Ms(),
		stacks:      1,
	}
	if def.Kind == content.EffectDOT || def.Kind == content.EffectHOT {
		e.nextPulseMs = now + def.Period.Ms()
	}
	if def.Kind == content.EffectShield {
		e.absorbLeft = def.Amount
	}
	s.setListFor(target, append(list, e))
	s.bumpStacks(target, def.Key, +1)
	s.markStatus(target)
}

// ApplyFrom is Apply with damage/heal attribution for DOT and HOT pulses.
func (s *EffectSystem) ApplyFrom(source sid.ID, target handler.EffectTarget, def *content.Effect) {
	s.Apply(target, def)
	for _, e := range s.listFor(target) {
		if e.def.Key == def.Key {
			e.source = source
		}
	}
}

func (s *EffectSystem) Update(_ time.Duration) {
	now := s.now()

	for id, list := range s.players {
		s.tickPlayer(id, list, now)
	}
	for mobID, list := range s.mobs {
		s.tickMob(mobID, list, now)
	}
}

func (s *EffectSystem) tickPlayer(id sid.ID, list []*activeEffect, now int64) {
	p := s.deps.World.Player(id)
	if p == nil {
		s.ClearPlayer(id)
		return
	}
	kept := list[:0]
	changed := false
	for _, e := range list {
		if now >= e.expiresAtMs || (e.def.Kind == content.EffectShield && e.absorbLeft <= 0) {
			s.bumpStacks(handler.EffectTarget{Sid: id}, e.def.Key, -e.stacks)
			s.deps.Out.Info(id, fmt.Sprintf("The %s effect fades.", e.def.Name))
			changed = true
			continue
		}
		kept = append(kept, e)
		if e.nextPulseMs == 0 || now < e.nextPulseMs {
			continue
		}
		e.nextPulseMs += e.def.Period.Ms()
		amount := e.def.Amount * e.stacks
		switch e.def.Kind {
		case content.EffectDOT:
			s.deps.Combat.HurtPlayer(id, amount, e.def.Name)
		case content.EffectHOT:
			s.deps.Combat.HealPlayer(e.source, id, amount)
		}
	}
	for i := len(kept); i < len(list); i++ {
		list[i] = nil
	}
	if _, live := s.players[id]; !live {
		// A pulse killed the player mid-loop and death already cleared
		// this session's effects and stacks. Writing kept back would
		// resurrect them onto the respawned player.
		return
	}
	if len(kept) == 0 {
		delete(s.players, id)
	} else {
		s.players[id] = kept
	}
	if changed {
		s.deps.World.Dirty.PlayerStatus.Mark(id)
		s.deps.Out.Prompt(id)
	}
}

func (s *EffectSystem) tickMob(mobID string, list []*activeEffect, now int64) {
	m := s.deps.World.Mob(mobID)
	if m == nil {
		s.ClearMob(mobID)
		return
	}
	kept := list[:0]
	for _, e := range list {
		if now >= e.expiresAtMs {
			continue
		}
		kept = append(kept, e)
		if e.nextPulseMs == 0 || now < e.nextPulseMs {
			continue
		}
		e.nextPulseMs += e.def.Period.Ms()
		if e.def.Kind == content.EffectDOT {
			s.deps.Combat.DamageMob(e.source, mobID, e.def.Amount*e.stacks)
		}
	}
	for i := len(kept); i < len(list); i++ {
		list[i] = nil
	}
	if _, live := s.mobs[mobID]; !live {
		// The pulse killed the mob; mob death cleared its effects.
		return
	}
	if len(kept) == 0 {
		delete(s.mobs, mobID)
	} else {
		s.mobs[mobID] = kept
	}
}

// PlayerStatMods sums the stat adjustments of the player's buffs and
// debuffs, stack-weighted.
func (s *EffectSystem) PlayerStatMods(id sid.ID) content.StatMods {
	var mods content.StatMods
	for _, e := range s.players[id] {
		if e.def.Stats.IsZero() {
			continue
		}
		for i := 0; i < e.stacks; i++ {
			mods = mods.Add(e.def.Stats)
		}
	}
	return mods
}

func (s *EffectSystem) HasPlayerEffect(id sid.ID, kind string) bool {
	for _, e := range s.players[id] {
		if e.def.Kind == kind {
			return true
		}
	}
	return false
}

func (s *EffectSystem) HasMobEffect(mob string, kind string) bool {
	for _, e := range s.mobs[mob] {
		if e.def.Kind == kind {
			return true
		}
	}
	return false
}

// AbsorbPlayerDamage routes incoming damage through the player's shields,
// oldest first. Exhausted shields expire on the next effects tick.
func (s *EffectSystem) AbsorbPlayerDamage(id sid.ID, amount int) (after int, absorbed int) {
	after = amount
	for _, e := range s.players[id] {
		if e.def.Kind != content.EffectShield || e.absorbLeft <= 0 {
			continue
		}
		take := e.absorbLeft
		if take > after {
			take = after
		}
		e.absorbLeft -= take
		after -= take
		absorbed += take
		if after == 0 {
			break
		}
	}
	return after, absorbed
}

// PlayerEffects snapshots the player's active effects for display.
func (s *EffectSystem) PlayerEffects(id sid.ID) []handler.EffectSnapshot {
	list := s.players[id]
	if len(list) == 0 {
		return nil
	}
	now := s.now()
	out := make([]handler.EffectSnapshot, 0, len(list))
	for _, e := range list {
		out = append(out, handler.EffectSnapshot{
			Name:      e.def.Name,
			Kind:      e.def.Kind,
			Stacks:    e.stacks,
			RemainsMs: e.expiresAtMs - now,
		})
	}
	return out
}

// ClearPlayer drops every effect on the session. Disconnect and handoff.
func (s *EffectSystem) ClearPlayer(id sid.ID) {
	delete(s.players, id)
	delete(s.stacksByPlayer, id)
}

// ClearMob drops every effect on the mob. Death and despawn.
func (s *EffectSystem) ClearMob(mob string) {
	delete(s.mobs, mob)
}

func (s *EffectSystem) listFor(t handler.EffectTarget) []*activeEffect {
	if t.Mob != "" {
		return s.mobs[t.Mob]
	}
	return s.players[t.Sid]
}

func (s *EffectSystem) setListFor(t handler.EffectTarget, list []*activeEffect) {
	if t.Mob != "" {
		s.mobs[t.Mob] = list
	} else {
		s.players[t.Sid] = list
	}
}

func (s *EffectSystem) bumpStacks(t handler.EffectTarget, def string, delta int) {
	if t.Mob != "" {
		return
	}
	m := s.stacksByPlayer[t.Sid]
	if m == nil {
		m = make(map[string]int)
		s.stacksByPlayer[t.Sid] = m
	}
	m[def] += delta
	if m[def] <= 0 {
		delete(m, def)
	}
}

// StackCounts returns the per-definition stack map for a player. Shared
// reference; callers must not mutate.
func (s *EffectSystem) StackCounts(id sid.ID) map[string]int {
	return s.stacksByPlayer[id]
}

func (s *EffectSystem) markStatus(t handler.EffectTarget) {
	if t.Mob == "" {
		s.deps.World.Dirty.PlayerStatus.Mark(t.Sid)
	}
}
