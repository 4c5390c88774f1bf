package system

import (
	"time"

	"github.com/ambonmud/server/internal/config"
	coresys "github.com/ambonmud/server/internal/core/system"
	"github.com/ambonmud/server/internal/handler"
	"github.com/ambonmud/server/internal/sid"
	"github.com/ambonmud/server/internal/world"
)

type regenClock struct {
	nextHPAtMs   int64
	nextManaAtMs int64
}

// RegenSystem restores player HP and mana on per-player timers. The HP
// interval shortens with constitution (equipment and effects included)
// down to a floor; mana runs on a flat interval. Phase 2.
type RegenSystem struct {
	deps       *handler.Deps
	now        func() int64
	cfg        config.RegenConfig
	baseStat   int
	maxPerTick int

	clocks map[sid.ID]*regenClock
}

func NewRegenSystem(deps *handler.Deps, now func() int64, cfg config.RegenConfig, baseStat, maxPerTick int) *RegenSystem {
	return &RegenSystem{
		deps:       deps,
		now:        now,
		cfg:        cfg,
		baseStat:   baseStat,
		maxPerTick: maxPerTick,
		clocks:     make(map[sid.ID]*regenClock),
	}
}

func (s *RegenSystem) Phase() coresys.Phase { return coresys.PhaseRegen }

func (s *RegenSystem) Update(_ time.Duration) {
	now := s.now()
	visited := 0
	// Map iteration order varies per pass, so the cap starves nobody in
	// particular across ticks.
	for _, id := range s.deps.World.PlayerIDs() {
		if visited >= s.maxPerTick {
			break
		}
		visited++
		p := s.deps.World.Player(id)
		if p == nil {
			continue
		}
		c := s.clocks[id]
		if c == nil {
			c = &regenClock{
				nextHPAtMs:   now + s.hpIntervalMs(p),
				nextManaAtMs: now + s.cfg.ManaEvery.Milliseconds(),
			}
			s.clocks[id] = c
			continue
		}

		changed := false
		if now >= c.nextHPAtMs {
			c.nextHPAtMs = now + s.hpIntervalMs(p)
			if p.HP < p.MaxHP {
				p.HP += s.cfg.HPAmount
				if p.HP > p.MaxHP {
					p.HP = p.MaxHP
				}
				changed = true
			}
		}
		if now >= c.nextManaAtMs {
			c.nextManaAtMs = now + s.cfg.ManaEvery.Milliseconds()
			if p.Mana < p.MaxMana {
				p.Mana += s.cfg.ManaAmount
				if p.Mana > p.MaxMana {
					p.Mana = p.MaxMana
				}
				changed = true
			}
		}
		if changed {
			s.deps.World.Dirty.PlayerVitals.Mark(id)
		}
	}

	if len(s.clocks) > 2*s.deps.World.PlayerCount() {
		s.sweep()
	}
}

// hpIntervalMs is the constitution-adjusted regen interval. Con below the
// base stat lengthens it; the floor keeps stacked buffs from turning regen
// into a heal stream.
func (s *RegenSystem) hpIntervalMs(p *world.Player) int64 {
	mods := s.deps.World.EquipBonus(p.Sid).Stats.Add(s.deps.Effects.PlayerStatMods(p.Sid))
	con := p.Stats(mods).Con
	iv := s.cfg.HPBase - time.Duration(con-s.baseStat)*s.cfg.HPPerCon
	if iv < s.cfg.HPMinimum {
		iv = s.cfg.HPMinimum
	}
	return iv.Milliseconds()
}

func (s *RegenSystem) sweep() {
	for id := range s.clocks {
		if s.deps.World.Player(id) == nil {
			delete(s.clocks, id)
		}
	}
}
