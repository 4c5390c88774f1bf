package system

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ambonmud/server/internal/content"
	coresys "github.com/ambonmud/server/internal/core/system"
	"github.com/ambonmud/server/internal/handler"
	"github.com/ambonmud/server/internal/sid"
	"github.com/ambonmud/server/internal/world"
)

type pendingCast struct {
	caster  sid.ID
	key     string
	keyword string
}

// AbilitySystem resolves queued casts. A cast queued during the input
// phase resolves in the same tick, after combat, so ability damage lands
// on post-swing HP. Gates run at resolve time: class, level, stun, mana,
// cooldown, then target resolution. Phase 6.
type AbilitySystem struct {
	deps *handler.Deps
	now  func() int64
	rng  *rand.Rand
	log  *zap.Logger

	pending   []pendingCast
	cooldowns map[sid.ID]map[string]int64 // ability key -> ready-at ms
}

func NewAbilitySystem(deps *handler.Deps, now func() int64, rng *rand.Rand, log *zap.Logger) *AbilitySystem {
	return &AbilitySystem{
		deps:      deps,
		now:       now,
		rng:       rng,
		log:       log,
		cooldowns: make(map[sid.ID]map[string]int64),
	}
}

func (s *AbilitySystem) Phase() coresys.Phase { return coresys.PhaseAbilities }

// QueueCast implements handler.AbilityQueue.
func (s *AbilitySystem) QueueCast(id sid.ID, abilityKey, targetKeyword string) {
	s.pending = append(s.pending, pendingCast{caster: id, key: abilityKey, keyword: targetKeyword})
}

// CooldownRemaining implements handler.AbilityQueue.
func (s *AbilitySystem) CooldownRemaining(id sid.ID, abilityKey string) int64 {
	row, ok := s.cooldowns[id]
	if !ok {
		return 0
	}
	rem := row[abilityKey] - s.now()
	if rem < 0 {
		return 0
	}
	return rem
}

func (s *AbilitySystem) Update(_ time.Duration) {
	if len(s.pending) == 0 {
		s.sweep()
		return
	}
	batch := s.pending
	s.pending = s.pending[:0]
	for _, c := range batch {
		s.resolve(c)
	}
	s.sweep()
}

func (s *AbilitySystem) resolve(c pendingCast) {
	p := s.deps.World.Player(c.caster)
	if p == nil {
		return
	}
	a := s.deps.Content.Abilities.Get(c.key)
	if a == nil {
		s.fail(c.caster, "You don't know that ability.")
		return
	}
	if a.Class != "" && a.Class != p.Class {
		s.fail(c.caster, "Your calling does not grant that ability.")
		return
	}
	if p.Level < a.Level {
		s.fail(c.caster, fmt.Sprintf("%s requires level %d.", a.Name, a.Level))
		return
	}
	if s.deps.Effects.HasPlayerEffect(c.caster, content.EffectStun) {
		s.fail(c.caster, "You are stunned and cannot act!")
		return
	}
	if p.Mana < a.Mana {
		s.fail(c.caster, "You don't have enough mana.")
		return
	}
	if rem := s.CooldownRemaining(c.caster, a.Key); rem > 0 {
		secs := (rem + 999) / 1000
		s.fail(c.caster, fmt.Sprintf("%s is not ready yet (%ds).", a.Name, secs))
		return
	}

	// Target resolution can still fail; mana and cooldown are only spent
	// once the cast actually lands.
	switch a.Target {
	case content.TargetSelf:
		s.spend(p, a)
		s.applyToAlly(p, a, p)
	case content.TargetAlly:
		ally := s.resolveAlly(p, c.keyword)
		if ally == nil {
			return
		}
		s.spend(p, a)
		s.applyToAlly(p, a, ally)
	case content.TargetEnemy:
		if a.Kind == content.AbilityArea {
			s.spend(p, a)
			s.applyArea(p, a)
			return
		}
		m := s.resolveEnemy(p, c.keyword)
		if m == nil {
			return
		}
		s.spend(p, a)
		s.applyToMob(p, a, m)
	default:
		s.log.Warn("ability with unknown target mode",
			zap.String("ability", a.Key),
			zap.String("target", a.Target))
	}
}

// spend burns mana and starts the cooldown.
func (s *AbilitySystem) spend(p *world.Player, a *content.Ability) {
	p.Mana -= a.Mana
	s.deps.World.Dirty.PlayerVitals.Mark(p.Sid)
	if a.Cooldown.Ms() > 0 {
		row, ok := s.cooldowns[p.Sid]
		if !ok {
			row = make(map[string]int64)
			s.cooldowns[p.Sid] = row
		}
		row[a.Key] = s.now() + a.Cooldown.Ms()
	}
}

func (s *AbilitySystem) resolveAlly(p *world.Player, keyword string) *world.Player {
	if keyword == "" {
		return p
	}
	k := strings.ToLower(keyword)
	g := s.deps.World.Groups.Of(p.Sid)
	if g == nil {
		if strings.HasPrefix(strings.ToLower(p.Name), k) {
			return p
		}
		s.fail(p.Sid, "You are not in a group.")
		return nil
	}
	for _, id := range g.Members {
		gp := s.deps.World.Player(id)
		if gp == nil || !strings.HasPrefix(strings.ToLower(gp.Name), k) {
			continue
		}
		if gp.RoomID != p.RoomID {
			s.fail(p.Sid, fmt.Sprintf("%s is not here.", gp.Name))
			return nil
		}
		return gp
	}
	s.fail(p.Sid, "No group member by that name.")
	return nil
}

func (s *AbilitySystem) resolveEnemy(p *world.Player, keyword string) *world.Mob {
	if keyword != "" {
		m := s.deps.World.FindMobInRoom(p.RoomID, keyword)
		if m == nil || m.HP <= 0 {
			s.fail(p.Sid, "You don't see that here.")
			return nil
		}
		return m
	}
	tgt, ok := s.deps.Combat.Target(p.Sid)
	if !ok {
		s.fail(p.Sid, "Cast at what?")
		return nil
	}
	m := s.deps.World.Mob(tgt)
	if m == nil || m.HP <= 0 || m.RoomID != p.RoomID {
		s.fail(p.Sid, "Your opponent is no longer here.")
		return nil
	}
	return m
}

func (s *AbilitySystem) applyToAlly(caster *world.Player, a *content.Ability, target *world.Player) {
	switch a.Kind {
	case content.AbilityHeal:
		healed := s.deps.Combat.HealPlayer(caster.Sid, target.Sid, s.roll(a.Min, a.Max))
		if target.Sid == caster.Sid {
			s.deps.Out.Text(caster.Sid, fmt.Sprintf("Your %s heals you for %d HP.", a.Name, healed))
		} else {
			s.deps.Out.Text(caster.Sid, fmt.Sprintf("Your %s heals %s for %d HP.", a.Name, target.Name, healed))
			s.deps.Out.Text(target.Sid, fmt.Sprintf("%s's %s heals you for %d HP.", caster.Name, a.Name, healed))
			s.deps.Out.Prompt(target.Sid)
		}
	case content.AbilityStatus:
		def := s.deps.Content.Effects.Get(a.Effect)
		if def == nil {
			s.log.Error("ability names missing effect",
				zap.String("ability", a.Key),
				zap.String("effect", a.Effect))
			return
		}
		s.deps.Effects.ApplyFrom(caster.Sid, handler.EffectTarget{Sid: target.Sid}, def)
		if target.Sid == caster.Sid {
			s.deps.Out.Text(caster.Sid, fmt.Sprintf("You cast %s.", a.Name))
		} else {
			s.deps.Out.Text(caster.Sid, fmt.Sprintf("You cast %s on %s.", a.Name, target.Name))
			s.deps.Out.Text(target.Sid, fmt.Sprintf("%s casts %s on you.", caster.Name, a.Name))
			s.deps.Out.Prompt(target.Sid)
		}
	default:
		s.log.Warn("ability kind unusable on an ally",
			zap.String("ability", a.Key),
			zap.String("kind", a.Kind))
	}
	s.deps.Out.Prompt(caster.Sid)
}

func (s *AbilitySystem) applyToMob(caster *world.Player, a *content.Ability, m *world.Mob) {
	switch a.Kind {
	case content.AbilityDamage:
		dmg := s.roll(a.Min, a.Max)
		s.deps.Out.Text(caster.Sid, fmt.Sprintf("Your %s hits %s for %d damage.", a.Name, m.Name, dmg))
		for _, other := range s.deps.World.PlayersInRoom(caster.RoomID) {
			if other.Sid != caster.Sid {
				s.deps.Out.Text(other.Sid, fmt.Sprintf("%s's %s hits %s.", caster.Name, a.Name, m.Name))
			}
		}
		s.deps.Combat.DamageMob(caster.Sid, m.ID, dmg)
	case content.AbilityStatus:
		def := s.deps.Content.Effects.Get(a.Effect)
		if def == nil {
			s.log.Error("ability names missing effect",
				zap.String("ability", a.Key),
				zap.String("effect", a.Effect))
			return
		}
		s.deps.Effects.ApplyFrom(caster.Sid, handler.EffectTarget{Mob: m.ID}, def)
		s.deps.Combat.EngageMob(m.ID, caster.Sid, 1.0)
		s.deps.Out.Text(caster.Sid, fmt.Sprintf("You cast %s on %s.", a.Name, m.Name))
	default:
		s.log.Warn("ability kind unusable on an enemy",
			zap.String("ability", a.Key),
			zap.String("kind", a.Kind))
	}
	s.deps.Out.Prompt(caster.Sid)
}

// applyArea hits every mob in the caster's room already fighting the
// caster's group. Unengaged bystanders are spared.
func (s *AbilitySystem) applyArea(caster *world.Player, a *content.Ability) {
	involved := map[sid.ID]struct{}{caster.Sid: {}}
	if g := s.deps.World.Groups.Of(caster.Sid); g != nil {
		for _, id := range g.Members {
			involved[id] = struct{}{}
		}
	}
	hit := 0
	for _, m := range s.deps.World.MobsInRoom(caster.RoomID) {
		if m.HP <= 0 || !s.deps.World.Threat.HasAnyOf(m.ID, involved) {
			continue
		}
		dmg := s.roll(a.Min, a.Max)
		s.deps.Out.Text(caster.Sid, fmt.Sprintf("Your %s hits %s for %d damage.", a.Name, m.Name, dmg))
		s.deps.Combat.DamageMob(caster.Sid, m.ID, dmg)
		hit++
	}
	if hit == 0 {
		s.deps.Out.Text(caster.Sid, fmt.Sprintf("Your %s finds no foes.", a.Name))
	} else {
		for _, other := range s.deps.World.PlayersInRoom(caster.RoomID) {
			if other.Sid != caster.Sid {
				s.deps.Out.Text(other.Sid, fmt.Sprintf("%s's %s erupts across the room.", caster.Name, a.Name))
			}
		}
	}
	s.deps.Out.Prompt(caster.Sid)
}

func (s *AbilitySystem) fail(id sid.ID, msg string) {
	s.deps.Out.Error(id, msg)
	s.deps.Out.Prompt(id)
}

func (s *AbilitySystem) roll(min, max int) int {
	if max <= min {
		return min
	}
	return min + s.rng.Intn(max-min+1)
}

// sweep drops cooldown rows for sessions that no longer exist. Cheap
// enough to gate on a size heuristic like the regen clocks.
func (s *AbilitySystem) sweep() {
	if len(s.cooldowns) <= 2*s.deps.World.PlayerCount() {
		return
	}
	for id := range s.cooldowns {
		if s.deps.World.Player(id) == nil {
			delete(s.cooldowns, id)
		}
	}
}
