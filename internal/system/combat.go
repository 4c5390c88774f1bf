package system

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ambonmud/server/internal/config"
	"github.com/ambonmud/server/internal/content"
	corevent "github.com/ambonmud/server/internal/core/event"
	coresys "github.com/ambonmud/server/internal/core/system"
	"github.com/ambonmud/server/internal/handler"
	"github.com/ambonmud/server/internal/sid"
	"github.com/ambonmud/server/internal/world"
)

type mobCombat struct {
	nextStrikeAtMs int64
}

// CombatSystem owns who is fighting whom. Players map to at most one
// target; mobs strike whoever tops their threat row. Swings on both sides
// run on the combat cadence; liveness checks (target gone, player dead,
// stun) run every engine tick. Phase 5.
type CombatSystem struct {
	deps       *handler.Deps
	now        func() int64
	cfg        config.CombatConfig
	maxPerTick int
	rng        *rand.Rand
	log        *zap.Logger

	playerTarget map[sid.ID]string
	nextSwingMs  map[sid.ID]int64
	activeMobs   map[string]*mobCombat

	// Rotating cursors: each tick resumes the walk just past the last
	// entry served, so a budget cut never starves the same fighters twice.
	playerCursor sid.ID
	mobCursor    string
}

func NewCombatSystem(deps *handler.Deps, now func() int64, cfg config.CombatConfig, maxPerTick int, rng *rand.Rand, log *zap.Logger) *CombatSystem {
	return &CombatSystem{
		deps:         deps,
		now:          now,
		cfg:          cfg,
		maxPerTick:   maxPerTick,
		rng:          rng,
		log:          log,
		playerTarget: make(map[sid.ID]string),
		nextSwingMs:  make(map[sid.ID]int64),
		activeMobs:   make(map[string]*mobCombat),
	}
}

func (s *CombatSystem) Phase() coresys.Phase { return coresys.PhaseCombat }

// ==================== engaging and leaving ====================

// Start implements handler.CombatController. Target search is a
// case-insensitive substring match over mob names, ordered by name, which
// is looser than the keyword matching item commands use.
func (s *CombatSystem) Start(id sid.ID, keyword string) {
	p := s.deps.World.Player(id)
	if p == nil {
		return
	}
	if cur, fighting := s.playerTarget[id]; fighting {
		name := "your opponent"
		if m := s.deps.World.Mob(cur); m != nil {
			name = m.Name
		}
		s.deps.Out.Error(id, fmt.Sprintf("You are already fighting %s.", name))
		s.deps.Out.Prompt(id)
		return
	}
	m := s.findByName(p.RoomID, keyword)
	if m == nil {
		s.deps.Out.Error(id, "You don't see that here.")
		s.deps.Out.Prompt(id)
		return
	}

	now := s.now()
	s.playerTarget[id] = m.ID
	s.nextSwingMs[id] = now // first swing lands this tick
	s.ensureActive(m.ID, now)
	s.deps.World.Threat.Add(m.ID, id, s.threatMult(p))

	s.deps.Out.Text(id, fmt.Sprintf("You attack %s.", m.Name))
	s.deps.Out.Prompt(id)
	for _, other := range s.deps.World.PlayersInRoom(p.RoomID) {
		if other.Sid == id {
			continue
		}
		s.deps.Out.Text(other.Sid, fmt.Sprintf("%s attacks %s.", p.Name, m.Name))
		s.deps.Out.Prompt(other.Sid)
	}
}

// Flee implements handler.CombatController. Fleeing wipes the player's
// threat everywhere, not just on the current target, so a mob two rooms
// back does not remember the coward.
func (s *CombatSystem) Flee(id sid.ID) {
	p := s.deps.World.Player(id)
	if p == nil {
		return
	}
	cur, fighting := s.playerTarget[id]
	if !fighting {
		s.deps.Out.Error(id, "You are not fighting anything.")
		s.deps.Out.Prompt(id)
		return
	}
	foe := "combat"
	if m := s.deps.World.Mob(cur); m != nil {
		foe = m.Name
	}
	delete(s.playerTarget, id)
	delete(s.nextSwingMs, id)
	s.deps.World.Threat.RemovePlayer(id)

	s.deps.Out.Text(id, fmt.Sprintf("You flee from %s!", foe))
	s.deps.Out.Prompt(id)
	for _, other := range s.deps.World.PlayersInRoom(p.RoomID) {
		if other.Sid == id {
			continue
		}
		s.deps.Out.Text(other.Sid, fmt.Sprintf("%s flees!", p.Name))
		s.deps.Out.Prompt(other.Sid)
	}
}

// InCombat implements handler.CombatController.
func (s *CombatSystem) InCombat(id sid.ID) bool {
	_, ok := s.playerTarget[id]
	return ok
}

// Target implements handler.CombatController.
func (s *CombatSystem) Target(id sid.ID) (string, bool) {
	t, ok := s.playerTarget[id]
	return t, ok
}

// Disengage implements handler.CombatController: the silent version of
// Flee, for quits and handoffs.
func (s *CombatSystem) Disengage(id sid.ID) {
	delete(s.playerTarget, id)
	delete(s.nextSwingMs, id)
	s.deps.World.Threat.RemovePlayer(id)
}

// EngageMob implements handler.CombatController: aggro from the behavior
// phase or an area cast. A player attacked while idle starts swinging
// back at the attacker.
func (s *CombatSystem) EngageMob(mobID string, target sid.ID, threat float64) {
	m := s.deps.World.Mob(mobID)
	if m == nil || m.HP <= 0 {
		return
	}
	now := s.now()
	s.ensureActive(mobID, now)
	if threat != 0 {
		s.deps.World.Threat.Add(mobID, target, threat)
	}
	if p := s.deps.World.Player(target); p != nil && p.RoomID == m.RoomID {
		if _, fighting := s.playerTarget[target]; !fighting {
			s.playerTarget[target] = mobID
			s.nextSwingMs[target] = now + s.cfg.Tick.Milliseconds()
		}
	}
}

// ==================== damage entry points ====================

// DamageMob implements handler.CombatController: the ability damage path.
// Armor does not apply; casts burn mana instead. The caller narrates the
// hit, this narrates the death.
func (s *CombatSystem) DamageMob(attacker sid.ID, mobID string, amount int) {
	m := s.deps.World.Mob(mobID)
	if m == nil || m.HP <= 0 || amount <= 0 {
		return
	}
	s.ensureActive(mobID, s.now())
	mult := 1.0
	if p := s.deps.World.Player(attacker); p != nil {
		mult = s.threatMult(p)
	}
	s.deps.World.Threat.Add(mobID, attacker, float64(amount)*mult)
	m.HP -= amount
	s.deps.World.Dirty.MobHP.Mark(mobID)
	if m.HP <= 0 {
		s.mobDeath(attacker, m)
	}
}

// HurtPlayer implements handler.CombatController: damage that does not
// come from a mob swing (DOT pulses, hazards). Shields absorb first;
// armor does not apply.
func (s *CombatSystem) HurtPlayer(target sid.ID, amount int, cause string) {
	p := s.deps.World.Player(target)
	if p == nil || amount <= 0 {
		return
	}
	after, absorbed := s.deps.Effects.AbsorbPlayerDamage(target, amount)
	if absorbed > 0 && after == 0 {
		s.deps.Out.Text(target, "Your shield absorbs the damage.")
		return
	}
	p.HP -= after
	s.deps.World.Dirty.PlayerVitals.Mark(target)
	s.deps.Out.Text(target, fmt.Sprintf("You suffer %d damage from %s.", after, cause))
	if p.HP <= 0 {
		s.playerDeath(p, cause)
	}
}

// HealPlayer implements handler.CombatController. The healer picks up
// threat on every mob in the room that any same-room groupmate already
// threatens; healing from another room earns nothing.
func (s *CombatSystem) HealPlayer(healer, target sid.ID, amount int) int {
	t := s.deps.World.Player(target)
	if t == nil || amount <= 0 {
		return 0
	}
	healed := amount
	if t.HP+healed > t.MaxHP {
		healed = t.MaxHP - t.HP
	}
	if healed <= 0 {
		return 0
	}
	t.HP += healed
	s.deps.World.Dirty.PlayerVitals.Mark(target)

	h := s.deps.World.Player(healer)
	if h != nil {
		involved := s.groupSet(healer)
		involved[target] = struct{}{}
		gain := float64(healed) * s.cfg.HealThreatMult
		for _, m := range s.deps.World.MobsInRoom(h.RoomID) {
			if s.deps.World.Threat.HasAnyOf(m.ID, involved) {
				s.deps.World.Threat.Add(m.ID, healer, gain)
				s.ensureActive(m.ID, s.now())
			}
		}
	}
	corevent.Emit(s.deps.Bus, corevent.HealPerformed{Healer: healer, Target: target, Amount: healed})
	return healed
}

// AwardXP implements handler.CombatController. Level-ups recompute max
// vitals from the class table and heal to full.
func (s *CombatSystem) AwardXP(id sid.ID, amount int64) {
	p := s.deps.World.Player(id)
	if p == nil || amount <= 0 {
		return
	}
	p.XPTotal += amount
	s.deps.Out.Info(id, fmt.Sprintf("You gain %d XP.", amount))

	leveled := false
	for p.Level < 100 && p.XPTotal >= s.deps.Scripting.XPForLevel(p.Level+1) {
		p.Level++
		if cls := s.deps.Content.Classes.Class(p.Class); cls != nil {
			p.BaseMaxHP += cls.HPPerLevel
			p.MaxHP = p.BaseMaxHP
			p.MaxMana += cls.MPPerLevel
		}
		p.HP = p.MaxHP
		p.Mana = p.MaxMana
		s.deps.Out.Info(id, fmt.Sprintf("You are now level %d!", p.Level))
		corevent.Emit(s.deps.Bus, corevent.PlayerLeveled{Sid: id, NewLevel: p.Level})
		leveled = true
	}
	s.deps.World.Dirty.PlayerStatus.Mark(id)
	if leveled {
		s.deps.World.Dirty.PlayerVitals.Mark(id)
		s.log.Info("player leveled",
			zap.String("player", p.Name),
			zap.Int("level", p.Level),
			zap.Int64("xp", p.XPTotal))
	}
	s.deps.Out.Prompt(id)
}

// ==================== per-tick resolution ====================

func (s *CombatSystem) Update(_ time.Duration) {
	now := s.now()
	budget := s.maxPerTick

	// Player side, in sorted session order starting past last tick's
	// cursor so the budget cut rotates through everyone.
	ids := make([]sid.ID, 0, len(s.playerTarget))
	for id := range s.playerTarget {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	pstart := sort.Search(len(ids), func(i int) bool { return ids[i] > s.playerCursor })
	for n := 0; n < len(ids); n++ {
		if budget <= 0 {
			break
		}
		budget--

		id := ids[(pstart+n)%len(ids)]
		s.playerCursor = id
		mobID, ok := s.playerTarget[id]
		if !ok {
			continue // removed earlier this pass by a death
		}
		p := s.deps.World.Player(id)
		if p == nil {
			delete(s.playerTarget, id)
			delete(s.nextSwingMs, id)
			continue
		}
		m := s.deps.World.Mob(mobID)
		if m == nil || m.HP <= 0 || m.RoomID != p.RoomID {
			delete(s.playerTarget, id)
			delete(s.nextSwingMs, id)
			s.deps.Out.Text(id, "Your opponent is no longer here.")
			s.deps.Out.Prompt(id)
			continue
		}
		if p.HP <= 0 {
			s.playerDeath(p, m.Name)
			continue
		}
		if now < s.nextSwingMs[id] {
			continue
		}
		s.nextSwingMs[id] = now + s.cfg.Tick.Milliseconds()
		if s.deps.Effects.HasPlayerEffect(id, content.EffectStun) {
			s.deps.Out.Text(id, "You are stunned and cannot act!")
			s.deps.Out.Prompt(id)
			continue
		}
		s.playerSwing(p, m)
	}

	// Mob side on the remaining budget, same rotation.
	mobs := make([]string, 0, len(s.activeMobs))
	for mobID := range s.activeMobs {
		mobs = append(mobs, mobID)
	}
	sort.Strings(mobs)
	mstart := sort.Search(len(mobs), func(i int) bool { return mobs[i] > s.mobCursor })
	for n := 0; n < len(mobs); n++ {
		if budget <= 0 {
			break
		}
		budget--

		mobID := mobs[(mstart+n)%len(mobs)]
		s.mobCursor = mobID
		mc, ok := s.activeMobs[mobID]
		if !ok {
			continue // removed earlier this pass by a death
		}
		m := s.deps.World.Mob(mobID)
		if m == nil || m.HP <= 0 {
			delete(s.activeMobs, mobID)
			continue
		}
		if now < mc.nextStrikeAtMs {
			continue
		}
		mc.nextStrikeAtMs = now + s.cfg.Tick.Milliseconds()
		if s.deps.Effects.HasMobEffect(mobID, content.EffectStun) {
			continue
		}
		target, ok := s.deps.World.Threat.Top(mobID, func(id sid.ID) bool {
			t := s.deps.World.Player(id)
			return t != nil && t.RoomID == m.RoomID && t.HP > 0
		})
		if !ok {
			// Nobody reachable. Drop out of combat; threat rows persist
			// and any fresh damage re-engages.
			delete(s.activeMobs, mobID)
			continue
		}
		s.mobStrike(m, target)
	}
}

// playerSwing resolves one weapon swing against the mob.
func (s *CombatSystem) playerSwing(p *world.Player, m *world.Mob) {
	eq := s.deps.World.EquipBonus(p.Sid)
	mods := eq.Stats.Add(s.deps.Effects.PlayerStatMods(p.Sid))
	stats := p.Stats(mods)

	min, max := eq.MinDamage, eq.MaxDamage
	if max <= 0 {
		min, max = 1, 2 // bare hands
	}
	dmg := s.roll(min, max) + eq.Attack + (stats.Str-s.cfg.BaseStat)/s.cfg.StrDivisor
	dmg -= m.Armor
	if dmg < 1 {
		dmg = 1
	}

	m.HP -= dmg
	s.deps.World.Dirty.MobHP.Mark(m.ID)
	s.deps.World.Threat.Add(m.ID, p.Sid, float64(dmg)*s.threatMult(p))
	s.ensureActive(m.ID, s.now())

	s.deps.Out.Text(p.Sid, fmt.Sprintf("You hit %s for %d damage.", m.Name, dmg))
	s.deps.Out.Prompt(p.Sid)
	for _, other := range s.deps.World.PlayersInRoom(p.RoomID) {
		if other.Sid == p.Sid {
			continue
		}
		s.deps.Out.Text(other.Sid, fmt.Sprintf("%s hits %s.", p.Name, m.Name))
	}

	if m.HP <= 0 {
		s.mobDeath(p.Sid, m)
	}
}

// mobStrike resolves one mob swing against its top-threat target. Order:
// dodge, then armor, then shields.
func (s *CombatSystem) mobStrike(m *world.Mob, target sid.ID) {
	p := s.deps.World.Player(target)
	if p == nil {
		return
	}
	eq := s.deps.World.EquipBonus(target)
	mods := eq.Stats.Add(s.deps.Effects.PlayerStatMods(target))
	stats := p.Stats(mods)

	dodge := float64(stats.Dex-s.cfg.BaseStat) * s.cfg.DexDodgePerPoint
	if dodge < 0 {
		dodge = 0
	}
	if dodge > s.cfg.MaxDodgePct {
		dodge = s.cfg.MaxDodgePct
	}
	if s.rng.Float64()*100 < dodge {
		s.deps.Out.Text(target, fmt.Sprintf("You dodge %s's attack.", m.Name))
		s.promptTargeting(m.ID)
		return
	}

	raw := s.roll(m.MinDamage, m.MaxDamage) - eq.Armor
	if raw < 1 {
		raw = 1
	}
	after, absorbed := s.deps.Effects.AbsorbPlayerDamage(target, raw)
	if absorbed > 0 && after == 0 {
		s.deps.Out.Text(target, fmt.Sprintf("Your shield absorbs %s's blow.", m.Name))
		s.promptTargeting(m.ID)
		return
	}

	p.HP -= after
	s.deps.World.Dirty.PlayerVitals.Mark(target)
	s.deps.Out.Text(target, fmt.Sprintf("%s hits you for %d damage.", m.Name, after))
	for _, other := range s.deps.World.PlayersInRoom(m.RoomID) {
		if other.Sid == target {
			continue
		}
		s.deps.Out.Text(other.Sid, fmt.Sprintf("%s hits %s.", m.Name, p.Name))
	}

	if p.HP <= 0 {
		s.playerDeath(p, m.Name)
	}
	s.promptTargeting(m.ID)
}

// ==================== deaths ====================

// mobDeath runs the full death sequence: unhook combat, drop loot, pay
// gold and XP, publish the kill for the progress hooks, and schedule the
// respawn.
func (s *CombatSystem) mobDeath(killer sid.ID, m *world.Mob) {
	contributors := s.deps.World.Threat.Contributors(m.ID)
	room := m.RoomID

	for pid, tgt := range s.playerTarget {
		if tgt == m.ID {
			delete(s.playerTarget, pid)
			delete(s.nextSwingMs, pid)
		}
	}
	delete(s.activeMobs, m.ID)
	s.deps.World.Threat.RemoveMob(m.ID)
	s.deps.Effects.ClearMob(m.ID)
	s.deps.World.Dirty.MobHP.Forget(m.ID)
	s.deps.World.RemoveMob(m.ID)

	for _, d := range m.Drops {
		if s.rng.Float64() >= d.Chance {
			continue
		}
		tpl := s.deps.Content.Items.Get(d.Item)
		if tpl == nil {
			continue
		}
		s.deps.World.SpawnItem(tpl, world.RoomLoc(room))
		for _, p := range s.deps.World.PlayersInRoom(room) {
			s.deps.Out.Text(p.Sid, fmt.Sprintf("%s drops %s.", m.Name, tpl.Name))
		}
	}

	for _, p := range s.deps.World.PlayersInRoom(room) {
		s.deps.Out.Text(p.Sid, fmt.Sprintf("%s dies.", m.Name))
		s.deps.Out.Prompt(p.Sid)
	}

	if kp := s.deps.World.Player(killer); kp != nil {
		if gold := s.roll(m.GoldMin, m.GoldMax); gold > 0 {
			kp.Gold += int64(gold)
			s.deps.World.Dirty.PlayerStatus.Mark(killer)
			s.deps.Out.Info(killer, fmt.Sprintf("You loot %d gold.", gold))
		}
		s.splitXP(kp, m, room)
	}

	corevent.Emit(s.deps.Bus, corevent.EntityKilled{
		MobID:    m.ID,
		Template: m.TemplateKey,
		Room:     room,
		Killer:   killer,
		Credited: contributors,
	})

	if m.RespawnMs > 0 {
		key, spawnRoom, delay := m.TemplateKey, m.SpawnRoom, m.RespawnMs
		s.deps.Sched.Schedule(s.now()+delay, "respawn", func() {
			s.respawn(key, spawnRoom, delay)
		})
	}

	s.log.Info("mob killed",
		zap.String("mob", m.ID),
		zap.String("room", room),
		zap.Uint64("killer", uint64(killer)))
}

// splitXP pays the kill out to the killer's groupmates in the room,
// dividing the base evenly and then applying the group and charisma
// bonuses per recipient.
func (s *CombatSystem) splitXP(killer *world.Player, m *world.Mob, room string) {
	recipients := []*world.Player{killer}
	if g := s.deps.World.Groups.Of(killer.Sid); g != nil {
		recipients = recipients[:0]
		for _, id := range g.Members {
			gp := s.deps.World.Player(id)
			if gp != nil && gp.RoomID == room {
				recipients = append(recipients, gp)
			}
		}
	}
	if len(recipients) == 0 || m.XP <= 0 {
		return
	}
	k := len(recipients)
	share := float64(m.XP/k) * (1 + float64(k-1)*s.cfg.GroupXPBonus)
	for _, r := range recipients {
		mods := s.deps.World.EquipBonus(r.Sid).Stats.Add(s.deps.Effects.PlayerStatMods(r.Sid))
		cha := r.Stats(mods).Cha
		bonus := 1 + float64(cha-s.cfg.BaseStat)*s.cfg.CharismaXPBonus
		if bonus < 0 {
			bonus = 0
		}
		s.AwardXP(r.Sid, int64(share*bonus))
	}
}

// playerDeath respawns the player at the configured room with a fraction
// of max HP and a Lua-tuned XP penalty that never costs a level.
func (s *CombatSystem) playerDeath(p *world.Player, cause string) {
	from := p.RoomID

	s.deps.Out.Error(p.Sid, "You have died!")
	for _, other := range s.deps.World.PlayersInRoom(from) {
		if other.Sid == p.Sid {
			continue
		}
		s.deps.Out.Text(other.Sid, fmt.Sprintf("%s collapses!", p.Name))
		s.deps.Out.Prompt(other.Sid)
	}

	if penalty := s.deps.Scripting.DeathXPPenalty(p.Level, p.XPTotal); penalty > 0 {
		floor := s.deps.Scripting.XPForLevel(p.Level)
		p.XPTotal -= penalty
		if p.XPTotal < floor {
			p.XPTotal = floor
		}
		s.deps.Out.Info(p.Sid, fmt.Sprintf("You lose %d XP.", penalty))
	}

	s.Disengage(p.Sid)
	s.deps.Effects.ClearPlayer(p.Sid)

	to := s.cfg.RespawnRoom
	s.deps.World.MoveTo(p.Sid, to)
	p.HP = int(float64(p.MaxHP) * s.cfg.RespawnHPFraction)
	if p.HP < 1 {
		p.HP = 1
	}
	s.deps.World.Dirty.PlayerVitals.Mark(p.Sid)
	s.deps.World.Dirty.PlayerStatus.Mark(p.Sid)
	corevent.Emit(s.deps.Bus, corevent.RoomChanged{Sid: p.Sid, From: from, To: to})

	s.deps.Out.Text(p.Sid, fmt.Sprintf("Death by %s is not the end. You awaken elsewhere.", cause))
	handler.HandleLook(p, "", s.deps)
	for _, other := range s.deps.World.PlayersInRoom(to) {
		if other.Sid == p.Sid {
			continue
		}
		s.deps.Out.Text(other.Sid, fmt.Sprintf("%s appears, looking shaken.", p.Name))
		s.deps.Out.Prompt(other.Sid)
	}

	s.log.Info("player died",
		zap.String("player", p.Name),
		zap.String("cause", cause),
		zap.String("room", from))
}

// respawn materializes a fresh instance of a template. Runs from the
// scheduled phase.
func (s *CombatSystem) respawn(templateKey, room string, delayMs int64) {
	tpl := s.deps.Content.Mobs.Get(templateKey)
	if tpl == nil {
		return
	}
	m := s.deps.World.SpawnMob(tpl, room)
	m.RespawnMs = delayMs
	for _, p := range s.deps.World.PlayersInRoom(room) {
		s.deps.Out.Text(p.Sid, fmt.Sprintf("%s arrives.", m.Name))
		s.deps.Out.Prompt(p.Sid)
	}
}

// ==================== helpers ====================

func (s *CombatSystem) ensureActive(mobID string, now int64) {
	if _, ok := s.activeMobs[mobID]; !ok {
		s.activeMobs[mobID] = &mobCombat{nextStrikeAtMs: now + s.cfg.Tick.Milliseconds()}
	}
}

// findByName picks the name-ordered first mob whose name contains the
// keyword, case-insensitively.
func (s *CombatSystem) findByName(room, keyword string) *world.Mob {
	mobs := s.deps.World.MobsInRoom(room)
	sort.Slice(mobs, func(i, j int) bool {
		if mobs[i].Name != mobs[j].Name {
			return mobs[i].Name < mobs[j].Name
		}
		return mobs[i].ID < mobs[j].ID
	})
	k := strings.ToLower(strings.TrimSpace(keyword))
	if k == "" {
		return nil
	}
	for _, m := range mobs {
		if m.HP > 0 && strings.Contains(strings.ToLower(m.Name), k) {
			return m
		}
	}
	return nil
}

func (s *CombatSystem) threatMult(p *world.Player) float64 {
	if p.Class == "warrior" {
		return s.cfg.WarriorThreatMult
	}
	return 1.0
}

// groupSet is the player's group as a membership set, or just the player.
func (s *CombatSystem) groupSet(id sid.ID) map[sid.ID]struct{} {
	set := map[sid.ID]struct{}{id: {}}
	if g := s.deps.World.Groups.Of(id); g != nil {
		for _, m := range g.Members {
			set[m] = struct{}{}
		}
	}
	return set
}

func (s *CombatSystem) promptTargeting(mobID string) {
	for pid, tgt := range s.playerTarget {
		if tgt == mobID {
			s.deps.Out.Prompt(pid)
		}
	}
}

func (s *CombatSystem) roll(min, max int) int {
	if max <= min {
		return min
	}
	return min + s.rng.Intn(max-min+1)
}

// ActiveFights reports how many players currently have a target.
func (s *CombatSystem) ActiveFights() int { return len(s.playerTarget) }

// ActiveMobs reports how many mobs are currently striking.
func (s *CombatSystem) ActiveMobs() int { return len(s.activeMobs) }
