package system

import (
	"math/rand"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ambonmud/server/internal/handler"
	"github.com/ambonmud/server/internal/sid"
)

func TestAttackAndKillSequence(t *testing.T) {
	f := newFixture(t)
	p := f.addPlayer("Ara", "warrior", 1, "fort:yard")
	m := f.spawnMob("rat", "fort:yard")
	m.HP = 1 // next swing kills

	f.combat.Start(p.Sid, "rat")
	lines := f.linesFor(p.Sid)
	require.NotEmpty(t, lines)
	assert.Equal(t, "You attack a cellar rat.", lines[0])
	assert.True(t, f.combat.InCombat(p.Sid))

	f.combat.Update(0)
	lines = f.linesFor(p.Sid)
	require.NotEmpty(t, lines)
	assert.Regexp(t, regexp.MustCompile(`^You hit a cellar rat for \d+ damage\.$`), lines[0])
	assert.True(t, contains(lines, "a cellar rat dies."))
	assert.True(t, contains(lines, "You gain 100 XP."))
	assert.EqualValues(t, 100, p.XPTotal)

	// Death unhooks everything.
	assert.False(t, f.combat.InCombat(p.Sid))
	assert.Equal(t, 0, f.combat.ActiveMobs())
	assert.False(t, f.deps.World.Threat.HasEntry(m.ID))
	assert.Nil(t, f.deps.World.Mob(m.ID))
}

func TestGroupSplitsKillXP(t *testing.T) {
	f := newFixture(t)
	a := f.addPlayer("Ara", "warrior", 1, "fort:yard")
	b := f.addPlayer("Bel", "cleric", 1, "fort:yard")

	require.NoError(t, f.deps.World.Groups.Invite(a.Sid, b.Sid, f.nowMs))
	_, err := f.deps.World.Groups.Accept(b.Sid, f.nowMs, func(sid.ID) bool { return true })
	require.NoError(t, err)

	m := f.spawnMob("rat", "fort:yard")
	m.HP = 1

	f.combat.Start(a.Sid, "rat")
	f.drain()
	f.combat.Update(0)

	events := f.drain()
	// Base 100 split two ways, then the 10% group bonus per extra member:
	// 50 * 1.1 = 55 each.
	assert.True(t, contains(textsFor(events, a.Sid), "You gain 55 XP."))
	assert.True(t, contains(textsFor(events, b.Sid), "You gain 55 XP."))
	assert.EqualValues(t, 55, a.XPTotal)
	assert.EqualValues(t, 55, b.XPTotal)
}

func TestFleeWipesThreatAndMobRetargets(t *testing.T) {
	f := newFixture(t)
	a := f.addPlayer("Ara", "warrior", 1, "fort:yard")
	b := f.addPlayer("Bel", "cleric", 1, "fort:yard")
	m := f.spawnMob("wolf", "fort:yard")

	// Warrior threat multiplier keeps Ara on top while both swing.
	f.combat.Start(a.Sid, "wolf")
	f.combat.Start(b.Sid, "wolf")
	f.drain()

	f.advance(301)
	events := f.drain()
	assert.True(t, contains(textsFor(events, a.Sid), "a lean wolf hits you for 3 damage."),
		"wolf should strike the top-threat attacker first")

	f.combat.Flee(a.Sid)
	events = f.drain()
	assert.True(t, contains(textsFor(events, a.Sid), "You flee from a lean wolf!"))
	assert.True(t, contains(textsFor(events, b.Sid), "Ara flees!"))
	assert.False(t, f.combat.InCombat(a.Sid))
	assert.False(t, f.deps.World.Threat.HasThreat(m.ID, a.Sid))

	f.advance(301)
	events = f.drain()
	assert.True(t, contains(textsFor(events, b.Sid), "a lean wolf hits you for 3 damage."),
		"wolf should retarget the remaining attacker")
	assert.False(t, contains(textsFor(events, a.Sid), "a lean wolf hits you for 3 damage."))
}

func TestMobDeathPaysGoldAndDropsLoot(t *testing.T) {
	f := newFixture(t)
	p := f.addPlayer("Ara", "warrior", 1, "fort:yard")
	m := f.spawnMob("hoarder", "fort:yard")
	m.HP = 1

	f.combat.Start(p.Sid, "hoarder")
	f.drain()
	f.combat.Update(0)

	lines := f.linesFor(p.Sid)
	assert.True(t, contains(lines, "a pack hoarder drops a rat tail."))
	assert.True(t, contains(lines, "You loot 3 gold."))
	assert.EqualValues(t, 3, p.Gold)

	items := f.deps.World.ItemsInRoom("fort:yard")
	require.Len(t, items, 1)
	assert.Equal(t, "tail", items[0].Template.Key)
}

func TestMobRespawnIsScheduled(t *testing.T) {
	f := newFixture(t)
	p := f.addPlayer("Ara", "warrior", 1, "fort:cellar")
	m := f.spawnMob("rat", "fort:cellar")
	m.HP = 1
	m.RespawnMs = 30_000

	f.combat.Start(p.Sid, "rat")
	f.combat.Update(0)
	f.drain()
	require.Empty(t, f.deps.World.MobsInRoom("fort:cellar"))
	assert.Equal(t, 1, f.sched.Len())

	f.advance(29_000)
	assert.Empty(t, f.deps.World.MobsInRoom("fort:cellar"), "respawn must wait out the delay")

	f.advance(1_001)
	mobs := f.deps.World.MobsInRoom("fort:cellar")
	require.Len(t, mobs, 1)
	assert.Equal(t, "rat", mobs[0].TemplateKey)
	assert.True(t, contains(f.linesFor(p.Sid), "a cellar rat arrives."))
}

func TestPlayerDeathRespawnsWithXPPenalty(t *testing.T) {
	f := newFixture(t)
	p := f.addPlayer("Ara", "warrior", 2, "fort:court")
	p.XPTotal = 1_100
	p.HP = 1
	witness := f.addPlayer("Bel", "cleric", 1, "fort:court")
	m := f.spawnMob("rat", "fort:court")

	f.combat.EngageMob(m.ID, p.Sid, 1.0)
	f.drain()
	f.advance(301) // rat strikes for 2, Ara has 1 HP

	events := f.drain()
	lines := textsFor(events, p.Sid)
	assert.True(t, contains(lines, "You lose 110 XP."))
	assert.True(t, contains(lines, "Death by a cellar rat is not the end. You awaken elsewhere."))
	assert.True(t, contains(textsFor(events, witness.Sid), "Ara collapses!"))

	// The penalty never drops below the current level threshold.
	assert.EqualValues(t, 1_000, p.XPTotal)
	assert.Equal(t, "fort:yard", p.RoomID)
	assert.Equal(t, 15, p.HP, "respawn at half max HP")
	assert.False(t, f.combat.InCombat(p.Sid))
}

func TestHealGeneratesThreatOnEngagedMobs(t *testing.T) {
	f := newFixture(t)
	tank := f.addPlayer("Ara", "warrior", 1, "fort:yard")
	healer := f.addPlayer("Bel", "cleric", 1, "fort:yard")
	m := f.spawnMob("wolf", "fort:yard")
	tank.HP = 20

	f.combat.Start(tank.Sid, "wolf")
	f.drain()

	healed := f.combat.HealPlayer(healer.Sid, tank.Sid, 4)
	assert.Equal(t, 4, healed)
	assert.Equal(t, 24, tank.HP)
	// HealThreatMult 0.5: 4 healed -> 2 threat on the wolf.
	assert.Equal(t, 2.0, f.deps.World.Threat.Amount(m.ID, healer.Sid))
}

func TestHealClampsAtMaxHP(t *testing.T) {
	f := newFixture(t)
	p := f.addPlayer("Ara", "warrior", 1, "fort:yard")
	p.HP = 29

	healed := f.combat.HealPlayer(p.Sid, p.Sid, 10)
	assert.Equal(t, 1, healed)
	assert.Equal(t, 30, p.HP)
	assert.Equal(t, 0, f.combat.HealPlayer(p.Sid, p.Sid, 10), "full targets heal for zero")
}

func TestShieldAbsorbsMobStrikes(t *testing.T) {
	f := newFixture(t)
	p := f.addPlayer("Ara", "warrior", 1, "fort:yard")
	f.spawnMob("wolf", "fort:yard")
	f.effects.Apply(handler.EffectTarget{Sid: p.Sid}, f.deps.Content.Effects.Get("stone-skin"))

	f.combat.Start(p.Sid, "wolf")
	f.drain()
	f.advance(301)

	lines := f.linesFor(p.Sid)
	assert.True(t, contains(lines, "Your shield absorbs a lean wolf's blow."))
	assert.Equal(t, 30, p.HP)

	// Burn the shield down to 1; the next 3-point strike leaks 2 through.
	after, absorbed := f.effects.AbsorbPlayerDamage(p.Sid, 6)
	assert.Equal(t, 0, after)
	assert.Equal(t, 6, absorbed)
	f.advance(301)
	lines = f.linesFor(p.Sid)
	assert.True(t, contains(lines, "a lean wolf hits you for 2 damage."))
	assert.Equal(t, 28, p.HP)
}

func TestStunnedPlayerCannotSwing(t *testing.T) {
	f := newFixture(t)
	p := f.addPlayer("Ara", "warrior", 1, "fort:yard")
	m := f.spawnMob("wolf", "fort:yard")

	f.combat.Start(p.Sid, "wolf")
	f.drain()
	f.effects.Apply(handler.EffectTarget{Sid: p.Sid}, f.deps.Content.Effects.Get("daze"))

	f.combat.Update(0)
	lines := f.linesFor(p.Sid)
	assert.True(t, contains(lines, "You are stunned and cannot act!"))
	assert.Equal(t, 20, m.HP, "stunned swings do no damage")
}

func TestStunnedMobSkipsStrike(t *testing.T) {
	f := newFixture(t)
	p := f.addPlayer("Ara", "warrior", 1, "fort:yard")
	m := f.spawnMob("wolf", "fort:yard")

	f.combat.EngageMob(m.ID, p.Sid, 1.0)
	f.effects.Apply(handler.EffectTarget{Mob: m.ID}, f.deps.Content.Effects.Get("daze"))
	f.drain()

	f.nowMs += 301
	f.combat.Update(0)
	assert.Equal(t, 30, p.HP, "dazed mobs do not strike")
}

func TestAbilityDamageBypassesArmor(t *testing.T) {
	f := newFixture(t)
	p := f.addPlayer("Ara", "warrior", 1, "fort:yard")
	m := f.spawnMob("steward", "fort:yard") // armor 2

	f.combat.DamageMob(p.Sid, m.ID, 5)
	assert.Equal(t, 35, m.HP)
	// Warriors seed threat at 1.5x.
	assert.Equal(t, 7.5, f.deps.World.Threat.Amount(m.ID, p.Sid))
}

func TestStartRefusesSecondTarget(t *testing.T) {
	f := newFixture(t)
	p := f.addPlayer("Ara", "warrior", 1, "fort:yard")
	f.spawnMob("rat", "fort:yard")
	f.spawnMob("wolf", "fort:yard")

	f.combat.Start(p.Sid, "rat")
	f.drain()
	f.combat.Start(p.Sid, "wolf")
	lines := f.linesFor(p.Sid)
	assert.True(t, contains(lines, "You are already fighting a cellar rat."))
}

func TestOpponentGoneClearsCombat(t *testing.T) {
	f := newFixture(t)
	p := f.addPlayer("Ara", "warrior", 1, "fort:yard")
	m := f.spawnMob("wolf", "fort:yard")

	f.combat.Start(p.Sid, "wolf")
	f.drain()
	f.deps.World.MoveMob(m.ID, "fort:cellar")

	f.combat.Update(0)
	assert.True(t, contains(f.linesFor(p.Sid), "Your opponent is no longer here."))
	assert.False(t, f.combat.InCombat(p.Sid))
}

func TestCombatBudgetRotatesFairly(t *testing.T) {
	f := newFixture(t)
	f.combat = NewCombatSystem(f.deps, func() int64 { return f.nowMs }, f.cfg.Combat, 1, rand.New(rand.NewSource(7)), zap.NewNop())
	f.deps.Combat = f.combat

	a := f.addPlayer("Ara", "warrior", 3, "fort:yard")
	b := f.addPlayer("Bel", "warrior", 3, "fort:yard")
	rat := f.spawnMob("rat", "fort:yard")
	wolf := f.spawnMob("wolf", "fort:yard")
	rat.HP, wolf.HP = 500, 500 // nobody dies mid-test
	f.combat.Start(a.Sid, "rat")
	f.combat.Start(b.Sid, "wolf")
	f.drain()

	// One slot per tick. The walk is in session order, so the first pass
	// serves the lower session and leaves the other ready.
	f.combat.Update(0)
	assert.Greater(t, f.combat.nextSwingMs[a.Sid], f.nowMs)
	assert.Equal(t, f.nowMs, f.combat.nextSwingMs[b.Sid])

	// The next pass resumes past the cursor instead of rolling map order
	// again, so the waiting fighter is served.
	f.combat.Update(0)
	assert.Greater(t, f.combat.nextSwingMs[b.Sid], f.nowMs)
}
