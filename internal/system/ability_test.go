package system

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ambonmud/server/internal/handler"
	"github.com/ambonmud/server/internal/sid"
)

func TestCastGates(t *testing.T) {
	f := newFixture(t)
	p := f.addPlayer("Ara", "warrior", 1, "fort:yard")
	f.spawnMob("rat", "fort:yard")

	cast := func(key, keyword string) []string {
		f.drain()
		f.abilities.QueueCast(p.Sid, key, keyword)
		f.abilities.Update(0)
		return f.linesFor(p.Sid)
	}

	assert.True(t, contains(cast("fireball", ""), "You don't know that ability."))
	assert.True(t, contains(cast("clerics-oath", ""), "Your calling does not grant that ability."))

	p.Class = "cleric"
	assert.True(t, contains(cast("clerics-oath", ""), "Cleric's Oath requires level 3."))
	p.Class = "warrior"

	f.effects.Apply(handler.EffectTarget{Sid: p.Sid}, f.deps.Content.Effects.Get("daze"))
	assert.True(t, contains(cast("strike", "rat"), "You are stunned and cannot act!"))
	f.effects.ClearPlayer(p.Sid)

	p.Mana = 3
	assert.True(t, contains(cast("strike", "rat"), "You don't have enough mana."))
	assert.Equal(t, 3, p.Mana, "failed gates spend nothing")
}

func TestDamageCastSpendsManaAndArmsCooldown(t *testing.T) {
	f := newFixture(t)
	p := f.addPlayer("Ara", "warrior", 1, "fort:yard")
	m := f.spawnMob("rat", "fort:yard")

	f.abilities.QueueCast(p.Sid, "strike", "rat")
	f.abilities.Update(0)

	lines := f.linesFor(p.Sid)
	assert.True(t, contains(lines, "Your Strike hits a cellar rat for 5 damage."))
	assert.Equal(t, 3, m.HP)
	assert.Equal(t, 15, p.Mana)
	assert.EqualValues(t, 6_000, f.abilities.CooldownRemaining(p.Sid, "strike"))
	assert.Equal(t, 7.5, f.deps.World.Threat.Amount(m.ID, p.Sid), "warrior casts seed warrior threat")

	f.abilities.QueueCast(p.Sid, "strike", "rat")
	f.abilities.Update(0)
	assert.True(t, contains(f.linesFor(p.Sid), "Strike is not ready yet (6s)."))
	assert.Equal(t, 15, p.Mana)

	f.nowMs += 6_001
	f.abilities.QueueCast(p.Sid, "strike", "rat")
	f.abilities.Update(0)
	assert.True(t, contains(f.linesFor(p.Sid), "a cellar rat dies."), "cooldown expired, cast lands")
}

func TestUnresolvedTargetSpendsNothing(t *testing.T) {
	f := newFixture(t)
	p := f.addPlayer("Ara", "warrior", 1, "fort:yard")

	f.abilities.QueueCast(p.Sid, "strike", "")
	f.abilities.Update(0)
	assert.True(t, contains(f.linesFor(p.Sid), "Cast at what?"))
	assert.Equal(t, 20, p.Mana)
	assert.Zero(t, f.abilities.CooldownRemaining(p.Sid, "strike"))

	f.abilities.QueueCast(p.Sid, "strike", "dragon")
	f.abilities.Update(0)
	assert.True(t, contains(f.linesFor(p.Sid), "You don't see that here."))
	assert.Equal(t, 20, p.Mana)
}

func TestEmptyEnemyKeywordUsesCombatTarget(t *testing.T) {
	f := newFixture(t)
	p := f.addPlayer("Ara", "warrior", 1, "fort:yard")
	m := f.spawnMob("rat", "fort:yard")

	f.combat.Start(p.Sid, "rat")
	f.drain()
	f.abilities.QueueCast(p.Sid, "strike", "")
	f.abilities.Update(0)
	assert.True(t, contains(f.linesFor(p.Sid), "Your Strike hits a cellar rat for 5 damage."))
	assert.Equal(t, 3, m.HP)
}

func TestHealCastOnSelf(t *testing.T) {
	f := newFixture(t)
	p := f.addPlayer("Bel", "cleric", 1, "fort:yard")
	p.HP = 20

	f.abilities.QueueCast(p.Sid, "mend", "")
	f.abilities.Update(0)
	assert.True(t, contains(f.linesFor(p.Sid), "Your Mend heals you for 6 HP."))
	assert.Equal(t, 26, p.HP)
	assert.Equal(t, 14, p.Mana)
}

func TestHealCastOnGroupmateByName(t *testing.T) {
	f := newFixture(t)
	a := f.addPlayer("Ara", "cleric", 1, "fort:yard")
	b := f.addPlayer("Bel", "warrior", 1, "fort:yard")
	b.HP = 20
	require.NoError(t, f.deps.World.Groups.Invite(a.Sid, b.Sid, f.nowMs))
	_, err := f.deps.World.Groups.Accept(b.Sid, f.nowMs, func(sid.ID) bool { return true })
	require.NoError(t, err)
	f.drain()

	f.abilities.QueueCast(a.Sid, "mend", "bel")
	f.abilities.Update(0)
	events := f.drain()
	assert.True(t, contains(textsFor(events, a.Sid), "Your Mend heals Bel for 6 HP."))
	assert.True(t, contains(textsFor(events, b.Sid), "Ara's Mend heals you for 6 HP."))
	assert.Equal(t, 26, b.HP)
}

func TestHealOutsideGroupNeedsNoKeyword(t *testing.T) {
	f := newFixture(t)
	a := f.addPlayer("Ara", "cleric", 1, "fort:yard")

	f.abilities.QueueCast(a.Sid, "mend", "bel")
	f.abilities.Update(0)
	assert.True(t, contains(f.linesFor(a.Sid), "You are not in a group."))
	assert.Equal(t, 20, a.Mana)
}

func TestStatusCastOnMobEngages(t *testing.T) {
	f := newFixture(t)
	p := f.addPlayer("Ara", "warrior", 1, "fort:yard")
	m := f.spawnMob("rat", "fort:yard")

	f.abilities.QueueCast(p.Sid, "afflict", "rat")
	f.abilities.Update(0)
	assert.True(t, contains(f.linesFor(p.Sid), "You cast Afflict on a cellar rat."))
	assert.True(t, f.effects.HasMobEffect(m.ID, "dot"))
	assert.Equal(t, 1.0, f.deps.World.Threat.Amount(m.ID, p.Sid))
	assert.Equal(t, 1, f.combat.ActiveMobs())
}

func TestStatusCastOnSelf(t *testing.T) {
	f := newFixture(t)
	p := f.addPlayer("Ara", "warrior", 1, "fort:yard")

	f.abilities.QueueCast(p.Sid, "ward", "")
	f.abilities.Update(0)
	assert.True(t, contains(f.linesFor(p.Sid), "You cast Ward."))
	assert.True(t, f.effects.HasPlayerEffect(p.Sid, "shield"))
	assert.Equal(t, 16, p.Mana)
}

func TestAreaHitsOnlyEngagedMobs(t *testing.T) {
	f := newFixture(t)
	p := f.addPlayer("Ara", "warrior", 2, "fort:yard")
	engaged := f.spawnMob("rat", "fort:yard")
	bystander := f.spawnMob("hoarder", "fort:yard")

	f.combat.Start(p.Sid, "rat")
	f.drain()

	f.abilities.QueueCast(p.Sid, "sweep", "")
	f.abilities.Update(0)
	lines := f.linesFor(p.Sid)
	assert.True(t, contains(lines, "Your Sweep hits a cellar rat for 4 damage."))
	assert.Equal(t, 4, engaged.HP)
	assert.Equal(t, 10, bystander.HP, "unengaged mobs are spared")
	assert.False(t, contains(lines, "Your Sweep hits a pack hoarder for 4 damage."))
}

func TestAreaWithNoFoesStillSpends(t *testing.T) {
	f := newFixture(t)
	p := f.addPlayer("Ara", "warrior", 2, "fort:yard")
	f.spawnMob("rat", "fort:yard")

	f.abilities.QueueCast(p.Sid, "sweep", "")
	f.abilities.Update(0)
	assert.True(t, contains(f.linesFor(p.Sid), "Your Sweep finds no foes."))
	assert.Equal(t, 12, p.Mana)
}
