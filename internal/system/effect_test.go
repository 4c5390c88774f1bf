package system

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ambonmud/server/internal/handler"
)

func TestDotPulsesAndStacks(t *testing.T) {
	f := newFixture(t)
	p := f.addPlayer("Ara", "warrior", 1, "fort:yard")
	venom := f.deps.Content.Effects.Get("venom")
	require.NotNil(t, venom)

	f.effects.Apply(handler.EffectTarget{Sid: p.Sid}, venom)
	f.drain()

	f.advance(3_001)
	assert.True(t, contains(f.linesFor(p.Sid), "You suffer 2 damage from Venom."))
	assert.Equal(t, 28, p.HP)

	// Second application stacks; pulses now hit for amount*stacks.
	f.effects.Apply(handler.EffectTarget{Sid: p.Sid}, venom)
	f.advance(3_000)
	assert.True(t, contains(f.linesFor(p.Sid), "You suffer 4 damage from Venom."))
	assert.Equal(t, 24, p.HP)

	// The cap holds at two stacks.
	f.effects.Apply(handler.EffectTarget{Sid: p.Sid}, venom)
	assert.Equal(t, 2, f.effects.StackCounts(p.Sid)["venom"])
}

func TestEffectExpiresWithMessage(t *testing.T) {
	f := newFixture(t)
	p := f.addPlayer("Ara", "warrior", 1, "fort:yard")
	f.effects.Apply(handler.EffectTarget{Sid: p.Sid}, f.deps.Content.Effects.Get("venom"))
	f.drain()

	f.advance(3_001) // pulse one
	f.advance(3_000) // pulse two
	f.drain()

	// Duration 9s: the expiry lands before a third pulse would.
	f.advance(2_999)
	lines := f.linesFor(p.Sid)
	assert.True(t, contains(lines, "The Venom effect fades."))
	assert.Equal(t, 26, p.HP)
	assert.Empty(t, f.effects.StackCounts(p.Sid))
}

func TestReapplyRefreshesDuration(t *testing.T) {
	f := newFixture(t)
	p := f.addPlayer("Ara", "warrior", 1, "fort:yard")
	daze := f.deps.Content.Effects.Get("daze")

	f.effects.Apply(handler.EffectTarget{Sid: p.Sid}, daze)
	f.advance(4_000)
	f.effects.Apply(handler.EffectTarget{Sid: p.Sid}, daze)

	// Past the original 5s expiry, alive on the refreshed clock.
	f.advance(2_000)
	assert.True(t, f.effects.HasPlayerEffect(p.Sid, "stun"))

	f.advance(3_001)
	assert.False(t, f.effects.HasPlayerEffect(p.Sid, "stun"))
	assert.True(t, contains(f.linesFor(p.Sid), "The Daze effect fades."))
}

func TestHotHealsOverTime(t *testing.T) {
	f := newFixture(t)
	healer := f.addPlayer("Bel", "cleric", 1, "fort:yard")
	target := f.addPlayer("Ara", "warrior", 1, "fort:yard")
	target.HP = 20

	f.effects.ApplyFrom(healer.Sid, handler.EffectTarget{Sid: target.Sid}, f.deps.Content.Effects.Get("mending"))
	f.advance(3_001)
	assert.Equal(t, 23, target.HP)
	f.advance(3_000)
	assert.Equal(t, 26, target.HP)
}

func TestShieldAbsorbsDirectDamage(t *testing.T) {
	f := newFixture(t)
	p := f.addPlayer("Ara", "warrior", 1, "fort:yard")
	f.effects.Apply(handler.EffectTarget{Sid: p.Sid}, f.deps.Content.Effects.Get("stone-skin"))
	f.drain()

	f.combat.HurtPlayer(p.Sid, 4, "the trap")
	lines := f.linesFor(p.Sid)
	assert.True(t, contains(lines, "Your shield absorbs the damage."))
	assert.Equal(t, 30, p.HP)

	// 6 absorb left: the next hit leaks one point through.
	f.combat.HurtPlayer(p.Sid, 7, "the trap")
	lines = f.linesFor(p.Sid)
	assert.True(t, contains(lines, "You suffer 1 damage from the trap."))
	assert.Equal(t, 29, p.HP)

	// Spent shields fade on the next effects pass.
	f.advance(1)
	assert.True(t, contains(f.linesFor(p.Sid), "The Stone Skin effect fades."))
}

func TestStatBuffAdjustsMods(t *testing.T) {
	f := newFixture(t)
	p := f.addPlayer("Ara", "warrior", 1, "fort:yard")

	assert.Zero(t, f.effects.PlayerStatMods(p.Sid).Str)
	f.effects.Apply(handler.EffectTarget{Sid: p.Sid}, f.deps.Content.Effects.Get("fury"))
	assert.Equal(t, 4, f.effects.PlayerStatMods(p.Sid).Str)

	// max_stacks 1: reapplying refreshes without doubling.
	f.effects.Apply(handler.EffectTarget{Sid: p.Sid}, f.deps.Content.Effects.Get("fury"))
	assert.Equal(t, 4, f.effects.PlayerStatMods(p.Sid).Str)
}

func TestDotOnMobCreditsSource(t *testing.T) {
	f := newFixture(t)
	p := f.addPlayer("Ara", "warrior", 1, "fort:yard")
	m := f.spawnMob("hoarder", "fort:yard")
	m.HP = 2

	f.effects.ApplyFrom(p.Sid, handler.EffectTarget{Mob: m.ID}, f.deps.Content.Effects.Get("venom"))
	f.drain()

	f.advance(3_001)
	lines := f.linesFor(p.Sid)
	assert.True(t, contains(lines, "a pack hoarder dies."))
	assert.True(t, contains(lines, "You gain 40 XP."))
	assert.True(t, contains(lines, "You loot 3 gold."))
	assert.Nil(t, f.deps.World.Mob(m.ID))
}

func TestDeathByDotClearsEffects(t *testing.T) {
	f := newFixture(t)
	p := f.addPlayer("Ara", "warrior", 1, "fort:yard")
	p.HP = 1
	f.effects.Apply(handler.EffectTarget{Sid: p.Sid}, f.deps.Content.Effects.Get("venom"))
	f.drain()

	f.advance(3_001)
	lines := f.linesFor(p.Sid)
	assert.True(t, contains(lines, "You have died!"))
	require.Positive(t, p.HP, "respawn restores the player")

	// Death cleared this session's effects mid-pulse; the tick must not
	// write them back onto the respawned player.
	assert.Empty(t, f.effects.PlayerEffects(p.Sid))
	assert.Empty(t, f.effects.StackCounts(p.Sid))

	hp := p.HP
	f.advance(3_000)
	assert.Equal(t, hp, p.HP, "the dot must not keep pulsing after death")
}

func TestDotKillingMobClearsItsEffects(t *testing.T) {
	f := newFixture(t)
	p := f.addPlayer("Ara", "warrior", 1, "fort:yard")
	m := f.spawnMob("hoarder", "fort:yard")
	m.HP = 2

	f.effects.ApplyFrom(p.Sid, handler.EffectTarget{Mob: m.ID}, f.deps.Content.Effects.Get("venom"))
	f.drain()

	f.advance(3_001)
	require.Nil(t, f.deps.World.Mob(m.ID))
	assert.False(t, f.effects.HasMobEffect(m.ID, "dot"),
		"death cleared the mob's effects; the tick must not restore them")
}

func TestClearPlayerDropsEverything(t *testing.T) {
	f := newFixture(t)
	p := f.addPlayer("Ara", "warrior", 1, "fort:yard")
	f.effects.Apply(handler.EffectTarget{Sid: p.Sid}, f.deps.Content.Effects.Get("venom"))
	f.effects.Apply(handler.EffectTarget{Sid: p.Sid}, f.deps.Content.Effects.Get("fury"))
	require.Len(t, f.effects.PlayerEffects(p.Sid), 2)

	f.effects.ClearPlayer(p.Sid)
	assert.Empty(t, f.effects.PlayerEffects(p.Sid))
	assert.Empty(t, f.effects.StackCounts(p.Sid))

	f.advance(3_001)
	assert.Equal(t, 30, p.HP, "cleared DOTs must not pulse")
}
