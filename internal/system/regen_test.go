package system

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegenArmsOnFirstVisit(t *testing.T) {
	f := newFixture(t)
	p := f.addPlayer("Ara", "warrior", 1, "fort:yard")
	p.HP = 10

	f.advance(1)
	assert.Equal(t, 10, p.HP, "first visit only arms the clock")

	f.advance(6_000)
	assert.Equal(t, 11, p.HP)
}

func TestConstitutionShortensHPInterval(t *testing.T) {
	f := newFixture(t)
	hardy := f.addPlayer("Ara", "warrior", 1, "fort:yard")
	frail := f.addPlayer("Bel", "cleric", 1, "fort:yard")
	hardy.Con = 26 // 6s base less 16*250ms bottoms out at the 2s floor
	hardy.HP = 10
	frail.HP = 10

	f.advance(1)
	f.advance(2_000)
	assert.Equal(t, 11, hardy.HP)
	assert.Equal(t, 10, frail.HP, "base constitution waits the full interval")

	f.advance(4_000)
	assert.Equal(t, 12, hardy.HP)
	assert.Equal(t, 11, frail.HP)
}

func TestManaRegenRunsFlat(t *testing.T) {
	f := newFixture(t)
	p := f.addPlayer("Ara", "cleric", 1, "fort:yard")
	p.Mana = 15

	f.advance(1)
	f.advance(4_000)
	assert.Equal(t, 16, p.Mana)
	f.advance(4_000)
	assert.Equal(t, 17, p.Mana)
}

func TestRegenStopsAtMax(t *testing.T) {
	f := newFixture(t)
	p := f.addPlayer("Ara", "warrior", 1, "fort:yard")
	p.HP = 29

	f.advance(1)
	f.advance(6_000)
	assert.Equal(t, 30, p.HP)
	f.advance(6_000)
	assert.Equal(t, 30, p.HP)
}
