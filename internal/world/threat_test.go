package world

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ambonmud/server/internal/sid"
)

func TestThreatTopAndTieBreak(t *testing.T) {
	th := newThreat()
	th.Add("rat#1", 1, 10)
	th.Add("rat#1", 2, 10) // equal amount, later entry
	th.Add("rat#1", 3, 5)

	top, ok := th.Top("rat#1", nil)
	require.True(t, ok)
	assert.Equal(t, sid.ID(1), top, "earliest entry wins the tie")

	th.Add("rat#1", 2, 0.5)
	top, _ = th.Top("rat#1", nil)
	assert.Equal(t, sid.ID(2), top)

	// Predicate filters unreachable targets.
	top, ok = th.Top("rat#1", func(id sid.ID) bool { return id == 3 })
	require.True(t, ok)
	assert.Equal(t, sid.ID(3), top)

	_, ok = th.Top("rat#1", func(sid.ID) bool { return false })
	assert.False(t, ok)
}

func TestThreatNegativeAndRemoval(t *testing.T) {
	th := newThreat()
	th.Add("rat#1", 1, 10)
	th.Add("rat#1", 1, -25)
	assert.Equal(t, -15.0, th.Amount("rat#1", 1))
	assert.True(t, th.HasThreat("rat#1", 1), "negative threat keeps the entry")

	th.Add("rat#1", 2, 1)
	th.RemovePlayer(1)
	assert.False(t, th.HasThreat("rat#1", 1))
	assert.True(t, th.HasEntry("rat#1"))

	th.RemoveMob("rat#1")
	assert.False(t, th.HasEntry("rat#1"))
	assert.Equal(t, 0, th.RowCount())
}

func TestThreatContributorsOrder(t *testing.T) {
	th := newThreat()
	th.Add("boss#1", 5, 1)
	th.Add("boss#1", 3, 99)
	th.Add("boss#1", 9, 50)
	assert.Equal(t, []sid.ID{5, 3, 9}, th.Contributors("boss#1"))
}

func TestThreatRemapMerges(t *testing.T) {
	th := newThreat()
	th.Add("rat#1", 1, 10)
	th.Add("rat#1", 2, 4)
	th.Add("bat#1", 1, 7)

	th.RemapSession(1, 2)
	assert.False(t, th.HasThreat("rat#1", 1))
	assert.Equal(t, 14.0, th.Amount("rat#1", 2))
	assert.Equal(t, 7.0, th.Amount("bat#1", 2))

	// The merged entry keeps the older insertion rank.
	top, _ := th.Top("rat#1", nil)
	assert.Equal(t, sid.ID(2), top)
}

func TestThreatHasAnyOf(t *testing.T) {
	th := newThreat()
	th.Add("rat#1", 1, 3)
	th.Add("rat#1", 2, 3)

	assert.True(t, th.HasAnyOf("rat#1", map[sid.ID]struct{}{2: {}, 9: {}}))
	assert.False(t, th.HasAnyOf("rat#1", map[sid.ID]struct{}{7: {}}))
	assert.False(t, th.HasAnyOf("bat#1", map[sid.ID]struct{}{1: {}}))
}
