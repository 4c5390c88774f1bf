package world

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ambonmud/server/internal/sid"
)

func allOnline(sid.ID) bool { return true }

func TestGroupInviteAccept(t *testing.T) {
	gs := newGroups(3, 30_000)

	require.NoError(t, gs.Invite(1, 2, 0))
	g, err := gs.Accept(2, 1_000, allOnline)
	require.NoError(t, err)
	assert.Equal(t, []sid.ID{1, 2}, g.Members)
	assert.Equal(t, sid.ID(1), g.Leader())
	assert.True(t, gs.SameGroup(1, 2))

	// Only the leader can grow the group.
	require.ErrorIs(t, gs.Invite(2, 3, 1_000), ErrNotLeader)
	require.NoError(t, gs.Invite(1, 3, 1_000))
	g, err = gs.Accept(3, 2_000, allOnline)
	require.NoError(t, err)
	assert.Len(t, g.Members, 3)

	// Capacity is enforced at invite time.
	require.ErrorIs(t, gs.Invite(1, 4, 2_000), ErrGroupFull)
}

func TestGroupInviteExpiry(t *testing.T) {
	gs := newGroups(5, 10_000)
	require.NoError(t, gs.Invite(1, 2, 0))

	_, ok := gs.PendingInviter(2, 9_999)
	assert.True(t, ok)

	// Lazy expiry on accept.
	_, err := gs.Accept(2, 10_000, allOnline)
	require.ErrorIs(t, err, ErrNoInvite)

	// Eager expiry via sweep.
	require.NoError(t, gs.Invite(3, 4, 0))
	lapsed := gs.Sweep(20_000)
	assert.Equal(t, []sid.ID{4}, lapsed)
	_, err = gs.Accept(4, 20_001, allOnline)
	require.ErrorIs(t, err, ErrNoInvite)
}

func TestGroupInviteRules(t *testing.T) {
	gs := newGroups(5, 30_000)
	require.ErrorIs(t, gs.Invite(1, 1, 0), ErrInviteSelf)

	require.NoError(t, gs.Invite(1, 2, 0))
	_, err := gs.Accept(2, 0, allOnline)
	require.NoError(t, err)

	// Grouped players cannot be invited.
	require.ErrorIs(t, gs.Invite(3, 2, 0), ErrAlreadyGrouped)

	// An invite from someone who logged off is void.
	require.NoError(t, gs.Invite(4, 5, 0))
	_, err = gs.Accept(5, 0, func(id sid.ID) bool { return id != 4 })
	require.ErrorIs(t, err, ErrNoInvite)
}

func TestGroupLeaveDissolvesAtOne(t *testing.T) {
	gs := newGroups(5, 30_000)
	require.NoError(t, gs.Invite(1, 2, 0))
	_, err := gs.Accept(2, 0, allOnline)
	require.NoError(t, err)

	res, err := gs.Leave(2)
	require.NoError(t, err)
	assert.Nil(t, res.Group, "two-member group dissolves")
	assert.Equal(t, []sid.ID{1}, res.Dissolved)
	assert.Nil(t, gs.Of(1))
	assert.Equal(t, 0, gs.GroupCount())
}

func TestGroupLeaderSuccession(t *testing.T) {
	gs := newGroups(5, 30_000)
	require.NoError(t, gs.Invite(1, 2, 0))
	_, err := gs.Accept(2, 0, allOnline)
	require.NoError(t, err)
	require.NoError(t, gs.Invite(1, 3, 0))
	_, err = gs.Accept(3, 0, allOnline)
	require.NoError(t, err)

	res, err := gs.Leave(1)
	require.NoError(t, err)
	require.NotNil(t, res.Group)
	assert.Equal(t, sid.ID(2), res.NewLeader)
	assert.Equal(t, sid.ID(2), res.Group.Leader())
	assert.Len(t, res.Group.Members, 2)
}

func TestGroupKick(t *testing.T) {
	gs := newGroups(5, 30_000)
	require.NoError(t, gs.Invite(1, 2, 0))
	_, err := gs.Accept(2, 0, allOnline)
	require.NoError(t, err)
	require.NoError(t, gs.Invite(1, 3, 0))
	_, err = gs.Accept(3, 0, allOnline)
	require.NoError(t, err)

	_, err = gs.Kick(2, 3)
	require.ErrorIs(t, err, ErrNotLeader)
	_, err = gs.Kick(1, 1)
	require.ErrorIs(t, err, ErrNotInGroup)

	res, err := gs.Kick(1, 3)
	require.NoError(t, err)
	assert.Equal(t, sid.ID(3), res.Left)
	assert.Nil(t, gs.Of(3))
	require.NotNil(t, res.Group)
	assert.Equal(t, []sid.ID{1, 2}, res.Group.Members)
}
