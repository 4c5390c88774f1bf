package world

import (
	"errors"
	"fmt"

	"github.com/ambonmud/server/internal/sid"
)

var (
	ErrAlreadyGrouped = errors.New("group: target already grouped")
	ErrGroupFull      = errors.New("group: at capacity")
	ErrNoInvite       = errors.New("group: no pending invite")
	ErrNotLeader      = errors.New("group: not the leader")
	ErrNotInGroup     = errors.New("group: not in a group")
	ErrInviteSelf     = errors.New("group: cannot invite yourself")
)

// Group membership keeps the leader at Members[0]. A group below two
// members never exists: Leave and Kick dissolve before that point.
type Group struct {
	ID      string
	Members []sid.ID
}

func (g *Group) Leader() sid.ID { return g.Members[0] }

func (g *Group) Has(id sid.ID) bool {
	for _, m := range g.Members {
		if m == id {
			return true
		}
	}
	return false
}

type invite struct {
	inviter     sid.ID
	groupID     string // empty when the inviter has no group yet
	expiresAtMs int64
}

// Groups manages groups and pending invites. Invites expire lazily on
// Accept and eagerly on Sweep. Engine goroutine only.
type Groups struct {
	byID      map[string]*Group
	bySession map[sid.ID]string
	invites   map[sid.ID]invite // keyed by invitee
	maxSize   int
	ttlMs     int64
	seq       uint64
}

func newGroups(maxSize int, ttlMs int64) *Groups {
	return &Groups{
		byID:      make(map[string]*Group),
		bySession: make(map[sid.ID]string),
		invites:   make(map[sid.ID]invite),
		maxSize:   maxSize,
		ttlMs:     ttlMs,
	}
}

// ByID returns a group by its id, nil when dissolved.
func (gs *Groups) ByID(id string) *Group { return gs.byID[id] }

// Of returns the group containing id, nil when ungrouped.
func (gs *Groups) Of(id sid.ID) *Group {
	gid, ok := gs.bySession[id]
	if !ok {
		return nil
	}
	return gs.byID[gid]
}

// SameGroup reports whether two sessions share a group.
func (gs *Groups) SameGroup(a, b sid.ID) bool {
	ga, ok := gs.bySession[a]
	if !ok {
		return false
	}
	return gs.bySession[b] == ga
}

// Invite records a pending invite from inviter to invitee.
func (gs *Groups) Invite(inviter, invitee sid.ID, nowMs int64) error {
	if inviter == invitee {
		return ErrInviteSelf
	}
	if _, grouped := gs.bySession[invitee]; grouped {
		return ErrAlreadyGrouped
	}
	g := gs.Of(inviter)
	if g != nil {
		if g.Leader() != inviter {
			return ErrNotLeader
		}
		if len(g.Members) >= gs.maxSize {
			return ErrGroupFull
		}
	}
	gid := ""
	if g != nil {
		gid = g.ID
	}
	gs.invites[invitee] = invite{inviter: inviter, groupID: gid, expiresAtMs: nowMs + gs.ttlMs}
	return nil
}

// Accept consumes the invitee's pending invite and joins (or forms) the
// group. Expired invites read as absent. online reports whether a session
// is still connected; a vanished inviter voids the invite.
func (gs *Groups) Accept(invitee sid.ID, nowMs int64, online func(sid.ID) bool) (*Group, error) {
	inv, ok := gs.invites[invitee]
	if !ok || nowMs >= inv.expiresAtMs {
		delete(gs.invites, invitee)
		return nil, ErrNoInvite
	}
	delete(gs.invites, invitee)
	if !online(inv.inviter) {
		return nil, ErrNoInvite
	}
	if _, grouped := gs.bySession[invitee]; grouped {
		return nil, ErrAlreadyGrouped
	}

	var g *Group
	if inv.groupID != "" {
		g = gs.byID[inv.groupID]
	}
	if g == nil {
		g = gs.Of(inv.inviter)
	}
	if g == nil {
		// Forming a new group; the inviter may have joined another one
		// since, in which case the invite is dead.
		if _, grouped := gs.bySession[inv.inviter]; grouped {
			return nil, ErrNoInvite
		}
		gs.seq++
		g = &Group{ID: fmt.Sprintf("g%d", gs.seq), Members: []sid.ID{inv.inviter}}
		gs.byID[g.ID] = g
		gs.bySession[inv.inviter] = g.ID
	}
	if len(g.Members) >= gs.maxSize {
		return nil, ErrGroupFull
	}
	g.Members = append(g.Members, invitee)
	gs.bySession[invitee] = g.ID
	return g, nil
}

// LeaveResult reports what Leave or Kick did so callers can narrate it.
type LeaveResult struct {
	Group     *Group   // nil once dissolved
	Left      sid.ID
	Dissolved []sid.ID // members released by dissolution, excluding Left
	NewLeader sid.ID   // non-zero when leadership moved
}

// Leave removes id from its group. A group dropping below two members
// dissolves; a departing leader hands off to the next member.
func (gs *Groups) Leave(id sid.ID) (LeaveResult, error) {
	g := gs.Of(id)
	if g == nil {
		return LeaveResult{}, ErrNotInGroup
	}
	return gs.remove(g, id), nil
}

// Kick removes member from leader's group.
func (gs *Groups) Kick(leader, member sid.ID) (LeaveResult, error) {
	g := gs.Of(leader)
	if g == nil {
		return LeaveResult{}, ErrNotInGroup
	}
	if g.Leader() != leader {
		return LeaveResult{}, ErrNotLeader
	}
	if !g.Has(member) || member == leader {
		return LeaveResult{}, ErrNotInGroup
	}
	return gs.remove(g, member), nil
}

func (gs *Groups) remove(g *Group, id sid.ID) LeaveResult {
	res := LeaveResult{Group: g, Left: id}
	wasLeader := g.Leader() == id
	for i, m := range g.Members {
		if m == id {
			g.Members = append(g.Members[:i], g.Members[i+1:]...)
			break
		}
	}
	delete(gs.bySession, id)

	if len(g.Members) < 2 {
		res.Dissolved = append(res.Dissolved, g.Members...)
		for _, m := range g.Members {
			delete(gs.bySession, m)
		}
		delete(gs.byID, g.ID)
		res.Group = nil
		return res
	}
	if wasLeader {
		res.NewLeader = g.Members[0]
	}
	return res
}

// Sweep drops expired invites and returns the invitees whose invites
// lapsed, so they can be told.
func (gs *Groups) Sweep(nowMs int64) []sid.ID {
	var lapsed []sid.ID
	for invitee, inv := range gs.invites {
		if nowMs >= inv.expiresAtMs {
			delete(gs.invites, invitee)
			lapsed = append(lapsed, invitee)
		}
	}
	return lapsed
}

// PendingInviter returns who invited the session, if an invite is live.
func (gs *Groups) PendingInviter(invitee sid.ID, nowMs int64) (sid.ID, bool) {
	inv, ok := gs.invites[invitee]
	if !ok || nowMs >= inv.expiresAtMs {
		return 0, false
	}
	return inv.inviter, true
}

func (gs *Groups) GroupCount() int { return len(gs.byID) }
