package handler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ambonmud/server/internal/sid"
	"github.com/ambonmud/server/internal/world"
)

// HandleGroup dispatches the group subcommands: invite, accept, leave,
// kick, and the bare roster listing.
func HandleGroup(p *world.Player, arg string, deps *Deps) {
	sub, rest := splitFirst(arg)
	switch sub {
	case "", "list":
		groupList(p, deps)
	case "invite":
		groupInvite(p, rest, deps)
	case "accept":
		groupAccept(p, deps)
	case "leave":
		groupLeave(p, deps)
	case "kick":
		groupKick(p, rest, deps)
	default:
		deps.Out.Text(p.Sid, "Group commands: invite <who>, accept, leave, kick <who>, list.")
		deps.Out.Prompt(p.Sid)
	}
}

func groupList(p *world.Player, deps *Deps) {
	g := deps.World.Groups.Of(p.Sid)
	if g == nil {
		deps.Out.Text(p.Sid, "You are not in a group.")
		deps.Out.Prompt(p.Sid)
		return
	}
	deps.Out.Text(p.Sid, "Your group:")
	for _, id := range g.Members {
		m := deps.World.Player(id)
		if m == nil {
			continue
		}
		tag := ""
		if id == g.Leader() {
			tag = " (leader)"
		}
		deps.Out.Text(p.Sid, fmt.Sprintf("  %s%s  HP %d/%d", m.Name, tag, m.HP, m.MaxHP))
	}
	deps.Out.Prompt(p.Sid)
}

func groupInvite(p *world.Player, arg string, deps *Deps) {
	if arg == "" {
		deps.Out.Text(p.Sid, "Invite whom?")
		deps.Out.Prompt(p.Sid)
		return
	}
	target := deps.World.PlayerByName(strings.ToLower(arg))
	if target == nil || target.RoomID != p.RoomID {
		deps.Out.Text(p.Sid, "They aren't here.")
		deps.Out.Prompt(p.Sid)
		return
	}
	now := deps.Now()
	if inviter, live := deps.World.Groups.PendingInviter(target.Sid, now); live && inviter == p.Sid {
		deps.Out.Text(p.Sid, fmt.Sprintf("You have already invited %s.", target.Name))
		deps.Out.Prompt(p.Sid)
		return
	}
	err := deps.World.Groups.Invite(p.Sid, target.Sid, now)
	switch {
	case errors.Is(err, world.ErrInviteSelf):
		deps.Out.Text(p.Sid, "You can't invite yourself.")
	case errors.Is(err, world.ErrAlreadyGrouped):
		deps.Out.Text(p.Sid, fmt.Sprintf("%s is already in a group.", target.Name))
	case errors.Is(err, world.ErrNotLeader):
		deps.Out.Text(p.Sid, "Only the group leader can invite.")
	case errors.Is(err, world.ErrGroupFull):
		deps.Out.Text(p.Sid, "Your group is full.")
	case err != nil:
		deps.Out.Text(p.Sid, "You can't invite them right now.")
	default:
		deps.Out.Text(p.Sid, fmt.Sprintf("You invite %s to your group.", target.Name))
		deps.Out.Info(target.Sid, fmt.Sprintf("%s invites you to a group. Type 'group accept' to join.", p.Name))
		deps.Out.Prompt(target.Sid)
	}
	deps.Out.Prompt(p.Sid)
}

func groupAccept(p *world.Player, deps *Deps) {
	online := func(id sid.ID) bool { return deps.World.Player(id) != nil }
	g, err := deps.World.Groups.Accept(p.Sid, deps.Now(), online)
	switch {
	case errors.Is(err, world.ErrNoInvite):
		deps.Out.Text(p.Sid, "You have no pending group invite.")
	case errors.Is(err, world.ErrAlreadyGrouped):
		deps.Out.Text(p.Sid, "You are already in a group.")
	case errors.Is(err, world.ErrGroupFull):
		deps.Out.Text(p.Sid, "That group is full.")
	case err != nil:
		deps.Out.Text(p.Sid, "You can't join that group right now.")
	default:
		leader := deps.World.Player(g.Leader())
		if leader != nil {
			deps.Out.Info(p.Sid, fmt.Sprintf("You join %s's group.", leader.Name))
		} else {
			deps.Out.Info(p.Sid, "You join the group.")
		}
		GroupText(deps, g, fmt.Sprintf("%s joins the group.", p.Name), p.Sid)
		deps.World.Dirty.GroupInfo.Mark(g.ID)
	}
	deps.Out.Prompt(p.Sid)
}

func groupLeave(p *world.Player, deps *Deps) {
	res, err := deps.World.Groups.Leave(p.Sid)
	if errors.Is(err, world.ErrNotInGroup) {
		deps.Out.Text(p.Sid, "You are not in a group.")
		deps.Out.Prompt(p.Sid)
		return
	}
	deps.Out.Info(p.Sid, "You leave the group.")
	deps.Out.Prompt(p.Sid)
	NarrateGroupLeave(deps, res, p.Name)
}

func groupKick(p *world.Player, arg string, deps *Deps) {
	g := deps.World.Groups.Of(p.Sid)
	if g == nil {
		deps.Out.Text(p.Sid, "You are not in a group.")
		deps.Out.Prompt(p.Sid)
		return
	}
	if arg == "" {
		deps.Out.Text(p.Sid, "Kick whom?")
		deps.Out.Prompt(p.Sid)
		return
	}
	var target *world.Player
	lower := strings.ToLower(arg)
	for _, id := range g.Members {
		m := deps.World.Player(id)
		if m != nil && strings.HasPrefix(strings.ToLower(m.Name), lower) {
			target = m
			break
		}
	}
	if target == nil {
		deps.Out.Text(p.Sid, "No group member by that name.")
		deps.Out.Prompt(p.Sid)
		return
	}
	res, err := deps.World.Groups.Kick(p.Sid, target.Sid)
	switch {
	case errors.Is(err, world.ErrNotLeader):
		deps.Out.Text(p.Sid, "Only the group leader can kick.")
	case errors.Is(err, world.ErrNotInGroup):
		deps.Out.Text(p.Sid, "They are not in your group.")
	case err != nil:
		deps.Out.Text(p.Sid, "You can't kick them right now.")
	default:
		deps.Out.Info(target.Sid, "You have been kicked from the group.")
		deps.Out.Prompt(target.Sid)
		NarrateGroupLeave(deps, res, target.Name)
	}
	deps.Out.Prompt(p.Sid)
}
