package handler

import (
	"fmt"

	"github.com/ambonmud/server/internal/gmcp"
	"github.com/ambonmud/server/internal/sid"
	"github.com/ambonmud/server/internal/world"
)

// RoomText sends a line to everyone in the room except the listed sids.
func RoomText(deps *Deps, room, text string, except ...sid.ID) {
	for _, p := range deps.World.PlayersInRoom(room) {
		if contains(except, p.Sid) {
			continue
		}
		deps.Out.Text(p.Sid, text)
	}
}

// RoomTextPrompt is RoomText plus a prompt for each recipient. Use it when
// the line lands outside the recipient's own command flow, so their client
// still gets a fresh prompt frame this tick.
func RoomTextPrompt(deps *Deps, room, text string, except ...sid.ID) {
	for _, p := range deps.World.PlayersInRoom(room) {
		if contains(except, p.Sid) {
			continue
		}
		deps.Out.Text(p.Sid, text)
		deps.Out.Prompt(p.Sid)
	}
}

// GroupText sends a line to every online member of the player's group.
func GroupText(deps *Deps, g *world.Group, text string, except ...sid.ID) {
	if g == nil {
		return
	}
	for _, id := range g.Members {
		if contains(except, id) {
			continue
		}
		deps.Out.Text(id, text)
		deps.Out.Prompt(id)
	}
}

// NarrateGroupLeave reports a departure to everyone affected and refreshes
// the roster frame. Works for leave, kick, and disconnect; the departed
// player gets no message here since quits and kicks phrase it differently.
func NarrateGroupLeave(deps *Deps, res world.LeaveResult, name string) {
	pkg, body := gmcp.GroupInfo(deps.World, nil)
	deps.Out.Gmcp(res.Left, pkg, body)
	for _, id := range res.Dissolved {
		deps.Out.Info(id, fmt.Sprintf("%s has left the group. The group disbands.", name))
		deps.Out.Prompt(id)
		deps.Out.Gmcp(id, pkg, body)
	}
	if res.Group == nil {
		return
	}
	GroupText(deps, res.Group, fmt.Sprintf("%s has left the group.", name))
	if res.NewLeader != 0 {
		if lead := deps.World.Player(res.NewLeader); lead != nil {
			GroupText(deps, res.Group, fmt.Sprintf("%s is now the group leader.", lead.Name))
		}
	}
	deps.World.Dirty.GroupInfo.Mark(res.Group.ID)
}

func contains(ids []sid.ID, id sid.ID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
