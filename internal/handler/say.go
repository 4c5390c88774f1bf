package handler

import (
	"fmt"
	"strings"

	"github.com/ambonmud/server/internal/content"
	"github.com/ambonmud/server/internal/world"
)

// HandleSay speaks to the room.
func HandleSay(p *world.Player, arg string, deps *Deps) {
	if arg == "" {
		deps.Out.Error(p.Sid, "Say what?")
		deps.Out.Prompt(p.Sid)
		return
	}
	deps.Out.Text(p.Sid, fmt.Sprintf("You say, '%s'", arg))
	deps.Out.Prompt(p.Sid)
	RoomTextPrompt(deps, p.RoomID, fmt.Sprintf("%s says, '%s'", p.Name, arg), p.Sid)
}

// HandleTell whispers to one player, anywhere in the deployment. A local
// target hears it this tick; a remote one rides the inter-engine bus via
// the location index.
func HandleTell(p *world.Player, arg string, deps *Deps) {
	name, text := splitFirst(arg)
	if name == "" || text == "" {
		deps.Out.Error(p.Sid, "Tell whom what?")
		deps.Out.Prompt(p.Sid)
		return
	}
	if target := deps.World.PlayerByName(name); target != nil {
		if target.Sid == p.Sid {
			deps.Out.Error(p.Sid, "Talking to yourself again?")
			deps.Out.Prompt(p.Sid)
			return
		}
		deps.Out.Text(target.Sid, fmt.Sprintf("%s tells you: %s", p.Name, text))
		deps.Out.Prompt(target.Sid)
		deps.Out.Text(p.Sid, fmt.Sprintf("You tell %s: %s", target.Name, text))
		deps.Out.Prompt(p.Sid)
		return
	}
	if deps.Router.RouteTell(p.Name, strings.ToLower(name), text) {
		deps.Out.Text(p.Sid, fmt.Sprintf("You tell %s: %s", name, text))
		deps.Out.Prompt(p.Sid)
		return
	}
	deps.Out.Error(p.Sid, "They aren't here.")
	deps.Out.Prompt(p.Sid)
}

// HandleGtell speaks to the player's group, wherever its members stand.
func HandleGtell(p *world.Player, arg string, deps *Deps) {
	if arg == "" {
		deps.Out.Error(p.Sid, "Tell the group what?")
		deps.Out.Prompt(p.Sid)
		return
	}
	g := deps.World.Groups.Of(p.Sid)
	if g == nil {
		deps.Out.Error(p.Sid, "You are not in a group.")
		deps.Out.Prompt(p.Sid)
		return
	}
	deps.Out.Text(p.Sid, fmt.Sprintf("You tell the group: '%s'", arg))
	deps.Out.Prompt(p.Sid)
	GroupText(deps, g, fmt.Sprintf("%s tells the group: '%s'", p.Name, arg), p.Sid)
}

// HandleShout carries across the whole zone.
func HandleShout(p *world.Player, arg string, deps *Deps) {
	if arg == "" {
		deps.Out.Error(p.Sid, "Shout what?")
		deps.Out.Prompt(p.Sid)
		return
	}
	zone := content.ZoneOf(p.RoomID)
	deps.Out.Text(p.Sid, fmt.Sprintf("You shout, '%s'", arg))
	deps.Out.Prompt(p.Sid)
	deps.World.AllPlayers(func(other *world.Player) {
		if other.Sid == p.Sid || content.ZoneOf(other.RoomID) != zone {
			return
		}
		deps.Out.Text(other.Sid, fmt.Sprintf("%s shouts, '%s'", p.Name, arg))
		deps.Out.Prompt(other.Sid)
	})
}

// HandleEmote renders third-person action text.
func HandleEmote(p *world.Player, arg string, deps *Deps) {
	if arg == "" {
		deps.Out.Error(p.Sid, "Emote what?")
		deps.Out.Prompt(p.Sid)
		return
	}
	line := fmt.Sprintf("%s %s", p.Name, arg)
	deps.Out.Text(p.Sid, line)
	deps.Out.Prompt(p.Sid)
	RoomTextPrompt(deps, p.RoomID, line, p.Sid)
}

// splitFirst separates the first word from the rest.
func splitFirst(s string) (string, string) {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, " \t"); i >= 0 {
		return s[:i], strings.TrimSpace(s[i+1:])
	}
	return s, ""
}
