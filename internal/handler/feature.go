package handler

import (
	"fmt"
	"strings"

	"github.com/ambonmud/server/internal/content"
	"github.com/ambonmud/server/internal/world"
)

// HandleOpen opens a door in the room.
func HandleOpen(p *world.Player, arg string, deps *Deps) {
	setDoor(p, arg, deps, true)
}

// HandleClose closes a door in the room.
func HandleClose(p *world.Player, arg string, deps *Deps) {
	setDoor(p, arg, deps, false)
}

func setDoor(p *world.Player, arg string, deps *Deps, open bool) {
	verb, ask := "open", "Open what?"
	if !open {
		verb, ask = "close", "Close what?"
	}
	if arg == "" {
		deps.Out.Error(p.Sid, ask)
		deps.Out.Prompt(p.Sid)
		return
	}
	f := findFeature(deps, p.RoomID, strings.ToLower(arg), content.FeatureDoor)
	if f == nil {
		deps.Out.Error(p.Sid, "There is no door like that here.")
		deps.Out.Prompt(p.Sid)
		return
	}
	if deps.World.DoorIsOpen(p.RoomID, f) == open {
		already := "open"
		if !open {
			already = "closed"
		}
		deps.Out.Text(p.Sid, fmt.Sprintf("%s is already %s.", f.Name, already))
		deps.Out.Prompt(p.Sid)
		return
	}
	deps.World.SetDoorOpen(p.RoomID, f, open)
	deps.Out.Text(p.Sid, fmt.Sprintf("You %s %s.", verb, f.Name))
	deps.Out.Prompt(p.Sid)
	RoomTextPrompt(deps, p.RoomID, fmt.Sprintf("%s %ss %s.", p.Name, verb, f.Name), p.Sid)
}

// HandlePull throws a lever, toggling its target door. The target may sit
// rooms away; anyone standing there hears it move.
func HandlePull(p *world.Player, arg string, deps *Deps) {
	if arg == "" {
		deps.Out.Error(p.Sid, "Pull what?")
		deps.Out.Prompt(p.Sid)
		return
	}
	lever := findFeature(deps, p.RoomID, strings.ToLower(arg), content.FeatureLever)
	if lever == nil {
		deps.Out.Error(p.Sid, "There is nothing like that to pull.")
		deps.Out.Prompt(p.Sid)
		return
	}
	deps.Out.Text(p.Sid, fmt.Sprintf("You pull %s.", lever.Name))
	RoomTextPrompt(deps, p.RoomID, fmt.Sprintf("%s pulls %s.", p.Name, lever.Name), p.Sid)

	targetRoom := deps.World.Room(lever.TargetRoom)
	if targetRoom == nil {
		deps.Out.Text(p.Sid, "Nothing seems to happen.")
		deps.Out.Prompt(p.Sid)
		return
	}
	door := targetRoom.Feature(lever.TargetFeature)
	if door == nil || door.Kind != content.FeatureDoor {
		deps.Out.Text(p.Sid, "Nothing seems to happen.")
		deps.Out.Prompt(p.Sid)
		return
	}
	nowOpen := !deps.World.DoorIsOpen(targetRoom.ID, door)
	deps.World.SetDoorOpen(targetRoom.ID, door, nowOpen)

	state := "grinds open"
	if !nowOpen {
		state = "slams shut"
	}
	if targetRoom.ID == p.RoomID {
		deps.Out.Text(p.Sid, fmt.Sprintf("%s %s.", door.Name, state))
		RoomTextPrompt(deps, p.RoomID, fmt.Sprintf("%s %s.", door.Name, state), p.Sid)
	} else {
		deps.Out.Text(p.Sid, "You hear something shift in the distance.")
		RoomTextPrompt(deps, targetRoom.ID, fmt.Sprintf("%s %s.", door.Name, state))
	}
	deps.Out.Prompt(p.Sid)
}
