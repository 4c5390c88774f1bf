package handler

import (
	"fmt"

	"github.com/ambonmud/server/internal/content"
	corevent "github.com/ambonmud/server/internal/core/event"
	"github.com/ambonmud/server/internal/world"
)

// HandleMove walks the player one exit. Exits that leave this engine's
// zones turn into a handoff; everything the player sees after that is the
// handoff manager's business.
func HandleMove(p *world.Player, dir string, deps *Deps) {
	if deps.Combat.InCombat(p.Sid) {
		deps.Out.Error(p.Sid, "You can't just walk away from a fight! (try flee)")
		deps.Out.Prompt(p.Sid)
		return
	}
	if deps.Effects.HasPlayerEffect(p.Sid, content.EffectStun) {
		deps.Out.Error(p.Sid, "You are stunned and cannot act!")
		deps.Out.Prompt(p.Sid)
		return
	}
	if deps.Effects.HasPlayerEffect(p.Sid, content.EffectRoot) {
		deps.Out.Error(p.Sid, "You are rooted in place!")
		deps.Out.Prompt(p.Sid)
		return
	}

	res, ok := deps.World.ResolveExit(p.RoomID, dir)
	if !ok {
		deps.Out.Error(p.Sid, "You can't go that way.")
		deps.Out.Prompt(p.Sid)
		return
	}
	if res.Door != nil && !res.Open {
		deps.Out.Text(p.Sid, fmt.Sprintf("%s is closed.", res.Door.Name))
		deps.Out.Prompt(p.Sid)
		return
	}

	zone := content.ZoneOf(res.Target)
	if engineID, local := deps.Router.OwnerEngine(zone); !local {
		if !deps.Handoff.Depart(p, res.Target, engineID) {
			deps.Out.Text(p.Sid, "The way is blocked.")
			deps.Out.Prompt(p.Sid)
		}
		return
	}

	from := p.RoomID
	RoomTextPrompt(deps, from, fmt.Sprintf("%s leaves %s.", p.Name, dir), p.Sid)
	deps.World.MoveTo(p.Sid, res.Target)
	arrival := fmt.Sprintf("%s arrives.", p.Name)
	if rev := content.ReverseDir(dir); rev != "" {
		arrival = fmt.Sprintf("%s arrives from the %s.", p.Name, rev)
	}
	RoomTextPrompt(deps, res.Target, arrival, p.Sid)

	corevent.Emit(deps.Bus, corevent.RoomChanged{Sid: p.Sid, From: from, To: res.Target})
	HandleLook(p, "", deps)
}
