package handler

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/ambonmud/server/internal/content"
	corevent "github.com/ambonmud/server/internal/core/event"
	"github.com/ambonmud/server/internal/world"
)

// HandleGoto teleports staff to a room id. Bare ids resolve inside the
// current zone.
func HandleGoto(p *world.Player, arg string, deps *Deps) {
	if arg == "" {
		deps.Out.Text(p.Sid, "Goto where? (zone:room)")
		deps.Out.Prompt(p.Sid)
		return
	}
	target := content.QualifyRoomID(content.ZoneOf(p.RoomID), arg)
	if deps.World.Room(target) == nil {
		deps.Out.Error(p.Sid, fmt.Sprintf("No room %q.", target))
		deps.Out.Prompt(p.Sid)
		return
	}
	if engineID, local := deps.Router.OwnerEngine(content.ZoneOf(target)); !local {
		if !deps.Handoff.Depart(p, target, engineID) {
			deps.Out.Error(p.Sid, "The way is blocked.")
			deps.Out.Prompt(p.Sid)
		}
		return
	}
	from := p.RoomID
	RoomTextPrompt(deps, from, fmt.Sprintf("%s vanishes in a puff of smoke.", p.Name), p.Sid)
	deps.World.MoveTo(p.Sid, target)
	RoomTextPrompt(deps, target, fmt.Sprintf("%s appears in a puff of smoke.", p.Name), p.Sid)
	corevent.Emit(deps.Bus, corevent.RoomChanged{Sid: p.Sid, From: from, To: target})
	HandleLook(p, "", deps)
}

// HandleSpawn creates a mob instance from a template in the staff's room.
func HandleSpawn(p *world.Player, arg string, deps *Deps) {
	if arg == "" {
		deps.Out.Text(p.Sid, "Spawn which mob template?")
		deps.Out.Prompt(p.Sid)
		return
	}
	tpl := deps.Content.Mobs.Get(arg)
	if tpl == nil {
		deps.Out.Error(p.Sid, fmt.Sprintf("No mob template %q.", arg))
		deps.Out.Prompt(p.Sid)
		return
	}
	m := deps.World.SpawnMob(tpl, p.RoomID)
	deps.Log.Info("staff spawn",
		zap.String("staff", p.Name),
		zap.String("mob", m.ID),
		zap.String("room", p.RoomID))
	deps.Out.Info(p.Sid, fmt.Sprintf("Spawned %s (%s).", m.Name, m.ID))
	RoomTextPrompt(deps, p.RoomID, fmt.Sprintf("%s arrives.", m.Name), p.Sid)
	deps.Out.Prompt(p.Sid)
}

// HandleShutdown asks the composition root for a graceful stop.
func HandleShutdown(p *world.Player, arg string, deps *Deps) {
	if deps.Shutdown == nil {
		deps.Out.Error(p.Sid, "Shutdown is not wired on this engine.")
		deps.Out.Prompt(p.Sid)
		return
	}
	notice := arg
	if notice == "" {
		notice = "The world is shutting down."
	}
	deps.Log.Warn("shutdown requested", zap.String("staff", p.Name))
	deps.Shutdown(notice)
}
