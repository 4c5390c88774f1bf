package handler

import (
	"fmt"

	"github.com/ambonmud/server/internal/world"
)

// HandleAnsi toggles color output or runs the demo strip.
func HandleAnsi(p *world.Player, arg string, deps *Deps) {
	switch arg {
	case "on":
		p.Ansi = true
		deps.Out.Ansi(p.Sid, true)
		deps.Out.Info(p.Sid, "Color on.")
	case "off":
		p.Ansi = false
		deps.Out.Ansi(p.Sid, false)
		deps.Out.Info(p.Sid, "Color off.")
	case "demo":
		deps.Out.AnsiDemo(p.Sid)
	default:
		state := "off"
		if p.Ansi {
			state = "on"
		}
		deps.Out.Text(p.Sid, fmt.Sprintf("Color is %s. Usage: ansi on|off|demo.", state))
	}
	deps.Out.Prompt(p.Sid)
}

// HandleGmcpDebug resends the session's structured-data frames so client
// authors can inspect them.
func HandleGmcpDebug(p *world.Player, _ string, deps *Deps) {
	deps.World.Dirty.PlayerVitals.Mark(p.Sid)
	deps.World.Dirty.PlayerStatus.Mark(p.Sid)
	if g := deps.World.Groups.Of(p.Sid); g != nil {
		deps.World.Dirty.GroupInfo.Mark(g.ID)
	}
	deps.Out.Text(p.Sid, "Structured frames queued for this tick.")
	deps.Out.Prompt(p.Sid)
}

// HandleQuit saves and closes the session. The transport's disconnect
// notification drives the actual world cleanup.
func HandleQuit(p *world.Player, _ string, deps *Deps) {
	if deps.Combat.InCombat(p.Sid) {
		deps.Out.Error(p.Sid, "You can't quit in the middle of a fight!")
		deps.Out.Prompt(p.Sid)
		return
	}
	if deps.Handoff != nil && deps.Handoff.Pending(p.Sid) {
		deps.Out.Prompt(p.Sid)
		return
	}
	SavePlayer(deps, p)
	deps.Out.Text(p.Sid, "Goodbye!")
	deps.Out.CloseSession(p.Sid, "quit")
}

