package handler

import (
	"fmt"
	"strings"

	"github.com/ambonmud/server/internal/content"
	"github.com/ambonmud/server/internal/world"
)

// HandleKill engages a mob. All the interesting rules live in the combat
// system; this just picks the keyword.
func HandleKill(p *world.Player, arg string, deps *Deps) {
	if arg == "" {
		deps.Out.Error(p.Sid, "Kill what?")
		deps.Out.Prompt(p.Sid)
		return
	}
	deps.Combat.Start(p.Sid, arg)
}

// HandleFlee abandons the fight and all accumulated threat.
func HandleFlee(p *world.Player, _ string, deps *Deps) {
	deps.Combat.Flee(p.Sid)
}

// HandleCast queues an ability for this tick's ability phase. The ability
// is matched by key or name prefix against what the class knows at this
// level, so gates the player can't pass don't leak ability names.
func HandleCast(p *world.Player, arg string, deps *Deps) {
	name, target := splitFirst(arg)
	if name == "" {
		deps.Out.Error(p.Sid, "Cast what?")
		deps.Out.Prompt(p.Sid)
		return
	}
	a := findAbility(deps, p, name)
	if a == nil {
		deps.Out.Error(p.Sid, "You don't know that ability.")
		deps.Out.Prompt(p.Sid)
		return
	}
	deps.Abilities.QueueCast(p.Sid, a.Key, target)
}

// HandleAbilities lists what the class knows at this level with cost and
// readiness.
func HandleAbilities(p *world.Player, _ string, deps *Deps) {
	known := deps.Content.Abilities.ForClass(p.Class, p.Level)
	if len(known) == 0 {
		deps.Out.Text(p.Sid, "You know no abilities yet.")
		deps.Out.Prompt(p.Sid)
		return
	}
	deps.Out.Text(p.Sid, "You know:")
	for _, a := range known {
		ready := "ready"
		if rem := deps.Abilities.CooldownRemaining(p.Sid, a.Key); rem > 0 {
			ready = fmt.Sprintf("%ds", (rem+999)/1000)
		}
		deps.Out.Text(p.Sid, fmt.Sprintf("  %-14s %3d mana  %s", a.Name, a.Mana, ready))
	}
	deps.Out.Prompt(p.Sid)
}

func findAbility(deps *Deps, p *world.Player, name string) *content.Ability {
	k := strings.ToLower(name)
	for _, a := range deps.Content.Abilities.ForClass(p.Class, p.Level) {
		if a.Key == k || strings.HasPrefix(strings.ToLower(a.Name), k) {
			return a
		}
	}
	return nil
}
