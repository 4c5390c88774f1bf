// Package handler turns decoded command lines into world mutations and
// outbound events. Handlers run on the engine goroutine; anything that
// would block is queued to a system or a worker through the interfaces
// declared here.
package handler

import (
	"strings"

	"go.uber.org/zap"

	"github.com/ambonmud/server/internal/bus"
	"github.com/ambonmud/server/internal/config"
	"github.com/ambonmud/server/internal/content"
	"github.com/ambonmud/server/internal/core/event"
	"github.com/ambonmud/server/internal/persist"
	"github.com/ambonmud/server/internal/scripting"
	"github.com/ambonmud/server/internal/sid"
	"github.com/ambonmud/server/internal/world"
)

// CombatController is the combat system's surface for handlers and other
// systems. Implemented by system.CombatSystem.
type CombatController interface {
	// Start engages the player with a mob matched by keyword in their room.
	Start(id sid.ID, keyword string)
	// Flee drops the player's target and threat, with messages.
	Flee(id sid.ID)
	// InCombat reports whether the player has a live target.
	InCombat(id sid.ID) bool
	// Target returns the player's current target mob id.
	Target(id sid.ID) (string, bool)
	// Disengage silently clears the player's combat state (quit, handoff).
	Disengage(id sid.ID)
	// EngageMob aggroes a mob onto a player (behavior phase, area casts).
	EngageMob(mobID string, target sid.ID, threat float64)
	// DamageMob applies ability damage with threat, running death handling.
	DamageMob(attacker sid.ID, mobID string, amount int)
	// HurtPlayer applies non-mob damage (DOTs, hazards) with shields and
	// death handling. Cause names the source in the death message.
	HurtPlayer(target sid.ID, amount int, cause string)
	// HealPlayer applies a heal, fanning threat in per the healing rule.
	// Returns the HP actually restored after the max-HP clamp.
	HealPlayer(healer, target sid.ID, amount int) int
	// AwardXP grants xp with level-up processing (quests, staff grants).
	AwardXP(id sid.ID, amount int64)
}

// EffectTarget names either a player or a mob. Exactly one field is set.
type EffectTarget struct {
	Sid sid.ID
	Mob string
}

// EffectSnapshot is a read-only view of one active effect for display.
type EffectSnapshot struct {
	Name      string
	Kind      string
	Stacks    int
	RemainsMs int64
}

// EffectManager is the status-effect system's surface. Implemented by
// system.EffectSystem.
type EffectManager interface {
	// Apply attaches an effect definition, stacking up to the cap.
	Apply(target EffectTarget, def *content.Effect)
	// ApplyFrom is Apply with pulse attribution: DOT damage and HOT healing
	// credit the source session.
	ApplyFrom(source sid.ID, target EffectTarget, def *content.Effect)
	// PlayerStatMods sums stat adjustments from the player's buffs.
	PlayerStatMods(id sid.ID) content.StatMods
	HasPlayerEffect(id sid.ID, kind string) bool
	HasMobEffect(mob string, kind string) bool
	// AbsorbPlayerDamage routes damage through shields first.
	AbsorbPlayerDamage(id sid.ID, amount int) (after int, absorbed int)
	PlayerEffects(id sid.ID) []EffectSnapshot
	ClearPlayer(id sid.ID)
	ClearMob(mob string)
}

// AbilityQueue accepts cast requests for the abilities phase. Implemented
// by system.AbilitySystem.
type AbilityQueue interface {
	QueueCast(id sid.ID, abilityKey, targetKeyword string)
	// CooldownRemaining reports ms left, zero when ready.
	CooldownRemaining(id sid.ID, abilityKey string) int64
}

// Scheduler defers work to a later tick. Implemented by
// system.SchedulerSystem.
type Scheduler interface {
	Schedule(runAtMs int64, kind string, fn func())
}

// LoginService runs blocking account steps on a worker pool; results
// re-enter the engine as LoginCompleted events. Implemented by
// engine.LoginPool. Create receives the plaintext so the bcrypt cost is
// paid off the engine goroutine.
type LoginService interface {
	Lookup(id sid.ID, epoch uint32, name string)
	Verify(id sid.ID, epoch uint32, rec *persist.Record, password string)
	Create(id sid.ID, epoch uint32, rec *persist.Record, password string)
}

// HandoffService moves sessions across engines when movement leaves the
// zones this engine owns. Implemented by handoff.Manager.
type HandoffService interface {
	// Depart starts a handoff toward the engine owning the room's zone.
	// False means no transfer started and the move should fail locally.
	Depart(p *world.Player, targetRoom, targetEngine string) bool
	// Pending reports whether the session is mid-transfer; input waits.
	Pending(id sid.ID) bool
}

// Router resolves cross-engine destinations. Implemented by the engine
// composition root over the zone registry and coordinator.
type Router interface {
	// OwnerEngine names the engine owning a zone; self means local.
	OwnerEngine(zone string) (engineID string, local bool)
	// RouteTell delivers a tell to a player on another engine. False when
	// the target is not known anywhere.
	RouteTell(fromName, toNameLower, text string) bool
	// PlayerEngine reads the location index.
	PlayerEngine(nameLower string) (string, bool)
}

// Deps holds shared dependencies injected into all command handlers.
// Interface fields are filled after the systems are created.
type Deps struct {
	Config    *config.Config
	Log       *zap.Logger
	World     *world.State
	Content   *content.World
	Scripting *scripting.Engine
	Out       *bus.Output
	Repo      persist.Repo
	Saver     *persist.Saver
	Bus       *event.Bus
	Now       func() int64 // engine clock, ms

	Login   *LoginFlow
	Workers LoginService

	Combat    CombatController
	Effects   EffectManager
	Abilities AbilityQueue
	Sched     Scheduler
	Handoff   HandoffService
	Router    Router

	// Shutdown asks the composition root for a graceful stop (staff
	// command). Optional.
	Shutdown func(notice string)
}

// Command is one player verb.
type Command struct {
	Name    string
	Aliases []string
	Staff   bool
	Run     func(p *world.Player, arg string, deps *Deps)
}

// Registry maps verbs to commands. Lookup is exact on name or alias.
type Registry struct {
	byVerb map[string]*Command
}

func NewRegistry() *Registry {
	return &Registry{byVerb: make(map[string]*Command)}
}

func (r *Registry) Register(cmd *Command) {
	r.byVerb[cmd.Name] = cmd
	for _, a := range cmd.Aliases {
		r.byVerb[a] = cmd
	}
}

// Dispatch parses one line and runs its command. Unknown verbs and staff
// verbs from non-staff get the same brush-off, so staff commands don't
// leak by probing.
func (r *Registry) Dispatch(p *world.Player, line string, deps *Deps) {
	verb, arg := splitVerb(line)
	if verb == "" {
		deps.Out.Prompt(p.Sid)
		return
	}
	cmd := r.byVerb[verb]
	if cmd == nil || (cmd.Staff && !p.IsStaff) {
		deps.Out.Error(p.Sid, "Huh? (type a direction, or try: look, say, kill, cast)")
		deps.Out.Prompt(p.Sid)
		return
	}
	cmd.Run(p, arg, deps)
}

// RegisterAll wires every command into the registry.
func RegisterAll(reg *Registry, deps *Deps) {
	// Observation
	reg.Register(&Command{Name: "look", Aliases: []string{"l"}, Run: HandleLook})
	reg.Register(&Command{Name: "score", Aliases: []string{"sc"}, Run: HandleScore})
	reg.Register(&Command{Name: "who", Run: HandleWho})
	reg.Register(&Command{Name: "read", Run: HandleRead})

	// Movement
	for _, dir := range content.Directions {
		d := dir
		reg.Register(&Command{
			Name:    d,
			Aliases: []string{d[:1]},
			Run: func(p *world.Player, _ string, deps *Deps) {
				HandleMove(p, d, deps)
			},
		})
	}

	// Communication
	reg.Register(&Command{Name: "say", Aliases: []string{"'"}, Run: HandleSay})
	reg.Register(&Command{Name: "tell", Aliases: []string{"t"}, Run: HandleTell})
	reg.Register(&Command{Name: "gtell", Aliases: []string{"gt"}, Run: HandleGtell})
	reg.Register(&Command{Name: "shout", Run: HandleShout})
	reg.Register(&Command{Name: "emote", Aliases: []string{":"}, Run: HandleEmote})

	// Combat
	reg.Register(&Command{Name: "kill", Aliases: []string{"k", "attack"}, Run: HandleKill})
	reg.Register(&Command{Name: "flee", Run: HandleFlee})
	reg.Register(&Command{Name: "cast", Aliases: []string{"c"}, Run: HandleCast})
	reg.Register(&Command{Name: "abilities", Aliases: []string{"ab"}, Run: HandleAbilities})

	// Items
	reg.Register(&Command{Name: "inventory", Aliases: []string{"i", "inv"}, Run: HandleInventory})
	reg.Register(&Command{Name: "get", Aliases: []string{"take"}, Run: HandleGet})
	reg.Register(&Command{Name: "drop", Run: HandleDrop})
	reg.Register(&Command{Name: "equip", Aliases: []string{"wear", "wield"}, Run: HandleEquip})
	reg.Register(&Command{Name: "remove", Aliases: []string{"unequip"}, Run: HandleRemove})
	reg.Register(&Command{Name: "use", Aliases: []string{"quaff"}, Run: HandleUse})
	reg.Register(&Command{Name: "put", Run: HandlePut})

	// Features
	reg.Register(&Command{Name: "open", Run: HandleOpen})
	reg.Register(&Command{Name: "close", Run: HandleClose})
	reg.Register(&Command{Name: "pull", Run: HandlePull})

	// Shops
	reg.Register(&Command{Name: "list", Run: HandleList})
	reg.Register(&Command{Name: "buy", Run: HandleBuy})
	reg.Register(&Command{Name: "sell", Run: HandleSell})

	// Quests and progression
	reg.Register(&Command{Name: "quests", Aliases: []string{"journal", "quest"}, Run: HandleQuests})
	reg.Register(&Command{Name: "talk", Run: HandleTalk})
	reg.Register(&Command{Name: "achievements", Aliases: []string{"ach"}, Run: HandleAchievements})
	reg.Register(&Command{Name: "title", Run: HandleTitle})

	// Group
	reg.Register(&Command{Name: "group", Aliases: []string{"g", "party"}, Run: HandleGroup})

	// Session
	reg.Register(&Command{Name: "ansi", Aliases: []string{"color"}, Run: HandleAnsi})
	reg.Register(&Command{Name: "gmcp", Run: HandleGmcpDebug})
	reg.Register(&Command{Name: "quit", Run: HandleQuit})

	// Staff
	reg.Register(&Command{Name: "goto", Staff: true, Run: HandleGoto})
	reg.Register(&Command{Name: "spawn", Staff: true, Run: HandleSpawn})
	reg.Register(&Command{Name: "shutdown", Staff: true, Run: HandleShutdown})
}

// splitVerb lowercases the verb and trims the argument remainder. A line
// like "'hello" parses as verb "'" so the say alias works unspaced.
func splitVerb(line string) (verb, arg string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", ""
	}
	if line[0] == '\'' || line[0] == ':' {
		return string(line[0]), strings.TrimSpace(line[1:])
	}
	if i := strings.IndexAny(line, " \t"); i >= 0 {
		return strings.ToLower(line[:i]), strings.TrimSpace(line[i+1:])
	}
	return strings.ToLower(line), ""
}
