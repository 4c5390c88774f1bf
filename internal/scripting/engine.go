// Package scripting hosts the gopher-lua VM that owns the tunable game
// math: the XP curve, the death penalty, and mob behavior decisions.
// Numbers live in scripts so designers can retune without a rebuild.
package scripting

import (
	"fmt"
	"os"
	"path/filepath"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Engine wraps a single Lua VM. Single-goroutine access only (game loop).
type Engine struct {
	vm  *lua.LState
	log *zap.Logger
}

// NewEngine creates the VM and loads all scripts. progression.lua (or
// anything else defining xp_for_level) under core/ is mandatory;
// behavior/ is optional and falls back to engine-side wandering.
func NewEngine(scriptsDir string, log *zap.Logger) (*Engine, error) {
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})
	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	e := &Engine{vm: vm, log: log}

	if err := e.loadDir(filepath.Join(scriptsDir, "core")); err != nil {
		vm.Close()
		return nil, fmt.Errorf("load core scripts: %w", err)
	}
	if err := e.loadDir(filepath.Join(scriptsDir, "behavior")); err != nil {
		vm.Close()
		return nil, fmt.Errorf("load behavior scripts: %w", err)
	}

	if vm.GetGlobal("xp_for_level") == lua.LNil {
		vm.Close()
		return nil, fmt.Errorf("scripts: xp_for_level not defined under %s/core", scriptsDir)
	}
	return e, nil
}

// loadDir loads all .lua files in a directory, skipping missing dirs.
func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("loaded lua script", zap.String("file", path))
	}
	return nil
}

// XPForLevel calls Lua xp_for_level(level): total XP needed to reach the
// level. Level 1 is always 0.
func (e *Engine) XPForLevel(level int) int64 {
	if level <= 1 {
		return 0
	}
	return int64(e.callIntFunc("xp_for_level", level))
}

// DeathXPPenalty calls Lua death_xp_penalty(level, xp) and returns the XP
// to subtract on player death. Missing function means no penalty.
func (e *Engine) DeathXPPenalty(level int, xp int64) int64 {
	fn := e.vm.GetGlobal("death_xp_penalty")
	if fn == lua.LNil {
		return 0
	}
	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, lua.LNumber(level), lua.LNumber(xp)); err != nil {
		e.log.Error("lua death_xp_penalty error", zap.Error(err))
		return 0
	}
	result := e.vm.Get(-1)
	e.vm.Pop(1)
	penalty := int64(lua.LVAsNumber(result))
	if penalty < 0 {
		penalty = 0
	}
	return penalty
}

// MobPlayer is one visible player in a mob's decision context. Sids cross
// into Lua as strings; they don't fit a Lua number exactly.
type MobPlayer struct {
	Sid   string
	Name  string
	Level int
}

// MobContext is the pre-packed world view handed to mob_decide.
type MobContext struct {
	ID        string
	Behavior  string
	Level     int
	HP        int
	MaxHP     int
	InCombat  bool
	WanderDue bool
	Players   []MobPlayer
	Dialogue  []string
}

// MobDecision is what a behavior script wants the mob to do this round.
type MobDecision struct {
	Action string // "attack", "wander", "say", "idle"
	Target string // sid string for attack
	Text   string // line for say
}

// DecideMob calls Lua mob_decide(ctx). A missing function or a script
// error falls back to plain wandering.
func (e *Engine) DecideMob(ctx MobContext) MobDecision {
	wander := MobDecision{Action: "wander"}
	fn := e.vm.GetGlobal("mob_decide")
	if fn == lua.LNil {
		return wander
	}

	t := e.vm.NewTable()
	t.RawSetString("id", lua.LString(ctx.ID))
	t.RawSetString("behavior", lua.LString(ctx.Behavior))
	t.RawSetString("level", lua.LNumber(ctx.Level))
	t.RawSetString("hp", lua.LNumber(ctx.HP))
	t.RawSetString("max_hp", lua.LNumber(ctx.MaxHP))
	t.RawSetString("in_combat", lua.LBool(ctx.InCombat))
	t.RawSetString("wander_due", lua.LBool(ctx.WanderDue))

	players := e.vm.NewTable()
	for i, p := range ctx.Players {
		row := e.vm.NewTable()
		row.RawSetString("sid", lua.LString(p.Sid))
		row.RawSetString("name", lua.LString(p.Name))
		row.RawSetString("level", lua.LNumber(p.Level))
		players.RawSetInt(i+1, row)
	}
	t.RawSetString("players", players)

	dialogue := e.vm.NewTable()
	for i, line := range ctx.Dialogue {
		dialogue.RawSetInt(i+1, lua.LString(line))
	}
	t.RawSetString("dialogue", dialogue)

	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, t); err != nil {
		e.log.Error("lua mob_decide error", zap.Error(err), zap.String("mob", ctx.ID))
		return wander
	}

	result := e.vm.Get(-1)
	e.vm.Pop(1)

	rt, ok := result.(*lua.LTable)
	if !ok {
		return wander
	}
	d := MobDecision{
		Action: lStr(rt, "action"),
		Target: lStr(rt, "target"),
		Text:   lStr(rt, "text"),
	}
	if d.Action == "" {
		return wander
	}
	return d
}

// --- Lua helpers ---

func lInt(t *lua.LTable, key string) int {
	return int(lua.LVAsNumber(t.RawGetString(key)))
}

func lStr(t *lua.LTable, key string) string {
	v := t.RawGetString(key)
	if v == lua.LNil {
		return ""
	}
	return lua.LVAsString(v)
}

// callIntFunc calls a Lua function with int args and returns an int result.
func (e *Engine) callIntFunc(name string, args ...int) int {
	fn := e.vm.GetGlobal(name)
	if fn == lua.LNil {
		e.log.Error("lua function not found", zap.String("name", name))
		return 0
	}

	lArgs := make([]lua.LValue, len(args))
	for i, a := range args {
		lArgs[i] = lua.LNumber(a)
	}

	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, lArgs...); err != nil {
		e.log.Error("lua call error", zap.String("func", name), zap.Error(err))
		return 0
	}

	result := e.vm.Get(-1)
	e.vm.Pop(1)
	return int(lua.LVAsNumber(result))
}

// Close shuts down the Lua VM.
func (e *Engine) Close() {
	e.vm.Close()
}
