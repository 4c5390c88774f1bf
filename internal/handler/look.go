package handler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ambonmud/server/internal/content"
	"github.com/ambonmud/server/internal/gmcp"
	"github.com/ambonmud/server/internal/world"
)

// HandleLook renders the room, or one thing in it when an argument names
// a mob, player, item, or feature.
func HandleLook(p *world.Player, arg string, deps *Deps) {
	if arg != "" {
		lookAt(p, arg, deps)
		return
	}
	r := deps.World.Room(p.RoomID)
	if r == nil {
		deps.Out.Error(p.Sid, "You are nowhere. This is a bug; try moving.")
		deps.Out.Prompt(p.Sid)
		return
	}

	deps.Out.Text(p.Sid, r.Title)
	if r.Description != "" {
		deps.Out.Text(p.Sid, r.Description)
	}
	for _, f := range r.Features {
		deps.Out.Text(p.Sid, featureLine(deps, r.ID, f))
	}
	for _, it := range deps.World.ItemsInRoom(r.ID) {
		deps.Out.Text(p.Sid, fmt.Sprintf("%s lies here.", it.Name()))
	}
	for _, m := range deps.World.MobsInRoom(r.ID) {
		deps.Out.Text(p.Sid, fmt.Sprintf("%s is here.", m.Name))
	}
	for _, other := range deps.World.PlayersInRoom(r.ID) {
		if other.Sid != p.Sid {
			deps.Out.Text(p.Sid, fmt.Sprintf("%s is here.", other.DisplayName()))
		}
	}
	deps.Out.Text(p.Sid, exitsLine(deps, r))

	pkg, body := gmcp.RoomInfo(deps.World, r.ID)
	deps.Out.Gmcp(p.Sid, pkg, body)
	deps.Out.Prompt(p.Sid)
}

func exitsLine(deps *Deps, r *content.Room) string {
	var parts []string
	for _, dir := range content.Directions {
		res, ok := deps.World.ResolveExit(r.ID, dir)
		if !ok {
			continue
		}
		if res.Door != nil && !res.Open {
			parts = append(parts, dir+" (closed)")
		} else {
			parts = append(parts, dir)
		}
	}
	if len(parts) == 0 {
		return "Exits: none."
	}
	return "Exits: " + strings.Join(parts, ", ") + "."
}

func featureLine(deps *Deps, roomID string, f *content.Feature) string {
	switch f.Kind {
	case content.FeatureDoor:
		if deps.World.DoorIsOpen(roomID, f) {
			return fmt.Sprintf("%s stands open to the %s.", f.Name, f.Exit)
		}
		return fmt.Sprintf("%s blocks the way %s.", f.Name, f.Exit)
	case content.FeatureContainer:
		return fmt.Sprintf("%s rests here.", f.Name)
	case content.FeatureLever:
		return fmt.Sprintf("%s juts from the wall.", f.Name)
	case content.FeatureSign:
		return fmt.Sprintf("%s is posted here.", f.Name)
	}
	return fmt.Sprintf("%s is here.", f.Name)
}

func lookAt(p *world.Player, arg string, deps *Deps) {
	k := strings.ToLower(strings.TrimSpace(arg))

	if m := deps.World.FindMobInRoom(p.RoomID, k); m != nil {
		deps.Out.Text(p.Sid, fmt.Sprintf("%s. %s", m.Name, condition(m)))
		deps.Out.Prompt(p.Sid)
		return
	}
	for _, other := range deps.World.PlayersInRoom(p.RoomID) {
		if other.Sid != p.Sid && strings.HasPrefix(strings.ToLower(other.Name), k) {
			deps.Out.Text(p.Sid, fmt.Sprintf("%s, a level %d %s %s.",
				other.DisplayName(), other.Level, other.Race, other.Class))
			deps.Out.Prompt(p.Sid)
			return
		}
	}
	if it := world.FindItem(deps.World.Inventory(p.Sid), k); it != nil {
		deps.Out.Text(p.Sid, itemDetail(it))
		deps.Out.Prompt(p.Sid)
		return
	}
	if it := world.FindItem(deps.World.ItemsInRoom(p.RoomID), k); it != nil {
		deps.Out.Text(p.Sid, itemDetail(it))
		deps.Out.Prompt(p.Sid)
		return
	}
	if f := findFeature(deps, p.RoomID, k, ""); f != nil {
		deps.Out.Text(p.Sid, featureLine(deps, p.RoomID, f))
		deps.Out.Prompt(p.Sid)
		return
	}
	deps.Out.Text(p.Sid, "You see nothing special.")
	deps.Out.Prompt(p.Sid)
}

// condition renders a mob's health as prose instead of numbers; exact HP
// travels on the GMCP side channel only.
func condition(m *world.Mob) string {
	pct := m.HP * 100 / m.MaxHP
	switch {
	case pct >= 90:
		return "It looks unhurt."
	case pct >= 60:
		return "It has some small wounds."
	case pct >= 30:
		return "It is hurt badly."
	default:
		return "It is near death."
	}
}

func itemDetail(it *world.Item) string {
	t := it.Template
	switch t.Kind {
	case content.ItemWeapon:
		return fmt.Sprintf("%s. A weapon (%d-%d damage).", t.Name, t.MinDamage, t.MaxDamage)
	case content.ItemArmor:
		return fmt.Sprintf("%s. Armor for the %s (%d armor).", t.Name, t.Slot, t.Armor)
	case content.ItemConsumable:
		return fmt.Sprintf("%s. A consumable.", t.Name)
	}
	return fmt.Sprintf("%s.", t.Name)
}

// findFeature matches a feature by kind and name prefix; empty kind
// matches any.
func findFeature(deps *Deps, roomID, keyword, kind string) *content.Feature {
	r := deps.World.Room(roomID)
	if r == nil {
		return nil
	}
	for _, f := range r.Features {
		if kind != "" && f.Kind != kind {
			continue
		}
		if strings.HasPrefix(strings.ToLower(f.Name), keyword) || strings.EqualFold(f.Key, keyword) {
			return f
		}
	}
	return nil
}

// HandleScore prints the character sheet.
func HandleScore(p *world.Player, _ string, deps *Deps) {
	mods := deps.World.EquipBonus(p.Sid).Stats.Add(deps.Effects.PlayerStatMods(p.Sid))
	st := p.Stats(mods)

	deps.Out.Text(p.Sid, fmt.Sprintf("%s, level %d %s %s", p.DisplayName(), p.Level, p.Race, p.Class))
	deps.Out.Text(p.Sid, fmt.Sprintf("HP %d/%d  Mana %d/%d", p.HP, p.MaxHP, p.Mana, p.MaxMana))
	deps.Out.Text(p.Sid, fmt.Sprintf("Str %d  Dex %d  Con %d  Int %d  Wis %d  Cha %d",
		st.Str, st.Dex, st.Con, st.Int, st.Wis, st.Cha))
	next := deps.Scripting.XPForLevel(p.Level + 1)
	deps.Out.Text(p.Sid, fmt.Sprintf("XP %d (next level at %d)  Gold %d", p.XPTotal, next, p.Gold))

	effects := deps.Effects.PlayerEffects(p.Sid)
	if len(effects) > 0 {
		var parts []string
		for _, e := range effects {
			if e.Stacks > 1 {
				parts = append(parts, fmt.Sprintf("%s x%d (%ds)", e.Name, e.Stacks, e.RemainsMs/1000))
			} else {
				parts = append(parts, fmt.Sprintf("%s (%ds)", e.Name, e.RemainsMs/1000))
			}
		}
		deps.Out.Text(p.Sid, "Effects: "+strings.Join(parts, ", "))
	}
	deps.Out.Prompt(p.Sid)
}

// HandleWho lists everyone online on this engine.
func HandleWho(p *world.Player, _ string, deps *Deps) {
	var names []string
	deps.World.AllPlayers(func(other *world.Player) {
		tag := ""
		if other.IsStaff {
			tag = " [staff]"
		}
		names = append(names, fmt.Sprintf("  %s (level %d %s)%s", other.DisplayName(), other.Level, other.Class, tag))
	})
	sort.Strings(names)
	deps.Out.Text(p.Sid, fmt.Sprintf("%d adventurer(s) online:", len(names)))
	for _, n := range names {
		deps.Out.Text(p.Sid, n)
	}
	deps.Out.Prompt(p.Sid)
}

// HandleRead reads a sign. With no argument the room's only sign is read.
func HandleRead(p *world.Player, arg string, deps *Deps) {
	k := strings.ToLower(strings.TrimSpace(arg))
	r := deps.World.Room(p.RoomID)
	if r == nil {
		deps.Out.Prompt(p.Sid)
		return
	}
	var sign *content.Feature
	for _, f := range r.Features {
		if f.Kind != content.FeatureSign {
			continue
		}
		if k == "" || strings.HasPrefix(strings.ToLower(f.Name), k) || strings.EqualFold(f.Key, k) {
			sign = f
			break
		}
	}
	if sign == nil {
		deps.Out.Text(p.Sid, "There is nothing here to read.")
		deps.Out.Prompt(p.Sid)
		return
	}
	deps.Out.Text(p.Sid, fmt.Sprintf("%s reads:", sign.Name))
	deps.Out.Text(p.Sid, sign.Text)
	deps.Out.Prompt(p.Sid)
}
