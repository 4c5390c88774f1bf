package handler

import (
	"fmt"
	"strings"

	"github.com/ambonmud/server/internal/content"
	corevent "github.com/ambonmud/server/internal/core/event"
	"github.com/ambonmud/server/internal/world"
)

// HandleInventory lists carried and worn items.
func HandleInventory(p *world.Player, _ string, deps *Deps) {
	inv := deps.World.Inventory(p.Sid)
	if len(inv) == 0 {
		deps.Out.Text(p.Sid, "You are carrying nothing.")
	} else {
		deps.Out.Text(p.Sid, "You are carrying:")
		for _, it := range inv {
			deps.Out.Text(p.Sid, "  "+it.Name())
		}
	}
	worn := deps.World.Equipment(p.Sid)
	if len(worn) > 0 {
		deps.Out.Text(p.Sid, "You are wearing:")
		for _, it := range worn {
			deps.Out.Text(p.Sid, fmt.Sprintf("  %-8s %s", it.Loc.Slot+":", it.Name()))
		}
	}
	deps.Out.Prompt(p.Sid)
}

// HandleGet picks an item up from the room, or out of a container when a
// second word names one.
func HandleGet(p *world.Player, arg string, deps *Deps) {
	what, where := splitFirst(arg)
	if what == "" {
		deps.Out.Error(p.Sid, "Get what?")
		deps.Out.Prompt(p.Sid)
		return
	}

	var it *world.Item
	if where != "" {
		f := findFeature(deps, p.RoomID, strings.ToLower(where), content.FeatureContainer)
		if f == nil {
			deps.Out.Error(p.Sid, "There is no such container here.")
			deps.Out.Prompt(p.Sid)
			return
		}
		it = world.FindItem(deps.World.ItemsInContainer(p.RoomID, f.Key), what)
		if it == nil {
			deps.Out.Text(p.Sid, fmt.Sprintf("%s holds no such thing.", f.Name))
			deps.Out.Prompt(p.Sid)
			return
		}
	} else {
		it = world.FindItem(deps.World.ItemsInRoom(p.RoomID), what)
		if it == nil {
			deps.Out.Error(p.Sid, "You don't see that here.")
			deps.Out.Prompt(p.Sid)
			return
		}
	}

	deps.World.MoveItem(it.ID, world.InvLoc(p.Sid))
	deps.Out.Text(p.Sid, fmt.Sprintf("You get %s.", it.Name()))
	deps.Out.Prompt(p.Sid)
	RoomTextPrompt(deps, p.RoomID, fmt.Sprintf("%s gets %s.", p.Name, it.Name()), p.Sid)
	corevent.Emit(deps.Bus, corevent.ItemAcquired{Sid: p.Sid, Template: it.Template.Key})
}

// HandleDrop puts a carried item on the floor.
func HandleDrop(p *world.Player, arg string, deps *Deps) {
	if arg == "" {
		deps.Out.Error(p.Sid, "Drop what?")
		deps.Out.Prompt(p.Sid)
		return
	}
	it := world.FindItem(deps.World.Inventory(p.Sid), arg)
	if it == nil {
		deps.Out.Error(p.Sid, "You aren't carrying that.")
		deps.Out.Prompt(p.Sid)
		return
	}
	deps.World.MoveItem(it.ID, world.RoomLoc(p.RoomID))
	deps.Out.Text(p.Sid, fmt.Sprintf("You drop %s.", it.Name()))
	deps.Out.Prompt(p.Sid)
	RoomTextPrompt(deps, p.RoomID, fmt.Sprintf("%s drops %s.", p.Name, it.Name()), p.Sid)
}

// HandlePut stores a carried item in a container feature.
func HandlePut(p *world.Player, arg string, deps *Deps) {
	what, where := splitFirst(arg)
	if what == "" || where == "" {
		deps.Out.Error(p.Sid, "Put what where?")
		deps.Out.Prompt(p.Sid)
		return
	}
	it := world.FindItem(deps.World.Inventory(p.Sid), what)
	if it == nil {
		deps.Out.Error(p.Sid, "You aren't carrying that.")
		deps.Out.Prompt(p.Sid)
		return
	}
	f := findFeature(deps, p.RoomID, strings.ToLower(where), content.FeatureContainer)
	if f == nil {
		deps.Out.Error(p.Sid, "There is no such container here.")
		deps.Out.Prompt(p.Sid)
		return
	}
	deps.World.MoveItem(it.ID, world.ContainerLoc(p.RoomID, f.Key))
	deps.Out.Text(p.Sid, fmt.Sprintf("You put %s in %s.", it.Name(), f.Name))
	deps.Out.Prompt(p.Sid)
	RoomTextPrompt(deps, p.RoomID, fmt.Sprintf("%s puts %s in %s.", p.Name, it.Name(), f.Name), p.Sid)
}

// HandleEquip wears or wields a carried item. Whatever occupied the slot
// goes back to the inventory.
func HandleEquip(p *world.Player, arg string, deps *Deps) {
	if arg == "" {
		deps.Out.Error(p.Sid, "Equip what?")
		deps.Out.Prompt(p.Sid)
		return
	}
	it := world.FindItem(deps.World.Inventory(p.Sid), arg)
	if it == nil {
		deps.Out.Error(p.Sid, "You aren't carrying that.")
		deps.Out.Prompt(p.Sid)
		return
	}
	slot := it.Template.Slot
	if slot == "" {
		deps.Out.Error(p.Sid, "You can't equip that.")
		deps.Out.Prompt(p.Sid)
		return
	}
	if prev := deps.World.EquippedInSlot(p.Sid, slot); prev != nil {
		deps.World.MoveItem(prev.ID, world.InvLoc(p.Sid))
		deps.Out.Text(p.Sid, fmt.Sprintf("You remove %s.", prev.Name()))
	}
	deps.World.MoveItem(it.ID, world.EquipLoc(p.Sid, slot))
	verb := "wear"
	if slot == "weapon" {
		verb = "wield"
	}
	deps.Out.Text(p.Sid, fmt.Sprintf("You %s %s.", verb, it.Name()))
	deps.World.Dirty.PlayerStatus.Mark(p.Sid)
	deps.Out.Prompt(p.Sid)
}

// HandleRemove takes off a worn item.
func HandleRemove(p *world.Player, arg string, deps *Deps) {
	if arg == "" {
		deps.Out.Error(p.Sid, "Remove what?")
		deps.Out.Prompt(p.Sid)
		return
	}
	it := world.FindItem(deps.World.Equipment(p.Sid), arg)
	if it == nil {
		deps.Out.Error(p.Sid, "You aren't wearing that.")
		deps.Out.Prompt(p.Sid)
		return
	}
	deps.World.MoveItem(it.ID, world.InvLoc(p.Sid))
	deps.Out.Text(p.Sid, fmt.Sprintf("You remove %s.", it.Name()))
	deps.World.Dirty.PlayerStatus.Mark(p.Sid)
	deps.Out.Prompt(p.Sid)
}

// HandleUse consumes a potion or similar. The heal routes through the
// combat controller so healing threat applies like any other heal.
func HandleUse(p *world.Player, arg string, deps *Deps) {
	if arg == "" {
		deps.Out.Error(p.Sid, "Use what?")
		deps.Out.Prompt(p.Sid)
		return
	}
	it := world.FindItem(deps.World.Inventory(p.Sid), arg)
	if it == nil {
		deps.Out.Error(p.Sid, "You aren't carrying that.")
		deps.Out.Prompt(p.Sid)
		return
	}
	t := it.Template
	if t.Kind != content.ItemConsumable {
		deps.Out.Error(p.Sid, "You can't use that.")
		deps.Out.Prompt(p.Sid)
		return
	}
	deps.World.RemoveItem(it.ID)
	deps.Out.Text(p.Sid, fmt.Sprintf("You quaff %s.", t.Name))
	if t.HealHP > 0 {
		healed := deps.Combat.HealPlayer(p.Sid, p.Sid, t.HealHP)
		if healed > 0 {
			deps.Out.Text(p.Sid, fmt.Sprintf("You recover %d HP.", healed))
		}
	}
	if t.HealMana > 0 {
		gained := t.HealMana
		if p.Mana+gained > p.MaxMana {
			gained = p.MaxMana - p.Mana
		}
		if gained > 0 {
			p.Mana += gained
			deps.World.Dirty.PlayerVitals.Mark(p.Sid)
			deps.Out.Text(p.Sid, fmt.Sprintf("You recover %d mana.", gained))
		}
	}
	deps.Out.Prompt(p.Sid)
	RoomTextPrompt(deps, p.RoomID, fmt.Sprintf("%s quaffs %s.", p.Name, t.Name), p.Sid)
}
