package handler

import (
	"fmt"

	"github.com/ambonmud/server/internal/content"
	"github.com/ambonmud/server/internal/world"
)

// vendorHere finds a shopkeeper mob in the player's room.
func vendorHere(p *world.Player, deps *Deps) (*world.Mob, *content.Shop) {
	for _, m := range deps.World.MobsInRoom(p.RoomID) {
		if m.Shop == "" {
			continue
		}
		if s := deps.Content.Shops.Get(m.Shop); s != nil {
			return m, s
		}
	}
	return nil, nil
}

// HandleList shows the vendor's stock.
func HandleList(p *world.Player, _ string, deps *Deps) {
	m, shop := vendorHere(p, deps)
	if m == nil {
		deps.Out.Error(p.Sid, "There is no one here to trade with.")
		deps.Out.Prompt(p.Sid)
		return
	}
	deps.Out.Text(p.Sid, fmt.Sprintf("%s offers:", m.Name))
	for _, entry := range shop.Stock {
		tpl := deps.Content.Items.Get(entry.Item)
		if tpl == nil {
			continue
		}
		deps.Out.Text(p.Sid, fmt.Sprintf("  %-20s %d gold", tpl.Name, entry.Price))
	}
	deps.Out.Prompt(p.Sid)
}

// HandleBuy purchases one stocked item. Gold stays a non-negative integer;
// the item spawns straight into the inventory.
func HandleBuy(p *world.Player, arg string, deps *Deps) {
	if arg == "" {
		deps.Out.Error(p.Sid, "Buy what?")
		deps.Out.Prompt(p.Sid)
		return
	}
	m, shop := vendorHere(p, deps)
	if m == nil {
		deps.Out.Error(p.Sid, "There is no one here to trade with.")
		deps.Out.Prompt(p.Sid)
		return
	}
	for _, entry := range shop.Stock {
		tpl := deps.Content.Items.Get(entry.Item)
		if tpl == nil || !content.MatchesKeyword(tpl.Keywords, arg) {
			continue
		}
		if p.Gold < int64(entry.Price) {
			deps.Out.Error(p.Sid, fmt.Sprintf("You can't afford %s (%d gold).", tpl.Name, entry.Price))
			deps.Out.Prompt(p.Sid)
			return
		}
		p.Gold -= int64(entry.Price)
		deps.World.SpawnItem(tpl, world.InvLoc(p.Sid))
		deps.World.Dirty.PlayerStatus.Mark(p.Sid)
		deps.Out.Text(p.Sid, fmt.Sprintf("You buy %s for %d gold.", tpl.Name, entry.Price))
		deps.Out.Prompt(p.Sid)
		RoomTextPrompt(deps, p.RoomID, fmt.Sprintf("%s buys %s.", p.Name, tpl.Name), p.Sid)
		return
	}
	deps.Out.Error(p.Sid, fmt.Sprintf("%s doesn't sell that.", m.Name))
	deps.Out.Prompt(p.Sid)
}

// HandleSell trades a carried item for gold at the vendor's margin.
func HandleSell(p *world.Player, arg string, deps *Deps) {
	if arg == "" {
		deps.Out.Error(p.Sid, "Sell what?")
		deps.Out.Prompt(p.Sid)
		return
	}
	m, shop := vendorHere(p, deps)
	if m == nil {
		deps.Out.Error(p.Sid, "There is no one here to trade with.")
		deps.Out.Prompt(p.Sid)
		return
	}
	it := world.FindItem(deps.World.Inventory(p.Sid), arg)
	if it == nil {
		deps.Out.Error(p.Sid, "You aren't carrying that.")
		deps.Out.Prompt(p.Sid)
		return
	}
	price := int(float64(it.Template.Value) * shop.BuyMargin)
	if it.Template.Value <= 0 {
		deps.Out.Text(p.Sid, fmt.Sprintf("%s has no use for %s.", m.Name, it.Name()))
		deps.Out.Prompt(p.Sid)
		return
	}
	if price < 1 {
		price = 1
	}
	deps.World.RemoveItem(it.ID)
	p.Gold += int64(price)
	deps.World.Dirty.PlayerStatus.Mark(p.Sid)
	deps.Out.Text(p.Sid, fmt.Sprintf("You sell %s for %d gold.", it.Name(), price))
	deps.Out.Prompt(p.Sid)
	RoomTextPrompt(deps, p.RoomID, fmt.Sprintf("%s sells %s.", p.Name, it.Name()), p.Sid)
}
