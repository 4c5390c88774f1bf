package world

import (
	"github.com/ambonmud/server/internal/content"
	"github.com/ambonmud/server/internal/sid"
)

// LocKind says where an item instance currently is. An instance is in
// exactly one location at a time; MoveItem swaps the indexes atomically
// with the primary-map update.
type LocKind uint8

const (
	LocRoom LocKind = iota + 1
	LocMob
	LocPlayerInv
	LocPlayerEquip
	LocContainer
)

type Location struct {
	Kind LocKind
	Room string // LocRoom, LocContainer
	Mob  string // LocMob
	Sid  sid.ID // LocPlayerInv, LocPlayerEquip
	Slot string // LocPlayerEquip
	Feat string // LocContainer: feature key within Room
}

func RoomLoc(room string) Location { return Location{Kind: LocRoom, Room: room} }
func MobLoc(mob string) Location   { return Location{Kind: LocMob, Mob: mob} }
func InvLoc(id sid.ID) Location    { return Location{Kind: LocPlayerInv, Sid: id} }
func EquipLoc(id sid.ID, slot string) Location {
	return Location{Kind: LocPlayerEquip, Sid: id, Slot: slot}
}
func ContainerLoc(room, feat string) Location {
	return Location{Kind: LocContainer, Room: room, Feat: feat}
}

// Item is one spawned instance of a template.
type Item struct {
	ID       int64
	Template *content.ItemTemplate
	Loc      Location
}

func (i *Item) Name() string { return i.Template.Name }

// locKey collapses a Location into an index bucket key. Slot is excluded
// so all of a player's equipment shares one bucket.
type locKey struct {
	kind LocKind
	room string
	mob  string
	sid  sid.ID
	feat string
}

func bucketOf(l Location) locKey {
	k := locKey{kind: l.Kind}
	switch l.Kind {
	case LocRoom:
		k.room = l.Room
	case LocMob:
		k.mob = l.Mob
	case LocPlayerInv, LocPlayerEquip:
		k.sid = l.Sid
	case LocContainer:
		k.room = l.Room
		k.feat = l.Feat
	}
	return k
}

// EquipBonus is the aggregate contribution of worn equipment.
type EquipBonus struct {
	Attack    int
	Armor     int
	MinDamage int // weapon, 0 when bare-handed
	MaxDamage int
	Stats     content.StatMods
}
