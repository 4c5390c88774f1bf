package handler

import (
	"sort"

	"github.com/ambonmud/server/internal/persist"
	"github.com/ambonmud/server/internal/world"
)

// SnapshotPlayer captures a player's durable fields as a repository
// record. Max HP is stored without equipment or effect bonuses; name and
// password hash are write-once columns the repo fills in itself.
func SnapshotPlayer(st *world.State, p *world.Player) *persist.Record {
	rec := &persist.Record{
		ID:      p.ID,
		Name:    p.Name,
		Race:    p.Race,
		Class:   p.Class,
		Level:   p.Level,
		HP:      p.HP,
		MaxHP:   p.BaseMaxHP,
		Mana:    p.Mana,
		MaxMana: p.MaxMana,
		Str:     p.Str,
		Dex:     p.Dex,
		Con:     p.Con,
		Int:     p.Int,
		Wis:     p.Wis,
		Cha:     p.Cha,
		XPTotal: p.XPTotal,
		Gold:    p.Gold,
		RoomID:  p.RoomID,
		IsStaff: p.IsStaff,
		Ansi:    p.Ansi,

		QuestProgress:    copyIntMap(p.QuestProgress),
		CompletedQuests:  setToSlice(p.CompletedQuests),
		AchievementCount: copyIntMap(p.AchievementCount),
		Unlocked:         setToSlice(p.Unlocked),
		ActiveTitle:      p.ActiveTitle,
		VisitedRooms:     setToSlice(p.VisitedRooms),
	}

	for _, it := range st.Inventory(p.Sid) {
		rec.Inventory = append(rec.Inventory, it.Template.Key)
	}
	worn := st.Equipment(p.Sid)
	if len(worn) > 0 {
		rec.Equipment = make(map[string]string, len(worn))
		for _, it := range worn {
			rec.Equipment[it.Loc.Slot] = it.Template.Key
		}
	}
	return rec
}

// SavePlayer snapshots the player and queues the record for the write
// coalescer. Safe to call every time something durable changes.
func SavePlayer(deps *Deps, p *world.Player) {
	if deps.Saver == nil {
		return
	}
	deps.Saver.Enqueue(SnapshotPlayer(deps.World, p))
}

func copyIntMap(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func setToSlice(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
