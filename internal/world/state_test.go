package world

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ambonmud/server/internal/content"
	"github.com/ambonmud/server/internal/sid"
)

func testContent() *content.World {
	door := &content.Feature{
		Kind: content.FeatureDoor, Key: "gate", Name: "iron gate", Exit: "north",
	}
	square := &content.Room{
		ID: "hub:square", Zone: "hub", Local: "square", Title: "Square",
		Exits:       map[string]string{"north": "hub:gatehouse"},
		RemoteExits: map[string]string{"east": "forest:edge"},
		Features:    []*content.Feature{door},
	}
	gatehouse := &content.Room{
		ID: "hub:gatehouse", Zone: "hub", Local: "gatehouse", Title: "Gatehouse",
		Exits: map[string]string{"south": "hub:square"},
	}
	edge := &content.Room{
		ID: "forest:edge", Zone: "forest", Local: "edge", Title: "Forest Edge",
		RemoteExits: map[string]string{"west": "hub:square"},
	}
	return &content.World{
		Rooms: map[string]*content.Room{
			square.ID: square, gatehouse.ID: gatehouse, edge.ID: edge,
		},
		StartRoom: "hub:square",
	}
}

func newTestState() *State {
	return NewState(testContent(), 5, 30_000)
}

func addPlayer(t *testing.T, s *State, id sid.ID, name, room string) *Player {
	t.Helper()
	p := NewPlayer(id, name)
	p.RoomID = room
	require.NoError(t, s.Connect(p))
	return p
}

func TestConnectEnforcesNameUniqueness(t *testing.T) {
	s := newTestState()
	addPlayer(t, s, 1, "Alba", "hub:square")

	dup := NewPlayer(2, "alba") // case-insensitive clash
	require.ErrorIs(t, s.Connect(dup), ErrNameTaken)

	require.NotNil(t, s.PlayerByName("ALBA"))
	assert.Equal(t, sid.ID(1), s.PlayerByName("alba").Sid)
}

func TestDisconnectClearsIndexesAndSaves(t *testing.T) {
	s := newTestState()
	var saved []string
	s.SaveHook = func(p *Player) { saved = append(saved, p.Name) }

	p := NewPlayer(1, "Alba")
	p.RoomID = "hub:square"
	require.NoError(t, s.AttachExisting(p))
	assert.Equal(t, []string{"Alba"}, saved, "attach pushes a save")

	gone := s.Disconnect(1)
	require.NotNil(t, gone)
	assert.Nil(t, s.Player(1))
	assert.Nil(t, s.PlayerByName("alba"))
	assert.Empty(t, s.PlayersInRoom("hub:square"))
	assert.Equal(t, []string{"Alba", "Alba"}, saved)

	assert.Nil(t, s.Disconnect(1), "second disconnect is a no-op")
}

func TestMoveToReindexesRooms(t *testing.T) {
	s := newTestState()
	addPlayer(t, s, 1, "Alba", "hub:square")
	addPlayer(t, s, 2, "Brin", "hub:square")

	s.MoveTo(1, "hub:gatehouse")

	names := func(ps []*Player) []string {
		var out []string
		for _, p := range ps {
			out = append(out, p.Name)
		}
		return out
	}
	assert.Equal(t, []string{"Brin"}, names(s.PlayersInRoom("hub:square")))
	assert.Equal(t, []string{"Alba"}, names(s.PlayersInRoom("hub:gatehouse")))

	// Last member out removes the room key entirely.
	s.MoveTo(2, "hub:gatehouse")
	_, stale := s.playersByRoom["hub:square"]
	assert.False(t, stale)
}

func TestRename(t *testing.T) {
	s := newTestState()
	addPlayer(t, s, 1, "Alba", "hub:square")
	addPlayer(t, s, 2, "Brin", "hub:square")

	require.ErrorIs(t, s.Rename(2, "ALBA"), ErrNameTaken)
	require.NoError(t, s.Rename(2, "Brina"))
	assert.Nil(t, s.PlayerByName("brin"))
	assert.Equal(t, sid.ID(2), s.PlayerByName("brina").Sid)

	// Renaming to your own name with different case is allowed.
	require.NoError(t, s.Rename(1, "alba"))
	assert.Equal(t, "alba", s.Player(1).Name)
}

func TestMobRegistry(t *testing.T) {
	s := newTestState()
	tpl := &content.MobTemplate{
		Key: "rat", Name: "a sewer rat", HP: 3, Keywords: []string{"sewer", "rat"},
	}
	m1 := s.SpawnMob(tpl, "hub:square")
	m2 := s.SpawnMob(tpl, "hub:square")
	assert.NotEqual(t, m1.ID, m2.ID)
	assert.Equal(t, 2, s.MobCount())

	found := s.FindMobInRoom("hub:square", "rat")
	require.NotNil(t, found)
	assert.Equal(t, m1.ID, found.ID, "lowest instance id wins")
	assert.Nil(t, s.FindMobInRoom("hub:square", "dragon"))

	s.MoveMob(m1.ID, "hub:gatehouse")
	assert.Len(t, s.MobsInRoom("hub:square"), 1)
	assert.Len(t, s.MobsInRoom("hub:gatehouse"), 1)

	s.RemoveMob(m1.ID)
	s.RemoveMob(m2.ID)
	assert.Equal(t, 0, s.MobCount())
	_, stale := s.mobsByRoom["hub:gatehouse"]
	assert.False(t, stale)
}

func TestItemSingleLocation(t *testing.T) {
	s := newTestState()
	sword := &content.ItemTemplate{
		Key: "sword", Name: "a short sword", Kind: content.ItemWeapon,
		Slot: "weapon", MinDamage: 1, MaxDamage: 4, AttackBonus: 1,
		Keywords: []string{"short", "sword"},
	}
	it := s.SpawnItem(sword, RoomLoc("hub:square"))
	assert.Len(t, s.ItemsInRoom("hub:square"), 1)

	s.MoveItem(it.ID, InvLoc(7))
	assert.Empty(t, s.ItemsInRoom("hub:square"))
	assert.Len(t, s.Inventory(7), 1)

	s.MoveItem(it.ID, EquipLoc(7, "weapon"))
	assert.Empty(t, s.Inventory(7))
	require.NotNil(t, s.EquippedInSlot(7, "weapon"))

	s.MoveItem(it.ID, ContainerLoc("hub:square", "chest"))
	assert.Nil(t, s.EquippedInSlot(7, "weapon"))
	assert.Len(t, s.ItemsInContainer("hub:square", "chest"), 1)

	gone := s.RemoveItem(it.ID)
	require.NotNil(t, gone)
	assert.Empty(t, s.ItemsInContainer("hub:square", "chest"))
	assert.Nil(t, s.Item(it.ID))
}

func TestEquipBonusAggregates(t *testing.T) {
	s := newTestState()
	sword := &content.ItemTemplate{
		Key: "sword", Name: "a sword", Slot: "weapon",
		MinDamage: 2, MaxDamage: 5, AttackBonus: 1,
	}
	vest := &content.ItemTemplate{
		Key: "vest", Name: "a vest", Slot: "torso", Armor: 2,
		Stats: content.StatMods{Con: 1, Str: 2},
	}
	sw := s.SpawnItem(sword, InvLoc(7))
	vt := s.SpawnItem(vest, InvLoc(7))
	s.MoveItem(sw.ID, EquipLoc(7, "weapon"))
	s.MoveItem(vt.ID, EquipLoc(7, "torso"))

	b := s.EquipBonus(7)
	assert.Equal(t, 1, b.Attack)
	assert.Equal(t, 2, b.Armor)
	assert.Equal(t, 2, b.MinDamage)
	assert.Equal(t, 5, b.MaxDamage)
	assert.Equal(t, content.StatMods{Con: 1, Str: 2}, b.Stats)

	worn := s.Equipment(7)
	require.Len(t, worn, 2)
	assert.Equal(t, "weapon", worn[0].Loc.Slot, "canonical slot order")
}

func TestResolveExitAndDoors(t *testing.T) {
	s := newTestState()

	res, ok := s.ResolveExit("hub:square", "north")
	require.True(t, ok)
	assert.Equal(t, "hub:gatehouse", res.Target)
	assert.False(t, res.Remote)
	require.NotNil(t, res.Door)
	assert.False(t, res.Open, "declared closed")

	s.SetDoorOpen("hub:square", res.Door, true)
	res, _ = s.ResolveExit("hub:square", "north")
	assert.True(t, res.Open)

	res, ok = s.ResolveExit("hub:square", "east")
	require.True(t, ok)
	assert.True(t, res.Remote)
	assert.Equal(t, "forest:edge", res.Target)

	_, ok = s.ResolveExit("hub:square", "down")
	assert.False(t, ok)
}

func TestDirtySets(t *testing.T) {
	s := newTestState()
	s.Dirty.PlayerVitals.Mark(1)
	s.Dirty.PlayerVitals.Mark(1)
	s.Dirty.PlayerVitals.Mark(2)
	assert.Equal(t, 2, s.Dirty.PlayerVitals.Len())

	var seen []sid.ID
	s.Dirty.PlayerVitals.Drain(func(id sid.ID) { seen = append(seen, id) })
	assert.Len(t, seen, 2)
	assert.Equal(t, 0, s.Dirty.PlayerVitals.Len())

	s.Dirty.MobHP.Mark("rat#1")
	assert.True(t, s.Dirty.MobHP.Has("rat#1"))
	s.Dirty.MobHP.Forget("rat#1")
	assert.False(t, s.Dirty.MobHP.Has("rat#1"))
}
