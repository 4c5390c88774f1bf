// Package world holds all mutable game state for one engine: connected
// players, spawned mobs, item instances, groups, threat, and the dirty
// sets the flush phase drains. Everything here is owned by the engine
// goroutine; nothing takes a lock, and nothing outside that goroutine may
// touch it.
package world

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ambonmud/server/internal/content"
	"github.com/ambonmud/server/internal/sid"
)

var ErrNameTaken = errors.New("world: name already online")

// State is the root registry. Primary maps own the entities; the *ByRoom
// maps are membership indexes kept in lockstep by every mutation. An
// index key disappears when its last member leaves.
type State struct {
	Content *content.World

	players       map[sid.ID]*Player
	playersByName map[string]*Player // lowercase name
	playersByRoom map[string]map[sid.ID]struct{}

	mobs       map[string]*Mob
	mobsByRoom map[string]map[string]struct{}
	mobSeq     uint64

	items   map[int64]*Item
	itemsBy map[locKey]map[int64]*Item
	itemSeq int64

	// doorOpen overrides the content-declared initial state, keyed
	// "roomID#featureKey". Absent means "as declared".
	doorOpen map[string]bool

	Groups *Groups
	Threat *Threat
	Dirty  *Dirty

	// SaveHook is called with a player whose durable fields should be
	// written back. Set by the composition root; must not block.
	SaveHook func(*Player)
}

func NewState(c *content.World, maxGroupSize int, inviteTTLMs int64) *State {
	return &State{
		Content:       c,
		players:       make(map[sid.ID]*Player),
		playersByName: make(map[string]*Player),
		playersByRoom: make(map[string]map[sid.ID]struct{}),
		mobs:          make(map[string]*Mob),
		mobsByRoom:    make(map[string]map[string]struct{}),
		items:         make(map[int64]*Item),
		itemsBy:       make(map[locKey]map[int64]*Item),
		doorOpen:      make(map[string]bool),
		Groups:        newGroups(maxGroupSize, inviteTTLMs),
		Threat:        newThreat(),
		Dirty:         newDirty(),
	}
}

// ==================== players ====================

// Connect registers a player. Names are unique online, case-insensitively.
func (s *State) Connect(p *Player) error {
	lower := strings.ToLower(p.Name)
	if _, taken := s.playersByName[lower]; taken {
		return ErrNameTaken
	}
	s.players[p.Sid] = p
	s.playersByName[lower] = p
	s.indexPlayerRoom(p.Sid, p.RoomID)
	return nil
}

// AttachExisting is Connect for a character loaded from the repository;
// it also pushes a save so lastSeen moves forward.
func (s *State) AttachExisting(p *Player) error {
	if err := s.Connect(p); err != nil {
		return err
	}
	if s.SaveHook != nil {
		s.SaveHook(p)
	}
	return nil
}

// Disconnect removes the player from every index and returns it, nil when
// unknown. The final state is pushed to the save hook.
func (s *State) Disconnect(id sid.ID) *Player {
	p, ok := s.players[id]
	if !ok {
		return nil
	}
	delete(s.players, id)
	delete(s.playersByName, strings.ToLower(p.Name))
	s.unindexPlayerRoom(id, p.RoomID)
	if s.SaveHook != nil {
		s.SaveHook(p)
	}
	return p
}

// Detach removes the player without a save. Handoff uses it after the
// destination engine owns the authoritative copy.
func (s *State) Detach(id sid.ID) *Player {
	p, ok := s.players[id]
	if !ok {
		return nil
	}
	delete(s.players, id)
	delete(s.playersByName, strings.ToLower(p.Name))
	s.unindexPlayerRoom(id, p.RoomID)
	return p
}

func (s *State) Player(id sid.ID) *Player { return s.players[id] }

func (s *State) PlayerByName(name string) *Player {
	return s.playersByName[strings.ToLower(name)]
}

// Rename changes a player's name, keeping the uniqueness rule.
func (s *State) Rename(id sid.ID, name string) error {
	p, ok := s.players[id]
	if !ok {
		return fmt.Errorf("world: rename of unknown session %s", id)
	}
	lower := strings.ToLower(name)
	if other, taken := s.playersByName[lower]; taken && other != p {
		return ErrNameTaken
	}
	delete(s.playersByName, strings.ToLower(p.Name))
	p.Name = name
	s.playersByName[lower] = p
	return nil
}

// MoveTo reindexes the player into the new room.
func (s *State) MoveTo(id sid.ID, room string) {
	p, ok := s.players[id]
	if !ok {
		return
	}
	s.unindexPlayerRoom(id, p.RoomID)
	p.RoomID = room
	s.indexPlayerRoom(id, room)
}

// PlayersInRoom returns a fresh slice, ordered by name so output is
// stable. Callers may mutate state while iterating it.
func (s *State) PlayersInRoom(room string) []*Player {
	set := s.playersByRoom[room]
	if len(set) == 0 {
		return nil
	}
	out := make([]*Player, 0, len(set))
	for id := range set {
		out = append(out, s.players[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *State) AllPlayers(fn func(*Player)) {
	for _, p := range s.players {
		fn(p)
	}
}

// PlayerIDs snapshots the connected session ids.
func (s *State) PlayerIDs() []sid.ID {
	out := make([]sid.ID, 0, len(s.players))
	for id := range s.players {
		out = append(out, id)
	}
	return out
}

func (s *State) PlayerCount() int { return len(s.players) }

// PlayersInZone counts players whose room is in the zone.
func (s *State) PlayersInZone(zone string) int {
	n := 0
	for _, p := range s.players {
		if content.ZoneOf(p.RoomID) == zone {
			n++
		}
	}
	return n
}

func (s *State) indexPlayerRoom(id sid.ID, room string) {
	if room == "" {
		return
	}
	set := s.playersByRoom[room]
	if set == nil {
		set = make(map[sid.ID]struct{})
		s.playersByRoom[room] = set
	}
	set[id] = struct{}{}
}

func (s *State) unindexPlayerRoom(id sid.ID, room string) {
	set, ok := s.playersByRoom[room]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(s.playersByRoom, room)
	}
}

// ==================== mobs ====================

// SpawnMob instantiates a template with a fresh instance id.
func (s *State) SpawnMob(tpl *content.MobTemplate, room string) *Mob {
	s.mobSeq++
	m := NewMob(fmt.Sprintf("%s#%d", tpl.Key, s.mobSeq), tpl, room)
	s.mobs[m.ID] = m
	s.indexMobRoom(m.ID, room)
	return m
}

func (s *State) Mob(id string) *Mob { return s.mobs[id] }

func (s *State) RemoveMob(id string) *Mob {
	m, ok := s.mobs[id]
	if !ok {
		return nil
	}
	delete(s.mobs, id)
	s.unindexMobRoom(id, m.RoomID)
	return m
}

func (s *State) MoveMob(id, room string) {
	m, ok := s.mobs[id]
	if !ok {
		return
	}
	s.unindexMobRoom(id, m.RoomID)
	m.RoomID = room
	s.indexMobRoom(id, room)
}

// MobsInRoom returns a fresh slice ordered by instance id.
func (s *State) MobsInRoom(room string) []*Mob {
	set := s.mobsByRoom[room]
	if len(set) == 0 {
		return nil
	}
	out := make([]*Mob, 0, len(set))
	for id := range set {
		out = append(out, s.mobs[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FindMobInRoom matches a keyword against mobs in the room, lowest
// instance id first.
func (s *State) FindMobInRoom(room, keyword string) *Mob {
	for _, m := range s.MobsInRoom(room) {
		if content.MatchesKeyword(m.Keywords, keyword) {
			return m
		}
	}
	return nil
}

func (s *State) AllMobs(fn func(*Mob)) {
	for _, m := range s.mobs {
		fn(m)
	}
}

func (s *State) MobIDs() []string {
	out := make([]string, 0, len(s.mobs))
	for id := range s.mobs {
		out = append(out, id)
	}
	return out
}

func (s *State) MobCount() int { return len(s.mobs) }

func (s *State) indexMobRoom(id, room string) {
	set := s.mobsByRoom[room]
	if set == nil {
		set = make(map[string]struct{})
		s.mobsByRoom[room] = set
	}
	set[id] = struct{}{}
}

func (s *State) unindexMobRoom(id, room string) {
	set, ok := s.mobsByRoom[room]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(s.mobsByRoom, room)
	}
}

// ==================== items ====================

// SpawnItem instantiates a template at a location.
func (s *State) SpawnItem(tpl *content.ItemTemplate, loc Location) *Item {
	s.itemSeq++
	it := &Item{ID: s.itemSeq, Template: tpl, Loc: loc}
	s.items[it.ID] = it
	s.indexItem(it)
	return it
}

func (s *State) Item(id int64) *Item { return s.items[id] }

// MoveItem relocates an instance. Primary and index move together.
func (s *State) MoveItem(id int64, loc Location) {
	it, ok := s.items[id]
	if !ok {
		return
	}
	s.unindexItem(it)
	it.Loc = loc
	s.indexItem(it)
}

func (s *State) RemoveItem(id int64) *Item {
	it, ok := s.items[id]
	if !ok {
		return nil
	}
	delete(s.items, id)
	s.unindexItem(it)
	return it
}

// PurgeSessionItems destroys every item instance held or worn by the
// session. Used on disconnect, when a login attach fails after the
// instances were already spawned, and when a handoff commits the player
// elsewhere. Call after the final snapshot; the save path reads these
// buckets.
func (s *State) PurgeSessionItems(id sid.ID) {
	for _, it := range s.Inventory(id) {
		s.RemoveItem(it.ID)
	}
	for _, it := range s.itemsAt(bucketOf(Location{Kind: LocPlayerEquip, Sid: id})) {
		s.RemoveItem(it.ID)
	}
}

func (s *State) ItemsInRoom(room string) []*Item { return s.itemsAt(bucketOf(RoomLoc(room))) }
func (s *State) Inventory(id sid.ID) []*Item     { return s.itemsAt(bucketOf(InvLoc(id))) }
func (s *State) ItemsOnMob(mob string) []*Item   { return s.itemsAt(bucketOf(MobLoc(mob))) }
func (s *State) ItemsInContainer(room, feat string) []*Item {
	return s.itemsAt(bucketOf(ContainerLoc(room, feat)))
}

// Equipment returns worn items in canonical slot order.
func (s *State) Equipment(id sid.ID) []*Item {
	worn := s.itemsAt(bucketOf(Location{Kind: LocPlayerEquip, Sid: id}))
	sort.Slice(worn, func(i, j int) bool {
		return slotRank(worn[i].Loc.Slot) < slotRank(worn[j].Loc.Slot)
	})
	return worn
}

// EquippedInSlot returns the item worn in the slot, nil when empty.
func (s *State) EquippedInSlot(id sid.ID, slot string) *Item {
	for _, it := range s.itemsAt(bucketOf(Location{Kind: LocPlayerEquip, Sid: id})) {
		if it.Loc.Slot == slot {
			return it
		}
	}
	return nil
}

// EquipBonus aggregates the stat contribution of everything worn.
func (s *State) EquipBonus(id sid.ID) EquipBonus {
	var b EquipBonus
	for _, it := range s.itemsAt(bucketOf(Location{Kind: LocPlayerEquip, Sid: id})) {
		t := it.Template
		b.Attack += t.AttackBonus
		b.Armor += t.Armor
		b.Stats = b.Stats.Add(t.Stats)
		if it.Loc.Slot == "weapon" {
			b.MinDamage = t.MinDamage
			b.MaxDamage = t.MaxDamage
		}
	}
	return b
}

// FindItem matches a keyword against the items in a bucket, lowest id
// first.
func FindItem(items []*Item, keyword string) *Item {
	for _, it := range items {
		if content.MatchesKeyword(it.Template.Keywords, keyword) {
			return it
		}
	}
	return nil
}

func (s *State) itemsAt(k locKey) []*Item {
	set := s.itemsBy[k]
	if len(set) == 0 {
		return nil
	}
	out := make([]*Item, 0, len(set))
	for _, it := range set {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *State) indexItem(it *Item) {
	k := bucketOf(it.Loc)
	set := s.itemsBy[k]
	if set == nil {
		set = make(map[int64]*Item)
		s.itemsBy[k] = set
	}
	set[it.ID] = it
}

func (s *State) unindexItem(it *Item) {
	k := bucketOf(it.Loc)
	set, ok := s.itemsBy[k]
	if !ok {
		return
	}
	delete(set, it.ID)
	if len(set) == 0 {
		delete(s.itemsBy, k)
	}
}

func slotRank(slot string) int {
	for i, s := range content.EquipSlots {
		if s == slot {
			return i
		}
	}
	return len(content.EquipSlots)
}

// ==================== rooms and features ====================

func (s *State) Room(id string) *content.Room { return s.Content.Rooms[id] }

// ExitResolution describes one exit of a room after door state is applied.
type ExitResolution struct {
	Target string
	Remote bool             // leaves the zone
	Door   *content.Feature // non-nil when a door gates the exit
	Open   bool             // door state; meaningless when Door is nil
}

// ResolveExit looks up dir in the room's exits, remote exits included.
func (s *State) ResolveExit(roomID, dir string) (ExitResolution, bool) {
	r := s.Room(roomID)
	if r == nil {
		return ExitResolution{}, false
	}
	var res ExitResolution
	if target, ok := r.Exits[dir]; ok {
		res.Target = target
	} else if target, ok := r.RemoteExits[dir]; ok {
		res.Target = target
		res.Remote = true
	} else {
		return ExitResolution{}, false
	}
	if door := r.DoorFor(dir); door != nil {
		res.Door = door
		res.Open = s.DoorIsOpen(roomID, door)
	}
	return res, true
}

// DoorIsOpen reads the runtime door state, falling back to the declared
// initial state.
func (s *State) DoorIsOpen(roomID string, door *content.Feature) bool {
	if v, ok := s.doorOpen[roomID+"#"+door.Key]; ok {
		return v
	}
	return door.Open
}

func (s *State) SetDoorOpen(roomID string, door *content.Feature, open bool) {
	s.doorOpen[roomID+"#"+door.Key] = open
}

// RemoveSession clears every registry trace of a session except the
// player entry itself: groups, invites, threat. Disconnect and handoff
// call it before dropping the player.
func (s *State) RemoveSession(id sid.ID) {
	s.Threat.RemovePlayer(id)
	s.Dirty.PlayerVitals.Forget(id)
	s.Dirty.PlayerStatus.Forget(id)
}
