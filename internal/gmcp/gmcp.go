// Package gmcp builds the structured-data payloads that ride alongside the
// text stream for clients that negotiated the GMCP option. Builders return
// the package name and a marshaled body; the flush phase decides when they
// go out.
package gmcp

import (
	"encoding/json"
	"sort"

	"github.com/ambonmud/server/internal/world"
)

// Packages emitted by the flush phase.
const (
	PkgCharVitals = "Char.Vitals"
	PkgCharStatus = "Char.Status"
	PkgRoomInfo   = "Room.Info"
	PkgRoomMobs   = "Room.Mobs"
	PkgGroupInfo  = "Group.Info"
)

type charVitals struct {
	HP      int `json:"hp"`
	MaxHP   int `json:"maxhp"`
	Mana    int `json:"mana"`
	MaxMana int `json:"maxmana"`
}

// CharVitals snapshots hp/mana for one player.
func CharVitals(p *world.Player) (string, json.RawMessage) {
	body, _ := json.Marshal(charVitals{
		HP: p.HP, MaxHP: p.MaxHP, Mana: p.Mana, MaxMana: p.MaxMana,
	})
	return PkgCharVitals, body
}

type charStatus struct {
	Name  string `json:"name"`
	Race  string `json:"race"`
	Class string `json:"class"`
	Level int    `json:"level"`
	XP    int64  `json:"xp"`
	Gold  int64  `json:"gold"`
	Title string `json:"title,omitempty"`
}

// CharStatus snapshots the slower-moving character sheet.
func CharStatus(p *world.Player) (string, json.RawMessage) {
	body, _ := json.Marshal(charStatus{
		Name: p.Name, Race: p.Race, Class: p.Class,
		Level: p.Level, XP: p.XPTotal, Gold: p.Gold, Title: p.ActiveTitle,
	})
	return PkgCharStatus, body
}

type roomInfo struct {
	ID    string   `json:"id"`
	Zone  string   `json:"zone"`
	Title string   `json:"title"`
	Exits []string `json:"exits"`
}

// RoomInfo describes the player's current room for client mappers.
func RoomInfo(st *world.State, roomID string) (string, json.RawMessage) {
	r := st.Room(roomID)
	if r == nil {
		body, _ := json.Marshal(roomInfo{ID: roomID})
		return PkgRoomInfo, body
	}
	exits := make([]string, 0, len(r.Exits)+len(r.RemoteExits))
	for dir := range r.Exits {
		exits = append(exits, dir)
	}
	for dir := range r.RemoteExits {
		exits = append(exits, dir)
	}
	sort.Strings(exits)
	body, _ := json.Marshal(roomInfo{
		ID: r.ID, Zone: r.Zone, Title: r.Title, Exits: exits,
	})
	return PkgRoomInfo, body
}

type roomMob struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	HP    int    `json:"hp"`
	MaxHP int    `json:"maxhp"`
}

type roomMobs struct {
	Room string    `json:"room"`
	Mobs []roomMob `json:"mobs"`
}

// RoomMobs snapshots live mob vitals for one room. Flush fans it out to
// the room's occupants whenever any mob there took damage that tick.
func RoomMobs(st *world.State, roomID string) (string, json.RawMessage) {
	out := roomMobs{Room: roomID, Mobs: []roomMob{}}
	for _, m := range st.MobsInRoom(roomID) {
		out.Mobs = append(out.Mobs, roomMob{ID: m.ID, Name: m.Name, HP: m.HP, MaxHP: m.MaxHP})
	}
	body, _ := json.Marshal(out)
	return PkgRoomMobs, body
}

type groupMember struct {
	Name   string `json:"name"`
	Level  int    `json:"level"`
	HP     int    `json:"hp"`
	MaxHP  int    `json:"maxhp"`
	Leader bool   `json:"leader"`
}

type groupInfo struct {
	Members []groupMember `json:"members"`
}

// GroupInfo lists the group roster with vitals, leader first. A nil group
// yields an empty roster, which clients read as "ungrouped".
func GroupInfo(st *world.State, g *world.Group) (string, json.RawMessage) {
	info := groupInfo{Members: []groupMember{}}
	if g != nil {
		for i, id := range g.Members {
			p := st.Player(id)
			if p == nil {
				continue
			}
			info.Members = append(info.Members, groupMember{
				Name: p.Name, Level: p.Level,
				HP: p.HP, MaxHP: p.MaxHP,
				Leader: i == 0,
			})
		}
	}
	body, _ := json.Marshal(info)
	return PkgGroupInfo, body
}
