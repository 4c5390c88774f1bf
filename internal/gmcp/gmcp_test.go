package gmcp

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ambonmud/server/internal/content"
	"github.com/ambonmud/server/internal/sid"
	"github.com/ambonmud/server/internal/world"
)

func testState(t *testing.T) *world.State {
	t.Helper()
	w := &content.World{
		Rooms: map[string]*content.Room{
			"hub:square": {
				ID: "hub:square", Zone: "hub", Title: "The Square",
				Exits:       map[string]string{"north": "hub:gate"},
				RemoteExits: map[string]string{"east": "forest:edge"},
			},
		},
	}
	return world.NewState(w, 5, 30000)
}

func TestCharVitals(t *testing.T) {
	p := world.NewPlayer(1, "Alice")
	p.HP, p.MaxHP, p.Mana, p.MaxMana = 15, 20, 4, 10

	pkg, body := CharVitals(p)
	assert.Equal(t, PkgCharVitals, pkg)

	var got map[string]int
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, 15, got["hp"])
	assert.Equal(t, 20, got["maxhp"])
	assert.Equal(t, 4, got["mana"])
	assert.Equal(t, 10, got["maxmana"])
}

func TestRoomInfoExitsSorted(t *testing.T) {
	st := testState(t)

	pkg, body := RoomInfo(st, "hub:square")
	assert.Equal(t, PkgRoomInfo, pkg)

	var got struct {
		ID    string   `json:"id"`
		Zone  string   `json:"zone"`
		Exits []string `json:"exits"`
	}
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "hub:square", got.ID)
	assert.Equal(t, "hub", got.Zone)
	assert.Equal(t, []string{"east", "north"}, got.Exits)
}

func TestGroupInfoLeaderFirst(t *testing.T) {
	st := testState(t)
	alice := world.NewPlayer(1, "Alice")
	alice.RoomID = "hub:square"
	bob := world.NewPlayer(2, "Bob")
	bob.RoomID = "hub:square"
	require.NoError(t, st.Connect(alice))
	require.NoError(t, st.Connect(bob))

	require.NoError(t, st.Groups.Invite(alice.Sid, bob.Sid, 0))
	_, err := st.Groups.Accept(bob.Sid, 1, func(sid.ID) bool { return true })
	require.NoError(t, err)

	pkg, body := GroupInfo(st, st.Groups.Of(alice.Sid))
	assert.Equal(t, PkgGroupInfo, pkg)

	var got struct {
		Members []struct {
			Name   string `json:"name"`
			Leader bool   `json:"leader"`
		} `json:"members"`
	}
	require.NoError(t, json.Unmarshal(body, &got))
	require.Len(t, got.Members, 2)
	assert.Equal(t, "Alice", got.Members[0].Name)
	assert.True(t, got.Members[0].Leader)
	assert.False(t, got.Members[1].Leader)
}
