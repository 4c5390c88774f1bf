package content

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWorld(t *testing.T) {
	w, err := Load(filepath.Join("testdata", "world"))
	require.NoError(t, err)

	assert.Equal(t, "keep:yard", w.StartRoom)
	assert.Len(t, w.Zones, 2)
	require.Contains(t, w.Rooms, "keep:hall")
	require.Contains(t, w.Rooms, "wild:trail")

	// Local exits are qualified at load time.
	yard := w.Rooms["keep:yard"]
	assert.Equal(t, "keep:hall", yard.Exits["north"])
	assert.Equal(t, "wild:trail", yard.RemoteExits["east"])

	hall := w.Rooms["keep:hall"]
	door := hall.DoorFor("down")
	require.NotNil(t, door)
	assert.False(t, door.Open)
	lever := hall.Feature("rusty-lever")
	require.NotNil(t, lever)
	assert.Equal(t, "keep:hall", lever.TargetRoom)

	rat := w.Mobs.Get("rat")
	require.NotNil(t, rat)
	assert.Equal(t, 3, rat.HP)
	assert.Equal(t, []string{"cellar", "rat"}, rat.Keywords)

	spawns := w.Mobs.Spawns()
	require.Len(t, spawns, 2)
	assert.Equal(t, 30*time.Second, spawns[0].Respawn.Std())

	club := w.Items.Get("club")
	require.NotNil(t, club)
	assert.Equal(t, "weapon", club.Kind)
	assert.True(t, MatchesKeyword(club.Keywords, "clu"))
	assert.False(t, MatchesKeyword(club.Keywords, "sword"))

	vest := w.Items.Get("padded-vest")
	require.NotNil(t, vest)
	assert.Equal(t, 1, vest.Stats.Con)

	strike := w.Abilities.Get("power-strike")
	require.NotNil(t, strike)
	assert.Equal(t, 6*time.Second, strike.Cooldown.Std())
	assert.Equal(t, TargetEnemy, strike.Target)

	// Heal abilities default to ally targeting.
	mend := w.Abilities.Get("mend")
	require.NotNil(t, mend)
	assert.Equal(t, TargetAlly, mend.Target)

	forCleric := w.Abilities.ForClass("cleric", 3)
	var keys []string
	for _, a := range forCleric {
		keys = append(keys, a.Key)
	}
	assert.Equal(t, []string{"mend", "hobble"}, keys)

	assert.NotNil(t, w.Effects.Get("venom"))
	assert.NotNil(t, w.Quests.Get("rat-problem"))
	assert.Len(t, w.Quests.ByGiver("steward"), 1)
	assert.Equal(t, 2, w.Shops.Get("pantry").PriceOf("stale-bread"))
	assert.Equal(t, 0, w.Shops.Get("pantry").PriceOf("rat-tail"))
	require.NotNil(t, w.Classes.Class("warrior"))
	assert.Equal(t, 2, w.Classes.Race("dwarf").Stats.Con)
}

func TestLoadRejectsBrokenExit(t *testing.T) {
	_, err := Load(filepath.Join("testdata", "badexit"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown room")
}

func TestQualifyRoomID(t *testing.T) {
	assert.Equal(t, "hub:square", QualifyRoomID("hub", "square"))
	assert.Equal(t, "forest:edge", QualifyRoomID("hub", "forest:edge"))
	assert.Equal(t, "hub", ZoneOf("hub:square"))
	assert.Equal(t, "south", ReverseDir("north"))
	assert.Equal(t, "", ReverseDir("sideways"))
}
