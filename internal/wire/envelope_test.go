package wire

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ambonmud/server/internal/event"
	"github.com/ambonmud/server/internal/sid"
)

var secret = []byte("test-shared-secret")

func TestSealOpenRoundtrip(t *testing.T) {
	in := event.LineReceived{Sid: sid.ID(0xdeadbeef12345), Line: "kill rat"}
	raw, err := Seal(secret, "gw-1", 1000, in)
	require.NoError(t, err)

	env, got, err := Open(secret, raw, 1500, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, Version, env.Version)
	assert.Equal(t, TagLineReceived, env.Tag)
	assert.Equal(t, "gw-1", env.Source)
	assert.Equal(t, int64(1000), env.TimestampMs)
	assert.Equal(t, in, got)
}

func TestOpenRejectsTamperedPayload(t *testing.T) {
	raw, err := Seal(secret, "gw-1", 1000, event.SendText{Sid: 7, Text: "hello"})
	require.NoError(t, err)

	// Flip one payload byte; the mac must catch it.
	raw[len(raw)-macSize-1] ^= 0x01
	_, _, err = Open(secret, raw, 1000, 0)
	assert.ErrorIs(t, err, ErrBadMAC)
}

func TestOpenRejectsWrongSecret(t *testing.T) {
	raw, err := Seal(secret, "gw-1", 1000, event.SendPrompt{Sid: 7})
	require.NoError(t, err)
	_, _, err = Open([]byte("other"), raw, 1000, 0)
	assert.ErrorIs(t, err, ErrBadMAC)
}

func TestOpenRejectsUnknownVersion(t *testing.T) {
	raw, err := Seal(secret, "gw-1", 1000, event.SendPrompt{Sid: 7})
	require.NoError(t, err)
	raw[0] = 0xff
	_, _, err = Open(secret, raw, 1000, 0)
	assert.ErrorIs(t, err, ErrUnknownVersion)
}

func TestOpenRejectsStale(t *testing.T) {
	raw, err := Seal(secret, "eng-1", 1000, event.SendPrompt{Sid: 7})
	require.NoError(t, err)

	_, _, err = Open(secret, raw, 1000+2*60_000, time.Minute)
	assert.ErrorIs(t, err, ErrStale)

	// Inside the window it opens fine.
	_, _, err = Open(secret, raw, 1000+30_000, time.Minute)
	assert.NoError(t, err)
}

func TestOpenRejectsTruncated(t *testing.T) {
	raw, err := Seal(secret, "gw", 1, event.ClearScreen{Sid: 1})
	require.NoError(t, err)
	for _, n := range []int{0, 5, headerMin, len(raw) - 1} {
		_, _, err := Open(secret, raw[:n], 1, 0)
		assert.Error(t, err, "length %d", n)
	}
}

func TestMarshalRejectsEngineLocalEvents(t *testing.T) {
	_, _, err := Marshal(event.LoginCompleted{Sid: 1, Err: errors.New("x")})
	assert.ErrorIs(t, err, ErrNotWireable)
}

func TestBoxedRoutedRoundtrip(t *testing.T) {
	inner := event.SendText{Sid: 42, Text: "north of here", Kind: event.TextInfo}
	boxed, err := Box(inner)
	require.NoError(t, err)

	outer := event.RoutedOutbound{TargetGateway: "gw-2", Inner: boxed}
	raw, err := Seal(secret, "eng-1", 50, outer)
	require.NoError(t, err)

	_, got, err := Open(secret, raw, 60, time.Minute)
	require.NoError(t, err)
	ro, ok := got.(event.RoutedOutbound)
	require.True(t, ok)
	assert.Equal(t, "gw-2", ro.TargetGateway)

	unboxed, err := Unbox(ro.Inner)
	require.NoError(t, err)
	assert.Equal(t, inner, unboxed)
}

func TestHandoffTicketRoundtrip(t *testing.T) {
	ticket := event.HandoffTicket{
		ID:         "a2f1",
		Sid:        99,
		PlayerID:   12,
		FromEngine: "eng-a",
		ToEngine:   "eng-b",
		TargetRoom: "forest:edge",
		State: event.PlayerSnapshot{
			Name: "alice", RoomID: "hub:plaza", HP: 20, MaxHP: 20,
			Inventory: []string{"rusty-sword"},
			Equipment: map[string]string{"weapon": "rusty-sword"},
		},
		CreatedAtMs: 777,
	}
	raw, err := Seal(secret, "eng-a", 777, event.HandoffPrepare{Ticket: ticket})
	require.NoError(t, err)
	_, got, err := Open(secret, raw, 800, time.Minute)
	require.NoError(t, err)
	hp, ok := got.(event.HandoffPrepare)
	require.True(t, ok)
	assert.Equal(t, ticket, hp.Ticket)
}

func TestEveryWireableTagRoundtrips(t *testing.T) {
	events := []any{
		event.Connected{Sid: 1, Proto: "telnet", RemoteAddr: "1.2.3.4:5", Ansi: true},
		event.Disconnected{Sid: 1, Reason: "quit"},
		event.LineReceived{Sid: 1, Line: "look"},
		event.GmcpReceived{Sid: 1, Package: "Core.Hello", Data: []byte(`{"client":"t"}`)},
		event.SendText{Sid: 1, Text: "hi", Kind: event.TextError},
		event.SendPrompt{Sid: 1},
		event.ShowLoginScreen{Sid: 1},
		event.SetAnsi{Sid: 1, Enabled: true},
		event.ClearScreen{Sid: 1},
		event.ShowAnsiDemo{Sid: 1},
		event.Close{Sid: 1, Reason: "idle"},
		event.SessionRedirect{Sid: 1, ToEngine: "eng-b"},
		event.GmcpData{Sid: 1, Package: "Char.Vitals", Data: []byte(`{"hp":3}`)},
		event.HandoffAck{TicketID: "t", Sid: 1, Engine: "eng-b"},
		event.HandoffReject{TicketID: "t", Sid: 1, Engine: "eng-b", Reason: "no room"},
		event.HandoffCommit{TicketID: "t", Sid: 1},
		event.CrossEngineTell{TargetEngine: "eng-b", FromName: "alice", ToNameLower: "bob", Text: "hi"},
		event.ScaleDecision{Zone: "forest", Direction: "up", Instances: 2, Reason: "highwater"},
	}
	for _, in := range events {
		raw, err := Seal(secret, "n1", 10, in)
		require.NoError(t, err, "%T", in)
		_, got, err := Open(secret, raw, 10, 0)
		require.NoError(t, err, "%T", in)
		assert.Equal(t, in, got, "%T", in)
	}
}
