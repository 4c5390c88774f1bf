// Package event defines the messages that move between transports, engines,
// and gateways. Three families share one wire envelope: Inbound (client →
// engine), Outbound (engine → client), and InterEngine (engine ↔ engine,
// engine → gateway control).
//
// Every struct here is plain data. Events that cross process boundaries are
// JSON-encoded inside the signed envelope (internal/wire); events marked
// engine-local never leave the process and are not registered with the codec.
package event

import (
	"encoding/json"

	"github.com/ambonmud/server/internal/sid"
)

// Inbound events originate at a transport (or a worker posting a follow-up)
// and are consumed by the engine's input phase.
type Inbound interface{ inbound() }

// Outbound events originate on the engine goroutine and are consumed by the
// session's transport adapter.
type Outbound interface {
	outbound()
	// Session is the destination session.
	Session() sid.ID
}

// InterEngine events move between engines, or from an engine to a gateway's
// control channel.
type InterEngine interface{ interengine() }

// ---- inbound ----

// Connected announces a new client connection.
type Connected struct {
	Sid        sid.ID `json:"sid"`
	Proto      string `json:"proto"` // "telnet" or "websocket"
	RemoteAddr string `json:"addr"`
	Ansi       bool   `json:"ansi"`
}

// Disconnected announces that the transport lost the client.
type Disconnected struct {
	Sid    sid.ID `json:"sid"`
	Reason string `json:"reason"`
}

// LineReceived carries one decoded command line.
type LineReceived struct {
	Sid  sid.ID `json:"sid"`
	Line string `json:"line"`
}

// GmcpReceived carries one structured-data message from the client.
type GmcpReceived struct {
	Sid     sid.ID          `json:"sid"`
	Package string          `json:"package"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// LoginCompleted is posted by a login worker when a blocking account lookup
// finishes. Engine-local: it never crosses the wire, so it may carry live
// pointers and a real error.
type LoginCompleted struct {
	Sid   sid.ID
	Epoch uint32
	Step  string // which pending step completed: "lookup", "verify", "create"
	Err   error
	Data  any // handler-owned result for the step
}

func (Connected) inbound()      {}
func (Disconnected) inbound()   {}
func (LineReceived) inbound()   {}
func (GmcpReceived) inbound()   {}
func (LoginCompleted) inbound() {}

// ---- outbound ----

// TextKind selects rendering treatment for a SendText.
type TextKind uint8

const (
	TextPlain TextKind = iota
	TextInfo
	TextError
)

// SendText delivers one block of renderable text. The text never includes
// the trailing newline; transports frame it.
type SendText struct {
	Sid  sid.ID   `json:"sid"`
	Text string   `json:"text"`
	Kind TextKind `json:"kind"`
}

// SendPrompt requests a prompt for the session. Consecutive prompts for one
// session coalesce to a single frame.
type SendPrompt struct {
	Sid sid.ID `json:"sid"`
}

// ShowLoginScreen asks the transport to present the login banner.
type ShowLoginScreen struct {
	Sid sid.ID `json:"sid"`
}

// SetAnsi updates the session's color capability.
type SetAnsi struct {
	Sid     sid.ID `json:"sid"`
	Enabled bool   `json:"enabled"`
}

// ClearScreen asks the transport to clear the client display.
type ClearScreen struct {
	Sid sid.ID `json:"sid"`
}

// ShowAnsiDemo asks the transport to render the color capability demo.
type ShowAnsiDemo struct {
	Sid sid.ID `json:"sid"`
}

// Close instructs the transport to drop the connection after flushing.
type Close struct {
	Sid    sid.ID `json:"sid"`
	Reason string `json:"reason"`
}

// SessionRedirect tells the session's gateway to route subsequent inbound
// traffic to a different engine. Emitted on handoff commit.
type SessionRedirect struct {
	Sid      sid.ID `json:"sid"`
	ToEngine string `json:"to_engine"`
}

// GmcpData delivers one structured-data message to the client.
type GmcpData struct {
	Sid     sid.ID          `json:"sid"`
	Package string          `json:"package"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e SendText) Session() sid.ID        { return e.Sid }
func (e SendPrompt) Session() sid.ID      { return e.Sid }
func (e ShowLoginScreen) Session() sid.ID { return e.Sid }
func (e SetAnsi) Session() sid.ID         { return e.Sid }
func (e ClearScreen) Session() sid.ID     { return e.Sid }
func (e ShowAnsiDemo) Session() sid.ID    { return e.Sid }
func (e Close) Session() sid.ID           { return e.Sid }
func (e SessionRedirect) Session() sid.ID { return e.Sid }
func (e GmcpData) Session() sid.ID        { return e.Sid }

func (SendText) outbound()        {}
func (SendPrompt) outbound()      {}
func (ShowLoginScreen) outbound() {}
func (SetAnsi) outbound()         {}
func (ClearScreen) outbound()     {}
func (ShowAnsiDemo) outbound()    {}
func (Close) outbound()           {}
func (SessionRedirect) outbound() {}
func (GmcpData) outbound()        {}

// ---- inter-engine ----

// Boxed is a nested event in wire form: the inner event's type tag plus its
// JSON payload. Routed events carry their payload boxed so the outer message
// stays a flat struct.
type Boxed struct {
	Tag  string          `json:"tag"`
	Data json.RawMessage `json:"data"`
}

// RoutedInbound forwards an inbound event to the engine that owns the
// session.
type RoutedInbound struct {
	TargetEngine string `json:"target_engine"`
	Inner        Boxed  `json:"inner"`
}

// RoutedOutbound forwards an outbound event to the gateway that owns the
// session's connection.
type RoutedOutbound struct {
	TargetGateway string `json:"target_gateway"`
	Inner         Boxed  `json:"inner"`
}

// PlayerSnapshot is the serializable live state of a player, sufficient to
// reconstruct PlayerState on another engine. It is the payload of a handoff
// ticket.
type PlayerSnapshot struct {
	PlayerID   int64  `json:"player_id"`
	Name       string `json:"name"`
	RoomID     string `json:"room_id"`
	HP         int    `json:"hp"`
	MaxHP      int    `json:"max_hp"`
	BaseMaxHP  int    `json:"base_max_hp"`
	Mana       int    `json:"mana"`
	MaxMana    int    `json:"max_mana"`
	Strength   int    `json:"str"`
	Dexterity  int    `json:"dex"`
	Constitute int    `json:"con"`
	Intellect  int    `json:"int"`
	Wisdom     int    `json:"wis"`
	Charisma   int    `json:"cha"`
	Race       string `json:"race"`
	Class      string `json:"class"`
	Level      int    `json:"level"`
	XPTotal    int64  `json:"xp_total"`
	Gold       int64  `json:"gold"`
	IsStaff    bool   `json:"is_staff"`
	Ansi       bool   `json:"ansi"`

	Inventory []string          `json:"inventory,omitempty"` // item template keys
	Equipment map[string]string `json:"equipment,omitempty"` // slot → template key

	ActiveQuests    map[string]int `json:"active_quests,omitempty"`
	CompletedQuests []string       `json:"completed_quests,omitempty"`
	Achievements    map[string]int `json:"achievements,omitempty"`
	UnlockedAchieve []string       `json:"unlocked_achievements,omitempty"`
	ActiveTitle     string         `json:"active_title,omitempty"`
	VisitedRooms    []string       `json:"visited_rooms,omitempty"`
}

// HandoffTicket is the unit of cross-engine session transfer.
type HandoffTicket struct {
	ID          string         `json:"id"`
	Sid         sid.ID         `json:"sid"`
	PlayerID    int64          `json:"player_id"`
	FromEngine  string         `json:"from_engine"`
	ToEngine    string         `json:"to_engine"`
	TargetRoom  string         `json:"target_room"`
	State       PlayerSnapshot `json:"state"`
	CreatedAtMs int64          `json:"created_at_ms"`
}

// HandoffPrepare opens a transfer: the sending engine asks the target to
// reserve a slot for the session.
type HandoffPrepare struct {
	Ticket HandoffTicket `json:"ticket"`
}

// HandoffAck confirms the target engine reserved the slot.
type HandoffAck struct {
	TicketID string `json:"ticket_id"`
	Sid      sid.ID `json:"sid"`
	Engine   string `json:"engine"` // responder
}

// HandoffReject refuses a prepare.
type HandoffReject struct {
	TicketID string `json:"ticket_id"`
	Sid      sid.ID `json:"sid"`
	Engine   string `json:"engine"`
	Reason   string `json:"reason"`
}

// HandoffCommit finalizes a transfer after Ack; the target promotes its
// reserved slot to active.
type HandoffCommit struct {
	TicketID string `json:"ticket_id"`
	Sid      sid.ID `json:"sid"`
}

// CrossEngineTell routes a tell to the engine hosting the target player.
type CrossEngineTell struct {
	TargetEngine string `json:"target_engine"`
	FromName     string `json:"from_name"`
	ToNameLower  string `json:"to_name_lower"`
	Text         string `json:"text"`
}

// ScaleDecision announces an instance scaling action for a zone.
type ScaleDecision struct {
	Zone      string `json:"zone"`
	Direction string `json:"direction"` // "up" or "down"
	Instances int    `json:"instances"` // target count
	Reason    string `json:"reason"`
}

func (RoutedInbound) interengine()   {}
func (RoutedOutbound) interengine()  {}
func (HandoffPrepare) interengine()  {}
func (HandoffAck) interengine()      {}
func (HandoffReject) interengine()   {}
func (HandoffCommit) interengine()   {}
func (CrossEngineTell) interengine() {}
func (ScaleDecision) interengine()   {}
