package wire

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ambonmud/server/internal/event"
)

// Tag names are part of the wire contract; renaming one is a protocol break.
const (
	TagConnected       = "Connected"
	TagDisconnected    = "Disconnected"
	TagLineReceived    = "LineReceived"
	TagGmcpReceived    = "GmcpReceived"
	TagSendText        = "SendText"
	TagSendPrompt      = "SendPrompt"
	TagShowLoginScreen = "ShowLoginScreen"
	TagSetAnsi         = "SetAnsi"
	TagClearScreen     = "ClearScreen"
	TagShowAnsiDemo    = "ShowAnsiDemo"
	TagClose           = "Close"
	TagSessionRedirect = "SessionRedirect"
	TagGmcpData        = "GmcpData"
	TagRoutedInbound   = "RoutedInbound"
	TagRoutedOutbound  = "RoutedOutbound"
	TagHandoffPrepare  = "HandoffPrepare"
	TagHandoffAck      = "HandoffAck"
	TagHandoffReject   = "HandoffReject"
	TagHandoffCommit   = "HandoffCommit"
	TagCrossEngineTell = "CrossEngineTell"
	TagScaleDecision   = "ScaleDecision"
)

// ErrUnknownTag is returned for tags this build does not understand. Like an
// unknown version, unknown tags fail closed.
var ErrUnknownTag = errors.New("wire: unknown event tag")

// ErrNotWireable marks events that are engine-local and must never be
// serialized (e.g. LoginCompleted, which carries live pointers).
var ErrNotWireable = errors.New("wire: event is engine-local")

// Marshal returns the tag and JSON payload for a wireable event.
func Marshal(ev any) (string, []byte, error) {
	tag, err := tagOf(ev)
	if err != nil {
		return "", nil, err
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return "", nil, fmt.Errorf("wire: encode %s: %w", tag, err)
	}
	return tag, payload, nil
}

func tagOf(ev any) (string, error) {
	switch ev.(type) {
	case event.Connected:
		return TagConnected, nil
	case event.Disconnected:
		return TagDisconnected, nil
	case event.LineReceived:
		return TagLineReceived, nil
	case event.GmcpReceived:
		return TagGmcpReceived, nil
	case event.SendText:
		return TagSendText, nil
	case event.SendPrompt:
		return TagSendPrompt, nil
	case event.ShowLoginScreen:
		return TagShowLoginScreen, nil
	case event.SetAnsi:
		return TagSetAnsi, nil
	case event.ClearScreen:
		return TagClearScreen, nil
	case event.ShowAnsiDemo:
		return TagShowAnsiDemo, nil
	case event.Close:
		return TagClose, nil
	case event.SessionRedirect:
		return TagSessionRedirect, nil
	case event.GmcpData:
		return TagGmcpData, nil
	case event.RoutedInbound:
		return TagRoutedInbound, nil
	case event.RoutedOutbound:
		return TagRoutedOutbound, nil
	case event.HandoffPrepare:
		return TagHandoffPrepare, nil
	case event.HandoffAck:
		return TagHandoffAck, nil
	case event.HandoffReject:
		return TagHandoffReject, nil
	case event.HandoffCommit:
		return TagHandoffCommit, nil
	case event.CrossEngineTell:
		return TagCrossEngineTell, nil
	case event.ScaleDecision:
		return TagScaleDecision, nil
	case event.LoginCompleted:
		return "", ErrNotWireable
	default:
		return "", fmt.Errorf("%w: %T", ErrUnknownTag, ev)
	}
}

// Unmarshal decodes a payload into the concrete event named by tag.
func Unmarshal(tag string, payload []byte) (any, error) {
	var (
		ev  any
		err error
	)
	switch tag {
	case TagConnected:
		ev, err = decode[event.Connected](payload)
	case TagDisconnected:
		ev, err = decode[event.Disconnected](payload)
	case TagLineReceived:
		ev, err = decode[event.LineReceived](payload)
	case TagGmcpReceived:
		ev, err = decode[event.GmcpReceived](payload)
	case TagSendText:
		ev, err = decode[event.SendText](payload)
	case TagSendPrompt:
		ev, err = decode[event.SendPrompt](payload)
	case TagShowLoginScreen:
		ev, err = decode[event.ShowLoginScreen](payload)
	case TagSetAnsi:
		ev, err = decode[event.SetAnsi](payload)
	case TagClearScreen:
		ev, err = decode[event.ClearScreen](payload)
	case TagShowAnsiDemo:
		ev, err = decode[event.ShowAnsiDemo](payload)
	case TagClose:
		ev, err = decode[event.Close](payload)
	case TagSessionRedirect:
		ev, err = decode[event.SessionRedirect](payload)
	case TagGmcpData:
		ev, err = decode[event.GmcpData](payload)
	case TagRoutedInbound:
		ev, err = decode[event.RoutedInbound](payload)
	case TagRoutedOutbound:
		ev, err = decode[event.RoutedOutbound](payload)
	case TagHandoffPrepare:
		ev, err = decode[event.HandoffPrepare](payload)
	case TagHandoffAck:
		ev, err = decode[event.HandoffAck](payload)
	case TagHandoffReject:
		ev, err = decode[event.HandoffReject](payload)
	case TagHandoffCommit:
		ev, err = decode[event.HandoffCommit](payload)
	case TagCrossEngineTell:
		ev, err = decode[event.CrossEngineTell](payload)
	case TagScaleDecision:
		ev, err = decode[event.ScaleDecision](payload)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTag, tag)
	}
	if err != nil {
		return nil, fmt.Errorf("wire: decode %s: %w", tag, err)
	}
	return ev, nil
}

func decode[T any](payload []byte) (T, error) {
	var v T
	err := json.Unmarshal(payload, &v)
	return v, err
}

// Box nests an event for transport inside RoutedInbound / RoutedOutbound.
func Box(ev any) (event.Boxed, error) {
	tag, payload, err := Marshal(ev)
	if err != nil {
		return event.Boxed{}, err
	}
	return event.Boxed{Tag: tag, Data: payload}, nil
}

// Unbox decodes a nested event.
func Unbox(b event.Boxed) (any, error) {
	return Unmarshal(b.Tag, b.Data)
}
