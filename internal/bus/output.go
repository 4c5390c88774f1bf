package bus

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/ambonmud/server/internal/event"
	"github.com/ambonmud/server/internal/sid"
)

// Output is the engine's writing side of the OutboundBus. It adds the two
// behaviors every producer needs: prompt coalescing (systems request prompts
// freely during a tick; FlushPrompts emits at most one per session) and
// drop-counting on a full bus instead of error plumbing through every
// handler.
//
// Accessed only from the engine goroutine. No locks needed.
type Output struct {
	bus OutboundBus
	log *zap.Logger

	pending map[sid.ID]struct{}
	order   []sid.ID
	dropped uint64
}

func NewOutput(b OutboundBus, log *zap.Logger) *Output {
	return &Output{
		bus:     b,
		log:     log,
		pending: make(map[sid.ID]struct{}),
	}
}

func (o *Output) publish(ev event.Outbound) {
	if err := o.bus.Publish(ev); err != nil {
		o.dropped++
		o.log.Warn("outbound publish failed",
			zap.Uint64("sid", uint64(ev.Session())),
			zap.Error(err))
	}
}

// Text sends a plain line to the session.
func (o *Output) Text(id sid.ID, text string) {
	o.publish(event.SendText{Sid: id, Text: text, Kind: event.TextPlain})
}

// Info sends an informational line (renderers may tint it).
func (o *Output) Info(id sid.ID, text string) {
	o.publish(event.SendText{Sid: id, Text: text, Kind: event.TextInfo})
}

// Error sends a user-visible error line.
func (o *Output) Error(id sid.ID, text string) {
	o.publish(event.SendText{Sid: id, Text: text, Kind: event.TextError})
}

// Prompt marks the session for a prompt at the end of the current tick.
func (o *Output) Prompt(id sid.ID) {
	if _, ok := o.pending[id]; ok {
		return
	}
	o.pending[id] = struct{}{}
	o.order = append(o.order, id)
}

// FlushPrompts emits the coalesced prompts collected since the last flush,
// in request order.
func (o *Output) FlushPrompts() {
	for _, id := range o.order {
		o.publish(event.SendPrompt{Sid: id})
		delete(o.pending, id)
	}
	o.order = o.order[:0]
}

// PendingPrompts reports how many sessions await a prompt this tick.
func (o *Output) PendingPrompts() int { return len(o.pending) }

// Gmcp sends a structured-data message.
func (o *Output) Gmcp(id sid.ID, pkg string, data json.RawMessage) {
	o.publish(event.GmcpData{Sid: id, Package: pkg, Data: data})
}

// LoginScreen asks the transport to show the banner.
func (o *Output) LoginScreen(id sid.ID) { o.publish(event.ShowLoginScreen{Sid: id}) }

// Ansi toggles the session's color capability.
func (o *Output) Ansi(id sid.ID, enabled bool) {
	o.publish(event.SetAnsi{Sid: id, Enabled: enabled})
}

// ClearScreen clears the client display.
func (o *Output) ClearScreen(id sid.ID) { o.publish(event.ClearScreen{Sid: id}) }

// AnsiDemo renders the color demo.
func (o *Output) AnsiDemo(id sid.ID) { o.publish(event.ShowAnsiDemo{Sid: id}) }

// CloseSession disconnects the session after flushing queued output.
func (o *Output) CloseSession(id sid.ID, reason string) {
	o.publish(event.Close{Sid: id, Reason: reason})
}

// Redirect points the session's gateway at a new engine.
func (o *Output) Redirect(id sid.ID, engine string) {
	o.publish(event.SessionRedirect{Sid: id, ToEngine: engine})
}

// Dropped reports how many outbound events could not be enqueued.
func (o *Output) Dropped() uint64 { return o.dropped }
