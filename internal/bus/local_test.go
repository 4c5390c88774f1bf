package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ambonmud/server/internal/event"
)

func TestLocalInboundBounded(t *testing.T) {
	b := NewLocalInbound(2)
	require.NoError(t, b.Publish(event.LineReceived{Sid: 1, Line: "look"}))
	require.NoError(t, b.Publish(event.LineReceived{Sid: 1, Line: "north"}))
	assert.ErrorIs(t, b.Publish(event.LineReceived{Sid: 1, Line: "south"}), ErrFull)

	// Draining one frees one slot.
	ev := <-b.Events()
	assert.Equal(t, "look", ev.(event.LineReceived).Line)
	assert.NoError(t, b.Publish(event.LineReceived{Sid: 1, Line: "south"}))
}

func TestLocalPreservesFIFO(t *testing.T) {
	b := NewLocalInbound(16)
	lines := []string{"a", "b", "c", "d"}
	for _, l := range lines {
		require.NoError(t, b.Publish(event.LineReceived{Sid: 9, Line: l}))
	}
	for _, want := range lines {
		got := <-b.Events()
		assert.Equal(t, want, got.(event.LineReceived).Line)
	}
}

func TestPublishAfterCloseFails(t *testing.T) {
	b := NewLocalOutbound(4)
	require.NoError(t, b.Close())
	assert.ErrorIs(t, b.Publish(event.SendPrompt{Sid: 1}), ErrClosed)
	// Close is idempotent.
	assert.NoError(t, b.Close())
}

func TestOutputPromptCoalescing(t *testing.T) {
	b := NewLocalOutbound(64)
	out := NewOutput(b, zap.NewNop())

	// Three subsystems ask for a prompt in the same tick.
	out.Prompt(5)
	out.Prompt(5)
	out.Prompt(7)
	out.Prompt(5)
	assert.Equal(t, 2, out.PendingPrompts())

	out.FlushPrompts()
	out.FlushPrompts() // second flush emits nothing

	var prompts []event.SendPrompt
drain:
	for {
		select {
		case ev := <-b.Events():
			prompts = append(prompts, ev.(event.SendPrompt))
		default:
			break drain
		}
	}
	require.Len(t, prompts, 2)
	assert.Equal(t, event.SendPrompt{Sid: 5}, prompts[0])
	assert.Equal(t, event.SendPrompt{Sid: 7}, prompts[1])
}

func TestOutputCountsDrops(t *testing.T) {
	b := NewLocalOutbound(1)
	out := NewOutput(b, zap.NewNop())
	out.Text(1, "first fits")
	out.Text(1, "second drops")
	assert.Equal(t, uint64(1), out.Dropped())
}

func TestOutputKinds(t *testing.T) {
	b := NewLocalOutbound(8)
	out := NewOutput(b, zap.NewNop())
	out.Text(3, "plain")
	out.Info(3, "info")
	out.Error(3, "error")

	kinds := []event.TextKind{event.TextPlain, event.TextInfo, event.TextError}
	for _, want := range kinds {
		ev := (<-b.Events()).(event.SendText)
		assert.Equal(t, want, ev.Kind)
	}
}
