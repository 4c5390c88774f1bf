package system

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ambonmud/server/internal/bus"
	"github.com/ambonmud/server/internal/event"
	"github.com/ambonmud/server/internal/handler"
	"github.com/ambonmud/server/internal/wire"
	"github.com/ambonmud/server/internal/world"
)

// inputFixture extends the system fixture with an inbound path: a command
// registry with one cheap echo verb and an input system over local buses.
type inputFixture struct {
	*fixture
	inbound *bus.LocalInbound
	inter   *bus.LocalInterEngine
	input   *InputSystem
}

func newInputFixture(t *testing.T, budget time.Duration) *inputFixture {
	f := newFixture(t)
	f.deps.Login = handler.NewLoginFlow(f.deps)

	reg := handler.NewRegistry()
	reg.Register(&handler.Command{
		Name: "echo",
		Run: func(p *world.Player, arg string, deps *handler.Deps) {
			deps.Out.Text(p.Sid, arg)
			deps.Out.Prompt(p.Sid)
		},
	})

	in := &inputFixture{
		fixture: f,
		inbound: bus.NewLocalInbound(4096),
		inter:   bus.NewLocalInterEngine(256),
	}
	in.input = NewInputSystem(f.deps, reg, in.inbound, in.inter, nil, "engine-a",
		budget, zap.NewNop())
	return in
}

func TestInputDispatchesLines(t *testing.T) {
	f := newInputFixture(t, 30*time.Millisecond)
	p := f.addPlayer("alice", "warrior", 3, "fort:yard")

	require.NoError(t, f.inbound.Publish(event.LineReceived{Sid: p.Sid, Line: "echo hello"}))
	f.input.Update(0)

	assert.Contains(t, f.linesFor(p.Sid), "hello")
	assert.Equal(t, uint64(1), f.input.Drained())
}

func TestInputBudgetDefersWorkToNextTick(t *testing.T) {
	// A zero budget expires after the first event: the drain must stop,
	// count the exhaustion, and leave the rest queued rather than stall
	// the remaining phases of the tick.
	f := newInputFixture(t, 0)
	p := f.addPlayer("alice", "warrior", 3, "fort:yard")

	const queued = 50
	for i := 0; i < queued; i++ {
		require.NoError(t, f.inbound.Publish(event.LineReceived{Sid: p.Sid, Line: fmt.Sprintf("echo %d", i)}))
	}

	f.input.Update(0)
	require.Equal(t, uint64(1), f.input.Exhausted())
	drainedFirst := f.input.Drained()
	require.Less(t, drainedFirst, uint64(queued), "budget must leave events queued")

	// Later ticks keep making progress until the backlog clears.
	for i := 0; i < queued && f.input.Drained() < queued; i++ {
		f.input.Update(0)
	}
	assert.Equal(t, uint64(queued), f.input.Drained())
}

func TestDisconnectCleansUpAndNarrates(t *testing.T) {
	f := newInputFixture(t, 30*time.Millisecond)
	p := f.addPlayer("alice", "warrior", 3, "fort:yard")
	watcher := f.addPlayer("bob", "cleric", 3, "fort:yard")
	mob := f.spawnMob("wolf", "fort:yard")
	f.deps.World.SpawnItem(f.deps.Content.Items.Get("tonic"), world.InvLoc(p.Sid))
	f.deps.World.SpawnItem(f.deps.Content.Items.Get("vest"), world.EquipLoc(p.Sid, "torso"))
	f.combat.Start(p.Sid, "wolf")
	f.drain()

	require.NoError(t, f.inbound.Publish(event.Disconnected{Sid: p.Sid, Reason: "client hung up"}))
	f.input.Update(0)

	assert.Nil(t, f.deps.World.Player(p.Sid))
	assert.False(t, f.combat.InCombat(p.Sid))
	assert.False(t, f.deps.World.Threat.HasThreat(mob.ID, p.Sid))
	assert.Empty(t, f.deps.World.Inventory(p.Sid), "held instances die with the session")
	assert.Empty(t, f.deps.World.Equipment(p.Sid), "worn instances die with the session")
	assert.True(t, contains(f.linesFor(watcher.Sid), "alice has left the world."))
}

func TestRoutedInboundUnboxesForThisEngine(t *testing.T) {
	f := newInputFixture(t, 30*time.Millisecond)
	p := f.addPlayer("alice", "warrior", 3, "fort:yard")

	boxed, err := wire.Box(event.LineReceived{Sid: p.Sid, Line: "echo routed"})
	require.NoError(t, err)
	require.NoError(t, f.inter.Publish(event.RoutedInbound{TargetEngine: "engine-a", Inner: boxed}))
	require.NoError(t, f.inter.Publish(event.RoutedInbound{TargetEngine: "engine-z", Inner: boxed}))

	f.input.Update(0)

	lines := f.linesFor(p.Sid)
	n := 0
	for _, l := range lines {
		if l == "routed" {
			n++
		}
	}
	assert.Equal(t, 1, n, "only traffic addressed to this engine dispatches")
}

func TestCrossEngineTellDelivers(t *testing.T) {
	f := newInputFixture(t, 30*time.Millisecond)
	p := f.addPlayer("alice", "warrior", 3, "fort:yard")

	require.NoError(t, f.inter.Publish(event.CrossEngineTell{
		TargetEngine: "engine-a", FromName: "Zed", ToNameLower: "alice", Text: "hi",
	}))
	f.input.Update(0)

	assert.True(t, contains(f.linesFor(p.Sid), "Zed tells you: hi"))
}
