// Package engine assembles and drives one simulation engine: the world
// state, the phase pipeline, the worker pools, and the buses that connect
// it to transports and peers. Everything that mutates the world runs on the
// single goroutine owned by Run; workers and streams only exchange events
// with it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ambonmud/server/internal/bus"
	"github.com/ambonmud/server/internal/bus/redisbus"
	"github.com/ambonmud/server/internal/config"
	"github.com/ambonmud/server/internal/content"
	"github.com/ambonmud/server/internal/coord"
	corevent "github.com/ambonmud/server/internal/core/event"
	coresys "github.com/ambonmud/server/internal/core/system"
	"github.com/ambonmud/server/internal/event"
	"github.com/ambonmud/server/internal/handler"
	"github.com/ambonmud/server/internal/handoff"
	"github.com/ambonmud/server/internal/metrics"
	"github.com/ambonmud/server/internal/persist"
	"github.com/ambonmud/server/internal/progress"
	"github.com/ambonmud/server/internal/scripting"
	"github.com/ambonmud/server/internal/system"
	"github.com/ambonmud/server/internal/wire"
	"github.com/ambonmud/server/internal/world"
	"github.com/ambonmud/server/internal/zone"
)

const (
	// inviteSweepMs is the cadence of the lapsed-invite sweep.
	inviteSweepMs = 1000
	// reportEveryTicks spaces out the instance-count writes to the
	// coordinator (50 ticks = 5s at the default tick).
	reportEveryTicks = 50
	// indexWriteTimeout bounds location-index writes on the engine
	// goroutine.
	indexWriteTimeout = 500 * time.Millisecond
)

// Engine is the composition root for standalone and engine modes.
type Engine struct {
	cfg *config.Config
	log *zap.Logger
	now func() int64

	world    *world.State
	contentW *content.World
	scripts  *scripting.Engine
	repo     persist.Repo
	saver    *persist.Saver
	crd      coord.Coordinator

	inbound  bus.InboundBus
	outbound bus.OutboundBus
	inter    bus.InterEngineBus
	node     *redisbus.Node        // nil unless the bus is redis
	redisIE  *redisbus.InterEngine // typed handle for the pump
	link     *GatewayLink          // nil outside engine mode

	domain   *corevent.Bus
	runner   *coresys.Runner
	out      *bus.Output
	deps     *handler.Deps
	registry *handler.Registry
	login    *handler.LoginFlow
	pool     *LoginPool
	sched    *system.SchedulerSystem
	input    *system.InputSystem
	handoff  *handoff.Manager
	zones    *zone.Registry
	scaler   *zone.Scaler
	tracker  *progress.Tracker

	engineID   string
	ownedZones []string

	stopCh   chan struct{}
	reportCh chan map[string]int
	indexQ   chan indexOp

	tickCount     uint64
	overruns      int
	degraded      bool
	outcomesSeen  [4]uint64
	exhaustedSeen uint64
}

// New builds an engine from configuration. The coordinator is owned by the
// caller and shared with whatever else the process runs.
func New(ctx context.Context, cfg *config.Config, crd coord.Coordinator, log *zap.Logger) (*Engine, error) {
	e := &Engine{
		cfg:      cfg,
		log:      log.With(zap.String("component", "engine")),
		now:      func() int64 { return time.Now().UnixMilli() },
		crd:      crd,
		engineID: cfg.Server.EngineID,
		stopCh:   make(chan struct{}, 1),
		reportCh: make(chan map[string]int, 1),
		indexQ:   make(chan indexOp, 256),
	}

	contentW, err := content.Load(cfg.Paths.ContentRoot)
	if err != nil {
		return nil, fmt.Errorf("engine: load content: %w", err)
	}
	e.contentW = contentW

	e.scripts, err = scripting.NewEngine(cfg.Paths.ScriptsDir, log)
	if err != nil {
		return nil, fmt.Errorf("engine: scripting: %w", err)
	}

	if cfg.Database.Memory {
		e.repo = persist.NewMemoryRepo()
	} else {
		e.repo, err = persist.NewPostgresRepo(ctx, cfg.Database, log)
		if err != nil {
			return nil, fmt.Errorf("engine: database: %w", err)
		}
	}
	e.saver = persist.NewSaver(e.repo, cfg.Engine.SaveInterval, log)

	st := world.NewState(contentW, cfg.Group.MaxSize, cfg.Group.InviteTTL.Milliseconds())
	st.SaveHook = func(p *world.Player) {
		e.saver.Enqueue(handler.SnapshotPlayer(st, p))
	}
	e.world = st

	e.inbound = bus.NewLocalInbound(cfg.Bus.QueueSize)
	e.outbound = bus.NewLocalOutbound(cfg.Bus.QueueSize)
	if cfg.Server.Mode == config.ModeEngine && cfg.Bus.Kind == "redis" {
		e.node, err = redisbus.NewNode(ctx,
			cfg.Bus.RedisAddress, cfg.Bus.RedisPassword,
			[]byte(cfg.Bus.SharedSecret), e.engineID, cfg.Bus.SkewWindow, log)
		if err != nil {
			return nil, fmt.Errorf("engine: bus: %w", err)
		}
		e.redisIE = redisbus.NewInterEngine(e.node, cfg.Bus.QueueSize)
		e.inter = e.redisIE
		stats := e.node.Stats()
		metrics.RegisterEnvelopeRejected(func() float64 {
			return float64(stats.DroppedMAC.Load() + stats.DroppedStale.Load() + stats.DroppedUnknown.Load())
		})
	}

	e.domain = corevent.NewBus()
	e.out = bus.NewOutput(e.outbound, log)

	deps := &handler.Deps{
		Config:    cfg,
		Log:       log,
		World:     st,
		Content:   contentW,
		Scripting: e.scripts,
		Out:       e.out,
		Repo:      e.repo,
		Saver:     e.saver,
		Bus:       e.domain,
		Now:       func() int64 { return e.now() },
	}
	e.deps = deps

	// Zone routing. Standalone owns everything; engines own what the
	// static map assigns them, refreshed from the coordinator when peers
	// reassign zones at runtime.
	var regCoord coord.Coordinator
	staticOwners := cfg.Zones.Owners
	if cfg.Server.Mode == config.ModeEngine {
		regCoord = crd
	} else {
		staticOwners = nil
	}
	e.zones = zone.NewRegistry(e.engineID, staticOwners, regCoord, log)
	e.scaler = zone.NewScaler(cfg.Zones, e.now, log)
	e.ownedZones = ownedZones(cfg, contentW, e.engineID, log)

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	e.sched = system.NewSchedulerSystem(e.now, cfg.Engine.MaxScheduledPerTick, cfg.Engine.Tick, log)
	deps.Sched = e.sched
	effects := system.NewEffectSystem(deps, e.now)
	deps.Effects = effects
	combat := system.NewCombatSystem(deps, e.now, cfg.Combat, cfg.Engine.MaxCombatsPerTick, rng, log)
	deps.Combat = combat
	abilities := system.NewAbilitySystem(deps, e.now, rng, log)
	deps.Abilities = abilities
	behavior := system.NewBehaviorSystem(deps, e.now, cfg.Engine.MaxBehaviorPerTick, rng, log)
	regen := system.NewRegenSystem(deps, e.now, cfg.Regen, cfg.Combat.BaseStat, cfg.Engine.MaxRegenPerTick)

	e.registry = handler.NewRegistry()
	e.login = handler.NewLoginFlow(deps)
	deps.Login = e.login
	e.pool = NewLoginPool(e.repo, e.inbound, cfg.Engine.LoginWorkers, log)
	deps.Workers = e.pool

	e.handoff = handoff.NewManager(deps, e.inter, e.engineID, cfg.Handoff.AckTimeout, e.now, log)
	deps.Handoff = e.handoff
	e.handoff.Dispatch = func(p *world.Player, line string) {
		e.registry.Dispatch(p, line, deps)
	}
	e.handoff.IndexWrite = e.indexWrite
	e.login.EnteredWorld = func(p *world.Player) {
		e.indexWrite(strings.ToLower(p.Name), e.engineID)
	}

	deps.Router = newRouter(e.engineID, e.zones, regCoord, e.inter, e.now, log)
	deps.Shutdown = e.requestShutdown

	handler.RegisterAll(e.registry, deps)

	e.input = system.NewInputSystem(deps, e.registry, e.inbound, e.inter, e.handoff, e.engineID, cfg.Engine.InboundBudget, log)

	e.runner = coresys.NewRunner()
	e.runner.Register(system.NewEventDispatchSystem(e.domain))
	e.runner.Register(e.input)
	e.runner.Register(e.sched)
	e.runner.Register(regen)
	e.runner.Register(effects)
	e.runner.Register(behavior)
	e.runner.Register(combat)
	e.runner.Register(abilities)
	e.runner.Register(system.NewFlushSystem(deps))
	e.runner.Register(system.NewOutputSystem(deps))

	e.tracker = progress.NewTracker(deps, log)
	e.tracker.Attach(e.domain)

	if cfg.Server.Mode == config.ModeEngine {
		e.link = NewGatewayLink(cfg, e.inbound, log)
	}

	e.seedWorld()
	e.scheduleInviteSweep()

	return e, nil
}

// Inbound is where transports publish client events.
func (e *Engine) Inbound() bus.InboundBus { return e.inbound }

// Outbound is where the in-process transport layer consumes session events.
// Engine mode consumes it internally through the gateway link.
func (e *Engine) Outbound() bus.OutboundBus { return e.outbound }

// World exposes the state for in-process tests. Engine goroutine only.
func (e *Engine) World() *world.State { return e.world }

// Run drives the tick loop and every worker the engine owns until ctx is
// canceled or a staff shutdown lands.
func (e *Engine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if len(e.ownedZones) > 0 {
		e.zones.Announce(ctx, e.ownedZones)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.saver.Run(gctx) })
	g.Go(func() error { return e.pool.Run(gctx) })

	if e.node != nil {
		channels := []string{redisbus.Cluster, redisbus.EngineChannel(e.engineID)}
		g.Go(func() error {
			return e.node.Run(gctx, channels, func(_ wire.Envelope, ev any) {
				ie, ok := ev.(event.InterEngine)
				if !ok {
					return
				}
				if err := e.redisIE.Deliver(ie); err != nil {
					metrics.InboundDropped.Inc()
				}
			})
		})
		g.Go(func() error { return e.redisIE.Run(gctx) })
	}
	if e.link != nil {
		g.Go(func() error { return e.link.Run(gctx) })
		g.Go(func() error { e.pumpOutbound(gctx); return nil })
		g.Go(func() error { e.reportLoop(gctx); return nil })
	}
	if e.crd != nil && e.cfg.Server.Mode == config.ModeEngine {
		g.Go(func() error { e.pumpIndexWrites(gctx); return nil })
	}
	if e.cfg.Metrics.Address != "" {
		g.Go(func() error { return metrics.Serve(gctx, e.cfg.Metrics.Address, e.log) })
	}
	g.Go(func() error { return e.loop(gctx, cancel) })

	err := g.Wait()
	e.closeAll()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// loop is the engine goroutine: one runner pass per tick, then upkeep.
// Late ticks run back to back rather than skipping phases; sustained
// overruns flip the degradation signal.
func (e *Engine) loop(ctx context.Context, cancel context.CancelFunc) error {
	tick := e.cfg.Engine.Tick
	e.log.Info("engine running",
		zap.String("mode", e.cfg.Server.Mode),
		zap.String("engine", e.engineID),
		zap.Duration("tick", tick),
		zap.Strings("zones", e.ownedZones))

	timer := time.NewTimer(tick)
	defer timer.Stop()
	last := time.Now()

	for {
		select {
		case <-ctx.Done():
			e.shutdownWorld()
			return ctx.Err()
		case <-e.stopCh:
			e.shutdownWorld()
			cancel()
			return nil
		case started := <-timer.C:
			dt := started.Sub(last)
			last = started
			e.TickOnce(dt)

			elapsed := time.Since(started)
			metrics.TickDuration.Observe(elapsed.Seconds())
			e.accountOverrun(elapsed, tick)

			next := tick - elapsed
			if next < 0 {
				next = 0
			}
			timer.Reset(next)
		}
	}
}

// TickOnce runs one full pipeline pass plus the per-tick upkeep. Exposed
// for tests that drive the engine without the wall clock.
func (e *Engine) TickOnce(dt time.Duration) {
	e.runner.Tick(dt)
	e.afterTick()
}

func (e *Engine) accountOverrun(elapsed, tick time.Duration) {
	if elapsed <= tick {
		if e.degraded {
			e.degraded = false
			metrics.Degraded.Set(0)
			e.log.Info("tick cadence recovered")
		}
		e.overruns = 0
		return
	}
	e.overruns++
	metrics.TickOverruns.Inc()
	if !e.degraded && e.overruns >= e.cfg.Engine.OverrunThreshold {
		e.degraded = true
		metrics.Degraded.Set(1)
		e.log.Warn("tick overrun threshold crossed",
			zap.Int("consecutive", e.overruns),
			zap.Duration("last", elapsed),
			zap.Duration("tick", tick))
	}
}

// afterTick does the cheap bookkeeping that sits outside the phases:
// scaling observation and gauge refresh.
func (e *Engine) afterTick() {
	e.tickCount++

	for _, z := range e.ownedZones {
		count := e.world.PlayersInZone(z)
		if dec := e.scaler.Observe(z, count); dec != nil {
			e.publishScale(*dec)
		}
	}

	if e.link != nil && e.tickCount%reportEveryTicks == 0 {
		counts := make(map[string]int, len(e.ownedZones))
		for _, z := range e.ownedZones {
			counts[z] = e.world.PlayersInZone(z)
		}
		select {
		case e.reportCh <- counts:
		default:
		}
	}

	metrics.Players.Set(float64(e.world.PlayerCount()))
	metrics.Mobs.Set(float64(e.world.MobCount()))
	metrics.SchedDepth.Set(float64(e.sched.Len()))
	metrics.SaverPending.Set(float64(e.saver.Pending()))
	metrics.LoginQueue.Set(float64(e.login.Pending()))
	e.recordOutcomes()
}

func (e *Engine) recordOutcomes() {
	c, rb, rj, ar := e.handoff.Outcomes()
	cur := [4]uint64{c, rb, rj, ar}
	labels := [4]string{"committed", "rolled_back", "rejected", "arrived"}
	for i, label := range labels {
		if d := cur[i] - e.outcomesSeen[i]; d > 0 {
			metrics.HandoffOutcomes.WithLabelValues(label).Add(float64(d))
		}
	}
	e.outcomesSeen = cur

	if x := e.input.Exhausted(); x > e.exhaustedSeen {
		metrics.InputExhausted.Add(float64(x - e.exhaustedSeen))
		e.exhaustedSeen = x
	}
}

func (e *Engine) publishScale(dec event.ScaleDecision) {
	e.log.Info("zone scaling decision",
		zap.String("zone", dec.Zone),
		zap.String("direction", dec.Direction),
		zap.Int("instances", dec.Instances))
	if e.inter == nil {
		return
	}
	if err := e.inter.Publish(dec); err != nil {
		e.log.Warn("scale decision publish failed", zap.Error(err))
	}
}

// requestShutdown is the staff-command hook. Runs on the engine goroutine:
// say goodbye now, stop on the next loop iteration.
func (e *Engine) requestShutdown(notice string) {
	e.world.AllPlayers(func(p *world.Player) {
		e.out.Info(p.Sid, notice)
	})
	e.out.FlushPrompts()
	select {
	case e.stopCh <- struct{}{}:
	default:
	}
}

// shutdownWorld snapshots every attached player and asks the transports to
// close their sessions. The saver's final drain writes the snapshots.
func (e *Engine) shutdownWorld() {
	n := 0
	e.world.AllPlayers(func(p *world.Player) {
		e.saver.Enqueue(handler.SnapshotPlayer(e.world, p))
		e.out.CloseSession(p.Sid, "shutdown")
		n++
	})
	e.log.Info("world stopped", zap.Int("players_saved", n))
}

func (e *Engine) closeAll() {
	_ = e.inbound.Close()
	_ = e.outbound.Close()
	if e.inter != nil {
		_ = e.inter.Close()
	}
	if e.node != nil {
		_ = e.node.Close()
	}
	e.scripts.Close()
	e.repo.Close()
}

type indexOp struct {
	nameLower string
	engineID  string
}

// indexWrite records which engine a player's session lives on. The write
// itself runs on pumpIndexWrites so a slow coordinator costs cross-engine
// tells, never the tick; a full queue drops the oldest semantics-free way
// (the entry is advisory and the next login or handoff rewrites it).
func (e *Engine) indexWrite(nameLower, engineID string) {
	if e.crd == nil || e.cfg.Server.Mode != config.ModeEngine {
		return
	}
	select {
	case e.indexQ <- indexOp{nameLower: nameLower, engineID: engineID}:
	default:
		e.log.Warn("location index queue full, write dropped",
			zap.String("name", nameLower),
			zap.String("engine", engineID))
	}
}

// pumpIndexWrites serializes location-index writes off the engine
// goroutine, preserving per-engine order. Drains what it can on shutdown
// so handoff commits still land.
func (e *Engine) pumpIndexWrites(ctx context.Context) {
	write := func(op indexOp) {
		wctx, cancel := context.WithTimeout(context.Background(), indexWriteTimeout)
		defer cancel()
		if err := e.crd.SetPlayerEngine(wctx, op.nameLower, op.engineID); err != nil {
			e.log.Warn("location index write failed",
				zap.String("name", op.nameLower),
				zap.String("engine", op.engineID),
				zap.Error(err))
		}
	}
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case op := <-e.indexQ:
					write(op)
				default:
					return
				}
			}
		case op := <-e.indexQ:
			write(op)
		}
	}
}

// pumpOutbound moves session events from the outbound bus to the gateway
// link. Engine mode only; standalone consumes the bus in-process.
func (e *Engine) pumpOutbound(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			// Final drain so goodbye text and Close frames still go out.
			for {
				select {
				case ev, ok := <-e.outbound.Events():
					if !ok {
						return
					}
					e.link.Deliver(ev)
				default:
					return
				}
			}
		case ev, ok := <-e.outbound.Events():
			if !ok {
				return
			}
			e.link.Deliver(ev)
		}
	}
}

// reportLoop publishes per-zone player counts to the coordinator so other
// nodes' instance selection sees fresh load numbers.
func (e *Engine) reportLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case counts := <-e.reportCh:
			for z, c := range counts {
				wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
				err := e.crd.SetInstanceCount(wctx, z, e.engineID, c)
				cancel()
				if err != nil {
					e.log.Debug("instance count write failed", zap.String("zone", z), zap.Error(err))
				}
			}
		}
	}
}

// seedWorld materializes the boot-time mob population and container stock
// for the zones this engine owns.
func (e *Engine) seedWorld() {
	owned := make(map[string]bool, len(e.ownedZones))
	for _, z := range e.ownedZones {
		owned[z] = true
	}

	mobs := 0
	for _, sp := range e.contentW.Mobs.Spawns() {
		if !owned[content.ZoneOf(sp.Room)] {
			continue
		}
		tpl := e.contentW.Mobs.Get(sp.Mob)
		for i := 0; i < sp.Count; i++ {
			m := e.world.SpawnMob(tpl, sp.Room)
			m.RespawnMs = sp.Respawn.Std().Milliseconds()
			mobs++
		}
	}

	items := 0
	for id, room := range e.contentW.Rooms {
		if !owned[room.Zone] {
			continue
		}
		for _, f := range room.Features {
			if f.Kind != content.FeatureContainer {
				continue
			}
			for _, key := range f.Items {
				tpl := e.contentW.Items.Get(key)
				if tpl == nil {
					e.log.Warn("container stocks unknown item", zap.String("room", id), zap.String("item", key))
					continue
				}
				e.world.SpawnItem(tpl, world.ContainerLoc(id, f.Key))
				items++
			}
		}
	}

	e.log.Info("world seeded", zap.Int("mobs", mobs), zap.Int("items", items))
}

// scheduleInviteSweep sets up the recurring lapsed-invite sweep inside the
// scheduled phase, so expiry notices flush in the same tick they fire.
func (e *Engine) scheduleInviteSweep() {
	var sweep func()
	sweep = func() {
		for _, id := range e.world.Groups.Sweep(e.now()) {
			if e.world.Player(id) != nil {
				e.out.Info(id, "Your group invite has expired.")
				e.out.Prompt(id)
			}
		}
		e.sched.Schedule(e.now()+inviteSweepMs, "invite-sweep", sweep)
	}
	e.sched.Schedule(e.now()+inviteSweepMs, "invite-sweep", sweep)
}

// ownedZones resolves which content zones this process simulates.
func ownedZones(cfg *config.Config, w *content.World, engineID string, log *zap.Logger) []string {
	var out []string
	for z := range w.Zones {
		if cfg.Server.Mode != config.ModeEngine {
			out = append(out, z)
			continue
		}
		owner, mapped := cfg.Zones.Owners[z]
		switch {
		case owner == engineID:
			out = append(out, z)
		case !mapped:
			log.Warn("zone has no configured owner; not simulating it", zap.String("zone", z))
		}
	}
	sort.Strings(out)
	return out
}
