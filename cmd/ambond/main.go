// Command ambond runs an AmbonMUD node: a standalone server, a simulation
// engine, or a session gateway, selected by server.mode in the config file.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/ambonmud/server/internal/config"
	"github.com/ambonmud/server/internal/content"
	"github.com/ambonmud/server/internal/coord"
	"github.com/ambonmud/server/internal/engine"
	"github.com/ambonmud/server/internal/gateway"
	gonet "github.com/ambonmud/server/internal/net"
	"github.com/ambonmud/server/internal/sid"
)

const version = "0.1.0"

const allocDriftTolerance = 2 * time.Second

var cfgPath string

var rootCmd = &cobra.Command{
	Use:     "ambond",
	Short:   "AmbonMUD server node",
	Version: version,
	Long: `ambond runs one AmbonMUD node. The mode comes from the config file:

  standalone   engine and transports in one process, in-memory buses
  engine       simulation only; gateways attach over the stream link
  gateway      session termination only; dials the configured engines`,
	RunE:          runServe,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the config file and content tree, then exit",
	RunE:  runValidate,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", defaultConfigPath(), "path to the config file")
	rootCmd.AddCommand(validateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	if p := os.Getenv("AMBOND_CONFIG"); p != "" {
		return p
	}
	return "config/ambond.toml"
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	printBanner(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	crd, err := buildCoordinator(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("coordinator: %w", err)
	}
	defer crd.Close()

	switch cfg.Server.Mode {
	case config.ModeStandalone:
		return runStandalone(ctx, cfg, crd, log)
	case config.ModeEngine:
		eng, err := engine.New(ctx, cfg, crd, log)
		if err != nil {
			return err
		}
		return eng.Run(ctx)
	case config.ModeGateway:
		gw, err := gateway.New(ctx, cfg, crd, log)
		if err != nil {
			return err
		}
		return gw.Run(ctx)
	default:
		return fmt.Errorf("unknown mode %q", cfg.Server.Mode)
	}
}

// runStandalone wires engine and transports through in-memory buses. The
// engine returning (staff shutdown) cancels the transports too.
func runStandalone(ctx context.Context, cfg *config.Config, crd coord.Coordinator, log *zap.Logger) error {
	eng, err := engine.New(ctx, cfg, crd, log)
	if err != nil {
		return err
	}
	lease, err := crd.AcquireLease(ctx, cfg.Server.GatewayID)
	if err != nil {
		return fmt.Errorf("acquire lease: %w", err)
	}
	alloc := sid.NewAllocator(lease, allocDriftTolerance)

	table := gonet.NewTable()
	disp := gonet.NewDispatcher(table, log)
	sink := gonet.BusSink{Bus: eng.Inbound(), Log: log}
	telnet := gonet.NewTelnetServer(cfg.Network, cfg.Server.Name, alloc, sink, table, log)
	ws := gonet.NewWebsocketServer(cfg.Network, cfg.Server.Name, alloc, sink, table, log)

	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancel := context.WithCancel(gctx)
	defer cancel()
	g.Go(func() error {
		defer cancel()
		return eng.Run(runCtx)
	})
	g.Go(func() error { return telnet.Run(runCtx) })
	g.Go(func() error { return ws.Run(runCtx) })
	g.Go(func() error { return disp.Run(runCtx, eng.Outbound().Events()) })

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	w, err := content.Load(cfg.Paths.ContentRoot)
	if err != nil {
		return fmt.Errorf("content: %w", err)
	}
	fmt.Printf("config ok: mode=%s\n", cfg.Server.Mode)
	fmt.Printf("content ok: %d zones, %d rooms, %d mobs, %d items, %d abilities, %d quests\n",
		len(w.Zones), len(w.Rooms), w.Mobs.Count(), w.Items.Count(), w.Abilities.Count(), w.Quests.Count())
	return nil
}

func buildCoordinator(ctx context.Context, cfg *config.Config, log *zap.Logger) (coord.Coordinator, error) {
	if cfg.Coordinator.Kind == "redis" {
		return coord.NewRedis(ctx, cfg.Coordinator.RedisAddress, cfg.Coordinator.RedisPassword,
			cfg.Coordinator.LeaseTTL, log)
	}
	return coord.NewMemory(), nil
}

func printBanner(cfg *config.Config) {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌──────────────────────────────────────┐\033[0m")
	fmt.Printf("\033[36;1m  │\033[0m          AmbonMUD  v%-7s          \033[36;1m│\033[0m\n", version)
	fmt.Println("\033[36;1m  └──────────────────────────────────────┘\033[0m")
	fmt.Println()
	fmt.Printf("  \033[1mserver:\033[0m %s \033[90m(mode: %s)\033[0m\n\n", cfg.Server.Name, cfg.Server.Mode)
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
