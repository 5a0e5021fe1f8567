package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/profile"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/l1jgo/runtime/internal/component"
	"github.com/l1jgo/runtime/internal/config"
	"github.com/l1jgo/runtime/internal/core/ecs"
	"github.com/l1jgo/runtime/internal/core/event"
	coresys "github.com/l1jgo/runtime/internal/core/system"
	"github.com/l1jgo/runtime/internal/data"
	"github.com/l1jgo/runtime/internal/persist"
	"github.com/l1jgo/runtime/internal/scripting"
	"github.com/l1jgo/runtime/internal/system"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// ── Startup display helpers ────────────────────────────────────────

func printBanner(name string, mode string) {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Println("\033[36;1m  │\033[0m              ecsd  v0.1.0                 \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  │\033[0m         ECS runtime · Go host             \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
	fmt.Printf("  \033[1mruntime:\033[0m %s \033[90m(mode: %s)\033[0m\n\n", name, mode)
}

func printSection(title string) {
	lineLen := 46 - len(title) - 1
	if lineLen < 3 {
		lineLen = 3
	}
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printStat(label string, count int) {
	numStr := fmt.Sprintf("%d", count)
	dotsLen := 42 - len(label) - len(numStr)
	if dotsLen < 3 {
		dotsLen = 3
	}
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dotsLen), numStr)
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}

// ── Main runtime logic ────────────────────────────────────────────

const respawnSpeed = 5.0 // units per second

// worldRuntime is everything the loop needs to drive one world.
type worldRuntime struct {
	name     string
	world    *ecs.World
	schedule *coresys.Schedule
	bus      *event.Bus
	engine   *scripting.Engine
}

func run() error {
	// 1. Load config
	cfgPath := "config/runtime.toml"
	if p := os.Getenv("ECS_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = config.Default(), nil
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	if stop := startProfile(cfg.Profile); stop != nil {
		defer stop()
	}

	mode, err := coresys.ParseMode(cfg.Runtime.Mode)
	if err != nil {
		return err
	}
	printBanner(cfg.Runtime.Name, mode.String())

	// 3. Load data
	printSection("data")
	manifest, err := loadManifest(cfg.Scripting.Manifest)
	if err != nil {
		return err
	}
	printStat("script systems", manifest.Count())
	spawns, err := loadSpawns(cfg.Runtime.Spawns)
	if err != nil {
		return err
	}
	printStat("spawned bodies", spawns.Count())
	fmt.Println()

	// 4. Build universe and worlds
	printSection("worlds")
	u := ecs.NewUniverse()
	if err := ecs.InsertResource(u.Globals(), component.Arena{HalfExtent: spawns.Bounds}); err != nil {
		return err
	}
	worlds := make([]*worldRuntime, 0, len(cfg.Runtime.Worlds))
	defer func() {
		for _, wr := range worlds {
			wr.engine.Close()
		}
	}()
	for _, name := range cfg.Runtime.Worlds {
		wr, err := newWorldRuntime(name, cfg, mode, u, manifest, log)
		if err != nil {
			return fmt.Errorf("world %s: %w", name, err)
		}
		worlds = append(worlds, wr)
		printOK(fmt.Sprintf("%s (%d systems)", name, wr.schedule.Len()))
	}
	fmt.Println()

	// 5. Optional snapshot store
	var snapshotter *system.Snapshotter
	if cfg.Database.Enabled {
		printSection("database")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		db, err := persist.NewDB(ctx, cfg.Database, log)
		if err != nil {
			cancel()
			return fmt.Errorf("database: %w", err)
		}
		defer db.Close()
		printOK("PostgreSQL connected, migrations applied")

		snapshotter = system.NewSnapshotter(u, persist.NewSnapshotRepo(db), log, cfg.Snapshot.IntervalTicks, cfg.Snapshot.Keep)
		for _, wr := range worlds {
			snapshotter.Notify(wr.name, wr.bus)
		}
		restored, err := snapshotter.RestoreLatest(ctx)
		cancel()
		if err != nil {
			return fmt.Errorf("restore snapshots: %w", err)
		}
		printStat("restored entities", restored)
		fmt.Println()
	}

	// 6. Spawn bodies into empty worlds
	for _, wr := range worlds {
		if wr.world.Entities().Len() > 0 {
			continue
		}
		n, err := system.SpawnBodies(wr.world, spawns.ForWorld(wr.name))
		if err != nil {
			return err
		}
		log.Debug("bodies spawned", zap.String("world", wr.name), zap.Int("count", n))
	}

	// 7. Start loop
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.Runtime.TickRate)
	defer ticker.Stop()

	printSection("ready")
	printReady(fmt.Sprintf("worlds %s", strings.Join(u.Names(), ", ")))
	printReady(fmt.Sprintf("loop started (tick: %s)", cfg.Runtime.TickRate))
	fmt.Println()

	ctx := context.Background()
	passes := 0
	for {
		select {
		case <-ticker.C:
			runPass(ctx, worlds, cfg.Runtime.TickRate, log)
			passes++
			if n := cfg.Runtime.CheckTicksEvery; n > 0 && passes%n == 0 {
				for _, wr := range worlds {
					if err := wr.world.CheckChangeTicks(); err != nil {
						log.Warn("check change ticks", zap.String("world", wr.name), zap.Error(err))
					}
				}
			}
			if n := cfg.Runtime.MigrateEvery; n > 0 && passes%n == 0 && len(worlds) > 1 {
				migrate(u, worlds, passes/n, log)
			}
			if snapshotter != nil {
				snapshotter.Tick(ctx)
			}
		case sig := <-shutdownCh:
			log.Info("shutdown signal", zap.String("signal", sig.String()))
			if snapshotter != nil {
				if err := snapshotter.SaveAll(ctx); err != nil {
					log.Error("final snapshot failed", zap.Error(err))
				}
			}
			log.Info("runtime stopped", zap.Int("passes", passes))
			return nil
		}
	}
}

func newWorldRuntime(name string, cfg *config.Config, mode coresys.Mode, u *ecs.Universe, manifest *data.ScriptManifest, log *zap.Logger) (*worldRuntime, error) {
	w := ecs.NewWorld()
	if err := component.Register(w); err != nil {
		return nil, err
	}
	engine, err := scripting.NewEngine(cfg.Scripting.Dir, log.With(zap.String("world", name)))
	if err != nil {
		return nil, err
	}
	if err := scripting.Install(w, engine); err != nil {
		engine.Close()
		return nil, err
	}
	if err := u.AddWorld(name, w); err != nil {
		engine.Close()
		return nil, err
	}

	bus := event.NewBus()
	event.Subscribe(bus, func(ev event.SnapshotSaved) {
		log.Debug("snapshot event", zap.String("world", name), zap.String("id", ev.ID), zap.Int("entities", ev.Entities))
	})

	s := coresys.NewSchedule(
		coresys.WithMode(mode),
		coresys.WithWorkers(cfg.Runtime.Workers),
		coresys.WithLogger(log.With(zap.String("world", name))),
		coresys.WithEvents(bus),
		coresys.WithGlobals(u.Globals()),
	)
	wr := &worldRuntime{name: name, world: w, schedule: s, bus: bus, engine: engine}

	builtin := []struct {
		sys coresys.System
		st  coresys.Stage
	}{
		{system.NewFollowSystem(), coresys.StagePreUpdate},
		{system.NewMovementSystem(cfg.Runtime.Workers), coresys.StageUpdate},
		{system.NewEnergySystem(respawnSpeed), coresys.StageUpdate},
		{system.NewBoundsSystem(), coresys.StagePostUpdate},
		{system.NewStatsSystem(), coresys.StageLast},
	}
	for _, b := range builtin {
		if err := s.AddSystem(b.sys, coresys.InStage(b.st)); err != nil {
			engine.Close()
			return nil, err
		}
	}
	if _, err := scripting.AddScripts(s, name, manifest); err != nil {
		engine.Close()
		return nil, err
	}
	if err := s.Build(w); err != nil {
		engine.Close()
		return nil, err
	}
	return wr, nil
}

// runPass runs one pass of every world. Worlds share nothing but read-only
// globals, so they run side by side.
func runPass(ctx context.Context, worlds []*worldRuntime, dt time.Duration, log *zap.Logger) {
	var g errgroup.Group
	for _, wr := range worlds {
		g.Go(func() error {
			if err := wr.schedule.Run(ctx, wr.world, dt); err != nil {
				log.Warn("pass finished with errors", zap.String("world", wr.name), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}

// migrate moves one free body between the first two worlds, alternating
// direction every round.
func migrate(u *ecs.Universe, worlds []*worldRuntime, round int, log *zap.Logger) {
	src, dst := worlds[0].name, worlds[1].name
	if round%2 == 1 {
		src, dst = dst, src
	}
	moved, err := system.MigrateBodies(u, src, dst, 1)
	if err != nil {
		log.Warn("migration failed", zap.String("from", src), zap.String("to", dst), zap.Error(err))
		return
	}
	if len(moved) > 0 {
		log.Debug("body migrated", zap.String("from", src), zap.String("to", dst), zap.Stringer("entity", moved[0]))
	}
}

func loadManifest(path string) (*data.ScriptManifest, error) {
	m, err := data.LoadScriptManifest(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &data.ScriptManifest{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("script manifest: %w", err)
	}
	return m, nil
}

func loadSpawns(path string) (*data.SpawnList, error) {
	l, err := data.LoadSpawnList(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &data.SpawnList{Bounds: 100}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("spawn list: %w", err)
	}
	return l, nil
}

// startProfile starts pkg/profile for the configured mode and returns its
// stop function, or nil when profiling is off.
func startProfile(cfg config.ProfileConfig) func() {
	var mode func(*profile.Profile)
	switch cfg.Mode {
	case "cpu":
		mode = profile.CPUProfile
	case "mem":
		mode = profile.MemProfileAllocs
	case "trace":
		mode = profile.TraceProfile
	default:
		return nil
	}
	path := cfg.Path
	if path == "" {
		path = "."
	}
	return profile.Start(mode, profile.ProfilePath(path), profile.NoShutdownHook).Stop
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
