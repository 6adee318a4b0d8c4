// Atellica instrument simulator: answers LAS health and inventory
// queries, accepts LIS test orders, and pushes delayed results back.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/clinsim/atellica-sim/internal/config"
	"github.com/clinsim/atellica-sim/internal/core"
	"github.com/clinsim/atellica-sim/internal/journal"
	"github.com/clinsim/atellica-sim/internal/las"
	"github.com/clinsim/atellica-sim/internal/lis"
	"github.com/clinsim/atellica-sim/internal/metrics"
	"github.com/clinsim/atellica-sim/internal/operator"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	configPath := flag.String("config", "", "config file path (JSON or YAML; seeded with defaults when missing)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("atellica-sim %s (commit: %s)\n", version, commit)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger, err := buildLogger(cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("simulator failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	logger.Info("starting atellica-sim",
		zap.String("version", version),
		zap.String("las_addr", cfg.LASAddr()),
		zap.String("lis_addr", cfg.LISAddr()),
	)

	store := core.NewStore(storeSettings(cfg), logger.Named("core"))

	var (
		jrnl *journal.Journal
		err  error
	)
	if cfg.Journal.Path != "" {
		jrnl, err = journal.Open(cfg.Journal.Path, cfg.Journal.MemoryLimit)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
	} else {
		jrnl = journal.NewMemory(cfg.Journal.MemoryLimit)
	}
	defer jrnl.Close()

	m := metrics.New(store)

	lisServer := lis.NewServer(cfg.LISAddr(), cfg.LAS.InstrumentSerial, cfg.LIS.MaxConnections,
		store, logger.Named("lis"), jrnl, m)
	store.SubscribeResults(lisServer.PushResult)

	scheduler, err := core.NewScheduler(store, time.Duration(cfg.LIS.ScanInterval)*time.Second,
		logger.Named("scheduler"))
	if err != nil {
		return err
	}
	scheduler.Start()
	defer scheduler.Stop()

	identity := las.Identity{
		ProtocolVersion:   uint16(cfg.LAS.ProtocolVersion),
		InstrumentType:    uint16(cfg.LAS.InstrumentType),
		CapabilityVersion: uint16(cfg.LAS.CapabilityVersion),
		SoftwareVersion:   uint16(cfg.LAS.SoftwareVersion),
		InstrumentID:      uint8(cfg.LAS.InstrumentID),
		Serial:            cfg.LAS.InstrumentSerial,
	}
	lasServer := las.NewServer(cfg.LASAddr(), identity, store, las.NewSequenceCounter(),
		logger.Named("las"), jrnl, m)

	if err := lasServer.Start(); err != nil {
		return fmt.Errorf("start las server: %w", err)
	}
	defer lasServer.Stop()

	if err := lisServer.Start(); err != nil {
		return fmt.Errorf("start lis server: %w", err)
	}
	defer lisServer.Stop()

	var opServer *operator.Server
	if cfg.Operator.Enabled {
		opServer = operator.NewServer(cfg.Operator.ListenAddr, cfg.LAS.InstrumentSerial,
			store, jrnl, m, logger.Named("operator"))
		if err := opServer.Start(); err != nil {
			return fmt.Errorf("start operator server: %w", err)
		}
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")

	if opServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		opServer.Stop(shutdownCtx)
		cancel()
	}
	return nil
}

// storeSettings maps file configuration onto the core seed.
func storeSettings(cfg config.Config) core.Settings {
	tests := make([]core.TestItem, 0, len(cfg.TestInventory.Tests))
	for _, t := range cfg.TestInventory.Tests {
		tests = append(tests, core.TestItem{Name: t.Name, Count: t.Count, Status: t.Status})
	}

	modules := make([]core.Module, 0, len(cfg.ConsumableInventory.Modules))
	for _, mc := range cfg.ConsumableInventory.Modules {
		mod := core.Module{ID: mc.ID}
		for _, c := range mc.Consumables {
			mod.Consumables = append(mod.Consumables, core.Consumable{ID: c.ID, Status: c.Status})
		}
		modules = append(modules, mod)
	}

	return core.Settings{
		ResultDelay: time.Duration(cfg.LIS.ResultDelay) * time.Second,
		Health: core.HealthSnapshot{
			AutomationInterfaceStatus: cfg.Core.AutomationInterfaceStatus,
			InstrumentProcessStatus:   cfg.Core.InstrumentProcessStatus,
			LISConnectionStatus:       cfg.Core.LISConnectionStatus,
			InterfacePositions:        cfg.Core.InterfacePositions,
			RemoteControlStatus:       cfg.Core.RemoteControlStatus,
			LockOwnership:             cfg.Core.LockOwnership,
			ProcessingBacklog:         cfg.Core.ProcessingBacklog,
			SampleAcquisitionDelay:    cfg.Core.SampleAcquisitionDelay,
			OnBoardTubeCount:          cfg.Core.OnBoardTubeCount,
			CompletedTubeCount:        cfg.Core.CompletedTubeCount,
		},
		Inventory: core.TestInventory{
			Threshold: cfg.TestInventory.Threshold,
			Tests:     tests,
		},
		Modules: modules,
	}
}

func buildLogger(lc config.LoggerConfig) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(lc.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	zc := zap.NewProductionConfig()
	zc.Level = level
	zc.OutputPaths = []string{"stdout"}
	if lc.File != "" {
		zc.OutputPaths = append(zc.OutputPaths, lc.File)
	}
	return zc.Build()
}
