// Command shipfast runs the logistics economy simulation server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/yashchitneni/shipfast/internal/api"
	"github.com/yashchitneni/shipfast/internal/companion"
	"github.com/yashchitneni/shipfast/internal/config"
	"github.com/yashchitneni/shipfast/internal/disaster"
	"github.com/yashchitneni/shipfast/internal/entropy"
	"github.com/yashchitneni/shipfast/internal/market"
	"github.com/yashchitneni/shipfast/internal/persistence"
	"github.com/yashchitneni/shipfast/internal/revenue"
	"github.com/yashchitneni/shipfast/internal/sim"
	"github.com/yashchitneni/shipfast/internal/worldstate"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the balance configuration")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	catalog, err := cfg.Catalog()
	if err != nil {
		slog.Error("invalid goods catalog", "error", err)
		os.Exit(1)
	}
	regions := cfg.RegionTable()
	slog.Info("world defined", "goods", catalog.Len(), "regions", len(regions), "seed", cfg.Sim.Seed)

	// ── Entropy ───────────────────────────────────────────────────────
	// A live random.org source when a key is present, otherwise fully
	// deterministic from the seed.
	var rng entropy.Source
	if cfg.Server.RandomOrgKey != "" {
		rng = entropy.NewLive(entropy.NewClient(cfg.Server.RandomOrgKey))
		slog.Info("entropy: random.org pool enabled")
	} else {
		rng = entropy.NewSeeded(cfg.Sim.Seed)
		slog.Info("entropy: seeded", "seed", cfg.Sim.Seed)
	}

	// ── Database ──────────────────────────────────────────────────────
	os.MkdirAll(filepath.Dir(cfg.Server.DBPath), 0755)
	db, err := persistence.Open(cfg.Server.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("database opened", "path", cfg.Server.DBPath)

	// ── Engines ───────────────────────────────────────────────────────
	store := worldstate.NewStore()
	simulation := sim.New(sim.Deps{
		Catalog:         catalog,
		Regions:         regions,
		Market:          market.NewEngine(catalog, regions, cfg.Market, rng, cfg.Sim.Seed),
		Disaster:        disaster.NewEngine(regions, cfg.Disaster, rng),
		Revenue:         revenue.NewEngine(cfg.Revenue),
		Learner:         companion.NewLearner(cfg.Companion, rng),
		Espionage:       companion.NewEspionage(cfg.Companion, rng),
		Store:           store,
		SimHoursPerTick: cfg.Sim.SimHoursPerTick,
		StartingCash:    cfg.Sim.StartingCash,
		StartingAssets:  cfg.Sim.StartingAssets,
		SimStart:        time.Now().UTC(),
	})

	restored, err := db.LoadWorldState(simulation)
	if err != nil {
		slog.Error("failed to restore world state", "error", err)
		os.Exit(1)
	}
	if !restored {
		slog.Info("no saved state found, starting a fresh world")
		if err := db.SaveWorldState(simulation); err != nil {
			slog.Error("initial save failed", "error", err)
		}
	}

	runner := sim.NewRunner(simulation,
		time.Duration(cfg.Sim.TickIntervalSeconds*float64(time.Second)),
		time.Duration(cfg.Sim.TickBudgetSeconds*float64(time.Second)),
	)

	// ── HTTP API ──────────────────────────────────────────────────────
	if cfg.Server.AdminKey == "" {
		slog.Warn("SHIPFAST_ADMIN_KEY not set, admin endpoints disabled")
	}

	hub := api.NewHub()
	go hub.Run()
	store.SetCommitHook(hub.BroadcastSnapshot)

	apiServer := &api.Server{
		Sim:       simulation,
		Runner:    runner,
		DB:        db,
		Hub:       hub,
		Catalog:   catalog,
		Regions:   regions,
		Port:      cfg.Server.Port,
		AdminKey:  cfg.Server.AdminKey,
		TradeRate: cfg.Server.TradeRatePerMin,
	}
	apiServer.Start()
	defer apiServer.Close()

	// ── Run ───────────────────────────────────────────────────────────
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	// Auto-save in the background every minute.
	go func() {
		saveTicker := time.NewTicker(time.Minute)
		defer saveTicker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-saveTicker.C:
				if err := db.SaveWorldState(simulation); err != nil {
					slog.Error("periodic save failed", "error", err)
				}
			}
		}
	}()

	fmt.Printf("shipfast is live: %d goods across %d regions.\n", catalog.Len(), len(regions))
	fmt.Printf("API: http://localhost:%d/api/v1/status\n", cfg.Server.Port)
	if restored {
		fmt.Printf("Resuming from tick %d\n", simulation.Tick())
	}

	runner.Run(ctx)

	slog.Info("final save...")
	if err := db.SaveWorldState(simulation); err != nil {
		slog.Error("final save failed", "error", err)
	}
	fmt.Println("Simulation stopped. World state saved.")
}
