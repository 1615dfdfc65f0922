package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("port = %d", cfg.Server.Port)
	}
	if cfg.Sim.TickIntervalSeconds != 10 || cfg.Sim.SimHoursPerTick != 6 {
		t.Fatalf("sim defaults = %+v", cfg.Sim)
	}
	if cfg.Market.DisasterCap != 3.0 {
		t.Fatalf("market defaults not applied: %+v", cfg.Market)
	}
}

func TestLoadFileOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
server:
  port: 9999
sim:
  tick_interval_seconds: 2
  starting_cash: 75000
revenue:
  maintenance_per_cycle: 500
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Fatalf("port = %d", cfg.Server.Port)
	}
	if cfg.Sim.TickIntervalSeconds != 2 || cfg.Sim.StartingCash != 75_000 {
		t.Fatalf("sim = %+v", cfg.Sim)
	}
	if cfg.Revenue.MaintenancePerCycle != 500 {
		t.Fatalf("maintenance = %v", cfg.Revenue.MaintenancePerCycle)
	}
	// untouched keys keep their defaults
	if cfg.Sim.SimHoursPerTick != 6 {
		t.Fatalf("hours per tick = %v", cfg.Sim.SimHoursPerTick)
	}
}

func TestZeroSeedDrawsFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("sim:\n  seed: 0\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Sim.Seed == 0 {
		t.Fatal("zero seed was not replaced with a fresh one")
	}
}

func TestLoadBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server: [not a map"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected a parse error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SHIPFAST_PORT", "7070")
	t.Setenv("SHIPFAST_DB", "/tmp/test.db")
	t.Setenv("SHIPFAST_SEED", "1234")
	t.Setenv("SHIPFAST_ADMIN_KEY", "sekrit")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 7070 || cfg.Server.DBPath != "/tmp/test.db" {
		t.Fatalf("server = %+v", cfg.Server)
	}
	if cfg.Sim.Seed != 1234 {
		t.Fatalf("seed = %d", cfg.Sim.Seed)
	}
	if cfg.Server.AdminKey != "sekrit" {
		t.Fatalf("admin key = %q", cfg.Server.AdminKey)
	}

	t.Setenv("SHIPFAST_PORT", "not-a-number")
	if _, err := Load(""); err == nil {
		t.Fatal("bad SHIPFAST_PORT must fail")
	}
}

func TestCatalogOverride(t *testing.T) {
	cfg := Default()
	cfg.Goods = []GoodSeed{
		{ID: "spice", Name: "Spice", Category: "luxury", BaseCost: 500},
	}
	cat, err := cfg.Catalog()
	if err != nil {
		t.Fatalf("Catalog: %v", err)
	}
	if cat.Len() != 1 {
		t.Fatalf("catalog len = %d", cat.Len())
	}
	g, ok := cat.Get("spice")
	if !ok || g.BaseCost != 500 {
		t.Fatalf("spice = %+v, %v", g, ok)
	}

	cfg.Goods[0].Category = "imaginary"
	if _, err := cfg.Catalog(); err == nil {
		t.Fatal("unknown category must fail")
	}
}

func TestCatalogDefaultsWhenEmpty(t *testing.T) {
	cfg := Default()
	cat, err := cfg.Catalog()
	if err != nil {
		t.Fatalf("Catalog: %v", err)
	}
	if _, ok := cat.Get("grain"); !ok {
		t.Fatal("compiled-in catalog missing grain")
	}
	if len(cfg.RegionTable()) == 0 {
		t.Fatal("compiled-in regions missing")
	}
}
