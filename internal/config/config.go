// Package config loads the balance configuration: a YAML file layered over
// compiled-in defaults, with environment overrides for deploy-specific
// values (port, keys, database path, seed).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yashchitneni/shipfast/internal/companion"
	"github.com/yashchitneni/shipfast/internal/disaster"
	"github.com/yashchitneni/shipfast/internal/goods"
	"github.com/yashchitneni/shipfast/internal/market"
	"github.com/yashchitneni/shipfast/internal/revenue"
)

// Config is the complete balance and deployment configuration.
type Config struct {
	Server    Server           `yaml:"server"`
	Sim       Sim              `yaml:"sim"`
	Market    market.Config    `yaml:"market"`
	Disaster  disaster.Config  `yaml:"disaster"`
	Revenue   revenue.Config   `yaml:"revenue"`
	Companion companion.Config `yaml:"companion"`

	// Optional catalog/region overrides; empty means compiled-in seeds.
	Goods   []GoodSeed     `yaml:"goods"`
	Regions []goods.Region `yaml:"regions"`
}

// Server holds deployment knobs.
type Server struct {
	Port            int    `yaml:"port"`
	DBPath          string `yaml:"db_path"`
	TradeRatePerMin int    `yaml:"trade_rate_per_min"` // per player
	AdminKey        string `yaml:"-"`                  // env only, never from file
	RandomOrgKey    string `yaml:"-"`                  // env only
}

// Sim holds scheduler and world knobs.
type Sim struct {
	TickIntervalSeconds float64 `yaml:"tick_interval_seconds"`
	TickBudgetSeconds   float64 `yaml:"tick_budget_seconds"`
	SimHoursPerTick     float64 `yaml:"sim_hours_per_tick"`
	Seed                int64   `yaml:"seed"`
	StartingCash        float64 `yaml:"starting_cash"`
	StartingAssets      float64 `yaml:"starting_assets"`
}

// GoodSeed is the YAML shape of a catalog entry.
type GoodSeed struct {
	ID         string  `yaml:"id"`
	Name       string  `yaml:"name"`
	Category   string  `yaml:"category"`
	BaseCost   float64 `yaml:"base_cost"`
	Volatility float64 `yaml:"volatility"`
}

// Default returns the compiled-in configuration.
func Default() Config {
	return Config{
		Server: Server{
			Port:            8080,
			DBPath:          "data/shipfast.db",
			TradeRatePerMin: 120,
		},
		Sim: Sim{
			TickIntervalSeconds: 10,
			TickBudgetSeconds:   5,
			SimHoursPerTick:     6,
			Seed:                42,
			StartingCash:        50_000,
			StartingAssets:      100_000,
		},
		Market:    market.DefaultConfig(),
		Disaster:  disaster.DefaultConfig(),
		Revenue:   revenue.DefaultConfig(),
		Companion: companion.DefaultConfig(),
	}
}

// Load reads the YAML file at path over the defaults, then applies env
// overrides. A missing file is fine; defaults apply.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Defaults only.
		case err != nil:
			return cfg, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if v := os.Getenv("SHIPFAST_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("SHIPFAST_PORT: %w", err)
		}
		cfg.Server.Port = p
	}
	if v := os.Getenv("SHIPFAST_DB"); v != "" {
		cfg.Server.DBPath = v
	}
	if v := os.Getenv("SHIPFAST_SEED"); v != "" {
		s, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return cfg, fmt.Errorf("SHIPFAST_SEED: %w", err)
		}
		cfg.Sim.Seed = s
	}
	cfg.Server.AdminKey = os.Getenv("SHIPFAST_ADMIN_KEY")
	cfg.Server.RandomOrgKey = os.Getenv("SHIPFAST_RANDOM_ORG_KEY")

	// Seed 0 means "fresh world every run".
	if cfg.Sim.Seed == 0 {
		cfg.Sim.Seed = time.Now().UnixNano()
	}

	return cfg, nil
}

// Catalog builds the goods catalog from the config, falling back to the
// compiled-in seed when no override is present.
func (c Config) Catalog() (*goods.Catalog, error) {
	if len(c.Goods) == 0 {
		return goods.DefaultCatalog(), nil
	}
	seed := make([]goods.Good, 0, len(c.Goods))
	for _, gs := range c.Goods {
		cat, err := parseCategory(gs.Category)
		if err != nil {
			return nil, fmt.Errorf("good %q: %w", gs.ID, err)
		}
		seed = append(seed, goods.Good{
			ID:         gs.ID,
			Name:       gs.Name,
			Category:   cat,
			BaseCost:   gs.BaseCost,
			Volatility: gs.Volatility,
		})
	}
	return goods.NewCatalog(seed)
}

// RegionTable returns the configured regions or the compiled-in table.
func (c Config) RegionTable() []goods.Region {
	if len(c.Regions) == 0 {
		return goods.DefaultRegions()
	}
	return c.Regions
}

func parseCategory(s string) (goods.Category, error) {
	for cat := goods.CategoryRawMaterial; cat <= goods.CategoryPerishable; cat++ {
		if cat.String() == s {
			return cat, nil
		}
	}
	return 0, fmt.Errorf("unknown category %q", s)
}
