// Package market maintains per-good, per-region supply, demand and price,
// and recomputes prices each simulation tick.
package market

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/yashchitneni/shipfast/internal/entropy"
	"github.com/yashchitneni/shipfast/internal/goods"
	"github.com/yashchitneni/shipfast/internal/money"
)

// Trade errors surfaced to player actions. Tick-internal failures are
// logged and skipped instead.
var (
	ErrInsufficientSupply = errors.New("insufficient supply")
	ErrUnknownGood        = errors.New("unknown good")
	ErrInvalidQuantity    = errors.New("quantity must be positive")
)

// Trend classifies a good's recent demand/supply/price behavior.
type Trend uint8

const (
	TrendStable Trend = iota
	TrendRising
	TrendFalling
	TrendVolatile
)

func (t Trend) String() string {
	switch t {
	case TrendRising:
		return "rising"
	case TrendFalling:
		return "falling"
	case TrendVolatile:
		return "volatile"
	default:
		return "stable"
	}
}

// MarshalJSON emits the trend name rather than the numeric constant.
func (t Trend) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

// UnmarshalJSON accepts the trend name.
func (t *Trend) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*t = ParseTrend(s)
	return nil
}

// ParseTrend converts a stored trend name back to its constant.
func ParseTrend(s string) Trend {
	switch s {
	case "rising":
		return TrendRising
	case "falling":
		return TrendFalling
	case "volatile":
		return TrendVolatile
	default:
		return TrendStable
	}
}

// State is the market state for one good in one region. Mutated only by the
// engine during a tick or by validated trade deltas between ticks.
type State struct {
	GoodID      string    `json:"good_id" db:"good_id"`
	RegionID    string    `json:"region_id" db:"region_id"`
	Price       float64   `json:"price" db:"price"`
	PrevPrice   float64   `json:"prev_price" db:"prev_price"`
	Supply      float64   `json:"supply" db:"supply"`
	Demand      float64   `json:"demand" db:"demand"`
	Trend       Trend     `json:"trend" db:"-"`
	LastUpdated time.Time `json:"last_updated" db:"last_updated"`
}

// Key returns the map key for a (good, region) pair.
func Key(goodID, regionID string) string {
	return goodID + "@" + regionID
}

// Key returns the state's own map key.
func (s *State) Key() string { return Key(s.GoodID, s.RegionID) }

// Clone returns an independent copy.
func (s *State) Clone() *State {
	c := *s
	return &c
}

// Config holds market tuning knobs.
type Config struct {
	VolatileThreshold float64 `yaml:"volatile_threshold"` // price move that flips stable → volatile
	DisasterStep      float64 `yaml:"disaster_step"`      // price multiplier per active disaster
	DisasterCap       float64 `yaml:"disaster_cap"`       // ceiling on the combined disaster multiplier
	DriftBound        float64 `yaml:"drift_bound"`        // ± background supply/demand drift per tick

	// Production cost modifier added to base cost before the pressure term.
	ProductionCost map[string]float64 `yaml:"production_cost"` // by category name
}

// DefaultConfig returns the compiled-in market tuning.
func DefaultConfig() Config {
	return Config{
		VolatileThreshold: 0.15,
		DisasterStep:      0.2,
		DisasterCap:       3.0,
		DriftBound:        0.1,
		ProductionCost: map[string]float64{
			goods.CategoryRawMaterial.String():  0,
			goods.CategoryPerishable.String():   5,
			goods.CategoryManufactured.String(): 10,
			goods.CategoryLuxury.String():       20,
		},
	}
}

// Engine recomputes market states each tick.
type Engine struct {
	catalog *goods.Catalog
	cfg     Config
	rng     entropy.Source

	regionIdx   map[string]int
	supplyNoise opensimplex.Noise
	demandNoise opensimplex.Noise
}

// NewEngine creates a market engine. The noise seed fixes the background
// supply/demand drift; rng drives the per-tick volatility draw.
func NewEngine(catalog *goods.Catalog, regions []goods.Region, cfg Config, rng entropy.Source, seed int64) *Engine {
	idx := make(map[string]int, len(regions))
	for i, r := range regions {
		idx[r.ID] = i
	}
	return &Engine{
		catalog:     catalog,
		cfg:         cfg,
		rng:         rng,
		regionIdx:   idx,
		supplyNoise: opensimplex.NewNormalized(seed),
		demandNoise: opensimplex.NewNormalized(seed + 1),
	}
}

// SeedStates creates the initial state for every (good, region) pair.
func (e *Engine) SeedStates(regions []goods.Region, now time.Time) map[string]*State {
	states := make(map[string]*State, e.catalog.Len()*len(regions))
	for _, id := range e.catalog.IDs() {
		g, _ := e.catalog.Get(id)
		for _, r := range regions {
			supply := 800 + e.rng.Float()*400
			demand := 800 + e.rng.Float()*400
			st := &State{
				GoodID:      id,
				RegionID:    r.ID,
				Supply:      supply,
				Demand:      demand,
				Price:       money.Round(g.BaseCost),
				PrevPrice:   money.Round(g.BaseCost),
				LastUpdated: now,
			}
			st.Trend = classifyTrend(st, e.cfg.VolatileThreshold)
			states[st.Key()] = st
		}
	}
	return states
}

// Tick recomputes every state from drifted supply/demand, the good's
// volatility draw, active disasters and the season. disasterCounts maps a
// region id to the number of price-affecting disasters active there. The
// input map is not mutated; updated copies are returned. A state whose good
// is missing from the catalog is carried over unchanged and logged.
func (e *Engine) Tick(states map[string]*State, disasterCounts map[string]int, tick uint64, now time.Time) map[string]*State {
	// Sorted iteration keeps the rng draw order stable, so a replay with
	// the same seed reproduces every price.
	keys := make([]string, 0, len(states))
	for key := range states {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	next := make(map[string]*State, len(states))
	for _, key := range keys {
		prev := states[key]
		g, ok := e.catalog.Get(prev.GoodID)
		if !ok {
			slog.Warn("skipping unknown good in market tick", "good", prev.GoodID, "region", prev.RegionID)
			next[key] = prev.Clone()
			continue
		}

		st := prev.Clone()

		// Background production/consumption drift, deterministic from the
		// noise seed so a replay with the same seed reproduces it.
		pair := float64(e.catalog.Index(st.GoodID)*16 + e.regionIdx[st.RegionID])
		t := float64(tick) * 0.05
		st.Supply = clampNonNegative(st.Supply * driftFactor(e.supplyNoise, pair, t, e.cfg.DriftBound))
		st.Demand = clampNonNegative(st.Demand * driftFactor(e.demandNoise, pair, t, e.cfg.DriftBound))

		volatility := (e.rng.Float()*2 - 1) * g.Volatility

		dMult := 1 + e.cfg.DisasterStep*float64(disasterCounts[st.RegionID])
		if dMult > e.cfg.DisasterCap {
			dMult = e.cfg.DisasterCap
		}

		price := (g.BaseCost + e.productionCost(g.Category)) *
			(st.Demand / maxf(st.Supply, 1)) *
			(1 + volatility) *
			dMult *
			SeasonalModifier(g.Category, now.Month())

		st.PrevPrice = st.Price
		st.Price = money.Round(price)
		if st.Price < 0.01 {
			st.Price = 0.01
		}
		st.Trend = classifyTrend(st, e.cfg.VolatileThreshold)
		st.LastUpdated = now

		next[key] = st
	}
	return next
}

func (e *Engine) productionCost(cat goods.Category) float64 {
	return e.cfg.ProductionCost[cat.String()]
}

// driftFactor maps a noise sample to a multiplier in [1-bound, 1+bound].
func driftFactor(n opensimplex.Noise, x, t, bound float64) float64 {
	return 1 + bound*(2*n.Eval2(x, t)-1)
}

// classifyTrend derives the trend from demand pressure and price movement.
func classifyTrend(st *State, volatileThreshold float64) Trend {
	ratio := st.Demand / maxf(st.Supply, 1)
	switch {
	case ratio > 1.2:
		return TrendRising
	case ratio < 0.8:
		return TrendFalling
	}
	if st.PrevPrice > 0 {
		move := st.Price - st.PrevPrice
		if move < 0 {
			move = -move
		}
		if move/st.PrevPrice > volatileThreshold {
			return TrendVolatile
		}
	}
	return TrendStable
}

// TradeKind distinguishes the two player trade directions.
type TradeKind uint8

const (
	TradeBuy TradeKind = iota
	TradeSell
)

func (k TradeKind) String() string {
	if k == TradeSell {
		return "sell"
	}
	return "buy"
}

// ApplyTrade applies a validated buy/sell delta to a state. A buy consumes
// supply and may never drive it negative; a sell restores supply and
// relieves demand. The price paid is the caller's snapshot price, never a
// recomputed one, so this only moves quantities.
func ApplyTrade(st *State, kind TradeKind, qty float64) error {
	if qty <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidQuantity, qty)
	}
	switch kind {
	case TradeBuy:
		if st.Supply-qty < 0 {
			return fmt.Errorf("%w: %s has %.2f units, want %.2f", ErrInsufficientSupply, st.Key(), st.Supply, qty)
		}
		st.Supply -= qty
		st.Demand += qty
	case TradeSell:
		st.Supply += qty
		st.Demand = clampNonNegative(st.Demand - qty)
	default:
		return fmt.Errorf("unknown trade kind %d", kind)
	}
	return nil
}

// SeasonalModifier returns the seasonal price factor for a category.
func SeasonalModifier(cat goods.Category, month time.Month) float64 {
	switch cat {
	case goods.CategoryPerishable:
		switch {
		case month == time.December || month <= time.February:
			return 1.3 // scarce over winter
		case month >= time.September && month <= time.November:
			return 0.8 // harvest glut
		case month >= time.June:
			return 0.9
		default:
			return 1.1
		}
	case goods.CategoryRawMaterial:
		if month == time.December || month <= time.February {
			return 1.05 // heating-season pull on ores and fuel
		}
		return 1.0
	case goods.CategoryLuxury:
		if month == time.December {
			return 1.2
		}
		return 1.0
	default:
		return 1.0
	}
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func clampNonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
