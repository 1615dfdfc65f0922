// Package revenue evaluates route economics each cycle: per-route profit
// and expense breakdowns, compounding growth, and the credit/loan system.
package revenue

import (
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/yashchitneni/shipfast/internal/disaster"
	"github.com/yashchitneni/shipfast/internal/market"
	"github.com/yashchitneni/shipfast/internal/money"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrCreditDenied      = errors.New("credit denied")
	ErrValidation        = errors.New("invalid request")
)

// Route is a player-owned trade lane with an assigned asset and cargo.
type Route struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	Origin      string    `json:"origin"`      // region id
	Destination string    `json:"destination"` // region id
	Waypoints   []string  `json:"waypoints,omitempty"`
	AssetID     string    `json:"asset_id"`
	CargoGoodID string    `json:"cargo_good_id"`
	CargoQty    float64   `json:"cargo_qty"`
	Distance    float64   `json:"distance"`
	RiskLevel   float64   `json:"risk_level"` // 0..1, player-facing label only

	AssetLevel            int     `json:"asset_level"`
	SpecialistCount       int     `json:"specialist_count"`
	MitigationSpecialists int     `json:"mitigation_specialists"`
	InTransit             bool    `json:"in_transit"`
	Stops                 int     `json:"stops"`
	CrewSize              int     `json:"crew_size"`
	AssetValue            float64 `json:"asset_value"`

	Active  bool      `json:"active"`
	Created time.Time `json:"created"`
}

// RegionsCrossed returns origin, waypoints and destination without
// duplicates, in travel order.
func (r *Route) RegionsCrossed() []string {
	seen := make(map[string]bool, len(r.Waypoints)+2)
	out := make([]string, 0, len(r.Waypoints)+2)
	for _, id := range append(append([]string{r.Origin}, r.Waypoints...), r.Destination) {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// Lane is the origin→destination label the companion learns against.
func (r *Route) Lane() string { return r.Origin + "->" + r.Destination }

// PerformanceRecord is the append-only outcome of one route for one cycle.
// Never mutated after creation.
type PerformanceRecord struct {
	RouteID      string    `json:"route_id"`
	OwnerID      string    `json:"owner_id"`
	Lane         string    `json:"lane"`
	Cycle        time.Time `json:"cycle"`
	Profit       float64   `json:"profit"`
	Expenses     float64   `json:"expenses"`
	Disasters    []string  `json:"disasters,omitempty"` // event ids encountered
	CargoGoodIDs []string  `json:"cargo_good_ids"`
}

// Margin returns net profit as a fraction of gross, or 0 for a dead cycle.
func (rec PerformanceRecord) Margin() float64 {
	if rec.Profit <= 0 {
		return 0
	}
	return (rec.Profit - rec.Expenses) / rec.Profit
}

// ExpenseBreakdown itemizes a route's per-cycle costs.
type ExpenseBreakdown struct {
	Maintenance float64 `json:"maintenance"`
	Fuel        float64 `json:"fuel"`
	PortFees    float64 `json:"port_fees"`
	CrewWages   float64 `json:"crew_wages"`
	Insurance   float64 `json:"insurance"`
}

// Total sums the categories, rounded to cents.
func (x ExpenseBreakdown) Total() float64 {
	return money.Sum(x.Maintenance, x.Fuel, x.PortFees, x.CrewWages, x.Insurance)
}

// Config holds revenue tuning knobs.
type Config struct {
	BaseGrowthRate     float64 `yaml:"base_growth_rate"` // annual, fractional (0.04 = 4%)
	EfficiencyPerLevel float64 `yaml:"efficiency_per_level"`
	EfficiencyPerSpec  float64 `yaml:"efficiency_per_specialist"`

	RiskPerSeverity   float64 `yaml:"risk_per_severity"`   // disaster penalty per severity point
	MitigationPerSpec float64 `yaml:"mitigation_per_spec"` // risk reduction per mitigating specialist
	RiskFloor         float64 `yaml:"risk_floor"`          // mitigation reduces, never eliminates

	MaintenancePerCycle float64 `yaml:"maintenance_per_cycle"`
	FuelPerDistance     float64 `yaml:"fuel_per_distance"`
	PortFeePerStop      float64 `yaml:"port_fee_per_stop"`
	WagePerCrew         float64 `yaml:"wage_per_crew"`
	InsuranceRate       float64 `yaml:"insurance_rate"` // fraction of asset value per cycle

	BankruptcyThreshold float64 `yaml:"bankruptcy_threshold"` // negative cash trigger
	BailoutRate         float64 `yaml:"bailout_rate"`         // annual %, deliberately punitive
	BailoutTermDays     int     `yaml:"bailout_term_days"`
	LiquidationHaircut  float64 `yaml:"liquidation_haircut"` // fraction of asset value lost on forced sale
}

// DefaultConfig returns the compiled-in revenue tuning.
func DefaultConfig() Config {
	return Config{
		BaseGrowthRate:      0.04,
		EfficiencyPerLevel:  0.10,
		EfficiencyPerSpec:   0.05,
		RiskPerSeverity:     0.10,
		MitigationPerSpec:   0.02,
		RiskFloor:           0.02,
		MaintenancePerCycle: 250,
		FuelPerDistance:     1.5,
		PortFeePerStop:      120,
		WagePerCrew:         80,
		InsuranceRate:       0.001,
		BankruptcyThreshold: -10_000,
		BailoutRate:         18.0,
		BailoutTermDays:     180,
		LiquidationHaircut:  0.5,
	}
}

// CycleResult aggregates one cycle's evaluation across all players.
type CycleResult struct {
	ProfitByPlayer   map[string]float64
	ExpensesByPlayer map[string]float64
	Records          []PerformanceRecord
}

// Engine evaluates routes and maintains player financial state.
type Engine struct {
	cfg Config
}

// NewEngine creates a revenue engine.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Config exposes the active tuning (read-only use).
func (e *Engine) Config() Config { return e.cfg }

// EvaluateCycle computes profit and expenses for every active route against
// the cycle-start market snapshot. companionBonus maps a player to their
// companion's passive profit bonus (0..cap).
func (e *Engine) EvaluateCycle(routes []*Route, states map[string]*market.State, events []disaster.Event, companionBonus map[string]float64, now time.Time) CycleResult {
	res := CycleResult{
		ProfitByPlayer:   make(map[string]float64),
		ExpensesByPlayer: make(map[string]float64),
	}

	for _, r := range routes {
		if !r.Active {
			continue
		}

		st, ok := states[market.Key(r.CargoGoodID, r.Destination)]
		if !ok {
			slog.Warn("route cargo has no market state, skipping cycle", "route", r.ID, "good", r.CargoGoodID, "region", r.Destination)
			continue
		}
		cargoValue := money.Mul(st.Price, r.CargoQty)

		efficiency := 1 + e.cfg.EfficiencyPerLevel*float64(r.AssetLevel) + e.cfg.EfficiencyPerSpec*float64(r.SpecialistCount)

		conditionMod := 1.0
		var encountered []string
		blocked := false
		for _, region := range r.RegionsCrossed() {
			if disaster.Blocked(events, region, now) {
				blocked = true
			}
			if sev := disaster.MaxSeverity(events, region, now); sev > 0 {
				risk := e.riskModifier(sev, r.MitigationSpecialists)
				if mod := 1 - risk; mod < conditionMod {
					conditionMod = mod
				}
			}
			for _, ev := range events {
				if ev.Active(now) && ev.Affects(region) {
					encountered = appendUnique(encountered, ev.ID)
				}
			}
		}
		if blocked {
			// A blocked chokepoint stops the run entirely; the asset still
			// costs money while it waits.
			conditionMod = 0
		}

		profit := RouteProfit(r.Distance, cargoValue, efficiency, conditionMod)
		if bonus := companionBonus[r.OwnerID]; bonus > 0 && profit > 0 {
			profit = money.Round(profit * (1 + bonus))
		}

		expenses := e.expenses(r)
		total := expenses.Total()

		res.ProfitByPlayer[r.OwnerID] = money.Sum(res.ProfitByPlayer[r.OwnerID], profit)
		res.ExpensesByPlayer[r.OwnerID] = money.Sum(res.ExpensesByPlayer[r.OwnerID], total)
		res.Records = append(res.Records, PerformanceRecord{
			RouteID:      r.ID,
			OwnerID:      r.OwnerID,
			Lane:         r.Lane(),
			Cycle:        now,
			Profit:       profit,
			Expenses:     total,
			Disasters:    encountered,
			CargoGoodIDs: []string{r.CargoGoodID},
		})
	}
	return res
}

// riskModifier scales with severity and is reduced, never eliminated, by
// mitigating specialists.
func (e *Engine) riskModifier(severity, mitigators int) float64 {
	risk := e.cfg.RiskPerSeverity*float64(severity) - e.cfg.MitigationPerSpec*float64(mitigators)
	if risk < e.cfg.RiskFloor {
		risk = e.cfg.RiskFloor
	}
	if risk > 0.9 {
		risk = 0.9
	}
	return risk
}

// expenses itemizes the route's costs for one cycle.
func (e *Engine) expenses(r *Route) ExpenseBreakdown {
	x := ExpenseBreakdown{
		Maintenance: e.cfg.MaintenancePerCycle,
		PortFees:    money.Mul(e.cfg.PortFeePerStop, float64(r.Stops)),
		CrewWages:   money.Mul(e.cfg.WagePerCrew, float64(r.CrewSize)),
		Insurance:   money.Mul(e.cfg.InsuranceRate, r.AssetValue),
	}
	if r.InTransit {
		x.Fuel = money.Mul(e.cfg.FuelPerDistance, r.Distance)
	}
	return x
}

// RouteProfit is the pure base-profit formula. Identical inputs always give
// identical output, which replay and tests rely on.
func RouteProfit(distance, cargoValue, efficiency, conditionMod float64) float64 {
	return money.Round(distance * cargoValue * efficiency * conditionMod)
}

// GrowthRate combines the base rate with bonuses and drags, clamped so a
// single cycle of negative compounding can never take a balance below zero.
func (e *Engine) GrowthRate(laborBonus, companionBonus, disasterPenalty, loanDrag float64) float64 {
	rate := e.cfg.BaseGrowthRate + laborBonus + companionBonus - disasterPenalty - loanDrag
	if rate < -0.99 {
		rate = -0.99
	}
	if rate > 5.0 {
		rate = 5.0
	}
	return rate
}

// Compound applies daily-compounded growth over elapsedDays. The rate
// clamp in GrowthRate keeps (1 + rate/365) positive, so the result never
// crosses zero.
func Compound(current, rate, elapsedDays float64) float64 {
	if current <= 0 || elapsedDays <= 0 {
		return current
	}
	return money.Round(current * math.Pow(1+rate/365, elapsedDays))
}

func appendUnique(ids []string, id string) []string {
	for _, v := range ids {
		if v == id {
			return ids
		}
	}
	return append(ids, id)
}
