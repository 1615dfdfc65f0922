// Package disaster spawns and expires regional disruption events that
// perturb market prices and route profitability.
package disaster

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/yashchitneni/shipfast/internal/entropy"
	"github.com/yashchitneni/shipfast/internal/goods"
)

// Kind is the disaster taxonomy.
type Kind uint8

const (
	KindStorm Kind = iota
	KindPiracy
	KindPortStrike
	KindSupplyShortage
	KindTariff
	KindCanalBlockage
	KindHurricane
)

// genericKinds are the kinds eligible for the plain spawn roll. Hurricanes
// and canal blockages have their own preconditioned rolls.
var genericKinds = []Kind{KindStorm, KindPiracy, KindPortStrike, KindSupplyShortage, KindTariff}

func (k Kind) String() string {
	switch k {
	case KindStorm:
		return "storm"
	case KindPiracy:
		return "piracy"
	case KindPortStrike:
		return "port_strike"
	case KindSupplyShortage:
		return "supply_shortage"
	case KindTariff:
		return "tariff"
	case KindCanalBlockage:
		return "canal_blockage"
	case KindHurricane:
		return "hurricane"
	default:
		return "unknown"
	}
}

// MarshalJSON emits the kind name.
func (k Kind) MarshalJSON() ([]byte, error) {
	return []byte(`"` + k.String() + `"`), nil
}

// UnmarshalJSON accepts the kind name.
func (k *Kind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*k = ParseKind(s)
	return nil
}

// ParseKind converts a stored kind name back to its constant.
func ParseKind(s string) Kind {
	for k := KindStorm; k <= KindHurricane; k++ {
		if k.String() == s {
			return k
		}
	}
	return KindStorm
}

// Event is a regional disruption. Immutable once created; it disappears by
// expiry, never by mutation.
type Event struct {
	ID       string        `json:"id"`
	Kind     Kind          `json:"kind"`
	Regions  []string      `json:"regions"`
	Severity int           `json:"severity"` // 1–5, always raw; mitigation is a revenue concern
	Start    time.Time     `json:"start"`
	Duration time.Duration `json:"duration"`
}

// Active reports whether the event is still in effect: now < start+duration.
func (e Event) Active(now time.Time) bool {
	return now.Before(e.Start.Add(e.Duration))
}

// Affects reports whether the event covers the given region.
func (e Event) Affects(regionID string) bool {
	for _, r := range e.Regions {
		if r == regionID {
			return true
		}
	}
	return false
}

// Config holds disaster tuning knobs.
type Config struct {
	SpawnChance     float64 `yaml:"spawn_chance"`      // generic roll, per tick
	HurricaneChance float64 `yaml:"hurricane_chance"`  // per tick, inside the seasonal window
	CanalChance     float64 `yaml:"canal_chance"`      // per tick, much rarer than the generic roll
	MinDuration     int     `yaml:"min_duration_hours"`
	MaxDuration     int     `yaml:"max_duration_hours"`
}

// DefaultConfig returns the compiled-in disaster tuning.
func DefaultConfig() Config {
	return Config{
		SpawnChance:     0.05,
		HurricaneChance: 0.02,
		CanalChance:     0.01,
		MinDuration:     12,
		MaxDuration:     60,
	}
}

// Engine rolls for new events and expires old ones.
type Engine struct {
	regions []goods.Region
	cfg     Config
	rng     entropy.Source
}

// NewEngine creates a disaster engine over the region table.
func NewEngine(regions []goods.Region, cfg Config, rng entropy.Source) *Engine {
	return &Engine{regions: regions, cfg: cfg, rng: rng}
}

// Process drops expired events and returns the still-active set. Expiry has
// no side effects; the price multiplier simply disappears from the next
// market tick.
func (d *Engine) Process(active []Event, now time.Time) []Event {
	still := make([]Event, 0, len(active))
	for _, e := range active {
		if e.Active(now) {
			still = append(still, e)
			continue
		}
		slog.Info("disaster expired", "id", e.ID, "kind", e.Kind, "regions", e.Regions)
	}
	return still
}

// MaybeSpawn rolls at most one new event for this tick, or nil. Contextual
// kinds (hurricane, canal blockage) are checked before the generic roll.
func (d *Engine) MaybeSpawn(now time.Time) *Event {
	if ev := d.rollHurricane(now); ev != nil {
		return ev
	}
	if ev := d.rollCanalBlockage(now); ev != nil {
		return ev
	}
	if d.rng.Float() >= d.cfg.SpawnChance {
		return nil
	}

	kind := genericKinds[d.rng.Intn(len(genericKinds))]
	regions := d.pickRegions(1 + d.rng.Intn(3))
	return d.newEvent(kind, regions, now)
}

// rollHurricane only fires inside the seasonal window and only in regions
// flagged as hurricane-prone.
func (d *Engine) rollHurricane(now time.Time) *Event {
	if !goods.HurricaneSeason(now) {
		return nil
	}
	var prone []string
	for _, r := range d.regions {
		if r.Hurricanes {
			prone = append(prone, r.ID)
		}
	}
	if len(prone) == 0 || d.rng.Float() >= d.cfg.HurricaneChance {
		return nil
	}
	return d.newEvent(KindHurricane, []string{prone[d.rng.Intn(len(prone))]}, now)
}

// rollCanalBlockage targets exactly one chokepoint region. It blocks routes
// crossing that chokepoint instead of applying a price multiplier, which is
// why PriceAffecting excludes it.
func (d *Engine) rollCanalBlockage(now time.Time) *Event {
	var chokepoints []string
	for _, r := range d.regions {
		if r.Chokepoint {
			chokepoints = append(chokepoints, r.ID)
		}
	}
	if len(chokepoints) == 0 || d.rng.Float() >= d.cfg.CanalChance {
		return nil
	}
	return d.newEvent(KindCanalBlockage, []string{chokepoints[d.rng.Intn(len(chokepoints))]}, now)
}

func (d *Engine) newEvent(kind Kind, regions []string, now time.Time) *Event {
	span := d.cfg.MaxDuration - d.cfg.MinDuration
	hours := d.cfg.MinDuration
	if span > 0 {
		hours += d.rng.Intn(span + 1)
	}
	ev := &Event{
		ID:       uuid.NewString(),
		Kind:     kind,
		Regions:  regions,
		Severity: 1 + d.rng.Intn(5),
		Start:    now,
		Duration: time.Duration(hours) * time.Hour,
	}
	slog.Info("disaster spawned",
		"id", ev.ID,
		"kind", ev.Kind,
		"regions", ev.Regions,
		"severity", ev.Severity,
		"duration_hours", hours,
	)
	return ev
}

// pickRegions chooses n distinct region ids uniformly.
func (d *Engine) pickRegions(n int) []string {
	if n > len(d.regions) {
		n = len(d.regions)
	}
	picked := make([]string, 0, n)
	used := make(map[int]bool, n)
	for len(picked) < n {
		i := d.rng.Intn(len(d.regions))
		if used[i] {
			continue
		}
		used[i] = true
		picked = append(picked, d.regions[i].ID)
	}
	return picked
}

// PriceAffecting counts active events applying a price multiplier per
// region. Canal blockages block routes instead and are excluded.
func PriceAffecting(events []Event, now time.Time) map[string]int {
	counts := make(map[string]int)
	for _, e := range events {
		if e.Kind == KindCanalBlockage || !e.Active(now) {
			continue
		}
		for _, r := range e.Regions {
			counts[r]++
		}
	}
	return counts
}

// Blocked reports whether any active canal blockage covers the region.
func Blocked(events []Event, regionID string, now time.Time) bool {
	for _, e := range events {
		if e.Kind == KindCanalBlockage && e.Active(now) && e.Affects(regionID) {
			return true
		}
	}
	return false
}

// MaxSeverity returns the highest raw severity of active events covering
// the region, or 0 when the region is clear.
func MaxSeverity(events []Event, regionID string, now time.Time) int {
	max := 0
	for _, e := range events {
		if e.Kind == KindCanalBlockage || !e.Active(now) || !e.Affects(regionID) {
			continue
		}
		if e.Severity > max {
			max = e.Severity
		}
	}
	return max
}
