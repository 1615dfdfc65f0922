// Package companion implements the per-player adaptive advisor. It learns
// from completed route cycles and market movement, levels up on experience,
// and emits ranked suggestions.
package companion

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/yashchitneni/shipfast/internal/entropy"
	"github.com/yashchitneni/shipfast/internal/market"
	"github.com/yashchitneni/shipfast/internal/revenue"
)

// Level is the companion progression tier. Transitions are forward-only.
type Level uint8

const (
	LevelNovice Level = iota
	LevelApprentice
	LevelJourneyman
	LevelExpert
	LevelMaster
	LevelLegendary
)

var levelNames = [...]string{"novice", "apprentice", "journeyman", "expert", "master", "legendary"}

func (l Level) String() string {
	if int(l) < len(levelNames) {
		return levelNames[l]
	}
	return "legendary"
}

// MarshalJSON emits the level name.
func (l Level) MarshalJSON() ([]byte, error) {
	return []byte(`"` + l.String() + `"`), nil
}

// UnmarshalJSON accepts the level name.
func (l *Level) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*l = ParseLevel(s)
	return nil
}

// ParseLevel converts a stored level name back to its constant.
func ParseLevel(s string) Level {
	for i, name := range levelNames {
		if name == s {
			return Level(i)
		}
	}
	return LevelNovice
}

// levelThresholds is the experience required to reach each level.
var levelThresholds = [...]uint64{0, 100, 400, 1000, 2500, 6000}

// LevelForExperience maps an experience total to its level.
func LevelForExperience(xp uint64) Level {
	lvl := LevelNovice
	for i := len(levelThresholds) - 1; i >= 0; i-- {
		if xp >= levelThresholds[i] {
			lvl = Level(i)
			break
		}
	}
	return lvl
}

// ProfitBonus is the passive profit bonus the level grants, capped at 5%.
func (l Level) ProfitBonus() float64 {
	return 0.01 * float64(l) // 0% at novice through 5% at legendary
}

// ConfidenceThreshold is the minimum confidence a suggestion needs before
// this level emits it. Higher levels trust themselves with riskier calls.
func (l Level) ConfidenceThreshold() float64 {
	return 0.8 - 0.1*float64(l)
}

// MaxRisk is the riskiest suggestion the level is allowed to surface.
func (l Level) MaxRisk() float64 {
	return 0.3 + 0.1*float64(l)
}

// riskAppetite is the baseline risk tolerance a level confers. Seasoned
// companions act more boldly, which is also what exposes them to leaks.
func (l Level) riskAppetite() float64 {
	return 0.3 + 0.1*float64(l)
}

// RoutePattern is the learned performance profile for one lane.
type RoutePattern struct {
	Lane            string             `json:"lane"`
	Cycles          int                `json:"cycles"`
	AvgProfitMargin float64            `json:"avg_profit_margin"`
	SuccessRate     float64            `json:"success_rate"`
	OptimalGoods    []string           `json:"optimal_goods"`
	GoodNet         map[string]float64 `json:"good_net"` // cumulative net by cargo good
	Positive        int                `json:"positive"` // cycles with positive net
}

// MarketInsight is the learned behavior of one (good, region) pair the
// player has traded.
type MarketInsight struct {
	GoodID        string       `json:"good_id"`
	RegionID      string       `json:"region_id"`
	DemandPattern market.Trend `json:"demand_pattern"`
	Samples       int          `json:"samples"`
	LowPrice      float64      `json:"low_price"`
	HighPrice     float64      `json:"high_price"`
	BestBuyHour   int          `json:"best_buy_hour"`  // sim hour-of-day of the observed low
	BestSellHour  int          `json:"best_sell_hour"` // sim hour-of-day of the observed high
}

// State is one player's companion. Experience is monotonically
// non-decreasing and the level never moves backwards.
type State struct {
	OwnerID    string `json:"owner_id"`
	Level      Level  `json:"level"`
	Experience uint64 `json:"experience"`

	SuccessfulSuggestions int `json:"successful_suggestions"`
	TotalSuggestions      int `json:"total_suggestions"`

	RiskTolerance float64 `json:"risk_tolerance"`

	Patterns map[string]*RoutePattern  `json:"patterns"` // by lane
	Insights map[string]*MarketInsight `json:"insights"` // by market key

	LastSuggested time.Time `json:"last_suggested"`
}

// NewState creates a fresh novice companion.
func NewState(ownerID string) *State {
	return &State{
		OwnerID:       ownerID,
		RiskTolerance: 0.3,
		Patterns:      make(map[string]*RoutePattern),
		Insights:      make(map[string]*MarketInsight),
	}
}

// Accuracy is the fraction of resolved suggestions that worked out.
func (s *State) Accuracy() float64 {
	if s.TotalSuggestions == 0 {
		return 0.5 // neutral prior until there is history
	}
	return float64(s.SuccessfulSuggestions) / float64(s.TotalSuggestions)
}

// addExperience grows experience and promotes the level when a threshold is
// crossed. Never demotes. Promotion raises the risk appetite floor.
func (s *State) addExperience(n uint64) {
	s.Experience += n
	if lvl := LevelForExperience(s.Experience); lvl > s.Level {
		s.Level = lvl
		if floor := lvl.riskAppetite(); floor > s.RiskTolerance {
			s.RiskTolerance = floor
		}
		slog.Info("companion leveled up", "player", s.OwnerID, "level", lvl, "experience", s.Experience)
	}
}

// NoteSuggestionChoice drifts risk tolerance from how the player treats
// advice: accepting a suggestion riskier than the current appetite raises
// it, dismissing one walks it back. Bounded to [0.3, 0.9].
func (s *State) NoteSuggestionChoice(risk float64, accepted bool) {
	switch {
	case accepted && risk > s.RiskTolerance:
		s.RiskTolerance += 0.05
		if s.RiskTolerance > 0.9 {
			s.RiskTolerance = 0.9
		}
	case !accepted:
		s.RiskTolerance -= 0.02
		if s.RiskTolerance < 0.3 {
			s.RiskTolerance = 0.3
		}
	}
}

// Config holds companion tuning knobs.
type Config struct {
	MinPatternCycles     int     `yaml:"min_pattern_cycles"` // history before a lane pattern counts
	SuggestIntervalHours float64 `yaml:"suggest_interval_hours"`
	SuggestionTTLDays    int     `yaml:"suggestion_ttl_days"`
	XPPerRecord          uint64  `yaml:"xp_per_record"`
	XPPerSuccess         uint64  `yaml:"xp_per_success"`

	EspionageRiskThreshold float64 `yaml:"espionage_risk_threshold"`
	EspionageChance        float64 `yaml:"espionage_chance"`
	LeakFraction           float64 `yaml:"leak_fraction"`
}

// DefaultConfig returns the compiled-in companion tuning.
func DefaultConfig() Config {
	return Config{
		MinPatternCycles:       3,
		SuggestIntervalHours:   30,
		SuggestionTTLDays:      7,
		XPPerRecord:            10,
		XPPerSuccess:           50,
		EspionageRiskThreshold: 0.75,
		EspionageChance:        0.005,
		LeakFraction:           0.25,
	}
}

// Learner updates companion state from cycle outcomes and market snapshots.
type Learner struct {
	cfg Config
	rng entropy.Source
}

// NewLearner creates a learner.
func NewLearner(cfg Config, rng entropy.Source) *Learner {
	return &Learner{cfg: cfg, rng: rng}
}

// Config exposes the active tuning.
func (l *Learner) Config() Config { return l.cfg }

// Ingest consumes one cycle's performance records and the current market
// snapshot, updating route patterns and market insights.
func (l *Learner) Ingest(st *State, records []revenue.PerformanceRecord, states map[string]*market.State, now time.Time) {
	for _, rec := range records {
		if rec.OwnerID != st.OwnerID {
			continue
		}
		l.updatePattern(st, rec)

		// Track only the markets this cycle sold into: the cargo goods at
		// the lane's destination.
		dest := laneDestination(rec.Lane)
		for _, goodID := range rec.CargoGoodIDs {
			if mst, ok := states[market.Key(goodID, dest)]; ok {
				l.updateInsight(st, mst, now)
			}
		}
		st.addExperience(l.cfg.XPPerRecord)
	}
}

func (l *Learner) updatePattern(st *State, rec revenue.PerformanceRecord) {
	p := st.Patterns[rec.Lane]
	if p == nil {
		p = &RoutePattern{Lane: rec.Lane, GoodNet: make(map[string]float64)}
		st.Patterns[rec.Lane] = p
	}

	net := rec.Profit - rec.Expenses
	p.Cycles++
	if net > 0 {
		p.Positive++
	}
	p.SuccessRate = float64(p.Positive) / float64(p.Cycles)
	// Rolling average of the cycle margin.
	p.AvgProfitMargin += (rec.Margin() - p.AvgProfitMargin) / float64(p.Cycles)

	for _, goodID := range rec.CargoGoodIDs {
		p.GoodNet[goodID] += net
	}
	p.OptimalGoods = topGoods(p.GoodNet, 3)
}

func (l *Learner) updateInsight(st *State, mst *market.State, now time.Time) {
	key := mst.Key()
	ins := st.Insights[key]
	if ins == nil {
		ins = &MarketInsight{
			GoodID:    mst.GoodID,
			RegionID:  mst.RegionID,
			LowPrice:  mst.Price,
			HighPrice: mst.Price,
		}
		st.Insights[key] = ins
	}

	ins.Samples++
	ins.DemandPattern = mst.Trend
	hour := now.Hour()
	if mst.Price <= ins.LowPrice {
		ins.LowPrice = mst.Price
		ins.BestBuyHour = hour
	}
	if mst.Price >= ins.HighPrice {
		ins.HighPrice = mst.Price
		ins.BestSellHour = hour
	}
}

// Resolve records the outcome of an accepted suggestion. Accuracy feeds
// back into the confidence gate on the next Suggest pass.
func (l *Learner) Resolve(st *State, success bool) {
	st.TotalSuggestions++
	if success {
		st.SuccessfulSuggestions++
		st.addExperience(l.cfg.XPPerSuccess)
	}
}

// topGoods returns up to n good ids by descending cumulative net.
func topGoods(net map[string]float64, n int) []string {
	out := make([]string, 0, n)
	used := make(map[string]bool, n)
	for len(out) < n && len(out) < len(net) {
		best := ""
		bestNet := 0.0
		for id, v := range net {
			if used[id] {
				continue
			}
			if best == "" || v > bestNet {
				best, bestNet = id, v
			}
		}
		if best == "" {
			break
		}
		used[best] = true
		out = append(out, best)
	}
	return out
}
