// Package sim wires the engines together and drives the world tick:
// disasters → market → revenue → companion → snapshot commit.
package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/yashchitneni/shipfast/internal/companion"
	"github.com/yashchitneni/shipfast/internal/disaster"
	"github.com/yashchitneni/shipfast/internal/goods"
	"github.com/yashchitneni/shipfast/internal/market"
	"github.com/yashchitneni/shipfast/internal/money"
	"github.com/yashchitneni/shipfast/internal/revenue"
	"github.com/yashchitneni/shipfast/internal/worldstate"
)

// ErrSkipped marks a tick that aborted inside its wall-clock budget. The
// store keeps the last committed snapshot; the next tick proceeds from it.
var ErrSkipped = errors.New("skipped tick")

// ErrValidation rejects malformed player input before any state changes.
var ErrValidation = errors.New("invalid request")

// ErrUnknownPlayer rejects actions for unregistered players.
var ErrUnknownPlayer = errors.New("unknown player")

// MaxRecentRecords bounds the per-player performance history kept in memory
// and reloaded from the record table on restore.
const MaxRecentRecords = 500

// Player aggregates everything a single player exclusively owns.
type Player struct {
	ID          string                  `json:"id"`
	Profile     *revenue.Profile        `json:"profile"`
	Routes      []*revenue.Route        `json:"routes"`
	Companion   *companion.State        `json:"companion"`
	Suggestions []*companion.Suggestion `json:"suggestions"`
	Inventory   map[string]float64      `json:"inventory"` // market key → held quantity
	Records     []revenue.PerformanceRecord `json:"-"`
	Notices     []string                `json:"notices,omitempty"`

	// Profit bonus gained from rivals' espionage leaks, capped alongside
	// the companion's own bonus.
	leakBonus float64

	// Accepted suggestions awaiting an outcome cycle.
	resolveQueue []*companion.Suggestion
}

// TickReport summarizes one completed tick for the trigger endpoint.
type TickReport struct {
	Success       bool   `json:"success"`
	MarketUpdated bool   `json:"market_updated"`
	DisasterCount int    `json:"disaster_count"`
	Version       uint64 `json:"version"`
	Tick          uint64 `json:"tick"`
}

// Simulation owns all world and player state and executes ticks.
type Simulation struct {
	catalog     *goods.Catalog
	regions     []goods.Region
	marketEng   *market.Engine
	disasterEng *disaster.Engine
	revenueEng  *revenue.Engine
	learner     *companion.Learner
	espionage   *companion.Espionage
	store       *worldstate.Store

	simHoursPerTick float64
	startingCash    float64
	startingAssets  float64

	mu      sync.Mutex
	players map[string]*Player
	tick    uint64
	simNow  time.Time

	// Cycle records produced since the last successful save.
	pendingRecords []revenue.PerformanceRecord
}

// Deps bundles the engines a Simulation runs on.
type Deps struct {
	Catalog     *goods.Catalog
	Regions     []goods.Region
	Market      *market.Engine
	Disaster    *disaster.Engine
	Revenue     *revenue.Engine
	Learner     *companion.Learner
	Espionage   *companion.Espionage
	Store       *worldstate.Store
	SimHoursPerTick float64
	StartingCash    float64
	StartingAssets  float64
	SimStart        time.Time
}

// New creates a simulation and publishes the seeded version-1 snapshot.
func New(d Deps) *Simulation {
	s := &Simulation{
		catalog:         d.Catalog,
		regions:         d.Regions,
		marketEng:       d.Market,
		disasterEng:     d.Disaster,
		revenueEng:      d.Revenue,
		learner:         d.Learner,
		espionage:       d.Espionage,
		store:           d.Store,
		simHoursPerTick: d.SimHoursPerTick,
		startingCash:    d.StartingCash,
		startingAssets:  d.StartingAssets,
		players:         make(map[string]*Player),
		simNow:          d.SimStart,
	}
	if s.store.Version() == 0 {
		states := s.marketEng.SeedStates(s.regions, s.simNow)
		s.store.Commit(states, nil, 0, s.simNow)
	}
	return s
}

// Restore reloads previously persisted counters after New.
func (s *Simulation) Restore(tick uint64, simNow time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tick = tick
	if !simNow.IsZero() {
		s.simNow = simNow
	}
}

// Store exposes the world state store.
func (s *Simulation) Store() *worldstate.Store { return s.store }

// SimNow returns the current simulated time.
func (s *Simulation) SimNow() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.simNow
}

// Tick returns the last completed tick number.
func (s *Simulation) Tick() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tick
}

// PendingRecords returns the cycle records not yet written to the record
// table, oldest first.
func (s *Simulation) PendingRecords() []revenue.PerformanceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]revenue.PerformanceRecord, len(s.pendingRecords))
	copy(out, s.pendingRecords)
	return out
}

// AckRecords drops the oldest n pending records once they are persisted.
func (s *Simulation) AckRecords(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n >= len(s.pendingRecords) {
		s.pendingRecords = s.pendingRecords[:0]
		return
	}
	s.pendingRecords = s.pendingRecords[n:]
}

// RunTick executes one full simulation cycle. All heavy computation happens
// against local copies; the store and player partitions are only touched
// after the context budget check, so an aborted tick leaves no partial
// state behind.
func (s *Simulation) RunTick(ctx context.Context) (TickReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	simNext := s.simNow.Add(time.Duration(s.simHoursPerTick * float64(time.Hour)))
	nextTick := s.tick + 1
	snap := s.store.Snapshot()

	// Disasters: expire, then roll for a new event.
	active := s.disasterEng.Process(snap.Disasters, simNext)
	if ev := s.disasterEng.MaybeSpawn(simNext); ev != nil {
		active = append(active, *ev)
	}

	// Market repricing with disaster multipliers folded in.
	states := s.marketEng.Tick(snap.Markets, disaster.PriceAffecting(active, simNext), nextTick, simNext)

	// Revenue over all active routes against the fresh prices.
	routes := make([]*revenue.Route, 0)
	bonuses := make(map[string]float64, len(s.players))
	for id, p := range s.players {
		routes = append(routes, p.Routes...)
		bonuses[id] = s.companionBonus(p)
	}
	result := s.revenueEng.EvaluateCycle(routes, states, active, bonuses, simNext)

	// Everything above worked on copies. Abort here if the budget is gone.
	if err := ctx.Err(); err != nil {
		return TickReport{}, fmt.Errorf("%w at tick %d: %v", ErrSkipped, nextTick, err)
	}

	elapsedDays := s.simHoursPerTick / 24
	s.applyFinances(result, active, elapsedDays, simNext)
	s.runLearning(result, states, active, simNext)
	s.pruneLocked(simNext.AddDate(0, 0, -2*s.learner.Config().SuggestionTTLDays))

	s.pendingRecords = append(s.pendingRecords, result.Records...)
	s.tick = nextTick
	s.simNow = simNext
	committed := s.store.Commit(states, active, nextTick, simNext)

	if nextTick%4 == 0 { // once per sim-day at 6h ticks
		s.logDailyReport(committed)
	}

	return TickReport{
		Success:       true,
		MarketUpdated: true,
		DisasterCount: len(active),
		Version:       committed.Version,
		Tick:          nextTick,
	}, nil
}

// companionBonus is the passive profit bonus: the companion level's own
// bonus plus anything gained from rivals' leaks, jointly capped.
func (s *Simulation) companionBonus(p *Player) float64 {
	bonus := p.Companion.Level.ProfitBonus() + p.leakBonus
	if bonus > companion.LevelLegendary.ProfitBonus() {
		bonus = companion.LevelLegendary.ProfitBonus()
	}
	return bonus
}

// applyFinances posts the cycle's profit/expense transactions and advances
// each player's financial state.
func (s *Simulation) applyFinances(result revenue.CycleResult, active []disaster.Event, elapsedDays float64, now time.Time) {
	for id, p := range s.players {
		profit := result.ProfitByPlayer[id]
		expenses := result.ExpensesByPlayer[id]
		p.Profile.Cash = money.Sum(p.Profile.Cash, profit, -expenses)

		// Compounding growth on the running balance.
		penalty := 0.0
		for _, rec := range result.Records {
			if rec.OwnerID == id && len(rec.Disasters) > 0 {
				penalty += 0.005 * float64(len(rec.Disasters))
			}
		}
		rate := s.revenueEng.GrowthRate(0, s.companionBonus(p), penalty, p.Profile.LoanDrag())
		p.Profile.Cash = revenue.Compound(p.Profile.Cash, rate, elapsedDays)

		s.revenueEng.ServiceLoans(p.Profile, elapsedDays)
		s.revenueEng.RecalcRating(p.Profile)

		switch s.revenueEng.CheckBankruptcy(p.Profile, now, s.cancelRoutesLocked) {
		case revenue.BankruptcyBailoutOffered:
			p.Notices = append(p.Notices, "bankruptcy: one bailout loan on offer")
		case revenue.BankruptcyLiquidated:
			p.Notices = append(p.Notices, "bankruptcy: assets liquidated, routes cancelled")
		}
	}
}

// runLearning feeds the cycle into each companion, resolves accepted
// suggestions, emits new ones, and evaluates the espionage policy.
func (s *Simulation) runLearning(result revenue.CycleResult, states map[string]*market.State, active []disaster.Event, now time.Time) {
	dangerous := make(map[string]bool)
	for _, ev := range active {
		for _, r := range ev.Regions {
			dangerous[r] = true
		}
	}

	rivals := make([]string, 0, len(s.players))
	for id := range s.players {
		rivals = append(rivals, id)
	}

	for id, p := range s.players {
		for _, rec := range result.Records {
			if rec.OwnerID == id {
				p.Records = append(p.Records, rec)
			}
		}
		if len(p.Records) > MaxRecentRecords {
			p.Records = p.Records[len(p.Records)-MaxRecentRecords:]
		}

		s.learner.Ingest(p.Companion, result.Records, states, now)
		s.resolveAccepted(p, result)

		if sugs := s.learner.Suggest(p.Companion, states, dangerous, now); len(sugs) > 0 {
			p.Suggestions = append(p.Suggestions, sugs...)
			slog.Info("companion suggestions emitted", "player", id, "count", len(sugs), "level", p.Companion.Level)
		}
		companion.ExpirePending(p.Suggestions, now)

		if leak := s.espionage.Roll(p.Companion, otherIDs(rivals, id), now); leak != nil {
			s.applyLeak(p, leak)
		}
	}
}

// resolveAccepted scores accepted suggestions once an outcome cycle for
// their lane exists, closing the accuracy feedback loop.
func (s *Simulation) resolveAccepted(p *Player, result revenue.CycleResult) {
	pending := p.resolveQueue[:0]
	for _, sug := range p.resolveQueue {
		outcome, found := cycleOutcome(sug, result, p.ID)
		if !found {
			pending = append(pending, sug)
			continue
		}
		s.learner.Resolve(p.Companion, outcome)
	}
	p.resolveQueue = pending
}

// cycleOutcome finds whether this cycle produced a result for the
// suggestion. Route/upgrade suggestions resolve on their lane's net;
// trade/warning suggestions resolve on the player having any positive net.
func cycleOutcome(sug *companion.Suggestion, result revenue.CycleResult, playerID string) (bool, bool) {
	anyPositive := false
	for _, rec := range result.Records {
		if rec.OwnerID != playerID {
			continue
		}
		net := rec.Profit - rec.Expenses
		if net > 0 {
			anyPositive = true
		}
		if sug.Kind == companion.SuggestRoute || sug.Kind == companion.SuggestUpgrade {
			if containsLane(sug.Note, rec.Lane) {
				return net > 0, true
			}
		}
	}
	if sug.Kind == companion.SuggestTrade || sug.Kind == companion.SuggestWarning {
		return anyPositive, true
	}
	return false, false
}

// applyLeak grants the rival a bonus slice and notifies the victim.
func (s *Simulation) applyLeak(victim *Player, leak *companion.Leak) {
	if rival, ok := s.players[leak.ToOwner]; ok {
		rival.leakBonus += victim.Companion.Level.ProfitBonus() * leak.Fraction
		if max := companion.LevelLegendary.ProfitBonus(); rival.leakBonus > max {
			rival.leakBonus = max
		}
	}
	victim.Notices = append(victim.Notices,
		fmt.Sprintf("espionage: route intelligence for %s leaked to a rival", leak.Lane))
}

// cancelRoutesLocked deactivates every route of a player. Callers hold s.mu.
func (s *Simulation) cancelRoutesLocked(ownerID string) {
	if p, ok := s.players[ownerID]; ok {
		for _, r := range p.Routes {
			r.Active = false
		}
	}
}

func (s *Simulation) logDailyReport(snap *worldstate.Snapshot) {
	totalCash := 0.0
	for _, p := range s.players {
		totalCash += p.Profile.Cash
	}
	slog.Info("daily report",
		"tick", snap.Tick,
		"version", snap.Version,
		"sim_time", snap.Committed.Format("2006-01-02 15:04"),
		"players", len(s.players),
		"disasters", len(snap.Disasters),
		"total_cash", humanize.CommafWithDigits(totalCash, 2),
	)
}

func otherIDs(ids []string, self string) []string {
	out := make([]string, 0, len(ids)-1)
	for _, id := range ids {
		if id != self {
			out = append(out, id)
		}
	}
	return out
}

// containsLane reports whether a suggestion note references the lane label.
func containsLane(note, lane string) bool {
	return strings.Contains(note, lane)
}
