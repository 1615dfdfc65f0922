package sim

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/yashchitneni/shipfast/internal/companion"
	"github.com/yashchitneni/shipfast/internal/market"
	"github.com/yashchitneni/shipfast/internal/money"
	"github.com/yashchitneni/shipfast/internal/revenue"
	"github.com/yashchitneni/shipfast/internal/worldstate"
)

// RegisterPlayer creates a player with starting capital, or returns the
// existing one. Safe to call repeatedly with the same id.
func (s *Simulation) RegisterPlayer(id string) (*Player, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty player id", ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.players[id]; ok {
		return p, nil
	}
	p := &Player{
		ID:        id,
		Profile:   revenue.NewProfile(id, s.startingCash, s.startingAssets),
		Companion: companion.NewState(id),
		Inventory: make(map[string]float64),
	}
	s.players[id] = p
	slog.Info("player registered", "player", id, "cash", s.startingCash)
	return p, nil
}

// AddPlayer installs a fully restored player, replacing any existing one.
// Used when loading persisted state.
func (s *Simulation) AddPlayer(p *Player) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Inventory == nil {
		p.Inventory = make(map[string]float64)
	}
	s.players[p.ID] = p
}

// Player returns the live player record.
func (s *Simulation) Player(id string) (*Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlayer, id)
	}
	return p, nil
}

// Players returns all player records.
func (s *Simulation) Players() []*Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Player, 0, len(s.players))
	for _, p := range s.players {
		out = append(out, p)
	}
	return out
}

// Buy purchases qty units at the current market price. The player's cash
// and the market's supply both gate the trade; the receipt reflects the
// price at the snapshot version the trade landed on.
func (s *Simulation) Buy(playerID, goodID, regionID string, qty float64) (*worldstate.TradeReceipt, error) {
	return s.trade(playerID, goodID, regionID, qty, market.TradeBuy)
}

// Sell disposes qty units from the player's inventory at the current
// market price.
func (s *Simulation) Sell(playerID, goodID, regionID string, qty float64) (*worldstate.TradeReceipt, error) {
	return s.trade(playerID, goodID, regionID, qty, market.TradeSell)
}

func (s *Simulation) trade(playerID, goodID, regionID string, qty float64, kind market.TradeKind) (*worldstate.TradeReceipt, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("%w: quantity %v", market.ErrInvalidQuantity, qty)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[playerID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlayer, playerID)
	}
	if p.Profile.Bankrupt {
		return nil, fmt.Errorf("%w: account liquidated", revenue.ErrValidation)
	}
	key := market.Key(goodID, regionID)

	switch kind {
	case market.TradeBuy:
		st, ok := s.store.Snapshot().Markets[key]
		if !ok {
			return nil, fmt.Errorf("%w: %s", market.ErrUnknownGood, key)
		}
		if cost := money.Mul(st.Price, qty); p.Profile.Cash < cost {
			return nil, fmt.Errorf("%w: need %.2f, have %.2f", revenue.ErrInsufficientFunds, cost, p.Profile.Cash)
		}
	case market.TradeSell:
		if p.Inventory[key] < qty {
			return nil, fmt.Errorf("%w: holding %.0f of %s", market.ErrInsufficientSupply, p.Inventory[key], key)
		}
	}

	receipt, err := s.store.ApplyTrade(playerID, goodID, regionID, kind, qty, s.simNow)
	if err != nil {
		return nil, err
	}
	switch kind {
	case market.TradeBuy:
		p.Profile.Cash = money.Sum(p.Profile.Cash, -receipt.Total)
		p.Inventory[key] += qty
	case market.TradeSell:
		p.Profile.Cash = money.Sum(p.Profile.Cash, receipt.Total)
		p.Inventory[key] -= qty
	}
	return receipt, nil
}

// RouteRequest is the player-supplied part of a new route.
type RouteRequest struct {
	Origin      string   `json:"origin"`
	Destination string   `json:"destination"`
	Waypoints   []string `json:"waypoints,omitempty"`
	CargoGoodID string   `json:"cargo_good_id"`
	CargoQty    float64  `json:"cargo_qty"`
	Distance    float64  `json:"distance"`

	AssetLevel            int     `json:"asset_level,omitempty"`
	SpecialistCount       int     `json:"specialist_count,omitempty"`
	MitigationSpecialists int     `json:"mitigation_specialists,omitempty"`
	Stops                 int     `json:"stops,omitempty"`
	CrewSize              int     `json:"crew_size,omitempty"`
	AssetValue            float64 `json:"asset_value,omitempty"`
}

// CreateRoute validates and activates a new route for the player.
func (s *Simulation) CreateRoute(ownerID string, req RouteRequest) (*revenue.Route, error) {
	if err := s.validateRoute(req); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[ownerID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlayer, ownerID)
	}
	if p.Profile.Bankrupt {
		return nil, fmt.Errorf("%w: account liquidated", revenue.ErrValidation)
	}
	r := &revenue.Route{
		ID:                    uuid.NewString(),
		OwnerID:               ownerID,
		Origin:                req.Origin,
		Destination:           req.Destination,
		Waypoints:             req.Waypoints,
		AssetID:               uuid.NewString(),
		CargoGoodID:           req.CargoGoodID,
		CargoQty:              req.CargoQty,
		Distance:              req.Distance,
		AssetLevel:            max(req.AssetLevel, 1),
		SpecialistCount:       req.SpecialistCount,
		MitigationSpecialists: req.MitigationSpecialists,
		Stops:                 max(req.Stops, 2),
		CrewSize:              max(req.CrewSize, 8),
		AssetValue:            req.AssetValue,
		Active:                true,
		Created:               s.simNow,
	}
	if r.AssetValue <= 0 {
		r.AssetValue = 25_000 * float64(r.AssetLevel)
	}
	p.Routes = append(p.Routes, r)
	p.Profile.AssetValue += r.AssetValue
	slog.Info("route created", "player", ownerID, "lane", r.Lane(), "cargo", r.CargoGoodID, "distance", r.Distance)
	return r, nil
}

func (s *Simulation) validateRoute(req RouteRequest) error {
	if req.CargoQty <= 0 || req.Distance <= 0 {
		return fmt.Errorf("%w: cargo quantity and distance must be positive", ErrValidation)
	}
	if req.Origin == req.Destination {
		return fmt.Errorf("%w: origin equals destination", ErrValidation)
	}
	if _, ok := s.catalog.Get(req.CargoGoodID); !ok {
		return fmt.Errorf("%w: cargo good %q", ErrValidation, req.CargoGoodID)
	}
	for _, id := range append([]string{req.Origin, req.Destination}, req.Waypoints...) {
		if !s.regionExists(id) {
			return fmt.Errorf("%w: unknown region %q", ErrValidation, id)
		}
	}
	return nil
}

func (s *Simulation) regionExists(id string) bool {
	for _, r := range s.regions {
		if r.ID == id {
			return true
		}
	}
	return false
}

// CancelRoute deactivates a route. The asset is retained on the books.
func (s *Simulation) CancelRoute(ownerID, routeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[ownerID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPlayer, ownerID)
	}
	for _, r := range p.Routes {
		if r.ID == routeID {
			r.Active = false
			return nil
		}
	}
	return fmt.Errorf("%w: route %q", ErrValidation, routeID)
}

// ApplyForLoan requests a loan against the player's credit rating.
func (s *Simulation) ApplyForLoan(ownerID string, principal float64, termDays int) (*revenue.Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[ownerID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlayer, ownerID)
	}
	return s.revenueEng.ApplyForLoan(p.Profile, principal, termDays)
}

// AcceptBailout takes the one-time bailout loan after a bankruptcy offer.
func (s *Simulation) AcceptBailout(ownerID string) (*revenue.Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[ownerID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlayer, ownerID)
	}
	return s.revenueEng.AcceptBailout(p.Profile)
}

// ResolveSuggestion accepts or dismisses a pending suggestion. Accepted
// suggestions enter the outcome queue and later feed companion accuracy.
func (s *Simulation) ResolveSuggestion(ownerID, suggestionID string, accept bool) (*companion.Suggestion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[ownerID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlayer, ownerID)
	}
	for _, sug := range p.Suggestions {
		if sug.ID != suggestionID {
			continue
		}
		if sug.Status.Terminal() {
			return nil, fmt.Errorf("%w: suggestion already %s", ErrValidation, sug.Status)
		}
		if accept {
			sug.Status = companion.StatusAccepted
			p.resolveQueue = append(p.resolveQueue, sug)
		} else {
			sug.Status = companion.StatusDismissed
		}
		p.Companion.NoteSuggestionChoice(sug.RiskLevel, accept)
		return sug, nil
	}
	return nil, fmt.Errorf("%w: suggestion %q", ErrValidation, suggestionID)
}

// PruneSuggestions drops terminal suggestions older than the TTL window
// so the per-player list stays bounded.
func (s *Simulation) PruneSuggestions(before time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(before)
}

// pruneLocked runs every tick with twice the suggestion TTL as retention.
// Callers hold s.mu.
func (s *Simulation) pruneLocked(before time.Time) {
	for _, p := range s.players {
		kept := p.Suggestions[:0]
		for _, sug := range p.Suggestions {
			if !sug.Status.Terminal() || sug.Created.After(before) {
				kept = append(kept, sug)
			}
		}
		p.Suggestions = kept
	}
}
