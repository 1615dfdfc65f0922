// Package api serves the world state over HTTP and websocket.
// GET endpoints are public (read-only observation).
// Player endpoints are POST with a player id in the body.
// Admin endpoints require a bearer token.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/yashchitneni/shipfast/internal/goods"
	"github.com/yashchitneni/shipfast/internal/market"
	"github.com/yashchitneni/shipfast/internal/persistence"
	"github.com/yashchitneni/shipfast/internal/revenue"
	"github.com/yashchitneni/shipfast/internal/sim"
	"github.com/yashchitneni/shipfast/internal/worldstate"
)

// Server serves the simulation over HTTP.
type Server struct {
	Sim       *sim.Simulation
	Runner    *sim.Runner
	DB        *persistence.DB
	Hub       *Hub
	Catalog   *goods.Catalog
	Regions   []goods.Region
	Port      int
	AdminKey  string // Bearer token for admin endpoints. Empty = admin disabled.
	TradeRate int    // trade requests per player per minute; <= 0 uses the default

	limiter *RateLimiter
}

const defaultTradeRate = 120

// Close stops the server's background workers.
func (s *Server) Close() {
	if s.limiter != nil {
		s.limiter.Stop()
	}
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	addr := fmt.Sprintf(":%d", s.Port)
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "")

	handler := corsMiddleware(s.handler())
	go func() {
		if err := http.ListenAndServe(addr, handler); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

// handler builds the route table.
func (s *Server) handler() http.Handler {
	rate := s.TradeRate
	if rate <= 0 {
		rate = defaultTradeRate
	}
	s.limiter = NewRateLimiter(rate, time.Minute)

	mux := http.NewServeMux()

	// Public endpoints (GET, read-only).
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/world", s.handleWorld)
	mux.HandleFunc("/api/v1/market", s.handleMarket)
	mux.HandleFunc("/api/v1/disasters", s.handleDisasters)
	mux.HandleFunc("/api/v1/goods", s.handleGoods)
	mux.HandleFunc("/api/v1/regions", s.handleRegions)

	// Player endpoints.
	mux.HandleFunc("/api/v1/players", s.handleRegister)
	mux.HandleFunc("/api/v1/player/", s.handlePlayerRoutes)
	mux.HandleFunc("/api/v1/trade", RateLimitMiddleware(s.limiter, s.handleTrade))
	mux.HandleFunc("/api/v1/routes", s.handleRoutes)
	mux.HandleFunc("/api/v1/routes/cancel", s.handleRouteCancel)
	mux.HandleFunc("/api/v1/loans", s.handleLoans)
	mux.HandleFunc("/api/v1/loans/bailout", s.handleBailout)
	mux.HandleFunc("/api/v1/suggestions/resolve", s.handleSuggestionResolve)

	// Websocket stream of committed snapshots.
	if s.Hub != nil {
		mux.HandleFunc("/api/v1/ws", s.Hub.serveWs)
	}

	// Admin endpoints (POST, require bearer token).
	mux.HandleFunc("/api/v1/tick", s.adminOnly(s.handleTick))
	mux.HandleFunc("/api/v1/speed", s.adminOnly(s.handleSpeed))
	mux.HandleFunc("/api/v1/snapshot", s.adminOnly(s.handleSnapshot))

	return mux
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Set CORS_ORIGINS to a comma-separated list of origins; localhost dev
// servers are always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkBearerToken returns true if the request has a valid admin bearer token.
func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.AdminKey
}

// adminOnly wraps a handler to require bearer token auth on POST requests.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if s.AdminKey == "" {
				http.Error(w, "admin endpoints disabled (no SHIPFAST_ADMIN_KEY set)", http.StatusForbidden)
				return
			}
			if !s.checkBearerToken(r) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.Sim.Store().Snapshot()
	writeJSON(w, map[string]any{
		"name":      "shipfast",
		"tick":      snap.Tick,
		"version":   snap.Version,
		"sim_time":  s.Sim.SimNow(),
		"speed":     s.Runner.Speed(),
		"skipped":   s.Runner.Skipped(),
		"markets":   len(snap.Markets),
		"disasters": len(snap.Disasters),
		"players":   len(s.Sim.Players()),
	})
}

// handleWorld returns the full committed snapshot.
func (s *Server) handleWorld(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Sim.Store().Snapshot())
}

// handleMarket returns market states, optionally filtered by good or region.
func (s *Server) handleMarket(w http.ResponseWriter, r *http.Request) {
	goodID := r.URL.Query().Get("good")
	regionID := r.URL.Query().Get("region")

	snap := s.Sim.Store().Snapshot()
	result := make([]*market.State, 0, len(snap.Markets))
	for _, st := range snap.Markets {
		if goodID != "" && st.GoodID != goodID {
			continue
		}
		if regionID != "" && st.RegionID != regionID {
			continue
		}
		result = append(result, st)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key() < result[j].Key() })

	writeJSON(w, map[string]any{
		"version": snap.Version,
		"states":  result,
	})
}

func (s *Server) handleDisasters(w http.ResponseWriter, r *http.Request) {
	snap := s.Sim.Store().Snapshot()
	writeJSON(w, map[string]any{
		"version": snap.Version,
		"events":  snap.Disasters,
	})
}

func (s *Server) handleGoods(w http.ResponseWriter, r *http.Request) {
	result := make([]goods.Good, 0, s.Catalog.Len())
	for _, id := range s.Catalog.IDs() {
		g, _ := s.Catalog.Get(id)
		result = append(result, g)
	}
	writeJSON(w, result)
}

func (s *Server) handleRegions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Regions)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		PlayerID string `json:"player_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	p, err := s.Sim.RegisterPlayer(req.PlayerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, p)
}

// handlePlayerRoutes dispatches /api/v1/player/:id and its subresources.
func (s *Server) handlePlayerRoutes(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(r.URL.Path, "/")
	// /api/v1/player/:id → parts[0]="" [1]="api" [2]="v1" [3]="player" [4]=id
	if len(parts) < 5 || parts[4] == "" {
		http.Error(w, "missing player id", http.StatusBadRequest)
		return
	}
	p, err := s.Sim.Player(parts[4])
	if err != nil {
		writeError(w, err)
		return
	}

	if len(parts) >= 6 && parts[5] != "" {
		switch parts[5] {
		case "suggestions":
			writeJSON(w, p.Suggestions)
		case "records":
			writeJSON(w, p.Records)
		default:
			http.Error(w, "unknown resource", http.StatusNotFound)
		}
		return
	}
	writeJSON(w, p)
}

func (s *Server) handleTrade(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		PlayerID string  `json:"player_id"`
		GoodID   string  `json:"good_id"`
		RegionID string  `json:"region_id"`
		Kind     string  `json:"kind"` // "buy" or "sell"
		Quantity float64 `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	var receipt *worldstate.TradeReceipt
	var err error
	switch req.Kind {
	case "buy":
		receipt, err = s.Sim.Buy(req.PlayerID, req.GoodID, req.RegionID, req.Quantity)
	case "sell":
		receipt, err = s.Sim.Sell(req.PlayerID, req.GoodID, req.RegionID, req.Quantity)
	default:
		http.Error(w, `kind must be "buy" or "sell"`, http.StatusBadRequest)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, receipt)
}

func (s *Server) handleRoutes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		PlayerID string `json:"player_id"`
		sim.RouteRequest
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	route, err := s.Sim.CreateRoute(req.PlayerID, req.RouteRequest)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, route)
}

func (s *Server) handleRouteCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		PlayerID string `json:"player_id"`
		RouteID  string `json:"route_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := s.Sim.CancelRoute(req.PlayerID, req.RouteID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"cancelled": req.RouteID})
}

func (s *Server) handleLoans(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		PlayerID  string  `json:"player_id"`
		Principal float64 `json:"principal"`
		TermDays  int     `json:"term_days"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	loan, err := s.Sim.ApplyForLoan(req.PlayerID, req.Principal, req.TermDays)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, loan)
}

func (s *Server) handleBailout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		PlayerID string `json:"player_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	loan, err := s.Sim.AcceptBailout(req.PlayerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, loan)
}

func (s *Server) handleSuggestionResolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		PlayerID     string `json:"player_id"`
		SuggestionID string `json:"suggestion_id"`
		Accept       bool   `json:"accept"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	sug, err := s.Sim.ResolveSuggestion(req.PlayerID, req.SuggestionID, req.Accept)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, sug)
}

// handleTick triggers one immediate tick under the normal budget.
func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	report, err := s.Runner.RunOnce(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, report)
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		var req struct {
			Speed float64 `json:"speed"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if req.Speed < 0 || req.Speed > 100 {
			http.Error(w, "speed must be 0-100", http.StatusBadRequest)
			return
		}
		s.Runner.SetSpeed(req.Speed)
		slog.Info("speed changed", "speed", req.Speed)
	}
	writeJSON(w, map[string]float64{"speed": s.Runner.Speed()})
}

// handleSnapshot forces a persistence save of the current world.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.DB == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return
	}
	if err := s.DB.SaveWorldState(s.Sim); err != nil {
		slog.Error("snapshot save failed", "error", err)
		http.Error(w, "snapshot failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{
		"saved":   true,
		"version": s.Sim.Store().Version(),
	})
}

// writeError maps domain errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, sim.ErrValidation),
		errors.Is(err, revenue.ErrValidation),
		errors.Is(err, market.ErrInvalidQuantity):
		status = http.StatusBadRequest
	case errors.Is(err, sim.ErrUnknownPlayer),
		errors.Is(err, market.ErrUnknownGood):
		status = http.StatusNotFound
	case errors.Is(err, market.ErrInsufficientSupply),
		errors.Is(err, revenue.ErrInsufficientFunds),
		errors.Is(err, worldstate.ErrConflict),
		errors.Is(err, sim.ErrTickInFlight):
		status = http.StatusConflict
	case errors.Is(err, revenue.ErrCreditDenied):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, sim.ErrSkipped):
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
