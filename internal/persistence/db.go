// Package persistence provides SQLite-backed storage for the world
// snapshot and all player-owned state.
package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/yashchitneni/shipfast/internal/companion"
	"github.com/yashchitneni/shipfast/internal/disaster"
	"github.com/yashchitneni/shipfast/internal/market"
	"github.com/yashchitneni/shipfast/internal/revenue"
	"github.com/yashchitneni/shipfast/internal/sim"
)

// DB wraps a SQLite connection for world state persistence.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS market_states (
		good_id TEXT NOT NULL,
		region_id TEXT NOT NULL,
		price REAL NOT NULL,
		prev_price REAL NOT NULL,
		supply REAL NOT NULL,
		demand REAL NOT NULL,
		trend TEXT NOT NULL,
		last_updated INTEGER NOT NULL,
		PRIMARY KEY (good_id, region_id)
	);

	CREATE TABLE IF NOT EXISTS disasters (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		regions_json TEXT NOT NULL,
		severity INTEGER NOT NULL,
		start INTEGER NOT NULL,
		duration_seconds INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS players (
		id TEXT PRIMARY KEY,
		profile_json TEXT NOT NULL,
		companion_json TEXT NOT NULL,
		inventory_json TEXT NOT NULL,
		notices_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS routes (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		route_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS route_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		route_id TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		lane TEXT NOT NULL,
		cycle INTEGER NOT NULL,
		profit REAL NOT NULL,
		expenses REAL NOT NULL,
		record_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS suggestions (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		status TEXT NOT NULL,
		suggestion_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS world_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_routes_owner ON route_records(owner_id);
	CREATE INDEX IF NOT EXISTS idx_records_route ON route_records(route_id, cycle);
	CREATE INDEX IF NOT EXISTS idx_suggestions_owner ON suggestions(owner_id, status);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// SaveMarketStates writes the full price table (full replace).
func (db *DB) SaveMarketStates(states map[string]*market.State) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM market_states"); err != nil {
		return err
	}

	stmt, err := tx.Preparex(`INSERT INTO market_states
		(good_id, region_id, price, prev_price, supply, demand, trend, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, st := range states {
		_, err := stmt.Exec(
			st.GoodID, st.RegionID, st.Price, st.PrevPrice,
			st.Supply, st.Demand, st.Trend.String(), st.LastUpdated.Unix(),
		)
		if err != nil {
			return fmt.Errorf("insert market state %s: %w", st.Key(), err)
		}
	}

	return tx.Commit()
}

// LoadMarketStates reads the price table back into the snapshot map form.
func (db *DB) LoadMarketStates() (map[string]*market.State, error) {
	rows, err := db.conn.Queryx(`SELECT good_id, region_id, price, prev_price,
		supply, demand, trend, last_updated FROM market_states`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	states := make(map[string]*market.State)
	for rows.Next() {
		var st market.State
		var trend string
		var updated int64
		if err := rows.Scan(&st.GoodID, &st.RegionID, &st.Price, &st.PrevPrice,
			&st.Supply, &st.Demand, &trend, &updated); err != nil {
			return nil, err
		}
		st.Trend = market.ParseTrend(trend)
		st.LastUpdated = time.Unix(updated, 0).UTC()
		states[st.Key()] = &st
	}
	return states, rows.Err()
}

// SaveDisasters writes all active events (full replace).
func (db *DB) SaveDisasters(events []disaster.Event) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM disasters"); err != nil {
		return err
	}

	for _, e := range events {
		regions, _ := json.Marshal(e.Regions)
		_, err := tx.Exec(`INSERT INTO disasters
			(id, kind, regions_json, severity, start, duration_seconds)
			VALUES (?, ?, ?, ?, ?, ?)`,
			e.ID, e.Kind.String(), string(regions), e.Severity,
			e.Start.Unix(), int64(e.Duration.Seconds()),
		)
		if err != nil {
			return fmt.Errorf("insert disaster %s: %w", e.ID, err)
		}
	}

	return tx.Commit()
}

// LoadDisasters reads back the stored events.
func (db *DB) LoadDisasters() ([]disaster.Event, error) {
	rows, err := db.conn.Queryx(`SELECT id, kind, regions_json, severity, start,
		duration_seconds FROM disasters`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []disaster.Event
	for rows.Next() {
		var e disaster.Event
		var kind, regionsJSON string
		var start, durSecs int64
		if err := rows.Scan(&e.ID, &kind, &regionsJSON, &e.Severity, &start, &durSecs); err != nil {
			return nil, err
		}
		e.Kind = disaster.ParseKind(kind)
		e.Start = time.Unix(start, 0).UTC()
		e.Duration = time.Duration(durSecs) * time.Second
		if err := json.Unmarshal([]byte(regionsJSON), &e.Regions); err != nil {
			return nil, fmt.Errorf("disaster %s regions: %w", e.ID, err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// SavePlayers writes all players, their routes and their suggestions
// (full replace for each table).
func (db *DB) SavePlayers(players []*sim.Player) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"players", "routes", "suggestions"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return err
		}
	}

	for _, p := range players {
		profileJSON, _ := json.Marshal(p.Profile)
		companionJSON, _ := json.Marshal(p.Companion)
		inventoryJSON, _ := json.Marshal(p.Inventory)
		noticesJSON, _ := json.Marshal(p.Notices)

		_, err := tx.Exec(`INSERT INTO players
			(id, profile_json, companion_json, inventory_json, notices_json)
			VALUES (?, ?, ?, ?, ?)`,
			p.ID, string(profileJSON), string(companionJSON),
			string(inventoryJSON), string(noticesJSON),
		)
		if err != nil {
			return fmt.Errorf("insert player %s: %w", p.ID, err)
		}

		for _, r := range p.Routes {
			routeJSON, _ := json.Marshal(r)
			if _, err := tx.Exec(`INSERT INTO routes (id, owner_id, route_json) VALUES (?, ?, ?)`,
				r.ID, p.ID, string(routeJSON)); err != nil {
				return fmt.Errorf("insert route %s: %w", r.ID, err)
			}
		}

		for _, sug := range p.Suggestions {
			sugJSON, _ := json.Marshal(sug)
			if _, err := tx.Exec(`INSERT INTO suggestions (id, owner_id, status, suggestion_json)
				VALUES (?, ?, ?, ?)`,
				sug.ID, p.ID, sug.Status.String(), string(sugJSON)); err != nil {
				return fmt.Errorf("insert suggestion %s: %w", sug.ID, err)
			}
		}
	}

	return tx.Commit()
}

// LoadPlayers reconstructs players with their routes and suggestions.
func (db *DB) LoadPlayers() ([]*sim.Player, error) {
	rows, err := db.conn.Queryx(`SELECT id, profile_json, companion_json,
		inventory_json, notices_json FROM players`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var players []*sim.Player
	for rows.Next() {
		var id, profileJSON, companionJSON, inventoryJSON, noticesJSON string
		if err := rows.Scan(&id, &profileJSON, &companionJSON, &inventoryJSON, &noticesJSON); err != nil {
			return nil, err
		}
		p := &sim.Player{ID: id}
		if err := json.Unmarshal([]byte(profileJSON), &p.Profile); err != nil {
			return nil, fmt.Errorf("player %s profile: %w", id, err)
		}
		if err := json.Unmarshal([]byte(companionJSON), &p.Companion); err != nil {
			return nil, fmt.Errorf("player %s companion: %w", id, err)
		}
		if err := json.Unmarshal([]byte(inventoryJSON), &p.Inventory); err != nil {
			return nil, fmt.Errorf("player %s inventory: %w", id, err)
		}
		if err := json.Unmarshal([]byte(noticesJSON), &p.Notices); err != nil {
			return nil, fmt.Errorf("player %s notices: %w", id, err)
		}
		players = append(players, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, p := range players {
		if err := db.loadRoutes(p); err != nil {
			return nil, err
		}
		if err := db.loadSuggestions(p); err != nil {
			return nil, err
		}
	}
	return players, nil
}

func (db *DB) loadRoutes(p *sim.Player) error {
	rows, err := db.conn.Queryx("SELECT route_json FROM routes WHERE owner_id = ?", p.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var routeJSON string
		if err := rows.Scan(&routeJSON); err != nil {
			return err
		}
		var r revenue.Route
		if err := json.Unmarshal([]byte(routeJSON), &r); err != nil {
			return fmt.Errorf("player %s route: %w", p.ID, err)
		}
		p.Routes = append(p.Routes, &r)
	}
	return rows.Err()
}

func (db *DB) loadSuggestions(p *sim.Player) error {
	rows, err := db.conn.Queryx("SELECT suggestion_json FROM suggestions WHERE owner_id = ?", p.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var sugJSON string
		if err := rows.Scan(&sugJSON); err != nil {
			return err
		}
		var sug companion.Suggestion
		if err := json.Unmarshal([]byte(sugJSON), &sug); err != nil {
			return fmt.Errorf("player %s suggestion: %w", p.ID, err)
		}
		p.Suggestions = append(p.Suggestions, &sug)
	}
	return rows.Err()
}

// AppendRecords appends performance records. Records are never rewritten.
func (db *DB) AppendRecords(records []revenue.PerformanceRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, rec := range records {
		recJSON, _ := json.Marshal(rec)
		_, err := tx.Exec(`INSERT INTO route_records
			(route_id, owner_id, lane, cycle, profit, expenses, record_json)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			rec.RouteID, rec.OwnerID, rec.Lane, rec.Cycle.Unix(),
			rec.Profit, rec.Expenses, string(recJSON),
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// RecentRecords returns the most recent N records for a player.
func (db *DB) RecentRecords(ownerID string, limit int) ([]revenue.PerformanceRecord, error) {
	rows, err := db.conn.Queryx(
		"SELECT record_json FROM route_records WHERE owner_id = ? ORDER BY id DESC LIMIT ?",
		ownerID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []revenue.PerformanceRecord
	for rows.Next() {
		var recJSON string
		if err := rows.Scan(&recJSON); err != nil {
			return nil, err
		}
		var rec revenue.PerformanceRecord
		if err := json.Unmarshal([]byte(recJSON), &rec); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// SaveMeta stores a key-value pair in world metadata.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO world_meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value; empty string when unset.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM world_meta WHERE key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// SaveWorldState performs a full save of the simulation.
func (db *DB) SaveWorldState(s *sim.Simulation) error {
	snap := s.Store().Snapshot()
	players := s.Players()
	// The simulation's own counters, not the snapshot's: a Restore after
	// New updates only the former, and the save must never regress them.
	tick := s.Tick()
	simNow := s.SimNow()
	slog.Info("saving world state", "tick", tick, "markets", len(snap.Markets), "players", len(players))

	if err := db.SaveMarketStates(snap.Markets); err != nil {
		return fmt.Errorf("save market states: %w", err)
	}
	if err := db.SaveDisasters(snap.Disasters); err != nil {
		return fmt.Errorf("save disasters: %w", err)
	}
	if err := db.SavePlayers(players); err != nil {
		return fmt.Errorf("save players: %w", err)
	}
	records := s.PendingRecords()
	if err := db.AppendRecords(records); err != nil {
		return fmt.Errorf("append records: %w", err)
	}
	s.AckRecords(len(records))
	if err := db.SaveMeta("last_tick", strconv.FormatUint(tick, 10)); err != nil {
		return fmt.Errorf("save meta: %w", err)
	}
	if err := db.SaveMeta("sim_now", simNow.UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("save meta: %w", err)
	}

	slog.Info("world state saved")
	return nil
}

// LoadWorldState restores a previously saved world into the simulation.
// Returns false when the database holds no prior save.
func (db *DB) LoadWorldState(s *sim.Simulation) (bool, error) {
	tickStr, err := db.GetMeta("last_tick")
	if err != nil {
		return false, err
	}
	if tickStr == "" {
		return false, nil
	}
	tick, err := strconv.ParseUint(tickStr, 10, 64)
	if err != nil {
		return false, fmt.Errorf("meta last_tick: %w", err)
	}

	var simNow time.Time
	if nowStr, err := db.GetMeta("sim_now"); err != nil {
		return false, err
	} else if nowStr != "" {
		simNow, err = time.Parse(time.RFC3339, nowStr)
		if err != nil {
			return false, fmt.Errorf("meta sim_now: %w", err)
		}
	}

	states, err := db.LoadMarketStates()
	if err != nil {
		return false, fmt.Errorf("load market states: %w", err)
	}
	events, err := db.LoadDisasters()
	if err != nil {
		return false, fmt.Errorf("load disasters: %w", err)
	}
	players, err := db.LoadPlayers()
	if err != nil {
		return false, fmt.Errorf("load players: %w", err)
	}

	if len(states) > 0 {
		s.Store().Commit(states, events, tick, simNow)
	}
	s.Restore(tick, simNow)
	for _, p := range players {
		recs, err := db.RecentRecords(p.ID, sim.MaxRecentRecords)
		if err != nil {
			return false, fmt.Errorf("load records for %s: %w", p.ID, err)
		}
		// RecentRecords is newest-first; in-memory history is append order.
		for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
			recs[i], recs[j] = recs[j], recs[i]
		}
		p.Records = recs
		s.AddPlayer(p)
	}

	slog.Info("world state restored", "tick", tick, "markets", len(states), "players", len(players))
	return true, nil
}
