// Package worldstate holds the single shared truth: market states and
// active disasters, exposed as immutable versioned snapshots behind a
// single-writer store. Player trades commit through optimistic concurrency.
package worldstate

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yashchitneni/shipfast/internal/disaster"
	"github.com/yashchitneni/shipfast/internal/market"
	"github.com/yashchitneni/shipfast/internal/money"
)

// ErrConflict means a delta lost the optimistic commit race too many times.
// It is transient; callers may retry the whole action.
var ErrConflict = errors.New("concurrent update conflict")

// Snapshot is one committed world state. Treat everything reachable from it
// as immutable; the store never mutates a published snapshot.
type Snapshot struct {
	Version   uint64           `json:"version"`
	Tick      uint64           `json:"tick"`
	Committed time.Time        `json:"committed"`
	Markets   map[string]*market.State `json:"markets"`
	Disasters []disaster.Event `json:"disasters"`
}

// Market looks up the state for a (good, region) pair.
func (s *Snapshot) Market(goodID, regionID string) (*market.State, bool) {
	st, ok := s.Markets[market.Key(goodID, regionID)]
	return st, ok
}

// Store is the versioned world state holder. The tick is the only writer of
// full snapshots; trades commit individual market deltas between ticks.
type Store struct {
	mu         sync.RWMutex
	snap       *Snapshot
	maxRetries int

	onCommit func(*Snapshot)
}

// NewStore creates a store with an empty version-zero snapshot.
func NewStore() *Store {
	return &Store{
		snap:       &Snapshot{Markets: map[string]*market.State{}},
		maxRetries: 3,
	}
}

// SetCommitHook registers a function invoked with every committed snapshot,
// outside the store lock. Used for push notification fan-out.
func (s *Store) SetCommitHook(fn func(*Snapshot)) {
	s.mu.Lock()
	s.onCommit = fn
	s.mu.Unlock()
}

// Snapshot returns the current committed snapshot.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Version returns the current snapshot version.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Version
}

// Commit publishes a fully computed next state. Called once per successful
// tick; never called with partially updated collections.
func (s *Store) Commit(markets map[string]*market.State, disasters []disaster.Event, tick uint64, now time.Time) *Snapshot {
	s.mu.Lock()
	next := &Snapshot{
		Version:   s.snap.Version + 1,
		Tick:      tick,
		Committed: now,
		Markets:   markets,
		Disasters: disasters,
	}
	s.snap = next
	hook := s.onCommit
	s.mu.Unlock()

	if hook != nil {
		hook(next)
	}
	return next
}

// TradeReceipt is the durable record of one executed buy/sell.
type TradeReceipt struct {
	ID        string           `json:"id"`
	PlayerID  string           `json:"player_id"`
	GoodID    string           `json:"good_id"`
	RegionID  string           `json:"region_id"`
	Kind      market.TradeKind `json:"-"`
	KindName  string           `json:"kind"`
	Quantity  float64          `json:"quantity"`
	UnitPrice float64          `json:"unit_price"`
	Total     float64          `json:"total"`
	Version   uint64           `json:"version"`
	At        time.Time        `json:"at"`
}

// ApplyTrade executes a buy/sell against the current snapshot. The price
// paid is the snapshot price at the moment of the call. The delta commits
// only if no other commit landed since the read; on conflict it retries a
// bounded number of times, then fails with ErrConflict. The supply gate in
// market.ApplyTrade holds under the commit lock, so concurrent buys can
// never drive supply negative.
func (s *Store) ApplyTrade(playerID, goodID, regionID string, kind market.TradeKind, qty float64, now time.Time) (*TradeReceipt, error) {
	key := market.Key(goodID, regionID)

	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		s.mu.RLock()
		read := s.snap
		s.mu.RUnlock()

		st, ok := read.Markets[key]
		if !ok {
			return nil, fmt.Errorf("%w: no market for %s in %s", market.ErrUnknownGood, goodID, regionID)
		}

		updated := st.Clone()
		if err := market.ApplyTrade(updated, kind, qty); err != nil {
			return nil, err
		}
		updated.LastUpdated = now

		s.mu.Lock()
		if s.snap.Version != read.Version {
			s.mu.Unlock()
			continue // another delta landed; re-read and retry
		}
		next := &Snapshot{
			Version:   read.Version + 1,
			Tick:      read.Tick,
			Committed: now,
			Markets:   replaceState(read.Markets, key, updated),
			Disasters: read.Disasters,
		}
		s.snap = next
		hook := s.onCommit
		s.mu.Unlock()

		if hook != nil {
			hook(next)
		}
		return &TradeReceipt{
			ID:        uuid.NewString(),
			PlayerID:  playerID,
			GoodID:    goodID,
			RegionID:  regionID,
			Kind:      kind,
			KindName:  kind.String(),
			Quantity:  qty,
			UnitPrice: st.Price,
			Total:     money.Mul(st.Price, qty),
			Version:   next.Version,
			At:        now,
		}, nil
	}
	return nil, fmt.Errorf("%w: trade on %s gave up after %d retries", ErrConflict, key, s.maxRetries)
}

// replaceState shallow-copies the market map with one entry swapped, so the
// previous snapshot stays untouched.
func replaceState(old map[string]*market.State, key string, st *market.State) map[string]*market.State {
	next := make(map[string]*market.State, len(old))
	for k, v := range old {
		next[k] = v
	}
	next[key] = st
	return next
}
