package worldstate

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/yashchitneni/shipfast/internal/disaster"
	"github.com/yashchitneni/shipfast/internal/market"
)

func seededStore(supply float64) *Store {
	s := NewStore()
	s.Commit(map[string]*market.State{
		market.Key("grain", "baltic"): {
			GoodID:   "grain",
			RegionID: "baltic",
			Price:    25,
			Supply:   supply,
			Demand:   1000,
		},
	}, nil, 1, time.Now())
	return s
}

func TestCommitVersions(t *testing.T) {
	s := NewStore()
	if s.Version() != 0 {
		t.Fatalf("fresh store version = %d", s.Version())
	}

	now := time.Now()
	snap := s.Commit(map[string]*market.State{}, nil, 1, now)
	if snap.Version != 1 || snap.Tick != 1 {
		t.Fatalf("snapshot version=%d tick=%d", snap.Version, snap.Tick)
	}
	if !snap.Committed.Equal(now) {
		t.Fatalf("committed = %v", snap.Committed)
	}

	events := []disaster.Event{{ID: "ev1", Kind: disaster.KindStorm, Regions: []string{"baltic"}, Severity: 2, Start: now, Duration: time.Hour}}
	snap = s.Commit(map[string]*market.State{}, events, 2, now)
	if snap.Version != 2 {
		t.Fatalf("version = %d, want 2", snap.Version)
	}
	if got := s.Snapshot(); got != snap {
		t.Fatal("Snapshot() does not return the latest commit")
	}
	if len(snap.Disasters) != 1 {
		t.Fatalf("disasters = %d", len(snap.Disasters))
	}
}

func TestMarketLookup(t *testing.T) {
	s := seededStore(1000)
	snap := s.Snapshot()

	st, ok := snap.Market("grain", "baltic")
	if !ok || st.Price != 25 {
		t.Fatalf("Market = %+v, %v", st, ok)
	}
	if _, ok := snap.Market("grain", "nowhere"); ok {
		t.Fatal("unknown region resolved")
	}
}

func TestApplyTradeBuy(t *testing.T) {
	s := seededStore(1000)
	before := s.Snapshot()
	now := time.Now()

	rcpt, err := s.ApplyTrade("p1", "grain", "baltic", market.TradeBuy, 10, now)
	if err != nil {
		t.Fatalf("ApplyTrade: %v", err)
	}
	if rcpt.UnitPrice != 25 || rcpt.Total != 250 {
		t.Fatalf("receipt price=%v total=%v", rcpt.UnitPrice, rcpt.Total)
	}
	if rcpt.Version != before.Version+1 {
		t.Fatalf("receipt version = %d", rcpt.Version)
	}
	if rcpt.KindName != "buy" {
		t.Fatalf("kind name = %q", rcpt.KindName)
	}

	after := s.Snapshot()
	st, _ := after.Market("grain", "baltic")
	if st.Supply != 990 {
		t.Fatalf("supply = %v, want 990", st.Supply)
	}
	// the previous snapshot must stay untouched
	prev, _ := before.Market("grain", "baltic")
	if prev.Supply != 1000 {
		t.Fatalf("published snapshot mutated: supply = %v", prev.Supply)
	}
	if after.Tick != before.Tick {
		t.Fatalf("trade changed the tick: %d -> %d", before.Tick, after.Tick)
	}
}

func TestApplyTradeUnknownMarket(t *testing.T) {
	s := seededStore(1000)
	if _, err := s.ApplyTrade("p1", "oil", "baltic", market.TradeBuy, 10, time.Now()); !errors.Is(err, market.ErrUnknownGood) {
		t.Fatalf("err = %v, want ErrUnknownGood", err)
	}
}

func TestApplyTradeSupplyGate(t *testing.T) {
	s := seededStore(5)
	version := s.Version()

	if _, err := s.ApplyTrade("p1", "grain", "baltic", market.TradeBuy, 10, time.Now()); !errors.Is(err, market.ErrInsufficientSupply) {
		t.Fatalf("err = %v, want ErrInsufficientSupply", err)
	}
	if s.Version() != version {
		t.Fatal("rejected trade must not commit")
	}
}

func TestApplyTradeConcurrentOversell(t *testing.T) {
	// 40 buyers of 10 units against 100 of supply: exactly 10 can succeed.
	s := seededStore(100)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, denied := 0, 0
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.ApplyTrade("p1", "grain", "baltic", market.TradeBuy, 10, time.Now())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, market.ErrInsufficientSupply), errors.Is(err, ErrConflict):
				denied++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded > 10 {
		t.Fatalf("%d buys succeeded against supply for 10", succeeded)
	}
	st, _ := s.Snapshot().Market("grain", "baltic")
	if st.Supply < 0 {
		t.Fatalf("supply went negative: %v", st.Supply)
	}
	if st.Supply != 100-float64(succeeded)*10 {
		t.Fatalf("supply = %v after %d fills", st.Supply, succeeded)
	}
}

func TestApplyTradeSellRestores(t *testing.T) {
	s := seededStore(1000)
	now := time.Now()

	if _, err := s.ApplyTrade("p1", "grain", "baltic", market.TradeBuy, 50, now); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if _, err := s.ApplyTrade("p1", "grain", "baltic", market.TradeSell, 50, now); err != nil {
		t.Fatalf("sell: %v", err)
	}
	st, _ := s.Snapshot().Market("grain", "baltic")
	if st.Supply != 1000 {
		t.Fatalf("supply = %v after round trip, want 1000", st.Supply)
	}
}

func TestCommitHook(t *testing.T) {
	s := seededStore(1000)

	var got []*Snapshot
	s.SetCommitHook(func(snap *Snapshot) { got = append(got, snap) })

	s.Commit(map[string]*market.State{}, nil, 2, time.Now())
	if _, err := s.ApplyTrade("p1", "grain", "baltic", market.TradeBuy, 1, time.Now()); err == nil {
		t.Fatal("buy against empty market map must fail")
	}

	if len(got) != 1 {
		t.Fatalf("hook fired %d times, want 1 (tick commit only)", len(got))
	}
	if got[0].Version != s.Version() {
		t.Fatalf("hook snapshot version = %d, store at %d", got[0].Version, s.Version())
	}
}

func TestCommitHookOnTrade(t *testing.T) {
	s := seededStore(1000)

	fired := 0
	s.SetCommitHook(func(*Snapshot) { fired++ })

	if _, err := s.ApplyTrade("p1", "grain", "baltic", market.TradeBuy, 5, time.Now()); err != nil {
		t.Fatalf("ApplyTrade: %v", err)
	}
	if fired != 1 {
		t.Fatalf("hook fired %d times on a trade delta, want 1", fired)
	}
}
