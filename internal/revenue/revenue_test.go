package revenue

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/yashchitneni/shipfast/internal/disaster"
	"github.com/yashchitneni/shipfast/internal/market"
)

func testRoute(owner string) *Route {
	return &Route{
		ID:          "r1",
		OwnerID:     owner,
		Origin:      "east_asia",
		Destination: "north_atlantic",
		AssetID:     "a1",
		CargoGoodID: "electronics",
		CargoQty:    100,
		Distance:    10,
		AssetLevel:  1,
		Stops:       2,
		CrewSize:    8,
		AssetValue:  25_000,
		Active:      true,
	}
}

func testStates(price float64) map[string]*market.State {
	return map[string]*market.State{
		market.Key("electronics", "north_atlantic"): {
			GoodID:   "electronics",
			RegionID: "north_atlantic",
			Price:    price,
			Supply:   1000,
			Demand:   1000,
		},
	}
}

func TestRouteProfit(t *testing.T) {
	// distance 10, cargo value 5000, efficiency 1.1, no disruption
	got := RouteProfit(10, 5000, 1.1, 1.0)
	if got != 55_000 {
		t.Fatalf("RouteProfit = %v, want 55000", got)
	}
	// identical inputs always reproduce the same output
	for i := 0; i < 100; i++ {
		if again := RouteProfit(10, 5000, 1.1, 1.0); again != got {
			t.Fatalf("RouteProfit not deterministic: %v != %v", again, got)
		}
	}
	if got := RouteProfit(3.33, 1234.56, 1.05, 0.7); got != RouteProfit(3.33, 1234.56, 1.05, 0.7) {
		t.Fatal("RouteProfit varies across calls with equal inputs")
	}
}

func TestEvaluateCycleBasic(t *testing.T) {
	e := NewEngine(DefaultConfig())
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	res := e.EvaluateCycle([]*Route{testRoute("p1")}, testStates(50), nil, nil, now)

	if got := res.ProfitByPlayer["p1"]; got != 55_000 {
		t.Fatalf("profit = %v, want 55000", got)
	}
	// maintenance 250 + port fees 240 + wages 640 + insurance 25, no fuel at berth
	if got := res.ExpensesByPlayer["p1"]; got != 1155 {
		t.Fatalf("expenses = %v, want 1155", got)
	}
	if len(res.Records) != 1 {
		t.Fatalf("records = %d, want 1", len(res.Records))
	}
	rec := res.Records[0]
	if rec.Lane != "east_asia->north_atlantic" {
		t.Fatalf("lane = %q", rec.Lane)
	}
	if len(rec.Disasters) != 0 {
		t.Fatalf("disasters = %v, want none", rec.Disasters)
	}
	if rec.Profit != 55_000 || rec.Expenses != 1155 {
		t.Fatalf("record profit/expenses = %v/%v", rec.Profit, rec.Expenses)
	}
}

func TestEvaluateCycleSkips(t *testing.T) {
	e := NewEngine(DefaultConfig())
	now := time.Now()

	inactive := testRoute("p1")
	inactive.Active = false

	noMarket := testRoute("p1")
	noMarket.ID = "r2"
	noMarket.CargoGoodID = "unobtainium"

	res := e.EvaluateCycle([]*Route{inactive, noMarket}, testStates(50), nil, nil, now)
	if len(res.Records) != 0 {
		t.Fatalf("records = %d, want 0", len(res.Records))
	}
	if _, ok := res.ProfitByPlayer["p1"]; ok {
		t.Fatal("inactive and unpriced routes must not contribute profit")
	}
}

func TestEvaluateCycleSeverityPenalty(t *testing.T) {
	e := NewEngine(DefaultConfig())
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	storm := disaster.Event{
		ID:       "ev1",
		Kind:     disaster.KindStorm,
		Regions:  []string{"north_atlantic"},
		Severity: 3,
		Start:    now.Add(-time.Hour),
		Duration: 48 * time.Hour,
	}

	calm := e.EvaluateCycle([]*Route{testRoute("p1")}, testStates(50), nil, nil, now)
	hit := e.EvaluateCycle([]*Route{testRoute("p1")}, testStates(50), []disaster.Event{storm}, nil, now)

	// severity 3 at 10% per point cuts the run to 70%
	want := RouteProfit(10, 5000, 1.1, 0.7)
	if got := hit.ProfitByPlayer["p1"]; got != want {
		t.Fatalf("storm profit = %v, want %v", got, want)
	}
	if hit.ProfitByPlayer["p1"] >= calm.ProfitByPlayer["p1"] {
		t.Fatal("a severity-3 event must reduce profit")
	}
	if hit.ExpensesByPlayer["p1"] != calm.ExpensesByPlayer["p1"] {
		t.Fatal("expenses do not depend on events")
	}
	rec := hit.Records[0]
	if len(rec.Disasters) != 1 || rec.Disasters[0] != "ev1" {
		t.Fatalf("record disasters = %v, want [ev1]", rec.Disasters)
	}
}

func TestEvaluateCycleMitigation(t *testing.T) {
	e := NewEngine(DefaultConfig())
	now := time.Now()
	storm := disaster.Event{
		ID: "ev1", Kind: disaster.KindStorm, Regions: []string{"north_atlantic"},
		Severity: 3, Start: now.Add(-time.Hour), Duration: 48 * time.Hour,
	}

	mitigated := testRoute("p1")
	mitigated.MitigationSpecialists = 5 // 0.30 risk less 0.10 mitigation

	res := e.EvaluateCycle([]*Route{mitigated}, testStates(50), []disaster.Event{storm}, nil, now)
	want := RouteProfit(10, 5000, 1.1, 0.8)
	if got := res.ProfitByPlayer["p1"]; got != want {
		t.Fatalf("mitigated profit = %v, want %v", got, want)
	}
}

func TestEvaluateCycleBlockedChokepoint(t *testing.T) {
	e := NewEngine(DefaultConfig())
	now := time.Now()
	blockage := disaster.Event{
		ID: "ev2", Kind: disaster.KindCanalBlockage, Regions: []string{"suez"},
		Severity: 2, Start: now.Add(-time.Hour), Duration: 72 * time.Hour,
	}

	r := testRoute("p1")
	r.Waypoints = []string{"suez"}

	res := e.EvaluateCycle([]*Route{r}, testStates(50), []disaster.Event{blockage}, nil, now)
	if got := res.ProfitByPlayer["p1"]; got != 0 {
		t.Fatalf("blocked route profit = %v, want 0", got)
	}
	if got := res.ExpensesByPlayer["p1"]; got != 1155 {
		t.Fatalf("blocked route expenses = %v, want 1155", got)
	}
	if len(res.Records) != 1 || res.Records[0].Disasters[0] != "ev2" {
		t.Fatalf("blocked run must still be recorded with the event: %+v", res.Records)
	}
}

func TestEvaluateCycleCompanionBonus(t *testing.T) {
	e := NewEngine(DefaultConfig())
	now := time.Now()

	res := e.EvaluateCycle([]*Route{testRoute("p1")}, testStates(50),
		nil, map[string]float64{"p1": 0.05}, now)
	if got := res.ProfitByPlayer["p1"]; got != 57_750 {
		t.Fatalf("bonused profit = %v, want 57750", got)
	}
}

func TestExpenseBreakdown(t *testing.T) {
	e := NewEngine(DefaultConfig())

	r := testRoute("p1")
	x := e.expenses(r)
	if x.Fuel != 0 {
		t.Fatalf("berthed route fuel = %v, want 0", x.Fuel)
	}

	r.InTransit = true
	x = e.expenses(r)
	if x.Fuel != 15 {
		t.Fatalf("fuel = %v, want 15", x.Fuel)
	}
	if x.Maintenance != 250 || x.PortFees != 240 || x.CrewWages != 640 || x.Insurance != 25 {
		t.Fatalf("breakdown = %+v", x)
	}
	if x.Total() != 1170 {
		t.Fatalf("total = %v, want 1170", x.Total())
	}
}

func TestRiskModifier(t *testing.T) {
	e := NewEngine(DefaultConfig())

	if got := e.riskModifier(3, 0); math.Abs(got-0.3) > 1e-9 {
		t.Fatalf("riskModifier(3,0) = %v", got)
	}
	// mitigation reduces but never eliminates
	if got := e.riskModifier(3, 50); got != 0.02 {
		t.Fatalf("over-mitigated risk = %v, want floor 0.02", got)
	}
	// a hypothetical extreme severity still leaves 10% of the run
	if got := e.riskModifier(100, 0); got != 0.9 {
		t.Fatalf("extreme risk = %v, want 0.9 cap", got)
	}
}

func TestGrowthRateClamp(t *testing.T) {
	e := NewEngine(DefaultConfig())

	if got := e.GrowthRate(0, 0, 0, 0); got != 0.04 {
		t.Fatalf("base rate = %v, want 0.04", got)
	}
	if got := e.GrowthRate(0, 0, 50, 0); got != -0.99 {
		t.Fatalf("lower clamp = %v, want -0.99", got)
	}
	if got := e.GrowthRate(50, 0, 0, 0); got != 5.0 {
		t.Fatalf("upper clamp = %v, want 5.0", got)
	}
}

func TestCompound(t *testing.T) {
	if got := Compound(0, 0.04, 1); got != 0 {
		t.Fatalf("zero balance = %v", got)
	}
	if got := Compound(-500, 0.04, 1); got != -500 {
		t.Fatalf("negative balance passthrough = %v", got)
	}
	if got := Compound(1000, 0.04, 0); got != 1000 {
		t.Fatalf("zero elapsed = %v", got)
	}

	got := Compound(10_000, 0.04, 365)
	want := 10_000 * math.Pow(1+0.04/365, 365)
	if math.Abs(got-want) > 0.01 {
		t.Fatalf("one year at 4%% = %v, want ~%v", got, want)
	}
	if got <= 10_000 {
		t.Fatal("positive rate must grow the balance")
	}

	// worst clamped rate never takes a balance below zero
	if got := Compound(100, -0.99, 365); got <= 0 {
		t.Fatalf("clamped negative compounding crossed zero: %v", got)
	}
}

func TestMargin(t *testing.T) {
	rec := PerformanceRecord{Profit: 1000, Expenses: 250}
	if got := rec.Margin(); got != 0.75 {
		t.Fatalf("margin = %v, want 0.75", got)
	}
	dead := PerformanceRecord{Profit: 0, Expenses: 250}
	if got := dead.Margin(); got != 0 {
		t.Fatalf("dead-cycle margin = %v, want 0", got)
	}
}

func TestApplyForLoan(t *testing.T) {
	e := NewEngine(DefaultConfig())

	t.Run("approved at rating rate", func(t *testing.T) {
		p := NewProfile("p1", 50_000, 100_000)
		loan, err := e.ApplyForLoan(p, 150_000, 365)
		if err != nil {
			t.Fatalf("ApplyForLoan: %v", err)
		}
		if loan.Rate != 5.0 {
			t.Fatalf("BBB rate = %v, want 5.0", loan.Rate)
		}
		if p.Cash != 200_000 {
			t.Fatalf("cash = %v, want 200000", p.Cash)
		}
		if p.Outstanding() != 150_000 {
			t.Fatalf("outstanding = %v", p.Outstanding())
		}
	})

	t.Run("ceiling counts outstanding balance", func(t *testing.T) {
		p := NewProfile("p1", 50_000, 100_000)
		if _, err := e.ApplyForLoan(p, 150_000, 365); err != nil {
			t.Fatalf("first loan: %v", err)
		}
		// BBB ceiling is 200k total; only 50k headroom remains
		if _, err := e.ApplyForLoan(p, 60_000, 365); !errors.Is(err, ErrCreditDenied) {
			t.Fatalf("over-ceiling err = %v, want ErrCreditDenied", err)
		}
		if _, err := e.ApplyForLoan(p, 50_000, 365); err != nil {
			t.Fatalf("exact headroom: %v", err)
		}
	})

	t.Run("validation", func(t *testing.T) {
		p := NewProfile("p1", 0, 0)
		if _, err := e.ApplyForLoan(p, 0, 365); !errors.Is(err, ErrValidation) {
			t.Fatalf("zero principal err = %v", err)
		}
		if _, err := e.ApplyForLoan(p, 1000, 0); !errors.Is(err, ErrValidation) {
			t.Fatalf("zero term err = %v", err)
		}
	})

	t.Run("liquidated account denied", func(t *testing.T) {
		p := NewProfile("p1", 0, 0)
		p.Bankrupt = true
		if _, err := e.ApplyForLoan(p, 1000, 365); !errors.Is(err, ErrCreditDenied) {
			t.Fatalf("bankrupt err = %v", err)
		}
	})
}

func TestServiceLoans(t *testing.T) {
	e := NewEngine(DefaultConfig())

	t.Run("on-time payment amortizes", func(t *testing.T) {
		p := NewProfile("p1", 50_000, 100_000)
		loan, err := e.ApplyForLoan(p, 36_500, 365)
		if err != nil {
			t.Fatalf("ApplyForLoan: %v", err)
		}
		cashBefore := p.Cash
		e.ServiceLoans(p, 1)
		if p.Cash >= cashBefore {
			t.Fatal("payment must reduce cash")
		}
		if loan.Balance >= 36_500 {
			t.Fatalf("balance = %v, amortization must reduce it", loan.Balance)
		}
		if p.OnTimePayments != 1 || p.MissedPayments != 0 {
			t.Fatalf("payments = %d on-time, %d missed", p.OnTimePayments, p.MissedPayments)
		}
	})

	t.Run("missed payment downgrades one tier", func(t *testing.T) {
		p := NewProfile("p1", 50_000, 100_000)
		loan, err := e.ApplyForLoan(p, 36_500, 365)
		if err != nil {
			t.Fatalf("ApplyForLoan: %v", err)
		}
		p.Cash = 0
		balBefore := loan.Balance
		e.ServiceLoans(p, 1)
		if p.Rating != RatingBB {
			t.Fatalf("rating = %v, want BB after one miss", p.Rating)
		}
		if loan.Balance <= balBefore {
			t.Fatal("missed interest must capitalize onto the balance")
		}
		if p.MissedPayments != 1 {
			t.Fatalf("missed = %d", p.MissedPayments)
		}
	})

	t.Run("paid-off loan drops from the book", func(t *testing.T) {
		p := NewProfile("p1", 1_000_000, 100_000)
		if _, err := e.ApplyForLoan(p, 10_000, 10); err != nil {
			t.Fatalf("ApplyForLoan: %v", err)
		}
		e.ServiceLoans(p, 10)
		if len(p.Loans) != 0 {
			t.Fatalf("loans = %d, want 0 after full term", len(p.Loans))
		}
		if p.Outstanding() != 0 {
			t.Fatalf("outstanding = %v", p.Outstanding())
		}
	})
}

func TestRecalcRating(t *testing.T) {
	e := NewEngine(DefaultConfig())

	t.Run("improves one tier at a time", func(t *testing.T) {
		p := NewProfile("p1", 500_000, 500_000)
		p.OnTimePayments = 100
		e.RecalcRating(p)
		if p.Rating != RatingA {
			t.Fatalf("rating = %v, want A after one recalc from BBB", p.Rating)
		}
		e.RecalcRating(p)
		e.RecalcRating(p)
		if p.Rating != RatingAAA {
			t.Fatalf("rating = %v, want AAA after climbing", p.Rating)
		}
	})

	t.Run("never downgrades", func(t *testing.T) {
		p := NewProfile("p1", 100, 100)
		loan := &Loan{ID: "l1", Principal: 100_000, Balance: 100_000, Rate: 5, TermDays: 365, DaysRemaining: 365}
		p.Loans = append(p.Loans, loan)
		before := p.Rating
		e.RecalcRating(p)
		if p.Rating != before {
			t.Fatalf("rating moved %v -> %v on recalc; downgrades come from missed payments only", before, p.Rating)
		}
	})

	t.Run("bankrupt pins at D", func(t *testing.T) {
		p := NewProfile("p1", 0, 0)
		p.Bankrupt = true
		e.RecalcRating(p)
		if p.Rating != RatingD {
			t.Fatalf("rating = %v, want D", p.Rating)
		}
	})
}

func TestLoanDrag(t *testing.T) {
	p := NewProfile("p1", 50_000, 50_000)
	if got := p.LoanDrag(); got != 0 {
		t.Fatalf("drag with no debt = %v", got)
	}
	p.Loans = append(p.Loans, &Loan{ID: "l1", Principal: 50_000, Balance: 50_000, Rate: 10, TermDays: 365, DaysRemaining: 365})
	// 50k at 10% against 100k of assets drags 5% annually
	if got := p.LoanDrag(); math.Abs(got-0.05) > 1e-9 {
		t.Fatalf("drag = %v, want 0.05", got)
	}
}

func TestBankruptcyFlow(t *testing.T) {
	e := NewEngine(DefaultConfig())
	now := time.Now()

	p := NewProfile("p1", 50_000, 100_000)
	if got := e.CheckBankruptcy(p, now, nil); got != BankruptcyNone {
		t.Fatalf("solvent player action = %v", got)
	}

	// first breach of the -10k threshold offers the bailout
	p.Cash = -12_000
	if got := e.CheckBankruptcy(p, now, nil); got != BankruptcyBailoutOffered {
		t.Fatalf("first breach action = %v, want bailout offer", got)
	}
	if !p.BailoutOffered {
		t.Fatal("offer flag not set")
	}

	loan, err := e.AcceptBailout(p)
	if err != nil {
		t.Fatalf("AcceptBailout: %v", err)
	}
	if !loan.Bailout {
		t.Fatal("bailout loan not flagged")
	}
	if loan.Rate != 18.0 {
		t.Fatalf("bailout rate = %v, want 18.0", loan.Rate)
	}
	// clears the hole plus 5k working capital
	if p.Cash != 5_000 {
		t.Fatalf("cash after bailout = %v, want 5000", p.Cash)
	}

	// second breach with the offer spent is terminal
	p.Cash = -12_000
	var cancelled []string
	got := e.CheckBankruptcy(p, now, func(owner string) { cancelled = append(cancelled, owner) })
	if got != BankruptcyLiquidated {
		t.Fatalf("second breach action = %v, want liquidation", got)
	}
	if !p.Bankrupt || p.Rating != RatingD {
		t.Fatalf("post-liquidation state: bankrupt=%v rating=%v", p.Bankrupt, p.Rating)
	}
	if p.AssetValue != 0 || len(p.Loans) != 0 {
		t.Fatalf("assets=%v loans=%d, want everything wound down", p.AssetValue, len(p.Loans))
	}
	// 100k of assets at a 50% haircut recovers 50k against the -12k hole
	if p.Cash != 38_000 {
		t.Fatalf("cash after liquidation = %v, want 38000", p.Cash)
	}
	if len(cancelled) != 1 || cancelled[0] != "p1" {
		t.Fatalf("cancelRoutes calls = %v", cancelled)
	}

	if _, err := e.AcceptBailout(p); !errors.Is(err, ErrCreditDenied) {
		t.Fatalf("bailout after liquidation err = %v", err)
	}

	fresh := NewProfile("p2", 50_000, 100_000)
	if _, err := e.AcceptBailout(fresh); !errors.Is(err, ErrValidation) {
		t.Fatalf("bailout without offer err = %v", err)
	}
}
