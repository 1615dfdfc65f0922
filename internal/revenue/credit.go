package revenue

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/yashchitneni/shipfast/internal/money"
)

// Rating is a credit tier. Lower values are better.
type Rating uint8

const (
	RatingAAA Rating = iota
	RatingAA
	RatingA
	RatingBBB
	RatingBB
	RatingB
	RatingCCC
	RatingD
)

var ratingNames = [...]string{"AAA", "AA", "A", "BBB", "BB", "B", "CCC", "D"}

func (r Rating) String() string {
	if int(r) < len(ratingNames) {
		return ratingNames[r]
	}
	return "D"
}

// MarshalJSON emits the tier name.
func (r Rating) MarshalJSON() ([]byte, error) {
	return []byte(`"` + r.String() + `"`), nil
}

// UnmarshalJSON accepts the tier name.
func (r *Rating) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*r = ParseRating(s)
	return nil
}

// ParseRating converts a stored tier name back to its constant.
func ParseRating(s string) Rating {
	for i, name := range ratingNames {
		if name == s {
			return Rating(i)
		}
	}
	return RatingD
}

// InterestRate returns the annual interest rate (%) for new loans at this tier.
func (r Rating) InterestRate() float64 {
	switch r {
	case RatingAAA:
		return 3.0
	case RatingAA:
		return 4.0
	case RatingA:
		return 4.5
	case RatingBBB:
		return 5.0
	case RatingBB:
		return 6.5
	case RatingB:
		return 8.0
	case RatingCCC:
		return 11.0
	default:
		return 15.0
	}
}

// LoanCeiling returns the maximum total outstanding principal at this tier.
func (r Rating) LoanCeiling() float64 {
	switch r {
	case RatingAAA:
		return 1_000_000
	case RatingAA:
		return 600_000
	case RatingA:
		return 350_000
	case RatingBBB:
		return 200_000
	case RatingBB:
		return 100_000
	case RatingB:
		return 50_000
	case RatingCCC:
		return 20_000
	default:
		return 5_000
	}
}

// Worse returns the next tier down, saturating at D.
func (r Rating) Worse() Rating {
	if r >= RatingD {
		return RatingD
	}
	return r + 1
}

// Better returns the next tier up, saturating at AAA.
func (r Rating) Better() Rating {
	if r == RatingAAA {
		return RatingAAA
	}
	return r - 1
}

// Loan is an outstanding obligation.
type Loan struct {
	ID            string  `json:"id"`
	Principal     float64 `json:"principal"`
	Balance       float64 `json:"balance"`
	Rate          float64 `json:"rate"` // annual %
	TermDays      int     `json:"term_days"`
	DaysRemaining float64 `json:"days_remaining"`
	Bailout       bool    `json:"bailout,omitempty"`
}

// Profile is a player's financial state. Mutated only by the revenue engine
// and the player-action entry points that wrap it.
type Profile struct {
	OwnerID    string  `json:"owner_id"`
	Rating     Rating  `json:"rating"`
	Cash       float64 `json:"cash"`
	AssetValue float64 `json:"asset_value"`
	Loans      []*Loan `json:"loans"`

	OnTimePayments int `json:"on_time_payments"`
	MissedPayments int `json:"missed_payments"`

	Bankrupt       bool `json:"bankrupt"`
	BailoutOffered bool `json:"bailout_offered"`
}

// NewProfile creates a starting profile with seed capital.
func NewProfile(ownerID string, startingCash, startingAssets float64) *Profile {
	return &Profile{
		OwnerID:    ownerID,
		Rating:     RatingBBB,
		Cash:       startingCash,
		AssetValue: startingAssets,
	}
}

// Outstanding returns total remaining loan balance.
func (p *Profile) Outstanding() float64 {
	total := 0.0
	for _, l := range p.Loans {
		total = money.Sum(total, l.Balance)
	}
	return total
}

// LoanDrag returns the balance-weighted annual interest drag as a fraction
// for the compounding rate.
func (p *Profile) LoanDrag() float64 {
	out := p.Outstanding()
	if out <= 0 {
		return 0
	}
	weighted := 0.0
	for _, l := range p.Loans {
		weighted += l.Balance * l.Rate / 100
	}
	assets := p.AssetValue + p.Cash
	if assets < 1 {
		assets = 1
	}
	return weighted / assets
}

// ApplyForLoan validates a request against the rating's ceiling and, if
// approved, credits the principal at the rating's rate.
func (e *Engine) ApplyForLoan(p *Profile, principal float64, termDays int) (*Loan, error) {
	if principal <= 0 || termDays <= 0 {
		return nil, fmt.Errorf("%w: principal and term must be positive", ErrValidation)
	}
	if p.Bankrupt {
		return nil, fmt.Errorf("%w: account is in liquidation", ErrCreditDenied)
	}
	ceiling := p.Rating.LoanCeiling() - p.Outstanding()
	if principal > ceiling {
		return nil, fmt.Errorf("%w: %s ceiling leaves %.2f available, requested %.2f",
			ErrCreditDenied, p.Rating, ceiling, principal)
	}

	loan := &Loan{
		ID:            uuid.NewString(),
		Principal:     principal,
		Balance:       principal,
		Rate:          p.Rating.InterestRate(),
		TermDays:      termDays,
		DaysRemaining: float64(termDays),
	}
	p.Loans = append(p.Loans, loan)
	p.Cash = money.Sum(p.Cash, principal)
	slog.Info("loan approved", "player", p.OwnerID, "rating", p.Rating, "principal", principal, "rate", loan.Rate)
	return loan, nil
}

// ServiceLoans charges elapsed interest plus amortized principal on every
// loan. A payment the player cannot cover is a missed payment and strictly
// worsens the rating by one tier.
func (e *Engine) ServiceLoans(p *Profile, elapsedDays float64) {
	if elapsedDays <= 0 {
		return
	}
	remaining := p.Loans[:0]
	for _, l := range p.Loans {
		interest := l.Balance * (l.Rate / 100 / 365) * elapsedDays
		amortized := (l.Principal / float64(l.TermDays)) * elapsedDays
		if amortized > l.Balance {
			amortized = l.Balance
		}
		payment := money.Sum(interest, amortized)

		if p.Cash >= payment {
			p.Cash = money.Sum(p.Cash, -payment)
			l.Balance = money.Sum(l.Balance, -amortized)
			p.OnTimePayments++
		} else {
			// Missed: interest capitalizes and the rating takes the hit.
			l.Balance = money.Sum(l.Balance, interest)
			p.MissedPayments++
			p.Rating = p.Rating.Worse()
			slog.Warn("missed loan payment", "player", p.OwnerID, "loan", l.ID, "due", payment, "rating", p.Rating)
		}

		l.DaysRemaining -= elapsedDays
		if l.Balance > 0.009 && l.DaysRemaining > 0 {
			remaining = append(remaining, l)
		}
	}
	p.Loans = remaining
}

// RecalcRating moves the rating one tier toward the target implied by the
// debt-to-asset ratio and payment history. It only ever improves here;
// downgrades come exclusively from missed payments.
func (e *Engine) RecalcRating(p *Profile) {
	if p.Bankrupt {
		p.Rating = RatingD
		return
	}
	assets := p.AssetValue + p.Cash
	if assets < 1 {
		assets = 1
	}
	ratio := p.Outstanding() / assets

	payments := p.OnTimePayments + p.MissedPayments
	onTimeShare := 1.0
	if payments > 0 {
		onTimeShare = float64(p.OnTimePayments) / float64(payments)
	}

	target := RatingD
	switch {
	case ratio < 0.1 && onTimeShare > 0.95:
		target = RatingAAA
	case ratio < 0.25 && onTimeShare > 0.9:
		target = RatingAA
	case ratio < 0.4 && onTimeShare > 0.85:
		target = RatingA
	case ratio < 0.6 && onTimeShare > 0.75:
		target = RatingBBB
	case ratio < 0.8 && onTimeShare > 0.6:
		target = RatingBB
	case ratio < 1.0:
		target = RatingB
	case ratio < 1.5:
		target = RatingCCC
	}

	if target < p.Rating {
		p.Rating = p.Rating.Better()
	}
}

// BankruptcyAction is what CheckBankruptcy decided for a player.
type BankruptcyAction uint8

const (
	BankruptcyNone BankruptcyAction = iota
	BankruptcyBailoutOffered
	BankruptcyLiquidated
)

// CheckBankruptcy triggers when liquid cash falls below the configured
// negative threshold. The first breach offers one high-interest bailout
// loan; a second breach with the offer spent liquidates the player.
// cancelRoutes is invoked on liquidation so outstanding routes are dropped
// by the owner of the route collection.
func (e *Engine) CheckBankruptcy(p *Profile, now time.Time, cancelRoutes func(ownerID string)) BankruptcyAction {
	if p.Bankrupt || p.Cash >= e.cfg.BankruptcyThreshold {
		return BankruptcyNone
	}

	if !p.BailoutOffered {
		p.BailoutOffered = true
		slog.Warn("bankruptcy threshold breached, bailout offered",
			"player", p.OwnerID, "cash", p.Cash, "rate", e.cfg.BailoutRate)
		return BankruptcyBailoutOffered
	}

	// Terminal: forced liquidation at depreciated value.
	recovered := money.Mul(p.AssetValue, 1-e.cfg.LiquidationHaircut)
	p.Cash = money.Sum(p.Cash, recovered)
	p.AssetValue = 0
	p.Loans = nil
	p.Bankrupt = true
	p.Rating = RatingD
	if cancelRoutes != nil {
		cancelRoutes(p.OwnerID)
	}
	slog.Warn("player liquidated", "player", p.OwnerID, "recovered", recovered, "cash", p.Cash)
	return BankruptcyLiquidated
}

// AcceptBailout books the one-time bailout loan. Only valid after the offer
// and before liquidation.
func (e *Engine) AcceptBailout(p *Profile) (*Loan, error) {
	if p.Bankrupt {
		return nil, fmt.Errorf("%w: already liquidated", ErrCreditDenied)
	}
	if !p.BailoutOffered {
		return nil, fmt.Errorf("%w: no bailout on offer", ErrValidation)
	}
	principal := -p.Cash + 5_000 // clear the hole plus working capital
	if principal <= 0 {
		principal = 5_000
	}
	loan := &Loan{
		ID:            uuid.NewString(),
		Principal:     money.Round(principal),
		Balance:       money.Round(principal),
		Rate:          e.cfg.BailoutRate,
		TermDays:      e.cfg.BailoutTermDays,
		DaysRemaining: float64(e.cfg.BailoutTermDays),
		Bailout:       true,
	}
	p.Loans = append(p.Loans, loan)
	p.Cash = money.Sum(p.Cash, loan.Principal)
	slog.Info("bailout accepted", "player", p.OwnerID, "principal", loan.Principal, "rate", loan.Rate)
	return loan, nil
}
