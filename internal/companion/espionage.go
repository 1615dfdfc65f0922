package companion

import (
	"log/slog"
	"time"

	"github.com/yashchitneni/shipfast/internal/entropy"
)

// Leak records one espionage event: a fraction of the victim's best route
// pattern advantage handed to a rival. The affected player must always be
// notified; the caller owns delivery.
type Leak struct {
	FromOwner string    `json:"from_owner"`
	ToOwner   string    `json:"to_owner"`
	Lane      string    `json:"lane"`
	Fraction  float64   `json:"fraction"`
	At        time.Time `json:"at"`
}

// Espionage is the rare-event generator for companion data leaks. It is a
// standalone policy object so tests can drive it with a fixed source and
// audit the roll in isolation from the learning loop.
type Espionage struct {
	riskThreshold float64
	chance        float64
	fraction      float64
	rng           entropy.Source
}

// NewEspionage builds the generator from companion config.
func NewEspionage(cfg Config, rng entropy.Source) *Espionage {
	return &Espionage{
		riskThreshold: cfg.EspionageRiskThreshold,
		chance:        cfg.EspionageChance,
		fraction:      cfg.LeakFraction,
		rng:           rng,
	}
}

// Roll evaluates the leak policy for one player. It fires only when the
// companion's risk tolerance exceeds the threshold, and then only with the
// configured low probability. Returns nil when nothing leaks.
func (e *Espionage) Roll(st *State, rivals []string, now time.Time) *Leak {
	if st.RiskTolerance <= e.riskThreshold || len(rivals) == 0 || len(st.Patterns) == 0 {
		return nil
	}
	if e.rng.Float() >= e.chance {
		return nil
	}

	// Leak the most valuable pattern.
	var best *RoutePattern
	for _, p := range st.Patterns {
		if best == nil || p.AvgProfitMargin*p.SuccessRate > best.AvgProfitMargin*best.SuccessRate {
			best = p
		}
	}

	leak := &Leak{
		FromOwner: st.OwnerID,
		ToOwner:   rivals[e.rng.Intn(len(rivals))],
		Lane:      best.Lane,
		Fraction:  e.fraction,
		At:        now,
	}
	slog.Warn("companion espionage leak",
		"from", leak.FromOwner,
		"to", leak.ToOwner,
		"lane", leak.Lane,
		"fraction", leak.Fraction,
	)
	return leak
}
