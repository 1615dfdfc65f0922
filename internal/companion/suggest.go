package companion

import (
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/yashchitneni/shipfast/internal/market"
)

// SuggestionKind classifies what the companion is proposing.
type SuggestionKind uint8

const (
	SuggestRoute SuggestionKind = iota
	SuggestTrade
	SuggestUpgrade
	SuggestWarning
)

func (k SuggestionKind) String() string {
	switch k {
	case SuggestRoute:
		return "route"
	case SuggestTrade:
		return "trade"
	case SuggestUpgrade:
		return "upgrade"
	default:
		return "warning"
	}
}

// MarshalJSON emits the kind name.
func (k SuggestionKind) MarshalJSON() ([]byte, error) {
	return []byte(`"` + k.String() + `"`), nil
}

// UnmarshalJSON accepts the kind name.
func (k *SuggestionKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for c := SuggestRoute; c <= SuggestWarning; c++ {
		if c.String() == s {
			*k = c
			return nil
		}
	}
	*k = SuggestWarning
	return nil
}

// Status is a suggestion's lifecycle state. Everything but pending is final.
type Status uint8

const (
	StatusPending Status = iota
	StatusAccepted
	StatusDismissed
	StatusExpired
)

func (s Status) String() string {
	switch s {
	case StatusAccepted:
		return "accepted"
	case StatusDismissed:
		return "dismissed"
	case StatusExpired:
		return "expired"
	default:
		return "pending"
	}
}

// MarshalJSON emits the status name.
func (s Status) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON accepts the status name.
func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for c := StatusPending; c <= StatusExpired; c++ {
		if c.String() == name {
			*s = c
			return nil
		}
	}
	*s = StatusPending
	return nil
}

// Terminal reports whether the status is final.
func (s Status) Terminal() bool { return s != StatusPending }

// Suggestion is one ranked recommendation from the companion.
type Suggestion struct {
	ID             string         `json:"id"`
	OwnerID        string         `json:"owner_id"`
	Kind           SuggestionKind `json:"kind"`
	Priority       int            `json:"priority"` // 1 = highest
	ExpectedProfit float64        `json:"expected_profit"`
	RiskLevel      float64        `json:"risk_level"`
	Confidence     float64        `json:"confidence"`
	Status         Status         `json:"status"`
	Note           string         `json:"note"`
	Created        time.Time      `json:"created"`
	Expires        time.Time      `json:"expires"`
}

// Suggest generates ranked suggestions for the player, at most once per
// configured interval. dangerous marks regions currently under disaster.
// Only candidates above the level's confidence threshold and within its
// risk allowance are emitted.
func (l *Learner) Suggest(st *State, states map[string]*market.State, dangerous map[string]bool, now time.Time) []*Suggestion {
	if !st.LastSuggested.IsZero() &&
		now.Sub(st.LastSuggested) < time.Duration(l.cfg.SuggestIntervalHours*float64(time.Hour)) {
		return nil
	}

	var candidates []*Suggestion

	// Proven lanes → route suggestions; strong and busy ones → upgrades.
	for _, p := range st.Patterns {
		if p.Cycles < l.cfg.MinPatternCycles {
			continue
		}
		conf := l.confidence(st, p.Cycles)
		candidates = append(candidates, &Suggestion{
			Kind:           SuggestRoute,
			ExpectedProfit: p.AvgProfitMargin * p.SuccessRate * 10_000,
			RiskLevel:      1 - p.SuccessRate,
			Confidence:     conf,
			Note:           "run lane " + p.Lane + " again with " + firstOr(p.OptimalGoods, "current cargo"),
		})
		if p.SuccessRate > 0.8 && p.Cycles >= 2*l.cfg.MinPatternCycles {
			candidates = append(candidates, &Suggestion{
				Kind:           SuggestUpgrade,
				ExpectedProfit: p.AvgProfitMargin * 5_000,
				RiskLevel:      0.4,
				Confidence:     conf * 0.9,
				Note:           "lane " + p.Lane + " sustains a larger asset",
			})
		}
	}

	// Market insights → trade-timing suggestions.
	for _, ins := range st.Insights {
		if ins.Samples < l.cfg.MinPatternCycles {
			continue
		}
		if ins.DemandPattern == market.TrendRising {
			candidates = append(candidates, &Suggestion{
				Kind:           SuggestTrade,
				ExpectedProfit: (ins.HighPrice - ins.LowPrice) * 100,
				RiskLevel:      0.3,
				Confidence:     l.confidence(st, ins.Samples),
				Note:           ins.GoodID + " is rising in " + ins.RegionID + "; buy near hour " + strconv.Itoa(ins.BestBuyHour),
			})
		}
	}

	// Disaster-prone lanes → warnings. Warnings carry no expected profit
	// and are ranked ahead of everything else below.
	for _, p := range st.Patterns {
		if lanesEndangered(p.Lane, dangerous) {
			candidates = append(candidates, &Suggestion{
				Kind:       SuggestWarning,
				RiskLevel:  0.05,
				Confidence: 0.9,
				Note:       "lane " + p.Lane + " crosses an active disaster region",
			})
		}
	}

	threshold := st.Level.ConfidenceThreshold()
	maxRisk := st.Level.MaxRisk()
	emitted := candidates[:0]
	for _, c := range candidates {
		if c.Confidence >= threshold && c.RiskLevel <= maxRisk {
			emitted = append(emitted, c)
		}
	}
	if len(emitted) == 0 {
		st.LastSuggested = now
		return nil
	}

	// Warnings are time-critical and go first; the rest rank by expected
	// profit weighted against risk.
	sort.SliceStable(emitted, func(i, j int) bool {
		wi, wj := emitted[i].Kind == SuggestWarning, emitted[j].Kind == SuggestWarning
		if wi != wj {
			return wi
		}
		return emitted[i].ExpectedProfit*(1-emitted[i].RiskLevel) >
			emitted[j].ExpectedProfit*(1-emitted[j].RiskLevel)
	})
	for i, s := range emitted {
		s.ID = uuid.NewString()
		s.OwnerID = st.OwnerID
		s.Priority = i + 1
		s.Status = StatusPending
		s.Created = now
		s.Expires = now.AddDate(0, 0, l.cfg.SuggestionTTLDays)
	}

	st.LastSuggested = now
	return emitted
}

// confidence blends the companion's track record with how much history
// backs the candidate.
func (l *Learner) confidence(st *State, samples int) float64 {
	history := float64(samples) / float64(samples+l.cfg.MinPatternCycles)
	conf := 0.5*st.Accuracy() + 0.5*history
	if conf > 0.99 {
		conf = 0.99
	}
	return conf
}

// ExpirePending flips pending suggestions past their TTL to expired.
// Terminal states are never touched.
func ExpirePending(sugs []*Suggestion, now time.Time) int {
	n := 0
	for _, s := range sugs {
		if s.Status == StatusPending && now.After(s.Expires) {
			s.Status = StatusExpired
			n++
		}
	}
	return n
}

// lanesEndangered reports whether either endpoint of an "a->b" lane label
// is in the dangerous set.
func lanesEndangered(lane string, dangerous map[string]bool) bool {
	for i := 0; i+1 < len(lane); i++ {
		if lane[i] == '-' && lane[i+1] == '>' {
			return dangerous[lane[:i]] || dangerous[lane[i+2:]]
		}
	}
	return false
}

// laneDestination extracts the destination region from an "a->b" label.
func laneDestination(lane string) string {
	for i := 0; i+1 < len(lane); i++ {
		if lane[i] == '-' && lane[i+1] == '>' {
			return lane[i+2:]
		}
	}
	return ""
}

func firstOr(vs []string, fallback string) string {
	if len(vs) > 0 {
		return vs[0]
	}
	return fallback
}
