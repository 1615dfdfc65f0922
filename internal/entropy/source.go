// Package entropy provides the random sources the simulation draws from:
// a deterministic seeded source for replayable runs and tests, and a live
// source backed by random.org with a crypto/rand fallback.
package entropy

import (
	"math/rand"
	"sync"
)

// Source yields random draws for the engines. Implementations must be safe
// for concurrent use.
type Source interface {
	// Float returns a uniform float64 in [0, 1).
	Float() float64
	// Intn returns a uniform int in [0, n). n must be > 0.
	Intn(n int) int
}

// Seeded is a deterministic Source. Two Seeded sources with the same seed
// produce identical draw sequences.
type Seeded struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSeeded creates a deterministic source from a seed.
func NewSeeded(seed int64) *Seeded {
	return &Seeded{rng: rand.New(rand.NewSource(seed))}
}

func (s *Seeded) Float() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

func (s *Seeded) Intn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Intn(n)
}

// Live is a Source backed by the random.org pool client, falling back to
// crypto/rand when the client is nil or exhausted.
type Live struct {
	client *Client
}

// NewLive wraps an optional random.org client. A nil client is valid and
// uses crypto/rand for every draw.
func NewLive(client *Client) *Live {
	return &Live{client: client}
}

func (l *Live) Float() float64 {
	if l.client != nil && l.client.Enabled() {
		return l.client.Float()
	}
	return cryptoRandFloat()
}

func (l *Live) Intn(n int) int {
	return int(l.Float() * float64(n))
}
