// Rate limiting for write endpoints, chiefly the trade RPC. Trades are
// player actions, so buckets key on the player id carried in the request
// body; requests without one fall back to the caller's address.
package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RateLimiter is a fixed-window request counter per actor.
type RateLimiter struct {
	maxRate int
	window  time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket

	stop     chan struct{}
	stopOnce sync.Once
}

type bucket struct {
	count   int
	started time.Time
}

// NewRateLimiter creates a limiter allowing maxRate requests per actor per
// window and starts its stale-bucket sweeper.
func NewRateLimiter(maxRate int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		maxRate: maxRate,
		window:  window,
		buckets: make(map[string]*bucket),
		stop:    make(chan struct{}),
	}
	go rl.sweep()
	return rl
}

// Stop terminates the sweeper goroutine. Safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

func (rl *RateLimiter) sweep() {
	ticker := time.NewTicker(10 * rl.window)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-2 * rl.window)
			rl.mu.Lock()
			for actor, b := range rl.buckets {
				if b.started.Before(cutoff) {
					delete(rl.buckets, actor)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// Allow consumes one slot in the actor's current window.
func (rl *RateLimiter) Allow(actor string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	b := rl.buckets[actor]
	if b == nil || now.Sub(b.started) >= rl.window {
		rl.buckets[actor] = &bucket{count: 1, started: now}
		return true
	}
	if b.count < rl.maxRate {
		b.count++
		return true
	}
	return false
}

// RetryAfter reports seconds until the actor's window resets.
func (rl *RateLimiter) RetryAfter(actor string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b := rl.buckets[actor]
	if b == nil {
		return 0
	}
	remaining := rl.window - time.Since(b.started)
	if remaining <= 0 {
		return 0
	}
	return int(remaining.Seconds()) + 1
}

// actorKey identifies the requester: the player id from the JSON body when
// present, otherwise the remote host. The body is replayed so the
// downstream handler can decode it again.
func actorKey(r *http.Request) string {
	if r.Body != nil {
		body, err := io.ReadAll(r.Body)
		if err == nil {
			r.Body.Close()
			r.Body = io.NopCloser(bytes.NewReader(body))
			var req struct {
				PlayerID string `json:"player_id"`
			}
			if json.Unmarshal(body, &req) == nil && req.PlayerID != "" {
				return "player:" + req.PlayerID
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "addr:" + r.RemoteAddr
	}
	return "addr:" + host
}

// RateLimitMiddleware rejects requests over the actor's allowance with 429.
func RateLimitMiddleware(rl *RateLimiter, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := actorKey(r)
		if !rl.Allow(actor) {
			w.Header().Set("Retry-After", strconv.Itoa(rl.RetryAfter(actor)))
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}
