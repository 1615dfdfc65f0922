package sim

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"
)

// ErrTickInFlight means a tick was requested while one was still running.
// Overlapping ticks are skipped, never queued.
var ErrTickInFlight = errors.New("tick already in flight")

// Runner drives the simulation on a fixed real-time cadence. Each tick
// gets a wall-clock budget; a tick that blows the budget is logged and
// skipped, and a tick that is still running when the next interval fires
// causes that interval to be skipped.
type Runner struct {
	sim      *Simulation
	interval time.Duration
	budget   time.Duration

	speed   atomic.Int64 // fixed-point ×100 multiplier, 0 = paused
	busy    atomic.Bool
	skipped atomic.Uint64
}

// NewRunner creates a runner. interval is the real-time gap between ticks,
// budget the per-tick wall-clock allowance.
func NewRunner(s *Simulation, interval, budget time.Duration) *Runner {
	r := &Runner{sim: s, interval: interval, budget: budget}
	r.speed.Store(100)
	return r
}

// SetSpeed adjusts the tick cadence. 1.0 is real-time, 0 pauses.
func (r *Runner) SetSpeed(mult float64) {
	if mult < 0 {
		mult = 0
	}
	r.speed.Store(int64(mult * 100))
}

// Speed returns the current cadence multiplier.
func (r *Runner) Speed() float64 { return float64(r.speed.Load()) / 100 }

// Skipped returns how many ticks were dropped for overlap or budget.
func (r *Runner) Skipped() uint64 { return r.skipped.Load() }

// Run blocks until ctx is cancelled, firing ticks on the cadence.
func (r *Runner) Run(ctx context.Context) {
	slog.Info("simulation runner started", "interval", r.interval, "budget", r.budget)
	timer := time.NewTimer(r.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("simulation runner stopped", "tick", r.sim.Tick(), "skipped", r.skipped.Load())
			return
		case <-timer.C:
		}

		if mult := r.Speed(); mult <= 0 {
			timer.Reset(100 * time.Millisecond)
			continue
		} else {
			timer.Reset(time.Duration(float64(r.interval) / mult))
		}

		if _, err := r.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("tick dropped", "error", err)
		}
	}
}

// RunOnce executes a single tick under the budget, unless one is already
// in flight. Used by both the cadence loop and the manual trigger endpoint.
func (r *Runner) RunOnce(ctx context.Context) (TickReport, error) {
	if !r.busy.CompareAndSwap(false, true) {
		r.skipped.Add(1)
		return TickReport{}, ErrTickInFlight
	}
	defer r.busy.Store(false)

	tctx, cancel := context.WithTimeout(ctx, r.budget)
	defer cancel()

	start := time.Now()
	report, err := r.sim.RunTick(tctx)
	if err != nil {
		if errors.Is(err, ErrSkipped) {
			r.skipped.Add(1)
		}
		return TickReport{}, err
	}
	slog.Debug("tick complete",
		"tick", report.Tick,
		"version", report.Version,
		"disasters", report.DisasterCount,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return report, nil
}
