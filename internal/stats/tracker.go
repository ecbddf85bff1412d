package stats

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/viterin/vek"
)

// #region config

// Config holds recency decay parameters.
type Config struct {
	HalfLife time.Duration // time for an unreinforced weight to halve
}

// DefaultConfig matches the deployment's 30 minute expiry.
func DefaultConfig() Config {
	return Config{HalfLife: 30 * time.Minute}
}

// #endregion config

// #region tracker

// Tracker maintains one exponentially decayed recency weight per action.
// It is safe for concurrent use.
type Tracker struct {
	mu       sync.Mutex
	vec      []float64
	last     time.Time
	halfLife time.Duration
}

// NewTracker creates a tracker for n actions with reference time now.
func NewTracker(n int, cfg Config, now time.Time) *Tracker {
	if cfg.HalfLife <= 0 {
		cfg.HalfLife = DefaultConfig().HalfLife
	}
	return &Tracker{
		vec:      make([]float64, n),
		last:     now,
		halfLife: cfg.HalfLife,
	}
}

// Refresh decays every weight by 0.5^(elapsed/halfLife) and moves the reference
// time to now. A now earlier than the reference time is a no-op.
func (t *Tracker) Refresh(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := now.Sub(t.last)
	if elapsed <= 0 {
		return
	}
	factor := math.Pow(0.5, elapsed.Seconds()/t.halfLife.Seconds())
	vek.MulNumber_Inplace(t.vec, factor)
	t.last = now
}

// Record reinforces the chosen action by 1. Out-of-range indices are a
// programming error and panic.
func (t *Tracker) Record(action int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if action < 0 || action >= len(t.vec) {
		panic(fmt.Sprintf("stats: action %d out of range [0, %d)", action, len(t.vec)))
	}
	t.vec[action]++
}

// Vector returns a copy of the current weights.
func (t *Tracker) Vector() []float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]float64, len(t.vec))
	copy(out, t.vec)
	return out
}

// Len returns the number of tracked actions.
func (t *Tracker) Len() int { return len(t.vec) }

// #endregion tracker

// #region context

// Context refreshes the tracker and returns features followed by the stats
// vector. The returned stats slice is the snapshot used in the context.
func (t *Tracker) Context(features []float64, now time.Time) (ctx []float64, snapshot []float64) {
	t.Refresh(now)
	snapshot = t.Vector()
	ctx = make([]float64, 0, len(features)+len(snapshot))
	ctx = append(ctx, features...)
	ctx = append(ctx, snapshot...)
	return ctx, snapshot
}

// #endregion context
