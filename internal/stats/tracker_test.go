package stats

import (
	"math"
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func TestRefreshHalfLife(t *testing.T) {
	tr := NewTracker(3, Config{HalfLife: 30 * time.Minute}, t0)
	tr.Record(1)

	tr.Refresh(t0.Add(30 * time.Minute))
	got := tr.Vector()[1]
	if math.Abs(got-0.5) > 1e-9 {
		t.Fatalf("expected ~0.5 after one half-life, got %f", got)
	}

	tr.Refresh(t0.Add(60 * time.Minute))
	got = tr.Vector()[1]
	if math.Abs(got-0.25) > 1e-9 {
		t.Fatalf("expected ~0.25 after two half-lives, got %f", got)
	}
}

func TestRefreshBackwardsNoOp(t *testing.T) {
	tr := NewTracker(2, DefaultConfig(), t0)
	tr.Record(0)
	tr.Refresh(t0.Add(-time.Hour))
	if tr.Vector()[0] != 1 {
		t.Fatalf("expected weight unchanged, got %f", tr.Vector()[0])
	}
}

func TestRecordOutOfRangePanics(t *testing.T) {
	tr := NewTracker(2, DefaultConfig(), t0)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for out-of-range action")
		}
	}()
	tr.Record(2)
}

func TestSteadyStateBound(t *testing.T) {
	// Reinforced once per half-life, the weight approaches 1/(1-0.5) = 2.
	tr := NewTracker(1, Config{HalfLife: time.Minute}, t0)
	now := t0
	for i := 0; i < 60; i++ {
		now = now.Add(time.Minute)
		tr.Refresh(now)
		tr.Record(0)
	}
	got := tr.Vector()[0]
	if got > 2.0+1e-9 {
		t.Fatalf("weight %f exceeds steady-state bound 2", got)
	}
	if got < 1.99 {
		t.Fatalf("expected weight near 2, got %f", got)
	}
}

func TestContextLayout(t *testing.T) {
	tr := NewTracker(2, DefaultConfig(), t0)
	tr.Record(1)
	ctx, snap := tr.Context([]float64{0.3, 0.7, 1}, t0)
	if len(ctx) != 5 {
		t.Fatalf("expected dimension 5, got %d", len(ctx))
	}
	if ctx[0] != 0.3 || ctx[2] != 1 || ctx[4] != 1 {
		t.Errorf("unexpected context %v", ctx)
	}
	snap[1] = 99
	if tr.Vector()[1] != 1 {
		t.Error("snapshot must be a copy")
	}
}
