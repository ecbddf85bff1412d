package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/danielpatrickdp/nudge-controller/internal/bandit"
	"github.com/danielpatrickdp/nudge-controller/internal/logging"
)

func tempDB(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := NewStore(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func record(at time.Time, action int, reward float64) DecisionRecord {
	return DecisionRecord{
		Recipient:   "1",
		EventVector: []float64{0.5, 1},
		StatsVector: []float64{0, 1, 0},
		Action:      action,
		ActionLabel: "timeout:1",
		Reward:      reward,
		Scores:      []float64{0.1, 0.9, 0.2},
		Source:      bandit.SourceLocal,
		CreatedAt:   at,
	}
}

func TestSaveAndListDecisions(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if err := s.SaveDecision(ctx, record(base.Add(time.Duration(i)*time.Second), i, float64(i%2))); err != nil {
			t.Fatalf("SaveDecision: %v", err)
		}
	}

	recs, err := s.ListDecisions(ctx, 2)
	if err != nil {
		t.Fatalf("ListDecisions: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].Action != 2 || recs[1].Action != 1 {
		t.Fatalf("expected newest first, got actions %d,%d", recs[0].Action, recs[1].Action)
	}
	got := recs[0]
	if got.ID == "" {
		t.Fatal("expected generated id")
	}
	if len(got.Scores) != 3 || got.Scores[1] != 0.9 {
		t.Fatalf("scores round trip: %v", got.Scores)
	}
	if got.Source != bandit.SourceLocal || got.ActionLabel != "timeout:1" {
		t.Fatalf("unexpected record %+v", got)
	}
	if !got.CreatedAt.Equal(base.Add(2 * time.Second)) {
		t.Fatalf("created_at = %v", got.CreatedAt)
	}
	if ctxVec := got.Context(); len(ctxVec) != 5 || ctxVec[3] != 1 {
		t.Fatalf("Context() = %v", ctxVec)
	}
}

func TestDecisionsSinceOrdering(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

	// Sub-second and whole-second timestamps must still sort correctly.
	s.SaveDecision(ctx, record(base.Add(1500*time.Millisecond), 2, 1))
	s.SaveDecision(ctx, record(base.Add(time.Second), 1, 0))
	s.SaveDecision(ctx, record(base, 0, 1))

	recs, err := s.DecisionsSince(ctx, base.Add(time.Second))
	if err != nil {
		t.Fatalf("DecisionsSince: %v", err)
	}
	if len(recs) != 2 || recs[0].Action != 1 || recs[1].Action != 2 {
		t.Fatalf("unexpected order: %+v", recs)
	}
}

func TestMarkUploaded(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()
	rec := record(time.Now(), 0, 1)
	rec.ID = "fixed-id"
	if err := s.SaveDecision(ctx, rec); err != nil {
		t.Fatalf("SaveDecision: %v", err)
	}
	if err := s.MarkUploaded(ctx, "fixed-id"); err != nil {
		t.Fatalf("MarkUploaded: %v", err)
	}
	recs, _ := s.ListDecisions(ctx, 1)
	if !recs[0].Uploaded {
		t.Fatal("expected uploaded flag")
	}
}

func TestDuplicateIDRejected(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()
	rec := record(time.Now(), 0, 1)
	rec.ID = "dup"
	if err := s.SaveDecision(ctx, rec); err != nil {
		t.Fatalf("SaveDecision: %v", err)
	}
	if err := s.SaveDecision(ctx, rec); err == nil {
		t.Fatal("expected error for duplicate id")
	}
}

func TestModelSnapshots(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()

	if _, found, err := s.LoadModel(ctx, 1); err != nil || found {
		t.Fatalf("LoadModel on empty store: found=%v err=%v", found, err)
	}

	m, err := bandit.NewLinUCB(2, 2, bandit.DefaultConfig())
	if err != nil {
		t.Fatalf("NewLinUCB: %v", err)
	}
	m.Update(ctx, []float64{1, 0}, 1, 1)
	if err := s.SaveModel(ctx, 1, m.Snapshot()); err != nil {
		t.Fatalf("SaveModel: %v", err)
	}
	m.Update(ctx, []float64{0, 1}, 0, 1)
	if err := s.SaveModel(ctx, 1, m.Snapshot()); err != nil {
		t.Fatalf("SaveModel upsert: %v", err)
	}

	snap, found, err := s.LoadModel(ctx, 1)
	if err != nil || !found {
		t.Fatalf("LoadModel: found=%v err=%v", found, err)
	}
	restored, _ := bandit.NewLinUCB(2, 2, bandit.DefaultConfig())
	if err := restored.Restore(snap); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	a, _ := m.Act(ctx, []float64{1, 1})
	b, _ := restored.Act(ctx, []float64{1, 1})
	if a.Action != b.Action || a.Scores[0] != b.Scores[0] || a.Scores[1] != b.Scores[1] {
		t.Fatalf("restored model differs: %+v vs %+v", a, b)
	}
}

func TestDispatchLogTable(t *testing.T) {
	s := tempDB(t)
	err := logging.LogOutcome(context.Background(), s.DB(), logging.OutcomeEntry{Stage: "quota", Action: 3})
	if err != nil {
		t.Fatalf("LogOutcome: %v", err)
	}
	var n int
	s.DB().QueryRow("SELECT COUNT(*) FROM dispatch_log").Scan(&n)
	if n != 1 {
		t.Fatalf("expected 1 dispatch_log row, got %d", n)
	}
}
