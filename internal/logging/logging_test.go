package logging

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

// #region helpers
func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	_, err = db.Exec(`CREATE TABLE dispatch_log (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		recipient  TEXT,
		stage      TEXT NOT NULL,
		reason     TEXT,
		action     INTEGER,
		created_at TEXT NOT NULL
	)`)
	if err != nil {
		t.Fatalf("create table: %v", err)
	}
	return db
}

// #endregion helpers

// #region log-outcome-tests
func TestLogOutcome_Success(t *testing.T) {
	db := setupDB(t)
	defer db.Close()

	entry := OutcomeEntry{
		Recipient: "1",
		Stage:     "learn",
		Reason:    "reward 1",
		Action:    4,
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := LogOutcome(context.Background(), db, entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var stage, created string
	var action sql.NullInt64
	if err := db.QueryRow("SELECT stage, action, created_at FROM dispatch_log").Scan(&stage, &action, &created); err != nil {
		t.Fatalf("query: %v", err)
	}
	if stage != "learn" || !action.Valid || action.Int64 != 4 {
		t.Errorf("unexpected row stage=%s action=%v", stage, action)
	}
	if created != "2026-01-01T00:00:00Z" {
		t.Errorf("created_at = %s", created)
	}
}

func TestLogOutcome_NullsWithoutAction(t *testing.T) {
	db := setupDB(t)
	defer db.Close()

	if err := LogOutcome(context.Background(), db, OutcomeEntry{Stage: "cooldown", Action: -1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var recipient, reason sql.NullString
	var action sql.NullInt64
	var created string
	if err := db.QueryRow("SELECT recipient, reason, action, created_at FROM dispatch_log").Scan(&recipient, &reason, &action, &created); err != nil {
		t.Fatalf("query: %v", err)
	}
	if recipient.Valid || reason.Valid || action.Valid {
		t.Errorf("expected NULLs, got %v %v %v", recipient, reason, action)
	}
	if created == "" {
		t.Error("expected created_at to be filled")
	}
}

func TestLogOutcome_ClosedDB(t *testing.T) {
	db := setupDB(t)
	db.Close()

	if err := LogOutcome(context.Background(), db, OutcomeEntry{Stage: "x", Action: -1}); err == nil {
		t.Fatal("expected error on closed db")
	}
}

func TestRecentOutcomes_NewestFirst(t *testing.T) {
	db := setupDB(t)
	defer db.Close()

	ctx := context.Background()
	for _, e := range []OutcomeEntry{
		{Recipient: "1", Stage: "cooldown", Action: -1},
		{Recipient: "1", Stage: "learn", Reason: "reward 1", Action: 2},
		{Recipient: "1", Stage: "window", Action: 3},
	} {
		if err := LogOutcome(ctx, db, e); err != nil {
			t.Fatalf("LogOutcome: %v", err)
		}
	}

	got, err := RecentOutcomes(ctx, db, 2)
	if err != nil {
		t.Fatalf("RecentOutcomes: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(got))
	}
	if got[0].Stage != "window" || got[1].Stage != "learn" {
		t.Errorf("unexpected order: %s, %s", got[0].Stage, got[1].Stage)
	}
	if got[1].Action != 2 || got[1].Reason != "reward 1" {
		t.Errorf("unexpected row %+v", got[1])
	}

	all, err := RecentOutcomes(ctx, db, 10)
	if err != nil {
		t.Fatalf("RecentOutcomes: %v", err)
	}
	if all[2].Action != -1 || all[2].CreatedAt.IsZero() {
		t.Errorf("expected null action as -1 and parsed time, got %+v", all[2])
	}
}

// #endregion log-outcome-tests

// #region logger-tests
func TestNewModes(t *testing.T) {
	for _, mode := range []string{"production", "development", "nop", ""} {
		log, err := New(mode)
		if err != nil {
			t.Fatalf("New(%q): %v", mode, err)
		}
		log.Debug("hello")
	}
}

// #endregion logger-tests
