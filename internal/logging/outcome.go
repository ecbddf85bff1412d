package logging

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// #region log-outcome
// LogOutcome writes a dispatch outcome to the dispatch_log table.
func LogOutcome(ctx context.Context, db *sql.DB, entry OutcomeEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	var action interface{}
	if entry.Action >= 0 {
		action = entry.Action
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO dispatch_log (recipient, stage, reason, action, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		nullIfEmpty(entry.Recipient),
		entry.Stage,
		nullIfEmpty(entry.Reason),
		action,
		entry.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log outcome: %w", err)
	}
	return nil
}

// RecentOutcomes returns up to limit dispatch_log rows, newest first.
func RecentOutcomes(ctx context.Context, db *sql.DB, limit int) ([]OutcomeEntry, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT recipient, stage, reason, action, created_at
		 FROM dispatch_log ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	var out []OutcomeEntry
	for rows.Next() {
		var (
			recipient, reason sql.NullString
			action            sql.NullInt64
			e                 OutcomeEntry
			createdAt         string
		)
		if err := rows.Scan(&recipient, &e.Stage, &reason, &action, &createdAt); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		e.Recipient = recipient.String
		e.Reason = reason.String
		e.Action = -1
		if action.Valid {
			e.Action = int(action.Int64)
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// #endregion log-outcome

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
