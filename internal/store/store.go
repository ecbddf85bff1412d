package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/danielpatrickdp/nudge-controller/internal/bandit"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS decision_records (
	id            TEXT PRIMARY KEY,
	recipient     TEXT NOT NULL,
	event_vct     TEXT NOT NULL,
	stats_vct     TEXT NOT NULL,
	action        INTEGER NOT NULL,
	action_label  TEXT,
	reward        REAL NOT NULL,
	scores_json   TEXT,
	source        TEXT,
	created_at    TEXT NOT NULL,
	uploaded      INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_decision_records_created ON decision_records(created_at);

CREATE TABLE IF NOT EXISTS model_snapshots (
	client_id     INTEGER PRIMARY KEY,
	snapshot_json TEXT NOT NULL,
	updated_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS dispatch_log (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	recipient     TEXT,
	stage         TEXT NOT NULL,
	reason        TEXT,
	action        INTEGER,
	created_at    TEXT NOT NULL
);
`

// #endregion schema

// #region store-struct
// Store persists decision records and model snapshots in SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// #endregion constructor

// #region close
// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use by other packages (e.g. logging).
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion close

// #region save-decision
// SaveDecision appends rec. An empty ID or zero CreatedAt is filled in.
func (s *Store) SaveDecision(ctx context.Context, rec DecisionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}

	eventJSON, err := json.Marshal(orEmpty(rec.EventVector))
	if err != nil {
		return fmt.Errorf("marshal event vector: %w", err)
	}
	statsJSON, err := json.Marshal(orEmpty(rec.StatsVector))
	if err != nil {
		return fmt.Errorf("marshal stats vector: %w", err)
	}
	var scoresJSON interface{}
	if rec.Scores != nil {
		b, err := json.Marshal(rec.Scores)
		if err != nil {
			return fmt.Errorf("marshal scores: %w", err)
		}
		scoresJSON = string(b)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO decision_records (id, recipient, event_vct, stats_vct, action, action_label, reward, scores_json, source, created_at, uploaded)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Recipient, string(eventJSON), string(statsJSON), rec.Action,
		nullIfEmpty(rec.ActionLabel), rec.Reward, scoresJSON, nullIfEmpty(rec.Source),
		rec.CreatedAt.UTC().Format(timeFormat), boolInt(rec.Uploaded),
	)
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

// #endregion save-decision

// #region list-decisions
// ListDecisions returns the most recent records, newest first.
func (s *Store) ListDecisions(ctx context.Context, limit int) ([]DecisionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, recipient, event_vct, stats_vct, action, action_label, reward, scores_json, source, created_at, uploaded
		 FROM decision_records ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	return scanDecisions(rows)
}

// DecisionsSince returns every record created at or after since, oldest first.
func (s *Store) DecisionsSince(ctx context.Context, since time.Time) ([]DecisionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, recipient, event_vct, stats_vct, action, action_label, reward, scores_json, source, created_at, uploaded
		 FROM decision_records WHERE created_at >= ? ORDER BY created_at ASC`,
		since.UTC().Format(timeFormat),
	)
	if err != nil {
		return nil, fmt.Errorf("decisions since: %w", err)
	}
	return scanDecisions(rows)
}

// MarkUploaded flags records as shipped to the research backend.
func (s *Store) MarkUploaded(ctx context.Context, ids ...string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `UPDATE decision_records SET uploaded = 1 WHERE id = ?`, id); err != nil {
			return fmt.Errorf("mark uploaded %s: %w", id, err)
		}
	}
	return tx.Commit()
}

func scanDecisions(rows *sql.Rows) ([]DecisionRecord, error) {
	defer rows.Close()

	var records []DecisionRecord
	for rows.Next() {
		var rec DecisionRecord
		var eventJSON, statsJSON, createdStr string
		var label, scoresJSON, source sql.NullString
		var uploaded int

		if err := rows.Scan(&rec.ID, &rec.Recipient, &eventJSON, &statsJSON, &rec.Action, &label,
			&rec.Reward, &scoresJSON, &source, &createdStr, &uploaded); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if err := json.Unmarshal([]byte(eventJSON), &rec.EventVector); err != nil {
			return nil, fmt.Errorf("unmarshal event vector: %w", err)
		}
		if err := json.Unmarshal([]byte(statsJSON), &rec.StatsVector); err != nil {
			return nil, fmt.Errorf("unmarshal stats vector: %w", err)
		}
		if scoresJSON.Valid {
			if err := json.Unmarshal([]byte(scoresJSON.String), &rec.Scores); err != nil {
				return nil, fmt.Errorf("unmarshal scores: %w", err)
			}
		}
		rec.ActionLabel = label.String
		rec.Source = source.String
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		rec.Uploaded = uploaded != 0
		records = append(records, rec)
	}
	return records, rows.Err()
}

// #endregion list-decisions

// #region model-snapshots
// LoadModel returns the stored snapshot for clientID, if any.
func (s *Store) LoadModel(ctx context.Context, clientID int) (bandit.Snapshot, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT snapshot_json FROM model_snapshots WHERE client_id = ?`, clientID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return bandit.Snapshot{}, false, nil
	}
	if err != nil {
		return bandit.Snapshot{}, false, fmt.Errorf("load model %d: %w", clientID, err)
	}
	var snap bandit.Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return bandit.Snapshot{}, false, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snap, true, nil
}

// SaveModel upserts the snapshot for clientID.
func (s *Store) SaveModel(ctx context.Context, clientID int, snap bandit.Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO model_snapshots (client_id, snapshot_json, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(client_id) DO UPDATE SET snapshot_json = excluded.snapshot_json, updated_at = excluded.updated_at`,
		clientID, string(raw), s.now().UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("save model %d: %w", clientID, err)
	}
	return nil
}

// #endregion model-snapshots

// #region helpers

// timeFormat is fixed width so created_at sorts lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func orEmpty(v []float64) []float64 {
	if v == nil {
		return []float64{}
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// #endregion helpers
