package channel

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS survey_requests (
	correlation_id TEXT PRIMARY KEY,
	recipient      TEXT NOT NULL,
	message        TEXT NOT NULL,
	answers_json   TEXT NOT NULL,
	created_at     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS survey_responses (
	correlation_id TEXT PRIMARY KEY,
	answer         REAL NOT NULL,
	skipped        INTEGER NOT NULL DEFAULT 0,
	answered_at    TEXT NOT NULL,
	FOREIGN KEY (correlation_id) REFERENCES survey_requests(correlation_id)
);

CREATE INDEX IF NOT EXISTS idx_survey_requests_recipient ON survey_requests(recipient, created_at);
`

// #endregion schema

// #region struct

// SQLite is a Channel backed by request/response tables that the survey app
// reads and writes.
type SQLite struct {
	db           *sql.DB
	pollInterval time.Duration
	now          func() time.Time
}

var _ Channel = (*SQLite)(nil)

// DefaultPollInterval is how often Poll re-reads the response table.
const DefaultPollInterval = time.Second

// NewSQLite opens (or creates) the channel database at dbPath.
func NewSQLite(dbPath string, pollInterval time.Duration) (*SQLite, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &SQLite{db: db, pollInterval: pollInterval, now: time.Now}, nil
}

// Close closes the underlying database connection.
func (c *SQLite) Close() error {
	return c.db.Close()
}

// #endregion struct

// #region send

// Send records a new request and returns its correlation id.
func (c *SQLite) Send(ctx context.Context, message, recipient string, answers []float64) (string, error) {
	if answers == nil {
		answers = []float64{}
	}
	answersJSON, err := json.Marshal(answers)
	if err != nil {
		return "", fmt.Errorf("marshal answers: %w", err)
	}
	id := uuid.New().String()
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO survey_requests (correlation_id, recipient, message, answers_json, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		id, recipient, message, string(answersJSON), c.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("insert request: %w", err)
	}
	return id, nil
}

// #endregion send

// #region poll

// Poll re-reads the response table every poll interval until an answer
// arrives, timeout elapses or ctx is cancelled.
func (c *SQLite) Poll(ctx context.Context, correlationID string, timeout time.Duration) (Answer, bool, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		a, ok, err := c.lookup(ctx, correlationID)
		if err != nil || ok {
			return a, ok, err
		}
		select {
		case <-ctx.Done():
			return Answer{}, false, ctx.Err()
		case <-deadline.C:
			return Answer{}, false, nil
		case <-ticker.C:
		}
	}
}

func (c *SQLite) lookup(ctx context.Context, correlationID string) (Answer, bool, error) {
	var a Answer
	var skipped int
	err := c.db.QueryRowContext(ctx,
		`SELECT answer, skipped FROM survey_responses WHERE correlation_id = ?`, correlationID,
	).Scan(&a.Value, &skipped)
	if errors.Is(err, sql.ErrNoRows) {
		return Answer{}, false, nil
	}
	if err != nil {
		return Answer{}, false, fmt.Errorf("query response: %w", err)
	}
	a.Skipped = skipped != 0
	return a, true, nil
}

// #endregion poll

// #region respond

// Respond stores the recipient's answer. Only the first answer counts.
func (c *SQLite) Respond(ctx context.Context, correlationID string, a Answer) error {
	var exists int
	err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM survey_requests WHERE correlation_id = ?`, correlationID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("query request: %w", err)
	}
	if exists == 0 {
		return ErrUnknownRequest
	}

	skipped := 0
	if a.Skipped {
		skipped = 1
	}
	res, err := c.db.ExecContext(ctx,
		`INSERT INTO survey_responses (correlation_id, answer, skipped, answered_at)
		 VALUES (?, ?, ?, ?) ON CONFLICT(correlation_id) DO NOTHING`,
		correlationID, a.Value, skipped, c.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert response: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAlreadyAnswered
	}
	return nil
}

// Pending lists unanswered requests for recipient, oldest first.
func (c *SQLite) Pending(ctx context.Context, recipient string) ([]Request, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT r.correlation_id, r.recipient, r.message, r.answers_json, r.created_at
		 FROM survey_requests r
		 LEFT JOIN survey_responses p ON p.correlation_id = r.correlation_id
		 WHERE r.recipient = ? AND p.correlation_id IS NULL
		 ORDER BY r.created_at ASC`,
		recipient,
	)
	if err != nil {
		return nil, fmt.Errorf("query pending: %w", err)
	}
	defer rows.Close()

	var out []Request
	for rows.Next() {
		var req Request
		var answersJSON, createdAt string
		if err := rows.Scan(&req.CorrelationID, &req.Recipient, &req.Message, &answersJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		if err := json.Unmarshal([]byte(answersJSON), &req.Answers); err != nil {
			return nil, fmt.Errorf("unmarshal answers: %w", err)
		}
		req.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, req)
	}
	return out, rows.Err()
}

// #endregion respond
