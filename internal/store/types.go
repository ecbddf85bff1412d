package store

import "time"

// #region decision-record
// DecisionRecord is one completed recommendation cycle: the context the model
// saw, the action it chose, the scores of every action and the reward that
// came back. Records are append-only.
type DecisionRecord struct {
	ID          string    `json:"id"`
	Recipient   string    `json:"recipient"`
	EventVector []float64 `json:"event_vct"`
	StatsVector []float64 `json:"stats_vct"`
	Action      int       `json:"action"`
	ActionLabel string    `json:"action_label"`
	Reward      float64   `json:"reward"`
	Scores      []float64 `json:"scores"`
	Source      string    `json:"source"` // "remote" | "local"
	CreatedAt   time.Time `json:"created_at"`
	Uploaded    bool      `json:"uploaded"`
}

// Context returns the full context vector: event features then stats.
func (r DecisionRecord) Context() []float64 {
	out := make([]float64, 0, len(r.EventVector)+len(r.StatsVector))
	out = append(out, r.EventVector...)
	return append(out, r.StatsVector...)
}

// #endregion decision-record
