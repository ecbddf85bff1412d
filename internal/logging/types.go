package logging

import "time"

// #region outcome-entry
// OutcomeEntry is a single row in the dispatch_log table: how far one event
// got through the dispatch pipeline and why it stopped.
type OutcomeEntry struct {
	Recipient string
	Stage     string // last stage reached, e.g. "cooldown", "learn"
	Reason    string
	Action    int // -1 when no action was chosen
	CreatedAt time.Time
}

// #endregion outcome-entry
