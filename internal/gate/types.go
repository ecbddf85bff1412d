package gate

import "time"

// #region reject-type
// RejectType enumerates why an event was not admitted.
type RejectType string

const (
	RejectNone     RejectType = ""
	RejectCooldown RejectType = "cooldown"
	RejectQuota    RejectType = "quota"
	RejectWindow   RejectType = "window"
)

// #endregion reject-type

// #region gate-config
// Config holds the time-of-day window. Offsets are measured from local
// midnight and compared at minute precision.
type Config struct {
	Morning time.Duration // earliest send time, inclusive
	Evening time.Duration // latest send time, inclusive
}

// DefaultConfig allows sends between 10:00 and 23:00.
func DefaultConfig() Config {
	return Config{
		Morning: 10 * time.Hour,
		Evening: 23 * time.Hour,
	}
}

// #endregion gate-config

// #region decision
// Decision is the output of a gate check.
type Decision struct {
	Allowed bool
	Reject  RejectType
	Reason  string
}

// #endregion decision
