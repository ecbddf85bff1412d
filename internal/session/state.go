package session

import (
	"sync"
	"time"
)

// #region limits

// Limits are the live, user-adjustable dispatch limits.
type Limits struct {
	Cooldown time.Duration `yaml:"cooldown" json:"cooldown"`
	MaxDaily int           `yaml:"max_daily" json:"max_daily"`
}

// DefaultLimits returns a 5 minute cooldown and four messages a day.
func DefaultLimits() Limits {
	return Limits{Cooldown: 5 * time.Minute, MaxDaily: 4}
}

// Floors for the weekly preference adjustments.
const (
	CooldownStep = 5 * time.Minute
	MinCooldown  = 5 * time.Minute
	MinMaxDaily  = 1
)

// #endregion limits

// #region state

// State is the controller's per-user session: cooldown clock, daily quota
// counter and the day's helpfulness answers per category. Every method is
// safe for concurrent use.
type State struct {
	mu         sync.Mutex
	limits     Limits
	lastAction time.Time
	sentToday  int
	day        string
	history    map[string][]float64
}

// New creates a session whose cooldown is already satisfied.
func New(limits Limits) *State {
	return &State{
		limits:  limits,
		history: make(map[string][]float64),
	}
}

// Snapshot is a read-only copy of the session.
type Snapshot struct {
	LastAction time.Time            `json:"last_action"`
	SentToday  int                  `json:"sent_today"`
	Day        string               `json:"day"`
	Limits     Limits               `json:"limits"`
	History    map[string][]float64 `json:"history"`
}

// Snapshot copies the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		LastAction: s.lastAction,
		SentToday:  s.sentToday,
		Day:        s.day,
		Limits:     s.limits,
		History:    copyHistory(s.history),
	}
}

// #endregion state

// #region cooldown

// LastAction returns the time of the last committed decision.
func (s *State) LastAction() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAction
}

// CommitAction starts a new cooldown period at now.
func (s *State) CommitAction(now time.Time) {
	s.mu.Lock()
	s.lastAction = now
	s.mu.Unlock()
}

// Limits returns the live limits.
func (s *State) Limits() Limits {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.limits
}

// #endregion cooldown

// #region quota

// SentToday returns the number of recommendations sent on now's day.
func (s *State) SentToday(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollLocked(now)
	return s.sentToday
}

// ReserveSend takes one quota slot for now's day. It reports false, and takes
// nothing, when the quota is already used up.
func (s *State) ReserveSend(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollLocked(now)
	if s.sentToday >= s.limits.MaxDaily {
		return false
	}
	s.sentToday++
	return true
}

// ResetDaily clears the counter and category history.
func (s *State) ResetDaily() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sentToday = 0
	s.history = make(map[string][]float64)
}

// Roll resets the daily send counter when now falls on a new day. Category
// history survives the roll; only TakeCategoryHistory and ResetDaily clear it.
func (s *State) Roll(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollLocked(now)
}

func (s *State) rollLocked(now time.Time) {
	day := now.Format(time.DateOnly)
	if day == s.day {
		return
	}
	s.day = day
	s.sentToday = 0
}

// #endregion quota

// #region history

// RecordHelpfulness appends an answer to the category's history until the
// next take.
func (s *State) RecordHelpfulness(category string, answer float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[category] = append(s.history[category], answer)
}

// CategoryHistory returns a copy of the helpfulness answers since the last take.
func (s *State) CategoryHistory() map[string][]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyHistory(s.history)
}

// TakeCategoryHistory returns the answers gathered since the last take and
// clears them. The morning scheduler calls it after the overnight date roll.
func (s *State) TakeCategoryHistory() map[string][]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.history
	s.history = make(map[string][]float64)
	return out
}

func copyHistory(h map[string][]float64) map[string][]float64 {
	out := make(map[string][]float64, len(h))
	for k, v := range h {
		out[k] = append([]float64(nil), v...)
	}
	return out
}

// #endregion history

// #region adjust

// AdjustMaxDaily changes the daily quota by delta, never below MinMaxDaily.
func (s *State) AdjustMaxDaily(delta int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limits.MaxDaily = max(s.limits.MaxDaily+delta, MinMaxDaily)
	return s.limits.MaxDaily
}

// AdjustCooldown changes the cooldown by delta, never below MinCooldown.
func (s *State) AdjustCooldown(delta time.Duration) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limits.Cooldown = max(s.limits.Cooldown+delta, MinCooldown)
	return s.limits.Cooldown
}

// #endregion adjust
