package bandit

import (
	"context"
	"errors"
)

// #region errors

var (
	// ErrNoDecision means the model has no arms to choose from.
	ErrNoDecision = errors.New("bandit: no decision (empty action set)")
	// ErrDimension means a context vector has the wrong length.
	ErrDimension = errors.New("bandit: context dimension mismatch")
	// ErrActionRange means an action index outside [0, arms).
	ErrActionRange = errors.New("bandit: action out of range")
)

// #endregion errors

// #region decision

// Source values recorded on a Decision.
const (
	SourceLocal  = "local"
	SourceRemote = "remote"
)

// Decision is the result of Act: the chosen arm plus the score of every arm.
type Decision struct {
	Action int
	Scores []float64
	Source string // SourceLocal | SourceRemote; empty when the caller does not track it
}

// #endregion decision

// #region model

// Model is the capability shared by the local learner, the remote adapter and
// the failover blender.
type Model interface {
	Act(ctx context.Context, x []float64) (Decision, error)
	Update(ctx context.Context, x []float64, action int, reward float64) error
}

// #endregion model

// #region config

// Config holds LinUCB hyperparameters.
type Config struct {
	Alpha  float64 `yaml:"alpha"`  // exploration constant
	Lambda float64 `yaml:"lambda"` // ridge regularization, M starts as Lambda*I
}

// DefaultConfig returns the deployment values.
func DefaultConfig() Config {
	return Config{
		Alpha:  3.0,
		Lambda: 1.0,
	}
}

// #endregion config
