package channel

import (
	"context"
	"errors"
	"time"
)

// #region errors

var (
	// ErrUnknownRequest means a correlation id that was never issued.
	ErrUnknownRequest = errors.New("channel: unknown correlation id")
	// ErrAlreadyAnswered means a second response to the same request.
	ErrAlreadyAnswered = errors.New("channel: request already answered")
)

// #endregion errors

// #region answer

// SkipCode is the wire value the survey app reports for a skipped question.
const SkipCode = -1.0

// Answer is one response to a survey request.
type Answer struct {
	Value   float64 `json:"value"`
	Skipped bool    `json:"skipped"`
}

// Code folds a skipped answer into SkipCode.
func (a Answer) Code() float64 {
	if a.Skipped {
		return SkipCode
	}
	return a.Value
}

// #endregion answer

// #region channel

// Channel delivers survey messages to a recipient and collects the answers.
type Channel interface {
	// Send delivers message and returns its correlation id. answers lists the
	// codes the recipient may pick; empty means free-form.
	Send(ctx context.Context, message, recipient string, answers []float64) (string, error)
	// Poll waits up to timeout for an answer. ok is false when none arrived.
	Poll(ctx context.Context, correlationID string, timeout time.Duration) (answer Answer, ok bool, err error)
}

// Request is a delivered message as seen by the survey app.
type Request struct {
	CorrelationID string    `json:"correlation_id"`
	Recipient     string    `json:"recipient"`
	Message       string    `json:"message"`
	Answers       []float64 `json:"answers"`
	CreatedAt     time.Time `json:"created_at"`
	Answered      bool      `json:"answered"`
}

// #endregion channel
