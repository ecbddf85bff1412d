package failover

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// #region policy

// ErrOpen is returned without contacting the remote while the circuit is open.
var ErrOpen = errors.New("failover: circuit open")

// Policy configures retries and the open-circuit window for remote calls.
type Policy struct {
	MaxAttempts     int           `yaml:"max_attempts"`     // total tries per call, minimum 1
	InitialInterval time.Duration `yaml:"initial_interval"` // first backoff between tries
	MaxInterval     time.Duration `yaml:"max_interval"`
	OpenFor         time.Duration `yaml:"open_for"` // skip the remote this long after a transport failure; 0 disables
}

// DefaultPolicy tries once and never opens the circuit.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     1,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}

// Classifier reports whether err is a transport-class failure worth retrying
// and masking.
type Classifier func(error) bool

// #endregion policy

// #region breaker

// Breaker carries the open-circuit state shared by every Call through it.
type Breaker struct {
	policy   Policy
	classify Classifier

	mu        sync.Mutex
	openUntil time.Time
	now       func() time.Time
}

// NewBreaker builds a breaker. classify must not be nil.
func NewBreaker(policy Policy, classify Classifier) *Breaker {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &Breaker{policy: policy, classify: classify, now: time.Now}
}

// IsTransport reports whether err should be treated as a link failure,
// including the breaker's own ErrOpen.
func (b *Breaker) IsTransport(err error) bool {
	return errors.Is(err, ErrOpen) || b.classify(err)
}

func (b *Breaker) isOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.now().Before(b.openUntil)
}

func (b *Breaker) trip() {
	if b.policy.OpenFor <= 0 {
		return
	}
	b.mu.Lock()
	b.openUntil = b.now().Add(b.policy.OpenFor)
	b.mu.Unlock()
}

func (b *Breaker) reset() {
	b.mu.Lock()
	b.openUntil = time.Time{}
	b.mu.Unlock()
}

func (b *Breaker) backOff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	if b.policy.InitialInterval > 0 {
		eb.InitialInterval = b.policy.InitialInterval
	}
	if b.policy.MaxInterval > 0 {
		eb.MaxInterval = b.policy.MaxInterval
	}
	return eb
}

// #endregion breaker

// #region call

// Call runs op under b's policy. Transport-class errors are retried up to
// MaxAttempts; any other error stops immediately and is returned unchanged.
// A transport failure after the last try opens the circuit for OpenFor.
func Call[T any](ctx context.Context, b *Breaker, op func(context.Context) (T, error)) (T, error) {
	var zero T
	if b.isOpen() {
		return zero, ErrOpen
	}

	res, err := backoff.Retry(ctx, func() (T, error) {
		v, err := op(ctx)
		if err != nil && !b.classify(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(b.backOff()),
		backoff.WithMaxTries(uint(b.policy.MaxAttempts)),
	)
	if err != nil {
		if b.classify(err) {
			b.trip()
		}
		return zero, err
	}
	b.reset()
	return res, nil
}

// #endregion call
