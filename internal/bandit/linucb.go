package bandit

import (
	"context"
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/mat"
)

// #region linucb

// LinUCB is a disjoint linear UCB bandit. Each arm a keeps M_a (D×D, SPD)
// and v_a (D); the arm estimate is θ_a = M_a⁻¹v_a. Safe for concurrent use.
type LinUCB struct {
	mu     sync.RWMutex
	dim    int
	alpha  float64
	lambda float64
	m      []*mat.SymDense
	v      []*mat.VecDense
}

// NewLinUCB creates a model with dim features and arms actions.
func NewLinUCB(dim, arms int, cfg Config) (*LinUCB, error) {
	if arms <= 0 {
		return nil, ErrNoDecision
	}
	if dim <= 0 {
		return nil, fmt.Errorf("%w: dimension %d", ErrDimension, dim)
	}
	if cfg.Lambda <= 0 {
		return nil, fmt.Errorf("bandit: lambda must be positive, got %v", cfg.Lambda)
	}
	if cfg.Alpha < 0 {
		return nil, fmt.Errorf("bandit: alpha must be non-negative, got %v", cfg.Alpha)
	}
	l := &LinUCB{
		dim:    dim,
		alpha:  cfg.Alpha,
		lambda: cfg.Lambda,
		m:      make([]*mat.SymDense, arms),
		v:      make([]*mat.VecDense, arms),
	}
	for a := 0; a < arms; a++ {
		l.m[a] = scaledIdentity(dim, cfg.Lambda)
		l.v[a] = mat.NewVecDense(dim, nil)
	}
	return l, nil
}

func scaledIdentity(n int, lambda float64) *mat.SymDense {
	m := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		m.SetSym(i, i, lambda)
	}
	return m
}

// Dim returns the context dimension D.
func (l *LinUCB) Dim() int { return l.dim }

// Arms returns the number of actions A.
func (l *LinUCB) Arms() int { return len(l.m) }

// #endregion linucb

// #region act

// Act scores every arm with x·θ_a + α·sqrt(x·M_a⁻¹·x) and returns the best.
// Ties go to the lowest index.
func (l *LinUCB) Act(_ context.Context, x []float64) (Decision, error) {
	if len(x) != l.dim {
		return Decision{}, fmt.Errorf("%w: got %d, want %d", ErrDimension, len(x), l.dim)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	xv := mat.NewVecDense(l.dim, append([]float64(nil), x...))
	scores := make([]float64, len(l.m))
	best := -1
	for a := range l.m {
		s, err := l.score(a, xv)
		if err != nil {
			return Decision{}, err
		}
		scores[a] = s
		if best < 0 || s > scores[best] {
			best = a
		}
	}
	if best < 0 {
		return Decision{}, ErrNoDecision
	}
	return Decision{Action: best, Scores: scores, Source: SourceLocal}, nil
}

// score solves against the Cholesky factor of M_a instead of inverting it.
func (l *LinUCB) score(a int, xv *mat.VecDense) (float64, error) {
	var chol mat.Cholesky
	if ok := chol.Factorize(l.m[a]); !ok {
		return 0, fmt.Errorf("bandit: arm %d accumulator is not positive definite", a)
	}

	var theta mat.VecDense
	if err := chol.SolveVecTo(&theta, l.v[a]); err != nil {
		return 0, fmt.Errorf("bandit: solve theta for arm %d: %w", a, err)
	}
	var mx mat.VecDense
	if err := chol.SolveVecTo(&mx, xv); err != nil {
		return 0, fmt.Errorf("bandit: solve bonus for arm %d: %w", a, err)
	}

	mean := mat.Dot(xv, &theta)
	variance := mat.Dot(xv, &mx)
	if variance < 0 {
		variance = 0
	}
	return mean + l.alpha*math.Sqrt(variance), nil
}

// #endregion act

// #region update

// Update applies M_a += x xᵀ and v_a += r·x to the chosen arm only.
func (l *LinUCB) Update(_ context.Context, x []float64, action int, reward float64) error {
	if len(x) != l.dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimension, len(x), l.dim)
	}
	if action < 0 || action >= len(l.m) {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrActionRange, action, len(l.m))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	xv := mat.NewVecDense(l.dim, append([]float64(nil), x...))
	l.m[action].SymRankOne(l.m[action], 1, xv)
	l.v[action].AddScaledVec(l.v[action], reward, xv)
	return nil
}

// Reset restores every arm to its initial state.
func (l *LinUCB) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for a := range l.m {
		l.m[a] = scaledIdentity(l.dim, l.lambda)
		l.v[a] = mat.NewVecDense(l.dim, nil)
	}
}

// #endregion update

// #region snapshot

// Snapshot is a serializable copy of the accumulators. M holds each arm's
// matrix in row-major order.
type Snapshot struct {
	Dim    int         `json:"dim"`
	Arms   int         `json:"arms"`
	Alpha  float64     `json:"alpha"`
	Lambda float64     `json:"lambda"`
	M      [][]float64 `json:"m"`
	V      [][]float64 `json:"v"`
}

// Snapshot copies the current state.
func (l *LinUCB) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	snap := Snapshot{
		Dim:    l.dim,
		Arms:   len(l.m),
		Alpha:  l.alpha,
		Lambda: l.lambda,
		M:      make([][]float64, len(l.m)),
		V:      make([][]float64, len(l.m)),
	}
	for a := range l.m {
		rows := make([]float64, l.dim*l.dim)
		for i := 0; i < l.dim; i++ {
			for j := 0; j < l.dim; j++ {
				rows[i*l.dim+j] = l.m[a].At(i, j)
			}
		}
		snap.M[a] = rows
		snap.V[a] = mat.Col(nil, 0, l.v[a])
	}
	return snap
}

// Restore replaces the accumulators with snap. Dimensions must match.
func (l *LinUCB) Restore(snap Snapshot) error {
	if snap.Dim != l.dim || snap.Arms != len(l.m) || len(snap.M) != snap.Arms || len(snap.V) != snap.Arms {
		return fmt.Errorf("%w: snapshot %dx%d, model %dx%d", ErrDimension, snap.Dim, snap.Arms, l.dim, len(l.m))
	}
	m := make([]*mat.SymDense, snap.Arms)
	v := make([]*mat.VecDense, snap.Arms)
	for a := 0; a < snap.Arms; a++ {
		if len(snap.M[a]) != l.dim*l.dim || len(snap.V[a]) != l.dim {
			return fmt.Errorf("%w: arm %d", ErrDimension, a)
		}
		m[a] = mat.NewSymDense(l.dim, append([]float64(nil), snap.M[a]...))
		var chol mat.Cholesky
		if !chol.Factorize(m[a]) {
			return fmt.Errorf("bandit: snapshot arm %d is not positive definite", a)
		}
		v[a] = mat.NewVecDense(l.dim, append([]float64(nil), snap.V[a]...))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.m, l.v = m, v
	return nil
}

// #endregion snapshot
