package simulate

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// DefaultNoiseScale is the standard deviation of reward noise.
const DefaultNoiseScale = 0.5

// Scenario is a linear environment: each arm has a hidden weight vector drawn
// from N(0, 1) and pays wᵀx plus Gaussian noise.
type Scenario struct {
	dim, arms int
	weight    *mat.Dense
	ctx       *mat.VecDense
	noise     float64
	rng       *rand.Rand
}

// NewScenario draws the hidden weights from a seeded source.
func NewScenario(dim, arms int, noiseScale float64, seed uint64) *Scenario {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	w := make([]float64, arms*dim)
	for i := range w {
		w[i] = rng.NormFloat64()
	}
	return &Scenario{
		dim:    dim,
		arms:   arms,
		weight: mat.NewDense(arms, dim, w),
		noise:  noiseScale,
		rng:    rng,
	}
}

// Dim returns the context size.
func (s *Scenario) Dim() int { return s.dim }

// Arms returns the number of choices.
func (s *Scenario) Arms() int { return s.arms }

// NextContext draws a fresh context and returns a copy of it.
func (s *Scenario) NextContext() []float64 {
	x := make([]float64, s.dim)
	for i := range x {
		x[i] = s.rng.NormFloat64()
	}
	s.ctx = mat.NewVecDense(s.dim, x)
	return append([]float64(nil), x...)
}

// Reward pays out choice on the current context.
func (s *Scenario) Reward(choice int) float64 {
	return mat.Dot(s.weight.RowView(choice), s.ctx) + s.sampleNoise()
}

// Insight draws a noisy payout for every arm and returns the chosen arm's
// payout together with its regret against the best one.
func (s *Scenario) Insight(choice int) (reward, regret float64) {
	truth := mat.NewVecDense(s.arms, nil)
	truth.MulVec(s.weight, s.ctx)
	raw := truth.RawVector().Data
	for i := range raw {
		raw[i] += s.sampleNoise()
	}
	reward = raw[choice]
	return reward, floats.Max(raw) - reward
}

func (s *Scenario) sampleNoise() float64 {
	return s.rng.NormFloat64() * s.noise
}

// intN picks a uniformly random arm for the training phase.
func (s *Scenario) intN(n int) int {
	return s.rng.IntN(n)
}
