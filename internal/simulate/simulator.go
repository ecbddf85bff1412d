package simulate

import (
	"context"
	"fmt"

	"github.com/danielpatrickdp/nudge-controller/internal/bandit"
	"go.uber.org/zap"
)

// DefaultSaveEvery is how often accumulated regret is sampled.
const DefaultSaveEvery = 500

// Config controls one simulation run.
type Config struct {
	Train     int // iterations with uniformly random choices
	Test      int // iterations where the model chooses
	SaveEvery int
}

// Result is the regret curve of a run. Regrets starts at zero and gains one
// sample every SaveEvery test iterations.
type Result struct {
	Regrets     []float64
	TotalRegret float64
	MeanReward  float64
	Steps       int
}

// Simulator drives a model through a scenario.
type Simulator struct {
	scenario *Scenario
	cfg      Config
	log      *zap.Logger
}

// NewSimulator creates a simulator. A nil log disables progress logging.
func NewSimulator(scenario *Scenario, cfg Config, log *zap.Logger) *Simulator {
	if cfg.SaveEvery <= 0 {
		cfg.SaveEvery = DefaultSaveEvery
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Simulator{scenario: scenario, cfg: cfg, log: log}
}

// Train feeds the model random choices and their rewards.
func (s *Simulator) Train(ctx context.Context, model bandit.Model, iters int) error {
	for i := 0; i < iters; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		x := s.scenario.NextContext()
		choice := s.scenario.intN(s.scenario.Arms())
		if err := model.Update(ctx, x, choice, s.scenario.Reward(choice)); err != nil {
			return fmt.Errorf("train step %d: %w", i, err)
		}
	}
	return nil
}

// Test lets the model choose, learn from the payout and accumulate regret.
func (s *Simulator) Test(ctx context.Context, model bandit.Model, iters int) (Result, error) {
	res := Result{Regrets: []float64{0}}
	var rewardSum float64

	for i := 0; i < iters; i++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		x := s.scenario.NextContext()
		d, err := model.Act(ctx, x)
		if err != nil {
			return res, fmt.Errorf("test step %d: %w", i, err)
		}
		reward, regret := s.scenario.Insight(d.Action)
		if err := model.Update(ctx, x, d.Action, reward); err != nil {
			return res, fmt.Errorf("test step %d: %w", i, err)
		}

		res.TotalRegret += regret
		rewardSum += reward
		res.Steps++
		if (i+1)%s.cfg.SaveEvery == 0 {
			res.Regrets = append(res.Regrets, res.TotalRegret)
			s.log.Debug("regret checkpoint", zap.Int("iter", i+1), zap.Float64("regret", res.TotalRegret))
		}
	}

	if res.Steps > 0 {
		res.MeanReward = rewardSum / float64(res.Steps)
	}
	return res, nil
}

// Run trains then tests.
func (s *Simulator) Run(ctx context.Context, model bandit.Model) (Result, error) {
	if s.cfg.Train > 0 {
		if err := s.Train(ctx, model, s.cfg.Train); err != nil {
			return Result{}, err
		}
	}
	res, err := s.Test(ctx, model, s.cfg.Test)
	if err != nil {
		return res, err
	}
	s.log.Info("simulation complete",
		zap.Int("train", s.cfg.Train),
		zap.Int("test", res.Steps),
		zap.Float64("total_regret", res.TotalRegret),
		zap.Float64("mean_reward", res.MeanReward),
	)
	return res, nil
}
