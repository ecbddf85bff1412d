package replay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danielpatrickdp/nudge-controller/internal/bandit"
	"github.com/danielpatrickdp/nudge-controller/internal/store"
	"go.uber.org/zap"
)

// #region types

// Result actions.
const (
	ActionLearn = "learn"
	ActionSkip  = "skip"
)

// Result captures what happened to one record during replay.
type Result struct {
	RecordID string
	Action   string // ActionLearn | ActionSkip
	Reason   string
	Arm      int
	Reward   float64
}

// Summary provides aggregate stats from a replay run.
type Summary struct {
	Total      int
	Learned    int
	Skipped    int
	MeanReward float64
	PerArm     map[int]int
}

// Source yields stored decisions, oldest first.
type Source interface {
	DecisionsSince(ctx context.Context, since time.Time) ([]store.DecisionRecord, error)
}

// #endregion types

// #region replay

// Replay feeds every record through model.Update in order. Records whose
// context no longer matches the model's dimension, or whose action is out of
// range for the current catalog, are skipped. Any other update error aborts.
func Replay(ctx context.Context, model bandit.Model, records []store.DecisionRecord) ([]Result, error) {
	results := make([]Result, 0, len(records))

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		err := model.Update(ctx, rec.Context(), rec.Action, rec.Reward)
		switch {
		case err == nil:
			results = append(results, Result{
				RecordID: rec.ID,
				Action:   ActionLearn,
				Arm:      rec.Action,
				Reward:   rec.Reward,
			})
		case errors.Is(err, bandit.ErrDimension), errors.Is(err, bandit.ErrActionRange):
			results = append(results, Result{
				RecordID: rec.ID,
				Action:   ActionSkip,
				Reason:   err.Error(),
				Arm:      rec.Action,
				Reward:   rec.Reward,
			})
		default:
			return results, fmt.Errorf("replay record %s: %w", rec.ID, err)
		}
	}

	return results, nil
}

// Summarize computes aggregate stats from replay results.
func Summarize(results []Result) Summary {
	s := Summary{
		Total:  len(results),
		PerArm: make(map[int]int),
	}
	var sum float64
	for _, r := range results {
		switch r.Action {
		case ActionLearn:
			s.Learned++
			s.PerArm[r.Arm]++
			sum += r.Reward
		case ActionSkip:
			s.Skipped++
		}
	}
	if s.Learned > 0 {
		s.MeanReward = sum / float64(s.Learned)
	}
	return s
}

// #endregion replay

// #region warm-start

// WarmStart trains model on every record stored since the given time.
func WarmStart(ctx context.Context, src Source, model bandit.Model, since time.Time, log *zap.Logger) (Summary, error) {
	records, err := src.DecisionsSince(ctx, since)
	if err != nil {
		return Summary{}, fmt.Errorf("load decisions: %w", err)
	}

	results, err := Replay(ctx, model, records)
	summary := Summarize(results)
	if err != nil {
		return summary, err
	}

	if log != nil {
		log.Info("warm start complete",
			zap.Int("records", summary.Total),
			zap.Int("learned", summary.Learned),
			zap.Int("skipped", summary.Skipped),
			zap.Float64("mean_reward", summary.MeanReward),
		)
	}
	return summary, nil
}

// #endregion warm-start
