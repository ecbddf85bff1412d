package replay

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/danielpatrickdp/nudge-controller/internal/bandit"
	"github.com/danielpatrickdp/nudge-controller/internal/store"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture: a model
// shape, a run of stored decisions and what replaying them should produce.
type Fixture struct {
	Description string                 `json:"description"`
	Dim         int                    `json:"dim"`
	Arms        int                    `json:"arms"`
	Bandit      FixtureBandit          `json:"bandit"`
	Records     []store.DecisionRecord `json:"records"`
	Expected    FixtureExpected        `json:"expected"`
}

// FixtureBandit mirrors bandit.Config with JSON tags.
type FixtureBandit struct {
	Alpha  float64 `json:"alpha"`
	Lambda float64 `json:"lambda"`
}

// FixtureExpected is the replay outcome the fixture pins down.
type FixtureExpected struct {
	Learned    int       `json:"learned"`
	Skipped    int       `json:"skipped"`
	MeanReward float64   `json:"mean_reward"`
	Probe      []float64 `json:"probe"`
	BestAction int       `json:"best_action"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// Model builds a fresh LinUCB shaped like the fixture.
func (f *Fixture) Model() (*bandit.LinUCB, error) {
	return bandit.NewLinUCB(f.Dim, f.Arms, bandit.Config{
		Alpha:  f.Bandit.Alpha,
		Lambda: f.Bandit.Lambda,
	})
}

// #endregion fixture-loader
