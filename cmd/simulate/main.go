package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/danielpatrickdp/nudge-controller/internal/actions"
	"github.com/danielpatrickdp/nudge-controller/internal/bandit"
	"github.com/danielpatrickdp/nudge-controller/internal/logging"
	"github.com/danielpatrickdp/nudge-controller/internal/replay"
	"github.com/danielpatrickdp/nudge-controller/internal/simulate"
	"github.com/danielpatrickdp/nudge-controller/internal/store"
	"github.com/spf13/cobra"
)

// #region main

func main() {
	rootCmd := &cobra.Command{
		Use:   "simulate",
		Short: "Measure LinUCB regret on a synthetic linear scenario",
		Long: `simulate draws hidden per-action weights, trains the model on random
choices, then lets it pick for --test iterations and reports accumulated
regret every --save-every iterations.

Examples:
  simulate --actions 4 --ctx 10 --test 5000
  simulate --train 1000 --test 2000 --alpha 1 --json
  simulate replay --db nudge.db`,
		SilenceUsage: true,
		RunE:         runSimulation,
	}
	rootCmd.PersistentFlags().Bool("json", false, "output as JSON instead of text")
	rootCmd.PersistentFlags().String("log", "nop", "log mode: nop, development or production")

	rootCmd.Flags().IntP("actions", "c", 4, "number of actions")
	rootCmd.Flags().IntP("ctx", "x", 10, "context vector size")
	rootCmd.Flags().IntP("train", "t", 0, "number of training iterations")
	rootCmd.Flags().IntP("test", "s", 100, "number of testing iterations")
	rootCmd.Flags().Float64P("alpha", "a", bandit.DefaultConfig().Alpha, "LinUCB exploration constant")
	rootCmd.Flags().Float64("noise", simulate.DefaultNoiseScale, "reward noise standard deviation")
	rootCmd.Flags().Int("save-every", simulate.DefaultSaveEvery, "regret sampling interval")
	rootCmd.Flags().Uint64("seed", 0, "random seed (0 picks one from the clock)")

	rootCmd.AddCommand(newReplayCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// #endregion main

// #region simulation

type simulationOutput struct {
	Actions     int       `json:"actions"`
	Ctx         int       `json:"ctx"`
	Alpha       float64   `json:"alpha"`
	Seed        uint64    `json:"seed"`
	Train       int       `json:"train"`
	Test        int       `json:"test"`
	SaveEvery   int       `json:"save_every"`
	Regrets     []float64 `json:"regrets"`
	TotalRegret float64   `json:"total_regret"`
	MeanReward  float64   `json:"mean_reward"`
}

func runSimulation(cmd *cobra.Command, args []string) error {
	arms, _ := cmd.Flags().GetInt("actions")
	dim, _ := cmd.Flags().GetInt("ctx")
	train, _ := cmd.Flags().GetInt("train")
	test, _ := cmd.Flags().GetInt("test")
	alpha, _ := cmd.Flags().GetFloat64("alpha")
	noise, _ := cmd.Flags().GetFloat64("noise")
	saveEvery, _ := cmd.Flags().GetInt("save-every")
	seed, _ := cmd.Flags().GetUint64("seed")
	jsonOut, _ := cmd.Flags().GetBool("json")
	logMode, _ := cmd.Flags().GetString("log")

	if arms < 1 || dim < 1 {
		return fmt.Errorf("--actions and --ctx must be positive")
	}
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}

	log, err := logging.New(logMode)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	cfg := bandit.DefaultConfig()
	cfg.Alpha = alpha
	model, err := bandit.NewLinUCB(dim, arms, cfg)
	if err != nil {
		return err
	}

	sim := simulate.NewSimulator(
		simulate.NewScenario(dim, arms, noise, seed),
		simulate.Config{Train: train, Test: test, SaveEvery: saveEvery},
		log,
	)
	res, err := sim.Run(cmd.Context(), model)
	if err != nil {
		return err
	}

	out := simulationOutput{
		Actions:     arms,
		Ctx:         dim,
		Alpha:       alpha,
		Seed:        seed,
		Train:       train,
		Test:        res.Steps,
		SaveEvery:   saveEvery,
		Regrets:     res.Regrets,
		TotalRegret: res.TotalRegret,
		MeanReward:  res.MeanReward,
	}
	if jsonOut {
		return printJSON(out)
	}

	fmt.Printf("LinUCB  actions=%d ctx=%d alpha=%.2f seed=%d\n", arms, dim, alpha, seed)
	fmt.Printf("train=%d test=%d\n\n", train, res.Steps)
	fmt.Printf("%10s  %14s\n", "Iteration", "Accum. Regret")
	fmt.Printf("%10s+-%14s\n", "----------", "--------------")
	for i, r := range res.Regrets {
		fmt.Printf("%10d  %14.4f\n", i*saveEvery, r)
	}
	fmt.Printf("\nTotal regret: %.4f\n", res.TotalRegret)
	fmt.Printf("Mean reward:  %.4f\n", res.MeanReward)
	return nil
}

// #endregion simulation

// #region replay

func newReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay stored decisions into a fresh model and summarize",
		RunE: func(cmd *cobra.Command, args []string) error {
			dbPath, _ := cmd.Flags().GetString("db")
			fixturePath, _ := cmd.Flags().GetString("fixture")
			eventDim, _ := cmd.Flags().GetInt("event-dim")
			arms, _ := cmd.Flags().GetInt("actions")
			since, _ := cmd.Flags().GetDuration("since")
			jsonOut, _ := cmd.Flags().GetBool("json")

			if (dbPath == "") == (fixturePath == "") {
				return fmt.Errorf("exactly one of --db or --fixture is required")
			}

			ctx := cmd.Context()
			var (
				model   *bandit.LinUCB
				records []store.DecisionRecord
				err     error
			)
			if fixturePath != "" {
				f, err := replay.LoadFixture(fixturePath)
				if err != nil {
					return err
				}
				if model, err = f.Model(); err != nil {
					return err
				}
				records = f.Records
			} else {
				if model, err = bandit.NewLinUCB(eventDim+arms, arms, bandit.DefaultConfig()); err != nil {
					return err
				}
				if records, err = loadRecords(ctx, dbPath, since); err != nil {
					return err
				}
			}

			results, err := replay.Replay(ctx, model, records)
			if err != nil {
				return err
			}
			return printSummary(replay.Summarize(results), results, jsonOut)
		},
	}
	cmd.Flags().String("db", "", "path to the controller database")
	cmd.Flags().String("fixture", "", "path to a replay fixture JSON")
	cmd.Flags().Int("event-dim", 5, "raw event features per record (db mode)")
	cmd.Flags().Int("actions", len(actions.DefaultLabels), "number of actions (db mode)")
	cmd.Flags().Duration("since", 0, "only replay records this recent (0 replays everything)")
	return cmd
}

func loadRecords(ctx context.Context, dbPath string, since time.Duration) ([]store.DecisionRecord, error) {
	st, err := store.NewStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	defer st.Close()

	var from time.Time
	if since > 0 {
		from = time.Now().Add(-since)
	}
	return st.DecisionsSince(ctx, from)
}

type replayOutput struct {
	Total      int             `json:"total"`
	Learned    int             `json:"learned"`
	Skipped    int             `json:"skipped"`
	MeanReward float64         `json:"mean_reward"`
	PerArm     map[int]int     `json:"per_arm"`
	Skips      []replay.Result `json:"skips,omitempty"`
}

func printSummary(s replay.Summary, results []replay.Result, jsonOut bool) error {
	out := replayOutput{
		Total:      s.Total,
		Learned:    s.Learned,
		Skipped:    s.Skipped,
		MeanReward: s.MeanReward,
		PerArm:     s.PerArm,
	}
	for _, r := range results {
		if r.Action == replay.ActionSkip {
			out.Skips = append(out.Skips, r)
		}
	}
	if jsonOut {
		return printJSON(out)
	}

	fmt.Printf("Replay summary: %d records\n", s.Total)
	fmt.Printf("  learned:     %d\n", s.Learned)
	fmt.Printf("  skipped:     %d\n", s.Skipped)
	fmt.Printf("  mean reward: %.4f\n", s.MeanReward)

	arms := make([]int, 0, len(s.PerArm))
	for a := range s.PerArm {
		arms = append(arms, a)
	}
	sort.Ints(arms)
	fmt.Printf("\nPer action:\n")
	for _, a := range arms {
		fmt.Printf("  %-4d %d\n", a, s.PerArm[a])
	}
	for _, r := range out.Skips {
		fmt.Printf("skip %s: %s\n", shortID(r.RecordID), r.Reason)
	}
	return nil
}

// #endregion replay

// #region output

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// #endregion output
