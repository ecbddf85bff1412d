package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/danielpatrickdp/nudge-controller/internal/logging"
	"github.com/danielpatrickdp/nudge-controller/internal/store"
	"github.com/spf13/cobra"
)

// #region main

func main() {
	rootCmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show recent decisions and dispatch outcomes from a controller database",
		Long: `inspect reads the controller's SQLite database and prints the most
recent decision records, or with --outcomes the dispatch log of every event
including the ones a gate rejected.

Examples:
  inspect --db nudge.db
  inspect --db nudge.db --last 50 --json
  inspect --db nudge.db --outcomes`,
		SilenceUsage: true,
		RunE:         run,
	}
	rootCmd.Flags().String("db", "", "path to nudge.db")
	rootCmd.Flags().Int("last", 20, "show N most recent rows")
	rootCmd.Flags().Bool("json", false, "output as JSON instead of table")
	rootCmd.Flags().Bool("outcomes", false, "show the dispatch log instead of decisions")
	_ = rootCmd.MarkFlagRequired("db")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	dbPath, _ := cmd.Flags().GetString("db")
	last, _ := cmd.Flags().GetInt("last")
	jsonOut, _ := cmd.Flags().GetBool("json")
	outcomes, _ := cmd.Flags().GetBool("outcomes")

	if _, err := os.Stat(dbPath); err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	st, err := store.NewStore(dbPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	if outcomes {
		return runOutcomeMode(ctx, st, last, jsonOut)
	}
	return runListMode(ctx, st, last, jsonOut)
}

// #endregion main

// #region list-mode

type listRow struct {
	ID        string    `json:"id"`
	Recipient string    `json:"recipient"`
	Action    int       `json:"action"`
	Label     string    `json:"action_label"`
	Reward    float64   `json:"reward"`
	Source    string    `json:"source"`
	TopScore  float64   `json:"top_score"`
	Scores    []float64 `json:"scores,omitempty"`
	Uploaded  bool      `json:"uploaded"`
	CreatedAt string    `json:"created_at"`
}

func runListMode(ctx context.Context, st *store.Store, last int, jsonOut bool) error {
	recs, err := st.ListDecisions(ctx, last)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Fprintln(os.Stderr, "no decisions found")
		return nil
	}

	// store returns DESC, reverse for chronological
	rows := make([]listRow, len(recs))
	for i, r := range recs {
		rows[len(recs)-1-i] = listRow{
			ID:        r.ID,
			Recipient: r.Recipient,
			Action:    r.Action,
			Label:     r.ActionLabel,
			Reward:    r.Reward,
			Source:    r.Source,
			TopScore:  topScore(r.Scores, r.Action),
			Scores:    r.Scores,
			Uploaded:  r.Uploaded,
			CreatedAt: r.CreatedAt.Format("2006-01-02T15:04:05Z"),
		}
	}

	if jsonOut {
		return printJSON(rows)
	}

	fmt.Printf("%-8s  %-4s  %-14s  %6s  %-6s  %8s  %s\n",
		"ID", "Act", "Label", "Reward", "Source", "Score", "Time")
	fmt.Printf("%-8s+-%-4s+-%-14s+-%6s+-%-6s+-%8s+-%s\n",
		"--------", "----", "--------------", "------", "------", "--------", "--------------------")
	var sum float64
	for _, r := range rows {
		fmt.Printf("%-8s  %-4d  %-14s  %6.1f  %-6s  %8.4f  %s\n",
			shortID(r.ID), r.Action, orDash(r.Label), r.Reward, orDash(r.Source), r.TopScore, r.CreatedAt)
		sum += r.Reward
	}
	fmt.Printf("\n%d decisions, mean reward %.3f\n", len(rows), sum/float64(len(rows)))
	return nil
}

// #endregion list-mode

// #region outcome-mode

type outcomeRow struct {
	Recipient string `json:"recipient,omitempty"`
	Stage     string `json:"stage"`
	Reason    string `json:"reason,omitempty"`
	Action    *int   `json:"action,omitempty"`
	CreatedAt string `json:"created_at"`
}

func runOutcomeMode(ctx context.Context, st *store.Store, last int, jsonOut bool) error {
	entries, err := logging.RecentOutcomes(ctx, st.DB(), last)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(os.Stderr, "no outcomes found")
		return nil
	}

	rows := make([]outcomeRow, len(entries))
	counts := make(map[string]int)
	for i, e := range entries {
		row := outcomeRow{
			Recipient: e.Recipient,
			Stage:     e.Stage,
			Reason:    e.Reason,
			CreatedAt: e.CreatedAt.Format("2006-01-02T15:04:05Z"),
		}
		if e.Action >= 0 {
			a := e.Action
			row.Action = &a
		}
		rows[len(entries)-1-i] = row
		counts[e.Stage]++
	}

	if jsonOut {
		return printJSON(rows)
	}

	fmt.Printf("%-10s  %-4s  %-20s  %s\n", "Stage", "Act", "Time", "Reason")
	fmt.Printf("%-10s+-%-4s+-%-20s+-%s\n", "----------", "----", "--------------------", "------")
	for _, r := range rows {
		act := "—"
		if r.Action != nil {
			act = fmt.Sprintf("%d", *r.Action)
		}
		fmt.Printf("%-10s  %-4s  %-20s  %s\n", r.Stage, act, r.CreatedAt, r.Reason)
	}

	parts := make([]string, 0, len(counts))
	for stage, n := range counts {
		parts = append(parts, fmt.Sprintf("%s=%d", stage, n))
	}
	sort.Strings(parts)
	fmt.Printf("\n%s\n", strings.Join(parts, " "))
	return nil
}

// #endregion outcome-mode

// #region output

func topScore(scores []float64, action int) float64 {
	if action < 0 || action >= len(scores) {
		return 0
	}
	return scores[action]
}

func orDash(s string) string {
	if s == "" {
		return "—"
	}
	return s
}

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
