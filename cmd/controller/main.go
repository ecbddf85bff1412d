package main

import (
	"fmt"
	"os"

	"github.com/danielpatrickdp/nudge-controller/internal/config"
	"github.com/spf13/cobra"
)

// #region main
func main() {
	rootCmd := &cobra.Command{
		Use:   "nudge-controller",
		Short: "Contextual-bandit micro-intervention controller",
		Long: `nudge-controller turns sensed events into wellness recommendations.

Each event is gated by cooldown, daily quota and time window, scored by a
LinUCB model (remote when reachable, local otherwise), delivered through the
survey channel and rewarded from the recipient's answers.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("config", "nudge.yaml", "path to the YAML config file")

	rootCmd.AddCommand(
		newServeCmd(),
		newConfigCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// #endregion main

// #region config-cmd
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or write the configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the default configuration to --config",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := config.DefaultConfig().Save(path); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Load --config with environment overrides and validate it",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	})

	return cmd
}

// #endregion config-cmd
