package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danielpatrickdp/nudge-controller/internal/config"
	"github.com/danielpatrickdp/nudge-controller/internal/logging"
	"github.com/danielpatrickdp/nudge-controller/internal/remote"
	"github.com/danielpatrickdp/nudge-controller/internal/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

// #region main
func main() {
	rootCmd := &cobra.Command{
		Use:   "bandit-server",
		Short: "Central LinUCB service shared by controllers",
		Long: `bandit-server hosts one LinUCB model per client id over gRPC.

Models are created on first use and their snapshots are persisted to SQLite
after every update, so a restart resumes where it left off.`,
		SilenceUsage: true,
		RunE:         run,
	}
	rootCmd.Flags().String("config", "nudge.yaml", "path to the YAML config file")
	rootCmd.Flags().String("listen", "", "listen address (overrides server.listen_addr)")
	rootCmd.Flags().String("db", "", "snapshot database (overrides server.database_path)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// #endregion main

// #region run
func run(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if v, _ := cmd.Flags().GetString("listen"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v, _ := cmd.Flags().GetString("db"); v != "" {
		cfg.Server.DatabasePath = v
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log, err := logging.New(cfg.Logging.Mode)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	catalog, err := cfg.Catalog()
	if err != nil {
		return err
	}

	st, err := store.NewStore(cfg.Server.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open snapshot store: %w", err)
	}
	defer st.Close()

	srvCfg := remote.DefaultServerConfig(cfg.EventDim+catalog.Len(), catalog.Len())
	srvCfg.ListenAddr = cfg.Server.ListenAddr
	srvCfg.Bandit = cfg.Bandit

	srv, err := remote.NewServer(srvCfg, st, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := srv.ListenAndServe()
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("stopping bandit service")
		srv.Stop()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("bandit service failed", zap.Error(err))
		return err
	}
	return nil
}

// #endregion run
