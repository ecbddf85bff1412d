package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielpatrickdp/nudge-controller/internal/bandit"
	"github.com/danielpatrickdp/nudge-controller/internal/channel"
	"github.com/danielpatrickdp/nudge-controller/internal/config"
	"github.com/danielpatrickdp/nudge-controller/internal/dispatch"
	"github.com/danielpatrickdp/nudge-controller/internal/failover"
	"github.com/danielpatrickdp/nudge-controller/internal/gate"
	"github.com/danielpatrickdp/nudge-controller/internal/httpapi"
	"github.com/danielpatrickdp/nudge-controller/internal/logging"
	"github.com/danielpatrickdp/nudge-controller/internal/remote"
	"github.com/danielpatrickdp/nudge-controller/internal/replay"
	"github.com/danielpatrickdp/nudge-controller/internal/reward"
	"github.com/danielpatrickdp/nudge-controller/internal/session"
	"github.com/danielpatrickdp/nudge-controller/internal/stats"
	"github.com/danielpatrickdp/nudge-controller/internal/store"
	"github.com/danielpatrickdp/nudge-controller/internal/telemetry"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownGrace = 30 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the controller and its HTTP event API",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			log, err := logging.New(cfg.Logging.Mode)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg, log)
		},
	}
}

// #region serve
func serve(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	shutdownTracing, err := telemetry.Init(ctx, log, telemetry.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn("tracing shutdown", zap.Error(err))
		}
	}()

	st, err := store.NewStore(cfg.Storage.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	ch, err := channel.NewSQLite(cfg.Storage.ChannelPath, cfg.GetPollInterval())
	if err != nil {
		return fmt.Errorf("failed to open survey channel: %w", err)
	}
	defer ch.Close()

	catalog, err := cfg.Catalog()
	if err != nil {
		return err
	}
	dim := cfg.EventDim + catalog.Len()

	local, err := bandit.NewLinUCB(dim, catalog.Len(), cfg.Bandit)
	if err != nil {
		return err
	}
	if ws := cfg.GetWarmStart(); ws > 0 {
		if _, err := replay.WarmStart(ctx, st, local, time.Now().Add(-ws), log); err != nil {
			log.Warn("warm start failed, starting cold", zap.Error(err))
		}
	}

	var (
		model bandit.Model = local
		reach httpapi.Reachability
	)
	if cfg.Remote.Enabled {
		client, err := remote.NewClient(cfg.Remote.Addr, cfg.Remote.ClientID, catalog.Len(), cfg.GetRemoteTimeout())
		if err != nil {
			return fmt.Errorf("failed to create bandit client for %s: %w", cfg.Remote.Addr, err)
		}
		defer client.Close()
		blender := failover.NewBlender(client, local, cfg.FailoverPolicy(), log)
		model, reach = blender, blender
	}

	gateCfg, err := cfg.GateConfig()
	if err != nil {
		return err
	}

	ctrl, err := dispatch.New(
		dispatch.Config{
			EventDim:     cfg.EventDim,
			MoodChecking: cfg.Mode == config.ModeMoodChecking,
		},
		dispatch.Deps{
			Catalog:   catalog,
			Model:     model,
			Stats:     stats.NewTracker(catalog.Len(), cfg.StatsConfig(), time.Now()),
			Session:   session.New(cfg.SessionLimits()),
			Gate:      gate.NewGate(gateCfg),
			Rewarder:  reward.NewProtocol(ch, cfg.RewardConfig(), log),
			Sink:      st,
			OutcomeDB: st.DB(),
			Log:       log,
		},
	)
	if err != nil {
		return err
	}

	if cfg.Logging.Mode == "prod" || cfg.Logging.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	api := httpapi.NewServer(httpapi.Deps{
		Dispatcher: ctrl,
		Session:    ctrl.Session(),
		Surveys:    ch,
		Remote:     reach,
		EventDim:   cfg.EventDim,
		Log:        log,
	})

	log.Info("controller ready",
		zap.String("mode", cfg.Mode),
		zap.Int("actions", catalog.Len()),
		zap.Int("dim", dim),
		zap.Bool("remote", cfg.Remote.Enabled),
		zap.String("db", cfg.Storage.DatabasePath),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return api.ListenAndServe(cfg.HTTP.Addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		err := api.Shutdown(sctx)
		return errors.Join(err, ctrl.Shutdown(sctx))
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// #endregion serve
