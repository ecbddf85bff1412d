package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/danielpatrickdp/nudge-controller/internal/bandit"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// #region config

// ServerConfig configures the central bandit service.
type ServerConfig struct {
	ListenAddr string
	Dim        int
	Arms       int
	Bandit     bandit.Config
}

// DefaultServerConfig listens on the historical service port.
func DefaultServerConfig(dim, arms int) ServerConfig {
	return ServerConfig{
		ListenAddr: ":8989",
		Dim:        dim,
		Arms:       arms,
		Bandit:     bandit.DefaultConfig(),
	}
}

// #endregion config

// #region registry

// ModelStore persists per-client model snapshots.
type ModelStore interface {
	LoadModel(ctx context.Context, clientID int) (bandit.Snapshot, bool, error)
	SaveModel(ctx context.Context, clientID int, snap bandit.Snapshot) error
}

// Registry lazily creates one LinUCB per client id, restoring from the store
// when a snapshot exists.
type Registry struct {
	mu     sync.Mutex
	models map[int]*bandit.LinUCB
	dim    int
	arms   int
	cfg    bandit.Config
	store  ModelStore
	log    *zap.Logger
}

// NewRegistry creates an empty registry. store may be nil.
func NewRegistry(dim, arms int, cfg bandit.Config, store ModelStore, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		models: make(map[int]*bandit.LinUCB),
		dim:    dim,
		arms:   arms,
		cfg:    cfg,
		store:  store,
		log:    log,
	}
}

// Model returns the model for clientID, creating it on first use.
func (r *Registry) Model(ctx context.Context, clientID int) (*bandit.LinUCB, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.models[clientID]; ok {
		return m, nil
	}
	m, err := bandit.NewLinUCB(r.dim, r.arms, r.cfg)
	if err != nil {
		return nil, err
	}
	if r.store != nil {
		snap, found, err := r.store.LoadModel(ctx, clientID)
		if err != nil {
			return nil, fmt.Errorf("load model %d: %w", clientID, err)
		}
		if found {
			if err := m.Restore(snap); err != nil {
				r.log.Warn("discarding incompatible snapshot", zap.Int("client_id", clientID), zap.Error(err))
			} else {
				r.log.Info("restored model snapshot", zap.Int("client_id", clientID))
			}
		}
	}
	r.models[clientID] = m
	return m, nil
}

// #endregion registry

// #region service

type banditService struct {
	registry *Registry
	log      *zap.Logger
}

func (s *banditService) Act(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	clientID, err := readInt(in, fieldClientID)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	x, err := readFloats(in, fieldContext)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	wantScores := in.GetFields()[fieldWantScores].GetBoolValue()

	model, err := s.registry.Model(ctx, clientID)
	if err != nil {
		return nil, status.Error(codes.FailedPrecondition, err.Error())
	}
	d, err := model.Act(ctx, x)
	if err != nil {
		return nil, toStatus(err)
	}
	if !wantScores {
		return actResponse(d.Action, nil), nil
	}
	return actResponse(d.Action, d.Scores), nil
}

func (s *banditService) Update(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	clientID, err := readInt(in, fieldClientID)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	x, err := readFloats(in, fieldContext)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	action, err := readInt(in, fieldAction)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	reward, err := readNumber(in, fieldReward)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	model, err := s.registry.Model(ctx, clientID)
	if err != nil {
		return nil, status.Error(codes.FailedPrecondition, err.Error())
	}
	if err := model.Update(ctx, x, action, reward); err != nil {
		return nil, toStatus(err)
	}
	if s.registry.store != nil {
		if err := s.registry.store.SaveModel(ctx, clientID, model.Snapshot()); err != nil {
			s.log.Warn("save model snapshot", zap.Int("client_id", clientID), zap.Error(err))
		}
	}
	return ackResponse(), nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, bandit.ErrDimension), errors.Is(err, bandit.ErrActionRange):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, bandit.ErrNoDecision):
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Error(codes.Unknown, err.Error())
	}
}

// #endregion service

// #region server

// Server hosts the bandit service over gRPC.
type Server struct {
	cfg        ServerConfig
	grpcServer *grpc.Server
	log        *zap.Logger

	mu       sync.Mutex
	listener net.Listener
}

// NewServer builds a server backed by a fresh registry.
func NewServer(cfg ServerConfig, store ModelStore, log *zap.Logger) (*Server, error) {
	if cfg.Arms <= 0 {
		return nil, bandit.ErrNoDecision
	}
	if cfg.Dim <= 0 {
		return nil, fmt.Errorf("%w: dimension %d", bandit.ErrDimension, cfg.Dim)
	}
	if log == nil {
		log = zap.NewNop()
	}
	gs := grpc.NewServer()
	RegisterBanditServiceServer(gs, &banditService{
		registry: NewRegistry(cfg.Dim, cfg.Arms, cfg.Bandit, store, log),
		log:      log,
	})
	return &Server{cfg: cfg, grpcServer: gs, log: log}, nil
}

// Serve blocks serving on lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	s.mu.Lock()
	s.listener = lis
	s.mu.Unlock()
	s.log.Info("bandit service listening", zap.String("addr", lis.Addr().String()),
		zap.Int("dim", s.cfg.Dim), zap.Int("arms", s.cfg.Arms))
	return s.grpcServer.Serve(lis)
}

// ListenAndServe listens on the configured address and serves.
func (s *Server) ListenAndServe() error {
	lis, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.ListenAddr, err)
	}
	return s.Serve(lis)
}

// Stop drains in-flight calls and stops the server.
func (s *Server) Stop() {
	s.grpcServer.GracefulStop()
}

// #endregion server
