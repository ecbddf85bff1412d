package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/danielpatrickdp/nudge-controller/internal/channel"
	"github.com/danielpatrickdp/nudge-controller/internal/dispatch"
	"github.com/danielpatrickdp/nudge-controller/internal/session"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// #region deps

// Dispatcher accepts events for asynchronous processing.
type Dispatcher interface {
	Dispatch(ev dispatch.Event) error
}

// SurveyBackend is the survey app's side of the channel.
type SurveyBackend interface {
	Pending(ctx context.Context, recipient string) ([]channel.Request, error)
	Respond(ctx context.Context, correlationID string, a channel.Answer) error
}

// Reachability reports whether the remote model is in use.
type Reachability interface {
	Reachable() bool
}

// Deps wires the API. Surveys and Remote may be nil.
type Deps struct {
	Dispatcher Dispatcher
	Session    *session.State
	Surveys    SurveyBackend
	Remote     Reachability
	EventDim   int
	Log        *zap.Logger
}

// #endregion deps

// #region server

// Server serves the event API.
type Server struct {
	engine *gin.Engine
	http   *http.Server
	log    *zap.Logger
}

// NewServer builds the router.
func NewServer(deps Deps) *Server {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(deps.Log))

	h := &handlers{deps: deps}
	engine.GET("/healthz", h.health)
	v1 := engine.Group("/v1")
	{
		v1.POST("/events", h.postEvent)
		v1.GET("/session", h.getSession)
		v1.POST("/session/preferences", h.postPreferences)
		v1.POST("/session/history/take", h.takeHistory)
		v1.GET("/surveys", h.listSurveys)
		v1.POST("/surveys/:id/answer", h.answerSurvey)
	}

	return &Server{
		engine: engine,
		http:   &http.Server{Handler: engine, ReadHeaderTimeout: 10 * time.Second},
		log:    deps.Log,
	}
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler { return s.engine }

// Serve serves on lis until Shutdown. After Shutdown it returns nil at once.
func (s *Server) Serve(lis net.Listener) error {
	s.log.Info("http api listening", zap.String("addr", lis.Addr().String()))
	if err := s.http.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe listens on addr and serves.
func (s *Server) ListenAndServe(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(lis)
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

// #endregion server
