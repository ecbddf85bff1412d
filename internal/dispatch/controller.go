package dispatch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/danielpatrickdp/nudge-controller/internal/actions"
	"github.com/danielpatrickdp/nudge-controller/internal/bandit"
	"github.com/danielpatrickdp/nudge-controller/internal/gate"
	"github.com/danielpatrickdp/nudge-controller/internal/logging"
	"github.com/danielpatrickdp/nudge-controller/internal/reward"
	"github.com/danielpatrickdp/nudge-controller/internal/session"
	"github.com/danielpatrickdp/nudge-controller/internal/stats"
	"github.com/danielpatrickdp/nudge-controller/internal/store"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/danielpatrickdp/nudge-controller/internal/dispatch")

// ErrClosed is returned once Shutdown has begun.
var ErrClosed = errors.New("dispatch: controller closed")

// #region config

// Config holds the controller's fixed settings.
type Config struct {
	EventDim     int  // raw features per event
	MoodChecking bool // send the mood survey instead of running the model
}

// Deps are the controller's collaborators. Sink and OutcomeDB may be nil.
type Deps struct {
	Catalog   *actions.Catalog
	Model     bandit.Model
	Stats     *stats.Tracker
	Session   *session.State
	Gate      *gate.Gate
	Rewarder  Rewarder
	Sink      RecordSink
	OutcomeDB *sql.DB
	Log       *zap.Logger
	Now       func() time.Time
}

// #endregion config

// #region controller

// Controller runs the per-event pipeline: gate, decide, send, wait for the
// reward, record and learn.
type Controller struct {
	cfg      Config
	catalog  *actions.Catalog
	model    bandit.Model
	stats    *stats.Tracker
	session  *session.State
	gate     *gate.Gate
	rewarder Rewarder
	sink     RecordSink
	outcomes *sql.DB
	log      *zap.Logger
	now      func() time.Time

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// New validates deps and builds a controller.
func New(cfg Config, deps Deps) (*Controller, error) {
	if deps.Catalog == nil || deps.Catalog.Len() == 0 {
		return nil, bandit.ErrNoDecision
	}
	if deps.Model == nil || deps.Stats == nil || deps.Session == nil || deps.Gate == nil || deps.Rewarder == nil {
		return nil, fmt.Errorf("dispatch: missing collaborator")
	}
	if deps.Stats.Len() != deps.Catalog.Len() {
		return nil, fmt.Errorf("%w: stats tracks %d actions, catalog has %d", bandit.ErrDimension, deps.Stats.Len(), deps.Catalog.Len())
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		cfg:      cfg,
		catalog:  deps.Catalog,
		model:    deps.Model,
		stats:    deps.Stats,
		session:  deps.Session,
		gate:     deps.Gate,
		rewarder: deps.Rewarder,
		sink:     deps.Sink,
		outcomes: deps.OutcomeDB,
		log:      deps.Log,
		now:      deps.Now,
		baseCtx:  ctx,
		cancel:   cancel,
	}, nil
}

// Session exposes the live session state.
func (c *Controller) Session() *session.State { return c.session }

// Catalog exposes the action catalog.
func (c *Controller) Catalog() *actions.Catalog { return c.catalog }

// #endregion controller

// #region dispatch

// Dispatch processes ev on its own goroutine and returns immediately.
func (c *Controller) Dispatch(ev Event) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		c.Process(c.baseCtx, ev)
	}()
	return nil
}

// Shutdown stops accepting events, cancels in-flight ones and waits for them
// or for ctx.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// #endregion dispatch

// #region process

// Process runs one event synchronously. It never panics; a panic in a
// collaborator is reported as StagePanic.
func (c *Controller) Process(ctx context.Context, ev Event) (out Outcome) {
	ctx, span := tracer.Start(ctx, "dispatch.process")
	defer span.End()

	out.Action = -1
	defer func() {
		if r := recover(); r != nil {
			out = Outcome{Stage: StagePanic, Action: out.Action, Err: fmt.Errorf("panic: %v", r)}
		}
		c.finish(ctx, ev, out)
		span.SetAttributes(attribute.String("stage", string(out.Stage)), attribute.Int("action", out.Action))
		if out.Err != nil {
			span.RecordError(out.Err)
			span.SetStatus(codes.Error, string(out.Stage))
		}
	}()

	return c.process(ctx, ev, &out)
}

func (c *Controller) process(ctx context.Context, ev Event, out *Outcome) Outcome {
	now := c.now()
	c.session.Roll(now)
	limits := c.session.Limits()

	if d := c.gate.Cooldown(c.session.LastAction(), limits.Cooldown, now); !d.Allowed {
		return reject(StageCooldown, d)
	}

	if c.cfg.MoodChecking {
		c.session.CommitAction(now)
		id, err := c.rewarder.Notify(ctx, ev.Recipient, reward.MoodCheckSurvey)
		return Outcome{Stage: StageMoodCheck, Action: -1, CorrelationID: id, Err: err}
	}

	if len(ev.Features) != c.cfg.EventDim {
		return Outcome{Stage: StageContext, Action: -1,
			Err: fmt.Errorf("%w: got %d event features, want %d", bandit.ErrDimension, len(ev.Features), c.cfg.EventDim)}
	}
	x, statsVec := c.stats.Context(ev.Features, now)

	d, err := c.model.Act(ctx, x)
	if err != nil {
		return Outcome{Stage: StageDecision, Action: -1, Err: err}
	}
	if d.Action < 0 || d.Action >= c.catalog.Len() {
		return Outcome{Stage: StageDecision, Action: -1, Err: fmt.Errorf("%w: %d", bandit.ErrActionRange, d.Action)}
	}
	out.Action = d.Action
	action := c.catalog.At(d.Action)
	c.session.CommitAction(now)

	if q := c.quotaGate(now); !q.Allowed {
		return withAction(reject(StageQuota, q), d)
	}
	if w := c.gate.Window(now); !w.Allowed {
		return withAction(reject(StageWindow, w), d)
	}
	if !c.session.ReserveSend(now) {
		return withAction(reject(StageQuota, c.quotaGate(now)), d)
	}

	id, err := c.rewarder.SendAction(ctx, ev.Recipient, action)
	if err == nil && id == "" {
		err = errors.New("empty correlation id")
	}
	if err != nil {
		return withAction(Outcome{Stage: StageSend, Err: err}, d)
	}

	r, err := c.rewarder.CollectReward(ctx, ev.Recipient, action, c.session)
	if err != nil {
		return withAction(Outcome{Stage: StageReward, CorrelationID: id, Err: err}, d)
	}

	if c.sink != nil {
		rec := store.DecisionRecord{
			ID:          uuid.New().String(),
			Recipient:   ev.Recipient,
			EventVector: append([]float64(nil), ev.Features...),
			StatsVector: statsVec,
			Action:      d.Action,
			ActionLabel: action.Label,
			Reward:      r,
			Scores:      d.Scores,
			Source:      d.Source,
			CreatedAt:   c.now().UTC(),
		}
		if err := c.sink.SaveDecision(ctx, rec); err != nil {
			c.log.Warn("record decision failed", zap.String("correlation_id", id), zap.Error(err))
		}
	}

	// The local model has learned even when the remote update fails, so the
	// recency vector follows it either way.
	err = c.model.Update(ctx, x, d.Action, r)
	c.stats.Record(d.Action)
	if err != nil {
		return withAction(Outcome{Stage: StageLearn, CorrelationID: id, Reward: r, Err: err}, d)
	}

	return withAction(Outcome{Stage: StageLearn, CorrelationID: id, Reward: r}, d)
}

// quotaGate checks the live counter against the live daily limit.
func (c *Controller) quotaGate(now time.Time) gate.Decision {
	return c.gate.Quota(c.session.SentToday(now), c.session.Limits().MaxDaily)
}

func reject(stage Stage, d gate.Decision) Outcome {
	return Outcome{Stage: stage, Reason: d.Reason, Action: -1}
}

func withAction(o Outcome, d bandit.Decision) Outcome {
	o.Action = d.Action
	o.Source = d.Source
	return o
}

// #endregion process

// #region finish

func (c *Controller) finish(ctx context.Context, ev Event, out Outcome) {
	fields := []zap.Field{
		zap.String("recipient", ev.Recipient),
		zap.String("stage", string(out.Stage)),
		zap.Int("action", out.Action),
	}
	if out.Action >= 0 && out.Action < c.catalog.Len() {
		fields = append(fields, zap.String("label", c.catalog.At(out.Action).Label))
	}
	switch {
	case out.Stage == StagePanic:
		c.log.Error("event processing panicked", append(fields, zap.Error(out.Err))...)
	case out.Err != nil:
		c.log.Warn("event aborted", append(fields, zap.Error(out.Err))...)
	case out.Rejected():
		c.log.Debug("event rejected", append(fields, zap.String("reason", out.Reason))...)
	default:
		c.log.Info("event processed", append(fields,
			zap.String("source", out.Source),
			zap.String("correlation_id", out.CorrelationID),
			zap.Float64("reward", out.Reward))...)
	}

	if c.outcomes == nil {
		return
	}
	reason := out.Reason
	if out.Err != nil {
		reason = out.Err.Error()
	}
	entry := logging.OutcomeEntry{
		Recipient: ev.Recipient,
		Stage:     string(out.Stage),
		Reason:    reason,
		Action:    out.Action,
		CreatedAt: c.now(),
	}
	if err := logging.LogOutcome(context.WithoutCancel(ctx), c.outcomes, entry); err != nil {
		c.log.Warn("dispatch log write failed", zap.Error(err))
	}
}

// #endregion finish
