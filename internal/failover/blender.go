package failover

import (
	"context"
	"sync"

	"github.com/danielpatrickdp/nudge-controller/internal/bandit"
	"github.com/danielpatrickdp/nudge-controller/internal/remote"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/danielpatrickdp/nudge-controller/internal/failover")

// #region blender

// Blender prefers the remote model and falls back to the local one while the
// remote is unreachable. The local model sees every update so it stays warm.
type Blender struct {
	remote  bandit.Model
	local   bandit.Model
	breaker *Breaker
	log     *zap.Logger

	mu        sync.Mutex
	reachable bool
}

var _ bandit.Model = (*Blender)(nil)

// NewBlender composes remote and local. Transport errors are recognized with
// remote.IsTransport.
func NewBlender(remoteModel, local bandit.Model, policy Policy, log *zap.Logger) *Blender {
	return NewBlenderWithClassifier(remoteModel, local, policy, remote.IsTransport, log)
}

// NewBlenderWithClassifier is NewBlender with a custom transport classifier.
func NewBlenderWithClassifier(remoteModel, local bandit.Model, policy Policy, classify Classifier, log *zap.Logger) *Blender {
	if log == nil {
		log = zap.NewNop()
	}
	return &Blender{
		remote:    remoteModel,
		local:     local,
		breaker:   NewBreaker(policy, classify),
		log:       log,
		reachable: true,
	}
}

// Reachable reports the current connectivity flag.
func (b *Blender) Reachable() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reachable
}

// #endregion blender

// #region act

// Act asks the remote model, or the local model after a transport failure.
func (b *Blender) Act(ctx context.Context, x []float64) (bandit.Decision, error) {
	ctx, span := tracer.Start(ctx, "blender.act", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	d, err := Call(ctx, b.breaker, func(ctx context.Context) (bandit.Decision, error) {
		return b.remote.Act(ctx, x)
	})
	if err == nil {
		b.markUp()
		d.Source = bandit.SourceRemote
		span.SetAttributes(attribute.String("source", d.Source), attribute.Int("action", d.Action))
		return d, nil
	}
	if !b.breaker.IsTransport(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "remote act")
		return bandit.Decision{}, err
	}
	b.markDown(err)

	d, err = b.local.Act(ctx, x)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "local act")
		return bandit.Decision{}, err
	}
	d.Source = bandit.SourceLocal
	span.SetAttributes(attribute.String("source", d.Source), attribute.Int("action", d.Action))
	return d, nil
}

// #endregion act

// #region update

// Update always trains the local model and also tries the remote. The remote
// result is returned while reachable, the local result otherwise.
func (b *Blender) Update(ctx context.Context, x []float64, action int, reward float64) error {
	ctx, span := tracer.Start(ctx, "blender.update", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.Int("action", action), attribute.Float64("reward", reward))

	_, remoteErr := Call(ctx, b.breaker, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, b.remote.Update(ctx, x, action, reward)
	})
	localErr := b.local.Update(ctx, x, action, reward)

	switch {
	case remoteErr == nil:
		b.markUp()
		if localErr != nil {
			b.log.Warn("local model update failed", zap.Int("action", action), zap.Error(localErr))
		}
		return nil
	case b.breaker.IsTransport(remoteErr):
		b.markDown(remoteErr)
		if localErr != nil {
			span.RecordError(localErr)
			span.SetStatus(codes.Error, "local update")
		}
		return localErr
	default:
		span.RecordError(remoteErr)
		span.SetStatus(codes.Error, "remote update")
		return remoteErr
	}
}

// #endregion update

// #region connectivity

func (b *Blender) markDown(err error) {
	b.mu.Lock()
	flipped := b.reachable
	b.reachable = false
	b.mu.Unlock()
	if flipped {
		b.log.Warn("bandit service unreachable, using local model", zap.Error(err))
	}
}

func (b *Blender) markUp() {
	b.mu.Lock()
	flipped := !b.reachable
	b.reachable = true
	b.mu.Unlock()
	if flipped {
		b.log.Info("bandit service reachable again")
	}
}

// #endregion connectivity
