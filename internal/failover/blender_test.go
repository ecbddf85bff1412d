package failover

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/danielpatrickdp/nudge-controller/internal/bandit"
	"github.com/danielpatrickdp/nudge-controller/internal/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// #region fakes

var (
	errLink = errors.New("link down")
	errApp  = errors.New("bad request")
)

func isLink(err error) bool { return errors.Is(err, errLink) }

type fakeModel struct {
	mu        sync.Mutex
	actErr    error
	updateErr error
	action    int
	acts      int
	updates   int
}

func (f *fakeModel) Act(_ context.Context, _ []float64) (bandit.Decision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acts++
	if f.actErr != nil {
		return bandit.Decision{}, f.actErr
	}
	return bandit.Decision{Action: f.action, Scores: []float64{1, 2}}, nil
}

func (f *fakeModel) Update(_ context.Context, _ []float64, _ int, _ float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	return f.updateErr
}

func (f *fakeModel) setErr(err error) {
	f.mu.Lock()
	f.actErr = err
	f.updateErr = err
	f.mu.Unlock()
}

func newTestBlender(remote, local bandit.Model, policy Policy) (*Blender, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return NewBlenderWithClassifier(remote, local, policy, isLink, zap.New(core)), logs
}

// #endregion fakes

// #region act-tests

func TestBlender_StartsReachable(t *testing.T) {
	b, _ := newTestBlender(&fakeModel{}, &fakeModel{}, DefaultPolicy())
	assert.True(t, b.Reachable())
}

func TestBlender_ActUsesRemoteWhenUp(t *testing.T) {
	remote := &fakeModel{action: 1}
	local := &fakeModel{action: 0}
	b, _ := newTestBlender(remote, local, DefaultPolicy())

	d, err := b.Act(context.Background(), []float64{1})
	require.NoError(t, err)
	assert.Equal(t, 1, d.Action)
	assert.Equal(t, bandit.SourceRemote, d.Source)
	assert.Equal(t, 0, local.acts)
}

func TestBlender_SingleFlipOnRepeatedTransportFailures(t *testing.T) {
	remote := &fakeModel{actErr: errLink}
	local := &fakeModel{action: 0}
	b, logs := newTestBlender(remote, local, DefaultPolicy())

	for i := 0; i < 5; i++ {
		d, err := b.Act(context.Background(), []float64{1})
		require.NoError(t, err)
		assert.Equal(t, bandit.SourceLocal, d.Source)
	}
	assert.False(t, b.Reachable())
	assert.Equal(t, 5, local.acts)
	assert.Equal(t, 1, logs.FilterMessage("bandit service unreachable, using local model").Len())

	remote.setErr(nil)
	d, err := b.Act(context.Background(), []float64{1})
	require.NoError(t, err)
	assert.Equal(t, bandit.SourceRemote, d.Source)
	assert.True(t, b.Reachable())
	assert.Equal(t, 1, logs.FilterMessage("bandit service reachable again").Len())
}

func TestBlender_ApplicationErrorSurfaces(t *testing.T) {
	remote := &fakeModel{actErr: errApp}
	local := &fakeModel{}
	b, _ := newTestBlender(remote, local, DefaultPolicy())

	_, err := b.Act(context.Background(), []float64{1})
	assert.ErrorIs(t, err, errApp)
	assert.True(t, b.Reachable())
	assert.Equal(t, 0, local.acts)
}

func TestBlender_LocalFailureAfterFailover(t *testing.T) {
	remote := &fakeModel{actErr: errLink}
	local := &fakeModel{actErr: bandit.ErrDimension}
	b, _ := newTestBlender(remote, local, DefaultPolicy())

	_, err := b.Act(context.Background(), []float64{1})
	assert.ErrorIs(t, err, bandit.ErrDimension)
}

// outOfRangeService answers every Act with an action past the catalog.
type outOfRangeService struct{}

func (outOfRangeService) Act(_ context.Context, _ *structpb.Struct, _ ...grpc.CallOption) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"action": 99,
		"scores": []any{0.5, 0.25},
	})
}

func (outOfRangeService) Update(_ context.Context, _ *structpb.Struct, _ ...grpc.CallOption) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{"ack": true})
}

func TestBlender_OutOfRangeRemoteActionFailsOver(t *testing.T) {
	client := remote.NewClientWithService(outOfRangeService{}, 0, 2, time.Second)
	local := &fakeModel{action: 1}
	b := NewBlender(client, local, DefaultPolicy(), zap.NewNop())

	d, err := b.Act(context.Background(), []float64{1})
	require.NoError(t, err)
	assert.Equal(t, 1, d.Action)
	assert.Equal(t, bandit.SourceLocal, d.Source)
	assert.False(t, b.Reachable())
	assert.Equal(t, 1, local.acts)
}

// #endregion act-tests

// #region update-tests

func TestBlender_UpdateAlwaysTrainsLocal(t *testing.T) {
	remote := &fakeModel{}
	local := &fakeModel{}
	b, _ := newTestBlender(remote, local, DefaultPolicy())

	require.NoError(t, b.Update(context.Background(), []float64{1}, 0, 1))
	assert.Equal(t, 1, local.updates)
	assert.Equal(t, 1, remote.updates)

	remote.setErr(errLink)
	require.NoError(t, b.Update(context.Background(), []float64{1}, 0, 1))
	assert.Equal(t, 2, local.updates)
	assert.False(t, b.Reachable())
}

func TestBlender_UpdateReturnsLocalResultWhenDown(t *testing.T) {
	remote := &fakeModel{updateErr: errLink}
	local := &fakeModel{updateErr: bandit.ErrActionRange}
	b, _ := newTestBlender(remote, local, DefaultPolicy())

	err := b.Update(context.Background(), []float64{1}, 9, 1)
	assert.ErrorIs(t, err, bandit.ErrActionRange)
}

func TestBlender_UpdateApplicationErrorSurfaces(t *testing.T) {
	remote := &fakeModel{updateErr: errApp}
	local := &fakeModel{}
	b, _ := newTestBlender(remote, local, DefaultPolicy())

	err := b.Update(context.Background(), []float64{1}, 0, 1)
	assert.ErrorIs(t, err, errApp)
	assert.Equal(t, 1, local.updates)
}

func TestBlender_WithRealLocalModel(t *testing.T) {
	local, err := bandit.NewLinUCB(2, 2, bandit.Config{Alpha: 1, Lambda: 1})
	require.NoError(t, err)
	b, _ := newTestBlender(&fakeModel{actErr: errLink, updateErr: errLink}, local, DefaultPolicy())
	ctx := context.Background()

	require.NoError(t, b.Update(ctx, []float64{1, 0}, 1, 1))
	d, err := b.Act(ctx, []float64{1, 0})
	require.NoError(t, err)
	assert.Equal(t, 1, d.Action)
	assert.Equal(t, bandit.SourceLocal, d.Source)
}

// #endregion update-tests

// #region call-tests

func TestCall_RetriesTransportOnly(t *testing.T) {
	policy := Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
	br := NewBreaker(policy, isLink)

	calls := 0
	_, err := Call(context.Background(), br, func(context.Context) (int, error) {
		calls++
		return 0, errLink
	})
	assert.ErrorIs(t, err, errLink)
	assert.Equal(t, 3, calls)

	calls = 0
	_, err = Call(context.Background(), br, func(context.Context) (int, error) {
		calls++
		return 0, errApp
	})
	assert.ErrorIs(t, err, errApp)
	assert.Equal(t, 1, calls)
}

func TestCall_RecoversWithinAttempts(t *testing.T) {
	policy := Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
	br := NewBreaker(policy, isLink)

	calls := 0
	v, err := Call(context.Background(), br, func(context.Context) (string, error) {
		calls++
		if calls < 2 {
			return "", errLink
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 2, calls)
}

func TestCall_OpenWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	br := NewBreaker(Policy{MaxAttempts: 1, OpenFor: time.Minute}, isLink)
	br.now = func() time.Time { return now }

	calls := 0
	op := func(context.Context) (int, error) {
		calls++
		return 0, errLink
	}

	_, err := Call(context.Background(), br, op)
	assert.ErrorIs(t, err, errLink)
	_, err = Call(context.Background(), br, op)
	assert.ErrorIs(t, err, ErrOpen)
	assert.True(t, br.IsTransport(err))
	assert.Equal(t, 1, calls)

	now = now.Add(2 * time.Minute)
	_, err = Call(context.Background(), br, op)
	assert.ErrorIs(t, err, errLink)
	assert.Equal(t, 2, calls)
}

func TestCall_DefaultPolicyNeverOpens(t *testing.T) {
	br := NewBreaker(DefaultPolicy(), isLink)
	calls := 0
	for i := 0; i < 3; i++ {
		_, _ = Call(context.Background(), br, func(context.Context) (int, error) {
			calls++
			return 0, errLink
		})
	}
	assert.Equal(t, 3, calls)
}

// #endregion call-tests
