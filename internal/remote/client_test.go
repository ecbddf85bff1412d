package remote

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/danielpatrickdp/nudge-controller/internal/bandit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

// #region mock
type mockBanditService struct {
	BanditServiceClient

	actReq  *structpb.Struct
	actResp *structpb.Struct
	actErr  error

	updateReq  *structpb.Struct
	updateResp *structpb.Struct
	updateErr  error
}

func (m *mockBanditService) Act(_ context.Context, in *structpb.Struct, _ ...grpc.CallOption) (*structpb.Struct, error) {
	m.actReq = in
	return m.actResp, m.actErr
}

func (m *mockBanditService) Update(_ context.Context, in *structpb.Struct, _ ...grpc.CallOption) (*structpb.Struct, error) {
	m.updateReq = in
	return m.updateResp, m.updateErr
}

// #endregion mock

// #region act-tests
func TestAct_Success(t *testing.T) {
	mock := &mockBanditService{actResp: actResponse(2, []float64{0.1, 0.2, 0.9})}
	c := NewClientWithService(mock, 7, 3, time.Second)

	d, err := c.Act(context.Background(), []float64{1, 0})
	require.NoError(t, err)
	assert.Equal(t, 2, d.Action)
	assert.Equal(t, []float64{0.1, 0.2, 0.9}, d.Scores)
	assert.Equal(t, bandit.SourceRemote, d.Source)

	clientID, err := readInt(mock.actReq, fieldClientID)
	require.NoError(t, err)
	assert.Equal(t, 7, clientID)
	assert.True(t, mock.actReq.GetFields()[fieldWantScores].GetBoolValue())
}

func TestAct_UnavailableIsTransport(t *testing.T) {
	mock := &mockBanditService{actErr: status.Error(codes.Unavailable, "connection refused")}
	c := NewClientWithService(mock, 0, 2, time.Second)

	_, err := c.Act(context.Background(), []float64{1})
	require.Error(t, err)
	assert.True(t, IsTransport(err))
}

func TestAct_InvalidArgumentIsApplication(t *testing.T) {
	mock := &mockBanditService{actErr: status.Error(codes.InvalidArgument, "bad context")}
	c := NewClientWithService(mock, 0, 2, time.Second)

	_, err := c.Act(context.Background(), []float64{1})
	require.Error(t, err)
	assert.False(t, IsTransport(err))

	var re *Error
	require.True(t, errors.As(err, &re))
	assert.Equal(t, codes.InvalidArgument, re.Code)
}

func TestAct_MalformedResponseIsTransport(t *testing.T) {
	bad := &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldAction: structpb.NewStringValue("two"),
	}}
	c := NewClientWithService(&mockBanditService{actResp: bad}, 0, 2, time.Second)

	_, err := c.Act(context.Background(), []float64{1})
	require.Error(t, err)
	assert.True(t, IsTransport(err))
}

func TestAct_ActionOutOfRangeIsTransport(t *testing.T) {
	mock := &mockBanditService{actResp: actResponse(99, []float64{0.1, 0.2})}
	c := NewClientWithService(mock, 0, 2, time.Second)

	_, err := c.Act(context.Background(), []float64{1})
	require.Error(t, err)
	assert.True(t, IsTransport(err))

	var re *Error
	require.True(t, errors.As(err, &re))
	assert.Equal(t, codes.DataLoss, re.Code)
}

func TestAct_ScoreLengthMismatchIsTransport(t *testing.T) {
	mock := &mockBanditService{actResp: actResponse(1, []float64{0.1, 0.2, 0.3})}
	c := NewClientWithService(mock, 0, 2, time.Second)

	_, err := c.Act(context.Background(), []float64{1})
	require.Error(t, err)
	assert.True(t, IsTransport(err))

	mock.actResp = actResponse(1, nil)
	_, err = c.Act(context.Background(), []float64{1})
	assert.True(t, IsTransport(err))
}

func TestAct_CodecInternalIsTransport(t *testing.T) {
	mock := &mockBanditService{actErr: status.Error(codes.Internal, "grpc: failed to unmarshal the received message")}
	c := NewClientWithService(mock, 0, 2, time.Second)

	_, err := c.Act(context.Background(), []float64{1})
	assert.True(t, IsTransport(err))

	mock.actErr = status.Error(codes.Internal, "model exploded")
	_, err = c.Act(context.Background(), []float64{1})
	assert.False(t, IsTransport(err))
}

func TestAct_NonStatusErrorIsTransport(t *testing.T) {
	c := NewClientWithService(&mockBanditService{actErr: errors.New("broken pipe")}, 0, 2, time.Second)
	_, err := c.Act(context.Background(), []float64{1})
	assert.True(t, IsTransport(err))
}

// #endregion act-tests

// #region update-tests
func TestUpdate_Success(t *testing.T) {
	mock := &mockBanditService{updateResp: ackResponse()}
	c := NewClientWithService(mock, 3, 2, time.Second)

	require.NoError(t, c.Update(context.Background(), []float64{0.5, 1}, 1, 0.25))

	action, err := readInt(mock.updateReq, fieldAction)
	require.NoError(t, err)
	assert.Equal(t, 1, action)
	reward, err := readNumber(mock.updateReq, fieldReward)
	require.NoError(t, err)
	assert.Equal(t, 0.25, reward)
}

func TestUpdate_Error(t *testing.T) {
	mock := &mockBanditService{updateErr: status.Error(codes.DeadlineExceeded, "slow")}
	c := NewClientWithService(mock, 0, 2, time.Second)

	err := c.Update(context.Background(), []float64{1}, 0, 1)
	require.Error(t, err)
	assert.True(t, IsTransport(err))
	assert.ErrorIs(t, err, mock.updateErr)
}

// #endregion update-tests

// #region bufconn-tests

func startBufServer(t *testing.T, dim, arms int) (*Server, *bufconn.Listener) {
	t.Helper()
	cfg := DefaultServerConfig(dim, arms)
	cfg.Bandit = bandit.Config{Alpha: 1, Lambda: 1}
	srv, err := NewServer(cfg, nil, nil)
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return srv, lis
}

func dialBuf(t *testing.T, lis *bufconn.Listener) *Client {
	t.Helper()
	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewClientWithService(NewBanditServiceClient(conn), 0, 2, 2*time.Second)
}

func TestRoundTripOverGRPC(t *testing.T) {
	_, lis := startBufServer(t, 2, 2)
	c := dialBuf(t, lis)
	ctx := context.Background()

	d, err := c.Act(ctx, []float64{1, 0})
	require.NoError(t, err)
	assert.Equal(t, 0, d.Action)
	assert.InDeltaSlice(t, []float64{1, 1}, d.Scores, 1e-12)

	require.NoError(t, c.Update(ctx, []float64{1, 0}, 1, 1))

	d, err = c.Act(ctx, []float64{1, 0})
	require.NoError(t, err)
	assert.Equal(t, 1, d.Action)
	assert.Greater(t, d.Scores[1], d.Scores[0])
}

func TestServerRejectsWrongDimension(t *testing.T) {
	_, lis := startBufServer(t, 3, 2)
	c := dialBuf(t, lis)

	_, err := c.Act(context.Background(), []float64{1, 0})
	require.Error(t, err)
	assert.False(t, IsTransport(err))

	var re *Error
	require.True(t, errors.As(err, &re))
	assert.Equal(t, codes.InvalidArgument, re.Code)
}

func TestStoppedServerIsTransport(t *testing.T) {
	srv, lis := startBufServer(t, 2, 2)
	c := dialBuf(t, lis)
	srv.Stop()

	_, err := c.Act(context.Background(), []float64{1, 0})
	require.Error(t, err)
	assert.True(t, IsTransport(err), "got %v", err)
}

// #endregion bufconn-tests

// #region registry-tests

type memModelStore struct {
	snaps map[int]bandit.Snapshot
	saves int
}

func (m *memModelStore) LoadModel(_ context.Context, id int) (bandit.Snapshot, bool, error) {
	s, ok := m.snaps[id]
	return s, ok, nil
}

func (m *memModelStore) SaveModel(_ context.Context, id int, snap bandit.Snapshot) error {
	m.snaps[id] = snap
	m.saves++
	return nil
}

func TestRegistryRestoresSnapshot(t *testing.T) {
	ctx := context.Background()
	seed, err := bandit.NewLinUCB(2, 2, bandit.Config{Alpha: 1, Lambda: 1})
	require.NoError(t, err)
	require.NoError(t, seed.Update(ctx, []float64{1, 0}, 1, 1))

	store := &memModelStore{snaps: map[int]bandit.Snapshot{4: seed.Snapshot()}}
	reg := NewRegistry(2, 2, bandit.Config{Alpha: 1, Lambda: 1}, store, nil)

	m, err := reg.Model(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, seed.Snapshot(), m.Snapshot())

	again, err := reg.Model(ctx, 4)
	require.NoError(t, err)
	assert.Same(t, m, again)

	fresh, err := reg.Model(ctx, 5)
	require.NoError(t, err)
	assert.NotSame(t, m, fresh)
}

func TestServiceUpdateSavesSnapshot(t *testing.T) {
	ctx := context.Background()
	store := &memModelStore{snaps: map[int]bandit.Snapshot{}}
	svc := &banditService{
		registry: NewRegistry(2, 2, bandit.Config{Alpha: 1, Lambda: 1}, store, nil),
		log:      zap.NewNop(),
	}
	_, err := svc.Update(ctx, updateRequest(9, []float64{1, 1}, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, store.saves)
	_, ok := store.snaps[9]
	assert.True(t, ok)
}

// #endregion registry-tests
