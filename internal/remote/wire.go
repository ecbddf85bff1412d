package remote

import (
	"context"
	"fmt"
	"math"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// #region service-desc

// The bandit service speaks google.protobuf.Struct in both directions so the
// Python and Go sides share one contract without generated stubs.
const (
	serviceName  = "nudge.bandit.v1.Bandit"
	actMethod    = "/" + serviceName + "/Act"
	updateMethod = "/" + serviceName + "/Update"
)

// BanditServiceServer is the server API for the bandit service.
type BanditServiceServer interface {
	Act(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Update(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// BanditServiceClient is the client API for the bandit service.
type BanditServiceClient interface {
	Act(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	Update(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type banditServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewBanditServiceClient binds the client API to a connection.
func NewBanditServiceClient(cc grpc.ClientConnInterface) BanditServiceClient {
	return &banditServiceClient{cc: cc}
}

func (c *banditServiceClient) Act(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, actMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *banditServiceClient) Update(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, updateMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// RegisterBanditServiceServer registers srv on s.
func RegisterBanditServiceServer(s grpc.ServiceRegistrar, srv BanditServiceServer) {
	s.RegisterService(&banditServiceDesc, srv)
}

func actHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BanditServiceServer).Act(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: actMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(BanditServiceServer).Act(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func updateHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BanditServiceServer).Update(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: updateMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(BanditServiceServer).Update(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var banditServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*BanditServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Act", Handler: actHandler},
		{MethodName: "Update", Handler: updateHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "nudge/bandit/v1/bandit.proto",
}

// #endregion service-desc

// #region payloads

// Field names shared by requests and responses.
const (
	fieldClientID   = "client_id"
	fieldContext    = "context"
	fieldWantScores = "want_scores"
	fieldAction     = "action"
	fieldReward     = "reward"
	fieldScores     = "scores"
	fieldAck        = "ack"
)

func floatList(xs []float64) *structpb.Value {
	vals := make([]*structpb.Value, len(xs))
	for i, x := range xs {
		vals[i] = structpb.NewNumberValue(x)
	}
	return structpb.NewListValue(&structpb.ListValue{Values: vals})
}

func readFloats(s *structpb.Struct, field string) ([]float64, error) {
	v, ok := s.GetFields()[field]
	if !ok {
		return nil, fmt.Errorf("missing field %q", field)
	}
	list := v.GetListValue()
	if list == nil {
		return nil, fmt.Errorf("field %q is not a list", field)
	}
	out := make([]float64, len(list.GetValues()))
	for i, item := range list.GetValues() {
		n, ok := item.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return nil, fmt.Errorf("field %q[%d] is not a number", field, i)
		}
		out[i] = n.NumberValue
	}
	return out, nil
}

func readNumber(s *structpb.Struct, field string) (float64, error) {
	v, ok := s.GetFields()[field]
	if !ok {
		return 0, fmt.Errorf("missing field %q", field)
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, fmt.Errorf("field %q is not a number", field)
	}
	return n.NumberValue, nil
}

func readInt(s *structpb.Struct, field string) (int, error) {
	f, err := readNumber(s, field)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("field %q is not an integer: %v", field, f)
	}
	return int(f), nil
}

func actRequest(clientID int, x []float64, wantScores bool) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldClientID:   structpb.NewNumberValue(float64(clientID)),
		fieldContext:    floatList(x),
		fieldWantScores: structpb.NewBoolValue(wantScores),
	}}
}

func updateRequest(clientID int, x []float64, action int, reward float64) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldClientID: structpb.NewNumberValue(float64(clientID)),
		fieldContext:  floatList(x),
		fieldAction:   structpb.NewNumberValue(float64(action)),
		fieldReward:   structpb.NewNumberValue(reward),
	}}
}

func actResponse(action int, scores []float64) *structpb.Struct {
	fields := map[string]*structpb.Value{
		fieldAction: structpb.NewNumberValue(float64(action)),
	}
	if scores != nil {
		fields[fieldScores] = floatList(scores)
	}
	return &structpb.Struct{Fields: fields}
}

func ackResponse() *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldAck: structpb.NewBoolValue(true),
	}}
}

// #endregion payloads
