package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"VitalsAI/go-backend/internal/session"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	monitorService  = "vitals.v1.Monitor"
	getStatusMethod = "/" + monitorService + "/GetSessionStatus"
)

// MonitorServer answers session status queries for care dashboards.
type MonitorServer interface {
	GetSessionStatus(ctx context.Context, id *wrapperspb.StringValue) (*structpb.Struct, error)
}

type GRPCHandler struct {
	sessions Sessions
	logger   *zap.Logger
}

func NewGRPCHandler(sessions Sessions, logger *zap.Logger) *GRPCHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GRPCHandler{sessions: sessions, logger: logger}
}

func (h *GRPCHandler) GetSessionStatus(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	id := req.GetValue()
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "session id is required")
	}

	actor, err := h.sessions.Get(id)
	if errors.Is(err, session.ErrSessionNotFound) {
		return nil, status.Errorf(codes.NotFound, "session %s not found", id)
	}
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	view, err := actor.Query(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, status.Error(codes.DeadlineExceeded, "session did not respond")
		}
		return nil, status.FromContextError(err).Err()
	}

	out, err := toStruct(view.Snapshot)
	if err != nil {
		h.logger.Error("encode session status", zap.String("session_id", id), zap.Error(err))
		return nil, status.Error(codes.Internal, "encoding status failed")
	}
	return out, nil
}

func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

func RegisterMonitorServer(s grpc.ServiceRegistrar, srv MonitorServer) {
	s.RegisterService(&monitorServiceDesc, srv)
}

var monitorServiceDesc = grpc.ServiceDesc{
	ServiceName: monitorService,
	HandlerType: (*MonitorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetSessionStatus", Handler: getStatusHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "vitals/v1/monitor.proto",
}

func getStatusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MonitorServer).GetSessionStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getStatusMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(MonitorServer).GetSessionStatus(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

// NewGRPCServer builds the server with the Monitor and health services
// registered. The health server is returned so callers can flip its status on
// shutdown.
func NewGRPCServer(h *GRPCHandler, maxMessageBytes int) (*grpc.Server, *health.Server) {
	s := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.MaxRecvMsgSize(maxMessageBytes),
		grpc.MaxSendMsgSize(maxMessageBytes),
		grpc.ConnectionTimeout(10*time.Second),
	)
	RegisterMonitorServer(s, h)
	hs := health.NewServer()
	hs.SetServingStatus(monitorService, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)
	return s, hs
}

// SessionStatus calls Monitor/GetSessionStatus over conn.
func SessionStatus(ctx context.Context, conn grpc.ClientConnInterface, id string) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := conn.Invoke(ctx, getStatusMethod, wrapperspb.String(id), out); err != nil {
		return nil, err
	}
	return out, nil
}
