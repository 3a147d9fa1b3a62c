package services

import (
	"context"
	"fmt"
	"time"

	"VitalsAI/go-backend/internal/models"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// EstimatorClient calls the external inference service over gRPC.
type EstimatorClient struct {
	conn    *grpc.ClientConn
	health  healthpb.HealthClient
	addr    string
	timeout time.Duration
	logger  *zap.Logger
}

// NewEstimatorClient creates a lazily connecting client. extra options are
// appended to the defaults, which tests use to dial a bufconn listener.
func NewEstimatorClient(addr string, timeout time.Duration, logger *zap.Logger, extra ...grpc.DialOption) (*EstimatorClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("connecting to estimator", zap.String("addr", addr))

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(50*1024*1024),
			grpc.MaxCallSendMsgSize(50*1024*1024),
		),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                10 * time.Second,
			Timeout:             3 * time.Second,
			PermitWithoutStream: true,
		}),
	}
	opts = append(opts, extra...)

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("create estimator client for %s: %w", addr, err)
	}

	return &EstimatorClient{
		conn:    conn,
		health:  healthpb.NewHealthClient(conn),
		addr:    addr,
		timeout: timeout,
		logger:  logger,
	}, nil
}

// Estimate sends one encoded frame and decodes the observation.
func (c *EstimatorClient) Estimate(ctx context.Context, frame []byte) (models.FrameObservation, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, estimateMethod, wrapperspb.Bytes(frame), out); err != nil {
		return models.FrameObservation{}, fmt.Errorf("estimate: %w", err)
	}
	obs, err := ObservationFromStruct(out)
	if err != nil {
		return models.FrameObservation{}, fmt.Errorf("decode observation: %w", err)
	}
	return obs, nil
}

func (c *EstimatorClient) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		c.logger.Debug("estimator health check failed", zap.Error(err))
		return false
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
}

func (c *EstimatorClient) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
