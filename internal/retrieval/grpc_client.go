package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
)

// RetrieverService is the gRPC service name of the remote retrieval pipeline.
const RetrieverService = "retrieval.v1.Retriever"

// RunMethod is the full method name of the unary retrieval call.
const RunMethod = "/" + RetrieverService + "/Run"

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
	errNotServing               = errors.New("retrieval service not serving")
)

// GrpcBackend runs retrievals on a remote pipeline service.
type GrpcBackend struct {
	conn   *grpc.ClientConn
	addr   string
	topK   int
	logger *slog.Logger
}

// GrpcBackendConfig holds configuration for the gRPC backend.
type GrpcBackendConfig struct {
	Address          string
	TopK             int
	ConnectTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultGrpcBackendConfig returns default configuration for addr.
func DefaultGrpcBackendConfig(addr string) GrpcBackendConfig {
	return GrpcBackendConfig{
		Address:          addr,
		TopK:             5,
		ConnectTimeout:   5 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// NewGrpcBackend connects to the retrieval service and waits until it is reachable.
// Extra dial options are appended after the defaults.
func NewGrpcBackend(cfg GrpcBackendConfig, logger *slog.Logger, opts ...grpc.DialOption) (*GrpcBackend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}

	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
	if cfg.KeepaliveTime > 0 {
		dialOpts = append(dialOpts, grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                cfg.KeepaliveTime,
			Timeout:             cfg.KeepaliveTimeout,
			PermitWithoutStream: false,
		}))
	}
	dialOpts = append(dialOpts, opts...)

	// Build client connection (no network I/O yet).
	conn, err := grpc.NewClient(cfg.Address, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create retrieval client for %s: %w", cfg.Address, err)
	}

	// Force a connection attempt during startup so we fail fast on bad endpoints.
	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("retrieval service at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to retrieval service", "address", cfg.Address)

	return &GrpcBackend{
		conn:   conn,
		addr:   cfg.Address,
		topK:   cfg.TopK,
		logger: logger,
	}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Close closes the gRPC connection.
func (b *GrpcBackend) Close() {
	if b.conn != nil {
		if err := b.conn.Close(); err != nil {
			b.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}

// Ping checks the standard gRPC health service of the retrieval process.
func (b *GrpcBackend) Ping(ctx context.Context) error {
	resp, err := healthpb.NewHealthClient(b.conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("%w: %s", errNotServing, resp.GetStatus())
	}
	return nil
}

// Run sends the query text to the remote pipeline and returns its documents.
func (b *GrpcBackend) Run(ctx context.Context, text string) ([]Hit, error) {
	req, err := structpb.NewStruct(map[string]any{
		"text":  text,
		"top_k": b.topK,
	})
	if err != nil {
		return nil, fmt.Errorf("build retrieval request: %w", err)
	}

	resp := &structpb.Struct{}
	if err := b.conn.Invoke(ctx, RunMethod, req, resp); err != nil {
		return nil, fmt.Errorf("retrieval request failed: %w", err)
	}
	return decodeHits(resp), nil
}

// decodeHits reads {"documents":[{"content","score","meta":{...}}]}.
// Entries that are not objects are skipped.
func decodeHits(resp *structpb.Struct) []Hit {
	list := resp.GetFields()["documents"].GetListValue()
	hits := make([]Hit, 0, len(list.GetValues()))
	for _, v := range list.GetValues() {
		doc := v.GetStructValue()
		if doc == nil {
			continue
		}
		fields := doc.GetFields()
		meta := fields["meta"].GetStructValue().GetFields()
		hits = append(hits, Hit{
			Content:  fields["content"].GetStringValue(),
			Score:    fields["score"].GetNumberValue(),
			Title:    meta["title"].GetStringValue(),
			Path:     meta["file_path"].GetStringValue(),
			SourceID: meta["source_id"].GetStringValue(),
		})
	}
	return hits
}
