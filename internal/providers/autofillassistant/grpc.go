package autofillassistant

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/ric2b/Vivaldi-browser-sub011/internal/domain/capabilities"
	"github.com/ric2b/Vivaldi-browser-sub011/internal/infrastructure/tracing"
)

// GetCapabilitiesMethod is the full gRPC method name of the lookup.
const GetCapabilitiesMethod = "/autofill_assistant.AutofillAssistantService/GetCapabilitiesByHashPrefix"

const apiKeyMetadata = "x-goog-api-key"

// GRPCConfig configures the gRPC transport.
type GRPCConfig struct {
	Address       string
	APIKey        string
	Timeout       time.Duration
	Insecure      bool
	ClientContext ClientContext
	Tracer        *tracing.Tracer
	Logger        *zap.Logger
}

// GRPCClient looks up capabilities over gRPC.
type GRPCClient struct {
	conn    *grpc.ClientConn
	apiKey  string
	timeout time.Duration
	cc      ClientContext
	logger  *zap.Logger
}

// NewGRPCClient creates the gRPC transport. The connection is established
// lazily on the first call. Extra dial options are appended last.
func NewGRPCClient(cfg GRPCConfig, opts ...grpc.DialOption) (*GRPCClient, error) {
	if cfg.Address == "" {
		return nil, errors.New("autofill assistant grpc address is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	creds := credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	if cfg.Insecure {
		creds = insecure.NewCredentials()
	}
	dialOpts := []grpc.DialOption{grpc.WithTransportCredentials(creds)}
	if cfg.Tracer != nil {
		dialOpts = append(dialOpts, grpc.WithUnaryInterceptor(tracing.GRPCClientInterceptor(cfg.Tracer)))
	}
	dialOpts = append(dialOpts, opts...)

	conn, err := grpc.NewClient(cfg.Address, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc client for %s: %w", cfg.Address, err)
	}

	return &GRPCClient{
		conn:    conn,
		apiKey:  cfg.APIKey,
		timeout: cfg.Timeout,
		cc:      cfg.ClientContext,
		logger:  logger.Named("autofillassistant"),
	}, nil
}

// GetCapabilitiesByHashPrefix invokes the lookup RPC. gRPC status codes are
// reported as their HTTP equivalents; only a cancelled or expired caller
// context is returned as an error.
func (c *GRPCClient) GetCapabilitiesByHashPrefix(ctx context.Context, req capabilities.LookupRequest) (capabilities.LookupResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if c.apiKey != "" {
		callCtx = metadata.AppendToOutgoingContext(callCtx, apiKeyMetadata, c.apiKey)
	}

	var resp CapabilitiesResponse
	err := c.conn.Invoke(callCtx, GetCapabilitiesMethod, newCapabilitiesRequest(req, c.cc), &resp,
		grpc.ForceCodec(wireCodec{}))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return capabilities.LookupResponse{}, ctxErr
		}
		code := status.Code(err)
		c.logger.Debug("capabilities rpc failed",
			zap.String("code", code.String()),
			zap.Error(err),
		)
		return capabilities.LookupResponse{StatusCode: HTTPStatusFromCode(code)}, nil
	}

	return lookupResponse(http.StatusOK, &resp), nil
}

// Close tears down the connection.
func (c *GRPCClient) Close() error {
	return c.conn.Close()
}

// HTTPStatusFromCode maps a gRPC status code to the HTTP status the fetcher
// understands.
func HTTPStatusFromCode(code codes.Code) int {
	switch code {
	case codes.OK:
		return http.StatusOK
	case codes.NotFound:
		return http.StatusNotFound
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
