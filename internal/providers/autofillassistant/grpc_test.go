package autofillassistant

import (
	"context"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/ric2b/Vivaldi-browser-sub011/internal/domain/capabilities"
	"github.com/ric2b/Vivaldi-browser-sub011/internal/infrastructure/tracing"
)

// fakeBackend serves the capabilities method over an in-memory listener.
type fakeBackend struct {
	mu       sync.Mutex
	method   string
	request  CapabilitiesRequest
	metadata metadata.MD

	respond func(*CapabilitiesRequest) (*CapabilitiesResponse, error)
}

func (b *fakeBackend) handle(_ interface{}, stream grpc.ServerStream) error {
	method, _ := grpc.MethodFromServerStream(stream)
	md, _ := metadata.FromIncomingContext(stream.Context())

	var req CapabilitiesRequest
	if err := stream.RecvMsg(&req); err != nil {
		return err
	}

	b.mu.Lock()
	b.method = method
	b.request = req
	b.metadata = md
	b.mu.Unlock()

	if method != GetCapabilitiesMethod {
		return status.Error(codes.Unimplemented, "unknown method")
	}
	resp, err := b.respond(&req)
	if err != nil {
		return err
	}
	return stream.SendMsg(resp)
}

func startBackend(t *testing.T, respond func(*CapabilitiesRequest) (*CapabilitiesResponse, error)) (*fakeBackend, *bufconn.Listener) {
	t.Helper()
	backend := &fakeBackend{respond: respond}
	lis := bufconn.Listen(1 << 20)

	srv := grpc.NewServer(
		grpc.ForceServerCodec(wireCodec{}),
		grpc.UnknownServiceHandler(backend.handle),
	)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	return backend, lis
}

func newTestGRPCClient(t *testing.T, lis *bufconn.Listener, mutate func(*GRPCConfig)) *GRPCClient {
	t.Helper()
	cfg := GRPCConfig{
		Address:       "passthrough:///bufnet",
		Insecure:      true,
		Timeout:       2 * time.Second,
		ClientContext: ClientContext{ChromeVersion: "120.0"},
		Logger:        zap.NewNop(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := NewGRPCClient(cfg, grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestGRPCClientSuccess(t *testing.T) {
	backend, lis := startBackend(t, func(*CapabilitiesRequest) (*CapabilitiesResponse, error) {
		return shopResponse(), nil
	})

	tracer := tracing.New("test", zap.NewNop())
	t.Cleanup(tracer.Close)
	c := newTestGRPCClient(t, lis, func(cfg *GRPCConfig) {
		cfg.APIKey = "key-2"
		cfg.Tracer = tracer
	})

	resp, err := c.GetCapabilitiesByHashPrefix(context.Background(), testLookup)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, resp.Capabilities, 1)
	assert.Equal(t, "https://shop.example/", resp.Capabilities[0].URL)
	assert.Equal(t, []capabilities.FormSignature{42}, resp.Capabilities[0].Bundle.TriggerFormSignatures)

	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.Equal(t, GetCapabilitiesMethod, backend.method)
	assert.Equal(t, []uint64{1234}, backend.request.HashPrefixes)
	assert.Equal(t, "120.0", backend.request.ClientContext.ChromeVersion)
	assert.Equal(t, []string{"key-2"}, backend.metadata.Get(apiKeyMetadata))
	assert.Len(t, backend.metadata.Get("x-trace-id"), 1)
}

func TestGRPCClientMapsStatusCodes(t *testing.T) {
	tests := []struct {
		code codes.Code
		want int
	}{
		{codes.NotFound, http.StatusNotFound},
		{codes.InvalidArgument, http.StatusBadRequest},
		{codes.PermissionDenied, http.StatusForbidden},
		{codes.Unauthenticated, http.StatusUnauthorized},
		{codes.ResourceExhausted, http.StatusTooManyRequests},
		{codes.Unavailable, http.StatusServiceUnavailable},
		{codes.DeadlineExceeded, http.StatusGatewayTimeout},
		{codes.Internal, http.StatusInternalServerError},
		{codes.Aborted, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			_, lis := startBackend(t, func(*CapabilitiesRequest) (*CapabilitiesResponse, error) {
				return nil, status.Error(tt.code, "nope")
			})
			c := newTestGRPCClient(t, lis, nil)

			resp, err := c.GetCapabilitiesByHashPrefix(context.Background(), testLookup)
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)
			assert.Empty(t, resp.Capabilities)
		})
	}

	assert.Equal(t, http.StatusOK, HTTPStatusFromCode(codes.OK))
}

func TestGRPCClientCancelledContextIsAnError(t *testing.T) {
	block := make(chan struct{})
	_, lis := startBackend(t, func(*CapabilitiesRequest) (*CapabilitiesResponse, error) {
		<-block
		return shopResponse(), nil
	})
	defer close(block)
	c := newTestGRPCClient(t, lis, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := c.GetCapabilitiesByHashPrefix(ctx, testLookup)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGRPCClientTimeoutIsAStatus(t *testing.T) {
	block := make(chan struct{})
	_, lis := startBackend(t, func(*CapabilitiesRequest) (*CapabilitiesResponse, error) {
		<-block
		return shopResponse(), nil
	})
	defer close(block)
	c := newTestGRPCClient(t, lis, func(cfg *GRPCConfig) { cfg.Timeout = 20 * time.Millisecond })

	resp, err := c.GetCapabilitiesByHashPrefix(context.Background(), testLookup)
	require.NoError(t, err)
	assert.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)
}

func TestNewGRPCClientRequiresAddress(t *testing.T) {
	_, err := NewGRPCClient(GRPCConfig{})
	assert.Error(t, err)
}

func TestWireCodecRejectsForeignTypes(t *testing.T) {
	_, err := wireCodec{}.Marshal("text")
	assert.Error(t, err)
	assert.Error(t, wireCodec{}.Unmarshal(nil, new(int)))
	assert.Equal(t, "proto", wireCodec{}.Name())
}
