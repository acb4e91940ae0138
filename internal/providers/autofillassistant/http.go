package autofillassistant

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ric2b/Vivaldi-browser-sub011/internal/domain/capabilities"
	"github.com/ric2b/Vivaldi-browser-sub011/internal/infrastructure/resilience"
	"github.com/ric2b/Vivaldi-browser-sub011/internal/infrastructure/tracing"
)

// CapabilitiesPath is the REST path of the capabilities lookup.
const CapabilitiesPath = "/v1/capabilitiesByHashPrefix"

// APIKeyHeader carries the API key on HTTP requests.
const APIKeyHeader = "X-Goog-Api-Key"

const protobufContentType = "application/x-protobuf"

// errServerStatus marks a 5xx response so the breaker counts it as a failure.
var errServerStatus = errors.New("server error status")

// HTTPConfig configures the HTTP transport.
type HTTPConfig struct {
	Endpoint          string
	APIKey            string
	Timeout           time.Duration
	RetryMax          int
	RetryWaitMin      time.Duration
	RetryWaitMax      time.Duration
	RequestsPerSecond float64 // zero or less disables client-side limiting
	ClientContext     ClientContext
	Breaker           resilience.Settings
	Tracer            *tracing.Tracer
	Logger            *zap.Logger
}

// HTTPClient looks up capabilities over HTTP with retries, client-side rate
// limiting and a circuit breaker.
type HTTPClient struct {
	resty   *resty.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
	url     string
	apiKey  string
	cc      ClientContext
	tracer  *tracing.Tracer
	logger  *zap.Logger
}

// NewHTTPClient creates the HTTP transport.
func NewHTTPClient(cfg HTTPConfig) (*HTTPClient, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("autofill assistant endpoint is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryWaitMin <= 0 {
		cfg.RetryWaitMin = 100 * time.Millisecond
	}
	if cfg.RetryWaitMax <= 0 {
		cfg.RetryWaitMax = 2 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("autofillassistant")

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.RetryMax
	retryClient.RetryWaitMin = cfg.RetryWaitMin
	retryClient.RetryWaitMax = cfg.RetryWaitMax
	retryClient.Logger = leveledLogger{logger.Sugar()}
	// The last response is handed back as is, so a persistent 5xx still
	// reaches the fetcher as a status code.
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	restyClient := resty.NewWithClient(retryClient.StandardClient()).
		SetTimeout(cfg.Timeout).
		SetLogger(logger.Sugar()).
		SetHeader("User-Agent", "fastcheckout/1.0").
		SetHeader("Content-Type", protobufContentType).
		SetHeader("Accept", protobufContentType)

	restyClient.OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
		headers := make(map[string]string)
		tracing.InjectTraceContext(r.Context(), headers)
		r.SetHeaders(headers)
		return nil
	})

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	settings := cfg.Breaker
	if settings.ReadyToTrip == nil {
		settings.ReadyToTrip = func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 5 ||
				(counts.Requests >= 20 && float64(counts.TotalFailures)/float64(counts.Requests) > 0.5)
		}
	}
	if settings.Timeout == 0 {
		settings.Timeout = 30 * time.Second
	}
	if settings.IsFailure == nil {
		settings.IsFailure = func(err error) bool {
			return err != nil && !errors.Is(err, context.Canceled)
		}
	}

	return &HTTPClient{
		resty:   restyClient,
		limiter: limiter,
		breaker: resilience.New("autofill-assistant-http", settings),
		url:     strings.TrimRight(cfg.Endpoint, "/") + CapabilitiesPath,
		apiKey:  cfg.APIKey,
		cc:      cfg.ClientContext,
		tracer:  cfg.Tracer,
		logger:  logger,
	}, nil
}

// GetCapabilitiesByHashPrefix posts the lookup and decodes the response.
// Non-200 responses are reported through StatusCode with no records. Transport
// failures, an open breaker and undecodable bodies are returned as errors.
func (c *HTTPClient) GetCapabilitiesByHashPrefix(ctx context.Context, req capabilities.LookupRequest) (capabilities.LookupResponse, error) {
	if c.tracer != nil {
		var span *tracing.Span
		span, ctx = c.tracer.StartSpan(ctx, "autofillassistant.http.GetCapabilitiesByHashPrefix")
		span.SetTag("span.kind", "client")
		defer func() {
			span.Finish()
			c.tracer.Submit(span)
		}()
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return capabilities.LookupResponse{}, fmt.Errorf("rate limit error: %w", err)
	}

	body := newCapabilitiesRequest(req, c.cc).Marshal()

	var resp *resty.Response
	err := c.breaker.Execute(func() error {
		r := c.resty.R().SetContext(ctx).SetBody(body)
		if c.apiKey != "" {
			r.SetHeader(APIKeyHeader, c.apiKey)
		}

		var err error
		resp, err = r.Post(c.url)
		if err != nil {
			return err
		}
		if resp.StatusCode() >= http.StatusInternalServerError {
			return errServerStatus
		}
		return nil
	})

	switch {
	case errors.Is(err, errServerStatus):
	case errors.Is(err, resilience.ErrCircuitOpen), errors.Is(err, resilience.ErrTooManyRequests):
		return capabilities.LookupResponse{}, fmt.Errorf("capabilities service unavailable: %w", err)
	case err != nil:
		return capabilities.LookupResponse{}, fmt.Errorf("capabilities request failed: %w", err)
	}

	status := resp.StatusCode()
	if status != http.StatusOK {
		c.logger.Debug("capabilities lookup returned non-OK status",
			zap.Int("status", status),
			zap.Int("prefixes", len(req.HashPrefixes)),
		)
		return capabilities.LookupResponse{StatusCode: status}, nil
	}

	var decoded CapabilitiesResponse
	if err := decoded.Unmarshal(resp.Body()); err != nil {
		return capabilities.LookupResponse{}, fmt.Errorf("decode capabilities response: %w", err)
	}
	return lookupResponse(status, &decoded), nil
}

// BreakerState returns the current circuit breaker state.
func (c *HTTPClient) BreakerState() resilience.State {
	return c.breaker.State()
}

// Close releases idle connections.
func (c *HTTPClient) Close() error {
	c.resty.GetClient().CloseIdleConnections()
	return nil
}

// leveledLogger adapts zap to retryablehttp's key/value logger.
type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, keysAndValues...)
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Infow(msg, keysAndValues...)
}

func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.s.Warnw(msg, keysAndValues...)
}
