package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	apihttp "github.com/ric2b/Vivaldi-browser-sub011/internal/api/http"
	"github.com/ric2b/Vivaldi-browser-sub011/internal/api/middleware"
	"github.com/ric2b/Vivaldi-browser-sub011/internal/domain/capabilities"
	"github.com/ric2b/Vivaldi-browser-sub011/internal/domain/profile"
	"github.com/ric2b/Vivaldi-browser-sub011/internal/infrastructure/config"
	"github.com/ric2b/Vivaldi-browser-sub011/internal/infrastructure/logging"
	"github.com/ric2b/Vivaldi-browser-sub011/internal/infrastructure/monitoring"
	"github.com/ric2b/Vivaldi-browser-sub011/internal/infrastructure/resilience"
	"github.com/ric2b/Vivaldi-browser-sub011/internal/infrastructure/tracing"
	"github.com/ric2b/Vivaldi-browser-sub011/internal/providers/autofillassistant"
	"github.com/ric2b/Vivaldi-browser-sub011/internal/shared/id"
)

// Backend is a capabilities service holding a connection that must be released.
type Backend interface {
	capabilities.Service
	Close() error
}

// Server wraps the HTTP server and dependencies
type Server struct {
	config     *config.Config
	router     *gin.Engine
	httpServer *http.Server
	profiles   *profile.Manager
	backend    Backend
	logger     *logging.Logger
	metrics    *monitoring.Metrics
	tracer     *tracing.Tracer
}

// NewServer creates a new server instance talking to the configured backend.
func NewServer(cfg *config.Config) (*Server, error) {
	logger, err := logging.New(logging.ConfigFor(cfg.Logging))
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	logger.Info("Initializing fast checkout capabilities server",
		zap.String("port", cfg.Server.Port),
		zap.String("transport", cfg.Backend.Transport),
	)

	metrics := monitoring.NewMetrics()
	tracer := tracing.New("fastcheckout", logger.Logger)

	backend, err := NewBackend(cfg.Backend, metrics, tracer, logger.ForBackend(cfg.Backend.Transport))
	if err != nil {
		tracer.Close()
		return nil, fmt.Errorf("failed to create capabilities backend: %w", err)
	}
	logger.Info("Capabilities backend ready", zap.String("transport", cfg.Backend.Transport))

	return build(cfg, logger, metrics, tracer, backend), nil
}

// NewWithBackend creates a server on top of an existing backend. The server
// takes ownership of backend and closes it on shutdown.
func NewWithBackend(cfg *config.Config, logger *logging.Logger, backend Backend) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	metrics := monitoring.NewMetrics()
	tracer := tracing.New("fastcheckout", logger.Logger)
	return build(cfg, logger, metrics, tracer, backend)
}

func build(cfg *config.Config, logger *logging.Logger, metrics *monitoring.Metrics, tracer *tracing.Tracer, backend Backend) *Server {
	service := metrics.InstrumentService(backend, cfg.Backend.Transport)

	profiles := profile.NewManager(func(p id.ProfileID) (*capabilities.Fetcher, error) {
		return capabilities.NewFetcher(service, capabilities.Options{
			MaxSize:          cfg.Capabilities.MaxSize,
			Lifetime:         cfg.Capabilities.Lifetime.Std(),
			HashPrefixLength: cfg.Capabilities.HashPrefixLength,
			Intent:           cfg.Capabilities.Intent,
			Logger:           logger.ForProfile(p.String()),
			Recorder:         metrics.ForProfile(p.String()),
		})
	}, logger.Logger).
		WithGauge(metrics).
		WithLimit(cfg.Capabilities.MaxProfiles).
		OnRemove(func(p id.ProfileID) { metrics.ForgetProfile(p.String()) })

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	router.Use(middleware.BodyLimit(middleware.MaxBodySize))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	apihttp.NewHandlers(profiles, metrics, logger.Logger).Register(router)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	addr := cfg.Server.Host + ":" + cfg.Server.Port
	logger.Info("Server initialized successfully")

	return &Server{
		config: cfg,
		router: router,
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		profiles: profiles,
		backend:  backend,
		logger:   logger,
		metrics:  metrics,
		tracer:   tracer,
	}
}

// NewBackend connects to the capabilities service over the configured
// transport. tracer may be nil.
func NewBackend(cfg config.BackendConfig, metrics *monitoring.Metrics, tracer *tracing.Tracer, logger *zap.Logger) (Backend, error) {
	clientContext := autofillassistant.ClientContext{
		ChromeVersion: cfg.ClientVersion,
		Locale:        cfg.Locale,
		Country:       cfg.Country,
	}

	switch cfg.Transport {
	case config.TransportGRPC:
		client, err := autofillassistant.NewGRPCClient(autofillassistant.GRPCConfig{
			Address:       cfg.GRPCAddress,
			APIKey:        cfg.APIKey,
			Timeout:       cfg.Timeout.Std(),
			Insecure:      cfg.GRPCInsecure,
			ClientContext: clientContext,
			Tracer:        tracer,
			Logger:        logger,
		}, grpc.WithUserAgent("fastcheckout/1.0"))
		if err != nil {
			return nil, err
		}
		return client, nil
	case config.TransportHTTP:
		client, err := autofillassistant.NewHTTPClient(autofillassistant.HTTPConfig{
			Endpoint:          cfg.Endpoint,
			APIKey:            cfg.APIKey,
			Timeout:           cfg.Timeout.Std(),
			RetryMax:          cfg.RetryMax,
			RequestsPerSecond: cfg.RequestsPerSecond,
			ClientContext:     clientContext,
			Breaker: resilience.Settings{
				OnStateChange: func(name string, from, to resilience.State) {
					logger.Warn("Circuit breaker state changed",
						zap.String("breaker", name),
						zap.Stringer("from", from),
						zap.Stringer("to", to),
					)
					metrics.SetBreakerState(name, int(to))
				},
			},
			Tracer: tracer,
			Logger: logger,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown backend transport %q", cfg.Transport)
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Profiles returns the profile manager.
func (s *Server) Profiles() *profile.Manager {
	return s.profiles
}

// Run starts the HTTP server and blocks until it stops. A server stopped by
// Shutdown returns nil.
func (s *Server) Run() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, waits for in-flight ones within ctx and
// then releases every resource.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")
	err := s.httpServer.Shutdown(ctx)
	return multierr.Append(err, s.Close())
}

// Close tears down the profiles and the backend connection.
func (s *Server) Close() error {
	s.profiles.Close()

	var err error
	if s.backend != nil {
		if cerr := s.backend.Close(); cerr != nil {
			s.logger.Error("Failed to close capabilities backend", zap.Error(cerr))
			err = multierr.Append(err, fmt.Errorf("failed to close capabilities backend: %w", cerr))
		} else {
			s.logger.Info("Closed capabilities backend")
		}
	}

	s.tracer.Close()
	s.logger.Sync()
	return err
}
