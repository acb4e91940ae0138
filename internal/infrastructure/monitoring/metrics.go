package monitoring

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ric2b/Vivaldi-browser-sub011/internal/domain/capabilities"
)

const namespace = "fastcheckout"

// Metrics holds all Prometheus metrics. Each instance owns its registry.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestSize     *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Capabilities metrics
	CacheStates        *prometheus.CounterVec
	Lookups            *prometheus.CounterVec
	LookupDuration     *prometheus.HistogramVec
	CacheHits          *prometheus.CounterVec
	Coalesced          *prometheus.CounterVec
	ProtocolViolations *prometheus.CounterVec
	ProfilesActive     prometheus.Gauge

	// Backend metrics
	BackendCalls    *prometheus.CounterVec
	BackendDuration *prometheus.HistogramVec
	BreakerState    *prometheus.GaugeVec

	startTime time.Time

	// Snapshot for the health endpoint
	snapshot Snapshot
	mu       sync.RWMutex
}

// Snapshot holds current values reported by the health endpoint.
type Snapshot struct {
	TotalRequests  int64   `json:"total_requests"`
	TotalErrors    int64   `json:"total_errors"`
	TotalLookups   int64   `json:"total_lookups"`
	FailedLookups  int64   `json:"failed_lookups"`
	CacheHits      int64   `json:"cache_hits"`
	ProfilesActive int64   `json:"profiles_active"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
}

// NewMetrics creates a metrics collector with its own registry, including
// the Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	factory := promauto.With(reg)
	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		// HTTP metrics
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		RequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_size_bytes",
				Help:      "HTTP request size in bytes",
				Buckets:   []float64{100, 1000, 10000, 100000, 1000000},
			},
			[]string{"method", "path"},
		),
		ResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_response_size_bytes",
				Help:      "HTTP response size in bytes",
				Buckets:   []float64{100, 1000, 10000, 100000, 1000000},
			},
			[]string{"method", "path"},
		),

		// Capabilities metrics
		CacheStates: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_state_total",
				Help:      "Cache state observed when a trigger form is checked",
			},
			[]string{"profile", "state"},
		),
		Lookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lookups_total",
				Help:      "Capabilities lookups by HTTP-equivalent status",
			},
			[]string{"profile", "status"},
		),
		LookupDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "lookup_duration_seconds",
				Help:      "Capabilities lookup duration in seconds",
				Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"profile"},
		),
		CacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Availability requests answered from the cache",
			},
			[]string{"profile"},
		),
		Coalesced: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "coalesced_total",
				Help:      "Availability requests attached to an ongoing lookup",
			},
			[]string{"profile"},
		),
		ProtocolViolations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "protocol_violations_total",
				Help:      "Lookup completions that arrived without a pending request",
			},
			[]string{"profile"},
		),
		ProfilesActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "profiles_active",
				Help:      "Number of profiles with a live fetcher",
			},
		),

		// Backend metrics
		BackendCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backend_calls_total",
				Help:      "Calls to the capabilities backend",
			},
			[]string{"transport", "outcome"},
		),
		BackendDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "backend_call_duration_seconds",
				Help:      "Capabilities backend call duration in seconds",
				Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"transport"},
		),
		BreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "breaker_state",
				Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open)",
			},
			[]string{"name"},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// Registry returns the registry all metrics are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, reqSize, respSize int64) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.RequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))

	m.mu.Lock()
	m.snapshot.TotalRequests++
	if status != "" && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordBackendCall records one call to the capabilities backend.
func (m *Metrics) RecordBackendCall(transport, outcome string, duration time.Duration) {
	m.BackendCalls.WithLabelValues(transport, outcome).Inc()
	m.BackendDuration.WithLabelValues(transport).Observe(duration.Seconds())
}

// SetBreakerState records the state of a named circuit breaker.
func (m *Metrics) SetBreakerState(name string, state int) {
	m.BreakerState.WithLabelValues(name).Set(float64(state))
}

// SetProfilesActive sets the number of live profiles.
func (m *Metrics) SetProfilesActive(count int) {
	m.ProfilesActive.Set(float64(count))
	m.mu.Lock()
	m.snapshot.ProfilesActive = int64(count)
	m.mu.Unlock()
}

// Snapshot returns a copy of the current counters.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := m.snapshot
	s.UptimeSeconds = time.Since(m.startTime).Seconds()
	return s
}

// ForgetProfile deletes every series labelled with profile. Call it once the
// profile's fetcher is closed.
func (m *Metrics) ForgetProfile(profile string) {
	labels := prometheus.Labels{"profile": profile}
	m.CacheStates.DeletePartialMatch(labels)
	m.Lookups.DeletePartialMatch(labels)
	m.LookupDuration.DeletePartialMatch(labels)
	m.CacheHits.DeletePartialMatch(labels)
	m.Coalesced.DeletePartialMatch(labels)
	m.ProtocolViolations.DeletePartialMatch(labels)
}

// ForProfile returns a fetcher recorder labelled with the profile.
func (m *Metrics) ForProfile(profile string) capabilities.Recorder {
	return &profileRecorder{metrics: m, profile: profile}
}

type profileRecorder struct {
	metrics *Metrics
	profile string
}

func (r *profileRecorder) RecordCacheState(state capabilities.CacheState) {
	r.metrics.CacheStates.WithLabelValues(r.profile, state.String()).Inc()
}

func (r *profileRecorder) RecordLookup(statusCode int, duration time.Duration) {
	r.metrics.Lookups.WithLabelValues(r.profile, strconv.Itoa(statusCode)).Inc()
	r.metrics.LookupDuration.WithLabelValues(r.profile).Observe(duration.Seconds())

	r.metrics.mu.Lock()
	r.metrics.snapshot.TotalLookups++
	if statusCode != 200 {
		r.metrics.snapshot.FailedLookups++
	}
	r.metrics.mu.Unlock()
}

func (r *profileRecorder) RecordCacheHit() {
	r.metrics.CacheHits.WithLabelValues(r.profile).Inc()

	r.metrics.mu.Lock()
	r.metrics.snapshot.CacheHits++
	r.metrics.mu.Unlock()
}

func (r *profileRecorder) RecordCoalesced() {
	r.metrics.Coalesced.WithLabelValues(r.profile).Inc()
}

func (r *profileRecorder) RecordProtocolViolation() {
	r.metrics.ProtocolViolations.WithLabelValues(r.profile).Inc()
}
