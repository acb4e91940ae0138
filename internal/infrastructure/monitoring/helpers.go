package monitoring

import (
	"context"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ric2b/Vivaldi-browser-sub011/internal/domain/capabilities"
)

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// InstrumentService wraps svc so every lookup is counted under transport.
func (m *Metrics) InstrumentService(svc capabilities.Service, transport string) capabilities.Service {
	return &instrumentedService{next: svc, metrics: m, transport: transport}
}

type instrumentedService struct {
	next      capabilities.Service
	metrics   *Metrics
	transport string
}

func (s *instrumentedService) GetCapabilitiesByHashPrefix(ctx context.Context, req capabilities.LookupRequest) (capabilities.LookupResponse, error) {
	timer := NewTimer(s.metrics, s.transport)
	resp, err := s.next.GetCapabilitiesByHashPrefix(ctx, req)
	switch {
	case err != nil:
		timer.Stop("error")
	case resp.StatusCode == http.StatusOK:
		timer.Stop("ok")
	default:
		timer.Stop("status_" + strconv.Itoa(resp.StatusCode))
	}
	return resp, err
}
