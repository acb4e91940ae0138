package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ric2b/Vivaldi-browser-sub011/internal/domain/capabilities"
	"github.com/ric2b/Vivaldi-browser-sub011/internal/infrastructure/config"
	"github.com/ric2b/Vivaldi-browser-sub011/internal/providers/autofillassistant"
)

type mockBackend struct {
	mock.Mock
}

func (m *mockBackend) GetCapabilitiesByHashPrefix(ctx context.Context, req capabilities.LookupRequest) (capabilities.LookupResponse, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(capabilities.LookupResponse), args.Error(1)
}

func (m *mockBackend) Close() error {
	return m.Called().Error(0)
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Logging.Level = "error"
	cfg.RateLimit.Enabled = false
	return cfg
}

func get(t *testing.T, h http.Handler, target string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec.Code, rec.Body.String()
}

func TestServerWithBackend(t *testing.T) {
	backend := &mockBackend{}
	backend.On("GetCapabilitiesByHashPrefix", mock.Anything, mock.MatchedBy(func(req capabilities.LookupRequest) bool {
		return req.HashPrefixLength == 15 && req.Intent == "CHROME_FAST_CHECKOUT" && len(req.HashPrefixes) == 1
	})).Return(capabilities.LookupResponse{
		StatusCode: http.StatusOK,
		Capabilities: []capabilities.Info{{
			URL:    "https://shop.example/",
			Bundle: &capabilities.BundleCapabilities{TriggerFormSignatures: []capabilities.FormSignature{42}},
		}},
	}, nil).Once()
	backend.On("Close").Return(nil).Once()

	srv := NewWithBackend(testConfig(), nil, backend)

	code, body := get(t, srv.Handler(), "/profiles/alice/capabilities?origin=https://shop.example")
	require.Equal(t, http.StatusOK, code, body)

	code, body = get(t, srv.Handler(), "/profiles/alice/capabilities/trigger-form?origin=https://shop.example&form_signature=42")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"success":true,"origin":"https://shop.example","supported":true}`, body)

	code, body = get(t, srv.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `fastcheckout_lookups_total{profile="alice",status="200"} 1`)
	assert.Contains(t, body, `fastcheckout_backend_calls_total{outcome="ok",transport="http"} 1`)
	assert.Contains(t, body, `fastcheckout_profiles_active 1`)

	code, body = get(t, srv.Handler(), "/health")
	require.Equal(t, http.StatusOK, code)
	var health map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &health))
	assert.Equal(t, "healthy", health["status"])

	require.NoError(t, srv.Close())
	backend.AssertExpectations(t)
	assert.Empty(t, srv.Profiles().List())
}

func TestServerCloseReportsBackendError(t *testing.T) {
	backend := &mockBackend{}
	backend.On("Close").Return(errors.New("connection reset")).Once()

	srv := NewWithBackend(testConfig(), nil, backend)
	err := srv.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestNewServerHTTPTransport(t *testing.T) {
	var calls atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, autofillassistant.CapabilitiesPath, r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get(autofillassistant.APIKeyHeader))

		raw, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		var req autofillassistant.CapabilitiesRequest
		assert.NoError(t, req.Unmarshal(raw))
		assert.Equal(t, "de-DE", req.ClientContext.Locale)

		resp := autofillassistant.CapabilitiesResponse{MatchInfo: []autofillassistant.MatchInfo{{
			URLMatch: "https://shop.example/",
			Bundle:   &autofillassistant.BundleInfo{SupportsConsentlessExecution: true},
		}}}
		_, _ = w.Write(resp.Marshal())
	}))
	defer upstream.Close()

	cfg := testConfig()
	cfg.Backend.Endpoint = upstream.URL
	cfg.Backend.APIKey = "secret"
	cfg.Backend.Locale = "de-DE"

	srv, err := NewServer(cfg)
	require.NoError(t, err)
	defer srv.Close()

	code, body := get(t, srv.Handler(), "/profiles/default/capabilities?origin=https://shop.example")
	require.Equal(t, http.StatusOK, code, body)

	_, body = get(t, srv.Handler(), "/profiles/default/capabilities/consentless?origin=https://shop.example")
	assert.True(t, strings.Contains(body, `"supported":true`), body)
	assert.Equal(t, int32(1), calls.Load())
}

func TestNewServerRejectsUnknownTransport(t *testing.T) {
	cfg := testConfig()
	cfg.Backend.Transport = "carrier-pigeon"

	_, err := NewServer(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "carrier-pigeon")
}

func TestNewServerRejectsBadLogLevel(t *testing.T) {
	cfg := config.Default()
	cfg.Logging.Level = "loud"

	_, err := NewServer(cfg)
	assert.ErrorContains(t, err, "failed to create logger")
}

func TestDeleteProfileDropsItsMetrics(t *testing.T) {
	backend := &mockBackend{}
	backend.On("GetCapabilitiesByHashPrefix", mock.Anything, mock.Anything).
		Return(capabilities.LookupResponse{StatusCode: http.StatusOK}, nil)
	backend.On("Close").Return(nil).Once()

	srv := NewWithBackend(testConfig(), nil, backend)
	defer srv.Close()

	for _, p := range []string{"alice", "bob"} {
		code, body := get(t, srv.Handler(), "/profiles/"+p+"/capabilities?origin=https://shop.example")
		require.Equal(t, http.StatusOK, code, body)
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/profiles/alice", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	_, body := get(t, srv.Handler(), "/metrics")
	assert.NotContains(t, body, `profile="alice"`)
	assert.Contains(t, body, `fastcheckout_lookups_total{profile="bob",status="200"} 1`)
}

func TestServerCapsProfiles(t *testing.T) {
	backend := &mockBackend{}
	backend.On("GetCapabilitiesByHashPrefix", mock.Anything, mock.Anything).
		Return(capabilities.LookupResponse{StatusCode: http.StatusOK}, nil)
	backend.On("Close").Return(nil).Once()

	cfg := testConfig()
	cfg.Capabilities.MaxProfiles = 1
	srv := NewWithBackend(cfg, nil, backend)
	defer srv.Close()

	code, _ := get(t, srv.Handler(), "/profiles/alice/capabilities?origin=https://shop.example")
	require.Equal(t, http.StatusOK, code)
	code, _ = get(t, srv.Handler(), "/profiles/bob/capabilities?origin=https://shop.example")
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, 1, len(srv.Profiles().List()))
}
