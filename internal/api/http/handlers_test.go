package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ric2b/Vivaldi-browser-sub011/internal/domain/capabilities"
	"github.com/ric2b/Vivaldi-browser-sub011/internal/domain/profile"
	"github.com/ric2b/Vivaldi-browser-sub011/internal/infrastructure/monitoring"
	"github.com/ric2b/Vivaldi-browser-sub011/internal/shared/id"
)

type shopService struct {
	calls atomic.Int32
	block chan struct{}
}

func (s *shopService) GetCapabilitiesByHashPrefix(ctx context.Context, _ capabilities.LookupRequest) (capabilities.LookupResponse, error) {
	s.calls.Add(1)
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return capabilities.LookupResponse{}, ctx.Err()
		}
	}
	return capabilities.LookupResponse{
		StatusCode: http.StatusOK,
		Capabilities: []capabilities.Info{{
			URL: "https://shop.example/checkout",
			Bundle: &capabilities.BundleCapabilities{
				TriggerFormSignatures:        []capabilities.FormSignature{18446744073709551615, 42},
				SupportsConsentlessExecution: true,
			},
		}},
	}, nil
}

func newTestRouter(t *testing.T, svc capabilities.Service) (*gin.Engine, *profile.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	manager := profile.NewManager(func(id.ProfileID) (*capabilities.Fetcher, error) {
		return capabilities.NewFetcher(svc, capabilities.Options{})
	}, nil)
	t.Cleanup(manager.Close)

	r := gin.New()
	NewHandlers(manager, monitoring.NewMetrics(), nil).Register(r)
	return r, manager
}

func do(t *testing.T, r *gin.Engine, method, target, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec.Code, out
}

func TestGetCapabilities(t *testing.T) {
	svc := &shopService{}
	r, _ := newTestRouter(t, svc)

	code, body := do(t, r, http.MethodGet, "/profiles/alice/capabilities?origin=https://shop.example", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, true, body["fetched"])
	assert.Equal(t, "https://shop.example", body["origin"])

	caps := body["capabilities"].(map[string]any)
	assert.Equal(t, []any{"42", "18446744073709551615"}, caps["trigger_form_signatures"])
	assert.Equal(t, true, caps["supports_consentless_execution"])

	// Second request is served from the cache.
	code, _ = do(t, r, http.MethodGet, "/profiles/alice/capabilities?origin=https://shop.example", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, int32(1), svc.calls.Load())
}

func TestGetCapabilitiesValidation(t *testing.T) {
	r, _ := newTestRouter(t, &shopService{})

	tests := []struct {
		name   string
		target string
	}{
		{"missing origin", "/profiles/alice/capabilities"},
		{"opaque origin", "/profiles/alice/capabilities?origin=data:text/plain,hi"},
		{"bad profile", "/profiles/Alice!/capabilities?origin=https://shop.example"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := do(t, r, http.MethodGet, tt.target, "")
			assert.Equal(t, http.StatusBadRequest, code)
			assert.Equal(t, false, body["success"])
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestQueriesDoNotFetch(t *testing.T) {
	svc := &shopService{}
	r, manager := newTestRouter(t, svc)

	code, body := do(t, r, http.MethodGet, "/profiles/alice/capabilities/trigger-form?origin=https://shop.example&form_signature=42", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["supported"])

	code, body = do(t, r, http.MethodGet, "/profiles/alice/capabilities/consentless?origin=https://shop.example", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["supported"])
	assert.Equal(t, int32(0), svc.calls.Load())
	assert.Empty(t, manager.List())

	code, _ = do(t, r, http.MethodGet, "/profiles/alice/capabilities?origin=https://shop.example", "")
	require.Equal(t, http.StatusOK, code)

	_, body = do(t, r, http.MethodGet, "/profiles/alice/capabilities/trigger-form?origin=https://shop.example&form_signature=42", "")
	assert.Equal(t, true, body["supported"])
	_, body = do(t, r, http.MethodGet, "/profiles/alice/capabilities/trigger-form?origin=https://shop.example&form_signature=7", "")
	assert.Equal(t, false, body["supported"])
	_, body = do(t, r, http.MethodGet, "/profiles/alice/capabilities/consentless?origin=https://shop.example", "")
	assert.Equal(t, true, body["supported"])

	// Profiles are isolated.
	_, body = do(t, r, http.MethodGet, "/profiles/bob/capabilities/trigger-form?origin=https://shop.example&form_signature=42", "")
	assert.Equal(t, false, body["supported"])
	assert.Equal(t, []id.ProfileID{"alice"}, manager.List())
}

func TestQueriesDoNotCreateProfiles(t *testing.T) {
	r, manager := newTestRouter(t, &shopService{})

	for i := 0; i < 20; i++ {
		p := fmt.Sprintf("p%d", i)
		code, _ := do(t, r, http.MethodGet, "/profiles/"+p+"/capabilities/trigger-form?origin=https://shop.example&form_signature=42", "")
		require.Equal(t, http.StatusOK, code)
		code, _ = do(t, r, http.MethodGet, "/profiles/"+p+"/capabilities/consentless?origin=https://shop.example", "")
		require.Equal(t, http.StatusOK, code)
	}
	assert.Empty(t, manager.List())

	code, _ := do(t, r, http.MethodGet, "/profiles/Bad!/capabilities/consentless?origin=https://shop.example", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestProfileLimit(t *testing.T) {
	r, manager := newTestRouter(t, &shopService{})
	manager.WithLimit(1)

	code, _ := do(t, r, http.MethodGet, "/profiles/alice/capabilities?origin=https://shop.example", "")
	require.Equal(t, http.StatusOK, code)

	code, body := do(t, r, http.MethodGet, "/profiles/bob/capabilities?origin=https://shop.example", "")
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, false, body["success"])

	code, _ = do(t, r, http.MethodPost, "/profiles", "")
	assert.Equal(t, http.StatusTooManyRequests, code)

	// Removing a profile frees a slot.
	code, _ = do(t, r, http.MethodDelete, "/profiles/alice", "")
	require.Equal(t, http.StatusOK, code)
	code, _ = do(t, r, http.MethodGet, "/profiles/bob/capabilities?origin=https://shop.example", "")
	assert.Equal(t, http.StatusOK, code)
}

func TestCreateProfile(t *testing.T) {
	r, manager := newTestRouter(t, &shopService{})

	code, body := do(t, r, http.MethodPost, "/profiles", "")
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, true, body["success"])

	p, ok := body["profile"].(string)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(p, "prof_"))
	assert.Equal(t, []id.ProfileID{id.ProfileID(p)}, manager.List())

	code, body = do(t, r, http.MethodGet, "/profiles/"+p, "")
	require.Equal(t, http.StatusOK, code)
	assert.NotEmpty(t, body["created_at"])
	assert.Equal(t, float64(0), body["cached_origins"])
}

func TestTriggerFormRejectsBadSignature(t *testing.T) {
	r, _ := newTestRouter(t, &shopService{})

	for _, sig := range []string{"", "-1", "abc", "18446744073709551616"} {
		code, _ := do(t, r, http.MethodGet, "/profiles/alice/capabilities/trigger-form?origin=https://shop.example&form_signature="+sig, "")
		assert.Equal(t, http.StatusBadRequest, code, sig)
	}
}

func TestPrefetch(t *testing.T) {
	svc := &shopService{}
	r, _ := newTestRouter(t, svc)

	code, body := do(t, r, http.MethodPost, "/profiles/alice/capabilities/prefetch",
		`{"origins":["https://shop.example","https://other.example"]}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]any{
		"https://shop.example":  true,
		"https://other.example": true,
	}, body["results"])
	assert.Equal(t, int32(2), svc.calls.Load())

	code, _ = do(t, r, http.MethodPost, "/profiles/alice/capabilities/prefetch", `{"origins":[]}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = do(t, r, http.MethodPost, "/profiles/alice/capabilities/prefetch", `{"origins":["ftp://nope"]}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "ftp://nope", body["origin"])
}

func TestGetCapabilitiesTimesOut(t *testing.T) {
	svc := &shopService{block: make(chan struct{})}
	r, _ := newTestRouter(t, svc)
	t.Cleanup(func() { close(svc.block) })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/profiles/alice/capabilities?origin=https://shop.example", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestProfileLifecycle(t *testing.T) {
	r, manager := newTestRouter(t, &shopService{})

	code, _ := do(t, r, http.MethodGet, "/profiles/alice", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = do(t, r, http.MethodGet, "/profiles/alice/capabilities?origin=https://shop.example", "")
	require.Equal(t, http.StatusOK, code)

	code, body := do(t, r, http.MethodGet, "/profiles/alice", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["cached_origins"])

	code, body = do(t, r, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{"alice"}, body["profiles"])

	code, _ = do(t, r, http.MethodDelete, "/profiles/alice", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Empty(t, manager.List())

	code, _ = do(t, r, http.MethodDelete, "/profiles/alice", "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestClosedManagerIsUnavailable(t *testing.T) {
	r, manager := newTestRouter(t, &shopService{})
	manager.Close()

	code, _ := do(t, r, http.MethodGet, "/profiles/alice/capabilities?origin=https://shop.example", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}
