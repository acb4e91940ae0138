package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ric2b/Vivaldi-browser-sub011/internal/domain/capabilities"
	"github.com/ric2b/Vivaldi-browser-sub011/internal/domain/profile"
	"github.com/ric2b/Vivaldi-browser-sub011/internal/infrastructure/monitoring"
	"github.com/ric2b/Vivaldi-browser-sub011/internal/shared/id"
)

// maxPrefetchOrigins bounds the origins accepted by one prefetch request.
const maxPrefetchOrigins = 50

// Handlers serves the capabilities API.
type Handlers struct {
	profiles *profile.Manager
	metrics  *monitoring.Metrics
	logger   *zap.Logger
}

// NewHandlers creates the API handlers. metrics may be nil.
func NewHandlers(profiles *profile.Manager, metrics *monitoring.Metrics, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		profiles: profiles,
		metrics:  metrics,
		logger:   logger.Named("api"),
	}
}

// Register mounts every route on r.
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/health", h.Health)
	r.POST("/profiles", h.CreateProfile)

	profiles := r.Group("/profiles/:profile")
	profiles.GET("", h.GetProfile)
	profiles.DELETE("", h.DeleteProfile)
	profiles.GET("/capabilities", h.GetCapabilities)
	profiles.GET("/capabilities/trigger-form", h.IsTriggerFormSupported)
	profiles.GET("/capabilities/consentless", h.SupportsConsentlessExecution)
	profiles.POST("/capabilities/prefetch", h.Prefetch)
}

// Health reports liveness and the live profiles.
func (h *Handlers) Health(c *gin.Context) {
	body := gin.H{
		"status":   "healthy",
		"profiles": h.profiles.List(),
	}
	if h.metrics != nil {
		body["stats"] = h.metrics.Snapshot()
	}
	c.JSON(http.StatusOK, body)
}

// GetProfile returns cache statistics for an existing profile.
func (h *Handlers) GetProfile(c *gin.Context) {
	p := id.ProfileID(c.Param("profile"))
	fetcher, ok := h.profiles.Lookup(p)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   profile.ErrUnknownProfile.Error(),
		})
		return
	}

	stats := fetcher.Stats()
	body := gin.H{
		"success":         true,
		"profile":         p,
		"cached_origins":  stats.CachedOrigins,
		"pending_origins": stats.PendingOrigins,
	}
	// Minted ids carry their creation time.
	if strings.HasPrefix(p.String(), id.ProfilePrefix+"_") {
		if created, err := id.Timestamp(p.String()); err == nil {
			body["created_at"] = created.UTC()
		}
	}
	c.JSON(http.StatusOK, body)
}

// CreateProfile mints a new profile with an empty cache.
func (h *Handlers) CreateProfile(c *gin.Context) {
	p, _, err := h.profiles.Create()
	if err != nil {
		h.profileFailed(c, p, err)
		return
	}

	h.logger.Info("Created profile", zap.String("profile", p.String()))
	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"profile": p,
	})
}

// DeleteProfile tears down a profile and its cache.
func (h *Handlers) DeleteProfile(c *gin.Context) {
	p := id.ProfileID(c.Param("profile"))
	if err := h.profiles.Remove(p); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, profile.ErrUnknownProfile):
			status = http.StatusNotFound
		case errors.Is(err, profile.ErrInvalidProfileID):
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"profile": p,
	})
}

// GetCapabilities makes sure availability is known for the origin, fetching
// it if needed, and returns the cached capabilities.
func (h *Handlers) GetCapabilities(c *gin.Context) {
	fetcher, p, ok := h.fetcher(c)
	if !ok {
		return
	}
	origin, ok := originParam(c)
	if !ok {
		return
	}

	fetched, err := fetcher.Fetch(c.Request.Context(), origin)
	if err != nil {
		h.fetchFailed(c, p, err)
		return
	}

	body := gin.H{
		"success": true,
		"profile": p,
		"origin":  origin.String(),
		"fetched": fetched,
	}
	if result, cached := fetcher.Cached(origin); cached {
		body["capabilities"] = capabilitiesJSON(result)
	}
	c.JSON(http.StatusOK, body)
}

// IsTriggerFormSupported answers from the cache only. An unknown profile has
// an empty cache and is not created.
func (h *Handlers) IsTriggerFormSupported(c *gin.Context) {
	fetcher, ok := h.existing(c)
	if !ok {
		return
	}
	origin, ok := originParam(c)
	if !ok {
		return
	}
	sig, err := strconv.ParseUint(c.Query("form_signature"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "form_signature must be an unsigned 64-bit decimal",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"origin":    origin.String(),
		"supported": fetcher != nil && fetcher.IsTriggerFormSupported(origin, capabilities.FormSignature(sig)),
	})
}

// SupportsConsentlessExecution answers from the cache only.
func (h *Handlers) SupportsConsentlessExecution(c *gin.Context) {
	fetcher, ok := h.existing(c)
	if !ok {
		return
	}
	origin, ok := originParam(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"origin":    origin.String(),
		"supported": fetcher != nil && fetcher.SupportsConsentlessExecution(origin),
	})
}

// Prefetch fetches availability for several origins at once.
func (h *Handlers) Prefetch(c *gin.Context) {
	fetcher, p, ok := h.fetcher(c)
	if !ok {
		return
	}

	var req struct {
		Origins []string `json:"origins" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request: " + err.Error(),
		})
		return
	}
	if len(req.Origins) > maxPrefetchOrigins {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "too many origins, at most " + strconv.Itoa(maxPrefetchOrigins) + " allowed",
		})
		return
	}

	origins := make([]capabilities.Origin, 0, len(req.Origins))
	for _, raw := range req.Origins {
		origin, err := capabilities.ParseOrigin(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   err.Error(),
				"origin":  raw,
			})
			return
		}
		origins = append(origins, origin)
	}

	results, err := fetcher.Prefetch(c.Request.Context(), origins)
	out := make(map[string]bool, len(results))
	for origin, fetched := range results {
		out[origin.String()] = fetched
	}
	if err != nil {
		h.logger.Warn("Prefetch incomplete", zap.String("profile", p.String()), zap.Error(err))
		c.JSON(statusForFetchError(err), gin.H{
			"success": false,
			"error":   err.Error(),
			"results": out,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"profile": p,
		"results": out,
	})
}

// fetcher resolves the profile's fetcher, creating it on first use, and writes
// an error response on failure.
func (h *Handlers) fetcher(c *gin.Context) (*capabilities.Fetcher, id.ProfileID, bool) {
	p := id.ProfileID(c.Param("profile"))
	fetcher, err := h.profiles.Get(p)
	if err != nil {
		h.profileFailed(c, p, err)
		return nil, p, false
	}
	return fetcher, p, true
}

// existing returns the profile's fetcher without creating it. The fetcher is
// nil when the profile is unknown.
func (h *Handlers) existing(c *gin.Context) (*capabilities.Fetcher, bool) {
	p := id.ProfileID(c.Param("profile"))
	if err := profile.Validate(p); err != nil {
		h.profileFailed(c, p, err)
		return nil, false
	}
	fetcher, _ := h.profiles.Lookup(p)
	return fetcher, true
}

func (h *Handlers) profileFailed(c *gin.Context, p id.ProfileID, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, profile.ErrInvalidProfileID):
		status = http.StatusBadRequest
	case errors.Is(err, profile.ErrTooManyProfiles):
		status = http.StatusTooManyRequests
	case errors.Is(err, profile.ErrManagerClosed):
		status = http.StatusServiceUnavailable
	default:
		h.logger.Error("Failed to create fetcher", zap.String("profile", p.String()), zap.Error(err))
	}
	c.JSON(status, gin.H{
		"success": false,
		"error":   err.Error(),
	})
}

func (h *Handlers) fetchFailed(c *gin.Context, p id.ProfileID, err error) {
	h.logger.Debug("Fetch did not complete", zap.String("profile", p.String()), zap.Error(err))
	c.JSON(statusForFetchError(err), gin.H{
		"success": false,
		"error":   err.Error(),
	})
}

func statusForFetchError(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	case errors.Is(err, capabilities.ErrFetcherClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func originParam(c *gin.Context) (capabilities.Origin, bool) {
	raw := c.Query("origin")
	if raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "origin query parameter is required",
		})
		return capabilities.Origin{}, false
	}
	origin, err := capabilities.ParseOrigin(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return capabilities.Origin{}, false
	}
	return origin, true
}

// capabilitiesJSON renders signatures as decimal strings since they do not
// fit in a JSON number without loss.
func capabilitiesJSON(r capabilities.Result) gin.H {
	sigs := r.SupportedFormSignatures()
	out := make([]string, len(sigs))
	for i, sig := range sigs {
		out[i] = strconv.FormatUint(uint64(sig), 10)
	}
	return gin.H{
		"trigger_form_signatures":        out,
		"supports_consentless_execution": r.SupportsConsentlessExecution(),
	}
}
