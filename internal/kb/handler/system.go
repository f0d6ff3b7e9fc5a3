package handler

import (
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	kbmetrics "github.com/kart-io/sentinel-kb/internal/kb/metrics"
	"github.com/kart-io/sentinel-kb/pkg/cache"
	"github.com/kart-io/sentinel-kb/pkg/component/storage"
	"github.com/kart-io/sentinel-kb/pkg/errors"
	"github.com/kart-io/sentinel-kb/pkg/infra/app"
	obs "github.com/kart-io/sentinel-kb/pkg/observability/metrics"
	"github.com/kart-io/sentinel-kb/pkg/utils/response"
)

// expirer is implemented by caches that can drop expired entries eagerly.
type expirer interface {
	CleanupExpired() int
}

// CacheStats handles GET /api/v1/cache/stats.
func (h *Handler) CacheStats(c *gin.Context) {
	stats := make(map[string]cache.Stats, len(h.caches))
	for name, cc := range h.caches {
		stats[name] = cc.Stats(c.Request.Context())
	}
	response.OK(c, gin.H{"caches": stats, "metrics": kbmetrics.Get().Stats()})
}

// ClearCache handles DELETE /api/v1/cache.
//
// ?name= limits the operation to one cache; ?expired=true only drops expired
// entries, which only the memory backend supports (redis expires keys itself).
func (h *Handler) ClearCache(c *gin.Context) {
	names := h.cacheNames(c.Query("name"))
	if names == nil {
		response.Fail(c, errors.ErrNotFound.WithMessagef("unknown cache %q", c.Query("name")))
		return
	}
	expiredOnly := c.Query("expired") == "true"

	result := make(map[string]int, len(names))
	for _, name := range names {
		cc := h.caches[name]
		if expiredOnly {
			if e, ok := cc.(expirer); ok {
				result[name] = e.CleanupExpired()
			}
			continue
		}
		before := cc.Stats(c.Request.Context()).Size
		if err := cc.Clear(c.Request.Context()); err != nil {
			response.Fail(c, errors.ErrCache.WithCause(err).WithMessagef("clear %s cache: %v", name, err))
			return
		}
		result[name] = before
	}
	logger.Infow("Caches cleared", "caches", names, "expired_only", expiredOnly)
	response.OK(c, gin.H{"removed": result, "expired_only": expiredOnly})
}

func (h *Handler) cacheNames(name string) []string {
	if name != "" {
		if _, ok := h.caches[name]; !ok {
			return nil
		}
		return []string{name}
	}
	names := make([]string, 0, len(h.caches))
	for n := range h.caches {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Healthz handles GET /healthz.
func (h *Handler) Healthz(c *gin.Context) {
	components := map[string]storage.HealthStatus{}
	healthy := true
	if h.storage != nil {
		components = h.storage.HealthCheckAll(c.Request.Context())
		for _, st := range components {
			healthy = healthy && st.Healthy
		}
	}
	body := gin.H{
		"status":     "ok",
		"components": components,
		"time":       time.Now().UTC(),
	}
	if !healthy {
		body["status"] = "degraded"
		response.FailWithData(c, errors.ErrServiceUnavailable, body)
		return
	}
	response.OK(c, body)
}

// Version handles GET /version.
func (h *Handler) Version(c *gin.Context) {
	response.OK(c, app.GetVersionInfo())
}

// Metrics handles GET /metrics in the Prometheus exposition format.
func (h *Handler) Metrics(c *gin.Context) {
	kbmetrics.Get()
	obs.Default().Handler().ServeHTTP(c.Writer, c.Request)
}
