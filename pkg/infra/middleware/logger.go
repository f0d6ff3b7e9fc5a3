package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/kart-io/sentinel-kb/pkg/infra/middleware/common"
)

// LoggerOptions configures the access log.
type LoggerOptions struct {
	// SkipPaths are not logged; an entry ending in "*" matches by prefix.
	SkipPaths []string
	// SlowThreshold upgrades entries to warn level; 0 disables it.
	SlowThreshold time.Duration
}

// Logger writes one structured entry per request.
// 5xx responses are logged at error level.
func Logger(opts LoggerOptions) gin.HandlerFunc {
	exact := make(map[string]struct{})
	var prefixes []string
	for _, p := range opts.SkipPaths {
		if strings.HasSuffix(p, "*") {
			prefixes = append(prefixes, strings.TrimSuffix(p, "*"))
			continue
		}
		exact[p] = struct{}{}
	}
	skip := func(path string) bool {
		if _, ok := exact[path]; ok {
			return true
		}
		for _, p := range prefixes {
			if strings.HasPrefix(path, p) {
				return true
			}
		}
		return false
	}

	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if skip(path) {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		latency := time.Since(start)

		status := c.Writer.Status()
		fields := []interface{}{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency_ms", latency.Milliseconds(),
			"client_ip", c.ClientIP(),
			"bytes", c.Writer.Size(),
		}
		if rid := common.GetRequestID(c.Request.Context()); rid != "" {
			fields = append(fields, "request_id", rid)
		}
		if len(c.Errors) > 0 {
			fields = append(fields, "errors", c.Errors.String())
		}

		switch {
		case status >= 500:
			logger.Errorw("HTTP Request", fields...)
		case opts.SlowThreshold > 0 && latency > opts.SlowThreshold:
			logger.Warnw("HTTP Request (slow)", fields...)
		default:
			logger.Infow("HTTP Request", fields...)
		}
	}
}
