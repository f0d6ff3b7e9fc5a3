// Package middleware provides the gin middlewares every service installs:
// request ids, access logging and panic recovery.
package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/kart-io/sentinel-kb/pkg/infra/middleware/common"
)

// HeaderXRequestID is re-exported for handlers and tests.
const HeaderXRequestID = common.HeaderXRequestID

// maxRequestIDLength bounds ids accepted from clients.
const maxRequestIDLength = 128

// RequestID propagates the caller's X-Request-ID or assigns a new one.
// The id is echoed in the response header and stored in the request context.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(HeaderXRequestID)
		if rid == "" || len(rid) > maxRequestIDLength {
			rid = common.GenerateRequestID()
		}
		c.Header(HeaderXRequestID, rid)
		c.Request = c.Request.WithContext(common.WithRequestID(c.Request.Context(), rid))
		c.Next()
	}
}

// GetRequestID returns the request id of c.
func GetRequestID(c *gin.Context) string {
	return common.GetRequestID(c.Request.Context())
}
