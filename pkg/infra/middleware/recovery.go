package middleware

import (
	"fmt"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/kart-io/sentinel-kb/pkg/errors"
	"github.com/kart-io/sentinel-kb/pkg/utils/response"
)

// Recovery turns a handler panic into a 500 ErrPanic response.
// The stack is logged, never returned to the client.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			logger.Errorw("panic recovered",
				"panic", fmt.Sprint(r),
				"stack_trace", string(debug.Stack()),
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
				"request_id", GetRequestID(c),
			)
			if c.Writer.Written() {
				// Streaming responses cannot change status any more.
				c.Abort()
				return
			}
			response.Fail(c, errors.ErrPanic)
			c.Abort()
		}()
		c.Next()
	}
}
