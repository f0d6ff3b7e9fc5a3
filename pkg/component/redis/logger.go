package redis

import (
	"context"

	"github.com/kart-io/logger"
	goredis "github.com/redis/go-redis/v9"
)

// internalLogger routes go-redis internal messages (reconnects, pool errors)
// through the process logger.
type internalLogger struct{}

func (internalLogger) Printf(ctx context.Context, format string, v ...interface{}) {
	logger.Global().WithCtx(ctx, "component", "redis").Warnf(format, v...)
}

func init() {
	goredis.SetLogger(internalLogger{})
}
