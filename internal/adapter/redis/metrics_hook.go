package redis

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const backend = "redis"

// Recorder receives per-command timings. *metrics.StoreMetrics satisfies it.
type Recorder interface {
	Observe(backend, operation, status string, d time.Duration)
	ConnectionFailed(backend string)
}

// MetricsHook implements goredis.Hook to collect metrics on all Redis operations
type MetricsHook struct {
	recorder Recorder
}

var _ goredis.Hook = (*MetricsHook)(nil)

func NewMetricsHook(recorder Recorder) *MetricsHook {
	return &MetricsHook{recorder: recorder}
}

// DialHook is called when establishing a new Redis connection
func (h *MetricsHook) DialHook(next goredis.DialHook) goredis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := next(ctx, network, addr)
		if err != nil {
			h.recorder.ConnectionFailed(backend)
		}
		return conn, err
	}
}

// ProcessHook is called for every Redis command execution
func (h *MetricsHook) ProcessHook(next goredis.ProcessHook) goredis.ProcessHook {
	return func(ctx context.Context, cmd goredis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmd)
		h.recorder.Observe(backend, strings.ToLower(cmd.Name()), status(err), time.Since(start))
		return err
	}
}

// ProcessPipelineHook is called for pipelined Redis commands
func (h *MetricsHook) ProcessPipelineHook(next goredis.ProcessPipelineHook) goredis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []goredis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmds)
		h.recorder.Observe(backend, "pipeline", status(err), time.Since(start))
		return err
	}
}

func status(err error) string {
	if err != nil && !errors.Is(err, goredis.Nil) {
		return "error"
	}
	return "success"
}
