package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

const backend = "postgres"

// Recorder receives per-query timings. *metrics.StoreMetrics satisfies it.
type Recorder interface {
	Observe(backend, operation, status string, d time.Duration)
	ConnectionFailed(backend string)
}

// MetricsTracer implements pgx.QueryTracer to collect database metrics
type MetricsTracer struct {
	recorder Recorder
}

var (
	_ pgx.QueryTracer   = (*MetricsTracer)(nil)
	_ pgx.ConnectTracer = (*MetricsTracer)(nil)
)

func NewMetricsTracer(recorder Recorder) *MetricsTracer {
	return &MetricsTracer{recorder: recorder}
}

type queryContextKey struct{}

type queryContext struct {
	startTime time.Time
	queryName string
}

func (t *MetricsTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, queryContextKey{}, queryContext{
		startTime: time.Now(),
		queryName: extractQueryName(data.SQL),
	})
}

func (t *MetricsTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	qctx, ok := ctx.Value(queryContextKey{}).(queryContext)
	if !ok {
		return
	}

	status := "success"
	if data.Err != nil {
		status = "error"
	}
	t.recorder.Observe(backend, qctx.queryName, status, time.Since(qctx.startTime))
}

func (t *MetricsTracer) TraceConnectStart(ctx context.Context, _ pgx.TraceConnectStartData) context.Context {
	return ctx
}

func (t *MetricsTracer) TraceConnectEnd(_ context.Context, data pgx.TraceConnectEndData) {
	if data.Err != nil {
		t.recorder.ConnectionFailed(backend)
	}
}

// extractQueryName keeps the leading SQL verb so labels stay low-cardinality.
func extractQueryName(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return "unknown"
	}
	verb := strings.ToLower(fields[0])
	if len(verb) > 20 {
		return verb[:20]
	}
	return verb
}
