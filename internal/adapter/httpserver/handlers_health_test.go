package httpserver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func healthOK(_ context.Context) error { return nil }

func healthErr(msg string) func(context.Context) error {
	return func(_ context.Context) error { return errors.New(msg) }
}

func TestHealthProbes(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		checks []HealthCheck
		status int
		body   string
	}{
		{
			name:   "startup without checks",
			path:   "/health/startup",
			status: http.StatusOK,
			body:   `{"status":"ready"}`,
		},
		{
			name:   "startup with store down",
			path:   "/health/startup",
			checks: []HealthCheck{{Name: "store", Check: healthErr("connection refused")}},
			status: http.StatusServiceUnavailable,
			body:   `{"status":"unhealthy","checks":{"store":"connection refused"}}`,
		},
		{
			name:   "ready with all checks passing",
			path:   "/health/ready",
			checks: []HealthCheck{{Name: "store", Check: healthOK}, {Name: "twitch", Check: healthOK}},
			status: http.StatusOK,
			body:   `{"status":"ready","checks":{"store":"ok","twitch":"ok"}}`,
		},
		{
			name:   "ready reports every check",
			path:   "/health/ready",
			checks: []HealthCheck{{Name: "store", Check: healthOK}, {Name: "twitch", Check: healthErr("app token unavailable")}},
			status: http.StatusServiceUnavailable,
			body:   `{"status":"unhealthy","checks":{"store":"ok","twitch":"app token unavailable"}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, withHealthChecks(tt.checks...))

			rec := srv.serve(httptest.NewRequest(http.MethodGet, tt.path, nil))

			assert.Equal(t, tt.status, rec.Code)
			assert.JSONEq(t, tt.body, rec.Body.String())
		})
	}
}

func TestHealthProbe_ChecksRunConcurrently(t *testing.T) {
	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(2)
	blocking := func(context.Context) error {
		started.Done()
		<-release
		return nil
	}
	srv := newTestServer(t, withHealthChecks(
		HealthCheck{Name: "a", Check: blocking},
		HealthCheck{Name: "b", Check: blocking},
	))

	go func() {
		started.Wait()
		close(release)
	}()
	rec := srv.serve(httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleLiveness(t *testing.T) {
	srv := newTestServer(t)
	srv.clock.Advance(90 * time.Second)

	rec := srv.serve(httptest.NewRequest(http.MethodGet, "/health/live", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","uptime":90}`, rec.Body.String())
}

func TestHandleVersion(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.serve(httptest.NewRequest(http.MethodGet, "/version", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `"version"`)
	assert.Contains(t, body, `"commit"`)
	assert.Contains(t, body, `"go_version"`)
}

func TestMetricsRoute(t *testing.T) {
	t.Run("absent without handler", func(t *testing.T) {
		srv := newTestServer(t)
		rec := srv.serve(httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("served when configured", func(t *testing.T) {
		srv := newTestServer(t, func(d *Dependencies) {
			d.MetricsHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte("# metrics"))
			})
		})
		rec := srv.serve(httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "# metrics", rec.Body.String())
	})
}
