package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/RegScan/internal/domain/substance"
	"github.com/turtacn/RegScan/internal/interfaces/http/handlers"
	"github.com/turtacn/RegScan/internal/interfaces/http/middleware"
	"github.com/turtacn/RegScan/pkg/errors"
)

type countingMetrics struct {
	mu     sync.Mutex
	routes []string
}

func (m *countingMetrics) RecordHTTPRequest(_, route string, _ int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes = append(m.routes, route)
}

type emptyRuns struct{}

func (emptyRuns) GetRun(_ context.Context, id string) (*substance.Run, error) {
	return nil, errors.Newf(errors.ErrCodeRunNotFound, "run %s not found", id)
}
func (emptyRuns) Invalidate() {}

func TestNewRouter_HealthAndMetrics(t *testing.T) {
	health := handlers.NewHealthHandler("test")
	health.MarkReady()
	metrics := &countingMetrics{}

	router := NewRouter(RouterConfig{
		HealthHandler: health,
		HTTPMetrics:   metrics,
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("# HELP regscan_runs_total"))
		}),
	})

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
	assert.Equal(t, []string{"/healthz", "/readyz", "/metrics"}, metrics.routes)
}

func TestNewRouter_APIv1(t *testing.T) {
	router := NewRouter(RouterConfig{
		RunHandler: handlers.NewRunHandler(nil, nil, emptyRuns{}, nil, 0),
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/substances", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code, "unmounted handlers leave no routes")
}

func TestNewRouter_RateLimitAndCORS(t *testing.T) {
	rl := middleware.DefaultRateLimitConfig()
	rl.RequestsPerSecond = 0.01
	rl.BurstSize = 1
	cors := middleware.DefaultCORSConfig([]string{"https://console.regscan.dev"})

	router := NewRouter(RouterConfig{
		RunHandler: handlers.NewRunHandler(nil, nil, emptyRuns{}, nil, 0),
		RateLimit:  &rl,
		CORS:       &cors,
	})

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/x", nil)
		req.Header.Set("Origin", "https://console.regscan.dev")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
		assert.Equal(t, "https://console.regscan.dev", rec.Header().Get("Access-Control-Allow-Origin"))
	}
	require.Equal(t, []int{http.StatusNotFound, http.StatusTooManyRequests}, codes)
}
