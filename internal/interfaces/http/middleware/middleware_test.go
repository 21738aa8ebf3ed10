package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/RegScan/internal/infrastructure/monitoring/logging"
)

type httpObservation struct {
	method, route string
	status        int
}

type recordingHTTPMetrics struct {
	mu  sync.Mutex
	obs []httpObservation
}

func (m *recordingHTTPMetrics) RecordHTTPRequest(method, route string, status int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.obs = append(m.obs, httpObservation{method, route, status})
}

func TestRequestLogging_RecordsRoutePattern(t *testing.T) {
	metrics := &recordingHTTPMetrics{}
	r := chi.NewRouter()
	r.Use(RequestLogging(logging.NewNopLogger(), metrics, DefaultLoggingConfig()))
	r.Get("/api/v1/runs/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	for _, path := range []string{"/api/v1/runs/abc", "/healthz"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	require.Len(t, metrics.obs, 2)
	assert.Equal(t, httpObservation{"GET", "/api/v1/runs/{id}", 404}, metrics.obs[0])
	assert.Equal(t, httpObservation{"GET", "/healthz", 200}, metrics.obs[1])
}

func TestWrappedResponseWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	w := newWrappedResponseWriter(rec)

	_, err := w.Write([]byte("hello"))
	require.NoError(t, err)
	w.WriteHeader(http.StatusTeapot)

	assert.Equal(t, http.StatusOK, w.statusCode)
	assert.EqualValues(t, 5, w.bytesWritten)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1", ClientIP(req))

	req.Header.Set("X-Real-IP", "10.0.0.2")
	assert.Equal(t, "10.0.0.2", ClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.3")
	assert.Equal(t, "203.0.113.7", ClientIP(req))
}

func TestRateLimit_RejectsAfterBurst(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	cfg.RequestsPerSecond = 0.5
	cfg.BurstSize = 2
	handler := RateLimit(cfg)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/substances", nil)
		req.RemoteAddr = "192.0.2.1:1234"
		last = httptest.NewRecorder()
		handler.ServeHTTP(last, req)
		codes = append(codes, last.Code)
	}

	assert.Equal(t, []int{200, 200, 429}, codes)
	assert.Equal(t, "2", last.Header().Get("Retry-After"))
	assert.Contains(t, last.Body.String(), "RATE_LIMITED")

	other := httptest.NewRequest(http.MethodGet, "/api/v1/substances", nil)
	other.RemoteAddr = "192.0.2.2:1234"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, other)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit_SkipPaths(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	cfg.RequestsPerSecond = 0
	cfg.BurstSize = 1
	handler := RateLimit(cfg)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestKeyedLimiter_Evict(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewKeyedLimiter(1, 1, time.Minute)
	l.now = func() time.Time { return now }

	l.Reserve("a")
	now = now.Add(30 * time.Second)
	l.Reserve("b")
	now = now.Add(45 * time.Second)

	assert.Equal(t, 1, l.Evict())
	assert.Equal(t, 1, l.Len())
	assert.Equal(t, 1, l.Tokens("a"))
}

func TestCORS(t *testing.T) {
	handler := CORS(DefaultCORSConfig([]string{"https://app.example.org", "*.regscan.dev"}))(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }))

	tests := []struct {
		name       string
		method     string
		origin     string
		preflight  bool
		wantStatus int
		wantOrigin string
	}{
		{"no origin", http.MethodGet, "", false, 200, ""},
		{"exact origin", http.MethodGet, "https://app.example.org", false, 200, "https://app.example.org"},
		{"subdomain pattern", http.MethodGet, "https://ui.regscan.dev", false, 200, "https://ui.regscan.dev"},
		{"unknown origin", http.MethodGet, "https://evil.test", false, 200, ""},
		{"preflight", http.MethodOptions, "https://app.example.org", true, 204, "https://app.example.org"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/v1/runs", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantOrigin, rec.Header().Get("Access-Control-Allow-Origin"))
			if tt.preflight {
				assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)
				assert.Equal(t, "86400", rec.Header().Get("Access-Control-Max-Age"))
			}
		})
	}
}
