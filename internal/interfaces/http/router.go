package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/turtacn/RegScan/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RegScan/internal/interfaces/http/handlers"
	"github.com/turtacn/RegScan/internal/interfaces/http/middleware"
)

// RouterConfig carries the handlers and middleware settings. Nil handlers
// leave their routes unmounted.
type RouterConfig struct {
	// Handlers
	HealthHandler    *handlers.HealthHandler
	RunHandler       *handlers.RunHandler
	SubstanceHandler *handlers.SubstanceHandler
	ReferenceHandler *handlers.ReferenceHandler

	// Middleware
	CORS      *middleware.CORSConfig
	RateLimit *middleware.RateLimitConfig
	Logging   middleware.LoggingConfig

	// Infrastructure
	Logger         logging.Logger
	HTTPMetrics    middleware.HTTPMetrics
	MetricsHandler http.Handler
	MetricsPath    string
}

// NewRouter builds the chi router.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestLogging(logger, cfg.HTTPMetrics, cfg.Logging))
	if cfg.CORS != nil {
		r.Use(middleware.CORS(*cfg.CORS))
	}
	if cfg.RateLimit != nil {
		r.Use(middleware.RateLimit(*cfg.RateLimit))
	}

	// --- Probes and metrics ---
	if cfg.HealthHandler != nil {
		cfg.HealthHandler.RegisterRoutes(r)
	}
	if cfg.MetricsHandler != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, cfg.MetricsHandler)
	}

	// --- API v1 ---
	r.Route("/api/v1", func(api chi.Router) {
		if cfg.RunHandler != nil {
			cfg.RunHandler.RegisterRoutes(api)
		}
		if cfg.SubstanceHandler != nil {
			cfg.SubstanceHandler.RegisterRoutes(api)
		}
		if cfg.ReferenceHandler != nil {
			api.Route("/reference", cfg.ReferenceHandler.RegisterRoutes)
		}
	})

	return r
}
