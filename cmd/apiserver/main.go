// API server entry point for the RegScan engine.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/turtacn/RegScan/internal/bootstrap"
	"github.com/turtacn/RegScan/internal/config"
	"github.com/turtacn/RegScan/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RegScan/internal/infrastructure/monitoring/prometheus"
	grpcserver "github.com/turtacn/RegScan/internal/interfaces/grpc"
	httpserver "github.com/turtacn/RegScan/internal/interfaces/http"
	"github.com/turtacn/RegScan/internal/interfaces/http/handlers"
	"github.com/turtacn/RegScan/internal/interfaces/http/middleware"
	"github.com/turtacn/RegScan/internal/interfaces/ingest"
)

const (
	defaultConfigPath = "configs/config.yaml"
	startupTimeout    = 2 * time.Minute
	shutdownTimeout   = 30 * time.Second
)

// Build-time variables injected via ldflags.
var version = "dev"

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to configuration file")
	httpPort := flag.Int("http-port", 0, "HTTP server port (overrides config)")
	grpcPort := flag.Int("grpc-port", 0, "gRPC server port (overrides config)")
	flag.Parse()

	cfg, err := config.LoadOrEnv(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *httpPort > 0 {
		cfg.Server.Port = *httpPort
	}
	if *grpcPort > 0 {
		cfg.GRPC.Port = *grpcPort
	}

	logger, level, err := logging.NewLeveledLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, *configPath, logger, func(l string) { level.SetLevel(logging.ParseLevel(l)) }); err != nil {
		logger.Error("api server exited", logging.Err(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, configPath string, logger logging.Logger, setLevel func(string)) error {
	logger.Info("starting RegScan API server",
		logging.String("version", version),
		logging.Int("http_port", cfg.Server.Port),
		logging.Bool("grpc_enabled", cfg.GRPC.Enabled),
		logging.Strings("sinks", cfg.Sinks.Enabled()),
	)

	collector, metrics, err := initMetrics(cfg, logger)
	if err != nil {
		return err
	}

	startCtx, cancelStart := context.WithTimeout(context.Background(), startupTimeout)
	defer cancelStart()

	infra, err := bootstrap.Open(startCtx, cfg, bootstrap.NeedsFor(cfg), logger)
	if err != nil {
		return err
	}
	defer infra.Close(context.Background())

	// Probes come up before reference data so orchestrators see a live,
	// not-yet-ready process while the tables load.
	health := handlers.NewHealthHandler(version, healthCheckers(infra)...)

	var grpcSrv *grpcserver.Server
	if cfg.GRPC.Enabled {
		grpcSrv = grpcserver.NewServer(
			grpcserver.WithLogger(logger.Named("grpc")),
			grpcserver.WithReflection(),
			grpcserver.WithGracefulTimeout(cfg.Server.ShutdownTimeout),
		)
		go func() {
			if err := grpcSrv.ListenAndServe(cfg.Server.Host, cfg.GRPC.Port); err != nil {
				logger.Error("gRPC server error", logging.Err(err))
			}
		}()
	}

	src, err := bootstrap.ReferenceSource(cfg, infra, logger)
	if err != nil {
		return err
	}
	comps, err := bootstrap.BuildComponents(startCtx, cfg, src, metrics, logger)
	if err != nil {
		return err
	}
	sinks, err := bootstrap.BuildSinks(startCtx, cfg, infra, logger)
	if err != nil {
		return err
	}
	scanSvc, err := bootstrap.BuildScanService(cfg, comps, sinks, metrics, logger)
	if err != nil {
		return err
	}
	querySvc, err := bootstrap.BuildQueryService(cfg, infra, metrics, logger)
	if err != nil {
		return err
	}

	routerCfg := httpserver.RouterConfig{
		HealthHandler:    health,
		ReferenceHandler: handlers.NewReferenceHandler(comps.Normalizer, comps.Bridge, comps.Classification),
		Logging:          middleware.DefaultLoggingConfig(),
		Logger:           logger.Named("http"),
	}
	var reader handlers.RunReader
	if querySvc != nil {
		reader = querySvc
		routerCfg.SubstanceHandler = handlers.NewSubstanceHandler(querySvc)
	}
	routerCfg.RunHandler = handlers.NewRunHandler(ingest.NewDecoder(), scanSvc, reader, logger, cfg.Server.MaxBodySize)
	if len(cfg.Server.AllowedOrigins) > 0 {
		cors := middleware.DefaultCORSConfig(cfg.Server.AllowedOrigins)
		routerCfg.CORS = &cors
	}
	if cfg.Server.RateLimitRPS > 0 {
		rl := middleware.DefaultRateLimitConfig()
		rl.RequestsPerSecond = cfg.Server.RateLimitRPS
		routerCfg.RateLimit = &rl
	}
	if collector != nil {
		routerCfg.HTTPMetrics = metrics
		routerCfg.MetricsHandler = collector.Handler()
		routerCfg.MetricsPath = cfg.Metrics.Path
	}

	httpSrv := httpserver.NewServer(httpserver.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, httpserver.NewRouter(routerCfg), logger.Named("http"))

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	health.MarkReady()
	if grpcSrv != nil {
		grpcSrv.SetServing(true)
	}
	logger.Info("api server ready", logging.String("addr", httpSrv.Addr()))

	watchConfig(configPath, logger, setLevel)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", logging.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error("HTTP server error", logging.Err(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if grpcSrv != nil {
		grpcSrv.SetServing(false)
	}
	if err := httpSrv.Stop(ctx); err != nil {
		logger.Error("HTTP server shutdown error", logging.Err(err))
	}
	if grpcSrv != nil {
		if err := grpcSrv.Stop(ctx); err != nil {
			logger.Error("gRPC server shutdown error", logging.Err(err))
		}
	}
	if err := scanSvc.Shutdown(ctx); err != nil {
		logger.Error("scan service shutdown error", logging.Err(err))
	}

	logger.Info("servers stopped")
	return nil
}

func initMetrics(cfg *config.Config, logger logging.Logger) (prometheus.MetricsCollector, *prometheus.EngineMetrics, error) {
	if !cfg.Metrics.Enabled {
		return nil, nil, nil
	}
	collector, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{
		Namespace:            cfg.Metrics.Namespace,
		EnableProcessMetrics: true,
		EnableGoMetrics:      true,
		ConstLabels:          map[string]string{"service": "apiserver"},
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	return collector, prometheus.NewEngineMetrics(collector), nil
}

// watchConfig applies log level changes without a restart. Everything else
// in the file needs a restart to take effect.
func watchConfig(configPath string, logger logging.Logger, setLevel func(string)) {
	if _, err := os.Stat(configPath); err != nil {
		return
	}
	err := config.Watch(configPath, logger, func(next *config.Config, e fsnotify.Event) {
		setLevel(next.Log.Level)
		logger.Info("log level applied", logging.String("level", next.Log.Level), logging.String("op", e.Op.String()))
	})
	if err != nil {
		logger.Warn("config watch disabled", logging.Err(err))
	}
}
