// Background worker entry point. The worker consumes facts.batch envelopes
// from Kafka, runs the engine over each batch and publishes the run to the
// configured sinks.
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

	"github.com/turtacn/RegScan/internal/bootstrap"
	"github.com/turtacn/RegScan/internal/config"
	"github.com/turtacn/RegScan/internal/infrastructure/database/redis"
	"github.com/turtacn/RegScan/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/RegScan/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RegScan/internal/infrastructure/monitoring/prometheus"
	httpserver "github.com/turtacn/RegScan/internal/interfaces/http"
	"github.com/turtacn/RegScan/internal/interfaces/http/handlers"
	"github.com/turtacn/RegScan/internal/interfaces/http/middleware"
	"github.com/turtacn/RegScan/internal/interfaces/ingest"
)

const (
	defaultWorkerConfigPath = "configs/config.yaml"
	defaultHealthPort       = 8081
	startupTimeout          = 2 * time.Minute
	shutdownTimeout         = 30 * time.Second
)

var version = "dev"

func main() {
	configPath := flag.String("config", defaultWorkerConfigPath, "path to configuration file")
	healthPort := flag.Int("health-port", defaultHealthPort, "port of the probe and metrics listener")
	maxRecords := flag.Int("max-records", 0, "reject batches with more records than this (0: unlimited)")
	flag.Parse()

	cfg, err := config.LoadOrEnv(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, *healthPort, *maxRecords, logger); err != nil {
		logger.Error("worker exited", logging.Err(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, healthPort, maxRecords int, logger logging.Logger) error {
	logger.Info("starting RegScan worker",
		logging.String("version", version),
		logging.Strings("topics", cfg.Kafka.Consumer.Topics),
		logging.Strings("sinks", cfg.Sinks.Enabled()),
	)

	var (
		collector prometheus.MetricsCollector
		metrics   *prometheus.EngineMetrics
	)
	if cfg.Metrics.Enabled {
		c, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{
			Namespace:            cfg.Metrics.Namespace,
			EnableProcessMetrics: true,
			EnableGoMetrics:      true,
			ConstLabels:          map[string]string{"service": "worker"},
		}, logger)
		if err != nil {
			return err
		}
		collector, metrics = c, prometheus.NewEngineMetrics(c)
	}

	startCtx, cancelStart := context.WithTimeout(context.Background(), startupTimeout)
	defer cancelStart()

	infra, err := bootstrap.Open(startCtx, cfg, bootstrap.NeedsFor(cfg), logger)
	if err != nil {
		return err
	}
	defer infra.Close(context.Background())

	health := handlers.NewHealthHandler(version, healthCheckers(infra)...)
	routerCfg := httpserver.RouterConfig{
		HealthHandler: health,
		Logging:       middleware.DefaultLoggingConfig(),
		Logger:        logger.Named("health"),
	}
	if collector != nil {
		routerCfg.MetricsHandler = collector.Handler()
		routerCfg.MetricsPath = cfg.Metrics.Path
	}
	healthSrv := httpserver.NewServer(httpserver.ServerConfig{Port: healthPort}, httpserver.NewRouter(routerCfg), logger.Named("health"))
	go func() {
		if err := healthSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("health server error", logging.Err(err))
		}
	}()

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

	var locks redis.LockFactory
	if infra.Redis != nil {
		locks = redis.NewLockFactory(infra.Redis, logger)
	}
	var decOpts []ingest.Option
	if maxRecords > 0 {
		decOpts = append(decOpts, ingest.WithMaxRecords(maxRecords))
	}
	var msgMetrics messageMetrics
	if metrics != nil {
		msgMetrics = metrics
	}
	handler := newBatchHandler(ingest.NewDecoder(decOpts...), scanSvc, locks, cfg.Cache.LockTTL, msgMetrics, logger.Named("batch"))

	consumer, err := kafka.NewConsumer(cfg.Kafka.Consumer, logger.Named("consumer"))
	if err != nil {
		return err
	}
	for _, topic := range cfg.Kafka.Consumer.Topics {
		if err := consumer.Subscribe(topic, handler.Handle); err != nil {
			_ = consumer.Close()
			return err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := consumer.Start(ctx); err != nil {
		_ = consumer.Close()
		return err
	}
	health.MarkReady()
	logger.Info("worker ready", logging.String("health_addr", healthSrv.Addr()))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("received shutdown signal", logging.String("signal", sig.String()))

	// Closing the consumer waits for the in-flight batch.
	cancel()
	if err := consumer.Close(); err != nil {
		logger.Error("consumer close error", logging.Err(err))
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := scanSvc.Shutdown(shutdownCtx); err != nil {
		logger.Error("scan service shutdown error", logging.Err(err))
	}
	if err := healthSrv.Stop(shutdownCtx); err != nil {
		logger.Error("health server shutdown error", logging.Err(err))
	}

	logger.Info("worker stopped")
	return nil
}

// healthCheckers adapts the connected backends to readiness checks.
func healthCheckers(infra *bootstrap.Infrastructure) []handlers.HealthChecker {
	checks := infra.Checks()
	out := make([]handlers.HealthChecker, 0, len(checks))
	for _, c := range checks {
		out = append(out, handlers.CheckFunc{Component: c.Name, Fn: c.Fn})
	}
	return out
}
