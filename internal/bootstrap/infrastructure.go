// Package bootstrap wires configuration into infrastructure clients, the
// engine components and the application services. It is shared by the API
// server, the worker and the CLI.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/turtacn/RegScan/internal/config"
	"github.com/turtacn/RegScan/internal/infrastructure/database/neo4j"
	"github.com/turtacn/RegScan/internal/infrastructure/database/postgres"
	"github.com/turtacn/RegScan/internal/infrastructure/database/redis"
	"github.com/turtacn/RegScan/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/RegScan/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RegScan/internal/infrastructure/search/opensearch"
	"github.com/turtacn/RegScan/internal/infrastructure/storage/minio"
)

// Needs selects the backends to open.
type Needs struct {
	Postgres   bool
	Redis      bool
	Neo4j      bool
	OpenSearch bool
	MinIO      bool
	Producer   bool
}

// NeedsFor derives the backends required by the enabled sinks and the
// reference source.
func NeedsFor(cfg *config.Config) Needs {
	return Needs{
		Postgres:   cfg.Sinks.Postgres,
		Redis:      cfg.Sinks.Redis,
		Neo4j:      cfg.Sinks.Neo4j,
		OpenSearch: cfg.Sinks.OpenSearch,
		MinIO:      cfg.Sinks.MinIO || cfg.Reference.Source == "minio",
		Producer:   cfg.Sinks.Kafka,
	}
}

// Infrastructure holds the opened clients. Unneeded ones stay nil.
type Infrastructure struct {
	Pool       *pgxpool.Pool
	Redis      *redis.Client
	Neo4j      *neo4j.Driver
	OpenSearch *opensearch.Client
	MinIO      *minio.MinIOClient
	Producer   *kafka.Producer

	logger logging.Logger
}

// Check is one named readiness probe.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Open connects every backend selected by needs. On failure the clients
// opened so far are closed.
func Open(ctx context.Context, cfg *config.Config, needs Needs, logger logging.Logger) (*Infrastructure, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	infra := &Infrastructure{logger: logger}

	if needs.Postgres {
		pool, err := postgres.NewConnectionPool(ctx, cfg.Database, logger)
		if err != nil {
			infra.Close(ctx)
			return nil, fmt.Errorf("postgres: %w", err)
		}
		infra.Pool = pool
	}

	if needs.Redis {
		rc := cfg.Redis
		client, err := redis.NewClient(&rc, logger)
		if err != nil {
			infra.Close(ctx)
			return nil, fmt.Errorf("redis: %w", err)
		}
		infra.Redis = client
	}

	if needs.Neo4j {
		drv, err := neo4j.NewDriver(cfg.Neo4j, logger)
		if err != nil {
			infra.Close(ctx)
			return nil, fmt.Errorf("neo4j: %w", err)
		}
		infra.Neo4j = drv
	}

	if needs.OpenSearch {
		client, err := opensearch.NewClient(cfg.OpenSearch, logger)
		if err != nil {
			infra.Close(ctx)
			return nil, fmt.Errorf("opensearch: %w", err)
		}
		infra.OpenSearch = client
	}

	if needs.MinIO {
		mc := cfg.MinIO
		client, err := minio.NewMinIOClient(&mc, logger)
		if err != nil {
			infra.Close(ctx)
			return nil, fmt.Errorf("minio: %w", err)
		}
		infra.MinIO = client
	}

	if needs.Producer {
		producer, err := kafka.NewProducer(cfg.Kafka.Producer, logger)
		if err != nil {
			infra.Close(ctx)
			return nil, fmt.Errorf("kafka producer: %w", err)
		}
		infra.Producer = producer
		if cfg.Kafka.AutoCreateTopics {
			if err := ensureTopics(ctx, cfg, logger); err != nil {
				infra.Close(ctx)
				return nil, err
			}
		}
	}

	logger.Info("infrastructure initialized",
		logging.Bool("postgres", infra.Pool != nil),
		logging.Bool("redis", infra.Redis != nil),
		logging.Bool("neo4j", infra.Neo4j != nil),
		logging.Bool("opensearch", infra.OpenSearch != nil),
		logging.Bool("minio", infra.MinIO != nil),
		logging.Bool("kafka", infra.Producer != nil),
	)
	return infra, nil
}

func ensureTopics(ctx context.Context, cfg *config.Config, logger logging.Logger) error {
	tm, err := kafka.NewTopicManager(ctx, cfg.Kafka.Producer.Brokers, cfg.Kafka.Producer.SecurityConfig, logger)
	if err != nil {
		return fmt.Errorf("kafka topics: %w", err)
	}
	defer tm.Close()
	if err := tm.EnsureDefaultTopics(ctx, cfg.Kafka.ReplicationFactor); err != nil {
		return fmt.Errorf("kafka topics: %w", err)
	}
	return nil
}

// Checks returns a readiness probe per opened backend.
func (i *Infrastructure) Checks() []Check {
	var checks []Check
	if i.Pool != nil {
		pool := i.Pool
		checks = append(checks, Check{Name: "postgres", Fn: func(ctx context.Context) error {
			return postgres.HealthCheck(ctx, pool)
		}})
	}
	if i.Redis != nil {
		checks = append(checks, Check{Name: "redis", Fn: i.Redis.Ping})
	}
	if i.Neo4j != nil {
		checks = append(checks, Check{Name: "neo4j", Fn: i.Neo4j.HealthCheck})
	}
	if i.OpenSearch != nil {
		checks = append(checks, Check{Name: "opensearch", Fn: i.OpenSearch.Ping})
	}
	if i.MinIO != nil {
		client := i.MinIO
		checks = append(checks, Check{Name: "minio", Fn: func(ctx context.Context) error {
			st, err := client.HealthCheck(ctx)
			if err != nil {
				return err
			}
			if !st.Healthy {
				return fmt.Errorf("minio unhealthy: %s", st.Error)
			}
			return nil
		}})
	}
	return checks
}

// Close releases every opened client in reverse dependency order.
func (i *Infrastructure) Close(ctx context.Context) {
	if i == nil {
		return
	}
	if i.Producer != nil {
		if err := i.Producer.Close(); err != nil {
			i.logger.Warn("kafka producer close failed", logging.Err(err))
		}
	}
	if i.MinIO != nil {
		if err := i.MinIO.Close(); err != nil {
			i.logger.Warn("minio close failed", logging.Err(err))
		}
	}
	if i.OpenSearch != nil {
		if err := i.OpenSearch.Close(); err != nil {
			i.logger.Warn("opensearch close failed", logging.Err(err))
		}
	}
	if i.Neo4j != nil {
		if err := i.Neo4j.Close(ctx); err != nil {
			i.logger.Warn("neo4j close failed", logging.Err(err))
		}
	}
	if i.Redis != nil {
		if err := i.Redis.Close(); err != nil {
			i.logger.Warn("redis close failed", logging.Err(err))
		}
	}
	if i.Pool != nil {
		postgres.Close(i.Pool)
	}
}
