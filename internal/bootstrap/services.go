package bootstrap

import (
	"context"
	"fmt"

	"github.com/turtacn/RegScan/internal/application/query"
	"github.com/turtacn/RegScan/internal/application/scan"
	"github.com/turtacn/RegScan/internal/config"
	neo4jrepo "github.com/turtacn/RegScan/internal/infrastructure/database/neo4j/repositories"
	pgrepo "github.com/turtacn/RegScan/internal/infrastructure/database/postgres/repositories"
	"github.com/turtacn/RegScan/internal/infrastructure/database/redis"
	"github.com/turtacn/RegScan/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/RegScan/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RegScan/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/RegScan/internal/infrastructure/search/opensearch"
	"github.com/turtacn/RegScan/internal/infrastructure/storage/minio"
)

// BuildSinks returns the enabled result sinks in publish order. Each sink's
// backend must have been opened; schema setup runs here.
func BuildSinks(ctx context.Context, cfg *config.Config, infra *Infrastructure, logger logging.Logger) ([]scan.Sink, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	var sinks []scan.Sink
	for _, name := range cfg.Sinks.Enabled() {
		switch name {
		case "postgres":
			if infra.Pool == nil {
				return nil, missing(name)
			}
			sinks = append(sinks, pgrepo.NewAssessmentRepository(infra.Pool, logger))

		case "redis":
			if infra.Redis == nil {
				return nil, missing(name)
			}
			cache := redis.NewRedisCache(infra.Redis, logger, redis.WithDefaultTTL(cfg.Cache.RunTTL))
			sinks = append(sinks, redis.NewRunCacheSink(cache, cfg.Cache.RunTTL, logger))

		case "kafka":
			if infra.Producer == nil {
				return nil, missing(name)
			}
			sinks = append(sinks, kafka.NewEventSink(infra.Producer, cfg.Kafka.EventSource, logger))

		case "neo4j":
			if infra.Neo4j == nil {
				return nil, missing(name)
			}
			graph := neo4jrepo.NewSubstanceGraph(infra.Neo4j, logger)
			if err := graph.EnsureConstraints(ctx); err != nil {
				return nil, fmt.Errorf("neo4j constraints: %w", err)
			}
			sinks = append(sinks, graph)

		case "opensearch":
			if infra.OpenSearch == nil {
				return nil, missing(name)
			}
			indexer := opensearch.NewIndexer(infra.OpenSearch, opensearch.IndexerConfig{}, logger)
			sink := opensearch.NewAssessmentSink(indexer, cfg.OpenSearch.Index, logger)
			if err := sink.Setup(ctx); err != nil {
				return nil, fmt.Errorf("opensearch index: %w", err)
			}
			sinks = append(sinks, sink)

		case "minio":
			if infra.MinIO == nil {
				return nil, missing(name)
			}
			sinks = append(sinks, minio.NewRunArchive(infra.MinIO, logger))
		}
	}
	return sinks, nil
}

func missing(sink string) error {
	return fmt.Errorf("sink %s is enabled but its backend is not connected", sink)
}

// BuildScanService assembles the run orchestrator. metrics may be nil.
func BuildScanService(cfg *config.Config, comps *Components, sinks []scan.Sink, metrics *prometheus.EngineMetrics, logger logging.Logger) (scan.Service, error) {
	var m scan.Metrics
	if metrics != nil {
		m = metrics
	}
	return scan.NewService(comps.Engine(), sinks, m, logger,
		scan.WithWorkers(cfg.Engine.Workers),
		scan.WithItemTimeout(cfg.Engine.ItemTimeout),
		scan.WithRunTimeout(cfg.Engine.RunTimeout),
		scan.WithMaxPending(cfg.Engine.MaxPending),
		scan.WithPeers(cfg.Engine.Peers),
	)
}

// BuildQueryService assembles the read side over the postgres store. It
// returns a nil service when postgres is not connected.
func BuildQueryService(cfg *config.Config, infra *Infrastructure, metrics *prometheus.EngineMetrics, logger logging.Logger) (query.Service, error) {
	if infra.Pool == nil {
		return nil, nil
	}
	repo := pgrepo.NewAssessmentRepository(infra.Pool, logger)

	var cache query.Cache
	if infra.Redis != nil {
		cache = redis.NewRedisCache(infra.Redis, logger,
			redis.WithDefaultTTL(cfg.Cache.RemoteTTL),
			redis.WithNullCacheTTL(cfg.Cache.NullTTL),
		)
	}

	opts := []query.Option{
		query.WithTTL(cfg.Cache.MemoryTTL, cfg.Cache.LatestTTL, cfg.Cache.RemoteTTL),
	}
	if infra.OpenSearch != nil {
		searcher := opensearch.NewSearcher(infra.OpenSearch, opensearch.SearcherConfig{}, logger)
		opts = append(opts, query.WithSearcher(searcher, cfg.OpenSearch.Index))
	}
	if infra.Neo4j != nil {
		opts = append(opts, query.WithPeerFinder(neo4jrepo.NewSubstanceGraph(infra.Neo4j, logger)))
	}
	if metrics != nil {
		opts = append(opts, query.WithMetrics(metrics))
	}
	return query.NewService(repo, cache, logger, opts...)
}
