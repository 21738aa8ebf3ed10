package config

import (
	"time"

	"github.com/turtacn/RegScan/internal/domain/substance"
	"github.com/turtacn/RegScan/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/RegScan/internal/infrastructure/reference"
	"github.com/turtacn/RegScan/internal/infrastructure/search/opensearch"
)

// ─────────────────────────────────────────────────────────────────────────────
// Default value constants
// ─────────────────────────────────────────────────────────────────────────────

const (
	DefaultServerHost = "0.0.0.0"
	DefaultServerPort = 8080
	DefaultGRPCPort   = 9090

	DefaultDBHost     = "localhost"
	DefaultDBPort     = 5432
	DefaultDBUser     = "regscan"
	DefaultDBName     = "regscan"
	DefaultDBMaxConns = 10

	DefaultRedisAddr   = "localhost:6379"
	DefaultRedisPrefix = "regscan:"

	DefaultKafkaBroker  = "localhost:9092"
	DefaultKafkaGroupID = "regscan-worker"
	DefaultEventSource  = "regscan"

	DefaultMinIOEndpoint   = "localhost:9000"
	DefaultReferenceBucket = "regscan-reference"
	DefaultArchiveBucket   = "regscan-runs"

	DefaultNeo4jURI = "bolt://localhost:7687"

	DefaultOpenSearchAddr = "http://localhost:9200"

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	DefaultEngineWorkers = 8
	DefaultItemTimeout   = 5 * time.Second
	DefaultRunTimeout    = 5 * time.Minute

	DefaultReferenceDir = "reference"

	DefaultMetricsNamespace = "regscan"
	DefaultMetricsPath      = "/metrics"
)

// DefaultBridgeTables is used when no bridge table is configured. The product
// master outranks the reimbursement master on disagreeing codes.
func DefaultBridgeTables() []reference.TableSpec {
	return []reference.TableSpec{
		{Name: "product_master", Path: "bridge/products.csv", Precedence: 2},
		{Name: "reimbursement_master", Path: "bridge/reimbursement.csv", Precedence: 1},
	}
}

// ApplyDefaults fills every zero-value field in cfg with the default.
// Fields that have already been set are left unchanged. Booleans cannot be
// told apart from "unset" here; their defaults live in the loader.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}

	// ── Server ────────────────────────────────────────────────────────────────
	if cfg.Server.Host == "" {
		cfg.Server.Host = DefaultServerHost
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultServerPort
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Server.MaxBodySize == 0 {
		cfg.Server.MaxBodySize = 32 << 20
	}
	if cfg.GRPC.Port == 0 {
		cfg.GRPC.Port = DefaultGRPCPort
	}

	// ── Log ───────────────────────────────────────────────────────────────────
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}

	// ── Engine ────────────────────────────────────────────────────────────────
	if len(cfg.Engine.Precedence) == 0 {
		for _, src := range substance.Sources() {
			cfg.Engine.Precedence = append(cfg.Engine.Precedence, string(src))
		}
	}
	if cfg.Engine.Workers == 0 {
		cfg.Engine.Workers = DefaultEngineWorkers
	}
	if cfg.Engine.ItemTimeout == 0 {
		cfg.Engine.ItemTimeout = DefaultItemTimeout
	}
	if cfg.Engine.RunTimeout == 0 {
		cfg.Engine.RunTimeout = DefaultRunTimeout
	}

	// ── Reference ─────────────────────────────────────────────────────────────
	if cfg.Reference.Source == "" {
		cfg.Reference.Source = "file"
	}
	if cfg.Reference.Dir == "" {
		cfg.Reference.Dir = DefaultReferenceDir
	}
	if len(cfg.Reference.Bridge) == 0 {
		cfg.Reference.Bridge = DefaultBridgeTables()
	}
	if cfg.Reference.Classification == "" {
		cfg.Reference.Classification = "atc.csv"
	}
	if cfg.Reference.Exclusivity == "" {
		cfg.Reference.Exclusivity = "exclusivity.csv"
	}

	// ── Database ──────────────────────────────────────────────────────────────
	if cfg.Database.Host == "" {
		cfg.Database.Host = DefaultDBHost
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = DefaultDBPort
	}
	if cfg.Database.User == "" {
		cfg.Database.User = DefaultDBUser
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = DefaultDBName
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = DefaultDBMaxConns
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MigrationPath == "" {
		cfg.Database.MigrationPath = "migrations"
	}

	// ── Redis ─────────────────────────────────────────────────────────────────
	if cfg.Redis.Mode == "" {
		cfg.Redis.Mode = "standalone"
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = DefaultRedisAddr
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = DefaultRedisPrefix
	}

	// ── Kafka ─────────────────────────────────────────────────────────────────
	if len(cfg.Kafka.Producer.Brokers) == 0 {
		cfg.Kafka.Producer.Brokers = []string{DefaultKafkaBroker}
	}
	if len(cfg.Kafka.Consumer.Brokers) == 0 {
		cfg.Kafka.Consumer.Brokers = cfg.Kafka.Producer.Brokers
	}
	if cfg.Kafka.Consumer.GroupID == "" {
		cfg.Kafka.Consumer.GroupID = DefaultKafkaGroupID
	}
	if len(cfg.Kafka.Consumer.Topics) == 0 {
		cfg.Kafka.Consumer.Topics = []string{kafka.TopicFactsBatch}
	}
	if cfg.Kafka.Consumer.RetryConfig.DeadLetterTopic == "" {
		cfg.Kafka.Consumer.RetryConfig.DeadLetterTopic = kafka.TopicDeadLetter
	}
	cfg.Kafka.Producer.ApplyDefaults()
	cfg.Kafka.Consumer.ApplyDefaults()
	if cfg.Kafka.ReplicationFactor == 0 {
		cfg.Kafka.ReplicationFactor = 1
	}
	if cfg.Kafka.EventSource == "" {
		cfg.Kafka.EventSource = DefaultEventSource
	}

	// ── MinIO ─────────────────────────────────────────────────────────────────
	if cfg.MinIO.Endpoint == "" {
		cfg.MinIO.Endpoint = DefaultMinIOEndpoint
	}
	if cfg.MinIO.ReferenceBucket == "" {
		cfg.MinIO.ReferenceBucket = DefaultReferenceBucket
	}
	if cfg.MinIO.ArchiveBucket == "" {
		cfg.MinIO.ArchiveBucket = DefaultArchiveBucket
	}

	// ── Neo4j ─────────────────────────────────────────────────────────────────
	if cfg.Neo4j.URI == "" {
		cfg.Neo4j.URI = DefaultNeo4jURI
	}
	if cfg.Neo4j.Database == "" {
		cfg.Neo4j.Database = "neo4j"
	}

	// ── OpenSearch ────────────────────────────────────────────────────────────
	if len(cfg.OpenSearch.Addresses) == 0 {
		cfg.OpenSearch.Addresses = []string{DefaultOpenSearchAddr}
	}
	if cfg.OpenSearch.Index == "" {
		cfg.OpenSearch.Index = opensearch.DefaultAssessmentIndex
	}

	// ── Cache ─────────────────────────────────────────────────────────────────
	if cfg.Cache.MemoryTTL == 0 {
		cfg.Cache.MemoryTTL = 5 * time.Minute
	}
	if cfg.Cache.LatestTTL == 0 {
		cfg.Cache.LatestTTL = 10 * time.Second
	}
	if cfg.Cache.RemoteTTL == 0 {
		cfg.Cache.RemoteTTL = time.Hour
	}
	if cfg.Cache.NullTTL == 0 {
		cfg.Cache.NullTTL = 30 * time.Second
	}
	if cfg.Cache.RunTTL == 0 {
		cfg.Cache.RunTTL = 24 * time.Hour
	}
	if cfg.Cache.LockTTL == 0 {
		cfg.Cache.LockTTL = 5 * time.Minute
	}

	// ── Metrics ───────────────────────────────────────────────────────────────
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}
}
