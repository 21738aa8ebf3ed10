// Package config defines the configuration structures of the RegScan engine
// and its services. Infrastructure sections reuse the settings structs of the
// packages they configure, so a section decodes straight into the type its
// constructor takes.
package config

import (
	"fmt"
	"time"

	"github.com/turtacn/RegScan/internal/domain/scoring"
	"github.com/turtacn/RegScan/internal/domain/substance"
	"github.com/turtacn/RegScan/internal/infrastructure/database/neo4j"
	"github.com/turtacn/RegScan/internal/infrastructure/database/postgres"
	"github.com/turtacn/RegScan/internal/infrastructure/database/redis"
	"github.com/turtacn/RegScan/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/RegScan/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RegScan/internal/infrastructure/reference"
	"github.com/turtacn/RegScan/internal/infrastructure/search/opensearch"
	"github.com/turtacn/RegScan/internal/infrastructure/storage/minio"
)

// ─────────────────────────────────────────────────────────────────────────────
// Sub-configuration structs
// ─────────────────────────────────────────────────────────────────────────────

// ServerConfig holds HTTP server tunables.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodySize     int64         `mapstructure:"max_body_size"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	RateLimitRPS    float64       `mapstructure:"rate_limit_rps"`
}

// GRPCConfig holds the health server settings.
type GRPCConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// EngineConfig holds the tunables of the merge, scoring and impact stages.
// Empty tables fall back to the built-in defaults of each component.
type EngineConfig struct {
	// Precedence lists sources from most to least authoritative.
	Precedence []string `mapstructure:"precedence"`

	// Weights overrides individual signal weights by name.
	Weights               map[string]int      `mapstructure:"weights"`
	Tiers                 []scoring.Threshold `mapstructure:"tiers"`
	ConcurrencyWindowDays int                 `mapstructure:"concurrency_window_days"`
	HighBurdenKeywords    []string            `mapstructure:"high_burden_keywords"`

	ActivePhases          []string `mapstructure:"active_phases"`
	ActiveStatuses        []string `mapstructure:"active_statuses"`
	ExclusivityWindowDays int      `mapstructure:"exclusivity_window_days"`
	StaleApprovalDays     int      `mapstructure:"stale_approval_days"`
	HighCostThreshold     float64  `mapstructure:"high_cost_threshold"`

	Synonyms map[string]string `mapstructure:"synonyms"`
	Suffixes []string          `mapstructure:"suffixes"`

	Workers     int           `mapstructure:"workers"`
	ItemTimeout time.Duration `mapstructure:"item_timeout"`
	RunTimeout  time.Duration `mapstructure:"run_timeout"`
	MaxPending  int           `mapstructure:"max_pending"`
	Peers       bool          `mapstructure:"peers"`
}

// ReferenceConfig locates the reference tables.
type ReferenceConfig struct {
	// Source is "file" (Dir) or "minio" (MinIO.ReferenceBucket).
	Source         string                `mapstructure:"source"`
	Dir            string                `mapstructure:"dir"`
	Bridge         []reference.TableSpec `mapstructure:"bridge"`
	Classification string                `mapstructure:"classification"`
	Exclusivity    string                `mapstructure:"exclusivity"`
}

// KafkaConfig groups producer, consumer and topic settings.
type KafkaConfig struct {
	Producer          kafka.ProducerConfig `mapstructure:"producer"`
	Consumer          kafka.ConsumerConfig `mapstructure:"consumer"`
	AutoCreateTopics  bool                 `mapstructure:"auto_create_topics"`
	ReplicationFactor int                  `mapstructure:"replication_factor"`
	EventSource       string               `mapstructure:"event_source"`
}

// CacheConfig holds the read-side cache lifetimes.
type CacheConfig struct {
	MemoryTTL time.Duration `mapstructure:"memory_ttl"`
	LatestTTL time.Duration `mapstructure:"latest_ttl"`
	RemoteTTL time.Duration `mapstructure:"remote_ttl"`

	// NullTTL is how long redis remembers that a key had no value.
	NullTTL time.Duration `mapstructure:"null_ttl"`

	// RunTTL is how long the redis sink keeps a published run.
	RunTTL time.Duration `mapstructure:"run_ttl"`

	// LockTTL bounds how long a worker holds a batch lock.
	LockTTL time.Duration `mapstructure:"lock_ttl"`
}

// MetricsConfig holds prometheus settings.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
	Path      string `mapstructure:"path"`
}

// SinksConfig selects where finished runs are published.
type SinksConfig struct {
	Postgres   bool `mapstructure:"postgres"`
	Redis      bool `mapstructure:"redis"`
	Kafka      bool `mapstructure:"kafka"`
	Neo4j      bool `mapstructure:"neo4j"`
	OpenSearch bool `mapstructure:"opensearch"`
	MinIO      bool `mapstructure:"minio"`
}

// Enabled returns the names of the enabled sinks in publish order.
func (s SinksConfig) Enabled() []string {
	var out []string
	for _, e := range []struct {
		name string
		on   bool
	}{
		{"postgres", s.Postgres},
		{"redis", s.Redis},
		{"kafka", s.Kafka},
		{"neo4j", s.Neo4j},
		{"opensearch", s.OpenSearch},
		{"minio", s.MinIO},
	} {
		if e.on {
			out = append(out, e.name)
		}
	}
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// Root Config
// ─────────────────────────────────────────────────────────────────────────────

// Config is the root configuration structure.
type Config struct {
	Server     ServerConfig            `mapstructure:"server"`
	GRPC       GRPCConfig              `mapstructure:"grpc"`
	Log        logging.LogConfig       `mapstructure:"log"`
	Engine     EngineConfig            `mapstructure:"engine"`
	Reference  ReferenceConfig         `mapstructure:"reference"`
	Database   postgres.PostgresConfig `mapstructure:"database"`
	Redis      redis.RedisConfig       `mapstructure:"redis"`
	Kafka      KafkaConfig             `mapstructure:"kafka"`
	MinIO      minio.MinIOConfig       `mapstructure:"minio"`
	Neo4j      neo4j.Neo4jConfig       `mapstructure:"neo4j"`
	OpenSearch opensearch.ClientConfig `mapstructure:"opensearch"`
	Cache      CacheConfig             `mapstructure:"cache"`
	Metrics    MetricsConfig           `mapstructure:"metrics"`
	Sinks      SinksConfig             `mapstructure:"sinks"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Validation
// ─────────────────────────────────────────────────────────────────────────────

// Validate performs semantic validation of the fully-populated Config.
// It returns the first error encountered.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d is out of range [1, 65535]", c.Server.Port)
	}
	if c.GRPC.Enabled && (c.GRPC.Port < 1 || c.GRPC.Port > 65535) {
		return fmt.Errorf("config: grpc.port %d is out of range [1, 65535]", c.GRPC.Port)
	}
	if c.GRPC.Enabled && c.GRPC.Port == c.Server.Port {
		return fmt.Errorf("config: grpc.port must differ from server.port")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log.level %q is invalid; expected debug|info|warn|error", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config: log.format %q is invalid; expected json|console", c.Log.Format)
	}

	if err := c.Engine.validate(); err != nil {
		return err
	}
	if err := c.Reference.validate(); err != nil {
		return err
	}
	if c.Reference.Source == "minio" && c.MinIO.ReferenceBucket == "" {
		return fmt.Errorf("config: minio.reference_bucket is required when reference.source is minio")
	}

	// Connection settings only matter for enabled backends.
	if c.Sinks.Postgres {
		if c.Database.Host == "" {
			return fmt.Errorf("config: database.host is required")
		}
		if c.Database.Port < 1 || c.Database.Port > 65535 {
			return fmt.Errorf("config: database.port %d is out of range [1, 65535]", c.Database.Port)
		}
		if c.Database.User == "" {
			return fmt.Errorf("config: database.user is required")
		}
		if c.Database.DBName == "" {
			return fmt.Errorf("config: database.db_name is required")
		}
		if c.Database.MaxConns < 1 {
			return fmt.Errorf("config: database.max_conns must be >= 1, got %d", c.Database.MaxConns)
		}
	}
	if c.Sinks.Redis {
		if c.Redis.Addr == "" && len(c.Redis.ClusterAddrs) == 0 && len(c.Redis.SentinelAddrs) == 0 {
			return fmt.Errorf("config: redis.addr is required")
		}
		if c.Redis.DB < 0 {
			return fmt.Errorf("config: redis.db must be >= 0, got %d", c.Redis.DB)
		}
	}
	if c.Sinks.Kafka && len(c.Kafka.Producer.Brokers) == 0 {
		return fmt.Errorf("config: kafka.producer.brokers must contain at least one broker address")
	}
	if c.Sinks.Neo4j && c.Neo4j.URI == "" {
		return fmt.Errorf("config: neo4j.uri is required")
	}
	if c.Sinks.OpenSearch && len(c.OpenSearch.Addresses) == 0 {
		return fmt.Errorf("config: opensearch.addresses must contain at least one address")
	}
	if c.Sinks.MinIO && (c.MinIO.Endpoint == "" || c.MinIO.ArchiveBucket == "") {
		return fmt.Errorf("config: minio.endpoint and minio.archive_bucket are required for the archive sink")
	}

	if c.Cache.MemoryTTL < 0 || c.Cache.LatestTTL < 0 || c.Cache.RemoteTTL < 0 || c.Cache.NullTTL < 0 {
		return fmt.Errorf("config: cache TTLs must be >= 0")
	}
	return nil
}

func (e *EngineConfig) validate() error {
	seen := make(map[substance.Source]bool, len(e.Precedence))
	for _, name := range e.Precedence {
		src, err := substance.ParseSource(name)
		if err != nil {
			return fmt.Errorf("config: engine.precedence: %w", err)
		}
		if seen[src] {
			return fmt.Errorf("config: engine.precedence lists %q twice", src)
		}
		seen[src] = true
	}
	for name, w := range e.Weights {
		if _, err := scoring.ParseSignal(name); err != nil {
			return fmt.Errorf("config: engine.weights: %w", err)
		}
		if w < 0 {
			return fmt.Errorf("config: engine.weights.%s must be >= 0, got %d", name, w)
		}
	}
	for i := 1; i < len(e.Tiers); i++ {
		if e.Tiers[i].Min >= e.Tiers[i-1].Min {
			return fmt.Errorf("config: engine.tiers must be strictly descending (%s after %s)", e.Tiers[i].Tier, e.Tiers[i-1].Tier)
		}
	}
	for _, p := range e.ActivePhases {
		if substance.ParsePhase(p) == substance.PhaseUnknown {
			return fmt.Errorf("config: engine.active_phases: unknown phase %q", p)
		}
	}
	for _, s := range e.ActiveStatuses {
		if substance.ParseTrialStatus(s) == substance.TrialStatusUnknown {
			return fmt.Errorf("config: engine.active_statuses: unknown status %q", s)
		}
	}
	if e.ConcurrencyWindowDays < 0 || e.ExclusivityWindowDays < 0 || e.StaleApprovalDays < 0 {
		return fmt.Errorf("config: engine windows must be >= 0 days")
	}
	if e.HighCostThreshold < 0 {
		return fmt.Errorf("config: engine.high_cost_threshold must be >= 0")
	}
	if e.Workers < 1 {
		return fmt.Errorf("config: engine.workers must be >= 1, got %d", e.Workers)
	}
	if e.RunTimeout < 0 || e.MaxPending < 0 {
		return fmt.Errorf("config: engine.run_timeout and engine.max_pending must be >= 0")
	}
	return nil
}

func (r *ReferenceConfig) validate() error {
	switch r.Source {
	case "file", "minio":
	default:
		return fmt.Errorf("config: reference.source %q is invalid; expected file|minio", r.Source)
	}
	if len(r.Bridge) == 0 {
		return fmt.Errorf("config: reference.bridge must list at least one table")
	}
	for i, t := range r.Bridge {
		if t.Name == "" || t.Path == "" {
			return fmt.Errorf("config: reference.bridge[%d] needs a name and a path", i)
		}
	}
	if r.Classification == "" {
		return fmt.Errorf("config: reference.classification is required")
	}
	return nil
}
