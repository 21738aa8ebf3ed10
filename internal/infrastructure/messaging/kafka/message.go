package kafka

import (
	"context"
	"time"
)

// Message is a consumed record.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

// ProducerMessage is a record to publish. Partition is only honoured by
// writers without a balancer.
type ProducerMessage struct {
	Topic     string
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
	Partition int
}

// MessageHandler processes one consumed message. A returned error triggers
// the consumer's retry policy.
type MessageHandler func(ctx context.Context, msg *Message) error

// BatchItemError reports one rejected message of a batch. Index is -1 when
// the whole batch failed.
type BatchItemError struct {
	Index int
	Topic string
	Error error
}

// BatchPublishResult summarises PublishBatch.
type BatchPublishResult struct {
	Succeeded int
	Failed    int
	Errors    []BatchItemError
}

// TopicConfig describes a topic to create.
type TopicConfig struct {
	Name              string            `mapstructure:"name"`
	NumPartitions     int               `mapstructure:"partitions"`
	ReplicationFactor int               `mapstructure:"replication_factor"`
	RetentionMs       int64             `mapstructure:"retention_ms"`
	CleanupPolicy     string            `mapstructure:"cleanup_policy"`
	MaxMessageBytes   int               `mapstructure:"max_message_bytes"`
	Configs           map[string]string `mapstructure:"configs"`
}
