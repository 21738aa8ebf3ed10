package main

import (
	"context"
	"time"

	"github.com/turtacn/RegScan/internal/application/scan"
	"github.com/turtacn/RegScan/internal/domain/substance"
	"github.com/turtacn/RegScan/internal/infrastructure/database/redis"
	"github.com/turtacn/RegScan/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/RegScan/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RegScan/internal/interfaces/ingest"
)

// Message outcomes reported to metrics.
const (
	statusProcessed = "processed"
	statusSkipped   = "skipped"
	statusDuplicate = "duplicate"
	statusRejected  = "rejected"
	statusSinkError = "sink_error"
	statusFailed    = "failed"
)

// runner executes one engine run. scan.Service satisfies it.
type runner interface {
	Run(ctx context.Context, facts []substance.SourceFact) (*scan.RunResult, error)
}

// messageMetrics counts handled messages. *prometheus.EngineMetrics satisfies it.
type messageMetrics interface {
	RecordMessage(topic, status string)
}

type noopMessageMetrics struct{}

func (noopMessageMetrics) RecordMessage(string, string) {}

// batchHandler runs the engine over one facts.batch envelope. The payload is
// a JSON array of fact records. With a lock factory, an envelope whose
// EventID is still locked is treated as a redelivery and dropped.
type batchHandler struct {
	decoder *ingest.Decoder
	runner  runner
	locks   redis.LockFactory
	lockTTL time.Duration
	metrics messageMetrics
	logger  logging.Logger
}

func newBatchHandler(decoder *ingest.Decoder, r runner, locks redis.LockFactory, lockTTL time.Duration, metrics messageMetrics, logger logging.Logger) *batchHandler {
	if decoder == nil {
		decoder = ingest.NewDecoder()
	}
	if metrics == nil {
		metrics = noopMessageMetrics{}
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &batchHandler{decoder: decoder, runner: r, locks: locks, lockTTL: lockTTL, metrics: metrics, logger: logger}
}

// Handle implements kafka.MessageHandler. Malformed envelopes and failed runs
// return an error so the consumer retries and finally dead-letters them.
// Sink failures do not: the run itself completed.
func (h *batchHandler) Handle(ctx context.Context, msg *kafka.Message) error {
	env, err := kafka.MessageToEventEnvelope(msg)
	if err != nil {
		h.metrics.RecordMessage(msg.Topic, statusFailed)
		return err
	}
	log := h.logger.With(logging.String("event_id", env.EventID), logging.String("topic", msg.Topic))

	if env.EventType != kafka.EventFactsBatch {
		log.Debug("skipping event", logging.String("event_type", env.EventType))
		h.metrics.RecordMessage(msg.Topic, statusSkipped)
		return nil
	}

	var records []ingest.Record
	if err := env.DecodePayload(&records); err != nil {
		h.metrics.RecordMessage(msg.Topic, statusFailed)
		return err
	}
	decoded, err := h.decoder.Convert(records)
	if err != nil {
		h.metrics.RecordMessage(msg.Topic, statusFailed)
		return err
	}
	if n := len(decoded.Rejected); n > 0 {
		log.Warn("records rejected", logging.Int("rejected", n), logging.String("first_reason", decoded.Rejected[0].Reason))
	}
	if decoded.Accepted == 0 {
		log.Warn("batch has no valid facts", logging.Int("records", decoded.Total))
		h.metrics.RecordMessage(msg.Topic, statusRejected)
		return nil
	}

	var lock redis.DistributedLock
	if h.locks != nil {
		lock = h.locks.NewMutex("facts-batch:"+env.EventID, redis.WithLockTTL(h.lockTTL))
		ok, err := lock.TryLock(ctx)
		if err != nil {
			h.metrics.RecordMessage(msg.Topic, statusFailed)
			return err
		}
		if !ok {
			log.Info("batch already being processed")
			h.metrics.RecordMessage(msg.Topic, statusDuplicate)
			return nil
		}
	}

	res, err := h.runner.Run(ctx, decoded.Facts)
	if res == nil {
		// Release so a retry can take the batch.
		if lock != nil {
			if uerr := lock.Unlock(context.Background()); uerr != nil {
				log.Warn("failed to release batch lock", logging.Err(uerr))
			}
		}
		h.metrics.RecordMessage(msg.Topic, statusFailed)
		return err
	}

	fields := []logging.Field{
		logging.String("run_id", res.Run.ID),
		logging.Int("facts", decoded.Accepted),
		logging.Int("substances", res.Run.Summary.Substances),
	}
	if err != nil {
		log.Error("run completed with sink errors", append(fields, logging.Err(err))...)
		h.metrics.RecordMessage(msg.Topic, statusSinkError)
		return nil
	}
	log.Info("batch processed", fields...)
	h.metrics.RecordMessage(msg.Topic, statusProcessed)
	return nil
}
