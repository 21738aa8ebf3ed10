package minio

import (
	"context"
	"encoding/json"
	"path"

	"github.com/turtacn/RegScan/internal/domain/substance"
	"github.com/turtacn/RegScan/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RegScan/pkg/errors"
)

// RunArchive stores every completed run as one JSON document under
// <prefix>/<yyyy>/<mm>/<dd>/<run-id>.json in the archive bucket.
type RunArchive struct {
	repo   ObjectStorageRepository
	bucket string
	prefix string
	logger logging.Logger
}

// NewRunArchive creates the archive sink.
func NewRunArchive(client *MinIOClient, logger logging.Logger) *RunArchive {
	cfg := client.Config()
	return &RunArchive{
		repo:   NewMinIORepository(client, logger),
		bucket: cfg.ArchiveBucket,
		prefix: cfg.ArchivePrefix,
		logger: logger,
	}
}

func (a *RunArchive) Name() string { return "minio" }

// Key returns the object key for run.
func (a *RunArchive) Key(run *substance.Run) string {
	return path.Join(a.prefix, run.StartedAt.UTC().Format("2006/01/02"), run.ID+".json")
}

// Publish uploads run.
func (a *RunArchive) Publish(ctx context.Context, run *substance.Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "marshal run")
	}
	if _, err := a.repo.Put(ctx, a.bucket, a.Key(run), data, "application/json"); err != nil {
		return err
	}
	return nil
}

// Load reads an archived run back.
func (a *RunArchive) Load(ctx context.Context, key string) (*substance.Run, error) {
	data, err := a.repo.Get(ctx, a.bucket, key)
	if err != nil {
		return nil, err
	}
	var run substance.Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "unmarshal run "+key)
	}
	return &run, nil
}
