package redis

import (
	"context"
	stderrors "errors"
	"sort"
	"time"

	"github.com/turtacn/RegScan/internal/domain/substance"
	"github.com/turtacn/RegScan/internal/infrastructure/monitoring/logging"
)

// Cache key layout shared by the run sink and the query layer.
const LatestRunKey = "run:latest"

func RunKey(id string) string { return "run:" + id }

func AssessmentKey(runID string, key substance.CanonicalKey) string {
	return "assessment:" + runID + ":" + string(key)
}

// RunCacheSink writes finished runs to the cache so reads avoid the
// database until the entries expire.
type RunCacheSink struct {
	cache Cache
	ttl   time.Duration
	log   logging.Logger
}

func NewRunCacheSink(cache Cache, ttl time.Duration, log logging.Logger) *RunCacheSink {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &RunCacheSink{cache: cache, ttl: ttl, log: log}
}

func (s *RunCacheSink) Name() string { return "redis" }

// Publish stores the run, each assessment in key order, and finally moves the
// latest-run pointer. Assessments of the run the pointer moved away from are
// evicted; the run record itself stays until it expires.
func (s *RunCacheSink) Publish(ctx context.Context, run *substance.Run) error {
	var prev string
	if err := s.cache.Get(ctx, LatestRunKey, &prev); err != nil && !stderrors.Is(err, ErrCacheMiss) {
		s.log.Warn("previous run pointer unreadable", logging.Err(err))
	}

	if err := s.cache.Set(ctx, RunKey(run.ID), run, s.ttl); err != nil {
		return err
	}

	idx := make([]int, len(run.Assessments))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool {
		return run.Assessments[idx[a]].Status.Key < run.Assessments[idx[b]].Status.Key
	})
	for _, i := range idx {
		a := run.Assessments[i]
		if err := s.cache.Set(ctx, AssessmentKey(run.ID, a.Status.Key), a, s.ttl); err != nil {
			return err
		}
	}

	if err := s.cache.Set(ctx, LatestRunKey, run.ID, s.ttl); err != nil {
		return err
	}
	s.log.Debug("run cached",
		logging.String("run_id", run.ID),
		logging.Int("assessments", len(run.Assessments)))

	if prev != "" && prev != run.ID {
		n, err := s.cache.DeleteByPrefix(ctx, "assessment:"+prev+":")
		if err != nil {
			s.log.Warn("previous run eviction failed",
				logging.String("run_id", prev), logging.Err(err))
			return nil
		}
		s.log.Debug("previous run evicted",
			logging.String("run_id", prev), logging.Int64("keys", n))
	}
	return nil
}
