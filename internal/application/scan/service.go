// Package scan orchestrates one engine run: merge, concurrent scoring and
// classification, run summary and fan-out to result sinks.
package scan

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/turtacn/RegScan/internal/domain/classification"
	"github.com/turtacn/RegScan/internal/domain/merge"
	"github.com/turtacn/RegScan/internal/domain/substance"
	"github.com/turtacn/RegScan/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RegScan/pkg/errors"
)

// Service runs the engine over a batch of facts.
type Service interface {
	Run(ctx context.Context, facts []substance.SourceFact) (*RunResult, error)
	Shutdown(ctx context.Context) error
}

// Merger groups facts into aggregates. *merge.Engine satisfies it.
type Merger interface {
	Merge(facts []substance.SourceFact) merge.Result
}

// Scorer computes attention scores. *scoring.Scorer satisfies it.
type Scorer interface {
	Score(status *substance.AggregateStatus) substance.ScoreResult
}

// Classifier assigns domestic-impact labels. *impact.Classifier satisfies it.
type Classifier interface {
	Classify(status *substance.AggregateStatus, local substance.LocalJurisdictionFacts) substance.DomesticImpact
}

// Resolver derives local-jurisdiction facts. *impact.Resolver satisfies it.
type Resolver interface {
	Resolve(status *substance.AggregateStatus) substance.LocalJurisdictionFacts
}

// Sink receives every completed run. Implementations must not mutate it.
type Sink interface {
	Name() string
	Publish(ctx context.Context, run *substance.Run) error
}

// Metrics is the subset of *prometheus.EngineMetrics the service records.
type Metrics interface {
	RecordRun(ok bool)
	RecordStage(stage string, d time.Duration)
	RecordFacts(source string, n int)
	RecordSubstances(n int)
	RecordQuality(unmatchable, mergeConflicts, bridgeConflicts, unresolved, noBridge int)
	RecordAssessment(label, tier string, score int)
	RecordSinkError(sink string)
}

// Engine bundles the domain components of a run.
type Engine struct {
	Merger          Merger
	Scorer          Scorer
	Classifier      Classifier
	Resolver        Resolver
	BridgeConflicts int
}

// RunResult is the outcome of Run.
type RunResult struct {
	Run    *substance.Run
	Report merge.Report
}

// Option configures the service.
type Option func(*serviceImpl)

// WithWorkers sets the score/classify concurrency.
func WithWorkers(n int) Option {
	return func(s *serviceImpl) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithItemTimeout bounds the time spent on one aggregate.
func WithItemTimeout(d time.Duration) Option {
	return func(s *serviceImpl) { s.itemTimeout = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *serviceImpl) { s.now = now }
}

// WithIDGenerator overrides run id generation.
func WithIDGenerator(gen func() string) Option {
	return func(s *serviceImpl) { s.newID = gen }
}

// WithRunTimeout bounds the scoring and classification stage of one run.
func WithRunTimeout(d time.Duration) Option {
	return func(s *serviceImpl) { s.runTimeout = d }
}

// WithMaxPending caps the aggregates in flight across concurrent runs. A run
// that would exceed it is rejected with ErrCodeServiceUnavailable. 0 means
// no cap.
func WithMaxPending(n int) Option {
	return func(s *serviceImpl) { s.maxPending = n }
}

// WithPeers toggles same-class peer grouping.
func WithPeers(enabled bool) Option {
	return func(s *serviceImpl) { s.peers = enabled }
}

type serviceImpl struct {
	engine      Engine
	sinks       []Sink
	metrics     Metrics
	logger      logging.Logger
	workers     int
	itemTimeout time.Duration
	runTimeout  time.Duration
	maxPending  int
	peers       bool
	now         func() time.Time
	newID       func() string
	processor   BatchProcessor[*substance.AggregateStatus, substance.Assessment]
}

// NewService validates the engine components and returns a Service. metrics
// may be nil.
func NewService(engine Engine, sinks []Sink, metrics Metrics, logger logging.Logger, opts ...Option) (Service, error) {
	if engine.Merger == nil || engine.Scorer == nil || engine.Classifier == nil || engine.Resolver == nil {
		return nil, errors.New(errors.ErrCodeValidation, "merger, scorer, classifier and resolver are required")
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	s := &serviceImpl{
		engine:      engine,
		sinks:       sinks,
		metrics:     metrics,
		logger:      logger.Named("scan"),
		workers:     4,
		itemTimeout: 10 * time.Second,
		peers:       true,
		now:         time.Now,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.processor = NewBatchProcessor[*substance.AggregateStatus, substance.Assessment](
		WithMaxConcurrency(s.workers),
		WithBatchItemTimeout(s.itemTimeout),
		WithBatchTimeout(s.runTimeout),
		WithBackpressureThreshold(s.maxPending),
		WithBatchLogger(s.logger),
	)
	return s, nil
}

// Run executes one engine run. The merge is a single sequential pass;
// scoring and classification fan out over the worker pool. A non-nil
// RunResult is returned alongside a sink error so callers keep the output.
func (s *serviceImpl) Run(ctx context.Context, facts []substance.SourceFact) (*RunResult, error) {
	run := &substance.Run{ID: s.newID(), StartedAt: s.now().UTC()}
	log := s.logger.With(logging.String("run_id", run.ID))
	log.Info("run started", logging.Int("facts", len(facts)))

	stage := time.Now()
	merged := s.engine.Merger.Merge(facts)
	s.recordStage("merge", stage)

	var peers classification.PeerIndex
	if s.peers {
		peers = classification.Peers(merged.Statuses)
	}

	items := make([]*substance.AggregateStatus, len(merged.Statuses))
	for i := range merged.Statuses {
		items[i] = &merged.Statuses[i]
	}

	stage = time.Now()
	batch, err := s.processor.Process(ctx, items, func(ctx context.Context, st *substance.AggregateStatus) (substance.Assessment, error) {
		if err := ctx.Err(); err != nil {
			return substance.Assessment{}, err
		}
		return s.assess(st, peers), nil
	})
	if err != nil {
		s.recordRun(false)
		code := errors.ErrCodeInternal
		if stderrors.Is(err, ErrBackpressure) || stderrors.Is(err, ErrShutdown) {
			code = errors.ErrCodeServiceUnavailable
		}
		return nil, errors.Wrap(err, code, "assessment batch rejected")
	}
	if err := batch.FirstError(); err != nil {
		s.recordRun(false)
		log.Error("assessment batch failed", logging.Int("failed", batch.FailureCount), logging.Err(err))
		return nil, errors.Wrap(err, errors.ErrCodeInternal, fmt.Sprintf("%d of %d assessments failed", batch.FailureCount, batch.TotalCount))
	}
	s.recordStage("assess", stage)

	run.Assessments = make([]substance.Assessment, len(batch.Results))
	for i, r := range batch.Results {
		run.Assessments[i] = r.Result
	}
	run.Conflicts = merged.Report.Conflicts
	run.Summary = s.summarize(merged.Report, run.Assessments)
	run.FinishedAt = s.now().UTC()
	s.recordResult(merged.Report, run)

	log.Info("run completed",
		logging.Int("substances", run.Summary.Substances),
		logging.Int("conflicts", run.Summary.Conflicts),
		logging.Int("unmatchable", run.Summary.Unmatchable),
		logging.Duration("duration", run.FinishedAt.Sub(run.StartedAt)))

	res := &RunResult{Run: run, Report: merged.Report}
	stage = time.Now()
	err = s.publish(ctx, run)
	s.recordStage("publish", stage)
	s.recordRun(err == nil)
	return res, err
}

func (s *serviceImpl) assess(st *substance.AggregateStatus, peers classification.PeerIndex) substance.Assessment {
	local := s.engine.Resolver.Resolve(st)
	a := substance.Assessment{
		Status:   *st,
		Score:    s.engine.Scorer.Score(st),
		Impact:   s.engine.Classifier.Classify(st, local),
		Timeline: st.Timeline(),
	}
	if peers != nil {
		a.Peers = peers.For(st)
	}
	return a
}

func (s *serviceImpl) summarize(rep merge.Report, assessments []substance.Assessment) substance.RunSummary {
	sum := substance.RunSummary{
		Facts:            rep.Facts,
		Substances:       rep.Groups,
		Unmatchable:      rep.Unmatchable,
		Conflicts:        len(rep.Conflicts),
		BridgeConflicts:  s.engine.BridgeConflicts,
		UnresolvedCodes:  rep.UnresolvedCodes,
		NoDomesticBridge: rep.NoDomesticBridge,
		ByLabel:          make(map[substance.ImpactLabel]int),
		ByTier:           make(map[substance.Tier]int),
	}
	for _, a := range assessments {
		sum.ByLabel[a.Impact.Label]++
		sum.ByTier[a.Score.Tier]++
	}
	return sum
}

// publish fans the run out to every sink concurrently. Every sink is
// attempted regardless of the others; failures are joined in sink order.
func (s *serviceImpl) publish(ctx context.Context, run *substance.Run) error {
	if len(s.sinks) == 0 {
		return nil
	}
	errs := make([]error, len(s.sinks))
	var g errgroup.Group
	for i, sink := range s.sinks {
		i, sink := i, sink
		g.Go(func() error {
			start := time.Now()
			if err := sink.Publish(ctx, run); err != nil {
				s.logger.Error("sink publish failed",
					logging.String("sink", sink.Name()),
					logging.String("run_id", run.ID),
					logging.Err(err))
				if s.metrics != nil {
					s.metrics.RecordSinkError(sink.Name())
				}
				errs[i] = errors.Wrap(err, errors.ErrCodeInternal, "sink "+sink.Name())
				return nil
			}
			s.logger.Debug("sink published",
				logging.String("sink", sink.Name()),
				logging.Duration("duration", time.Since(start)))
			return nil
		})
	}
	_ = g.Wait()
	return stderrors.Join(errs...)
}

func (s *serviceImpl) Shutdown(ctx context.Context) error {
	return s.processor.Shutdown(ctx)
}

func (s *serviceImpl) recordStage(stage string, start time.Time) {
	if s.metrics != nil {
		s.metrics.RecordStage(stage, time.Since(start))
	}
}

func (s *serviceImpl) recordRun(ok bool) {
	if s.metrics != nil {
		s.metrics.RecordRun(ok)
	}
}

func (s *serviceImpl) recordResult(rep merge.Report, run *substance.Run) {
	if s.metrics == nil {
		return
	}
	for src, n := range rep.BySource {
		s.metrics.RecordFacts(string(src), n)
	}
	s.metrics.RecordSubstances(run.Summary.Substances)
	s.metrics.RecordQuality(rep.Unmatchable, len(rep.Conflicts), s.engine.BridgeConflicts, rep.UnresolvedCodes, rep.NoDomesticBridge)
	for _, a := range run.Assessments {
		s.metrics.RecordAssessment(string(a.Impact.Label), string(a.Score.Tier), a.Score.Total)
	}
}
