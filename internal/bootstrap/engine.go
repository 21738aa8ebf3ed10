package bootstrap

import (
	"context"

	"github.com/turtacn/RegScan/internal/application/scan"
	"github.com/turtacn/RegScan/internal/config"
	"github.com/turtacn/RegScan/internal/domain/bridge"
	"github.com/turtacn/RegScan/internal/domain/classification"
	"github.com/turtacn/RegScan/internal/domain/impact"
	"github.com/turtacn/RegScan/internal/domain/merge"
	"github.com/turtacn/RegScan/internal/domain/normalize"
	"github.com/turtacn/RegScan/internal/domain/scoring"
	"github.com/turtacn/RegScan/internal/domain/substance"
	"github.com/turtacn/RegScan/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RegScan/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/RegScan/internal/infrastructure/reference"
	"github.com/turtacn/RegScan/internal/infrastructure/storage/minio"
	"github.com/turtacn/RegScan/pkg/errors"
)

// Components are the immutable engine parts built from configuration and
// reference data.
type Components struct {
	Normalizer     *normalize.Normalizer
	Bridge         *bridge.Bridge
	Classification *classification.Table
	Merger         *merge.Engine
	Scorer         *scoring.Scorer
	Classifier     *impact.Classifier
	Resolver       *impact.Resolver
}

// Engine returns the scan bundle of the components.
func (c *Components) Engine() scan.Engine {
	return scan.Engine{
		Merger:          c.Merger,
		Scorer:          c.Scorer,
		Classifier:      c.Classifier,
		Resolver:        c.Resolver,
		BridgeConflicts: len(c.Bridge.Conflicts()),
	}
}

// ReferenceSource returns the configured reference table source. A minio
// source needs infra.MinIO.
func ReferenceSource(cfg *config.Config, infra *Infrastructure, logger logging.Logger) (reference.Source, error) {
	switch cfg.Reference.Source {
	case "", "file":
		return reference.NewFileSource(cfg.Reference.Dir), nil
	case "minio":
		if infra == nil || infra.MinIO == nil {
			return nil, errors.New(errors.ErrCodeReferenceSourceAbsent, "reference: minio source requested but minio is not connected")
		}
		repo := minio.NewMinIORepository(infra.MinIO, logger)
		return reference.NewObjectSource(repo, cfg.MinIO.ReferenceBucket), nil
	default:
		return nil, errors.Newf(errors.ErrCodeReferenceSourceAbsent, "reference: unknown source %q", cfg.Reference.Source)
	}
}

// BuildComponents loads the reference tables from src and assembles the
// engine. Any reference failure aborts. metrics may be nil.
func BuildComponents(ctx context.Context, cfg *config.Config, src reference.Source, metrics *prometheus.EngineMetrics, logger logging.Logger) (*Components, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	var loaderMetrics reference.Metrics
	if metrics != nil {
		loaderMetrics = metrics
	}
	loader := reference.NewLoader(src, loaderMetrics, logger)
	ec := cfg.Engine

	norm, err := NewNormalizer(ec)
	if err != nil {
		return nil, err
	}

	tables, err := loader.LoadBridge(ctx, cfg.Reference.Bridge)
	if err != nil {
		return nil, err
	}
	br, err := bridge.New(norm, logger, tables...)
	if err != nil {
		return nil, err
	}

	entries, err := loader.LoadClassification(ctx, cfg.Reference.Classification)
	if err != nil {
		return nil, err
	}
	atc, err := classification.NewTable(entries)
	if err != nil {
		return nil, err
	}

	var exclusivity impact.ExclusivityProvider
	if cfg.Reference.Exclusivity != "" {
		rows, err := loader.LoadExclusivity(ctx, cfg.Reference.Exclusivity)
		if err != nil {
			return nil, err
		}
		table, err := impact.NewExclusivityTable(norm, rows)
		if err != nil {
			return nil, err
		}
		exclusivity = table
	}

	precedence := make([]substance.Source, 0, len(ec.Precedence))
	for _, name := range ec.Precedence {
		s, err := substance.ParseSource(name)
		if err != nil {
			return nil, err
		}
		precedence = append(precedence, s)
	}
	var mergeOpts []merge.Option
	if len(precedence) > 0 {
		mergeOpts = append(mergeOpts, merge.WithPrecedence(precedence))
	}
	merger, err := merge.NewEngine(norm, br, atc, logger, mergeOpts...)
	if err != nil {
		return nil, err
	}

	scorer, err := NewScorer(ec)
	if err != nil {
		return nil, err
	}
	classifier, err := NewClassifier(ec)
	if err != nil {
		return nil, err
	}

	logger.Info("engine components ready",
		logging.Int("bridge_codes", br.Stats().Codes),
		logging.Int("bridge_conflicts", br.Stats().Conflicts),
		logging.Int("classification_entries", atc.Len()),
		logging.Bool("exclusivity", exclusivity != nil),
	)
	return &Components{
		Normalizer:     norm,
		Bridge:         br,
		Classification: atc,
		Merger:         merger,
		Scorer:         scorer,
		Classifier:     classifier,
		Resolver:       impact.NewResolver(exclusivity),
	}, nil
}

// NewNormalizer builds the name normalizer from the engine section.
func NewNormalizer(ec config.EngineConfig) (*normalize.Normalizer, error) {
	var opts []normalize.Option
	if len(ec.Synonyms) > 0 {
		opts = append(opts, normalize.WithSynonyms(ec.Synonyms))
	}
	if len(ec.Suffixes) > 0 {
		opts = append(opts, normalize.WithSuffixes(ec.Suffixes))
	}
	return normalize.New(opts...)
}

// NewScorer builds the attention scorer from the engine section.
func NewScorer(ec config.EngineConfig) (*scoring.Scorer, error) {
	var opts []scoring.Option
	if len(ec.Weights) > 0 {
		weights := make(map[scoring.Signal]int, len(ec.Weights))
		for name, w := range ec.Weights {
			sig, err := scoring.ParseSignal(name)
			if err != nil {
				return nil, err
			}
			weights[sig] = w
		}
		opts = append(opts, scoring.WithWeights(weights))
	}
	if len(ec.Tiers) > 0 {
		opts = append(opts, scoring.WithTiers(ec.Tiers))
	}
	if len(ec.HighBurdenKeywords) > 0 {
		opts = append(opts, scoring.WithHighBurdenKeywords(ec.HighBurdenKeywords))
	}
	if ec.ConcurrencyWindowDays > 0 {
		opts = append(opts, scoring.WithConcurrencyWindow(ec.ConcurrencyWindowDays))
	}
	return scoring.NewScorer(opts...)
}

// NewClassifier builds the domestic-impact classifier from the engine section.
func NewClassifier(ec config.EngineConfig) (*impact.Classifier, error) {
	var opts []impact.Option
	if len(ec.ActivePhases) > 0 {
		phases := make([]substance.TrialPhase, 0, len(ec.ActivePhases))
		for _, p := range ec.ActivePhases {
			phases = append(phases, substance.ParsePhase(p))
		}
		opts = append(opts, impact.WithActivePhases(phases))
	}
	if len(ec.ActiveStatuses) > 0 {
		statuses := make([]substance.TrialStatus, 0, len(ec.ActiveStatuses))
		for _, s := range ec.ActiveStatuses {
			statuses = append(statuses, substance.ParseTrialStatus(s))
		}
		opts = append(opts, impact.WithActiveStatuses(statuses))
	}
	if ec.ExclusivityWindowDays > 0 {
		opts = append(opts, impact.WithExclusivityWindow(ec.ExclusivityWindowDays))
	}
	if ec.StaleApprovalDays > 0 {
		opts = append(opts, impact.WithStaleApprovalDays(ec.StaleApprovalDays))
	}
	if ec.HighCostThreshold > 0 {
		opts = append(opts, impact.WithHighCostThreshold(ec.HighCostThreshold))
	}
	return impact.NewClassifier(opts...)
}
