// Package query is the read side over stored engine runs. Lookups go through
// an in-process cache, then the shared redis cache, then the repository.
package query

import (
	"context"
	"fmt"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/turtacn/RegScan/internal/domain/substance"
	"github.com/turtacn/RegScan/internal/infrastructure/database/redis"
	"github.com/turtacn/RegScan/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RegScan/internal/infrastructure/search/opensearch"
	"github.com/turtacn/RegScan/pkg/errors"
)

const (
	MaxPageSize     = 200
	DefaultPageSize = 50

	layerMemory = "memory"
	layerRedis  = "redis"
)

// Cache is the subset of redis.Cache the service uses.
type Cache interface {
	GetOrSet(ctx context.Context, key string, dest interface{}, ttl time.Duration, loader func(ctx context.Context) (interface{}, error)) error
}

// Searcher runs free-text assessment queries. *opensearch.Searcher satisfies it.
type Searcher interface {
	SearchAssessments(ctx context.Context, index string, q opensearch.AssessmentQuery) ([]opensearch.AssessmentDocument, int64, error)
}

// PeerFinder returns same-class substances from the graph.
// *repositories.SubstanceGraph satisfies it.
type PeerFinder interface {
	PeersOf(ctx context.Context, key substance.CanonicalKey) ([]substance.CanonicalKey, error)
}

// Metrics is the subset of *prometheus.EngineMetrics the service records.
type Metrics interface {
	RecordCacheLookup(layer string, hit bool)
}

// ListRequest pages through one run. Text switches to the search index when
// one is configured.
type ListRequest struct {
	RunID    string
	Text     string
	Label    substance.ImpactLabel
	Tier     substance.Tier
	ATC      string
	MinScore *int
	Offset   int
	Limit    int
}

// SubstanceSummary is one row of a listing.
type SubstanceSummary struct {
	RunID       string                `json:"run_id"`
	Key         string                `json:"key"`
	DisplayName string                `json:"display_name"`
	ATCCode     string                `json:"atc_code,omitempty"`
	Score       int                   `json:"score"`
	Tier        substance.Tier        `json:"tier"`
	Label       substance.ImpactLabel `json:"label"`
	Herbal      bool                  `json:"herbal,omitempty"`
}

// ListResponse is a page of substances.
type ListResponse struct {
	RunID  string             `json:"run_id,omitempty"`
	Items  []SubstanceSummary `json:"items"`
	Total  int64              `json:"total"`
	Offset int                `json:"offset"`
	Limit  int                `json:"limit"`
	Source string             `json:"source"`
}

// SubstanceDetail is one assessment plus graph peers.
type SubstanceDetail struct {
	RunID      string                   `json:"run_id"`
	Assessment *substance.Assessment    `json:"assessment"`
	GraphPeers []substance.CanonicalKey `json:"graph_peers,omitempty"`
}

// Service answers run and substance queries.
type Service interface {
	LatestRunID(ctx context.Context) (string, error)
	GetRun(ctx context.Context, id string) (*substance.Run, error)
	GetSubstance(ctx context.Context, runID string, key substance.CanonicalKey) (*SubstanceDetail, error)
	ListSubstances(ctx context.Context, req ListRequest) (*ListResponse, error)
	// Invalidate drops in-process entries, e.g. after a new run is stored.
	Invalidate()
}

// Option configures the service.
type Option func(*serviceImpl)

// WithSearcher enables free-text listing through the search index.
func WithSearcher(s Searcher, index string) Option {
	return func(q *serviceImpl) {
		q.searcher = s
		if index != "" {
			q.index = index
		}
	}
}

// WithPeerFinder enables graph peers on substance lookups.
func WithPeerFinder(p PeerFinder) Option {
	return func(q *serviceImpl) { q.peers = p }
}

// WithMetrics records cache hits and misses.
func WithMetrics(m Metrics) Option {
	return func(q *serviceImpl) { q.metrics = m }
}

// WithTTL sets the in-process TTL for immutable entries, the TTL of the
// latest-run pointer and the redis backfill TTL.
func WithTTL(memory, latest, remote time.Duration) Option {
	return func(q *serviceImpl) {
		if memory > 0 {
			q.memoryTTL = memory
		}
		if latest > 0 {
			q.latestTTL = latest
		}
		if remote > 0 {
			q.remoteTTL = remote
		}
	}
}

type serviceImpl struct {
	repo     substance.Repository
	cache    Cache
	searcher Searcher
	index    string
	peers    PeerFinder
	metrics  Metrics
	logger   logging.Logger

	local     *gocache.Cache
	group     singleflight.Group
	memoryTTL time.Duration
	latestTTL time.Duration
	remoteTTL time.Duration
}

// NewService returns a Service over repo. cache may be nil.
func NewService(repo substance.Repository, cache Cache, logger logging.Logger, opts ...Option) (Service, error) {
	if repo == nil {
		return nil, errors.New(errors.ErrCodeValidation, "repository is required")
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	s := &serviceImpl{
		repo:      repo,
		cache:     cache,
		index:     opensearch.DefaultAssessmentIndex,
		logger:    logger.Named("query"),
		memoryTTL: 5 * time.Minute,
		latestTTL: 10 * time.Second,
		remoteTTL: time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.local = gocache.New(s.memoryTTL, 2*s.memoryTTL)
	return s, nil
}

func (s *serviceImpl) Invalidate() { s.local.Flush() }

// LatestRunID resolves the latest run, caching the pointer briefly.
func (s *serviceImpl) LatestRunID(ctx context.Context) (string, error) {
	var id string
	err := s.lookup(ctx, redis.LatestRunKey, s.latestTTL, &id, func(ctx context.Context) (interface{}, error) {
		return s.repo.LatestRunID(ctx)
	})
	return id, err
}

// GetRun loads a run. An empty id or "latest" resolves the latest run.
func (s *serviceImpl) GetRun(ctx context.Context, id string) (*substance.Run, error) {
	id, err := s.resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	run := &substance.Run{}
	err = s.lookup(ctx, redis.RunKey(id), s.memoryTTL, run, func(ctx context.Context) (interface{}, error) {
		return s.repo.GetRun(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

// GetSubstance loads one assessment and, when a peer finder is configured,
// its graph peers. A failing peer lookup is logged, not returned.
func (s *serviceImpl) GetSubstance(ctx context.Context, runID string, key substance.CanonicalKey) (*SubstanceDetail, error) {
	if key.IsEmpty() {
		return nil, errors.New(errors.ErrCodeValidation, "substance key is required")
	}
	runID, err := s.resolve(ctx, runID)
	if err != nil {
		return nil, err
	}
	a := &substance.Assessment{}
	err = s.lookup(ctx, redis.AssessmentKey(runID, key), s.memoryTTL, a, func(ctx context.Context) (interface{}, error) {
		return s.repo.GetAssessment(ctx, runID, key)
	})
	if err != nil {
		return nil, err
	}

	detail := &SubstanceDetail{RunID: runID, Assessment: a}
	if s.peers != nil {
		peers, err := s.peers.PeersOf(ctx, key)
		if err != nil {
			s.logger.Warn("graph peer lookup failed", logging.String("key", string(key)), logging.Err(err))
		} else {
			detail.GraphPeers = peers
		}
	}
	return detail, nil
}

// ListSubstances pages through a run. Free-text requests go to the search
// index, which only holds the latest state of each substance.
func (s *serviceImpl) ListSubstances(ctx context.Context, req ListRequest) (*ListResponse, error) {
	if req.Offset < 0 {
		return nil, errors.New(errors.ErrCodeValidation, "offset must be >= 0")
	}
	if req.Limit <= 0 {
		req.Limit = DefaultPageSize
	}
	if req.Limit > MaxPageSize {
		req.Limit = MaxPageSize
	}

	if strings.TrimSpace(req.Text) != "" || req.ATC != "" || req.MinScore != nil {
		if s.searcher == nil {
			return nil, errors.New(errors.ErrCodeFeatureDisabled, "text, ATC and score filters require the search index")
		}
		return s.search(ctx, req)
	}

	runID, err := s.resolve(ctx, req.RunID)
	if err != nil {
		return nil, err
	}
	items, total, err := s.repo.ListAssessments(ctx, substance.AssessmentFilter{
		RunID:  runID,
		Label:  req.Label,
		Tier:   req.Tier,
		Limit:  req.Limit,
		Offset: req.Offset,
	})
	if err != nil {
		return nil, err
	}
	resp := &ListResponse{RunID: runID, Total: total, Offset: req.Offset, Limit: req.Limit, Source: "database", Items: make([]SubstanceSummary, 0, len(items))}
	for i := range items {
		resp.Items = append(resp.Items, summarize(runID, &items[i]))
	}
	return resp, nil
}

func (s *serviceImpl) search(ctx context.Context, req ListRequest) (*ListResponse, error) {
	docs, total, err := s.searcher.SearchAssessments(ctx, s.index, opensearch.AssessmentQuery{
		Text:     strings.TrimSpace(req.Text),
		Label:    string(req.Label),
		Tier:     string(req.Tier),
		ATC:      strings.ToUpper(req.ATC),
		MinScore: req.MinScore,
		Offset:   req.Offset,
		Limit:    req.Limit,
	})
	if err != nil {
		return nil, err
	}
	resp := &ListResponse{Total: total, Offset: req.Offset, Limit: req.Limit, Source: "search", Items: make([]SubstanceSummary, 0, len(docs))}
	for _, d := range docs {
		resp.Items = append(resp.Items, SubstanceSummary{
			RunID:       d.RunID,
			Key:         d.Key,
			DisplayName: d.DisplayName,
			ATCCode:     d.ATCCode,
			Score:       d.Score,
			Tier:        substance.Tier(d.Tier),
			Label:       substance.ImpactLabel(d.Label),
			Herbal:      d.Herbal,
		})
	}
	return resp, nil
}

func summarize(runID string, a *substance.Assessment) SubstanceSummary {
	atc := a.Status.ATCCode
	if atc == "" && a.Status.Classification != nil {
		atc = a.Status.Classification.Code
	}
	return SubstanceSummary{
		RunID:       runID,
		Key:         string(a.Status.Key),
		DisplayName: a.Status.DisplayName,
		ATCCode:     atc,
		Score:       a.Score.Total,
		Tier:        a.Score.Tier,
		Label:       a.Impact.Label,
		Herbal:      a.Status.Herbal,
	}
}

func (s *serviceImpl) resolve(ctx context.Context, runID string) (string, error) {
	if runID == "" || runID == "latest" {
		return s.LatestRunID(ctx)
	}
	return runID, nil
}

// lookup fills dest from the in-process cache, redis or load, in that
// order. dest must be a pointer; load returns a value or pointer of the
// same type. Redis failures degrade to the loader.
func (s *serviceImpl) lookup(ctx context.Context, key string, memoryTTL time.Duration, dest interface{}, load func(context.Context) (interface{}, error)) error {
	if v, ok := s.local.Get(key); ok {
		s.recordLookup(layerMemory, true)
		return assign(dest, v)
	}
	s.recordLookup(layerMemory, false)

	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		if s.cache == nil {
			return load(ctx)
		}
		remoteTTL := s.remoteTTL
		if key == redis.LatestRunKey {
			remoteTTL = s.latestTTL
		}

		var loaded bool
		fresh := newLike(dest)
		err := s.cache.GetOrSet(ctx, key, fresh, remoteTTL, func(ctx context.Context) (interface{}, error) {
			loaded = true
			return load(ctx)
		})
		if err == nil {
			s.recordLookup(layerRedis, !loaded)
			return fresh, nil
		}
		s.recordLookup(layerRedis, false)
		if loaded {
			return nil, err
		}
		s.logger.Warn("redis lookup failed", logging.String("key", key), logging.Err(err))
		return load(ctx)
	})
	if err != nil {
		return err
	}
	s.local.Set(key, v, memoryTTL)
	return assign(dest, v)
}

func (s *serviceImpl) recordLookup(layer string, hit bool) {
	if s.metrics != nil {
		s.metrics.RecordCacheLookup(layer, hit)
	}
}

func newLike(dest interface{}) interface{} {
	switch dest.(type) {
	case *string:
		return new(string)
	case *substance.Run:
		return new(substance.Run)
	case *substance.Assessment:
		return new(substance.Assessment)
	}
	panic(fmt.Sprintf("query: unsupported cache type %T", dest))
}

// assign copies v into dest. Cached runs and assessments are shared
// read-only values; the shallow copy is never mutated by callers.
func assign(dest, v interface{}) error {
	switch d := dest.(type) {
	case *string:
		switch x := v.(type) {
		case string:
			*d = x
			return nil
		case *string:
			*d = *x
			return nil
		}
	case *substance.Run:
		if x, ok := v.(*substance.Run); ok && x != nil {
			*d = *x
			return nil
		}
	case *substance.Assessment:
		if x, ok := v.(*substance.Assessment); ok && x != nil {
			*d = *x
			return nil
		}
	}
	return errors.Newf(errors.ErrCodeInternal, "query: cannot assign %T to %T", v, dest)
}
