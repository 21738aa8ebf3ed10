// Package merge groups per-source facts into one aggregate per substance.
package merge

import (
	"fmt"
	"sort"

	"github.com/turtacn/RegScan/internal/domain/bridge"
	"github.com/turtacn/RegScan/internal/domain/normalize"
	"github.com/turtacn/RegScan/internal/domain/substance"
	"github.com/turtacn/RegScan/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RegScan/pkg/errors"
)

// Normalizer produces canonical keys from raw names.
type Normalizer interface {
	Normalize(raw string) substance.CanonicalKey
}

// Bridge resolves local codes. *bridge.Bridge satisfies it.
type Bridge interface {
	ResolveCode(code string) (bridge.Match, bool)
	ResolveCanonical(key substance.CanonicalKey) []string
	ATCFor(key substance.CanonicalKey) string
}

// Classifier resolves classification codes. *classification.Table satisfies it.
type Classifier interface {
	Classify(code string) (substance.ClassificationPath, bool)
}

// Conflict reasons.
const (
	ReasonOlderDate      = "older approval date"
	ReasonUndated        = "undated fact superseded by dated fact"
	ReasonFirstSeen      = "tie broken by input order"
	ReasonDuplicateTrial = "duplicate trial id"
)

// Report carries the non-fatal counters of one merge.
type Report struct {
	Facts            int                      `json:"facts"`
	Groups           int                      `json:"groups"`
	Unmatchable      int                      `json:"unmatchable"`
	UnresolvedCodes  int                      `json:"unresolved_codes"`
	NoDomesticBridge int                      `json:"no_domestic_bridge"`
	BySource         map[substance.Source]int `json:"by_source"`
	Conflicts        []substance.ConflictNote `json:"conflicts,omitempty"`
}

// Result is the merge output, sorted by canonical key.
type Result struct {
	Statuses []substance.AggregateStatus
	Report   Report
}

// Engine is stateless between calls; concurrent Merge calls share nothing
// but the read-only reference tables.
type Engine struct {
	normalizer Normalizer
	bridge     Bridge
	classifier Classifier
	logger     logging.Logger
	precedence []substance.Source
}

type engineOptions struct {
	precedence []substance.Source
}

// Option configures an Engine.
type Option func(*engineOptions)

// WithPrecedence sets the source order used to sort facts and to pick the
// display name and classification code. Sources not listed keep their
// default relative order after the listed ones.
func WithPrecedence(order []substance.Source) Option {
	return func(o *engineOptions) { o.precedence = order }
}

// NewEngine creates an Engine. bridge and classifier may be nil.
func NewEngine(normalizer Normalizer, br Bridge, classifier Classifier, logger logging.Logger, opts ...Option) (*Engine, error) {
	if normalizer == nil {
		return nil, errors.New(errors.ErrCodeValidation, "normalizer is required")
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	var o engineOptions
	for _, opt := range opts {
		opt(&o)
	}
	order, err := resolvePrecedence(o.precedence)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		normalizer: normalizer,
		bridge:     br,
		classifier: classifier,
		logger:     logger,
		precedence: order,
	}
	return e, nil
}

func resolvePrecedence(order []substance.Source) ([]substance.Source, error) {
	seen := make(map[substance.Source]bool)
	out := make([]substance.Source, 0, len(substance.Sources()))
	for _, s := range order {
		if !s.Valid() {
			return nil, errors.Newf(errors.ErrCodeInvalidPrecedence, "unknown source %q in precedence", s)
		}
		if seen[s] {
			return nil, errors.Newf(errors.ErrCodeInvalidPrecedence, "source %q listed twice in precedence", s)
		}
		seen[s] = true
		out = append(out, s)
	}
	for _, s := range substance.Sources() {
		if !seen[s] {
			out = append(out, s)
		}
	}
	return out, nil
}

// Precedence returns the effective source order.
func (e *Engine) Precedence() []substance.Source {
	out := make([]substance.Source, len(e.precedence))
	copy(out, e.precedence)
	return out
}

// Key resolves the canonical key for f: the bridge key when f carries a
// local code the bridge knows, the normalized raw name otherwise. The
// second result reports a local code the bridge could not resolve.
func (e *Engine) Key(f *substance.SourceFact) (substance.CanonicalKey, bool) {
	unresolved := false
	if f.LocalCode != "" && e.bridge != nil {
		if m, ok := e.bridge.ResolveCode(f.LocalCode); ok {
			return m.Key, false
		}
		unresolved = true
	}
	return e.normalizer.Normalize(f.RawName), unresolved
}

type group struct {
	key      substance.CanonicalKey
	slots    map[substance.Source]substance.SourceFact
	trials   []substance.SourceFact
	trialIdx map[string]int
}

// Merge groups facts by canonical key and keeps one winning fact per source.
// The latest approval date wins; a dated fact beats an undated one; ties go
// to the fact seen first. Trial-registry facts are accumulated per trial id
// instead. The result is deterministic for a given input sequence.
func (e *Engine) Merge(facts []substance.SourceFact) Result {
	rep := Report{Facts: len(facts), BySource: make(map[substance.Source]int)}
	groups := make(map[substance.CanonicalKey]*group)

	for i := range facts {
		f := &facts[i]
		rep.BySource[f.Source]++

		key, unresolved := e.Key(f)
		if unresolved {
			rep.UnresolvedCodes++
		}
		if key.IsEmpty() {
			rep.Unmatchable++
			e.logger.Debug("unmatchable fact",
				logging.String("source", string(f.Source)),
				logging.String("raw_name", f.RawName),
				logging.String("local_code", f.LocalCode))
			continue
		}

		g, ok := groups[key]
		if !ok {
			g = &group{key: key, slots: make(map[substance.Source]substance.SourceFact), trialIdx: make(map[string]int)}
			groups[key] = g
		}
		if note, conflict := e.add(g, f.Clone()); conflict {
			rep.Conflicts = append(rep.Conflicts, note)
			e.logger.Warn("merge conflict",
				logging.String("key", key.String()),
				logging.String("source", string(note.Source)),
				logging.String("kept", note.Kept),
				logging.String("discarded", note.Discarded),
				logging.String("reason", note.Reason))
		}
	}

	keys := make([]substance.CanonicalKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	out := make([]substance.AggregateStatus, 0, len(keys))
	for _, k := range keys {
		st := e.build(groups[k])
		if !st.HasDomesticBridge() {
			rep.NoDomesticBridge++
		}
		out = append(out, st)
	}
	rep.Groups = len(out)

	e.logger.Info("merge completed",
		logging.Int("facts", rep.Facts),
		logging.Int("substances", rep.Groups),
		logging.Int("unmatchable", rep.Unmatchable),
		logging.Int("unresolved_codes", rep.UnresolvedCodes),
		logging.Int("conflicts", len(rep.Conflicts)))
	return Result{Statuses: out, Report: rep}
}

// add places f into g. It returns a conflict note when a fact was discarded.
func (e *Engine) add(g *group, f substance.SourceFact) (substance.ConflictNote, bool) {
	if f.Source == substance.SourceCRIS && f.Trial != nil && f.Trial.TrialID != "" {
		if j, dup := g.trialIdx[f.Trial.TrialID]; dup {
			kept, discarded, reason := pick(g.trials[j], f)
			g.trials[j] = kept
			if cur, ok := g.slots[f.Source]; ok {
				g.slots[f.Source], _, _ = pick(cur, kept)
			}
			return substance.ConflictNote{
				Key:       g.key,
				Source:    f.Source,
				Kept:      describe(kept),
				Discarded: describe(discarded),
				Reason:    ReasonDuplicateTrial + ": " + reason,
			}, true
		}
		g.trialIdx[f.Trial.TrialID] = len(g.trials)
		g.trials = append(g.trials, f)
		if cur, ok := g.slots[f.Source]; ok {
			f, _, _ = pick(cur, f)
		}
		g.slots[f.Source] = f
		return substance.ConflictNote{}, false
	}

	cur, ok := g.slots[f.Source]
	if !ok {
		g.slots[f.Source] = f
		return substance.ConflictNote{}, false
	}
	kept, discarded, reason := pick(cur, f)
	g.slots[f.Source] = kept
	return substance.ConflictNote{
		Key:       g.key,
		Source:    f.Source,
		Kept:      describe(kept),
		Discarded: describe(discarded),
		Reason:    reason,
	}, true
}

// pick chooses between the current winner and a later candidate.
func pick(cur, cand substance.SourceFact) (kept, discarded substance.SourceFact, reason string) {
	switch {
	case cand.ApprovalDate != nil && cur.ApprovalDate == nil:
		return cand, cur, ReasonUndated
	case cand.ApprovalDate == nil && cur.ApprovalDate != nil:
		return cur, cand, ReasonUndated
	case cand.ApprovalDate != nil && cand.ApprovalDate.After(*cur.ApprovalDate):
		return cand, cur, ReasonOlderDate
	case cand.ApprovalDate != nil && cur.ApprovalDate.After(*cand.ApprovalDate):
		return cur, cand, ReasonOlderDate
	default:
		return cur, cand, ReasonFirstSeen
	}
}

func describe(f substance.SourceFact) string {
	id := f.RawName
	switch {
	case f.Trial != nil && f.Trial.TrialID != "":
		id = f.Trial.TrialID
	case f.ApplicationNumber != "":
		id = f.ApplicationNumber
	case f.LocalCode != "":
		id = f.LocalCode
	}
	if f.ApprovalDate == nil {
		return id
	}
	return fmt.Sprintf("%s@%s", id, f.ApprovalDate.Format("2006-01-02"))
}

func (e *Engine) build(g *group) substance.AggregateStatus {
	st := substance.AggregateStatus{Key: g.key}
	for _, src := range e.precedence {
		if f, ok := g.slots[src]; ok {
			st.Facts = append(st.Facts, f)
		}
	}
	st.Trials = g.trials

	for _, f := range st.Facts {
		if st.DisplayName == "" && f.RawName != "" {
			st.DisplayName = f.RawName
		}
		if st.ATCCode == "" && f.ATCCode != "" {
			st.ATCCode = f.ATCCode
		}
		if normalize.IsHerbal(f.RawName) {
			st.Herbal = true
		}
	}
	if st.DisplayName == "" {
		st.DisplayName = g.key.String()
	}

	if e.bridge != nil {
		st.LocalCodes = e.bridge.ResolveCanonical(g.key)
		if st.ATCCode == "" {
			st.ATCCode = e.bridge.ATCFor(g.key)
		}
	}
	if st.ATCCode != "" && e.classifier != nil {
		if p, ok := e.classifier.Classify(st.ATCCode); ok {
			st.Classification = &p
		}
	}
	return st
}
