// Package scoring computes the bounded attention score of an aggregate.
package scoring

import (
	"strings"
	"time"

	"github.com/turtacn/RegScan/internal/domain/substance"
	"github.com/turtacn/RegScan/pkg/errors"
)

const (
	// MinScore and MaxScore bound every total.
	MinScore = 0
	MaxScore = 100

	// DefaultConcurrencyWindowDays is the maximum gap between the US and EU
	// approvals for the concurrency signal.
	DefaultConcurrencyWindowDays = 365
)

// Signal names one scoring rule.
type Signal string

const (
	SignalFDAApproved      Signal = "fda_approved"
	SignalEMAApproved      Signal = "ema_approved"
	SignalPMDAApproved     Signal = "pmda_approved"
	SignalMFDSApproved     Signal = "mfds_approved"
	SignalFDABreakthrough  Signal = "fda_breakthrough"
	SignalFDAAccelerated   Signal = "fda_accelerated"
	SignalFDAPriority      Signal = "fda_priority"
	SignalFDAFastTrack     Signal = "fda_fast_track"
	SignalEMAPrime         Signal = "ema_prime"
	SignalEMAAccelerated   Signal = "ema_accelerated"
	SignalEMAConditional   Signal = "ema_conditional"
	SignalOrphan           Signal = "orphan_drug"
	SignalMFDSOrphan       Signal = "mfds_orphan"
	SignalMultiApproval3   Signal = "multi_approval_3"
	SignalMultiApproval4   Signal = "multi_approval_4"
	SignalFDAEMAConcurrent Signal = "fda_ema_concurrent"
	SignalWHOEssential     Signal = "who_eml"
	SignalMajorDisease     Signal = "major_disease"
)

// signalOrder is the evaluation and reporting order.
var signalOrder = []Signal{
	SignalFDAApproved, SignalEMAApproved, SignalPMDAApproved, SignalMFDSApproved,
	SignalFDABreakthrough, SignalFDAAccelerated, SignalFDAPriority, SignalFDAFastTrack,
	SignalEMAPrime, SignalEMAAccelerated, SignalEMAConditional,
	SignalOrphan, SignalMFDSOrphan,
	SignalMultiApproval3, SignalMultiApproval4,
	SignalFDAEMAConcurrent, SignalWHOEssential, SignalMajorDisease,
}

var defaultWeights = map[Signal]int{
	SignalFDAApproved:      10,
	SignalEMAApproved:      10,
	SignalPMDAApproved:     5,
	SignalMFDSApproved:     5,
	SignalFDABreakthrough:  15,
	SignalFDAAccelerated:   10,
	SignalFDAPriority:      5,
	SignalFDAFastTrack:     5,
	SignalEMAPrime:         15,
	SignalEMAAccelerated:   10,
	SignalEMAConditional:   5,
	SignalOrphan:           15,
	SignalMFDSOrphan:       10,
	SignalMultiApproval3:   10,
	SignalMultiApproval4:   10,
	SignalFDAEMAConcurrent: 10,
	SignalWHOEssential:     10,
	SignalMajorDisease:     10,
}

var defaultKeywords = []string{
	"cancer", "neoplasm", "tumor", "oncolog", "leukemia", "lymphoma",
	"alzheimer", "dementia", "diabetes", "heart failure", "cardiovascular",
	"hiv", "aids", "hepatitis", "covid", "sars-cov",
}

// Signals returns every signal in evaluation order.
func Signals() []Signal {
	out := make([]Signal, len(signalOrder))
	copy(out, signalOrder)
	return out
}

// ParseSignal validates a signal name.
func ParseSignal(s string) (Signal, error) {
	sig := Signal(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := defaultWeights[sig]; !ok {
		return "", errors.Newf(errors.ErrCodeInvalidWeightTable, "unknown scoring signal %q", s)
	}
	return sig, nil
}

// DefaultWeights returns a copy of the built-in weight table.
func DefaultWeights() map[Signal]int {
	out := make(map[Signal]int, len(defaultWeights))
	for k, v := range defaultWeights {
		out[k] = v
	}
	return out
}

// DefaultHighBurdenKeywords returns the built-in indication keyword list.
func DefaultHighBurdenKeywords() []string {
	out := make([]string, len(defaultKeywords))
	copy(out, defaultKeywords)
	return out
}

// Threshold maps a minimum total to a tier.
type Threshold struct {
	Tier substance.Tier `json:"tier" mapstructure:"tier" yaml:"tier"`
	Min  int            `json:"min" mapstructure:"min" yaml:"min"`
}

// DefaultTiers returns the built-in tier table, highest first.
func DefaultTiers() []Threshold {
	return []Threshold{
		{Tier: substance.TierHot, Min: 80},
		{Tier: substance.TierHigh, Min: 60},
		{Tier: substance.TierMid, Min: 40},
		{Tier: substance.TierLow, Min: MinScore},
	}
}

type scorerOptions struct {
	weights  map[Signal]int
	tiers    []Threshold
	keywords []string
	window   int
}

// Option configures a Scorer.
type Option func(*scorerOptions)

// WithWeights overrides individual signal weights.
func WithWeights(w map[Signal]int) Option {
	return func(o *scorerOptions) {
		for k, v := range w {
			o.weights[k] = v
		}
	}
}

// WithTiers replaces the tier table. Minimums must be strictly descending.
func WithTiers(t []Threshold) Option {
	return func(o *scorerOptions) { o.tiers = t }
}

// WithHighBurdenKeywords replaces the indication keyword list.
func WithHighBurdenKeywords(k []string) Option {
	return func(o *scorerOptions) { o.keywords = k }
}

// WithConcurrencyWindow sets the US/EU approval gap, in days.
func WithConcurrencyWindow(days int) Option {
	return func(o *scorerOptions) { o.window = days }
}

// Scorer is a pure function of its configuration and safe for concurrent use.
type Scorer struct {
	weights  map[Signal]int
	tiers    []Threshold
	keywords []string
	window   time.Duration
}

// NewScorer validates the configuration and returns a Scorer.
func NewScorer(opts ...Option) (*Scorer, error) {
	o := scorerOptions{
		weights:  DefaultWeights(),
		tiers:    DefaultTiers(),
		keywords: defaultKeywords,
		window:   DefaultConcurrencyWindowDays,
	}
	for _, opt := range opts {
		opt(&o)
	}

	for sig := range o.weights {
		if _, ok := defaultWeights[sig]; !ok {
			return nil, errors.Newf(errors.ErrCodeInvalidWeightTable, "unknown scoring signal %q", sig)
		}
	}
	if err := validateTiers(o.tiers); err != nil {
		return nil, err
	}
	if o.window < 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidWeightTable, "negative concurrency window %d", o.window)
	}

	s := &Scorer{
		weights: o.weights,
		tiers:   append([]Threshold(nil), o.tiers...),
		window:  time.Duration(o.window) * 24 * time.Hour,
	}
	for _, k := range o.keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			s.keywords = append(s.keywords, k)
		}
	}
	return s, nil
}

func validateTiers(tiers []Threshold) error {
	if len(tiers) == 0 {
		return errors.New(errors.ErrCodeInvalidTierTable, "tier table is empty")
	}
	for i, t := range tiers {
		if t.Tier == "" {
			return errors.Newf(errors.ErrCodeInvalidTierTable, "tier %d has no name", i)
		}
		if i > 0 && t.Min >= tiers[i-1].Min {
			return errors.Newf(errors.ErrCodeInvalidTierTable, "tier %s minimum %d is not below %d", t.Tier, t.Min, tiers[i-1].Min)
		}
	}
	return nil
}

// Weights returns a copy of the effective weights.
func (s *Scorer) Weights() map[Signal]int {
	out := make(map[Signal]int, len(s.weights))
	for k, v := range s.weights {
		out[k] = v
	}
	return out
}

// Score evaluates every signal against status. Signals are additive and may
// count the same approval more than once (per-regulator and multi-approval
// signals both fire). The total is clamped to [MinScore, MaxScore].
func (s *Scorer) Score(status *substance.AggregateStatus) substance.ScoreResult {
	res := substance.ScoreResult{Contributions: []substance.Contribution{}}
	for _, sig := range signalOrder {
		if !s.fires(sig, status) {
			continue
		}
		pts := s.weights[sig]
		res.Raw += pts
		res.Contributions = append(res.Contributions, substance.Contribution{Label: string(sig), Points: pts})
	}
	res.Total = clamp(res.Raw)
	res.Tier = s.TierFor(res.Total)
	return res
}

// TierFor returns the first tier whose minimum total is met, or the lowest
// tier when none is.
func (s *Scorer) TierFor(total int) substance.Tier {
	for _, t := range s.tiers {
		if total >= t.Min {
			return t.Tier
		}
	}
	return s.tiers[len(s.tiers)-1].Tier
}

func clamp(v int) int {
	if v < MinScore {
		return MinScore
	}
	if v > MaxScore {
		return MaxScore
	}
	return v
}

func (s *Scorer) fires(sig Signal, a *substance.AggregateStatus) bool {
	switch sig {
	case SignalFDAApproved:
		return a.IsApproved(substance.SourceFDA)
	case SignalEMAApproved:
		return a.IsApproved(substance.SourceEMA)
	case SignalPMDAApproved:
		return a.IsApproved(substance.SourcePMDA)
	case SignalMFDSApproved:
		return a.IsApproved(substance.SourceMFDS)
	case SignalFDABreakthrough:
		return has(a, substance.SourceFDA, substance.DesignationBreakthrough)
	case SignalFDAAccelerated:
		return has(a, substance.SourceFDA, substance.DesignationAccelerated)
	case SignalFDAPriority:
		return has(a, substance.SourceFDA, substance.DesignationPriority)
	case SignalFDAFastTrack:
		return has(a, substance.SourceFDA, substance.DesignationFastTrack)
	case SignalEMAPrime:
		return has(a, substance.SourceEMA, substance.DesignationPRIME)
	case SignalEMAAccelerated:
		return has(a, substance.SourceEMA, substance.DesignationAccelerated)
	case SignalEMAConditional:
		return has(a, substance.SourceEMA, substance.DesignationConditional)
	case SignalOrphan:
		for _, f := range a.Facts {
			if f.Source.IsInternational() && f.HasDesignation(substance.DesignationOrphan) {
				return true
			}
		}
		return false
	case SignalMFDSOrphan:
		return has(a, substance.SourceMFDS, substance.DesignationOrphan)
	case SignalMultiApproval3:
		return a.ApprovalCount() >= 3
	case SignalMultiApproval4:
		return a.ApprovalCount() >= 4
	case SignalFDAEMAConcurrent:
		return s.concurrent(a)
	case SignalWHOEssential:
		for _, f := range a.Facts {
			if f.HasDesignation(substance.DesignationWHOEssential) {
				return true
			}
		}
		return false
	case SignalMajorDisease:
		return s.majorDisease(a)
	}
	return false
}

func has(a *substance.AggregateStatus, src substance.Source, d substance.Designation) bool {
	f, ok := a.Fact(src)
	return ok && f.HasDesignation(d)
}

func (s *Scorer) concurrent(a *substance.AggregateStatus) bool {
	us, eu := a.ApprovalDate(substance.SourceFDA), a.ApprovalDate(substance.SourceEMA)
	if us == nil || eu == nil {
		return false
	}
	gap := us.Sub(*eu)
	if gap < 0 {
		gap = -gap
	}
	return gap <= s.window
}

func (s *Scorer) majorDisease(a *substance.AggregateStatus) bool {
	for _, f := range a.Facts {
		if f.Indication == "" {
			continue
		}
		ind := strings.ToLower(f.Indication)
		for _, k := range s.keywords {
			if strings.Contains(ind, k) {
				return true
			}
		}
	}
	return false
}
