// Package impact assigns each aggregate a discrete domestic-impact label
// through an ordered, first-match-wins rule table.
package impact

import (
	"fmt"
	"time"

	"github.com/turtacn/RegScan/internal/domain/substance"
	"github.com/turtacn/RegScan/pkg/errors"
)

const (
	// DefaultExclusivityWindowDays is how close an exclusivity expiry must be
	// to now for the generic-entry rule.
	DefaultExclusivityWindowDays = 365
	// DefaultStaleApprovalDays is the international approval age above which
	// a missing local approval is noted.
	DefaultStaleApprovalDays = 365
	// DefaultHighCostThreshold is the price ceiling above which a listing is
	// noted as high cost.
	DefaultHighCostThreshold = 1_000_000
)

// DefaultActivePhases returns the phases that count towards an active trial.
func DefaultActivePhases() []substance.TrialPhase {
	return []substance.TrialPhase{substance.Phase2, substance.Phase2And3, substance.Phase3}
}

// DefaultActiveStatuses returns the statuses that count towards an active trial.
func DefaultActiveStatuses() []substance.TrialStatus {
	return []substance.TrialStatus{
		substance.TrialNotYetRecruiting,
		substance.TrialRecruiting,
		substance.TrialActive,
		substance.TrialEnrolling,
	}
}

type classifierOptions struct {
	phases   []substance.TrialPhase
	statuses []substance.TrialStatus
	window   int
	stale    int
	highCost float64
	clock    func() time.Time
}

// Option configures a Classifier.
type Option func(*classifierOptions)

// WithActivePhases replaces the phases that make a trial active.
func WithActivePhases(p []substance.TrialPhase) Option {
	return func(o *classifierOptions) { o.phases = p }
}

// WithActiveStatuses replaces the statuses that make a trial active.
func WithActiveStatuses(s []substance.TrialStatus) Option {
	return func(o *classifierOptions) { o.statuses = s }
}

// WithExclusivityWindow sets the generic-entry window, in days.
func WithExclusivityWindow(days int) Option {
	return func(o *classifierOptions) { o.window = days }
}

// WithStaleApprovalDays sets the age of an international approval after
// which a missing local approval is noted.
func WithStaleApprovalDays(days int) Option {
	return func(o *classifierOptions) { o.stale = days }
}

// WithHighCostThreshold sets the price ceiling noted as high cost.
func WithHighCostThreshold(v float64) Option {
	return func(o *classifierOptions) { o.highCost = v }
}

// WithClock overrides the time source. Tests use it to pin "now".
func WithClock(now func() time.Time) Option {
	return func(o *classifierOptions) { o.clock = now }
}

// Classifier holds only immutable configuration and is safe for concurrent use.
type Classifier struct {
	phases   map[substance.TrialPhase]bool
	statuses map[substance.TrialStatus]bool
	window   time.Duration
	stale    time.Duration
	highCost float64
	now      func() time.Time
	rules    []Rule
}

// NewClassifier validates the options and returns a Classifier.
func NewClassifier(opts ...Option) (*Classifier, error) {
	o := classifierOptions{
		phases:   DefaultActivePhases(),
		statuses: DefaultActiveStatuses(),
		window:   DefaultExclusivityWindowDays,
		stale:    DefaultStaleApprovalDays,
		highCost: DefaultHighCostThreshold,
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if len(o.phases) == 0 {
		return nil, errors.New(errors.ErrCodeInvalidTrialPhase, "at least one active trial phase is required")
	}
	c := &Classifier{
		phases:   make(map[substance.TrialPhase]bool, len(o.phases)),
		statuses: make(map[substance.TrialStatus]bool, len(o.statuses)),
		highCost: o.highCost,
		now:      o.clock,
		rules:    defaultRules(),
	}
	for _, p := range o.phases {
		if !knownPhase(p) {
			return nil, errors.Newf(errors.ErrCodeInvalidTrialPhase, "unknown trial phase %q", p)
		}
		c.phases[p] = true
	}
	for _, s := range o.statuses {
		if s == "" || s == substance.TrialStatusUnknown {
			return nil, errors.Newf(errors.ErrCodeInvalidTrialPhase, "invalid active trial status %q", s)
		}
		c.statuses[s] = true
	}
	if o.window < 0 || o.stale < 0 {
		return nil, errors.New(errors.ErrCodeValidation, "day windows must not be negative")
	}
	if o.highCost < 0 {
		return nil, errors.New(errors.ErrCodeValidation, "high cost threshold must not be negative")
	}
	if c.now == nil {
		c.now = time.Now
	}
	c.window = days(o.window)
	c.stale = days(o.stale)
	return c, nil
}

func knownPhase(p substance.TrialPhase) bool {
	switch p {
	case substance.PhaseEarly, substance.Phase1, substance.Phase1And2, substance.Phase2,
		substance.Phase2And3, substance.Phase3, substance.Phase4:
		return true
	}
	return false
}

func days(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }

// Rules returns the ordered decision table.
func (c *Classifier) Rules() []Rule {
	out := make([]Rule, len(c.rules))
	copy(out, c.rules)
	return out
}

// IsActive reports whether a trial counts as an active local trial.
func (c *Classifier) IsActive(t substance.TrialDetail) bool {
	return c.phases[t.Phase] && c.statuses[t.Status]
}

// Classify evaluates the rule table against status and local. Exactly one
// rule fires; its label and justification are returned along with any
// analysis notes.
func (c *Classifier) Classify(status *substance.AggregateStatus, local substance.LocalJurisdictionFacts) substance.DomesticImpact {
	if status == nil {
		status = &substance.AggregateStatus{}
	}
	f := &Facts{Status: status, Local: local, Now: c.now()}
	for _, t := range local.Trials {
		if c.IsActive(t) {
			f.ActiveTrials = append(f.ActiveTrials, t)
		}
	}
	if ex := local.Exclusivity; ex != nil && !ex.Expires.IsZero() {
		gap := ex.Expires.Sub(f.Now)
		if gap < 0 {
			gap = -gap
		}
		f.NearExclusivity = gap <= c.window
	}

	out := substance.DomesticImpact{Evidence: local, ActiveTrials: len(f.ActiveTrials)}
	for _, r := range c.rules {
		if !r.When(f) {
			continue
		}
		out.Label = r.Label
		out.Rule = r.Name
		out.Justifications = []string{r.Justify(f)}
		break
	}
	if status.Herbal {
		out.Justifications = append(out.Justifications, "herbal ingredient")
	}
	out.Notes = c.notes(f)
	return out
}

func (c *Classifier) notes(f *Facts) []string {
	var notes []string
	if first := f.Status.FirstInternationalApproval(); first != nil && !f.Local.HasLocalApproval() {
		if age := f.Now.Sub(*first); age > c.stale {
			notes = append(notes, fmt.Sprintf("international approval %d days ago without local approval", int(age.Hours()/24)))
		}
	}
	if f.Local.HasLocalApproval() && f.Local.Reimbursement == substance.ReimbursementNotCovered {
		notes = append(notes, "locally approved but not covered")
	}
	if f.Local.Reimbursement == substance.ReimbursementDelisted {
		notes = append(notes, "reimbursement delisted")
	}
	if p := f.Local.PriceCeiling(); p != nil && c.highCost > 0 && *p > c.highCost {
		notes = append(notes, fmt.Sprintf("high-cost listing (price ceiling %.0f)", *p))
	}
	if n := len(f.ActiveTrials); n > 0 {
		notes = append(notes, fmt.Sprintf("%d active local trial(s)", n))
	}
	return notes
}
