package substance

import (
	"context"
)

// AssessmentFilter narrows ListAssessments results.
type AssessmentFilter struct {
	RunID  string
	Label  ImpactLabel
	Tier   Tier
	Limit  int
	Offset int
}

// Repository defines the persistence contract for engine runs. GetRun and
// GetAssessment return a not-found AppError when nothing matches; an empty
// runID in GetAssessment means the latest run.
type Repository interface {
	SaveRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	LatestRunID(ctx context.Context) (string, error)
	ListAssessments(ctx context.Context, filter AssessmentFilter) ([]Assessment, int64, error)
	GetAssessment(ctx context.Context, runID string, key CanonicalKey) (*Assessment, error)
}
