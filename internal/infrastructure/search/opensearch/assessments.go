package opensearch

import (
	"context"
	"fmt"
	"time"

	"github.com/turtacn/RegScan/internal/domain/substance"
	"github.com/turtacn/RegScan/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RegScan/pkg/errors"
)

const DefaultAssessmentIndex = "regscan-assessments"

// AssessmentDocument is the searchable projection of one assessment. The
// document id is the canonical key, so each run overwrites the previous
// state of a substance.
type AssessmentDocument struct {
	RunID           string    `json:"run_id"`
	Key             string    `json:"key"`
	DisplayName     string    `json:"display_name"`
	LocalCodes      []string  `json:"local_codes,omitempty"`
	ATCCode         string    `json:"atc_code,omitempty"`
	TherapeuticArea string    `json:"therapeutic_area,omitempty"`
	ApprovedBy      []string  `json:"approved_by,omitempty"`
	Score           int       `json:"score"`
	Tier            string    `json:"tier"`
	Label           string    `json:"label"`
	Rule            string    `json:"rule"`
	Herbal          bool      `json:"herbal"`
	IndexedAt       time.Time `json:"indexed_at"`
}

// NewAssessmentDocument projects a onto its search document.
func NewAssessmentDocument(runID string, a *substance.Assessment, at time.Time) AssessmentDocument {
	doc := AssessmentDocument{
		RunID:       runID,
		Key:         string(a.Status.Key),
		DisplayName: a.Status.DisplayName,
		LocalCodes:  a.Status.LocalCodes,
		Score:       a.Score.Total,
		Tier:        string(a.Score.Tier),
		Label:       string(a.Impact.Label),
		Rule:        a.Impact.Rule,
		Herbal:      a.Status.Herbal,
		IndexedAt:   at.UTC(),
	}
	if cls := a.Status.Classification; cls != nil {
		doc.ATCCode = cls.Code
		doc.TherapeuticArea = cls.TherapeuticArea()
	}
	for _, src := range a.Status.InternationalApprovals() {
		doc.ApprovedBy = append(doc.ApprovedBy, string(src))
	}
	return doc
}

// AssessmentIndexMapping returns the settings and mappings for the
// assessment index.
func AssessmentIndexMapping() map[string]interface{} {
	keyword := map[string]interface{}{"type": "keyword"}
	return map[string]interface{}{
		"settings": map[string]interface{}{
			"number_of_shards":   1,
			"number_of_replicas": 1,
		},
		"mappings": map[string]interface{}{
			"properties": map[string]interface{}{
				"run_id": keyword,
				"key":    keyword,
				"display_name": map[string]interface{}{
					"type":   "text",
					"fields": map[string]interface{}{"raw": keyword},
				},
				"local_codes":      keyword,
				"atc_code":         keyword,
				"therapeutic_area": map[string]interface{}{"type": "text"},
				"approved_by":      keyword,
				"score":            map[string]interface{}{"type": "integer"},
				"tier":             keyword,
				"label":            keyword,
				"rule":             keyword,
				"herbal":           map[string]interface{}{"type": "boolean"},
				"indexed_at":       map[string]interface{}{"type": "date"},
			},
		},
	}
}

// AssessmentSink indexes every assessment of a finished run.
type AssessmentSink struct {
	indexer *Indexer
	index   string
	now     func() time.Time
	log     logging.Logger
}

func NewAssessmentSink(indexer *Indexer, index string, log logging.Logger) *AssessmentSink {
	if index == "" {
		index = DefaultAssessmentIndex
	}
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &AssessmentSink{indexer: indexer, index: index, now: time.Now, log: log}
}

func (s *AssessmentSink) Name() string { return "opensearch" }

// Setup creates the index if it is missing.
func (s *AssessmentSink) Setup(ctx context.Context) error {
	return s.indexer.EnsureIndex(ctx, s.index, AssessmentIndexMapping())
}

func (s *AssessmentSink) Publish(ctx context.Context, run *substance.Run) error {
	if run == nil || len(run.Assessments) == 0 {
		return nil
	}
	at := s.now()
	docs := make([]Document, len(run.Assessments))
	for i := range run.Assessments {
		a := &run.Assessments[i]
		docs[i] = Document{ID: string(a.Status.Key), Body: NewAssessmentDocument(run.ID, a, at)}
	}

	res, err := s.indexer.BulkIndex(ctx, s.index, docs)
	if err != nil {
		return err
	}
	if res.Failed > 0 {
		first := res.Errors[0]
		return errors.Wrap(ErrBulkIndexFailed, errors.CodeSearchError,
			fmt.Sprintf("%d of %d documents rejected, first %s: %s", res.Failed, len(docs), first.DocID, first.Reason))
	}
	return nil
}
