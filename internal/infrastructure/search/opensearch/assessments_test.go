package opensearch

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/RegScan/internal/domain/substance"
	pkgerrors "github.com/turtacn/RegScan/pkg/errors"
)

func sampleRun() *substance.Run {
	approved := time.Date(2014, 9, 4, 0, 0, 0, 0, time.UTC)
	return &substance.Run{
		ID: "run-1",
		Assessments: []substance.Assessment{
			{
				Status: substance.AggregateStatus{
					Key:         "pembrolizumab",
					DisplayName: "Pembrolizumab",
					LocalCodes:  []string{"A123"},
					Facts: []substance.SourceFact{
						{Source: substance.SourceFDA, Status: substance.StatusApproved, ApprovalDate: &approved},
						{Source: substance.SourceEMA, Status: substance.StatusApproved},
						{Source: substance.SourceMFDS, Status: substance.StatusApproved},
					},
					Classification: &substance.ClassificationPath{
						Code:  "L01FF02",
						Name:  "pembrolizumab",
						Level: 5,
						Levels: []substance.ClassificationLevel{
							{Code: "L", Name: "Antineoplastic and immunomodulating agents", Level: 1},
							{Code: "L01FF02", Name: "pembrolizumab", Level: 5},
						},
					},
				},
				Score:  substance.ScoreResult{Total: 60, Tier: substance.TierHigh},
				Impact: substance.DomesticImpact{Label: substance.LabelReimbursed, Rule: "R1"},
			},
			{
				Status: substance.AggregateStatus{Key: "ginseng", DisplayName: "Ginseng", Herbal: true},
				Score:  substance.ScoreResult{Total: 5, Tier: substance.TierLow},
				Impact: substance.DomesticImpact{Label: substance.LabelNotApplicable, Rule: "R6"},
			},
		},
	}
}

func TestNewAssessmentDocument(t *testing.T) {
	run := sampleRun()
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.FixedZone("KST", 9*3600))

	doc := NewAssessmentDocument(run.ID, &run.Assessments[0], at)
	assert.Equal(t, "run-1", doc.RunID)
	assert.Equal(t, "pembrolizumab", doc.Key)
	assert.Equal(t, "L01FF02", doc.ATCCode)
	assert.Equal(t, "Antineoplastic and immunomodulating agents", doc.TherapeuticArea)
	assert.Equal(t, []string{"fda", "ema"}, doc.ApprovedBy)
	assert.Equal(t, 60, doc.Score)
	assert.Equal(t, "HIGH", doc.Tier)
	assert.Equal(t, "already_reimbursed", doc.Label)
	assert.Equal(t, time.UTC, doc.IndexedAt.Location())

	herbal := NewAssessmentDocument(run.ID, &run.Assessments[1], at)
	assert.True(t, herbal.Herbal)
	assert.Empty(t, herbal.ATCCode)
	assert.Empty(t, herbal.ApprovedBy)
}

func TestAssessmentSink_Publish(t *testing.T) {
	fc, client := newFakeCluster(t, func(w http.ResponseWriter, r *http.Request, _ string) {
		_, _ = w.Write([]byte(`{"errors":false,"items":[{"index":{"status":200}},{"index":{"status":201}}]}`))
	})
	sink := NewAssessmentSink(NewIndexer(client, IndexerConfig{}, nil), "", nil)
	assert.Equal(t, "opensearch", sink.Name())

	require.NoError(t, sink.Publish(context.Background(), sampleRun()))

	body := fc.recorded()[0].Body
	assert.Contains(t, body, `"_index":"regscan-assessments"`)
	assert.Contains(t, body, `"_id":"pembrolizumab"`)
	assert.Contains(t, body, `"_id":"ginseng"`)
}

func TestAssessmentSink_PublishEmptyRun(t *testing.T) {
	sink := NewAssessmentSink(nil, "idx", nil)
	assert.NoError(t, sink.Publish(context.Background(), &substance.Run{ID: "empty"}))
	assert.NoError(t, sink.Publish(context.Background(), nil))
}

func TestAssessmentSink_PublishRejected(t *testing.T) {
	_, client := newFakeCluster(t, func(w http.ResponseWriter, r *http.Request, _ string) {
		_, _ = w.Write([]byte(`{"errors":true,"items":[
			{"index":{"_id":"pembrolizumab","status":201}},
			{"index":{"_id":"ginseng","status":429,"error":{"type":"es_rejected_execution_exception","reason":"queue full"}}}
		]}`))
	})
	sink := NewAssessmentSink(NewIndexer(client, IndexerConfig{}, nil), "idx", nil)
	err := sink.Publish(context.Background(), sampleRun())
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeSearchError))
	assert.True(t, strings.Contains(err.Error(), "1 of 2 documents rejected, first ginseng: queue full"))
}

func TestAssessmentSink_Setup(t *testing.T) {
	fc, client := newFakeCluster(t, func(w http.ResponseWriter, r *http.Request, _ string) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"acknowledged":true}`))
	})
	sink := NewAssessmentSink(NewIndexer(client, IndexerConfig{}, nil), "custom", nil)
	require.NoError(t, sink.Setup(context.Background()))

	reqs := fc.recorded()
	require.Len(t, reqs, 2)
	assert.Equal(t, "/custom", reqs[1].Path)
	assert.Contains(t, reqs[1].Body, `"score":{"type":"integer"}`)
}
