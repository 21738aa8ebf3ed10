package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/RegScan/internal/domain/substance"
	pkgerrors "github.com/turtacn/RegScan/pkg/errors"
)

type recordingBatchPublisher struct {
	batches [][]*ProducerMessage
	result  func(msgs []*ProducerMessage) *BatchPublishResult
}

func (r *recordingBatchPublisher) PublishBatch(ctx context.Context, msgs []*ProducerMessage) (*BatchPublishResult, error) {
	r.batches = append(r.batches, msgs)
	if r.result != nil {
		return r.result(msgs), nil
	}
	return &BatchPublishResult{Succeeded: len(msgs)}, nil
}

func testRun() *substance.Run {
	return &substance.Run{
		ID:         "run-9",
		StartedAt:  time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		FinishedAt: time.Date(2026, 3, 1, 0, 0, 2, 0, time.UTC),
		Summary:    substance.RunSummary{Substances: 2},
		Assessments: []substance.Assessment{
			{
				Status: substance.AggregateStatus{
					Key:     "osimertinib",
					ATCCode: "L01EB04",
					Facts:   []substance.SourceFact{{Source: substance.SourceFDA, Status: substance.StatusApproved}},
				},
				Score:  substance.ScoreResult{Total: 35, Tier: substance.TierLow, Contributions: []substance.Contribution{{Label: "fda_approved", Points: 10}}},
				Impact: substance.DomesticImpact{Label: substance.LabelImminent, Rule: "R3"},
				Peers:  []substance.CanonicalKey{"gefitinib"},
			},
			{
				Status: substance.AggregateStatus{Key: "gefitinib"},
				Impact: substance.DomesticImpact{Label: substance.LabelReimbursed, Rule: "R1"},
			},
		},
	}
}

func TestEventSink_Publish(t *testing.T) {
	pub := &recordingBatchPublisher{}
	sink := NewEventSink(pub, "", nil)
	assert.Equal(t, "kafka", sink.Name())

	require.NoError(t, sink.Publish(context.Background(), testRun()))
	require.Len(t, pub.batches, 2)

	assessments := pub.batches[0]
	require.Len(t, assessments, 2)
	assert.Equal(t, TopicAssessmentCompleted, assessments[0].Topic)
	assert.Equal(t, "osimertinib", string(assessments[0].Key))
	assert.Equal(t, "run-9", assessments[0].Headers[HeaderTraceID])
	assert.Equal(t, "regscan", assessments[0].Headers[HeaderSource])

	env, err := MessageToEventEnvelope(&Message{Value: assessments[0].Value})
	require.NoError(t, err)
	assert.Equal(t, EventAssessmentCompleted, env.EventType)
	var p AssessmentCompletedPayload
	require.NoError(t, env.DecodePayload(&p))
	assert.Equal(t, "L01EB04", p.ATCCode)
	assert.Equal(t, []string{"fda"}, p.ApprovedBy)
	assert.Equal(t, []string{"fda_approved"}, p.Reasons)
	assert.Equal(t, []string{"gefitinib"}, p.Peers)
	assert.Equal(t, "imminent", p.Label)

	done := pub.batches[1]
	require.Len(t, done, 1)
	assert.Equal(t, TopicRunCompleted, done[0].Topic)
	var doneEnv EventEnvelope
	require.NoError(t, json.Unmarshal(done[0].Value, &doneEnv))
	var rp RunCompletedPayload
	require.NoError(t, doneEnv.DecodePayload(&rp))
	assert.Equal(t, 2, rp.Assessments)
	assert.Equal(t, 2, rp.Summary.Substances)
}

func TestEventSink_EmptyRunStillCompletes(t *testing.T) {
	pub := &recordingBatchPublisher{}
	require.NoError(t, NewEventSink(pub, "w", nil).Publish(context.Background(), &substance.Run{ID: "r"}))
	require.Len(t, pub.batches, 1)
	assert.Equal(t, TopicRunCompleted, pub.batches[0][0].Topic)
}

func TestEventSink_RejectedAssessmentSkipsRunEvent(t *testing.T) {
	pub := &recordingBatchPublisher{result: func(msgs []*ProducerMessage) *BatchPublishResult {
		return &BatchPublishResult{
			Succeeded: len(msgs) - 1,
			Failed:    1,
			Errors:    []BatchItemError{{Index: 1, Topic: msgs[1].Topic, Error: errors.New("leader not available")}},
		}
	}}
	err := NewEventSink(pub, "", nil).Publish(context.Background(), testRun())
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeMessageQueueError))
	assert.Contains(t, err.Error(), "1 of 2 events rejected")
	assert.Len(t, pub.batches, 1)
}
