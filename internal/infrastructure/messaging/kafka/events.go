package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/turtacn/RegScan/internal/domain/substance"
	"github.com/turtacn/RegScan/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RegScan/pkg/errors"
)

// AssessmentCompletedPayload is published once per substance of a run,
// keyed by canonical key.
type AssessmentCompletedPayload struct {
	RunID          string   `json:"run_id"`
	Key            string   `json:"key"`
	DisplayName    string   `json:"display_name"`
	LocalCodes     []string `json:"local_codes,omitempty"`
	ATCCode        string   `json:"atc_code,omitempty"`
	ApprovedBy     []string `json:"approved_by,omitempty"`
	Score          int      `json:"score"`
	Tier           string   `json:"tier"`
	Reasons        []string `json:"reasons,omitempty"`
	Label          string   `json:"label"`
	Rule           string   `json:"rule"`
	Justifications []string `json:"justifications,omitempty"`
	Notes          []string `json:"notes,omitempty"`
	Peers          []string `json:"peers,omitempty"`
}

// RunCompletedPayload closes a run's event stream.
type RunCompletedPayload struct {
	RunID       string               `json:"run_id"`
	StartedAt   time.Time            `json:"started_at"`
	FinishedAt  time.Time            `json:"finished_at"`
	Assessments int                  `json:"assessments"`
	Summary     substance.RunSummary `json:"summary"`
}

// NewAssessmentCompletedPayload projects a onto its event payload.
func NewAssessmentCompletedPayload(runID string, a *substance.Assessment) AssessmentCompletedPayload {
	p := AssessmentCompletedPayload{
		RunID:          runID,
		Key:            string(a.Status.Key),
		DisplayName:    a.Status.DisplayName,
		LocalCodes:     a.Status.LocalCodes,
		ATCCode:        a.Status.ATCCode,
		Score:          a.Score.Total,
		Tier:           string(a.Score.Tier),
		Reasons:        a.Score.Reasons(),
		Label:          string(a.Impact.Label),
		Rule:           a.Impact.Rule,
		Justifications: a.Impact.Justifications,
		Notes:          a.Impact.Notes,
	}
	if p.ATCCode == "" && a.Status.Classification != nil {
		p.ATCCode = a.Status.Classification.Code
	}
	for _, src := range a.Status.InternationalApprovals() {
		p.ApprovedBy = append(p.ApprovedBy, string(src))
	}
	for _, k := range a.Peers {
		p.Peers = append(p.Peers, string(k))
	}
	return p
}

// BatchPublisher is the subset of *Producer the event sink needs.
type BatchPublisher interface {
	PublishBatch(ctx context.Context, msgs []*ProducerMessage) (*BatchPublishResult, error)
}

// EventSink publishes a run as assessment.completed events followed by one
// run.completed event. The run event is only sent when every assessment
// event was accepted.
type EventSink struct {
	producer BatchPublisher
	source   string
	log      logging.Logger
}

// NewEventSink returns a sink that stamps source on every envelope.
func NewEventSink(producer BatchPublisher, source string, log logging.Logger) *EventSink {
	if source == "" {
		source = "regscan"
	}
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &EventSink{producer: producer, source: source, log: log}
}

func (s *EventSink) Name() string { return "kafka" }

func (s *EventSink) Publish(ctx context.Context, run *substance.Run) error {
	if run == nil {
		return nil
	}
	if len(run.Assessments) > 0 {
		msgs := make([]*ProducerMessage, 0, len(run.Assessments))
		for i := range run.Assessments {
			a := &run.Assessments[i]
			msg, err := s.message(EventAssessmentCompleted, TopicAssessmentCompleted, string(a.Status.Key), run.ID, NewAssessmentCompletedPayload(run.ID, a))
			if err != nil {
				return err
			}
			msgs = append(msgs, msg)
		}
		if err := s.send(ctx, msgs); err != nil {
			return err
		}
	}

	done := RunCompletedPayload{
		RunID:       run.ID,
		StartedAt:   run.StartedAt,
		FinishedAt:  run.FinishedAt,
		Assessments: len(run.Assessments),
		Summary:     run.Summary,
	}
	msg, err := s.message(EventRunCompleted, TopicRunCompleted, run.ID, run.ID, done)
	if err != nil {
		return err
	}
	if err := s.send(ctx, []*ProducerMessage{msg}); err != nil {
		return err
	}
	s.log.Debug("run events published",
		logging.String("run_id", run.ID),
		logging.Int("assessments", len(run.Assessments)))
	return nil
}

func (s *EventSink) message(eventType, topic, key, runID string, payload interface{}) (*ProducerMessage, error) {
	env, err := NewEventEnvelope(eventType, s.source, payload)
	if err != nil {
		return nil, err
	}
	env.TraceID = runID
	return env.ToMessage(topic, []byte(key))
}

func (s *EventSink) send(ctx context.Context, msgs []*ProducerMessage) error {
	res, err := s.producer.PublishBatch(ctx, msgs)
	if err != nil {
		return err
	}
	if res.Failed == 0 {
		return nil
	}
	first := res.Errors[0]
	return errors.Wrap(first.Error, errors.CodeMessageQueueError,
		fmt.Sprintf("%d of %d events rejected", res.Failed, len(msgs)))
}
