package prometheus

import (
	"strconv"
	"time"
)

// EngineMetrics holds every metric family RegScan exports.
type EngineMetrics struct {
	// HTTP
	HTTPRequestsTotal   CounterVec
	HTTPRequestDuration HistogramVec

	// Runs
	RunsTotal        CounterVec
	StageDuration    HistogramVec
	FactsTotal       CounterVec
	SubstancesTotal  GaugeVec
	AssessmentsTotal CounterVec
	ScoreValue       HistogramVec

	// Data quality
	UnmatchableFactsTotal CounterVec
	ConflictsTotal        CounterVec
	UnresolvedCodesTotal  CounterVec
	NoBridgeTotal         CounterVec

	// Reference data
	ReferenceRows GaugeVec

	// Infrastructure
	SinkErrorsTotal CounterVec
	CacheLookups    CounterVec
	MessagesTotal   CounterVec
}

// Default buckets.
var (
	DefaultHTTPDurationBuckets  = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}
	DefaultStageDurationBuckets = []float64{.001, .005, .01, .05, .1, .5, 1, 5, 15, 60}
	DefaultScoreBuckets         = []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100}
)

// NewEngineMetrics registers all metric families on collector.
func NewEngineMetrics(collector MetricsCollector) *EngineMetrics {
	return &EngineMetrics{
		HTTPRequestsTotal:   collector.RegisterCounter("http_requests_total", "Total HTTP requests", "method", "route", "status_code"),
		HTTPRequestDuration: collector.RegisterHistogram("http_request_duration_seconds", "HTTP request duration", DefaultHTTPDurationBuckets, "method", "route"),

		RunsTotal:        collector.RegisterCounter("runs_total", "Engine runs by outcome", "status"),
		StageDuration:    collector.RegisterHistogram("stage_duration_seconds", "Duration of each run stage", DefaultStageDurationBuckets, "stage"),
		FactsTotal:       collector.RegisterCounter("facts_total", "Source facts received", "source"),
		SubstancesTotal:  collector.RegisterGauge("substances", "Aggregate statuses produced by the last run"),
		AssessmentsTotal: collector.RegisterCounter("assessments_total", "Assessments by domestic label and attention tier", "label", "tier"),
		ScoreValue:       collector.RegisterHistogram("attention_score", "Distribution of attention scores", DefaultScoreBuckets),

		UnmatchableFactsTotal: collector.RegisterCounter("unmatchable_facts_total", "Facts dropped because their name normalized to empty"),
		ConflictsTotal:        collector.RegisterCounter("conflicts_total", "Recovered conflicts", "kind"),
		UnresolvedCodesTotal:  collector.RegisterCounter("unresolved_codes_total", "Local codes with no bridge entry"),
		NoBridgeTotal:         collector.RegisterCounter("no_domestic_bridge_total", "Substances without a domestic bridge"),

		ReferenceRows: collector.RegisterGauge("reference_rows", "Rows loaded per reference table", "table"),

		SinkErrorsTotal: collector.RegisterCounter("sink_errors_total", "Result sink failures", "sink"),
		CacheLookups:    collector.RegisterCounter("cache_lookups_total", "Cache lookups by layer and result", "layer", "result"),
		MessagesTotal:   collector.RegisterCounter("messages_total", "Kafka messages by topic and outcome", "topic", "status"),
	}
}

// RecordHTTPRequest records one served request.
func (m *EngineMetrics) RecordHTTPRequest(method, route string, status int, d time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// RecordStage records the duration of one run stage.
func (m *EngineMetrics) RecordStage(stage string, d time.Duration) {
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordRun records the outcome of a run.
func (m *EngineMetrics) RecordRun(ok bool) {
	status := "success"
	if !ok {
		status = "failure"
	}
	m.RunsTotal.WithLabelValues(status).Inc()
}

// RecordQuality records run-level data quality counters.
func (m *EngineMetrics) RecordQuality(unmatchable, mergeConflicts, bridgeConflicts, unresolved, noBridge int) {
	m.UnmatchableFactsTotal.WithLabelValues().Add(float64(unmatchable))
	m.ConflictsTotal.WithLabelValues("merge").Add(float64(mergeConflicts))
	m.ConflictsTotal.WithLabelValues("bridge").Add(float64(bridgeConflicts))
	m.UnresolvedCodesTotal.WithLabelValues().Add(float64(unresolved))
	m.NoBridgeTotal.WithLabelValues().Add(float64(noBridge))
}

// RecordAssessment records one scored and classified substance.
func (m *EngineMetrics) RecordAssessment(label, tier string, score int) {
	m.AssessmentsTotal.WithLabelValues(label, tier).Inc()
	m.ScoreValue.WithLabelValues().Observe(float64(score))
}

// RecordCacheLookup records a hit or miss on a cache layer.
func (m *EngineMetrics) RecordCacheLookup(layer string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(layer, result).Inc()
}

// RecordMessage records a consumed or produced kafka message.
func (m *EngineMetrics) RecordMessage(topic, status string) {
	m.MessagesTotal.WithLabelValues(topic, status).Inc()
}

// RecordFacts records facts received from one source.
func (m *EngineMetrics) RecordFacts(source string, n int) {
	m.FactsTotal.WithLabelValues(source).Add(float64(n))
}

// RecordSubstances sets the substance count of the last run.
func (m *EngineMetrics) RecordSubstances(n int) {
	m.SubstancesTotal.WithLabelValues().Set(float64(n))
}

// RecordSinkError records a failed publish to a result sink.
func (m *EngineMetrics) RecordSinkError(sink string) {
	m.SinkErrorsTotal.WithLabelValues(sink).Inc()
}

// RecordReferenceRows sets the row count of a loaded reference table.
func (m *EngineMetrics) RecordReferenceRows(table string, n int) {
	m.ReferenceRows.WithLabelValues(table).Set(float64(n))
}
