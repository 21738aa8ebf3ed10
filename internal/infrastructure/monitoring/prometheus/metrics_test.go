package prometheus

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEngineMetrics_RecordRunAndQuality(t *testing.T) {
	c := newTestCollector(t)
	m := NewEngineMetrics(c)

	m.RecordRun(true)
	m.RecordRun(false)
	m.RecordQuality(2, 3, 1, 4, 5)
	m.RecordStage("merge", 20*time.Millisecond)

	out := scrapeMetrics(t, c)
	assert.Contains(t, out, `test_unit_runs_total{status="success"} 1`)
	assert.Contains(t, out, `test_unit_runs_total{status="failure"} 1`)
	assert.Contains(t, out, "test_unit_unmatchable_facts_total 2")
	assert.Contains(t, out, `test_unit_conflicts_total{kind="merge"} 3`)
	assert.Contains(t, out, `test_unit_conflicts_total{kind="bridge"} 1`)
	assert.Contains(t, out, "test_unit_unresolved_codes_total 4")
	assert.Contains(t, out, "test_unit_no_domestic_bridge_total 5")
	assert.Contains(t, out, `test_unit_stage_duration_seconds_count{stage="merge"} 1`)
}

func TestEngineMetrics_RecordAssessment(t *testing.T) {
	c := newTestCollector(t)
	m := NewEngineMetrics(c)

	m.RecordAssessment("imminent", "HIGH", 60)
	m.RecordAssessment("imminent", "HIGH", 65)

	out := scrapeMetrics(t, c)
	assert.Contains(t, out, `test_unit_assessments_total{label="imminent",tier="HIGH"} 2`)
	assert.Contains(t, out, "test_unit_attention_score_count 2")
}

func TestEngineMetrics_HTTPCacheMessages(t *testing.T) {
	c := newTestCollector(t)
	m := NewEngineMetrics(c)

	m.RecordHTTPRequest(http.MethodGet, "/api/v1/substances/{key}", http.StatusOK, 5*time.Millisecond)
	m.RecordCacheLookup("memory", true)
	m.RecordCacheLookup("redis", false)
	m.RecordMessage("regscan.facts.batch", "consumed")

	out := scrapeMetrics(t, c)
	assert.Contains(t, out, `test_unit_http_requests_total{method="GET",route="/api/v1/substances/{key}",status_code="200"} 1`)
	assert.Contains(t, out, `test_unit_cache_lookups_total{layer="memory",result="hit"} 1`)
	assert.Contains(t, out, `test_unit_cache_lookups_total{layer="redis",result="miss"} 1`)
	assert.Contains(t, out, `test_unit_messages_total{status="consumed",topic="regscan.facts.batch"} 1`)
}

func TestEngineMetrics_FactsSinksReference(t *testing.T) {
	c := newTestCollector(t)
	m := NewEngineMetrics(c)

	m.RecordFacts("fda", 3)
	m.RecordSubstances(7)
	m.RecordSinkError("kafka")
	m.RecordReferenceRows("master", 120)

	out := scrapeMetrics(t, c)
	assert.Contains(t, out, `test_unit_facts_total{source="fda"} 3`)
	assert.Contains(t, out, "test_unit_substances 7")
	assert.Contains(t, out, `test_unit_sink_errors_total{sink="kafka"} 1`)
	assert.Contains(t, out, `test_unit_reference_rows{table="master"} 120`)
}
