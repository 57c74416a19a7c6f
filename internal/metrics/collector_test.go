package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func render(t *testing.T, r *Registry) string {
	t.Helper()
	rec := httptest.NewRecorder()
	r.Handler()(rec, httptest.NewRequest("GET", "/metrics", nil))
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("unexpected content type %q", ct)
	}
	return rec.Body.String()
}

func TestCounterVecReusesCounters(t *testing.T) {
	r := NewRegistry()
	a := r.IntentCounter("GetStatsIntent")
	b := r.IntentCounter("GetStatsIntent")
	if a != b {
		t.Fatal("expected the same counter for the same label value")
	}
	a.Inc()
	b.Inc()
	if a.Value() != 2 {
		t.Fatalf("expected 2, got %d", a.Value())
	}
}

func TestIntentAndOutcomeLabels(t *testing.T) {
	r := NewRegistry()
	r.IntentCounter("GetStatsIntent").Inc()
	r.IntentCounter("GetStatsIntent").Inc()
	r.IntentCounter(`weird"name`).Inc()
	r.OutcomeCounter("ok").Inc()

	out := render(t, r)
	for _, want := range []string{
		`querybot_intents_total{intent="GetStatsIntent"} 2`,
		`querybot_intents_total{intent="weird\"name"} 1`,
		`querybot_outcomes_total{outcome="ok"} 1`,
		"# TYPE querybot_intents_total counter",
		"querybot_uptime_seconds",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
	if strings.Count(out, "# HELP querybot_intents_total") != 1 {
		t.Error("help line must be written once per metric name")
	}
	if strings.Index(out, `intent="GetStatsIntent"`) > strings.Index(out, `intent="weird\"name"`) {
		t.Error("label values must be rendered in sorted order")
	}
}

func TestSeriesAreAlwaysReported(t *testing.T) {
	r := NewRegistry()
	r.Messages.Inc()
	r.QueueDepth.Set(7)

	out := render(t, r)
	for _, want := range []string{
		"querybot_messages_total 1",
		"querybot_token_failures_total 0",
		"querybot_file_uploads_total 0",
		"querybot_queue_depth 7",
		"querybot_nlu_latency_seconds_count 0",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestHistogramBuckets(t *testing.T) {
	r := NewRegistry()
	r.APILatency.Observe(0.05)
	r.APILatency.Observe(0.5)
	r.APILatency.Observe(30)

	out := render(t, r)
	for _, want := range []string{
		`querybot_api_latency_seconds_bucket{le="0.1"} 1`,
		`querybot_api_latency_seconds_bucket{le="1"} 2`,
		`querybot_api_latency_seconds_bucket{le="5"} 2`,
		`querybot_api_latency_seconds_bucket{le="+Inf"} 3`,
		"querybot_api_latency_seconds_count 3",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestPackageSeriesShareCollector(t *testing.T) {
	before := Collector.FileUploads.Value()
	FileUploads.Inc()
	if Collector.FileUploads.Value() != before+1 {
		t.Fatal("package-level series must point into Collector")
	}
}
