// Package metrics holds querybot's process-wide counters and renders them in
// the Prometheus text exposition format.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// latencyBuckets are the upper bounds, in seconds, for both latency histograms.
var latencyBuckets = []float64{0.1, 0.25, 0.5, 1, 2, 5}

// Counter is a monotonically increasing counter.
type Counter struct {
	value atomic.Int64
}

func (c *Counter) Inc() { c.value.Add(1) }
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge holds the last value set.
type Gauge struct {
	value atomic.Int64
}

func (g *Gauge) Set(v int64) { g.value.Store(v) }
func (g *Gauge) Value() int64 { return g.value.Load() }

// CounterVec is a counter family keyed by the value of a single label.
type CounterVec struct {
	label string
	mu    sync.Mutex
	byKey map[string]*Counter
}

func newCounterVec(label string) *CounterVec {
	return &CounterVec{label: label, byKey: make(map[string]*Counter)}
}

// With returns the counter for one label value, creating it on first use.
func (v *CounterVec) With(value string) *Counter {
	v.mu.Lock()
	defer v.mu.Unlock()
	c, ok := v.byKey[value]
	if !ok {
		c = &Counter{}
		v.byKey[value] = c
	}
	return c
}

// Histogram counts observations into latencyBuckets.
type Histogram struct {
	mu     sync.Mutex
	counts []int64
	count  int64
	sum    float64
}

func newHistogram() *Histogram {
	return &Histogram{counts: make([]int64, len(latencyBuckets))}
}

// Observe records a duration in seconds.
func (h *Histogram) Observe(seconds float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += seconds
	for i, le := range latencyBuckets {
		if seconds <= le {
			h.counts[i]++
		}
	}
}

// Registry is the fixed set of series querybot reports.
type Registry struct {
	start time.Time

	Messages       Counter
	TokenRefreshes Counter
	TokenFailures  Counter
	APIRequests    Counter
	APIFailures    Counter
	FileUploads    Counter
	QueueDepth     Gauge
	Intents        *CounterVec
	Outcomes       *CounterVec
	APILatency     *Histogram
	NLULatency     *Histogram
}

func NewRegistry() *Registry {
	return &Registry{
		start:      time.Now(),
		Intents:    newCounterVec("intent"),
		Outcomes:   newCounterVec("outcome"),
		APILatency: newHistogram(),
		NLULatency: newHistogram(),
	}
}

// Collector is the process-wide registry.
var Collector = NewRegistry()

var (
	MessagesTotal  = &Collector.Messages
	TokenRefreshes = &Collector.TokenRefreshes
	TokenFailures  = &Collector.TokenFailures
	APIRequests    = &Collector.APIRequests
	APIFailures    = &Collector.APIFailures
	FileUploads    = &Collector.FileUploads
	QueueDepth     = &Collector.QueueDepth
	APILatency     = Collector.APILatency
	NLULatency     = Collector.NLULatency
)

// IntentCounter returns the per-intent counter for name.
func (r *Registry) IntentCounter(name string) *Counter { return r.Intents.With(name) }

// OutcomeCounter returns the counter for one orchestrator outcome.
func (r *Registry) OutcomeCounter(outcome string) *Counter { return r.Outcomes.With(outcome) }

// Handler renders every series in Prometheus text format.
func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var sb strings.Builder
		writeHeader(&sb, "querybot_uptime_seconds", "Time since start in seconds", "gauge")
		fmt.Fprintf(&sb, "querybot_uptime_seconds %d\n", int64(time.Since(r.start).Seconds()))

		writeCounter(&sb, "querybot_messages_total", "Total messages processed", &r.Messages)
		writeVec(&sb, "querybot_intents_total", "Messages classified per intent", r.Intents)
		writeVec(&sb, "querybot_outcomes_total", "Processed messages per outcome", r.Outcomes)
		writeCounter(&sb, "querybot_token_refreshes_total", "Access tokens minted from the token endpoint", &r.TokenRefreshes)
		writeCounter(&sb, "querybot_token_failures_total", "Failed token endpoint requests", &r.TokenFailures)
		writeCounter(&sb, "querybot_api_requests_total", "Management API requests", &r.APIRequests)
		writeCounter(&sb, "querybot_api_failures_total", "Failed management API requests", &r.APIFailures)
		writeCounter(&sb, "querybot_file_uploads_total", "Payloads delivered as file uploads", &r.FileUploads)

		writeHeader(&sb, "querybot_queue_depth", "Messages waiting in the inbound queue", "gauge")
		fmt.Fprintf(&sb, "querybot_queue_depth %d\n", r.QueueDepth.Value())

		writeHistogram(&sb, "querybot_api_latency_seconds", "Management API latency in seconds", r.APILatency)
		writeHistogram(&sb, "querybot_nlu_latency_seconds", "Intent detection latency in seconds", r.NLULatency)

		io.WriteString(w, sb.String())
	}
}

func writeHeader(sb *strings.Builder, name, help, kind string) {
	fmt.Fprintf(sb, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, kind)
}

func writeCounter(sb *strings.Builder, name, help string, c *Counter) {
	writeHeader(sb, name, help, "counter")
	fmt.Fprintf(sb, "%s %d\n", name, c.Value())
}

func writeVec(sb *strings.Builder, name, help string, v *CounterVec) {
	writeHeader(sb, name, help, "counter")
	v.mu.Lock()
	defer v.mu.Unlock()
	keys := make([]string, 0, len(v.byKey))
	for k := range v.byKey {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(sb, "%s{%s} %d\n", name, labelPair(v.label, k), v.byKey[k].Value())
	}
}

func writeHistogram(sb *strings.Builder, name, help string, h *Histogram) {
	writeHeader(sb, name, help, "histogram")
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, le := range latencyBuckets {
		fmt.Fprintf(sb, "%s_bucket{le=\"%g\"} %d\n", name, le, h.counts[i])
	}
	fmt.Fprintf(sb, "%s_bucket{le=\"+Inf\"} %d\n", name, h.count)
	fmt.Fprintf(sb, "%s_sum %f\n", name, h.sum)
	fmt.Fprintf(sb, "%s_count %d\n", name, h.count)
}

func labelPair(key, value string) string {
	value = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`).Replace(value)
	return key + `="` + value + `"`
}
