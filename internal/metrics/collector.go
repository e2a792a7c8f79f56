// Package metrics exposes pipeline counters and latency histograms in the
// Prometheus text exposition format.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Default is the process-wide registry the pipeline metrics live in.
var Default = NewRegistry()

// Registry holds named counters and histograms.
type Registry struct {
	mu         sync.RWMutex
	counters   map[string]*Counter
	histograms map[string]*Histogram
	startTime  time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		counters:   make(map[string]*Counter),
		histograms: make(map[string]*Histogram),
		startTime:  time.Now(),
	}
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name  string
	help  string
	value atomic.Int64
}

func (c *Counter) Inc()         { c.value.Add(1) }
func (c *Counter) Value() int64 { return c.value.Load() }

// Histogram tracks a distribution of observed values.
type Histogram struct {
	name    string
	help    string
	mu      sync.Mutex
	count   int64
	sum     float64
	bounds  []float64
	buckets []int64
}

func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, le := range h.bounds {
		if v <= le {
			h.buckets[i]++
		}
	}
}

// Since observes the seconds elapsed from start.
func (h *Histogram) Since(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Counter returns the counter registered under name, creating it if needed.
func (r *Registry) Counter(name, help string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[name]; ok {
		return c
	}
	c := &Counter{name: name, help: help}
	r.counters[name] = c
	return c
}

// Histogram returns the histogram registered under name, creating it if needed.
func (r *Registry) Histogram(name, help string, bounds []float64) *Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.histograms[name]; ok {
		return h
	}
	b := append([]float64(nil), bounds...)
	sort.Float64s(b)
	h := &Histogram{name: name, help: help, bounds: b, buckets: make([]int64, len(b))}
	r.histograms[name] = h
	return h
}

// WriteTo renders every metric, sorted by name.
func (r *Registry) WriteTo(w io.Writer) (int64, error) {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# HELP voicebridge_uptime_seconds Time since start in seconds\n")
	fmt.Fprintf(&sb, "# TYPE voicebridge_uptime_seconds gauge\n")
	fmt.Fprintf(&sb, "voicebridge_uptime_seconds %d\n", int64(time.Since(r.startTime).Seconds()))

	r.mu.RLock()
	counters := make([]*Counter, 0, len(r.counters))
	for _, c := range r.counters {
		counters = append(counters, c)
	}
	histograms := make([]*Histogram, 0, len(r.histograms))
	for _, h := range r.histograms {
		histograms = append(histograms, h)
	}
	r.mu.RUnlock()

	sort.Slice(counters, func(i, j int) bool { return counters[i].name < counters[j].name })
	sort.Slice(histograms, func(i, j int) bool { return histograms[i].name < histograms[j].name })

	for _, c := range counters {
		fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s counter\n%s %d\n", c.name, c.help, c.name, c.name, c.Value())
	}

	for _, h := range histograms {
		h.mu.Lock()
		fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s histogram\n", h.name, h.help, h.name)
		for i, le := range h.bounds {
			fmt.Fprintf(&sb, "%s_bucket{le=\"%g\"} %d\n", h.name, le, h.buckets[i])
		}
		fmt.Fprintf(&sb, "%s_bucket{le=\"+Inf\"} %d\n", h.name, h.count)
		fmt.Fprintf(&sb, "%s_count %d\n%s_sum %f\n", h.name, h.count, h.name, h.sum)
		h.mu.Unlock()
	}

	n, err := io.WriteString(w, sb.String())
	return int64(n), err
}

// Handler serves the registry over HTTP.
func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		r.WriteTo(w)
	}
}

var latencyBuckets = []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60}

// Pipeline metrics.
var (
	PromptsSent           = Default.Counter("voicebridge_prompts_sent_total", "Prompts posted for detected audio attachments")
	ActionsReceived       = Default.Counter("voicebridge_actions_received_total", "Button interactions received")
	FulfillmentsStarted   = Default.Counter("voicebridge_fulfillments_started_total", "Fulfillment tasks started")
	FulfillmentsFailed    = Default.Counter("voicebridge_fulfillments_failed_total", "Fulfillment tasks that ended without a reply")
	CacheHits             = Default.Counter("voicebridge_cache_hits_total", "Result cache hits")
	CacheMisses           = Default.Counter("voicebridge_cache_misses_total", "Result cache misses")
	TranscriptionFailures = Default.Counter("voicebridge_transcription_failures_total", "Failed transcription calls")
	TranslationFailures   = Default.Counter("voicebridge_translation_failures_total", "Failed translation calls")

	TranscriptionLatency = Default.Histogram("voicebridge_transcription_latency_seconds", "Transcription service latency in seconds", latencyBuckets)
	TranslationLatency   = Default.Histogram("voicebridge_translation_latency_seconds", "Translation service latency in seconds", latencyBuckets)
)
