// Package metrics records tool and catalog activity. Counters go to a
// private Prometheus registry exposed on the dashboard's /metrics route; a
// per-tool summary is kept in memory for the metrics_snapshot tool.
package metrics

import (
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mcpindex"

// Observation is one finished tool call.
type Observation struct {
	Tool     string        `json:"tool"`
	Duration time.Duration `json:"durationNs"`
	Err      bool          `json:"error"`
	At       time.Time     `json:"at"`
}

// ToolStats summarizes the calls of one tool.
type ToolStats struct {
	Name      string    `json:"name"`
	Calls     int64     `json:"calls"`
	Errors    int64     `json:"errors"`
	AvgMs     float64   `json:"avgMs"`
	MaxMs     float64   `json:"maxMs"`
	LastCall  time.Time `json:"lastCall"`
	LastError time.Time `json:"lastError,omitzero"`
}

// Snapshot is the in-memory view returned by the metrics_snapshot tool.
type Snapshot struct {
	StartedAt   time.Time   `json:"startedAt"`
	UptimeSec   float64     `json:"uptimeSec"`
	TotalCalls  int64       `json:"totalCalls"`
	TotalErrors int64       `json:"totalErrors"`
	Reloads     int64       `json:"catalogReloads"`
	Entries     int         `json:"catalogEntries"`
	WSClients   int         `json:"websocketClients"`
	Tools       []ToolStats `json:"tools"`
}

type toolAgg struct {
	calls, errors int64
	total, max    time.Duration
	last, lastErr time.Time
}

// Recorder is safe for concurrent use.
type Recorder struct {
	registry *prometheus.Registry

	toolCalls      *prometheus.CounterVec
	toolDuration   *prometheus.HistogramVec
	catalogEntries prometheus.Gauge
	catalogReloads prometheus.Counter
	wsClients      prometheus.Gauge

	mu        sync.Mutex
	started   time.Time
	tools     map[string]*toolAgg
	reloads   int64
	entries   int
	clients   int
	observers []func(Observation)
}

// New creates a recorder with its own registry, so tests and multiple
// servers in one process never collide on metric names.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		toolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool invocations by tool and outcome",
		}, []string{"tool", "outcome"}),
		toolDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_duration_seconds",
			Help:      "Tool handler latency",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"tool"}),
		catalogEntries: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "catalog_entries",
			Help:      "Instructions in the current catalog snapshot",
		}),
		catalogReloads: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_reloads_total",
			Help:      "Catalog reloads from disk",
		}),
		wsClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_clients",
			Help:      "Connected dashboard WebSocket clients",
		}),
		started: time.Now(),
		tools:   map[string]*toolAgg{},
	}
}

// ObserveTool records one call and notifies observers.
func (r *Recorder) ObserveTool(tool string, d time.Duration, failed bool) {
	outcome := "ok"
	if failed {
		outcome = "error"
	}
	r.toolCalls.WithLabelValues(tool, outcome).Inc()
	r.toolDuration.WithLabelValues(tool).Observe(d.Seconds())

	now := time.Now()
	r.mu.Lock()
	agg, ok := r.tools[tool]
	if !ok {
		agg = &toolAgg{}
		r.tools[tool] = agg
	}
	agg.calls++
	agg.total += d
	agg.max = max(agg.max, d)
	agg.last = now
	if failed {
		agg.errors++
		agg.lastErr = now
	}
	observers := slices.Clone(r.observers)
	r.mu.Unlock()

	obs := Observation{Tool: tool, Duration: d, Err: failed, At: now}
	for _, fn := range observers {
		fn(obs)
	}
}

// OnToolCall registers fn to run after every ObserveTool. fn must not block.
func (r *Recorder) OnToolCall(fn func(Observation)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, fn)
}

func (r *Recorder) SetCatalogEntries(n int) {
	r.catalogEntries.Set(float64(n))
	r.mu.Lock()
	r.entries = n
	r.mu.Unlock()
}

func (r *Recorder) IncCatalogReloads() {
	r.catalogReloads.Inc()
	r.mu.Lock()
	r.reloads++
	r.mu.Unlock()
}

func (r *Recorder) SetWebSocketClients(n int) {
	r.wsClients.Set(float64(n))
	r.mu.Lock()
	r.clients = n
	r.mu.Unlock()
}

// Tool returns the summary for one tool.
func (r *Recorder) Tool(name string) (ToolStats, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	agg, ok := r.tools[name]
	if !ok {
		return ToolStats{Name: name}, false
	}
	return agg.stats(name), true
}

// Snapshot returns the in-memory summary, tools sorted by name.
func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Snapshot{
		StartedAt: r.started,
		UptimeSec: time.Since(r.started).Seconds(),
		Reloads:   r.reloads,
		Entries:   r.entries,
		WSClients: r.clients,
		Tools:     make([]ToolStats, 0, len(r.tools)),
	}
	for name, agg := range r.tools {
		s.TotalCalls += agg.calls
		s.TotalErrors += agg.errors
		s.Tools = append(s.Tools, agg.stats(name))
	}
	slices.SortFunc(s.Tools, func(a, b ToolStats) int { return strings.Compare(a.Name, b.Name) })
	return s
}

func (a *toolAgg) stats(name string) ToolStats {
	st := ToolStats{
		Name:      name,
		Calls:     a.calls,
		Errors:    a.errors,
		MaxMs:     float64(a.max) / float64(time.Millisecond),
		LastCall:  a.last,
		LastError: a.lastErr,
	}
	if a.calls > 0 {
		st.AvgMs = float64(a.total) / float64(a.calls) / float64(time.Millisecond)
	}
	return st
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
