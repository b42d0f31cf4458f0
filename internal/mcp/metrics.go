package mcp

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
)

// Metrics tracks request/error counts by tool and ErrorCode, plus cache
// hit/miss ratios, and renders them in Prometheus text exposition format.
// No metrics client library exists in the dependency set for this, so it
// is hand-rolled (see DESIGN.md).
type Metrics struct {
	mu            sync.Mutex
	requestsByTool map[string]*int64
	errorsByCode   map[string]*int64

	embedCacheHits   int64
	embedCacheMisses int64
	searchCacheHits  int64
	searchCacheMisses int64

	breakerState func() map[string]string // name -> "closed"/"open"/"half-open"
}

func NewMetrics() *Metrics {
	return &Metrics{
		requestsByTool: make(map[string]*int64),
		errorsByCode:   make(map[string]*int64),
	}
}

// SetBreakerStateFunc wires a callback Metrics polls when rendering, so it
// doesn't need to know about *stability.Breakers directly.
func (m *Metrics) SetBreakerStateFunc(f func() map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.breakerState = f
}

func (m *Metrics) counter(set map[string]*int64, key string) *int64 {
	m.mu.Lock()
	c, ok := set[key]
	if !ok {
		c = new(int64)
		set[key] = c
	}
	m.mu.Unlock()
	return c
}

func (m *Metrics) RecordRequest(tool string) {
	atomic.AddInt64(m.counter(m.requestsByTool, tool), 1)
}

func (m *Metrics) RecordError(code string) {
	atomic.AddInt64(m.counter(m.errorsByCode, code), 1)
}

func (m *Metrics) RecordEmbedCache(hit bool) {
	if hit {
		atomic.AddInt64(&m.embedCacheHits, 1)
	} else {
		atomic.AddInt64(&m.embedCacheMisses, 1)
	}
}

func (m *Metrics) RecordSearchCache(hit bool) {
	if hit {
		atomic.AddInt64(&m.searchCacheHits, 1)
	} else {
		atomic.AddInt64(&m.searchCacheMisses, 1)
	}
}

// WriteProm renders every counter in Prometheus text exposition format.
func (m *Metrics) WriteProm(w io.Writer) {
	m.mu.Lock()
	tools := make([]string, 0, len(m.requestsByTool))
	for k := range m.requestsByTool {
		tools = append(tools, k)
	}
	codes := make([]string, 0, len(m.errorsByCode))
	for k := range m.errorsByCode {
		codes = append(codes, k)
	}
	breakerFn := m.breakerState
	m.mu.Unlock()
	sort.Strings(tools)
	sort.Strings(codes)

	fmt.Fprintln(w, "# HELP cursorkg_requests_total Requests handled per tool.")
	fmt.Fprintln(w, "# TYPE cursorkg_requests_total counter")
	for _, tool := range tools {
		fmt.Fprintf(w, "cursorkg_requests_total{tool=%q} %d\n", tool, atomic.LoadInt64(m.requestsByTool[tool]))
	}

	fmt.Fprintln(w, "# HELP cursorkg_errors_total Errors handled per error code.")
	fmt.Fprintln(w, "# TYPE cursorkg_errors_total counter")
	for _, code := range codes {
		fmt.Fprintf(w, "cursorkg_errors_total{code=%q} %d\n", code, atomic.LoadInt64(m.errorsByCode[code]))
	}

	fmt.Fprintln(w, "# HELP cursorkg_embedding_cache_ratio Embedding cache hit/miss counters.")
	fmt.Fprintln(w, "# TYPE cursorkg_embedding_cache_ratio counter")
	fmt.Fprintf(w, "cursorkg_embedding_cache_hits_total %d\n", atomic.LoadInt64(&m.embedCacheHits))
	fmt.Fprintf(w, "cursorkg_embedding_cache_misses_total %d\n", atomic.LoadInt64(&m.embedCacheMisses))

	fmt.Fprintln(w, "# HELP cursorkg_search_cache_ratio HybridSearch result cache hit/miss counters.")
	fmt.Fprintln(w, "# TYPE cursorkg_search_cache_ratio counter")
	fmt.Fprintf(w, "cursorkg_search_cache_hits_total %d\n", atomic.LoadInt64(&m.searchCacheHits))
	fmt.Fprintf(w, "cursorkg_search_cache_misses_total %d\n", atomic.LoadInt64(&m.searchCacheMisses))

	if breakerFn != nil {
		states := breakerFn()
		names := make([]string, 0, len(states))
		for n := range states {
			names = append(names, n)
		}
		sort.Strings(names)
		fmt.Fprintln(w, "# HELP cursorkg_circuit_breaker_state Circuit breaker state (0=closed,1=half-open,2=open).")
		fmt.Fprintln(w, "# TYPE cursorkg_circuit_breaker_state gauge")
		for _, n := range names {
			fmt.Fprintf(w, "cursorkg_circuit_breaker_state{name=%q} %d\n", n, breakerStateValue(states[n]))
		}
	}
}

func breakerStateValue(state string) int {
	switch state {
	case "open":
		return 2
	case "half-open":
		return 1
	default:
		return 0
	}
}

// Handler serves /metrics for the HTTP+SSE transport.
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		m.WriteProm(w)
	}
}

// healthBody is the /health response shape (§6): {"status":"ok","db":"ok|degraded"}.
type healthBody struct {
	Status string `json:"status"`
	DB     string `json:"db"`
}

// HealthHandler serves /health: a liveness probe reporting storage
// reachability via the supplied ping function.
func HealthHandler(ping func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := ping(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(healthBody{Status: "ok", DB: "degraded"})
			return
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(healthBody{Status: "ok", DB: "ok"})
	}
}
