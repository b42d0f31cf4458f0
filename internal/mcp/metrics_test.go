package mcp

import (
	"bytes"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetricsWritePromIncludesCounters(t *testing.T) {
	m := NewMetrics()
	m.RecordRequest("search_memory")
	m.RecordRequest("search_memory")
	m.RecordError("RATE_LIMIT")
	m.RecordEmbedCache(true)
	m.RecordEmbedCache(false)
	m.RecordSearchCache(true)

	var buf bytes.Buffer
	m.WriteProm(&buf)
	out := buf.String()

	assert.Contains(t, out, `cursorkg_requests_total{tool="search_memory"} 2`)
	assert.Contains(t, out, `cursorkg_errors_total{code="RATE_LIMIT"} 1`)
	assert.Contains(t, out, "cursorkg_embedding_cache_hits_total 1")
	assert.Contains(t, out, "cursorkg_embedding_cache_misses_total 1")
	assert.Contains(t, out, "cursorkg_search_cache_hits_total 1")
}

func TestMetricsWritePromIncludesBreakerState(t *testing.T) {
	m := NewMetrics()
	m.SetBreakerStateFunc(func() map[string]string {
		return map[string]string{"storage": "open"}
	})

	var buf bytes.Buffer
	m.WriteProm(&buf)

	assert.Contains(t, buf.String(), `cursorkg_circuit_breaker_state{name="storage"} 2`)
}

func TestHealthHandlerReportsOK(t *testing.T) {
	h := HealthHandler(func() error { return nil })
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest("GET", "/health", nil))

	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"ok","db":"ok"}`, rec.Body.String())
}

func TestHealthHandlerReportsUnavailable(t *testing.T) {
	h := HealthHandler(func() error { return errors.New("db down") })
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest("GET", "/health", nil))

	assert.Equal(t, 503, rec.Code)
	assert.JSONEq(t, `{"status":"ok","db":"degraded"}`, rec.Body.String())
}
