package observability

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, slog.New(slog.NewTextHandler(io.Discard, nil)))

	m.RequestsTotal.WithLabelValues("PRODUCT").Add(3)
	m.ObserveResponse(200)
	m.ObserveResponse(503)
	m.RecordsEmitted.Add(12)

	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("PRODUCT")); got != 3 {
		t.Errorf("requests_total: got %v", got)
	}
	if got := testutil.ToFloat64(m.ResponsesTotal.WithLabelValues("5xx")); got != 1 {
		t.Errorf("responses 5xx: got %v", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`catalogcrawl_requests_total{label="PRODUCT"} 3`,
		`catalogcrawl_records_emitted_total 12`,
		`catalogcrawl_responses_total{class="2xx"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestNewMetricsPrivateRegistry(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	// Two instances must not collide on registration.
	NewMetrics(nil, logger)
	NewMetrics(nil, logger)
}
