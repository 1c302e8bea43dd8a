package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsHandler_Smoke(t *testing.T) {
	reg := prometheus.NewRegistry()
	Init(reg, true)
	// second Init on the same registry must be harmless
	Init(reg, true)

	ObserveHTTP("GET", "/badges/measure", 200, 0.001)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, `http_requests_total{method="GET",route="/badges/measure",status="200"} 1`) {
		t.Fatalf("metrics payload did not contain expected metric names; got:\n%s", body)
	}
}

func TestBadgeCacheCounters_ByPartition(t *testing.T) {
	hitBlink := testutil.ToFloat64(badgeCacheResults.WithLabelValues("hit", "blinking"))
	missPlain := testutil.ToFloat64(badgeCacheResults.WithLabelValues("miss", "plain"))

	IncBadgeHit(true)
	IncBadgeMiss(false)
	IncBadgeMiss(false)

	if got := testutil.ToFloat64(badgeCacheResults.WithLabelValues("hit", "blinking")) - hitBlink; got != 1 {
		t.Fatalf("blinking hits delta=%v want 1", got)
	}
	if got := testutil.ToFloat64(badgeCacheResults.WithLabelValues("miss", "plain")) - missPlain; got != 2 {
		t.Fatalf("plain misses delta=%v want 2", got)
	}
}

func TestGenerationAndEntries(t *testing.T) {
	ObserveGeneration("flat", nil, 0.002)
	ObserveGeneration("flat", errors.New("boom"), 0.001)
	SetBadgeEntries(true, 3)

	if got := testutil.ToFloat64(badgeCacheEntries.WithLabelValues("blinking")); got != 3 {
		t.Fatalf("entries=%v want 3", got)
	}
	if n := testutil.CollectAndCount(badgeGenerationSeconds); n < 2 {
		t.Fatalf("expected ok and error series, got %d", n)
	}
}
