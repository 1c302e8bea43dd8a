package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mohammed-shakir/measure-badges/internal/core/observability"
)

func assertHasMetricLine(t *testing.T, body, metric string, wantLabels ...string) {
	t.Helper()
	for ln := range strings.SplitSeq(body, "\n") {
		if !strings.HasPrefix(ln, metric+"{") {
			continue
		}
		ok := true
		for _, s := range wantLabels {
			if !strings.Contains(ln, s) {
				ok = false
				break
			}
		}
		if ok && (len(ln) > 0 && ln[len(ln)-1] >= '0' && ln[len(ln)-1] <= '9') {
			return
		}
	}
	t.Fatalf("expected a %s line with labels %v; got:\n%s", metric, wantLabels, body)
}

func Test_AppMetrics_CustomRegistry_Smoke(t *testing.T) {
	p := Init(Config{Enabled: true, Build: BuildInfo{Version: "test"}})
	observability.Init(p.Registerer(), true)

	observability.ObserveHTTP(http.MethodGet, "/badges/measure", http.StatusOK, 0.003)
	observability.IncBadgeMiss(true)
	observability.IncBadgeHit(true)
	observability.ObserveGeneration("flat", nil, 0.002)
	observability.ObserveGeneration("rounded", errors.New("boom"), 0.001)
	observability.SetBadgeEntries(false, 4)
	observability.ObserveCacheOp("hgetall", nil, 0.002)
	observability.IncKafkaConsumerError("decode")
	observability.IncMeasureUpdate("applied")
	observability.IncBadgeEvent("dropped")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	body := rr.Body.String()
	mustContain := []string{
		`badge_generation_duration_seconds_bucket`,
		`redis_operation_duration_seconds_count`,
		`badge_cache_entries{partition="plain"} 4`,
		`kafka_consumer_errors_total{kind="decode"} `,
	}
	for _, s := range mustContain {
		if !strings.Contains(body, s) {
			t.Fatalf("expected metrics to contain %q;\n---\n%s", s, body)
		}
	}

	assertHasMetricLine(t, body, "badge_cache_results_total",
		`outcome="hit"`, `partition="blinking"`)
	assertHasMetricLine(t, body, "badge_cache_results_total",
		`outcome="miss"`, `partition="blinking"`)
	assertHasMetricLine(t, body, "badge_generation_duration_seconds_count",
		`result="error"`, `template="rounded"`)
	assertHasMetricLine(t, body, "measure_updates_total", `result="applied"`)
	assertHasMetricLine(t, body, "badge_events_total", `result="dropped"`)
	assertHasMetricLine(t, body, "app_build_info", `version="test"`)
}
