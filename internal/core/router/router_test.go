package router

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	badge "github.com/mohammed-shakir/measure-badges/internal/badge/model"
	"github.com/mohammed-shakir/measure-badges/internal/core/model"
)

func reqWith(params map[string]string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, BadgeRoute, nil)
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	req.URL.RawQuery = q.Encode()
	return req
}

func TestParseBadgeRequest_Valid(t *testing.T) {
	got, warn, err := ParseBadgeRequest(reqWith(map[string]string{
		"key": " org.acme:billing ", "metric": "new_coverage", "template": "FLAT_SQUARE", "blinking": "true",
	}), badge.Flat)
	if err != nil || warn != "" {
		t.Fatalf("unexpected err=%v warn=%q", err, warn)
	}
	want := model.BadgeRequest{Project: "org.acme:billing", Metric: "new_coverage", Template: badge.FlatSquare, Blinking: true}
	if got != want {
		t.Fatalf("got %+v want %+v", got, want)
	}
}

func TestParseBadgeRequest_Defaults(t *testing.T) {
	got, _, err := ParseBadgeRequest(reqWith(map[string]string{"key": "acme", "metric": "bugs"}), badge.Rounded)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if got.Template != badge.Rounded || got.Blinking {
		t.Fatalf("defaults not applied: %+v", got)
	}
}

func TestParseBadgeRequest_Rejects(t *testing.T) {
	cases := map[string]map[string]string{
		"missing key":     {"metric": "bugs"},
		"missing metric":  {"key": "acme"},
		"blank metric":    {"key": "acme", "metric": "   "},
		"too long":        {"key": strings.Repeat("a", maxParamLen+1), "metric": "bugs"},
		"bad chars":       {"key": "acme<script>", "metric": "bugs"},
		"bad template":    {"key": "acme", "metric": "bugs", "template": "plastic"},
		"bad blinking":    {"key": "acme", "metric": "bugs", "blinking": "sometimes"},
		"quote in metric": {"key": "acme", "metric": `bugs"`},
	}
	for name, params := range cases {
		if _, _, err := ParseBadgeRequest(reqWith(params), badge.Flat); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestParseBadgeRequest_LegacyProjectParam(t *testing.T) {
	got, warn, err := ParseBadgeRequest(reqWith(map[string]string{"project": "acme", "metric": "bugs"}), badge.Flat)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if got.Project != "acme" || warn == "" {
		t.Fatalf("legacy param not honored: %+v warn=%q", got, warn)
	}

	got, warn, _ = ParseBadgeRequest(reqWith(map[string]string{"key": "new", "project": "old", "metric": "bugs"}), badge.Flat)
	if got.Project != "new" || warn == "" {
		t.Fatalf("key must win over project: %+v warn=%q", got, warn)
	}
}
