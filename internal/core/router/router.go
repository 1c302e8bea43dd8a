// Package router validates badge requests and dispatches them.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	badge "github.com/mohammed-shakir/measure-badges/internal/badge/model"
	"github.com/mohammed-shakir/measure-badges/internal/core/model"
	"github.com/mohammed-shakir/measure-badges/internal/core/observability"
)

const (
	BadgeRoute  = "/badges/measure"
	maxParamLen = 400
)

// receives validated badge requests and serves them
type BadgeHandler interface {
	HandleBadge(ctx context.Context, w http.ResponseWriter, r *http.Request, q model.BadgeRequest)
}

// validates input query params and calls the handler
func HandleBadge(logger *slog.Logger, defaultTemplate badge.Template, h BadgeHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}

		q, warn, err := ParseBadgeRequest(r, defaultTemplate)
		if warn != "" {
			logger.WarnContext(r.Context(), warn)
		}
		if err != nil {
			http.Error(sw, err.Error(), http.StatusBadRequest)
			observability.ObserveHTTP(r.Method, BadgeRoute, http.StatusBadRequest, time.Since(start).Seconds())
			return
		}

		h.HandleBadge(r.Context(), sw, r, q)
		observability.ObserveHTTP(r.Method, BadgeRoute, sw.code, time.Since(start).Seconds())
	}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// ParseBadgeRequest reads key, metric, template and blinking. The legacy
// "project" parameter is accepted when key is absent.
func ParseBadgeRequest(r *http.Request, defaultTemplate badge.Template) (model.BadgeRequest, string, error) {
	var warn string
	v := r.URL.Query()

	project := strings.TrimSpace(v.Get("key"))
	if legacy := strings.TrimSpace(v.Get("project")); legacy != "" {
		if project == "" {
			project = legacy
			warn = "project parameter is deprecated; use key"
		} else {
			warn = "both key and project supplied; preferring key"
		}
	}
	if err := checkParam("key", project); err != nil {
		return model.BadgeRequest{}, warn, err
	}

	metric := strings.TrimSpace(v.Get("metric"))
	if err := checkParam("metric", metric); err != nil {
		return model.BadgeRequest{}, warn, err
	}

	tmpl := defaultTemplate
	if raw := strings.TrimSpace(v.Get("template")); raw != "" {
		t, err := badge.ParseTemplate(raw)
		if err != nil {
			return model.BadgeRequest{}, warn, fmt.Errorf("invalid template: %w", err)
		}
		tmpl = t
	}
	if !tmpl.Valid() {
		tmpl = badge.Flat
	}

	blinking := false
	if raw := strings.TrimSpace(v.Get("blinking")); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return model.BadgeRequest{}, warn, fmt.Errorf("invalid blinking: %q is not a boolean", raw)
		}
		blinking = b
	}

	return model.BadgeRequest{
		Project:  project,
		Metric:   metric,
		Template: tmpl,
		Blinking: blinking,
	}, warn, nil
}

var safeParamPattern = regexp.MustCompile(`^[\p{L}\p{N}_.:\-/ ]+$`)

func checkParam(name, val string) error {
	if val == "" {
		return fmt.Errorf("missing required parameter: %s", name)
	}
	if len(val) > maxParamLen {
		return fmt.Errorf("parameter %s exceeds %d characters", name, maxParamLen)
	}
	if !safeParamPattern.MatchString(val) {
		return errors.New("parameter " + name + " contains disallowed characters")
	}
	return nil
}
