// Package api serves measure badges over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mohammed-shakir/measure-badges/internal/badge/generator"
	"github.com/mohammed-shakir/measure-badges/internal/badge/model"
	"github.com/mohammed-shakir/measure-badges/internal/badgeevents"
	core "github.com/mohammed-shakir/measure-badges/internal/core/model"
	mylog "github.com/mohammed-shakir/measure-badges/internal/logger"
	"github.com/mohammed-shakir/measure-badges/internal/measure"
)

const (
	contentTypeSVG = "image/svg+xml"
	cacheControl   = "no-cache, no-store, must-revalidate"
)

type MeasureSource interface {
	Lookup(ctx context.Context, project, metric string) (model.MeasureHolder, error)
}

// ImageSource serves a badge together with its cache outcome and digest
type ImageSource interface {
	Badge(ctx context.Context, m model.MeasureHolder, t model.Template, blink bool) (generator.Badge, error)
}

type EventPublisher interface {
	Publish(ev badgeevents.Event)
}

type Handler struct {
	logger   *slog.Logger
	measures MeasureSource
	images   ImageSource
	events   EventPublisher
}

// New builds the badge handler; events may be nil
func New(logger *slog.Logger, measures MeasureSource, images ImageSource, events EventPublisher) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, measures: measures, images: images, events: events}
}

func (h *Handler) HandleBadge(ctx context.Context, w http.ResponseWriter, r *http.Request, q core.BadgeRequest) {
	ctx = mylog.WithBadge(ctx, q.String())

	m, err := h.measures.Lookup(ctx, q.Project, q.Metric)
	switch {
	case errors.Is(err, measure.ErrNotFound):
		m = model.NotFound(q.Metric)
	case err != nil:
		h.logger.ErrorContext(ctx, "measure lookup failed", "err", err)
		http.Error(w, "measure lookup failed", http.StatusBadGateway)
		return
	}

	b, err := h.images.Badge(ctx, m, q.Template, q.Blinking)
	if err != nil {
		h.logger.ErrorContext(ctx, "badge generation failed", "template", q.Template.String(), "err", err)
		http.Error(w, "badge generation failed", http.StatusInternalServerError)
		return
	}
	outcome := "miss"
	if b.Hit {
		outcome = "hit"
	}
	ctx = mylog.WithCacheOutcome(ctx, outcome)

	etag := fmt.Sprintf(`"%016x"`, b.Digest)
	hdr := w.Header()
	hdr.Set("Cache-Control", cacheControl)
	hdr.Set("ETag", etag)

	h.publish(q, outcome)

	if matchesETag(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	hdr.Set("Content-Type", contentTypeSVG)
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := b.Body.WriteTo(w); err != nil {
		h.logger.DebugContext(ctx, "client went away", "err", err)
	}
}

func (h *Handler) publish(q core.BadgeRequest, outcome string) {
	if h.events == nil {
		return
	}
	h.events.Publish(badgeevents.Event{
		Project:  q.Project,
		Metric:   q.Metric,
		Template: q.Template.String(),
		Blinking: q.Blinking,
		Cache:    outcome,
		TS:       time.Now().UTC(),
	})
}

// weak comparison per RFC 9110 section 13.1.2
func matchesETag(header, etag string) bool {
	header = strings.TrimSpace(header)
	if header == "" {
		return false
	}
	if header == "*" {
		return true
	}
	for cand := range strings.SplitSeq(header, ",") {
		cand = strings.TrimPrefix(strings.TrimSpace(cand), "W/")
		if cand == etag {
			return true
		}
	}
	return false
}
