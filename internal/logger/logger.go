// Package logger builds the zerolog root logger and carries request fields
// through context.
package logger

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Config struct {
	Level     string
	Console   bool
	SampleN   int
	Service   string
	Component string
}

// field is a context key; its value is the log field name
type field string

const (
	fieldRequestID field = "request_id"
	fieldComponent field = "component"
	fieldBadge     field = "badge"
	fieldCache     field = "cache"
)

// order in which context fields appear on a line
var ctxFields = [...]field{fieldRequestID, fieldComponent, fieldBadge, fieldCache}

func with(ctx context.Context, f field, v string) context.Context {
	if v == "" {
		return ctx
	}
	return context.WithValue(ctx, f, v)
}

func lookup(ctx context.Context, f field) string {
	s, _ := ctx.Value(f).(string)
	return s
}

// WithRequestID stores reqID, generating one when empty
func WithRequestID(ctx context.Context, reqID string) context.Context {
	if reqID == "" {
		reqID = NewID()
	}
	return with(ctx, fieldRequestID, reqID)
}

func RequestID(ctx context.Context) string { return lookup(ctx, fieldRequestID) }

// WithCacheOutcome tags the context with hit or miss
func WithCacheOutcome(ctx context.Context, outcome string) context.Context {
	return with(ctx, fieldCache, outcome)
}

// WithBadge tags the context with the project/metric being rendered
func WithBadge(ctx context.Context, badge string) context.Context {
	return with(ctx, fieldBadge, badge)
}

func WithComponent(ctx context.Context, component string) context.Context {
	return with(ctx, fieldComponent, component)
}

// NewID returns 16 random hex characters
func NewID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// Build configures zerolog globals and returns the root logger writing to out
// (stdout when nil). Unknown levels fall back to info.
func Build(cfg Config, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stdout
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.TimestampFieldName = "timestamp"
	zerolog.MessageFieldName = "msg"

	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if cfg.Console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	l := zerolog.New(out)
	if cfg.SampleN > 0 {
		l = l.Sample(&zerolog.BasicSampler{N: uint32(min(int64(cfg.SampleN), math.MaxUint32))})
	}

	c := l.With().Timestamp()
	if cfg.Service != "" {
		c = c.Str("service", cfg.Service)
	}
	if cfg.Component != "" {
		c = c.Str("component", cfg.Component)
	}
	return c.Logger()
}

// FromContext returns parent with the request fields found in ctx. A nil
// parent yields a discarding logger.
func FromContext(ctx context.Context, parent *zerolog.Logger) *zerolog.Logger {
	l := zerolog.New(io.Discard)
	if parent != nil {
		l = *parent
	}
	c := l.With()
	for _, f := range ctxFields {
		if v := lookup(ctx, f); v != "" {
			c = c.Str(string(f), v)
		}
	}
	l = c.Logger()
	return &l
}
