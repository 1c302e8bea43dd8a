// Package generator renders measure badges and keeps every produced badge in
// memory for the lifetime of the generator.
//
// Badges live in two partitions, one for requests asking for blinking and one
// for requests that do not. Within a partition an entry is identified by the
// template and the measure holder. Entries are immutable bytes and every
// caller gets its own reader, so readers never share a cursor.
package generator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/singleflight"

	"github.com/mohammed-shakir/measure-badges/internal/badge/model"
	"github.com/mohammed-shakir/measure-badges/internal/core/observability"
)

// ParamBlinking is the post-processor option toggling the blink animation
const ParamBlinking = "IS_BLINKING_BADGE"

// ErrIO is the single failure category reported by ImageFor; the more
// specific errors below all match it with errors.Is.
var ErrIO = errors.New("badge io failure")

var (
	ErrRender        = fmt.Errorf("%w: render", ErrIO)
	ErrPostProcess   = fmt.Errorf("%w: post-process", ErrIO)
	ErrResourceReuse = fmt.Errorf("%w: resource reuse", ErrIO)
)

// Renderer turns a badge descriptor into raw SVG
type Renderer interface {
	Render(ctx context.Context, d model.Data) (io.Reader, error)
}

// PostProcessor transforms raw SVG using named options such as ParamBlinking
type PostProcessor interface {
	Process(ctx context.Context, raw io.Reader, params map[string]string) (io.Reader, error)
}

// Option configures a Generator
type Option func(*Generator)

// WithLogger sets the logger; nil keeps slog.Default
func WithLogger(l *slog.Logger) Option {
	return func(g *Generator) {
		if l != nil {
			g.logger = l
		}
	}
}

// Generator renders badges once per key and serves them from two in-memory
// partitions. It is safe for concurrent use.
type Generator struct {
	renderer Renderer
	post     PostProcessor
	logger   *slog.Logger

	blinking *partition
	plain    *partition

	flights     singleflight.Group
	generations atomic.Uint64
}

// New creates an empty generator over r and p
func New(r Renderer, p PostProcessor, opts ...Option) *Generator {
	g := &Generator{
		renderer: r,
		post:     p,
		logger:   slog.Default(),
		blinking: newPartition(),
		plain:    newPartition(),
	}
	for _, o := range opts {
		o(g)
	}
	observability.SetBadgeEntries(true, 0)
	observability.SetBadgeEntries(false, 0)
	g.logger.Info("badge generator ready", "templates", len(model.Templates()))
	return g
}

// ImageFor returns a reader over the badge for m rendered with t. The first
// request for a key runs the render and post-process pipeline, later requests
// are served from memory. blink selects the partition; the badge only
// actually blinks when the measure is in alert.
func (g *Generator) ImageFor(ctx context.Context, m model.MeasureHolder, t model.Template, blink bool) (*bytes.Reader, error) {
	b, err := g.Badge(ctx, m, t, blink)
	if err != nil {
		return nil, err
	}
	return b.Body, nil
}

// Badge is one served badge
type Badge struct {
	Body *bytes.Reader
	// Digest is the xxhash of the full body
	Digest uint64
	// Hit is false when this call waited on a generation
	Hit bool
}

type flightResult struct {
	e         *entry
	generated bool
}

// Badge is ImageFor plus the cache outcome and content digest. A caller whose
// ctx ends while waiting on a generation gets ctx's error; the generation
// itself keeps running for the other waiters.
func (g *Generator) Badge(ctx context.Context, m model.MeasureHolder, t model.Template, blink bool) (Badge, error) {
	p := g.partition(blink)
	k := entryKey{template: t, measure: m}
	id := k.id(blink)

	if e, ok := p.get(k, id); ok {
		if err := e.verify(); err != nil {
			return Badge{}, fmt.Errorf("%s %v: %w", m.Metric, t, err)
		}
		observability.IncBadgeHit(blink)
		g.logger.DebugContext(ctx, "badge cache hit", "metric", m.Metric, "template", t.String(), "blink", blink)
		return Badge{Body: e.reader(), Digest: e.sum, Hit: true}, nil
	}

	// the flight outlives any single caller
	fctx := context.WithoutCancel(ctx)
	ch := g.flights.DoChan(id, func() (any, error) {
		// an earlier flight for the same key may have landed meanwhile
		if e, ok := p.get(k, id); ok {
			return flightResult{e: e}, nil
		}
		g.logger.DebugContext(fctx, "generating badge", "metric", m.Metric, "template", t.String(), "blink", blink)
		body, err := g.generate(fctx, m, t, blink)
		if err != nil {
			return nil, err
		}
		e := p.putIfAbsent(k, id, newEntry(body))
		observability.SetBadgeEntries(blink, p.count())
		return flightResult{e: e, generated: true}, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		observability.IncBadgeMiss(blink)
		return Badge{}, fmt.Errorf("%w: waiting for %s %v: %w", ErrIO, m.Metric, t, ctx.Err())
	}
	if res.Err != nil {
		observability.IncBadgeMiss(blink)
		g.logger.WarnContext(ctx, "badge generation failed",
			"metric", m.Metric, "template", t.String(), "blink", blink, "shared", res.Shared, "err", res.Err)
		return Badge{}, res.Err
	}
	fr, ok := res.Val.(flightResult)
	if !ok {
		return Badge{}, fmt.Errorf("%w: unexpected flight result %T", ErrResourceReuse, res.Val)
	}
	hit := !fr.generated
	if hit {
		observability.IncBadgeHit(blink)
	} else {
		observability.IncBadgeMiss(blink)
	}
	return Badge{Body: fr.e.reader(), Digest: fr.e.sum, Hit: hit}, nil
}

func (g *Generator) generate(ctx context.Context, m model.MeasureHolder, t model.Template, blink bool) (body []byte, err error) {
	start := time.Now()
	defer func() {
		observability.ObserveGeneration(t.String(), err, time.Since(start).Seconds())
	}()

	data, err := model.NewData(t, m.Metric, model.DarkGray, m.Value, m.Color)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRender, err)
	}
	raw, err := g.renderer.Render(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRender, err)
	}

	// blink decides the partition, the alert state decides the animation
	params := map[string]string{
		ParamBlinking: strconv.FormatBool(blink && m.IsAlert()),
	}
	out, err := g.post.Process(ctx, raw, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPostProcess, err)
	}
	body, err = io.ReadAll(out)
	if err != nil {
		return nil, fmt.Errorf("%w: read processed badge: %w", ErrResourceReuse, err)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty output", ErrPostProcess)
	}
	g.generations.Add(1)
	return body, nil
}

// Contains reports whether a badge for (m, t) is cached in the blink partition
func (g *Generator) Contains(m model.MeasureHolder, t model.Template, blink bool) bool {
	k := entryKey{template: t, measure: m}
	_, ok := g.partition(blink).get(k, k.id(blink))
	return ok
}

// Len returns the number of cached badges in one partition
func (g *Generator) Len(blink bool) int {
	return g.partition(blink).count()
}

// Generations counts completed pipeline runs
func (g *Generator) Generations() uint64 {
	return g.generations.Load()
}

func (g *Generator) partition(blink bool) *partition {
	if blink {
		return g.blinking
	}
	return g.plain
}

type entryKey struct {
	template model.Template
	measure  model.MeasureHolder
}

// id is unique per partition and key, quoting keeps separators unambiguous
func (k entryKey) id(blink bool) string {
	return fmt.Sprintf("%t:%d:%d:%q:%q", blink, int(k.template), int(k.measure.Color), k.measure.Metric, k.measure.Value)
}

type entry struct {
	body []byte
	sum  uint64
}

func newEntry(body []byte) *entry {
	return &entry{body: body, sum: xxhash.Sum64(body)}
}

func (e *entry) verify() error {
	if len(e.body) == 0 {
		return fmt.Errorf("%w: empty cached badge", ErrResourceReuse)
	}
	if xxhash.Sum64(e.body) != e.sum {
		return fmt.Errorf("%w: cached badge content changed", ErrResourceReuse)
	}
	return nil
}

func (e *entry) reader() *bytes.Reader {
	return bytes.NewReader(e.body)
}

const numShards = 16

type partition struct {
	size   atomic.Int64
	shards [numShards]shard
}

type shard struct {
	mu sync.RWMutex
	m  map[entryKey]*entry
}

func newPartition() *partition {
	p := &partition{}
	for i := range p.shards {
		p.shards[i].m = make(map[entryKey]*entry)
	}
	return p
}

func (p *partition) pick(id string) *shard {
	h := xxhash.Sum64String(id)
	return &p.shards[h&(numShards-1)]
}

func (p *partition) get(k entryKey, id string) (*entry, bool) {
	s := p.pick(id)
	s.mu.RLock()
	e, ok := s.m[k]
	s.mu.RUnlock()
	return e, ok
}

// putIfAbsent never replaces an entry, it returns whichever one is stored
func (p *partition) putIfAbsent(k entryKey, id string, e *entry) *entry {
	s := p.pick(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.m[k]; ok {
		return cur
	}
	s.m[k] = e
	p.size.Add(1)
	return e
}

func (p *partition) count() int {
	return int(p.size.Load())
}
