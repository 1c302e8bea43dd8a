package generator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/mohammed-shakir/measure-badges/internal/badge/model"
)

type fakeRenderer struct {
	calls atomic.Int64
	gate  chan struct{}

	mu   sync.Mutex
	err  error
	last model.Data
}

func (f *fakeRenderer) Render(_ context.Context, d model.Data) (io.Reader, error) {
	f.calls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = d
	if f.err != nil {
		return nil, f.err
	}
	return strings.NewReader(fmt.Sprintf(`<svg label=%q label-bg=%q value=%q value-bg=%q/>`,
		d.LabelText, d.LabelColor.Hex(), d.ValueText, d.ValueColor.Hex())), nil
}

func (f *fakeRenderer) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

type fakePost struct {
	calls atomic.Int64

	mu     sync.Mutex
	err    error
	params []map[string]string
}

func (f *fakePost) Process(_ context.Context, raw io.Reader, params map[string]string) (io.Reader, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.params = append(f.params, params)
	if f.err != nil {
		return nil, f.err
	}
	b, err := io.ReadAll(raw)
	if err != nil {
		return nil, err
	}
	return strings.NewReader(string(b) + "<!--blink=" + params[ParamBlinking] + "-->"), nil
}

func (f *fakePost) lastBlink() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.params) == 0 {
		return ""
	}
	return f.params[len(f.params)-1][ParamBlinking]
}

func newTestGenerator() (*Generator, *fakeRenderer, *fakePost) {
	r := &fakeRenderer{}
	p := &fakePost{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(r, p, WithLogger(logger)), r, p
}

func readAll(t *testing.T, r io.Reader) []byte {
	t.Helper()
	b, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return b
}

var (
	coverage = model.MeasureHolder{Metric: "coverage", Value: "82%", Color: model.Green}
	alerts   = model.MeasureHolder{Metric: "alerts", Value: "3", Color: model.Red}
)

func TestImageFor_SecondCallServedFromCache(t *testing.T) {
	g, r, p := newTestGenerator()
	ctx := context.Background()

	first, err := g.ImageFor(ctx, coverage, model.Flat, true)
	if err != nil {
		t.Fatalf("first ImageFor: %v", err)
	}
	if got := p.lastBlink(); got != "false" {
		t.Fatalf("IS_BLINKING_BADGE=%q want false for a green measure", got)
	}

	second, err := g.ImageFor(ctx, coverage, model.Flat, true)
	if err != nil {
		t.Fatalf("second ImageFor: %v", err)
	}
	if !bytes.Equal(readAll(t, first), readAll(t, second)) {
		t.Fatal("cached content differs from generated content")
	}
	if r.calls.Load() != 1 || p.calls.Load() != 1 {
		t.Fatalf("pipeline ran again: render=%d post=%d", r.calls.Load(), p.calls.Load())
	}
	if g.Generations() != 1 {
		t.Fatalf("generations=%d want 1", g.Generations())
	}
}

func TestImageFor_DescriptorFromMeasure(t *testing.T) {
	g, r, _ := newTestGenerator()
	if _, err := g.ImageFor(context.Background(), coverage, model.Rounded, false); err != nil {
		t.Fatalf("ImageFor: %v", err)
	}
	want := model.Data{
		Template:   model.Rounded,
		LabelText:  "coverage",
		LabelColor: model.DarkGray,
		ValueText:  "82%",
		ValueColor: model.Green,
	}
	if r.last != want {
		t.Fatalf("descriptor=%+v want %+v", r.last, want)
	}
}

func TestImageFor_AlertBlinksOnlyInBlinkingPartition(t *testing.T) {
	g, _, p := newTestGenerator()
	ctx := context.Background()

	blinking, err := g.ImageFor(ctx, alerts, model.Flat, true)
	if err != nil {
		t.Fatalf("blinking ImageFor: %v", err)
	}
	if got := p.lastBlink(); got != "true" {
		t.Fatalf("IS_BLINKING_BADGE=%q want true", got)
	}

	plain, err := g.ImageFor(ctx, alerts, model.Flat, false)
	if err != nil {
		t.Fatalf("plain ImageFor: %v", err)
	}
	if got := p.lastBlink(); got != "false" {
		t.Fatalf("IS_BLINKING_BADGE=%q want false", got)
	}

	if bytes.Equal(readAll(t, blinking), readAll(t, plain)) {
		t.Fatal("blinking and plain renditions must differ")
	}
	if g.Len(true) != 1 || g.Len(false) != 1 {
		t.Fatalf("partition sizes blink=%d plain=%d want 1/1", g.Len(true), g.Len(false))
	}
	if p.calls.Load() != 2 {
		t.Fatalf("post calls=%d want 2", p.calls.Load())
	}
}

func TestImageFor_NonAlertNeverBlinks(t *testing.T) {
	g, _, p := newTestGenerator()
	for _, c := range []model.Color{model.Gray, model.Green, model.YellowGreen, model.Yellow, model.Orange, model.Blue} {
		m := model.MeasureHolder{Metric: "m", Value: c.String(), Color: c}
		if _, err := g.ImageFor(context.Background(), m, model.Flat, true); err != nil {
			t.Fatalf("ImageFor(%v): %v", c, err)
		}
		if got := p.lastBlink(); got != "false" {
			t.Fatalf("color %v: IS_BLINKING_BADGE=%q want false", c, got)
		}
	}
}

func TestImageFor_PartitionIndependence(t *testing.T) {
	g, _, _ := newTestGenerator()
	if _, err := g.ImageFor(context.Background(), alerts, model.Flat, true); err != nil {
		t.Fatalf("ImageFor: %v", err)
	}
	if !g.Contains(alerts, model.Flat, true) {
		t.Fatal("entry missing from blinking partition")
	}
	if g.Contains(alerts, model.Flat, false) || g.Len(false) != 0 {
		t.Fatal("blinking insert leaked into plain partition")
	}
}

func TestImageFor_TemplateIsPartOfKey(t *testing.T) {
	g, r, _ := newTestGenerator()
	ctx := context.Background()
	for _, tp := range model.Templates() {
		if _, err := g.ImageFor(ctx, coverage, tp, false); err != nil {
			t.Fatalf("ImageFor(%v): %v", tp, err)
		}
	}
	if int(r.calls.Load()) != len(model.Templates()) || g.Len(false) != len(model.Templates()) {
		t.Fatalf("render=%d entries=%d want one per template", r.calls.Load(), g.Len(false))
	}
}

func TestImageFor_ReadersAreIndependent(t *testing.T) {
	g, _, _ := newTestGenerator()
	ctx := context.Background()

	r1, err := g.ImageFor(ctx, coverage, model.Flat, false)
	if err != nil {
		t.Fatalf("ImageFor: %v", err)
	}
	want := readAll(t, r1)

	// leave a reader half consumed, the next caller must still see everything
	partial, _ := g.ImageFor(ctx, coverage, model.Flat, false)
	buf := make([]byte, 5)
	if _, err := partial.Read(buf); err != nil {
		t.Fatalf("partial read: %v", err)
	}

	for i := range 10 {
		r, err := g.ImageFor(ctx, coverage, model.Flat, false)
		if err != nil {
			t.Fatalf("ImageFor #%d: %v", i, err)
		}
		if got := readAll(t, r); !bytes.Equal(got, want) {
			t.Fatalf("read #%d differs:\n got=%s\nwant=%s", i, got, want)
		}
	}
}

func TestImageFor_RenderFailureNotCached(t *testing.T) {
	g, r, p := newTestGenerator()
	ctx := context.Background()
	r.setErr(errors.New("font missing"))

	_, err := g.ImageFor(ctx, coverage, model.Flat, false)
	if !errors.Is(err, ErrRender) || !errors.Is(err, ErrIO) {
		t.Fatalf("err=%v want ErrRender/ErrIO", err)
	}
	if g.Len(false) != 0 || p.calls.Load() != 0 {
		t.Fatalf("failed render touched cache or post-processor: len=%d post=%d", g.Len(false), p.calls.Load())
	}

	r.setErr(nil)
	if _, err := g.ImageFor(ctx, coverage, model.Flat, false); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if g.Len(false) != 1 || r.calls.Load() != 2 {
		t.Fatalf("len=%d render=%d want 1/2", g.Len(false), r.calls.Load())
	}
}

func TestImageFor_PostProcessFailureNotCached(t *testing.T) {
	g, _, p := newTestGenerator()
	p.err = errors.New("malformed")

	_, err := g.ImageFor(context.Background(), alerts, model.Flat, true)
	if !errors.Is(err, ErrPostProcess) || !errors.Is(err, ErrIO) {
		t.Fatalf("err=%v want ErrPostProcess/ErrIO", err)
	}
	if g.Len(true) != 0 || g.Generations() != 0 {
		t.Fatalf("failed post-process was cached: len=%d gens=%d", g.Len(true), g.Generations())
	}
}

func TestImageFor_InvalidTemplateIsRenderFailure(t *testing.T) {
	g, r, _ := newTestGenerator()
	_, err := g.ImageFor(context.Background(), coverage, model.Template(42), false)
	if !errors.Is(err, ErrRender) || !errors.Is(err, model.ErrInvalidData) {
		t.Fatalf("err=%v want ErrRender wrapping ErrInvalidData", err)
	}
	if r.calls.Load() != 0 {
		t.Fatal("renderer must not run for invalid descriptors")
	}
}

func TestImageFor_CorruptedEntryIsReuseFailure(t *testing.T) {
	g, _, _ := newTestGenerator()
	ctx := context.Background()
	if _, err := g.ImageFor(ctx, coverage, model.Flat, false); err != nil {
		t.Fatalf("ImageFor: %v", err)
	}

	k := entryKey{template: model.Flat, measure: coverage}
	e, ok := g.plain.get(k, k.id(false))
	if !ok {
		t.Fatal("entry not found")
	}
	e.body[0] ^= 0xff

	_, err := g.ImageFor(ctx, coverage, model.Flat, false)
	if !errors.Is(err, ErrResourceReuse) || !errors.Is(err, ErrIO) {
		t.Fatalf("err=%v want ErrResourceReuse/ErrIO", err)
	}
}

func TestImageFor_ConcurrentMissesRenderOnce(t *testing.T) {
	g, r, p := newTestGenerator()
	r.gate = make(chan struct{})
	ctx := context.Background()

	const n = 16
	var wg sync.WaitGroup
	bodies := make([][]byte, n)
	errs := make([]error, n)
	wg.Add(n)
	for i := range n {
		go func() {
			defer wg.Done()
			rd, err := g.ImageFor(ctx, alerts, model.Flat, true)
			if err != nil {
				errs[i] = err
				return
			}
			bodies[i], errs[i] = io.ReadAll(rd)
		}()
	}
	close(r.gate)
	wg.Wait()

	for i := range n {
		if errs[i] != nil {
			t.Fatalf("goroutine %d: %v", i, errs[i])
		}
		if !bytes.Equal(bodies[i], bodies[0]) {
			t.Fatalf("goroutine %d saw different content", i)
		}
	}
	if r.calls.Load() != 1 || p.calls.Load() != 1 {
		t.Fatalf("render=%d post=%d want 1/1", r.calls.Load(), p.calls.Load())
	}
	if g.Len(true) != 1 {
		t.Fatalf("len=%d want 1", g.Len(true))
	}
}

// blocks until released, then fails if its ctx was cancelled meanwhile
type ctxRenderer struct {
	calls   atomic.Int64
	entered chan struct{}
	release chan struct{}
}

func (r *ctxRenderer) Render(ctx context.Context, d model.Data) (io.Reader, error) {
	if r.calls.Add(1) == 1 {
		close(r.entered)
	}
	<-r.release
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return strings.NewReader(`<svg value="` + d.ValueText + `"/>`), nil
}

func TestImageFor_CancelledCallerDoesNotFailOthers(t *testing.T) {
	r := &ctxRenderer{entered: make(chan struct{}), release: make(chan struct{})}
	g := New(r, &fakePost{}, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := g.ImageFor(ctxA, alerts, model.Flat, true)
		errA <- err
	}()
	<-r.entered

	type result struct {
		body []byte
		err  error
	}
	resB := make(chan result, 1)
	go func() {
		rd, err := g.ImageFor(context.Background(), alerts, model.Flat, true)
		if err != nil {
			resB <- result{err: err}
			return
		}
		b, err := io.ReadAll(rd)
		resB <- result{body: b, err: err}
	}()

	cancelA()
	select {
	case err := <-errA:
		if !errors.Is(err, context.Canceled) || !errors.Is(err, ErrIO) {
			t.Fatalf("cancelled caller err=%v want context.Canceled wrapped in ErrIO", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller still waiting on the generation")
	}

	// let B join the running generation before it finishes
	time.Sleep(20 * time.Millisecond)
	close(r.release)

	res := <-resB
	if res.err != nil {
		t.Fatalf("live caller failed: %v", res.err)
	}
	if !strings.Contains(string(res.body), `value="3"`) {
		t.Fatalf("unexpected body %q", res.body)
	}
	if r.calls.Load() != 1 {
		t.Fatalf("render calls=%d want 1", r.calls.Load())
	}
	if !g.Contains(alerts, model.Flat, true) {
		t.Fatal("generation finished after cancel must still be cached")
	}
}

func TestBadge_ReportsOutcomeAndDigest(t *testing.T) {
	g, _, _ := newTestGenerator()
	ctx := context.Background()

	first, err := g.Badge(ctx, coverage, model.Flat, false)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	if first.Hit {
		t.Fatal("first call must be a miss")
	}
	body := readAll(t, first.Body)
	if first.Digest != xxhash.Sum64(body) {
		t.Fatalf("digest=%x want %x", first.Digest, xxhash.Sum64(body))
	}

	second, err := g.Badge(ctx, coverage, model.Flat, false)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if !second.Hit || second.Digest != first.Digest {
		t.Fatalf("second hit=%v digest=%x want hit with %x", second.Hit, second.Digest, first.Digest)
	}

	// other partition is its own key
	other, err := g.Badge(ctx, coverage, model.Flat, true)
	if err != nil {
		t.Fatalf("blink partition: %v", err)
	}
	if other.Hit {
		t.Fatal("blink partition must miss on first use")
	}
}

func TestEntryID_Unambiguous(t *testing.T) {
	a := entryKey{template: model.Flat, measure: model.MeasureHolder{Metric: `a":"b`, Value: "c", Color: model.Green}}
	b := entryKey{template: model.Flat, measure: model.MeasureHolder{Metric: "a", Value: `b":"c`, Color: model.Green}}
	if a.id(true) == b.id(true) {
		t.Fatalf("ids collide: %s", a.id(true))
	}
	if a.id(true) == a.id(false) {
		t.Fatal("partition must be part of the id")
	}
}
