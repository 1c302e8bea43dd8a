// Package minimize post-processes rendered badges: optional blink
// animation on the value background, then svg minification.
package minimize

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/svg"
)

const (
	ParamBlinking = "IS_BLINKING_BADGE"

	mediaType = "image/svg+xml"
)

var ErrMalformed = errors.New("malformed svg input")

var (
	valueMarker = []byte(`data-badge="value"`)
	blinkAnim   = []byte(`><animate attributeName="fill-opacity" values="1;0.2;1" dur="1s" repeatCount="indefinite"/></rect>`)
)

type Minimizer struct {
	m *minify.M
}

func New() *Minimizer {
	m := minify.New()
	m.AddFunc(mediaType, svg.Minify)
	return &Minimizer{m: m}
}

// Process reads raw completely and returns the transformed document
func (p *Minimizer) Process(ctx context.Context, raw io.Reader, params map[string]string) (io.Reader, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("post-process canceled: %w", err)
	}
	blinking, err := blinkingParam(params)
	if err != nil {
		return nil, err
	}

	src, err := io.ReadAll(raw)
	if err != nil {
		return nil, fmt.Errorf("read raw svg: %w", err)
	}
	if len(bytes.TrimSpace(src)) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrMalformed)
	}
	if !bytes.Contains(src, []byte("<svg")) {
		return nil, fmt.Errorf("%w: no svg root", ErrMalformed)
	}

	if blinking {
		src, err = injectBlink(src)
		if err != nil {
			return nil, err
		}
	}

	var out bytes.Buffer
	out.Grow(len(src))
	if err := p.m.Minify(mediaType, &out, bytes.NewReader(src)); err != nil {
		return nil, fmt.Errorf("%w: minify: %w", ErrMalformed, err)
	}
	return bytes.NewReader(out.Bytes()), nil
}

func blinkingParam(params map[string]string) (bool, error) {
	v, ok := params[ParamBlinking]
	if !ok || v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parameter %s=%q: %w", ParamBlinking, v, err)
	}
	return b, nil
}

// turns the self-closing value rect into one wrapping an animate element
func injectBlink(src []byte) ([]byte, error) {
	at := bytes.Index(src, valueMarker)
	if at < 0 {
		return nil, fmt.Errorf("%w: value background not found", ErrMalformed)
	}
	rel := bytes.Index(src[at:], []byte("/>"))
	if rel < 0 {
		return nil, fmt.Errorf("%w: value background not self-closing", ErrMalformed)
	}
	end := at + rel

	out := make([]byte, 0, len(src)+len(blinkAnim))
	out = append(out, src[:end]...)
	out = append(out, blinkAnim...)
	out = append(out, src[end+2:]...)
	return out, nil
}
