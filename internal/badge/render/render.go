// Package render turns badge data into raw svg documents.
package render

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"text/template"

	"github.com/mohammed-shakir/measure-badges/internal/badge/model"
)

var ErrTemplate = errors.New("badge template")

// FontProvider resolves text widths for layout
type FontProvider interface {
	Width(text string) int
	Family() string
}

const horizontalPadding = 10

type layout struct {
	Radius   int
	Gradient bool
	Height   int
}

var layouts = map[model.Template]layout{
	model.Flat:       {Radius: 3, Gradient: true, Height: 20},
	model.FlatSquare: {Radius: 0, Gradient: false, Height: 20},
	model.Rounded:    {Radius: 10, Gradient: true, Height: 20},
}

const badgeSVG = `<svg xmlns="http://www.w3.org/2000/svg" width="{{.Width}}" height="{{.Height}}">
  <title>{{xml .Label}}: {{xml .Value}}</title>
  {{- if .Gradient}}
  <linearGradient id="s" x2="0" y2="100%">
    <stop offset="0" stop-color="#bbb" stop-opacity=".1"/>
    <stop offset="1" stop-opacity=".1"/>
  </linearGradient>
  {{- end}}
  <clipPath id="r">
    <rect width="{{.Width}}" height="{{.Height}}" rx="{{.Radius}}" fill="#fff"/>
  </clipPath>
  <g clip-path="url(#r)">
    <rect width="{{.LabelWidth}}" height="{{.Height}}" fill="{{.LabelColor}}"/>
    <rect data-badge="value" x="{{.LabelWidth}}" width="{{.ValueWidth}}" height="{{.Height}}" fill="{{.ValueColor}}"/>
    {{- if .Gradient}}
    <rect width="{{.Width}}" height="{{.Height}}" fill="url(#s)"/>
    {{- end}}
  </g>
  <g fill="#fff" text-anchor="middle" font-family="{{xml .Family}}" font-size="11">
    <text x="{{.LabelX}}" y="14">{{xml .Label}}</text>
    <text x="{{.ValueX}}" y="14">{{xml .Value}}</text>
  </g>
</svg>
`

type view struct {
	layout
	Width      int
	LabelWidth int
	ValueWidth int
	LabelX     float64
	ValueX     float64
	Label      string
	Value      string
	LabelColor string
	ValueColor string
	Family     string
}

type Generator struct {
	fonts FontProvider
	tpl   *template.Template
}

func New(fonts FontProvider) *Generator {
	tpl := template.Must(template.New("badge").Funcs(template.FuncMap{
		"xml": escapeXML,
	}).Parse(badgeSVG))
	return &Generator{fonts: fonts, tpl: tpl}
}

func (g *Generator) FontProvider() FontProvider { return g.fonts }

// Render produces the raw, unminimized svg for d
func (g *Generator) Render(ctx context.Context, d model.Data) (io.Reader, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("render canceled: %w", err)
	}
	l, ok := layouts[d.Template]
	if !ok {
		return nil, fmt.Errorf("%w: no layout for %v", ErrTemplate, d.Template)
	}
	if !d.LabelColor.Valid() || !d.ValueColor.Valid() {
		return nil, fmt.Errorf("%w: invalid colors %v/%v", ErrTemplate, d.LabelColor, d.ValueColor)
	}

	lw := g.fonts.Width(d.LabelText) + horizontalPadding
	vw := g.fonts.Width(d.ValueText) + horizontalPadding
	v := view{
		layout:     l,
		Width:      lw + vw,
		LabelWidth: lw,
		ValueWidth: vw,
		LabelX:     float64(lw) / 2,
		ValueX:     float64(lw) + float64(vw)/2,
		Label:      d.LabelText,
		Value:      d.ValueText,
		LabelColor: d.LabelColor.Hex(),
		ValueColor: d.ValueColor.Hex(),
		Family:     g.fonts.Family(),
	}

	var buf bytes.Buffer
	if err := g.tpl.Execute(&buf, v); err != nil {
		return nil, fmt.Errorf("%w: execute: %w", ErrTemplate, err)
	}
	return bytes.NewReader(buf.Bytes()), nil
}

func escapeXML(s string) (string, error) {
	var b bytes.Buffer
	if err := xml.EscapeText(&b, []byte(s)); err != nil {
		return "", fmt.Errorf("escape: %w", err)
	}
	return b.String(), nil
}
