// Package model defines badge domain types shared across the service.
package model

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidData = errors.New("invalid badge data")

type Color int

const (
	DarkGray Color = iota + 1
	Gray
	Green
	YellowGreen
	Yellow
	Orange
	Red
	Blue
)

var colorHex = map[Color]string{
	DarkGray:    "#555",
	Gray:        "#9f9f9f",
	Green:       "#4c1",
	YellowGreen: "#a4a61d",
	Yellow:      "#dfb317",
	Orange:      "#fe7d37",
	Red:         "#e05d44",
	Blue:        "#007ec6",
}

var colorNames = map[Color]string{
	DarkGray:    "dark_gray",
	Gray:        "gray",
	Green:       "green",
	YellowGreen: "yellow_green",
	Yellow:      "yellow",
	Orange:      "orange",
	Red:         "red",
	Blue:        "blue",
}

func (c Color) Valid() bool {
	_, ok := colorHex[c]
	return ok
}

// Hex returns the fill value used in svg output
func (c Color) Hex() string {
	return colorHex[c]
}

func (c Color) String() string {
	if n, ok := colorNames[c]; ok {
		return n
	}
	return fmt.Sprintf("color(%d)", int(c))
}

type Template int

const (
	Flat Template = iota + 1
	FlatSquare
	Rounded
)

var templateNames = map[Template]string{
	Flat:       "flat",
	FlatSquare: "flat-square",
	Rounded:    "rounded",
}

// Templates lists every template in a fixed order
func Templates() []Template {
	return []Template{Flat, FlatSquare, Rounded}
}

func (t Template) Valid() bool {
	_, ok := templateNames[t]
	return ok
}

func (t Template) String() string {
	if n, ok := templateNames[t]; ok {
		return n
	}
	return fmt.Sprintf("template(%d)", int(t))
}

// ParseTemplate maps a request value to a template, empty selects Flat
func ParseTemplate(s string) (Template, error) {
	n := strings.ToLower(strings.TrimSpace(s))
	n = strings.ReplaceAll(n, "_", "-")
	if n == "" {
		return Flat, nil
	}
	for t, name := range templateNames {
		if name == n {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown template %q", s)
}

// Quality levels reported alongside a measure value.
const (
	LevelOK    = "OK"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
	LevelNone  = "NONE"
)

// ColorForLevel derives the value background from a quality level
func ColorForLevel(level string) Color {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case LevelOK:
		return Green
	case LevelWarn:
		return Orange
	case LevelError:
		return Red
	default:
		return Gray
	}
}

// MeasureHolder identifies one measured quantity. It is comparable, so two
// holders with the same metric, value and color are the same map key.
type MeasureHolder struct {
	Metric string
	Value  string
	Color  Color
}

func NewMeasureHolder(metric, value, level string) MeasureHolder {
	return MeasureHolder{Metric: metric, Value: value, Color: ColorForLevel(level)}
}

// NotFound is the holder rendered when no measure exists for a metric
func NotFound(metric string) MeasureHolder {
	return MeasureHolder{Metric: metric, Value: "not found", Color: Gray}
}

func (m MeasureHolder) IsAlert() bool {
	return m.Color == Red
}

// Data describes what to render. Build it with NewData.
type Data struct {
	Template   Template
	LabelText  string
	LabelColor Color
	ValueText  string
	ValueColor Color
}

func NewData(t Template, label string, labelColor Color, value string, valueColor Color) (Data, error) {
	if !t.Valid() {
		return Data{}, fmt.Errorf("%w: unknown template %d", ErrInvalidData, int(t))
	}
	if strings.TrimSpace(label) == "" {
		return Data{}, fmt.Errorf("%w: empty label text", ErrInvalidData)
	}
	if !labelColor.Valid() {
		return Data{}, fmt.Errorf("%w: unknown label color %d", ErrInvalidData, int(labelColor))
	}
	if !valueColor.Valid() {
		return Data{}, fmt.Errorf("%w: unknown value color %d", ErrInvalidData, int(valueColor))
	}
	return Data{
		Template:   t,
		LabelText:  label,
		LabelColor: labelColor,
		ValueText:  value,
		ValueColor: valueColor,
	}, nil
}
