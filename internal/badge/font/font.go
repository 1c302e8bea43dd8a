// Package font resolves text metrics for badge rendering.
package font

import (
	"fmt"
	"math"
	"strings"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	DefaultCacheSize = 1024

	// Family is the css font stack the badge templates declare
	Family = "Verdana,Geneva,DejaVu Sans,sans-serif"
	// Size in px that the width table is calibrated for
	Size = 11
)

// Provider estimates rendered text width in pixels. Estimates are memoized
// since badges repeat the same handful of labels.
type Provider struct {
	widths *lru.Cache[string, int]
}

func New(cacheSize int) (*Provider, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	c, err := lru.New[string, int](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("font width cache: %w", err)
	}
	return &Provider{widths: c}, nil
}

func (p *Provider) Family() string { return Family }

// Width returns the estimated advance width of text, rounded up
func (p *Provider) Width(text string) int {
	if text == "" {
		return 0
	}
	if w, ok := p.widths.Get(text); ok {
		return w
	}
	w := measure(text)
	p.widths.Add(text, w)
	return w
}

// Cached reports how many distinct strings are memoized
func (p *Provider) Cached() int { return p.widths.Len() }

func measure(text string) int {
	var total float64
	for _, r := range text {
		total += runeWidth(r)
	}
	return int(math.Ceil(total))
}

// widths approximate Verdana at 11px
func runeWidth(r rune) float64 {
	switch {
	case r == ' ':
		return 3.9
	case strings.ContainsRune("iljI.,:;'!|", r):
		return 3.4
	case strings.ContainsRune("ftr()[]{}/\\-", r):
		return 4.6
	case strings.ContainsRune("mwMW%", r):
		return 10.6
	case unicode.IsDigit(r):
		return 7.0
	case unicode.IsUpper(r):
		return 7.8
	case unicode.IsLower(r):
		return 6.7
	case r > unicode.MaxASCII:
		return 9.0
	default:
		return 7.0
	}
}
