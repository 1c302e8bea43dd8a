// Package keys builds redis keys for stored measures.
package keys

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

const (
	prefix        = "measure"
	maxSegmentLen = 120
)

// MeasureKey returns the redis key holding one metric of one project. The
// readable part is sanitized and truncated, the hash suffix keeps distinct
// inputs distinct.
func MeasureKey(project, metric string) string {
	p := strings.TrimSpace(project)
	m := strings.TrimSpace(metric)

	sum := xxhash.Sum64String(p + "\x00" + m)

	return fmt.Sprintf("%s:%s:%s:h=%016x", prefix, segment(p), segment(m), sum)
}

func segment(s string) string {
	out := sanitize(collapseASCIIWhitespace(s))
	if len(out) > maxSegmentLen {
		out = out[:maxSegmentLen]
	}
	return out
}

func sanitize(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))

	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case r == ' ':
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-' || r == '.':
			out = r
		default:
			// anything else, including ':' and non-ASCII, becomes '-'
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

// converts any run of ASCII whitespace to a single space.
func collapseASCIIWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	wasWS := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f' {
			if !wasWS {
				b.WriteByte(' ')
				wasWS = true
			}
			continue
		}
		b.WriteRune(r)
		wasWS = false
	}
	return strings.TrimSpace(b.String())
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		unicode.IsDigit(r)
}
