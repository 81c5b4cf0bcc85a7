// Package keys builds result cache keys.
package keys

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

const Prefix = "seg"

// Key identifies one segmentation result. fingerprint covers every setting
// that changes the output for the same click (selection thresholds, oracle
// model type) and only its hash enters the key.
func Key(checkpoint string, zoom, sizePx int, cell, fingerprint string) string {
	cp := sanitize(strings.TrimSpace(checkpoint))
	sum := xxhash.Sum64String(collapseASCIIWhitespace(fingerprint))
	return fmt.Sprintf("%s:%s:%d:%d:%s:f=%016x", Prefix, cp, zoom, sizePx, cell, sum)
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
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-' || r == '.':
			out = r
		default:
			// path separators, colons and non-ASCII become '-'
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
		(r >= '0' && r <= '9')
}

