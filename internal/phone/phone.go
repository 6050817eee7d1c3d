// Package phone canonicalizes free-form phone numbers into the identity
// key shared by contact import and message dispatch.
package phone

import (
	"strings"
	"unicode"
)

// Normalize keeps the digits of raw plus a leading '+'. Input without any
// digit yields "". It never inserts a country code.
func Normalize(raw string) string {
	raw = strings.TrimSpace(raw)
	var b strings.Builder
	b.Grow(len(raw))
	digits := 0
	for i, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
			digits++
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	if digits == 0 {
		return ""
	}
	return b.String()
}

// Policy applies a default country code to national numbers before
// normalization. The same Policy must be used on every path that compares
// or addresses numbers.
type Policy struct {
	// DefaultCountryCode such as "+1". Empty disables defaulting.
	DefaultCountryCode string
	// NationalLength is the digit count of a national number without trunk
	// prefix. Zero means 10.
	NationalLength int
}

// DefaultPolicy is the North American policy used when nothing is configured.
var DefaultPolicy = Policy{DefaultCountryCode: "+1", NationalLength: 10}

// Key returns the canonical identity key for raw.
func (p Policy) Key(raw string) string {
	n := Normalize(raw)
	if n == "" || strings.HasPrefix(n, "+") {
		return n
	}
	cc := strings.TrimFunc(p.DefaultCountryCode, func(r rune) bool { return !unicode.IsDigit(r) })
	if cc == "" {
		return n
	}
	national := p.NationalLength
	if national <= 0 {
		national = 10
	}
	switch {
	case len(n) == national:
		return "+" + cc + n
	case len(n) == national+1 && n[0] == '0':
		// trunk prefix
		return "+" + cc + n[1:]
	case len(n) == len(cc)+national && strings.HasPrefix(n, cc):
		return "+" + n
	}
	return n
}
