// Package segment decodes seven-segment displays directly from pixel
// geometry, without a text-recognition engine.
//
// Segments are numbered in the usual way:
//
//	 aaa
//	f   b
//	 ggg
//	e   c
//	 ddd
//
// A Pattern stores segment a in bit 0 through segment g in bit 6.
package segment

import "strings"

// Pattern is a 7-bit segment on/off pattern.
type Pattern uint8

// Segment bits.
const (
	SegA Pattern = 1 << iota
	SegB
	SegC
	SegD
	SegE
	SegF
	SegG

	AllSegments Pattern = 0x7F
)

// digitPatterns are the canonical patterns of 0-9.
var digitPatterns = [10]Pattern{0x3F, 0x06, 0x5B, 0x4F, 0x66, 0x6D, 0x7D, 0x07, 0x7F, 0x6F}

var (
	exactTable = buildExact()
	fuzzyTable = buildFuzzy(exactTable)
)

func buildExact() map[Pattern]int {
	m := make(map[Pattern]int, len(digitPatterns))
	for d, p := range digitPatterns {
		m[p] = d
	}
	return m
}

// buildFuzzy maps every pattern one bit away from a canonical digit to that
// digit. When two digits share a neighbour the lower digit keeps it, and
// canonical patterns are never overridden.
func buildFuzzy(exact map[Pattern]int) map[Pattern]int {
	m := make(map[Pattern]int)
	for d, p := range digitPatterns {
		for bit := range 7 {
			q := p ^ (1 << bit)
			if _, isExact := exact[q]; isExact {
				continue
			}
			if _, taken := m[q]; taken {
				continue
			}
			m[q] = d
		}
	}
	return m
}

// PatternFor returns the canonical pattern of digit d (0-9).
func PatternFor(d int) Pattern {
	if d < 0 || d > 9 {
		return 0
	}
	return digitPatterns[d]
}

// Lookup resolves p to a digit, preferring an exact match over a one-bit
// fuzzy match.
func Lookup(p Pattern) (digit int, fuzzy bool, ok bool) {
	if d, found := exactTable[p&AllSegments]; found {
		return d, false, true
	}
	if d, found := fuzzyTable[p&AllSegments]; found {
		return d, true, true
	}
	return 0, false, false
}

// String lists the lit segments, e.g. "abcdefg" for 8.
func (p Pattern) String() string {
	var b strings.Builder
	for i, name := range "abcdefg" {
		if p&(1<<i) != 0 {
			b.WriteRune(name)
		}
	}
	if b.Len() == 0 {
		return "-"
	}
	return b.String()
}
