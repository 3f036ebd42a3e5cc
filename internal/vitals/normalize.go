package vitals

import (
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// char is a normalized rune remembering its index in the original text, so
// per-character confidences stay aligned after normalization.
type char struct {
	r   rune
	src int
}

// slashLike maps slash variants NFKC leaves alone.
var slashLike = map[rune]rune{
	'\u2044': '/', // fraction slash
	'\u2215': '/', // division slash
	'\u29F8': '/', // big solidus
}

// normalize applies NFKC to every rune on its own (full-width digits and
// slashes become ASCII), folds slash variants, and drops zero-width and
// control characters other than line breaks and tabs.
func normalize(text string) []char {
	out := make([]char, 0, len(text))
	idx := 0
	for _, r := range text {
		src := idx
		idx++

		if isZeroWidth(r) {
			continue
		}
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			continue
		}
		if s, ok := slashLike[r]; ok {
			out = append(out, char{r: s, src: src})
			continue
		}
		n := []rune(norm.NFKC.String(string(r)))
		if len(n) == 1 {
			r = n[0]
		}
		out = append(out, char{r: r, src: src})
	}
	return out
}

// Normalize returns text as seen by the extractor.
func Normalize(text string) string {
	chars := normalize(text)
	rs := make([]rune, len(chars))
	for i, c := range chars {
		rs[i] = c.r
	}
	return string(rs)
}

func isZeroWidth(r rune) bool {
	switch r {
	case '\u200B', // ZERO WIDTH SPACE
		'\u200C', // ZERO WIDTH NON-JOINER
		'\u200D', // ZERO WIDTH JOINER
		'\uFEFF': // ZERO WIDTH NO-BREAK SPACE (BOM)
		return true
	}
	return false
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }

func isLineBreak(r rune) bool { return r == '\n' || r == '\r' }
