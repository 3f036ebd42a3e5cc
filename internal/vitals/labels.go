package vitals

import (
	"strings"
	"unicode"

	"github.com/arbovm/levenshtein"
)

// Labels are the words meters print next to their readings.
var Labels = []string{"SYS", "DIA", "PUL", "PULSE", "MMHG", "BPM"}

// maxLabelDistance tolerates one misread letter.
const maxLabelDistance = 1

// findLabel returns the first word of text that matches a label within
// maxLabelDistance edits, or "".
func findLabel(chars []char) string {
	for _, word := range words(chars) {
		if len([]rune(word)) < 3 {
			continue
		}
		for _, label := range Labels {
			if levenshtein.Distance(word, label) <= maxLabelDistance {
				return label
			}
		}
	}
	return ""
}

// words returns the upper-cased letter runs of chars.
func words(chars []char) []string {
	var (
		out []string
		cur strings.Builder
	)
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}
	for _, c := range chars {
		if unicode.IsLetter(c.r) {
			cur.WriteRune(unicode.ToUpper(c.r))
			continue
		}
		flush()
	}
	flush()
	return out
}
