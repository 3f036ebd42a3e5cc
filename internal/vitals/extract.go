package vitals

import (
	"strconv"
)

// maxGroupDigits bounds a digit group; longer groups are out of range anyway.
const maxGroupDigits = 3

// Confidence is what the engine reported for a text: an overall value and,
// optionally, one value per rune of the text (-1 where unknown).
type Confidence struct {
	Overall float64
	PerChar []float64
}

// Group is a run of digits in the normalized text.
type Group struct {
	Digits string `json:"digits"`
	// Start and End are rune offsets in the normalized text, End exclusive.
	Start int `json:"start"`
	End   int `json:"end"`

	srcs []int
}

// Evidence records the structural cues found while extracting.
type Evidence struct {
	Groups         []Group `json:"groups"`
	SeparatorFound bool    `json:"separator_found"`
	MarkerFound    bool    `json:"marker_found"`
	Label          string  `json:"label,omitempty"`
	Merged         bool    `json:"merged"`
}

// Extract parses text into vitals.
func Extract(text string, conf Confidence) Vitals {
	v, _ := Analyze(text, conf)
	return v
}

// Analyze parses text into vitals and reports the evidence used. Only digits
// and '/' carry meaning; every other rune separates digit groups. With two or
// more groups the first three become systolic, diastolic and pulse. A single
// group assigns nothing unless its length marks it as several readings run
// together (5, 7 or 8 digits).
func Analyze(text string, conf Confidence) (Vitals, Evidence) {
	chars := normalize(text)
	groups := digitGroups(chars)
	ev := Evidence{Groups: groups}
	var v Vitals

	if len(groups) == 1 {
		if split := splitMerged(groups[0]); split != nil {
			groups = split
			ev.Merged = true
			v.warn("split merged digit group %q", ev.Groups[0].Digits)
		} else {
			v.warn("single digit group %q: no field assigned", groups[0].Digits)
			groups = nil
		}
	}
	if len(groups) > 3 {
		v.warn("ignored %d extra digit groups", len(groups)-3)
	}

	var c candidates
	fields := []**int{&c.sys, &c.dia, &c.pulse}
	for i, g := range groups {
		if i >= len(fields) {
			break
		}
		*fields[i] = parseGroup(g)
	}

	if len(groups) >= 2 {
		ev.SeparatorFound = hasSlashBetween(chars, groups[0], groups[1])
	}
	if len(groups) >= 3 && !ev.Merged {
		ev.MarkerFound = hasLineBreakBetween(chars, groups[1], groups[2])
	}
	if label := findLabel(chars); label != "" {
		ev.MarkerFound = true
		ev.Label = label
	}

	c.apply(&v)

	sysConf, diaConf, pulseConf := conf.Overall, conf.Overall, conf.Overall
	if len(groups) > 0 {
		sysConf = groupConfidence(groups[0], conf)
	}
	if len(groups) > 1 {
		diaConf = groupConfidence(groups[1], conf)
	}
	if len(groups) > 2 {
		pulseConf = groupConfidence(groups[2], conf)
	}
	if v.Systolic != nil {
		v.FieldConfidence.Systolic = clampConfidence(sysConf)
	}
	if v.Diastolic != nil {
		v.FieldConfidence.Diastolic = clampConfidence(diaConf)
	}
	if v.Pulse != nil {
		v.FieldConfidence.Pulse = clampConfidence(pulseConf)
	}

	v.finalize()
	return v, ev
}

func digitGroups(chars []char) []Group {
	var groups []Group
	var cur *Group
	for i, c := range chars {
		if isDigit(c.r) {
			if cur == nil {
				groups = append(groups, Group{Start: i})
				cur = &groups[len(groups)-1]
			}
			cur.Digits += string(c.r)
			cur.End = i + 1
			cur.srcs = append(cur.srcs, c.src)
			continue
		}
		cur = nil
	}
	return groups
}

// splitMerged splits a single group that holds several readings without
// separators: 5 digits as 3+2, 7 as 3+2+2 and 8 as 3+2+3.
func splitMerged(g Group) []Group {
	var sizes []int
	switch len(g.Digits) {
	case 5:
		sizes = []int{3, 2}
	case 7:
		sizes = []int{3, 2, 2}
	case 8:
		sizes = []int{3, 2, 3}
	default:
		return nil
	}
	out := make([]Group, 0, len(sizes))
	off := 0
	for _, n := range sizes {
		out = append(out, Group{
			Digits: g.Digits[off : off+n],
			Start:  g.Start + off,
			End:    g.Start + off + n,
			srcs:   g.srcs[off : off+n],
		})
		off += n
	}
	return out
}

func parseGroup(g Group) *int {
	digits := g.Digits
	if len(digits) > maxGroupDigits {
		// Keep the value out of every range without overflowing.
		digits = digits[:maxGroupDigits+1]
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return nil
	}
	return &n
}

func hasSlashBetween(chars []char, a, b Group) bool {
	for _, c := range chars[a.End:b.Start] {
		if c.r == '/' {
			return true
		}
	}
	return false
}

func hasLineBreakBetween(chars []char, a, b Group) bool {
	for _, c := range chars[a.End:b.Start] {
		if isLineBreak(c.r) {
			return true
		}
	}
	return false
}

// groupConfidence averages the known per-character confidences of g and
// falls back to the overall confidence.
func groupConfidence(g Group, conf Confidence) float64 {
	var sum float64
	n := 0
	for _, i := range g.srcs {
		if i < len(conf.PerChar) && conf.PerChar[i] >= 0 {
			sum += conf.PerChar[i]
			n++
		}
	}
	if n == 0 {
		return conf.Overall
	}
	return sum / float64(n)
}

func clampConfidence(c float64) float64 {
	return min(max(c, 0), 100)
}
