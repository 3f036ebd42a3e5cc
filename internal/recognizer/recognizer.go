// Package recognizer defines the boundary to the external text-recognition
// engine and the owned Handle through which the rest of the system reaches it.
package recognizer

import (
	"context"
	"fmt"
	"image"
	"strings"
)

// DigitsAndSlash restricts recognition to the characters a meter display shows.
const DigitsAndSlash = "0123456789/"

// Mode is the page segmentation mode passed to the engine. The values match
// Tesseract's PSM numbering.
type Mode int

const (
	ModeAuto         Mode = 3
	ModeSingleColumn Mode = 4
	ModeSingleBlock  Mode = 6
	ModeSingleLine   Mode = 7
	ModeSparse       Mode = 11
)

func (m Mode) String() string {
	switch m {
	case ModeAuto:
		return "auto"
	case ModeSingleColumn:
		return "single-column"
	case ModeSingleBlock:
		return "single-block"
	case ModeSingleLine:
		return "single-line"
	case ModeSparse:
		return "sparse"
	}
	return fmt.Sprintf("psm-%d", int(m))
}

// ParseMode accepts a mode name or its PSM number.
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, m := range []Mode{ModeAuto, ModeSingleColumn, ModeSingleBlock, ModeSingleLine, ModeSparse} {
		if s == m.String() || s == fmt.Sprint(int(m)) {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown segmentation mode %q", s)
}

// MarshalText encodes the mode by name.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText accepts a mode name or PSM number.
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Params configures one recognition call.
type Params struct {
	AllowedChars string
	Mode         Mode
}

// Span is one recognized word with its confidence (0-100) and location.
type Span struct {
	Text       string          `json:"text"`
	Confidence float64         `json:"confidence"`
	Box        image.Rectangle `json:"box"`
}

// Result is the engine's reading of one raster.
type Result struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Spans      []Span  `json:"spans,omitempty"`
}

// CharConfidences aligns span confidences to the runes of Text. Spans are
// located in order; runes not covered by any span get -1.
func (r Result) CharConfidences() []float64 {
	runes := []rune(r.Text)
	conf := make([]float64, len(runes))
	for i := range conf {
		conf[i] = -1
	}
	if len(r.Spans) == 0 {
		return conf
	}

	cursor := 0
	for _, span := range r.Spans {
		word := []rune(strings.TrimSpace(span.Text))
		if len(word) == 0 {
			continue
		}
		at := indexRunes(runes[cursor:], word)
		if at < 0 {
			continue
		}
		start := cursor + at
		for i := start; i < start+len(word); i++ {
			conf[i] = span.Confidence
		}
		cursor = start + len(word)
	}
	return conf
}

func indexRunes(haystack, needle []rune) int {
outer:
	for i := 0; i+len(needle) <= len(haystack); i++ {
		for j, r := range needle {
			if haystack[i+j] != r {
				continue outer
			}
		}
		return i
	}
	return -1
}

// Engine is an external text-recognition capability. Implementations are
// stateful and not safe for concurrent use; Handle serializes access.
type Engine interface {
	Recognize(ctx context.Context, img image.Image, p Params) (Result, error)
	Close() error
}

// Factory creates an engine on first use.
type Factory func() (Engine, error)
