// Package tesseract implements recognizer.Engine on top of the Tesseract OCR
// library through gosseract.
package tesseract

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/MeKo-Tech/bpread/internal/recognizer"
)

// Options configures the Tesseract client.
type Options struct {
	Languages      []string
	TessdataPrefix string
	// Variables are passed to Tesseract verbatim (SetVariable).
	Variables map[string]string
}

// DefaultOptions disables the dictionaries: meter readings are not words.
func DefaultOptions() Options {
	return Options{
		Languages: []string{"eng"},
		Variables: map[string]string{
			"load_system_dawg": "false",
			"load_freq_dawg":   "false",
		},
	}
}

// Engine is a gosseract-backed recognition engine. It is not safe for
// concurrent use; wrap it in a recognizer.Handle.
type Engine struct {
	client *gosseract.Client
}

// New creates a Tesseract client configured by opts.
func New(opts Options) (*Engine, error) {
	client := gosseract.NewClient()
	if opts.TessdataPrefix != "" {
		client.SetTessdataPrefix(opts.TessdataPrefix)
	}
	if len(opts.Languages) > 0 {
		if err := client.SetLanguage(opts.Languages...); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to set OCR language: %w", err)
		}
	}
	for k, v := range opts.Variables {
		if err := client.SetVariable(gosseract.SettableVariable(k), v); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to set tesseract variable %s: %w", k, err)
		}
	}
	return &Engine{client: client}, nil
}

// Factory returns a recognizer.Factory building engines with opts.
func Factory(opts Options) recognizer.Factory {
	return func() (recognizer.Engine, error) {
		return New(opts)
	}
}

// Recognize reads img with the whitelist and segmentation mode of p.
func (e *Engine) Recognize(ctx context.Context, img image.Image, p recognizer.Params) (recognizer.Result, error) {
	if img == nil {
		return recognizer.Result{}, fmt.Errorf("recognize: nil image")
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return recognizer.Result{}, fmt.Errorf("failed to encode image: %w", err)
	}

	if err := e.client.SetPageSegMode(gosseract.PageSegMode(p.Mode)); err != nil {
		return recognizer.Result{}, fmt.Errorf("failed to set PSM: %w", err)
	}
	if err := e.client.SetWhitelist(p.AllowedChars); err != nil {
		return recognizer.Result{}, fmt.Errorf("failed to set whitelist: %w", err)
	}
	if err := e.client.SetImageFromBytes(buf.Bytes()); err != nil {
		return recognizer.Result{}, fmt.Errorf("failed to set image: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return recognizer.Result{}, err
	}

	text, err := e.client.Text()
	if err != nil {
		return recognizer.Result{}, fmt.Errorf("OCR failed: %w", err)
	}
	boxes, err := e.client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return recognizer.Result{}, fmt.Errorf("failed to get boxes: %w", err)
	}
	return buildResult(text, boxes), nil
}

// buildResult converts gosseract word boxes into a Result. The overall
// confidence is the mean word confidence.
func buildResult(text string, boxes []gosseract.BoundingBox) recognizer.Result {
	res := recognizer.Result{Text: strings.TrimSpace(text)}
	var sum float64
	for _, box := range boxes {
		word := strings.TrimSpace(box.Word)
		if word == "" {
			continue
		}
		res.Spans = append(res.Spans, recognizer.Span{Text: word, Confidence: box.Confidence, Box: box.Box})
		sum += box.Confidence
	}
	if len(res.Spans) > 0 {
		res.Confidence = sum / float64(len(res.Spans))
	}
	return res
}

// Close releases the Tesseract client.
func (e *Engine) Close() error {
	if e.client != nil {
		return e.client.Close()
	}
	return nil
}
