package eval

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// ProgressCallback receives per-sample outcomes while a manifest is evaluated.
type ProgressCallback interface {
	OnStart(total int)
	// OnSample is called after each sample with its outcome; failed samples
	// carry a non-empty Error.
	OnSample(current, total int, sr SampleResult)
	OnComplete()
}

// NoOpProgressCallback discards all progress.
type NoOpProgressCallback struct{}

func (NoOpProgressCallback) OnStart(int)                     {}
func (NoOpProgressCallback) OnSample(int, int, SampleResult) {}
func (NoOpProgressCallback) OnComplete()                     {}

// ConsoleProgressCallback draws a bar with the running pair hit count.
type ConsoleProgressCallback struct {
	mu             sync.Mutex
	writer         io.Writer
	prefix         string
	width          int
	updateInterval time.Duration
	lastUpdate     time.Time
	startTime      time.Time
	pairHits       int
	failures       []string
}

// NewConsoleProgressCallback returns a bar writing to writer (stderr when nil).
func NewConsoleProgressCallback(writer io.Writer, prefix string) *ConsoleProgressCallback {
	if writer == nil {
		writer = os.Stderr
	}
	return &ConsoleProgressCallback{
		writer:         writer,
		prefix:         prefix,
		width:          30,
		updateInterval: 100 * time.Millisecond,
	}
}

// WithWidth sets the bar width in characters.
func (c *ConsoleProgressCallback) WithWidth(width int) *ConsoleProgressCallback {
	c.width = max(1, width)
	return c
}

// WithUpdateInterval sets the minimum time between redraws.
func (c *ConsoleProgressCallback) WithUpdateInterval(interval time.Duration) *ConsoleProgressCallback {
	c.updateInterval = interval
	return c
}

func (c *ConsoleProgressCallback) OnStart(total int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.startTime = time.Now()
	c.lastUpdate = time.Time{}
	c.pairHits = 0
	c.failures = nil
	_, _ = fmt.Fprintf(c.writer, "%s%d samples\n", c.prefix, total)
}

func (c *ConsoleProgressCallback) OnSample(current, total int, sr SampleResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if sr.PairOK {
		c.pairHits++
	}
	if sr.Error != "" {
		c.failures = append(c.failures, fmt.Sprintf("%s: %s", sr.Name, sr.Error))
	}

	now := time.Now()
	if total <= 0 || (now.Sub(c.lastUpdate) < c.updateInterval && current < total) {
		return
	}
	c.lastUpdate = now

	filled := min(c.width, c.width*current/total)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", c.width-filled)
	_, _ = fmt.Fprintf(c.writer, "\r%s[%s] %d/%d pairs ok %d", c.prefix, bar, current, total, c.pairHits)
}

// OnComplete ends the bar and lists the samples that could not be read.
func (c *ConsoleProgressCallback) OnComplete() {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, _ = fmt.Fprintf(c.writer, "\n%sdone in %v\n", c.prefix, time.Since(c.startTime).Round(time.Millisecond))
	for _, f := range c.failures {
		_, _ = fmt.Fprintf(c.writer, "%sfailed %s\n", c.prefix, f)
	}
}

// LogProgressCallback logs every sample outcome through slog.
type LogProgressCallback struct {
	logger *slog.Logger
	level  slog.Level
}

// NewLogProgressCallback returns a slog reporter; a nil logger uses the default.
func NewLogProgressCallback(logger *slog.Logger, level slog.Level) *LogProgressCallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogProgressCallback{logger: logger, level: level}
}

func (l *LogProgressCallback) OnStart(total int) {
	l.logger.Log(context.Background(), l.level, "evaluation started", "samples", total)
}

func (l *LogProgressCallback) OnSample(current, total int, sr SampleResult) {
	if sr.Error != "" {
		l.logger.Warn("sample could not be read", "sample", sr.Name, "current", current, "error", sr.Error)
		return
	}
	l.logger.Log(context.Background(), l.level, "sample evaluated",
		"sample", sr.Name, "current", current, "total", total,
		"expected", sr.Expected, "got", sr.Got, "pair_ok", sr.PairOK)
}

func (l *LogProgressCallback) OnComplete() {
	l.logger.Log(context.Background(), l.level, "evaluation completed")
}

// MultiProgressCallback fans progress out to several callbacks.
type MultiProgressCallback []ProgressCallback

func (m MultiProgressCallback) OnStart(total int) {
	for _, cb := range m {
		cb.OnStart(total)
	}
}

func (m MultiProgressCallback) OnSample(current, total int, sr SampleResult) {
	for _, cb := range m {
		cb.OnSample(current, total, sr)
	}
}

func (m MultiProgressCallback) OnComplete() {
	for _, cb := range m {
		cb.OnComplete()
	}
}
