package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/MeKo-Tech/bpread/internal/debuglog"
	"github.com/MeKo-Tech/bpread/internal/explore"
	"github.com/MeKo-Tech/bpread/internal/segment"
	"github.com/MeKo-Tech/bpread/internal/source"
)

const megabyte = 1 << 20

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	exp := explore.DefaultConfig()
	return Config{
		LogLevel: "info",
		Verbose:  false,
		Preprocess: PreprocessConfig{
			MarginRatio: 0,
		},
		Explore: ExploreConfig{
			EarlyAccept:     exp.EarlyAccept,
			MaxAttempts:     exp.MaxAttempts,
			Timeout:         exp.Timeout,
			LogCap:          exp.LogCap,
			OCRWeight:       exp.Weights.OCR,
			ExtractWeight:   exp.Weights.Extract,
			SegmentFallback: exp.SegmentFallback,
			ChangeDistance:  explore.DefaultChangeDistance,
		},
		Recognizer: RecognizerConfig{
			Languages: []string{"eng"},
		},
		Segment: SegmentConfig{
			Digits:   exp.SegmentLayout.Counts[:],
			Flexible: exp.SegmentLayout.Flexible,
		},
		Debug: DebugConfig{
			MaxRecords: debuglog.DefaultMaxRecords,
			MaxRasters: debuglog.DefaultMaxRasters,
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Key:    debuglog.DefaultRedisKey,
				MaxLen: 1000,
				TTL:    24 * time.Hour,
			},
		},
		Source: SourceConfig{
			AllowFiles:  true,
			AllowHTTP:   true,
			MaxMB:       20,
			HTTPTimeout: 15 * time.Second,
			HTTPRetries: 2,
		},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			CORSOrigin:      "*",
			MaxUploadMB:     20,
			TimeoutSec:      30,
			ShutdownTimeout: 10,
			RateLimit: RateLimitConfig{
				RequestsPerMinute: 60,
				RequestsPerHour:   1000,
			},
		},
		Output: OutputConfig{
			Format: "text",
		},
	}
}

// Validate validates the configuration and returns the first problem found.
func (c *Config) Validate() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	validFormats := []string{"text", "json", "csv"}
	if c.Output.Format != "" && !slices.Contains(validFormats, c.Output.Format) {
		return fmt.Errorf("invalid output format: %s (must be one of: %s)", c.Output.Format, strings.Join(validFormats, ", "))
	}

	if c.Preprocess.MarginRatio > 0.5 {
		return fmt.Errorf("invalid preprocess.margin_ratio: %.2f (must be at most 0.5)", c.Preprocess.MarginRatio)
	}

	if _, err := c.ToExploreConfig(); err != nil {
		return err
	}
	if c.Explore.ChangeDistance < 0 {
		return fmt.Errorf("invalid explore.change_distance: %d (must not be negative)", c.Explore.ChangeDistance)
	}

	if len(c.Recognizer.Languages) == 0 {
		return errors.New("recognizer.languages must name at least one language")
	}

	if c.Debug.MaxRecords < 0 || c.Debug.MaxRasters < 0 {
		return errors.New("debug.max_records and debug.max_rasters must not be negative")
	}
	if c.Debug.Redis.Enabled && c.Debug.Redis.Addr == "" {
		return errors.New("debug.redis.addr is required when redis export is enabled")
	}

	if c.Source.MaxMB <= 0 {
		return fmt.Errorf("invalid source.max_mb: %d (must be positive)", c.Source.MaxMB)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d (must be positive)", c.Server.MaxUploadMB)
	}
	if c.Server.TimeoutSec <= 0 {
		return fmt.Errorf("invalid timeout: %d (must be positive)", c.Server.TimeoutSec)
	}
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		return errors.New("server.tls_cert and server.tls_key must be set together")
	}

	return nil
}

// SegmentLayout converts the segment section.
func (c *Config) SegmentLayout() (segment.Layout, error) {
	layout := segment.Layout{Flexible: c.Segment.Flexible, Invert: c.Segment.Invert}
	if len(c.Segment.Digits) != 3 {
		return layout, fmt.Errorf("segment.digits needs 3 entries, got %d", len(c.Segment.Digits))
	}
	for i, n := range c.Segment.Digits {
		if n < 1 || n > 4 {
			return layout, fmt.Errorf("invalid segment.digits[%d]: %d (must be between 1 and 4)", i, n)
		}
		layout.Counts[i] = n
	}
	return layout, nil
}

// ToExploreConfig converts the explore, preprocess and segment sections.
func (c *Config) ToExploreConfig() (explore.Config, error) {
	order, err := explore.ParseOrder(c.Explore.Order)
	if err != nil {
		return explore.Config{}, fmt.Errorf("explore.order: %w", err)
	}
	layout, err := c.SegmentLayout()
	if err != nil {
		return explore.Config{}, err
	}
	cfg := explore.Config{
		Order:           order,
		EarlyAccept:     c.Explore.EarlyAccept,
		MaxAttempts:     c.Explore.MaxAttempts,
		Timeout:         c.Explore.Timeout,
		LogCap:          c.Explore.LogCap,
		Weights:         explore.Weights{OCR: c.Explore.OCRWeight, Extract: c.Explore.ExtractWeight},
		SegmentFallback: c.Explore.SegmentFallback,
		SegmentLayout:   layout,
		MarginRatio:     c.Preprocess.MarginRatio,
	}
	if err := cfg.Validate(); err != nil {
		return explore.Config{}, fmt.Errorf("explore: %w", err)
	}
	return cfg, nil
}

// DebugOptions converts the debug section for an exploration session. The
// sink is nil unless Redis export is enabled.
func (c *Config) DebugOptions() explore.DebugConfig {
	d := explore.DebugConfig{MaxRecords: c.Debug.MaxRecords, MaxRasters: c.Debug.MaxRasters}
	if c.Debug.Redis.Enabled {
		d.Sink = debuglog.NewRedisSink(c.RedisOptions())
	}
	return d
}

// RedisOptions converts the debug.redis section.
func (c *Config) RedisOptions() debuglog.RedisOptions {
	r := c.Debug.Redis
	return debuglog.RedisOptions{
		Addr:     r.Addr,
		Password: r.Password,
		DB:       r.DB,
		Key:      r.Key,
		MaxLen:   r.MaxLen,
		TTL:      r.TTL,
	}
}

// NewResolver builds the image source resolver described by the source
// section. Blob references are only enabled when an account or service URL
// is configured.
func (c *Config) NewResolver() (*source.Resolver, error) {
	maxBytes := int64(c.Source.MaxMB) * megabyte
	r := &source.Resolver{AllowFiles: c.Source.AllowFiles, MaxBytes: maxBytes}
	if c.Source.AllowHTTP {
		r.HTTP = source.NewHTTPFetcher(source.HTTPOptions{
			Timeout:  c.Source.HTTPTimeout,
			MaxBytes: maxBytes,
			Retries:  c.Source.HTTPRetries,
			Backoff:  500 * time.Millisecond,
		})
	}
	if b := c.Source.Blob; b.AccountName != "" || b.ServiceURL != "" {
		blob, err := source.NewBlobFetcher(source.BlobOptions{
			AccountName: b.AccountName,
			AccountKey:  b.AccountKey,
			ServiceURL:  b.ServiceURL,
			MaxBytes:    maxBytes,
		})
		if err != nil {
			return nil, err
		}
		r.Blob = blob
	}
	return r, nil
}
