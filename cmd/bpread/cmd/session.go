package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/bpread/internal/config"
	"github.com/MeKo-Tech/bpread/internal/explore"
	"github.com/MeKo-Tech/bpread/internal/recognizer"
	"github.com/MeKo-Tech/bpread/internal/recognizer/tesseract"
)

// newEngineFactory builds the recognition engine factory. Tests replace it
// with a scripted engine.
var newEngineFactory = func(cfg *config.Config) recognizer.Factory {
	return tesseract.Factory(tesseractOptions(cfg))
}

func tesseractOptions(cfg *config.Config) tesseract.Options {
	opts := tesseract.DefaultOptions()
	if len(cfg.Recognizer.Languages) > 0 {
		opts.Languages = cfg.Recognizer.Languages
	}
	opts.TessdataPrefix = cfg.Recognizer.TessdataPrefix
	maps.Copy(opts.Variables, cfg.Recognizer.Variables)
	return opts
}

// newSession creates an exploration session from the configuration.
func newSession(ctx context.Context, cfg *config.Config) (*explore.Session, error) {
	exploreCfg, err := cfg.ToExploreConfig()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	resolver, err := cfg.NewResolver()
	if err != nil {
		return nil, fmt.Errorf("failed to configure image sources: %w", err)
	}

	sess, err := explore.NewBuilder().
		WithConfig(exploreCfg).
		WithEngineFactory(newEngineFactory(cfg)).
		WithResolver(resolver).
		WithDebug(cfg.DebugOptions()).
		WithChangeDistance(cfg.Explore.ChangeDistance).
		WithLogger(slog.Default()).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	if cfg.Recognizer.Warmup {
		slog.Debug("Warming up recognizer")
		if err := sess.Warmup(ctx); err != nil {
			_ = sess.Close()
			return nil, fmt.Errorf("failed to initialize recognizer: %w", err)
		}
	}
	return sess, nil
}

// commandContext returns the command's context, or a background context
// when the command runs outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// openOutput returns the writer for command results: the file when path is
// set, otherwise fallback.
func openOutput(path string, fallback io.Writer) (io.Writer, func() error, error) {
	if path == "" {
		return fallback, func() error { return nil }, nil
	}
	f, err := os.Create(path) //nolint:gosec // user-selected output path
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, f.Close, nil
}
