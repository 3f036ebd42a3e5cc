package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/bpread/internal/config"
	"github.com/MeKo-Tech/bpread/internal/explore"
	"github.com/MeKo-Tech/bpread/internal/server"
	"github.com/MeKo-Tech/bpread/internal/version"
)

const megabyte = 1 << 20

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server for the reading API",
	Long: `Start an HTTP server that exposes the reader over REST and WebSocket.

The server provides the following endpoints:
  POST /read     - Read an uploaded image (multipart field "image")
  POST /segment  - Decode a cropped display with the segment decoder
  GET  /presets  - List preprocessing presets and the exploration order
  GET  /health   - Health check endpoint
  GET  /metrics  - Prometheus metrics
  GET  /ws       - WebSocket for live camera frames and streamed attempts

Examples:
  bpread serve
  bpread serve --port 8080
  bpread serve --host 0.0.0.0 --port 3000 --rate-limit-enabled`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()

		serverConfig, merged, err := buildServerConfig(cmd, cfg)
		if err != nil {
			return err
		}
		restrictServerSources(cmd, cfg)
		tlsCert, tlsKey := merged.TLSCert, merged.TLSKey
		shutdownTimeout := time.Duration(merged.ShutdownTimeout) * time.Second
		if shutdownTimeout <= 0 {
			shutdownTimeout = 10 * time.Second
		}
		if (tlsCert == "") != (tlsKey == "") {
			return errors.New("both server.tls_cert and server.tls_key are required for TLS")
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sess, err := newSession(ctx, cfg)
		if err != nil {
			return err
		}

		readServer, err := server.NewServer(sess, serverConfig)
		if err != nil {
			_ = sess.Close()
			return fmt.Errorf("failed to initialize server: %w", err)
		}

		mux := http.NewServeMux()
		readServer.SetupRoutes(mux)

		timeout := time.Duration(serverConfig.TimeoutSec) * time.Second
		httpServer := &http.Server{
			Addr:              serverConfig.Addr(),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       timeout,
			WriteTimeout:      timeout + 5*time.Second,
		}

		go func() {
			slog.Info("Starting bpread server", "host", serverConfig.Host, "port", serverConfig.Port,
				"tls", tlsCert != "", "version", serverConfig.Version)
			var err error
			if tlsCert != "" {
				err = httpServer.ListenAndServeTLS(tlsCert, tlsKey)
			} else {
				err = httpServer.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Server error", "error", err)
				cancel()
			}
		}()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
		defer signal.Stop(sigChan)

		select {
		case sig := <-sigChan:
			slog.Info("Received shutdown signal", "signal", sig.String())
		case <-ctx.Done():
			slog.Info("Context cancelled, initiating shutdown")
		}

		slog.Info("Starting graceful shutdown", "timeout", shutdownTimeout.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()

		slog.Info("Shutting down HTTP server")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		} else {
			slog.Info("HTTP server shutdown completed")
		}

		slog.Info("Closing recognizer")
		if err := sess.Close(); err != nil {
			slog.Error("Recognizer cleanup error", "error", err)
		}

		slog.Info("Graceful shutdown completed")
		return nil
	},
}

// buildServerConfig merges the server section with command-line overrides
// and returns the server settings along with the merged section.
func buildServerConfig(cmd *cobra.Command, cfg *config.Config) (server.Config, config.ServerConfig, error) {
	sc := cfg.Server
	flags := cmd.Flags()

	if flags.Changed("host") {
		sc.Host, _ = flags.GetString("host")
	}
	if flags.Changed("port") {
		sc.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("cors-origin") {
		sc.CORSOrigin, _ = flags.GetString("cors-origin")
	}
	if flags.Changed("max-upload-size") {
		sc.MaxUploadMB, _ = flags.GetInt("max-upload-size")
	}
	if flags.Changed("timeout") {
		sc.TimeoutSec, _ = flags.GetInt("timeout")
	}
	if flags.Changed("shutdown-timeout") {
		sc.ShutdownTimeout, _ = flags.GetInt("shutdown-timeout")
	}
	if flags.Changed("tls-cert") {
		sc.TLSCert, _ = flags.GetString("tls-cert")
	}
	if flags.Changed("tls-key") {
		sc.TLSKey, _ = flags.GetString("tls-key")
	}
	if flags.Changed("rate-limit-enabled") {
		sc.RateLimit.Enabled, _ = flags.GetBool("rate-limit-enabled")
	}
	if flags.Changed("requests-per-minute") {
		sc.RateLimit.RequestsPerMinute, _ = flags.GetInt("requests-per-minute")
	}
	if flags.Changed("requests-per-hour") {
		sc.RateLimit.RequestsPerHour, _ = flags.GetInt("requests-per-hour")
	}
	if flags.Changed("max-requests-per-day") {
		sc.RateLimit.MaxRequestsPerDay, _ = flags.GetInt("max-requests-per-day")
	}
	if flags.Changed("max-data-per-day") {
		sc.RateLimit.MaxDataPerDayMB, _ = flags.GetInt("max-data-per-day")
	}
	allowRefs, _ := flags.GetBool("allow-refs")

	if sc.Port < 1 || sc.Port > 65535 {
		return server.Config{}, sc, fmt.Errorf("invalid port number: %d (must be between 1 and 65535)", sc.Port)
	}
	layout, err := cfg.SegmentLayout()
	if err != nil {
		return server.Config{}, sc, err
	}
	order, err := explore.ParseOrder(cfg.Explore.Order)
	if err != nil {
		return server.Config{}, sc, fmt.Errorf("explore.order: %w", err)
	}

	return server.Config{
		Host:        sc.Host,
		Port:        sc.Port,
		CORSOrigin:  sc.CORSOrigin,
		MaxUploadMB: int64(sc.MaxUploadMB),
		TimeoutSec:  sc.TimeoutSec,
		AllowRefs:   allowRefs,
		Segment:     layout,
		Order:       order,
		RateLimit: server.RateLimitConfig{
			Enabled:           sc.RateLimit.Enabled,
			RequestsPerMinute: sc.RateLimit.RequestsPerMinute,
			RequestsPerHour:   sc.RateLimit.RequestsPerHour,
			MaxRequestsPerDay: sc.RateLimit.MaxRequestsPerDay,
			MaxDataPerDay:     int64(sc.RateLimit.MaxDataPerDayMB) * megabyte,
		},
		Version: version.Version,
	}, sc, nil
}

// restrictServerSources keeps remote clients away from the server's own
// filesystem: plain paths and file:// references resolve only with
// --allow-file-refs.
func restrictServerSources(cmd *cobra.Command, cfg *config.Config) {
	allowFiles, _ := cmd.Flags().GetBool("allow-file-refs")
	if !allowFiles && cfg.Source.AllowFiles {
		slog.Debug("Local file references disabled for the server")
	}
	cfg.Source.AllowFiles = allowFiles
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("host", "H", "localhost", "server host")
	serveCmd.Flags().IntP("port", "p", 8080, "server port")
	serveCmd.Flags().String("cors-origin", "*", "CORS allowed origins")
	serveCmd.Flags().Int("max-upload-size", 20, "maximum upload size in MB")
	serveCmd.Flags().Int("timeout", 30, "request timeout in seconds")
	serveCmd.Flags().Int("shutdown-timeout", 10, "shutdown timeout in seconds")
	serveCmd.Flags().String("tls-cert", "", "TLS certificate file")
	serveCmd.Flags().String("tls-key", "", "TLS private key file")
	serveCmd.Flags().Bool("allow-refs", false, "let JSON requests read images by URL or azblob reference")
	serveCmd.Flags().Bool("allow-file-refs", false, "also let references name files on the server (needs --allow-refs)")
	// Rate limiting flags
	serveCmd.Flags().Bool("rate-limit-enabled", false, "enable rate limiting")
	serveCmd.Flags().Int("requests-per-minute", 60, "maximum requests per minute per client")
	serveCmd.Flags().Int("requests-per-hour", 1000, "maximum requests per hour per client")
	serveCmd.Flags().Int("max-requests-per-day", 0, "maximum requests per day per client (0 = unlimited)")
	serveCmd.Flags().Int("max-data-per-day", 0, "maximum upload volume per day per client in MB (0 = unlimited)")
}
