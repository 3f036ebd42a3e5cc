package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MeKo-Tech/bpread/internal/common"
	"github.com/MeKo-Tech/bpread/internal/explore"
	"github.com/MeKo-Tech/bpread/internal/preprocess"
	"github.com/MeKo-Tech/bpread/internal/segment"
	"github.com/MeKo-Tech/bpread/internal/source"
	"github.com/MeKo-Tech/bpread/internal/vitals"
)

// Reader defines the recognition surface the server needs from a session.
type Reader interface {
	Recognize(ctx context.Context, src source.Source, opts explore.Options) (*explore.Result, error)
	Generation() *explore.Generation
}

// Server holds the HTTP server state and dependencies.
type Server struct {
	reader      Reader
	layout      segment.Layout
	order       []explore.Step
	rateLimiter *RateLimiter
	corsOrigin  string
	maxUploadMB int64
	timeoutSec  int
	allowRefs   bool
	version     string
	clock       common.Clock
}

// Config holds server configuration.
type Config struct {
	Host        string
	Port        int
	CORSOrigin  string
	MaxUploadMB int64
	TimeoutSec  int
	// AllowRefs lets JSON requests name an image by URL or blob reference
	// instead of uploading it.
	AllowRefs bool
	Segment   segment.Layout
	// Order is reported by /presets; empty means the default order.
	Order     []explore.Step
	RateLimit RateLimitConfig
	Version   string
}

// RateLimitConfig holds per-client request limits. Zero disables a limit.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int
	RequestsPerHour   int
	MaxRequestsPerDay int
	MaxDataPerDay     int64
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status     string `json:"status"`
	Version    string `json:"version,omitempty"`
	Time       string `json:"time"`
	Generation uint64 `json:"generation"`
}

// PresetInfo describes one preprocessing preset.
type PresetInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// PresetsResponse is returned by /presets.
type PresetsResponse struct {
	Presets []PresetInfo `json:"presets"`
	Order   []string     `json:"order"`
	Count   int          `json:"count"`
}

// ReadRequest is the JSON body accepted by /read.
type ReadRequest struct {
	URL   string           `json:"url"`
	ROI   *preprocess.ROI  `json:"roi,omitempty"`
	ROIs  []preprocess.ROI `json:"rois,omitempty"`
	Debug bool             `json:"debug,omitempty"`
}

// rois merges the single and list forms.
func (r ReadRequest) rois() []preprocess.ROI {
	var out []preprocess.ROI
	if r.ROI != nil {
		out = append(out, *r.ROI)
	}
	return append(out, r.ROIs...)
}

// ReadResponse is returned by /read.
type ReadResponse struct {
	Success bool            `json:"success"`
	Reading *vitals.Vitals  `json:"reading,omitempty"`
	Summary string          `json:"summary,omitempty"`
	Result  *explore.Result `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// SegmentResponse is returned by /segment.
type SegmentResponse struct {
	Success bool             `json:"success"`
	Text    string           `json:"text,omitempty"`
	Reading *segment.Reading `json:"reading,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// NewServer creates a server around reader.
func NewServer(reader Reader, config Config) (*Server, error) {
	if reader == nil {
		return nil, errors.New("server needs a reader")
	}
	if config.MaxUploadMB <= 0 {
		config.MaxUploadMB = 20
	}
	if config.TimeoutSec <= 0 {
		config.TimeoutSec = 30
	}
	if config.Segment.Counts == [3]int{} {
		config.Segment = segment.DefaultLayout()
	}
	order := config.Order
	if len(order) == 0 {
		order = explore.DefaultOrder()
	}

	s := &Server{
		reader:      reader,
		layout:      config.Segment,
		order:       order,
		corsOrigin:  config.CORSOrigin,
		maxUploadMB: config.MaxUploadMB,
		timeoutSec:  config.TimeoutSec,
		allowRefs:   config.AllowRefs,
		version:     config.Version,
		clock:       common.SystemClock{},
	}
	if config.RateLimit.Enabled {
		rl := config.RateLimit
		s.rateLimiter = NewRateLimiter(rl.RequestsPerMinute, rl.RequestsPerHour, rl.MaxRequestsPerDay, rl.MaxDataPerDay)
	}
	return s, nil
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.corsMiddleware(s.healthHandler))
	mux.HandleFunc("/presets", s.corsMiddleware(s.presetsHandler))
	mux.HandleFunc("/read", s.corsMiddleware(s.rateLimitMiddleware(s.readHandler)))
	mux.HandleFunc("/segment", s.corsMiddleware(s.rateLimitMiddleware(s.segmentHandler)))
	mux.HandleFunc("/ws", s.rateLimitMiddleware(s.readWebSocketHandler))
	mux.Handle("/metrics", promhttp.Handler())
}
