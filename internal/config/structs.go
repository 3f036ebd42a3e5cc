//nolint:lll
package config

import "time"

// Config represents the complete configuration for bpread. It covers every
// command (read, segment, eval, serve) and is loaded from configuration
// files, environment variables and command-line flags.
type Config struct {
	// Global settings
	LogLevel string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose  bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	Preprocess PreprocessConfig `mapstructure:"preprocess" yaml:"preprocess" json:"preprocess"`
	Explore    ExploreConfig    `mapstructure:"explore" yaml:"explore" json:"explore"`
	Recognizer RecognizerConfig `mapstructure:"recognizer" yaml:"recognizer" json:"recognizer"`
	Segment    SegmentConfig    `mapstructure:"segment" yaml:"segment" json:"segment"`
	Debug      DebugConfig      `mapstructure:"debug" yaml:"debug" json:"debug"`
	Source     SourceConfig     `mapstructure:"source" yaml:"source" json:"source"`
	Server     ServerConfig     `mapstructure:"server" yaml:"server" json:"server"`
	Output     OutputConfig     `mapstructure:"output" yaml:"output" json:"output"`
}

// PreprocessConfig holds settings shared by every preprocessing run.
type PreprocessConfig struct {
	// MarginRatio expands supplied ROIs on every side; negative disables it.
	MarginRatio float64 `mapstructure:"margin_ratio" yaml:"margin_ratio" json:"margin_ratio"`
}

// ExploreConfig holds the exploration budget and scoring settings.
type ExploreConfig struct {
	// Order lists steps as "resolution/preset/mode"; empty uses the built-in order.
	Order           []string      `mapstructure:"order" yaml:"order" json:"order"`
	EarlyAccept     float64       `mapstructure:"early_accept" yaml:"early_accept" json:"early_accept"`
	MaxAttempts     int           `mapstructure:"max_attempts" yaml:"max_attempts" json:"max_attempts"`
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
	LogCap          int           `mapstructure:"log_cap" yaml:"log_cap" json:"log_cap"`
	OCRWeight       float64       `mapstructure:"ocr_weight" yaml:"ocr_weight" json:"ocr_weight"`
	ExtractWeight   float64       `mapstructure:"extract_weight" yaml:"extract_weight" json:"extract_weight"`
	SegmentFallback bool          `mapstructure:"segment_fallback" yaml:"segment_fallback" json:"segment_fallback"`
	// ChangeDistance is the perceptual-hash distance at which a new frame
	// invalidates in-flight recognitions.
	ChangeDistance int `mapstructure:"change_distance" yaml:"change_distance" json:"change_distance"`
}

// RecognizerConfig selects and configures the text-recognition engine.
type RecognizerConfig struct {
	Languages      []string          `mapstructure:"languages" yaml:"languages" json:"languages"`
	TessdataPrefix string            `mapstructure:"tessdata_prefix" yaml:"tessdata_prefix" json:"tessdata_prefix"`
	Variables      map[string]string `mapstructure:"variables" yaml:"variables" json:"variables"`
	// Warmup creates the engine at startup instead of on first use.
	Warmup bool `mapstructure:"warmup" yaml:"warmup" json:"warmup"`
}

// SegmentConfig describes the seven-segment display layout.
type SegmentConfig struct {
	Digits   []int `mapstructure:"digits" yaml:"digits" json:"digits"`
	Flexible bool  `mapstructure:"flexible" yaml:"flexible" json:"flexible"`
	Invert   bool  `mapstructure:"invert" yaml:"invert" json:"invert"`
}

// DebugConfig bounds the attempt recorder and configures the Redis export.
type DebugConfig struct {
	MaxRecords int         `mapstructure:"max_records" yaml:"max_records" json:"max_records"`
	MaxRasters int         `mapstructure:"max_rasters" yaml:"max_rasters" json:"max_rasters"`
	Redis      RedisConfig `mapstructure:"redis" yaml:"redis" json:"redis"`
}

// RedisConfig configures the Redis sink for debug records.
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Addr     string        `mapstructure:"addr" yaml:"addr" json:"addr"`
	Password string        `mapstructure:"password" yaml:"password" json:"-"`
	DB       int           `mapstructure:"db" yaml:"db" json:"db"`
	Key      string        `mapstructure:"key" yaml:"key" json:"key"`
	MaxLen   int64         `mapstructure:"max_len" yaml:"max_len" json:"max_len"`
	TTL      time.Duration `mapstructure:"ttl" yaml:"ttl" json:"ttl"`
}

// SourceConfig controls which image references may be resolved.
type SourceConfig struct {
	AllowFiles  bool          `mapstructure:"allow_files" yaml:"allow_files" json:"allow_files"`
	AllowHTTP   bool          `mapstructure:"allow_http" yaml:"allow_http" json:"allow_http"`
	MaxMB       int           `mapstructure:"max_mb" yaml:"max_mb" json:"max_mb"`
	HTTPTimeout time.Duration `mapstructure:"http_timeout" yaml:"http_timeout" json:"http_timeout"`
	HTTPRetries int           `mapstructure:"http_retries" yaml:"http_retries" json:"http_retries"`
	Blob        BlobConfig    `mapstructure:"blob" yaml:"blob" json:"blob"`
}

// BlobConfig configures azblob:// references. Leaving both the account and
// the service URL empty disables blob references.
type BlobConfig struct {
	AccountName string `mapstructure:"account_name" yaml:"account_name" json:"account_name"`
	AccountKey  string `mapstructure:"account_key" yaml:"account_key" json:"-"`
	ServiceURL  string `mapstructure:"service_url" yaml:"service_url" json:"service_url"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string          `mapstructure:"host" yaml:"host" json:"host"`
	Port            int             `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string          `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int             `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec      int             `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int             `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
	TLSCert         string          `mapstructure:"tls_cert" yaml:"tls_cert" json:"tls_cert"`
	TLSKey          string          `mapstructure:"tls_key" yaml:"tls_key" json:"tls_key"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit" json:"rate_limit"`
}

// RateLimitConfig bounds requests per client IP. Zero disables a limit.
type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute" yaml:"requests_per_minute" json:"requests_per_minute"`
	RequestsPerHour   int  `mapstructure:"requests_per_hour" yaml:"requests_per_hour" json:"requests_per_hour"`
	MaxRequestsPerDay int  `mapstructure:"max_requests_per_day" yaml:"max_requests_per_day" json:"max_requests_per_day"`
	MaxDataPerDayMB   int  `mapstructure:"max_data_per_day_mb" yaml:"max_data_per_day_mb" json:"max_data_per_day_mb"`
}

// OutputConfig contains output formatting settings.
type OutputConfig struct {
	Format   string `mapstructure:"format" yaml:"format" json:"format"`
	File     string `mapstructure:"file" yaml:"file" json:"file"`
	DebugOut string `mapstructure:"debug_out" yaml:"debug_out" json:"debug_out"`
}
