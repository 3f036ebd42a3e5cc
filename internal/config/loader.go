package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	// ConfigFileName is the base name for configuration files (without extension).
	ConfigFileName = "bpread"

	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "BPREAD"

	// DotEnvFile is read from the working directory before the environment
	// is consulted. Variables already set take precedence.
	DotEnvFile = ".env"
)

// Loader handles loading configuration from various sources.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a loader on the global viper instance so that flags
// bound by the root command are honoured.
func NewLoader() *Loader {
	return &Loader{v: viper.GetViper()}
}

// NewLoaderWithViper creates a loader on a caller-owned viper instance.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	if v == nil {
		v = viper.New()
	}
	return &Loader{v: v}
}

// Load loads configuration from the search paths, .env, the environment and
// defaults, then validates it.
func (l *Loader) Load() (*Config, error) {
	cfg, err := l.LoadWithoutValidation()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadWithoutValidation is Load without the final Validate call.
func (l *Loader) LoadWithoutValidation() (*Config, error) {
	l.v.SetConfigName(ConfigFileName)
	l.v.SetConfigType("yaml")
	l.addConfigPaths()

	if err := l.prepare(); err != nil {
		return nil, err
	}

	if err := l.v.ReadInConfig(); err != nil {
		// A missing config file is fine: defaults and env vars apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return l.unmarshal()
}

// LoadWithFile loads configuration from a specific file path. An empty path
// falls back to Load.
func (l *Loader) LoadWithFile(configFile string) (*Config, error) {
	cfg, err := l.LoadWithFileWithoutValidation(configFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadWithFileWithoutValidation is LoadWithFile without validation.
func (l *Loader) LoadWithFileWithoutValidation(configFile string) (*Config, error) {
	if configFile == "" {
		return l.LoadWithoutValidation()
	}
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", configFile)
	}

	l.v.SetConfigFile(configFile)
	if err := l.prepare(); err != nil {
		return nil, err
	}
	if err := l.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}
	return l.unmarshal()
}

func (l *Loader) prepare() error {
	if err := loadDotEnv(DotEnvFile); err != nil {
		return err
	}
	l.setupEnvironmentVariables()
	l.setDefaults()
	return nil
}

func (l *Loader) unmarshal() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return &cfg, nil
}

// loadDotEnv reads path into the process environment. A missing file is
// not an error.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("error reading %s: %w", path, err)
	}
	return nil
}

// Get returns a value from the configuration.
func (l *Loader) Get(key string) any {
	return l.v.Get(key)
}

// GetString returns a string value from the configuration.
func (l *Loader) GetString(key string) string {
	return l.v.GetString(key)
}

// Set sets a value in the configuration.
func (l *Loader) Set(key string, value any) {
	l.v.Set(key, value)
}

// GetConfigFileUsed returns the path of the config file used.
func (l *Loader) GetConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// GetViper returns the underlying viper instance.
func (l *Loader) GetViper() *viper.Viper {
	return l.v
}

func (l *Loader) addConfigPaths() {
	for _, p := range GetConfigSearchPaths() {
		l.v.AddConfigPath(p)
	}
}

func (l *Loader) setupEnvironmentVariables() {
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.AutomaticEnv()
	// BPREAD_EXPLORE_MAX_ATTEMPTS maps to explore.max_attempts.
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

// setDefaults registers every key so that AutomaticEnv can override it.
func (l *Loader) setDefaults() {
	d := DefaultConfig()

	l.v.SetDefault("log_level", d.LogLevel)
	l.v.SetDefault("verbose", d.Verbose)

	l.v.SetDefault("preprocess.margin_ratio", d.Preprocess.MarginRatio)

	l.v.SetDefault("explore.order", d.Explore.Order)
	l.v.SetDefault("explore.early_accept", d.Explore.EarlyAccept)
	l.v.SetDefault("explore.max_attempts", d.Explore.MaxAttempts)
	l.v.SetDefault("explore.timeout", d.Explore.Timeout)
	l.v.SetDefault("explore.log_cap", d.Explore.LogCap)
	l.v.SetDefault("explore.ocr_weight", d.Explore.OCRWeight)
	l.v.SetDefault("explore.extract_weight", d.Explore.ExtractWeight)
	l.v.SetDefault("explore.segment_fallback", d.Explore.SegmentFallback)
	l.v.SetDefault("explore.change_distance", d.Explore.ChangeDistance)

	l.v.SetDefault("recognizer.languages", d.Recognizer.Languages)
	l.v.SetDefault("recognizer.tessdata_prefix", d.Recognizer.TessdataPrefix)
	l.v.SetDefault("recognizer.warmup", d.Recognizer.Warmup)

	l.v.SetDefault("segment.digits", d.Segment.Digits)
	l.v.SetDefault("segment.flexible", d.Segment.Flexible)
	l.v.SetDefault("segment.invert", d.Segment.Invert)

	l.v.SetDefault("debug.max_records", d.Debug.MaxRecords)
	l.v.SetDefault("debug.max_rasters", d.Debug.MaxRasters)
	l.v.SetDefault("debug.redis.enabled", d.Debug.Redis.Enabled)
	l.v.SetDefault("debug.redis.addr", d.Debug.Redis.Addr)
	l.v.SetDefault("debug.redis.password", d.Debug.Redis.Password)
	l.v.SetDefault("debug.redis.db", d.Debug.Redis.DB)
	l.v.SetDefault("debug.redis.key", d.Debug.Redis.Key)
	l.v.SetDefault("debug.redis.max_len", d.Debug.Redis.MaxLen)
	l.v.SetDefault("debug.redis.ttl", d.Debug.Redis.TTL)

	l.v.SetDefault("source.allow_files", d.Source.AllowFiles)
	l.v.SetDefault("source.allow_http", d.Source.AllowHTTP)
	l.v.SetDefault("source.max_mb", d.Source.MaxMB)
	l.v.SetDefault("source.http_timeout", d.Source.HTTPTimeout)
	l.v.SetDefault("source.http_retries", d.Source.HTTPRetries)
	l.v.SetDefault("source.blob.account_name", d.Source.Blob.AccountName)
	l.v.SetDefault("source.blob.account_key", d.Source.Blob.AccountKey)
	l.v.SetDefault("source.blob.service_url", d.Source.Blob.ServiceURL)

	l.v.SetDefault("server.host", d.Server.Host)
	l.v.SetDefault("server.port", d.Server.Port)
	l.v.SetDefault("server.cors_origin", d.Server.CORSOrigin)
	l.v.SetDefault("server.max_upload_mb", d.Server.MaxUploadMB)
	l.v.SetDefault("server.timeout_sec", d.Server.TimeoutSec)
	l.v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	l.v.SetDefault("server.tls_cert", d.Server.TLSCert)
	l.v.SetDefault("server.tls_key", d.Server.TLSKey)
	l.v.SetDefault("server.rate_limit.enabled", d.Server.RateLimit.Enabled)
	l.v.SetDefault("server.rate_limit.requests_per_minute", d.Server.RateLimit.RequestsPerMinute)
	l.v.SetDefault("server.rate_limit.requests_per_hour", d.Server.RateLimit.RequestsPerHour)
	l.v.SetDefault("server.rate_limit.max_requests_per_day", d.Server.RateLimit.MaxRequestsPerDay)
	l.v.SetDefault("server.rate_limit.max_data_per_day_mb", d.Server.RateLimit.MaxDataPerDayMB)

	l.v.SetDefault("output.format", d.Output.Format)
	l.v.SetDefault("output.file", d.Output.File)
	l.v.SetDefault("output.debug_out", d.Output.DebugOut)
}

// GetResolvedConfig returns the current resolved configuration for debugging.
func (l *Loader) GetResolvedConfig() map[string]any {
	return l.v.AllSettings()
}

// WriteConfigToFile writes the current configuration to a file.
func (l *Loader) WriteConfigToFile(filename string) error {
	return l.v.WriteConfigAs(filename)
}

// GenerateDefaultConfigFile writes the defaults to filename (bpread.yaml
// when empty).
func GenerateDefaultConfigFile(filename string) error {
	loader := NewLoaderWithViper(viper.New())
	loader.setDefaults()
	if filename == "" {
		filename = ConfigFileName + ".yaml"
	}
	return loader.WriteConfigToFile(filename)
}

// GetConfigSearchPaths returns the paths where configuration files are searched.
func GetConfigSearchPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, home)
	}
	if configDir, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		paths = append(paths, filepath.Join(configDir, "bpread"))
	} else if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "bpread"))
	}
	return append(paths, "/etc/bpread")
}

// PrintConfigInfo prints information about configuration loading.
func (l *Loader) PrintConfigInfo() {
	fmt.Printf("Configuration file used: %s\n", l.GetConfigFileUsed())
	fmt.Printf("Configuration search paths: %v\n", GetConfigSearchPaths())
	fmt.Printf("Environment prefix: %s\n", EnvPrefix)
}
