package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate runs the test in an empty directory with a fresh viper instance.
func isolate(t *testing.T) (*Loader, string) {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	return NewLoaderWithViper(viper.New()), dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestNewLoader(t *testing.T) {
	assert.Same(t, viper.GetViper(), NewLoader().GetViper())
	assert.NotNil(t, NewLoaderWithViper(nil).GetViper())
}

func TestLoadDefaults(t *testing.T) {
	loader, _ := isolate(t)

	cfg, err := loader.Load()
	require.NoError(t, err)
	d := DefaultConfig()
	assert.Empty(t, cfg.Explore.Order)
	assert.Equal(t, d.Explore.MaxAttempts, cfg.Explore.MaxAttempts)
	assert.Equal(t, d.Explore.Timeout, cfg.Explore.Timeout)
	assert.InDelta(t, d.Explore.EarlyAccept, cfg.Explore.EarlyAccept, 1e-9)
	assert.True(t, cfg.Explore.SegmentFallback)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []int{3, 2, 2}, cfg.Segment.Digits)
	assert.Empty(t, loader.GetConfigFileUsed())
}

func TestLoadFromSearchPath(t *testing.T) {
	loader, dir := isolate(t)
	writeFile(t, filepath.Join(dir, "bpread.yaml"), `
log_level: debug
explore:
  max_attempts: 6
  timeout: 4s
  order: ["960/A/psm6", "640/K/psm6"]
segment:
  digits: [3, 3, 2]
server:
  port: 9191
`)

	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 6, cfg.Explore.MaxAttempts)
	assert.Equal(t, 4*time.Second, cfg.Explore.Timeout)
	assert.Equal(t, []string{"960/A/psm6", "640/K/psm6"}, cfg.Explore.Order)
	assert.Equal(t, []int{3, 3, 2}, cfg.Segment.Digits)
	assert.Equal(t, 9191, cfg.Server.Port)
	// Untouched keys keep their defaults.
	assert.Equal(t, DefaultConfig().Explore.EarlyAccept, cfg.Explore.EarlyAccept)
	assert.Contains(t, loader.GetConfigFileUsed(), "bpread.yaml")
}

func TestLoadWithFile(t *testing.T) {
	loader, dir := isolate(t)
	path := filepath.Join(dir, "custom.yaml")
	writeFile(t, path, "output:\n  format: json\ndebug:\n  redis:\n    enabled: true\n    addr: redis:6379\n")

	cfg, err := loader.LoadWithFile(path)
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.Output.Format)
	assert.True(t, cfg.Debug.Redis.Enabled)
	assert.Equal(t, "redis:6379", cfg.Debug.Redis.Addr)
	assert.Equal(t, "bpread:attempts", cfg.Debug.Redis.Key)
}

func TestLoadWithFileErrors(t *testing.T) {
	loader, dir := isolate(t)

	_, err := loader.LoadWithFile(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")

	bad := filepath.Join(dir, "bad.yaml")
	writeFile(t, bad, "log_level: [unclosed\n")
	_, err = loader.LoadWithFile(bad)
	require.Error(t, err)

	invalid := filepath.Join(dir, "invalid.yaml")
	writeFile(t, invalid, "log_level: chatty\n")
	_, err = NewLoaderWithViper(viper.New()).LoadWithFile(invalid)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")

	cfg, err := NewLoaderWithViper(viper.New()).LoadWithFileWithoutValidation(invalid)
	require.NoError(t, err)
	assert.Equal(t, "chatty", cfg.LogLevel)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	loader, _ := isolate(t)
	t.Setenv("BPREAD_EXPLORE_MAX_ATTEMPTS", "7")
	t.Setenv("BPREAD_SERVER_PORT", "9999")
	t.Setenv("BPREAD_DEBUG_REDIS_ADDR", "cache:6379")

	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Explore.MaxAttempts)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "cache:6379", cfg.Debug.Redis.Addr)
}

func TestLoadDotEnv(t *testing.T) {
	loader, dir := isolate(t)
	writeFile(t, filepath.Join(dir, ".env"), "BPREAD_EXPLORE_LOG_CAP=5\nBPREAD_LOG_LEVEL=warn\n")
	// Variables already in the environment win over .env.
	t.Setenv("BPREAD_LOG_LEVEL", "error")
	t.Cleanup(func() { _ = os.Unsetenv("BPREAD_EXPLORE_LOG_CAP") })

	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Explore.LogCap)
	assert.Equal(t, "error", cfg.LogLevel)
}

func TestGenerateDefaultConfigFile(t *testing.T) {
	_, dir := isolate(t)
	path := filepath.Join(dir, "generated.yaml")
	require.NoError(t, GenerateDefaultConfigFile(path))

	cfg, err := NewLoaderWithViper(viper.New()).LoadWithFile(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Server, cfg.Server)
	assert.Equal(t, DefaultConfig().Explore.Timeout, cfg.Explore.Timeout)

	require.NoError(t, GenerateDefaultConfigFile(""))
	assert.FileExists(t, filepath.Join(dir, "bpread.yaml"))
}

func TestGetConfigSearchPaths(t *testing.T) {
	isolate(t)
	paths := GetConfigSearchPaths()
	assert.Equal(t, ".", paths[0])
	assert.Equal(t, "/etc/bpread", paths[len(paths)-1])
	assert.Contains(t, paths, filepath.Join(os.Getenv("XDG_CONFIG_HOME"), "bpread"))
}

func TestLoaderAccessors(t *testing.T) {
	loader, _ := isolate(t)
	loader.Set("output.format", "csv")
	assert.Equal(t, "csv", loader.GetString("output.format"))
	assert.Equal(t, "csv", loader.Get("output.format"))
	_, err := loader.Load()
	require.NoError(t, err)
	assert.NotEmpty(t, loader.GetResolvedConfig())
}
