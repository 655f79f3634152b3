package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	dataDir := t.TempDir()
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), dataDir)
	require.NoError(t, err)

	defaults := DefaultConfig()
	assert.Equal(t, dataDir, cfg.DataDir)
	assert.Equal(t, defaults.Tracker, cfg.Tracker)
	assert.Equal(t, FirstTickBaseline, cfg.Tracker.FirstTick)
	assert.Equal(t, "2022-06-28", cfg.Notion.Version)
}

func TestLoad_OverridesAndFillsZeroValues(t *testing.T) {
	path := writeConfig(t, `
telegram:
  token: "123:abc"
tracker:
  interval: 30s
  workers: 0
  first_tick: announce
  exclude_databases:
    - "Archive*"
setup:
  max_empty_retries: 5
`)

	cfg, err := Load(path, t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "123:abc", cfg.Telegram.Token)
	assert.Equal(t, 30*time.Second, cfg.Tracker.Interval)
	assert.Equal(t, DefaultConfig().Tracker.Workers, cfg.Tracker.Workers)
	assert.Equal(t, FirstTickAnnounce, cfg.Tracker.FirstTick)
	assert.Equal(t, []string{"Archive*"}, cfg.Tracker.ExcludeDatabases)
	assert.Equal(t, 5, cfg.Setup.MaxEmptyRetries)
	assert.Equal(t, DefaultConfig().Setup.OptionsTTL, cfg.Setup.OptionsTTL)
}

func TestLoad_ParseError(t *testing.T) {
	path := writeConfig(t, "tracker: [not, a, map")
	_, err := Load(path, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "empty data dir", mutate: func(c *Config) { c.DataDir = "" }, wantErr: "data directory"},
		{name: "zero workers", mutate: func(c *Config) { c.Tracker.Workers = 0 }, wantErr: "tracker.workers"},
		{name: "negative interval", mutate: func(c *Config) { c.Tracker.Interval = -time.Second }, wantErr: "tracker.interval"},
		{name: "unknown first tick", mutate: func(c *Config) { c.Tracker.FirstTick = "loud" }, wantErr: "tracker.first_tick"},
		{name: "negative retries", mutate: func(c *Config) { c.Setup.MaxEmptyRetries = -1 }, wantErr: "max_empty_retries"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.DataDir = t.TempDir()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFirstTickPolicy_IsValid(t *testing.T) {
	assert.True(t, FirstTickBaseline.IsValid())
	assert.True(t, FirstTickAnnounce.IsValid())
	assert.False(t, FirstTickPolicy("").IsValid())
}
