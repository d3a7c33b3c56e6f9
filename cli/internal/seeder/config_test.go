package seeder

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSeederConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seeder.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "1.0", cfg.Version)
	assert.Equal(t, "http://localhost:8088", cfg.Defaults.IngestURL)
	assert.Equal(t, 10000, cfg.Defaults.Count)
	assert.Equal(t, 100, cfg.Defaults.BatchSize)
	assert.Equal(t, 24*time.Hour, cfg.Defaults.TimeSpread)
	assert.Equal(t, []string{"prometheus", "statsd", "custom"}, cfg.Defaults.Formats)
	assert.Empty(t, cfg.Defaults.APIKey)
}

func TestLoadConfig_File(t *testing.T) {
	path := writeSeederConfig(t, `
version: "2.0"
defaults:
  ingest_url: http://metrics:9000
  api_key: tk_default
  count: 500
  batch_size: 25
  time_spread: 2h
  formats: [otlp, datadog]
tenants:
  acme:
    api_key: tk_acme
    enabled: true
    count: 50
  globex:
    api_key: tk_globex
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "2.0", cfg.Version)
	assert.Equal(t, "http://metrics:9000", cfg.Defaults.IngestURL)
	assert.Equal(t, "tk_default", cfg.Defaults.APIKey)
	assert.Equal(t, 500, cfg.Defaults.Count)
	assert.Equal(t, 25, cfg.Defaults.BatchSize)
	assert.Equal(t, 2*time.Hour, cfg.Defaults.TimeSpread)
	assert.Equal(t, []string{"otlp", "datadog"}, cfg.Defaults.Formats)
	// untouched defaults survive
	assert.Equal(t, 20, cfg.Defaults.Hosts)

	enabled := cfg.GetEnabledTenants()
	assert.Len(t, enabled, 1)
	assert.Equal(t, "tk_acme", enabled["acme"].APIKey)

	globex, ok := cfg.GetTenant("globex")
	assert.True(t, ok)
	assert.False(t, globex.Enabled)
	_, ok = cfg.GetTenant("initech")
	assert.False(t, ok)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	path := writeSeederConfig(t, "defaults:\n  api_key: from_file\n")
	t.Setenv("SEEDER_DEFAULTS_API_KEY", "from_env")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "from_env", cfg.Defaults.APIKey)
}

func TestLoadConfig_Invalid(t *testing.T) {
	path := writeSeederConfig(t, "defaults:\n  formats: [graphite]\n")

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "graphite")
}

func TestLoadConfig_Unreadable(t *testing.T) {
	path := writeSeederConfig(t, "defaults: [not: a map\n")

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		return Config{Defaults: DefaultsConfig{
			Count:        100,
			BatchSize:    10,
			Hosts:        2,
			TimeSpread:   time.Hour,
			Formats:      []string{"statsd"},
			Measurements: []string{"cpu"},
		}}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "negative count", mutate: func(c *Config) { c.Defaults.Count = -1 }, wantErr: "count"},
		{name: "zero batch", mutate: func(c *Config) { c.Defaults.BatchSize = 0 }, wantErr: "batch_size"},
		{name: "no hosts", mutate: func(c *Config) { c.Defaults.Hosts = 0 }, wantErr: "hosts"},
		{name: "no measurements", mutate: func(c *Config) { c.Defaults.Measurements = nil }, wantErr: "measurement"},
		{name: "no formats", mutate: func(c *Config) { c.Defaults.Formats = nil }, wantErr: "format"},
		{name: "unknown format", mutate: func(c *Config) { c.Defaults.Formats = []string{"influx"} }, wantErr: "influx"},
		{
			name: "density too low",
			mutate: func(c *Config) {
				c.Defaults.Count = 10
				c.Defaults.TimeSpread = 48 * time.Hour
			},
			wantErr: "density",
		},
		{
			name:    "tenant without key",
			mutate:  func(c *Config) { c.Tenants = map[string]TenantConfig{"acme": {Enabled: true}} },
			wantErr: "acme",
		},
		{
			name: "tenant bad format",
			mutate: func(c *Config) {
				c.Tenants = map[string]TenantConfig{"acme": {APIKey: "k", Formats: []string{"xml"}}}
			},
			wantErr: "xml",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
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
