package seeder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Formats the generator knows how to produce.
var Formats = []string{"prometheus", "statsd", "datadog", "otlp", "custom", "official"}

// Config represents the complete seeder configuration
type Config struct {
	Version  string                  `mapstructure:"version" yaml:"version"`
	Defaults DefaultsConfig          `mapstructure:"defaults" yaml:"defaults"`
	Tenants  map[string]TenantConfig `mapstructure:"tenants" yaml:"tenants"`
}

// DefaultsConfig holds default seeder settings
type DefaultsConfig struct {
	IngestURL    string        `mapstructure:"ingest_url" yaml:"ingest_url"`
	APIKey       string        `mapstructure:"api_key" yaml:"api_key"`
	Count        int           `mapstructure:"count" yaml:"count"`
	TimeSpread   time.Duration `mapstructure:"time_spread" yaml:"time_spread"`
	BatchSize    int           `mapstructure:"batch_size" yaml:"batch_size"`
	Interval     time.Duration `mapstructure:"interval" yaml:"interval"`
	Formats      []string      `mapstructure:"formats" yaml:"formats"`
	Measurements []string      `mapstructure:"measurements" yaml:"measurements"`
	Hosts        int           `mapstructure:"hosts" yaml:"hosts"`
}

// TenantConfig seeds one extra tenant with its own API key. Zero values
// fall back to Defaults.
type TenantConfig struct {
	APIKey  string   `mapstructure:"api_key" yaml:"api_key"`
	Enabled bool     `mapstructure:"enabled" yaml:"enabled"`
	Count   int      `mapstructure:"count" yaml:"count"`
	Formats []string `mapstructure:"formats" yaml:"formats"`
}

// LoadConfig loads configuration with cascade: flags > ./seeder.yaml > ~/.thawk/seeder.yaml > defaults
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("seeder")
	v.SetConfigType("yaml")
	v.SetEnvPrefix("SEEDER")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".thawk"))
		}
	}

	// Config file is optional
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("version", "1.0")

	v.SetDefault("defaults.ingest_url", "http://localhost:8088")
	v.SetDefault("defaults.count", 10000)
	v.SetDefault("defaults.time_spread", 24*time.Hour)
	v.SetDefault("defaults.batch_size", 100)
	v.SetDefault("defaults.interval", 0)
	v.SetDefault("defaults.formats", []string{"prometheus", "statsd", "custom"})
	v.SetDefault("defaults.measurements", []string{
		"cpu_usage", "mem_used_bytes", "disk_io_ops", "http_requests", "queue_depth",
	})
	v.SetDefault("defaults.hosts", 20)

	// No default key - must be provided
	v.SetDefault("defaults.api_key", "")
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	d := c.Defaults
	if d.Count < 0 {
		return fmt.Errorf("count must not be negative")
	}
	if d.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive")
	}
	if d.Hosts <= 0 {
		return fmt.Errorf("hosts must be positive")
	}
	if len(d.Measurements) == 0 {
		return fmt.Errorf("at least one measurement is required")
	}
	if err := validateFormats(d.Formats); err != nil {
		return err
	}

	// Keep at least one point per hour of spread
	if d.TimeSpread >= time.Hour && d.Count > 0 {
		hours := d.TimeSpread / time.Hour
		pointsPerHour := float64(d.Count) / float64(hours)
		if pointsPerHour < 1.0 {
			return fmt.Errorf("point density too low: %.2f points/hour (need at least 1 point/hour)", pointsPerHour)
		}
	}

	for name, tenant := range c.Tenants {
		if tenant.APIKey == "" {
			return fmt.Errorf("tenant %s: api_key is required", name)
		}
		if len(tenant.Formats) > 0 {
			if err := validateFormats(tenant.Formats); err != nil {
				return fmt.Errorf("tenant %s: %w", name, err)
			}
		}
	}

	return nil
}

func validateFormats(formats []string) error {
	if len(formats) == 0 {
		return fmt.Errorf("at least one format is required")
	}
	for _, f := range formats {
		if !slices.Contains(Formats, f) {
			return fmt.Errorf("unknown format %q", f)
		}
	}
	return nil
}

// GetEnabledTenants returns only enabled tenant configurations
func (c *Config) GetEnabledTenants() map[string]TenantConfig {
	enabled := make(map[string]TenantConfig)
	for name, tenant := range c.Tenants {
		if tenant.Enabled {
			enabled[name] = tenant
		}
	}
	return enabled
}

// GetTenant returns a specific tenant configuration by name
func (c *Config) GetTenant(name string) (TenantConfig, bool) {
	tenant, ok := c.Tenants[name]
	return tenant, ok
}
