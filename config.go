package redmine_notifier

import (
	"time"

	"github.com/roadrunner-server/errors"
)

const PluginName = "redmine_notifier"

const (
	defaultProjectID       = "bug-tracker"
	defaultTrackerID       = 1
	defaultAppName         = "unknown"
	defaultCooldownSeconds = 300
	defaultConnectTimeout  = 5 * time.Second
	defaultReadTimeout     = 10 * time.Second
	defaultCleanupInterval = 5 * time.Minute
)

// Config represents the plugin configuration
type Config struct {
	// Enable/disable the plugin, nil means enabled
	Enabled *bool `mapstructure:"enabled" yaml:"enabled"`

	// Redmine base URL, e.g. https://redmine.example.com
	RedmineURL string `mapstructure:"redmine_url" yaml:"redmine_url"`

	// API key sent as X-Redmine-API-Key
	APIKey string `mapstructure:"api_key" yaml:"api_key"`

	// Target project identifier
	ProjectID string `mapstructure:"project_id" yaml:"project_id"`

	// Tracker used for new issues
	TrackerID int `mapstructure:"tracker_id" yaml:"tracker_id"`

	// Application name rendered in descriptions
	AppName string `mapstructure:"app_name" yaml:"app_name"`

	// Tags applied to every issue
	DefaultTags []string `mapstructure:"default_tags" yaml:"default_tags"`

	// Minimum seconds between two occurrences of the same fingerprint that reach Redmine.
	// nil means the default, zero disables throttling.
	Cooldown *int `mapstructure:"cooldown" yaml:"cooldown"`

	// HTTP transport settings
	Transport TransportConfig `mapstructure:"transport" yaml:"transport"`

	// Occurrence cache settings
	Cache CacheConfig `mapstructure:"cache" yaml:"cache"`
}

// TransportConfig contains HTTP transport settings
type TransportConfig struct {
	// Connection timeout (dial + TLS handshake)
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	// Read timeout (waiting for response headers)
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	// SSL verification, nil means verify
	SSLVerify *bool `mapstructure:"ssl_verify" yaml:"ssl_verify"`
	// Proxy settings
	Proxy string `mapstructure:"proxy" yaml:"proxy"`
}

// CacheConfig contains occurrence cache settings
type CacheConfig struct {
	// Interval of the background stale-entry sweep
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" yaml:"cleanup_interval"`
}

// InitDefaults initializes default configuration values
func (cfg *Config) InitDefaults() {
	if cfg.Enabled == nil {
		cfg.Enabled = ptrTo(true)
	}
	if cfg.ProjectID == "" {
		cfg.ProjectID = defaultProjectID
	}
	if cfg.TrackerID == 0 {
		cfg.TrackerID = defaultTrackerID
	}
	if cfg.AppName == "" {
		cfg.AppName = defaultAppName
	}
	if cfg.Cooldown == nil {
		cfg.Cooldown = ptrTo(defaultCooldownSeconds)
	}

	if cfg.Transport.ConnectTimeout == 0 {
		cfg.Transport.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.Transport.ReadTimeout == 0 {
		cfg.Transport.ReadTimeout = defaultReadTimeout
	}
	if cfg.Transport.SSLVerify == nil {
		cfg.Transport.SSLVerify = ptrTo(true)
	}

	if cfg.Cache.CleanupInterval == 0 {
		cfg.Cache.CleanupInterval = defaultCleanupInterval
	}
}

// Validate validates the configuration
func (cfg *Config) Validate() error {
	const op = errors.Op("redmine_notifier_config_validate")

	if cfg.RedmineURL == "" {
		return errors.E(op, errors.Str("redmine_url is required"))
	}
	if cfg.APIKey == "" {
		return errors.E(op, errors.Str("api_key is required"))
	}
	if _, err := ParseEndpoint(cfg.RedmineURL); err != nil {
		return errors.E(op, err)
	}
	if cfg.Cooldown != nil && *cfg.Cooldown < 0 {
		return errors.E(op, errors.Str("cooldown must be >= 0"))
	}

	return nil
}

// IsEnabled reports whether the notifier should talk to Redmine at all.
func (cfg *Config) IsEnabled() bool {
	return cfg.Enabled == nil || *cfg.Enabled
}

// IsValid reports whether the required options are present and well formed.
func (cfg *Config) IsValid() bool {
	return cfg.Validate() == nil
}

// CooldownDuration returns the effective cooldown.
func (cfg *Config) CooldownDuration() time.Duration {
	if cfg.Cooldown == nil {
		return defaultCooldownSeconds * time.Second
	}
	return time.Duration(*cfg.Cooldown) * time.Second
}

func ptrTo[T any](v T) *T {
	return &v
}
