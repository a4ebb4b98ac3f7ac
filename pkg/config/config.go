package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/platinummonkey/cmsroles/pkg/observability"
	"github.com/platinummonkey/cmsroles/pkg/siteadmin"
	"github.com/platinummonkey/cmsroles/pkg/storage"
)

// Prefix is prepended to every environment variable read by Load
const Prefix = "CMSROLES_"

// Config holds all application configuration
type Config struct {
	// Database configuration, read from CMSROLES_DB_*
	Database storage.Config `envPrefix:"DB_"`

	// Observability configuration
	Observability ObservabilityConfig

	// Site administration configuration
	SiteAdmin SiteAdminConfig

	// RolesFile is the default role definition file for load-roles
	RolesFile string `env:"ROLES_FILE"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat      string `env:"LOG_FORMAT" envDefault:"json"`
	MetricsEnabled bool   `env:"METRICS_ENABLED" envDefault:"false"`
	MetricsAddr    string `env:"METRICS_ADDR" envDefault:":9090"`
}

// SiteAdminConfig holds the site administrator marker settings
type SiteAdminConfig struct {
	// Capabilities a staff user must hold to administer sites
	Capabilities []string `env:"SITE_ADMIN_CAPABILITIES" envSeparator:","`
	CacheSize    int      `env:"SITE_CACHE_SIZE" envDefault:"1024"`
}

// Load reads configuration from the environment, after loading any .env
// files given (or ".env" in the working directory when none are given).
func Load(files ...string) (*Config, error) {
	if err := loadDotenv(files...); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: Prefix}); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if len(cfg.SiteAdmin.Capabilities) == 0 {
		cfg.SiteAdmin.Capabilities = []string{siteadmin.DefaultCapability}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func loadDotenv(files ...string) error {
	if len(files) == 0 {
		// a missing .env file is fine
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		files = []string{".env"}
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return err
	}

	if _, err := observability.ParseLevel(c.Observability.LogLevel); err != nil {
		return err
	}
	switch observability.Format(strings.ToLower(c.Observability.LogFormat)) {
	case observability.FormatJSON, observability.FormatText:
	default:
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Observability.LogFormat)
	}
	if c.Observability.MetricsEnabled && c.Observability.MetricsAddr == "" {
		return errors.New("metrics address is required when metrics are enabled")
	}

	for _, capability := range c.SiteAdmin.Capabilities {
		if strings.TrimSpace(capability) == "" {
			return errors.New("site admin capabilities must not contain empty entries")
		}
	}
	if c.SiteAdmin.CacheSize <= 0 {
		return fmt.Errorf("site cache size must be positive, got %d", c.SiteAdmin.CacheSize)
	}
	return nil
}

// Logger builds the structured logger described by the observability settings
func (c *Config) Logger() *observability.Logger {
	level, err := observability.ParseLevel(c.Observability.LogLevel)
	if err != nil {
		level = observability.InfoLevel
	}
	format := observability.Format(strings.ToLower(c.Observability.LogFormat))
	return observability.NewLoggerWithFormat(level, format, os.Stderr)
}

// SiteAdminService converts the settings into a siteadmin.Config
func (c *Config) SiteAdminService() siteadmin.Config {
	return siteadmin.Config{
		RequiredCapabilities: c.SiteAdmin.Capabilities,
		CacheSize:            c.SiteAdmin.CacheSize,
	}
}
