package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/cmsroles/pkg/observability"
	"github.com/platinummonkey/cmsroles/pkg/siteadmin"
	"github.com/platinummonkey/cmsroles/pkg/storage"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CMSROLES_DB_DSN", "postgres://localhost/cms?sslmode=disable")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, storage.DialectPostgres, cfg.Database.Driver)
	assert.Equal(t, 20, cfg.Database.MaxOpenConns)
	assert.Equal(t, 2, cfg.Database.MaxIdleConns)
	assert.Equal(t, 30*time.Minute, cfg.Database.ConnMaxLifetime)
	assert.Equal(t, 10*time.Second, cfg.Database.Timeout)
	assert.Equal(t, "info", cfg.Observability.LogLevel)
	assert.Equal(t, "json", cfg.Observability.LogFormat)
	assert.False(t, cfg.Observability.MetricsEnabled)
	assert.Equal(t, []string{siteadmin.DefaultCapability}, cfg.SiteAdmin.Capabilities)
	assert.Equal(t, 1024, cfg.SiteAdmin.CacheSize)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("CMSROLES_DB_DRIVER", "sqlite3")
	t.Setenv("CMSROLES_DB_DSN", "file::memory:")
	t.Setenv("CMSROLES_DB_MAX_OPEN_CONNS", "1")
	t.Setenv("CMSROLES_DB_TIMEOUT", "2s")
	t.Setenv("CMSROLES_LOG_LEVEL", "debug")
	t.Setenv("CMSROLES_LOG_FORMAT", "text")
	t.Setenv("CMSROLES_METRICS_ENABLED", "true")
	t.Setenv("CMSROLES_METRICS_ADDR", "127.0.0.1:9100")
	t.Setenv("CMSROLES_SITE_ADMIN_CAPABILITIES", "auth.add_user,auth.change_user,auth.delete_user")
	t.Setenv("CMSROLES_SITE_CACHE_SIZE", "16")
	t.Setenv("CMSROLES_ROLES_FILE", "roles.yaml")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, storage.DialectSQLite, cfg.Database.Driver)
	assert.Equal(t, "file::memory:", cfg.Database.DSN)
	assert.Equal(t, 1, cfg.Database.MaxOpenConns)
	assert.Equal(t, 2*time.Second, cfg.Database.Timeout)
	assert.Equal(t, "debug", cfg.Observability.LogLevel)
	assert.True(t, cfg.Observability.MetricsEnabled)
	assert.Equal(t, "127.0.0.1:9100", cfg.Observability.MetricsAddr)
	assert.Equal(t, siteadmin.LegacyCapabilities, cfg.SiteAdmin.Capabilities)
	assert.Equal(t, "roles.yaml", cfg.RolesFile)

	svc := cfg.SiteAdminService()
	assert.Equal(t, siteadmin.LegacyCapabilities, svc.RequiredCapabilities)
	assert.Equal(t, 16, svc.CacheSize)

	assert.Equal(t, observability.DebugLevel, cfg.Logger().Level())
}

func TestLoad_DotenvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("CMSROLES_DB_DRIVER=sqlite3\nCMSROLES_DB_DSN=file:dotenv.db\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("CMSROLES_DB_DRIVER")
		os.Unsetenv("CMSROLES_DB_DSN")
	})

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, storage.DialectSQLite, cfg.Database.Driver)
	assert.Equal(t, "file:dotenv.db", cfg.Database.DSN)
}

func TestLoad_MissingDotenvFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load env file")
}

func TestLoad_ParseError(t *testing.T) {
	t.Setenv("CMSROLES_DB_DSN", "x")
	t.Setenv("CMSROLES_DB_MAX_OPEN_CONNS", "lots")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse environment")
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Database: storage.Config{Driver: storage.DialectSQLite, DSN: "file::memory:"},
			Observability: ObservabilityConfig{
				LogLevel:  "info",
				LogFormat: "json",
			},
			SiteAdmin: SiteAdminConfig{
				Capabilities: []string{siteadmin.DefaultCapability},
				CacheSize:    8,
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{
			name:    "missing dsn",
			mutate:  func(c *Config) { c.Database.DSN = "" },
			wantErr: "DSN is required",
		},
		{
			name:    "unknown driver",
			mutate:  func(c *Config) { c.Database.Driver = "mysql" },
			wantErr: "unsupported database driver",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Observability.LogLevel = "loud" },
			wantErr: "unknown log level",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Observability.LogFormat = "xml" },
			wantErr: "invalid log format",
		},
		{
			name: "metrics without address",
			mutate: func(c *Config) {
				c.Observability.MetricsEnabled = true
				c.Observability.MetricsAddr = ""
			},
			wantErr: "metrics address is required",
		},
		{
			name:    "empty capability",
			mutate:  func(c *Config) { c.SiteAdmin.Capabilities = []string{"auth.add_user", " "} },
			wantErr: "empty entries",
		},
		{
			name:    "zero cache size",
			mutate:  func(c *Config) { c.SiteAdmin.CacheSize = 0 },
			wantErr: "cache size must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
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
