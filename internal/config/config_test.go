package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv unsets every variable Load consults so the host environment
// cannot leak into assertions.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"LICENSE_CONFIG_FILE", "LICENSE_SERVER_PORT", "LICENSE_STORE_DRIVER",
		"LICENSE_STORE_PATH", "LICENSE_STORE_DSN", "LICENSE_STORE_REDIS_URL",
		"LICENSE_AUTHORITY_KIND", "LICENSE_AUTHORITY_URL",
		"LICENSE_SECURITY_ADMIN_SECRET", "LICENSE_SECURITY_RESET_SECRET",
		"LICENSE_SECURITY_ALLOWED_ORIGINS", "LICENSE_KEYS_PREFIX",
		"LICENSE_SERVER_WRITE_TIMEOUT", "LICENSE_SERVER_REQUEST_TIMEOUT",
		"PORT", "DB_PATH",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name        string
		env         map[string]string
		file        string
		wantErr     string
		validateCfg func(*testing.T, *Config)
	}{
		{
			name: "defaults",
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 3000, cfg.Server.Port)
				assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
				assert.Equal(t, 20*time.Second, cfg.Server.RequestTimeout)
				assert.Greater(t, cfg.Server.WriteTimeout, cfg.Server.RequestTimeout)
				assert.Equal(t, []string{"*"}, cfg.Security.AllowedOrigins)
				assert.Equal(t, StoreFile, cfg.Store.Driver)
				assert.Equal(t, "license_db.json", cfg.Store.Path)
				assert.Equal(t, AuthorityNone, cfg.Authority.Kind)
				assert.Equal(t, 10*time.Second, cfg.Authority.Timeout)
				assert.Equal(t, "LIC", cfg.Keys.Prefix)
				assert.Equal(t, 3, cfg.Keys.Groups)
				assert.Equal(t, 4, cfg.Keys.GroupSize)
				assert.Equal(t, "-", cfg.Keys.Separator)
				assert.Equal(t, "json", cfg.Logging.Format)
			},
		},
		{
			name: "prefixed environment",
			env: map[string]string{
				"LICENSE_SERVER_PORT":              "9000",
				"LICENSE_STORE_DRIVER":             "Memory",
				"LICENSE_SECURITY_ADMIN_SECRET":    "s3cret",
				"LICENSE_SECURITY_ALLOWED_ORIGINS": "https://a.example,https://b.example",
			},
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 9000, cfg.Server.Port)
				assert.Equal(t, StoreMemory, cfg.Store.Driver)
				assert.Equal(t, "s3cret", cfg.Security.AdminSecret)
				assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Security.AllowedOrigins)
			},
		},
		{
			name: "legacy PORT and DB_PATH",
			env: map[string]string{
				"PORT":    "4100",
				"DB_PATH": "/var/lib/licenses.json",
			},
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 4100, cfg.Server.Port)
				assert.Equal(t, "/var/lib/licenses.json", cfg.Store.Path)
			},
		},
		{
			name: "prefixed port wins over legacy",
			env: map[string]string{
				"PORT":                "4100",
				"LICENSE_SERVER_PORT": "4200",
			},
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 4200, cfg.Server.Port)
			},
		},
		{
			name: "yaml file overlays environment",
			env: map[string]string{
				"LICENSE_SERVER_PORT": "9000",
			},
			file: `
server:
  port: 8443
store:
  driver: redis
  redis_url: redis://localhost:6379/0
keys:
  prefix: ACME
`,
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 8443, cfg.Server.Port)
				assert.Equal(t, StoreRedis, cfg.Store.Driver)
				assert.Equal(t, "redis://localhost:6379/0", cfg.Store.RedisURL)
				assert.Equal(t, "ACME", cfg.Keys.Prefix)
				assert.Equal(t, 4, cfg.Keys.GroupSize)
			},
		},
		{
			name:    "invalid legacy port",
			env:     map[string]string{"PORT": "abc"},
			wantErr: "invalid PORT",
		},
		{
			name:    "postgres without dsn",
			env:     map[string]string{"LICENSE_STORE_DRIVER": "postgres"},
			wantErr: "store dsn is required",
		},
		{
			name:    "http authority without url",
			env:     map[string]string{"LICENSE_AUTHORITY_KIND": "http"},
			wantErr: "authority url is required",
		},
		{
			name: "request timeout not below write timeout",
			env: map[string]string{
				"LICENSE_SERVER_WRITE_TIMEOUT":   "15s",
				"LICENSE_SERVER_REQUEST_TIMEOUT": "20s",
			},
			wantErr: "must be shorter than write timeout",
		},
		{
			name:    "unknown driver",
			env:     map[string]string{"LICENSE_STORE_DRIVER": "etcd"},
			wantErr: "unsupported store driver",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			path := ""
			if tt.file != "" {
				path = filepath.Join(t.TempDir(), "config.yaml")
				require.NoError(t, os.WriteFile(path, []byte(tt.file), 0o600))
			}

			cfg, err := LoadFile(path)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.validateCfg(t, cfg)
		})
	}
}

func TestLoad_ConfigFileFromEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 7000\n"), 0o600))
	t.Setenv("LICENSE_CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Server.Port)
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ":3000", cfg.Server.Address())
}

func TestEffectiveResetSecret(t *testing.T) {
	assert.Equal(t, "admin", SecurityConfig{AdminSecret: "admin"}.EffectiveResetSecret())
	assert.Equal(t, "reset", SecurityConfig{AdminSecret: "admin", ResetSecret: "reset"}.EffectiveResetSecret())
	assert.Empty(t, SecurityConfig{}.EffectiveResetSecret())
}
