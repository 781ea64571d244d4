package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name        string
		env         map[string]string
		file        string
		wantErr     bool
		validateCfg func(*testing.T, *Config)
	}{
		{
			name: "defaults with no env vars",
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 1996, cfg.Server.Port)
				assert.Equal(t, "/api/socket", cfg.Server.SocketPath)
				assert.Equal(t, 500*time.Millisecond, cfg.Server.DownloadDelay)
				assert.Equal(t, time.Second, cfg.Server.NotFoundDelay)
				assert.Equal(t, 24*time.Hour, cfg.Analysis.CacheTTL)
				assert.Equal(t, 4, cfg.Analysis.Parallelism)
				assert.Equal(t, AdminUnset, cfg.Security.AdminIPv4)
				assert.Equal(t, "redis", cfg.Store.Backend)
				assert.Equal(t, "stardust", cfg.Store.Scope)
				assert.Equal(t, 5, cfg.Queue.MaxActive)
				assert.Equal(t, 250, cfg.Queue.DefaultMaxResults)
				assert.Equal(t, 200, cfg.Queue.DefaultLimitStarsPerUser)
				assert.Equal(t, "json", cfg.Logging.Format)
				assert.False(t, cfg.Logging.Development)
			},
		},
		{
			name: "environment overrides",
			env: map[string]string{
				"STARDUST_SERVER_PORT":                "9090",
				"STARDUST_SERVER_READ_TIMEOUT":        "30s",
				"STARDUST_SECURITY_ALLOWED_ORIGINS":   "http://a.example,https://b.example",
				"STARDUST_SECURITY_ADMIN_IPV4":        "10.1.2.3",
				"STARDUST_SECURITY_RATE_LIMIT_RPS":    "3.5",
				"STARDUST_STORE_BACKEND":              "pebble",
				"STARDUST_STORE_PEBBLE_DIR":           "/tmp/stardust-pebble",
				"STARDUST_QUEUE_MAX_ACTIVE":           "2",
				"STARDUST_LOGGING_FORMAT":             "text",
				"STARDUST_LOGGING_DEVELOPMENT":        "true",
				"STARDUST_WEBSOCKET_READ_BUFFER_SIZE": "2048",
				"STARDUST_ANALYSIS_CACHE_TTL":         "1h",
			},
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 9090, cfg.Server.Port)
				assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
				assert.Equal(t, []string{"http://a.example", "https://b.example"}, cfg.Security.AllowedOrigins)
				assert.Equal(t, "10.1.2.3", cfg.Security.AdminIPv4)
				assert.Equal(t, 3.5, cfg.Security.RateLimit.RPS)
				assert.Equal(t, "pebble", cfg.Store.Backend)
				assert.Equal(t, "/tmp/stardust-pebble", cfg.Store.PebbleDir)
				assert.Equal(t, 2, cfg.Queue.MaxActive)
				assert.Equal(t, "json", cfg.Logging.Format) // forced by validate()
				assert.True(t, cfg.Logging.Development)
				assert.Equal(t, 2048, cfg.WebSocket.ReadBufferSize)
				assert.Equal(t, time.Hour, cfg.Analysis.CacheTTL)
			},
		},
		{
			name: "file values keep unlisted defaults",
			file: "server:\n  port: 7000\nstore:\n  backend: sqlite\n  sqlite_path: /tmp/s.db\n",
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 7000, cfg.Server.Port)
				assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
				assert.Equal(t, "sqlite", cfg.Store.Backend)
				assert.Equal(t, "/tmp/s.db", cfg.Store.SQLitePath)
				assert.Equal(t, "stardust", cfg.Store.Scope)
			},
		},
		{
			name: "env wins over file",
			file: "server:\n  port: 7000\n",
			env:  map[string]string{"STARDUST_SERVER_PORT": "7100"},
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 7100, cfg.Server.Port)
			},
		},
		{
			name:    "invalid port number",
			env:     map[string]string{"STARDUST_SERVER_PORT": "99999"},
			wantErr: true,
		},
		{
			name:    "negative timeout",
			env:     map[string]string{"STARDUST_SERVER_READ_TIMEOUT": "-5s"},
			wantErr: true,
		},
		{
			name:    "admin address is not ipv4",
			env:     map[string]string{"STARDUST_SECURITY_ADMIN_IPV4": "::1"},
			wantErr: true,
		},
		{
			name:    "unknown backend",
			env:     map[string]string{"STARDUST_STORE_BACKEND": "etcd"},
			wantErr: true,
		},
		{
			name:    "zero max active",
			env:     map[string]string{"STARDUST_QUEUE_MAX_ACTIVE": "0"},
			wantErr: true,
		},
		{
			name:    "malformed yaml",
			file:    "server: [port",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvPrefix+"_CONFIG", "")
			if tt.file != "" {
				t.Setenv(EnvPrefix+"_CONFIG", writeConfigFile(t, tt.file))
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.validateCfg != nil {
				tt.validateCfg(t, cfg)
			}
		})
	}
}

func TestValidateNormalizesLogging(t *testing.T) {
	cfg := Default()
	cfg.Logging.Output = "syslog"
	cfg.Logging.FilePath = ""

	require.NoError(t, cfg.validate())
	assert.Equal(t, "console", cfg.Logging.Output)
	assert.Equal(t, "logs/stardust.log", cfg.Logging.FilePath)
}

func TestValidateBackendRequirements(t *testing.T) {
	cases := map[string]func(*Config){
		"redis without addr":   func(c *Config) { c.Store.Backend = "redis"; c.Store.RedisAddr = "" },
		"pebble without dir":   func(c *Config) { c.Store.Backend = "pebble"; c.Store.PebbleDir = "" },
		"sqlite without path":  func(c *Config) { c.Store.Backend = "sqlite"; c.Store.SQLitePath = "" },
		"empty scope":          func(c *Config) { c.Store.Scope = "" },
		"relative socket path": func(c *Config) { c.Server.SocketPath = "api/socket" },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.validate())
		})
	}

	cfg := Default()
	cfg.Store.Backend = "memory"
	assert.NoError(t, cfg.validate())
}
