package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// EnvPrefix namespaces every environment variable read by Load.
const EnvPrefix = "STARDUST"

// AdminUnset means no peer is treated as admin.
const AdminUnset = "unset"

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Security  SecurityConfig  `yaml:"security" envconfig:"SECURITY"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Store     StoreConfig     `yaml:"store" envconfig:"STORE"`
	Queue     QueueConfig     `yaml:"queue" envconfig:"QUEUE"`
	WebSocket WebSocketConfig `yaml:"websocket" envconfig:"WEBSOCKET"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
	Analysis  AnalysisConfig  `yaml:"analysis" envconfig:"ANALYSIS"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	SocketPath      string        `yaml:"socket_path" envconfig:"SOCKET_PATH"`
	// DownloadDelay is multiplied by the number of in-flight artifact
	// downloads and unknown-route replies before a download is served.
	DownloadDelay time.Duration `yaml:"download_delay" envconfig:"DOWNLOAD_DELAY"`
	// NotFoundDelay plays the same role for unknown routes, counted against
	// the same in-flight total.
	NotFoundDelay time.Duration `yaml:"not_found_delay" envconfig:"NOT_FOUND_DELAY"`
}

// SecurityConfig contains security-related configuration
type SecurityConfig struct {
	AllowedOrigins []string        `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
	EnableCORS     bool            `yaml:"enable_cors" envconfig:"ENABLE_CORS"`
	AdminIPv4      string          `yaml:"admin_ipv4" envconfig:"ADMIN_IPV4"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS"`
	Burst   int     `yaml:"burst" envconfig:"BURST"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL"`
	Format   string `yaml:"format" envconfig:"FORMAT"`
	Output   string `yaml:"output" envconfig:"OUTPUT"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
	// Development turns scheduler invariant violations into panics.
	Development bool `yaml:"development" envconfig:"DEVELOPMENT"`
}

// StoreConfig selects and configures the key-value backend.
type StoreConfig struct {
	Backend       string        `yaml:"backend" envconfig:"BACKEND"`
	Scope         string        `yaml:"scope" envconfig:"SCOPE"`
	RedisAddr     string        `yaml:"redis_addr" envconfig:"REDIS_ADDR"`
	RedisPassword string        `yaml:"redis_password" envconfig:"REDIS_PASSWORD"`
	RedisDB       int           `yaml:"redis_db" envconfig:"REDIS_DB"`
	PebbleDir     string        `yaml:"pebble_dir" envconfig:"PEBBLE_DIR"`
	SQLitePath    string        `yaml:"sqlite_path" envconfig:"SQLITE_PATH"`
	Timeout       time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
}

// QueueConfig contains admission control settings
type QueueConfig struct {
	MaxActive                int `yaml:"max_active" envconfig:"MAX_ACTIVE"`
	DefaultMaxResults        int `yaml:"default_max_results" envconfig:"DEFAULT_MAX_RESULTS"`
	DefaultLimitStarsPerUser int `yaml:"default_limit_stars_per_user" envconfig:"DEFAULT_LIMIT_STARS_PER_USER"`
}

// WebSocketConfig contains WebSocket configuration
type WebSocketConfig struct {
	ReadBufferSize  int           `yaml:"read_buffer_size" envconfig:"READ_BUFFER_SIZE"`
	WriteBufferSize int           `yaml:"write_buffer_size" envconfig:"WRITE_BUFFER_SIZE"`
	PingPeriod      time.Duration `yaml:"ping_period" envconfig:"PING_PERIOD"`
	PongWait        time.Duration `yaml:"pong_wait" envconfig:"PONG_WAIT"`
	WriteWait       time.Duration `yaml:"write_wait" envconfig:"WRITE_WAIT"`
	MaxMessageSize  int64         `yaml:"max_message_size" envconfig:"MAX_MESSAGE_SIZE"`
	SendBuffer      int           `yaml:"send_buffer" envconfig:"SEND_BUFFER"`
}

// TelemetryConfig contains OpenTelemetry exporter settings
type TelemetryConfig struct {
	Environment    string  `yaml:"environment" envconfig:"ENVIRONMENT"`
	TraceExporter  string  `yaml:"trace_exporter" envconfig:"TRACE_EXPORTER"`
	MetricExporter string  `yaml:"metric_exporter" envconfig:"METRIC_EXPORTER"`
	SampleRatio    float64 `yaml:"sample_ratio" envconfig:"SAMPLE_RATIO"`
}

// AnalysisConfig tunes the built-in analysis pipeline
type AnalysisConfig struct {
	UpstreamRPS   float64 `yaml:"upstream_rps" envconfig:"UPSTREAM_RPS"`
	UpstreamBurst int     `yaml:"upstream_burst" envconfig:"UPSTREAM_BURST"`
	Parallelism   int     `yaml:"parallelism" envconfig:"PARALLELISM"`
	// CacheTTL bounds how long upstream answers are reused. Zero disables
	// the cache.
	CacheTTL time.Duration `yaml:"cache_ttl" envconfig:"CACHE_TTL"`
}

// Load builds the configuration from defaults, then the optional YAML file,
// then STARDUST_* environment variables. Later sources win.
func Load() (*Config, error) {
	cfg := Default()

	if configFile := getConfigFilePath(); configFile != "" {
		if err := loadFromFile(configFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadFromFile overlays the YAML file onto cfg. Keys absent from the file
// keep their current values.
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// validate validates the configuration
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive")
	}

	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive")
	}

	if c.Server.SocketPath == "" || c.Server.SocketPath[0] != '/' {
		return fmt.Errorf("socket path must be absolute: %q", c.Server.SocketPath)
	}

	if c.Security.AdminIPv4 != AdminUnset {
		ip := net.ParseIP(c.Security.AdminIPv4)
		if ip == nil || ip.To4() == nil {
			return fmt.Errorf("admin ipv4 is not a valid IPv4 address: %q", c.Security.AdminIPv4)
		}
	}

	switch c.Store.Backend {
	case "redis":
		if c.Store.RedisAddr == "" {
			return fmt.Errorf("redis backend requires store.redis_addr")
		}
	case "pebble":
		if c.Store.PebbleDir == "" {
			return fmt.Errorf("pebble backend requires store.pebble_dir")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("sqlite backend requires store.sqlite_path")
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported store backend: %s", c.Store.Backend)
	}

	if c.Store.Scope == "" {
		return fmt.Errorf("store scope must not be empty")
	}

	if c.Queue.MaxActive <= 0 {
		return fmt.Errorf("queue max_active must be positive, got %d", c.Queue.MaxActive)
	}

	// JSON is the only supported log format.
	if c.Logging.Format != "json" {
		c.Logging.Format = "json"
	}

	switch c.Logging.Output {
	case "console", "file", "both":
	default:
		c.Logging.Output = "console"
	}

	if c.Logging.FilePath == "" {
		c.Logging.FilePath = "logs/stardust.log"
	}

	return nil
}

// getConfigFilePath returns the path to the config file, or "" when none exists
func getConfigFilePath() string {
	if explicit := os.Getenv(EnvPrefix + "_CONFIG"); explicit != "" {
		return explicit
	}

	locations := []string{
		"config.yaml",
		"configs/config.yaml",
		"../configs/config.yaml",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return ""
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            1996,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			SocketPath:      "/api/socket",
			DownloadDelay:   500 * time.Millisecond,
			NotFoundDelay:   time.Second,
		},
		Security: SecurityConfig{
			AllowedOrigins: []string{"http://localhost:3000"},
			EnableCORS:     true,
			AdminIPv4:      AdminUnset,
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     20,
				Burst:   40,
			},
		},
		Logging: LoggingConfig{
			Level:       "info",
			Format:      "json",
			Output:      "console",
			FilePath:    "logs/stardust.log",
			Development: false,
		},
		Store: StoreConfig{
			Backend:    "redis",
			Scope:      "stardust",
			RedisAddr:  "localhost:6379",
			PebbleDir:  "data/pebble",
			SQLitePath: "data/stardust.db",
			Timeout:    5 * time.Second,
		},
		Queue: QueueConfig{
			MaxActive:                5,
			DefaultMaxResults:        250,
			DefaultLimitStarsPerUser: 200,
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			PingPeriod:      54 * time.Second,
			PongWait:        60 * time.Second,
			WriteWait:       10 * time.Second,
			MaxMessageSize:  64 * 1024,
			SendBuffer:      256,
		},
		Telemetry: TelemetryConfig{
			Environment:    "development",
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			SampleRatio:    1.0,
		},
		Analysis: AnalysisConfig{
			UpstreamRPS:   10,
			UpstreamBurst: 5,
			Parallelism:   4,
			CacheTTL:      24 * time.Hour,
		},
	}
}
