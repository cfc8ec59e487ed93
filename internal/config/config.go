package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// EnvPrefix namespaces every environment variable read by Load.
const EnvPrefix = "LICENSE"

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Security  SecurityConfig  `yaml:"security" envconfig:"SECURITY"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Store     StoreConfig     `yaml:"store" envconfig:"STORE"`
	Authority AuthorityConfig `yaml:"authority" envconfig:"AUTHORITY"`
	Keys      KeysConfig      `yaml:"keys" envconfig:"KEYS"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host" envconfig:"HOST" default:""`
	Port            int           `yaml:"port" envconfig:"PORT" default:"3000"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"30s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" envconfig:"MAX_HEADER_BYTES" default:"1048576"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
	RequestTimeout  time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT" default:"20s"`
}

// Address returns the listen address for http.Server.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// SecurityConfig contains the administrative secrets and CORS policy.
type SecurityConfig struct {
	AdminSecret    string   `yaml:"admin_secret" envconfig:"ADMIN_SECRET"`
	ResetSecret    string   `yaml:"reset_secret" envconfig:"RESET_SECRET"`
	AllowedOrigins []string `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS" default:"*"`
	EnableCORS     bool     `yaml:"enable_cors" envconfig:"ENABLE_CORS" default:"true"`
}

// EffectiveResetSecret returns the secret guarding record resets. Without a
// dedicated reset secret the admin secret is used.
func (s SecurityConfig) EffectiveResetSecret() string {
	if s.ResetSecret != "" {
		return s.ResetSecret
	}
	return s.AdminSecret
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Format   string `yaml:"format" envconfig:"FORMAT" default:"json"`
	Output   string `yaml:"output" envconfig:"OUTPUT" default:"stdout"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/license-server.log"`
}

// StoreConfig selects and configures the record store.
type StoreConfig struct {
	Driver          string        `yaml:"driver" envconfig:"DRIVER" default:"file"`
	Path            string        `yaml:"path" envconfig:"PATH" default:"license_db.json"`
	DSN             string        `yaml:"dsn" envconfig:"DSN"`
	RedisURL        string        `yaml:"redis_url" envconfig:"REDIS_URL"`
	KeyPrefix       string        `yaml:"key_prefix" envconfig:"KEY_PREFIX" default:"license:"`
	MaxOpenConns    int           `yaml:"max_open_conns" envconfig:"MAX_OPEN_CONNS" default:"10"`
	MaxIdleConns    int           `yaml:"max_idle_conns" envconfig:"MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" envconfig:"CONN_MAX_LIFETIME" default:"30m"`
}

// AuthorityConfig configures the external verification authority consulted
// for identifiers that are not yet known locally.
type AuthorityConfig struct {
	Kind                  string        `yaml:"kind" envconfig:"KIND" default:"none"`
	URL                   string        `yaml:"url" envconfig:"URL"`
	Timeout               time.Duration `yaml:"timeout" envconfig:"TIMEOUT" default:"10s"`
	UserAgent             string        `yaml:"user_agent" envconfig:"USER_AGENT" default:"licenselock/1.0"`
	SharedSecret          string        `yaml:"shared_secret" envconfig:"SHARED_SECRET"`
	SheetID               string        `yaml:"sheet_id" envconfig:"SHEET_ID"`
	SheetName             string        `yaml:"sheet_name" envconfig:"SHEET_NAME" default:"Licenses"`
	CredentialsFile       string        `yaml:"credentials_file" envconfig:"CREDENTIALS_FILE"`
	CredentialsPassphrase string        `yaml:"credentials_passphrase" envconfig:"CREDENTIALS_PASSPHRASE"`
}

// KeysConfig shapes generated license identifiers.
type KeysConfig struct {
	Prefix    string `yaml:"prefix" envconfig:"PREFIX" default:"LIC"`
	Groups    int    `yaml:"groups" envconfig:"GROUPS" default:"3"`
	GroupSize int    `yaml:"group_size" envconfig:"GROUP_SIZE" default:"4"`
	Separator string `yaml:"separator" envconfig:"SEPARATOR" default:"-"`
}

// TelemetryConfig configures OpenTelemetry exporters.
type TelemetryConfig struct {
	ServiceName    string  `yaml:"service_name" envconfig:"SERVICE_NAME" default:"license-server"`
	ServiceVersion string  `yaml:"service_version" envconfig:"SERVICE_VERSION" default:"1.0.0"`
	Environment    string  `yaml:"environment" envconfig:"ENVIRONMENT" default:"development"`
	TraceExporter  string  `yaml:"trace_exporter" envconfig:"TRACE_EXPORTER" default:"none"`
	MetricExporter string  `yaml:"metric_exporter" envconfig:"METRIC_EXPORTER" default:"prometheus"`
	SampleRatio    float64 `yaml:"sample_ratio" envconfig:"SAMPLE_RATIO" default:"1.0"`
}

// Load loads configuration from environment variables and an optional YAML
// file. The file path comes from LICENSE_CONFIG_FILE; an empty value skips it.
func Load() (*Config, error) {
	return LoadFile(os.Getenv(EnvPrefix + "_CONFIG_FILE"))
}

// LoadFile loads configuration with an explicit YAML file path. Values present
// in the file override environment values and defaults.
func LoadFile(path string) (*Config, error) {
	var cfg Config

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if path != "" {
		if err := loadFromFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := applyLegacyEnv(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadFromFile overlays the YAML document onto cfg.
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyLegacyEnv honours the bare PORT and DB_PATH variables understood by
// older deployments when the prefixed variables are absent.
func applyLegacyEnv(cfg *Config) error {
	if _, set := os.LookupEnv(EnvPrefix + "_SERVER_PORT"); !set {
		if raw := os.Getenv("PORT"); raw != "" {
			port, err := strconv.Atoi(raw)
			if err != nil {
				return fmt.Errorf("invalid PORT %q: %w", raw, err)
			}
			cfg.Server.Port = port
		}
	}
	if _, set := os.LookupEnv(EnvPrefix + "_STORE_PATH"); !set {
		if raw := os.Getenv("DB_PATH"); raw != "" {
			cfg.Store.Path = raw
		}
	}
	return nil
}

// Validate checks the configuration and normalizes enumerated values.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive")
	}

	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive")
	}

	// The handler must be able to write its 504 before the connection's
	// write deadline.
	if c.Server.RequestTimeout >= c.Server.WriteTimeout {
		return fmt.Errorf("server request timeout (%s) must be shorter than write timeout (%s)",
			c.Server.RequestTimeout, c.Server.WriteTimeout)
	}

	if c.Security.EnableCORS && len(c.Security.AllowedOrigins) == 0 {
		return fmt.Errorf("at least one allowed origin must be specified")
	}

	c.Store.Driver = strings.ToLower(c.Store.Driver)
	switch c.Store.Driver {
	case StoreMemory:
	case StoreFile:
		if c.Store.Path == "" {
			return fmt.Errorf("store path is required for the file driver")
		}
	case StorePostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store dsn is required for the postgres driver")
		}
	case StoreRedis:
		if c.Store.RedisURL == "" {
			return fmt.Errorf("store redis_url is required for the redis driver")
		}
	default:
		return fmt.Errorf("unsupported store driver: %s", c.Store.Driver)
	}

	c.Authority.Kind = strings.ToLower(c.Authority.Kind)
	switch c.Authority.Kind {
	case AuthorityNone:
	case AuthorityHTTP:
		if c.Authority.URL == "" {
			return fmt.Errorf("authority url is required for the http authority")
		}
	case AuthoritySheets:
		if c.Authority.SheetID == "" {
			return fmt.Errorf("authority sheet_id is required for the sheets authority")
		}
		if c.Authority.CredentialsFile == "" {
			return fmt.Errorf("authority credentials_file is required for the sheets authority")
		}
	default:
		return fmt.Errorf("unsupported authority kind: %s", c.Authority.Kind)
	}
	if c.Authority.Timeout <= 0 {
		c.Authority.Timeout = DefaultAuthorityTimeout
	}

	if c.Keys.Groups <= 0 || c.Keys.GroupSize <= 0 {
		return fmt.Errorf("key groups and group size must be positive")
	}

	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		c.Logging.Format = "json"
	}

	if c.Logging.FilePath == "" {
		c.Logging.FilePath = DefaultLogFile
	}

	return nil
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            DefaultPort,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			MaxHeaderBytes:  1 << 20, // 1MB
			ShutdownTimeout: 30 * time.Second,
			RequestTimeout:  20 * time.Second,
		},
		Security: SecurityConfig{
			AllowedOrigins: []string{"*"},
			EnableCORS:     true,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "stdout",
			FilePath: DefaultLogFile,
		},
		Store: StoreConfig{
			Driver:          StoreFile,
			Path:            DefaultStorePath,
			KeyPrefix:       "license:",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Authority: AuthorityConfig{
			Kind:      AuthorityNone,
			Timeout:   DefaultAuthorityTimeout,
			UserAgent: "licenselock/1.0",
			SheetName: "Licenses",
		},
		Keys: KeysConfig{
			Prefix:    DefaultKeyPrefix,
			Groups:    3,
			GroupSize: 4,
			Separator: "-",
		},
		Telemetry: TelemetryConfig{
			ServiceName:    AppName,
			ServiceVersion: AppVersion,
			Environment:    "development",
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			SampleRatio:    1.0,
		},
	}
}
