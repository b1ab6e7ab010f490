// Package config handles configuration loading for loginwatch.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"loginwatch/internal/session"
)

// Port bounds for the listening sockets. Privileged ports are refused
// outright rather than failing later with EACCES.
const (
	MinPort = 1024
	MaxPort = 65535
)

// Config holds the complete application configuration.
type Config struct {
	Ingest    IngestConfig    `yaml:"ingest"`
	API       APIConfig       `yaml:"api"`
	Detection DetectionConfig `yaml:"detection"`
	Session   SessionConfig   `yaml:"session"`
	Storage   StorageConfig   `yaml:"storage"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// IngestConfig holds observation-ingest server settings.
type IngestConfig struct {
	TCP  TCPIngestConfig  `yaml:"tcp"`
	DTLS DTLSIngestConfig `yaml:"dtls"`
}

// TCPIngestConfig holds the newline-delimited JSON TCP listener
// settings.
type TCPIngestConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	MaxConnections int           `yaml:"max_connections"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	MaxLineLength  int           `yaml:"max_line_length"`
	TLSEnabled     bool          `yaml:"tls_enabled"`
	TLSCertFile    string        `yaml:"tls_cert_file"`
	TLSKeyFile     string        `yaml:"tls_key_file"`
}

// DTLSIngestConfig holds the DTLS (secure UDP) listener settings.
type DTLSIngestConfig struct {
	Enabled           bool          `yaml:"enabled"`
	Host              string        `yaml:"host"`
	Port              int           `yaml:"port"`
	CertFile          string        `yaml:"cert_file"`
	KeyFile           string        `yaml:"key_file"`
	MaxMessageSize    int           `yaml:"max_message_size"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// APIConfig holds HTTP API server settings.
type APIConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DetectionConfig holds login-detection settings.
type DetectionConfig struct {
	ProviderHost    string        `yaml:"provider_host"`
	CallbackTimeout time.Duration `yaml:"callback_timeout"`
}

// SessionConfig selects the session tracker backend.
type SessionConfig struct {
	Backend string      `yaml:"backend"` // "memory" or "redis"
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis connection settings for the shared tracker.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// StorageConfig selects the event store backend.
type StorageConfig struct {
	Backend    string           `yaml:"backend"` // "clickhouse" or "memory"
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
}

// ClickHouseConfig holds ClickHouse connection settings.
type ClickHouseConfig struct {
	Hosts           []string      `yaml:"hosts"`
	Database        string        `yaml:"database"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	DialTimeout     time.Duration `yaml:"dial_timeout"`
}

// KafkaConfig holds the optional login-event publisher settings.
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// ArchiveConfig holds the optional S3 export settings.
type ArchiveConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Bucket   string        `yaml:"bucket"`
	Prefix   string        `yaml:"prefix"`
	Region   string        `yaml:"region"`
	Endpoint string        `yaml:"endpoint"` // For S3-compatible stores
	Interval time.Duration `yaml:"interval"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Ingest: IngestConfig{
			TCP: TCPIngestConfig{
				Enabled:        true,
				Host:           "127.0.0.1",
				Port:           8080,
				MaxConnections: 64,
				IdleTimeout:    5 * time.Minute,
				MaxLineLength:  64 * 1024,
			},
			DTLS: DTLSIngestConfig{
				Enabled:           false, // Enable when certificates are configured
				Host:              "127.0.0.1",
				Port:              8082,
				MaxMessageSize:    64 * 1024,
				ConnectionTimeout: 30 * time.Second,
			},
		},
		API: APIConfig{
			Host:         "127.0.0.1",
			Port:         8081,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Detection: DetectionConfig{
			ProviderHost:    "login.microsoftonline.com",
			CallbackTimeout: session.DefaultTimeout,
		},
		Session: SessionConfig{
			Backend: "memory",
			Redis: RedisConfig{
				Addr: "localhost:6379",
			},
		},
		Storage: StorageConfig{
			Backend: "clickhouse",
			ClickHouse: ClickHouseConfig{
				Hosts:           []string{"localhost:9000"},
				Database:        "loginwatch",
				Username:        "default",
				Password:        "",
				MaxOpenConns:    10,
				MaxIdleConns:    5,
				ConnMaxLifetime: time.Hour,
				DialTimeout:     10 * time.Second,
			},
		},
		Kafka: KafkaConfig{
			Enabled: false,
			Brokers: []string{"localhost:9092"},
			Topic:   "login-events",
		},
		Archive: ArchiveConfig{
			Enabled:  false,
			Prefix:   "login-events",
			Region:   "us-east-1",
			Interval: time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from a file or returns defaults. The path
// comes from LOGINWATCH_CONFIG_PATH; a missing file is not an error.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configPath := os.Getenv("LOGINWATCH_CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if port := os.Getenv("LOGINWATCH_INGEST_PORT"); port != "" {
		fmt.Sscanf(port, "%d", &c.Ingest.TCP.Port)
	}

	if port := os.Getenv("LOGINWATCH_API_PORT"); port != "" {
		fmt.Sscanf(port, "%d", &c.API.Port)
	}

	if host := os.Getenv("LOGINWATCH_PROVIDER_HOST"); host != "" {
		c.Detection.ProviderHost = host
	}

	if timeout := os.Getenv("LOGINWATCH_CALLBACK_TIMEOUT"); timeout != "" {
		var secs int
		if _, err := fmt.Sscanf(timeout, "%d", &secs); err == nil {
			c.Detection.CallbackTimeout = time.Duration(secs) * time.Second
		}
	}

	if level := os.Getenv("LOGINWATCH_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}

	if backend := os.Getenv("LOGINWATCH_STORAGE_BACKEND"); backend != "" {
		c.Storage.Backend = backend
	}

	if host := os.Getenv("CLICKHOUSE_HOST"); host != "" {
		c.Storage.ClickHouse.Hosts = []string{host}
	}

	if db := os.Getenv("CLICKHOUSE_DATABASE"); db != "" {
		c.Storage.ClickHouse.Database = db
	}

	if user := os.Getenv("CLICKHOUSE_USER"); user != "" {
		c.Storage.ClickHouse.Username = user
	}

	if pass := os.Getenv("CLICKHOUSE_PASSWORD"); pass != "" {
		c.Storage.ClickHouse.Password = pass
	}

	if backend := os.Getenv("LOGINWATCH_SESSION_BACKEND"); backend != "" {
		c.Session.Backend = backend
	}

	if addr := os.Getenv("LOGINWATCH_REDIS_ADDR"); addr != "" {
		c.Session.Redis.Addr = addr
	}

	if brokers := os.Getenv("LOGINWATCH_KAFKA_BROKERS"); brokers != "" {
		c.Kafka.Brokers = splitAndTrim(brokers, ",")
		c.Kafka.Enabled = true
	}

	if bucket := os.Getenv("LOGINWATCH_ARCHIVE_BUCKET"); bucket != "" {
		c.Archive.Bucket = bucket
		c.Archive.Enabled = true
	}
}

// splitAndTrim splits a string by separator and trims whitespace from
// each part, dropping empties.
func splitAndTrim(s, sep string) []string {
	parts := make([]string, 0)
	for _, part := range strings.Split(s, sep) {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := validatePort("ingest.tcp.port", c.Ingest.TCP.Port); err != nil {
		return err
	}

	if err := validatePort("api.port", c.API.Port); err != nil {
		return err
	}

	if c.Ingest.TCP.Port == c.API.Port {
		return fmt.Errorf("ingest.tcp.port and api.port must differ, both are %d", c.API.Port)
	}

	if c.Ingest.TCP.TLSEnabled {
		if c.Ingest.TCP.TLSCertFile == "" || c.Ingest.TCP.TLSKeyFile == "" {
			return fmt.Errorf("ingest.tcp TLS requires tls_cert_file and tls_key_file")
		}
	}

	if c.Ingest.DTLS.Enabled {
		if err := validatePort("ingest.dtls.port", c.Ingest.DTLS.Port); err != nil {
			return err
		}
		if c.Ingest.DTLS.CertFile == "" || c.Ingest.DTLS.KeyFile == "" {
			return fmt.Errorf("ingest.dtls requires cert_file and key_file")
		}
	}

	if c.Detection.ProviderHost == "" {
		return fmt.Errorf("detection.provider_host must not be empty")
	}

	if c.Detection.CallbackTimeout < session.MinTimeout || c.Detection.CallbackTimeout > session.MaxTimeout {
		return fmt.Errorf("detection.callback_timeout must be between %s and %s, got %s",
			session.MinTimeout, session.MaxTimeout, c.Detection.CallbackTimeout)
	}

	switch c.Session.Backend {
	case "memory":
	case "redis":
		if c.Session.Redis.Addr == "" {
			return fmt.Errorf("session.redis.addr must not be empty")
		}
	default:
		return fmt.Errorf("unknown session backend %q", c.Session.Backend)
	}

	switch c.Storage.Backend {
	case "memory":
	case "clickhouse":
		if len(c.Storage.ClickHouse.Hosts) == 0 {
			return fmt.Errorf("storage.clickhouse.hosts must not be empty")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka.brokers must not be empty when kafka is enabled")
		}
		if c.Kafka.Topic == "" {
			return fmt.Errorf("kafka.topic must not be empty when kafka is enabled")
		}
	}

	if c.Archive.Enabled {
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket must not be empty when archiving is enabled")
		}
		if c.Archive.Interval <= 0 {
			return fmt.Errorf("archive.interval must be positive")
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}

	return nil
}

func validatePort(name string, port int) error {
	if port < MinPort || port > MaxPort {
		return fmt.Errorf("%s must be between %d and %d, got %d", name, MinPort, MaxPort, port)
	}
	return nil
}
