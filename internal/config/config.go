// ABOUTME: Configuration loading and parsing for zenbridge
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete zenbridge configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	Transport TransportConfig `yaml:"transport"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration. An empty JWTSecret runs the
// server in anonymous mode: requests are not authenticated and user identity
// comes from request parameters.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// BridgeConfig holds integration lifecycle timing configuration
type BridgeConfig struct {
	InitializationTimeout time.Duration `yaml:"-"`
	VerificationTimeout   time.Duration `yaml:"-"`
	HealthCheckInterval   time.Duration `yaml:"-"`
	RecoveryBaseDelay     time.Duration `yaml:"-"`
	RecoveryMaxDelay      time.Duration `yaml:"-"`

	RecoveryMaxAttempts int `yaml:"recovery_max_attempts"`

	// Raw string values for YAML unmarshaling
	InitializationTimeoutRaw string `yaml:"initialization_timeout"`
	VerificationTimeoutRaw   string `yaml:"verification_timeout"`
	HealthCheckIntervalRaw   string `yaml:"health_check_interval"`
	RecoveryBaseDelayRaw     string `yaml:"recovery_base_delay"`
	RecoveryMaxDelayRaw      string `yaml:"recovery_max_delay"`
}

// TransportConfig holds websocket delivery configuration
type TransportConfig struct {
	SendTimeout time.Duration `yaml:"-"`

	BufferSize     int      `yaml:"buffer_size"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	// Raw string value for YAML unmarshaling
	SendTimeoutRaw string `yaml:"send_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Bridge.RecoveryMaxAttempts < 0 {
		return fmt.Errorf("bridge.recovery_max_attempts must not be negative")
	}

	if c.Transport.BufferSize < 0 {
		return fmt.Errorf("transport.buffer_size must not be negative")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values.
// Empty raw values stay zero; consumers apply their own defaults.
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"initialization_timeout", cfg.Bridge.InitializationTimeoutRaw, &cfg.Bridge.InitializationTimeout},
		{"verification_timeout", cfg.Bridge.VerificationTimeoutRaw, &cfg.Bridge.VerificationTimeout},
		{"health_check_interval", cfg.Bridge.HealthCheckIntervalRaw, &cfg.Bridge.HealthCheckInterval},
		{"recovery_base_delay", cfg.Bridge.RecoveryBaseDelayRaw, &cfg.Bridge.RecoveryBaseDelay},
		{"recovery_max_delay", cfg.Bridge.RecoveryMaxDelayRaw, &cfg.Bridge.RecoveryMaxDelay},
		{"send_timeout", cfg.Transport.SendTimeoutRaw, &cfg.Transport.SendTimeout},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d < 0 {
			return fmt.Errorf("parsing %s %q: duration must not be negative", f.name, f.raw)
		}
		*f.dst = d
	}

	return nil
}
