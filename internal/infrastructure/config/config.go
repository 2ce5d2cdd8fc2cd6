package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for RelayKVM Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Streamer  StreamerConfig  `yaml:"streamer"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Security  SecurityConfig  `yaml:"security"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SiteConfig identifies this appliance.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// StreamerConfig contains the video streamer supervisor settings.
type StreamerConfig struct {
	// GPIOChip is the GPIO character device driving the power rails.
	// Default: "/dev/gpiochip0"
	GPIOChip string `yaml:"gpio_chip"`

	// CapPowerLine is the GPIO line for the capture board power rail.
	// A value <= 0 means the capture stage has no power control.
	CapPowerLine int `yaml:"cap_power_line"`

	// ConvPowerLine is the GPIO line for the HDMI converter power rail.
	// A value <= 0 means the converter stage has no power control.
	ConvPowerLine int `yaml:"conv_power_line"`

	// Bind is the USB interface system name of the capture device
	// (e.g. "1-1.4:1.0"). Device nodes are not stable across reconnects,
	// so the supervisor re-resolves the /dev path from this bind on every
	// restart. Empty means the command carries a static device path.
	Bind string `yaml:"bind"`

	// SyncDelaySeconds is the pause between enabling the capture rail
	// and enabling the converter rail during power-on.
	SyncDelaySeconds float64 `yaml:"sync_delay"`

	// InitDelaySeconds is the pause after full power-on before the
	// device is considered usable.
	InitDelaySeconds float64 `yaml:"init_delay"`

	// Width and Height are the capture resolution, substituted into the
	// command template.
	Width  int `yaml:"width"`
	Height int `yaml:"height"`

	// Command is the streamer command template. Arguments may contain the
	// placeholders {width}, {height} and {device}.
	Command []string `yaml:"command"`

	// RestartCooldownSeconds is the pause before the supervisor retries
	// after a failure. Default: 1.
	RestartCooldownSeconds float64 `yaml:"restart_cooldown"`
}

// DatabaseConfig contains SQLite database settings for the event journal.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig contains InfluxDB telemetry settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT  JWTConfig       `yaml:"jwt"`
	Auth LocalAuthConfig `yaml:"auth"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"` // minutes
}

// LocalAuthConfig contains the local API credentials.
// RelayKVM is a single-operator appliance; there is no user database.
type LocalAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: RELAYKVM_SECTION_KEY
// For example: RELAYKVM_DATABASE_PATH, RELAYKVM_STREAMER_BIND
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "relaykvm-001",
			Name: "RelayKVM",
		},
		Streamer: StreamerConfig{
			GPIOChip:               "/dev/gpiochip0",
			SyncDelaySeconds:       0.3,
			InitDelaySeconds:       1.0,
			Width:                  1920,
			Height:                 1080,
			RestartCooldownSeconds: 1,
		},
		Database: DatabaseConfig{
			Path:        "./data/relaykvm.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "relaykvm-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 15,
			},
			Auth: LocalAuthConfig{
				Username: "admin",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: RELAYKVM_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Streamer
	if v := os.Getenv("RELAYKVM_STREAMER_BIND"); v != "" {
		cfg.Streamer.Bind = v
	}
	if v := os.Getenv("RELAYKVM_STREAMER_GPIO_CHIP"); v != "" {
		cfg.Streamer.GPIOChip = v
	}

	// Database
	if v := os.Getenv("RELAYKVM_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("RELAYKVM_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("RELAYKVM_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("RELAYKVM_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("RELAYKVM_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("RELAYKVM_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// InfluxDB
	if v := os.Getenv("RELAYKVM_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Security (IMPORTANT: always override in production)
	if v := os.Getenv("RELAYKVM_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
	if v := os.Getenv("RELAYKVM_AUTH_PASSWORD"); v != "" {
		cfg.Security.Auth.Password = v
	}
}

// Validate checks the configuration for errors and security issues.
func (c *Config) Validate() error {
	var errs []string

	// Site validation
	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	// Streamer validation. Placeholder syntax inside the command template
	// is validated by the streamer package at construction.
	if len(c.Streamer.Command) == 0 {
		errs = append(errs, "streamer.command is required")
	}
	if c.Streamer.Width <= 0 || c.Streamer.Height <= 0 {
		errs = append(errs, "streamer.width and streamer.height must be positive")
	}
	if c.Streamer.SyncDelaySeconds < 0 || c.Streamer.InitDelaySeconds < 0 {
		errs = append(errs, "streamer delays must not be negative")
	}
	if (c.Streamer.CapPowerLine > 0 || c.Streamer.ConvPowerLine > 0) && c.Streamer.GPIOChip == "" {
		errs = append(errs, "streamer.gpio_chip is required when power lines are configured")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Security validation - JWT secret is REQUIRED.
	// The API controls physical hardware; a weak secret would let an
	// attacker forge tokens and drive the power rails.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set RELAYKVM_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}
	if c.Security.Auth.Password == "" {
		errs = append(errs, "security.auth.password is required (set RELAYKVM_AUTH_PASSWORD environment variable)")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// secondsToDuration converts a fractional seconds value to a Duration.
func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

// GetSyncDelay returns the power-on inter-stage delay as a Duration.
func (c *StreamerConfig) GetSyncDelay() time.Duration {
	return secondsToDuration(c.SyncDelaySeconds)
}

// GetInitDelay returns the post-power-on settle delay as a Duration.
func (c *StreamerConfig) GetInitDelay() time.Duration {
	return secondsToDuration(c.InitDelaySeconds)
}

// GetRestartCooldown returns the supervisor retry cooldown as a Duration.
func (c *StreamerConfig) GetRestartCooldown() time.Duration {
	return secondsToDuration(c.RestartCooldownSeconds)
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
