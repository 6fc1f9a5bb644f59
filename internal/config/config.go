// ABOUTME: Configuration loading and parsing for coven-helpdesk
// ABOUTME: YAML or TOML files with ${VAR} expansion, .env loading and HELPDESK_* overrides

package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "HELPDESK_"

// DefaultDeletionDelay applies when bridge.deletion_delay is unset.
const DefaultDeletionDelay = 60 * time.Second

// Config represents the complete coven-helpdesk configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server" envPrefix:"SERVER_"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale" envPrefix:"TAILSCALE_"`
	Matrix    MatrixConfig    `yaml:"matrix" toml:"matrix" envPrefix:"MATRIX_"`
	Sunshine  SunshineConfig  `yaml:"sunshine" toml:"sunshine" envPrefix:"SUNSHINE_"`
	Zendesk   ZendeskConfig   `yaml:"zendesk" toml:"zendesk" envPrefix:"ZD_"`
	Bridge    BridgeConfig    `yaml:"bridge" toml:"bridge" envPrefix:"BRIDGE_"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging" envPrefix:"LOG_"`
	Metrics   MetricsConfig   `yaml:"metrics" toml:"metrics" envPrefix:"METRICS_"`
}

// ServerConfig holds the webhook listener address
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr" env:"HTTP_ADDR"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled" env:"ENABLED"`
	Hostname  string `yaml:"hostname" toml:"hostname" env:"HOSTNAME"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key" env:"AUTH_KEY"`
	StateDir  string `yaml:"state_dir" toml:"state_dir" env:"STATE_DIR"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral" env:"EPHEMERAL"`
	Funnel    bool   `yaml:"funnel" toml:"funnel" env:"FUNNEL"` // public HTTPS on :443, needed for webhooks from the internet
}

// MatrixConfig holds the bot account. Either access_token or username and
// password must be set.
type MatrixConfig struct {
	Homeserver  string `yaml:"homeserver" toml:"homeserver" env:"HOMESERVER"`
	UserID      string `yaml:"user_id" toml:"user_id" env:"USER_ID"`
	AccessToken string `yaml:"access_token" toml:"access_token" env:"ACCESS_TOKEN"`
	Username    string `yaml:"username" toml:"username" env:"USERNAME"`
	Password    string `yaml:"password" toml:"password" env:"PASSWORD"`
	Encryption  bool   `yaml:"encryption" toml:"encryption" env:"ENCRYPTION"`
	RecoveryKey string `yaml:"recovery_key" toml:"recovery_key" env:"RECOVERY_KEY"`
	DataDir     string `yaml:"data_dir" toml:"data_dir" env:"DATA_DIR"`
	CacheSize   int    `yaml:"cache_size" toml:"cache_size" env:"CACHE_SIZE"`
}

// SunshineConfig holds the Sunshine Conversations app credentials
type SunshineConfig struct {
	Endpoint      string        `yaml:"endpoint" toml:"endpoint" env:"ENDPOINT"`
	AppID         string        `yaml:"app_id" toml:"app_id" env:"APP_ID"`
	KeyID         string        `yaml:"key_id" toml:"key_id" env:"KEY_ID"`
	KeySecret     string        `yaml:"key_secret" toml:"key_secret" env:"KEY_SECRET"`
	WebhookSecret string        `yaml:"webhook_secret" toml:"webhook_secret" env:"WEBHOOK_SECRET"`
	Timeout       time.Duration `yaml:"-" toml:"-"`

	TimeoutRaw string `yaml:"timeout" toml:"timeout" env:"TIMEOUT"`
}

// ZendeskConfig holds the ticketing webhook signing secret
type ZendeskConfig struct {
	WebhookSecret string `yaml:"webhook_secret" toml:"webhook_secret" env:"WEBHOOK_SECRET"`
}

// BridgeConfig holds bridge behavior
type BridgeConfig struct {
	DeletionDelay time.Duration `yaml:"-" toml:"-"`
	// Admins may run the support command. Empty allows everyone.
	Admins        []string `yaml:"admins" toml:"admins" env:"ADMINS"`
	NotifyWebhook string   `yaml:"notify_webhook" toml:"notify_webhook" env:"NOTIFY_WEBHOOK"`
	Space         string   `yaml:"space" toml:"space" env:"SPACE"`
	CommandPrefix string   `yaml:"command_prefix" toml:"command_prefix" env:"COMMAND_PREFIX"`
	AutoJoinFrom  []string `yaml:"auto_join_from" toml:"auto_join_from" env:"AUTO_JOIN_FROM"`

	DeletionDelayRaw string `yaml:"deletion_delay" toml:"deletion_delay" env:"DELETION_DELAY"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level" env:"LEVEL"`
	Format string `yaml:"format" toml:"format" env:"FORMAT"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled" env:"ENABLED"`
	Path    string `yaml:"path" toml:"path" env:"PATH"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads a configuration file and returns a validated Config.
//
// A .env file next to the config is loaded first without overriding the
// existing environment. ${VAR_NAME} references in the file are then expanded,
// and finally HELPDESK_* variables override individual fields.
func Load(path string) (*Config, error) {
	cfg, err := parse(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// LoadUnvalidated is Load without the final Validate, for tooling that
// reports problems itself.
func LoadUnvalidated(path string) (*Config, error) {
	return parse(path)
}

func parse(path string) (*Config, error) {
	if err := loadDotEnv(filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	expanded := expandEnvVars(string(data))

	var cfg Config
	if isTOML(path) {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func (c *Config) applyDefaults() {
	if c.Bridge.DeletionDelay <= 0 {
		c.Bridge.DeletionDelay = DefaultDeletionDelay
	}
	if c.Bridge.CommandPrefix == "" {
		c.Bridge.CommandPrefix = "!"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Matrix.Homeserver == "" {
		return fmt.Errorf("matrix.homeserver is required")
	}
	if c.Matrix.AccessToken != "" && c.Matrix.UserID == "" {
		return fmt.Errorf("matrix.user_id is required with matrix.access_token")
	}
	if c.Matrix.AccessToken == "" && (c.Matrix.Username == "" || c.Matrix.Password == "") {
		return fmt.Errorf("matrix.access_token or matrix.username and matrix.password are required")
	}

	required := []struct{ name, value string }{
		{"sunshine.endpoint", c.Sunshine.Endpoint},
		{"sunshine.app_id", c.Sunshine.AppID},
		{"sunshine.key_id", c.Sunshine.KeyID},
		{"sunshine.key_secret", c.Sunshine.KeySecret},
		{"sunshine.webhook_secret", c.Sunshine.WebhookSecret},
		{"zendesk.webhook_secret", c.Zendesk.WebhookSecret},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%s is required", r.name)
		}
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q must be debug, info, warn or error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format %q must be text or json", c.Logging.Format)
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Bridge.DeletionDelayRaw != "" {
		cfg.Bridge.DeletionDelay, err = time.ParseDuration(cfg.Bridge.DeletionDelayRaw)
		if err != nil {
			return fmt.Errorf("parsing deletion_delay %q: %w", cfg.Bridge.DeletionDelayRaw, err)
		}
	}

	if cfg.Sunshine.TimeoutRaw != "" {
		cfg.Sunshine.Timeout, err = time.ParseDuration(cfg.Sunshine.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing timeout %q: %w", cfg.Sunshine.TimeoutRaw, err)
		}
	}

	return nil
}

// Template returns a starting configuration with placeholders for secrets.
func Template() *Config {
	return &Config{
		Server: ServerConfig{HTTPAddr: "0.0.0.0:8080"},
		Tailscale: TailscaleConfig{
			Hostname: "coven-helpdesk",
			AuthKey:  "${TS_AUTHKEY}",
			Funnel:   true,
		},
		Matrix: MatrixConfig{
			Homeserver:  "https://matrix.example.org",
			UserID:      "@helpdesk:example.org",
			AccessToken: "${MATRIX_ACCESS_TOKEN}",
			DataDir:     "./data",
		},
		Sunshine: SunshineConfig{
			Endpoint:      "https://api.smooch.io/v2/apps/{appId}",
			AppID:         "${SUNSHINE_APP_ID}",
			KeyID:         "${SUNSHINE_KEY_ID}",
			KeySecret:     "${SUNSHINE_KEY_SECRET}",
			WebhookSecret: "${SUNSHINE_WEBHOOK_SECRET}",
			TimeoutRaw:    "30s",
		},
		Zendesk: ZendeskConfig{WebhookSecret: "${ZENDESK_WEBHOOK_SECRET}"},
		Bridge: BridgeConfig{
			DeletionDelayRaw: DefaultDeletionDelay.String(),
			CommandPrefix:    "!",
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

// Encode serializes cfg in the format implied by path's extension.
func Encode(cfg *Config, path string) ([]byte, error) {
	if isTOML(path) {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return nil, fmt.Errorf("encoding toml: %w", err)
		}
		return buf.Bytes(), nil
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encoding yaml: %w", err)
	}
	return data, nil
}
