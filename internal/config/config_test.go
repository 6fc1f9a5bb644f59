// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, overrides and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validYAML = `
server:
  http_addr: "0.0.0.0:8080"

matrix:
  homeserver: "https://matrix.example.org"
  user_id: "@helpdesk:example.org"
  access_token: "syt_token"

sunshine:
  endpoint: "https://api.smooch.io/v2/apps/{appId}/"
  app_id: "app1"
  key_id: "key1"
  key_secret: "secret1"
  webhook_secret: "hook1"
  timeout: "10s"

zendesk:
  webhook_secret: "zd1"

bridge:
  deletion_delay: "2m"
  admins:
    - "@ops:example.org"
  space: "!space:example.org"
  auto_join_from:
    - "@ops:example.org"

logging:
  level: "debug"
  format: "json"

metrics:
  enabled: true
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, "config.yaml", validYAML))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:8080")
	}
	if cfg.Matrix.UserID != "@helpdesk:example.org" {
		t.Errorf("Matrix.UserID = %q", cfg.Matrix.UserID)
	}
	if cfg.Sunshine.AppID != "app1" || cfg.Sunshine.WebhookSecret != "hook1" {
		t.Errorf("Sunshine = %+v", cfg.Sunshine)
	}
	if cfg.Sunshine.Timeout != 10*time.Second {
		t.Errorf("Sunshine.Timeout = %v, want 10s", cfg.Sunshine.Timeout)
	}
	if cfg.Zendesk.WebhookSecret != "zd1" {
		t.Errorf("Zendesk.WebhookSecret = %q", cfg.Zendesk.WebhookSecret)
	}
	if cfg.Bridge.DeletionDelay != 2*time.Minute {
		t.Errorf("Bridge.DeletionDelay = %v, want 2m", cfg.Bridge.DeletionDelay)
	}
	if len(cfg.Bridge.Admins) != 1 || cfg.Bridge.Admins[0] != "@ops:example.org" {
		t.Errorf("Bridge.Admins = %v", cfg.Bridge.Admins)
	}
	if cfg.Bridge.CommandPrefix != "!" {
		t.Errorf("Bridge.CommandPrefix = %q, want default %q", cfg.Bridge.CommandPrefix, "!")
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics = %+v", cfg.Metrics)
	}
}

func TestLoad_TOML(t *testing.T) {
	content := `
[server]
http_addr = "127.0.0.1:9000"

[matrix]
homeserver = "https://matrix.example.org"
username = "helpdesk"
password = "hunter2"

[sunshine]
endpoint = "https://api.smooch.io"
app_id = "app1"
key_id = "key1"
key_secret = "secret1"
webhook_secret = "hook1"

[zendesk]
webhook_secret = "zd1"

[bridge]
command_prefix = "/hd "
`
	cfg, err := Load(writeConfig(t, "config.toml", content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.HTTPAddr != "127.0.0.1:9000" {
		t.Errorf("Server.HTTPAddr = %q", cfg.Server.HTTPAddr)
	}
	if cfg.Matrix.Username != "helpdesk" {
		t.Errorf("Matrix.Username = %q", cfg.Matrix.Username)
	}
	if cfg.Bridge.CommandPrefix != "/hd " {
		t.Errorf("Bridge.CommandPrefix = %q", cfg.Bridge.CommandPrefix)
	}
	if cfg.Bridge.DeletionDelay != DefaultDeletionDelay {
		t.Errorf("Bridge.DeletionDelay = %v, want default %v", cfg.Bridge.DeletionDelay, DefaultDeletionDelay)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_HELPDESK_TOKEN", "expanded-token")
	content := strings.Replace(validYAML, `"syt_token"`, `"${TEST_HELPDESK_TOKEN}"`, 1)

	cfg, err := Load(writeConfig(t, "config.yaml", content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Matrix.AccessToken != "expanded-token" {
		t.Errorf("Matrix.AccessToken = %q, want %q", cfg.Matrix.AccessToken, "expanded-token")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("HELPDESK_ZD_WEBHOOK_SECRET", "from-env")
	t.Setenv("HELPDESK_BRIDGE_ADMINS", "@a:x,@b:x")
	t.Setenv("HELPDESK_BRIDGE_DELETION_DELAY", "5s")

	cfg, err := Load(writeConfig(t, "config.yaml", validYAML))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Zendesk.WebhookSecret != "from-env" {
		t.Errorf("Zendesk.WebhookSecret = %q, want %q", cfg.Zendesk.WebhookSecret, "from-env")
	}
	if len(cfg.Bridge.Admins) != 2 || cfg.Bridge.Admins[1] != "@b:x" {
		t.Errorf("Bridge.Admins = %v", cfg.Bridge.Admins)
	}
	if cfg.Bridge.DeletionDelay != 5*time.Second {
		t.Errorf("Bridge.DeletionDelay = %v, want 5s", cfg.Bridge.DeletionDelay)
	}
	// Untouched fields keep their file values.
	if cfg.Sunshine.KeySecret != "secret1" {
		t.Errorf("Sunshine.KeySecret = %q", cfg.Sunshine.KeySecret)
	}
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	// Not set via t.Setenv, so register cleanup for what godotenv sets.
	t.Cleanup(func() { _ = os.Unsetenv("TEST_HELPDESK_DOTENV_SECRET") })

	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("TEST_HELPDESK_DOTENV_SECRET=dotenv-value\n"), 0600); err != nil {
		t.Fatal(err)
	}
	content := strings.Replace(validYAML, `webhook_secret: "zd1"`, `webhook_secret: "${TEST_HELPDESK_DOTENV_SECRET}"`, 1)
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Zendesk.WebhookSecret != "dotenv-value" {
		t.Errorf("Zendesk.WebhookSecret = %q, want %q", cfg.Zendesk.WebhookSecret, "dotenv-value")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "config.yaml", "server: [unclosed"))
	if err == nil || !strings.Contains(err.Error(), "parsing config file") {
		t.Fatalf("err = %v, want parse error", err)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	content := strings.Replace(validYAML, `deletion_delay: "2m"`, `deletion_delay: "soon"`, 1)
	_, err := Load(writeConfig(t, "config.yaml", content))
	if err == nil || !strings.Contains(err.Error(), "deletion_delay") {
		t.Fatalf("err = %v, want deletion_delay error", err)
	}
}

func TestLoadUnvalidated_SkipsValidation(t *testing.T) {
	cfg, err := LoadUnvalidated(writeConfig(t, "config.yaml", "server:\n  http_addr: \":1\"\n"))
	if err != nil {
		t.Fatalf("LoadUnvalidated() error = %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() should fail on an incomplete config")
	}
}

func validConfig() *Config {
	return &Config{
		Server:   ServerConfig{HTTPAddr: ":8080"},
		Matrix:   MatrixConfig{Homeserver: "https://m", UserID: "@b:m", AccessToken: "t"},
		Sunshine: SunshineConfig{Endpoint: "https://s", AppID: "a", KeyID: "k", KeySecret: "s", WebhookSecret: "w"},
		Zendesk:  ZendeskConfig{WebhookSecret: "z"},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing http addr", func(c *Config) { c.Server.HTTPAddr = "" }, "server.http_addr"},
		{"tailscale without addr", func(c *Config) {
			c.Server.HTTPAddr = ""
			c.Tailscale = TailscaleConfig{Enabled: true, Hostname: "hd"}
		}, ""},
		{"tailscale without hostname", func(c *Config) { c.Tailscale.Enabled = true }, "tailscale.hostname"},
		{"missing homeserver", func(c *Config) { c.Matrix.Homeserver = "" }, "matrix.homeserver"},
		{"token without user id", func(c *Config) { c.Matrix.UserID = "" }, "matrix.user_id"},
		{"no credentials", func(c *Config) { c.Matrix.AccessToken = "" }, "matrix.access_token"},
		{"password login", func(c *Config) {
			c.Matrix.AccessToken = ""
			c.Matrix.Username, c.Matrix.Password = "u", "p"
		}, ""},
		{"missing sunshine key", func(c *Config) { c.Sunshine.KeySecret = "" }, "sunshine.key_secret"},
		{"missing zendesk secret", func(c *Config) { c.Zendesk.WebhookSecret = "" }, "zendesk.webhook_secret"},
		{"first failure wins", func(c *Config) {
			c.Sunshine.Endpoint = ""
			c.Zendesk.WebhookSecret = ""
		}, "sunshine.endpoint"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("TEST_HD_A", "alpha")

	tests := []struct {
		in, want string
	}{
		{"${TEST_HD_A}", "alpha"},
		{"x-${TEST_HD_A}-y", "x-alpha-y"},
		{"${TEST_HD_UNSET_VAR}", ""},
		{"$TEST_HD_A", "$TEST_HD_A"},
		{"no vars", "no vars"},
	}
	for _, tt := range tests {
		if got := expandEnvVars(tt.in); got != tt.want {
			t.Errorf("expandEnvVars(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTemplate_RoundTrip(t *testing.T) {
	for _, name := range []string{"config.yaml", "config.toml"} {
		t.Run(name, func(t *testing.T) {
			data, err := Encode(Template(), name)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			cfg, err := LoadUnvalidated(writeConfig(t, name, string(data)))
			if err != nil {
				t.Fatalf("LoadUnvalidated() error = %v", err)
			}
			if cfg.Matrix.Homeserver != "https://matrix.example.org" {
				t.Errorf("Matrix.Homeserver = %q", cfg.Matrix.Homeserver)
			}
			if cfg.Bridge.DeletionDelay != DefaultDeletionDelay {
				t.Errorf("Bridge.DeletionDelay = %v", cfg.Bridge.DeletionDelay)
			}
		})
	}
}
