// ABOUTME: Tests for the coven-helpdesk CLI commands
// ABOUTME: sign, init, check-config, health and the color log handler

package main

import (
	"bufio"
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-helpdesk/internal/config"
	"github.com/2389/coven-helpdesk/internal/webhook"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSign_FromStdin(t *testing.T) {
	body := `{"type":"ticket:solved"}`
	out, err := execute(t, body, "sign", "--secret", "s3cret", "--timestamp", "2026-10-15T00:00:00Z")
	require.NoError(t, err)

	assert.Contains(t, out, webhook.HeaderTimestamp+": 2026-10-15T00:00:00Z")
	assert.Contains(t, out, webhook.HeaderSignature+": "+webhook.Sign("s3cret", "2026-10-15T00:00:00Z", []byte(body)))
}

func TestSign_SecretFromConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "helpdesk.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("zendesk:\n  webhook_secret: from-file\n"), 0600))
	bodyPath := filepath.Join(dir, "body.json")
	require.NoError(t, os.WriteFile(bodyPath, []byte("{}"), 0600))

	out, err := execute(t, "", "sign", "-c", cfgPath, "--timestamp", "t", bodyPath)
	require.NoError(t, err)
	assert.Contains(t, out, webhook.Sign("from-file", "t", []byte("{}")))
}

func TestSign_NoSecret(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "helpdesk.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("server:\n  http_addr: \":1\"\n"), 0600))

	_, err := execute(t, "{}", "sign", "-c", cfgPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no signing secret")
}

func TestInit_WritesLoadableConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "helpdesk.toml")
	answers := strings.Join([]string{
		path,
		"https://matrix.example.org",
		"@desk:example.org",
		"no", // encryption
		"",   // space
		"@ops:example.org, @lead:example.org",
		"no", // tailscale
		"127.0.0.1:9999",
		"30s",
		"", // notify webhook
		"debug",
		"json",
	}, "\n") + "\n"

	var out bytes.Buffer
	require.NoError(t, runInit(bufio.NewReader(strings.NewReader(answers)), &out, "unused.yaml"))
	assert.Contains(t, out.String(), "Config written to "+path)

	cfg, err := config.LoadUnvalidated(path)
	require.NoError(t, err)
	assert.Equal(t, "@desk:example.org", cfg.Matrix.UserID)
	assert.Equal(t, "127.0.0.1:9999", cfg.Server.HTTPAddr)
	assert.Equal(t, []string{"@ops:example.org", "@lead:example.org"}, cfg.Bridge.Admins)
	assert.Equal(t, "30s", cfg.Bridge.DeletionDelayRaw)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.False(t, cfg.Tailscale.Enabled)
}

func TestInit_DoesNotOverwriteWithoutConsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "helpdesk.yaml")
	require.NoError(t, os.WriteFile(path, []byte("keep me"), 0600))

	var out bytes.Buffer
	require.NoError(t, runInit(bufio.NewReader(strings.NewReader(path+"\nno\n")), &out, path))
	assert.Contains(t, out.String(), "Aborted.")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "keep me", string(data))
}

func TestCheckConfig(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "helpdesk.yaml")

	_, err := execute(t, "", "check-config", "-c", cfgPath)
	require.Error(t, err, "missing file")

	content := `
server: {http_addr: ":8080"}
matrix: {homeserver: "https://m", user_id: "@b:m", access_token: "t"}
sunshine: {endpoint: "https://s", app_id: "a", key_id: "k", key_secret: "s", webhook_secret: "w"}
zendesk: {webhook_secret: "z"}
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0600))
	out, err := execute(t, "", "check-config", "-c", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "is valid")
	assert.Contains(t, out, "anyone may post")
}

func TestRunHealth(t *testing.T) {
	var ready atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health/ready", r.URL.Path)
		if !ready.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("matrix not synced"))
			return
		}
		_, _ = w.Write([]byte("ready"))
	}))
	defer srv.Close()

	var out bytes.Buffer
	err := runHealth(context.Background(), &out, srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "matrix not synced")

	ready.Store(true)
	require.NoError(t, runHealth(context.Background(), &out, srv.URL))
	assert.Contains(t, out.String(), "ready")
}

func TestColorHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "warn"}, &buf)

	logger.Info("hidden")
	logger.With("component", "webhook").WithGroup("req").With("id", "abc").Warn("rejected", "status", 401)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "rejected")
	assert.Contains(t, out, " component=")
	assert.Contains(t, out, "req.id=")
	assert.Contains(t, out, "req.status=")
	assert.Equal(t, 1, strings.Count(out, "\n"))
}

func TestSetupLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "debug", Format: "json"}, &buf)
	logger.Debug("hello", "k", "v")
	assert.Contains(t, buf.String(), `"msg":"hello"`)
	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))
}
