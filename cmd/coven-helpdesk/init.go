// ABOUTME: Interactive config writer for coven-helpdesk init
// ABOUTME: Fills the config template from prompts and writes YAML or TOML by extension

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/2389/coven-helpdesk/internal/config"
)

func newInitCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a new config file interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInit(bufio.NewReader(cmd.InOrStdin()), cmd.OutOrStdout(), *configPath)
		},
	}
}

func runInit(reader *bufio.Reader, out io.Writer, defaultPath string) error {
	fmt.Fprintln(out, "coven-helpdesk configuration setup")
	fmt.Fprintln(out, "==================================")
	fmt.Fprintln(out)

	outputFile := prompt(reader, out, "Config file path (.yaml or .toml)", defaultPath)
	if _, err := os.Stat(outputFile); err == nil {
		if !yes(prompt(reader, out, "File exists. Overwrite?", "no")) {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	cfg := config.Template()

	fmt.Fprintln(out, "\n--- Matrix ---")
	cfg.Matrix.Homeserver = prompt(reader, out, "Homeserver URL", cfg.Matrix.Homeserver)
	cfg.Matrix.UserID = prompt(reader, out, "Bot user ID", cfg.Matrix.UserID)
	cfg.Matrix.Encryption = yes(prompt(reader, out, "Enable end-to-end encryption?", "no"))
	if cfg.Matrix.Encryption {
		cfg.Matrix.RecoveryKey = "${MATRIX_RECOVERY_KEY}"
	}
	cfg.Bridge.Space = prompt(reader, out, "Parent space for support rooms (optional)", "")
	if admins := prompt(reader, out, "Admin user IDs, comma separated (empty allows everyone)", ""); admins != "" {
		for _, a := range strings.Split(admins, ",") {
			if a = strings.TrimSpace(a); a != "" {
				cfg.Bridge.Admins = append(cfg.Bridge.Admins, a)
			}
		}
	}

	fmt.Fprintln(out, "\n--- Webhook listener ---")
	cfg.Tailscale.Enabled = yes(prompt(reader, out, "Listen on Tailscale instead of a TCP address?", "no"))
	if cfg.Tailscale.Enabled {
		cfg.Server.HTTPAddr = ""
		cfg.Tailscale.Hostname = prompt(reader, out, "Tailscale hostname", cfg.Tailscale.Hostname)
		cfg.Tailscale.Funnel = yes(prompt(reader, out, "Enable Funnel (public HTTPS, needed for webhooks)?", "yes"))
	} else {
		cfg.Tailscale.Funnel = false
		cfg.Server.HTTPAddr = prompt(reader, out, "HTTP address", cfg.Server.HTTPAddr)
	}

	fmt.Fprintln(out, "\n--- Bridge ---")
	cfg.Bridge.DeletionDelayRaw = prompt(reader, out, "Delay before a closed room is deleted", cfg.Bridge.DeletionDelayRaw)
	cfg.Bridge.NotifyWebhook = prompt(reader, out, "Startup notification webhook URL (optional)", "")

	fmt.Fprintln(out, "\n--- Logging ---")
	cfg.Logging.Level = prompt(reader, out, "Log level (debug/info/warn/error)", cfg.Logging.Level)
	cfg.Logging.Format = prompt(reader, out, "Log format (text/json)", cfg.Logging.Format)

	data, err := config.Encode(cfg, outputFile)
	if err != nil {
		return err
	}
	header := "# coven-helpdesk configuration\n# Generated by coven-helpdesk init. Secrets are read from the environment.\n\n"

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, append([]byte(header), data...), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Fprintf(out, "\nConfig written to %s\n", outputFile)
	fmt.Fprintln(out, "\nSet these before starting:")
	fmt.Fprintln(out, "  MATRIX_ACCESS_TOKEN, SUNSHINE_APP_ID, SUNSHINE_KEY_ID, SUNSHINE_KEY_SECRET,")
	fmt.Fprintln(out, "  SUNSHINE_WEBHOOK_SECRET, ZENDESK_WEBHOOK_SECRET")
	if cfg.Tailscale.Enabled {
		fmt.Fprintln(out, "  TS_AUTHKEY")
	}
	fmt.Fprintln(out, "\nThen check and start:")
	fmt.Fprintf(out, "  coven-helpdesk check-config -c %s\n", outputFile)
	fmt.Fprintf(out, "  coven-helpdesk serve -c %s\n", outputFile)
	return nil
}

func yes(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "yes" || s == "y"
}

func prompt(reader *bufio.Reader, out io.Writer, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "%s [%s]: ", question, defaultVal)
	} else {
		fmt.Fprintf(out, "%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		// On EOF or error, return default
		fmt.Fprintln(out)
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
