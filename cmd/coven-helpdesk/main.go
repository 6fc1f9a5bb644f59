// ABOUTME: Entry point for coven-helpdesk, the Zendesk to Matrix support bridge
// ABOUTME: Cobra commands for serve, init, sign, check-config and health

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/coven-helpdesk/internal/config"
	"github.com/2389/coven-helpdesk/internal/gateway"
	"github.com/2389/coven-helpdesk/internal/webhook"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                                  _          _           _           _
  ___ _____   _____ _ __        | |__   ___| |_ __   __| | ___  ___| | __
 / __/ _ \ \ / / _ \ '_ \ _____ | '_ \ / _ \ | '_ \ / _' |/ _ \/ __| |/ /
| (_| (_) \ V /  __/ | | |_____|| | | |  __/ | |_) | (_| |  __/\__ \   <
 \___\___/ \_/ \___|_| |_|      |_| |_|\___|_| .__/ \__,_|\___||___/_|\_\
                                             |_|
`

// getConfigPath returns the default config file path.
// Priority: HELPDESK_CONFIG env var > XDG_CONFIG_HOME/coven/helpdesk.yaml > ~/.config/coven/helpdesk.yaml
func getConfigPath() string {
	if envPath := os.Getenv("HELPDESK_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "helpdesk.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "coven", "helpdesk.yaml")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "coven-helpdesk",
		Short:         "Bridge Zendesk live chat into Matrix support rooms",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", getConfigPath(), "config file (.yaml or .toml)")

	root.AddCommand(
		newServeCmd(&configPath),
		newInitCmd(&configPath),
		newSignCmd(&configPath),
		newCheckConfigCmd(&configPath),
		newHealthCmd(&configPath),
	)
	return root
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the bridge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), *configPath)
		},
	}
}

func runServe(ctx context.Context, configPath string) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Matrix:    %s\n", cfg.Matrix.Homeserver)
	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	} else {
		green.Print("    ▶ ")
		fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	}
	if cfg.Matrix.Encryption {
		green.Print("    ▶ ")
		fmt.Println("E2EE:      enabled")
	}
	fmt.Println()

	logger.Info("starting coven-helpdesk",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"homeserver", cfg.Matrix.Homeserver,
		"deletion_delay", cfg.Bridge.DeletionDelay,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}
	return gw.Run(ctx)
}

func newCheckConfigCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Load and validate the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s is valid\n", *configPath)
			fmt.Fprintf(out, "  matrix:         %s as %s\n", cfg.Matrix.Homeserver, matrixAccount(cfg.Matrix))
			fmt.Fprintf(out, "  deletion delay: %s\n", cfg.Bridge.DeletionDelay)
			if len(cfg.Bridge.Admins) == 0 {
				fmt.Fprintln(out, "  admins:         anyone may post the live chat prompt")
			} else {
				fmt.Fprintf(out, "  admins:         %v\n", cfg.Bridge.Admins)
			}
			return nil
		},
	}
}

func matrixAccount(m config.MatrixConfig) string {
	if m.UserID != "" {
		return m.UserID
	}
	return m.Username
}

func newSignCmd(configPath *string) *cobra.Command {
	var secret, timestamp string
	cmd := &cobra.Command{
		Use:   "sign [body-file]",
		Short: "Compute the ticketing webhook signature for a payload",
		Long: "Reads the payload from body-file, or stdin when omitted, and prints the\n" +
			"signature and timestamp headers a ticketing webhook would carry. The secret\n" +
			"defaults to zendesk.webhook_secret from the config file.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				cfg, err := config.LoadUnvalidated(*configPath)
				if err != nil {
					return fmt.Errorf("no --secret given and config unreadable: %w", err)
				}
				secret = cfg.Zendesk.WebhookSecret
			}
			if secret == "" {
				return fmt.Errorf("no signing secret: pass --secret or set zendesk.webhook_secret")
			}

			var body []byte
			var err error
			if len(args) == 1 {
				body, err = os.ReadFile(args[0])
			} else {
				body, err = io.ReadAll(cmd.InOrStdin())
			}
			if err != nil {
				return fmt.Errorf("reading body: %w", err)
			}

			if timestamp == "" {
				timestamp = time.Now().UTC().Format(time.RFC3339)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %s\n", webhook.HeaderTimestamp, timestamp)
			fmt.Fprintf(out, "%s: %s\n", webhook.HeaderSignature, webhook.Sign(secret, timestamp, body))
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "signing secret (default from config)")
	cmd.Flags().StringVar(&timestamp, "timestamp", "", "timestamp header value (default now)")
	return cmd
}

func newHealthCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check a running bridge's readiness endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadUnvalidated(*configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			return runHealth(cmd.Context(), cmd.OutOrStdout(), "http://"+cfg.Server.HTTPAddr)
		},
	}
}

func runHealth(ctx context.Context, out io.Writer, baseURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health/ready", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("not ready: status %d: %s", resp.StatusCode, body)
	}
	fmt.Fprintln(out, string(body))
	return nil
}
