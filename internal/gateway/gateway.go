// ABOUTME: Gateway orchestrator that wires the bridge and runs the webhook server and Matrix sync
// ABOUTME: Manages listeners (TCP or tailscale), health endpoints and graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/errgroup"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/coven-helpdesk/internal/chat"
	"github.com/2389/coven-helpdesk/internal/config"
	"github.com/2389/coven-helpdesk/internal/dedupe"
	"github.com/2389/coven-helpdesk/internal/deletion"
	"github.com/2389/coven-helpdesk/internal/interaction"
	"github.com/2389/coven-helpdesk/internal/lifecycle"
	"github.com/2389/coven-helpdesk/internal/matrix"
	"github.com/2389/coven-helpdesk/internal/metrics"
	"github.com/2389/coven-helpdesk/internal/relay"
	"github.com/2389/coven-helpdesk/internal/sunshine"
	"github.com/2389/coven-helpdesk/internal/webhook"
)

const (
	dedupeTTL     = 24 * time.Hour
	dedupeMaxSize = 10000
)

// ChatService is the chat platform plus the sync loop that feeds the bridge.
// *matrix.Client implements it.
type ChatService interface {
	chat.Platform
	Login(ctx context.Context) error
	Run(ctx context.Context, h matrix.Handlers) error
	Ready() bool
	Close() error
}

var _ ChatService = (*matrix.Client)(nil)

// Gateway orchestrates the helpdesk bridge components.
type Gateway struct {
	config      *config.Config
	chat        ChatService
	remote      sunshine.API
	pending     *deletion.Registry
	dedupe      *dedupe.Cache
	lifecycle   *lifecycle.Manager
	relay       *relay.Relay
	actions     *interaction.Registry
	webhooks    *webhook.Handler
	metrics     *metrics.Metrics
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	notifier    *resty.Client
	logger      *slog.Logger
}

// New creates a Gateway talking to the configured Matrix homeserver and
// Sunshine app. Nothing touches the network until Run.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	mx, err := matrix.New(matrix.Config{
		Homeserver:    cfg.Matrix.Homeserver,
		UserID:        cfg.Matrix.UserID,
		AccessToken:   cfg.Matrix.AccessToken,
		Username:      cfg.Matrix.Username,
		Password:      cfg.Matrix.Password,
		Encryption:    cfg.Matrix.Encryption,
		RecoveryKey:   cfg.Matrix.RecoveryKey,
		DataDir:       cfg.Matrix.DataDir,
		SpaceID:       cfg.Bridge.Space,
		CommandPrefix: cfg.Bridge.CommandPrefix,
		AutoJoinFrom:  cfg.Bridge.AutoJoinFrom,
		CacheSize:     cfg.Matrix.CacheSize,
	}, logger)
	if err != nil {
		return nil, err
	}

	remote := sunshine.New(sunshine.Config{
		Endpoint:  cfg.Sunshine.Endpoint,
		AppID:     cfg.Sunshine.AppID,
		KeyID:     cfg.Sunshine.KeyID,
		KeySecret: cfg.Sunshine.KeySecret,
		Timeout:   cfg.Sunshine.Timeout,
	}, logger.With("component", "sunshine"))

	return newGateway(cfg, mx, remote, deletion.New(), logger), nil
}

// newGateway wires the bridge around an existing chat service and remote API.
func newGateway(cfg *config.Config, chatSvc ChatService, remote sunshine.API, pending *deletion.Registry, logger *slog.Logger) *Gateway {
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		m.TrackPending(pending.Len)
	}

	gw := &Gateway{
		config:   cfg,
		chat:     chatSvc,
		remote:   remote,
		pending:  pending,
		dedupe:   dedupe.New(dedupeTTL, dedupeMaxSize),
		metrics:  m,
		notifier: resty.New().SetTimeout(10 * time.Second),
		logger:   logger,
	}

	gw.lifecycle = lifecycle.New(chatSvc, remote, pending, lifecycle.Config{
		DeletionDelay: cfg.Bridge.DeletionDelay,
	}, logger, m)
	gw.relay = relay.New(chatSvc, remote, logger, m)
	gw.actions = interaction.New(chatSvc, gw.lifecycle, cfg.Bridge.Admins, logger)
	gw.webhooks = webhook.New(webhook.Config{
		ZendeskSecret:       cfg.Zendesk.WebhookSecret,
		ConversationsSecret: cfg.Sunshine.WebhookSecret,
	}, webhook.Deps{
		Chat:      chatSvc,
		Remote:    remote,
		Lifecycle: gw.lifecycle,
		Relay:     gw.relay,
		Seen:      gw.dedupe,
		Logger:    logger,
		Metrics:   m,
	})

	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("/health", gw.handleHealth)
	mux.HandleFunc("/health/ready", gw.handleReady)

	// Both senders authenticate per request; see the webhook package.
	mux.Handle("/webhook/", gw.webhooks)

	if m != nil {
		mux.Handle(cfg.Metrics.Path, m.Handler())
		logger.Info("metrics enabled", "path", cfg.Metrics.Path)
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return gw
}

// handlers routes Matrix events into the bridge.
func (g *Gateway) handlers(ctx context.Context) matrix.Handlers {
	return matrix.Handlers{
		Message:     g.handleChatMessage,
		Typing:      g.relay.ChatTyping,
		Interaction: g.actions.Dispatch,
		Ready: func() {
			go g.notifyReady(ctx)
		},
	}
}

// setupTCPListener creates a standard TCP listener for HTTP.
func (g *Gateway) setupTCPListener() (net.Listener, error) {
	g.logger.Info("starting helpdesk", "http_addr", g.config.Server.HTTPAddr)
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// setupListener creates the HTTP listener based on configuration (Tailscale or TCP).
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled", "http_addr", g.config.Server.HTTPAddr)
		}
		return g.setupTailscaleListener(ctx)
	}
	return g.setupTCPListener()
}

// Run logs in to Matrix, then serves webhooks and syncs until ctx is
// cancelled or either side fails. Returns nil on graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	if err := g.chat.Login(ctx); err != nil {
		g.closeComponents()
		return fmt.Errorf("matrix login: %w", err)
	}

	ln, err := g.setupListener(ctx)
	if err != nil {
		g.closeComponents()
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		return g.chat.Run(groupCtx, g.handlers(groupCtx))
	})
	group.Go(func() error {
		<-groupCtx.Done()
		if ctx.Err() != nil {
			g.logger.Info("context canceled, initiating shutdown")
		}
		return g.gracefulShutdown()
	})

	err = group.Wait()
	if closeErr := g.chat.Close(); closeErr != nil {
		g.logger.Warn("closing matrix client failed", "error", closeErr)
	}
	g.closeComponents()
	if err != nil {
		g.logger.Error("helpdesk stopped with error", "error", err)
	}
	return err
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// The run context is already canceled when this is called.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "coven-helpdesk", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListener brings up a tsnet node and listens on it. With
// funnel enabled the listener is public HTTPS on :443, which is what the
// webhook senders need.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}
	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	var ln net.Listener
	if tsCfg.Funnel {
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err = g.tsnetServer.ListenFunnel("tcp", ":443")
	} else {
		g.logger.Warn("tailscale funnel disabled; webhooks only reach this node from inside the tailnet")
		ln, err = g.tsnetServer.Listen("tcp", ":80")
	}
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
	}
	return ln, nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// closeComponents stops timers and background cleanup. Pending room
// deletions are dropped; the rooms stay until someone closes them again.
func (g *Gateway) closeComponents() {
	if n := g.pending.Len(); n > 0 {
		g.logger.Warn("dropping pending room deletions", "count", n)
	}
	g.pending.Close()
	g.dedupe.Close()
}

// Shutdown stops accepting webhooks. Run releases the remaining components
// once the Matrix sync has also stopped.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down helpdesk")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the first Matrix sync has completed.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if !g.chat.Ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("matrix not synced"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d pending deletions)", g.pending.Len())
}
