// ABOUTME: Gateway that wires the actor runtime, client hub, relay, and store together.
// ABOUTME: Manages the HTTP listener (TCP or tsnet) and graceful shutdown of all components.

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
	"sync"
	"time"

	"tailscale.com/tsnet"

	"github.com/pantheon-dev/pantheon-gateway/internal/actor"
	"github.com/pantheon-dev/pantheon-gateway/internal/clients"
	"github.com/pantheon-dev/pantheon-gateway/internal/config"
	"github.com/pantheon-dev/pantheon-gateway/internal/dedupe"
	"github.com/pantheon-dev/pantheon-gateway/internal/orchestrator"
	"github.com/pantheon-dev/pantheon-gateway/internal/relay"
	"github.com/pantheon-dev/pantheon-gateway/internal/store"
	"github.com/pantheon-dev/pantheon-gateway/internal/worker"
)

// HeraldName is the logical name of the front-door actor that turns routed
// responses into client deliveries.
const HeraldName = "front-door"

// analysisWindowSize bounds the rolling dedupe window for narration lines.
const analysisWindowSize = 8

// Gateway orchestrates the pantheon-gateway server components.
type Gateway struct {
	config   *config.Config
	logger   *slog.Logger
	registry *actor.Registry
	router   *actor.Router
	orch     *orchestrator.Orchestrator
	hub      *clients.Hub
	relay    *relay.Handler
	store    store.Store
	window   *dedupe.Window
	echo     *worker.Echo

	heraldMailbox *actor.Mailbox

	httpServer  *http.Server
	tsnetServer *tsnet.Server

	mu        sync.Mutex
	boundAddr string
}

// New builds a gateway from config. Call Run to start serving.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := initStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	registry := actor.NewRegistry(logger)
	router := actor.NewRouter(registry, logger)
	hub := clients.NewHub(cfg.Actors.SendTimeout, logger)

	orch := orchestrator.New(orchestrator.Options{
		Router:     router,
		WorkerName: cfg.Actors.WorkerName,
		HeraldName: HeraldName,
		QueueSize:  cfg.Actors.QueueSize,
		Logger:     logger,
	})
	registry.Register(orchestrator.Name, orch.Mailbox())

	heraldMailbox := actor.NewMailbox(HeraldName, cfg.Actors.MailboxSize, logger)
	registry.Register(HeraldName, heraldMailbox)

	g := &Gateway{
		config:        cfg,
		logger:        logger.With("component", "gateway"),
		registry:      registry,
		router:        router,
		orch:          orch,
		hub:           hub,
		store:         st,
		window:        dedupe.NewWindow(analysisWindowSize),
		heraldMailbox: heraldMailbox,
		relay: relay.NewHandler(relay.Config{
			UpstreamURL: cfg.Upstream.URL,
			APIKey:      cfg.Upstream.APIKey,
			DialTimeout: cfg.Upstream.DialTimeout,
		}, logger),
	}

	if cfg.Actors.EchoWorker {
		g.echo = worker.NewEcho(router, orchestrator.Name, 0, logger)
		registry.Register(cfg.Actors.WorkerName, g.echo.Mailbox())
	}

	return g, nil
}

// initStore creates the transcript store based on config and environment.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("PANTHEON_DB_PATH"); envPath != "" {
		dbPath = envPath
	}
	return store.NewSQLiteStore(dbPath)
}

// Run starts the actor loops and the HTTP server, blocking until ctx is
// canceled. Returns nil on graceful shutdown, or an error if a server fails.
func (g *Gateway) Run(ctx context.Context) error {
	actorCtx, cancelActors := context.WithCancel(ctx)
	defer cancelActors()

	go g.orch.Run(actorCtx)
	go g.runHerald(actorCtx)
	if g.echo != nil {
		go g.echo.Run(actorCtx)
	}

	listener, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	g.httpServer = &http.Server{Handler: g.routes()}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", listener.Addr().String())
		if err := g.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// BoundAddr returns the listener address. Only valid after Run has bound.
func (g *Gateway) BoundAddr() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.boundAddr
}

// setupListener creates the HTTP listener from config (Tailscale or TCP).
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		return g.setupTailscaleListener(ctx)
	}

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	g.setBoundAddr(ln.Addr().String())
	return ln, nil
}

func (g *Gateway) setBoundAddr(addr string) {
	g.mu.Lock()
	g.boundAddr = addr
	g.mu.Unlock()
}

// resolveTailscaleStateDir returns the state directory, using a default
// under the home directory if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "pantheon-gateway", "tailscale"), nil
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

// setupTailscaleListener creates a tsnet server and listens on the tailnet.
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

	if len(status.TailscaleIPs) > 0 {
		g.logger.Info("tailscale node ready", "hostname", tsCfg.Hostname, "ip", status.TailscaleIPs[0].String())
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned", "hostname", tsCfg.Hostname)
	}

	ln, err := g.tsnetServer.Listen("tcp", ":80")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
	}
	g.setBoundAddr(tsCfg.Hostname + ":80")
	return ln, nil
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is
// already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown stops the HTTP server, closes client connections, and releases
// the store and tailscale node.
func (g *Gateway) Shutdown(ctx context.Context) error {
	var errs []error

	if g.httpServer != nil {
		if err := g.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}

	g.hub.CloseAll()

	if err := g.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	if g.tsnetServer != nil {
		if err := g.tsnetServer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("tailscale shutdown: %w", err))
		}
	}

	g.logger.Info("gateway shut down")
	return errors.Join(errs...)
}
