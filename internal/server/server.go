// ABOUTME: Server orchestrator wiring bridge, hub, registry and the HTTP surface
// ABOUTME: Owns startup, integration bootstrap, and graceful shutdown ordering

package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/netra-systems/zenbridge/internal/auth"
	"github.com/netra-systems/zenbridge/internal/bridge"
	"github.com/netra-systems/zenbridge/internal/config"
	"github.com/netra-systems/zenbridge/internal/dedupe"
	"github.com/netra-systems/zenbridge/internal/registry"
	"github.com/netra-systems/zenbridge/internal/transport"
)

// Dedupe window for ingested events. Pipeline callers retry with the same
// event_id, so the TTL only needs to outlive their retry horizon.
const (
	dedupeTTL      = 5 * time.Minute
	dedupeCapacity = 100_000
)

// Server hosts the event ingestion API and the WebSocket delivery endpoint,
// with the bridge coordinating the integration between them.
type Server struct {
	config   *config.Config
	bridge   *bridge.Bridge
	hub      *transport.Hub
	registry *registry.SQLite
	dedupe   *dedupe.Cache
	verifier *auth.JWTVerifier // nil when auth is disabled

	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a Server from a validated config. The integration itself is not
// bootstrapped here; Run does that once the listener is up.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	reg, err := registry.NewSQLite(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening registry: %w", err)
	}

	s := &Server{
		config:   cfg,
		bridge:   bridge.New(bridgeConfig(cfg), logger),
		hub:      transport.NewHub(cfg.Transport.BufferSize, logger),
		registry: reg,
		dedupe:   dedupe.New(dedupeTTL, dedupeCapacity),
		logger:   logger.With("component", "server"),
	}
	if cfg.Auth.JWTSecret != "" {
		s.verifier = auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	}

	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/ready", s.handleReady)

	// API endpoints - auth required if JWT secret is configured
	s.registerAPIRoutes(mux)

	// The WebSocket endpoint authenticates inside the handler because browser
	// clients can only pass the token as a query parameter.
	mux.HandleFunc("/ws", s.handleWS)

	s.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

func bridgeConfig(cfg *config.Config) bridge.Config {
	return bridge.Config{
		InitializationTimeout: cfg.Bridge.InitializationTimeout,
		VerificationTimeout:   cfg.Bridge.VerificationTimeout,
		HealthCheckInterval:   cfg.Bridge.HealthCheckInterval,
		RecoveryMaxAttempts:   cfg.Bridge.RecoveryMaxAttempts,
		RecoveryBaseDelay:     cfg.Bridge.RecoveryBaseDelay,
		RecoveryMaxDelay:      cfg.Bridge.RecoveryMaxDelay,
	}
}

// registerAPIRoutes registers the API handlers, wrapped in the auth middleware
// when a JWT secret is configured.
func (s *Server) registerAPIRoutes(mux *http.ServeMux) {
	routes := map[string]http.HandlerFunc{
		"/api/runs":                s.handleRuns,
		"/api/runs/":               s.handleRunRoutes,
		"/api/integration/health":  s.handleIntegrationHealth,
		"/api/integration/metrics": s.handleIntegrationMetrics,
		"/api/integration/recover": s.handleRecover,
	}

	if s.verifier != nil {
		middleware := auth.Middleware(s.verifier)
		for path, handler := range routes {
			mux.Handle(path, middleware(handler))
		}
		s.logger.Info("HTTP auth middleware enabled")
		return
	}
	for path, handler := range routes {
		mux.HandleFunc(path, handler)
	}
	s.logger.Warn("HTTP auth disabled - no jwt_secret configured")
}

// ensureIntegration bootstraps the bridge against the server's own hub and
// registry. A failed bootstrap is logged but not fatal: the server keeps
// serving and the bridge recovers on its own or via POST /api/integration/recover.
func (s *Server) ensureIntegration(ctx context.Context) bridge.Result {
	res := s.bridge.EnsureIntegration(ctx, bridge.EnsureOptions{
		Transport: s.hub,
		Registry:  s.registry,
	})
	if !res.Success {
		s.logger.Error("integration bootstrap failed, serving until recovery",
			"state", res.State.String(), "error", res.Err)
	}
	return res
}

// startServer starts the HTTP server in a goroutine, returning error channel.
func (s *Server) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or a server error.
func (s *Server) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		s.logger.Error("server error", "error", err)
		return err
	}
}

// Run starts the server and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := s.startServer(ln)

	s.ensureIntegration(ctx)

	serverErr := s.waitForShutdownSignal(ctx, errCh)
	shutdownErr := s.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the HTTP server, then the bridge (whose monitor still probes
// the hub and registry), then the remaining components.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", s.httpServer.Shutdown(ctx))
	errs = appendCloseError(errs, "bridge shutdown", s.bridge.Shutdown(ctx))

	s.hub.Close()
	s.dedupe.Close()

	errs = appendCloseError(errs, "registry close", s.registry.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the integration is active.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	state := s.bridge.State()
	if state != bridge.StateActive {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = fmt.Fprintf(w, "integration %s", state)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
