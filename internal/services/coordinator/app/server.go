// Package server wires the coordinator runtime and HTTP lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/secretdoor/montyhall/internal/platform/telemetry/metrics"
	"github.com/secretdoor/montyhall/internal/platform/timeouts"
	"github.com/secretdoor/montyhall/internal/services/coordinator/api/httpapi"
	"github.com/secretdoor/montyhall/internal/services/coordinator/orchestrator"
	"github.com/secretdoor/montyhall/internal/services/coordinator/party"
	coordsqlite "github.com/secretdoor/montyhall/internal/services/coordinator/storage/sqlite"
	"github.com/secretdoor/montyhall/internal/services/node/engine"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"
)

// Config is the resolved coordinator runtime configuration.
type Config struct {
	Addr       string
	PartyAddrs [orchestrator.Parties]string
	DBPath     string
	Params     *engine.Params
	JWTSecret  string
	// MaxConns caps concurrent HTTP connections; zero leaves it unbounded.
	MaxConns    int
	DialTimeout time.Duration
	StepTimeout time.Duration
	Logger      zerolog.Logger
}

// Server hosts the coordinator HTTP API, party connections and the ledger.
type Server struct {
	listener    net.Listener
	httpServer  *http.Server
	connections [orchestrator.Parties]*party.Connection
	ledger      *coordsqlite.Store
	logger      zerolog.Logger
}

// New connects to every party and prepares the HTTP server. Any party that
// cannot be reached fails startup.
func New(ctx context.Context, cfg Config) (*Server, error) {
	if cfg.Params == nil {
		return nil, errors.New("engine params are required")
	}
	srv := &Server{logger: cfg.Logger}

	connections, err := connectParties(ctx, cfg)
	if err != nil {
		return nil, err
	}
	srv.connections = connections

	ledger, err := openLedger(cfg.DBPath, cfg.Logger)
	if err != nil {
		srv.Close()
		return nil, err
	}
	srv.ledger = ledger

	registry := metrics.NewRegistry()
	var parties [orchestrator.Parties]orchestrator.Party
	for i, conn := range connections {
		parties[i] = conn
	}
	coordinator, err := orchestrator.New(orchestrator.Config{
		Parties:     parties,
		Verifier:    engine.NewVerifier(cfg.Params),
		Ledger:      ledger,
		Submitter:   orchestrator.LogSubmitter{Logger: cfg.Logger.With().Str("component", "submitter").Logger()},
		Metrics:     metrics.NewStepMetrics(registry),
		StepTimeout: cfg.StepTimeout,
		Logger:      cfg.Logger,
	})
	if err != nil {
		srv.Close()
		return nil, err
	}

	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		srv.Close()
		return nil, fmt.Errorf("listen on %s: %w", cfg.Addr, err)
	}
	if cfg.MaxConns > 0 {
		listener = netutil.LimitListener(listener, cfg.MaxConns)
	}
	srv.listener = listener
	srv.httpServer = &http.Server{
		Handler: httpapi.NewHandler(coordinator, httpapi.Options{
			Auth:    httpapi.NewAuthenticator([]byte(cfg.JWTSecret)),
			Metrics: metrics.Handler(registry),
			Logger:  cfg.Logger,
		}),
		ReadHeaderTimeout: timeouts.ReadHeader,
	}
	return srv, nil
}

func connectParties(ctx context.Context, cfg Config) ([orchestrator.Parties]*party.Connection, error) {
	var connections [orchestrator.Parties]*party.Connection
	group, groupCtx := errgroup.WithContext(ctx)
	for i, addr := range cfg.PartyAddrs {
		group.Go(func() error {
			conn, err := party.Connect(groupCtx, addr, party.Options{
				DialTimeout: cfg.DialTimeout,
				Logger:      cfg.Logger,
			})
			if err != nil {
				return fmt.Errorf("party %d: %w", i, err)
			}
			connections[i] = conn
			cfg.Logger.Info().Int("party", i).Str("addr", addr).Msg("party connected")
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		for _, conn := range connections {
			if conn != nil {
				_ = conn.Close()
			}
		}
		return connections, err
	}
	return connections, nil
}

// Addr returns the HTTP listener address.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run creates and serves a coordinator until context cancellation.
func Run(ctx context.Context, cfg Config) error {
	server, err := New(ctx, cfg)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve runs the HTTP server until context cancellation.
func (s *Server) Serve(ctx context.Context) error {
	if s == nil || s.httpServer == nil {
		return errors.New("server is not configured")
	}
	defer s.Close()

	s.logger.Info().Str("addr", s.Addr()).Msg("coordinator listening")
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.Serve(s.listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http: %w", err)
		}
		if err := <-serveErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	case err := <-serveErr:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// Close releases coordinator resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.httpServer != nil {
		_ = s.httpServer.Close()
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
	for i, conn := range s.connections {
		if conn == nil {
			continue
		}
		if err := conn.Close(); err != nil {
			s.logger.Debug().Err(err).Int("party", i).Msg("close party connection")
		}
	}
	if s.ledger != nil {
		if err := s.ledger.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("close ledger")
		}
	}
}

func openLedger(path string, logger zerolog.Logger) (*coordsqlite.Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	store, err := coordsqlite.Open(path, logger)
	if err != nil {
		return nil, fmt.Errorf("open coordinator sqlite store: %w", err)
	}
	return store, nil
}
