// Package server wires the party-node runtime and gRPC lifecycle.
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
	partyv1 "github.com/secretdoor/montyhall/api/party/v1"
	"github.com/secretdoor/montyhall/internal/platform/cryptoinit"
	platformgrpc "github.com/secretdoor/montyhall/internal/platform/grpc"
	grpcmeta "github.com/secretdoor/montyhall/internal/platform/grpc/metadata"
	"github.com/secretdoor/montyhall/internal/platform/telemetry/metrics"
	"github.com/secretdoor/montyhall/internal/platform/timeouts"
	partyservice "github.com/secretdoor/montyhall/internal/services/node/api/grpc/party"
	"github.com/secretdoor/montyhall/internal/services/node/engine"
	"github.com/secretdoor/montyhall/internal/services/node/peernet"
	"github.com/secretdoor/montyhall/internal/services/node/session"
	nodesqlite "github.com/secretdoor/montyhall/internal/services/node/storage/sqlite"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
)

// Config is the resolved node runtime configuration.
type Config struct {
	Addr        string
	DBPath      string
	MetricsAddr string
	Party       int
	Topology    peernet.Topology
	Params      *engine.Params
	Keys        cryptoinit.StaticKeys
	// SessionTimeout bounds one peer session end to end.
	SessionTimeout time.Duration
	Workers        int
	Logger         zerolog.Logger
}

// Server hosts the party gRPC API, the session pool and storage lifecycle.
type Server struct {
	listener        net.Listener
	grpcServer      *grpc.Server
	health          *health.Server
	store           *nodesqlite.Store
	bridge          *session.Bridge
	service         *partyservice.Service
	metricsListener net.Listener
	metricsServer   *http.Server
	logger          zerolog.Logger
}

// New creates a configured node server listening on cfg.Addr.
func New(cfg Config) (*Server, error) {
	if cfg.Params == nil {
		return nil, errors.New("engine params are required")
	}
	if err := cfg.Topology.Validate(); err != nil {
		return nil, err
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = timeouts.PeerSession
	}
	logger := cfg.Logger.With().Int("party", cfg.Party).Logger()

	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.Addr, err)
	}
	store, err := openNodeStore(cfg.DBPath, logger)
	if err != nil {
		_ = listener.Close()
		return nil, err
	}

	srv := &Server{
		listener: listener,
		store:    store,
		bridge:   session.NewBridge(cfg.Workers),
		logger:   logger,
	}

	registry := metrics.NewRegistry()
	if cfg.MetricsAddr != "" {
		metricsListener, err := net.Listen("tcp", cfg.MetricsAddr)
		if err != nil {
			srv.Close()
			return nil, fmt.Errorf("listen on %s: %w", cfg.MetricsAddr, err)
		}
		srv.metricsListener = metricsListener
		srv.metricsServer = &http.Server{
			Handler:           metrics.Handler(registry),
			ReadHeaderTimeout: timeouts.ReadHeader,
		}
	}

	meshConfig := peernet.Config{
		Party:        cfg.Party,
		Topology:     cfg.Topology,
		Keys:         cfg.Keys,
		FrameTimeout: timeouts.PeerFrame,
		Logger:       logger,
	}
	open := func(ctx context.Context, sessionID string) (partyservice.Session, error) {
		sessionCtx, cancel := context.WithTimeout(ctx, cfg.SessionTimeout)
		mesh, err := peernet.Open(sessionCtx, meshConfig, sessionID)
		if err != nil {
			cancel()
			return nil, err
		}
		return boundedSession{Mesh: mesh, cancel: cancel}, nil
	}

	eng := engine.New(cfg.Params, cryptoinit.RandomStream())
	srv.service = partyservice.NewService(store, eng, open, srv.bridge, metrics.NewSessionMetrics(registry), logger)

	options := append(platformgrpc.DefaultServerOptions(), grpc.ChainUnaryInterceptor(grpcmeta.UnaryServerInterceptor()))
	srv.grpcServer = grpc.NewServer(options...)
	partyv1.RegisterPartyServiceServer(srv.grpcServer, srv.service)
	srv.health = platformgrpc.RegisterHealth(srv.grpcServer, partyv1.ServiceName)
	return srv, nil
}

// boundedSession closes the mesh and releases its deadline together.
type boundedSession struct {
	*peernet.Mesh
	cancel context.CancelFunc
}

func (s boundedSession) Close() {
	s.Mesh.Close()
	s.cancel()
}

// Addr returns the gRPC listener address.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// MetricsAddr returns the metrics listener address, or "" when disabled.
func (s *Server) MetricsAddr() string {
	if s == nil || s.metricsListener == nil {
		return ""
	}
	return s.metricsListener.Addr().String()
}

// Run creates and serves a node until context cancellation.
func Run(ctx context.Context, cfg Config) error {
	server, err := New(cfg)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve starts the gRPC server until context cancellation.
func (s *Server) Serve(ctx context.Context) error {
	if s == nil {
		return errors.New("server is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.Close()

	if s.metricsServer != nil {
		go func() {
			if err := s.metricsServer.Serve(s.metricsListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error().Err(err).Msg("serve metrics")
			}
		}()
		s.logger.Info().Str("addr", s.MetricsAddr()).Msg("metrics listening")
	}

	s.logger.Info().Str("addr", s.Addr()).Msg("node listening")
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.grpcServer.Serve(s.listener)
	}()

	select {
	case <-ctx.Done():
		if s.health != nil {
			s.health.Shutdown()
		}
		s.grpcServer.GracefulStop()
		err := <-serveErr
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	case err := <-serveErr:
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	}
}

// Close releases node resources. Queued sessions finish before the store closes.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.health != nil {
		s.health.Shutdown()
	}
	if s.grpcServer != nil {
		s.grpcServer.Stop()
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
	if s.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		if err := s.metricsServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn().Err(err).Msg("shutdown metrics server")
		}
		cancel()
	}
	if s.metricsListener != nil {
		_ = s.metricsListener.Close()
	}
	if s.bridge != nil {
		s.bridge.Stop()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("close node store")
		}
	}
}

func openNodeStore(path string, logger zerolog.Logger) (*nodesqlite.Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	store, err := nodesqlite.Open(path, logger)
	if err != nil {
		return nil, fmt.Errorf("open node sqlite store: %w", err)
	}
	return store, nil
}
