// Package server provides gRPC and metrics server lifecycle management.
package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/solatis/crawlgate/internal/core/api"
	"github.com/solatis/crawlgate/internal/core/config"
)

const shutdownTimeout = 30 * time.Second

// GRPCServer manages gRPC server lifecycle plus the metrics listener.
type GRPCServer struct {
	server  *grpc.Server
	health  *health.Server
	metrics *http.Server
	config  *config.ServerConfig
	logger  zerolog.Logger
}

// NewGRPCServer creates gRPC server with interceptors and service registration.
// metricsHandler may be nil, in which case no metrics listener is started.
func NewGRPCServer(cfg *config.ServerConfig, service api.RuleEngineServer, interceptors []grpc.UnaryServerInterceptor, metricsHandler http.Handler, logger zerolog.Logger) (*GRPCServer, error) {
	if cfg == nil {
		return nil, errors.New("cfg cannot be nil")
	}
	if service == nil {
		return nil, errors.New("service cannot be nil")
	}

	logger = logger.With().Str("component", "server").Logger()
	chain := append([]grpc.UnaryServerInterceptor{recoverInterceptor(logger), logInterceptor(logger)}, interceptors...)

	server := grpc.NewServer(grpc.ChainUnaryInterceptor(chain...))
	api.Register(server, service)

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(server, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(api.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	s := &GRPCServer{
		server: server,
		health: healthServer,
		config: cfg,
		logger: logger,
	}
	if metricsHandler != nil && cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler)
		s.metrics = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
	return s, nil
}

// Start binds listener and serves gRPC requests until Shutdown is called.
func (s *GRPCServer) Start(ctx context.Context) error {
	addr := s.config.Addr()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "bind %s", addr)
	}
	return s.Serve(listener)
}

// Serve runs the gRPC server on an existing listener.
func (s *GRPCServer) Serve(listener net.Listener) error {
	if s.metrics != nil {
		go func() {
			s.logger.Info().Str("addr", s.metrics.Addr).Msg("metrics listener started")
			if err := s.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error().Err(err).Msg("metrics listener failed")
			}
		}()
	}

	s.logger.Info().Str("addr", listener.Addr().String()).Msg("grpc server started")
	if err := s.server.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return errors.Wrap(err, "serve grpc")
	}
	return nil
}

// Shutdown gracefully stops both servers with a 30-second timeout.
func (s *GRPCServer) Shutdown(ctx context.Context) error {
	s.health.Shutdown()

	if s.metrics != nil {
		mctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_ = s.metrics.Shutdown(mctx)
		cancel()
	}

	stopped := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		s.server.Stop()
		return errors.Wrap(ctx.Err(), "shutdown cancelled by context")
	case <-time.After(shutdownTimeout):
		s.server.Stop()
		return errors.New("graceful shutdown timeout, forced stop")
	}
}

func recoverInterceptor(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error().Interface("panic", r).Str("method", info.FullMethod).Msg("handler panic")
				err = status.Error(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}

func logInterceptor(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		ev := logger.Debug()
		if err != nil {
			ev = logger.Warn().Err(err)
		}
		ev.Str("method", info.FullMethod).
			Str("code", status.Code(err).String()).
			Dur("duration", time.Since(start)).
			Msg("rpc")
		return resp, err
	}
}
