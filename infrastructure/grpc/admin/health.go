package admin

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	grpc3 "github.com/mama165/sdk-go/grpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is reported next to the overall "" service.
const ServiceName = "hirechat.Chat"

// Server exposes grpc.health.v1.Health on the admin port.
// Its status follows Check, polled every interval by Run.
type Server struct {
	log      *slog.Logger
	grpc     *grpc.Server
	health   *health.Server
	check    func(ctx context.Context) error
	interval time.Duration
}

func NewServer(log *slog.Logger, check func(ctx context.Context) error, interval time.Duration) *Server {
	s := grpc.NewServer(grpc.ChainUnaryInterceptor(grpc3.UnaryLoggingInterceptor(log)))
	h := health.NewServer()
	healthpb.RegisterHealthServer(s, h)
	h.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	h.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return &Server{log: log, grpc: s, health: h, check: check, interval: interval}
}

func (s *Server) Serve(lis net.Listener) error {
	s.log.Info("Starting gRPC admin server", "address", lis.Addr().String())
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Run keeps the serving status up to date until ctx is done, then reports NOT_SERVING.
func (s *Server) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.refresh(ctx)
		select {
		case <-ctx.Done():
			s.health.Shutdown()
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Server) refresh(ctx context.Context) {
	status := healthpb.HealthCheckResponse_SERVING
	if s.check != nil {
		checkCtx, cancel := context.WithTimeout(ctx, s.interval)
		err := s.check(checkCtx)
		cancel()
		if err != nil {
			s.log.Warn("Health check failed", "error", err)
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

func (s *Server) GracefulStop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
