package grpcserver

import (
	"fmt"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"

	"github.com/Dhoini/subscription-service/pkg/logger"
)

// ServiceName имя сервиса в grpc.health.v1
const ServiceName = "subscription-service"

// Server gRPC сервер со стандартным health сервисом и reflection.
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	log        *logger.Logger
}

// NewServer создает сервер; interceptors выполняются в переданном порядке.
func NewServer(log *logger.Logger, interceptors ...grpc.UnaryServerInterceptor) *Server {
	kaParams := keepalive.ServerParameters{
		MaxConnectionIdle:     5 * time.Minute,
		MaxConnectionAge:      time.Hour,
		MaxConnectionAgeGrace: 5 * time.Minute,
		Time:                  2 * time.Minute,
		Timeout:               20 * time.Second,
	}

	grpcServer := grpc.NewServer(
		grpc.KeepaliveParams(kaParams),
		grpc.ChainUnaryInterceptor(interceptors...),
	)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	// reflection для grpcurl
	reflection.Register(grpcServer)

	return &Server{
		grpcServer: grpcServer,
		health:     hs,
		log:        log,
	}
}

// Serve блокируется до остановки сервера.
func (s *Server) Serve(lis net.Listener) error {
	s.log.Infow("Starting gRPC server", "addr", lis.Addr().String())
	if err := s.grpcServer.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return fmt.Errorf("grpc serve: %w", err)
	}
	return nil
}

// ListenAndServe слушает TCP порт и обслуживает запросы.
func (s *Server) ListenAndServe(port string) error {
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return fmt.Errorf("grpc listen on %s: %w", port, err)
	}
	return s.Serve(lis)
}

// MarkNotServing переводит все сервисы в NOT_SERVING; балансировщики перестают слать трафик.
func (s *Server) MarkNotServing() {
	s.health.Shutdown()
}

// Stop переводит health в NOT_SERVING и дожидается завершения текущих вызовов.
func (s *Server) Stop() {
	s.log.Infow("Stopping gRPC server")
	s.MarkNotServing()
	s.grpcServer.GracefulStop()
}
