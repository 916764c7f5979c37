package api

import (
	"log/slog"
	"net"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthService is the gRPC service name reported by the health server.
const HealthService = "dialer.v1.Dialer"

// HealthServer serves the standard gRPC health protocol for load balancers
// and orchestrators.
type HealthServer struct {
	grpc   *grpc.Server
	health *health.Server
	ln     net.Listener
	logger *slog.Logger
}

// NewHealthServer creates a health server reporting SERVING.
func NewHealthServer(logger *slog.Logger) *HealthServer {
	if logger == nil {
		logger = slog.Default()
	}
	srv := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(HealthService, healthpb.HealthCheckResponse_SERVING)

	return &HealthServer{grpc: srv, health: hs, logger: logger}
}

// Start listens on addr and serves in the background.
func (h *HealthServer) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	h.ln = ln
	h.logger.Info("[gRPC] Health server listening", "addr", ln.Addr().String())

	go func() {
		if err := h.grpc.Serve(ln); err != nil {
			h.logger.Error("[gRPC] Server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (h *HealthServer) Addr() net.Addr {
	if h.ln == nil {
		return nil
	}
	return h.ln.Addr()
}

// Drain reports NOT_SERVING so callers stop routing new work here.
func (h *HealthServer) Drain() {
	h.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	h.health.SetServingStatus(HealthService, healthpb.HealthCheckResponse_NOT_SERVING)
}

// Stop shuts the health service down and stops the server gracefully.
func (h *HealthServer) Stop() {
	h.health.Shutdown()
	h.grpc.GracefulStop()
}
