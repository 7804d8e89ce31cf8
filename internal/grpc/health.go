package grpc

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health entry reported alongside the overall status.
const ServiceName = "bursar.Ledger"

type Pinger interface {
	Ping(ctx context.Context) error
}

// Health tracks database reachability and reports it through the standard
// gRPC health service.
type Health struct {
	server *health.Server
	db     Pinger
	log    *zap.Logger
}

func NewHealth(db Pinger, log *zap.Logger) *Health {
	return &Health{server: health.NewServer(), db: db, log: log}
}

func (h *Health) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.server)
}

// Check pings the database once and publishes the result.
func (h *Health) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if err := h.db.Ping(ctx); err != nil {
		h.log.Warn("database unreachable", zap.Error(err))
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.server.SetServingStatus("", status)
	h.server.SetServingStatus(ServiceName, status)
	return status
}

// Watch re-checks every interval until ctx ends, then marks the service as
// shutting down.
func (h *Health) Watch(ctx context.Context, interval, timeout time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	check := func() {
		checkCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		h.Check(checkCtx)
	}
	check()

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				h.server.Shutdown()
				return
			case <-ticker.C:
				check()
			}
		}
	}()
}
