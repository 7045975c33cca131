package backend

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCHealth probes a backend through the standard grpc.health.v1 service.
type GRPCHealth struct {
	client  healthpb.HealthClient
	conn    *grpc.ClientConn
	service string
}

// DialGRPCHealth creates the client connection. grpc.NewClient connects
// lazily, so an unreachable address surfaces on the first Check.
func DialGRPCHealth(address, service string) (*GRPCHealth, error) {
	conn, err := grpc.NewClient(address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("grpc health dial %s: %w", address, err)
	}
	return &GRPCHealth{client: healthpb.NewHealthClient(conn), conn: conn, service: service}, nil
}

func (h *GRPCHealth) Check(ctx context.Context) bool {
	resp, err := h.client.Check(ctx, &healthpb.HealthCheckRequest{Service: h.service})
	if err != nil {
		slog.Debug("grpc health check failed", "service", h.service, "error", err)
		return false
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
}

func (h *GRPCHealth) Close() error {
	if h.conn != nil {
		return h.conn.Close()
	}
	return nil
}
