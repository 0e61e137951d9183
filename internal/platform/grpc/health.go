package grpc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	healthBackoffBase  = 100 * time.Millisecond
	healthBackoffCap   = time.Second
	healthProbeTimeout = time.Second
)

// RegisterHealth attaches a health server reporting SERVING for the empty
// service name and every named service.
func RegisterHealth(server *gogrpc.Server, services ...string) *health.Server {
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(server, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	for _, name := range services {
		healthServer.SetServingStatus(name, grpc_health_v1.HealthCheckResponse_SERVING)
	}
	return healthServer
}

// WaitForHealth polls the health service with capped exponential backoff until
// it reports SERVING or ctx ends.
func WaitForHealth(ctx context.Context, conn *gogrpc.ClientConn, service string, logf func(string, ...any)) error {
	if conn == nil {
		return errors.New("gRPC connection is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if logf == nil {
		logf = func(string, ...any) {}
	}

	backoff := retry.WithCappedDuration(healthBackoffCap, retry.NewExponential(healthBackoffBase))

	client := grpc_health_v1.NewHealthClient(conn)
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
		defer cancel()
		response, err := client.Check(callCtx, &grpc_health_v1.HealthCheckRequest{Service: service})
		if err != nil {
			logf("waiting for gRPC health of %s: %v", conn.Target(), err)
			return retry.RetryableError(err)
		}
		if status := response.GetStatus(); status != grpc_health_v1.HealthCheckResponse_SERVING {
			logf("waiting for gRPC health of %s: status %s", conn.Target(), status)
			return retry.RetryableError(fmt.Errorf("health status %s", status))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("wait for gRPC health: %w", err)
	}
	logf("gRPC health check for %s is SERVING", conn.Target())
	return nil
}
