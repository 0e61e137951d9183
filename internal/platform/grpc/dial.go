// Package grpc holds the gRPC plumbing shared by party nodes and the
// coordinator: connecting with a health gate, server options and the CBOR
// codec.
package grpc

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// ClientFactory builds a client connection for a party endpoint.
// gogrpc.NewClient is used when none is given.
type ClientFactory func(endpoint string, opts ...gogrpc.DialOption) (*gogrpc.ClientConn, error)

// ConnectStage names the step of a connection attempt that failed.
type ConnectStage string

const (
	// StageClient means the client could not be built for the endpoint.
	StageClient ConnectStage = "client"
	// StageHealth means the endpoint never reported SERVING.
	StageHealth ConnectStage = "health"
)

// ConnectError reports a failed attempt to reach a party endpoint.
type ConnectError struct {
	Endpoint string
	Stage    ConnectStage
	Err      error
}

func (e *ConnectError) Error() string {
	if e == nil {
		return "connect to party"
	}
	return fmt.Sprintf("connect to party %s (%s): %v", e.Endpoint, e.Stage, e.Err)
}

func (e *ConnectError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// DefaultClientDialOptions returns the dial options used towards party nodes.
// Every outbound call propagates trace context when a TracerProvider is
// registered.
func DefaultClientDialOptions() []gogrpc.DialOption {
	return []gogrpc.DialOption{
		gogrpc.WithTransportCredentials(insecure.NewCredentials()),
		gogrpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}
}

// DefaultServerOptions returns the server options used by party nodes.
func DefaultServerOptions() []gogrpc.ServerOption {
	return []gogrpc.ServerOption{
		gogrpc.StatsHandler(otelgrpc.NewServerHandler()),
	}
}

// ConnectWithHealth builds a client for endpoint and returns it once the
// endpoint's health service reports SERVING within timeout. The connection
// is closed on failure.
func ConnectWithHealth(ctx context.Context, factory ClientFactory, endpoint string, timeout time.Duration, logf func(string, ...any), opts ...gogrpc.DialOption) (*gogrpc.ClientConn, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if factory == nil {
		factory = gogrpc.NewClient
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	conn, err := factory(endpoint, opts...)
	if err != nil {
		return nil, &ConnectError{Endpoint: endpoint, Stage: StageClient, Err: err}
	}
	conn.Connect()
	if err := WaitForHealth(ctx, conn, "", logf); err != nil {
		_ = conn.Close()
		return nil, &ConnectError{Endpoint: endpoint, Stage: StageHealth, Err: err}
	}
	return conn, nil
}
