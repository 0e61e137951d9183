package server_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	partyv1 "github.com/secretdoor/montyhall/api/party/v1"
	apperrors "github.com/secretdoor/montyhall/internal/platform/errors"
	grpcmeta "github.com/secretdoor/montyhall/internal/platform/grpc/metadata"
	server "github.com/secretdoor/montyhall/internal/services/node/app"
	"github.com/secretdoor/montyhall/internal/services/node/engine"
	"github.com/secretdoor/montyhall/internal/services/node/nodetest"
	"github.com/secretdoor/montyhall/internal/services/node/peernet"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

func dialClients(t *testing.T, cluster *nodetest.Cluster) [engine.Parties]partyv1.PartyServiceClient {
	t.Helper()
	var clients [engine.Parties]partyv1.PartyServiceClient
	for i, addr := range cluster.Addrs {
		conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		require.NoError(t, err)
		t.Cleanup(func() { _ = conn.Close() })
		clients[i] = partyv1.NewPartyServiceClient(conn)
	}
	return clients
}

// fanOut calls every node concurrently under one session ID.
func fanOut[T any](t *testing.T, sessionID string, call func(ctx context.Context, party int) (T, error)) [engine.Parties]T {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	ctx = grpcmeta.WithOutgoingSession(ctx, sessionID, grpcmeta.NewID())

	var (
		wg      sync.WaitGroup
		results [engine.Parties]T
		errs    [engine.Parties]error
	)
	for party := 0; party < engine.Parties; party++ {
		wg.Go(func() {
			results[party], errs[party] = call(ctx, party)
		})
	}
	wg.Wait()
	for party, err := range errs {
		require.NoErrorf(t, err, "party %d", party)
	}
	return results
}

func TestClusterPlaysOneGame(t *testing.T) {
	cluster := nodetest.Start(t)
	clients := dialClients(t, cluster)
	verifier := engine.NewVerifier(cluster.Params)

	sampled := fanOut(t, "sample-1", func(ctx context.Context, party int) (*partyv1.SampleRandomnessResponse, error) {
		return clients[party].SampleRandomness(ctx, &partyv1.SampleRandomnessRequest{})
	})
	for _, resp := range sampled[1:] {
		require.Equal(t, sampled[0].GetCommitment(), resp.GetCommitment())
	}

	player := bytes.Repeat([]byte{0x7e}, partyv1.PlayerAddressSize)
	initialized := fanOut(t, "init-1", func(ctx context.Context, party int) (*partyv1.InitGameResponse, error) {
		return clients[party].InitGame(ctx, &partyv1.InitGameRequest{Player: player})
	})
	for _, resp := range initialized {
		require.Equal(t, initialized[0].GetProof(), resp.GetProof())
		require.Equal(t, sampled[0].GetCommitment(), resp.GetSeedCommitment())
	}
	require.NoError(t, verifier.VerifyInit(sampled[0].GetCommitment(), initialized[0].GetGameStateCommitment(), player, initialized[0].GetProof()))

	revealed := fanOut(t, "reveal-1", func(ctx context.Context, party int) (*partyv1.RevealDoorResponse, error) {
		return clients[party].RevealDoor(ctx, &partyv1.RevealDoorRequest{Door: 1})
	})
	for _, resp := range revealed {
		require.Equal(t, revealed[0].GetRevealedDoor(), resp.GetRevealedDoor())
	}
	door := revealed[0].GetRevealedDoor()
	require.NotEqual(t, uint32(1), door)
	require.NoError(t, verifier.VerifyReveal(initialized[0].GetGameStateCommitment(), 1, uint8(door), revealed[0].GetProof()))
}

func TestInitBeforeSampleOverTheWire(t *testing.T) {
	cluster := nodetest.Start(t)
	clients := dialClients(t, cluster)

	_, err := clients[0].InitGame(context.Background(), &partyv1.InitGameRequest{
		Player: bytes.Repeat([]byte{1}, partyv1.PlayerAddressSize),
	})
	require.Equal(t, codes.FailedPrecondition, status.Code(err))
	require.Equal(t, apperrors.CodePreconditionFailed, apperrors.FromGRPCStatus(err).Code)
}

func TestServerReportsHealth(t *testing.T) {
	cluster := nodetest.Start(t)
	conn, err := grpc.NewClient(cluster.Addrs[0], grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	resp, err := grpc_health_v1.NewHealthClient(conn).Check(context.Background(), &grpc_health_v1.HealthCheckRequest{
		Service: partyv1.ServiceName,
	})
	require.NoError(t, err)
	require.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, resp.GetStatus())
}

func TestMetricsEndpoint(t *testing.T) {
	params, err := engine.NewParams(nodetest.CRS, nodetest.Circuits)
	require.NoError(t, err)
	topology := peernet.Topology{Parties: []peernet.PartyConfig{
		{Index: 0, PeerAddr: "127.0.0.1:1", PublicKey: "0000000000000000000000000000000000000000000000000000000000000000"},
		{Index: 1, PeerAddr: "127.0.0.1:2", PublicKey: "0000000000000000000000000000000000000000000000000000000000000000"},
		{Index: 2, PeerAddr: "127.0.0.1:3", PublicKey: "0000000000000000000000000000000000000000000000000000000000000000"},
	}}
	srv, err := server.New(server.Config{
		Addr:        "127.0.0.1:0",
		MetricsAddr: "127.0.0.1:0",
		DBPath:      filepath.Join(t.TempDir(), "node.db"),
		Topology:    topology,
		Params:      params,
		Logger:      zerolog.Nop(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	var body []byte
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + srv.MetricsAddr() + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, err = io.ReadAll(resp.Body)
		return err == nil && resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)
	require.Contains(t, string(body), "go_goroutines")
}

func TestNewRequiresParams(t *testing.T) {
	_, err := server.New(server.Config{Addr: "127.0.0.1:0"})
	require.Error(t, err)
}
