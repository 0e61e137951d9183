package peernet

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/secretdoor/montyhall/internal/platform/cryptoinit"
	"github.com/stretchr/testify/require"
)

type testNetwork struct {
	topology Topology
	keys     [Parties]cryptoinit.StaticKeys
}

func newTestNetwork(t *testing.T) testNetwork {
	t.Helper()
	var network testNetwork
	for i := 0; i < Parties; i++ {
		keys, err := cryptoinit.DeriveStaticKeys(fmt.Sprintf("mesh-test-party-%d", i))
		require.NoError(t, err)
		network.keys[i] = keys
		network.topology.Parties = append(network.topology.Parties, PartyConfig{
			Index:     i,
			PeerAddr:  freeAddr(t),
			PublicKey: hex.EncodeToString(keys.Public[:]),
		})
	}
	return network
}

func freeAddr(t *testing.T) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())
	return addr
}

func (n testNetwork) config(party int) Config {
	return Config{
		Party:          party,
		Topology:       n.topology,
		Keys:           n.keys[party],
		SessionTimeout: 3 * time.Second,
		FrameTimeout:   2 * time.Second,
		Logger:         zerolog.Nop(),
	}
}

func openAll(t *testing.T, ctx context.Context, network testNetwork, sessions [Parties]string) ([Parties]*Mesh, [Parties]error) {
	t.Helper()
	var (
		wg     sync.WaitGroup
		meshes [Parties]*Mesh
		errs   [Parties]error
	)
	for party := 0; party < Parties; party++ {
		wg.Go(func() {
			meshes[party], errs[party] = Open(ctx, network.config(party), sessions[party])
		})
	}
	wg.Wait()
	t.Cleanup(func() {
		for _, m := range meshes {
			if m != nil {
				m.Close()
			}
		}
	})
	return meshes, errs
}

func TestMeshAllToAll(t *testing.T) {
	network := newTestNetwork(t)
	meshes, errs := openAll(t, context.Background(), network, [Parties]string{"s1", "s1", "s1"})
	for _, err := range errs {
		require.NoError(t, err)
	}

	var (
		wg      sync.WaitGroup
		results [Parties][][]byte
		rerrs   [Parties]error
	)
	for party := 0; party < Parties; party++ {
		wg.Go(func() {
			results[party], rerrs[party] = meshes[party].AllToAll([]byte{byte(party + 10)})
		})
	}
	wg.Wait()

	for party := 0; party < Parties; party++ {
		require.NoError(t, rerrs[party])
		require.Equal(t, [][]byte{{10}, {11}, {12}}, results[party])
	}
}

func TestMeshSendRecvPreservesOrder(t *testing.T) {
	network := newTestNetwork(t)
	meshes, errs := openAll(t, context.Background(), network, [Parties]string{"s2", "s2", "s2"})
	for _, err := range errs {
		require.NoError(t, err)
	}

	for i := byte(0); i < 5; i++ {
		require.NoError(t, meshes[2].Send(0, []byte{i}))
	}
	for i := byte(0); i < 5; i++ {
		body, err := meshes[0].Recv(2)
		require.NoError(t, err)
		require.Equal(t, []byte{i}, body)
	}

	require.Error(t, meshes[0].Send(0, []byte{1}))
	require.Error(t, meshes[0].Send(3, []byte{1}))
}

func TestOpenFailsOnSessionMismatch(t *testing.T) {
	network := newTestNetwork(t)
	cfgTimeout := 500 * time.Millisecond

	var (
		wg   sync.WaitGroup
		errs [Parties]error
	)
	sessions := [Parties]string{"a", "a", "b"}
	for party := 0; party < Parties; party++ {
		wg.Go(func() {
			cfg := network.config(party)
			cfg.SessionTimeout = cfgTimeout
			m, err := Open(context.Background(), cfg, sessions[party])
			if m != nil {
				m.Close()
			}
			errs[party] = err
		})
	}
	wg.Wait()

	require.Error(t, errs[2])
	require.Error(t, errs[0])
}

func TestOpenRejectsKeyNotInTopology(t *testing.T) {
	network := newTestNetwork(t)
	cfg := network.config(0)
	cfg.Keys = network.keys[1]

	_, err := Open(context.Background(), cfg, "s")
	require.Error(t, err)
}

func TestCancelClosesMesh(t *testing.T) {
	network := newTestNetwork(t)
	ctx, cancel := context.WithCancel(context.Background())
	meshes, errs := openAll(t, ctx, network, [Parties]string{"s3", "s3", "s3"})
	for _, err := range errs {
		require.NoError(t, err)
	}

	recvErr := make(chan error, 1)
	go func() {
		_, err := meshes[1].Recv(0)
		recvErr <- err
	}()
	cancel()

	select {
	case err := <-recvErr:
		require.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("expected receive to fail after cancel")
	}
	require.Eventually(t, func() bool {
		return errors.Is(meshes[2].Send(0, []byte{1}), ErrClosed)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPeerCloseFailsWithErrClosed(t *testing.T) {
	network := newTestNetwork(t)
	meshes, errs := openAll(t, context.Background(), network, [Parties]string{"s4", "s4", "s4"})
	for _, err := range errs {
		require.NoError(t, err)
	}

	meshes[0].Close()

	_, err := meshes[1].Recv(0)
	require.ErrorIs(t, err, ErrClosed)
	require.Eventually(t, func() bool {
		return errors.Is(meshes[2].Send(0, []byte{1}), ErrClosed)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTopologyValidate(t *testing.T) {
	network := newTestNetwork(t)
	require.NoError(t, network.topology.Validate())

	broken := Topology{Parties: append([]PartyConfig(nil), network.topology.Parties...)}
	broken.Parties[2].Index = 1
	require.Error(t, broken.Validate())

	broken = Topology{Parties: network.topology.Parties[:2]}
	require.Error(t, broken.Validate())

	overridden, err := network.topology.WithPeerAddrs([]string{"a:1", "b:2", "c:3"})
	require.NoError(t, err)
	party, ok := overridden.Party(1)
	require.True(t, ok)
	require.Equal(t, "b:2", party.PeerAddr)
	require.NotEqual(t, "b:2", network.topology.Parties[1].PeerAddr)

	_, err = network.topology.WithPeerAddrs([]string{"a:1"})
	require.Error(t, err)
}
