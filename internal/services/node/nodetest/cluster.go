// Package nodetest starts in-process three-node clusters for tests.
package nodetest

import (
	"context"
	"encoding/hex"
	"fmt"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/secretdoor/montyhall/internal/platform/cryptoinit"
	server "github.com/secretdoor/montyhall/internal/services/node/app"
	"github.com/secretdoor/montyhall/internal/services/node/engine"
	"github.com/secretdoor/montyhall/internal/services/node/peernet"
)

// Circuits is the circuit set every test cluster runs.
var Circuits = engine.CircuitSet{Commit: "test/commit", Init: "test/init", Reveal: "test/reveal"}

// CRS is the reference string every test cluster runs.
var CRS = engine.CRS{Label: "test-crs"}

// Cluster is three running party nodes.
type Cluster struct {
	Addrs   [engine.Parties]string
	Servers [engine.Parties]*server.Server
	Params  *engine.Params
}

// Start launches three nodes on loopback ports and stops them on cleanup.
func Start(t testing.TB) *Cluster {
	t.Helper()
	params, err := engine.NewParams(CRS, Circuits)
	if err != nil {
		t.Fatalf("new params: %v", err)
	}

	var (
		topology peernet.Topology
		keys     [engine.Parties]cryptoinit.StaticKeys
	)
	for i := 0; i < engine.Parties; i++ {
		keys[i], err = cryptoinit.DeriveStaticKeys(fmt.Sprintf("nodetest-party-%d", i))
		if err != nil {
			t.Fatalf("derive keys: %v", err)
		}
		topology.Parties = append(topology.Parties, peernet.PartyConfig{
			Index:     i,
			PeerAddr:  freeAddr(t),
			PublicKey: hex.EncodeToString(keys[i].Public[:]),
		})
	}

	cluster := &Cluster{Params: params}
	dir := t.TempDir()
	for i := 0; i < engine.Parties; i++ {
		srv, err := server.New(server.Config{
			Addr:           "127.0.0.1:0",
			DBPath:         filepath.Join(dir, fmt.Sprintf("node-%d.db", i)),
			Party:          i,
			Topology:       topology,
			Params:         params,
			Keys:           keys[i],
			SessionTimeout: 10 * time.Second,
			Workers:        1,
			Logger:         zerolog.Nop(),
		})
		if err != nil {
			t.Fatalf("new node %d: %v", i, err)
		}
		cluster.Servers[i] = srv
		cluster.Addrs[i] = srv.Addr()

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			done <- srv.Serve(ctx)
		}()
		t.Cleanup(func() {
			cancel()
			select {
			case err := <-done:
				if err != nil {
					t.Errorf("serve node: %v", err)
				}
			case <-time.After(5 * time.Second):
				t.Error("timeout waiting for node shutdown")
			}
		})
	}
	return cluster
}

func freeAddr(t testing.TB) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	addr := listener.Addr().String()
	_ = listener.Close()
	return addr
}
