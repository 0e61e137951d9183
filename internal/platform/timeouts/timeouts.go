// Package timeouts defines the timeout constants shared by the coordinator
// and the party nodes.
package timeouts

import "time"

// GRPCDial caps the wait time when dialing a party node, including its
// health probe.
const GRPCDial = 5 * time.Second

// PartyStep caps one coordinator fan-out step. It covers queueing behind
// earlier jobs plus a full peer session on every node.
const PartyStep = 2 * time.Minute

// PeerSession bounds a single peer-to-peer session on a node, from mesh
// setup to the last exchanged frame.
const PeerSession = 30 * time.Second

// PeerFrame limits how long a node waits on one frame from a peer.
const PeerFrame = 10 * time.Second

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long servers wait for in-flight requests during
// graceful shutdown.
const Shutdown = 5 * time.Second
