// Package enginetest provides an in-memory peer mesh for engine sessions.
package enginetest

import (
	"errors"
	"fmt"
	"sync"
)

// ErrClosed is returned by a closed mesh endpoint.
var ErrClosed = errors.New("mesh closed")

const queueDepth = 64

// Mesh connects three in-process parties with FIFO queues per ordered pair.
type Mesh struct {
	queues    [3][3]chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// NewMesh returns a connected mesh.
func NewMesh() *Mesh {
	m := &Mesh{done: make(chan struct{})}
	for from := range m.queues {
		for to := range m.queues[from] {
			m.queues[from][to] = make(chan []byte, queueDepth)
		}
	}
	return m
}

// Endpoint returns party's view of the mesh.
func (m *Mesh) Endpoint(party int) *Endpoint {
	return &Endpoint{mesh: m, party: party}
}

// Close aborts every pending and future operation.
func (m *Mesh) Close() {
	m.closeOnce.Do(func() { close(m.done) })
}

// Endpoint implements engine.Network for one party.
type Endpoint struct {
	mesh  *Mesh
	party int
	// Tamper, when set, rewrites every outgoing body.
	Tamper func(to int, body []byte) []byte
}

func (e *Endpoint) Party() int {
	return e.party
}

func (e *Endpoint) Send(to int, body []byte) error {
	if to < 0 || to >= 3 || to == e.party {
		return fmt.Errorf("invalid peer %d", to)
	}
	out := append([]byte(nil), body...)
	if e.Tamper != nil {
		out = e.Tamper(to, out)
	}
	select {
	case <-e.mesh.done:
		return ErrClosed
	case e.mesh.queues[e.party][to] <- out:
		return nil
	}
}

func (e *Endpoint) Recv(from int) ([]byte, error) {
	if from < 0 || from >= 3 || from == e.party {
		return nil, fmt.Errorf("invalid peer %d", from)
	}
	select {
	case <-e.mesh.done:
		return nil, ErrClosed
	case body := <-e.mesh.queues[from][e.party]:
		return body, nil
	}
}

func (e *Endpoint) AllToAll(body []byte) ([][]byte, error) {
	out := make([][]byte, 3)
	for peer := range out {
		if peer == e.party {
			continue
		}
		if err := e.Send(peer, body); err != nil {
			return nil, err
		}
	}
	for peer := range out {
		if peer == e.party {
			out[peer] = append([]byte(nil), body...)
			continue
		}
		received, err := e.Recv(peer)
		if err != nil {
			return nil, err
		}
		out[peer] = received
	}
	return out, nil
}
