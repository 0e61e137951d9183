package peernet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/secretdoor/montyhall/internal/platform/cryptoinit"
	"github.com/secretdoor/montyhall/internal/platform/timeouts"
	"github.com/sethvargo/go-retry"
	"golang.org/x/crypto/nacl/box"
	"golang.org/x/sync/errgroup"
)

// ErrClosed is returned by operations on a closed mesh.
var ErrClosed = errors.New("peer mesh closed")

var errSessionMismatch = errors.New("peer session mismatch")

// Config describes this party's place in the network.
type Config struct {
	Party    int
	Topology Topology
	Keys     cryptoinit.StaticKeys
	// SessionTimeout bounds mesh establishment.
	SessionTimeout time.Duration
	// FrameTimeout bounds each read or write of a frame.
	FrameTimeout time.Duration
	Logger       zerolog.Logger
}

func (c Config) validate() error {
	if c.Party < 0 || c.Party >= Parties {
		return fmt.Errorf("party index %d out of range", c.Party)
	}
	if err := c.Topology.Validate(); err != nil {
		return err
	}
	own, err := c.Topology.publicKey(c.Party)
	if err != nil {
		return err
	}
	if own != c.Keys.Public {
		return fmt.Errorf("static key does not match topology entry for party %d", c.Party)
	}
	return nil
}

type peerConn struct {
	conn    net.Conn
	shared  [32]byte
	writeMu sync.Mutex
	sendSeq uint64
	readMu  sync.Mutex
	recvSeq uint64
}

// Mesh is one session's connections to the two other parties. It implements
// the engine's blocking Network.
type Mesh struct {
	party        int
	session      string
	frameTimeout time.Duration
	peers        [Parties]*peerConn
	logger       zerolog.Logger

	closed    chan struct{}
	closeOnce sync.Once
}

// Open establishes the session mesh. Lower-index parties accept, higher-index
// parties dial with backoff until SessionTimeout. Canceling ctx at any point,
// including after Open returns, closes the mesh.
func Open(ctx context.Context, cfg Config, sessionID string) (*Mesh, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}
	sessionTimeout := cfg.SessionTimeout
	if sessionTimeout <= 0 {
		sessionTimeout = timeouts.PeerSession
	}
	frameTimeout := cfg.FrameTimeout
	if frameTimeout <= 0 {
		frameTimeout = timeouts.PeerFrame
	}

	m := &Mesh{
		party:        cfg.Party,
		session:      sessionID,
		frameTimeout: frameTimeout,
		logger:       cfg.Logger.With().Int("party", cfg.Party).Str("session", sessionID).Logger(),
		closed:       make(chan struct{}),
	}

	establishCtx, cancel := context.WithTimeout(ctx, sessionTimeout)
	defer cancel()

	var listener net.Listener
	if cfg.Party < Parties-1 {
		own, _ := cfg.Topology.Party(cfg.Party)
		var lc net.ListenConfig
		var err error
		listener, err = lc.Listen(establishCtx, "tcp", own.PeerAddr)
		if err != nil {
			return nil, fmt.Errorf("listen on %s: %w", own.PeerAddr, err)
		}
		defer listener.Close()
	}

	var peersMu sync.Mutex
	setPeer := func(index int, pc *peerConn) {
		peersMu.Lock()
		m.peers[index] = pc
		peersMu.Unlock()
	}

	group, groupCtx := errgroup.WithContext(establishCtx)
	if listener != nil {
		stopListener := context.AfterFunc(groupCtx, func() { _ = listener.Close() })
		defer stopListener()
	}
	for peer := 0; peer < cfg.Party; peer++ {
		group.Go(func() error {
			pc, err := m.dial(groupCtx, cfg, peer)
			if err != nil {
				return fmt.Errorf("connect to party %d: %w", peer, err)
			}
			setPeer(peer, pc)
			return nil
		})
	}
	if listener != nil {
		group.Go(func() error {
			return m.acceptAll(groupCtx, cfg, listener, setPeer)
		})
	}
	if err := group.Wait(); err != nil {
		m.Close()
		return nil, err
	}

	context.AfterFunc(ctx, m.Close)
	m.logger.Debug().Msg("peer mesh established")
	return m, nil
}

func precompute(cfg Config, peer int) ([32]byte, error) {
	var shared [32]byte
	public, err := cfg.Topology.publicKey(peer)
	if err != nil {
		return shared, err
	}
	box.Precompute(&shared, &public, &cfg.Keys.Secret)
	return shared, nil
}

func (m *Mesh) dial(ctx context.Context, cfg Config, peer int) (*peerConn, error) {
	target, _ := cfg.Topology.Party(peer)
	shared, err := precompute(cfg, peer)
	if err != nil {
		return nil, err
	}

	backoff := retry.WithCappedDuration(time.Second, retry.NewExponential(50*time.Millisecond))

	var dialer net.Dialer
	var pc *peerConn
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		conn, err := dialer.DialContext(ctx, "tcp", target.PeerAddr)
		if err != nil {
			return retry.RetryableError(err)
		}
		candidate := &peerConn{conn: conn, shared: shared}
		if err := m.handshakeDialer(ctx, candidate, peer); err != nil {
			_ = conn.Close()
			if errors.Is(err, errFrameAuth) {
				return err
			}
			m.logger.Debug().Err(err).Int("peer", peer).Msg("peer handshake failed, retrying")
			return retry.RetryableError(err)
		}
		pc = candidate
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pc, nil
}

func (m *Mesh) handshakeDialer(ctx context.Context, pc *peerConn, peer int) error {
	deadline := time.Now().Add(m.frameTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = pc.conn.SetDeadline(deadline)
	defer pc.conn.SetDeadline(time.Time{})

	if _, err := pc.conn.Write([]byte{byte(m.party)}); err != nil {
		return err
	}
	hello := envelope{Session: m.session, From: uint8(m.party), To: uint8(peer)}
	if err := writeFrame(pc.conn, &pc.shared, hello); err != nil {
		return err
	}
	ack, err := readFrame(pc.conn, &pc.shared)
	if err != nil {
		return err
	}
	if ack.Session != m.session || ack.From != uint8(peer) || ack.To != uint8(m.party) || ack.Seq != 0 {
		return errSessionMismatch
	}
	return nil
}

// acceptAll accepts until every higher-index party has completed the
// handshake. Connections for another session are dropped.
func (m *Mesh) acceptAll(ctx context.Context, cfg Config, listener net.Listener, setPeer func(int, *peerConn)) error {
	pending := Parties - 1 - cfg.Party
	accepted := make(map[int]bool, pending)
	for pending > 0 {
		conn, err := listener.Accept()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fmt.Errorf("accept peers: %w", ctxErr)
			}
			return fmt.Errorf("accept peers: %w", err)
		}
		peer, pc, err := m.handshakeAcceptor(ctx, cfg, conn)
		if err != nil {
			m.logger.Debug().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("rejected peer connection")
			_ = conn.Close()
			continue
		}
		if accepted[peer] {
			_ = pc.conn.Close()
			continue
		}
		accepted[peer] = true
		setPeer(peer, pc)
		pending--
	}
	return nil
}

func (m *Mesh) handshakeAcceptor(ctx context.Context, cfg Config, conn net.Conn) (int, *peerConn, error) {
	deadline := time.Now().Add(m.frameTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)
	defer conn.SetDeadline(time.Time{})

	var index [1]byte
	if _, err := io.ReadFull(conn, index[:]); err != nil {
		return 0, nil, err
	}
	peer := int(index[0])
	if peer <= m.party || peer >= Parties {
		return 0, nil, fmt.Errorf("unexpected dialer index %d", peer)
	}
	shared, err := precompute(cfg, peer)
	if err != nil {
		return 0, nil, err
	}
	pc := &peerConn{conn: conn, shared: shared}
	hello, err := readFrame(conn, &pc.shared)
	if err != nil {
		return 0, nil, err
	}
	if hello.Session != m.session || hello.From != uint8(peer) || hello.To != uint8(m.party) || hello.Seq != 0 {
		return 0, nil, errSessionMismatch
	}
	ack := envelope{Session: m.session, From: uint8(m.party), To: uint8(peer)}
	if err := writeFrame(conn, &pc.shared, ack); err != nil {
		return 0, nil, err
	}
	return peer, pc, nil
}

// Party returns this party's index.
func (m *Mesh) Party() int {
	return m.party
}

// Session returns the session identifier.
func (m *Mesh) Session() string {
	return m.session
}

func (m *Mesh) peer(index int) (*peerConn, error) {
	if index < 0 || index >= Parties || index == m.party {
		return nil, fmt.Errorf("invalid peer %d", index)
	}
	select {
	case <-m.closed:
		return nil, ErrClosed
	default:
	}
	return m.peers[index], nil
}

// wrap marks err as ErrClosed when this mesh was closed or a peer hung up,
// so a session aborted on any party fails the same way everywhere.
func (m *Mesh) wrap(err error) error {
	select {
	case <-m.closed:
		return fmt.Errorf("%w: %v", ErrClosed, err)
	default:
	}
	if peerHungUp(err) {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return err
}

func peerHungUp(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}

// Send seals body to one peer.
func (m *Mesh) Send(to int, body []byte) error {
	pc, err := m.peer(to)
	if err != nil {
		return err
	}
	pc.writeMu.Lock()
	defer pc.writeMu.Unlock()

	pc.sendSeq++
	_ = pc.conn.SetWriteDeadline(time.Now().Add(m.frameTimeout))
	env := envelope{Session: m.session, From: uint8(m.party), To: uint8(to), Seq: pc.sendSeq, Body: body}
	if err := writeFrame(pc.conn, &pc.shared, env); err != nil {
		return m.wrap(fmt.Errorf("send to party %d: %w", to, err))
	}
	return nil
}

// Recv returns the next body from one peer. Frames must arrive in sequence.
func (m *Mesh) Recv(from int) ([]byte, error) {
	pc, err := m.peer(from)
	if err != nil {
		return nil, err
	}
	pc.readMu.Lock()
	defer pc.readMu.Unlock()

	_ = pc.conn.SetReadDeadline(time.Now().Add(m.frameTimeout))
	env, err := readFrame(pc.conn, &pc.shared)
	if err != nil {
		return nil, m.wrap(fmt.Errorf("receive from party %d: %w", from, err))
	}
	if env.Session != m.session || env.From != uint8(from) || env.To != uint8(m.party) {
		return nil, fmt.Errorf("receive from party %d: %w", from, errSessionMismatch)
	}
	if env.Seq != pc.recvSeq+1 {
		return nil, fmt.Errorf("receive from party %d: sequence %d, want %d", from, env.Seq, pc.recvSeq+1)
	}
	pc.recvSeq = env.Seq
	return env.Body, nil
}

// AllToAll sends body to both peers and returns every party's body indexed
// by sender.
func (m *Mesh) AllToAll(body []byte) ([][]byte, error) {
	out := make([][]byte, Parties)
	for peer := range out {
		if peer == m.party {
			continue
		}
		if err := m.Send(peer, body); err != nil {
			return nil, err
		}
	}
	for peer := range out {
		if peer == m.party {
			out[peer] = append([]byte(nil), body...)
			continue
		}
		received, err := m.Recv(peer)
		if err != nil {
			return nil, err
		}
		out[peer] = received
	}
	return out, nil
}

// Close closes every peer connection. It is safe to call more than once.
func (m *Mesh) Close() {
	m.closeOnce.Do(func() {
		close(m.closed)
		for _, pc := range m.peers {
			if pc != nil {
				_ = pc.conn.Close()
			}
		}
	})
}
