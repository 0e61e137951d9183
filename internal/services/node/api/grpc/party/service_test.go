package party

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	partyv1 "github.com/secretdoor/montyhall/api/party/v1"
	apperrors "github.com/secretdoor/montyhall/internal/platform/errors"
	grpcmeta "github.com/secretdoor/montyhall/internal/platform/grpc/metadata"
	"github.com/secretdoor/montyhall/internal/services/node/engine"
	"github.com/secretdoor/montyhall/internal/services/node/session"
	"github.com/secretdoor/montyhall/internal/services/node/storage"
	"github.com/secretdoor/montyhall/internal/services/node/storage/sqlite"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	waitFor = 2 * time.Second
	tick    = 10 * time.Millisecond
)

type fakeSession struct{}

func (fakeSession) Party() int                            { return 0 }
func (fakeSession) Send(int, []byte) error                { return nil }
func (fakeSession) Recv(int) ([]byte, error)              { return nil, nil }
func (fakeSession) AllToAll(body []byte) ([][]byte, error) { return [][]byte{body, body, body}, nil }
func (fakeSession) Close()                                {}

type fakeEngine struct {
	mu      sync.Mutex
	calls   []string
	players [][]byte
	picks   []uint8
	err     error
	// block, when set, holds the session until the channel closes.
	block chan struct{}
	round byte
}

func (e *fakeEngine) record(op string) error {
	e.mu.Lock()
	e.calls = append(e.calls, op)
	block := e.block
	err := e.err
	e.mu.Unlock()
	if block != nil {
		<-block
	}
	return err
}

func (e *fakeEngine) SampleRandomness(engine.Network) (engine.Randomness, error) {
	if err := e.record(opSampleRandomness); err != nil {
		return engine.Randomness{}, err
	}
	e.mu.Lock()
	e.round++
	round := e.round
	e.mu.Unlock()
	return engine.Randomness{
		Seed:       bytes.Repeat([]byte{round}, 32),
		Blinding:   bytes.Repeat([]byte{round + 1}, 32),
		Commitment: bytes.Repeat([]byte{round + 2}, 32),
	}, nil
}

func (e *fakeEngine) InitGame(_ engine.Network, rand engine.Randomness, player []byte) (engine.GameState, error) {
	if err := e.record(opInitGame); err != nil {
		return engine.GameState{}, err
	}
	e.mu.Lock()
	e.players = append(e.players, player)
	e.mu.Unlock()
	return engine.GameState{
		Proof:      []byte("init-proof"),
		Share:      []byte("share"),
		Commitment: append([]byte("game-"), rand.Commitment[:4]...),
	}, nil
}

func (e *fakeEngine) RevealDoor(_ engine.Network, _ engine.GameState, pick uint8) (engine.Reveal, error) {
	if err := e.record(opRevealDoor); err != nil {
		return engine.Reveal{}, err
	}
	e.mu.Lock()
	e.picks = append(e.picks, pick)
	e.mu.Unlock()
	return engine.Reveal{Door: (pick + 1) % 3, Proof: []byte("reveal-proof")}, nil
}

func (e *fakeEngine) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

type testService struct {
	svc      *Service
	store    *sqlite.Store
	engine   *fakeEngine
	mu       sync.Mutex
	sessions []string
}

func newTestService(t *testing.T) *testService {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "node.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	bridge := session.NewBridge(1)
	t.Cleanup(bridge.Stop)

	ts := &testService{store: store, engine: &fakeEngine{}}
	open := func(_ context.Context, sessionID string) (Session, error) {
		ts.mu.Lock()
		ts.sessions = append(ts.sessions, sessionID)
		ts.mu.Unlock()
		return fakeSession{}, nil
	}
	ts.svc = NewService(store, ts.engine, open, bridge, nil, zerolog.Nop())
	return ts
}

func (ts *testService) state(t *testing.T) State {
	t.Helper()
	state, err := ts.svc.State(context.Background())
	require.NoError(t, err)
	return state
}

func requireReason(t *testing.T, err error, grpcCode codes.Code, reason apperrors.Code) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, grpcCode, status.Code(err))
	require.Equal(t, reason, apperrors.FromGRPCStatus(err).Code)
}

var testPlayer = bytes.Repeat([]byte{0xab}, partyv1.PlayerAddressSize)

func TestFullEpoch(t *testing.T) {
	ts := newTestService(t)
	ctx := context.Background()
	require.Equal(t, StateIdle, ts.state(t))

	sampled, err := ts.svc.SampleRandomness(ctx, &partyv1.SampleRandomnessRequest{})
	require.NoError(t, err)
	require.Len(t, sampled.GetCommitment(), 32)
	require.Equal(t, StateRandomnessReady, ts.state(t))

	initResp, err := ts.svc.InitGame(ctx, &partyv1.InitGameRequest{Player: testPlayer})
	require.NoError(t, err)
	require.Equal(t, sampled.GetCommitment(), initResp.GetSeedCommitment())
	require.Equal(t, []byte("init-proof"), initResp.GetProof())
	require.Equal(t, StateGameInitialized, ts.state(t))

	stored, err := ts.store.GetGameInitState(ctx)
	require.NoError(t, err)
	require.Equal(t, testPlayer, stored.Player)
	require.Equal(t, initResp.GetGameStateCommitment(), stored.GameStateCommitment)

	reveal, err := ts.svc.RevealDoor(ctx, &partyv1.RevealDoorRequest{Door: 2})
	require.NoError(t, err)
	require.Equal(t, uint32(0), reveal.GetRevealedDoor())
	require.Equal(t, initResp.GetGameStateCommitment(), reveal.GetGameStateCommitment())
	require.Equal(t, StateDoorRevealed, ts.state(t))
	require.Equal(t, []uint8{2}, ts.engine.picks)
}

func TestInitGameRequiresRandomness(t *testing.T) {
	ts := newTestService(t)

	_, err := ts.svc.InitGame(context.Background(), &partyv1.InitGameRequest{Player: testPlayer})
	requireReason(t, err, codes.FailedPrecondition, apperrors.CodePreconditionFailed)
	require.Zero(t, ts.engine.callCount())

	_, err = ts.store.GetGameInitState(context.Background())
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRevealDoorRequiresGame(t *testing.T) {
	ts := newTestService(t)
	ctx := context.Background()

	_, err := ts.svc.RevealDoor(ctx, &partyv1.RevealDoorRequest{Door: 0})
	requireReason(t, err, codes.FailedPrecondition, apperrors.CodePreconditionFailed)

	_, err = ts.svc.SampleRandomness(ctx, &partyv1.SampleRandomnessRequest{})
	require.NoError(t, err)
	_, err = ts.svc.RevealDoor(ctx, &partyv1.RevealDoorRequest{Door: 0})
	requireReason(t, err, codes.FailedPrecondition, apperrors.CodePreconditionFailed)
	require.Equal(t, 1, ts.engine.callCount())
}

func TestRevealedEpochRejectsInitAndReveal(t *testing.T) {
	ts := newTestService(t)
	ctx := context.Background()

	_, err := ts.svc.SampleRandomness(ctx, &partyv1.SampleRandomnessRequest{})
	require.NoError(t, err)
	_, err = ts.svc.InitGame(ctx, &partyv1.InitGameRequest{Player: testPlayer})
	require.NoError(t, err)
	_, err = ts.svc.RevealDoor(ctx, &partyv1.RevealDoorRequest{Door: 1})
	require.NoError(t, err)

	_, err = ts.svc.RevealDoor(ctx, &partyv1.RevealDoorRequest{Door: 0})
	requireReason(t, err, codes.FailedPrecondition, apperrors.CodeInvalidTransition)
	require.Equal(t, "DoorRevealed", apperrors.FromGRPCStatus(err).Metadata["state"])

	_, err = ts.svc.InitGame(ctx, &partyv1.InitGameRequest{Player: testPlayer})
	requireReason(t, err, codes.FailedPrecondition, apperrors.CodeInvalidTransition)
}

func TestSampleRandomnessStartsNewEpoch(t *testing.T) {
	ts := newTestService(t)
	ctx := context.Background()

	first, err := ts.svc.SampleRandomness(ctx, &partyv1.SampleRandomnessRequest{})
	require.NoError(t, err)
	_, err = ts.svc.InitGame(ctx, &partyv1.InitGameRequest{Player: testPlayer})
	require.NoError(t, err)
	_, err = ts.svc.RevealDoor(ctx, &partyv1.RevealDoorRequest{Door: 0})
	require.NoError(t, err)

	second, err := ts.svc.SampleRandomness(ctx, &partyv1.SampleRandomnessRequest{})
	require.NoError(t, err)
	require.NotEqual(t, first.GetCommitment(), second.GetCommitment())
	require.Equal(t, StateRandomnessReady, ts.state(t))

	_, err = ts.store.GetDoorReveal(ctx)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestInitGameRestartsFromInitialized(t *testing.T) {
	ts := newTestService(t)
	ctx := context.Background()

	_, err := ts.svc.SampleRandomness(ctx, &partyv1.SampleRandomnessRequest{})
	require.NoError(t, err)
	_, err = ts.svc.InitGame(ctx, &partyv1.InitGameRequest{Player: testPlayer})
	require.NoError(t, err)

	other := bytes.Repeat([]byte{0x01}, partyv1.PlayerAddressSize)
	_, err = ts.svc.InitGame(ctx, &partyv1.InitGameRequest{Player: other})
	require.NoError(t, err)

	stored, err := ts.store.GetGameInitState(ctx)
	require.NoError(t, err)
	require.Equal(t, other, stored.Player)
}

func TestRejectsBadRequests(t *testing.T) {
	ts := newTestService(t)
	ctx := context.Background()

	_, err := ts.svc.InitGame(ctx, &partyv1.InitGameRequest{Player: []byte{1, 2, 3}})
	requireReason(t, err, codes.InvalidArgument, apperrors.CodeBadRequest)

	_, err = ts.svc.RevealDoor(ctx, &partyv1.RevealDoorRequest{Door: 3})
	requireReason(t, err, codes.InvalidArgument, apperrors.CodeBadRequest)

	_, err = ts.svc.InitGame(ctx, nil)
	requireReason(t, err, codes.InvalidArgument, apperrors.CodeBadRequest)
	require.Zero(t, ts.engine.callCount())
}

func TestEngineFailureIsOpaque(t *testing.T) {
	ts := newTestService(t)
	ts.engine.err = errors.New("peer 2 sent malformed scalar")

	_, err := ts.svc.SampleRandomness(context.Background(), &partyv1.SampleRandomnessRequest{})
	requireReason(t, err, codes.Internal, apperrors.CodeInternal)
	require.Equal(t, internalMessage, status.Convert(err).Message())
	require.NotContains(t, err.Error(), "malformed")

	_, err = ts.store.GetRootRandomness(context.Background())
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCanceledSessionPersistsNothing(t *testing.T) {
	ts := newTestService(t)
	block := make(chan struct{})
	ts.engine.block = block

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := ts.svc.SampleRandomness(ctx, &partyv1.SampleRandomnessRequest{})
		done <- err
	}()

	require.Eventually(t, func() bool { return ts.engine.callCount() == 1 }, waitFor, tick)
	cancel()
	err := <-done
	require.Equal(t, codes.Canceled, status.Code(err))

	close(block)
	_, err = ts.store.GetRootRandomness(context.Background())
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSessionIDFromMetadata(t *testing.T) {
	ts := newTestService(t)
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(grpcmeta.SessionIDHeader, "abc-123"))

	_, err := ts.svc.SampleRandomness(ctx, &partyv1.SampleRandomnessRequest{})
	require.NoError(t, err)
	_, err = ts.svc.InitGame(context.Background(), &partyv1.InitGameRequest{Player: testPlayer})
	require.NoError(t, err)

	ts.mu.Lock()
	defer ts.mu.Unlock()
	require.Len(t, ts.sessions, 2)
	require.Equal(t, "sample_randomness/abc-123", ts.sessions[0])
	require.Contains(t, ts.sessions[1], "init_game/")
}

func TestUnconfiguredService(t *testing.T) {
	svc := &Service{}
	_, err := svc.SampleRandomness(context.Background(), &partyv1.SampleRandomnessRequest{})
	require.Equal(t, codes.Internal, status.Code(err))
}
