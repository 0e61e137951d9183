// Package party serves the party-node RPC surface: the per-node state
// machine that sequences sample, init and reveal sessions.
package party

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	partyv1 "github.com/secretdoor/montyhall/api/party/v1"
	apperrors "github.com/secretdoor/montyhall/internal/platform/errors"
	grpcmeta "github.com/secretdoor/montyhall/internal/platform/grpc/metadata"
	"github.com/secretdoor/montyhall/internal/platform/telemetry/metrics"
	"github.com/secretdoor/montyhall/internal/services/node/engine"
	"github.com/secretdoor/montyhall/internal/services/node/session"
	"github.com/secretdoor/montyhall/internal/services/node/storage"
	"go.opentelemetry.io/otel"
	otelcodes "go.opentelemetry.io/otel/codes"
	"google.golang.org/grpc/status"
)

const (
	opSampleRandomness = "sample_randomness"
	opInitGame         = "init_game"
	opRevealDoor       = "reveal_door"

	internalMessage = "internal error"
)

var tracer = otel.Tracer("github.com/secretdoor/montyhall/internal/services/node/api/grpc/party")

// Engine runs this party's side of a joint session.
type Engine interface {
	SampleRandomness(net engine.Network) (engine.Randomness, error)
	InitGame(net engine.Network, rand engine.Randomness, player []byte) (engine.GameState, error)
	RevealDoor(net engine.Network, state engine.GameState, pick uint8) (engine.Reveal, error)
}

// Session is an open peer network for one session.
type Session interface {
	engine.Network
	Close()
}

// OpenSessionFunc opens the peer network for sessionID. Canceling ctx must
// close the returned session.
type OpenSessionFunc func(ctx context.Context, sessionID string) (Session, error)

// Service exposes party.v1 gRPC operations.
type Service struct {
	partyv1.UnimplementedPartyServiceServer
	store   storage.ProtocolStateStore
	engine  Engine
	open    OpenSessionFunc
	bridge  *session.Bridge
	metrics *metrics.SessionMetrics
	logger  zerolog.Logger
	clock   func() time.Time

	// busy admits one session at a time.
	busy chan struct{}
}

// NewService creates a party service. sessionMetrics may be nil.
func NewService(store storage.ProtocolStateStore, eng Engine, open OpenSessionFunc, bridge *session.Bridge, sessionMetrics *metrics.SessionMetrics, logger zerolog.Logger) *Service {
	return &Service{
		store:   store,
		engine:  eng,
		open:    open,
		bridge:  bridge,
		metrics: sessionMetrics,
		logger:  logger,
		clock:   time.Now,
		busy:    make(chan struct{}, 1),
	}
}

func (s *Service) configured() error {
	if s == nil || s.store == nil || s.engine == nil || s.open == nil || s.bridge == nil {
		return status.Error(apperrors.CodeInternal.GRPCCode(), "party service is not configured")
	}
	return nil
}

func (s *Service) acquire(ctx context.Context) error {
	select {
	case s.busy <- struct{}{}:
		return nil
	case <-ctx.Done():
		return status.FromContextError(ctx.Err()).Err()
	}
}

func (s *Service) release() {
	<-s.busy
}

// State returns the node's current epoch state.
func (s *Service) State(ctx context.Context) (State, error) {
	if err := s.configured(); err != nil {
		return StateIdle, err
	}
	current, err := loadEpoch(ctx, s.store)
	if err != nil {
		return StateIdle, err
	}
	return current.state, nil
}

// SampleRandomness starts a new epoch from any state.
func (s *Service) SampleRandomness(ctx context.Context, in *partyv1.SampleRandomnessRequest) (*partyv1.SampleRandomnessResponse, error) {
	if in == nil {
		return nil, badRequest("sample randomness request is required")
	}
	if err := s.configured(); err != nil {
		return nil, err
	}
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	sessionID := s.sessionID(ctx, opSampleRandomness, "")
	randomness, err := runSession(ctx, s, opSampleRandomness, sessionID, func(net engine.Network) (engine.Randomness, error) {
		return s.engine.SampleRandomness(net)
	})
	if err != nil {
		return nil, s.sessionFailure(ctx, opSampleRandomness, sessionID, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, status.FromContextError(err).Err()
	}

	commitment, err := s.store.PutRootRandomness(ctx, storage.RootRandomness{
		Seed:       randomness.Seed,
		Blinding:   randomness.Blinding,
		Commitment: randomness.Commitment,
		CreatedAt:  s.clock(),
	})
	if err != nil {
		return nil, s.storeFailure(ctx, opSampleRandomness, err)
	}
	s.logger.Info().Str("op", opSampleRandomness).Str("commitment", shortHex(commitment)).Msg("randomness stored")
	return &partyv1.SampleRandomnessResponse{Commitment: commitment}, nil
}

// InitGame initializes the game for a player from the stored randomness.
func (s *Service) InitGame(ctx context.Context, in *partyv1.InitGameRequest) (*partyv1.InitGameResponse, error) {
	if in == nil {
		return nil, badRequest("init game request is required")
	}
	player := in.GetPlayer()
	if len(player) != partyv1.PlayerAddressSize {
		return nil, badRequest(fmt.Sprintf("player address must be %d bytes", partyv1.PlayerAddressSize))
	}
	if err := s.configured(); err != nil {
		return nil, err
	}
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	current, err := loadEpoch(ctx, s.store)
	if err != nil {
		return nil, s.storeFailure(ctx, opInitGame, err)
	}
	switch current.state {
	case StateIdle:
		return nil, transitionError(apperrors.CodePreconditionFailed, current.state, "randomness has not been sampled")
	case StateDoorRevealed:
		return nil, transitionError(apperrors.CodeInvalidTransition, current.state, "door already revealed; sample new randomness")
	}

	sessionID := s.sessionID(ctx, opInitGame, hex.EncodeToString(current.randomness.Commitment))
	randomness := engine.Randomness{
		Seed:       current.randomness.Seed,
		Blinding:   current.randomness.Blinding,
		Commitment: current.randomness.Commitment,
	}
	gameState, err := runSession(ctx, s, opInitGame, sessionID, func(net engine.Network) (engine.GameState, error) {
		return s.engine.InitGame(net, randomness, player)
	})
	if err != nil {
		return nil, s.sessionFailure(ctx, opInitGame, sessionID, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, status.FromContextError(err).Err()
	}

	stored, err := s.store.PutGameInitState(ctx, storage.GameInitState{
		Player:              player,
		SeedCommitment:      current.randomness.Commitment,
		Proof:               gameState.Proof,
		GameStateShare:      gameState.Share,
		GameStateCommitment: gameState.Commitment,
		CreatedAt:           s.clock(),
	})
	if err != nil {
		return nil, s.storeFailure(ctx, opInitGame, err)
	}
	s.logger.Info().Str("op", opInitGame).Str("game_state_commitment", shortHex(stored.GameStateCommitment)).Msg("game initialized")
	return &partyv1.InitGameResponse{
		Proof:               stored.Proof,
		GameStateCommitment: stored.GameStateCommitment,
		SeedCommitment:      stored.SeedCommitment,
	}, nil
}

// RevealDoor opens a door other than the pick and the prize.
func (s *Service) RevealDoor(ctx context.Context, in *partyv1.RevealDoorRequest) (*partyv1.RevealDoorResponse, error) {
	if in == nil {
		return nil, badRequest("reveal door request is required")
	}
	if in.GetDoor() >= partyv1.DoorCount {
		return nil, badRequest(fmt.Sprintf("door must be below %d", partyv1.DoorCount))
	}
	pick := uint8(in.GetDoor())
	if err := s.configured(); err != nil {
		return nil, err
	}
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	current, err := loadEpoch(ctx, s.store)
	if err != nil {
		return nil, s.storeFailure(ctx, opRevealDoor, err)
	}
	switch current.state {
	case StateIdle, StateRandomnessReady:
		return nil, transitionError(apperrors.CodePreconditionFailed, current.state, "game has not been initialized")
	case StateDoorRevealed:
		return nil, transitionError(apperrors.CodeInvalidTransition, current.state, "door already revealed")
	}

	sessionID := s.sessionID(ctx, opRevealDoor, fmt.Sprintf("%s/%d", hex.EncodeToString(current.initState.GameStateCommitment), pick))
	gameState := engine.GameState{
		Proof:      current.initState.Proof,
		Share:      current.initState.GameStateShare,
		Commitment: current.initState.GameStateCommitment,
	}
	reveal, err := runSession(ctx, s, opRevealDoor, sessionID, func(net engine.Network) (engine.Reveal, error) {
		return s.engine.RevealDoor(net, gameState, pick)
	})
	if err != nil {
		return nil, s.sessionFailure(ctx, opRevealDoor, sessionID, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, status.FromContextError(err).Err()
	}

	stored, err := s.store.PutDoorReveal(ctx, storage.DoorReveal{
		GameStateCommitment: current.initState.GameStateCommitment,
		Pick:                pick,
		RevealedDoor:        reveal.Door,
		Proof:               reveal.Proof,
		CreatedAt:           s.clock(),
	})
	if err != nil {
		return nil, s.storeFailure(ctx, opRevealDoor, err)
	}
	s.logger.Info().Str("op", opRevealDoor).Uint8("pick", pick).Uint8("revealed_door", stored.RevealedDoor).Msg("door revealed")
	return &partyv1.RevealDoorResponse{
		RevealedDoor:        uint32(stored.RevealedDoor),
		Proof:               stored.Proof,
		GameStateCommitment: stored.GameStateCommitment,
	}, nil
}

// sessionID scopes the coordinator's session ID to the operation. Without
// one, the ID falls back to the operation and the public state it consumes,
// which is identical on every party.
func (s *Service) sessionID(ctx context.Context, op, fallback string) string {
	if id := grpcmeta.SessionIDFromContext(ctx); id != "" {
		return op + "/" + id
	}
	if fallback == "" {
		return op
	}
	return op + "/" + fallback
}

// runSession opens the peer network and runs fn on the worker pool.
func runSession[T any](ctx context.Context, s *Service, op, sessionID string, fn func(net engine.Network) (T, error)) (T, error) {
	ctx, span := tracer.Start(ctx, "party."+op)
	defer span.End()

	start := time.Now()
	value, err := session.Run(ctx, s.bridge, func() (T, error) {
		var zero T
		net, err := s.open(ctx, sessionID)
		if err != nil {
			return zero, fmt.Errorf("open session: %w", err)
		}
		defer net.Close()
		return fn(net)
	})
	s.metrics.Observe(op, start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, "session failed")
	}
	return value, err
}

func (s *Service) sessionFailure(ctx context.Context, op, sessionID string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		s.logger.Warn().Err(err).Str("op", op).Str("session", sessionID).Msg("session abandoned by caller")
		return status.FromContextError(ctxErr).Err()
	}
	if errors.Is(err, session.ErrStopped) {
		return status.Error(apperrors.CodeRemoteError.GRPCCode(), "node is shutting down")
	}
	s.logger.Error().Err(err).Str("op", op).Str("session", sessionID).Str("request_id", grpcmeta.RequestIDFromContext(ctx)).Msg("session failed")
	return apperrors.Wrap(apperrors.CodeInternal, op, err).ToGRPCStatus(internalMessage)
}

func (s *Service) storeFailure(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return status.FromContextError(ctxErr).Err()
	}
	s.logger.Error().Err(err).Str("op", op).Str("request_id", grpcmeta.RequestIDFromContext(ctx)).Msg("store failed")
	return apperrors.Wrap(apperrors.CodeStoreError, op, err).ToGRPCStatus(internalMessage)
}

func badRequest(message string) error {
	return apperrors.New(apperrors.CodeBadRequest, message).ToGRPCStatus(message)
}

func transitionError(code apperrors.Code, state State, message string) error {
	err := apperrors.WithMetadata(code, message, map[string]string{"state": state.String()})
	return err.ToGRPCStatus(message)
}

func shortHex(value []byte) string {
	if len(value) > 8 {
		value = value[:8]
	}
	return hex.EncodeToString(value)
}
