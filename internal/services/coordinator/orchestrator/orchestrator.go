// Package orchestrator drives the three party nodes through each protocol
// step, accepting a step only when every party succeeds, all public outputs
// agree byte for byte and the proofs verify.
package orchestrator

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	partyv1 "github.com/secretdoor/montyhall/api/party/v1"
	apperrors "github.com/secretdoor/montyhall/internal/platform/errors"
	grpcmeta "github.com/secretdoor/montyhall/internal/platform/grpc/metadata"
	"github.com/secretdoor/montyhall/internal/platform/telemetry/metrics"
	"github.com/secretdoor/montyhall/internal/platform/timeouts"
	"github.com/secretdoor/montyhall/internal/services/coordinator/storage"
	"github.com/secretdoor/montyhall/internal/services/node/engine"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Parties is the number of party nodes a coordinator drives.
const Parties = engine.Parties

const (
	stepSample = "sample_randomness"
	stepInit   = "init_game"
	stepReveal = "reveal_door"
)

var tracer = otel.Tracer("github.com/secretdoor/montyhall/internal/services/coordinator/orchestrator")

// Party is the coordinator's view of one party node.
type Party interface {
	Endpoint() string
	SampleRandomness(ctx context.Context) (*partyv1.SampleRandomnessResponse, error)
	InitGame(ctx context.Context, player []byte) (*partyv1.InitGameResponse, error)
	RevealDoor(ctx context.Context, door uint32) (*partyv1.RevealDoorResponse, error)
}

// ProofVerifier checks init and reveal proofs.
type ProofVerifier interface {
	VerifyInit(seedCommitment, gameCommitment, player, proof []byte) error
	VerifyReveal(gameCommitment []byte, pick, door uint8, proof []byte) error
}

// Config wires a Coordinator.
type Config struct {
	Parties   [Parties]Party
	Verifier  ProofVerifier
	Ledger    storage.Ledger
	Submitter Submitter
	// Metrics may be nil.
	Metrics *metrics.StepMetrics
	// StepTimeout bounds each fan-out. Zero uses timeouts.PartyStep.
	StepTimeout time.Duration
	Logger      zerolog.Logger
}

// Coordinator runs protocol steps across the parties.
type Coordinator struct {
	parties     [Parties]Party
	verifier    ProofVerifier
	ledger      storage.Ledger
	submitter   Submitter
	metrics     *metrics.StepMetrics
	stepTimeout time.Duration
	logger      zerolog.Logger
	clock       func() time.Time

	// mu keeps every party's mailbox in the same step order.
	mu sync.Mutex
}

// New validates cfg and returns a Coordinator.
func New(cfg Config) (*Coordinator, error) {
	for i, p := range cfg.Parties {
		if p == nil {
			return nil, fmt.Errorf("party %d is not configured", i)
		}
	}
	if cfg.Verifier == nil {
		return nil, errors.New("proof verifier is required")
	}
	if cfg.Ledger == nil {
		return nil, errors.New("ledger is required")
	}
	submitter := cfg.Submitter
	if submitter == nil {
		submitter = LogSubmitter{Logger: cfg.Logger}
	}
	stepTimeout := cfg.StepTimeout
	if stepTimeout <= 0 {
		stepTimeout = timeouts.PartyStep
	}
	return &Coordinator{
		parties:     cfg.Parties,
		verifier:    cfg.Verifier,
		ledger:      cfg.Ledger,
		submitter:   submitter,
		metrics:     cfg.Metrics,
		stepTimeout: stepTimeout,
		logger:      cfg.Logger,
		clock:       time.Now,
	}, nil
}

// Sample is an accepted sample step.
type Sample struct {
	Commitment []byte
}

// Game is an accepted init step.
type Game struct {
	Player              []byte
	SeedCommitment      []byte
	GameStateCommitment []byte
	Proof               []byte
}

// Reveal is an accepted reveal step.
type Reveal struct {
	Pick                uint8
	RevealedDoor        uint8
	GameStateCommitment []byte
	Proof               []byte
}

// step opens the span, session and deadline shared by every fan-out.
func (c *Coordinator) step(ctx context.Context, name string, run func(ctx context.Context, span trace.Span) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	sessionID := grpcmeta.NewID()
	ctx, span := tracer.Start(ctx, "coordinator."+name, trace.WithAttributes(attribute.String("montyhall.session_id", sessionID)))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.stepTimeout)
	defer cancel()
	ctx = grpcmeta.WithOutgoingSession(ctx, sessionID, grpcmeta.RequestIDFromContext(ctx))

	err := run(ctx, span)
	c.metrics.Observe(name, start, outcome(err))
	logger := c.logger.With().Str("step", name).Str("session", sessionID).Logger()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, string(apperrors.CodeOf(err)))
		logger.Warn().Err(err).Msg("step rejected")
		return err
	}
	logger.Info().Dur("elapsed", time.Since(start)).Msg("step accepted")
	return nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case apperrors.HasCode(err, apperrors.CodeConsistencyViolation), apperrors.HasCode(err, apperrors.CodeProofRejected):
		return metrics.OutcomeRejected
	default:
		return metrics.OutcomeError
	}
}

// record appends step to the ledger and submits it. Submission failures are
// logged; the ledger stays authoritative.
func (c *Coordinator) record(ctx context.Context, step storage.Step) error {
	step.CreatedAt = c.clock()
	stored, err := c.ledger.AppendStep(ctx, step)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStoreError, "record step", err)
	}
	if err := c.submitter.Submit(ctx, stored); err != nil {
		c.logger.Warn().Err(err).Int64("step_id", stored.ID).Msg("submit step")
	}
	return nil
}

// SampleRandomness asks every party to sample joint randomness and accepts
// the shared commitment.
func (c *Coordinator) SampleRandomness(ctx context.Context) (Sample, error) {
	var sample Sample
	err := c.step(ctx, stepSample, func(ctx context.Context, _ trace.Span) error {
		responses, errs := fanOut(ctx, c.parties, func(ctx context.Context, p Party) (*partyv1.SampleRandomnessResponse, error) {
			return p.SampleRandomness(ctx)
		})
		if err := stepError(stepSample, errs); err != nil {
			return err
		}
		var commitments [Parties][]byte
		for i, resp := range responses {
			commitments[i] = resp.GetCommitment()
		}
		if err := agree("commitment", commitments); err != nil {
			return err
		}
		sample.Commitment = commitments[0]
		return c.record(ctx, storage.Step{Kind: storage.StepSample, SeedCommitment: sample.Commitment})
	})
	if err != nil {
		return Sample{}, err
	}
	return sample, nil
}

// InitGame initializes the game for player and accepts it once the proof
// verifies against the sampled commitment.
func (c *Coordinator) InitGame(ctx context.Context, player []byte) (Game, error) {
	if len(player) != partyv1.PlayerAddressSize {
		return Game{}, apperrors.New(apperrors.CodeBadRequest, fmt.Sprintf("player address must be %d bytes", partyv1.PlayerAddressSize))
	}
	var game Game
	err := c.step(ctx, stepInit, func(ctx context.Context, span trace.Span) error {
		responses, errs := fanOut(ctx, c.parties, func(ctx context.Context, p Party) (*partyv1.InitGameResponse, error) {
			return p.InitGame(ctx, player)
		})
		if err := stepError(stepInit, errs); err != nil {
			return err
		}
		var proofs, gameCommitments, seedCommitments [Parties][]byte
		for i, resp := range responses {
			proofs[i] = resp.GetProof()
			gameCommitments[i] = resp.GetGameStateCommitment()
			seedCommitments[i] = resp.GetSeedCommitment()
		}
		for _, check := range []struct {
			field  string
			values [Parties][]byte
		}{
			{"seed_commitment", seedCommitments},
			{"game_state_commitment", gameCommitments},
			{"proof", proofs},
		} {
			if err := agree(check.field, check.values); err != nil {
				return err
			}
		}
		game = Game{
			Player:              player,
			SeedCommitment:      seedCommitments[0],
			GameStateCommitment: gameCommitments[0],
			Proof:               proofs[0],
		}

		sampled, err := c.ledger.LatestStep(ctx, storage.StepSample)
		switch {
		case errors.Is(err, storage.ErrNotFound):
		case err != nil:
			return apperrors.Wrap(apperrors.CodeStoreError, "load sample step", err)
		case !bytes.Equal(sampled.SeedCommitment, game.SeedCommitment):
			return apperrors.WithMetadata(apperrors.CodeConsistencyViolation,
				"seed commitment does not match the sampled commitment",
				map[string]string{"field": "seed_commitment"})
		}

		if err := c.verifier.VerifyInit(game.SeedCommitment, game.GameStateCommitment, player, game.Proof); err != nil {
			span.AddEvent("init proof rejected")
			return apperrors.Wrap(apperrors.CodeProofRejected, "init proof rejected", err)
		}
		return c.record(ctx, storage.Step{
			Kind:                storage.StepInit,
			SeedCommitment:      game.SeedCommitment,
			Player:              player,
			GameStateCommitment: game.GameStateCommitment,
			Proof:               game.Proof,
		})
	})
	if err != nil {
		return Game{}, err
	}
	return game, nil
}

// RevealDoor has the parties open a door that is neither pick nor the prize
// and accepts it once the proof verifies.
func (c *Coordinator) RevealDoor(ctx context.Context, pick uint8) (Reveal, error) {
	if pick >= partyv1.DoorCount {
		return Reveal{}, apperrors.New(apperrors.CodeBadRequest, fmt.Sprintf("door must be below %d", partyv1.DoorCount))
	}
	var reveal Reveal
	err := c.step(ctx, stepReveal, func(ctx context.Context, span trace.Span) error {
		responses, errs := fanOut(ctx, c.parties, func(ctx context.Context, p Party) (*partyv1.RevealDoorResponse, error) {
			return p.RevealDoor(ctx, uint32(pick))
		})
		if err := stepError(stepReveal, errs); err != nil {
			return err
		}
		var doors, proofs, gameCommitments [Parties][]byte
		for i, resp := range responses {
			doors[i] = binary.BigEndian.AppendUint32(nil, resp.GetRevealedDoor())
			proofs[i] = resp.GetProof()
			gameCommitments[i] = resp.GetGameStateCommitment()
		}
		for _, check := range []struct {
			field  string
			values [Parties][]byte
		}{
			{"revealed_door", doors},
			{"game_state_commitment", gameCommitments},
			{"proof", proofs},
		} {
			if err := agree(check.field, check.values); err != nil {
				return err
			}
		}
		door := responses[0].GetRevealedDoor()
		if door >= partyv1.DoorCount {
			return apperrors.New(apperrors.CodeProofRejected, fmt.Sprintf("revealed door %d out of range", door))
		}
		reveal = Reveal{
			Pick:                pick,
			RevealedDoor:        uint8(door),
			GameStateCommitment: gameCommitments[0],
			Proof:               proofs[0],
		}
		if err := c.verifier.VerifyReveal(reveal.GameStateCommitment, pick, reveal.RevealedDoor, reveal.Proof); err != nil {
			span.AddEvent("reveal proof rejected")
			return apperrors.Wrap(apperrors.CodeProofRejected, "reveal proof rejected", err)
		}
		return c.record(ctx, storage.Step{
			Kind:                storage.StepReveal,
			GameStateCommitment: reveal.GameStateCommitment,
			Pick:                pick,
			RevealedDoor:        reveal.RevealedDoor,
			Proof:               reveal.Proof,
		})
	})
	if err != nil {
		return Reveal{}, err
	}
	return reveal, nil
}

// State is the latest accepted step of each kind.
type State struct {
	Sample *storage.Step
	Game   *storage.Step
	Reveal *storage.Step
}

// State reads the ledger's latest steps.
func (c *Coordinator) State(ctx context.Context) (State, error) {
	var state State
	for _, entry := range []struct {
		kind   storage.StepKind
		target **storage.Step
	}{
		{storage.StepSample, &state.Sample},
		{storage.StepInit, &state.Game},
		{storage.StepReveal, &state.Reveal},
	} {
		step, err := c.ledger.LatestStep(ctx, entry.kind)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return State{}, apperrors.Wrap(apperrors.CodeStoreError, "load ledger state", err)
		}
		*entry.target = &step
	}
	return state, nil
}

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Steps lists the ledger history. A zero pageSize uses the default.
func (c *Coordinator) Steps(ctx context.Context, pageSize int, pageToken string) (storage.StepPage, error) {
	switch {
	case pageSize == 0:
		pageSize = defaultPageSize
	case pageSize < 0 || pageSize > maxPageSize:
		return storage.StepPage{}, apperrors.New(apperrors.CodeBadRequest, fmt.Sprintf("page size must be between 1 and %d", maxPageSize))
	}
	page, err := c.ledger.ListSteps(ctx, pageSize, pageToken)
	if errors.Is(err, storage.ErrInvalidPageToken) {
		return storage.StepPage{}, apperrors.New(apperrors.CodeBadRequest, "invalid page token")
	}
	if err != nil {
		return storage.StepPage{}, apperrors.Wrap(apperrors.CodeStoreError, "list ledger steps", err)
	}
	return page, nil
}
