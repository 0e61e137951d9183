package orchestrator

import (
	"context"
	"encoding/hex"

	"github.com/rs/zerolog"
	"github.com/secretdoor/montyhall/internal/services/coordinator/storage"
)

// Submitter publishes accepted steps to the settlement layer.
type Submitter interface {
	Submit(ctx context.Context, step storage.Step) error
}

// LogSubmitter stands in for on-chain submission by logging each step.
type LogSubmitter struct {
	Logger zerolog.Logger
}

// Submit logs the step's public values.
func (s LogSubmitter) Submit(_ context.Context, step storage.Step) error {
	event := s.Logger.Info().Int64("step_id", step.ID).Str("kind", string(step.Kind))
	switch step.Kind {
	case storage.StepSample:
		event = event.Str("seed_commitment", hex.EncodeToString(step.SeedCommitment))
	case storage.StepInit:
		event = event.Str("player", hex.EncodeToString(step.Player)).
			Str("game_state_commitment", hex.EncodeToString(step.GameStateCommitment))
	case storage.StepReveal:
		event = event.Uint8("pick", step.Pick).Uint8("revealed_door", step.RevealedDoor)
	}
	event.Int("proof_bytes", len(step.Proof)).Msg("submit step")
	return nil
}
