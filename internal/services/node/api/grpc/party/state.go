package party

import (
	"context"
	"errors"

	"github.com/secretdoor/montyhall/internal/services/node/storage"
)

// State is the node's position in the epoch, derived from stored records.
type State int

const (
	StateIdle State = iota
	StateRandomnessReady
	StateGameInitialized
	StateDoorRevealed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateRandomnessReady:
		return "RandomnessReady"
	case StateGameInitialized:
		return "GameInitialized"
	case StateDoorRevealed:
		return "DoorRevealed"
	default:
		return "Unknown"
	}
}

// epoch is everything stored for the current epoch.
type epoch struct {
	state      State
	randomness storage.RootRandomness
	initState  storage.GameInitState
	reveal     storage.DoorReveal
}

func loadEpoch(ctx context.Context, store storage.ProtocolStateStore) (epoch, error) {
	var current epoch
	randomness, err := store.GetRootRandomness(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return current, nil
	}
	if err != nil {
		return current, err
	}
	current.state = StateRandomnessReady
	current.randomness = randomness

	initState, err := store.GetGameInitState(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return current, nil
	}
	if err != nil {
		return current, err
	}
	current.state = StateGameInitialized
	current.initState = initState

	reveal, err := store.GetDoorReveal(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return current, nil
	}
	if err != nil {
		return current, err
	}
	current.state = StateDoorRevealed
	current.reveal = reveal
	return current, nil
}
