// Package storage defines persistence contracts for one party's protocol
// state. Each record is a single row per epoch: writing randomness starts a
// new epoch and discards everything downstream of it.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates a requested record is missing for the epoch.
	ErrNotFound = errors.New("record not found")
	// ErrStaleRandomness indicates an init state was derived from randomness
	// that is no longer the stored one.
	ErrStaleRandomness = errors.New("init state does not match stored randomness")
	// ErrStaleGameState indicates a reveal was derived from a game state that
	// is no longer the stored one.
	ErrStaleGameState = errors.New("door reveal does not match stored game state")
)

// RootRandomness is this party's share of the jointly sampled epoch seed.
// Seed and Blinding are secret shares; Commitment is public.
type RootRandomness struct {
	Seed       []byte
	Blinding   []byte
	Commitment []byte
	CreatedAt  time.Time
}

// GameInitState is this party's share of the initialized game.
type GameInitState struct {
	Player              []byte
	SeedCommitment      []byte
	Proof               []byte
	GameStateShare      []byte
	GameStateCommitment []byte
	CreatedAt           time.Time
}

// DoorReveal records the public outcome of the reveal step.
type DoorReveal struct {
	GameStateCommitment []byte
	Pick                uint8
	RevealedDoor        uint8
	Proof               []byte
	CreatedAt           time.Time
}

// ProtocolStateStore persists protocol state between steps.
type ProtocolStateStore interface {
	// PutRootRandomness replaces the stored randomness, clears any init state
	// and reveal, and returns the stored commitment.
	PutRootRandomness(ctx context.Context, record RootRandomness) ([]byte, error)
	GetRootRandomness(ctx context.Context) (RootRandomness, error)
	// PutGameInitState replaces the stored init state and clears any reveal.
	// The record's SeedCommitment must match the stored randomness.
	PutGameInitState(ctx context.Context, record GameInitState) (GameInitState, error)
	GetGameInitState(ctx context.Context) (GameInitState, error)
	// PutDoorReveal stores the reveal for the current game state.
	PutDoorReveal(ctx context.Context, record DoorReveal) (DoorReveal, error)
	GetDoorReveal(ctx context.Context) (DoorReveal, error)
}
