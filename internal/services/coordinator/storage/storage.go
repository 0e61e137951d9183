// Package storage defines the coordinator's ledger of accepted steps.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates no step of the requested kind was recorded.
	ErrNotFound = errors.New("record not found")
	// ErrInvalidPageToken indicates a page token the ledger did not issue.
	ErrInvalidPageToken = errors.New("invalid page token")
)

// StepKind names an accepted coordinator step.
type StepKind string

const (
	StepSample StepKind = "sample"
	StepInit   StepKind = "init"
	StepReveal StepKind = "reveal"
)

// Valid reports whether k is a known step kind.
func (k StepKind) Valid() bool {
	switch k {
	case StepSample, StepInit, StepReveal:
		return true
	}
	return false
}

// Step is one accepted step. Only public values are recorded; fields a kind
// does not produce stay empty.
type Step struct {
	ID                  int64
	Kind                StepKind
	SeedCommitment      []byte
	Player              []byte
	GameStateCommitment []byte
	Pick                uint8
	RevealedDoor        uint8
	Proof               []byte
	CreatedAt           time.Time
}

// StepPage is one page of ledger steps, oldest first.
type StepPage struct {
	Steps         []Step
	NextPageToken string
}

// Ledger records accepted steps.
type Ledger interface {
	// AppendStep stores step and returns it with its assigned ID.
	AppendStep(ctx context.Context, step Step) (Step, error)
	// LatestStep returns the most recent step of kind, or ErrNotFound.
	LatestStep(ctx context.Context, kind StepKind) (Step, error)
	ListSteps(ctx context.Context, pageSize int, pageToken string) (StepPage, error)
}
