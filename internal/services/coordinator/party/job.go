package party

import (
	"errors"
	"fmt"

	partyv1 "github.com/secretdoor/montyhall/api/party/v1"
	platformgrpc "github.com/secretdoor/montyhall/internal/platform/grpc"
)

// MailboxSize is the number of jobs a connection queues before Call blocks.
const MailboxSize = 4

// ErrMailboxClosed is returned when the connection's owner has terminated.
var ErrMailboxClosed = errors.New("party mailbox closed")

// Kind names the party operation a job runs.
type Kind int

const (
	KindSampleRandomness Kind = iota + 1
	KindInitGame
	KindRevealDoor
)

func (k Kind) String() string {
	switch k {
	case KindSampleRandomness:
		return "sample_randomness"
	case KindInitGame:
		return "init_game"
	case KindRevealDoor:
		return "reveal_door"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Job is one queued party operation.
type Job struct {
	Kind   Kind
	Player []byte
	Door   uint32
}

// JobResult holds the response for the job's kind; the others stay nil.
type JobResult struct {
	Sample *partyv1.SampleRandomnessResponse
	Init   *partyv1.InitGameResponse
	Reveal *partyv1.RevealDoorResponse
}

// ConnectError reports a failed connection attempt.
type ConnectError = platformgrpc.ConnectError

// RemoteError wraps a failure returned by the party for one job.
type RemoteError struct {
	Endpoint string
	Kind     Kind
	Err      error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("party %s %s: %v", e.Endpoint, e.Kind, e.Err)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}
