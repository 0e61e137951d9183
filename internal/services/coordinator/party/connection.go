// Package party holds the coordinator's connections to party nodes. Each
// connection is owned by one goroutine that drains a bounded mailbox in FIFO
// order; callers share the handle freely.
package party

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	partyv1 "github.com/secretdoor/montyhall/api/party/v1"
	platformgrpc "github.com/secretdoor/montyhall/internal/platform/grpc"
	"github.com/secretdoor/montyhall/internal/platform/logging"
	"github.com/secretdoor/montyhall/internal/platform/timeouts"
	gogrpc "google.golang.org/grpc"
)

// Options tunes Connect.
type Options struct {
	// DialTimeout bounds the dial and health probe. Zero uses timeouts.GRPCDial.
	DialTimeout time.Duration
	// NewClient overrides how the client connection is built.
	NewClient platformgrpc.ClientFactory
	Logger zerolog.Logger
}

type reply struct {
	result JobResult
	err    error
}

type envelope struct {
	ctx   context.Context
	job   Job
	reply chan reply
}

// Connection is a handle to one party node.
type Connection struct {
	endpoint string
	client   partyv1.PartyServiceClient
	conn     *gogrpc.ClientConn
	logger   zerolog.Logger

	mailbox  chan envelope
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// Connect dials endpoint, waits for it to report healthy and starts the
// connection's owner. It does not retry.
func Connect(ctx context.Context, endpoint string, opts Options) (*Connection, error) {
	timeout := opts.DialTimeout
	if timeout <= 0 {
		timeout = timeouts.GRPCDial
	}
	conn, err := platformgrpc.ConnectWithHealth(ctx, opts.NewClient, endpoint, timeout, logging.Printf(opts.Logger), platformgrpc.DefaultClientDialOptions()...)
	if err != nil {
		return nil, err
	}
	c := NewConnection(endpoint, partyv1.NewPartyServiceClient(conn), opts.Logger)
	c.conn = conn
	return c, nil
}

// NewConnection starts an owner around an existing client.
func NewConnection(endpoint string, client partyv1.PartyServiceClient, logger zerolog.Logger) *Connection {
	c := &Connection{
		endpoint: endpoint,
		client:   client,
		logger:   logger.With().Str("party", endpoint).Logger(),
		mailbox:  make(chan envelope, MailboxSize),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go c.run()
	return c
}

// Endpoint returns the dialed address.
func (c *Connection) Endpoint() string {
	return c.endpoint
}

// Pending reports jobs waiting in the mailbox.
func (c *Connection) Pending() int {
	return len(c.mailbox)
}

func (c *Connection) run() {
	defer close(c.done)
	for {
		select {
		case <-c.stop:
			return
		case env := <-c.mailbox:
			if err := env.ctx.Err(); err != nil {
				env.reply <- reply{err: err}
				continue
			}
			result, err := c.invoke(env.ctx, env.job)
			env.reply <- reply{result: result, err: err}
		}
	}
}

func (c *Connection) invoke(ctx context.Context, job Job) (JobResult, error) {
	var (
		result JobResult
		err    error
	)
	switch job.Kind {
	case KindSampleRandomness:
		result.Sample, err = c.client.SampleRandomness(ctx, &partyv1.SampleRandomnessRequest{})
	case KindInitGame:
		result.Init, err = c.client.InitGame(ctx, &partyv1.InitGameRequest{Player: job.Player})
	case KindRevealDoor:
		result.Reveal, err = c.client.RevealDoor(ctx, &partyv1.RevealDoorRequest{Door: job.Door})
	default:
		return result, fmt.Errorf("unknown job kind %s", job.Kind)
	}
	if err != nil {
		c.logger.Debug().Err(err).Str("job", job.Kind.String()).Msg("party call failed")
		return JobResult{}, &RemoteError{Endpoint: c.endpoint, Kind: job.Kind, Err: err}
	}
	return result, nil
}

// Call enqueues job and waits for its result. It blocks while the mailbox is
// full and never drops a job.
func (c *Connection) Call(ctx context.Context, job Job) (JobResult, error) {
	env := envelope{ctx: ctx, job: job, reply: make(chan reply, 1)}
	select {
	case <-c.done:
		return JobResult{}, ErrMailboxClosed
	default:
	}
	select {
	case c.mailbox <- env:
	case <-c.done:
		return JobResult{}, ErrMailboxClosed
	case <-ctx.Done():
		return JobResult{}, ctx.Err()
	}

	select {
	case r := <-env.reply:
		return r.result, r.err
	case <-c.done:
		select {
		case r := <-env.reply:
			return r.result, r.err
		default:
			return JobResult{}, ErrMailboxClosed
		}
	case <-ctx.Done():
		return JobResult{}, ctx.Err()
	}
}

// SampleRandomness runs a sample job.
func (c *Connection) SampleRandomness(ctx context.Context) (*partyv1.SampleRandomnessResponse, error) {
	result, err := c.Call(ctx, Job{Kind: KindSampleRandomness})
	if err != nil {
		return nil, err
	}
	return result.Sample, nil
}

// InitGame runs an init job for player.
func (c *Connection) InitGame(ctx context.Context, player []byte) (*partyv1.InitGameResponse, error) {
	result, err := c.Call(ctx, Job{Kind: KindInitGame, Player: player})
	if err != nil {
		return nil, err
	}
	return result.Init, nil
}

// RevealDoor runs a reveal job for the picked door.
func (c *Connection) RevealDoor(ctx context.Context, door uint32) (*partyv1.RevealDoorResponse, error) {
	result, err := c.Call(ctx, Job{Kind: KindRevealDoor, Door: door})
	if err != nil {
		return nil, err
	}
	return result.Reveal, nil
}

// Close stops the owner after its current job and closes the client. Jobs
// still queued fail with ErrMailboxClosed.
func (c *Connection) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	<-c.done
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
