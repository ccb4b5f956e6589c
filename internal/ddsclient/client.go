// Package ddsclient implements the synchronous Client API facade: create,
// delete, active_snapshot, overdue_snapshot. Each call allocates a reply
// mailbox, posts a request to the Scheduler Core, and awaits the reply
// with a bounded timeout.
package ddsclient

import (
	"context"
	"errors"
	"time"

	"github.com/itskum47/FluxForge/internal/edf"
	"github.com/itskum47/FluxForge/internal/kernel"
)

// ErrCoreUnresponsive is returned when a reply doesn't arrive within the
// receive timeout.
var ErrCoreUnresponsive = errors.New("ddsclient: scheduler core unresponsive")

// ErrBreakerOpen is returned immediately, without contacting the Core,
// while the client-side circuit breaker is open.
var ErrBreakerOpen = errors.New("ddsclient: circuit breaker open, core presumed unresponsive")

// createFailedError wraps the kernel error that caused a CreateFailed
// result: the kernel could not spawn the user task or arm its deadline
// timer, typically resource exhaustion.
type createFailedError struct{ cause error }

func (e *createFailedError) Error() string { return "ddsclient: create failed: " + e.cause.Error() }
func (e *createFailedError) Unwrap() error { return e.cause }

// ErrCreateFailed wraps cause as a CreateFailed result.
func ErrCreateFailed(cause error) error { return &createFailedError{cause: cause} }

// ReplyTimeout is the receive timeout for a Core round trip, expressed in
// the millisecond-tick convention documented in internal/edf.
const ReplyTimeout = 5000 * time.Millisecond

// Config tunes the client-side circuit breaker.
type Config struct {
	BreakerFailureThreshold int
	BreakerCooldown         time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{BreakerFailureThreshold: 3, BreakerCooldown: 5 * time.Second}
}

// Client is a handle to the Scheduler Core's inbox, usable concurrently
// from any number of goroutines: each call allocates its own reply
// mailbox.
type Client struct {
	k       kernel.Kernel
	coreBox kernel.MailboxID
	breaker *circuitBreaker
}

// New returns a Client posting to the given Core inbox.
func New(k kernel.Kernel, coreInbox kernel.MailboxID, cfg Config) *Client {
	return &Client{
		k:       k,
		coreBox: coreInbox,
		breaker: newCircuitBreaker(cfg.BreakerFailureThreshold, cfg.BreakerCooldown),
	}
}

// call performs one request/reply round trip: allocate a reply mailbox,
// send, await, free the mailbox. It is the common body of every public
// method below.
func (c *Client) call(ctx context.Context, msg edf.Message) (edf.Reply, error) {
	if !c.breaker.allow() {
		return edf.Reply{}, ErrBreakerOpen
	}

	replyBox, err := c.k.MailboxCreate(1)
	if err != nil {
		return edf.Reply{}, err
	}
	defer c.k.MailboxDelete(replyBox)

	msg.ReplyTo = replyBox
	if err := c.k.Send(ctx, c.coreBox, msg, 50*time.Millisecond); err != nil {
		c.breaker.recordTimeout()
		return edf.Reply{}, ErrCoreUnresponsive
	}

	raw, err := c.k.Recv(ctx, replyBox, ReplyTimeout)
	if err != nil {
		c.breaker.recordTimeout()
		return edf.Reply{}, ErrCoreUnresponsive
	}
	reply, ok := raw.(edf.Reply)
	if !ok {
		c.breaker.recordTimeout()
		return edf.Reply{}, ErrCoreUnresponsive
	}
	c.breaker.recordSuccess()
	return reply, nil
}

// BodyFactory builds the user task's entry function once its TaskID and
// deadline TimerID are known. The returned kernel.Entry is spawned at
// PriorityLow before the Create request reaches the Core, so the user
// task never runs ahead of the Core at an elevated priority.
type BodyFactory func(self kernel.TaskID, timer kernel.TimerID) kernel.Entry

// Create is the full admission sequence: pre-spawn the user task at
// PriorityLow, pre-create and arm the one-shot deadline timer, THEN post
// the Create request. By construction there is no window in which the
// Core could see a Create referencing an unregistered timer.
//
// params carries the task's Kind/ExecutionBudget/RelativeDeadline/Period;
// its TaskID/TimerID fields are filled in here and need not be set by the
// caller. body builds the task's entry function from the TaskID that will
// be assigned to it.
func (c *Client) Create(ctx context.Context, params edf.TaskSpec, body BodyFactory) (kernel.TaskID, error) {
	timerID, err := c.k.TimerCreate(params.RelativeDeadline, func(firedID kernel.TimerID) {
		c.NotifyDeadlineFired(firedID)
	})
	if err != nil {
		return 0, ErrCreateFailed(err)
	}

	selfCh := make(chan kernel.TaskID, 1)
	entry := func(ctx context.Context) {
		self := <-selfCh
		body(self, timerID)(ctx)
	}

	taskID, err := c.k.Spawn(entry, kernel.PriorityLow)
	if err != nil {
		_ = c.k.TimerDelete(timerID)
		return 0, ErrCreateFailed(err)
	}
	selfCh <- taskID

	if err := c.k.TimerStart(timerID); err != nil {
		_ = c.k.Kill(taskID)
		_ = c.k.TimerDelete(timerID)
		return 0, ErrCreateFailed(err)
	}

	params.TaskID = taskID
	params.TimerID = timerID

	reply, err := c.call(ctx, edf.Message{Kind: edf.MsgCreate, Spec: params})
	if err != nil {
		_ = c.k.Kill(taskID)
		_ = c.k.TimerDelete(timerID)
		return 0, err
	}
	if reply.Err != nil {
		_ = c.k.Kill(taskID)
		_ = c.k.TimerDelete(timerID)
		return 0, reply.Err
	}
	return taskID, nil
}

// NotifyDeadlineFired posts a DeadlineFired message to the Core's inbox,
// with no reply expected. It is the deadline timer callback's one send. The
// send is not non-blocking: it waits up to 5000ms for room in a full inbox,
// and the notification is dropped if the inbox stays full that long.
func (c *Client) NotifyDeadlineFired(timerID kernel.TimerID) {
	msg := edf.Message{Kind: edf.MsgDeadlineFired, TimerID: timerID}
	_ = c.k.Send(context.Background(), c.coreBox, msg, 5000*time.Millisecond)
}

// Delete removes task id from the Active list. Returns edf.ErrNotFound if
// id is unknown.
func (c *Client) Delete(ctx context.Context, id kernel.TaskID) error {
	reply, err := c.call(ctx, edf.Message{Kind: edf.MsgDelete, TaskID: id})
	if err != nil {
		return err
	}
	return reply.Err
}

// ActiveSnapshot returns a copied, immutable view of the Active list.
func (c *Client) ActiveSnapshot(ctx context.Context) ([]edf.TaskRecord, error) {
	reply, err := c.call(ctx, edf.Message{Kind: edf.MsgQueryActive})
	if err != nil {
		return nil, err
	}
	return reply.Snapshot, reply.Err
}

// OverdueSnapshot returns a copied, immutable view of the Overdue list.
func (c *Client) OverdueSnapshot(ctx context.Context) ([]edf.TaskRecord, error) {
	reply, err := c.call(ctx, edf.Message{Kind: edf.MsgQueryOverdue})
	if err != nil {
		return nil, err
	}
	return reply.Snapshot, reply.Err
}
