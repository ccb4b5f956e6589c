// Package simkernel provides an in-process simulation of the kernel.Kernel
// capability set: goroutines stand in for tasks, buffered channels for
// mailboxes, and time.Timer for one-shot deadline timers. It is the only
// Kernel implementation this module ships, but nothing in internal/edf or
// internal/ddsclient depends on it directly — a real RTOS binding would
// satisfy the same interface.
package simkernel

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/itskum47/FluxForge/internal/kernel"
)

// ErrMailboxClosed is returned by Send/Recv against a deleted mailbox.
// Kernel adapters must let callers that abandoned a reply mailbox treat this
// as a no-op.
var ErrMailboxClosed = errors.New("simkernel: mailbox closed")

// ErrUnknownHandle is returned when an operation targets a TaskID/TimerID/
// MailboxID that was never issued or has already been freed.
var ErrUnknownHandle = errors.New("simkernel: unknown handle")

// Config controls tick conversion.
type Config struct {
	// TickPeriod is the wall-clock duration of one Tick. Now() wraps only
	// after 2^32 ticks.
	TickPeriod time.Duration
}

// DefaultConfig returns production-sensible defaults: one tick per
// millisecond.
func DefaultConfig() Config {
	return Config{TickPeriod: time.Millisecond}
}

// Kernel is the in-process simulated kernel.
type Kernel struct {
	cfg   Config
	epoch time.Time

	mu       sync.Mutex
	nextTask kernel.TaskID
	tasks    map[kernel.TaskID]*taskState

	nextTimer kernel.TimerID
	timers    map[kernel.TimerID]*timerState

	nextMailbox kernel.MailboxID
	mailboxes   map[kernel.MailboxID]chan any

	durations map[kernel.TimerID]time.Duration
}

type taskState struct {
	cancel   context.CancelFunc
	priority kernel.Priority
	alive    bool
}

type timerState struct {
	timer   *time.Timer
	onFire  kernel.OnFire
	armed   bool
	deleted bool
}

// New creates a simulated kernel ready to spawn tasks and mailboxes.
func New(cfg Config) *Kernel {
	if cfg.TickPeriod <= 0 {
		cfg.TickPeriod = time.Millisecond
	}
	return &Kernel{
		cfg:       cfg,
		epoch:     time.Now(),
		tasks:     make(map[kernel.TaskID]*taskState),
		timers:    make(map[kernel.TimerID]*timerState),
		mailboxes: make(map[kernel.MailboxID]chan any),
	}
}

// Now implements kernel.Kernel.
func (k *Kernel) Now() kernel.Tick {
	elapsed := time.Since(k.epoch)
	ticks := uint64(elapsed / k.cfg.TickPeriod)
	return kernel.Tick(uint32(ticks)) // wraps at 2^32 ticks
}

// Spawn implements kernel.Kernel.
func (k *Kernel) Spawn(entry kernel.Entry, prio kernel.Priority) (kernel.TaskID, error) {
	ctx, cancel := context.WithCancel(context.Background())

	k.mu.Lock()
	k.nextTask++
	id := k.nextTask
	k.tasks[id] = &taskState{cancel: cancel, priority: prio, alive: true}
	k.mu.Unlock()

	go entry(ctx)
	return id, nil
}

// Kill implements kernel.Kernel.
func (k *Kernel) Kill(id kernel.TaskID) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	ts, ok := k.tasks[id]
	if !ok || !ts.alive {
		return nil // idempotent: killing a dead/unknown task is not an error
	}
	ts.alive = false
	ts.cancel()
	return nil
}

// SetPriority implements kernel.Kernel. It is bookkeeping only: the Go
// runtime scheduler has no priority concept, so this records the requested
// level (observable via internal/observability) without affecting
// goroutine scheduling. Idempotent by construction.
func (k *Kernel) SetPriority(id kernel.TaskID, prio kernel.Priority) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	ts, ok := k.tasks[id]
	if !ok {
		return ErrUnknownHandle
	}
	ts.priority = prio
	return nil
}

// PriorityOf returns the last priority recorded for id, for observability.
func (k *Kernel) PriorityOf(id kernel.TaskID) (kernel.Priority, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	ts, ok := k.tasks[id]
	if !ok {
		return 0, false
	}
	return ts.priority, true
}

// TimerCreate implements kernel.Kernel.
func (k *Kernel) TimerCreate(d time.Duration, onFire kernel.OnFire) (kernel.TimerID, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.nextTimer++
	id := k.nextTimer
	k.timers[id] = &timerState{onFire: onFire}
	_ = d // duration is only captured here; it's read back and applied in TimerStart
	k.pendingDurations()[id] = d
	return id, nil
}

// pendingDurations lazily attaches a per-kernel duration map. Kept separate
// from timerState to avoid widening it for a value only needed between
// TimerCreate and TimerStart.
func (k *Kernel) pendingDurations() map[kernel.TimerID]time.Duration {
	if k.durations == nil {
		k.durations = make(map[kernel.TimerID]time.Duration)
	}
	return k.durations
}

// TimerStart implements kernel.Kernel.
func (k *Kernel) TimerStart(id kernel.TimerID) error {
	k.mu.Lock()
	ts, ok := k.timers[id]
	if !ok || ts.deleted {
		k.mu.Unlock()
		return ErrUnknownHandle
	}
	d := k.durations[id]
	delete(k.durations, id)
	onFire := ts.onFire
	ts.armed = true
	k.mu.Unlock()

	ts.timer = time.AfterFunc(d, func() {
		k.mu.Lock()
		cur, ok := k.timers[id]
		fired := ok && cur.armed && !cur.deleted
		if fired {
			cur.armed = false
		}
		k.mu.Unlock()
		if fired {
			onFire(id)
		}
	})
	return nil
}

// TimerDelete implements kernel.Kernel.
func (k *Kernel) TimerDelete(id kernel.TimerID) error {
	k.mu.Lock()
	ts, ok := k.timers[id]
	if !ok {
		k.mu.Unlock()
		return nil // idempotent
	}
	ts.deleted = true
	ts.armed = false
	t := ts.timer
	k.mu.Unlock()
	if t != nil {
		t.Stop()
	}
	return nil
}

// MailboxCreate implements kernel.Kernel.
func (k *Kernel) MailboxCreate(capacity int) (kernel.MailboxID, error) {
	if capacity <= 0 {
		capacity = 1
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.nextMailbox++
	id := k.nextMailbox
	k.mailboxes[id] = make(chan any, capacity)
	return id, nil
}

// Send implements kernel.Kernel.
func (k *Kernel) Send(ctx context.Context, id kernel.MailboxID, msg any, timeout time.Duration) (err error) {
	k.mu.Lock()
	ch, ok := k.mailboxes[id]
	k.mu.Unlock()
	if !ok {
		return ErrMailboxClosed
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	// A Send racing MailboxDelete's channel close must not panic; the
	// sender treats the resulting panic as ErrMailboxClosed, since a reply
	// into a mailbox its owner already tore down must be tolerated.
	defer func() {
		if recover() != nil {
			err = ErrMailboxClosed
		}
	}()

	select {
	case ch <- msg:
		return nil
	case <-timer.C:
		return context.DeadlineExceeded
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recv implements kernel.Kernel.
func (k *Kernel) Recv(ctx context.Context, id kernel.MailboxID, timeout time.Duration) (any, error) {
	k.mu.Lock()
	ch, ok := k.mailboxes[id]
	k.mu.Unlock()
	if !ok {
		return nil, ErrMailboxClosed
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg, ok := <-ch:
		if !ok {
			return nil, ErrMailboxClosed
		}
		return msg, nil
	case <-timer.C:
		return nil, context.DeadlineExceeded
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// MailboxDelete implements kernel.Kernel.
func (k *Kernel) MailboxDelete(id kernel.MailboxID) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	ch, ok := k.mailboxes[id]
	if !ok {
		return nil // idempotent
	}
	delete(k.mailboxes, id)
	close(ch)
	return nil
}

// Sleep implements kernel.Kernel.
func (k *Kernel) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
