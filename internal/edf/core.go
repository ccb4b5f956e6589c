package edf

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/itskum47/FluxForge/internal/kernel"
)

// MessageKind tags a SchedulerMessage. A proper enum, not a sentinel
// task_id multiplexing trick (negative IDs standing in for TIMER/ACTIVE/
// OVERDUE) — that kind of out-of-band tagging doesn't survive a port to a
// typed message.
type MessageKind int

const (
	MsgCreate MessageKind = iota
	MsgDelete
	MsgDeadlineFired
	MsgQueryActive
	MsgQueryOverdue
)

func (k MessageKind) String() string {
	switch k {
	case MsgCreate:
		return "CREATE"
	case MsgDelete:
		return "DELETE"
	case MsgDeadlineFired:
		return "DEADLINE_FIRED"
	case MsgQueryActive:
		return "QUERY_ACTIVE"
	case MsgQueryOverdue:
		return "QUERY_OVERDUE"
	default:
		return "UNKNOWN"
	}
}

// Message is the shape delivered to the Scheduler Core's mailbox. ReplyTo
// is zero for DeadlineFired — the timer callback has no reply mailbox.
type Message struct {
	Kind    MessageKind
	ReplyTo kernel.MailboxID
	Spec    TaskSpec
	TaskID  kernel.TaskID
	TimerID kernel.TimerID
}

// Reply is what the Core sends back on ReplyTo.
type Reply struct {
	Err      error
	Snapshot []TaskRecord
}

// Sentinel errors surfaced in Reply.Err.
var (
	ErrNotFound       = errors.New("edf: task not found")
	ErrCreateFailed   = errors.New("edf: task creation failed")
	ErrAllocationFull = errors.New("edf: record arena exhausted")
)

// AllocationFailure is the fatal condition where the Core could not
// satisfy a record allocation. Modeled as a struct error, so OnFatal hooks
// get a descriptive string rather than a bare sentinel.
type AllocationFailure struct {
	ActiveCount  int
	TaskID       kernel.TaskID
	ArenaMaxSize int
}

func (e *AllocationFailure) Error() string {
	return fmt.Sprintf("edf: allocation failure admitting task %d: active list holds %d records, arena cap is %d",
		e.TaskID, e.ActiveCount, e.ArenaMaxSize)
}

// Config controls the Core's mailbox sizing and fatal-halt behavior.
type Config struct {
	// MailboxCapacity is the Core's inbound mailbox capacity.
	MailboxCapacity int

	// OverdueRetention bounds the Overdue ring; older records are evicted
	// to keep long-running deployments from growing this list forever.
	OverdueRetention int

	// MaxActiveRecords is the arena hard cap that triggers AllocationFailure;
	// 0 means unbounded.
	MaxActiveRecords int

	// OnFatal is invoked with an *AllocationFailure when a Create would
	// exceed MaxActiveRecords; that Create is then refused with
	// ErrAllocationFull. Defaults to log.Fatal, which exits the process. A
	// hook that returns leaves the Core's loop running.
	OnFatal func(error)
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MailboxCapacity:  100,
		OverdueRetention: DefaultOverdueRetention,
		MaxActiveRecords: 0,
		OnFatal:          func(err error) { log.Fatal(err) },
	}
}

// EventKind tags a lifecycle event published by the Core for observability;
// internal/monitor consumes these.
type EventKind string

const (
	EventCreated  EventKind = "CREATED"
	EventPromoted EventKind = "PROMOTED"
	EventDemoted  EventKind = "DEMOTED"
	EventOverdue  EventKind = "OVERDUE"
	EventDeleted  EventKind = "DELETED"
)

// Event is published on every Active/Overdue mutation.
type Event struct {
	Kind   EventKind
	TaskID kernel.TaskID
	Tick   kernel.Tick
}

// Core owns the Active and Overdue lists exclusively and is the single
// consumer of its inbound mailbox. No locks guard the lists: there is
// exactly one goroutine that ever touches them.
type Core struct {
	k       kernel.Kernel
	cfg     Config
	inbox   kernel.MailboxID
	active  *ActiveList
	overdue *OverdueList

	onEvent func(Event) // optional observer, e.g. internal/monitor

	// headTask is the task last promoted to MEDIUM (valid while hasHead),
	// so a Create that displaces the head knows which task to demote to
	// LOW.
	headTask kernel.TaskID
	hasHead  bool
}

// NewCore creates a Scheduler Core bound to k. Call Run to start its loop.
func NewCore(k kernel.Kernel, cfg Config) (*Core, error) {
	inbox, err := k.MailboxCreate(cfg.MailboxCapacity)
	if err != nil {
		return nil, err
	}
	return &Core{
		k:       k,
		cfg:     cfg,
		inbox:   inbox,
		active:  NewActiveList(),
		overdue: NewOverdueList(cfg.OverdueRetention),
	}, nil
}

// Inbox returns the Core's mailbox ID, to which clients and deadline timer
// callbacks post Messages.
func (c *Core) Inbox() kernel.MailboxID { return c.inbox }

// OnEvent registers an observer called synchronously from the Core's loop
// after every mutating message. Must not block.
func (c *Core) OnEvent(fn func(Event)) { c.onEvent = fn }

func (c *Core) emit(kind EventKind, id kernel.TaskID) {
	if c.onEvent != nil {
		c.onEvent(Event{Kind: kind, TaskID: id, Tick: c.k.Now()})
	}
}

// Run is the Core's main loop: block on the inbound mailbox, dispatch by
// Kind, mutate the lists, optionally reprioritize via the kernel adapter,
// reply. Returns when ctx is cancelled.
func (c *Core) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		msg, err := c.k.Recv(ctx, c.inbox, 24*time.Hour)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue // idle timeout; loop and block again
		}
		m, ok := msg.(Message)
		if !ok {
			continue
		}
		c.dispatch(ctx, m)
	}
}

func (c *Core) dispatch(ctx context.Context, m Message) {
	switch m.Kind {
	case MsgCreate:
		c.handleCreate(ctx, m)
	case MsgDelete:
		c.handleDelete(ctx, m)
	case MsgDeadlineFired:
		c.handleDeadlineFired(ctx, m)
	case MsgQueryActive:
		c.reply(ctx, m.ReplyTo, Reply{Snapshot: c.active.Snapshot()})
	case MsgQueryOverdue:
		c.reply(ctx, m.ReplyTo, Reply{Snapshot: c.overdue.Snapshot()})
	}
}

func (c *Core) reply(ctx context.Context, to kernel.MailboxID, r Reply) {
	if to == 0 {
		return
	}
	// A reply into an abandoned (deleted) mailbox is tolerated: a caller
	// that gave up and deleted its own reply mailbox shouldn't wedge the
	// Core, so the send error is dropped.
	_ = c.k.Send(ctx, to, r, 5000*time.Millisecond)
}

func (c *Core) handleCreate(ctx context.Context, m Message) {
	now := c.k.Now()
	rec := TaskRecord{
		TaskID:           m.Spec.TaskID,
		TimerID:          m.Spec.TimerID,
		Kind:             m.Spec.Kind,
		ExecutionBudget:  m.Spec.ExecutionBudget,
		RelativeDeadline: m.Spec.RelativeDeadline,
		Period:           m.Spec.Period,
		CreationTick:     now,
	}
	rec.AbsoluteDeadline = now + kernel.Tick(ticksFromDuration(m.Spec.RelativeDeadline))

	if c.cfg.MaxActiveRecords > 0 && c.active.Len() >= c.cfg.MaxActiveRecords {
		c.cfg.OnFatal(&AllocationFailure{
			ActiveCount:  c.active.Len(),
			TaskID:       m.Spec.TaskID,
			ArenaMaxSize: c.cfg.MaxActiveRecords,
		})
		c.reply(ctx, m.ReplyTo, Reply{Err: ErrAllocationFull})
		return
	}

	becameHead := c.active.Insert(rec)
	c.logDecision("CREATE", rec)
	c.emit(EventCreated, rec.TaskID)

	if becameHead {
		if c.hasHead && c.headTask != rec.TaskID {
			_ = c.k.SetPriority(c.headTask, kernel.PriorityLow)
			c.emit(EventDemoted, c.headTask)
		}
		_ = c.k.SetPriority(rec.TaskID, kernel.PriorityMedium)
		c.emit(EventPromoted, rec.TaskID)
		c.headTask, c.hasHead = rec.TaskID, true
	} else {
		_ = c.k.SetPriority(rec.TaskID, kernel.PriorityLow)
	}

	c.reply(ctx, m.ReplyTo, Reply{})
}

func (c *Core) handleDelete(ctx context.Context, m Message) {
	rec, wasHead, ok := c.active.RemoveByTask(m.TaskID)
	if !ok {
		// Race with DeadlineFired, or a genuinely unknown task_id: either
		// way the Core treats it as a no-op rather than a protocol fault,
		// but it's still reported back to the caller as NotFound so a
		// double-delete is visible to whoever issued it.
		c.reply(ctx, m.ReplyTo, Reply{Err: ErrNotFound})
		return
	}
	c.logDecision("DELETE", rec)
	c.emit(EventDeleted, rec.TaskID)

	if wasHead {
		c.promoteNewHead()
	}
	c.reply(ctx, m.ReplyTo, Reply{})
}

func (c *Core) handleDeadlineFired(ctx context.Context, m Message) {
	rec, wasHead, ok := c.active.RemoveByTimer(m.TimerID)
	if !ok {
		// Raced with a Delete that already removed this record: no-op.
		return
	}
	_ = c.k.Kill(rec.TaskID)
	c.overdue.Push(rec)
	c.logDecision("DEADLINE_MISS", rec)
	c.emit(EventOverdue, rec.TaskID)

	if wasHead {
		c.promoteNewHead()
	}
	// No reply: the timer callback has no mailbox.
}

func (c *Core) promoteNewHead() {
	head, ok := c.active.Head()
	if !ok {
		c.hasHead = false
		return
	}
	_ = c.k.SetPriority(head.TaskID, kernel.PriorityMedium)
	c.emit(EventPromoted, head.TaskID)
	c.headTask, c.hasHead = head.TaskID, true
}

// logDecision writes one JSON-marshaled structured line per significant
// Core action.
func (c *Core) logDecision(decision string, rec TaskRecord) {
	type schedulingDecision struct {
		Component string `json:"component"`
		Decision  string `json:"decision"`
		TaskID    int64  `json:"task_id"`
		Deadline  uint32 `json:"absolute_deadline"`
		Kind      string `json:"kind"`
	}
	b, err := json.Marshal(schedulingDecision{
		Component: "edf_core",
		Decision:  decision,
		TaskID:    int64(rec.TaskID),
		Deadline:  uint32(rec.AbsoluteDeadline),
		Kind:      rec.Kind.String(),
	})
	if err != nil {
		return
	}
	log.Println(string(b))
}

// ActiveSnapshot and OverdueSnapshot give in-process observers (the
// monitor sampler) direct read access without round-tripping a message,
// since they run in the same process as the Core. Callers never get a
// reference into the live lists: Snapshot always copies.
func (c *Core) ActiveSnapshot() []TaskRecord  { return c.active.Snapshot() }
func (c *Core) OverdueSnapshot() []TaskRecord { return c.overdue.Snapshot() }
func (c *Core) OverdueDropped() uint64        { return c.overdue.Dropped() }

// ticksFromDuration converts a relative deadline/budget expressed as a
// time.Duration into kernel ticks, by the fixed convention that one tick is
// one millisecond (matching simkernel.DefaultConfig's TickPeriod). A Kernel
// configured with a different TickPeriod would need a matching conversion;
// this module only ships the millisecond-tick simulation.
func ticksFromDuration(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(d / time.Millisecond)
}
