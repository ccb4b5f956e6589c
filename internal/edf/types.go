// Package edf implements the EDF bookkeeping engine: the ordered Active and
// Overdue task lists and the Scheduler Core's request/reply protocol. This
// is where nearly all of the scheduling logic lives.
package edf

import (
	"time"

	"github.com/itskum47/FluxForge/internal/kernel"
)

// TaskKind distinguishes periodic from aperiodic tasks.
type TaskKind int

const (
	Periodic TaskKind = iota
	Aperiodic
)

func (k TaskKind) String() string {
	if k == Periodic {
		return "periodic"
	}
	return "aperiodic"
}

// TaskSpec is what a client supplies to Create. The client has already
// spawned the kernel task and armed the deadline timer by the time this
// reaches the Core.
type TaskSpec struct {
	TaskID           kernel.TaskID
	TimerID          kernel.TimerID
	Kind             TaskKind
	ExecutionBudget  time.Duration
	RelativeDeadline time.Duration
	Period           time.Duration // Generator-only bookkeeping; the Core never reads this.
}

// TaskRecord is a single admitted task. CreationTick and AbsoluteDeadline
// are stamped by the Core at admission, never by the client.
type TaskRecord struct {
	TaskID           kernel.TaskID
	TimerID          kernel.TimerID
	Kind             TaskKind
	ExecutionBudget  time.Duration
	RelativeDeadline time.Duration
	Period           time.Duration
	CreationTick     kernel.Tick
	AbsoluteDeadline kernel.Tick
}

// less implements the Active list's total order: ascending AbsoluteDeadline,
// ties broken by CreationTick (earlier wins), then by TaskID (stable).
func less(a, b TaskRecord) bool {
	if a.AbsoluteDeadline != b.AbsoluteDeadline {
		return a.AbsoluteDeadline < b.AbsoluteDeadline
	}
	if a.CreationTick != b.CreationTick {
		return a.CreationTick < b.CreationTick
	}
	return a.TaskID < b.TaskID
}
