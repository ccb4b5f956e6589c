// Package observability exports the Prometheus collectors for the DDS
// core: a flat var block of promauto-registered collectors, one per
// signal.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveCount tracks the number of records in the Active list.
	ActiveCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dds_active_count",
		Help: "Current number of tasks in the Active (admitted) list",
	})

	// OverdueCount tracks the number of retained records in the Overdue list.
	OverdueCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dds_overdue_count",
		Help: "Current number of retained records in the Overdue list",
	})

	// OverdueDropped mirrors the Core's cumulative Overdue ring eviction
	// count (a Gauge, not a Counter: the Sampler re-reads and re-sets the
	// Core's own running total rather than incrementing its own).
	OverdueDropped = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dds_overdue_dropped_total",
		Help: "Cumulative number of Overdue records evicted by ring retention",
	})

	// HeadDeadlineSlack tracks ticks remaining until the Active head's
	// absolute deadline (negative once past due, observable pre-timer-fire).
	HeadDeadlineSlack = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dds_head_deadline_slack_ticks",
		Help: "Ticks remaining until the Active list head's absolute deadline",
	})

	// TaskPriority exposes the last priority recorded for each tracked
	// task, since simkernel.SetPriority has no scheduling effect on the Go
	// runtime — this is how "exactly the Active head runs at MEDIUM, every
	// other admitted task at LOW" stays externally observable.
	TaskPriority = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dds_task_priority",
		Help: "Last kernel priority recorded for a task (1=LOW,2=MONITOR,3=MEDIUM,4=HIGH,5=SCHEDULER)",
	}, []string{"task_id"})

	// SchedulerDecisions tracks Core actions by kind.
	SchedulerDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dds_scheduler_decisions_total",
		Help: "Total number of scheduling decisions made by the Core",
	}, []string{"decision"})

	// DeadlineMisses counts tasks moved from Active to Overdue.
	DeadlineMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dds_deadline_misses_total",
		Help: "Total number of tasks whose deadline timer fired before self-delete",
	})

	// CoreUnresponsive counts client-observed reply timeouts.
	CoreUnresponsive = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dds_core_unresponsive_total",
		Help: "Total number of client requests that timed out waiting for a Core reply",
	})

	// Utilisation reports active-vs-idle sampling as a ratio. Set only
	// when the idle sample count is non-zero, to avoid ever computing a
	// ratio over a zero denominator; -1 is the explicit zero-idle sentinel.
	Utilisation = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dds_processor_utilisation_ratio",
		Help: "Active/(active+idle) sample ratio; -1 when no idle samples have been taken yet",
	})

	// UtilisationSamples exposes the raw (active, idle) rational pair.
	UtilisationSamples = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dds_processor_utilisation_samples",
		Help: "Raw active/idle sample counters backing dds_processor_utilisation_ratio",
	}, []string{"kind"}) // kind: active, idle
)
