package monitor

import (
	"context"
	"strconv"
	"time"

	"github.com/itskum47/FluxForge/internal/ddsclient"
	"github.com/itskum47/FluxForge/internal/edf"
	"github.com/itskum47/FluxForge/internal/kernel"
	"github.com/itskum47/FluxForge/internal/observability"
)

func taskIDLabel(id kernel.TaskID) string { return strconv.FormatInt(int64(id), 10) }

// priorityReporter is satisfied by *simkernel.Kernel. It is deliberately
// not part of the kernel.Kernel contract — the abstract capability set has
// no notion of "report me the priority you recorded" — it's an
// observability-only extension point a Kernel implementation may offer.
type priorityReporter interface {
	PriorityOf(kernel.TaskID) (kernel.Priority, bool)
}

// Sampler periodically polls the Core through a Client and turns the
// Active/Overdue snapshots into Prometheus gauges and Hub broadcasts. It
// never mutates Core state, only observes it, so there is no "reclaim"
// step here — bounding the Overdue list is internal/edf.OverdueList's ring
// eviction on every Push, not a periodic sweep, since eviction must happen
// synchronously with the write that would otherwise overflow it.
type Sampler struct {
	k      kernel.Kernel
	client *ddsclient.Client
	hub    *Hub

	// overdueDropped, if set, reports the Core's cumulative Overdue ring
	// eviction count. Only available to an in-process caller (e.g.
	// cmd/ddsdemo, which holds the *edf.Core directly); a Sampler driven
	// purely through a remote-style Client has no way to learn this.
	overdueDropped func() uint64

	activeSamples uint64
	idleSamples   uint64
}

// NewSampler returns a Sampler polling through client and publishing to hub.
// hub may be nil if only Prometheus metrics are wanted.
func NewSampler(k kernel.Kernel, client *ddsclient.Client, hub *Hub) *Sampler {
	return &Sampler{k: k, client: client, hub: hub}
}

// WithOverdueDropped wires a Core's cumulative eviction counter into the
// dds_overdue_dropped_total metric. Returns s for chaining.
func (s *Sampler) WithOverdueDropped(fn func() uint64) *Sampler {
	s.overdueDropped = fn
	return s
}

// Run samples every period until ctx is cancelled.
func (s *Sampler) Run(ctx context.Context, period time.Duration) error {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sample(ctx)
		}
	}
}

func (s *Sampler) sample(ctx context.Context) {
	active, err := s.client.ActiveSnapshot(ctx)
	if err != nil {
		observability.CoreUnresponsive.Inc()
		return
	}
	overdue, err := s.client.OverdueSnapshot(ctx)
	if err != nil {
		observability.CoreUnresponsive.Inc()
		return
	}

	// Utilisation: a sample is "active" if the Active list is non-empty,
	// "idle" otherwise. The raw (active, idle) pair is always reported, and
	// a ratio is only derived once idleSamples is non-zero — -1 is the
	// explicit sentinel for "no idle sample has ever been taken", never a
	// raw division by a count that might still be zero.
	if len(active) > 0 {
		s.activeSamples++
	} else {
		s.idleSamples++
	}
	observability.UtilisationSamples.WithLabelValues("active").Set(float64(s.activeSamples))
	observability.UtilisationSamples.WithLabelValues("idle").Set(float64(s.idleSamples))
	if s.idleSamples == 0 {
		observability.Utilisation.Set(-1)
	} else {
		total := s.activeSamples + s.idleSamples
		observability.Utilisation.Set(float64(s.activeSamples) / float64(total))
	}

	observability.ActiveCount.Set(float64(len(active)))
	observability.OverdueCount.Set(float64(len(overdue)))
	if s.overdueDropped != nil {
		observability.OverdueDropped.Set(float64(s.overdueDropped()))
	}

	now := s.k.Now()
	if len(active) > 0 {
		head := active[0]
		observability.HeadDeadlineSlack.Set(float64(int64(head.AbsoluteDeadline) - int64(now)))
	}

	if reporter, ok := s.k.(priorityReporter); ok {
		for _, rec := range active {
			if prio, ok := reporter.PriorityOf(rec.TaskID); ok {
				observability.TaskPriority.WithLabelValues(taskIDLabel(rec.TaskID)).Set(float64(prio))
			}
		}
	}

	if s.hub != nil {
		snap := Snapshot{
			Tick:            uint32(now),
			Active:          toViews(active),
			Overdue:         toViews(overdue),
			ActiveSamples:   s.activeSamples,
			IdleSamples:     s.idleSamples,
			UtilisationRate: -1,
		}
		if s.idleSamples > 0 {
			total := s.activeSamples + s.idleSamples
			snap.UtilisationRate = float64(s.activeSamples) / float64(total)
		}
		s.hub.Publish(snap)
	}
}

func toViews(recs []edf.TaskRecord) []TaskView {
	views := make([]TaskView, len(recs))
	for i, r := range recs {
		views[i] = TaskView{
			TaskID:           int64(r.TaskID),
			Kind:             r.Kind.String(),
			CreationTick:     uint32(r.CreationTick),
			AbsoluteDeadline: uint32(r.AbsoluteDeadline),
		}
	}
	return views
}
