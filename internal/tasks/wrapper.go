// Package tasks implements the periodic/aperiodic user task wrappers and
// the Generator that re-creates a periodic task every period.
package tasks

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/itskum47/FluxForge/internal/ddsclient"
	"github.com/itskum47/FluxForge/internal/edf"
	"github.com/itskum47/FluxForge/internal/kernel"
)

// BudgetMode selects how a task consumes its execution budget: a plain
// wall-clock sleep, or a busy-poll loop for callers that want to measure
// CPU time rather than wall time.
type BudgetMode int

const (
	// BudgetWallClock consumes the execution budget with a single
	// kernel.Sleep call.
	BudgetWallClock BudgetMode = iota

	// BudgetCPUTicks busy-polls kernel.Now() until the budget's worth of
	// ticks has elapsed.
	BudgetCPUTicks
)

// Config controls how a wrapper consumes its execution budget.
type Config struct {
	Budget BudgetMode

	// CPUPollInterval is how often BudgetCPUTicks re-checks kernel.Now().
	// Ignored in BudgetWallClock mode.
	CPUPollInterval time.Duration
}

// DefaultConfig returns BudgetWallClock.
func DefaultConfig() Config {
	return Config{Budget: BudgetWallClock, CPUPollInterval: time.Millisecond}
}

// consumeBudget blocks for approximately budget ticks worth of time, in
// whichever mode cfg selects.
func consumeBudget(ctx context.Context, k kernel.Kernel, budget time.Duration, cfg Config) error {
	switch cfg.Budget {
	case BudgetCPUTicks:
		interval := cfg.CPUPollInterval
		if interval <= 0 {
			interval = time.Millisecond
		}
		start := k.Now()
		budgetTicks := kernel.Tick(budget / time.Millisecond)
		for k.Now()-start < budgetTicks {
			if err := k.Sleep(ctx, interval); err != nil {
				return err
			}
		}
		return nil
	default:
		return k.Sleep(ctx, budget)
	}
}

// Body builds the one-shot execution body shared by Periodic and Aperiodic
// wrappers: consume the execution budget, delete the deadline timer,
// self-delete via the Client API. Re-admission for the next period is the
// Generator's concern, not the wrapper's, which is why Periodic and
// Aperiodic share one implementation here — a wrapper body never outlives
// a single admission.
func Body(k kernel.Kernel, client *ddsclient.Client, budget time.Duration, cfg Config) ddsclient.BodyFactory {
	return func(self kernel.TaskID, timer kernel.TimerID) kernel.Entry {
		return func(ctx context.Context) {
			if err := consumeBudget(ctx, k, budget, cfg); err != nil {
				return // context cancelled before the budget was consumed
			}
			_ = k.TimerDelete(timer)
			_ = client.Delete(ctx, self)
		}
	}
}

// Generator is the external periodic re-creator: it owns Period, which the
// Core never reads, and re-invokes Create every Period ticks. Bursty
// re-admission is paced with a token-bucket limiter (golang.org/x/time/rate)
// rather than a plain time.Sleep(period) loop, which offers no guard
// against e.g. a misconfigured zero period flooding the Core with Creates.
type Generator struct {
	k       kernel.Kernel
	client  *ddsclient.Client
	spec    edf.TaskSpec
	cfg     Config
	limiter *rate.Limiter
	offset  time.Duration

	// OnAdmitError is called, if set, whenever a period's Create fails.
	// The Generator itself never tears down on a failed admission; it
	// just tries again next period.
	OnAdmitError func(error)
}

// NewGenerator returns a Generator that creates tasks matching spec every
// spec.Period, first waiting offset ticks before its first admission (so
// multiple generators can stagger their starts instead of all admitting
// in lockstep).
func NewGenerator(k kernel.Kernel, client *ddsclient.Client, spec edf.TaskSpec, offset time.Duration, cfg Config) *Generator {
	period := spec.Period
	if period <= 0 {
		period = time.Second
	}
	// Burst of 1: a generator should never be able to double-admit within
	// one period even if it's woken late.
	limiter := rate.NewLimiter(rate.Every(period), 1)
	return &Generator{k: k, client: client, spec: spec, cfg: cfg, limiter: limiter, offset: offset}
}

// Run admits one task per period until ctx is cancelled.
func (g *Generator) Run(ctx context.Context) error {
	if g.offset > 0 {
		if err := g.k.Sleep(ctx, g.offset); err != nil {
			return err
		}
	}
	body := Body(g.k, g.client, g.spec.ExecutionBudget, g.cfg)
	for {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}
		if _, err := g.client.Create(ctx, g.spec, body); err != nil && g.OnAdmitError != nil {
			g.OnAdmitError(err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}
