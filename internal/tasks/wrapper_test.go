package tasks

import (
	"context"
	"testing"
	"time"

	"github.com/itskum47/FluxForge/internal/ddsclient"
	"github.com/itskum47/FluxForge/internal/edf"
	"github.com/itskum47/FluxForge/internal/simkernel"
)

func newHarness(t *testing.T) (*simkernel.Kernel, *ddsclient.Client, context.Context, context.CancelFunc) {
	t.Helper()
	k := simkernel.New(simkernel.DefaultConfig())
	core, err := edf.NewCore(k, edf.DefaultConfig())
	if err != nil {
		t.Fatalf("NewCore: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go core.Run(ctx)
	client := ddsclient.New(k, core.Inbox(), ddsclient.DefaultConfig())
	return k, client, ctx, cancel
}

func TestBodySelfDeletesAfterBudget(t *testing.T) {
	k, client, ctx, cancel := newHarness(t)
	defer cancel()

	spec := edf.TaskSpec{Kind: edf.Aperiodic, ExecutionBudget: 20 * time.Millisecond, RelativeDeadline: time.Second}
	body := Body(k, client, spec.ExecutionBudget, DefaultConfig())
	if _, err := client.Create(ctx, spec, body); err != nil {
		t.Fatalf("Create: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		snap, err := client.ActiveSnapshot(ctx)
		if err != nil {
			t.Fatalf("ActiveSnapshot: %v", err)
		}
		if len(snap) == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("task never self-deleted after consuming its execution budget")
}

func TestConsumeBudgetCPUTicksMode(t *testing.T) {
	k := simkernel.New(simkernel.DefaultConfig())
	cfg := Config{Budget: BudgetCPUTicks, CPUPollInterval: time.Millisecond}

	start := time.Now()
	if err := consumeBudget(context.Background(), k, 20*time.Millisecond, cfg); err != nil {
		t.Fatalf("consumeBudget: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Fatalf("expected consumeBudget to block for roughly the budget, took %v", elapsed)
	}
}

func TestConsumeBudgetRespectsContextCancel(t *testing.T) {
	k := simkernel.New(simkernel.DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := consumeBudget(ctx, k, time.Second, DefaultConfig()); err == nil {
		t.Fatal("expected consumeBudget to return an error for a cancelled context")
	}
}

func TestGeneratorAdmitsAfterOffsetElapses(t *testing.T) {
	_, client, ctx, cancel := newHarness(t)
	defer cancel()

	spec := edf.TaskSpec{Kind: edf.Periodic, ExecutionBudget: time.Hour, RelativeDeadline: time.Hour, Period: 50 * time.Millisecond}
	k2 := simkernel.New(simkernel.DefaultConfig())
	gen := NewGenerator(k2, client, spec, 10*time.Millisecond, DefaultConfig())

	genCtx, genCancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer genCancel()
	go gen.Run(genCtx)

	time.Sleep(25 * time.Millisecond)
	snap, err := client.ActiveSnapshot(ctx)
	if err != nil {
		t.Fatalf("ActiveSnapshot: %v", err)
	}
	if len(snap) == 0 {
		t.Fatal("expected the generator to have admitted at least one task after its offset elapsed")
	}
}
