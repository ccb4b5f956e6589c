package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/itskum47/FluxForge/internal/ddsclient"
	"github.com/itskum47/FluxForge/internal/edf"
	"github.com/itskum47/FluxForge/internal/kernel"
	"github.com/itskum47/FluxForge/internal/simkernel"
)

func blockingBody(self kernel.TaskID, timer kernel.TimerID) kernel.Entry {
	return func(ctx context.Context) { <-ctx.Done() }
}

func TestSamplerPublishesActiveSnapshot(t *testing.T) {
	k := simkernel.New(simkernel.DefaultConfig())
	core, err := edf.NewCore(k, edf.DefaultConfig())
	if err != nil {
		t.Fatalf("NewCore: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go core.Run(ctx)

	client := ddsclient.New(k, core.Inbox(), ddsclient.DefaultConfig())
	hub := NewHub()
	s := NewSampler(k, client, hub)

	spec := edf.TaskSpec{Kind: edf.Periodic, RelativeDeadline: time.Hour}
	if _, err := client.Create(ctx, spec, blockingBody); err != nil {
		t.Fatalf("Create: %v", err)
	}

	s.sample(ctx)
	if s.activeSamples != 1 {
		t.Fatalf("expected 1 active sample after admitting a task, got %d", s.activeSamples)
	}
	if hub.latest.UtilisationRate != -1 {
		t.Fatalf("expected the zero-idle sentinel before any idle sample, got %v", hub.latest.UtilisationRate)
	}
	if len(hub.latest.Active) != 1 {
		t.Fatalf("expected the published snapshot to carry 1 active task view, got %+v", hub.latest.Active)
	}
}

func TestSamplerCountsEmptyActiveAsIdleSample(t *testing.T) {
	k := simkernel.New(simkernel.DefaultConfig())
	core, err := edf.NewCore(k, edf.DefaultConfig())
	if err != nil {
		t.Fatalf("NewCore: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go core.Run(ctx)

	client := ddsclient.New(k, core.Inbox(), ddsclient.DefaultConfig())
	hub := NewHub()
	s := NewSampler(k, client, hub)

	s.sample(ctx)
	if s.idleSamples != 1 {
		t.Fatalf("expected an empty Active list to count as an idle sample, got %d", s.idleSamples)
	}
}

func TestToViewsPreservesOrderAndFields(t *testing.T) {
	recs := []edf.TaskRecord{
		{TaskID: 1, Kind: edf.Periodic, CreationTick: 5, AbsoluteDeadline: 100},
		{TaskID: 2, Kind: edf.Aperiodic, CreationTick: 6, AbsoluteDeadline: 200},
	}
	views := toViews(recs)
	if len(views) != 2 {
		t.Fatalf("expected 2 views, got %d", len(views))
	}
	if views[0].TaskID != 1 || views[0].Kind != "periodic" {
		t.Fatalf("unexpected first view: %+v", views[0])
	}
	if views[1].TaskID != 2 || views[1].Kind != "aperiodic" {
		t.Fatalf("unexpected second view: %+v", views[1])
	}
}
