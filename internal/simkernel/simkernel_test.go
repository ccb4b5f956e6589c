package simkernel

import (
	"context"
	"testing"
	"time"

	"github.com/itskum47/FluxForge/internal/kernel"
)

func TestSpawnRunsEntry(t *testing.T) {
	k := New(DefaultConfig())
	done := make(chan struct{})
	_, err := k.Spawn(func(ctx context.Context) { close(done) }, 1)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("entry never ran")
	}
}

func TestKillCancelsEntryContext(t *testing.T) {
	k := New(DefaultConfig())
	cancelled := make(chan struct{})
	id, err := k.Spawn(func(ctx context.Context) {
		<-ctx.Done()
		close(cancelled)
	}, 1)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if err := k.Kill(id); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("entry context was never cancelled")
	}
}

func TestKillIsIdempotent(t *testing.T) {
	k := New(DefaultConfig())
	id, _ := k.Spawn(func(ctx context.Context) {}, 1)
	if err := k.Kill(id); err != nil {
		t.Fatalf("first Kill: %v", err)
	}
	if err := k.Kill(id); err != nil {
		t.Fatalf("second Kill should be a no-op, got %v", err)
	}
	if err := k.Kill(9999); err != nil {
		t.Fatalf("Kill of unknown task should be a no-op, got %v", err)
	}
}

func TestSetPriorityUnknownTaskErrors(t *testing.T) {
	k := New(DefaultConfig())
	if err := k.SetPriority(42, 2); err != ErrUnknownHandle {
		t.Fatalf("expected ErrUnknownHandle, got %v", err)
	}
}

func TestSetPriorityRecordsLatestValue(t *testing.T) {
	k := New(DefaultConfig())
	id, _ := k.Spawn(func(ctx context.Context) { <-ctx.Done() }, 2)
	defer k.Kill(id)

	if err := k.SetPriority(id, 4); err != nil {
		t.Fatalf("SetPriority: %v", err)
	}
	prio, ok := k.PriorityOf(id)
	if !ok || prio != 4 {
		t.Fatalf("expected priority 4, got %v ok=%v", prio, ok)
	}
}

func TestTimerFiresAfterStart(t *testing.T) {
	k := New(DefaultConfig())
	fired := make(chan struct{}, 1)
	id, err := k.TimerCreate(10*time.Millisecond, func(firedID kernel.TimerID) {
		fired <- struct{}{}
	})
	if err != nil {
		t.Fatalf("TimerCreate: %v", err)
	}
	if err := k.TimerStart(id); err != nil {
		t.Fatalf("TimerStart: %v", err)
	}
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}

func TestTimerDeleteBeforeFireSuppressesOnFire(t *testing.T) {
	k := New(DefaultConfig())
	fired := make(chan struct{}, 1)
	id, err := k.TimerCreate(30*time.Millisecond, func(firedID kernel.TimerID) { fired <- struct{}{} })
	if err != nil {
		t.Fatalf("TimerCreate: %v", err)
	}
	if err := k.TimerStart(id); err != nil {
		t.Fatalf("TimerStart: %v", err)
	}
	if err := k.TimerDelete(id); err != nil {
		t.Fatalf("TimerDelete: %v", err)
	}
	select {
	case <-fired:
		t.Fatal("onFire ran after TimerDelete")
	case <-time.After(60 * time.Millisecond):
	}
}

func TestMailboxSendRecvRoundTrip(t *testing.T) {
	k := New(DefaultConfig())
	id, err := k.MailboxCreate(1)
	if err != nil {
		t.Fatalf("MailboxCreate: %v", err)
	}
	if err := k.Send(context.Background(), id, "hello", time.Second); err != nil {
		t.Fatalf("Send: %v", err)
	}
	msg, err := k.Recv(context.Background(), id, time.Second)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if msg.(string) != "hello" {
		t.Fatalf("expected %q, got %v", "hello", msg)
	}
}

func TestSendToDeletedMailboxReturnsErrMailboxClosed(t *testing.T) {
	k := New(DefaultConfig())
	id, _ := k.MailboxCreate(1)
	if err := k.MailboxDelete(id); err != nil {
		t.Fatalf("MailboxDelete: %v", err)
	}
	if err := k.Send(context.Background(), id, "x", time.Second); err != ErrMailboxClosed {
		t.Fatalf("expected ErrMailboxClosed, got %v", err)
	}
}

func TestMailboxDeleteIsIdempotent(t *testing.T) {
	k := New(DefaultConfig())
	id, _ := k.MailboxCreate(1)
	if err := k.MailboxDelete(id); err != nil {
		t.Fatalf("first MailboxDelete: %v", err)
	}
	if err := k.MailboxDelete(id); err != nil {
		t.Fatalf("second MailboxDelete should be a no-op, got %v", err)
	}
}

func TestSleepReturnsOnContextCancel(t *testing.T) {
	k := New(DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := k.Sleep(ctx, time.Second); err == nil {
		t.Fatal("expected Sleep to return an error for an already-cancelled context")
	}
}

func TestNowAdvancesWithTickPeriod(t *testing.T) {
	k := New(Config{TickPeriod: time.Millisecond})
	start := k.Now()
	time.Sleep(20 * time.Millisecond)
	if k.Now() <= start {
		t.Fatalf("expected Now() to advance, start=%d now=%d", start, k.Now())
	}
}
