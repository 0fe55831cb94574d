package ext_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/batchflow/ext"
	"github.com/xraph/batchflow/queue"
)

// ──────────────────────────────────────────────────
// Test extensions
// ──────────────────────────────────────────────────

// allHooksExt implements every lifecycle hook for testing.
type allHooksExt struct {
	calls []string
}

func (e *allHooksExt) Name() string { return "all-hooks" }

func (e *allHooksExt) OnGroupStarted(_ context.Context, _ *queue.Group) error {
	e.calls = append(e.calls, "OnGroupStarted")
	return nil
}

func (e *allHooksExt) OnGroupCompleted(_ context.Context, _ *queue.Group, _ time.Duration) error {
	e.calls = append(e.calls, "OnGroupCompleted")
	return nil
}

func (e *allHooksExt) OnJobStarted(_ context.Context, _ *queue.Job) error {
	e.calls = append(e.calls, "OnJobStarted")
	return nil
}

func (e *allHooksExt) OnJobCompleted(_ context.Context, _ *queue.Job, _ queue.Result, _ time.Duration) error {
	e.calls = append(e.calls, "OnJobCompleted")
	return nil
}

func (e *allHooksExt) OnJobFailed(_ context.Context, _ *queue.Job, _ error) error {
	e.calls = append(e.calls, "OnJobFailed")
	return nil
}

func (e *allHooksExt) OnJobPaused(_ context.Context, _ *queue.Job) error {
	e.calls = append(e.calls, "OnJobPaused")
	return nil
}

func (e *allHooksExt) OnJobResumed(_ context.Context, _ *queue.Job) error {
	e.calls = append(e.calls, "OnJobResumed")
	return nil
}

func (e *allHooksExt) OnTickFired(_ context.Context, _ string, _ time.Time, _ int) error {
	e.calls = append(e.calls, "OnTickFired")
	return nil
}

func (e *allHooksExt) OnShutdown(_ context.Context) error {
	e.calls = append(e.calls, "OnShutdown")
	return nil
}

// jobOnlyExt only implements job-related hooks.
type jobOnlyExt struct {
	calls []string
}

func (e *jobOnlyExt) Name() string { return "job-only" }

func (e *jobOnlyExt) OnJobStarted(_ context.Context, _ *queue.Job) error {
	e.calls = append(e.calls, "OnJobStarted")
	return nil
}

func (e *jobOnlyExt) OnJobCompleted(_ context.Context, _ *queue.Job, _ queue.Result, _ time.Duration) error {
	e.calls = append(e.calls, "OnJobCompleted")
	return nil
}

// failingExt returns errors from hooks.
type failingExt struct{}

func (e *failingExt) Name() string { return "failing" }

func (e *failingExt) OnJobStarted(_ context.Context, _ *queue.Job) error {
	return errors.New("boom")
}

func (e *failingExt) OnShutdown(_ context.Context) error {
	return errors.New("shutdown boom")
}

// ──────────────────────────────────────────────────
// Tests
// ──────────────────────────────────────────────────

func TestRegistry_RegisterDiscoversInterfaces(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	r.Register(all)

	if got := len(r.Extensions()); got != 1 {
		t.Fatalf("expected 1 extension, got %d", got)
	}
	if got := r.Extensions()[0].Name(); got != "all-hooks" {
		t.Fatalf("expected name 'all-hooks', got %q", got)
	}
}

func TestRegistry_EmitFiresOnlyImplementors(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	jo := &jobOnlyExt{}
	r.Register(all)
	r.Register(jo)

	ctx := context.Background()
	j := &queue.Job{JobName: "settle"}

	// Both implement OnJobStarted → both called.
	r.EmitJobStarted(ctx, j)
	if len(all.calls) != 1 || all.calls[0] != "OnJobStarted" {
		t.Fatalf("all: expected [OnJobStarted], got %v", all.calls)
	}
	if len(jo.calls) != 1 || jo.calls[0] != "OnJobStarted" {
		t.Fatalf("jo: expected [OnJobStarted], got %v", jo.calls)
	}

	// Only all implements OnJobPaused → jo not called.
	r.EmitJobPaused(ctx, j)
	if len(all.calls) != 2 || all.calls[1] != "OnJobPaused" {
		t.Fatalf("all: expected OnJobPaused as 2nd, got %v", all.calls)
	}
	if len(jo.calls) != 1 {
		t.Fatalf("jo: should still have 1 call, got %v", jo.calls)
	}
}

func TestRegistry_AllHooksFire(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	r.Register(all)

	ctx := context.Background()
	run := &queue.Group{JobGroupName: "eod"}
	j := &queue.Job{JobName: "settle"}

	r.EmitGroupStarted(ctx, run)
	r.EmitJobStarted(ctx, j)
	r.EmitJobFailed(ctx, j, errors.New("fail"))
	r.EmitJobCompleted(ctx, j, queue.Failure(errors.New("fail")), time.Second)
	r.EmitJobPaused(ctx, j)
	r.EmitJobResumed(ctx, j)
	r.EmitGroupCompleted(ctx, run, time.Minute)
	r.EmitTickFired(ctx, "UTC", time.Now(), 1)
	r.EmitShutdown(ctx)

	expected := []string{
		"OnGroupStarted", "OnJobStarted", "OnJobFailed", "OnJobCompleted",
		"OnJobPaused", "OnJobResumed", "OnGroupCompleted", "OnTickFired", "OnShutdown",
	}
	if len(all.calls) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(all.calls), all.calls)
	}
	for i, want := range expected {
		if all.calls[i] != want {
			t.Errorf("call[%d] = %q, want %q", i, all.calls[i], want)
		}
	}
}

func TestRegistry_HookErrorsLoggedNotPropagated(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	failing := &failingExt{}
	all := &allHooksExt{}

	// Register failing first, then all-hooks. Both should be called.
	r.Register(failing)
	r.Register(all)

	ctx := context.Background()

	// No panic, no error propagation. allHooksExt should still fire.
	r.EmitJobStarted(ctx, &queue.Job{})
	r.EmitShutdown(ctx)

	if len(all.calls) != 2 || all.calls[0] != "OnJobStarted" || all.calls[1] != "OnShutdown" {
		t.Fatalf("all: expected hooks to fire despite failing ext, got %v", all.calls)
	}
}

func TestRegistry_EmptyRegistryNoOp(_ *testing.T) {
	r := ext.NewRegistry(nil)
	ctx := context.Background()

	// None of these should panic or error.
	r.EmitGroupStarted(ctx, &queue.Group{})
	r.EmitGroupCompleted(ctx, &queue.Group{}, time.Second)
	r.EmitJobStarted(ctx, &queue.Job{})
	r.EmitJobCompleted(ctx, &queue.Job{}, queue.Finished(), time.Second)
	r.EmitJobFailed(ctx, &queue.Job{}, errors.New("x"))
	r.EmitJobPaused(ctx, &queue.Job{})
	r.EmitJobResumed(ctx, &queue.Job{})
	r.EmitTickFired(ctx, "UTC", time.Now(), 0)
	r.EmitShutdown(ctx)
}

func TestRegistry_MultipleExtensionsOrderPreserved(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	var order []string
	r.Register(&orderExt{name: "first", order: &order})
	r.Register(&orderExt{name: "second", order: &order})

	r.EmitGroupStarted(context.Background(), &queue.Group{})

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("expected registration order, got %v", order)
	}
}

type orderExt struct {
	name  string
	order *[]string
}

func (e *orderExt) Name() string { return e.name }

func (e *orderExt) OnGroupStarted(_ context.Context, _ *queue.Group) error {
	*e.order = append(*e.order, e.name)
	return nil
}
