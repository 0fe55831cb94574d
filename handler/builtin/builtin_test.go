package builtin_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/xraph/batchflow/group"
	"github.com/xraph/batchflow/handler"
	"github.com/xraph/batchflow/handler/builtin"
	"github.com/xraph/batchflow/queue"
)

func execute(ctx context.Context, t *testing.T, name, params string) (queue.Result, error) {
	t.Helper()
	r := handler.NewRegistry()
	builtin.Register(r)

	f, err := r.Resolve(name)
	if err != nil {
		t.Fatalf("Resolve(%q): %v", name, err)
	}
	job := &group.Job{Name: "step", Handler: name}
	if params != "" {
		job.Params = json.RawMessage(params)
	}
	req := &handler.Request{
		GroupName: "eod",
		TimeZone:  "UTC",
		RunDate:   time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		Job:       job,
	}
	return f().Run(ctx, req)
}

func TestRegister_Names(t *testing.T) {
	r := handler.NewRegistry()
	builtin.Register(r)
	for _, name := range []string{builtin.Noop, builtin.Sleep, builtin.Pause, builtin.Fail, builtin.Exec} {
		if _, ok := r.Get(name); !ok {
			t.Errorf("%s is not registered", name)
		}
	}
}

func TestNoop(t *testing.T) {
	res, err := execute(context.Background(), t, builtin.Noop, "")
	if err != nil || res.Status != queue.StatusFinished {
		t.Fatalf("noop = %+v, %v", res, err)
	}
}

func TestSleep(t *testing.T) {
	for _, params := range []string{`{"duration":"20ms"}`, `{"duration":20}`} {
		start := time.Now()
		res, err := execute(context.Background(), t, builtin.Sleep, params)
		if err != nil || res.Status != queue.StatusFinished {
			t.Fatalf("sleep %s = %+v, %v", params, res, err)
		}
		if time.Since(start) < 20*time.Millisecond {
			t.Errorf("sleep %s returned early", params)
		}
	}
}

func TestSleep_Canceled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := execute(ctx, t, builtin.Sleep, `{"duration":"1m"}`)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}

func TestSleep_BadDuration(t *testing.T) {
	if _, err := execute(context.Background(), t, builtin.Sleep, `{"duration":"soon"}`); err == nil {
		t.Fatal("expected an error for a malformed duration")
	}
}

func TestPause(t *testing.T) {
	res, err := execute(context.Background(), t, builtin.Pause, `{"message":"await approval"}`)
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if res.NextStep != queue.NextPause || res.Message.Text != "await approval" {
		t.Fatalf("pause = %+v", res)
	}
}

func TestFail(t *testing.T) {
	res, err := execute(context.Background(), t, builtin.Fail, "")
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	if res.Normalize().Status != queue.StatusError {
		t.Fatalf("fail = %+v", res)
	}
}

func TestExec(t *testing.T) {
	res, err := execute(context.Background(), t, builtin.Exec,
		`{"command":"sh","args":["-c","test \"$BATCHFLOW_RUN_DATE\" = 2024-03-15"]}`)
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	if res.Status != queue.StatusFinished {
		t.Fatalf("exec = %+v", res)
	}
}

func TestExec_NonZeroExit(t *testing.T) {
	res, err := execute(context.Background(), t, builtin.Exec,
		`{"command":"sh","args":["-c","echo disk full >&2; exit 3"]}`)
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	if res.Status != queue.StatusError {
		t.Fatalf("expected an error result, got %+v", res)
	}
	if res.Message.Code != "exit_3" || !strings.Contains(res.Message.Text, "disk full") {
		t.Fatalf("unexpected message %+v", res.Message)
	}
}

func TestExec_MissingCommand(t *testing.T) {
	if _, err := execute(context.Background(), t, builtin.Exec, `{}`); err == nil {
		t.Fatal("expected an error for an empty command")
	}
	if _, err := execute(context.Background(), t, builtin.Exec, `{"command":"/nonexistent/batchflow-cmd"}`); err == nil {
		t.Fatal("expected an error for a missing binary")
	}
}
