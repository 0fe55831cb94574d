// Package builtin provides general-purpose handlers that every deployment
// registers: noop, sleep, pause, fail and exec.
package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/xraph/batchflow/handler"
	"github.com/xraph/batchflow/queue"
)

// Handler identifiers.
const (
	Noop  = "noop"
	Sleep = "sleep"
	Pause = "pause"
	Fail  = "fail"
	Exec  = "exec"
)

// maxOutput bounds the command output kept in a job message.
const maxOutput = 512

// Register adds the built-in handlers to r.
func Register(r *handler.Registry) {
	r.RegisterFunc(Noop, func(context.Context, *handler.Request) (queue.Result, error) {
		return queue.Finished(), nil
	})
	handler.RegisterDefinition(r, handler.NewDefinition(Sleep, sleep))
	handler.RegisterDefinition(r, handler.NewDefinition(Pause, pause))
	handler.RegisterDefinition(r, handler.NewDefinition(Fail, fail))
	handler.RegisterDefinition(r, handler.NewDefinition(Exec, run))
}

// Duration decodes either a Go duration string ("90s") or a number of
// milliseconds.
type Duration time.Duration

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		v, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		*d = Duration(v)
		return nil
	}
	ms, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	*d = Duration(time.Duration(ms) * time.Millisecond)
	return nil
}

// SleepParams configures the sleep handler.
type SleepParams struct {
	Duration Duration `json:"duration"`
}

func sleep(ctx context.Context, _ *handler.Request, p SleepParams) (queue.Result, error) {
	timer := time.NewTimer(time.Duration(p.Duration))
	defer timer.Stop()
	select {
	case <-timer.C:
		return queue.Finished(), nil
	case <-ctx.Done():
		return queue.Result{}, ctx.Err()
	}
}

// MessageParams configures the pause and fail handlers.
type MessageParams struct {
	Message string `json:"message"`
}

func pause(_ context.Context, _ *handler.Request, p MessageParams) (queue.Result, error) {
	text := p.Message
	if text == "" {
		text = "waiting for resume"
	}
	return queue.Paused(text), nil
}

func fail(_ context.Context, _ *handler.Request, p MessageParams) (queue.Result, error) {
	text := p.Message
	if text == "" {
		text = "failed on request"
	}
	return queue.Failed("fail", text), nil
}

// ExecParams configures the exec handler.
type ExecParams struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
	Dir     string   `json:"dir,omitempty"`
	Env     []string `json:"env,omitempty"`
}

// run executes a command. Run metadata is exported to the command as
// BATCHFLOW_* environment variables. A non-zero exit is an error result
// carrying the exit code and the tail of the output.
func run(ctx context.Context, req *handler.Request, p ExecParams) (queue.Result, error) {
	if p.Command == "" {
		return queue.Result{}, errors.New("exec: command is empty")
	}

	cmd := exec.CommandContext(ctx, p.Command, p.Args...)
	cmd.Dir = p.Dir
	cmd.Env = append(cmd.Environ(), p.Env...)
	cmd.Env = append(cmd.Env,
		"BATCHFLOW_GROUP="+req.GroupName,
		"BATCHFLOW_JOB="+req.Name(),
		"BATCHFLOW_TIMEZONE="+req.TimeZone,
		"BATCHFLOW_RUN_DATE="+req.RunDate.Format(queue.DateLayout),
		"BATCHFLOW_RUN_ID="+req.RunID.String(),
	)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	if err == nil {
		return queue.Finished(), nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		return queue.Failed("exit_"+strconv.Itoa(exitErr.ExitCode()), tail(out.String())), nil
	}
	return queue.Result{}, fmt.Errorf("exec %s: %w", p.Command, err)
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxOutput {
		s = "..." + s[len(s)-maxOutput:]
	}
	return s
}
