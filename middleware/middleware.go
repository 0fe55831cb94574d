// Package middleware provides composable middleware for job execution.
// Middleware wraps handler calls synchronously and can modify execution
// (recover from panics, log, trace, bound the run time, etc.).
package middleware

import (
	"context"

	"github.com/xraph/batchflow/handler"
	"github.com/xraph/batchflow/queue"
)

// Handler is the terminal function that executes job logic.
type Handler func(ctx context.Context) (queue.Result, error)

// Middleware wraps a Handler with cross-cutting logic.
// It receives the current context, the execution request, and the
// next handler to call. Middleware MUST call next to continue the chain
// (unless short-circuiting on error).
type Middleware func(ctx context.Context, req *handler.Request, next Handler) (queue.Result, error)

// Chain composes multiple middleware into a single Middleware.
// Middleware are applied right-to-left: the first middleware in the
// list is the outermost wrapper.
//
// Example: Chain(logging, recover, timeout) executes as:
//
//	logging → recover → timeout → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, req *handler.Request, next Handler) (queue.Result, error) {
		// Build the chain from the end backwards.
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) (queue.Result, error) {
				return mw(ctx, req, prev)
			}
		}
		return h(ctx)
	}
}

// outcome classifies an execution for logs, spans and metrics.
func outcome(res queue.Result, err error) string {
	if err != nil {
		return "error"
	}
	res = res.Normalize()
	switch {
	case res.Status == queue.StatusError:
		return "error"
	case res.NextStep == queue.NextPause:
		return "paused"
	}
	return "ok"
}
