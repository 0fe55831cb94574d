package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/xraph/batchflow/handler"
	"github.com/xraph/batchflow/queue"
)

// Recover returns middleware that recovers from panics in the handler chain.
// Panics are converted to errors and logged with a stack trace.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, req *handler.Request, next Handler) (res queue.Result, retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("job handler panicked",
					slog.String("job_name", req.Name()),
					slog.String("job_id", req.JobID.String()),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				res = queue.Result{}
				retErr = fmt.Errorf("panic in job %s: %v", req.Name(), r)
			}
		}()
		return next(ctx)
	}
}
