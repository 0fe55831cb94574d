package middleware

import (
	"context"
	"log/slog"

	"github.com/xraph/batchflow/handler"
	"github.com/xraph/batchflow/queue"
)

// Timeout returns middleware that enforces a per-job execution deadline.
// If the job definition has a non-zero Timeout, a context.WithTimeout wraps
// the handler call. When the deadline is exceeded the context is cancelled
// and the handler should return context.DeadlineExceeded.
func Timeout(logger *slog.Logger) Middleware {
	return func(ctx context.Context, req *handler.Request, next Handler) (queue.Result, error) {
		if req.Job != nil && req.Job.Timeout > 0 {
			logger.Debug("job timeout set",
				slog.String("job_id", req.JobID.String()),
				slog.Duration("timeout", req.Job.Timeout),
			)
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, req.Job.Timeout)
			defer cancel()
		}
		return next(ctx)
	}
}
