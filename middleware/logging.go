package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/batchflow/handler"
	"github.com/xraph/batchflow/queue"
)

// Logging returns middleware that logs job start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, req *handler.Request, next Handler) (queue.Result, error) {
		logger.Info("job started",
			slog.String("job_name", req.Name()),
			slog.String("job_id", req.JobID.String()),
			slog.String("group", req.GroupName),
			slog.String("timezone", req.TimeZone),
		)

		start := time.Now()
		res, err := next(ctx)
		elapsed := time.Since(start)

		switch {
		case err != nil:
			logger.Error("job failed",
				slog.String("job_name", req.Name()),
				slog.String("job_id", req.JobID.String()),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		case outcome(res, nil) == "error":
			logger.Warn("job completed with errors",
				slog.String("job_name", req.Name()),
				slog.String("job_id", req.JobID.String()),
				slog.Duration("elapsed", elapsed),
				slog.String("message", res.Message.String()),
			)
		default:
			logger.Info("job completed",
				slog.String("job_name", req.Name()),
				slog.String("job_id", req.JobID.String()),
				slog.Duration("elapsed", elapsed),
				slog.String("next_step", string(res.Normalize().NextStep)),
			)
		}

		return res, err
	}
}
