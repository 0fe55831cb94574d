package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/xraph/batchflow/api"
	audithook "github.com/xraph/batchflow/audit_hook"
	"github.com/xraph/batchflow/backoff"
	"github.com/xraph/batchflow/config"
	"github.com/xraph/batchflow/engine"
	"github.com/xraph/batchflow/store"
	"github.com/xraph/batchflow/store/memory"
	"github.com/xraph/batchflow/store/postgres"
	redisstore "github.com/xraph/batchflow/store/redis"
	"github.com/xraph/batchflow/stream"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler and the admin API",
	Long: `Start one scheduling manager per configured time zone, recover runs left
open by a previous process, and serve the admin API and /metrics on
http.addr. SIGINT or SIGTERM drains in-flight jobs and exits.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	l, err := load()
	if err != nil {
		return err
	}
	logger := l.logger

	runs, closeRuns, err := openBackend(ctx, l.cfg.Store, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeRuns(); cerr != nil {
			logger.Warn("close store", slog.String("error", cerr.Error()))
		}
	}()

	broker := stream.NewBroker(logger)
	opts := []engine.Option{
		engine.WithConfig(l.cfg.Scheduler.Engine()),
		engine.WithLogger(logger),
		engine.WithPrometheus(prometheus.DefaultRegisterer),
		engine.WithExtension(broker),
	}
	if l.cfg.Audit.Enabled {
		actions := l.cfg.Audit.Actions
		if len(actions) == 0 {
			actions = audithook.OperatorActions()
		}
		opts = append(opts, engine.WithExtension(audithook.New(
			audithook.NewSlogRecorder(logger),
			audithook.WithActions(actions...),
			audithook.WithLogger(logger),
		)))
	}

	s, err := engine.New(store.Compose(l.catalog, runs), l.handlers, opts...)
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	if err := s.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	var srv *http.Server
	errCh := make(chan error, 1)
	if addr := l.cfg.HTTP.Addr; addr != "" {
		srv = &http.Server{
			Addr:              addr,
			Handler:           api.New(s, api.WithLogger(logger), api.WithBroker(broker)).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("admin api listening", slog.String("addr", addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	logger.Info("batchflow started",
		slog.Any("timezones", s.TimeZones()),
		slog.String("store", l.cfg.Store.Driver),
	)

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case serveErr = <-errCh:
		logger.Error("admin api failed", slog.String("error", serveErr.Error()))
	}

	// The scheduler applies its own drain timeout.
	stopCtx := context.WithoutCancel(ctx)
	if srv != nil {
		httpCtx, cancel := context.WithTimeout(stopCtx, 10*time.Second)
		if err := srv.Shutdown(httpCtx); err != nil {
			logger.Warn("admin api shutdown", slog.String("error", err.Error()))
		}
		cancel()
	}
	if err := s.Stop(stopCtx); err != nil {
		return fmt.Errorf("stop scheduler: %w", err)
	}
	logger.Info("batchflow stopped")
	return serveErr
}

// openBackend connects and migrates the run-state backend selected by
// sc, retrying while the backend comes up. The returned func releases
// the backend and any client it owns.
func openBackend(ctx context.Context, sc config.StoreConfig, logger *slog.Logger) (store.Backend, func() error, error) {
	retry := func(what string, fn func(context.Context) error) error {
		return backoff.Retry(ctx, backoff.DefaultStrategy(), sc.ConnectAttempts, fn,
			func(attempt int, err error, wait time.Duration) {
				logger.Warn("store not ready, retrying",
					slog.String("driver", sc.Driver),
					slog.String("step", what),
					slog.Int("attempt", attempt),
					slog.Duration("wait", wait),
					slog.String("error", err.Error()),
				)
			})
	}

	var (
		b       store.Backend
		closeFn func() error
	)
	switch sc.Driver {
	case config.DriverPostgres:
		var pg *postgres.Store
		err := retry("connect", func(ctx context.Context) error {
			var err error
			pg, err = postgres.New(ctx, sc.DSN, postgres.WithLogger(logger))
			return err
		})
		if err != nil {
			return nil, nil, err
		}
		b, closeFn = pg, pg.Close
	case config.DriverRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     sc.Redis.Addr,
			Password: sc.Redis.Password,
			DB:       sc.Redis.DB,
		})
		b, closeFn = redisstore.New(client, redisstore.WithLogger(logger)), client.Close
	default:
		mem := memory.New()
		b, closeFn = mem, mem.Close
	}

	if err := retry("ping", b.Ping); err != nil {
		_ = closeFn()
		return nil, nil, fmt.Errorf("ping %s store: %w", sc.Driver, err)
	}
	if err := b.Migrate(ctx); err != nil {
		_ = closeFn()
		return nil, nil, fmt.Errorf("migrate %s store: %w", sc.Driver, err)
	}
	return b, closeFn, nil
}
