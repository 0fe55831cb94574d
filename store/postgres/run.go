package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/batchflow"
	"github.com/xraph/batchflow/group"
	"github.com/xraph/batchflow/id"
	"github.com/xraph/batchflow/queue"
)

// StartGroup inserts a run and its pending job records in one transaction.
// A unique violation on (group, time zone, run date) means another caller
// won the race; the existing run is returned instead.
func (s *Store) StartGroup(ctx context.Context, g *group.Group, runDate, startTime time.Time) (*queue.Group, bool, error) {
	run, jobs := queue.NewRun(g, runDate, startTime)
	now := s.now()
	run.CreatedAt, run.UpdatedAt = now, now

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("batchflow/postgres: begin start group: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO batchflow_queue_groups (
			id, job_group_name, timezone, run_date, start_time, run_status, created_at, updated_at
		) VALUES ($1, $2, $3, $4::date, $5, $6, $7, $8)`,
		run.ID.String(), run.JobGroupName, run.TimeZone, run.RunDateKey(),
		run.StartTime, string(run.RunStatus), now, now,
	)
	if err != nil {
		if isDuplicateKey(err) {
			_ = tx.Rollback()
			existing, findErr := s.FindGroupRun(ctx, g.Name, g.TimeZone, run.RunDate)
			if findErr != nil {
				return nil, false, findErr
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("batchflow/postgres: insert run: %w", err)
	}

	for _, j := range jobs {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO batchflow_queue_jobs (
				id, group_id, job_name, handler, position, depends_on, status, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			j.ID.String(), run.ID.String(), j.JobName, j.Handler, j.Position,
			dependencyArray(j.DependsOn), string(j.Status), now, now,
		)
		if err != nil {
			return nil, false, fmt.Errorf("batchflow/postgres: insert job %s: %w", j.JobName, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("batchflow/postgres: commit start group: %w", err)
	}
	return run, true, nil
}

// EndGroup closes a run with the status derived from its jobs. A closed
// run is left untouched.
func (s *Store) EndGroup(ctx context.Context, groupID id.ID) (*queue.Group, error) {
	now := s.now()
	_, err := s.db.ExecContext(ctx, `
		UPDATE batchflow_queue_groups g
		SET run_status = CASE
				WHEN EXISTS (
					SELECT 1 FROM batchflow_queue_jobs j
					WHERE j.group_id = g.id AND j.status = 'error'
				) THEN 'error'
				ELSE 'finished'
			END,
			end_time = $2,
			updated_at = $2
		WHERE g.id = $1 AND g.run_status NOT IN ('error', 'finished')`,
		groupID.String(), now,
	)
	if err != nil {
		return nil, fmt.Errorf("batchflow/postgres: end group: %w", err)
	}
	return s.GetGroup(ctx, groupID)
}

// FindGroupRun returns the run of a group on runDate.
func (s *Store) FindGroupRun(ctx context.Context, name, tz string, runDate time.Time) (*queue.Group, error) {
	var m groupModel
	err := s.db.GetContext(ctx, &m, `
		SELECT `+groupColumns+`
		FROM batchflow_queue_groups
		WHERE job_group_name = $1 AND timezone = $2 AND run_date = $3::date`,
		name, tz, runDate.Format(queue.DateLayout),
	)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("%w: %s in %s on %s", batchflow.ErrRunNotFound, name, tz, runDate.Format(queue.DateLayout))
		}
		return nil, fmt.Errorf("batchflow/postgres: find run: %w", err)
	}
	return fromGroupModel(&m)
}

// GetGroup retrieves a run by ID.
func (s *Store) GetGroup(ctx context.Context, groupID id.ID) (*queue.Group, error) {
	var m groupModel
	err := s.db.GetContext(ctx, &m, `
		SELECT `+groupColumns+`
		FROM batchflow_queue_groups
		WHERE id = $1`,
		groupID.String(),
	)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("%w: %s", batchflow.ErrRunNotFound, groupID)
		}
		return nil, fmt.Errorf("batchflow/postgres: get run: %w", err)
	}
	return fromGroupModel(&m)
}

// ListGroups returns runs matching opts, newest first.
func (s *Store) ListGroups(ctx context.Context, opts queue.ListOpts) ([]*queue.Group, error) {
	var (
		where []string
		args  []any
	)
	addFilter := func(column string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if opts.TimeZone != "" {
		addFilter("timezone", opts.TimeZone)
	}
	if opts.JobGroupName != "" {
		addFilter("job_group_name", opts.JobGroupName)
	}
	if opts.Status != "" {
		addFilter("run_status", string(opts.Status))
	}

	query := `SELECT ` + groupColumns + ` FROM batchflow_queue_groups`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY start_time DESC, id DESC"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	var models []groupModel
	if err := s.db.SelectContext(ctx, &models, query, args...); err != nil {
		return nil, fmt.Errorf("batchflow/postgres: list runs: %w", err)
	}

	out := make([]*queue.Group, 0, len(models))
	for i := range models {
		run, err := fromGroupModel(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, nil
}
