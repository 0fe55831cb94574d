package postgres

import (
	"context"
	"fmt"

	"github.com/xraph/batchflow"
	"github.com/xraph/batchflow/id"
	"github.com/xraph/batchflow/queue"
)

// RootJobs returns the pending jobs of a run with no dependencies.
func (s *Store) RootJobs(ctx context.Context, groupID id.ID) ([]*queue.Job, error) {
	var models []jobModel
	err := s.db.SelectContext(ctx, &models, `
		SELECT `+jobColumns+`
		FROM batchflow_queue_jobs
		WHERE group_id = $1 AND status = 'pending' AND cardinality(depends_on) = 0
		ORDER BY position`,
		groupID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("batchflow/postgres: root jobs: %w", err)
	}
	return fromJobModels(models)
}

// NextJobs returns the pending dependents of jobID whose every dependency
// is terminal with next step continue.
func (s *Store) NextJobs(ctx context.Context, jobID, groupID id.ID) ([]*queue.Job, error) {
	var models []jobModel
	err := s.db.SelectContext(ctx, &models, `
		SELECT `+jobColumns+`
		FROM batchflow_queue_jobs j
		WHERE j.group_id = $1
		  AND j.status = 'pending'
		  AND $2 = ANY(j.depends_on)
		  AND NOT EXISTS (
			SELECT 1 FROM batchflow_queue_jobs d
			WHERE d.id = ANY(j.depends_on)
			  AND NOT (d.status IN ('error', 'finished') AND d.next_step = 'continue')
		  )
		ORDER BY j.position`,
		groupID.String(), jobID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("batchflow/postgres: next jobs: %w", err)
	}
	return fromJobModels(models)
}

// CountUnfinishedJobs returns the number of non-terminal jobs of a run.
func (s *Store) CountUnfinishedJobs(ctx context.Context, groupID id.ID) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM batchflow_queue_jobs
		WHERE group_id = $1 AND status NOT IN ('error', 'finished')`,
		groupID.String(),
	)
	if err != nil {
		return 0, fmt.Errorf("batchflow/postgres: count unfinished jobs: %w", err)
	}
	return n, nil
}

// ClaimJob moves a pending job to running. The conditional update makes
// the claim safe across processes sharing the database.
func (s *Store) ClaimJob(ctx context.Context, jobID id.ID) (bool, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE batchflow_queue_jobs
		SET status = 'running', started_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'pending'`,
		jobID.String(), now,
	)
	if err != nil {
		return false, fmt.Errorf("batchflow/postgres: claim job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("batchflow/postgres: claim job: %w", err)
	}
	if n == 1 {
		return true, nil
	}
	if _, err := s.GetJob(ctx, jobID); err != nil {
		return false, err
	}
	return false, nil
}

// LogJobProgress records a job's terminal result. Item counts are added to
// the stored counters; a nil message keeps the stored one.
func (s *Store) LogJobProgress(ctx context.Context, jobID, groupID id.ID, r queue.Result) error {
	code, text, errs := messageArgs(r.Message)
	now := s.now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE batchflow_queue_jobs
		SET status = $3,
			next_step = $4,
			message_code = COALESCE($5, message_code),
			message_text = COALESCE($6, message_text),
			message_errors = COALESCE($7, message_errors),
			items_total = items_total + $8,
			items_finished = items_finished + $9,
			items_error = items_error + $10,
			finished_at = $11,
			updated_at = $11
		WHERE id = $1 AND group_id = $2`,
		jobID.String(), groupID.String(), string(r.Status), string(r.NextStep),
		code, text, errs,
		r.ItemsTotal, r.ItemsFinished, r.ItemsError, now,
	)
	if err != nil {
		return fmt.Errorf("batchflow/postgres: log job progress: %w", err)
	}
	return requireRow(res, jobID)
}

// AddJobProgress adds in-flight item deltas to a job's counters.
func (s *Store) AddJobProgress(ctx context.Context, jobID id.ID, total, finished, errored int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE batchflow_queue_jobs
		SET items_total = items_total + $2,
			items_finished = items_finished + $3,
			items_error = items_error + $4,
			updated_at = $5
		WHERE id = $1`,
		jobID.String(), total, finished, errored, s.now(),
	)
	if err != nil {
		return fmt.Errorf("batchflow/postgres: add job progress: %w", err)
	}
	return requireRow(res, jobID)
}

// JobResult returns the recorded outcome of a job.
func (s *Store) JobResult(ctx context.Context, jobID id.ID) (queue.Result, error) {
	j, err := s.GetJob(ctx, jobID)
	if err != nil {
		return queue.Result{}, err
	}
	return j.Result(), nil
}

// ResumeJob flips a paused job to continue.
func (s *Store) ResumeJob(ctx context.Context, jobID id.ID) (*queue.Job, error) {
	var m jobModel
	err := s.db.GetContext(ctx, &m, `
		UPDATE batchflow_queue_jobs
		SET next_step = 'continue', updated_at = $2
		WHERE id = $1 AND status IN ('error', 'finished') AND next_step = 'pause'
		RETURNING `+jobColumns,
		jobID.String(), s.now(),
	)
	if err == nil {
		return fromJobModel(&m)
	}
	if !isNoRows(err) {
		return nil, fmt.Errorf("batchflow/postgres: resume job: %w", err)
	}

	j, getErr := s.GetJob(ctx, jobID)
	if getErr != nil {
		return nil, getErr
	}
	return nil, fmt.Errorf("%w: %s is %s/%s", batchflow.ErrNotPaused, jobID, j.Status, j.NextStep)
}

// GetJob retrieves a job record by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.ID) (*queue.Job, error) {
	var m jobModel
	err := s.db.GetContext(ctx, &m, `
		SELECT `+jobColumns+`
		FROM batchflow_queue_jobs
		WHERE id = $1`,
		jobID.String(),
	)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("%w: %s", batchflow.ErrJobNotFound, jobID)
		}
		return nil, fmt.Errorf("batchflow/postgres: get job: %w", err)
	}
	return fromJobModel(&m)
}

// ListJobs returns the job records of a run in position order.
func (s *Store) ListJobs(ctx context.Context, groupID id.ID) ([]*queue.Job, error) {
	var models []jobModel
	err := s.db.SelectContext(ctx, &models, `
		SELECT `+jobColumns+`
		FROM batchflow_queue_jobs
		WHERE group_id = $1
		ORDER BY position`,
		groupID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("batchflow/postgres: list jobs: %w", err)
	}
	return fromJobModels(models)
}

type rowsResult interface {
	RowsAffected() (int64, error)
}

func requireRow(res rowsResult, jobID id.ID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("batchflow/postgres: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", batchflow.ErrJobNotFound, jobID)
	}
	return nil
}
