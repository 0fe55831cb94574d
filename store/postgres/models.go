package postgres

import (
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/xraph/batchflow"
	"github.com/xraph/batchflow/id"
	"github.com/xraph/batchflow/queue"
)

// ── Group run model ───────────────────────────────────────────────

const groupColumns = `id, job_group_name, timezone, to_char(run_date, 'YYYY-MM-DD') AS run_date,
	start_time, end_time, run_status, created_at, updated_at`

type groupModel struct {
	ID           string     `db:"id"`
	JobGroupName string     `db:"job_group_name"`
	TimeZone     string     `db:"timezone"`
	RunDate      string     `db:"run_date"`
	StartTime    time.Time  `db:"start_time"`
	EndTime      *time.Time `db:"end_time"`
	RunStatus    string     `db:"run_status"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
}

func fromGroupModel(m *groupModel) (*queue.Group, error) {
	runID, err := id.ParseQueueGroupID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("batchflow/postgres: parse run id: %w", err)
	}
	// DATE columns carry no zone; re-anchor at midnight in the run's zone.
	runDate, err := queue.ParseRunDate(m.RunDate, m.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("batchflow/postgres: run %s date: %w", m.ID, err)
	}
	return &queue.Group{
		Entity: batchflow.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:           runID,
		JobGroupName: m.JobGroupName,
		TimeZone:     m.TimeZone,
		RunDate:      runDate,
		StartTime:    m.StartTime,
		EndTime:      m.EndTime,
		RunStatus:    queue.Status(m.RunStatus),
	}, nil
}

// ── Job model ─────────────────────────────────────────────────────

const jobColumns = `id, group_id, job_name, handler, position, depends_on, status, next_step,
	items_total, items_finished, items_error, message_code, message_text, message_errors,
	started_at, finished_at, created_at, updated_at`

type jobModel struct {
	ID            string         `db:"id"`
	GroupID       string         `db:"group_id"`
	JobName       string         `db:"job_name"`
	Handler       string         `db:"handler"`
	Position      int            `db:"position"`
	DependsOn     pq.StringArray `db:"depends_on"`
	Status        string         `db:"status"`
	NextStep      string         `db:"next_step"`
	ItemsTotal    int64          `db:"items_total"`
	ItemsFinished int64          `db:"items_finished"`
	ItemsError    int64          `db:"items_error"`
	MessageCode   *string        `db:"message_code"`
	MessageText   *string        `db:"message_text"`
	MessageErrors *int           `db:"message_errors"`
	StartedAt     *time.Time     `db:"started_at"`
	FinishedAt    *time.Time     `db:"finished_at"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

func fromJobModel(m *jobModel) (*queue.Job, error) {
	jobID, err := id.ParseQueueJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("batchflow/postgres: parse job id: %w", err)
	}
	runID, err := id.ParseQueueGroupID(m.GroupID)
	if err != nil {
		return nil, fmt.Errorf("batchflow/postgres: parse run id: %w", err)
	}

	j := &queue.Job{
		Entity: batchflow.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:            jobID,
		GroupID:       runID,
		JobName:       m.JobName,
		Handler:       m.Handler,
		Position:      m.Position,
		Status:        queue.Status(m.Status),
		NextStep:      queue.NextStep(m.NextStep),
		ItemsTotal:    m.ItemsTotal,
		ItemsFinished: m.ItemsFinished,
		ItemsError:    m.ItemsError,
		StartedAt:     m.StartedAt,
		FinishedAt:    m.FinishedAt,
	}
	for _, dep := range m.DependsOn {
		depID, parseErr := id.ParseQueueJobID(dep)
		if parseErr != nil {
			return nil, fmt.Errorf("batchflow/postgres: parse dependency of %s: %w", m.ID, parseErr)
		}
		j.DependsOn = append(j.DependsOn, depID)
	}
	if m.MessageCode != nil || m.MessageText != nil {
		msg := &queue.Message{}
		if m.MessageCode != nil {
			msg.Code = *m.MessageCode
		}
		if m.MessageText != nil {
			msg.Text = *m.MessageText
		}
		if m.MessageErrors != nil {
			msg.ErrorCount = *m.MessageErrors
		}
		j.Message = msg
	}
	return j, nil
}

func fromJobModels(models []jobModel) ([]*queue.Job, error) {
	out := make([]*queue.Job, 0, len(models))
	for i := range models {
		j, err := fromJobModel(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, nil
}

func dependencyArray(deps []id.ID) pq.StringArray {
	out := make(pq.StringArray, 0, len(deps))
	for _, d := range deps {
		out = append(out, d.String())
	}
	return out
}

// messageArgs flattens an optional message into nullable columns.
func messageArgs(m *queue.Message) (code, text *string, errs *int) {
	if m == nil {
		return nil, nil, nil
	}
	return &m.Code, &m.Text, &m.ErrorCount
}
