package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionGroupStarted   = "group.started"
	ActionGroupCompleted = "group.completed"
	ActionJobStarted     = "job.started"
	ActionJobCompleted   = "job.completed"
	ActionJobFailed      = "job.failed"
	ActionJobPaused      = "job.paused"
	ActionJobResumed     = "job.resumed"
	ActionTickFired      = "tick.fired"
	ActionShutdown       = "scheduler.shutdown"
)

// Audit event categories group related actions.
const (
	CategoryRun       = "batchflow.run"
	CategoryJob       = "batchflow.job"
	CategoryScheduler = "batchflow.scheduler"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceGroupRun  = "group_run"
	ResourceJob       = "job"
	ResourceTimeZone  = "timezone"
	ResourceScheduler = "scheduler"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionGroupStarted,
		ActionGroupCompleted,
		ActionJobStarted,
		ActionJobCompleted,
		ActionJobFailed,
		ActionJobPaused,
		ActionJobResumed,
		ActionTickFired,
		ActionShutdown,
	}
}

// OperatorActions are the actions worth keeping in a trail when the
// per-job noise is not wanted.
func OperatorActions() []string {
	return []string{
		ActionGroupStarted,
		ActionGroupCompleted,
		ActionJobFailed,
		ActionJobPaused,
		ActionJobResumed,
		ActionShutdown,
	}
}
