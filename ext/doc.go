// Package ext defines the extension system for batchflow.
//
// Extensions are notified of lifecycle events and can react to them:
// recording metrics, paging an operator when a job pauses, writing audit
// logs. Each lifecycle hook is a separate interface so extensions opt in
// only to the events they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	// Opt in to specific hooks by implementing their interfaces.
//	func (e *MyExtension) OnJobPaused(ctx context.Context, j *queue.Job) error {
//	    log.Printf("job %s is waiting for resume", j.JobName)
//	    return nil
//	}
//
// # Group Run Hooks
//
//   - [GroupStarted]: a group run was created
//   - [GroupCompleted]: a group run was closed
//
// # Job Hooks
//
//   - [JobStarted]: a job was claimed and its handler is about to run
//   - [JobCompleted]: a job's result was recorded
//   - [JobFailed]: a handler errored, panicked, or was not registered
//   - [JobPaused]: a job ended holding its dependents
//   - [JobResumed]: an operator resumed a paused job
//
// # Other Hooks
//
//   - [TickFired]: a time zone's root groups were evaluated for a minute
//   - [Shutdown]: the scheduler is shutting down gracefully
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface. Hook errors are logged and
// never propagated.
package ext
