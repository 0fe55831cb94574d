package queue

import "github.com/xraph/batchflow/id"

// EndStatus is the status a run closes with: error when any job ended in
// error, finished otherwise.
func EndStatus(jobs []*Job) Status {
	for _, j := range jobs {
		if j.Status == StatusError {
			return StatusError
		}
	}
	return StatusFinished
}

// CountUnfinished counts the non-terminal jobs.
func CountUnfinished(jobs []*Job) int {
	n := 0
	for _, j := range jobs {
		if !j.Status.Terminal() {
			n++
		}
	}
	return n
}

// Roots returns the pending jobs with no dependencies.
func Roots(jobs []*Job) []*Job {
	var out []*Job
	for _, j := range jobs {
		if j.Status == StatusPending && j.DependsOnNothing() {
			out = append(out, j)
		}
	}
	return out
}

// Ready returns the pending jobs that depend on jobID and whose every
// dependency is released. jobs must hold every job record of one run.
func Ready(jobs []*Job, jobID id.ID) []*Job {
	byID := make(map[id.ID]*Job, len(jobs))
	for _, j := range jobs {
		byID[j.ID] = j
	}

	var out []*Job
	for _, j := range jobs {
		if j.Status != StatusPending || !j.DependsOnJob(jobID) {
			continue
		}
		ready := true
		for _, dep := range j.DependsOn {
			if d := byID[dep]; d == nil || !d.Released() {
				ready = false
				break
			}
		}
		if ready {
			out = append(out, j)
		}
	}
	return out
}
