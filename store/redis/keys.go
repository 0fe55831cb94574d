package redis

// Redis key naming conventions for batchflow data.
// All keys are prefixed with "batchflow:" to avoid collisions.

const keyPrefix = "batchflow:"

// ── Run keys ──

// runKey returns the key for a group run entity: batchflow:run:{id}
func runKey(id string) string { return keyPrefix + "run:" + id }

// runIndexKey maps a group, time zone and run date to its run ID:
// batchflow:run_index:{tz}:{name}:{date}
func runIndexKey(tz, name, date string) string {
	return keyPrefix + "run_index:" + tz + ":" + name + ":" + date
}

// runJobsKey returns the List of a run's job IDs: batchflow:run_jobs:{id}
func runJobsKey(id string) string { return keyPrefix + "run_jobs:" + id }

// runsKey is the Sorted Set of run IDs scored by start time.
const runsKey = keyPrefix + "runs"

// ── Job keys ──

// jobKey returns the key for a job entity: batchflow:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }
