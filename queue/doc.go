// Package queue defines the run-state model: one [Group] record per run
// of a job group on a run date, and one [Job] record per job of that run.
//
// # State machine
//
// Job records move through:
//
//	pending → running → finished
//	pending → running → error
//
// A terminal job also carries a [NextStep]. Dependents of a job are only
// released once it is terminal with NextStep continue; a job that ends
// with NextStep pause holds its dependents until an operator resumes it.
//
// A Group record is running from creation until every one of its jobs is
// terminal, then finished, or error when any job ended in error.
//
// # Store
//
// [Store] is the persistence port. Implementations must make StartGroup an
// atomic create-if-absent keyed on (group name, time zone, run date), make
// ClaimJob an atomic pending → running transition, and apply item counters
// without lost updates.
package queue
