// Package batchflow is a multi-time-zone, dependency-ordered batch
// scheduling engine. It runs recurring groups of jobs (start-of-day,
// end-of-day and similar back-office batches), orders jobs inside a group
// by their declared dependencies, and cascades from a finished group to
// the groups that depend on it.
//
// # Quick Start
//
//	reg := handler.NewRegistry()
//	builtin.Register(reg)
//
//	catalog, err := config.BuildCatalog(cfg, reg)
//	runs := memory.New()
//
//	s, err := engine.New(store.Compose(catalog, runs), reg,
//	    engine.WithConfig(batchflow.DefaultConfig()),
//	)
//	err = s.Start(ctx)
//
// # Architecture
//
// The schedule package computes occurrences for one time zone. The group
// package holds the static group and job definitions together with a
// per-group occurrence cache. The queue package models run instances and
// defines the storage port. One manager.Manager orchestrates each time
// zone, and engine.Scheduler owns the time-zone to manager map and the
// one-minute tick.
//
// Run-state IDs are type-prefixed, K-sortable, UUIDv7-based identifiers.
package batchflow
