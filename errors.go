package batchflow

import "errors"

var (
	// Configuration errors.
	ErrInvalidSchedule   = errors.New("batchflow: invalid schedule")
	ErrInvalidDefinition = errors.New("batchflow: invalid definition")
	ErrDependencyCycle   = errors.New("batchflow: dependency cycle")
	ErrHandlerNotFound   = errors.New("batchflow: handler not found")
	ErrUnknownTimeZone   = errors.New("batchflow: unknown time zone")

	// Store errors.
	ErrNoStore     = errors.New("batchflow: no store configured")
	ErrStoreClosed = errors.New("batchflow: store closed")

	// Not found errors.
	ErrGroupNotFound = errors.New("batchflow: job group not found")
	ErrRunNotFound   = errors.New("batchflow: run not found")
	ErrJobNotFound   = errors.New("batchflow: job not found")

	// State errors.
	ErrNotScheduled  = errors.New("batchflow: run date not scheduled")
	ErrNotPaused     = errors.New("batchflow: job is not paused")
	ErrRunNotActive  = errors.New("batchflow: run is not active")
	ErrAlreadyClosed = errors.New("batchflow: run already closed")
	ErrShuttingDown  = errors.New("batchflow: manager is shutting down")
)
