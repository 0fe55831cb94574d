// Package stream fans batchflow lifecycle events out to live subscribers.
// The Broker is an ext.Extension; subscribers pick the topics they follow
// and receive events on a buffered channel under credit-based flow
// control. The admin API serves it as server-sent events.
package stream

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	// Run events.
	EventGroupStarted   EventType = "group.started"
	EventGroupCompleted EventType = "group.completed"

	// Job events.
	EventJobStarted   EventType = "job.started"
	EventJobCompleted EventType = "job.completed"
	EventJobFailed    EventType = "job.failed"
	EventJobPaused    EventType = "job.paused"
	EventJobResumed   EventType = "job.resumed"

	// Scheduler events.
	EventTickFired EventType = "tick.fired"
)

// Event is the envelope sent to subscribers.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"ts"`

	// Topics are the entity topics the event was published on, beside
	// the global ones.
	Topics []string `json:"topics,omitempty"`

	Data json.RawMessage `json:"data"`
}

// RunEventData is the payload of run events.
type RunEventData struct {
	RunID     string `json:"run_id"`
	Group     string `json:"group"`
	TimeZone  string `json:"timezone"`
	RunDate   string `json:"run_date"`
	Status    string `json:"status"`
	ElapsedMs int64  `json:"elapsed_ms,omitempty"`
}

// JobEventData is the payload of job events.
type JobEventData struct {
	JobID     string `json:"job_id"`
	RunID     string `json:"run_id"`
	JobName   string `json:"job_name"`
	Handler   string `json:"handler"`
	Status    string `json:"status"`
	NextStep  string `json:"next_step,omitempty"`
	Progress  string `json:"progress,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms,omitempty"`
	Error     string `json:"error,omitempty"`
}

// TickEventData is the payload of tick events.
type TickEventData struct {
	TimeZone string    `json:"timezone"`
	At       time.Time `json:"at"`
	Started  int       `json:"started"`
}
