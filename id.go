package batchflow

import "github.com/xraph/batchflow/id"

// ID is the primary identifier type for all run-state records.
type ID = id.ID

// Prefix identifies the entity type encoded in an ID.
type Prefix = id.Prefix
