// Package store defines the aggregate persistence interface. The definition
// catalog (group.Store) and the run state (queue.Store) are separate ports;
// the composite Store composes them. Backends: Memory, Postgres and Redis.
package store

import (
	"context"

	"github.com/xraph/batchflow/group"
	"github.com/xraph/batchflow/queue"
)

// Backend is what a run-state backend provides.
type Backend interface {
	queue.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the backend connection.
	Close() error
}

// Store is the aggregate persistence interface.
type Store interface {
	group.Store
	Backend
}

type composite struct {
	group.Store
	Backend
}

// Compose joins a definition catalog with a run-state backend.
func Compose(catalog group.Store, runs Backend) Store {
	return &composite{Store: catalog, Backend: runs}
}
