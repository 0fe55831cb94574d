package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/xraph/batchflow"
	"github.com/xraph/batchflow/group"
	"github.com/xraph/batchflow/queue"
)

// Registry maps handler identifiers to factories.
// It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register binds name to a factory, replacing any previous binding.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// RegisterHandler binds name to a shared, stateless handler.
func (r *Registry) RegisterHandler(name string, h Handler) {
	r.Register(name, func() Handler { return h })
}

// RegisterFunc binds name to a handler function.
func (r *Registry) RegisterFunc(name string, fn func(ctx context.Context, req *Request) (queue.Result, error)) {
	r.RegisterHandler(name, HandlerFunc(fn))
}

// Definition is a typed handler whose job params decode into T.
type Definition[T any] struct {
	// Name is the handler identifier jobs refer to.
	Name string

	// Handler processes one execution with decoded params.
	Handler func(ctx context.Context, req *Request, params T) (queue.Result, error)
}

// NewDefinition creates a typed handler definition.
func NewDefinition[T any](name string, fn func(ctx context.Context, req *Request, params T) (queue.Result, error)) *Definition[T] {
	return &Definition[T]{Name: name, Handler: fn}
}

// RegisterDefinition registers a typed definition. The handler is wrapped
// in a closure that JSON-unmarshals the job's params into T before calling
// the typed handler.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) {
	r.RegisterFunc(def.Name, func(ctx context.Context, req *Request) (queue.Result, error) {
		var params T
		if req.Job != nil && len(req.Job.Params) > 0 {
			if err := json.Unmarshal(req.Job.Params, &params); err != nil {
				return queue.Result{}, fmt.Errorf("unmarshal params for handler %q: %w", def.Name, err)
			}
		}
		return def.Handler(ctx, req, params)
	})
}

// Get returns the factory for name.
func (r *Registry) Get(name string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	return f, ok
}

// Resolve returns the factory for name, or an error wrapping
// batchflow.ErrHandlerNotFound.
func (r *Registry) Resolve(name string) (Factory, error) {
	f, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", batchflow.ErrHandlerNotFound, name)
	}
	return f, nil
}

// Names returns all registered identifiers in lexical order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks that every job of groups names a registered handler.
func (r *Registry) Validate(groups ...*group.Group) error {
	for _, g := range groups {
		for _, j := range g.Jobs {
			if _, err := r.Resolve(j.Handler); err != nil {
				return fmt.Errorf("job %s/%s in %s: %w", g.Name, j.Name, g.TimeZone, err)
			}
		}
	}
	return nil
}
