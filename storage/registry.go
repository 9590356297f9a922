// Package storage selects and constructs contribution storage backends from typed configuration.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"ocm.software/open-component-model/contribution/contribution"
	"ocm.software/open-component-model/contribution/runtime"
)

// ErrUnknownStorageType is returned when no factory is registered for a configuration type.
var ErrUnknownStorageType = errors.New("unknown storage type")

// Factory constructs a storage backend from its typed configuration.
type Factory func(ctx context.Context, spec runtime.Typed) (contribution.Storage, error)

// TypedFactory adapts a factory for one concrete configuration type into a Factory.
func TypedFactory[T runtime.Typed](fn func(ctx context.Context, spec T) (contribution.Storage, error)) Factory {
	return func(ctx context.Context, spec runtime.Typed) (contribution.Storage, error) {
		typed, ok := spec.(T)
		if !ok {
			return nil, fmt.Errorf("unexpected storage configuration %T for type %s", spec, spec.GetType())
		}
		return fn(ctx, typed)
	}
}

// Registry maps storage configuration types to backend factories.
// Every type must be known to the registry's scheme so raw configuration can be decoded.
type Registry struct {
	mu        sync.RWMutex
	scheme    *runtime.Scheme
	factories map[runtime.Type]Factory
}

func NewRegistry(scheme *runtime.Scheme) *Registry {
	return &Registry{
		scheme:    scheme,
		factories: make(map[runtime.Type]Factory),
	}
}

// Register binds the factory to all given types.
func (r *Registry) Register(factory Factory, types ...runtime.Type) error {
	if factory == nil {
		return fmt.Errorf("factory must not be nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, typ := range types {
		if !r.scheme.IsRegistered(typ) {
			return fmt.Errorf("storage type %s is not known to the scheme", typ)
		}
		if _, exists := r.factories[typ]; exists {
			return fmt.Errorf("storage type %s is already registered", typ)
		}
	}
	for _, typ := range types {
		r.factories[typ] = factory
	}
	return nil
}

func (r *Registry) MustRegister(factory Factory, types ...runtime.Type) {
	if err := r.Register(factory, types...); err != nil {
		panic(err)
	}
}

// Types returns the storage types that can be constructed.
func (r *Registry) Types() []runtime.Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var types []runtime.Type
	for _, typ := range r.scheme.Types() {
		if _, ok := r.factories[typ]; ok {
			types = append(types, typ)
		}
	}
	return types
}

// New decodes spec if needed and constructs the matching backend.
func (r *Registry) New(ctx context.Context, spec runtime.Typed) (contribution.Storage, error) {
	if spec == nil {
		return nil, fmt.Errorf("storage configuration must not be nil")
	}
	typ := spec.GetType()

	r.mu.RLock()
	factory, ok := r.factories[typ]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %v)", ErrUnknownStorageType, typ, r.Types())
	}

	if raw, isRaw := spec.(*runtime.Raw); isRaw {
		obj, err := r.scheme.NewObject(typ)
		if err != nil {
			return nil, fmt.Errorf("creating storage configuration %s failed: %w", typ, err)
		}
		if err := r.scheme.Convert(raw, obj); err != nil {
			return nil, fmt.Errorf("decoding storage configuration %s failed: %w", typ, err)
		}
		spec = obj
	}

	slog.DebugContext(ctx, "creating contribution storage", slog.String("type", typ.String()))
	s, err := factory(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("creating storage %s failed: %w", typ, err)
	}
	return s, nil
}
