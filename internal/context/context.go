package context

import (
	"context"
	"sync"

	"github.com/spf13/cobra"

	"ocm.software/open-component-model/contribution/coordinator"
	"ocm.software/open-component-model/contribution/internal/config"
	"ocm.software/open-component-model/contribution/registry"
	"ocm.software/open-component-model/contribution/storage"
)

type ctxKey string

const key ctxKey = "ocm.software/open-component-model/contribution/internal/context"

// Context carries the centrally created components of the command line.
// They are created once in the root pre-run hook and shared by all commands
// through cobra.Command.Context.
type Context struct {
	mu sync.RWMutex

	// configuration is always set first, other components are built from it.
	configuration *config.Config

	// storageRegistry resolves the configured storage type into a backend.
	storageRegistry *storage.Registry

	// registry is the in-process runtime context deployments go to.
	registry *registry.Registry

	// coordinator is created uninitialized, commands initialize it on first use.
	coordinator *coordinator.Coordinator
}

func WithConfiguration(ctx context.Context, cfg *config.Config) context.Context {
	ctx, cctx := retrieveOrCreate(ctx)
	cctx.mu.Lock()
	defer cctx.mu.Unlock()
	cctx.configuration = cfg
	return ctx
}

func WithStorageRegistry(ctx context.Context, r *storage.Registry) context.Context {
	ctx, cctx := retrieveOrCreate(ctx)
	cctx.mu.Lock()
	defer cctx.mu.Unlock()
	cctx.storageRegistry = r
	return ctx
}

func WithRegistry(ctx context.Context, r *registry.Registry) context.Context {
	ctx, cctx := retrieveOrCreate(ctx)
	cctx.mu.Lock()
	defer cctx.mu.Unlock()
	cctx.registry = r
	return ctx
}

func WithCoordinator(ctx context.Context, c *coordinator.Coordinator) context.Context {
	ctx, cctx := retrieveOrCreate(ctx)
	cctx.mu.Lock()
	defer cctx.mu.Unlock()
	cctx.coordinator = c
	return ctx
}

// Register makes sure cmd carries a Context.
func Register(cmd *cobra.Command) {
	ctx, _ := retrieveOrCreate(cmd.Context())
	cmd.SetContext(ctx)
}

func (ctx *Context) Configuration() *config.Config {
	if ctx == nil {
		return nil
	}
	ctx.mu.RLock()
	defer ctx.mu.RUnlock()
	return ctx.configuration
}

func (ctx *Context) StorageRegistry() *storage.Registry {
	if ctx == nil {
		return nil
	}
	ctx.mu.RLock()
	defer ctx.mu.RUnlock()
	return ctx.storageRegistry
}

func (ctx *Context) Registry() *registry.Registry {
	if ctx == nil {
		return nil
	}
	ctx.mu.RLock()
	defer ctx.mu.RUnlock()
	return ctx.registry
}

func (ctx *Context) Coordinator() *coordinator.Coordinator {
	if ctx == nil {
		return nil
	}
	ctx.mu.RLock()
	defer ctx.mu.RUnlock()
	return ctx.coordinator
}

// FromContext returns the Context stored in ctx or nil.
func FromContext(ctx context.Context) *Context {
	if ctx == nil {
		return nil
	}
	if v, ok := ctx.Value(key).(*Context); ok {
		return v
	}
	return nil
}

func retrieveOrCreate(ctx context.Context) (context.Context, *Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	cctx := FromContext(ctx)
	if cctx == nil {
		cctx = &Context{}
		ctx = context.WithValue(ctx, key, cctx)
	}
	return ctx, cctx
}
