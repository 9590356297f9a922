// Package registry is an in-process live component registry usable as the
// runtime context contributions are deployed into.
package registry

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/opencontainers/go-digest"
	cmap "github.com/orcaman/concurrent-map/v2"

	"ocm.software/open-component-model/contribution/contribution"
	"ocm.software/open-component-model/contribution/deployment"
)

// Hook is invoked for a contribution entering or leaving the registry.
type Hook func(ctx context.Context, c *contribution.Contribution) error

// Registration is the live entry of one deployed contribution.
type Registration struct {
	name         string
	contribution string
	digest       digest.Digest
	deployedAt   time.Time
	persistent   atomic.Bool
}

var _ deployment.Registration = (*Registration)(nil)

func (r *Registration) Name() string { return r.name }
func (r *Registration) Contribution() string { return r.contribution }
func (r *Registration) Digest() digest.Digest { return r.digest }
func (r *Registration) DeployedAt() time.Time { return r.deployedAt }
func (r *Registration) SetPersistent(persistent bool) { r.persistent.Store(persistent) }
func (r *Registration) IsPersistent() bool { return r.persistent.Load() }

// Registry holds the live registrations keyed by component name.
type Registry struct {
	entries    cmap.ConcurrentMap[string, *Registration]
	activate   Hook
	deactivate Hook
	now        func() time.Time
}

var _ deployment.RuntimeContext = (*Registry)(nil)

type Option func(*Registry)

// WithActivator sets a hook run after a contribution was registered. If it fails or
// panics the registration is rolled back. A failure is reported by Deploy, a panic
// is propagated to its caller.
func WithActivator(h Hook) Option {
	return func(r *Registry) {
		r.activate = h
	}
}

// WithDeactivator sets a hook run after a contribution was unregistered.
func WithDeactivator(h Hook) Option {
	return func(r *Registry) {
		r.deactivate = h
	}
}

func New(opts ...Option) *Registry {
	r := &Registry{
		entries: cmap.New[*Registration](),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Deploy registers c under its component name. A name that is already live is rejected.
func (r *Registry) Deploy(ctx context.Context, c *contribution.Contribution) (deployment.Registration, bool, error) {
	reg := &Registration{
		name:         c.ComponentName(),
		contribution: c.Name,
		digest:       digest.FromBytes(c.Content),
		deployedAt:   r.now(),
	}
	if !r.entries.SetIfAbsent(reg.name, reg) {
		slog.DebugContext(ctx, "component already live", slog.String("component", reg.name))
		return nil, false, nil
	}
	activated := false
	defer func() {
		if !activated {
			r.entries.RemoveCb(reg.name, func(_ string, v *Registration, exists bool) bool {
				return exists && v == reg
			})
		}
		r.updateGauge()
	}()
	if r.activate != nil {
		if err := r.activate(ctx, c.DeepCopy()); err != nil {
			return nil, false, fmt.Errorf("activating component %q failed: %w", reg.name, err)
		}
	}
	activated = true
	slog.DebugContext(ctx, "component deployed", slog.String("component", reg.name), slog.String("digest", reg.digest.String()))
	return reg, true, nil
}

// Undeploy unregisters c. Unknown names are ignored.
func (r *Registry) Undeploy(ctx context.Context, c *contribution.Contribution) error {
	name := c.ComponentName()
	if _, existed := r.entries.Pop(name); !existed {
		return nil
	}
	r.updateGauge()
	slog.DebugContext(ctx, "component undeployed", slog.String("component", name))
	if r.deactivate != nil {
		if err := r.deactivate(ctx, c.DeepCopy()); err != nil {
			return fmt.Errorf("deactivating component %q failed: %w", name, err)
		}
	}
	return nil
}

func (r *Registry) IsDeployed(_ context.Context, c *contribution.Contribution) (bool, error) {
	return r.entries.Has(c.ComponentName()), nil
}

// Lookup returns the live registration of the named contribution.
func (r *Registry) Lookup(name string) (*Registration, bool) {
	return r.entries.Get(contribution.ComponentPrefix + name)
}

// Registrations returns a snapshot of all live registrations ordered by name.
func (r *Registry) Registrations() []*Registration {
	regs := make([]*Registration, 0, r.entries.Count())
	for _, reg := range r.entries.Items() {
		regs = append(regs, reg)
	}
	slices.SortFunc(regs, func(a, b *Registration) int {
		return cmp.Compare(a.name, b.name)
	})
	return regs
}

func (r *Registry) updateGauge() {
	deployedGauge.Set(float64(r.entries.Count()))
}
