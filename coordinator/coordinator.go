// Package coordinator keeps persisted contributions and their live deployments consistent.
//
// The Coordinator owns two independent pieces of state per contribution:
//   - persisted: the contribution is present in the configured storage
//   - installed: the runtime context reports the contribution as deployed
//
// Expected outcomes (name conflicts, unknown names, rejected deployments) are returned
// as boolean results. Errors are only returned for storage and deployment faults.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"ocm.software/open-component-model/contribution/contribution"
	"ocm.software/open-component-model/contribution/deployment"
)

const tracerName = "ocm.software/open-component-model/contribution/coordinator"

var (
	// ErrNotInitialized is returned by storage operations while no storage is ready.
	ErrNotInitialized = errors.New("contribution storage is not initialized")
	// ErrNoStorageFactory is returned by Initialize if no storage factory was configured.
	ErrNoStorageFactory = fmt.Errorf("%w: no storage factory configured", ErrNotInitialized)
	// ErrPanicked wraps a panic raised while Start or Stop handled a single contribution.
	ErrPanicked = errors.New("panicked")
)

// StorageFactory creates the storage backend used when the coordinator is initialized.
type StorageFactory func(ctx context.Context) (contribution.Storage, error)

// Coordinator orchestrates a contribution.Storage and a deployment.RuntimeContext.
// It is safe for concurrent use.
type Coordinator struct {
	runtime deployment.RuntimeContext

	// storage is nil while uninitialized. Readers only ever Load it.
	storage atomic.Pointer[storageHandle]

	// lifecycleMu serializes Initialize, Shutdown, Activate and Deactivate.
	lifecycleMu sync.Mutex
	factory     StorageFactory
	unsubscribe func()

	// deployMu is the single critical section for install and uninstall.
	// Read operations never take it.
	deployMu sync.Mutex

	recovery   singleflight.Group
	newBackOff func() backoff.BackOff
	logger     *slog.Logger
	tracer     trace.Tracer
}

type storageHandle struct {
	storage contribution.Storage
}

type Option func(*Coordinator)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Coordinator) {
		c.tracer = tp.Tracer(tracerName)
	}
}

// WithRecoveryBackOff sets the retry policy for creating the storage during recovery.
func WithRecoveryBackOff(newBackOff func() backoff.BackOff) Option {
	return func(c *Coordinator) {
		c.newBackOff = newBackOff
	}
}

// WithStorage initializes the coordinator with an existing storage.
func WithStorage(s contribution.Storage) Option {
	return func(c *Coordinator) {
		c.storage.Store(&storageHandle{storage: s})
	}
}

// DefaultRecoveryBackOff retries with exponential delays for up to 30 seconds.
func DefaultRecoveryBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxElapsedTime = 30 * time.Second
	return b
}

// New creates an uninitialized Coordinator. The factory is used by Initialize and by recovery.
func New(rc deployment.RuntimeContext, factory StorageFactory, opts ...Option) *Coordinator {
	c := &Coordinator{
		runtime:    rc,
		factory:    factory,
		newBackOff: DefaultRecoveryBackOff,
		tracer:     otel.GetTracerProvider().Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

func (c *Coordinator) currentStorage() (contribution.Storage, error) {
	h := c.storage.Load()
	if h == nil {
		return nil, ErrNotInitialized
	}
	return h.storage, nil
}

// List returns all persisted contributions in storage order.
func (c *Coordinator) List(ctx context.Context) ([]*contribution.Contribution, error) {
	s, err := c.currentStorage()
	if err != nil {
		return nil, err
	}
	return s.List(ctx)
}

// Get returns the persisted contribution with the given name.
func (c *Coordinator) Get(ctx context.Context, name string) (*contribution.Contribution, bool, error) {
	s, err := c.currentStorage()
	if err != nil {
		return nil, false, err
	}
	return s.Get(ctx, name)
}

// AddContribution persists c without installing it. It returns false if the name is taken.
func (c *Coordinator) AddContribution(ctx context.Context, contrib *contribution.Contribution) (*contribution.Contribution, bool, error) {
	s, err := c.currentStorage()
	if err != nil {
		return nil, false, err
	}
	stored, ok, err := s.Add(ctx, contrib)
	if err != nil {
		return nil, false, fmt.Errorf("adding contribution %q failed: %w", contrib.Name, err)
	}
	if !ok {
		c.logger.DebugContext(ctx, "contribution already persisted", slog.String("name", contrib.Name))
	}
	return stored, ok, nil
}

// AddAndInstallContribution persists c and installs it. Nothing is installed if the name
// is taken. If the install fails the persisted record is kept.
func (c *Coordinator) AddAndInstallContribution(ctx context.Context, contrib *contribution.Contribution) (*contribution.Contribution, bool, error) {
	stored, ok, err := c.AddContribution(ctx, contrib)
	if err != nil || !ok {
		return stored, ok, err
	}
	installed, err := c.InstallContribution(ctx, stored)
	if err != nil {
		return stored, true, err
	}
	if !installed {
		c.logger.WarnContext(ctx, "contribution persisted but deployment was rejected", slog.String("name", stored.Name))
	}
	return stored, true, nil
}

// RemoveContribution deletes the persisted record only. A live deployment is left untouched.
func (c *Coordinator) RemoveContribution(ctx context.Context, contrib *contribution.Contribution) (bool, error) {
	s, err := c.currentStorage()
	if err != nil {
		return false, err
	}
	removed, err := s.Remove(ctx, contrib)
	if err != nil {
		return false, fmt.Errorf("removing contribution %q failed: %w", contrib.Name, err)
	}
	return removed, nil
}

// RemoveAndUninstallContribution uninstalls c and then removes it, even if the uninstall failed.
// The result reports the removal; an uninstall fault is joined into the returned error.
func (c *Coordinator) RemoveAndUninstallContribution(ctx context.Context, contrib *contribution.Contribution) (bool, error) {
	_, uninstallErr := c.UninstallContribution(ctx, contrib)
	if uninstallErr != nil {
		c.logger.WarnContext(ctx, "uninstall failed, removing contribution anyway",
			slog.String("name", contrib.Name), slog.String("error", uninstallErr.Error()))
	}
	removed, removeErr := c.RemoveContribution(ctx, contrib)
	return removed, errors.Join(uninstallErr, removeErr)
}

// UpdateContribution replaces the persisted record. The live deployment is not touched,
// callers reinstall if the change should become live.
func (c *Coordinator) UpdateContribution(ctx context.Context, contrib *contribution.Contribution) (*contribution.Contribution, bool, error) {
	s, err := c.currentStorage()
	if err != nil {
		return nil, false, err
	}
	updated, ok, err := s.Update(ctx, contrib)
	if err != nil {
		return nil, false, fmt.Errorf("updating contribution %q failed: %w", contrib.Name, err)
	}
	return updated, ok, nil
}

// InstallContribution deploys c into the runtime context. It returns false if the runtime
// declined the deployment. Only one install or uninstall runs at a time.
func (c *Coordinator) InstallContribution(ctx context.Context, contrib *contribution.Contribution) (_ bool, err error) {
	ctx, span := c.tracer.Start(ctx, "InstallContribution", trace.WithAttributes(attribute.String("contribution.name", contrib.Name)))
	defer func() { endSpan(span, err) }()

	c.deployMu.Lock()
	defer c.deployMu.Unlock()

	reg, ok, err := c.runtime.Deploy(ctx, contrib)
	if err != nil {
		installTotal.WithLabelValues(resultFailed).Inc()
		return false, fmt.Errorf("installing contribution %q failed: %w", contrib.Name, err)
	}
	if !ok {
		installTotal.WithLabelValues(resultRejected).Inc()
		span.SetAttributes(attribute.Bool("contribution.rejected", true))
		c.logger.DebugContext(ctx, "deployment rejected", slog.String("name", contrib.Name))
		return false, nil
	}
	reg.SetPersistent(true)
	installTotal.WithLabelValues(resultSuccess).Inc()
	c.logger.InfoContext(ctx, "contribution installed", slog.String("name", contrib.Name), slog.String("component", reg.Name()))
	return true, nil
}

// UninstallContribution always asks the runtime context to undeploy c.
func (c *Coordinator) UninstallContribution(ctx context.Context, contrib *contribution.Contribution) (_ bool, err error) {
	ctx, span := c.tracer.Start(ctx, "UninstallContribution", trace.WithAttributes(attribute.String("contribution.name", contrib.Name)))
	defer func() { endSpan(span, err) }()

	c.deployMu.Lock()
	defer c.deployMu.Unlock()

	if err := c.runtime.Undeploy(ctx, contrib); err != nil {
		uninstallTotal.WithLabelValues(resultFailed).Inc()
		return false, fmt.Errorf("uninstalling contribution %q failed: %w", contrib.Name, err)
	}
	uninstallTotal.WithLabelValues(resultSuccess).Inc()
	c.logger.InfoContext(ctx, "contribution uninstalled", slog.String("name", contrib.Name))
	return true, nil
}

// IsInstalled asks the runtime context whether c is currently deployed.
func (c *Coordinator) IsInstalled(ctx context.Context, contrib *contribution.Contribution) (bool, error) {
	deployed, err := c.runtime.IsDeployed(ctx, contrib)
	if err != nil {
		return false, fmt.Errorf("querying deployment of contribution %q failed: %w", contrib.Name, err)
	}
	return deployed, nil
}

// IsPersisted reports whether storage holds a contribution with the given name.
func (c *Coordinator) IsPersisted(ctx context.Context, name string) (bool, error) {
	_, ok, err := c.Get(ctx, name)
	return ok, err
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
