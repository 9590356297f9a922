package coordinator

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"ocm.software/open-component-model/contribution/contribution"
	"ocm.software/open-component-model/contribution/lifecycle"
)

// Ready reports whether a storage is initialized.
func (c *Coordinator) Ready() bool {
	return c.storage.Load() != nil
}

// SetStorageFactory replaces the factory used by the next Initialize or recovery.
// An already initialized storage is kept until Shutdown.
func (c *Coordinator) SetStorageFactory(factory StorageFactory) {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	c.factory = factory
}

// Initialize creates the storage if none is ready. Calling it on a ready coordinator does nothing.
func (c *Coordinator) Initialize(ctx context.Context) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	return c.initializeLocked(ctx)
}

func (c *Coordinator) initializeLocked(ctx context.Context) error {
	if c.Ready() {
		return nil
	}
	if c.factory == nil {
		return ErrNoStorageFactory
	}
	s, err := c.factory(ctx)
	if err != nil {
		return fmt.Errorf("creating contribution storage failed: %w", err)
	}
	c.storage.Store(&storageHandle{storage: s})
	storageReady.Set(1)
	c.logger.DebugContext(ctx, "contribution storage initialized", slog.String("storage", fmt.Sprintf("%T", s)))
	return nil
}

// Shutdown releases the storage. Calling it on an uninitialized coordinator does nothing.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	return c.shutdownLocked(ctx)
}

func (c *Coordinator) shutdownLocked(ctx context.Context) error {
	h := c.storage.Swap(nil)
	if h == nil {
		return nil
	}
	storageReady.Set(0)
	c.logger.DebugContext(ctx, "contribution storage released")
	return closeStorage(h.storage)
}

func closeStorage(s contribution.Storage) error {
	if closer, ok := s.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			return fmt.Errorf("closing contribution storage failed: %w", err)
		}
	}
	return nil
}

// Activate initializes the storage and subscribes to the host started signal of src.
// Activating an active coordinator does not subscribe twice.
func (c *Coordinator) Activate(ctx context.Context, src lifecycle.Source) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	if err := c.initializeLocked(ctx); err != nil {
		return err
	}
	if c.unsubscribe == nil && src != nil {
		c.unsubscribe = src.OnHostStarted(c.OnHostStarted)
	}
	return nil
}

// Deactivate unsubscribes from the host lifecycle and releases the storage.
// Live deployments are not touched.
func (c *Coordinator) Deactivate(ctx context.Context) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
	return c.shutdownLocked(ctx)
}
