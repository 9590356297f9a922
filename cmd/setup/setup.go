package setup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"

	"ocm.software/open-component-model/contribution/contribution"
	"ocm.software/open-component-model/contribution/coordinator"
	"ocm.software/open-component-model/contribution/internal/config"
	cctx "ocm.software/open-component-model/contribution/internal/context"
	"ocm.software/open-component-model/contribution/registry"
	"ocm.software/open-component-model/contribution/storage"
)

func Configuration(cmd *cobra.Command, cfg *config.Config) {
	cmd.SetContext(cctx.WithConfiguration(cmd.Context(), cfg))
}

// Coordinator creates the storage registry, the in-process runtime context and an
// uninitialized coordinator resolving the configured storage on Initialize.
func Coordinator(cmd *cobra.Command) error {
	cfg := cctx.FromContext(cmd.Context()).Configuration()
	if cfg == nil {
		return fmt.Errorf("could not retrieve configuration from context")
	}

	storages := storage.Default()
	reg := registry.New()
	factory := func(ctx context.Context) (contribution.Storage, error) {
		return storages.New(ctx, cfg.Storage)
	}
	c := coordinator.New(reg, factory,
		coordinator.WithLogger(slog.Default()),
		coordinator.WithRecoveryBackOff(recoveryBackOff(cfg.Recovery)),
	)

	ctx := cctx.WithStorageRegistry(cmd.Context(), storages)
	ctx = cctx.WithRegistry(ctx, reg)
	ctx = cctx.WithCoordinator(ctx, c)
	cmd.SetContext(ctx)
	return nil
}

func recoveryBackOff(cfg config.RecoveryConfig) func() backoff.BackOff {
	return func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		if cfg.InitialInterval > 0 {
			b.InitialInterval = cfg.InitialInterval
		}
		b.MaxElapsedTime = cfg.MaxElapsedTime
		return b
	}
}

// WithStorage initializes the coordinator of cmd, runs fn and releases the storage again.
// It never subscribes to a host lifecycle and fn is expected to only use storage operations.
func WithStorage(cmd *cobra.Command, fn func(ctx context.Context, c *coordinator.Coordinator) error) (err error) {
	c := cctx.FromContext(cmd.Context()).Coordinator()
	if c == nil {
		return fmt.Errorf("could not retrieve coordinator from context")
	}
	ctx := cmd.Context()
	if err := c.Initialize(ctx); err != nil {
		return fmt.Errorf("could not initialize contribution storage: %w", err)
	}
	defer func() {
		err = errors.Join(err, c.Shutdown(ctx))
	}()
	return fn(ctx, c)
}
