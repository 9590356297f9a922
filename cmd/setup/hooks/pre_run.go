package hooks

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	ccmd "ocm.software/open-component-model/contribution/cmd/internal/cmd"
	"ocm.software/open-component-model/contribution/cmd/setup"
	"ocm.software/open-component-model/contribution/internal/config"
	cctx "ocm.software/open-component-model/contribution/internal/context"
	"ocm.software/open-component-model/contribution/internal/flags/log"
)

// PreRunE loads the configuration, installs the default logger and creates the
// components shared by all commands.
func PreRunE(cmd *cobra.Command, _ []string) error {
	path, err := cmd.Flags().GetString(ccmd.ConfigFlag)
	if err != nil {
		return fmt.Errorf("could not read config flag: %w", err)
	}
	cfg, err := config.Load(path, cmd.Flags())
	if err != nil {
		return fmt.Errorf("could not load configuration: %w", err)
	}

	if err := log.ApplyDefaults(cmd.Flags(), cfg.Log.Format, cfg.Log.Level); err != nil {
		return err
	}
	logger, err := log.GetBaseLogger(cmd)
	if err != nil {
		return fmt.Errorf("could not retrieve logger: %w", err)
	}
	slog.SetDefault(logger)

	cctx.Register(cmd)
	setup.Configuration(cmd, cfg)
	if err := setup.Coordinator(cmd); err != nil {
		return fmt.Errorf("could not setup coordinator: %w", err)
	}
	slog.DebugContext(cmd.Context(), "configuration loaded", slog.String("storage", cfg.Storage.String()))

	// inherit IO from parent if exists
	if parent := cmd.Parent(); parent != nil {
		cmd.SetOut(parent.OutOrStdout())
		cmd.SetErr(parent.ErrOrStderr())
	}
	return nil
}
