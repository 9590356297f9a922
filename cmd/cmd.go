package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"ocm.software/open-component-model/contribution/cmd/add"
	"ocm.software/open-component-model/contribution/cmd/get"
	ccmd "ocm.software/open-component-model/contribution/cmd/internal/cmd"
	"ocm.software/open-component-model/contribution/cmd/remove"
	"ocm.software/open-component-model/contribution/cmd/serve"
	"ocm.software/open-component-model/contribution/cmd/setup/hooks"
	"ocm.software/open-component-model/contribution/cmd/update"
	"ocm.software/open-component-model/contribution/internal/config"
	"ocm.software/open-component-model/contribution/internal/flags/log"
)

// Execute runs the root command. It is called by main.main().
func Execute() {
	if err := New().Execute(); err != nil {
		os.Exit(1)
	}
}

func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contributions [sub-command]",
		Short: "Manage persisted configuration contributions and their deployments",
		Long: `Manage configuration contributions that are persisted in a storage backend
and installed into a running host. Contributions survive restarts of the host:
on startup every enabled contribution is installed again.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		PersistentPreRunE: hooks.PreRunE,
		DisableAutoGenTag: true,
		SilenceUsage:      true,
	}

	cmd.PersistentFlags().String(ccmd.ConfigFlag, "", `supply configuration by a given YAML file.
If not set, $`+config.EnvConfig+` or config.yaml in the user configuration directory is used.`)
	cmd.PersistentFlags().String(config.StorageTypeFlag, "", `storage backend type, one of filesystem, sqlite, s3, memory or a versioned type such as FileSystemStorage/v1alpha1`)
	cmd.PersistentFlags().String(config.StoragePathFlag, "", `location of file based storage backends`)
	log.RegisterLoggingFlags(cmd.PersistentFlags())

	cmd.AddCommand(get.New())
	cmd.AddCommand(add.New())
	cmd.AddCommand(update.New())
	cmd.AddCommand(remove.New())
	cmd.AddCommand(serve.New())
	return cmd
}
