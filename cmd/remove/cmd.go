package remove

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"ocm.software/open-component-model/contribution/cmd/setup"
	"ocm.software/open-component-model/contribution/contribution"
	"ocm.software/open-component-model/contribution/coordinator"
)

func New() *cobra.Command {
	return &cobra.Command{
		Use:     "remove {name}",
		Aliases: []string{"rm", "delete"},
		Short:   "Delete a persisted contribution",
		Long: `Delete a persisted contribution. A live deployment is not uninstalled,
but the contribution is no longer installed when the host starts.`,
		Args:              cobra.ExactArgs(1),
		RunE:              RemoveContribution,
		DisableAutoGenTag: true,
	}
}

func RemoveContribution(c *cobra.Command, args []string) error {
	name := args[0]
	return setup.WithStorage(c, func(ctx context.Context, coord *coordinator.Coordinator) error {
		removed, err := coord.RemoveContribution(ctx, contribution.New(name, nil))
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("contribution %q not found", name)
		}
		_, err = fmt.Fprintf(c.OutOrStdout(), "contribution %q removed\n", name)
		return err
	})
}
