package update

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"ocm.software/open-component-model/contribution/cmd/internal/cmd"
	"ocm.software/open-component-model/contribution/cmd/setup"
	"ocm.software/open-component-model/contribution/coordinator"
	"ocm.software/open-component-model/contribution/internal/flags/file"
)

func New() *cobra.Command {
	c := &cobra.Command{
		Use:   "update {name}",
		Short: "Change a persisted contribution",
		Long: `Change a persisted contribution. Only attributes passed as flags are changed.
A live deployment of the contribution keeps running with the previous content.`,
		Args: cobra.ExactArgs(1),
		Example: strings.TrimSpace(`
update my-datasource --file ./datasource-v2.xml
update experimental --disabled=false
`),
		RunE:              UpdateContribution,
		DisableAutoGenTag: true,
	}
	file.VarP(c.Flags(), cmd.FileFlag, "f", "", "file holding the new content, - reads from stdin")
	c.Flags().String(cmd.DescriptionFlag, "", "new description")
	c.Flags().Bool(cmd.DisabledFlag, false, "whether the contribution is installed when the host starts")
	return c
}

func UpdateContribution(c *cobra.Command, args []string) error {
	name := args[0]
	return setup.WithStorage(c, func(ctx context.Context, coord *coordinator.Coordinator) error {
		contrib, ok, err := coord.Get(ctx, name)
		if err != nil {
			return fmt.Errorf("getting contribution failed: %w", err)
		}
		if !ok {
			return fmt.Errorf("contribution %q not found", name)
		}

		flags := c.Flags()
		if flags.Changed(cmd.FileFlag) {
			contentFile, err := file.Get(flags, cmd.FileFlag)
			if err != nil {
				return fmt.Errorf("getting file flag failed: %w", err)
			}
			if contrib.Content, err = contentFile.ReadAll(c.InOrStdin()); err != nil {
				return fmt.Errorf("reading contribution content failed: %w", err)
			}
		}
		if flags.Changed(cmd.DescriptionFlag) {
			if contrib.Description, err = flags.GetString(cmd.DescriptionFlag); err != nil {
				return fmt.Errorf("getting description flag failed: %w", err)
			}
		}
		if flags.Changed(cmd.DisabledFlag) {
			if contrib.Disabled, err = flags.GetBool(cmd.DisabledFlag); err != nil {
				return fmt.Errorf("getting disabled flag failed: %w", err)
			}
		}

		if _, ok, err = coord.UpdateContribution(ctx, contrib); err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("contribution %q was removed concurrently", name)
		}
		_, err = fmt.Fprintf(c.OutOrStdout(), "contribution %q updated\n", name)
		return err
	})
}
