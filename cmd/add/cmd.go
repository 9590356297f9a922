package add

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"ocm.software/open-component-model/contribution/cmd/internal/cmd"
	"ocm.software/open-component-model/contribution/cmd/setup"
	"ocm.software/open-component-model/contribution/contribution"
	"ocm.software/open-component-model/contribution/coordinator"
	"ocm.software/open-component-model/contribution/internal/flags/file"
)

func New() *cobra.Command {
	c := &cobra.Command{
		Use:   "add {name}",
		Short: "Persist a new contribution",
		Long: `Persist a new contribution without installing it.
The contribution is installed the next time the host starts, unless it is disabled.`,
		Args: cobra.ExactArgs(1),
		Example: strings.TrimSpace(`
add my-datasource --file ./datasource.xml
add my-datasource --file - --description "primary database" < ./datasource.xml
add experimental --file ./experimental.xml --disabled
`),
		RunE:              AddContribution,
		DisableAutoGenTag: true,
	}
	file.VarP(c.Flags(), cmd.FileFlag, "f", "", "file holding the contribution content, - reads from stdin")
	c.Flags().String(cmd.DescriptionFlag, "", "human readable description of the contribution")
	c.Flags().Bool(cmd.DisabledFlag, false, "do not install the contribution when the host starts")
	return c
}

func AddContribution(c *cobra.Command, args []string) error {
	contrib, err := fromFlags(c, args[0])
	if err != nil {
		return err
	}

	return setup.WithStorage(c, func(ctx context.Context, coord *coordinator.Coordinator) error {
		_, ok, err := coord.AddContribution(ctx, contrib)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("contribution %q already exists", contrib.Name)
		}
		_, err = fmt.Fprintf(c.OutOrStdout(), "contribution %q added\n", contrib.Name)
		return err
	})
}

func fromFlags(c *cobra.Command, name string) (*contribution.Contribution, error) {
	if err := contribution.ValidateName(name); err != nil {
		return nil, err
	}
	contentFile, err := file.Get(c.Flags(), cmd.FileFlag)
	if err != nil {
		return nil, fmt.Errorf("getting file flag failed: %w", err)
	}
	description, err := c.Flags().GetString(cmd.DescriptionFlag)
	if err != nil {
		return nil, fmt.Errorf("getting description flag failed: %w", err)
	}
	disabled, err := c.Flags().GetBool(cmd.DisabledFlag)
	if err != nil {
		return nil, fmt.Errorf("getting disabled flag failed: %w", err)
	}

	contrib := &contribution.Contribution{Name: name, Description: description, Disabled: disabled}
	if contentFile.String() != "" {
		if contrib.Content, err = contentFile.ReadAll(c.InOrStdin()); err != nil {
			return nil, fmt.Errorf("reading contribution content failed: %w", err)
		}
	}
	return contrib, nil
}
