package get

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"ocm.software/open-component-model/contribution/cmd/internal/cmd"
	"ocm.software/open-component-model/contribution/cmd/setup"
	"ocm.software/open-component-model/contribution/contribution"
	"ocm.software/open-component-model/contribution/coordinator"
	"ocm.software/open-component-model/contribution/internal/flags/enum"
)

func New() *cobra.Command {
	c := &cobra.Command{
		Use:     "get [name]",
		Aliases: []string{"list", "ls"},
		Short:   "Show persisted contributions",
		Args:    cobra.MaximumNArgs(1),
		Example: strings.TrimSpace(`
get
get my-datasource -o yaml
get --storage-type sqlite --storage-path ./contributions.db -o json
`),
		RunE:              GetContributions,
		DisableAutoGenTag: true,
	}
	enum.VarP(c.Flags(), cmd.OutputFlag, "o", []string{"table", "yaml", "json"}, "output format of the contributions")
	return c
}

func GetContributions(c *cobra.Command, args []string) error {
	output, err := enum.Get(c.Flags(), cmd.OutputFlag)
	if err != nil {
		return fmt.Errorf("getting output flag failed: %w", err)
	}

	return setup.WithStorage(c, func(ctx context.Context, coord *coordinator.Coordinator) error {
		var list []*contribution.Contribution
		if len(args) == 1 {
			contrib, ok, err := coord.Get(ctx, args[0])
			if err != nil {
				return fmt.Errorf("getting contribution failed: %w", err)
			}
			if !ok {
				return fmt.Errorf("contribution %q not found", args[0])
			}
			list = append(list, contrib)
		} else if list, err = coord.List(ctx); err != nil {
			return fmt.Errorf("listing contributions failed: %w", err)
		}

		reader, size, err := encodeContributions(output, list)
		if err != nil {
			return fmt.Errorf("generating output failed: %w", err)
		}
		if _, err := io.CopyN(c.OutOrStdout(), reader, size); err != nil {
			return fmt.Errorf("writing contributions failed: %w", err)
		}
		return nil
	})
}
