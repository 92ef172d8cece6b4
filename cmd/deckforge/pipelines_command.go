package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newPipelinesCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "pipelines",
		Short: "List the pipeline kinds the daemon can run",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			views, err := client.Pipelines(cmd.Context())
			if err != nil {
				return fmt.Errorf("list pipelines: %w", err)
			}
			if jsonOutput {
				return writeJSON(cmd, views)
			}
			rows := make([][]string, 0, len(views))
			for _, view := range views {
				rows = append(rows, []string{view.Kind, strings.Join(view.Stages, " > "), view.Description})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Kind", "Stages", "Description"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit machine-readable JSON")
	return cmd
}
