package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var (
		kind       string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "submit <deck>",
		Short: "Upload a slide deck and start its pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			view, err := client.SubmitJob(cmd.Context(), kind, args[0])
			if err != nil {
				return fmt.Errorf("submit deck: %w", err)
			}
			if jsonOutput {
				return writeJSON(cmd, view)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Job %d accepted (%s pipeline, %d stages)\n", view.ID, view.Kind, len(view.Stages))
			fmt.Fprintf(out, "Track it with: deckforge jobs show %d\n", view.ID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&kind, "kind", "k", "slidedeck", "Pipeline kind to run")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit machine-readable JSON")
	return cmd
}
