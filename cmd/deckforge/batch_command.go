package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"deckforge/internal/api"
)

func newBatchCommand(ctx *commandContext) *cobra.Command {
	batchCmd := &cobra.Command{
		Use:   "batch",
		Short: "Submit and track groups of decks",
	}

	batchCmd.AddCommand(newBatchSubmitCommand(ctx))
	batchCmd.AddCommand(newBatchStatusCommand(ctx))
	batchCmd.AddCommand(newBatchCancelCommand(ctx))

	return batchCmd
}

func newBatchSubmitCommand(ctx *commandContext) *cobra.Command {
	var (
		kind       string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "submit <deck>...",
		Short: "Upload several decks as one tracked batch",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			view, err := client.SubmitBatch(cmd.Context(), kind, args)
			if err != nil {
				return fmt.Errorf("submit batch: %w", err)
			}
			if jsonOutput {
				return writeJSON(cmd, view)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Batch %s accepted with %d jobs\n", view.BatchID, view.Total)
			fmt.Fprintf(out, "Track it with: deckforge batch status %s\n", view.BatchID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&kind, "kind", "k", "slidedeck", "Pipeline kind to run")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit machine-readable JSON")
	return cmd
}

func newBatchStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status <batch-id>",
		Short: "Show aggregate progress for a batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			view, err := client.GetBatch(cmd.Context(), strings.TrimSpace(args[0]))
			if err != nil {
				return fmt.Errorf("fetch batch: %w", err)
			}
			if jsonOutput {
				return writeJSON(cmd, view)
			}
			out := cmd.OutOrStdout()
			for _, line := range renderBatchDetail(view) {
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit machine-readable JSON")
	return cmd
}

func newBatchCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <batch-id>",
		Short: "Request cancellation of every unfinished job in a batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			cancelled, err := client.CancelBatch(cmd.Context(), strings.TrimSpace(args[0]))
			if err != nil {
				return fmt.Errorf("cancel batch: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cancellation requested for %d jobs\n", cancelled)
			return nil
		},
	}
}

func renderBatchDetail(view *api.BatchView) []string {
	settled := "in progress"
	if view.Settled {
		settled = "settled"
	}
	lines := []string{
		fmt.Sprintf("Batch %s (%s, %d%%)", view.BatchID, settled, view.OverallProgress),
		fmt.Sprintf("  Total:     %d", view.Total),
		fmt.Sprintf("  Pending:   %d", view.Pending),
		fmt.Sprintf("  Running:   %d", view.Running),
		fmt.Sprintf("  Completed: %d", view.Completed),
		fmt.Sprintf("  Failed:    %d", view.Failed),
		fmt.Sprintf("  Cancelled: %d", view.Cancelled),
	}
	if len(view.Jobs) > 0 {
		rows := make([][]string, 0, len(view.Jobs))
		for _, j := range view.Jobs {
			rows = append(rows, []string{
				fmt.Sprintf("%d", j.ID),
				j.Status,
				fmt.Sprintf("%d%%", j.Progress),
				j.SourceName,
			})
		}
		lines = append(lines, "")
		lines = append(lines, strings.Split(renderTable(
			[]string{"Job", "Status", "Progress", "Source"},
			rows,
			[]columnAlignment{alignRight, alignLeft, alignRight, alignLeft},
		), "\n")...)
	}
	return lines
}
