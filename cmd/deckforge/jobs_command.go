package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"deckforge/internal/api"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage pipeline jobs",
	}

	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobsShowCommand(ctx))
	jobsCmd.AddCommand(newJobsRetryCommand(ctx))
	jobsCmd.AddCommand(newJobsCancelCommand(ctx))
	jobsCmd.AddCommand(newJobsRemoveCommand(ctx))

	return jobsCmd
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List your jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			jobs, err := client.ListJobs(cmd.Context())
			if err != nil {
				return fmt.Errorf("list jobs: %w", err)
			}
			if jsonOutput {
				return writeJSON(cmd, jobs)
			}
			out := cmd.OutOrStdout()
			if len(jobs) == 0 {
				fmt.Fprintln(out, "No jobs")
				return nil
			}
			rows := make([][]string, 0, len(jobs))
			for _, j := range jobs {
				rows = append(rows, []string{
					strconv.FormatInt(j.ID, 10),
					j.Kind,
					j.Status,
					fmt.Sprintf("%d%%", j.Progress),
					j.SourceName,
					j.UpdatedAt.Local().Format(time.DateTime),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "Kind", "Status", "Progress", "Source", "Updated"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit machine-readable JSON")
	return cmd
}

func newJobsShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one job with its stage breakdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			view, err := client.GetJob(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("fetch job %d: %w", id, err)
			}
			if jsonOutput {
				return writeJSON(cmd, view)
			}
			out := cmd.OutOrStdout()
			for _, line := range renderJobDetail(view) {
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit machine-readable JSON")
	return cmd
}

func newJobsRetryCommand(ctx *commandContext) *cobra.Command {
	var stageName string

	cmd := &cobra.Command{
		Use:   "retry <id>",
		Short: "Retry a failed stage of a failed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			if strings.TrimSpace(stageName) == "" {
				return fmt.Errorf("--stage is required")
			}
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			view, err := client.RetryJob(cmd.Context(), id, stageName)
			if err != nil {
				return fmt.Errorf("retry job %d: %w", id, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job %d resumed from stage %s\n", view.ID, stageName)
			return nil
		},
	}

	cmd.Flags().StringVar(&stageName, "stage", "", "Failed stage to re-execute")
	return cmd
}

func newJobsCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Request cancellation at the next stage boundary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			if err := client.CancelJob(cmd.Context(), id); err != nil {
				return fmt.Errorf("cancel job %d: %w", id, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cancellation requested for job %d\n", id)
			return nil
		},
	}
}

func newJobsRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a finished job and its records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			if err := client.RemoveJob(cmd.Context(), id); err != nil {
				return fmt.Errorf("remove job %d: %w", id, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed job %d\n", id)
			return nil
		},
	}
}

func parseJobID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid job id %q", raw)
	}
	return id, nil
}

func renderJobDetail(view *api.JobView) []string {
	lines := []string{
		fmt.Sprintf("Job %d (%s)", view.ID, view.Kind),
		fmt.Sprintf("  Status:   %s (%d%%)", view.Status, view.Progress),
	}
	if view.SourceName != "" {
		lines = append(lines, fmt.Sprintf("  Source:   %s", view.SourceName))
	}
	if view.BatchID != "" {
		lines = append(lines, fmt.Sprintf("  Batch:    %s", view.BatchID))
	}
	if view.Error != "" {
		lines = append(lines, fmt.Sprintf("  Error:    %s", view.Error))
	}
	if len(view.Result) > 0 {
		lines = append(lines, fmt.Sprintf("  Result:   %s", formatPayload(view.Result)))
	}

	if len(view.Stages) > 0 {
		rows := make([][]string, 0, len(view.Stages))
		for _, s := range view.Stages {
			rows = append(rows, []string{
				s.Name,
				s.Status,
				fmt.Sprintf("%d%%", s.Progress),
				strconv.Itoa(s.Attempt),
				formatStageDuration(s.DurationMs),
				s.Error,
			})
		}
		lines = append(lines, "")
		lines = append(lines, strings.Split(renderTable(
			[]string{"Stage", "Status", "Progress", "Attempt", "Duration", "Error"},
			rows,
			[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft},
		), "\n")...)
	}
	return lines
}

func formatStageDuration(ms int64) string {
	if ms <= 0 {
		return ""
	}
	return (time.Duration(ms) * time.Millisecond).String()
}

func formatPayload(payload map[string]any) string {
	if len(payload) == 0 {
		return ""
	}
	keys := make([]string, 0, len(payload))
	for key := range payload {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", key, payload[key]))
	}
	return strings.Join(parts, " ")
}
