package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"deckforge/internal/api"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status, job counts, and worker readiness",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			status, err := client.Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("fetch daemon status: %w", err)
			}
			if jsonOutput {
				return writeJSON(cmd, status)
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			for _, line := range renderStatus(status, colorize) {
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit machine-readable JSON")
	return cmd
}

func renderStatus(status *api.StatusView, colorize bool) []string {
	lines := renderSectionHeader("Daemon", colorize)

	daemonKind := statusError
	daemonMessage := "not running"
	if status.Running {
		daemonKind = statusOK
		daemonMessage = "running"
	}
	lines = append(lines, renderStatusLine("State", daemonKind, daemonMessage, colorize))
	lines = append(lines, renderStatusLine("Pipelines", statusInfo, strings.Join(status.Pipelines, ", "), colorize))

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Jobs", colorize)...)
	if len(status.JobCounts) == 0 {
		lines = append(lines, statusIndent+"No jobs recorded")
	} else {
		lines = append(lines, strings.Split(renderTable(
			[]string{"Status", "Count"},
			buildJobCountRows(status.JobCounts),
			[]columnAlignment{alignLeft, alignRight},
		), "\n")...)
	}

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Workers", colorize)...)
	if len(status.Workers) == 0 {
		lines = append(lines, statusIndent+"No workers configured")
	}
	for _, worker := range status.Workers {
		kind := statusOK
		message := "ready"
		if !worker.Ready {
			kind = statusError
			message = worker.Detail
			if message == "" {
				message = "unreachable"
			}
		}
		lines = append(lines, renderStatusLine(worker.Name, kind, message, colorize))
	}
	return lines
}

func buildJobCountRows(counts map[string]int) [][]string {
	statuses := make([]string, 0, len(counts))
	for status := range counts {
		statuses = append(statuses, status)
	}
	sort.Strings(statuses)
	rows := make([][]string, 0, len(statuses))
	for _, status := range statuses {
		rows = append(rows, []string{status, strconv.Itoa(counts[status])})
	}
	return rows
}
