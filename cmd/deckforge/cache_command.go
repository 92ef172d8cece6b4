package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the stage result cache",
	}

	cacheCmd.AddCommand(newCacheStatsCommand(ctx))
	cacheCmd.AddCommand(newCacheInvalidateCommand(ctx))

	return cacheCmd
}

func newCacheStatsCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache occupancy and hit counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			stats, err := client.CacheStats(cmd.Context())
			if err != nil {
				return fmt.Errorf("fetch cache stats: %w", err)
			}
			if jsonOutput {
				return writeJSON(cmd, stats)
			}
			rows := [][]string{
				{"Entries", fmt.Sprintf("%d / %d", stats.Entries, stats.MaxEntries)},
				{"Hits", strconv.FormatInt(stats.Hits, 10)},
				{"Misses", strconv.FormatInt(stats.Misses, 10)},
				{"Evictions", strconv.FormatInt(stats.Evictions, 10)},
				{"Expirations", strconv.FormatInt(stats.Expirations, 10)},
				{"Durable tier", stats.DurableBackend},
				{"Durable errors", strconv.FormatInt(stats.DurableErrors, 10)},
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Metric", "Value"},
				rows,
				[]columnAlignment{alignLeft, alignRight},
			))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit machine-readable JSON")
	return cmd
}

func newCacheInvalidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "invalidate <pattern>",
		Short: "Remove cache entries whose keys match a regular expression",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pattern := strings.TrimSpace(args[0])
			if pattern == "" {
				return fmt.Errorf("pattern must not be empty")
			}
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			removed, err := client.CacheInvalidate(cmd.Context(), pattern)
			if err != nil {
				return fmt.Errorf("invalidate cache: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d cache entries\n", removed)
			return nil
		},
	}
}
