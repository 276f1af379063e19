package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"dicomdisc/internal/jobstore"
	"dicomdisc/internal/logging"
	"dicomdisc/internal/staging"
)

func newStagingCommand(ctx *commandContext) *cobra.Command {
	stagingCmd := &cobra.Command{
		Use:   "staging",
		Short: "Manage staging directories",
	}

	stagingCmd.AddCommand(newStagingListCommand(ctx))
	stagingCmd.AddCommand(newStagingCleanCommand(ctx))

	return stagingCmd
}

func newStagingListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List staging directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			stagingDir := strings.TrimSpace(cfg.Paths.StagingDir)
			dirs, err := staging.ListDirectories(stagingDir)
			if err != nil {
				return fmt.Errorf("list staging directories: %w", err)
			}

			var totalSize int64
			for _, dir := range dirs {
				totalSize += dir.Size
			}
			if ctx.JSONMode() {
				if dirs == nil {
					dirs = []staging.DirInfo{}
				}
				return writeJSON(cmd, map[string]any{
					"staging_dir":      stagingDir,
					"directories":      dirs,
					"total_size_bytes": totalSize,
				})
			}

			if len(dirs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No staging directories found")
				return nil
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Staging directory: %s\n\n", stagingDir)

			rows := make([][]string, 0, len(dirs))
			for _, dir := range dirs {
				age := time.Since(dir.ModTime).Truncate(time.Minute)
				rows = append(rows, []string{
					shortID(dir.Name),
					formatDuration(age),
					fmt.Sprintf("%d", dir.Files),
					logging.FormatBytes(dir.Size),
					yesNo(dir.Locked),
				})
			}

			printTable(out, []column{
				textColumn("Job"),
				numericColumn("Age"),
				numericColumn("Files"),
				numericColumn("Size"),
				textColumn("In use"),
			}, rows)
			fmt.Fprintf(out, "Total: %d directories, %s\n", len(dirs), logging.FormatBytes(totalSize))
			return nil
		},
	}
}

func newStagingCleanCommand(ctx *commandContext) *cobra.Command {
	var cleanAll bool
	var stale bool

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove orphaned staging directories",
		Long: `Remove staging directories not associated with a running export job.

By default, only removes directories whose job is no longer active in the job
store (leftovers from crashed or interrupted exports).

Use --stale to remove directories older than export.stale_staging_hours, and
--all to remove every staging directory. Directories locked by a running
export are always kept.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}

			var result staging.CleanStaleResult
			label := "orphaned"
			switch {
			case cleanAll:
				label = "staging"
				result = staging.CleanOrphaned(cmd.Context(), cfg.Paths.StagingDir, nil, logger)
			case stale:
				label = "stale"
				maxAge := time.Duration(cfg.Export.StaleStagingHours) * time.Hour
				result = staging.CleanStale(cmd.Context(), cfg.Paths.StagingDir, maxAge, logger)
			default:
				err = ctx.withStore(func(store *jobstore.Store) error {
					active, err := store.ActiveJobIDs(cmd.Context())
					if err != nil {
						return err
					}
					result = staging.CleanOrphaned(cmd.Context(), cfg.Paths.StagingDir, active, logger)
					return nil
				})
				if err != nil {
					return err
				}
			}

			if ctx.JSONMode() {
				return writeStagingCleanJSON(cmd, result)
			}
			return printStagingCleanResult(cmd, result, label)
		},
	}

	cmd.Flags().BoolVar(&cleanAll, "all", false, "Remove all staging directories not locked by a running export")
	cmd.Flags().BoolVar(&stale, "stale", false, "Remove staging directories older than the configured age")
	cmd.MarkFlagsMutuallyExclusive("all", "stale")

	return cmd
}

func printStagingCleanResult(cmd *cobra.Command, result staging.CleanStaleResult, label string) error {
	out := cmd.OutOrStdout()
	if len(result.Removed) == 0 && len(result.Errors) == 0 {
		fmt.Fprintf(out, "No %s directories to clean\n", label)
		return nil
	}
	if len(result.Errors) > 0 {
		fmt.Fprintf(out, "Removed %d %s directories, %d errors\n", len(result.Removed), label, len(result.Errors))
		for _, e := range result.Errors {
			fmt.Fprintf(out, "  Error: %s: %v\n", e.Path, e.Error)
		}
		return nil
	}
	fmt.Fprintf(out, "Removed %d %s directories\n", len(result.Removed), label)
	if len(result.Skipped) > 0 {
		fmt.Fprintf(out, "Kept %d directories in use\n", len(result.Skipped))
	}
	return nil
}

func formatDuration(d time.Duration) string {
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	days := int(d.Hours() / 24)
	return fmt.Sprintf("%dd", days)
}

func writeStagingCleanJSON(cmd *cobra.Command, result staging.CleanStaleResult) error {
	errs := make([]string, 0, len(result.Errors))
	for _, e := range result.Errors {
		errs = append(errs, fmt.Sprintf("%s: %v", e.Path, e.Error))
	}
	return writeJSON(cmd, map[string]any{
		"removed": len(result.Removed),
		"skipped": len(result.Skipped),
		"errors":  errs,
	})
}
