package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"dicomdisc/internal/jobstore"
	"dicomdisc/internal/logging"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect export job history",
	}
	cmd.AddCommand(newJobsListCommand(ctx))
	cmd.AddCommand(newJobsShowCommand(ctx))
	cmd.AddCommand(newJobsPruneCommand(ctx))
	return cmd
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent export jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *jobstore.Store) error {
				jobs, err := store.ListJobs(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, jobsJSON(jobs))
				}
				if len(jobs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No export jobs recorded")
					return nil
				}
				rows := make([][]string, 0, len(jobs))
				for _, job := range jobs {
					rows = append(rows, []string{
						shortID(job.ID),
						job.State,
						fmt.Sprintf("%d/%d", job.Processed, job.Total),
						strconv.Itoa(job.Skipped),
						archiveSize(job),
						job.CreatedAt.Local().Format("2006-01-02 15:04"),
						job.OutputPath,
					})
				}
				printTable(cmd.OutOrStdout(), []column{
					textColumn("ID"),
					textColumn("State"),
					numericColumn("Items"),
					numericColumn("Skipped"),
					numericColumn("Size"),
					textColumn("Created"),
					textColumn("Output"),
				}, rows)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of jobs to show (0 for all)")
	return cmd
}

func newJobsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one export job",
		Long:  "Show one export job. The ID may be given in full or as a unique prefix.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(store *jobstore.Store) error {
				job, err := findJob(cmd, store, args[0])
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, jobJSON(job))
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "ID:          %s\n", job.ID)
				fmt.Fprintf(out, "State:       %s\n", job.State)
				fmt.Fprintf(out, "Items:       %d/%d (%d skipped)\n", job.Processed, job.Total, job.Skipped)
				fmt.Fprintf(out, "Renditions:  %s\n", yesNo(job.IncludeRenditions))
				fmt.Fprintf(out, "Viewer:      %s\n", yesNo(job.IncludeViewer))
				fmt.Fprintf(out, "Output:      %s\n", job.OutputPath)
				fmt.Fprintf(out, "Size:        %s\n", archiveSize(job))
				fmt.Fprintf(out, "Created:     %s\n", job.CreatedAt.Local().Format(time.RFC3339))
				if !job.FinishedAt.IsZero() {
					fmt.Fprintf(out, "Finished:    %s\n", job.FinishedAt.Local().Format(time.RFC3339))
				}
				if job.ErrorMessage != "" {
					fmt.Fprintf(out, "Error:       %s (%s)\n", job.ErrorMessage, job.ErrorKind)
				}
				return nil
			})
		},
	}
}

func newJobsPruneCommand(ctx *commandContext) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete finished jobs older than a cutoff",
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan < 0 {
				return fmt.Errorf("--older-than must not be negative")
			}
			return ctx.withStore(func(store *jobstore.Store) error {
				removed, err := store.PruneFinished(cmd.Context(), time.Now().Add(-olderThan))
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, map[string]any{"removed": removed})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d finished job(s)\n", removed)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "Only prune jobs finished before now minus this duration")
	return cmd
}

// findJob resolves a full ID or a unique prefix.
func findJob(cmd *cobra.Command, store *jobstore.Store, id string) (*jobstore.Job, error) {
	id = strings.TrimSpace(id)
	if job, err := store.GetJob(cmd.Context(), id); err == nil {
		return job, nil
	}
	jobs, err := store.ListJobs(cmd.Context(), 0)
	if err != nil {
		return nil, err
	}
	var match *jobstore.Job
	for _, job := range jobs {
		if !strings.HasPrefix(job.ID, id) {
			continue
		}
		if match != nil {
			return nil, fmt.Errorf("job prefix %q is ambiguous", id)
		}
		match = job
	}
	if match == nil {
		return nil, fmt.Errorf("job %q not found", id)
	}
	return match, nil
}

func archiveSize(job *jobstore.Job) string {
	if job.ArchiveBytes <= 0 {
		return "-"
	}
	return logging.FormatBytes(job.ArchiveBytes)
}

func jobsJSON(jobs []*jobstore.Job) []map[string]any {
	out := make([]map[string]any, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, jobJSON(job))
	}
	return out
}

func jobJSON(job *jobstore.Job) map[string]any {
	payload := map[string]any{
		"id":                 job.ID,
		"state":              job.State,
		"output_path":        job.OutputPath,
		"include_renditions": job.IncludeRenditions,
		"include_viewer":     job.IncludeViewer,
		"total":              job.Total,
		"processed":          job.Processed,
		"skipped":            job.Skipped,
		"archive_bytes":      job.ArchiveBytes,
		"created_at":         job.CreatedAt.Format(time.RFC3339),
	}
	if !job.FinishedAt.IsZero() {
		payload["finished_at"] = job.FinishedAt.Format(time.RFC3339)
	}
	if job.ErrorMessage != "" {
		payload["error_kind"] = job.ErrorKind
		payload["error"] = job.ErrorMessage
	}
	return payload
}
