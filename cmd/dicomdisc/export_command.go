package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"dicomdisc/internal/catalog"
	"dicomdisc/internal/config"
	"dicomdisc/internal/export"
	"dicomdisc/internal/jobstore"
	"dicomdisc/internal/logging"
	"dicomdisc/internal/staging"
)

type exportFlags struct {
	manifest      string
	output        string
	renditions    bool
	viewer        bool
	quality       int
	folder        string
	readableNames bool
	bundle        string
}

func newExportCommand(ctx *commandContext) *cobra.Command {
	var flags exportFlags

	cmd := &cobra.Command{
		Use:   "export <dicom-dir>",
		Short: "Export a DICOM directory to a disc image",
		Long: `Scan a directory of DICOM files, select instances (all of them, or those
named by --manifest), and write an ISO9660 image with a DICOM tree, an
optional JPEG rendition tree, an optional viewer bundle and a FILE-INDEX.

--renditions and --viewer default to the values saved by the last completed
export. Interrupting the command cancels the job and discards staging.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			root, err := config.ExpandPath(args[0])
			if err != nil {
				return err
			}

			return ctx.withStore(func(store *jobstore.Store) error {
				runCtx := cmd.Context()
				recoverInterruptedJobs(runCtx, cmd, cfg, store, logger)

				cat, err := catalog.Scan(runCtx, root, logger)
				if err != nil {
					return err
				}
				if len(cat.Instances) == 0 {
					return fmt.Errorf("no DICOM instances found under %s", root)
				}
				var manifest *catalog.Manifest
				if strings.TrimSpace(flags.manifest) != "" {
					path, err := config.ExpandPath(flags.manifest)
					if err != nil {
						return err
					}
					if manifest, err = catalog.LoadManifest(path); err != nil {
						return err
					}
				}
				tree, err := catalog.Build(cat, manifest, nil)
				if err != nil {
					return err
				}

				exporter := export.New(cfg, export.Dependencies{Store: store}, logger)
				opts := exporter.DefaultOptions(runCtx)
				if err := applyExportFlags(cmd, &opts, flags); err != nil {
					return err
				}

				handle, err := exporter.Submit(runCtx, tree, opts)
				if err != nil {
					return err
				}
				return awaitExport(cmd, handle, ctx.JSONMode())
			})
		},
	}

	cmd.Flags().StringVarP(&flags.manifest, "manifest", "m", "", "YAML manifest selecting studies, series and instances")
	cmd.Flags().StringVarP(&flags.output, "output", "o", "", "Destination image path")
	cmd.Flags().BoolVar(&flags.renditions, "renditions", true, "Include JPEG renditions")
	cmd.Flags().BoolVar(&flags.viewer, "viewer", true, "Include the viewer bundle")
	cmd.Flags().IntVar(&flags.quality, "quality", 0, "Rendition quality (1-100)")
	cmd.Flags().StringVar(&flags.folder, "rendition-folder", "", "Top-level folder for renditions")
	cmd.Flags().BoolVar(&flags.readableNames, "readable-names", false, "Name rendition folders after patient, study and series descriptions")
	cmd.Flags().StringVar(&flags.bundle, "viewer-bundle", "", "Viewer bundle directory, .zip or .tar.zst")
	return cmd
}

func applyExportFlags(cmd *cobra.Command, opts *export.Options, flags exportFlags) error {
	changed := cmd.Flags().Changed
	if changed("output") {
		path, err := config.ExpandPath(flags.output)
		if err != nil {
			return err
		}
		opts.OutputPath = path
	}
	if changed("renditions") {
		opts.IncludeRenditions = flags.renditions
	}
	if changed("viewer") {
		opts.IncludeViewerBundle = flags.viewer
	}
	if changed("quality") {
		if flags.quality < 1 || flags.quality > 100 {
			return fmt.Errorf("--quality must be between 1 and 100")
		}
		opts.RenditionQuality = flags.quality
	}
	if changed("rendition-folder") {
		opts.RenditionFolder = flags.folder
	}
	if changed("readable-names") {
		opts.ReadableNames = flags.readableNames
	}
	if changed("viewer-bundle") {
		path, err := config.ExpandPath(flags.bundle)
		if err != nil {
			return err
		}
		opts.ViewerBundle = path
	}
	return nil
}

// recoverInterruptedJobs marks jobs left running by a crashed process and
// removes their staging directories.
func recoverInterruptedJobs(ctx context.Context, cmd *cobra.Command, cfg *config.Config, store *jobstore.Store, logger *slog.Logger) {
	if n, err := store.MarkInterrupted(ctx); err == nil && n > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "Marked %d interrupted job(s)\n", n)
	}
	active, err := store.ActiveJobIDs(ctx)
	if err != nil {
		return
	}
	staging.CleanOrphaned(ctx, cfg.Paths.StagingDir, active, logger)
}

func awaitExport(cmd *cobra.Command, handle *export.Handle, jsonMode bool) error {
	out := cmd.OutOrStdout()
	interactive := false
	if f, ok := out.(*os.File); ok && !jsonMode {
		interactive = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	lastLine := ""
	for {
		select {
		case <-handle.Done():
			if interactive {
				fmt.Fprintln(out)
			}
			return reportExport(cmd, handle, jsonMode)
		case <-ticker.C:
			line := progressLine(handle)
			if line == lastLine {
				continue
			}
			lastLine = line
			if interactive {
				fmt.Fprintf(out, "\r\033[K%s", line)
			}
		}
	}
}

func progressLine(handle *export.Handle) string {
	processed, total := handle.Progress()
	line := fmt.Sprintf("%-10s %d/%d items", handle.State(), processed, total)
	if skipped := handle.Skipped(); skipped > 0 {
		line += fmt.Sprintf(" (%d skipped)", skipped)
	}
	return line
}

func reportExport(cmd *cobra.Command, handle *export.Handle, jsonMode bool) error {
	file, err := handle.Wait(context.Background())
	processed, total := handle.Progress()
	if jsonMode {
		payload := map[string]any{
			"job_id":    handle.ID(),
			"state":     string(handle.State()),
			"processed": processed,
			"total":     total,
			"skipped":   handle.Skipped(),
		}
		if file != nil {
			payload["archive"] = file.Path
			payload["size_bytes"] = file.Size
			payload["checksum"] = file.Checksum
		}
		if err != nil {
			payload["error"] = err.Error()
		}
		if encErr := writeJSON(cmd, payload); encErr != nil {
			return encErr
		}
		return err
	}
	if err != nil {
		return fmt.Errorf("export %s %s: %w", shortID(handle.ID()), handle.State(), err)
	}
	writeExportSummary(cmd.OutOrStdout(), handle, file.Path, file.Size)
	return nil
}

func writeExportSummary(out io.Writer, handle *export.Handle, path string, size int64) {
	processed, total := handle.Progress()
	fmt.Fprintf(out, "Wrote %s (%s)\n", path, logging.FormatBytes(size))
	fmt.Fprintf(out, "Job %s: %d/%d items, %d skipped\n", shortID(handle.ID()), processed, total, handle.Skipped())
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
