package export

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"dicomdisc/internal/archive"
	"dicomdisc/internal/fileset"
	"dicomdisc/internal/jobstore"
	"dicomdisc/internal/logging"
	"dicomdisc/internal/preflight"
	"dicomdisc/internal/selection"
	"dicomdisc/internal/services"
	"dicomdisc/internal/staging"
)

func (e *Exporter) run(ctx context.Context, h *Handle, snap *selection.Snapshot, opts Options) {
	start := time.Now()
	ctx = services.WithJobID(ctx, h.id)
	logger := logging.WithContext(ctx, e.logger)
	persistCtx := context.WithoutCancel(ctx)

	record := &jobstore.Job{
		ID:                h.id,
		State:             string(StateCreated),
		OutputPath:        h.outputPath,
		StagingDir:        h.stagingDir,
		IncludeRenditions: opts.IncludeRenditions,
		IncludeViewer:     opts.IncludeViewerBundle,
	}
	if e.deps.Store != nil {
		if err := e.deps.Store.CreateJob(persistCtx, record); err != nil {
			logger.Warn("failed to record export job", logging.Error(err), logging.String(logging.FieldEventType, "job_record_failed"))
		}
	}

	logger.Info("export job started",
		logging.String("output", h.outputPath),
		logging.Bool("renditions", opts.IncludeRenditions),
		logging.Bool("viewer_bundle", opts.IncludeViewerBundle),
		logging.String(logging.FieldEventType, "job_start"),
	)

	result, err := e.execute(ctx, logger, h, snap, opts)

	state := StateDone
	switch {
	case errors.Is(err, services.ErrJobCancelled):
		state = StateCancelled
	case err != nil:
		state = StateFailed
	}
	h.setState(state)

	processed, total := h.Progress()
	outcome := []logging.Attr{
		logging.String("state", string(state)),
		logging.Int("processed", processed),
		logging.Int("total", total),
		logging.Int("skipped", h.Skipped()),
		logging.Duration("elapsed", time.Since(start)),
	}
	switch state {
	case StateDone:
		logger.Info("export job completed", logging.Args(append(outcome,
			logging.String("archive", result.Path),
			logging.String("size", logging.FormatBytes(result.Size)),
			logging.String(logging.FieldEventType, "job_complete"),
		)...)...)
	case StateCancelled:
		logger.Info("export job cancelled", logging.Args(append(outcome, logging.String(logging.FieldEventType, "job_cancelled"))...)...)
	default:
		logging.ErrorWithContext(logger, "export job failed", "job_failed", append(outcome,
			logging.Error(err),
			logging.String("error_kind", services.Kind(err)),
		)...)
	}

	if e.deps.Store != nil {
		record.State = string(state)
		record.Total = total
		record.Processed = processed
		record.Skipped = h.Skipped()
		if result != nil {
			record.ArchiveBytes = result.Size
		}
		if err != nil {
			record.ErrorKind = services.Kind(err)
			record.ErrorMessage = err.Error()
		}
		if updateErr := e.deps.Store.UpdateJob(persistCtx, record); updateErr != nil {
			logger.Warn("failed to record export outcome", logging.Error(updateErr), logging.String(logging.FieldEventType, "job_record_failed"))
		}
		if state == StateDone {
			if saveErr := e.deps.Store.SavePreferences(persistCtx, opts.preferences()); saveErr != nil {
				logger.Warn("failed to save export preferences", logging.Error(saveErr), logging.String(logging.FieldEventType, "preferences_save_failed"))
			}
		}
	}

	h.finish(result, err)
}

// execute drives one job from staging-root creation to the finished archive.
// The staging directory is removed on every return path.
func (e *Exporter) execute(ctx context.Context, logger *slog.Logger, h *Handle, snap *selection.Snapshot, opts Options) (*archive.File, error) {
	work := context.WithoutCancel(ctx)

	if err := os.MkdirAll(e.cfg.Paths.StagingDir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrResource, string(StateCreated), "create staging root", e.cfg.Paths.StagingDir, err)
	}
	if minGiB := e.cfg.Export.MinFreeGiB; minGiB > 0 {
		if check := preflight.CheckFreeSpace("staging free space", e.cfg.Paths.StagingDir, uint64(minGiB)<<30); !check.Passed {
			return nil, services.Wrap(services.ErrResource, string(StateCreated), "check free space", check.Detail, nil)
		}
	}
	lock, err := staging.AcquireDir(h.stagingDir)
	if err != nil {
		return nil, services.Wrap(services.ErrResource, string(StateCreated), "acquire staging directory", h.stagingDir, err)
	}
	defer e.cleanup(logger, lock)

	logger = e.enter(ctx, h, StateResolving)
	resolver := selection.NewResolver(logger, e.deps.NewUID)
	resolver.OnSkip = func(error) { h.skipped.Add(1) }
	h.total.Store(int64(resolver.Estimate(snap)))

	index, err := fileset.OpenWriter(filepath.Join(h.stagingDir, fileset.IndexFileName))
	if err != nil {
		return nil, services.Wrap(services.ErrResource, string(StateResolving), "open index writer", h.stagingDir, err)
	}
	defer index.Abort()

	indexer := fileset.NewBuilder(e.deps.Renderer, logger)
	writer := staging.NewWriter(h.stagingDir, opts.layout(), e.deps.Renderer, e.deps.Encoder, logger)

	logger = e.enter(ctx, h, StateStaging)
	sampler := logging.NewProgressSampler(10)
	for item := range resolver.Resolve(snap) {
		if h.cancelRequested(ctx) {
			return nil, services.Wrap(services.ErrJobCancelled, string(StateStaging), "stage items", "cancelled before next item", nil)
		}
		if err := e.processItem(work, logger, h, writer, indexer, item, opts); err != nil {
			return nil, err
		}
		processed := h.processed.Add(1)
		total := h.total.Load()
		if sampler.ShouldLog(logging.Percent(int(processed), int(total)), string(StateStaging)) {
			logger.Info("export progress",
				logging.Int64("processed", processed),
				logging.Int64("total", total),
				logging.Int64("skipped", h.skipped.Load()),
				logging.String(logging.FieldEventType, "job_progress"),
			)
		}
	}

	if opts.IncludeViewerBundle {
		logger = e.enter(ctx, h, StateBundling)
		e.bundleViewer(work, logger, h.stagingDir, opts)
	}

	if err := index.CommitAndClose(indexer.Finalize()); err != nil {
		return nil, services.Wrap(services.ErrResource, string(StateStaging), "commit index", index.Path(), err)
	}

	if h.cancelRequested(ctx) {
		return nil, services.Wrap(services.ErrJobCancelled, string(StateAssembling), "assemble", "cancelled before assembly", nil)
	}
	logger = e.enter(ctx, h, StateAssembling)
	file, err := e.deps.Archiver.Build(work, archive.Request{
		StagingRoot: h.stagingDir,
		OutputPath:  h.outputPath,
		Volume:      opts.Volume,
	})
	if err != nil {
		if !errors.Is(err, services.ErrArchiveBuild) {
			err = services.Wrap(services.ErrArchiveBuild, string(StateAssembling), "build archive", h.outputPath, err)
		}
		return nil, err
	}
	return file, nil
}

// processItem stages one item and admits it to the index. Item-scoped
// failures are counted and logged; anything else (a lost staging root, an
// index inconsistency) is returned and fails the job.
func (e *Exporter) processItem(ctx context.Context, logger *slog.Logger, h *Handle, writer *staging.Writer, indexer *fileset.Builder, item selection.Item, opts Options) error {
	if _, err := writer.Stage(ctx, item); err != nil {
		if !services.IsItemScoped(err) {
			return err
		}
		h.skipped.Add(1)
		logging.WarnWithContext(logger, "item skipped", "staging_skip",
			logging.String("kind", item.Kind.String()),
			logging.String("sop_instance_uid", item.SOPInstanceUID),
			logging.String("source", item.Source),
			logging.Error(err),
			logging.String(logging.FieldImpact, "item is missing from the archive"),
		)
		return nil
	}
	if err := indexer.Admit(ctx, item, writer.Layout().FileID(item)); err != nil {
		return err
	}
	if opts.IncludeRenditions && item.Kind != selection.KindDerivedAnnotation {
		if _, err := writer.StageRendition(ctx, item, opts.RenditionQuality); err != nil {
			if !services.IsItemScoped(err) {
				return err
			}
			logger.Info("rendition skipped",
				logging.String("sop_instance_uid", item.SOPInstanceUID),
				logging.Error(err),
				logging.String(logging.FieldEventType, "rendition_skip"),
			)
		}
	}
	return nil
}

func (e *Exporter) bundleViewer(ctx context.Context, logger *slog.Logger, root string, opts Options) {
	bundle := opts.ViewerBundle
	if bundle == "" {
		logging.WarnWithContext(logger, "viewer bundle not configured", "viewer_bundle_missing",
			logging.String(logging.FieldImpact, "archive has no viewer"),
			logging.String(logging.FieldErrorHint, "set export.viewer_bundle or DICOMDISC_VIEWER_BUNDLE"),
		)
		return
	}
	count, err := archive.UnpackBundle(ctx, bundle, root,
		staging.DICOMFolder, fileset.IndexFileName, opts.RenditionFolder)
	if err != nil {
		logging.WarnWithContext(logger, "viewer bundle unavailable", "viewer_bundle_missing",
			logging.String("bundle", bundle),
			logging.Error(err),
			logging.String(logging.FieldImpact, "archive has no viewer"),
		)
		return
	}
	logger.Info("viewer bundle added",
		logging.String("bundle", bundle),
		logging.Int("files", count),
		logging.String(logging.FieldEventType, "viewer_bundle_added"),
	)
}

func (e *Exporter) cleanup(logger *slog.Logger, lock *staging.DirLock) {
	dir := lock.Dir()
	if err := os.RemoveAll(dir); err != nil {
		logging.WarnWithContext(logger, "staging cleanup failed", "staging_cleanup_failed",
			logging.Error(services.Wrap(services.ErrCleanup, "cleanup", "remove staging directory", dir, err)),
			logging.String(logging.FieldErrorHint, "run dicomdisc staging clean"),
		)
	}
	if err := lock.Release(); err != nil {
		logging.WarnWithContext(logger, "staging lock release failed", "staging_cleanup_failed",
			logging.Error(services.Wrap(services.ErrCleanup, "cleanup", "release staging lock", dir, err)),
		)
	}
}

// enter moves the job to state and returns a logger tagged with the new phase.
func (e *Exporter) enter(ctx context.Context, h *Handle, state State) *slog.Logger {
	h.setState(state)
	return logging.WithContext(services.WithPhase(ctx, string(state)), e.logger)
}

func (h *Handle) cancelRequested(ctx context.Context) bool {
	return h.cancelled.Load() || ctx.Err() != nil
}
