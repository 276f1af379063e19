package export

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"dicomdisc/internal/archive"
	"dicomdisc/internal/config"
	"dicomdisc/internal/imaging"
	"dicomdisc/internal/jobstore"
	"dicomdisc/internal/logging"
	"dicomdisc/internal/selection"
	"dicomdisc/internal/services"
	"dicomdisc/internal/staging"
)

// Renderer produces the displayable raster of an image instance. A nil image
// with a nil error means no preview is available.
type Renderer interface {
	Render(ctx context.Context, inst selection.ImageInstance) (image.Image, error)
}

// Store persists job history and export preferences. *jobstore.Store
// satisfies it.
type Store interface {
	CreateJob(ctx context.Context, job *jobstore.Job) error
	UpdateJob(ctx context.Context, job *jobstore.Job) error
	LoadPreferences(ctx context.Context) (jobstore.Preferences, error)
	SavePreferences(ctx context.Context, prefs jobstore.Preferences) error
}

// Dependencies are the collaborators an Exporter drives. Nil fields fall
// back to the DICOM renderer, the JPEG encoder and the ISO builder. A nil
// Store disables job history and preference persistence.
type Dependencies struct {
	Renderer Renderer
	Encoder  staging.Encoder
	Archiver archive.Builder
	Store    Store
	NewUID   selection.UIDGenerator
	NewJobID func() string
}

// Exporter runs export jobs one at a time.
type Exporter struct {
	cfg    *config.Config
	logger *slog.Logger
	deps   Dependencies

	mu     sync.Mutex
	active *Handle
}

// New constructs an Exporter.
func New(cfg *config.Config, deps Dependencies, logger *slog.Logger) *Exporter {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "exporter")
	if deps.Renderer == nil {
		deps.Renderer = imaging.NewDICOMRenderer(logger)
	}
	if deps.Encoder == nil {
		deps.Encoder = imaging.JPEGEncoder{}
	}
	if deps.Archiver == nil {
		deps.Archiver = archive.NewISOBuilder(logger)
	}
	if deps.NewUID == nil {
		deps.NewUID = selection.NewUID
	}
	if deps.NewJobID == nil {
		deps.NewJobID = uuid.NewString
	}
	return &Exporter{cfg: cfg, logger: logger, deps: deps}
}

// DefaultOptions returns the options for a new job: configuration defaults
// with the persisted toggles applied. A preference read failure is logged
// and the defaults are used.
func (e *Exporter) DefaultOptions(ctx context.Context) Options {
	prefs := jobstore.DefaultPreferences()
	if e.deps.Store != nil {
		loaded, err := e.deps.Store.LoadPreferences(ctx)
		if err != nil {
			logging.WarnWithContext(logging.WithContext(ctx, e.logger), "export preferences unavailable; using defaults", "preferences_load_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "renditions and viewer bundle are enabled"),
			)
		} else {
			prefs = loaded
		}
	}
	return OptionsFromConfig(e.cfg, prefs)
}

// Submit snapshots tree and starts a job on a background goroutine. Only one
// job runs at a time; a second submission fails with
// services.ErrJobInProgress. Cancelling ctx cancels the job like
// Handle.Cancel.
func (e *Exporter) Submit(ctx context.Context, tree *selection.Tree, opts Options) (*Handle, error) {
	if tree == nil {
		return nil, errors.New("selection tree is required")
	}
	if e.cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "created", "submit", "exporter has no configuration", nil)
	}
	opts = opts.normalized()
	if opts.OutputPath == "" {
		opts.OutputPath = e.cfg.DefaultOutputPath()
	}

	e.mu.Lock()
	if e.active != nil {
		select {
		case <-e.active.Done():
		default:
			id := e.active.ID()
			e.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", services.ErrJobInProgress, id)
		}
	}
	id := e.deps.NewJobID()
	h := newHandle(id, filepath.Join(e.cfg.Paths.StagingDir, id), opts.OutputPath)
	e.active = h
	e.mu.Unlock()

	snap := tree.Snapshot()
	go e.run(ctx, h, snap, opts)
	return h, nil
}
