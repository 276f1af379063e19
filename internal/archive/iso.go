package archive

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kdomanski/iso9660"

	"dicomdisc/internal/fileutil"
	"dicomdisc/internal/logging"
	"dicomdisc/internal/services"
)

// Volume carries the image descriptor metadata.
type Volume struct {
	Label        string
	Publisher    string
	DataPreparer string
	RockRidge    bool
	Joliet       bool
}

// Request describes one archive build.
type Request struct {
	StagingRoot string
	OutputPath  string
	Volume      Volume
}

// File is a finished archive image.
type File struct {
	Path     string
	Size     int64
	Checksum string
	Entries  int
}

// Builder turns a staging root into an archive image.
type Builder interface {
	Build(ctx context.Context, req Request) (*File, error)
}

// ISOBuilder writes ISO9660 images.
type ISOBuilder struct {
	logger *slog.Logger
}

// NewISOBuilder constructs an ISOBuilder.
func NewISOBuilder(logger *slog.Logger) *ISOBuilder {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &ISOBuilder{logger: logger}
}

// Build adds every regular file under req.StagingRoot to a new image and
// writes it to req.OutputPath through a temporary file in the same directory.
// Entry names inside the image come from ImagePaths. Failures are marked
// services.ErrArchiveBuild.
func (b *ISOBuilder) Build(ctx context.Context, req Request) (*File, error) {
	start := time.Now()
	wrap := func(op string, err error) error {
		return services.Wrap(services.ErrArchiveBuild, "assembling", op, req.OutputPath, err)
	}

	files, err := collectFiles(req.StagingRoot)
	if err != nil {
		return nil, wrap("scan staging", err)
	}

	writer, err := iso9660.NewWriter()
	if err != nil {
		return nil, wrap("create image writer", err)
	}
	defer func() {
		if cleanupErr := writer.Cleanup(); cleanupErr != nil {
			b.logger.Debug("image writer cleanup failed", logging.Error(cleanupErr))
		}
	}()

	paths, err := ImagePaths(files)
	if err != nil {
		return nil, err
	}
	renamed := 0
	for _, rel := range files {
		target := paths[rel]
		if target != strings.ToLower(rel) {
			renamed++
		}
		if err := addFile(writer, filepath.Join(req.StagingRoot, filepath.FromSlash(rel)), target); err != nil {
			return nil, wrap("add "+rel, err)
		}
	}
	if req.Volume.RockRidge || req.Volume.Joliet {
		b.logger.Debug("image extensions requested; names are stored as level-1 identifiers",
			logging.Bool("rock_ridge", req.Volume.RockRidge),
			logging.Bool("joliet", req.Volume.Joliet),
			logging.Int("renamed", renamed),
		)
	}

	if err := os.MkdirAll(filepath.Dir(req.OutputPath), 0o755); err != nil {
		return nil, wrap("create output directory", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(req.OutputPath), "."+filepath.Base(req.OutputPath)+".*.part")
	if err != nil {
		return nil, wrap("create temp image", err)
	}
	tmpName := tmp.Name()
	fail := func(op string, err error) (*File, error) {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return nil, wrap(op, err)
	}

	if err := writer.WriteTo(tmp, volumeLabel(req.Volume.Label)); err != nil {
		return fail("write image", err)
	}
	if err := tmp.Sync(); err != nil {
		return fail("sync image", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return nil, wrap("close image", err)
	}
	if err := fileutil.MoveFile(tmpName, req.OutputPath); err != nil {
		_ = os.Remove(tmpName)
		return nil, wrap("move image into place", err)
	}

	info, err := os.Stat(req.OutputPath)
	if err != nil {
		return nil, wrap("stat image", err)
	}
	sum, err := fileutil.HashFile(req.OutputPath)
	if err != nil {
		return nil, wrap("hash image", err)
	}

	logging.WithContext(ctx, b.logger).Info("archive image written",
		logging.String("path", req.OutputPath),
		logging.String("volume", volumeLabel(req.Volume.Label)),
		logging.String("publisher", req.Volume.Publisher),
		logging.String("data_preparer", req.Volume.DataPreparer),
		logging.Int("entries", len(files)),
		logging.Int("renamed", renamed),
		logging.String("size", logging.FormatBytes(info.Size())),
		logging.Duration("elapsed", time.Since(start)),
		logging.String(logging.FieldEventType, "archive_built"),
	)
	return &File{Path: req.OutputPath, Size: info.Size(), Checksum: sum, Entries: len(files)}, nil
}

func addFile(writer *iso9660.ImageWriter, path, target string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return writer.AddFile(f, target)
}

func collectFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// volumeLabel limits the label to 32 d-characters.
func volumeLabel(label string) string {
	label = strings.ToUpper(strings.TrimSpace(label))
	if label == "" {
		label = "DICOM"
	}
	if len(label) > 32 {
		label = label[:32]
	}
	return label
}

// ListImage returns the slash paths of every file in the image at path, as
// recorded in the image.
func ListImage(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, err := iso9660.OpenImage(f)
	if err != nil {
		return nil, fmt.Errorf("open image %s: %w", path, err)
	}
	root, err := img.RootDir()
	if err != nil {
		return nil, fmt.Errorf("read root directory: %w", err)
	}
	var out []string
	var walk func(prefix string, dir *iso9660.File) error
	walk = func(prefix string, dir *iso9660.File) error {
		children, err := dir.GetChildren()
		if err != nil {
			return err
		}
		for _, child := range children {
			name := strings.TrimSuffix(child.Name(), ";1")
			if prefix != "" {
				name = prefix + "/" + name
			}
			if child.IsDir() {
				if err := walk(name, child); err != nil {
					return err
				}
				continue
			}
			out = append(out, name)
		}
		return nil
	}
	if err := walk("", root); err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}
