package staging

import (
	"context"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dicomdisc/internal/fileutil"
	"dicomdisc/internal/imaging"
	"dicomdisc/internal/logging"
	"dicomdisc/internal/selection"
	"dicomdisc/internal/services"
)

// Renderer produces a displayable raster for an image instance. A nil image
// with a nil error means the instance has nothing to render.
type Renderer interface {
	Render(ctx context.Context, inst selection.ImageInstance) (image.Image, error)
}

// Encoder writes a derivative rendition of img at the given quality (1..100).
type Encoder interface {
	Encode(w io.Writer, img image.Image, quality int) error
}

// Entry describes one staged file.
type Entry struct {
	// Path is the slash-separated path relative to the staging root.
	Path string
	// FSPath is the location on disk.
	FSPath   string
	Size     int64
	Checksum string
}

// Writer materializes items under a staging root it exclusively owns.
type Writer struct {
	root     string
	layout   Layout
	renderer Renderer
	encoder  Encoder
	logger   *slog.Logger
}

// NewWriter constructs a Writer rooted at root. Renditions need both a
// renderer and an encoder.
func NewWriter(root string, layout Layout, renderer Renderer, encoder Encoder, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Writer{root: root, layout: layout, renderer: renderer, encoder: encoder, logger: logger}
}

// Root returns the staging root.
func (w *Writer) Root() string {
	return w.root
}

// Layout returns the path layout used by the writer.
func (w *Writer) Layout() Layout {
	return w.layout
}

// Stage writes the canonical copy of item. Images and opaque media are copied
// byte for byte with BLAKE3 verification; derived annotations are written as
// Part 10 presentation states. Per-item failures are marked
// services.ErrStagingSkip; a missing staging root is services.ErrResource.
func (w *Writer) Stage(ctx context.Context, item selection.Item) (Entry, error) {
	fileID := w.layout.FileID(item)
	dst, err := w.prepare(fileID)
	if err != nil {
		return Entry{}, err
	}

	var sum string
	switch item.Kind {
	case selection.KindImage, selection.KindOpaque:
		sum, err = fileutil.CopyFileVerified(item.Source, dst)
		if err != nil {
			return Entry{}, services.Wrap(services.ErrStagingSkip, "staging", "copy", item.Source, err)
		}
	case selection.KindDerivedAnnotation:
		data, encErr := EncodePresentationState(item, time.Now())
		if encErr != nil {
			return Entry{}, services.Wrap(services.ErrStagingSkip, "staging", "encode annotation", item.Identity(), encErr)
		}
		if err := fileutil.WriteFileAtomic(dst, data, 0o644); err != nil {
			return Entry{}, services.Wrap(services.ErrStagingSkip, "staging", "write annotation", dst, err)
		}
		sum = fileutil.HashBytes(data)
	default:
		return Entry{}, services.Wrap(services.ErrStagingSkip, "staging", "stage", fmt.Sprintf("unsupported item kind %s", item.Kind), nil)
	}

	entry, err := w.entry(fileID, dst, sum)
	if err != nil {
		return Entry{}, err
	}
	w.logger.Debug("staged item",
		logging.String("path", entry.Path),
		logging.String("kind", item.Kind.String()),
		logging.Int64("bytes", entry.Size),
	)
	return entry, nil
}

// StageRendition writes the derivative of item: an encoded raster for
// images, the unwrapped document for encapsulated media and a plain copy for
// other opaque media. A renderer returning no image is a skip.
func (w *Writer) StageRendition(ctx context.Context, item selection.Item, quality int) (Entry, error) {
	if item.Kind == selection.KindDerivedAnnotation {
		return Entry{}, services.Wrap(services.ErrStagingSkip, "staging", "rendition", "presentation objects have no rendition", nil)
	}
	fileID := w.layout.RenditionID(item)
	if item.Kind == selection.KindOpaque {
		dst, err := w.prepare(fileID)
		if err != nil {
			return Entry{}, err
		}
		if item.Encapsulated {
			if err := extractTo(dst, item.Source); err != nil {
				return Entry{}, services.Wrap(services.ErrStagingSkip, "staging", "extract document", item.Source, err)
			}
			sum, err := fileutil.HashFile(dst)
			if err != nil {
				return Entry{}, services.Wrap(services.ErrStagingSkip, "staging", "hash rendition", dst, err)
			}
			return w.entry(fileID, dst, sum)
		}
		sum, err := fileutil.CopyFileVerified(item.Source, dst)
		if err != nil {
			return Entry{}, services.Wrap(services.ErrStagingSkip, "staging", "copy rendition", item.Source, err)
		}
		return w.entry(fileID, dst, sum)
	}

	if w.renderer == nil || w.encoder == nil {
		return Entry{}, services.Wrap(services.ErrStagingSkip, "staging", "rendition", "no renderer configured", nil)
	}
	img, err := w.renderer.Render(ctx, selection.ImageInstance{Attributes: item.Attributes, Source: item.Source})
	if err != nil {
		return Entry{}, services.Wrap(services.ErrStagingSkip, "staging", "render", item.Source, err)
	}
	if img == nil {
		return Entry{}, services.Wrap(services.ErrStagingSkip, "staging", "render", "no displayable image in "+item.Source, nil)
	}

	dst, err := w.prepare(fileID)
	if err != nil {
		return Entry{}, err
	}
	if err := w.encodeTo(dst, img, quality); err != nil {
		return Entry{}, services.Wrap(services.ErrStagingSkip, "staging", "encode rendition", dst, err)
	}
	sum, err := fileutil.HashFile(dst)
	if err != nil {
		return Entry{}, services.Wrap(services.ErrStagingSkip, "staging", "hash rendition", dst, err)
	}
	return w.entry(fileID, dst, sum)
}

// prepare creates the parent directories of fileID. A missing staging root is
// reported as services.ErrResource since no later item can succeed either.
func (w *Writer) prepare(fileID []string) (string, error) {
	if _, err := os.Stat(w.root); err != nil {
		return "", services.Wrap(services.ErrResource, "staging", "stat staging root", w.root, err)
	}
	dst := filepath.Join(append([]string{w.root}, fileID...)...)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", services.Wrap(services.ErrStagingSkip, "staging", "mkdir", filepath.Dir(dst), err)
	}
	return dst, nil
}

func extractTo(dst, source string) error {
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := imaging.ExtractDocument(source, f); err != nil {
		_ = f.Close()
		_ = os.Remove(dst)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(dst)
		return err
	}
	return nil
}

func (w *Writer) encodeTo(dst string, img image.Image, quality int) error {
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	if err := w.encoder.Encode(f, img, quality); err != nil {
		_ = f.Close()
		_ = os.Remove(dst)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(dst)
		return err
	}
	return nil
}

func (w *Writer) entry(fileID []string, dst, sum string) (Entry, error) {
	info, err := os.Stat(dst)
	if err != nil {
		return Entry{}, services.Wrap(services.ErrStagingSkip, "staging", "stat", dst, err)
	}
	return Entry{
		Path:     strings.Join(fileID, "/"),
		FSPath:   dst,
		Size:     info.Size(),
		Checksum: sum,
	}, nil
}
