package archive

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"

	"dicomdisc/internal/fileutil"
	"dicomdisc/internal/services"
)

// ErrUnsafePath reports a bundle entry that would land outside the destination.
var ErrUnsafePath = errors.New("bundle entry escapes destination")

// ErrReservedPath reports a bundle entry that would replace exported content.
var ErrReservedPath = errors.New("bundle entry uses a reserved name")

// UnpackBundle copies a viewer bundle into dest and returns the number of
// files written. The bundle is a directory, a .zip archive, or a .tar.zst
// archive. A missing bundle is reported as services.ErrNotFound.
//
// The bundle is unpacked into a scratch directory under dest first and moved
// in only once every entry was written, so a failure leaves dest untouched.
// Top-level entries matching a reserved name (case-insensitively, as image
// readers fold case) or an existing entry of dest are rejected.
func UnpackBundle(ctx context.Context, bundle, dest string, reserved ...string) (int, error) {
	info, err := os.Stat(bundle)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, services.Wrap(services.ErrNotFound, "bundling", "open bundle", bundle, err)
		}
		return 0, fmt.Errorf("stat bundle: %w", err)
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return 0, fmt.Errorf("create bundle destination: %w", err)
	}
	scratch, err := os.MkdirTemp(dest, ".bundle-*")
	if err != nil {
		return 0, fmt.Errorf("create bundle scratch directory: %w", err)
	}
	defer os.RemoveAll(scratch)

	var count int
	lower := strings.ToLower(bundle)
	switch {
	case info.IsDir():
		count, err = copyTree(ctx, bundle, scratch)
	case strings.HasSuffix(lower, ".zip"):
		count, err = unpackZip(ctx, bundle, scratch)
	case strings.HasSuffix(lower, ".tar.zst"), strings.HasSuffix(lower, ".tzst"):
		count, err = unpackTarZstd(ctx, bundle, scratch)
	default:
		err = fmt.Errorf("unsupported bundle format: %s", filepath.Base(bundle))
	}
	if err != nil {
		return 0, err
	}
	if err := moveEntries(scratch, dest, reserved); err != nil {
		return 0, err
	}
	return count, nil
}

// moveEntries renames the top-level entries of scratch into dest. Either all
// entries move or none remain in dest.
func moveEntries(scratch, dest string, reserved []string) error {
	entries, err := os.ReadDir(scratch)
	if err != nil {
		return fmt.Errorf("read bundle scratch directory: %w", err)
	}
	existing, err := os.ReadDir(dest)
	if err != nil {
		return fmt.Errorf("read bundle destination: %w", err)
	}
	taken := append([]string(nil), reserved...)
	for _, e := range existing {
		if e.Name() != filepath.Base(scratch) {
			taken = append(taken, e.Name())
		}
	}
	for _, e := range entries {
		for _, name := range taken {
			if name != "" && strings.EqualFold(e.Name(), name) {
				return fmt.Errorf("%w: %s", ErrReservedPath, e.Name())
			}
		}
	}

	moved := make([]string, 0, len(entries))
	for _, e := range entries {
		target := filepath.Join(dest, e.Name())
		if err := os.Rename(filepath.Join(scratch, e.Name()), target); err != nil {
			for _, m := range moved {
				_ = os.RemoveAll(m)
			}
			return fmt.Errorf("move bundle entry %s: %w", e.Name(), err)
		}
		moved = append(moved, target)
	}
	return nil
}

func safeJoin(dest, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return filepath.Join(dest, clean), nil
}

func copyTree(ctx context.Context, src, dest string) (int, error) {
	count := 0
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if err := fileutil.CopyFileMode(path, target, info.Mode().Perm()); err != nil {
			return err
		}
		count++
		return nil
	})
	return count, err
}

func unpackZip(ctx context.Context, bundle, dest string) (int, error) {
	reader, err := zip.OpenReader(bundle)
	if err != nil {
		return 0, fmt.Errorf("open zip bundle: %w", err)
	}
	defer reader.Close()

	count := 0
	for _, f := range reader.File {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		target, err := safeJoin(dest, f.Name)
		if err != nil {
			return count, err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return count, err
			}
			continue
		}
		if !f.Mode().IsRegular() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return count, fmt.Errorf("open %s: %w", f.Name, err)
		}
		err = writeEntry(target, rc, f.Mode().Perm())
		rc.Close()
		if err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func unpackTarZstd(ctx context.Context, bundle, dest string) (int, error) {
	file, err := os.Open(bundle)
	if err != nil {
		return 0, fmt.Errorf("open bundle: %w", err)
	}
	defer file.Close()

	decoder, err := zstd.NewReader(file)
	if err != nil {
		return 0, fmt.Errorf("create zstd reader: %w", err)
	}
	defer decoder.Close()

	tr := tar.NewReader(decoder)
	count := 0
	for {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return count, nil
		}
		if err != nil {
			return count, fmt.Errorf("read tar entry: %w", err)
		}
		target, err := safeJoin(dest, hdr.Name)
		if err != nil {
			return count, err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return count, err
			}
		case tar.TypeReg:
			if err := writeEntry(target, tr, fs.FileMode(hdr.Mode).Perm()); err != nil {
				return count, err
			}
			count++
		}
	}
}

func writeEntry(target string, r io.Reader, mode fs.FileMode) error {
	if mode == 0 {
		mode = 0o644
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("write %s: %w", target, err)
	}
	return out.Close()
}
