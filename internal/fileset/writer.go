package fileset

import (
	"errors"
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("fileset: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("fileset: CBOR decoder initialization failed: " + err.Error())
	}
}

// Writer owns an open index file until it is committed or aborted.
type Writer struct {
	path string
	file *os.File
}

// OpenWriter creates the index file at path, truncating any previous file.
func OpenWriter(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open index writer: %w", err)
	}
	return &Writer{path: path, file: f}, nil
}

// Path returns the index file location.
func (w *Writer) Path() string {
	return w.path
}

// CommitAndClose encodes fs with deterministic CBOR and closes the file.
func (w *Writer) CommitAndClose(fs *FileSet) error {
	if w.file == nil {
		return errors.New("index writer already closed")
	}
	if fs == nil {
		fs = &FileSet{Format: Format, Version: Version}
	}
	f := w.file
	w.file = nil
	if err := encMode.NewEncoder(f).Encode(fs); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode index: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync index: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close index: %w", err)
	}
	return nil
}

// Abort closes and removes the index file. Safe to call after CommitAndClose.
func (w *Writer) Abort() {
	if w.file == nil {
		return
	}
	_ = w.file.Close()
	w.file = nil
	_ = os.Remove(w.path)
}

// Marshal encodes fs exactly as CommitAndClose writes it.
func Marshal(fs *FileSet) ([]byte, error) {
	return encMode.Marshal(fs)
}

// ReadFile decodes the index at path.
func ReadFile(path string) (*FileSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var fs FileSet
	if err := decMode.Unmarshal(data, &fs); err != nil {
		return nil, fmt.Errorf("decode index %s: %w", path, err)
	}
	if fs.Format != Format {
		return nil, fmt.Errorf("decode index %s: unexpected format %q", path, fs.Format)
	}
	return &fs, nil
}
