package imaging

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// ErrNoDocument is returned when a file carries no encapsulated document.
var ErrNoDocument = errors.New("no encapsulated document")

// encapsulatedDocumentLength is (0042,0015) UL, newer than the bundled dictionary.
var encapsulatedDocumentLength = tag.Tag{Group: 0x0042, Element: 0x0015}

// ExtractDocument writes the EncapsulatedDocument payload of the DICOM file
// at path to w. The even-length padding byte is dropped when the file
// records the document length.
func ExtractDocument(path string, w io.Writer) (int64, error) {
	ds, err := dicom.ParseFile(path, nil, dicom.SkipPixelData())
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}
	el, err := ds.FindElementByTag(tag.EncapsulatedDocument)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, ErrNoDocument)
	}
	data, ok := el.Value.GetValue().([]byte)
	if !ok || len(data) == 0 {
		return 0, fmt.Errorf("%s: %w", path, ErrNoDocument)
	}
	if n, ok := documentLength(&ds); ok && n < len(data) {
		data = data[:n]
	}
	written, err := w.Write(data)
	if err != nil {
		return int64(written), fmt.Errorf("write document: %w", err)
	}
	return int64(written), nil
}

func documentLength(ds *dicom.Dataset) (int, bool) {
	el, err := ds.FindElementByTag(encapsulatedDocumentLength)
	if err != nil {
		return 0, false
	}
	switch v := el.Value.GetValue().(type) {
	case []int:
		if len(v) > 0 && v[0] >= 0 {
			return v[0], true
		}
	case []byte:
		if len(v) == 4 {
			return int(binary.LittleEndian.Uint32(v)), true
		}
	case []string:
		if len(v) > 0 {
			if n, err := strconv.Atoi(v[0]); err == nil && n >= 0 {
				return n, true
			}
		}
	}
	return 0, false
}
