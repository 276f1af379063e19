package fileset

import "strings"

// RecordType names a directory record level.
type RecordType string

const (
	RecordPatient      RecordType = "PATIENT"
	RecordStudy        RecordType = "STUDY"
	RecordSeries       RecordType = "SERIES"
	RecordImage        RecordType = "IMAGE"
	RecordPresentation RecordType = "PRESENTATION"
	RecordPrivate      RecordType = "PRIVATE"
)

// Format and Version identify the encoded index.
const (
	Format        = "dicomdisc-fileset"
	Version       = 1
	IndexFileName = "FILE-INDEX"
)

// Record is one node of the directory index. Attribute keys are DICOM keywords.
type Record struct {
	Type       RecordType        `cbor:"type"`
	Key        string            `cbor:"key"`
	Attributes map[string]string `cbor:"attrs,omitempty"`
	FileID     []string          `cbor:"file_id,omitempty"`
	Icon       *Icon             `cbor:"icon,omitempty"`
	Children   []*Record         `cbor:"children,omitempty"`
}

// Path returns the slash-joined file ID, or "" for directory-level records.
func (r *Record) Path() string {
	return strings.Join(r.FileID, "/")
}

// Icon is an 8-bit series thumbnail of at most 128x128 pixels.
type Icon struct {
	Rows                      int    `cbor:"rows"`
	Columns                   int    `cbor:"columns"`
	PhotometricInterpretation string `cbor:"photometric"`
	SamplesPerPixel           int    `cbor:"samples_per_pixel"`
	BitsAllocated             int    `cbor:"bits_allocated"`
	BitsStored                int    `cbor:"bits_stored"`
	HighBit                   int    `cbor:"high_bit"`
	// PaletteDescriptor is (entries, first mapped value, bits per entry),
	// shared by the three lookup tables.
	PaletteDescriptor []int  `cbor:"palette_descriptor,omitempty"`
	RedPalette        []byte `cbor:"red_palette,omitempty"`
	GreenPalette      []byte `cbor:"green_palette,omitempty"`
	BluePalette       []byte `cbor:"blue_palette,omitempty"`
	PixelData         []byte `cbor:"pixel_data"`
}

// FileSet is the finalized directory index. Records holds patients and
// PRIVATE root-level instances in admission order.
type FileSet struct {
	Format  string    `cbor:"format"`
	Version int       `cbor:"version"`
	Records []*Record `cbor:"records"`
}

// Walk visits every record depth-first, pre-order. Returning false from fn
// skips the record's children.
func (fs *FileSet) Walk(fn func(depth int, r *Record) bool) {
	if fs == nil {
		return
	}
	var walk func(depth int, records []*Record)
	walk = func(depth int, records []*Record) {
		for _, r := range records {
			if fn(depth, r) {
				walk(depth+1, r.Children)
			}
		}
	}
	walk(0, fs.Records)
}

// Count returns the number of records of typ.
func (fs *FileSet) Count(typ RecordType) int {
	n := 0
	fs.Walk(func(_ int, r *Record) bool {
		if r.Type == typ {
			n++
		}
		return true
	})
	return n
}

// Instances returns every record that references a file, in walk order.
func (fs *FileSet) Instances() []*Record {
	var out []*Record
	fs.Walk(func(_ int, r *Record) bool {
		if len(r.FileID) > 0 {
			out = append(out, r)
		}
		return true
	})
	return out
}
