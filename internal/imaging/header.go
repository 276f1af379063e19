package imaging

import (
	"fmt"
	"strconv"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"dicomdisc/internal/selection"
)

// Header is the identity and display metadata of a stored instance.
type Header struct {
	selection.Attributes
	// Frames is the NumberOfFrames value; single-frame instances report 1.
	Frames int
	// MIMEType is set for encapsulated documents.
	MIMEType string
}

// ReadHeader parses path without its pixel data.
func ReadHeader(path string) (Header, error) {
	ds, err := dicom.ParseFile(path, nil, dicom.SkipPixelData())
	if err != nil {
		return Header{}, fmt.Errorf("parse %s: %w", path, err)
	}
	h := Header{
		Attributes: selection.Attributes{
			PatientID:         stringValue(&ds, tag.PatientID),
			PatientName:       stringValue(&ds, tag.PatientName),
			PatientBirthDate:  stringValue(&ds, tag.PatientBirthDate),
			StudyInstanceUID:  stringValue(&ds, tag.StudyInstanceUID),
			StudyID:           stringValue(&ds, tag.StudyID),
			StudyDate:         stringValue(&ds, tag.StudyDate),
			StudyTime:         stringValue(&ds, tag.StudyTime),
			StudyDescription:  stringValue(&ds, tag.StudyDescription),
			AccessionNumber:   stringValue(&ds, tag.AccessionNumber),
			SeriesInstanceUID: stringValue(&ds, tag.SeriesInstanceUID),
			SeriesNumber:      stringValue(&ds, tag.SeriesNumber),
			SeriesDescription: stringValue(&ds, tag.SeriesDescription),
			Modality:          stringValue(&ds, tag.Modality),
			SOPInstanceUID:    stringValue(&ds, tag.SOPInstanceUID),
			SOPClassUID:       stringValue(&ds, tag.SOPClassUID),
			TransferSyntaxUID: stringValue(&ds, tag.TransferSyntaxUID),
		},
		Frames:   1,
		MIMEType: stringValue(&ds, tag.MIMETypeOfEncapsulatedDocument),
	}
	if h.SOPInstanceUID == "" {
		h.SOPInstanceUID = stringValue(&ds, tag.MediaStorageSOPInstanceUID)
	}
	if n, err := strconv.Atoi(stringValue(&ds, tag.InstanceNumber)); err == nil {
		h.InstanceNumber = selection.Int(n)
	}
	if n, err := strconv.Atoi(stringValue(&ds, tag.NumberOfFrames)); err == nil && n > 1 {
		h.Frames = n
	}
	return h, nil
}
