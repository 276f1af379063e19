package testsupport

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"dicomdisc/internal/selection"
)

const (
	explicitVRLittleEndian = "1.2.840.10008.1.2.1"
	ctImageStorage         = "1.2.840.10008.5.1.4.1.1.2"
	encapsulatedPDFStorage = "1.2.840.10008.5.1.4.1.1.104.1"
)

// WriteDICOM writes a pixel-less Part 10 file carrying attrs to path.
// Missing SOP class defaults to CT Image Storage.
func WriteDICOM(t testing.TB, path string, attrs selection.Attributes) {
	t.Helper()
	writeDataset(t, path, attrs)
}

// WriteEncapsulatedDocument writes an encapsulated document instance whose
// EncapsulatedDocument element holds payload.
func WriteEncapsulatedDocument(t testing.TB, path string, attrs selection.Attributes, mimeType string, payload []byte) {
	t.Helper()
	if attrs.SOPClassUID == "" {
		attrs.SOPClassUID = encapsulatedPDFStorage
	}
	if attrs.Modality == "" {
		attrs.Modality = "DOC"
	}
	writeDataset(t, path, attrs,
		mustElement(t, tag.MIMETypeOfEncapsulatedDocument, []string{mimeType}),
		mustElement(t, tag.EncapsulatedDocument, payload),
	)
}

func writeDataset(t testing.TB, path string, attrs selection.Attributes, extra ...*dicom.Element) {
	t.Helper()

	sopClass := attrs.SOPClassUID
	if sopClass == "" {
		sopClass = ctImageStorage
	}
	elements := []*dicom.Element{
		mustElement(t, tag.MediaStorageSOPClassUID, []string{sopClass}),
		mustElement(t, tag.MediaStorageSOPInstanceUID, []string{attrs.SOPInstanceUID}),
		mustElement(t, tag.TransferSyntaxUID, []string{explicitVRLittleEndian}),
		mustElement(t, tag.SOPClassUID, []string{sopClass}),
		mustElement(t, tag.SOPInstanceUID, []string{attrs.SOPInstanceUID}),
	}
	optional := []struct {
		tag   tag.Tag
		value string
	}{
		{tag.StudyDate, attrs.StudyDate},
		{tag.AccessionNumber, attrs.AccessionNumber},
		{tag.Modality, attrs.Modality},
		{tag.StudyDescription, attrs.StudyDescription},
		{tag.SeriesDescription, attrs.SeriesDescription},
		{tag.PatientName, attrs.PatientName},
		{tag.PatientID, attrs.PatientID},
		{tag.PatientBirthDate, attrs.PatientBirthDate},
		{tag.StudyInstanceUID, attrs.StudyInstanceUID},
		{tag.SeriesInstanceUID, attrs.SeriesInstanceUID},
		{tag.StudyID, attrs.StudyID},
		{tag.SeriesNumber, attrs.SeriesNumber},
	}
	for _, o := range optional {
		if o.value != "" {
			elements = append(elements, mustElement(t, o.tag, []string{o.value}))
		}
	}
	if n, ok := attrs.InstanceNumberValue(); ok {
		elements = append(elements, mustElement(t, tag.InstanceNumber, []string{strconv.Itoa(n)}))
	}
	elements = append(elements, extra...)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	if err := dicom.Write(f, dicom.Dataset{Elements: elements}); err != nil {
		t.Fatalf("write dicom %s: %v", path, err)
	}
}

func mustElement(t testing.TB, tg tag.Tag, value any) *dicom.Element {
	t.Helper()
	el, err := dicom.NewElement(tg, value)
	if err != nil {
		t.Fatalf("new element %v: %v", tg, err)
	}
	return el
}
