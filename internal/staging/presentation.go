package staging

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"dicomdisc/internal/selection"
)

const (
	explicitVRLittleEndian = "1.2.840.10008.1.2.1"
	contentLabel           = "ANNOTATIONS"

	// PrivateCreator owns the private block carrying the annotation graphics.
	PrivateCreator = "DICOMDISC ANNOTATION"
)

// Private tags holding the annotation payload inside the presentation state.
var (
	privateCreatorTag = tag.Tag{Group: 0x0071, Element: 0x0010}
	// GraphicsMediaTypeTag is the media type of the annotation payload.
	GraphicsMediaTypeTag = tag.Tag{Group: 0x0071, Element: 0x1001}
	// GraphicsDataTag is the raw annotation payload.
	GraphicsDataTag = tag.Tag{Group: 0x0071, Element: 0x1002}
)

// EncodePresentationState writes a derived annotation item as a Part 10
// grayscale softcopy presentation state referencing the annotated image.
func EncodePresentationState(item selection.Item, now time.Time) ([]byte, error) {
	if item.Kind != selection.KindDerivedAnnotation {
		return nil, fmt.Errorf("item %s is not a derived annotation", item.Identity())
	}
	if item.Annotation == nil || len(item.Annotation.Data) == 0 {
		return nil, errors.New("annotation payload is empty")
	}
	if item.ReferencedSeriesUID == "" || item.ReferencedSOPInstanceUID == "" {
		return nil, errors.New("annotation has no referenced image")
	}

	var b elementBuilder
	b.add(tag.MediaStorageSOPClassUID, []string{item.SOPClassUID})
	b.add(tag.MediaStorageSOPInstanceUID, []string{item.SOPInstanceUID})
	b.add(tag.TransferSyntaxUID, []string{explicitVRLittleEndian})

	b.add(tag.SpecificCharacterSet, []string{"ISO_IR 192"})
	b.add(tag.SOPClassUID, []string{item.SOPClassUID})
	b.add(tag.SOPInstanceUID, []string{item.SOPInstanceUID})
	b.addOptional(tag.StudyDate, item.StudyDate)
	b.addOptional(tag.StudyTime, item.StudyTime)
	b.addOptional(tag.AccessionNumber, item.AccessionNumber)
	b.add(tag.Modality, []string{item.Modality})
	b.addOptional(tag.StudyDescription, item.StudyDescription)
	b.addOptional(tag.SeriesDescription, item.SeriesDescription)
	b.add(tag.ReferencedSeriesSequence, [][]*dicom.Element{referencedSeries(&b, item)})
	b.addOptional(tag.PatientName, item.PatientName)
	b.add(tag.PatientID, []string{item.PatientKey()})
	b.addOptional(tag.PatientBirthDate, item.PatientBirthDate)
	b.add(tag.StudyInstanceUID, []string{item.StudyInstanceUID})
	b.add(tag.SeriesInstanceUID, []string{item.SeriesInstanceUID})
	b.addOptional(tag.StudyID, item.StudyID)
	b.add(tag.SeriesNumber, []string{"1"})
	b.add(tag.InstanceNumber, []string{"1"})
	b.add(tag.ContentLabel, []string{contentLabel})
	b.add(tag.ContentDescription, []string{"Annotations of " + item.ReferencedSOPInstanceUID})
	b.add(tag.PresentationCreationDate, []string{now.Format("20060102")})
	b.add(tag.PresentationCreationTime, []string{now.Format("150405")})
	b.addPrivate(privateCreatorTag, "LO", []string{PrivateCreator})
	b.addPrivate(GraphicsMediaTypeTag, "LO", []string{item.Annotation.MediaType})
	b.addPrivate(GraphicsDataTag, "OB", item.Annotation.Data)
	if b.err != nil {
		return nil, b.err
	}

	elements := b.elements
	sort.SliceStable(elements, func(i, j int) bool {
		return tagLess(elements[i].Tag, elements[j].Tag)
	})
	var buf bytes.Buffer
	if err := dicom.Write(&buf, dicom.Dataset{Elements: elements}); err != nil {
		return nil, fmt.Errorf("write presentation state: %w", err)
	}
	return buf.Bytes(), nil
}

func referencedSeries(b *elementBuilder, item selection.Item) []*dicom.Element {
	var ref []*dicom.Element
	if item.ReferencedSOPClassUID != "" {
		ref = append(ref, b.element(tag.ReferencedSOPClassUID, []string{item.ReferencedSOPClassUID}))
	}
	ref = append(ref, b.element(tag.ReferencedSOPInstanceUID, []string{item.ReferencedSOPInstanceUID}))
	return []*dicom.Element{
		b.element(tag.ReferencedImageSequence, [][]*dicom.Element{ref}),
		b.element(tag.SeriesInstanceUID, []string{item.ReferencedSeriesUID}),
	}
}

// elementBuilder collects elements and keeps the first construction error.
type elementBuilder struct {
	elements []*dicom.Element
	err      error
}

func (b *elementBuilder) element(t tag.Tag, value any) *dicom.Element {
	el, err := dicom.NewElement(t, value)
	if err != nil {
		if b.err == nil {
			b.err = fmt.Errorf("element %s: %w", t, err)
		}
		return nil
	}
	return el
}

func (b *elementBuilder) add(t tag.Tag, value any) {
	if el := b.element(t, value); el != nil {
		b.elements = append(b.elements, el)
	}
}

func (b *elementBuilder) addOptional(t tag.Tag, value string) {
	if value != "" {
		b.add(t, []string{value})
	}
}

// addPrivate builds elements the dictionary does not know, with an explicit VR.
func (b *elementBuilder) addPrivate(t tag.Tag, vr string, value any) {
	v, err := dicom.NewValue(value)
	if err != nil {
		if b.err == nil {
			b.err = fmt.Errorf("private element %s: %w", t, err)
		}
		return
	}
	b.elements = append(b.elements, &dicom.Element{
		Tag:                    t,
		ValueRepresentation:    tag.GetVRKind(t, vr),
		RawValueRepresentation: vr,
		Value:                  v,
	})
}

func tagLess(a, b tag.Tag) bool {
	if a.Group != b.Group {
		return a.Group < b.Group
	}
	return a.Element < b.Element
}
