package selection

import (
	"cmp"
	"slices"
	"strconv"
)

// Attributes holds the identity and display attributes shared by stored
// instances. Empty strings mean "absent".
type Attributes struct {
	PatientID        string
	PatientName      string
	PatientBirthDate string
	// PatientPseudoUID distinguishes patients that share an ID across issuers.
	PatientPseudoUID string

	StudyInstanceUID string
	StudyID          string
	StudyDate        string
	StudyTime        string
	StudyDescription string
	AccessionNumber  string

	SeriesInstanceUID string
	SeriesNumber      string
	SeriesDescription string
	Modality          string

	SOPInstanceUID    string
	SOPClassUID       string
	TransferSyntaxUID string
	InstanceNumber    *int
}

// InstanceNumberValue returns the instance number and whether it is present.
func (a Attributes) InstanceNumberValue() (int, bool) {
	if a.InstanceNumber == nil {
		return 0, false
	}
	return *a.InstanceNumber, true
}

// PatientKey returns the patient identity used for grouping, falling back to
// the study UID when the patient ID is absent.
func (a Attributes) PatientKey() string {
	if a.PatientID != "" {
		return a.PatientID
	}
	return a.StudyInstanceUID
}

// PseudoUID returns PatientPseudoUID or, when empty, the patient key.
func (a Attributes) PseudoUID() string {
	if a.PatientPseudoUID != "" {
		return a.PatientPseudoUID
	}
	return a.PatientKey()
}

// Int returns a pointer to n for populating InstanceNumber.
func Int(n int) *int { return &n }

// FormatInstanceNumber renders n zero-padded to five digits.
func FormatInstanceNumber(n int) string {
	s := strconv.Itoa(n)
	if n < 0 || len(s) >= 5 {
		return s
	}
	return "00000"[len(s):] + s
}

// Payload is the sum type carried by a Node: one of *ImageInstance,
// *OpaqueMedia, *Series, or *StudyGroup.
type Payload interface {
	isPayload()
}

// Annotation is the overlay data drawn on an image by the user.
type Annotation struct {
	MediaType string
	Data      []byte
}

func (a *Annotation) clone() *Annotation {
	if a == nil {
		return nil
	}
	return &Annotation{MediaType: a.MediaType, Data: slices.Clone(a.Data)}
}

// ImageInstance is one stored image. A multiframe instance appears once per
// frame node, each sharing the SOP instance UID.
type ImageInstance struct {
	Attributes
	// Source is the path of the stored DICOM file.
	Source     string
	Frame      int
	Annotation *Annotation
}

// OpaqueMedia is a non-image object attached to a series (reports, PDFs).
type OpaqueMedia struct {
	Attributes
	Source string
	// Extension is the file extension used for the rendition copy, with a leading dot.
	Extension string
	// Encapsulated is set when Source is a DICOM encapsulated document rather
	// than the document itself.
	Encapsulated bool
}

// Series groups image and opaque nodes. When SaveAnnotations is set, every
// annotated instance in Source is exported as a new presentation object.
type Series struct {
	Attributes
	SaveAnnotations bool
	Source          []*ImageInstance
}

// GroupLevel identifies the hierarchy level of a StudyGroup.
type GroupLevel int

const (
	LevelPatient GroupLevel = iota + 1
	LevelStudy
)

func (l GroupLevel) String() string {
	switch l {
	case LevelPatient:
		return "patient"
	case LevelStudy:
		return "study"
	default:
		return "unknown"
	}
}

// StudyGroup is a grouping node above series.
type StudyGroup struct {
	Level GroupLevel
	Label string
}

func (*ImageInstance) isPayload() {}
func (*OpaqueMedia) isPayload()   {}
func (*Series) isPayload()        {}
func (*StudyGroup) isPayload()    {}

// Node is one entry of the checked-item tree.
type Node struct {
	Payload  Payload
	Checked  bool
	Children []*Node
}

// Add appends children and returns n for chaining.
func (n *Node) Add(children ...*Node) *Node {
	n.Children = append(n.Children, children...)
	return n
}

func clonePayload(p Payload) Payload {
	if isNilPayload(p) {
		return nil
	}
	switch v := p.(type) {
	case *ImageInstance:
		return v.clone()
	case *OpaqueMedia:
		c := *v
		c.Attributes = v.Attributes.clone()
		return &c
	case *Series:
		c := *v
		c.Attributes = v.Attributes.clone()
		c.Source = make([]*ImageInstance, 0, len(v.Source))
		for _, img := range v.Source {
			if img != nil {
				c.Source = append(c.Source, img.clone())
			}
		}
		return &c
	case *StudyGroup:
		c := *v
		return &c
	default:
		return nil
	}
}

func isNilPayload(p Payload) bool {
	switch v := p.(type) {
	case nil:
		return true
	case *ImageInstance:
		return v == nil
	case *OpaqueMedia:
		return v == nil
	case *Series:
		return v == nil
	case *StudyGroup:
		return v == nil
	}
	return false
}

func (img *ImageInstance) clone() *ImageInstance {
	c := *img
	c.Attributes = img.Attributes.clone()
	c.Annotation = img.Annotation.clone()
	return &c
}

func (a Attributes) clone() Attributes {
	if a.InstanceNumber != nil {
		a.InstanceNumber = Int(*a.InstanceNumber)
	}
	return a
}

// sortMembers orders instances by instance number, then SOP instance UID.
// Instances without a number sort after numbered ones.
func sortMembers(members []ImageInstance) {
	slices.SortStableFunc(members, func(a, b ImageInstance) int {
		an, aok := a.InstanceNumberValue()
		bn, bok := b.InstanceNumberValue()
		switch {
		case aok && bok && an != bn:
			return cmp.Compare(an, bn)
		case aok && !bok:
			return -1
		case !aok && bok:
			return 1
		}
		return cmp.Compare(a.SOPInstanceUID, b.SOPInstanceUID)
	})
}
