package selection

import (
	"iter"
	"log/slog"

	"dicomdisc/internal/logging"
	"dicomdisc/internal/services"
)

const (
	// PresentationStateSOPClass is Grayscale Softcopy Presentation State Storage.
	PresentationStateSOPClass = "1.2.840.10008.5.1.4.1.1.11.1"
	presentationModality      = "PR"
)

// Kind tags a resolved Item.
type Kind int

const (
	KindImage Kind = iota + 1
	KindOpaque
	KindDerivedAnnotation
)

func (k Kind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindOpaque:
		return "opaque"
	case KindDerivedAnnotation:
		return "derived_annotation"
	default:
		return "unknown"
	}
}

// Item is one exportable object produced by the Resolver.
type Item struct {
	Kind Kind
	Attributes
	Source    string
	Extension string
	// Encapsulated marks opaque media whose Source is a DICOM file wrapping
	// the document.
	Encapsulated bool
	// Annotation is set for derived annotation items.
	Annotation *Annotation
	// The Referenced fields point a derived annotation at the image it was
	// drawn on.
	ReferencedSeriesUID      string
	ReferencedSOPClassUID    string
	ReferencedSOPInstanceUID string
	// Members lists the instances of the item's series in display order.
	Members []ImageInstance
}

// Identity is the dedup key of the item.
func (it Item) Identity() string {
	return it.SOPInstanceUID
}

// Resolver turns snapshots into lazy item sequences.
type Resolver struct {
	logger *slog.Logger
	newUID UIDGenerator
	// OnSkip, when set, receives every ErrResolutionSkip.
	OnSkip func(error)
}

// NewResolver constructs a Resolver. A nil generator uses NewUID.
func NewResolver(logger *slog.Logger, newUID UIDGenerator) *Resolver {
	if logger == nil {
		logger = logging.NewNop()
	}
	if newUID == nil {
		newUID = NewUID
	}
	return &Resolver{logger: logger, newUID: newUID}
}

// Resolve yields the items of snap in document order. Each SOP instance UID
// is yielded at most once. Flagged series yield one derived annotation per
// annotated source instance; all of them share one minted series UID. The
// sequence is single-pass: UIDs are minted during iteration.
func (r *Resolver) Resolve(snap *Snapshot) iter.Seq[Item] {
	return func(yield func(Item) bool) {
		seen := make(map[string]struct{})
		for _, entry := range snap.Entries() {
			switch p := entry.Payload.(type) {
			case *ImageInstance:
				if !r.admissible(p.Attributes, p.Source, "image", seen) {
					continue
				}
				item := Item{
					Kind:       KindImage,
					Attributes: p.Attributes,
					Source:     p.Source,
					Members:    entry.Members,
				}
				if !yield(item) {
					return
				}
			case *OpaqueMedia:
				if !r.admissible(p.Attributes, p.Source, "opaque", seen) {
					continue
				}
				item := Item{
					Kind:         KindOpaque,
					Attributes:   p.Attributes,
					Source:       p.Source,
					Extension:    p.Extension,
					Encapsulated: p.Encapsulated,
					Members:      entry.Members,
				}
				if !yield(item) {
					return
				}
			case *Series:
				if !p.SaveAnnotations {
					continue
				}
				if !r.resolveAnnotations(p, seen, yield) {
					return
				}
			case *StudyGroup:
			default:
				r.skip("unknown payload", services.Wrap(services.ErrResolutionSkip, "resolving", "classify", "node has no payload", nil))
			}
		}
	}
}

func (r *Resolver) resolveAnnotations(series *Series, seen map[string]struct{}, yield func(Item) bool) bool {
	if len(series.Source) == 0 {
		r.skip("annotation series has no source instances", services.Wrap(services.ErrResolutionSkip, "resolving", "annotations", "series "+series.SeriesInstanceUID+" has no source instances", nil))
		return true
	}
	var prSeriesUID string
	for _, src := range series.Source {
		if src == nil || src.Annotation == nil || len(src.Annotation.Data) == 0 {
			continue
		}
		if src.SOPInstanceUID == "" {
			r.skip("annotated instance has no identity", services.Wrap(services.ErrResolutionSkip, "resolving", "annotations", "annotated instance without SOP instance UID", nil))
			continue
		}
		if prSeriesUID == "" {
			prSeriesUID = r.newUID()
		}
		attrs := src.Attributes
		attrs.SeriesInstanceUID = prSeriesUID
		attrs.SeriesDescription = "Annotations"
		attrs.SeriesNumber = ""
		attrs.Modality = presentationModality
		attrs.SOPInstanceUID = r.newUID()
		attrs.SOPClassUID = PresentationStateSOPClass
		attrs.TransferSyntaxUID = ""
		attrs.InstanceNumber = nil
		seen[attrs.SOPInstanceUID] = struct{}{}

		item := Item{
			Kind:                     KindDerivedAnnotation,
			Attributes:               attrs,
			Annotation:               src.Annotation,
			ReferencedSeriesUID:      src.SeriesInstanceUID,
			ReferencedSOPClassUID:    src.SOPClassUID,
			ReferencedSOPInstanceUID: src.SOPInstanceUID,
		}
		if !yield(item) {
			return false
		}
	}
	return true
}

func (r *Resolver) admissible(attrs Attributes, source, kind string, seen map[string]struct{}) bool {
	if source == "" {
		r.skip("selected node has no media reference", services.Wrap(services.ErrResolutionSkip, "resolving", kind, "no media reference for "+attrs.SOPInstanceUID, nil))
		return false
	}
	if attrs.SOPInstanceUID == "" {
		r.skip("selected node has no SOP instance UID", services.Wrap(services.ErrResolutionSkip, "resolving", kind, "no SOP instance UID for "+source, nil))
		return false
	}
	if _, dup := seen[attrs.SOPInstanceUID]; dup {
		return false
	}
	seen[attrs.SOPInstanceUID] = struct{}{}
	return true
}

func (r *Resolver) skip(msg string, err error) {
	r.logger.Info(msg,
		logging.Error(err),
		logging.String(logging.FieldEventType, "resolution_skip"),
	)
	if r.OnSkip != nil {
		r.OnSkip(err)
	}
}

// Estimate counts the items Resolve would yield for snap without minting UIDs.
func (r *Resolver) Estimate(snap *Snapshot) int {
	seen := make(map[string]struct{})
	total := 0
	count := func(attrs Attributes, source string) {
		if source == "" || attrs.SOPInstanceUID == "" {
			return
		}
		if _, dup := seen[attrs.SOPInstanceUID]; dup {
			return
		}
		seen[attrs.SOPInstanceUID] = struct{}{}
		total++
	}
	for _, entry := range snap.Entries() {
		switch p := entry.Payload.(type) {
		case *ImageInstance:
			count(p.Attributes, p.Source)
		case *OpaqueMedia:
			count(p.Attributes, p.Source)
		case *Series:
			if !p.SaveAnnotations {
				continue
			}
			for _, src := range p.Source {
				if src != nil && src.Annotation != nil && len(src.Annotation.Data) > 0 && src.SOPInstanceUID != "" {
					total++
				}
			}
		}
	}
	return total
}
