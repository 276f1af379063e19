package fileset

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strconv"
	"strings"

	"dicomdisc/internal/logging"
	"dicomdisc/internal/selection"
	"dicomdisc/internal/services"
)

// PreviewRenderer produces the raster used for series icons. A nil image
// with a nil error means the instance has no preview.
type PreviewRenderer interface {
	Render(ctx context.Context, inst selection.ImageInstance) (image.Image, error)
}

// ErrFinalized is returned by Admit after Finalize.
var ErrFinalized = errors.New("fileset already finalized")

type seriesState struct {
	record    *Record
	instances map[string]*Record
}

// Builder accumulates directory records for admitted items. It is not safe
// for concurrent use; the export worker owns it for the life of a job.
type Builder struct {
	logger   *slog.Logger
	renderer PreviewRenderer

	records  []*Record
	patients map[string]*Record
	studies  map[string]*Record
	series   map[string]*seriesState
	private  map[string]*Record
	fileIDs  map[string]string

	finalized bool
}

// NewBuilder constructs a Builder. A nil renderer disables series icons.
func NewBuilder(renderer PreviewRenderer, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Builder{
		logger:   logger,
		renderer: renderer,
		patients: make(map[string]*Record),
		studies:  make(map[string]*Record),
		series:   make(map[string]*seriesState),
		private:  make(map[string]*Record),
		fileIDs:  make(map[string]string),
	}
}

// Admit records item under its patient, study and series, creating each
// level on first sight. Re-admitting an identity is a no-op. Two identities
// claiming the same fileID fail with services.ErrIndexInconsistency.
func (b *Builder) Admit(ctx context.Context, item selection.Item, fileID []string) error {
	if b.finalized {
		return ErrFinalized
	}
	identity := item.Identity()
	if identity == "" || len(fileID) == 0 {
		return services.Wrap(services.ErrIndexInconsistency, "staging", "index admit", "item has no identity or file ID", nil)
	}
	pathKey := strings.Join(fileID, "/")
	if owner, ok := b.fileIDs[pathKey]; ok && owner != identity {
		return services.Wrap(
			services.ErrIndexInconsistency,
			"staging",
			"index admit",
			fmt.Sprintf("file ID %s claimed by %s and %s", pathKey, owner, identity),
			nil,
		)
	}

	if item.StudyInstanceUID == "" || item.SeriesInstanceUID == "" {
		if _, ok := b.private[identity]; !ok {
			rec := instanceRecord(RecordPrivate, item, fileID)
			b.private[identity] = rec
			b.records = append(b.records, rec)
		}
		b.fileIDs[pathKey] = identity
		return nil
	}

	patientKey := item.PatientKey()
	patient, ok := b.patients[patientKey]
	if !ok {
		patient = &Record{Type: RecordPatient, Key: patientKey, Attributes: patientAttributes(item.Attributes)}
		b.patients[patientKey] = patient
		b.records = append(b.records, patient)
	}

	studyKey := patientKey + "\x00" + item.StudyInstanceUID
	study, ok := b.studies[studyKey]
	if !ok {
		study = &Record{Type: RecordStudy, Key: item.StudyInstanceUID, Attributes: studyAttributes(item.Attributes)}
		b.studies[studyKey] = study
		patient.Children = append(patient.Children, study)
	}

	seriesKey := studyKey + "\x00" + item.SeriesInstanceUID
	state, ok := b.series[seriesKey]
	if !ok {
		state = &seriesState{
			record:    &Record{Type: RecordSeries, Key: item.SeriesInstanceUID, Attributes: seriesAttributes(item.Attributes)},
			instances: make(map[string]*Record),
		}
		state.record.Icon = b.renderIcon(ctx, item)
		b.series[seriesKey] = state
		study.Children = append(study.Children, state.record)
	}

	if _, ok := state.instances[identity]; !ok {
		rec := instanceRecord(instanceType(item.Kind), item, fileID)
		state.instances[identity] = rec
		state.record.Children = append(state.record.Children, rec)
	}
	b.fileIDs[pathKey] = identity
	return nil
}

// Finalize returns the accumulated index. Later Admit calls fail.
func (b *Builder) Finalize() *FileSet {
	b.finalized = true
	return &FileSet{Format: Format, Version: Version, Records: b.records}
}

// renderIcon renders the middle member of the item's series. When no members
// are known, the item itself is the only instance seen in the series.
func (b *Builder) renderIcon(ctx context.Context, item selection.Item) *Icon {
	if b.renderer == nil || item.Kind == selection.KindDerivedAnnotation {
		return nil
	}
	var target selection.ImageInstance
	switch {
	case len(item.Members) > 0:
		target = item.Members[len(item.Members)/2]
	case item.Kind == selection.KindImage:
		target = selection.ImageInstance{Attributes: item.Attributes, Source: item.Source}
	default:
		return nil
	}

	img, err := b.renderer.Render(ctx, target)
	if err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, b.logger), "series icon render failed", "icon_render_failed",
			logging.String("series_uid", item.SeriesInstanceUID),
			logging.String("source", target.Source),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the source image is readable"),
			logging.String(logging.FieldImpact, "series record has no icon"),
		)
		return nil
	}
	return EncodeIcon(img)
}

func instanceType(kind selection.Kind) RecordType {
	switch kind {
	case selection.KindImage:
		return RecordImage
	case selection.KindDerivedAnnotation:
		return RecordPresentation
	default:
		return RecordPrivate
	}
}

func instanceRecord(typ RecordType, item selection.Item, fileID []string) *Record {
	attrs := map[string]string{}
	set(attrs, "SOPInstanceUID", item.SOPInstanceUID)
	set(attrs, "SOPClassUID", item.SOPClassUID)
	set(attrs, "TransferSyntaxUID", item.TransferSyntaxUID)
	if n, ok := item.InstanceNumberValue(); ok {
		attrs["InstanceNumber"] = strconv.Itoa(n)
	}
	set(attrs, "ReferencedSeriesInstanceUID", item.ReferencedSeriesUID)
	set(attrs, "ReferencedSOPInstanceUID", item.ReferencedSOPInstanceUID)
	return &Record{
		Type:       typ,
		Key:        item.Identity(),
		Attributes: attrs,
		FileID:     append([]string(nil), fileID...),
	}
}

func patientAttributes(a selection.Attributes) map[string]string {
	attrs := map[string]string{"PatientID": a.PatientKey()}
	set(attrs, "PatientName", a.PatientName)
	set(attrs, "PatientBirthDate", a.PatientBirthDate)
	return attrs
}

func studyAttributes(a selection.Attributes) map[string]string {
	attrs := map[string]string{"StudyInstanceUID": a.StudyInstanceUID}
	set(attrs, "StudyID", a.StudyID)
	set(attrs, "StudyDate", a.StudyDate)
	set(attrs, "StudyTime", a.StudyTime)
	set(attrs, "StudyDescription", a.StudyDescription)
	set(attrs, "AccessionNumber", a.AccessionNumber)
	return attrs
}

func seriesAttributes(a selection.Attributes) map[string]string {
	attrs := map[string]string{"SeriesInstanceUID": a.SeriesInstanceUID}
	set(attrs, "Modality", a.Modality)
	set(attrs, "SeriesNumber", a.SeriesNumber)
	set(attrs, "SeriesDescription", a.SeriesDescription)
	return attrs
}

func set(attrs map[string]string, key, value string) {
	if value != "" {
		attrs[key] = value
	}
}
