package catalog

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"dicomdisc/internal/selection"
	"dicomdisc/internal/services"
)

const defaultAnnotationMediaType = "application/octet-stream"

// Build arranges cat into a patient/study/series/instance selection tree and
// checks the nodes m selects. Multiframe instances get one node per frame.
// References to studies, series or instances missing from cat fail with
// services.ErrNotFound.
func Build(cat *Catalog, m *Manifest, newUID selection.UIDGenerator) (*selection.Tree, error) {
	if cat == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	if m == nil {
		m = &Manifest{}
	}
	if newUID == nil {
		newUID = selection.NewUID
	}
	sel, err := newSelector(cat, m)
	if err != nil {
		return nil, err
	}
	annotations, err := loadAnnotations(m.Annotations)
	if err != nil {
		return nil, err
	}

	root := &selection.Node{}
	patients := make(map[string]*selection.Node)
	studies := make(map[string]*selection.Node)
	seriesNodes := make(map[string]*selection.Node)
	seriesByUID := make(map[string]*selection.Node)

	for _, inst := range cat.Instances {
		patientKey := inst.PatientKey()
		patient, ok := patients[patientKey]
		if !ok {
			patient = &selection.Node{Payload: &selection.StudyGroup{
				Level: selection.LevelPatient,
				Label: firstNonEmpty(inst.PatientName, patientKey),
			}}
			patients[patientKey] = patient
			root.Add(patient)
		}

		studyKey := patientKey + "\x00" + inst.StudyInstanceUID
		study, ok := studies[studyKey]
		if !ok {
			study = &selection.Node{Payload: &selection.StudyGroup{
				Level: selection.LevelStudy,
				Label: firstNonEmpty(inst.StudyDescription, inst.StudyDate, inst.StudyInstanceUID),
			}}
			studies[studyKey] = study
			patient.Add(study)
		}

		seriesKey := studyKey + "\x00" + inst.SeriesInstanceUID
		series, ok := seriesNodes[seriesKey]
		if !ok {
			series = &selection.Node{
				Checked: sel.seriesChecked(inst),
				Payload: &selection.Series{
					Attributes:      seriesAttributes(inst.Attributes),
					SaveAnnotations: sel.saveAnnotations[inst.SeriesInstanceUID],
				},
			}
			seriesNodes[seriesKey] = series
			if _, dup := seriesByUID[inst.SeriesInstanceUID]; !dup {
				seriesByUID[inst.SeriesInstanceUID] = series
			}
			study.Add(series)
		}

		checked := sel.instanceChecked(inst)
		if inst.MIMEType != "" {
			series.Add(&selection.Node{
				Checked: checked,
				Payload: &selection.OpaqueMedia{
					Attributes:   inst.Attributes,
					Source:       inst.Path,
					Extension:    extensionFor(inst.MIMEType),
					Encapsulated: true,
				},
			})
			continue
		}

		source := &selection.ImageInstance{
			Attributes: inst.Attributes,
			Source:     inst.Path,
			Annotation: annotations[inst.SOPInstanceUID],
		}
		payload := series.Payload.(*selection.Series)
		payload.Source = append(payload.Source, source)
		for frame := range max(inst.Frames, 1) {
			img := *source
			img.Frame = frame
			series.Add(&selection.Node{Checked: checked, Payload: &img})
		}
	}

	for _, a := range m.Attachments {
		series, ok := seriesByUID[a.Series]
		if !ok {
			return nil, services.Wrap(services.ErrNotFound, "resolving", "attach", "attachment series "+a.Series+" is not in the catalog", nil)
		}
		if _, err := os.Stat(a.Path); err != nil {
			return nil, services.Wrap(services.ErrNotFound, "resolving", "attach", a.Path, err)
		}
		attrs := series.Payload.(*selection.Series).Attributes
		attrs.SOPInstanceUID = firstNonEmpty(a.SOPInstanceUID, newUID())
		series.Add(&selection.Node{
			Checked: true,
			Payload: &selection.OpaqueMedia{
				Attributes: attrs,
				Source:     a.Path,
				Extension:  filepath.Ext(a.Path),
			},
		})
	}

	return selection.NewTree(root), nil
}

type selector struct {
	all             bool
	studies         map[string]bool
	series          map[string]bool
	instances       map[string]bool
	saveAnnotations map[string]bool
}

func newSelector(cat *Catalog, m *Manifest) (*selector, error) {
	s := &selector{
		all:             m.IsEmpty(),
		studies:         make(map[string]bool),
		series:          make(map[string]bool),
		instances:       make(map[string]bool),
		saveAnnotations: make(map[string]bool),
	}
	known := struct{ studies, series, instances map[string]bool }{
		make(map[string]bool), make(map[string]bool), make(map[string]bool),
	}
	for _, inst := range cat.Instances {
		known.studies[inst.StudyInstanceUID] = true
		known.series[inst.SeriesInstanceUID] = true
		known.instances[inst.SOPInstanceUID] = true
	}

	var missing []string
	for _, uid := range m.Studies {
		if !known.studies[uid] {
			missing = append(missing, "study "+uid)
		}
		s.studies[uid] = true
	}
	for _, sel := range m.Series {
		if !known.series[sel.UID] {
			missing = append(missing, "series "+sel.UID)
		}
		s.series[sel.UID] = true
		if sel.SaveAnnotations {
			s.saveAnnotations[sel.UID] = true
		}
	}
	for _, uid := range m.Instances {
		if !known.instances[uid] {
			missing = append(missing, "instance "+uid)
		}
		s.instances[uid] = true
	}
	for _, a := range m.Annotations {
		if !known.instances[a.Instance] {
			missing = append(missing, "annotated instance "+a.Instance)
		}
	}
	if len(missing) > 0 {
		return nil, services.Wrap(services.ErrNotFound, "resolving", "select", "not in catalog: "+strings.Join(missing, ", "), nil)
	}
	return s, nil
}

func (s *selector) seriesChecked(inst Instance) bool {
	return s.all || s.studies[inst.StudyInstanceUID] || s.series[inst.SeriesInstanceUID]
}

func (s *selector) instanceChecked(inst Instance) bool {
	return s.seriesChecked(inst) || s.instances[inst.SOPInstanceUID]
}

func loadAnnotations(files []AnnotationFile) (map[string]*selection.Annotation, error) {
	out := make(map[string]*selection.Annotation, len(files))
	for _, f := range files {
		data, err := os.ReadFile(f.Path)
		if err != nil {
			return nil, services.Wrap(services.ErrNotFound, "resolving", "read annotation", f.Path, err)
		}
		mediaType := strings.TrimSpace(f.MediaType)
		if mediaType == "" {
			mediaType = mime.TypeByExtension(filepath.Ext(f.Path))
		}
		if mediaType == "" {
			mediaType = defaultAnnotationMediaType
		}
		out[f.Instance] = &selection.Annotation{MediaType: mediaType, Data: data}
	}
	return out, nil
}

func seriesAttributes(a selection.Attributes) selection.Attributes {
	a.SOPInstanceUID = ""
	a.SOPClassUID = ""
	a.TransferSyntaxUID = ""
	a.InstanceNumber = nil
	return a
}

func extensionFor(mimeType string) string {
	switch strings.ToLower(strings.TrimSpace(mimeType)) {
	case "application/pdf":
		return ".pdf"
	case "text/xml", "application/xml":
		return ".xml"
	case "model/stl":
		return ".stl"
	}
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
