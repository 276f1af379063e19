package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"dicomdisc/internal/services"
)

// Manifest selects what to export from a Catalog. An empty manifest selects
// everything.
type Manifest struct {
	Studies     []string         `yaml:"studies"`
	Series      []SeriesSelector `yaml:"series"`
	Instances   []string         `yaml:"instances"`
	Attachments []Attachment     `yaml:"attachments"`
	Annotations []AnnotationFile `yaml:"annotations"`
}

// SeriesSelector selects a whole series. SaveAnnotations exports the overlays
// of its annotated instances as presentation objects.
type SeriesSelector struct {
	UID             string `yaml:"uid"`
	SaveAnnotations bool   `yaml:"save_annotations"`
}

// Attachment is a non-image file exported with a series.
type Attachment struct {
	Path   string `yaml:"path"`
	Series string `yaml:"series"`
	// SOPInstanceUID identifies the attachment; empty mints one.
	SOPInstanceUID string `yaml:"sop_instance_uid"`
}

// AnnotationFile attaches overlay data to a stored instance.
type AnnotationFile struct {
	Instance  string `yaml:"instance"`
	Path      string `yaml:"path"`
	MediaType string `yaml:"media_type"`
}

// IsEmpty reports whether m selects nothing explicitly.
func (m *Manifest) IsEmpty() bool {
	return m == nil || (len(m.Studies) == 0 && len(m.Series) == 0 && len(m.Instances) == 0)
}

// LoadManifest reads a YAML manifest. Relative attachment and annotation
// paths are resolved against the manifest's directory. Unknown keys are
// rejected.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, err
	}
	base := filepath.Dir(path)
	for i := range m.Attachments {
		m.Attachments[i].Path = resolve(base, m.Attachments[i].Path)
	}
	for i := range m.Annotations {
		m.Annotations[i].Path = resolve(base, m.Annotations[i].Path)
	}
	return m, nil
}

// ParseManifest decodes a YAML manifest.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil && !errors.Is(err, io.EOF) {
		return nil, services.Wrap(services.ErrConfiguration, "resolving", "parse manifest", "invalid manifest", err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Manifest) validate() error {
	var problems []string
	for i, s := range m.Series {
		if strings.TrimSpace(s.UID) == "" {
			problems = append(problems, fmt.Sprintf("series[%d].uid is required", i))
		}
	}
	for i, a := range m.Attachments {
		if strings.TrimSpace(a.Path) == "" {
			problems = append(problems, fmt.Sprintf("attachments[%d].path is required", i))
		}
		if strings.TrimSpace(a.Series) == "" {
			problems = append(problems, fmt.Sprintf("attachments[%d].series is required", i))
		}
	}
	for i, a := range m.Annotations {
		if strings.TrimSpace(a.Instance) == "" {
			problems = append(problems, fmt.Sprintf("annotations[%d].instance is required", i))
		}
		if strings.TrimSpace(a.Path) == "" {
			problems = append(problems, fmt.Sprintf("annotations[%d].path is required", i))
		}
	}
	if len(problems) > 0 {
		return services.Wrap(services.ErrConfiguration, "resolving", "validate manifest", strings.Join(problems, "; "), nil)
	}
	return nil
}

func resolve(base, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}
