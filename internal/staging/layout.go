package staging

import (
	"strings"

	"dicomdisc/internal/namemap"
	"dicomdisc/internal/selection"
)

// DICOMFolder is the top-level directory holding canonical copies.
const DICOMFolder = "DICOM"

// Readable folder names stay within the 31-character directory identifier of
// the disc image, series folders including their "-token" suffix.
const (
	renditionExtension     = ".jpg"
	patientFolderLength    = 30
	studyFolderLength      = 30
	seriesFolderLength     = 22
	defaultOpaqueExtension = ".bin"
)

// Layout maps items to their virtual paths inside the staging root.
type Layout struct {
	// RenditionFolder is the top-level directory of derivative renditions.
	RenditionFolder string
	// ReadableNames names rendition folders after patient, study and series
	// descriptions instead of identifier tokens.
	ReadableNames bool
}

// FileID returns the path segments of the canonical copy of item:
// DICOM/<patient>/<study>/<series>/<instance>.
func (l Layout) FileID(item selection.Item) []string {
	p, s, se := tokens(item.Attributes)
	return []string{DICOMFolder, p, s, se, namemap.MapIdentifier(item.Identity())}
}

// RenditionID returns the path segments of the derivative of item. Images
// become <n>.jpg named by zero-padded instance number (or identity token when
// unnumbered); opaque media keep their source extension.
func (l Layout) RenditionID(item selection.Item) []string {
	p, s, se := tokens(item.Attributes)
	if l.ReadableNames {
		p = namemap.FolderName(firstNonEmpty(item.PatientName, item.PatientKey()), patientFolderLength, "")
		s = namemap.FolderName(firstNonEmpty(item.StudyDescription, item.StudyDate, item.StudyInstanceUID), studyFolderLength, "")
		se = namemap.FolderName(firstNonEmpty(item.SeriesDescription, item.Modality), seriesFolderLength, se)
		p = nonEmptySegment(p, namemap.MapIdentifier(item.PseudoUID()))
		s = nonEmptySegment(s, namemap.MapIdentifier(item.StudyInstanceUID))
	}

	name := namemap.MapIdentifier(item.Identity())
	if n, ok := item.InstanceNumberValue(); ok {
		name = selection.FormatInstanceNumber(n)
	}
	ext := renditionExtension
	if item.Kind == selection.KindOpaque {
		ext = normalizeExtension(item.Extension)
	}
	folder := strings.Trim(l.RenditionFolder, "/")
	if folder == "" {
		folder = "JPEG"
	}
	return []string{folder, p, s, se, name + ext}
}

func tokens(a selection.Attributes) (patient, study, series string) {
	return namemap.MapIdentifier(a.PseudoUID()),
		namemap.MapIdentifier(a.StudyInstanceUID),
		namemap.MapIdentifier(a.SeriesInstanceUID)
}

func normalizeExtension(ext string) string {
	ext = strings.TrimSpace(ext)
	if ext == "" {
		return defaultOpaqueExtension
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return strings.ToLower(ext)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func nonEmptySegment(segment, fallback string) string {
	if segment == "" {
		return fallback
	}
	return segment
}
