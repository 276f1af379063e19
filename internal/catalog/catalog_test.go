package catalog_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"dicomdisc/internal/catalog"
	"dicomdisc/internal/logging"
	"dicomdisc/internal/selection"
	"dicomdisc/internal/services"
	"dicomdisc/internal/staging"
	"dicomdisc/internal/testsupport"
)

const (
	study   = "1.2.840.9"
	seriesA = "1.2.840.9.1"
	seriesB = "1.2.840.9.2"
)

func writeStudy(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	write := func(name, series, sop string, n int) {
		testsupport.WriteDICOM(t, filepath.Join(dir, name), selection.Attributes{
			PatientID:         "PAT001",
			PatientName:       "DOE^JANE",
			StudyInstanceUID:  study,
			StudyDescription:  "CT Chest",
			SeriesInstanceUID: series,
			Modality:          "CT",
			SOPInstanceUID:    sop,
			InstanceNumber:    selection.Int(n),
		})
	}
	write("a3.dcm", seriesA, seriesA+".3", 3)
	write("a1.dcm", seriesA, seriesA+".1", 1)
	write(filepath.Join("sub", "a2.dcm"), seriesA, seriesA+".2", 2)
	write("b1.dcm", seriesB, seriesB+".1", 1)
	testsupport.WriteFile(t, filepath.Join(dir, "notes.txt"), 20)
	testsupport.WriteFile(t, filepath.Join(dir, ".hidden", "x.dcm"), 20)
	return dir
}

func resolveAll(tree *selection.Tree) []selection.Item {
	var items []selection.Item
	for item := range selection.NewResolver(logging.NewNop(), nil).Resolve(tree.Snapshot()) {
		items = append(items, item)
	}
	return items
}

func TestScanReadsAndOrdersInstances(t *testing.T) {
	dir := writeStudy(t)
	cat, err := catalog.Scan(context.Background(), dir, nil)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(cat.Instances) != 4 {
		t.Fatalf("expected 4 instances, got %d", len(cat.Instances))
	}
	if len(cat.Skipped) != 1 || filepath.Base(cat.Skipped[0]) != "notes.txt" {
		t.Fatalf("expected notes.txt to be skipped, got %v", cat.Skipped)
	}
	want := []string{seriesA + ".1", seriesA + ".2", seriesA + ".3", seriesB + ".1"}
	for i, inst := range cat.Instances {
		if inst.SOPInstanceUID != want[i] {
			t.Fatalf("instance %d = %s, want %s", i, inst.SOPInstanceUID, want[i])
		}
	}
	if got := len(cat.Series(seriesA)); got != 3 {
		t.Fatalf("expected 3 instances in series A, got %d", got)
	}
	if _, ok := cat.Lookup(seriesB + ".1"); !ok {
		t.Fatal("expected lookup to find series B instance")
	}
}

func TestBuildWithoutManifestSelectsEverything(t *testing.T) {
	cat, err := catalog.Scan(context.Background(), writeStudy(t), nil)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	tree, err := catalog.Build(cat, nil, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	items := resolveAll(tree)
	if len(items) != 4 {
		t.Fatalf("expected 4 items, got %d", len(items))
	}
	if len(items[0].Members) != 3 {
		t.Fatalf("expected series A members, got %d", len(items[0].Members))
	}
}

func TestBuildWithManifest(t *testing.T) {
	dir := writeStudy(t)
	cat, err := catalog.Scan(context.Background(), dir, nil)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	work := t.TempDir()
	if err := os.WriteFile(filepath.Join(work, "overlay.json"), []byte(`{"shapes":[]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	testsupport.WriteFile(t, filepath.Join(work, "report.pdf"), 64)
	manifestPath := filepath.Join(work, "select.yaml")
	manifest := `
series:
  - uid: ` + seriesA + `
    save_annotations: true
attachments:
  - path: report.pdf
    series: ` + seriesA + `
annotations:
  - instance: ` + seriesA + `.2
    path: overlay.json
`
	if err := os.WriteFile(manifestPath, []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}
	m, err := catalog.LoadManifest(manifestPath)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	tree, err := catalog.Build(cat, m, func() string { return "2.25.77" })
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	counts := map[selection.Kind]int{}
	var opaque selection.Item
	var derived selection.Item
	for _, item := range resolveAll(tree) {
		counts[item.Kind]++
		switch item.Kind {
		case selection.KindOpaque:
			opaque = item
		case selection.KindDerivedAnnotation:
			derived = item
		}
		if item.SeriesInstanceUID == seriesB {
			t.Fatal("series B was not selected")
		}
	}
	if counts[selection.KindImage] != 3 || counts[selection.KindOpaque] != 1 || counts[selection.KindDerivedAnnotation] != 1 {
		t.Fatalf("unexpected item counts %v", counts)
	}
	if opaque.Extension != ".pdf" || opaque.SOPInstanceUID != "2.25.77" || opaque.Encapsulated {
		t.Fatalf("unexpected attachment item %+v", opaque)
	}
	if derived.ReferencedSOPInstanceUID != seriesA+".2" || derived.Annotation.MediaType != "application/json" {
		t.Fatalf("unexpected derived item %+v", derived)
	}
}

func TestEncapsulatedDocumentRendersAsDocument(t *testing.T) {
	dir := writeStudy(t)
	pdf := []byte("%PDF-1.4\n%%EOF\r\n")
	testsupport.WriteEncapsulatedDocument(t, filepath.Join(dir, "report.dcm"), selection.Attributes{
		PatientID:         "PAT001",
		StudyInstanceUID:  study,
		SeriesInstanceUID: seriesA,
		SOPInstanceUID:    seriesA + ".90",
		InstanceNumber:    selection.Int(1),
	}, "application/pdf", pdf)

	cat, err := catalog.Scan(context.Background(), dir, nil)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	tree, err := catalog.Build(cat, &catalog.Manifest{}, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	var doc *selection.Item
	for _, item := range resolveAll(tree) {
		if item.Kind == selection.KindOpaque {
			doc = &item
		}
	}
	if doc == nil || !doc.Encapsulated || doc.Extension != ".pdf" {
		t.Fatalf("expected an encapsulated pdf item, got %+v", doc)
	}

	w := staging.NewWriter(t.TempDir(), staging.Layout{RenditionFolder: "JPEG"}, nil, nil, nil)
	entry, err := w.StageRendition(context.Background(), *doc, 90)
	if err != nil {
		t.Fatalf("StageRendition: %v", err)
	}
	got, err := os.ReadFile(entry.FSPath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(got, []byte("%PDF")) {
		t.Fatalf("rendition does not start with %%PDF: %q", got[:min(len(got), 16)])
	}
}

func TestParseManifestRejectsUnknownKeys(t *testing.T) {
	_, err := catalog.ParseManifest([]byte("studies: [1]\nbogus: true\n"))
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	_, err = catalog.ParseManifest([]byte("series:\n  - save_annotations: true\n"))
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected missing uid to be rejected, got %v", err)
	}
	m, err := catalog.ParseManifest(nil)
	if err != nil || !m.IsEmpty() {
		t.Fatalf("expected empty manifest, got %+v, %v", m, err)
	}
}

func TestBuildRejectsUnknownReferences(t *testing.T) {
	cat, err := catalog.Scan(context.Background(), writeStudy(t), nil)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	_, err = catalog.Build(cat, &catalog.Manifest{Instances: []string{"9.9.9"}}, nil)
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
