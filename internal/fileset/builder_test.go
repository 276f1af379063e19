package fileset_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"dicomdisc/internal/fileset"
	"dicomdisc/internal/selection"
	"dicomdisc/internal/services"
)

type countingRenderer struct {
	calls   []string
	img     image.Image
	failErr error
}

func (r *countingRenderer) Render(_ context.Context, inst selection.ImageInstance) (image.Image, error) {
	r.calls = append(r.calls, inst.SOPInstanceUID)
	if r.failErr != nil {
		return nil, r.failErr
	}
	return r.img, nil
}

func grayImage(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = uint8(i % 256)
	}
	return img
}

func imageItem(series, sop string, members ...selection.ImageInstance) selection.Item {
	return selection.Item{
		Kind: selection.KindImage,
		Attributes: selection.Attributes{
			PatientID:         "PAT001",
			PatientName:       "DOE^JANE",
			StudyInstanceUID:  "1.2.3",
			SeriesInstanceUID: series,
			SOPInstanceUID:    sop,
			Modality:          "CT",
		},
		Source:  "/data/" + sop,
		Members: members,
	}
}

func member(sop string, n int) selection.ImageInstance {
	return selection.ImageInstance{
		Attributes: selection.Attributes{SOPInstanceUID: sop, InstanceNumber: selection.Int(n)},
		Source:     "/data/" + sop,
	}
}

func TestAdmitBuildsFourLevelTree(t *testing.T) {
	renderer := &countingRenderer{img: grayImage(512, 256)}
	b := fileset.NewBuilder(renderer, nil)
	ctx := context.Background()

	members := []selection.ImageInstance{member("a", 1), member("b", 2), member("c", 3)}
	for _, sop := range []string{"a", "b", "c"} {
		if err := b.Admit(ctx, imageItem("1.2.3.1", sop, members...), []string{"DICOM", "p", "s", "se", sop}); err != nil {
			t.Fatalf("admit %s: %v", sop, err)
		}
	}
	// re-admitting an identity adds nothing
	if err := b.Admit(ctx, imageItem("1.2.3.1", "a", members...), []string{"DICOM", "p", "s", "se", "a"}); err != nil {
		t.Fatalf("re-admit: %v", err)
	}
	fs := b.Finalize()

	if got := fs.Count(fileset.RecordPatient); got != 1 {
		t.Fatalf("patients = %d", got)
	}
	if got := fs.Count(fileset.RecordStudy); got != 1 {
		t.Fatalf("studies = %d", got)
	}
	if got := fs.Count(fileset.RecordSeries); got != 1 {
		t.Fatalf("series = %d", got)
	}
	if got := fs.Count(fileset.RecordImage); got != 3 {
		t.Fatalf("images = %d", got)
	}
	if len(renderer.calls) != 1 || renderer.calls[0] != "b" {
		t.Fatalf("expected one render of the middle member, got %v", renderer.calls)
	}

	series := fs.Records[0].Children[0].Children[0]
	if series.Icon == nil {
		t.Fatal("expected series icon")
	}
	if series.Icon.Columns != 128 || series.Icon.Rows != 64 {
		t.Fatalf("icon size %dx%d, want 128x64", series.Icon.Columns, series.Icon.Rows)
	}
	if series.Icon.PhotometricInterpretation != "MONOCHROME2" {
		t.Fatalf("photometric = %q", series.Icon.PhotometricInterpretation)
	}
	if got := series.Children[2].Path(); got != "DICOM/p/s/se/c" {
		t.Fatalf("file id = %q", got)
	}
	if err := b.Admit(ctx, imageItem("1.2.3.1", "d"), []string{"x"}); !errors.Is(err, fileset.ErrFinalized) {
		t.Fatalf("expected ErrFinalized, got %v", err)
	}
}

func TestAdmitRendersOncePerSeries(t *testing.T) {
	renderer := &countingRenderer{img: grayImage(8, 8)}
	b := fileset.NewBuilder(renderer, nil)
	ctx := context.Background()

	admit := func(series, sop string) {
		t.Helper()
		if err := b.Admit(ctx, imageItem(series, sop), []string{"DICOM", series, sop}); err != nil {
			t.Fatal(err)
		}
	}
	admit("s1", "1")
	admit("s1", "2")
	admit("s2", "3")
	admit("s1", "4")
	admit("s2", "5")

	if len(renderer.calls) != 2 {
		t.Fatalf("expected one render per series, got %v", renderer.calls)
	}
	if renderer.calls[0] != "1" || renderer.calls[1] != "3" {
		t.Fatalf("expected fallback to the first admitted instance, got %v", renderer.calls)
	}
}

func TestAdmitRenderFailureLeavesNoIcon(t *testing.T) {
	renderer := &countingRenderer{failErr: errors.New("unsupported transfer syntax")}
	b := fileset.NewBuilder(renderer, nil)
	if err := b.Admit(context.Background(), imageItem("s1", "1"), []string{"DICOM", "1"}); err != nil {
		t.Fatalf("render failure must not fail admission: %v", err)
	}
	if err := b.Admit(context.Background(), imageItem("s1", "2"), []string{"DICOM", "2"}); err != nil {
		t.Fatal(err)
	}
	fs := b.Finalize()
	if fs.Records[0].Children[0].Children[0].Icon != nil {
		t.Fatal("expected no icon")
	}
	if len(renderer.calls) != 1 {
		t.Fatalf("expected a single render attempt, got %d", len(renderer.calls))
	}
}

func TestAdmitFileIDCollision(t *testing.T) {
	b := fileset.NewBuilder(nil, nil)
	ctx := context.Background()
	if err := b.Admit(ctx, imageItem("s1", "1.2.1"), []string{"DICOM", "aaaaaaaa"}); err != nil {
		t.Fatal(err)
	}
	err := b.Admit(ctx, imageItem("s1", "1.2.2"), []string{"DICOM", "aaaaaaaa"})
	if !errors.Is(err, services.ErrIndexInconsistency) {
		t.Fatalf("expected index inconsistency, got %v", err)
	}
}

func TestAdmitPrivateAndPresentationRecords(t *testing.T) {
	b := fileset.NewBuilder(&countingRenderer{img: grayImage(4, 4)}, nil)
	ctx := context.Background()

	orphan := selection.Item{Kind: selection.KindOpaque, Attributes: selection.Attributes{SOPInstanceUID: "9.9"}, Source: "/x"}
	if err := b.Admit(ctx, orphan, []string{"DICOM", "orphan"}); err != nil {
		t.Fatal(err)
	}
	pr := selection.Item{
		Kind: selection.KindDerivedAnnotation,
		Attributes: selection.Attributes{
			PatientID:         "PAT001",
			StudyInstanceUID:  "1.2.3",
			SeriesInstanceUID: "2.25.1",
			SOPInstanceUID:    "2.25.2",
			SOPClassUID:       selection.PresentationStateSOPClass,
			Modality:          "PR",
		},
		ReferencedSeriesUID:      "1.2.3.1",
		ReferencedSOPInstanceUID: "1.2.3.1.1",
	}
	if err := b.Admit(ctx, pr, []string{"DICOM", "p", "s", "pr", "x"}); err != nil {
		t.Fatal(err)
	}
	fs := b.Finalize()
	if fs.Records[0].Type != fileset.RecordPrivate || fs.Records[0].Key != "9.9" {
		t.Fatalf("expected root private record, got %+v", fs.Records[0])
	}
	if got := fs.Count(fileset.RecordPresentation); got != 1 {
		t.Fatalf("presentation records = %d", got)
	}
	series := fs.Records[1].Children[0].Children[0]
	if series.Icon != nil {
		t.Fatal("presentation series must not carry an icon")
	}
	if got := series.Children[0].Attributes["ReferencedSOPInstanceUID"]; got != "1.2.3.1.1" {
		t.Fatalf("referenced SOP = %q", got)
	}
}

func TestEncodeIconPalette(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 300, 150))
	for y := 0; y < 150; y++ {
		for x := 0; x < 300; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	icon := fileset.EncodeIcon(img)
	if icon == nil {
		t.Fatal("expected icon")
	}
	if icon.PhotometricInterpretation != "PALETTE COLOR" {
		t.Fatalf("photometric = %q", icon.PhotometricInterpretation)
	}
	if icon.Columns != 128 || icon.Rows != 64 {
		t.Fatalf("size %dx%d", icon.Columns, icon.Rows)
	}
	if len(icon.PixelData) != 128*64 {
		t.Fatalf("pixel bytes = %d", len(icon.PixelData))
	}
	if icon.PaletteDescriptor[0] != 216 || len(icon.RedPalette) != 216 {
		t.Fatalf("unexpected palette %v / %d", icon.PaletteDescriptor, len(icon.RedPalette))
	}
	if icon.BitsAllocated != 8 || icon.HighBit != 7 || icon.SamplesPerPixel != 1 {
		t.Fatalf("unexpected pixel module %+v", icon)
	}
	if fileset.EncodeIcon(nil) != nil {
		t.Fatal("nil image must yield nil icon")
	}
}

func TestWriterIsDeterministic(t *testing.T) {
	build := func() *fileset.FileSet {
		b := fileset.NewBuilder(&countingRenderer{img: grayImage(16, 16)}, nil)
		for _, sop := range []string{"1", "2", "3"} {
			if err := b.Admit(context.Background(), imageItem("s1", sop), []string{"DICOM", "a", sop}); err != nil {
				t.Fatal(err)
			}
		}
		return b.Finalize()
	}

	dir := t.TempDir()
	var outputs [][]byte
	for i := range 2 {
		path := filepath.Join(dir, "run", fileset.IndexFileName)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		w, err := fileset.OpenWriter(path)
		if err != nil {
			t.Fatal(err)
		}
		if err := w.CommitAndClose(build()); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		outputs = append(outputs, data)
	}
	if !bytes.Equal(outputs[0], outputs[1]) {
		t.Fatal("index bytes differ between identical runs")
	}

	fs, err := fileset.ReadFile(filepath.Join(dir, "run", fileset.IndexFileName))
	if err != nil {
		t.Fatal(err)
	}
	if len(fs.Instances()) != 3 {
		t.Fatalf("decoded instances = %d", len(fs.Instances()))
	}
	if fs.Instances()[0].Path() != "DICOM/a/1" {
		t.Fatalf("decoded path = %q", fs.Instances()[0].Path())
	}
}

func TestWriterAbortRemovesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), fileset.IndexFileName)
	w, err := fileset.OpenWriter(path)
	if err != nil {
		t.Fatal(err)
	}
	w.Abort()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected index to be removed, stat err=%v", err)
	}
	if _, err := fileset.OpenWriter(filepath.Join(t.TempDir(), "missing", "FILE-INDEX")); err == nil {
		t.Fatal("expected error for missing parent directory")
	}
}
