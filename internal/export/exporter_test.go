package export_test

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"dicomdisc/internal/archive"
	"dicomdisc/internal/export"
	"dicomdisc/internal/fileset"
	"dicomdisc/internal/jobstore"
	"dicomdisc/internal/logging"
	"dicomdisc/internal/namemap"
	"dicomdisc/internal/selection"
	"dicomdisc/internal/services"
	"dicomdisc/internal/testsupport"
)

const (
	studyUID = "1.2.840.1"
	seriesA  = "1.2.840.1.1"
	seriesB  = "1.2.840.1.2"
)

type fakeRenderer struct {
	mu     sync.Mutex
	calls  int
	onCall func(n int)
}

func (r *fakeRenderer) Render(context.Context, selection.ImageInstance) (image.Image, error) {
	r.mu.Lock()
	r.calls++
	n := r.calls
	hook := r.onCall
	r.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	return image.NewGray(image.Rect(0, 0, 64, 64)), nil
}

func (r *fakeRenderer) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type fakeEncoder struct{}

func (fakeEncoder) Encode(w io.Writer, _ image.Image, _ int) error {
	_, err := w.Write([]byte("jpeg"))
	return err
}

// captureArchiver records the staging tree it is handed.
type captureArchiver struct {
	calls int
	files []string
	index *fileset.FileSet
	err   error
}

func (a *captureArchiver) Build(_ context.Context, req archive.Request) (*archive.File, error) {
	a.calls++
	if a.err != nil {
		return nil, a.err
	}
	err := filepath.WalkDir(req.StagingRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, _ := filepath.Rel(req.StagingRoot, path)
		a.files = append(a.files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(a.files)
	if a.index, err = fileset.ReadFile(filepath.Join(req.StagingRoot, fileset.IndexFileName)); err != nil {
		return nil, err
	}
	if err := os.WriteFile(req.OutputPath, []byte("image"), 0o644); err != nil {
		return nil, err
	}
	return &archive.File{Path: req.OutputPath, Size: 5, Entries: len(a.files)}, nil
}

func (a *captureArchiver) withPrefix(prefix string) []string {
	var out []string
	for _, f := range a.files {
		if strings.HasPrefix(f, prefix) {
			out = append(out, f)
		}
	}
	return out
}

func instanceNode(t *testing.T, dir, series, sop string, number int) *selection.Node {
	t.Helper()
	source := filepath.Join(dir, sop+".dcm")
	if err := os.WriteFile(source, []byte("DICM "+sop), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	return &selection.Node{
		Checked: true,
		Payload: &selection.ImageInstance{
			Attributes: selection.Attributes{
				PatientID:         "PAT001",
				PatientName:       "Doe^Jane",
				StudyInstanceUID:  studyUID,
				SeriesInstanceUID: series,
				SOPInstanceUID:    sop,
				Modality:          "CT",
				InstanceNumber:    selection.Int(number),
			},
			Source: source,
		},
	}
}

func seriesNode(uid string, children ...*selection.Node) *selection.Node {
	n := &selection.Node{
		Checked: true,
		Payload: &selection.Series{Attributes: selection.Attributes{PatientID: "PAT001", StudyInstanceUID: studyUID, SeriesInstanceUID: uid}},
	}
	return n.Add(children...)
}

// scenarioTree is series A with three images numbered numbers and series B
// with one image.
func scenarioTree(t *testing.T, numbers ...int) (*selection.Tree, string) {
	t.Helper()
	dir := t.TempDir()
	a := seriesNode(seriesA)
	for i, n := range numbers {
		a.Add(instanceNode(t, dir, seriesA, fmt.Sprintf("%s.%d", seriesA, i+1), n))
	}
	b := seriesNode(seriesB, instanceNode(t, dir, seriesB, seriesB+".1", 1))
	study := (&selection.Node{Checked: true, Payload: &selection.StudyGroup{Level: selection.LevelStudy, Label: "CT"}}).Add(a, b)
	root := (&selection.Node{Payload: &selection.StudyGroup{Level: selection.LevelPatient, Label: "Doe^Jane"}}).Add(study)
	return selection.NewTree(root), dir
}

func waitDone(t *testing.T, h *export.Handle) (*archive.File, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	file, err := h.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("timed out waiting for export job")
	}
	return file, err
}

func assertStagingEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read staging dir: %v", err)
	}
	if len(entries) != 0 {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("expected empty staging dir, found %v", names)
	}
}

func baseOptions(renditions bool) export.Options {
	return export.Options{IncludeRenditions: renditions, RenditionFolder: "JPEG", RenditionQuality: 80}
}

func TestExportScenarioFourItems(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	tree, _ := scenarioTree(t, 1, 2, 3)
	renderer := &fakeRenderer{}
	arch := &captureArchiver{}
	e := export.New(cfg, export.Dependencies{Renderer: renderer, Encoder: fakeEncoder{}, Archiver: arch, Store: store}, logging.NewNop())

	h, err := e.Submit(context.Background(), tree, baseOptions(false))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	file, err := waitDone(t, h)
	if err != nil {
		t.Fatalf("job failed: %v", err)
	}
	if h.State() != export.StateDone {
		t.Fatalf("expected done, got %s", h.State())
	}
	if file == nil || file.Path != cfg.DefaultOutputPath() {
		t.Fatalf("unexpected archive %+v", file)
	}

	canonical := arch.withPrefix("DICOM/")
	if len(canonical) != 4 {
		t.Fatalf("expected 4 canonical files, got %v", canonical)
	}
	seriesDirs := map[string]struct{}{}
	for _, p := range canonical {
		parts := strings.Split(p, "/")
		if len(parts) != 5 {
			t.Fatalf("unexpected canonical path depth: %s", p)
		}
		seriesDirs[parts[3]] = struct{}{}
	}
	if len(seriesDirs) != 2 {
		t.Fatalf("expected 2 series directories, got %d", len(seriesDirs))
	}
	if len(arch.withPrefix("JPEG/")) != 0 {
		t.Fatal("renditions were disabled")
	}
	if len(arch.withPrefix(fileset.IndexFileName)) != 1 {
		t.Fatalf("expected FILE-INDEX in staging root, got %v", arch.files)
	}

	idx := arch.index
	if idx.Count(fileset.RecordPatient) != 1 || idx.Count(fileset.RecordStudy) != 1 ||
		idx.Count(fileset.RecordSeries) != 2 || idx.Count(fileset.RecordImage) != 4 {
		t.Fatalf("unexpected index counts: patients=%d studies=%d series=%d images=%d",
			idx.Count(fileset.RecordPatient), idx.Count(fileset.RecordStudy),
			idx.Count(fileset.RecordSeries), idx.Count(fileset.RecordImage))
	}
	idx.Walk(func(_ int, r *fileset.Record) bool {
		if r.Type == fileset.RecordSeries && r.Icon == nil {
			t.Errorf("series %s has no icon", r.Key)
		}
		return true
	})
	if got := renderer.Calls(); got != 2 {
		t.Fatalf("expected one render per series, got %d", got)
	}

	processed, total := h.Progress()
	if processed != 4 || total != 4 || h.Skipped() != 0 {
		t.Fatalf("unexpected progress %d/%d skipped %d", processed, total, h.Skipped())
	}
	assertStagingEmpty(t, cfg.Paths.StagingDir)

	job, err := store.GetJob(context.Background(), h.ID())
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.State != jobstore.StateDone || job.Processed != 4 || job.ArchiveBytes != 5 {
		t.Fatalf("unexpected job record %+v", job)
	}
	prefs, err := store.LoadPreferences(context.Background())
	if err != nil {
		t.Fatalf("LoadPreferences: %v", err)
	}
	if prefs.IncludeRenditions || prefs.IncludeViewer {
		t.Fatalf("expected disabled toggles to be saved, got %+v", prefs)
	}
	if prefs.LastFolder != cfg.Paths.OutputDir {
		t.Fatalf("expected last folder %q, got %q", cfg.Paths.OutputDir, prefs.LastFolder)
	}
}

func TestExportRenditionUsesPaddedInstanceNumber(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	tree, _ := scenarioTree(t, 1, 2, 7)
	arch := &captureArchiver{}
	e := export.New(cfg, export.Dependencies{Renderer: &fakeRenderer{}, Encoder: fakeEncoder{}, Archiver: arch}, nil)

	h, err := e.Submit(context.Background(), tree, baseOptions(true))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := waitDone(t, h); err != nil {
		t.Fatalf("job failed: %v", err)
	}

	want := fmt.Sprintf("JPEG/%s/%s/%s/00007.jpg",
		namemap.MapIdentifier("PAT001"), namemap.MapIdentifier(studyUID), namemap.MapIdentifier(seriesA))
	found := false
	for _, f := range arch.files {
		if f == want {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected rendition %s, got %v", want, arch.withPrefix("JPEG/"))
	}
	if got := len(arch.withPrefix("JPEG/")); got != 4 {
		t.Fatalf("expected 4 renditions, got %d", got)
	}
}

func TestExportReadFaultSkipsItem(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	tree, dir := scenarioTree(t, 1, 2, 3)
	broken := seriesA + ".2"
	if err := os.Remove(filepath.Join(dir, broken+".dcm")); err != nil {
		t.Fatalf("remove source: %v", err)
	}
	arch := &captureArchiver{}
	e := export.New(cfg, export.Dependencies{Renderer: &fakeRenderer{}, Encoder: fakeEncoder{}, Archiver: arch}, nil)

	h, err := e.Submit(context.Background(), tree, baseOptions(false))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := waitDone(t, h); err != nil {
		t.Fatalf("expected job to complete, got %v", err)
	}
	if h.State() != export.StateDone || h.Skipped() != 1 {
		t.Fatalf("unexpected state %s skipped %d", h.State(), h.Skipped())
	}

	brokenToken := namemap.MapIdentifier(broken)
	canonical := arch.withPrefix("DICOM/")
	if len(canonical) != 3 {
		t.Fatalf("expected 3 canonical files, got %v", canonical)
	}
	for _, p := range canonical {
		if strings.HasSuffix(p, "/"+brokenToken) {
			t.Fatalf("failed item was staged: %s", p)
		}
	}
	for _, rec := range arch.index.Instances() {
		if rec.Key == broken {
			t.Fatal("failed item was indexed")
		}
	}
	if arch.index.Count(fileset.RecordImage) != 3 {
		t.Fatalf("expected 3 indexed images, got %d", arch.index.Count(fileset.RecordImage))
	}
}

func TestExportCancelAfterKItems(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	tree, _ := scenarioTree(t, 1, 2, 3)

	reached := make(chan struct{})
	release := make(chan struct{})
	renderer := &fakeRenderer{onCall: func(n int) {
		// The second render is series B's icon, i.e. the fourth item.
		if n == 2 {
			close(reached)
			<-release
		}
	}}
	arch := &captureArchiver{}
	e := export.New(cfg, export.Dependencies{Renderer: renderer, Encoder: fakeEncoder{}, Archiver: arch}, nil)

	h, err := e.Submit(context.Background(), tree, baseOptions(false))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	select {
	case <-reached:
	case <-time.After(30 * time.Second):
		t.Fatal("job never reached the fourth item")
	}
	h.Cancel()
	close(release)

	file, err := waitDone(t, h)
	if !errors.Is(err, services.ErrJobCancelled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if file != nil {
		t.Fatalf("expected no archive, got %+v", file)
	}
	if h.State() != export.StateCancelled {
		t.Fatalf("expected cancelled state, got %s", h.State())
	}
	if processed, _ := h.Progress(); processed != 4 {
		t.Fatalf("expected in-flight item to complete (4 processed), got %d", processed)
	}
	if arch.calls != 0 {
		t.Fatal("assembler invoked after cancellation")
	}
	if _, err := os.Stat(cfg.DefaultOutputPath()); !os.IsNotExist(err) {
		t.Fatalf("expected no archive file, stat err %v", err)
	}
	assertStagingEmpty(t, cfg.Paths.StagingDir)
}

func TestExportCancelledBeforeFirstItem(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	tree, _ := scenarioTree(t, 1, 2, 3)
	arch := &captureArchiver{}
	e := export.New(cfg, export.Dependencies{Renderer: &fakeRenderer{}, Encoder: fakeEncoder{}, Archiver: arch}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h, err := e.Submit(ctx, tree, baseOptions(false))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := waitDone(t, h); !errors.Is(err, services.ErrJobCancelled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if processed, _ := h.Progress(); processed != 0 {
		t.Fatalf("expected no items processed, got %d", processed)
	}
	assertStagingEmpty(t, cfg.Paths.StagingDir)
}

func TestExportArchiveFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	tree, _ := scenarioTree(t, 1, 2, 3)
	arch := &captureArchiver{err: errors.New("encoder fault")}
	e := export.New(cfg, export.Dependencies{Renderer: &fakeRenderer{}, Encoder: fakeEncoder{}, Archiver: arch, Store: store}, nil)

	h, err := e.Submit(context.Background(), tree, baseOptions(false))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	_, err = waitDone(t, h)
	if !errors.Is(err, services.ErrArchiveBuild) {
		t.Fatalf("expected archive build error, got %v", err)
	}
	if h.State() != export.StateFailed {
		t.Fatalf("expected failed state, got %s", h.State())
	}
	assertStagingEmpty(t, cfg.Paths.StagingDir)

	job, err := store.GetJob(context.Background(), h.ID())
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.State != jobstore.StateFailed || job.ErrorKind != "archive_build" {
		t.Fatalf("unexpected job record %+v", job)
	}
	prefs, _ := store.LoadPreferences(context.Background())
	if prefs.LastFolder != "" {
		t.Fatal("preferences must only be saved on completion")
	}
}

func TestExportLostStagingRootFailsJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	tree, _ := scenarioTree(t, 1, 2, 3)
	renderer := &fakeRenderer{onCall: func(n int) {
		if n != 1 {
			return
		}
		entries, _ := os.ReadDir(cfg.Paths.StagingDir)
		for _, e := range entries {
			if e.IsDir() {
				_ = os.RemoveAll(filepath.Join(cfg.Paths.StagingDir, e.Name()))
			}
		}
	}}
	arch := &captureArchiver{}
	e := export.New(cfg, export.Dependencies{Renderer: renderer, Encoder: fakeEncoder{}, Archiver: arch}, nil)

	h, err := e.Submit(context.Background(), tree, baseOptions(true))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	_, err = waitDone(t, h)
	if !errors.Is(err, services.ErrResource) {
		t.Fatalf("expected resource error, got %v", err)
	}
	if h.State() != export.StateFailed || h.Skipped() != 0 {
		t.Fatalf("unexpected state %s skipped %d", h.State(), h.Skipped())
	}
	if arch.calls != 0 {
		t.Fatal("archive must not be built after the staging root is lost")
	}
}

func TestExportRejectsConcurrentJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	tree, _ := scenarioTree(t, 1, 2, 3)

	release := make(chan struct{})
	renderer := &fakeRenderer{onCall: func(int) { <-release }}
	e := export.New(cfg, export.Dependencies{Renderer: renderer, Encoder: fakeEncoder{}, Archiver: &captureArchiver{}}, nil)

	h, err := e.Submit(context.Background(), tree, baseOptions(false))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := e.Submit(context.Background(), tree, baseOptions(false)); !errors.Is(err, services.ErrJobInProgress) {
		t.Fatalf("expected job in progress, got %v", err)
	}
	close(release)
	if _, err := waitDone(t, h); err != nil {
		t.Fatalf("first job failed: %v", err)
	}

	h2, err := e.Submit(context.Background(), tree, baseOptions(false))
	if err != nil {
		t.Fatalf("expected submit after completion to succeed: %v", err)
	}
	if _, err := waitDone(t, h2); err != nil {
		t.Fatalf("second job failed: %v", err)
	}
}

func TestExportMissingViewerBundleContinues(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	tree, _ := scenarioTree(t, 1, 2, 3)
	arch := &captureArchiver{}
	e := export.New(cfg, export.Dependencies{Renderer: &fakeRenderer{}, Encoder: fakeEncoder{}, Archiver: arch}, nil)

	opts := baseOptions(false)
	opts.IncludeViewerBundle = true
	opts.ViewerBundle = filepath.Join(t.TempDir(), "missing.zip")
	h, err := e.Submit(context.Background(), tree, opts)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := waitDone(t, h); err != nil {
		t.Fatalf("expected job to complete without the bundle, got %v", err)
	}
	if len(arch.withPrefix("DICOM/")) != 4 {
		t.Fatalf("unexpected staged files %v", arch.files)
	}
}

func TestExportViewerBundleDirectory(t *testing.T) {
	bundle := t.TempDir()
	testsupport.WriteFile(t, filepath.Join(bundle, "viewer", "index.html"), 12)
	cfg := testsupport.NewConfig(t, testsupport.WithViewerBundle(bundle))
	tree, _ := scenarioTree(t, 1, 2, 3)
	arch := &captureArchiver{}
	e := export.New(cfg, export.Dependencies{Renderer: &fakeRenderer{}, Encoder: fakeEncoder{}, Archiver: arch}, nil)

	opts := baseOptions(false)
	opts.IncludeViewerBundle = cfg.Export.IncludeViewer
	opts.ViewerBundle = cfg.Export.ViewerBundle
	h, err := e.Submit(context.Background(), tree, opts)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := waitDone(t, h); err != nil {
		t.Fatalf("job failed: %v", err)
	}
	if len(arch.withPrefix("viewer/index.html")) != 1 {
		t.Fatalf("expected viewer files in staging root, got %v", arch.files)
	}
}

func TestDefaultOptionsUsesStoredPreferences(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	folder := t.TempDir()
	if err := store.SavePreferences(context.Background(), jobstore.Preferences{IncludeRenditions: false, IncludeViewer: true, LastFolder: folder}); err != nil {
		t.Fatalf("SavePreferences: %v", err)
	}
	e := export.New(cfg, export.Dependencies{Store: store}, nil)
	opts := e.DefaultOptions(context.Background())
	if opts.IncludeRenditions || !opts.IncludeViewerBundle {
		t.Fatalf("unexpected toggles %+v", opts)
	}
	if opts.OutputPath != filepath.Join(folder, cfg.Export.OutputName) {
		t.Fatalf("unexpected output path %q", opts.OutputPath)
	}
	if opts.RenditionQuality != cfg.Export.RenditionQuality || opts.Volume.Label != cfg.Volume.Label {
		t.Fatalf("config defaults not applied: %+v", opts)
	}
}

func TestExportWithISOBuilder(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	tree, _ := scenarioTree(t, 1, 2, 3)
	e := export.New(cfg, export.Dependencies{Renderer: &fakeRenderer{}, Encoder: fakeEncoder{}}, nil)

	h, err := e.Submit(context.Background(), tree, baseOptions(true))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	file, err := waitDone(t, h)
	if err != nil {
		t.Fatalf("job failed: %v", err)
	}
	names, err := archive.ListImage(file.Path)
	if err != nil {
		t.Fatalf("ListImage: %v", err)
	}
	// 4 canonical + 4 renditions + FILE-INDEX
	if len(names) != 9 {
		t.Fatalf("expected 9 files in image, got %v", names)
	}
	assertStagingEmpty(t, cfg.Paths.StagingDir)
}
