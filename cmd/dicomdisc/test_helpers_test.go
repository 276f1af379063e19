package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"dicomdisc/internal/config"
	"dicomdisc/internal/selection"
	"dicomdisc/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	baseDir    string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	homeDir := filepath.Join(base, "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", homeDir)
	t.Setenv("DICOMDISC_STAGING_DIR", "")
	t.Setenv("DICOMDISC_VIEWER_BUNDLE", "")

	cfg := testsupport.NewConfig(t, testsupport.WithViewerBundle(""))

	configPath := filepath.Join(homeDir, ".config", "dicomdisc", "config.toml")
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	writeTestConfig(t, configPath, cfg)

	return &cliTestEnv{
		cfg:        cfg,
		configPath: configPath,
		baseDir:    base,
	}
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	content := fmt.Sprintf(
		"[paths]\nstaging_dir = %q\nstate_dir = %q\nlog_dir = %q\noutput_dir = %q\n\n"+
			"[export]\ninclude_viewer = %t\nviewer_bundle = %q\nmin_free_gib = 0\n\n"+
			"[logging]\nlevel = \"error\"\n",
		cfg.Paths.StagingDir,
		cfg.Paths.StateDir,
		cfg.Paths.LogDir,
		cfg.Paths.OutputDir,
		cfg.Export.IncludeViewer,
		cfg.Export.ViewerBundle,
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

// writeStudy writes two pixel-less CT instances of one series under dir.
func writeStudy(t *testing.T, dir string) {
	t.Helper()
	for i := 1; i <= 2; i++ {
		testsupport.WriteDICOM(t, filepath.Join(dir, fmt.Sprintf("img%d.dcm", i)), selection.Attributes{
			PatientID:         "PAT001",
			PatientName:       "DOE^JANE",
			StudyInstanceUID:  "1.2.3",
			StudyDescription:  "CT Chest",
			SeriesInstanceUID: "1.2.3.4",
			Modality:          "CT",
			SOPInstanceUID:    fmt.Sprintf("1.2.3.4.%d", i),
			InstanceNumber:    selection.Int(i),
		})
	}
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
