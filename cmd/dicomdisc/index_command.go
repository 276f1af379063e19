package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"dicomdisc/internal/config"
	"dicomdisc/internal/fileset"
)

func newIndexCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Inspect FILE-INDEX files",
	}
	cmd.AddCommand(&cobra.Command{
		Use:         "show <path>",
		Short:       "Print the record tree of a FILE-INDEX",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.ExpandPath(args[0])
			if err != nil {
				return err
			}
			fs, err := fileset.ReadFile(path)
			if err != nil {
				return err
			}
			if ctx.JSONMode() {
				return writeJSON(cmd, fs)
			}
			printFileSet(cmd.OutOrStdout(), fs)
			return nil
		},
	})
	return cmd
}

func printFileSet(out io.Writer, fs *fileset.FileSet) {
	fmt.Fprintf(out, "%s v%d\n", fs.Format, fs.Version)
	fs.Walk(func(depth int, r *fileset.Record) bool {
		line := strings.Repeat("  ", depth) + string(r.Type)
		if label := recordLabel(r); label != "" {
			line += " " + label
		}
		if path := r.Path(); path != "" {
			line += "  " + path
		}
		if r.Icon != nil {
			line += fmt.Sprintf("  [icon %dx%d %s]", r.Icon.Columns, r.Icon.Rows, r.Icon.PhotometricInterpretation)
		}
		fmt.Fprintln(out, line)
		return true
	})
	fmt.Fprintf(out, "\n%d patients, %d studies, %d series, %d files\n",
		fs.Count(fileset.RecordPatient),
		fs.Count(fileset.RecordStudy),
		fs.Count(fileset.RecordSeries),
		len(fs.Instances()),
	)
}

func recordLabel(r *fileset.Record) string {
	for _, key := range []string{"PatientName", "StudyDescription", "SeriesDescription", "Modality"} {
		if v := r.Attributes[key]; v != "" {
			return v
		}
	}
	return r.Key
}
