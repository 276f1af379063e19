package catalog

import (
	"cmp"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"

	"dicomdisc/internal/imaging"
	"dicomdisc/internal/logging"
)

// Instance is one stored DICOM file found by Scan.
type Instance struct {
	imaging.Header
	Path string
}

// Catalog is the set of instances under a directory.
type Catalog struct {
	Root      string
	Instances []Instance
	// Skipped lists files that could not be parsed as DICOM.
	Skipped []string
}

// Scan walks root and reads the header of every file. Hidden files and
// directories are ignored. Files that do not parse are listed in Skipped.
func Scan(ctx context.Context, root string, logger *slog.Logger) (*Catalog, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	root = filepath.Clean(root)
	cat := &Catalog{Root: root}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		header, err := imaging.ReadHeader(path)
		if err != nil || header.SOPInstanceUID == "" {
			cat.Skipped = append(cat.Skipped, path)
			logger.Debug("skipping non-DICOM file", logging.String("path", path), logging.Error(err))
			return nil
		}
		cat.Instances = append(cat.Instances, Instance{Header: header, Path: path})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	sortInstances(cat.Instances)
	logger.Info("catalog scanned",
		logging.String("root", root),
		logging.Int("instances", len(cat.Instances)),
		logging.Int("skipped", len(cat.Skipped)),
		logging.String(logging.FieldEventType, "catalog_scanned"),
	)
	return cat, nil
}

// sortInstances orders by patient, study, series, then display order.
func sortInstances(instances []Instance) {
	slices.SortStableFunc(instances, func(a, b Instance) int {
		if c := cmp.Compare(a.PatientKey(), b.PatientKey()); c != 0 {
			return c
		}
		if c := cmp.Compare(a.StudyInstanceUID, b.StudyInstanceUID); c != 0 {
			return c
		}
		if c := cmp.Compare(a.SeriesInstanceUID, b.SeriesInstanceUID); c != 0 {
			return c
		}
		an, aok := a.InstanceNumberValue()
		bn, bok := b.InstanceNumberValue()
		switch {
		case aok && bok && an != bn:
			return cmp.Compare(an, bn)
		case aok && !bok:
			return -1
		case !aok && bok:
			return 1
		}
		return cmp.Compare(a.SOPInstanceUID, b.SOPInstanceUID)
	})
}

// Series returns the instances of the given series in display order.
func (c *Catalog) Series(uid string) []Instance {
	var out []Instance
	for _, inst := range c.Instances {
		if inst.SeriesInstanceUID == uid {
			out = append(out, inst)
		}
	}
	return out
}

// Lookup returns the instance with the given SOP instance UID.
func (c *Catalog) Lookup(sopInstanceUID string) (Instance, bool) {
	for _, inst := range c.Instances {
		if inst.SOPInstanceUID == sopInstanceUID {
			return inst, true
		}
	}
	return Instance{}, false
}
