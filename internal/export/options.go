package export

import (
	"path/filepath"
	"strings"

	"dicomdisc/internal/archive"
	"dicomdisc/internal/config"
	"dicomdisc/internal/imaging"
	"dicomdisc/internal/jobstore"
	"dicomdisc/internal/staging"
)

// Options configures one export job. It is fixed at submission.
type Options struct {
	IncludeRenditions   bool
	IncludeViewerBundle bool
	// RenditionQuality is the encoder quality, 1..100.
	RenditionQuality int
	RenditionFolder  string
	ReadableNames    bool
	ViewerBundle     string
	// OutputPath is the archive destination. Empty uses the configured default.
	OutputPath string
	Volume     archive.Volume
}

// OptionsFromConfig builds job options from cfg, with the two persisted
// toggles taken from prefs.
func OptionsFromConfig(cfg *config.Config, prefs jobstore.Preferences) Options {
	opts := Options{
		IncludeRenditions:   prefs.IncludeRenditions,
		IncludeViewerBundle: prefs.IncludeViewer,
	}
	if cfg == nil {
		return opts.normalized()
	}
	opts.RenditionQuality = cfg.Export.RenditionQuality
	opts.RenditionFolder = cfg.Export.RenditionFolder
	opts.ReadableNames = cfg.Export.RenditionReadableNames
	opts.ViewerBundle = cfg.Export.ViewerBundle
	opts.OutputPath = cfg.DefaultOutputPath()
	if prefs.LastFolder != "" && cfg.Export.OutputName != "" {
		opts.OutputPath = filepath.Join(prefs.LastFolder, cfg.Export.OutputName)
	}
	opts.Volume = archive.Volume{
		Label:        cfg.Volume.Label,
		Publisher:    cfg.Volume.Publisher,
		DataPreparer: cfg.Volume.DataPreparer,
		RockRidge:    cfg.Volume.RockRidge,
		Joliet:       cfg.Volume.Joliet,
	}
	return opts.normalized()
}

func (o Options) normalized() Options {
	if o.RenditionQuality < 1 || o.RenditionQuality > 100 {
		o.RenditionQuality = imaging.DefaultQuality
	}
	o.RenditionFolder = strings.TrimSpace(o.RenditionFolder)
	if o.RenditionFolder == "" {
		o.RenditionFolder = "JPEG"
	}
	o.ViewerBundle = strings.TrimSpace(o.ViewerBundle)
	o.OutputPath = strings.TrimSpace(o.OutputPath)
	return o
}

func (o Options) layout() staging.Layout {
	return staging.Layout{RenditionFolder: o.RenditionFolder, ReadableNames: o.ReadableNames}
}

// preferences returns the persisted form of o.
func (o Options) preferences() jobstore.Preferences {
	prefs := jobstore.Preferences{
		IncludeRenditions: o.IncludeRenditions,
		IncludeViewer:     o.IncludeViewerBundle,
	}
	if o.OutputPath != "" {
		prefs.LastFolder = filepath.Dir(o.OutputPath)
	}
	return prefs
}
