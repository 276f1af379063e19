package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeExport(); err != nil {
		return err
	}
	c.normalizeVolume()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	if value, ok := os.LookupEnv("DICOMDISC_STAGING_DIR"); ok && strings.TrimSpace(value) != "" {
		c.Paths.StagingDir = strings.TrimSpace(value)
	}
	var err error
	if c.Paths.StagingDir, err = expandPath(c.Paths.StagingDir); err != nil {
		return fmt.Errorf("paths.staging_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.OutputDir) == "" {
		c.Paths.OutputDir = defaultOutputDir
	}
	if c.Paths.OutputDir, err = expandPath(c.Paths.OutputDir); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeExport() error {
	c.Export.RenditionFolder = strings.Trim(strings.TrimSpace(c.Export.RenditionFolder), "/")
	if c.Export.RenditionFolder == "" {
		c.Export.RenditionFolder = defaultRenditionFolder
	}
	if c.Export.RenditionQuality == 0 {
		c.Export.RenditionQuality = defaultRenditionQuality
	}
	if c.Export.ViewerBundle == "" {
		if value, ok := os.LookupEnv("DICOMDISC_VIEWER_BUNDLE"); ok {
			c.Export.ViewerBundle = strings.TrimSpace(value)
		}
	}
	var err error
	if c.Export.ViewerBundle, err = expandPath(strings.TrimSpace(c.Export.ViewerBundle)); err != nil {
		return fmt.Errorf("export.viewer_bundle: %w", err)
	}
	c.Export.OutputName = strings.TrimSpace(c.Export.OutputName)
	if c.Export.OutputName == "" {
		c.Export.OutputName = defaultOutputName
	}
	if c.Export.MinFreeGiB < 0 {
		c.Export.MinFreeGiB = 0
	}
	if c.Export.StaleStagingHours <= 0 {
		c.Export.StaleStagingHours = defaultStaleStagingHours
	}
	return nil
}

func (c *Config) normalizeVolume() {
	c.Volume.Label = strings.ToUpper(strings.TrimSpace(c.Volume.Label))
	if c.Volume.Label == "" {
		c.Volume.Label = defaultVolumeLabel
	}
	c.Volume.Publisher = strings.TrimSpace(c.Volume.Publisher)
	if c.Volume.Publisher == "" {
		c.Volume.Publisher = defaultVolumePublisher
	}
	c.Volume.DataPreparer = strings.TrimSpace(c.Volume.DataPreparer)
	if c.Volume.DataPreparer == "" {
		c.Volume.DataPreparer = defaultVolumeDataPreparer
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
