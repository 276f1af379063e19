package config

import (
	"errors"
	"fmt"
	"strings"
)

// volumeLabelMax is the ISO9660 volume identifier width.
const volumeLabelMax = 32

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateExport(); err != nil {
		return err
	}
	if err := c.validateVolume(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.StagingDir) == "" {
		return errors.New("paths.staging_dir must be set")
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		return errors.New("paths.state_dir must be set")
	}
	return nil
}

func (c *Config) validateExport() error {
	if c.Export.RenditionQuality < 1 || c.Export.RenditionQuality > 100 {
		return fmt.Errorf("export.rendition_quality must be between 1 and 100 (got %d)", c.Export.RenditionQuality)
	}
	if strings.ContainsAny(c.Export.RenditionFolder, `\:*?"<>|`) {
		return fmt.Errorf("export.rendition_folder %q contains characters not allowed on disc", c.Export.RenditionFolder)
	}
	if strings.EqualFold(c.Export.RenditionFolder, "DICOM") {
		return errors.New("export.rendition_folder must differ from the DICOM folder")
	}
	if strings.ContainsRune(c.Export.OutputName, '/') {
		return errors.New("export.output_name must be a file name, not a path")
	}
	return nil
}

func (c *Config) validateVolume() error {
	if len(c.Volume.Label) > volumeLabelMax {
		return fmt.Errorf("volume.label must be at most %d characters", volumeLabelMax)
	}
	for _, r := range c.Volume.Label {
		if !(r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_') {
			return fmt.Errorf("volume.label %q may only contain A-Z, 0-9 and _", c.Volume.Label)
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("logging.level %q must be one of debug, info, warn, error", c.Logging.Level)
	}
}
