package config

const (
	defaultConfigPath             = "~/.config/dicomdisc/config.toml"
	defaultStagingDir             = "~/.local/share/dicomdisc/staging"
	defaultStateDir               = "~/.local/share/dicomdisc"
	defaultLogDir                 = "~/.local/share/dicomdisc/logs"
	defaultOutputDir              = "~"
	defaultOutputName             = "cdrom-DICOM.iso"
	defaultRenditionFolder        = "JPEG"
	defaultRenditionQuality       = 90
	defaultMinFreeGiB             = 1
	defaultStaleStagingHours      = 24
	defaultVolumeLabel            = "DICOM"
	defaultVolumePublisher        = "dicomdisc"
	defaultVolumeDataPreparer     = "DICOM"
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
	defaultLogRetentionDays       = 30
	defaultIncludeRenditions      = true
	defaultIncludeViewer          = true
	defaultRenditionReadableNames = false
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StagingDir: defaultStagingDir,
			StateDir:   defaultStateDir,
			LogDir:     defaultLogDir,
			OutputDir:  defaultOutputDir,
		},
		Export: Export{
			IncludeRenditions:      defaultIncludeRenditions,
			IncludeViewer:          defaultIncludeViewer,
			RenditionFolder:        defaultRenditionFolder,
			RenditionQuality:       defaultRenditionQuality,
			RenditionReadableNames: defaultRenditionReadableNames,
			OutputName:             defaultOutputName,
			MinFreeGiB:             defaultMinFreeGiB,
			StaleStagingHours:      defaultStaleStagingHours,
		},
		Volume: Volume{
			Label:        defaultVolumeLabel,
			Publisher:    defaultVolumePublisher,
			DataPreparer: defaultVolumeDataPreparer,
			RockRidge:    true,
			Joliet:       true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
