package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/ini.v1"

	"jordanella.com/scenario-detector/internal/cv"
)

// LoadFromINI loads configuration from a settings file. Missing keys keep their defaults.
func LoadFromINI(path string) (*Config, error) {
	file, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	defaults := NewDefaultConfig()
	config := &Config{}

	// Detection loop
	detection := file.Section("Detection")
	config.Detection.FramePollInterval = millis(detection.Key("framePollIntervalMs").MustInt(int(defaults.Detection.FramePollInterval / time.Millisecond)))
	config.Detection.MaxFPS = detection.Key("maxFps").MustInt(defaults.Detection.MaxFPS)
	config.Detection.DetectionQuality = detection.Key("detectionQuality").MustInt(defaults.Detection.DetectionQuality)
	config.Detection.ReportBuffer = detection.Key("reportBuffer").MustInt(defaults.Detection.ReportBuffer)
	config.Detection.MatchMethod = strings.ToLower(detection.Key("matchMethod").MustString(defaults.Detection.MatchMethod))

	// Reference cache
	config.Cache.ReferenceBudgetMB = file.Section("Cache").Key("referenceBudgetMb").MustInt(defaults.Cache.ReferenceBudgetMB)

	// Logging
	logging := file.Section("Logging")
	config.Logging.Level = strings.ToLower(logging.Key("level").MustString(defaults.Logging.Level))
	config.Logging.Format = strings.ToLower(logging.Key("format").MustString(defaults.Logging.Format))
	config.Logging.File = logging.Key("file").MustString("")
	config.Logging.MaxSizeMB = logging.Key("maxSizeMb").MustInt(defaults.Logging.MaxSizeMB)
	config.Logging.MaxBackups = logging.Key("maxBackups").MustInt(defaults.Logging.MaxBackups)
	config.Logging.MaxAgeDays = logging.Key("maxAgeDays").MustInt(defaults.Logging.MaxAgeDays)
	config.Logging.Compress = logging.Key("compress").MustBool(false)
	config.Logging.ServiceName = logging.Key("serviceName").MustString(defaults.Logging.ServiceName)

	// ADB
	adb := file.Section("ADB")
	config.ADB.Path = adb.Key("path").MustString("")
	config.ADB.Serial = adb.Key("serial").MustString("")
	config.ADB.ScreencapInterval = millis(adb.Key("screencapIntervalMs").MustInt(int(defaults.ADB.ScreencapInterval / time.Millisecond)))

	// Debug report storage
	database := file.Section("Database")
	config.Database.Enabled = database.Key("enabled").MustBool(defaults.Database.Enabled)
	config.Database.Path = database.Key("path").MustString(defaults.Database.Path)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks value ranges that would break the detection loop
func (c *Config) Validate() error {
	if c.Detection.FramePollInterval <= 0 {
		return fmt.Errorf("framePollIntervalMs must be greater than 0")
	}
	if c.Detection.MaxFPS < 0 {
		return fmt.Errorf("maxFps (%d) must not be negative", c.Detection.MaxFPS)
	}
	if c.Detection.DetectionQuality <= 0 {
		return fmt.Errorf("detectionQuality (%d) must be greater than 0", c.Detection.DetectionQuality)
	}
	if c.Detection.ReportBuffer < 0 {
		return fmt.Errorf("reportBuffer (%d) must not be negative", c.Detection.ReportBuffer)
	}
	if _, err := cv.ParseMatchMethod(c.Detection.MatchMethod); err != nil {
		return err
	}
	if c.Cache.ReferenceBudgetMB <= 0 {
		return fmt.Errorf("referenceBudgetMb (%d) must be greater than 0", c.Cache.ReferenceBudgetMB)
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("invalid log format '%s': must be console or json", c.Logging.Format)
	}
	return nil
}

// SaveToINI saves configuration to an INI file
func SaveToINI(config *Config, path string) error {
	file := ini.Empty()

	detection := file.Section("Detection")
	detection.Key("framePollIntervalMs").SetValue(fmt.Sprintf("%d", config.Detection.FramePollInterval/time.Millisecond))
	detection.Key("maxFps").SetValue(fmt.Sprintf("%d", config.Detection.MaxFPS))
	detection.Key("detectionQuality").SetValue(fmt.Sprintf("%d", config.Detection.DetectionQuality))
	detection.Key("reportBuffer").SetValue(fmt.Sprintf("%d", config.Detection.ReportBuffer))
	detection.Key("matchMethod").SetValue(config.Detection.MatchMethod)

	file.Section("Cache").Key("referenceBudgetMb").SetValue(fmt.Sprintf("%d", config.Cache.ReferenceBudgetMB))

	logging := file.Section("Logging")
	logging.Key("level").SetValue(config.Logging.Level)
	logging.Key("format").SetValue(config.Logging.Format)
	logging.Key("file").SetValue(config.Logging.File)
	logging.Key("maxSizeMb").SetValue(fmt.Sprintf("%d", config.Logging.MaxSizeMB))
	logging.Key("maxBackups").SetValue(fmt.Sprintf("%d", config.Logging.MaxBackups))
	logging.Key("maxAgeDays").SetValue(fmt.Sprintf("%d", config.Logging.MaxAgeDays))
	logging.Key("compress").SetValue(fmt.Sprintf("%t", config.Logging.Compress))
	logging.Key("serviceName").SetValue(config.Logging.ServiceName)

	adb := file.Section("ADB")
	adb.Key("path").SetValue(config.ADB.Path)
	adb.Key("serial").SetValue(config.ADB.Serial)
	adb.Key("screencapIntervalMs").SetValue(fmt.Sprintf("%d", config.ADB.ScreencapInterval/time.Millisecond))

	database := file.Section("Database")
	database.Key("enabled").SetValue(fmt.Sprintf("%t", config.Database.Enabled))
	database.Key("path").SetValue(config.Database.Path)

	return file.SaveTo(path)
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
