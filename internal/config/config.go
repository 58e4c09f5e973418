package config

import "time"

// Config holds every engine setting read from the settings file.
type Config struct {
	Detection DetectionConfig
	Cache     CacheConfig
	Logging   LoggingConfig
	ADB       ADBConfig
	Database  DatabaseConfig
}

// DetectionConfig tunes the frame processing loop
type DetectionConfig struct {
	FramePollInterval time.Duration // Wait between two empty frame acquisitions
	MaxFPS            int           // 0 = process frames as fast as they come
	DetectionQuality  int           // Default quality when a scenario does not set one
	ReportBuffer      int           // Capacity of the evaluation report channel
	MatchMethod       string        // sad, ssd or ncc
}

// CacheConfig bounds the reference image cache
type CacheConfig struct {
	ReferenceBudgetMB int
}

// LoggingConfig configures the zap logger
type LoggingConfig struct {
	Level       string // debug, info, warn, error
	Format      string // console or json
	File        string // Empty = console only
	MaxSizeMB   int
	MaxBackups  int
	MaxAgeDays  int
	Compress    bool
	ServiceName string
}

// ADBConfig locates the device used for gestures and screen capture
type ADBConfig struct {
	Path              string
	Serial            string
	ScreencapInterval time.Duration
}

// DatabaseConfig configures debug report storage
type DatabaseConfig struct {
	Enabled bool
	Path    string
}

// ReferenceBudgetBytes returns the reference cache budget in bytes
func (c CacheConfig) ReferenceBudgetBytes() int64 {
	return int64(c.ReferenceBudgetMB) * 1024 * 1024
}

// NewDefaultConfig creates a config with default values
func NewDefaultConfig() *Config {
	return &Config{
		Detection: DetectionConfig{
			FramePollInterval: 10 * time.Millisecond,
			MaxFPS:            0,
			DetectionQuality:  1200,
			ReportBuffer:      256,
			MatchMethod:       "ssd",
		},
		Cache: CacheConfig{
			ReferenceBudgetMB: 32,
		},
		Logging: LoggingConfig{
			Level:       "info",
			Format:      "console",
			MaxSizeMB:   10,
			MaxBackups:  3,
			MaxAgeDays:  7,
			ServiceName: "scenario-detector",
		},
		ADB: ADBConfig{
			ScreencapInterval: 200 * time.Millisecond,
		},
		Database: DatabaseConfig{
			Enabled: false,
			Path:    "reports.db",
		},
	}
}
