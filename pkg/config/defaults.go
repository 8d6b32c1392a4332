package config

import (
	"time"

	"github.com/seekd/seekd/internal/bytesize"
	"github.com/seekd/seekd/pkg/shares"
)

// Default configuration values.
const (
	// DefaultUploadSlots is the global concurrent upload maximum.
	DefaultUploadSlots = 10

	// DefaultUploadSpeedLimit is the aggregate upload rate per second.
	DefaultUploadSpeedLimit = bytesize.MiB

	// DefaultGroupPriority orders the built-in default group after the
	// privileged group.
	DefaultGroupPriority = 500

	// DefaultLeecherPriority puts leechers behind every other group.
	DefaultLeecherPriority = 999

	// DefaultShutdownTimeout bounds graceful shutdown.
	DefaultShutdownTimeout = 30 * time.Second
)

// ApplyDefaults fills in default values for any unset configuration fields.
// This ensures partial config files work correctly.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyUploadsDefaults(&cfg.Uploads)

	cfg.Database.ApplyDefaults()
	cfg.Metrics.ApplyDefaults()

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Shares.Storage.Mode == "" {
		cfg.Shares.Storage.Mode = shares.StorageDisk
	}
}

func applyLoggingDefaults(logging *LoggingConfig) {
	if logging.Level == "" {
		logging.Level = "INFO"
	}
	if logging.Format == "" {
		logging.Format = "text"
	}
	if logging.Output == "" {
		logging.Output = "stdout"
	}
}

func applyTelemetryDefaults(telemetry *TelemetryConfig) {
	if telemetry.Endpoint == "" {
		telemetry.Endpoint = "localhost:4317"
	}
	if telemetry.SampleRate == 0 {
		telemetry.SampleRate = 1.0
	}
	if telemetry.Profiling.Endpoint == "" {
		telemetry.Profiling.Endpoint = "http://localhost:4040"
	}
	if len(telemetry.Profiling.ProfileTypes) == 0 {
		telemetry.Profiling.ProfileTypes = []string{"cpu", "alloc_objects", "alloc_space", "inuse_objects", "inuse_space"}
	}
}

func applyUploadsDefaults(uploads *UploadsConfig) {
	if uploads.Slots == 0 {
		uploads.Slots = DefaultUploadSlots
	}
	if uploads.SpeedLimit == 0 {
		uploads.SpeedLimit = DefaultUploadSpeedLimit
	}
	if uploads.Default.Priority == 0 {
		uploads.Default.Priority = DefaultGroupPriority
	}
	if uploads.Leechers.Priority == 0 {
		uploads.Leechers.Priority = DefaultLeecherPriority
	}
	if uploads.Leechers.Slots == 0 {
		uploads.Leechers.Slots = 1
	}
}

// GetDefaultConfig returns a complete configuration with all defaults
// applied. Used by the init command and when no config file exists.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Telemetry: TelemetryConfig{
			Enabled:  false,
			Insecure: true,
		},
		Shares: SharesConfig{
			ScanOnStart: true,
		},
	}
	ApplyDefaults(cfg)
	return cfg
}
