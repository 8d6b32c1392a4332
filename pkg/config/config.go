// Package config owns the seekd configuration tree: loading from file and
// environment, defaults, validation, and the conversions into the option
// structs the domain packages consume.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (SEEKD_*)
//  2. Configuration file (YAML)
//  3. Default values
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/seekd/seekd/internal/bytesize"
	"github.com/seekd/seekd/internal/telemetry"
	"github.com/seekd/seekd/pkg/metrics"
	"github.com/seekd/seekd/pkg/shares"
	"github.com/seekd/seekd/pkg/transfers"
	"github.com/seekd/seekd/pkg/users"
)

// Config represents the seekd daemon configuration.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry distributed tracing and profiling
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Database configures the transfer ledger (SQLite or PostgreSQL)
	Database transfers.DatabaseConfig `mapstructure:"database" yaml:"database"`

	// Metrics contains the Prometheus endpoint configuration
	Metrics metrics.ServerConfig `mapstructure:"metrics" yaml:"metrics"`

	// Shares configures the share roots and the scan/index engine
	Shares SharesConfig `mapstructure:"shares" yaml:"shares"`

	// Uploads configures slots, speed limits and groups
	Uploads UploadsConfig `mapstructure:"uploads" yaml:"uploads"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is enabled
	// Default: false (opt-in)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port)
	// Default: "localhost:4317"
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure controls whether to use insecure (non-TLS) connection
	// Default: true (for local development)
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate controls the trace sampling rate (0.0 to 1.0)
	// Default: 1.0 (sample all)
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	// Profiling contains Pyroscope continuous profiling configuration
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	// Enabled controls whether continuous profiling is enabled
	// Default: false (opt-in)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server endpoint (URL)
	// Default: "http://localhost:4040"
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ProfileTypes specifies which profile types to collect
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// SharesConfig configures the share roots and the scan engine.
type SharesConfig struct {
	// Roots are share definitions: "[alias]path" with an optional leading
	// "!" or "-" marking an exclusion.
	// Example: ["[music]/srv/music", "!/srv/music/private"]
	Roots []string `mapstructure:"roots" yaml:"roots"`

	// Filters are regular expressions; matching paths are left out of the
	// index.
	Filters []string `mapstructure:"filters" yaml:"filters,omitempty"`

	// Workers is the number of concurrent directory scanners.
	// Default: number of CPUs.
	Workers int `mapstructure:"workers" validate:"omitempty,min=1" yaml:"workers"`

	// ScanOnStart triggers a full scan when the daemon starts.
	ScanOnStart bool `mapstructure:"scan_on_start" yaml:"scan_on_start"`

	// Storage configures the index database location and mode
	Storage shares.StorageConfig `mapstructure:"storage" yaml:"storage"`
}

// CacheConfig converts the share configuration into the cache's options,
// parsing every root definition.
func (c SharesConfig) CacheConfig() (shares.Config, error) {
	parsed := make([]shares.Share, 0, len(c.Roots))
	for _, raw := range c.Roots {
		share, err := shares.ParseShare(raw)
		if err != nil {
			return shares.Config{}, err
		}
		parsed = append(parsed, share)
	}

	return shares.Config{
		Shares:  parsed,
		Filters: c.Filters,
		Workers: c.Workers,
		Storage: c.Storage,
	}, nil
}

// GroupConfig configures one upload group's scheduling behavior.
type GroupConfig struct {
	// Priority orders groups for admission; lower wins.
	Priority int `mapstructure:"priority" validate:"omitempty,min=0" yaml:"priority"`

	// Slots bounds concurrent uploads for the group. Zero means the
	// global maximum.
	Slots int `mapstructure:"slots" validate:"omitempty,min=0" yaml:"slots"`

	// SpeedLimit bounds the group's aggregate upload rate per second.
	// Human-readable sizes: "250KB", "1MiB". Zero means the global limit.
	SpeedLimit bytesize.ByteSize `mapstructure:"speed_limit" yaml:"speed_limit,omitempty"`

	// Strategy selects admission ordering within the group.
	// Valid values: fifo, roundrobin.
	Strategy string `mapstructure:"strategy" validate:"omitempty,oneof=fifo roundrobin" yaml:"strategy"`
}

// LeechersConfig is the built-in leechers group plus its member list.
type LeechersConfig struct {
	GroupConfig `mapstructure:",squash" yaml:",inline"`

	// Members are usernames that resolve to the leechers group when no
	// user-defined group claims them.
	Members []string `mapstructure:"members" yaml:"members,omitempty"`
}

// UserGroupConfig is a user-defined upload group with its member list.
type UserGroupConfig struct {
	GroupConfig `mapstructure:",squash" yaml:",inline"`

	// Name identifies the group. Must not collide with the built-in
	// groups.
	Name string `mapstructure:"name" validate:"required" yaml:"name"`

	// Members are the usernames belonging to this group.
	Members []string `mapstructure:"members" yaml:"members,omitempty"`
}

// UploadsConfig configures the upload queue and governor.
type UploadsConfig struct {
	// Slots is the global maximum number of concurrent uploads.
	// Default: 10.
	Slots int `mapstructure:"slots" validate:"omitempty,min=1" yaml:"slots"`

	// SpeedLimit is the aggregate upload rate per second.
	// Human-readable sizes: "250KB", "1MiB". Default: 1MiB.
	SpeedLimit bytesize.ByteSize `mapstructure:"speed_limit" yaml:"speed_limit"`

	// Privileged usernames always resolve to the privileged group.
	Privileged []string `mapstructure:"privileged" yaml:"privileged,omitempty"`

	// Default is the built-in group for unclassified users
	Default GroupConfig `mapstructure:"default" yaml:"default"`

	// Leechers is the built-in low-priority group
	Leechers LeechersConfig `mapstructure:"leechers" yaml:"leechers"`

	// Groups are additional user-defined groups
	Groups []UserGroupConfig `mapstructure:"groups" yaml:"groups,omitempty"`
}

// TransferOptions converts the upload configuration into the queue and
// governor options.
func (c UploadsConfig) TransferOptions() transfers.Options {
	opts := transfers.Options{
		GlobalSlots:          c.Slots,
		GlobalSpeedLimitKBps: toKBps(c.SpeedLimit),
		Default:              c.Default.groupOptions(""),
		Leechers:             c.Leechers.GroupConfig.groupOptions(""),
	}
	for _, g := range c.Groups {
		opts.UserDefined = append(opts.UserDefined, g.GroupConfig.groupOptions(g.Name))
	}
	return opts
}

// UserOptions converts the upload configuration into the group membership
// options of the user service.
func (c UploadsConfig) UserOptions() users.Options {
	opts := users.Options{
		Privileged: c.Privileged,
		Leechers:   c.Leechers.Members,
	}
	for _, g := range c.Groups {
		opts.UserDefined = append(opts.UserDefined, users.GroupMembers{
			Name:    g.Name,
			Members: g.Members,
		})
	}
	return opts
}

func (c GroupConfig) groupOptions(name string) transfers.GroupOptions {
	strategy := transfers.StrategyFIFO
	if c.Strategy == string(transfers.StrategyRoundRobin) {
		strategy = transfers.StrategyRoundRobin
	}
	return transfers.GroupOptions{
		Name:           name,
		Priority:       c.Priority,
		Slots:          c.Slots,
		SpeedLimitKBps: toKBps(c.SpeedLimit),
		Strategy:       strategy,
	}
}

// TelemetryOptions converts the telemetry configuration into the internal
// telemetry package's config.
func (c TelemetryConfig) TelemetryOptions(version string) telemetry.Config {
	return telemetry.Config{
		Enabled:        c.Enabled,
		ServiceName:    "seekd",
		ServiceVersion: version,
		Endpoint:       c.Endpoint,
		Insecure:       c.Insecure,
		SampleRate:     c.SampleRate,
	}
}

func toKBps(b bytesize.ByteSize) int {
	return int(b / bytesize.KiB)
}

// Load loads configuration from file, environment, and defaults.
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	if !configFileFound {
		return GetDefaultConfig(), nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages when the config
// file is missing.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  seekd init\n\n"+
				"Or specify a custom config file:\n"+
				"  seekd <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Please create the configuration file:\n"+
				"  seekd init --config %s",
				configPath, configPath)
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path in YAML.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// 0600: the file may carry credentials for the ledger database.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures viper with environment variables and config file
// settings. Environment variables use the SEEKD_ prefix:
// SEEKD_LOGGING_LEVEL=DEBUG.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("SEEKD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists. Returns whether
// a config file was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// configDecodeHooks returns a combined decode hook for all custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook converts strings and integers to bytesize.ByteSize so
// config files can use human-readable sizes like "1Gi" or "100MB".
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook converts strings to time.Duration so config files can
// use human-readable durations like "30s" or "5m".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path: XDG_CONFIG_HOME if
// set, otherwise ~/.config, falling back to the current directory.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "seekd")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "seekd")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default
// location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for the
// init command).
func GetConfigDir() string {
	return getConfigDir()
}
