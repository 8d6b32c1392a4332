package commands

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/seekd/seekd/internal/logger"
	"github.com/seekd/seekd/internal/telemetry"
	"github.com/seekd/seekd/pkg/config"
	"github.com/seekd/seekd/pkg/metrics"
	"github.com/seekd/seekd/pkg/peer"
	"github.com/seekd/seekd/pkg/shares"
	"github.com/seekd/seekd/pkg/transfers"
	"github.com/seekd/seekd/pkg/users"

	// Import prometheus metrics to register init() functions
	_ "github.com/seekd/seekd/pkg/metrics/prometheus"
)

var (
	foreground bool
	pidFile    string
	logFile    string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the seekd daemon",
	Long: `Start the seekd daemon with the specified configuration.

By default, the daemon runs in the background. Use --foreground to run in
the foreground for debugging or when managed by a process supervisor.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/seekd/config.yaml.

The daemon reloads group and speed-limit configuration on SIGHUP without
dropping active uploads.

Examples:
  # Start in background (default)
  seekd start

  # Start in foreground
  seekd start --foreground

  # Start with custom config file
  seekd start --config /etc/seekd/config.yaml

  # Start with environment variable overrides
  SEEKD_LOGGING_LEVEL=DEBUG seekd start --foreground`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "Run in foreground (default: background/daemon mode)")
	startCmd.Flags().StringVar(&pidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/seekd/seekd.pid)")
	startCmd.Flags().StringVar(&logFile, "log-file", "", "Path to log file for daemon mode (default: $XDG_STATE_HOME/seekd/seekd.log)")
}

func runStart(cmd *cobra.Command, args []string) error {
	// Handle daemon mode (background)
	if !foreground {
		return startDaemon()
	}

	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	// Initialize the structured logger
	if err := InitLogger(cfg); err != nil {
		return err
	}

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize OpenTelemetry (if enabled)
	telemetryShutdown, err := telemetry.Init(ctx, cfg.Telemetry.TelemetryOptions(Version))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}()

	// Initialize Pyroscope profiling (if enabled)
	profilingCfg := telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "seekd",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	}
	profilingShutdown, err := telemetry.InitProfiling(profilingCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", "error", err)
		}
	}()

	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))
	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	}
	if telemetry.IsProfilingEnabled() {
		logger.Info("Profiling enabled", "endpoint", cfg.Telemetry.Profiling.Endpoint)
	}

	// Initialize metrics FIRST so the domain constructors see an enabled
	// registry
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		metricsServer = metrics.StartServer(cfg.Metrics)
		logger.Info("Metrics enabled", "address", cfg.Metrics.Address, "path", cfg.Metrics.Path)
	} else {
		logger.Info("Metrics collection disabled")
	}

	// Transfer ledger
	ledger, err := transfers.NewLedger(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open transfer ledger: %w", err)
	}
	defer func() {
		if err := ledger.Close(); err != nil {
			logger.Error("ledger close error", "error", err)
		}
	}()
	logger.Info("Transfer ledger ready", "type", cfg.Database.Type)

	// Share cache
	cacheCfg, err := cfg.Shares.CacheConfig()
	if err != nil {
		return err
	}
	cache, err := shares.NewCache(cacheCfg, metrics.NewShareMetrics())
	if err != nil {
		return fmt.Errorf("failed to open share cache: %w", err)
	}
	defer func() {
		if err := cache.Close(); err != nil {
			logger.Error("share cache close error", "error", err)
		}
	}()

	if loaded, err := cache.TryLoad(); err != nil {
		logger.Warn("Share index load failed, a fresh scan is required", "error", err)
	} else if loaded {
		files, _ := cache.CountFiles("")
		directories, _ := cache.CountDirectories("")
		logger.Info("Share index loaded", logger.Files(files), logger.Directories(directories))
	}
	if cfg.Shares.ScanOnStart {
		cache.RequestScan()
	}

	// Users, queue, governor, upload service
	userSvc := users.New(cfg.Uploads.UserOptions())
	transferOpts := cfg.Uploads.TransferOptions()
	transferMetrics := metrics.NewTransferMetrics()

	queue := transfers.NewQueue(userSvc, transferOpts, transferMetrics)
	governor := transfers.NewGovernor(userSvc, transferOpts, transferMetrics)
	defer governor.Close()

	service := transfers.NewService(transfers.Deps{
		Ledger:   ledger,
		Queue:    queue,
		Governor: governor,
		Shares:   cache,
		Users:    userSvc,
		Peers:    peer.Unconnected{},
		Metrics:  transferMetrics,
	})
	defer service.Close()

	logger.Info("Upload service ready",
		"slots", transferOpts.GlobalSlots,
		"speed_limit_kbps", transferOpts.GlobalSpeedLimitKBps,
		"groups", len(transferOpts.UserDefined)+3)

	// Write PID file if specified
	if pidFile != "" {
		if err := os.WriteFile(pidFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0644); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = os.Remove(pidFile) }()
	}

	// Reload group configuration on SIGHUP; shut down on SIGINT/SIGTERM
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	logger.Info("Daemon is running. Press Ctrl+C to stop.")

	for {
		sig := <-sigChan
		if sig == syscall.SIGHUP {
			reloadConfig(queue, governor, userSvc)
			continue
		}

		logger.Info("Shutdown signal received, initiating graceful shutdown", "signal", sig.String())
		cancel()
		break
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	cache.TryCancelFill()
	service.Close()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown error", "error", err)
		}
	}

	logger.Info("Daemon stopped gracefully")
	return nil
}

// reloadConfig re-reads the configuration file and applies the group,
// slot and speed-limit sections to the running queue, governor and user
// service. Share roots and database settings require a restart.
func reloadConfig(queue *transfers.Queue, governor *transfers.Governor, userSvc *users.Service) {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		logger.Error("Configuration reload failed", "error", err)
		return
	}

	opts := cfg.Uploads.TransferOptions()
	userSvc.Reconfigure(cfg.Uploads.UserOptions())
	queue.Reconfigure(opts)
	governor.Reconfigure(opts)

	logger.Info("Configuration reloaded",
		"slots", opts.GlobalSlots,
		"speed_limit_kbps", opts.GlobalSpeedLimitKBps)
}

// getConfigSource returns a description of where the config was loaded from.
func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}

// startDaemon starts the daemon as a background process.
func startDaemon() error {
	stateDir := GetDefaultStateDir()
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	pidPath := pidFile
	if pidPath == "" {
		pidPath = GetDefaultPidFile()
	}

	// Check if already running
	if pidData, err := os.ReadFile(pidPath); err == nil {
		var pid int
		if _, err := fmt.Sscanf(string(pidData), "%d", &pid); err == nil {
			if process, err := os.FindProcess(pid); err == nil {
				if err := process.Signal(syscall.Signal(0)); err == nil {
					return fmt.Errorf("seekd is already running (PID %d)\nUse 'seekd stop' to stop the running instance", pid)
				}
			}
		}
		// Stale PID file, remove it
		_ = os.Remove(pidPath)
	}

	logPath := logFile
	if logPath == "" {
		logPath = GetDefaultLogFile()
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	daemonArgs := []string{"start", "--foreground", "--pid-file", pidPath}
	if GetConfigFile() != "" {
		daemonArgs = append(daemonArgs, "--config", GetConfigFile())
	}

	daemon := exec.Command(executable, daemonArgs...)

	logFileHandle, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	daemon.Stdout = logFileHandle
	daemon.Stderr = logFileHandle

	// Detach from parent process
	daemon.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}

	if err := daemon.Start(); err != nil {
		_ = logFileHandle.Close()
		return fmt.Errorf("failed to start daemon: %w", err)
	}
	_ = logFileHandle.Close()

	fmt.Printf("seekd started in background (PID %d)\n", daemon.Process.Pid)
	fmt.Printf("  PID file: %s\n", pidPath)
	fmt.Printf("  Log file: %s\n", logPath)
	fmt.Println("\nUse 'seekd stop' to stop the daemon")

	return nil
}
