package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aveline/grimalkin/internal/config"
	"github.com/aveline/grimalkin/internal/logger"
	"github.com/aveline/grimalkin/pkg/bus"
	"github.com/aveline/grimalkin/pkg/coreplugin"
	"github.com/aveline/grimalkin/pkg/manager"
	"github.com/aveline/grimalkin/pkg/plugin"
	"github.com/aveline/grimalkin/pkg/settings"
)

var foreground bool

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the plugin host",
	Long: `Start the plugin host: discover installed plugins, activate the
system set, and keep the replica in sync until interrupted.`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVar(&foreground, "foreground", true, "run in the foreground")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	pidFile := getPIDFilePath()
	if isRunning(pidFile) {
		return fmt.Errorf("plugin host is already running (PID file: %s)", pidFile)
	}

	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	log, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   foreground,
		Pretty:    foreground,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	})
	if err != nil {
		return err
	}
	defer log.Close()

	store, err := settings.NewSQLiteStore(cfg.Store.Path, log.GetZerolog())
	if err != nil {
		return fmt.Errorf("failed to open settings store: %w", err)
	}
	defer store.Close()

	var events bus.Bus
	if cfg.Sync.Enabled {
		events, err = bus.NewNATSBus(bus.NATSConfig{
			URL:     cfg.Sync.URL,
			Subject: cfg.Sync.Subject,
			Logger:  log.GetZerolog(),
		})
		if err != nil {
			return fmt.Errorf("failed to connect to sync bus: %w", err)
		}
		defer events.Close()
	}

	factories := plugin.NewFactoryRegistry()
	coreplugin.Register(factories)

	system, err := manager.NewSystem(manager.SystemConfig{
		PluginsRoot:   cfg.Plugins.Root,
		ReplicaID:     cfg.Sync.ReplicaID,
		BasePluginID:  cfg.Plugins.BasePluginID,
		HostVersion:   version,
		Store:         store,
		Bus:           events,
		Factories:     factories,
		Logger:        log.GetZerolog(),
		ReconcileSpec: cfg.Plugins.ReconcileSpec,
	})
	if err != nil {
		return err
	}

	if err := system.Discover(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if err := system.StartSync(ctx); err != nil {
		return err
	}
	if cfg.Plugins.Watch {
		if err := system.StartWatcher(ctx); err != nil {
			return err
		}
	}
	if err := system.StartReconciliation(); err != nil {
		return err
	}
	defer system.Stop()

	if err := writePIDFile(pidFile); err != nil {
		return err
	}
	defer os.Remove(pidFile)

	log.Info().
		Str("version", version).
		Str("replica", system.ReplicaID()).
		Str("plugins_root", cfg.Plugins.Root).
		Msg("Plugin host started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	case <-ctx.Done():
	}

	return nil
}

func getPIDFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/grimalkin.pid"
	}
	return filepath.Join(home, ".grimalkin", "grimalkin.pid")
}

func writePIDFile(pidFile string) error {
	if err := os.MkdirAll(filepath.Dir(pidFile), 0o755); err != nil {
		return fmt.Errorf("failed to create PID directory: %w", err)
	}
	return os.WriteFile(pidFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0o644)
}

func isRunning(pidFile string) bool {
	pid, err := readPID(pidFile)
	if err != nil {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// On Unix FindProcess always succeeds, signal 0 probes existence.
	return process.Signal(syscall.Signal(0)) == nil
}

func readPID(pidFile string) (int, error) {
	data, err := os.ReadFile(pidFile)
	if err != nil {
		return 0, err
	}

	var pid int
	if _, err := fmt.Sscanf(string(data), "%d", &pid); err != nil {
		return 0, fmt.Errorf("invalid PID file: %w", err)
	}
	return pid, nil
}
