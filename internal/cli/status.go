package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aveline/grimalkin/internal/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show plugin host status",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	pidFile := getPIDFilePath()
	if !isRunning(pidFile) {
		fmt.Fprintln(out, "Status: stopped")
		return nil
	}

	pid, err := readPID(pidFile)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Status: running (PID %d)\n", pid)

	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Plugins root: %s\n", cfg.Plugins.Root)
	fmt.Fprintf(out, "Settings store: %s\n", cfg.Store.Path)
	if cfg.Sync.Enabled {
		fmt.Fprintf(out, "Sync: enabled (%s)\n", cfg.Sync.URL)
	} else {
		fmt.Fprintln(out, "Sync: disabled")
	}
	return nil
}
