package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aveline/grimalkin/internal/config"
	"github.com/aveline/grimalkin/internal/logger"
	"github.com/aveline/grimalkin/pkg/coreplugin"
	"github.com/aveline/grimalkin/pkg/manager"
	"github.com/aveline/grimalkin/pkg/plugin"
	"github.com/aveline/grimalkin/pkg/settings"
)

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "Manage installed plugins",
}

var pluginsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed plugins",
	RunE:  runPluginsList,
}

var pluginsInstallCmd = &cobra.Command{
	Use:   "install <archive>",
	Short: "Install a plugin package",
	Long: `Install a plugin from a zip or tar archive. The archive filename
becomes the plugin id. Refused when the package declares a dependency
that is not installed, or when its sources fail the safety scan.`,
	Args: cobra.ExactArgs(1),
	RunE: runPluginsInstall,
}

var pluginsUninstallCmd = &cobra.Command{
	Use:   "uninstall <plugin-id>",
	Short: "Uninstall a plugin",
	Long: `Remove an installed plugin, its folder, and every agent's settings
for it. Refused while other installed plugins depend on it.`,
	Args: cobra.ExactArgs(1),
	RunE: runPluginsUninstall,
}

func init() {
	pluginsCmd.AddCommand(pluginsListCmd)
	pluginsCmd.AddCommand(pluginsInstallCmd)
	pluginsCmd.AddCommand(pluginsUninstallCmd)
	rootCmd.AddCommand(pluginsCmd)
}

// adminSystem wires a system manager for a one-shot administrative
// command. Mutations still publish sync events, so a running replica
// picks them up.
func adminSystem() (*manager.SystemManager, func(), error) {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return nil, nil, err
	}

	log, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		Console:   true,
		Redaction: cfg.Logging.Redaction,
	})
	if err != nil {
		return nil, nil, err
	}

	store, err := settings.NewSQLiteStore(cfg.Store.Path, log.GetZerolog())
	if err != nil {
		log.Close()
		return nil, nil, fmt.Errorf("failed to open settings store: %w", err)
	}

	factories := plugin.NewFactoryRegistry()
	coreplugin.Register(factories)

	system, err := manager.NewSystem(manager.SystemConfig{
		PluginsRoot:  cfg.Plugins.Root,
		ReplicaID:    cfg.Sync.ReplicaID,
		BasePluginID: cfg.Plugins.BasePluginID,
		HostVersion:  version,
		Store:        store,
		Factories:    factories,
		Logger:       log.GetZerolog(),
	})
	if err != nil {
		store.Close()
		log.Close()
		return nil, nil, err
	}

	cleanup := func() {
		store.Close()
		log.Close()
	}
	return system, cleanup, nil
}

func runPluginsList(cmd *cobra.Command, args []string) error {
	system, cleanup, err := adminSystem()
	if err != nil {
		return err
	}
	defer cleanup()

	if err := system.Discover(); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, id := range system.PluginIDs() {
		p, _ := system.Plugin(id)
		m := p.Manifest()
		state := "inactive"
		if p.ActiveFor(manager.SystemAgentKey) {
			state = "active"
		}
		fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", id, m.Version, state, m.Name)
	}
	return nil
}

func runPluginsInstall(cmd *cobra.Command, args []string) error {
	system, cleanup, err := adminSystem()
	if err != nil {
		return err
	}
	defer cleanup()

	if err := system.Discover(); err != nil {
		return err
	}

	id, err := system.Install(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Installed plugin %s\n", id)
	return nil
}

func runPluginsUninstall(cmd *cobra.Command, args []string) error {
	system, cleanup, err := adminSystem()
	if err != nil {
		return err
	}
	defer cleanup()

	if err := system.Discover(); err != nil {
		return err
	}

	if err := system.Uninstall(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Uninstalled plugin %s\n", args[0])
	return nil
}
