package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/runger/tidum/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Get or set configuration values",
	Long: `Get or set tidum configuration values.

Without arguments, lists all configuration keys.
With one argument, shows the value of that key.
With two arguments, sets the key to the value.

Configuration is stored in ~/.config/tidum/config.yaml (XDG compliant).

Keys are in the format: section.key
Sections: server, storage, suggestions

Examples:
  tidum config                                   # List all keys
  tidum config server.addr                       # Get the listen address
  tidum config suggestions.cooldown_low_mins 720 # Halve the low-frequency cooldown
  tidum config server.admin_roles admin,partner`,
	GroupID: groupSetup,
	Args:    cobra.MaximumNArgs(2),
	RunE:    runConfig,
}

func runConfig(cmd *cobra.Command, args []string) error {
	paths := config.DefaultPaths()
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	switch len(args) {
	case 0:
		return listConfig(cfg, paths)
	case 1:
		return getConfig(cfg, args[0])
	case 2:
		return setConfig(cfg, paths, args[0], args[1])
	}

	return nil
}

func listConfig(cfg *config.Config, paths *config.Paths) error {
	fmt.Println(styleHeader.Render("Configuration Keys"))
	fmt.Println(strings.Repeat("-", 40))
	fmt.Println()

	var failedKeys []string
	for _, key := range config.ListKeys() {
		value, err := cfg.Get(key)
		if err != nil {
			failedKeys = append(failedKeys, key)
			continue
		}
		if value == "" {
			value = styleDim.Render("(not set)")
		}
		fmt.Printf("  %s = %s\n", styleKey.Render(key), value)
	}

	if len(failedKeys) > 0 {
		fmt.Printf("\n%s Failed to retrieve keys: %s\n", styleWarn.Render("Warning:"), strings.Join(failedKeys, ", "))
	}

	fmt.Println()
	fmt.Printf("Config file: %s\n", paths.ConfigFile())
	return nil
}

func getConfig(cfg *config.Config, key string) error {
	value, err := cfg.Get(key)
	if err != nil {
		return err
	}

	if value == "" {
		fmt.Println(styleDim.Render("(not set)"))
	} else {
		fmt.Println(value)
	}
	return nil
}

func setConfig(cfg *config.Config, paths *config.Paths, key, value string) error {
	if err := cfg.Set(key, value); err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Ensure directories exist before saving
	if err := paths.EnsureDirectories(); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}

	if err := cfg.SaveToFile(paths.ConfigFile()); err != nil {
		return err
	}

	fmt.Printf("%s = %s\n", styleKey.Render(key), value)
	fmt.Printf("Saved to: %s\n", paths.ConfigFile())
	return nil
}
