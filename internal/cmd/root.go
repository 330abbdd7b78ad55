package cmd

import (
	"github.com/spf13/cobra"
)

const (
	groupPolicy = "policy"
	groupSetup  = "setup"
)

// dbPathFlag overrides storage.db_path for every command.
var dbPathFlag string

var rootCmd = &cobra.Command{
	Use:   "tidum",
	Short: "administer tidum suggestion policies",
	Long: `tidum - administer tidum suggestion policies
  - inspect and change per-user suggestion settings
  - manage team default presets and blocklists
  - read acceptance and time-saved metrics`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: groupPolicy, Title: "Policy Commands:"},
		&cobra.Group{ID: groupSetup, Title: "Setup Commands:"},
	)
	rootCmd.PersistentFlags().StringVar(&dbPathFlag, "db", "", "database path (default: storage.db_path or the data directory)")

	rootCmd.AddCommand(settingsCmd)
	rootCmd.AddCommand(teamDefaultsCmd)
	rootCmd.AddCommand(blockCmd)
	rootCmd.AddCommand(unblockCmd)
	rootCmd.AddCommand(feedbackCmd)
	rootCmd.AddCommand(metricsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(versionCmd)
}
