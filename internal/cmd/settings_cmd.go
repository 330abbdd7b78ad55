package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/runger/tidum/internal/suggestions/policy"
	"github.com/runger/tidum/internal/suggestions/settings"
)

var (
	settingsUser      string
	settingsRole      string
	settingsJSON      bool
	settingsMode      string
	settingsFrequency string
	settingsThreshold float64
)

var settingsCmd = &cobra.Command{
	Use:     "settings",
	Short:   "Show or change a user's suggestion settings",
	GroupID: groupPolicy,
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective settings of a user",
	Long: `Show the effective suggestion settings of a user.

The role selects the team default preset when the user has no override.

Examples:
  tidum settings show --user u-42 --role consultant
  tidum settings show --user u-42 --json`,
	Args: cobra.NoArgs,
	RunE: runSettingsShow,
}

var settingsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Write a user override",
	Long: `Write a user override. Only the flags given are changed; the other
fields keep their current effective value.

Examples:
  tidum settings set --user u-42 --mode dashboard_only
  tidum settings set --user u-42 --frequency low --threshold 0.6`,
	Args: cobra.NoArgs,
	RunE: runSettingsSet,
}

var settingsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drop a user's override and follow the team default again",
	Args:  cobra.NoArgs,
	RunE:  runSettingsReset,
}

func init() {
	for _, c := range []*cobra.Command{settingsShowCmd, settingsSetCmd, settingsResetCmd} {
		c.Flags().StringVar(&settingsUser, "user", "", "user ID (required)")
		c.Flags().StringVar(&settingsRole, "role", "", "user role")
		c.Flags().BoolVar(&settingsJSON, "json", false, "output as JSON")
		_ = c.MarkFlagRequired("user")
		settingsCmd.AddCommand(c)
	}
	settingsSetCmd.Flags().StringVar(&settingsMode, "mode", "", "off, dashboard_only, balanced or proactive")
	settingsSetCmd.Flags().StringVar(&settingsFrequency, "frequency", "", "low, normal or high")
	settingsSetCmd.Flags().Float64Var(&settingsThreshold, "threshold", 0, "confidence threshold in [0,1]")
}

func runSettingsShow(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	s, err := openStores(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	eff, err := s.settings.Resolve(ctx, settingsUser, normalizeRole(settingsRole))
	if err != nil {
		return err
	}
	return printSettings(eff)
}

func runSettingsSet(cmd *cobra.Command, args []string) error {
	var patch settings.Patch
	if cmd.Flags().Changed("mode") {
		m := policy.Mode(settingsMode)
		patch.Mode = &m
	}
	if cmd.Flags().Changed("frequency") {
		f := policy.Frequency(settingsFrequency)
		patch.Frequency = &f
	}
	if cmd.Flags().Changed("threshold") {
		th := settingsThreshold
		patch.ConfidenceThreshold = &th
	}
	if patch.IsEmpty() {
		return fmt.Errorf("nothing to change: pass --mode, --frequency or --threshold")
	}

	ctx := context.Background()
	s, err := openStores(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	eff, err := s.settings.UpdateSettings(ctx, settingsUser, normalizeRole(settingsRole), patch)
	if err != nil {
		return err
	}
	return printSettings(eff)
}

func runSettingsReset(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	s, err := openStores(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	eff, err := s.settings.ResetToTeamDefault(ctx, settingsUser, normalizeRole(settingsRole))
	if err != nil {
		return err
	}
	return printSettings(eff)
}

func printSettings(eff policy.Settings) error {
	if settingsJSON {
		return printJSON(eff)
	}

	fmt.Println(styleHeader.Render("Suggestion settings for " + eff.UserID))
	fmt.Println(strings.Repeat("-", 40))
	printField("mode", eff.Mode)
	printField("frequency", eff.Frequency)
	printField("confidence threshold", fmt.Sprintf("%.2f", eff.ConfidenceThreshold))
	printField("source", eff.Source)
	printField("user override", eff.UserOverride)
	printField("rollout", eff.RolloutSource+"/"+eff.RolloutVariant)
	for _, c := range policy.Categories() {
		values := eff.Blocked.Values(c)
		if len(values) == 0 {
			printField("blocked "+string(c), styleDim.Render("(none)"))
			continue
		}
		printField("blocked "+string(c), strings.Join(values, ", "))
	}
	return nil
}

// normalizeRole matches the gateway middleware: roles are case-insensitive.
func normalizeRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
