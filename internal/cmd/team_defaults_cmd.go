package cmd

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/runger/tidum/internal/suggestions/policy"
)

var (
	teamJSON      bool
	teamMode      string
	teamFrequency string
	teamThreshold float64
	teamActor     string
)

var teamDefaultsCmd = &cobra.Command{
	Use:     "team-defaults",
	Short:   "List or set per-role default presets",
	GroupID: groupPolicy,
}

var teamDefaultsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every role preset",
	Args:  cobra.NoArgs,
	RunE:  runTeamDefaultsList,
}

var teamDefaultsSetCmd = &cobra.Command{
	Use:   "set <role>",
	Short: "Set the preset of a role",
	Long: `Set the preset of a role. All three fields are required. The role
"default" applies to users whose role has no preset of its own.

Examples:
  tidum team-defaults set consultant --mode proactive --frequency high --threshold 0.3
  tidum team-defaults set default --mode balanced --frequency normal --threshold 0.45`,
	Args: cobra.ExactArgs(1),
	RunE: runTeamDefaultsSet,
}

func init() {
	teamDefaultsListCmd.Flags().BoolVar(&teamJSON, "json", false, "output as JSON")
	teamDefaultsSetCmd.Flags().BoolVar(&teamJSON, "json", false, "output as JSON")
	teamDefaultsSetCmd.Flags().StringVar(&teamMode, "mode", "", "off, dashboard_only, balanced or proactive")
	teamDefaultsSetCmd.Flags().StringVar(&teamFrequency, "frequency", "", "low, normal or high")
	teamDefaultsSetCmd.Flags().Float64Var(&teamThreshold, "threshold", 0, "confidence threshold in [0,1]")
	teamDefaultsSetCmd.Flags().StringVar(&teamActor, "actor", "", "recorded as the author of the change (default: $USER)")
	for _, f := range []string{"mode", "frequency", "threshold"} {
		_ = teamDefaultsSetCmd.MarkFlagRequired(f)
	}

	teamDefaultsCmd.AddCommand(teamDefaultsListCmd)
	teamDefaultsCmd.AddCommand(teamDefaultsSetCmd)
}

func runTeamDefaultsList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	s, err := openStores(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	presets, err := s.settings.TeamDefaults(ctx)
	if err != nil {
		return err
	}
	return printPresets(presets)
}

func runTeamDefaultsSet(cmd *cobra.Command, args []string) error {
	actor := teamActor
	if actor == "" {
		actor = "cli:" + os.Getenv("USER")
	}
	preset := policy.Preset{
		Mode:                policy.Mode(teamMode),
		Frequency:           policy.Frequency(teamFrequency),
		ConfidenceThreshold: teamThreshold,
	}

	ctx := context.Background()
	s, err := openStores(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	presets, err := s.settings.SetTeamDefault(ctx, normalizeRole(args[0]), preset, actor)
	if err != nil {
		return err
	}
	return printPresets(presets)
}

func printPresets(presets map[string]policy.Preset) error {
	if teamJSON {
		return printJSON(presets)
	}

	roles := make([]string, 0, len(presets))
	for role := range presets {
		roles = append(roles, role)
	}
	slices.Sort(roles)

	fmt.Println(styleHeader.Render("Team default presets"))
	fmt.Println(strings.Repeat("-", 40))
	for _, role := range roles {
		p := presets[role]
		printField(role, fmt.Sprintf("%-15s %-7s %.2f", p.Mode, p.Frequency, p.ConfidenceThreshold))
	}
	return nil
}
