package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/runger/tidum/internal/suggestions/metrics"
)

var (
	metricsUser string
	metricsRole string
	metricsJSON bool
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Show suggestion acceptance and time-saved metrics",
	Long: `Show acceptance, override and time-saved metrics for one user or for
every user of a role.

Examples:
  tidum metrics --user u-42
  tidum metrics --role consultant --json`,
	GroupID: groupPolicy,
	Args:    cobra.NoArgs,
	RunE:    runMetrics,
}

func init() {
	metricsCmd.Flags().StringVar(&metricsUser, "user", "", "user ID")
	metricsCmd.Flags().StringVar(&metricsRole, "role", "", "aggregate over a role instead of one user")
	metricsCmd.Flags().BoolVar(&metricsJSON, "json", false, "output as JSON")
	metricsCmd.MarkFlagsMutuallyExclusive("user", "role")
	metricsCmd.MarkFlagsOneRequired("user", "role")
}

func runMetrics(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	s, err := openStores(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	var m metrics.Metrics
	title := "Metrics for " + metricsUser
	if metricsRole != "" {
		m, err = s.metrics.ComputeTeam(ctx, normalizeRole(metricsRole))
		title = "Metrics for role " + normalizeRole(metricsRole)
	} else {
		m, err = s.metrics.Compute(ctx, metricsUser)
	}
	if err != nil {
		return err
	}

	if metricsJSON {
		return printJSON(m)
	}

	fmt.Println(styleHeader.Render(title))
	fmt.Println(strings.Repeat("-", 40))
	printWindow("all time", m.Window)
	fmt.Println()
	printWindow("last 7 days", m.Last7Days)

	if len(m.FeedbackByType) > 0 {
		fmt.Println()
		fmt.Println(styleHeader.Render("By type"))
		for _, t := range m.Types() {
			c := m.FeedbackByType[t]
			printField(t, fmt.Sprintf("%d accepted, %d rejected", c.Accepted, c.Rejected))
		}
	}
	return nil
}

func printWindow(label string, w metrics.Window) {
	fmt.Println(styleDim.Render(label))
	printField("feedback", fmt.Sprintf("%d (%d accepted, %d rejected)", w.TotalFeedback, w.Accepted, w.Rejected))
	printField("acceptance rate", formatRate(w.AcceptanceRate))
	printField("override rate", formatRate(w.OverrideRate))
	printField("time saved", fmt.Sprintf("%d min", w.EstimatedTimeSavedMinutes))
	printField("prevented misentries", w.PreventedMisentries)
}
