package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/runger/tidum/internal/suggestions/feedback"
)

var (
	feedbackUser  string
	feedbackLimit int
	feedbackJSON  bool
)

var feedbackCmd = &cobra.Command{
	Use:   "feedback",
	Short: "Show a user's recent suggestion feedback",
	Long: `Show a user's recent accept and reject events, newest first.

Examples:
  tidum feedback --user u-42
  tidum feedback --user u-42 --limit 50 --json`,
	GroupID: groupPolicy,
	Args:    cobra.NoArgs,
	RunE:    runFeedback,
}

func init() {
	feedbackCmd.Flags().StringVar(&feedbackUser, "user", "", "user ID (required)")
	feedbackCmd.Flags().IntVar(&feedbackLimit, "limit", 20, "maximum number of events")
	feedbackCmd.Flags().BoolVar(&feedbackJSON, "json", false, "output as JSON")
	_ = feedbackCmd.MarkFlagRequired("user")
}

func runFeedback(cmd *cobra.Command, args []string) error {
	if feedbackLimit < 1 {
		return fmt.Errorf("--limit must be at least 1")
	}

	ctx := context.Background()
	s, err := openStores(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	events, err := s.feedback.List(ctx, feedbackUser, feedbackLimit)
	if err != nil {
		return err
	}
	if feedbackJSON {
		if events == nil {
			events = []feedback.Event{}
		}
		return printJSON(events)
	}

	if len(events) == 0 {
		fmt.Println(styleDim.Render("No feedback recorded."))
		return nil
	}
	fmt.Println(styleHeader.Render("Feedback for " + feedbackUser))
	fmt.Println(strings.Repeat("-", 40))
	for _, ev := range events {
		outcome := styleOK.Render(string(ev.Outcome))
		if ev.Outcome == feedback.OutcomeRejected {
			outcome = styleWarn.Render(string(ev.Outcome))
		}
		line := fmt.Sprintf("  %s  %-13s %-9s %s", ev.CreatedAt.Local().Format(time.DateTime), ev.SuggestionType, outcome, ev.SuggestedValue)
		if ev.ChosenValue != "" && ev.ChosenValue != ev.SuggestedValue {
			line += styleDim.Render(" -> " + ev.ChosenValue)
		}
		if ev.Metadata.NeverAgain {
			line += styleError.Render(" [never again]")
		}
		fmt.Println(line)
	}
	return nil
}
