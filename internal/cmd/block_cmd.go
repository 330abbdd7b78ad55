package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/runger/tidum/internal/suggestions/policy"
)

var blockUser string

var blockCmd = &cobra.Command{
	Use:   "block <category> <value>",
	Short: "Never suggest a value to a user again",
	Long: `Add a value to a user's blocklist.

Categories: projects, descriptions, caseIds

Examples:
  tidum block projects p-internal --user u-42`,
	GroupID: groupPolicy,
	Args:    cobra.ExactArgs(2),
	RunE:    runBlock,
}

var unblockCmd = &cobra.Command{
	Use:   "unblock <category> <value>",
	Short: "Allow a blocked value again",
	Long: `Remove a value from a user's blocklist. Removing a value that is not
blocked is not an error.

Examples:
  tidum unblock projects p-internal --user u-42`,
	GroupID: groupPolicy,
	Args:    cobra.ExactArgs(2),
	RunE:    runUnblock,
}

func init() {
	for _, c := range []*cobra.Command{blockCmd, unblockCmd} {
		c.Flags().StringVar(&blockUser, "user", "", "user ID (required)")
		_ = c.MarkFlagRequired("user")
	}
}

func runBlock(cmd *cobra.Command, args []string) error {
	return mutateBlocklist(args, true)
}

func runUnblock(cmd *cobra.Command, args []string) error {
	return mutateBlocklist(args, false)
}

func mutateBlocklist(args []string, block bool) error {
	category := policy.Category(args[0])
	if !category.IsValid() {
		return fmt.Errorf("unknown category %q (want one of %v)", args[0], policy.Categories())
	}

	ctx := context.Background()
	s, err := openStores(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	var list policy.Blocklist
	if block {
		list, err = s.feedback.Block(ctx, blockUser, category, args[1])
	} else {
		list, err = s.feedback.Unblock(ctx, blockUser, category, args[1])
	}
	if err != nil {
		return err
	}

	verb := "Unblocked"
	if block {
		verb = "Blocked"
	}
	fmt.Printf("%s %s %s for %s\n", styleOK.Render(verb), category, args[1], blockUser)
	fmt.Printf("%s now blocked: %d\n", category, len(list.Values(category)))
	return nil
}
