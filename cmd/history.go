package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/bd/internal/output"
)

var historyCmd = &cobra.Command{
	Use:   "history <id>",
	Short: "Show an issue's audit trail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getService()
		if err != nil {
			return err
		}
		events, err := s.History(context.Background(), args[0])
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(events)
		}
		for _, e := range events {
			line := fmt.Sprintf("%s  %-14s %s", e.Timestamp.Format(time.RFC3339), e.Kind, e.Actor)
			if e.Before != nil || e.After != nil {
				line += fmt.Sprintf("  %s → %s", derefOr(e.Before, "-"), derefOr(e.After, "-"))
			}
			fmt.Fprintln(ui.Out, line)
		}
		return nil
	},
}

var labelCmd = &cobra.Command{
	Use:   "label",
	Short: "Manage issue labels",
}

var labelAddCmd = &cobra.Command{
	Use:   "add <id> <label>",
	Short: "Add a label to an issue",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getService()
		if err != nil {
			return err
		}
		res, err := s.AddLabel(context.Background(), args[0], args[1], "")
		if err != nil {
			return err
		}
		if !res.Changed {
			ui.Info("%s already has label %s", args[0], args[1])
			return nil
		}
		ui.Success("labeled %s with %s", args[0], args[1])
		return nil
	},
}

var labelRemoveCmd = &cobra.Command{
	Use:     "remove <id> <label>",
	Aliases: []string{"rm"},
	Short:   "Remove a label from an issue",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getService()
		if err != nil {
			return err
		}
		res, err := s.RemoveLabel(context.Background(), args[0], args[1], "")
		if err != nil {
			return err
		}
		if !res.Changed {
			ui.Info("%s does not have label %s", args[0], args[1])
			return nil
		}
		ui.Success("removed label %s from %s", args[1], args[0])
		return nil
	},
}

var commentCmd = &cobra.Command{
	Use:   "comment",
	Short: "Manage issue comments",
}

var commentAddCmd = &cobra.Command{
	Use:   "add <id> <body>",
	Short: "Add a comment to an issue",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getService()
		if err != nil {
			return err
		}
		c, err := s.AddComment(context.Background(), args[0], "", args[1])
		if err != nil {
			return err
		}
		ui.Success("commented on %s (%s)", args[0], output.Cyan(c.ID))
		return nil
	},
}

var commentListCmd = &cobra.Command{
	Use:     "list <id>",
	Aliases: []string{"ls"},
	Short:   "List an issue's comments",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getService()
		if err != nil {
			return err
		}
		comments, err := s.Comments(context.Background(), args[0])
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(comments)
		}
		for _, c := range comments {
			fmt.Fprintf(ui.Out, "%s  %s\n%s\n\n", c.Timestamp.Format(time.RFC3339), output.Cyan(c.Author), c.Body)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON")
	commentListCmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON")

	labelCmd.AddCommand(labelAddCmd)
	labelCmd.AddCommand(labelRemoveCmd)
	commentCmd.AddCommand(commentAddCmd)
	commentCmd.AddCommand(commentListCmd)

	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(labelCmd)
	rootCmd.AddCommand(commentCmd)
}
