package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/joescharf/bd/internal/models"
	"github.com/joescharf/bd/internal/service"
)

var (
	issueTitle    string
	issueDesc     string
	issueType     string
	issuePriority int
	issueAssignee string
	issueStatus   string
	issueLabels   []string
	closeReason   string
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new issue",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getService()
		if err != nil {
			return err
		}
		p := issuePriority
		issue, err := s.CreateIssue(context.Background(), service.CreateParams{
			Title:       issueTitle,
			Description: issueDesc,
			Type:        models.IssueType(issueType),
			Priority:    &p,
			Assignee:    issueAssignee,
			Labels:      issueLabels,
		})
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(issue)
		}
		ui.Success("created %s: %s", issue.ID, issue.Title)
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show issue details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getService()
		if err != nil {
			return err
		}
		issue, err := s.GetIssue(context.Background(), args[0])
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(issue)
		}
		printIssueDetail(issue)
		return nil
	},
}

var updateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update issue fields",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getService()
		if err != nil {
			return err
		}

		params := service.UpdateParams{
			Type:   models.IssueType(issueType),
			Status: models.IssueStatus(issueStatus),
		}
		if cmd.Flags().Changed("title") {
			params.Title = issueTitle
			params.HasTitle = true
		}
		if cmd.Flags().Changed("desc") {
			params.Description = issueDesc
			params.HasDesc = true
		}
		if cmd.Flags().Changed("priority") {
			p := issuePriority
			params.Priority = &p
		}
		if cmd.Flags().Changed("assignee") {
			if issueAssignee == "" {
				params.ClearAssignee = true
			} else {
				params.Assignee = issueAssignee
				params.HasAssignee = true
			}
		}

		res, err := s.UpdateIssue(context.Background(), args[0], params)
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(res.Issue)
		}
		if !res.Changed {
			ui.Info("no change to %s", args[0])
			return nil
		}
		ui.Success("updated %s", args[0])
		return nil
	},
}

var closeCmd = &cobra.Command{
	Use:   "close <id>",
	Short: "Close an issue with a reason",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getService()
		if err != nil {
			return err
		}
		issue, err := s.CloseIssue(context.Background(), args[0], closeReason, "")
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(issue)
		}
		ui.Success("closed %s: %s", issue.ID, closeReason)
		return nil
	},
}

var reopenCmd = &cobra.Command{
	Use:   "reopen <id>",
	Short: "Reopen a closed issue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getService()
		if err != nil {
			return err
		}
		issue, err := s.ReopenIssue(context.Background(), args[0], "")
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(issue)
		}
		ui.Success("reopened %s", issue.ID)
		return nil
	},
}

func init() {
	createCmd.Flags().StringVar(&issueTitle, "title", "", "Issue title (required)")
	createCmd.Flags().StringVar(&issueDesc, "desc", "", "Issue description")
	createCmd.Flags().StringVar(&issueType, "type", "task", "Type: bug, feature, task, epic, chore, spike, doc")
	createCmd.Flags().IntVar(&issuePriority, "priority", 2, "Priority 0 (highest) to 4")
	createCmd.Flags().StringVar(&issueAssignee, "assignee", "", "Assignee identifier")
	createCmd.Flags().StringSliceVar(&issueLabels, "label", nil, "Label (repeatable)")
	createCmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON")
	_ = createCmd.MarkFlagRequired("title")

	showCmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON")

	updateCmd.Flags().StringVar(&issueTitle, "title", "", "New title")
	updateCmd.Flags().StringVar(&issueDesc, "desc", "", "New description")
	updateCmd.Flags().StringVar(&issueType, "type", "", "New type")
	updateCmd.Flags().IntVar(&issuePriority, "priority", 2, "New priority 0..4")
	updateCmd.Flags().StringVar(&issueAssignee, "assignee", "", "New assignee (empty clears)")
	updateCmd.Flags().StringVar(&issueStatus, "status", "", "New status: open, in_progress, blocked")
	updateCmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON")

	closeCmd.Flags().StringVar(&closeReason, "reason", "", "Why the issue is closed (required)")
	closeCmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON")
	_ = closeCmd.MarkFlagRequired("reason")

	reopenCmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON")

	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(closeCmd)
	rootCmd.AddCommand(reopenCmd)
}
