package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/bd/internal/models"
)

var (
	listStatus   []string
	listType     []string
	listPriority int
	listAssignee string
	listLabel    []string
	listSince    string
	listText     string
	listLimit    int
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List issues",
	Long:    "List issues matching the given filters. All filters are combined with AND.",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		filter, err := buildFilter(cmd)
		if err != nil {
			return err
		}
		return listRun(filter)
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <text>",
	Short: "Search issues by title/description substring",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return listRun(models.IssueFilter{Text: args[0], Limit: listLimit})
	},
}

func buildFilter(cmd *cobra.Command) (models.IssueFilter, error) {
	filter := models.IssueFilter{
		Text:  listText,
		Limit: listLimit,
	}
	for _, st := range listStatus {
		filter.Statuses = append(filter.Statuses, models.IssueStatus(st))
	}
	for _, ty := range listType {
		filter.Types = append(filter.Types, models.IssueType(ty))
	}
	if cmd.Flags().Changed("priority") {
		p := listPriority
		filter.PriorityMax = &p
	}
	if listAssignee != "" {
		filter.Assignee = &listAssignee
	}
	filter.Labels = listLabel
	if listSince != "" {
		t, err := time.Parse(time.RFC3339, listSince)
		if err != nil {
			return filter, err
		}
		filter.UpdatedSince = &t
	}
	return filter, nil
}

func listRun(filter models.IssueFilter) error {
	s, err := getService()
	if err != nil {
		return err
	}
	issues, err := s.ListIssues(context.Background(), filter)
	if err != nil {
		return err
	}
	if jsonOut {
		if issues == nil {
			issues = []*models.Issue{}
		}
		return printJSON(issues)
	}
	return printIssueTable(issues)
}

func init() {
	listCmd.Flags().StringSliceVar(&listStatus, "status", nil, "Filter by status (repeatable)")
	listCmd.Flags().StringSliceVar(&listType, "type", nil, "Filter by type (repeatable)")
	listCmd.Flags().IntVar(&listPriority, "priority", 4, "Only issues with priority <= this")
	listCmd.Flags().StringVar(&listAssignee, "assignee", "", "Filter by assignee")
	listCmd.Flags().StringSliceVar(&listLabel, "label", nil, "Filter by label (repeatable)")
	listCmd.Flags().StringVar(&listSince, "updated-since", "", "Only issues updated at or after this RFC 3339 time")
	listCmd.Flags().StringVar(&listText, "text", "", "Title/description substring")
	listCmd.Flags().IntVar(&listLimit, "limit", 0, "Maximum results")
	listCmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON")

	searchCmd.Flags().IntVar(&listLimit, "limit", 0, "Maximum results")
	searchCmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(searchCmd)
}
