package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/joescharf/bd/internal/bderr"
	"github.com/joescharf/bd/internal/models"
	"github.com/joescharf/bd/internal/output"
)

// printJSON writes v as indented JSON to stdout for programmatic callers.
func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return bderr.Wrap(bderr.CodeInvariant, err, "marshal output")
	}
	fmt.Fprintln(ui.Out, string(data))
	return nil
}

// printIssueTable renders issues in the standard list shape.
func printIssueTable(issues []*models.Issue) error {
	if len(issues) == 0 {
		ui.Info("no issues")
		return nil
	}
	table := ui.Table([]string{"ID", "Pri", "Type", "Status", "Title", "Assignee"})
	for _, i := range issues {
		assignee := ""
		if i.Assignee != nil {
			assignee = *i.Assignee
		}
		table.Append([]string{
			output.Cyan(i.ID),
			output.PriorityColor(i.Priority),
			string(i.Type),
			output.StatusColor(string(i.Status)),
			i.Title,
			assignee,
		})
	}
	return table.Render()
}

// printIssueDetail renders a single issue with all fields.
func printIssueDetail(issue *models.Issue) {
	fmt.Fprintf(ui.Out, "%s  %s\n", output.Cyan(issue.ID), issue.Title)
	fmt.Fprintf(ui.Out, "  status:   %s\n", output.StatusColor(string(issue.Status)))
	fmt.Fprintf(ui.Out, "  type:     %s\n", issue.Type)
	fmt.Fprintf(ui.Out, "  priority: %s\n", output.PriorityColor(issue.Priority))
	if issue.Assignee != nil {
		fmt.Fprintf(ui.Out, "  assignee: %s\n", *issue.Assignee)
	}
	if len(issue.Labels) > 0 {
		fmt.Fprintf(ui.Out, "  labels:   %v\n", issue.Labels)
	}
	fmt.Fprintf(ui.Out, "  created:  %s\n", issue.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(ui.Out, "  updated:  %s\n", issue.UpdatedAt.Format(time.RFC3339))
	if issue.ClosedAt != nil {
		fmt.Fprintf(ui.Out, "  closed:   %s (%s)\n", issue.ClosedAt.Format(time.RFC3339), derefOr(issue.CloseReason, ""))
	}
	if issue.Description != "" {
		fmt.Fprintf(ui.Out, "\n%s\n", issue.Description)
	}
	for _, l := range issue.Links {
		fmt.Fprintf(ui.Out, "  %s %s\n", l.Type, output.Cyan(l.To))
	}
}

func derefOr(p *string, fallback string) string {
	if p == nil {
		return fallback
	}
	return *p
}
