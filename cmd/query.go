package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var staleDays int

var readyCmd = &cobra.Command{
	Use:   "ready",
	Short: "List issues ready to work on right now",
	Long: `An issue is ready when it is open or in progress and every issue
blocking it is closed. Sorted by priority, then recency, then id, so
concurrent agents see a stable ordering.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getService()
		if err != nil {
			return err
		}
		issues, err := s.Ready(context.Background())
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(issues)
		}
		return printIssueTable(issues)
	},
}

var orphansCmd = &cobra.Command{
	Use:   "orphans",
	Short: "List open or in-progress issues with no links at all",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getService()
		if err != nil {
			return err
		}
		issues, err := s.Orphans(context.Background())
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(issues)
		}
		return printIssueTable(issues)
	},
}

var staleCmd = &cobra.Command{
	Use:   "stale",
	Short: "List open issues that have not been touched recently",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getService()
		if err != nil {
			return err
		}
		issues, err := s.Stale(context.Background(), time.Duration(staleDays)*24*time.Hour)
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(issues)
		}
		return printIssueTable(issues)
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate issue metrics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getService()
		if err != nil {
			return err
		}
		stats, err := s.Stats(context.Background())
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(stats)
		}
		fmt.Fprintf(ui.Out, "total:        %d\n", stats.Counts.Total)
		fmt.Fprintf(ui.Out, "open:         %d\n", stats.Counts.Open)
		fmt.Fprintf(ui.Out, "in progress:  %d\n", stats.Counts.InProgress)
		fmt.Fprintf(ui.Out, "blocked:      %d\n", stats.Counts.Blocked)
		fmt.Fprintf(ui.Out, "closed:       %d\n", stats.Counts.Closed)
		fmt.Fprintf(ui.Out, "ready:        %d\n", stats.Ready)
		fmt.Fprintf(ui.Out, "avg lead:     %.1fh\n", stats.AverageLeadTimeHr)
		return nil
	},
}

func init() {
	readyCmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON")
	orphansCmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON")
	staleCmd.Flags().IntVar(&staleDays, "days", 30, "Staleness horizon in days")
	staleCmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON")
	statsCmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON")

	rootCmd.AddCommand(readyCmd)
	rootCmd.AddCommand(orphansCmd)
	rootCmd.AddCommand(staleCmd)
	rootCmd.AddCommand(statsCmd)
}
