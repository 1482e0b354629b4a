package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joescharf/bd/internal/models"
	"github.com/joescharf/bd/internal/output"
)

var depType string

var depCmd = &cobra.Command{
	Use:   "dep",
	Short: "Manage typed links between issues",
}

var depAddCmd = &cobra.Command{
	Use:   "add <from> <to>",
	Short: "Add a link between two issues",
	Long: `Adds a typed link. Inverse spellings (blocked_by, depends_on,
child_of, ...) are rewritten to canonical form on ingest. Blocking links
that would create a cycle are rejected.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getService()
		if err != nil {
			return err
		}
		link, err := s.AddLink(context.Background(), args[0], args[1], models.LinkType(depType), "")
		if err != nil {
			return err
		}
		ui.Success("linked %s %s %s", link.From, link.Type, link.To)
		return nil
	},
}

var depRemoveCmd = &cobra.Command{
	Use:     "remove <from> <to>",
	Aliases: []string{"rm"},
	Short:   "Remove a link between two issues",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getService()
		if err != nil {
			return err
		}
		if err := s.RemoveLink(context.Background(), args[0], args[1], models.LinkType(depType), ""); err != nil {
			return err
		}
		ui.Success("removed link %s -> %s", args[0], args[1])
		return nil
	},
}

var depListCmd = &cobra.Command{
	Use:   "list <id>",
	Short: "List an issue's links in both directions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getService()
		if err != nil {
			return err
		}
		views, err := s.Links(context.Background(), args[0])
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(views)
		}
		if len(views) == 0 {
			ui.Info("no links on %s", args[0])
			return nil
		}
		for _, v := range views {
			if v.Inward {
				fmt.Fprintf(ui.Out, "  ← %s %s\n", v.Type, output.Cyan(v.Other))
				continue
			}
			fmt.Fprintf(ui.Out, "  %s %s\n", v.Type, output.Cyan(v.Other))
		}
		return nil
	},
}

func init() {
	depAddCmd.Flags().StringVar(&depType, "type", string(models.LinkBlocks), "Link type")
	depRemoveCmd.Flags().StringVar(&depType, "type", string(models.LinkBlocks), "Link type")
	depListCmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON")

	depCmd.AddCommand(depAddCmd)
	depCmd.AddCommand(depRemoveCmd)
	depCmd.AddCommand(depListCmd)
	rootCmd.AddCommand(depCmd)
}
