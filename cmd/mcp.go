package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/joescharf/bd/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for agent integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets agent runtimes drive bd natively. Configure with:

  {
    "mcpServers": {
      "bd": { "command": "bd", "args": ["mcp"] }
    }
  }

Available tools: bd_create, bd_show, bd_list, bd_update, bd_close,
bd_reopen, bd_ready, bd_dep_add, bd_dep_remove, bd_dep_list, bd_swarm,
bd_comment.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getService()
		if err != nil {
			return err
		}
		return mcp.NewServer(s).ServeStdio(context.Background())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
