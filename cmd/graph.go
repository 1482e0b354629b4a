package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joescharf/bd/internal/bderr"
	"github.com/joescharf/bd/internal/graph"
	"github.com/joescharf/bd/internal/output"
)

var graphFormat string

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Render the issue graph",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getService()
		if err != nil {
			return err
		}
		data, err := s.Graph(context.Background())
		if err != nil {
			return err
		}
		switch graphFormat {
		case "json":
			return printJSON(data)
		case "dot":
			fmt.Fprint(ui.Out, renderDOT(data))
			return nil
		case "ascii":
			fmt.Fprint(ui.Out, renderASCII(data))
			return nil
		default:
			return bderr.New(bderr.CodeInvalidField, "unknown graph format: %s", graphFormat)
		}
	},
}

var swarmCmd = &cobra.Command{
	Use:   "swarm",
	Short: "Show parallel work layers",
	Long: `Partitions all non-closed issues into layers: layer 0 is workable
now, and each later layer unblocks once everything beneath it closes.
Issues in the same layer can proceed in parallel.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getService()
		if err != nil {
			return err
		}
		layers, err := s.Swarm(context.Background())
		if err != nil {
			return err
		}
		if jsonOut {
			return printJSON(layers)
		}
		for k, layer := range layers {
			fmt.Fprintf(ui.Out, "layer %d:\n", k)
			for _, n := range layer {
				fmt.Fprintf(ui.Out, "  %s %s %s  %s\n",
					output.Cyan(n.ID),
					output.PriorityColor(n.Priority),
					output.StatusColor(string(n.Status)),
					n.Title)
			}
		}
		return nil
	},
}

// renderDOT emits a graphviz digraph of the engine's export structure.
func renderDOT(data graph.ExportData) string {
	var b strings.Builder
	b.WriteString("digraph bd {\n")
	b.WriteString("  rankdir=LR;\n")
	for _, n := range data.Nodes {
		b.WriteString(fmt.Sprintf("  %q [label=%q];\n", n.ID, fmt.Sprintf("%s\\n%s P%d", n.ID, n.Status, n.Priority)))
	}
	for _, e := range data.Edges {
		b.WriteString(fmt.Sprintf("  %q -> %q [label=%q];\n", e.From, e.To, e.Type))
	}
	b.WriteString("}\n")
	return b.String()
}

// renderASCII prints one node per line with its outgoing edges indented.
func renderASCII(data graph.ExportData) string {
	edgesFrom := map[string][]graph.Edge{}
	for _, e := range data.Edges {
		edgesFrom[e.From] = append(edgesFrom[e.From], e)
	}

	var b strings.Builder
	for _, n := range data.Nodes {
		b.WriteString(fmt.Sprintf("%s [%s P%d] %s\n", n.ID, n.Status, n.Priority, n.Title))
		for _, e := range edgesFrom[n.ID] {
			b.WriteString(fmt.Sprintf("  └─%s→ %s\n", e.Type, e.To))
		}
	}
	return b.String()
}

func init() {
	graphCmd.Flags().StringVar(&graphFormat, "format", "ascii", "Output format: ascii, dot, json")
	swarmCmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON")

	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(swarmCmd)
}
