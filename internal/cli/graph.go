package cli

import (
	"fmt"
	"os"

	"github.com/davidthor/taskgraph/pkg/engine/astute"
	"github.com/davidthor/taskgraph/pkg/graph"
	"github.com/davidthor/taskgraph/pkg/graph/visual"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newGraphCmd() *cobra.Command {
	var (
		topology    string
		format      string
		outFile     string
		direction   string
		group       bool
		hideSkipped bool
		only        []string
		width       int
		height      int
	)

	cmd := &cobra.Command{
		Use:   "graph [catalog]",
		Short: "Render the task graph as a Mermaid diagram or PNG image",
		Long: `Render the dependency graph of a task catalog.

The mermaid format prints the flowchart text; the png format renders it
through mermaid-cli (mmdc), which must be on $PATH.

Examples:
  taskgraph graph release/tasks.yaml
  taskgraph graph release/ --topology cluster.yaml --group
  taskgraph graph release/ --only netconfig --hide-skipped
  taskgraph graph release/ --format png --out graph.png`,
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			if len(args) > 0 {
				path = args[0]
			}
			if path == "" && topology == "" {
				return fmt.Errorf("a catalog path or --topology is required")
			}

			release, err := loadRelease(path)
			if err != nil {
				return err
			}

			var g *graph.DeploymentGraph
			if topology != "" {
				clusters, err := loadClusters([]string{topology})
				if err != nil {
					return err
				}
				ag, err := astute.New(clusters[0], release)
				if err != nil {
					return formatError(err)
				}
				g = ag.Graph()
			} else {
				if err := graph.NewValidator(release).Check(); err != nil {
					return formatError(err)
				}
				g = graph.NewFromTemplates(release)
			}
			if len(only) > 0 {
				g.OnlyTasks(only)
			}

			opts := visual.MermaidOptions{
				GroupByGroup: group,
				Direction:    direction,
				HideSkipped:  hideSkipped,
			}

			switch format {
			case "mermaid":
				text, err := visual.RenderMermaid(g, opts)
				if err != nil {
					return err
				}
				if outFile != "" {
					return os.WriteFile(outFile, []byte(text), 0644)
				}
				fmt.Fprint(cmd.OutOrStdout(), text)
				return nil
			case "png":
				if outFile == "" {
					return fmt.Errorf("--out is required for png output")
				}
				data, err := visual.RenderImage(cmd.Context(), g, visual.ImageOptions{
					MermaidOptions: opts,
					Width:          width,
					Height:         height,
					Command:        viper.GetString(ConfigKeyMermaidCLI),
				})
				if err != nil {
					return err
				}
				if err := os.WriteFile(outFile, data, 0644); err != nil {
					return fmt.Errorf("failed to write image: %w", err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s\n", outFile)
				return nil
			default:
				return fmt.Errorf("unsupported format %q (expected mermaid or png)", format)
			}
		},
	}

	cmd.Flags().StringVarP(&topology, "topology", "t", "", "Cluster topology file; draws the catalog merged with cluster and plugin tasks")
	cmd.Flags().StringVar(&format, "format", "mermaid", "Output format: mermaid or png")
	cmd.Flags().StringVar(&outFile, "out", "", "Write the output to this file")
	cmd.Flags().StringVar(&direction, "direction", "TD", "Flowchart direction: TD or LR")
	cmd.Flags().BoolVar(&group, "group", false, "Draw groups as subgraphs around their tasks")
	cmd.Flags().BoolVar(&hideSkipped, "hide-skipped", false, "Leave out tasks not selected by --only")
	cmd.Flags().StringArrayVar(&only, "only", nil, "Mark every other task as skipped (repeatable)")
	cmd.Flags().IntVar(&width, "width", 0, "PNG width in pixels")
	cmd.Flags().IntVar(&height, "height", 0, "PNG height in pixels")

	return cmd
}
