package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/davidthor/taskgraph/pkg/catalog"
	"github.com/davidthor/taskgraph/pkg/cluster"
	"github.com/davidthor/taskgraph/pkg/engine/planner"
	"github.com/davidthor/taskgraph/pkg/engine/serializer"
	"github.com/davidthor/taskgraph/pkg/graph/visual"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type planFlags struct {
	catalog     string
	topologies  []string
	tasks       []string
	start       string
	end         string
	nodes       []string
	events      []string
	output      string
	save        bool
	image       string
	hideSkipped bool
	concurrency int
}

func newPlanCmd() *cobra.Command {
	var f planFlags

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Compute the execution plan of one or more clusters",
		Long: `Compute the execution plan of a cluster: the task fragments each node runs,
in order, with dependencies resolved across nodes.

Several --topology files plan several clusters concurrently against the same
release catalog. Plans are identified by a content derived id; --save archives
them in the configured plan store.

Examples:
  taskgraph plan -c release/tasks.yaml -t cluster.yaml
  taskgraph plan -c release/ -t cluster.yaml --task netconfig --node 1 --node 2
  taskgraph plan -c release/ -t cluster.yaml --node 3 --event deploy_changes
  taskgraph plan -c release/ -t staging.yaml -t production.yaml -o json --save
  taskgraph plan -c release/ -t cluster.yaml --image plan.png`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd, f)
		},
	}

	cmd.Flags().StringVarP(&f.catalog, "catalog", "c", "", "Release task catalog file or directory")
	cmd.Flags().StringArrayVarP(&f.topologies, "topology", "t", nil, "Cluster topology file (repeatable)")
	cmd.Flags().StringArrayVar(&f.tasks, "task", nil, "Only run this task or group (repeatable)")
	cmd.Flags().StringVar(&f.start, "start", "", "Plan only the tasks reachable from this task")
	cmd.Flags().StringVar(&f.end, "end", "", "Plan only the tasks leading to this task")
	cmd.Flags().StringArrayVar(&f.nodes, "node", nil, "Deploy only this node (repeatable)")
	cmd.Flags().StringArrayVar(&f.events, "event", nil, "Active event forcing subscribed tasks on other nodes (repeatable)")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "Output format: table, json, yaml, or mermaid")
	cmd.Flags().BoolVar(&f.save, "save", false, "Archive the plans in the plan store")
	cmd.Flags().StringVar(&f.image, "image", "", "Also render each plan as a PNG through mermaid-cli")
	cmd.Flags().BoolVar(&f.hideSkipped, "hide-skipped", false, "Leave skipped fragments out of table and mermaid output")
	cmd.Flags().IntVar(&f.concurrency, "concurrency", 4, "Maximum number of clusters planned at once")
	_ = cmd.MarkFlagRequired("topology")

	return cmd
}

func runPlan(cmd *cobra.Command, f planFlags) error {
	format, err := resolveFormat(f.output, outputFormats...)
	if err != nil {
		return err
	}

	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	release, err := loadRelease(f.catalog)
	if err != nil {
		return err
	}
	clusters, err := loadClusters(f.topologies)
	if err != nil {
		return err
	}

	opts := planner.PlanOptions{
		TaskIDs: nilIfEmpty(f.tasks),
		Start:   f.start,
		End:     f.end,
		NodeIDs: toNodeIDs(f.nodes),
		Events:  nilIfEmpty(f.events),
	}
	plans, err := planClusters(cmd.Context(), logger, clusters, release, opts, f.concurrency)
	if err != nil {
		return err
	}

	if f.save {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		for _, p := range plans {
			saved, err := store.Save(cmd.Context(), p)
			if err != nil {
				return err
			}
			if saved {
				fmt.Fprintf(cmd.ErrOrStderr(), "Saved plan %s for cluster %s\n", p.ID, p.ClusterID)
			} else {
				fmt.Fprintf(cmd.ErrOrStderr(), "Plan %s for cluster %s is already saved\n", p.ID, p.ClusterID)
			}
		}
	}

	if f.image != "" {
		if err := writePlanImages(cmd, plans, f.image, f.hideSkipped); err != nil {
			return err
		}
	}

	return writePlans(cmd.OutOrStdout(), plans, format, f.hideSkipped)
}

// writePlanImages renders one PNG per plan. With several clusters the
// cluster id is added to the file name: plan.png becomes plan-<cluster>.png.
func writePlanImages(cmd *cobra.Command, plans []*planner.Plan, path string, hideSkipped bool) error {
	opts := visual.ImageOptions{Command: viper.GetString(ConfigKeyMermaidCLI)}
	for _, p := range plans {
		data, err := visual.RenderPlanImage(cmd.Context(), p.Nodes, visual.PlanOptions{
			Title:       "cluster " + p.ClusterID,
			HideSkipped: hideSkipped,
		}, opts)
		if err != nil {
			return fmt.Errorf("cluster %s: %w", p.ClusterID, err)
		}

		out := path
		if len(plans) > 1 {
			out = planImagePath(path, p.ClusterID)
		}
		if err := os.WriteFile(out, data, 0644); err != nil {
			return fmt.Errorf("failed to write image: %w", err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s\n", out)
	}
	return nil
}

func planImagePath(path, clusterID string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "-" + clusterID + ext
}

// planClusters plans every cluster concurrently. Each run builds its own
// graph and serializer; the release catalog is only read. Plans are returned
// in input order.
func planClusters(ctx context.Context, logger *zap.Logger, clusters []*cluster.Cluster, release []*catalog.Template, opts planner.PlanOptions, limit int) ([]*planner.Plan, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	p := planner.NewPlannerWithConfig(planner.Config{Logger: logger})

	plans := make([]*planner.Plan, len(clusters))
	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, c := range clusters {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			plan, err := p.Plan(c, release, opts)
			if err != nil {
				return fmt.Errorf("cluster %s: %w", c.ID, formatError(err))
			}
			plans[i] = plan
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return plans, nil
}

func writePlans(out io.Writer, plans []*planner.Plan, format string, hideSkipped bool) error {
	switch format {
	case "json":
		if len(plans) == 1 {
			return encodeJSON(out, plans[0])
		}
		return encodeJSON(out, plans)
	case "yaml":
		if len(plans) == 1 {
			return encodeYAML(out, plans[0])
		}
		return encodeYAML(out, plans)
	case "mermaid":
		for i, p := range plans {
			if i > 0 {
				fmt.Fprintln(out)
			}
			text, err := visual.RenderPlanMermaid(p.Nodes, visual.PlanOptions{
				Title:       "cluster " + p.ClusterID,
				HideSkipped: hideSkipped,
			})
			if err != nil {
				return err
			}
			fmt.Fprint(out, text)
		}
		return nil
	default:
		colorize := useColor(out)
		for i, p := range plans {
			if i > 0 {
				fmt.Fprintln(out)
			}
			writePlanTable(out, p, hideSkipped, colorize)
		}
		return nil
	}
}

func writePlanTable(out io.Writer, p *planner.Plan, hideSkipped, colorize bool) {
	fmt.Fprintf(out, "Cluster %s  plan %s\n\n", p.ClusterID, p.ID)

	var rows [][]string
	for _, node := range p.Nodes.NodeIDs() {
		for _, t := range p.Nodes[node] {
			if hideSkipped && t.IsSkipped() {
				continue
			}
			rows = append(rows, []string{node.String(), t.ID, t.Type, formatEdgeList(t.Requires)})
		}
	}

	var style func(int, string) string
	if colorize {
		style = func(col int, cell string) string {
			if col == 2 {
				return styleTaskType(cell)
			}
			return cell
		}
	}
	writeTable(out, []string{"NODE", "TASK", "TYPE", "REQUIRES"}, rows, style)

	fmt.Fprintf(out, "\n%d to run, %d skipped\n", p.Summary.Work, p.Summary.Skipped)
}

func formatEdgeList(edges []serializer.Edge) string {
	if len(edges) == 0 {
		return "-"
	}
	parts := make([]string, len(edges))
	for i, e := range edges {
		parts[i] = e.Name + "@" + e.NodeID.String()
	}
	return strings.Join(parts, ", ")
}

func nilIfEmpty(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s
}
