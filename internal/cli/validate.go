package cli

import (
	"fmt"

	"github.com/davidthor/taskgraph/pkg/engine/astute"
	"github.com/davidthor/taskgraph/pkg/graph"
	"github.com/spf13/cobra"
)

func newValidateCmd() *cobra.Command {
	var topology string

	cmd := &cobra.Command{
		Use:   "validate [catalog]",
		Short: "Validate a task catalog",
		Long: `Validate a task catalog without planning: every id is declared once,
every referenced task exists and the dependencies form no cycle.

With --topology the catalog is first merged with the cluster's own tasks and
its plugin tasks, exactly as planning would do. Legacy clusters are checked
against the embedded legacy catalog.

Examples:
  taskgraph validate release/tasks.yaml
  taskgraph validate release/ --topology cluster.yaml`,
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

			count := len(release)
			if topology != "" {
				clusters, err := loadClusters([]string{topology})
				if err != nil {
					return err
				}
				ag, err := astute.New(clusters[0], release)
				if err != nil {
					return formatError(err)
				}
				count = ag.Graph().Len()
			} else if err := graph.NewValidator(release).Check(); err != nil {
				return formatError(err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Catalog is valid (%d tasks)\n", count)
			return nil
		},
	}

	cmd.Flags().StringVarP(&topology, "topology", "t", "", "Cluster topology file to merge the catalog with")

	return cmd
}
