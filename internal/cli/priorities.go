package cli

import (
	"fmt"
	"strconv"

	"github.com/davidthor/taskgraph/pkg/engine/astute"
	"github.com/spf13/cobra"
)

func newPrioritiesCmd() *cobra.Command {
	var (
		catalogPath string
		topology    string
		output      string
	)

	cmd := &cobra.Command{
		Use:   "priorities",
		Short: "Print role based deployment priorities",
		Long: `Print the deployment priority of every node and role, as used by role based
(non task based) deployments. Groups are walked in dependency order; a
one_by_one group gives each of its nodes its own priority, a parallel group
gives all of them the same one.

Examples:
  taskgraph priorities -t legacy-cluster.yaml
  taskgraph priorities -c release/tasks.yaml -t cluster.yaml -o json`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := resolveFormat(output, "table", "json", "yaml")
			if err != nil {
				return err
			}
			logger, err := newLogger()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			release, err := loadRelease(catalogPath)
			if err != nil {
				return err
			}
			clusters, err := loadClusters([]string{topology})
			if err != nil {
				return err
			}
			c := clusters[0]

			ag, err := astute.New(c, release, astute.WithLogger(logger))
			if err != nil {
				return formatError(err)
			}
			priorities, err := ag.AddPriorities(astute.NodeRoles(c.Nodes))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch format {
			case "json":
				return encodeJSON(out, priorities)
			case "yaml":
				return encodeYAML(out, priorities)
			default:
				rows := make([][]string, len(priorities))
				for i, p := range priorities {
					rows[i] = []string{p.UID, p.Role, strconv.Itoa(p.Priority)}
				}
				fmt.Fprintf(out, "Cluster %s\n\n", c.ID)
				writeTable(out, []string{"UID", "ROLE", "PRIORITY"}, rows, nil)
				return nil
			}
		},
	}

	cmd.Flags().StringVarP(&catalogPath, "catalog", "c", "", "Release task catalog file or directory")
	cmd.Flags().StringVarP(&topology, "topology", "t", "", "Cluster topology file")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output format: table, json, or yaml")
	_ = cmd.MarkFlagRequired("topology")

	return cmd
}
