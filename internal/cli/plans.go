package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/davidthor/taskgraph/pkg/engine/planner"
	"github.com/spf13/cobra"
)

func newPlansCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "plans",
		Aliases: []string{"plan-store"},
		Short:   "Inspect archived plans",
		Long:    `Commands for listing, showing, comparing and deleting plans saved with 'taskgraph plan --save'.`,
	}

	cmd.AddCommand(newPlansListCmd())
	cmd.AddCommand(newPlansShowCmd())
	cmd.AddCommand(newPlansDiffCmd())
	cmd.AddCommand(newPlansDeleteCmd())

	return cmd
}

func newPlansListCmd() *cobra.Command {
	var (
		clusterID string
		output    string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List archived plans",
		Long: `List archived plans, optionally only those of one cluster.

Examples:
  taskgraph plans list
  taskgraph plans list --cluster 42 -o json`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := resolveFormat(output, "table", "json", "yaml")
			if err != nil {
				return err
			}
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			entries, err := store.List(cmd.Context(), clusterID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch format {
			case "json":
				return encodeJSON(out, entries)
			case "yaml":
				return encodeYAML(out, entries)
			default:
				if len(entries) == 0 {
					fmt.Fprintln(out, "No plans found")
					return nil
				}
				rows := make([][]string, len(entries))
				for i, e := range entries {
					rows[i] = []string{e.ClusterID, e.PlanID}
				}
				writeTable(out, []string{"CLUSTER", "PLAN"}, rows, nil)
				return nil
			}
		},
	}

	cmd.Flags().StringVar(&clusterID, "cluster", "", "Only list plans of this cluster")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output format: table, json, or yaml")

	return cmd
}

func newPlansShowCmd() *cobra.Command {
	var (
		output      string
		hideSkipped bool
	)

	cmd := &cobra.Command{
		Use:   "show <cluster> <plan>",
		Short: "Show an archived plan",
		Long: `Show an archived plan in any of the plan output formats.

Examples:
  taskgraph plans show 42 5b1f...
  taskgraph plans show 42 5b1f... -o mermaid`,
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := resolveFormat(output, outputFormats...)
			if err != nil {
				return err
			}
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			plan, err := store.Get(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return writePlans(cmd.OutOrStdout(), []*planner.Plan{plan}, format, hideSkipped)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output format: table, json, yaml, or mermaid")
	cmd.Flags().BoolVar(&hideSkipped, "hide-skipped", false, "Leave skipped fragments out of table and mermaid output")

	return cmd
}

func newPlansDiffCmd() *cobra.Command {
	var showUnchanged bool

	cmd := &cobra.Command{
		Use:   "diff <cluster> <old-plan> <new-plan>",
		Short: "Compare two archived plans of a cluster",
		Long: `Compare two archived plans fragment by fragment. Each fragment is reported
as created, updated, replaced (its type changed) or deleted.

Examples:
  taskgraph plans diff 42 5b1f... 9c02...`,
		Args:         cobra.ExactArgs(3),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			previous, err := store.Get(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			next, err := store.Get(cmd.Context(), args[0], args[2])
			if err != nil {
				return err
			}

			changes := planner.Diff(previous, next)
			writeDiff(cmd.OutOrStdout(), changes, showUnchanged, useColor(cmd.OutOrStdout()))
			return nil
		},
	}

	cmd.Flags().BoolVar(&showUnchanged, "show-unchanged", false, "Also list fragments that did not change")

	return cmd
}

func newPlansDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "delete <cluster> <plan>",
		Short:        "Delete an archived plan",
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			if err := store.Delete(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted plan %s for cluster %s\n", args[1], args[0])
			return nil
		},
	}

	return cmd
}

var actionSymbols = map[planner.Action]string{
	planner.ActionCreate:  "+",
	planner.ActionUpdate:  "~",
	planner.ActionReplace: "-/+",
	planner.ActionDelete:  "-",
	planner.ActionNoop:    " ",
}

func writeDiff(out io.Writer, changes []*planner.TaskChange, showUnchanged, colorize bool) {
	if !planner.HasChanges(changes) {
		fmt.Fprintln(out, "No changes. The plans are identical.")
		return
	}

	counts := make(map[planner.Action]int)
	for _, c := range changes {
		counts[c.Action]++
		if c.Action == planner.ActionNoop && !showUnchanged {
			continue
		}
		line := fmt.Sprintf("%3s %s@%s", actionSymbols[c.Action], c.TaskID, c.NodeID.String())
		if c.Reason != "" && c.Action != planner.ActionNoop {
			line += " (" + c.Reason + ")"
		}
		if colorize {
			line = styleAction(c.Action, line)
		}
		fmt.Fprintln(out, line)
		if c.Action == planner.ActionUpdate || c.Action == planner.ActionReplace {
			fmt.Fprint(out, indent(planner.FormatChanges(c.PropertyChanges), "    "))
		}
	}

	fmt.Fprintf(out, "\n%d to create, %d to update, %d to replace, %d to delete\n",
		counts[planner.ActionCreate], counts[planner.ActionUpdate],
		counts[planner.ActionReplace], counts[planner.ActionDelete])
}

func styleAction(action planner.Action, s string) string {
	switch action {
	case planner.ActionCreate:
		return styleCreate(s)
	case planner.ActionUpdate, planner.ActionReplace:
		return styleUpdate(s)
	case planner.ActionDelete:
		return styleDelete(s)
	default:
		return s
	}
}

func indent(s, prefix string) string {
	lines := strings.SplitAfter(s, "\n")
	var b strings.Builder
	for _, l := range lines {
		if l == "" {
			continue
		}
		b.WriteString(prefix + l)
	}
	return b.String()
}
