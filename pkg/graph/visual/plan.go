package visual

import (
	"fmt"
	"strings"

	"github.com/davidthor/taskgraph/pkg/cluster"
	"github.com/davidthor/taskgraph/pkg/engine/serializer"
)

// PlanOptions controls how an execution plan is rendered.
type PlanOptions struct {
	// Direction is the flowchart direction. Defaults to "LR".
	Direction string

	// Title is an optional diagram title rendered in the front matter.
	Title string

	// HideSkipped leaves out skipped fragments and the edges touching them.
	HideSkipped bool
}

type planEdge struct {
	from, to string
}

// RenderPlanMermaid draws an execution plan with one subgraph per machine.
// Same-machine and cross-machine dependencies are both drawn as edges;
// cross-machine edges are dotted.
func RenderPlanMermaid(plan serializer.ExecutionPlan, opts PlanOptions) (string, error) {
	if plan == nil {
		return "", fmt.Errorf("plan is nil")
	}

	direction := opts.Direction
	if direction == "" {
		direction = "LR"
	}

	var b strings.Builder
	writeHeader(&b, opts.Title, direction)

	display := make(map[string]string)
	key := func(node cluster.NodeID, id string) string { return node.String() + "/" + id }

	var skipped []string
	for _, node := range plan.NodeIDs() {
		tasks := plan[node]
		var shown []*serializer.Task
		for _, t := range tasks {
			if opts.HideSkipped && t.IsSkipped() {
				continue
			}
			shown = append(shown, t)
		}
		if len(shown) == 0 {
			continue
		}

		fmt.Fprintf(&b, "    subgraph %s [\"%s\"]\n", sanitizeMermaidID("m", node.String()), escapeMermaidLabel(machineLabel(node)))
		for _, t := range shown {
			did := sanitizeMermaidID("f", key(node, t.ID))
			display[key(node, t.ID)] = did
			fmt.Fprintf(&b, "        %s[\"%s\"]\n", did, escapeMermaidLabel(fragmentLabel(t)))
			if t.IsSkipped() {
				skipped = append(skipped, did)
			}
		}
		b.WriteString("    end\n")
	}
	b.WriteString("\n")

	seen := make(map[planEdge]bool)
	for _, node := range plan.NodeIDs() {
		for _, t := range plan[node] {
			self := key(node, t.ID)
			for _, e := range t.Requires {
				writePlanEdge(&b, display, seen, key(e.NodeID, e.Name), self, e.NodeID != node)
			}
			for _, e := range t.RequiredFor {
				writePlanEdge(&b, display, seen, self, key(e.NodeID, e.Name), e.NodeID != node)
			}
		}
	}

	if len(skipped) > 0 {
		b.WriteString("\n" + skippedClassDef)
		fmt.Fprintf(&b, "    class %s skipped\n", strings.Join(skipped, ","))
	}
	return b.String(), nil
}

func writePlanEdge(b *strings.Builder, display map[string]string, seen map[planEdge]bool, from, to string, cross bool) {
	e := planEdge{from: from, to: to}
	if seen[e] {
		return
	}
	fromID, ok := display[from]
	if !ok {
		return
	}
	toID, ok := display[to]
	if !ok {
		return
	}
	seen[e] = true
	arrow := "-->"
	if cross {
		arrow = "-.->"
	}
	fmt.Fprintf(b, "    %s %s %s\n", fromID, arrow, toID)
}

func machineLabel(node cluster.NodeID) string {
	if node.IsNull() {
		return "cluster"
	}
	return "node " + string(node)
}

func fragmentLabel(t *serializer.Task) string {
	return fmt.Sprintf("%s (%s)", t.ID, t.Type)
}
