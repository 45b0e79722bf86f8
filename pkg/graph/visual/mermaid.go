// Package visual renders deployment graphs and execution plans as Mermaid
// flowcharts, and optionally as PNG images through mermaid-cli.
package visual

import (
	"fmt"
	"sort"
	"strings"

	"github.com/davidthor/taskgraph/pkg/catalog"
	"github.com/davidthor/taskgraph/pkg/graph"
)

// MermaidOptions controls how a graph is rendered to a Mermaid flowchart.
type MermaidOptions struct {
	// GroupByGroup draws every group as a subgraph holding its member tasks.
	// A task in several groups is drawn in the first one in topological order.
	GroupByGroup bool

	// Direction is the flowchart direction: "TD" (top-down) or "LR" (left-right).
	// Defaults to "TD" if empty.
	Direction string

	// Title is an optional diagram title rendered in the front matter.
	Title string

	// HideSkipped leaves out tasks flagged as skipped.
	HideSkipped bool
}

// ImageOptions extends MermaidOptions with image rendering settings.
type ImageOptions struct {
	MermaidOptions

	// Width is the PNG width in pixels. 0 means auto.
	Width int

	// Height is the PNG height in pixels. 0 means auto.
	Height int

	// Theme is the Mermaid theme (default, dark, forest, neutral).
	// Defaults to "default" if empty.
	Theme string

	// Command is the mermaid-cli executable, a name on $PATH or a path.
	// Defaults to DefaultMermaidCLI.
	Command string
}

const skippedClassDef = "    classDef skipped fill:#eee,stroke:#999,color:#999,stroke-dasharray: 4 2\n"

// RenderMermaid generates a Mermaid flowchart string from a deployment
// graph. Stages are drawn as stadiums, skipped tasks with the skipped class.
func RenderMermaid(g *graph.DeploymentGraph, opts MermaidOptions) (string, error) {
	if g == nil {
		return "", fmt.Errorf("graph is nil")
	}

	sorted, err := g.TopologicalSort()
	if err != nil {
		return "", fmt.Errorf("failed to sort graph: %w", err)
	}

	var visible []*graph.Node
	for _, n := range sorted {
		if opts.HideSkipped && n.IsSkipped() {
			continue
		}
		visible = append(visible, n)
	}

	var b strings.Builder
	writeHeader(&b, opts.Title, opts.Direction)

	displayIDs := make(map[string]string, len(visible))
	for _, n := range visible {
		displayIDs[n.ID] = sanitizeMermaidID("t", n.ID)
	}

	if opts.GroupByGroup {
		renderGrouped(&b, g, visible, displayIDs)
	} else {
		renderFlat(&b, visible, displayIDs)
	}

	renderSkippedClass(&b, visible, displayIDs)
	return b.String(), nil
}

func writeHeader(b *strings.Builder, title, direction string) {
	if direction == "" {
		direction = "TD"
	}
	if title != "" {
		fmt.Fprintf(b, "---\ntitle: %s\n---\n", title)
	}
	fmt.Fprintf(b, "flowchart %s\n", direction)
}

// renderFlat renders all nodes without subgraphs.
func renderFlat(b *strings.Builder, sorted []*graph.Node, displayIDs map[string]string) {
	for _, n := range sorted {
		b.WriteString("    " + nodeShape(displayIDs[n.ID], n) + "\n")
	}
	b.WriteString("\n")
	renderGraphEdges(b, sorted, displayIDs, nil)
}

// renderGrouped renders groups as subgraphs around their member tasks.
// Membership edges are implied by the subgraph and not drawn.
func renderGrouped(b *strings.Builder, g *graph.DeploymentGraph, sorted []*graph.Node, displayIDs map[string]string) {
	owner := make(map[string]string)
	members := make(map[string][]*graph.Node)
	for _, n := range sorted {
		if !n.IsGroup() {
			continue
		}
		displayIDs[n.ID] = sanitizeSubgraphID(n.ID)
		for _, m := range g.GetGroupTasks(n.ID) {
			if _, visible := displayIDs[m.ID]; !visible {
				continue
			}
			if _, taken := owner[m.ID]; !taken {
				owner[m.ID] = n.ID
				members[n.ID] = append(members[n.ID], m)
			}
		}
	}

	for _, n := range sorted {
		if n.IsGroup() {
			fmt.Fprintf(b, "    subgraph %s [\"%s\"]\n", displayIDs[n.ID], escapeMermaidLabel(n.ID))
			for _, m := range members[n.ID] {
				b.WriteString("        " + nodeShape(displayIDs[m.ID], m) + "\n")
			}
			b.WriteString("    end\n")
			continue
		}
		if _, grouped := owner[n.ID]; !grouped {
			b.WriteString("    " + nodeShape(displayIDs[n.ID], n) + "\n")
		}
	}
	b.WriteString("\n")

	renderGraphEdges(b, sorted, displayIDs, func(from, to string) bool {
		return owner[from] == to
	})
}

// renderGraphEdges renders dependency edges between visible nodes. skip
// filters out edges the layout already expresses.
func renderGraphEdges(b *strings.Builder, sorted []*graph.Node, displayIDs map[string]string, skip func(from, to string) bool) {
	for _, n := range sorted {
		did := displayIDs[n.ID]
		deps := append([]string(nil), n.DependsOn...)
		sort.Strings(deps)

		for _, dep := range deps {
			depDID, ok := displayIDs[dep]
			if !ok || (skip != nil && skip(dep, n.ID)) {
				continue
			}
			fmt.Fprintf(b, "    %s --> %s\n", depDID, did)
		}
	}
}

func renderSkippedClass(b *strings.Builder, sorted []*graph.Node, displayIDs map[string]string) {
	var skipped []string
	for _, n := range sorted {
		if n.IsSkipped() && !n.IsGroup() {
			skipped = append(skipped, displayIDs[n.ID])
		}
	}
	if len(skipped) == 0 {
		return
	}
	b.WriteString("\n" + skippedClassDef)
	fmt.Fprintf(b, "    class %s skipped\n", strings.Join(skipped, ","))
}

// nodeShape declares a node: stages as stadiums, work as rectangles.
func nodeShape(did string, n *graph.Node) string {
	label := escapeMermaidLabel(nodeLabel(n.Template))
	if n.Template.Type == catalog.TypeStage {
		return fmt.Sprintf("%s([\"%s\"])", did, label)
	}
	return fmt.Sprintf("%s[\"%s\"]", did, label)
}

// nodeLabel creates a human-readable label for a template.
// Format: "id (type)", or just the id for stages.
func nodeLabel(t *catalog.Template) string {
	if t.Type == catalog.TypeStage || t.Type == "" {
		return t.ID
	}
	return fmt.Sprintf("%s (%s)", t.ID, t.Type)
}

// sanitizeMermaidID creates a Mermaid-safe identifier. The prefix keeps ids
// such as "end" from colliding with Mermaid keywords.
func sanitizeMermaidID(prefix, id string) string {
	var b strings.Builder
	b.WriteString(prefix)
	b.WriteByte('_')
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r == '-':
			b.WriteString("__")
		default:
			fmt.Fprintf(&b, "_%x_", r)
		}
	}
	return b.String()
}

// sanitizeSubgraphID creates a safe subgraph identifier from a group id.
func sanitizeSubgraphID(group string) string {
	return sanitizeMermaidID("sg", group)
}

// escapeMermaidLabel escapes characters that have special meaning in Mermaid labels.
func escapeMermaidLabel(s string) string {
	s = strings.ReplaceAll(s, `"`, `#quot;`)
	return s
}
