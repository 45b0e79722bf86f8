// Package graph builds and queries the dependency graph of a task catalog.
package graph

import (
	"github.com/davidthor/taskgraph/pkg/catalog"
)

// Node is a task template in the graph.
type Node struct {
	// ID is the template id.
	ID string

	// Template is the catalog entry. The graph owns it for the lifetime of
	// a run; OnlyTasks flips its Skipped flag.
	Template *catalog.Template

	// DependsOn lists the ids of direct predecessors.
	DependsOn []string

	// DependedOnBy lists the ids of direct successors.
	DependedOnBy []string

	// index is the declaration position, used to break ordering ties.
	index int
}

func newNode(t *catalog.Template, index int) *Node {
	return &Node{
		ID:           t.ID,
		Template:     t,
		DependsOn:    []string{},
		DependedOnBy: []string{},
		index:        index,
	}
}

// IsGroup reports whether the node is a group container.
func (n *Node) IsGroup() bool {
	return n.Template.IsGroup()
}

// IsSkipped reports whether the node does no real work, either because it
// was masked by OnlyTasks or because its type is skipped.
func (n *Node) IsSkipped() bool {
	return n.Template.Skipped || n.Template.Type == catalog.TypeSkipped
}

// AddDependency adds a dependency to this node.
func (n *Node) AddDependency(nodeID string) {
	for _, dep := range n.DependsOn {
		if dep == nodeID {
			return // Already exists
		}
	}
	n.DependsOn = append(n.DependsOn, nodeID)
}

// AddDependent adds a dependent to this node.
func (n *Node) AddDependent(nodeID string) {
	for _, dep := range n.DependedOnBy {
		if dep == nodeID {
			return // Already exists
		}
	}
	n.DependedOnBy = append(n.DependedOnBy, nodeID)
}
