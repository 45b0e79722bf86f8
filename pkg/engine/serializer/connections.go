package serializer

import (
	"github.com/davidthor/taskgraph/pkg/catalog"
	"github.com/davidthor/taskgraph/pkg/cluster"
)

// nodeTasks holds the fragments of one machine in insertion order.
type nodeTasks struct {
	order []string
	tasks map[string]*fragment
}

// connections is the per-run table of fragments by machine. Only the
// serializer run that created it reads or writes it.
type connections struct {
	order  []cluster.NodeID
	byNode map[cluster.NodeID]*nodeTasks
}

func newConnections() *connections {
	return &connections{byNode: make(map[cluster.NodeID]*nodeTasks)}
}

// ensure creates the table of a machine if it does not exist.
func (c *connections) ensure(node cluster.NodeID) *nodeTasks {
	nt, ok := c.byNode[node]
	if !ok {
		nt = &nodeTasks{tasks: make(map[string]*fragment)}
		c.byNode[node] = nt
		c.order = append(c.order, node)
	}
	return nt
}

func (c *connections) get(node cluster.NodeID, id string) *fragment {
	if nt, ok := c.byNode[node]; ok {
		return nt.tasks[id]
	}
	return nil
}

// fragments returns the fragments of a machine in insertion order.
func (c *connections) fragments(node cluster.NodeID) []*fragment {
	nt, ok := c.byNode[node]
	if !ok {
		return nil
	}
	out := make([]*fragment, 0, len(nt.order))
	for _, id := range nt.order {
		out = append(out, nt.tasks[id])
	}
	return out
}

// put stores f on a machine when needUpdateTask allows it. A replaced
// fragment keeps its position.
func (c *connections) put(node cluster.NodeID, f *fragment) bool {
	nt := c.ensure(node)
	existing := nt.tasks[f.ID]
	if !needUpdateTask(existing, f) {
		return false
	}
	if existing == nil {
		nt.order = append(nt.order, f.ID)
	}
	nt.tasks[f.ID] = f
	return true
}

// needUpdateTask decides whether candidate replaces existing. An absent
// fragment is always stored, an identical type is a no-op and a skipped
// fragment never replaces real work.
func needUpdateTask(existing, candidate *fragment) bool {
	if existing == nil {
		return true
	}
	if existing.Type == candidate.Type {
		return false
	}
	return candidate.Type != catalog.TypeSkipped
}
