package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/davidthor/taskgraph/pkg/catalog"
	"github.com/davidthor/taskgraph/pkg/errors"
)

// DeploymentGraph is the dependency graph of a task catalog. An edge from a
// to b means a must complete before b. A graph belongs to a single planning
// run and is not safe for concurrent use.
type DeploymentGraph struct {
	// All nodes in the graph
	Nodes map[string]*Node

	// order holds node ids in declaration order.
	order []string

	// members maps a group id to the ids of the tasks it contains.
	members map[string][]string

	patterns *catalog.PatternTable
}

// New creates an empty graph.
func New() *DeploymentGraph {
	return &DeploymentGraph{
		Nodes:    make(map[string]*Node),
		members:  make(map[string][]string),
		patterns: catalog.NewPatternTable(),
	}
}

// NewFromTemplates creates a graph holding the given templates.
func NewFromTemplates(templates []*catalog.Template) *DeploymentGraph {
	g := New()
	g.AddTasks(templates)
	return g
}

// AddTasks inserts templates and recomputes every edge. A template whose id
// is already present replaces it in place. References to unknown ids are
// ignored here; the Validator reports them.
//
// Edge rules:
//   - requires r: r -> task
//   - required_for r: task -> r
//   - groups g: task -> every group matching g
//   - group tasks t: t -> group
func (g *DeploymentGraph) AddTasks(templates []*catalog.Template) {
	for _, t := range templates {
		if t == nil {
			continue
		}
		if n, ok := g.Nodes[t.ID]; ok {
			n.Template = t
			continue
		}
		g.Nodes[t.ID] = newNode(t, len(g.order))
		g.order = append(g.order, t.ID)
	}
	g.rebuildEdges()
}

func (g *DeploymentGraph) rebuildEdges() {
	for _, n := range g.Nodes {
		n.DependsOn = []string{}
		n.DependedOnBy = []string{}
	}
	g.members = make(map[string][]string)

	groupIDs := g.groupIDs()
	for _, id := range g.order {
		t := g.Nodes[id].Template

		for _, req := range t.Requires {
			for _, dep := range g.match(req, id, g.order) {
				g.addEdge(dep, id)
			}
		}
		for _, req := range t.RequiredFor {
			for _, dep := range g.match(req, id, g.order) {
				g.addEdge(id, dep)
			}
		}
		for _, name := range t.Groups {
			for _, group := range g.match(name, id, groupIDs) {
				g.addEdge(id, group)
				g.addMember(group, id)
			}
		}
		if t.IsGroup() {
			for _, name := range t.Tasks {
				for _, member := range g.match(name, id, g.order) {
					g.addEdge(member, id)
					g.addMember(id, member)
				}
			}
		}
	}
}

// match returns the candidates a dependency name refers to, never self.
func (g *DeploymentGraph) match(name, self string, candidates []string) []string {
	if !catalog.IsPattern(name) {
		if name == self {
			return nil
		}
		for _, c := range candidates {
			if c == name {
				return []string{name}
			}
		}
		return nil
	}
	var out []string
	for _, c := range g.patterns.MatchAny(name, candidates) {
		if c != self {
			out = append(out, c)
		}
	}
	return out
}

func (g *DeploymentGraph) addEdge(from, to string) {
	g.Nodes[to].AddDependency(from)
	g.Nodes[from].AddDependent(to)
}

func (g *DeploymentGraph) addMember(group, task string) {
	for _, m := range g.members[group] {
		if m == task {
			return
		}
	}
	g.members[group] = append(g.members[group], task)
}

func (g *DeploymentGraph) groupIDs() []string {
	var ids []string
	for _, id := range g.order {
		if g.Nodes[id].IsGroup() {
			ids = append(ids, id)
		}
	}
	return ids
}

// Node returns a node by id.
func (g *DeploymentGraph) Node(id string) *Node {
	return g.Nodes[id]
}

// Len returns the number of nodes.
func (g *DeploymentGraph) Len() int {
	return len(g.order)
}

// Templates returns the templates in declaration order.
func (g *DeploymentGraph) Templates() []*catalog.Template {
	out := make([]*catalog.Template, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.Nodes[id].Template)
	}
	return out
}

// TopologicalSort returns nodes in dependency order. Nodes without an
// ordering constraint between them keep their declaration order, so the
// result is identical across runs.
func (g *DeploymentGraph) TopologicalSort() ([]*Node, error) {
	inDegree := make(map[string]int, len(g.Nodes))
	var ready []*Node
	for _, id := range g.order {
		n := g.Nodes[id]
		inDegree[id] = len(n.DependsOn)
		if inDegree[id] == 0 {
			ready = append(ready, n)
		}
	}

	result := make([]*Node, 0, len(g.order))
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		result = append(result, n)

		for _, dependentID := range n.DependedOnBy {
			inDegree[dependentID]--
			if inDegree[dependentID] == 0 {
				ready = insertByIndex(ready, g.Nodes[dependentID])
			}
		}
	}

	if len(result) != len(g.order) {
		return nil, g.cycleError(inDegree)
	}
	return result, nil
}

// insertByIndex keeps the ready set ordered by declaration index.
func insertByIndex(ready []*Node, n *Node) []*Node {
	pos := sort.Search(len(ready), func(i int) bool { return ready[i].index > n.index })
	ready = append(ready, nil)
	copy(ready[pos+1:], ready[pos:])
	ready[pos] = n
	return ready
}

// Topology returns the templates in dependency order.
func (g *DeploymentGraph) Topology() ([]*catalog.Template, error) {
	nodes, err := g.TopologicalSort()
	if err != nil {
		return nil, err
	}
	out := make([]*catalog.Template, len(nodes))
	for i, n := range nodes {
		out[i] = n.Template
	}
	return out, nil
}

// IsAcyclic reports whether the graph has no dependency cycle.
func (g *DeploymentGraph) IsAcyclic() bool {
	_, err := g.TopologicalSort()
	return err == nil
}

func (g *DeploymentGraph) cycleError(inDegree map[string]int) error {
	var stuck []string
	for _, id := range g.order {
		if inDegree[id] > 0 {
			stuck = append(stuck, id)
		}
	}

	details := map[string]interface{}{"tasks": stuck}
	if cycle := g.findCyclePath(stuck); len(cycle) > 0 {
		path := append(append([]string(nil), cycle...), cycle[0])
		details["cycle"] = path
		return errors.InvalidData(
			fmt.Sprintf("graph contains cycles: %s", strings.Join(path, " -> ")), details)
	}
	return errors.InvalidData(
		fmt.Sprintf("graph contains cycles involving %d tasks: %v", len(stuck), stuck), details)
}

// findCyclePath returns one cycle among the stuck nodes, in edge direction.
func (g *DeploymentGraph) findCyclePath(stuck []string) []string {
	inStuck := make(map[string]bool, len(stuck))
	for _, id := range stuck {
		inStuck[id] = true
	}
	visited := make(map[string]bool)
	onStack := make(map[string]bool)
	var stack, cycle []string

	var dfs func(id string) bool
	dfs = func(id string) bool {
		visited[id] = true
		onStack[id] = true
		stack = append(stack, id)
		for _, next := range g.Nodes[id].DependedOnBy {
			if !inStuck[next] {
				continue
			}
			if !visited[next] {
				if dfs(next) {
					return true
				}
				continue
			}
			if onStack[next] {
				for i := range stack {
					if stack[i] == next {
						cycle = append([]string(nil), stack[i:]...)
						break
					}
				}
				return true
			}
		}
		onStack[id] = false
		stack = stack[:len(stack)-1]
		return false
	}

	for _, id := range stuck {
		if !visited[id] && dfs(id) {
			break
		}
	}
	return cycle
}

// GetGroupsSubgraph returns the graph induced on group nodes. Group a
// precedes group b when b is reachable from a through non-group nodes.
func (g *DeploymentGraph) GetGroupsSubgraph() *DeploymentGraph {
	sub := New()
	sub.patterns = g.patterns
	groups := g.groupIDs()
	for _, id := range groups {
		n := g.Nodes[id]
		sub.Nodes[id] = newNode(n.Template, n.index)
		sub.order = append(sub.order, id)
	}

	for _, id := range groups {
		visited := map[string]bool{id: true}
		queue := append([]string(nil), g.Nodes[id].DependedOnBy...)
		for len(queue) > 0 {
			next := queue[0]
			queue = queue[1:]
			if visited[next] {
				continue
			}
			visited[next] = true
			if g.Nodes[next].IsGroup() {
				sub.addEdge(id, next)
				continue
			}
			queue = append(queue, g.Nodes[next].DependedOnBy...)
		}
	}
	return sub
}

// GetGroupTasks returns the tasks of a group in topological order. Skipped
// tasks are included so callers see the full ordering; use Executable to
// keep only real work.
func (g *DeploymentGraph) GetGroupTasks(groupID string) []*Node {
	members := g.members[groupID]
	if len(members) == 0 {
		return nil
	}
	position := make(map[string]int, len(g.order))
	if sorted, err := g.TopologicalSort(); err == nil {
		for i, n := range sorted {
			position[n.ID] = i
		}
	} else {
		for _, id := range g.order {
			position[id] = g.Nodes[id].index
		}
	}

	out := make([]*Node, 0, len(members))
	for _, id := range members {
		out = append(out, g.Nodes[id])
	}
	sort.SliceStable(out, func(i, j int) bool { return position[out[i].ID] < position[out[j].ID] })
	return out
}

// Executable drops skipped nodes.
func Executable(nodes []*Node) []*Node {
	var out []*Node
	for _, n := range nodes {
		if !n.IsSkipped() {
			out = append(out, n)
		}
	}
	return out
}

// FindSubgraph returns the subgraph of every descendant of start and every
// ancestor of end, both inclusive. When both are given the result is their
// intersection; when neither is given it is the whole graph.
func (g *DeploymentGraph) FindSubgraph(start, end string) (*DeploymentGraph, error) {
	var keep map[string]bool
	if start != "" {
		if g.Nodes[start] == nil {
			return nil, errors.NotFoundError("task", start)
		}
		keep = g.reachable(start, func(n *Node) []string { return n.DependedOnBy })
	}
	if end != "" {
		if g.Nodes[end] == nil {
			return nil, errors.NotFoundError("task", end)
		}
		ancestors := g.reachable(end, func(n *Node) []string { return n.DependsOn })
		if keep == nil {
			keep = ancestors
		} else {
			for id := range keep {
				if !ancestors[id] {
					delete(keep, id)
				}
			}
		}
	}
	if keep == nil {
		keep = make(map[string]bool, len(g.order))
		for _, id := range g.order {
			keep[id] = true
		}
	}
	return g.induced(keep), nil
}

// FilterSubgraph is FindSubgraph without skipped nodes, except those listed
// in include.
func (g *DeploymentGraph) FilterSubgraph(start, end string, include []string) (*DeploymentGraph, error) {
	sub, err := g.FindSubgraph(start, end)
	if err != nil {
		return nil, err
	}
	included := make(map[string]bool, len(include))
	for _, id := range include {
		included[id] = true
	}
	keep := make(map[string]bool, len(sub.order))
	for _, id := range sub.order {
		if !sub.Nodes[id].IsSkipped() || included[id] {
			keep[id] = true
		}
	}
	return sub.induced(keep), nil
}

// OnlyTasks flags every node not listed in ids as skipped. No node or edge is
// removed, so the order of the remaining work is unchanged.
func (g *DeploymentGraph) OnlyTasks(ids []string) {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	for _, id := range g.order {
		if !want[id] {
			g.Nodes[id].Template.Skipped = true
		}
	}
}

func (g *DeploymentGraph) reachable(from string, next func(*Node) []string) map[string]bool {
	seen := map[string]bool{from: true}
	queue := []string{from}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, n := range next(g.Nodes[id]) {
			if !seen[n] {
				seen[n] = true
				queue = append(queue, n)
			}
		}
	}
	return seen
}

// induced returns the subgraph over the kept ids, sharing templates.
func (g *DeploymentGraph) induced(keep map[string]bool) *DeploymentGraph {
	sub := New()
	sub.patterns = g.patterns
	for _, id := range g.order {
		if !keep[id] {
			continue
		}
		n := g.Nodes[id]
		sub.Nodes[id] = newNode(n.Template, n.index)
		sub.order = append(sub.order, id)
	}
	for _, id := range sub.order {
		for _, dep := range g.Nodes[id].DependsOn {
			if keep[dep] {
				sub.addEdge(dep, id)
			}
		}
	}
	for group, members := range g.members {
		if !keep[group] {
			continue
		}
		for _, m := range members {
			if keep[m] {
				sub.addMember(group, m)
			}
		}
	}
	return sub
}
