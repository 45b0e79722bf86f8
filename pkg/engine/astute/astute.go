// Package astute binds a task catalog to a concrete cluster and derives the
// per-machine priorities used by legacy, role based deployment.
package astute

import (
	"fmt"

	"github.com/davidthor/taskgraph/pkg/catalog"
	"github.com/davidthor/taskgraph/pkg/cluster"
	"github.com/davidthor/taskgraph/pkg/graph"
	"go.uber.org/zap"
)

// AstuteGraph is the deployment graph of one cluster.
type AstuteGraph struct {
	cluster  *cluster.Cluster
	graph    *graph.DeploymentGraph
	patterns *catalog.PatternTable
	logger   *zap.Logger
}

// Option configures an AstuteGraph.
type Option func(*AstuteGraph)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(a *AstuteGraph) {
		if l != nil {
			a.logger = l
		}
	}
}

// New builds the graph of a cluster. The catalog is the release catalog, or
// the embedded legacy catalog for releases that predate per-release
// catalogs, overlaid with the cluster's own tasks and then with plugin tasks.
// The merged catalog is validated before the graph is built.
func New(c *cluster.Cluster, release []*catalog.Template, opts ...Option) (*AstuteGraph, error) {
	a := &AstuteGraph{
		cluster:  c,
		patterns: catalog.NewPatternTable(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}

	base := release
	if catalog.IsLegacyRelease(c.ReleaseVersion) {
		legacy, err := catalog.Legacy()
		if err != nil {
			return nil, err
		}
		a.logger.Debug("using legacy catalog", zap.String("release", c.ReleaseVersion))
		base = legacy
	}

	templates := catalog.Merge(base, c.Tasks, c.PluginTasks())
	if err := graph.NewValidator(templates).Check(); err != nil {
		return nil, err
	}
	a.graph = graph.NewFromTemplates(templates)
	return a, nil
}

// Graph returns the underlying deployment graph.
func (a *AstuteGraph) Graph() *graph.DeploymentGraph {
	return a.graph
}

// Templates returns the bound catalog in declaration order.
func (a *AstuteGraph) Templates() []*catalog.Template {
	return a.graph.Templates()
}

// OnlyTasks flags every task not listed in ids as skipped.
func (a *AstuteGraph) OnlyTasks(ids []string) {
	a.graph.OnlyTasks(ids)
}

// GetGroupTasks returns the tasks of a group that still do work, in
// topological order.
func (a *AstuteGraph) GetGroupTasks(groupID string) []*catalog.Template {
	var out []*catalog.Template
	for _, n := range graph.Executable(a.graph.GetGroupTasks(groupID)) {
		out = append(out, n.Template)
	}
	return out
}

// AddPriorities assigns a priority to every (uid, role) pair. The groups
// subgraph is walked level by level: a level holds every group whose
// predecessors are all done. Within a level each one_by_one group gives its
// nodes their own buckets, then the nodes of all parallel groups share the
// next bucket (or buckets of the smallest amount set in the level). Absent
// groups consume nothing. A pair matched by several groups keeps the first
// priority. Pairs matched by no group keep priority 0. The input is not
// modified.
func (a *AstuteGraph) AddPriorities(nodes []NodeRole) ([]NodeRole, error) {
	out := append([]NodeRole(nil), nodes...)

	groups := a.graph.GetGroupsSubgraph()
	order, err := groups.TopologicalSort()
	if err != nil {
		return nil, fmt.Errorf("failed to order groups: %w", err)
	}

	assigned := make([]bool, len(out))
	members := func(group *graph.Node) []*NodeRole {
		var m []*NodeRole
		for i := range out {
			if !assigned[i] && a.playsGroup(group.Template, out[i].Role) {
				m = append(m, &out[i])
				assigned[i] = true
			}
		}
		return m
	}

	var strategy PriorityStrategy
	done := make(map[string]bool, len(order))
	for len(done) < len(order) {
		level := nextLevel(order, done)

		var parallel []*NodeRole
		amount := 0
		for _, group := range level {
			s := group.Template.DeployStrategy()
			if s.Type == catalog.StrategyOneByOne {
				if m := members(group); len(m) > 0 {
					a.logPriorities(group.ID, s.Type, len(m))
					strategy.OneByOne(m)
				}
				continue
			}
			if s.Amount > 0 && (amount == 0 || s.Amount < amount) {
				amount = s.Amount
			}
		}
		for _, group := range level {
			s := group.Template.DeployStrategy()
			if s.Type == catalog.StrategyOneByOne {
				continue
			}
			if m := members(group); len(m) > 0 {
				a.logPriorities(group.ID, s.Type, len(m))
				parallel = append(parallel, m...)
			}
		}
		strategy.InParallelBy(parallel, amount)

		for _, group := range level {
			done[group.ID] = true
		}
	}
	return out, nil
}

// nextLevel returns the groups, in topological order, whose predecessors
// are all done.
func nextLevel(order []*graph.Node, done map[string]bool) []*graph.Node {
	var level []*graph.Node
	for _, n := range order {
		if done[n.ID] {
			continue
		}
		ready := true
		for _, dep := range n.DependsOn {
			if !done[dep] {
				ready = false
				break
			}
		}
		if ready {
			level = append(level, n)
		}
	}
	return level
}

func (a *AstuteGraph) logPriorities(group, strategy string, nodes int) {
	a.logger.Debug("assigning priorities",
		zap.String("group", group),
		zap.String("strategy", strategy),
		zap.Int("nodes", nodes))
}

// playsGroup reports whether role belongs to a group. A group without a
// role stands for the role of the same name.
func (a *AstuteGraph) playsGroup(group *catalog.Template, role string) bool {
	sel := group.Role
	switch sel.Kind() {
	case catalog.SelectorAll:
		return true
	case catalog.SelectorNames:
		for _, name := range sel.Names() {
			if a.patterns.Get(name).Match(role) {
				return true
			}
		}
		return false
	case catalog.SelectorUnset:
		return group.ID == role
	default:
		return false
	}
}

// NodeRoles expands machines into one entry per role they play, in node
// order.
func NodeRoles(nodes []*cluster.Node) []NodeRole {
	var out []NodeRole
	for _, n := range nodes {
		for _, role := range n.Roles {
			out = append(out, NodeRole{UID: string(n.UID), Role: role})
		}
	}
	return out
}
