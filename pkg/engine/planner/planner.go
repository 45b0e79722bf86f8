// Package planner computes execution plans for clusters.
package planner

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/davidthor/taskgraph/pkg/catalog"
	"github.com/davidthor/taskgraph/pkg/cluster"
	"github.com/davidthor/taskgraph/pkg/engine/astute"
	"github.com/davidthor/taskgraph/pkg/engine/serializer"
	"github.com/davidthor/taskgraph/pkg/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// planNamespace scopes deterministic plan ids.
var planNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/davidthor/taskgraph/plans"))

// NodeSummary counts the fragments of one machine.
type NodeSummary struct {
	NodeID  cluster.NodeID `json:"node_id" yaml:"node_id"`
	Work    int            `json:"work" yaml:"work"`
	Skipped int            `json:"skipped" yaml:"skipped"`
}

// Summary counts the fragments of a plan.
type Summary struct {
	Work    int           `json:"work" yaml:"work"`
	Skipped int           `json:"skipped" yaml:"skipped"`
	Nodes   []NodeSummary `json:"nodes" yaml:"nodes"`
}

// Plan is an execution plan for one cluster.
type Plan struct {
	// ID is derived from the plan content: identical inputs give identical ids.
	ID string `json:"id" yaml:"id"`

	ClusterID string   `json:"cluster_id" yaml:"cluster_id"`
	TaskIDs   []string `json:"task_ids,omitempty" yaml:"task_ids,omitempty"`
	Events    []string `json:"events,omitempty" yaml:"events,omitempty"`

	Nodes   serializer.ExecutionPlan `json:"nodes" yaml:"nodes"`
	Summary Summary                  `json:"summary" yaml:"summary"`
}

// IsEmpty returns true if no fragment does real work.
func (p *Plan) IsEmpty() bool {
	return p.Summary.Work == 0
}

// PlanOptions narrows a planning run.
type PlanOptions struct {
	// TaskIDs restricts real work to these tasks. Listing a group selects
	// all of its member tasks. Nil means everything.
	TaskIDs []string

	// Start and End slice the graph to the descendants of Start and the
	// ancestors of End. Either may be empty.
	Start string
	End   string

	// NodeIDs are the machines being deployed. Empty means all machines of
	// the cluster.
	NodeIDs []cluster.NodeID

	// Events force templates subscribed through reexecute_on to run on the
	// machines of the cluster that are not being deployed.
	Events []string
}

// Config configures a Planner.
type Config struct {
	Logger  *zap.Logger
	Factory *serializer.DeployTaskSerializer
}

// Planner generates execution plans. A planner holds no per-run state and
// may be used from several goroutines.
type Planner struct {
	config Config
}

// NewPlanner creates a new planner.
func NewPlanner() *Planner {
	return NewPlannerWithConfig(Config{})
}

// NewPlannerWithConfig creates a new planner with a logger and stage
// serializer registrations.
func NewPlannerWithConfig(cfg Config) *Planner {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Planner{config: cfg}
}

// Plan binds the release catalog to the cluster, validates it, slices and
// masks the graph as requested and serializes the result.
func (p *Planner) Plan(c *cluster.Cluster, release []*catalog.Template, opts PlanOptions) (*Plan, error) {
	logger := p.config.Logger.With(zap.String("cluster", c.ID))

	ag, err := astute.New(c, release, astute.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	full := ag.Graph()

	taskIDs, err := expandTaskIDs(ag, opts.TaskIDs)
	if err != nil {
		return nil, err
	}

	// skipped templates stay in scope: the noop serializer keeps the
	// ordering that runs through them
	sub, err := full.FindSubgraph(opts.Start, opts.End)
	if err != nil {
		return nil, err
	}
	if taskIDs != nil {
		sub.OnlyTasks(taskIDs)
	}

	nodes := c.SelectNodes(opts.NodeIDs)
	var affected []*cluster.Node
	if len(opts.Events) > 0 {
		affected = affectedNodes(c, nodes)
	}

	logger.Debug("serializing",
		zap.Int("templates", sub.Len()),
		zap.Int("nodes", len(nodes)),
		zap.Int("affected", len(affected)))

	execution, err := serializer.Serialize(c, nodes, sub.Templates(), serializer.Options{
		TaskIDs:       taskIDs,
		Events:        opts.Events,
		AffectedNodes: affected,
		Factory:       p.config.Factory,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}

	if err := checkRequested(ag, execution, opts.TaskIDs); err != nil {
		return nil, err
	}

	plan := &Plan{
		ClusterID: c.ID,
		TaskIDs:   opts.TaskIDs,
		Events:    opts.Events,
		Nodes:     execution,
		Summary:   summarize(execution),
	}
	id, err := planID(plan)
	if err != nil {
		return nil, err
	}
	plan.ID = id
	return plan, nil
}

// expandTaskIDs adds the members of requested groups. Unknown ids are an
// error.
func expandTaskIDs(ag *astute.AstuteGraph, ids []string) ([]string, error) {
	if ids == nil {
		return nil, nil
	}
	g := ag.Graph()
	seen := make(map[string]bool, len(ids))
	var out, missing []string
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range ids {
		n := g.Node(id)
		if n == nil {
			missing = append(missing, id)
			continue
		}
		add(id)
		if n.IsGroup() {
			for _, member := range g.GetGroupTasks(id) {
				add(member.ID)
			}
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, errors.InvalidData(
			fmt.Sprintf("requested tasks '%s' are not present in the catalog", strings.Join(missing, ", ")),
			map[string]interface{}{"missing": missing})
	}
	return out, nil
}

// checkRequested fails when a requested task does no work on any machine.
// A requested group is satisfied when any of its members does work.
func checkRequested(ag *astute.AstuteGraph, plan serializer.ExecutionPlan, ids []string) error {
	if ids == nil {
		return nil
	}
	working := make(map[string]bool)
	for _, tasks := range plan {
		for _, t := range tasks {
			if !t.IsSkipped() {
				working[t.Origin] = true
			}
		}
	}

	var idle []string
	for _, id := range ids {
		if working[id] {
			continue
		}
		if n := ag.Graph().Node(id); n != nil && n.IsGroup() {
			found := false
			for _, member := range ag.Graph().GetGroupTasks(id) {
				if working[member.ID] {
					found = true
					break
				}
			}
			if found {
				continue
			}
		}
		idle = append(idle, id)
	}
	if len(idle) == 0 {
		return nil
	}
	sort.Strings(idle)
	return errors.InvalidData(
		fmt.Sprintf("requested tasks '%s' do not run on any node", strings.Join(idle, ", ")),
		map[string]interface{}{"tasks": idle})
}

// affectedNodes returns the machines of the cluster that are not deployed.
func affectedNodes(c *cluster.Cluster, active []*cluster.Node) []*cluster.Node {
	deployed := make(map[cluster.NodeID]bool, len(active))
	for _, n := range active {
		deployed[n.UID] = true
	}
	var out []*cluster.Node
	for _, n := range c.Nodes {
		if !deployed[n.UID] {
			out = append(out, n)
		}
	}
	return out
}

func summarize(plan serializer.ExecutionPlan) Summary {
	s := Summary{Nodes: []NodeSummary{}}
	for _, id := range plan.NodeIDs() {
		ns := NodeSummary{NodeID: id}
		for _, t := range plan[id] {
			if t.IsSkipped() {
				ns.Skipped++
			} else {
				ns.Work++
			}
		}
		s.Work += ns.Work
		s.Skipped += ns.Skipped
		s.Nodes = append(s.Nodes, ns)
	}
	return s
}

// planID hashes the canonical JSON of the plan content.
func planID(p *Plan) (string, error) {
	data, err := json.Marshal(struct {
		ClusterID string                   `json:"cluster_id"`
		TaskIDs   []string                 `json:"task_ids"`
		Events    []string                 `json:"events"`
		Nodes     serializer.ExecutionPlan `json:"nodes"`
	}{p.ClusterID, p.TaskIDs, p.Events, p.Nodes})
	if err != nil {
		return "", fmt.Errorf("failed to encode plan: %w", err)
	}
	return uuid.NewSHA1(planNamespace, data).String(), nil
}
