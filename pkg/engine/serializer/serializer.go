package serializer

import (
	"fmt"

	"github.com/davidthor/taskgraph/pkg/catalog"
	"github.com/davidthor/taskgraph/pkg/cluster"
	"github.com/davidthor/taskgraph/pkg/errors"
	"go.uber.org/zap"
)

// Options narrows a serialization run.
type Options struct {
	// TaskIDs restricts real work to the listed templates. Every other
	// template is served by the noop serializer. Nil means everything.
	// Listing a group id runs all of its member tasks.
	TaskIDs []string

	// Events are lifecycle events that force templates subscribed to them
	// through reexecute_on to run on AffectedNodes.
	Events []string

	// AffectedNodes are machines outside the deployment that still get
	// fragments. Their fragments are skipped unless the template subscribes
	// to one of Events. TaskIDs filtering applies first.
	AffectedNodes []*cluster.Node

	// Factory picks stage serializers. Defaults to NewDeployTaskSerializer.
	Factory *DeployTaskSerializer

	// Logger receives debug records of per-template decisions.
	Logger *zap.Logger
}

// relation is the direction of a dependency being resolved.
type relation int

const (
	relRequires relation = iota
	relRequiredFor
)

// TasksSerializer expands a catalog into an execution plan for one cluster.
// Each run owns its connections table; a serializer must not be shared
// between goroutines.
type TasksSerializer struct {
	cluster  *cluster.Cluster
	resolver cluster.RoleResolver
	affected map[cluster.NodeID]bool
	taskIDs  map[string]bool
	events   map[string]bool
	factory  *DeployTaskSerializer
	logger   *zap.Logger

	conditions  *ConditionEvaluator
	patterns    *catalog.PatternTable
	processor   *TaskProcessor
	conns       *connections
	unversioned []string
}

// NewTasksSerializer creates a serializer for the active nodes of a cluster.
func NewTasksSerializer(c *cluster.Cluster, nodes []*cluster.Node, opts Options) *TasksSerializer {
	all := append(append([]*cluster.Node(nil), nodes...), opts.AffectedNodes...)

	s := &TasksSerializer{
		cluster:  c,
		resolver: cluster.NewRoleResolver(all),
		affected: make(map[cluster.NodeID]bool, len(opts.AffectedNodes)),
		events:   make(map[string]bool, len(opts.Events)),
		factory:  opts.Factory,
		logger:   opts.Logger,
	}
	if s.factory == nil {
		s.factory = NewDeployTaskSerializer()
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}

	active := make(map[cluster.NodeID]bool, len(nodes))
	for _, n := range nodes {
		active[n.UID] = true
	}
	for _, n := range opts.AffectedNodes {
		if !active[n.UID] {
			s.affected[n.UID] = true
		}
	}
	if opts.TaskIDs != nil {
		s.taskIDs = make(map[string]bool, len(opts.TaskIDs))
		for _, id := range opts.TaskIDs {
			s.taskIDs[id] = true
		}
	}
	for _, e := range opts.Events {
		s.events[e] = true
	}
	return s
}

// Serialize is NewTasksSerializer followed by Serialize.
func Serialize(c *cluster.Cluster, nodes []*cluster.Node, templates []*catalog.Template, opts Options) (ExecutionPlan, error) {
	return NewTasksSerializer(c, nodes, opts).Serialize(templates)
}

// Serialize expands the templates and resolves every dependency. It fails
// with TASK_BASED_DEPLOYMENT_NOT_ALLOWED, naming every offending template
// at once, when an applicable template predates cross dependencies.
func (s *TasksSerializer) Serialize(templates []*catalog.Template) (ExecutionPlan, error) {
	s.conditions = NewConditionEvaluator(s.cluster)
	s.patterns = catalog.NewPatternTable()
	s.processor = NewTaskProcessor()
	s.conns = newConnections()
	s.unversioned = nil

	if err := s.resolveNodes(withPluginHooks(templates)); err != nil {
		return nil, err
	}
	if len(s.unversioned) > 0 {
		return nil, errors.TaskBasedDeploymentNotAllowed(s.unversioned)
	}
	return s.resolveDependencies(), nil
}

// withPluginHooks appends the plugin hook templates unless the catalog
// already declares them.
func withPluginHooks(templates []*catalog.Template) []*catalog.Template {
	declared := make(map[string]bool, len(templates))
	for _, t := range templates {
		declared[t.ID] = true
	}
	out := append([]*catalog.Template(nil), templates...)
	for _, hook := range PluginHookTemplates() {
		if !declared[hook.ID] {
			out = append(out, hook)
		}
	}
	return out
}

// resolveNodes places the fragments of every template. Groups are expanded
// last: their member tasks run on the machines of the group.
func (s *TasksSerializer) resolveNodes(templates []*catalog.Template) error {
	byID := make(map[string]*catalog.Template, len(templates))
	var groups []*catalog.Template
	for _, t := range templates {
		byID[t.ID] = t
		if t.IsGroup() {
			groups = append(groups, t)
			continue
		}
		if err := s.processTask(t, s.resolver, false); err != nil {
			return err
		}
	}

	for _, g := range groups {
		s.checkVersion(g)
		uids := roleTargets(g, s.resolver)
		if len(uids) == 0 {
			continue
		}
		requested := s.taskIDs != nil && s.taskIDs[g.ID]
		members := cluster.NewNullResolver(uids...)
		for _, id := range g.Tasks {
			member, ok := byID[id]
			if !ok {
				return errors.InvalidData(
					fmt.Sprintf("task %s of group %s cannot be resolved", id, g.ID),
					map[string]interface{}{"task": id, "group": g.ID})
			}
			if err := s.processTask(member, members, requested); err != nil {
				return err
			}
		}
	}

	s.conns.ensure(cluster.NullNode)
	return nil
}

// processTask serializes one template with the given resolver. Templates
// that should do no work are served by the noop serializer so that their
// ordering constraints survive.
func (s *TasksSerializer) processTask(t *catalog.Template, resolver cluster.RoleResolver, groupRequested bool) error {
	stage := s.factory.GetStageSerializer(t, s.cluster, resolver)

	if t.Type != catalog.TypeStage && len(stage.UIDs()) > 0 {
		s.checkVersion(t)
	}

	reason, err := s.noopReason(t, groupRequested)
	if err != nil {
		return err
	}
	if reason != "" || s.factory.KindOf(t) == KindNoop {
		if reason != "" {
			s.logger.Debug("template served by noop serializer",
				zap.String("task", t.ID), zap.String("reason", reason))
		}
		steps, err := NewNoopSerializer(t, resolver).Serialize()
		if err != nil {
			return err
		}
		for _, step := range steps {
			s.place(s.processor.ProcessTasks(t, []Step{step}), false)
		}
		return nil
	}

	steps, err := stage.Serialize()
	if err != nil {
		return err
	}
	s.place(s.processor.ProcessTasks(t, steps), t.SubscribedTo(s.events))
	return nil
}

// noopReason returns why a template does no work, or "" when it runs.
func (s *TasksSerializer) noopReason(t *catalog.Template, groupRequested bool) (string, error) {
	switch {
	case s.taskIDs != nil && !s.taskIDs[t.ID] && !groupRequested:
		return "not requested", nil
	case t.Skipped:
		return "skipped", nil
	case t.Type == catalog.TypeSkipped:
		return "skipped type", nil
	}
	ok, err := s.conditions.Evaluate(t.Condition)
	if err != nil {
		return "", fmt.Errorf("task %s: %w", t.ID, err)
	}
	if !ok {
		return "condition is false", nil
	}
	return "", nil
}

func (s *TasksSerializer) checkVersion(t *catalog.Template) {
	if t.SupportsTaskBasedDeployment() {
		return
	}
	for _, id := range s.unversioned {
		if id == t.ID {
			return
		}
	}
	s.unversioned = append(s.unversioned, t.ID)
}

// place stores each fragment on each of its machines. On affected
// machines a fragment is downgraded to skipped unless the template is
// subscribed to an active event.
func (s *TasksSerializer) place(frags []*fragment, subscribed bool) {
	for _, f := range frags {
		for _, uid := range f.UIDs {
			placed := *f
			placed.UIDs = []cluster.NodeID{uid}
			if s.affected[uid] && !subscribed && f.Type != catalog.TypeSkipped {
				s.logger.Debug("fragment skipped on affected node",
					zap.String("task", f.ID), zap.Stringer("node", uid))
				placed.Type = catalog.TypeSkipped
				placed.Parameters = nil
				placed.FailOnError = false
			}
			s.conns.put(uid, &placed)
		}
	}
}

// resolveDependencies expands every symbolic dependency into concrete
// edges. Same-machine names are looked up on the machine and on the
// virtual no-machine id; cross dependencies go through the role resolver.
func (s *TasksSerializer) resolveDependencies() ExecutionPlan {
	plan := make(ExecutionPlan, len(s.conns.order))
	for _, node := range s.conns.order {
		frags := s.conns.fragments(node)
		tasks := make([]*Task, 0, len(frags))
		for _, f := range frags {
			origin, _ := s.processor.Origin(f.ID)

			var requires, requiredFor []Edge
			requires = append(requires, s.expandDependencies(node, f, f.Requires, relRequires)...)
			requires = append(requires, s.expandCrossDependencies(node, f, f.CrossDepends, relRequires)...)
			requiredFor = append(requiredFor, s.expandDependencies(node, f, f.RequiredFor, relRequiredFor)...)
			requiredFor = append(requiredFor, s.expandCrossDependencies(node, f, f.CrossDependedBy, relRequiredFor)...)

			tasks = append(tasks, &Task{
				ID:          f.ID,
				Type:        f.Type,
				UIDs:        []cluster.NodeID{node},
				Parameters:  f.Parameters,
				FailOnError: f.FailOnError,
				Requires:    sortEdges(requires),
				RequiredFor: sortEdges(requiredFor),
				Origin:      origin,
			})
		}
		plan[node] = tasks
	}
	return plan
}

func (s *TasksSerializer) expandDependencies(node cluster.NodeID, f *fragment, names []string, rel relation) []Edge {
	if len(names) == 0 {
		return nil
	}
	nodeIDs := []cluster.NodeID{node}
	if !node.IsNull() {
		nodeIDs = append(nodeIDs, cluster.NullNode)
	}
	var out []Edge
	for _, name := range names {
		out = append(out, s.resolveRelation(name, nodeIDs, rel, node, f)...)
	}
	return out
}

func (s *TasksSerializer) expandCrossDependencies(node cluster.NodeID, f *fragment, deps []crossLink, rel relation) []Edge {
	var out []Edge
	for _, d := range deps {
		var nodeIDs []cluster.NodeID
		switch {
		case d.nodes != nil:
			nodeIDs = d.nodes
		case d.Role.Kind() == catalog.SelectorSelf:
			nodeIDs = []cluster.NodeID{node}
		case d.Role.Kind() == catalog.SelectorNull:
			nodeIDs = []cluster.NodeID{cluster.NullNode}
		case d.Role.IsZero():
			nodeIDs = s.resolver.Resolve(catalog.AllRoles(), d.Policy)
		default:
			nodeIDs = s.resolver.Resolve(d.Role, d.Policy)
		}
		out = append(out, s.resolveRelation(d.Name, nodeIDs, rel, node, f)...)
	}
	return out
}

// resolveRelation finds the fragments a dependency name refers to on the
// given machines. An exact fragment id matches directly. Otherwise the name
// is matched against template ids and a chained template is entered through
// its last fragment for requires and its first fragment for required_for.
// A fragment never depends on its own template on its own machine.
func (s *TasksSerializer) resolveRelation(name string, nodeIDs []cluster.NodeID, rel relation, node cluster.NodeID, current *fragment) []Edge {
	pattern := s.patterns.Get(name)
	currentOrigin, _ := s.processor.Origin(current.ID)

	var out []Edge
	for _, nid := range nodeIDs {
		applied := make(map[string]bool)
		for _, cand := range s.conns.fragments(nid) {
			if cand.ID == name {
				if nid != node || cand.ID != current.ID {
					out = append(out, Edge{Name: cand.ID, NodeID: nid})
				}
				continue
			}
			origin, _ := s.processor.Origin(cand.ID)
			if applied[origin] || !pattern.Match(origin) {
				continue
			}
			if nid == node && origin == currentOrigin {
				continue
			}
			applied[origin] = true

			target := cand.ID
			if s.processor.Position(cand.ID) != Unchained {
				if rel == relRequires {
					target = EndID(origin)
				} else {
					target = StartID(origin)
				}
			}
			out = append(out, Edge{Name: target, NodeID: nid})
		}
	}
	return out
}
