package serializer

import (
	"github.com/davidthor/taskgraph/pkg/catalog"
	"github.com/davidthor/taskgraph/pkg/cluster"
)

// NoopSerializer serves templates that do no work: stages, skipped and
// filtered-out templates, and group containers. It keeps their place in
// the plan with skipped fragments.
type NoopSerializer struct {
	task     *catalog.Template
	resolver cluster.RoleResolver
}

// NewNoopSerializer creates a noop serializer for a template.
func NewNoopSerializer(t *catalog.Template, resolver cluster.RoleResolver) *NoopSerializer {
	return &NoopSerializer{task: t, resolver: resolver}
}

// UIDs resolves the template's groups, falling back to its role. A
// template with neither lives on the virtual no-machine id.
func (s *NoopSerializer) UIDs() []cluster.NodeID {
	if len(s.task.Groups) > 0 {
		return s.resolver.Resolve(catalog.Roles(s.task.Groups...), catalog.PolicyAll)
	}
	switch s.task.Role.Kind() {
	case catalog.SelectorUnset, catalog.SelectorNull:
		return []cluster.NodeID{cluster.NullNode}
	default:
		return s.resolver.Resolve(s.task.Role, catalog.PolicyAll)
	}
}

// Serialize yields one skipped step per machine and nothing when no
// machine matches.
func (s *NoopSerializer) Serialize() ([]Step, error) {
	uids := s.UIDs()
	steps := make([]Step, 0, len(uids))
	for _, uid := range uids {
		steps = append(steps, noopStep(uid))
	}
	return steps, nil
}

func noopStep(uid cluster.NodeID) Step {
	return Step{
		UIDs:        []cluster.NodeID{uid},
		Type:        catalog.TypeSkipped,
		FailOnError: false,
	}
}
