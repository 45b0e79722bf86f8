package serializer

import (
	"fmt"

	"github.com/davidthor/taskgraph/pkg/catalog"
	"github.com/davidthor/taskgraph/pkg/cluster"
)

// Step is one execution step a stage serializer produced for a template.
type Step struct {
	UIDs        []cluster.NodeID
	Type        string
	Parameters  map[string]interface{}
	FailOnError bool
}

// crossLink is a symbolic cross-machine dependency. Chain links name their
// target machines explicitly instead of going through role resolution.
type crossLink struct {
	catalog.CrossDependency
	nodes []cluster.NodeID
}

// fragment is a task before dependency resolution.
type fragment struct {
	ID          string
	Type        string
	UIDs        []cluster.NodeID
	Parameters  map[string]interface{}
	FailOnError bool

	Requires        []string
	RequiredFor     []string
	CrossDepends    []crossLink
	CrossDependedBy []crossLink
}

// ChainPosition is the place of a fragment within its template's chain.
type ChainPosition int

const (
	// Unchained is the single fragment of a one-step template.
	Unchained ChainPosition = iota
	// ChainStart carries the template's inbound dependencies.
	ChainStart
	// ChainMiddle is linked only to its neighbours.
	ChainMiddle
	// ChainEnd carries the template's outbound dependencies.
	ChainEnd
)

func (p ChainPosition) String() string {
	switch p {
	case ChainStart:
		return "start"
	case ChainMiddle:
		return "middle"
	case ChainEnd:
		return "end"
	default:
		return "unchained"
	}
}

type origin struct {
	template string
	position ChainPosition
}

// StartID is the id of the first fragment of a chained template.
func StartID(templateID string) string { return templateID + "_start" }

// EndID is the id of the last fragment of a chained template.
func EndID(templateID string) string { return templateID + "_end" }

// MiddleID is the id of the n-th middle fragment of a chained template,
// counting from 1.
func MiddleID(templateID string, n int) string { return fmt.Sprintf("%s#%d", templateID, n) }

// TaskProcessor turns stage serializer output into linked fragments and
// remembers which template every fragment came from.
type TaskProcessor struct {
	origins map[string]origin
}

// NewTaskProcessor creates a processor with an empty origin table.
func NewTaskProcessor() *TaskProcessor {
	return &TaskProcessor{origins: make(map[string]origin)}
}

// ProcessTasks converts the steps of one template into fragments. A single
// step keeps the template id and all of its dependencies. Several steps
// become a chain: the first fragment keeps the inbound dependencies, the
// last keeps the outbound ones and every other link depends only on its
// predecessor. Fragment ids are derived from the template id alone, so
// processing the same template twice yields the same fragments.
func (p *TaskProcessor) ProcessTasks(t *catalog.Template, steps []Step) []*fragment {
	switch len(steps) {
	case 0:
		return nil
	case 1:
		f := newFragment(t.ID, steps[0])
		f.Requires = cloneStrings(t.Requires)
		f.RequiredFor = cloneStrings(t.RequiredFor)
		f.CrossDepends = links(t.CrossDepends)
		f.CrossDependedBy = links(t.CrossDependedBy)
		p.origins[f.ID] = origin{template: t.ID, position: Unchained}
		return []*fragment{f}
	}

	out := make([]*fragment, 0, len(steps))
	for i, step := range steps {
		var f *fragment
		switch i {
		case 0:
			f = newFragment(StartID(t.ID), step)
			f.Requires = cloneStrings(t.Requires)
			f.CrossDepends = links(t.CrossDepends)
			p.origins[f.ID] = origin{template: t.ID, position: ChainStart}
		case len(steps) - 1:
			f = newFragment(EndID(t.ID), step)
			f.RequiredFor = cloneStrings(t.RequiredFor)
			f.CrossDependedBy = links(t.CrossDependedBy)
			p.origins[f.ID] = origin{template: t.ID, position: ChainEnd}
		default:
			f = newFragment(MiddleID(t.ID, i), step)
			p.origins[f.ID] = origin{template: t.ID, position: ChainMiddle}
		}
		if i > 0 {
			p.link(out[i-1], f)
		}
		out = append(out, f)
	}
	return out
}

// link makes next depend on prev, on the same machines through requires and
// across machines through an explicit cross dependency.
func (p *TaskProcessor) link(prev, next *fragment) {
	if sameNodes(prev.UIDs, next.UIDs) {
		next.Requires = append(next.Requires, prev.ID)
		return
	}
	next.CrossDepends = append(next.CrossDepends, crossLink{
		CrossDependency: catalog.CrossDependency{Name: prev.ID},
		nodes:           append([]cluster.NodeID(nil), prev.UIDs...),
	})
}

// Origin returns the template id a fragment was produced from.
func (p *TaskProcessor) Origin(fragmentID string) (string, bool) {
	o, ok := p.origins[fragmentID]
	return o.template, ok
}

// Position returns the chain position of a fragment.
func (p *TaskProcessor) Position(fragmentID string) ChainPosition {
	return p.origins[fragmentID].position
}

func newFragment(id string, step Step) *fragment {
	return &fragment{
		ID:          id,
		Type:        step.Type,
		UIDs:        append([]cluster.NodeID(nil), step.UIDs...),
		Parameters:  step.Parameters,
		FailOnError: step.FailOnError,
	}
}

func links(deps []catalog.CrossDependency) []crossLink {
	if len(deps) == 0 {
		return nil
	}
	out := make([]crossLink, len(deps))
	for i, d := range deps {
		out[i] = crossLink{CrossDependency: d}
	}
	return out
}

func sameNodes(a, b []cluster.NodeID) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[cluster.NodeID]bool, len(a))
	for _, id := range a {
		set[id] = true
	}
	for _, id := range b {
		if !set[id] {
			return false
		}
	}
	return true
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}
