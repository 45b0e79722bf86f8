// Package serializer expands task templates into per-machine task chains
// and resolves their dependencies into the execution plan handed to the
// executor.
package serializer

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/davidthor/taskgraph/pkg/catalog"
	"github.com/davidthor/taskgraph/pkg/cluster"
	"gopkg.in/yaml.v3"
)

// Edge is a resolved dependency on a fragment of a machine.
type Edge struct {
	Name   string         `json:"name" yaml:"name"`
	NodeID cluster.NodeID `json:"node_id" yaml:"node_id"`
}

// Task is one fragment of the execution plan.
type Task struct {
	ID          string                 `json:"id" yaml:"id"`
	Type        string                 `json:"type" yaml:"type"`
	UIDs        []cluster.NodeID       `json:"uids" yaml:"uids"`
	Parameters  map[string]interface{} `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	FailOnError bool                   `json:"fail_on_error" yaml:"fail_on_error"`
	Requires    []Edge                 `json:"requires,omitempty" yaml:"requires,omitempty"`
	RequiredFor []Edge                 `json:"required_for,omitempty" yaml:"required_for,omitempty"`

	// Origin is the id of the template the fragment was produced from.
	Origin string `json:"-" yaml:"-"`
}

// IsSkipped reports whether the fragment does no work.
func (t *Task) IsSkipped() bool {
	return t.Type == catalog.TypeSkipped
}

// ExecutionPlan maps a machine id to its fragments in production order.
// The virtual no-machine id is always present.
type ExecutionPlan map[cluster.NodeID][]*Task

// NodeIDs returns the machine ids in sorted order, the virtual id first.
func (p ExecutionPlan) NodeIDs() []cluster.NodeID {
	ids := make([]cluster.NodeID, 0, len(p))
	for id := range p {
		ids = append(ids, id)
	}
	cluster.SortIDs(ids)
	return ids
}

// Task returns the fragment with the given id on a machine, or nil.
func (p ExecutionPlan) Task(node cluster.NodeID, id string) *Task {
	for _, t := range p[node] {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// MarshalJSON writes machines in sorted order with the virtual id as the
// "null" key, so identical plans always produce identical bytes.
func (p ExecutionPlan) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, id := range p.NodeIDs() {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(id.String())
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		tasks := p[id]
		if tasks == nil {
			tasks = []*Task{}
		}
		val, err := json.Marshal(tasks)
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalYAML writes machines in sorted order with the virtual id as a null key.
func (p ExecutionPlan) MarshalYAML() (interface{}, error) {
	root := &yaml.Node{Kind: yaml.MappingNode}
	for _, id := range p.NodeIDs() {
		key := &yaml.Node{Kind: yaml.ScalarNode, Value: string(id)}
		if id.IsNull() {
			key.Tag = "!!null"
			key.Value = "null"
		} else {
			key.Tag = "!!str"
		}
		var val yaml.Node
		tasks := p[id]
		if tasks == nil {
			tasks = []*Task{}
		}
		if err := val.Encode(tasks); err != nil {
			return nil, err
		}
		root.Content = append(root.Content, key, &val)
	}
	return root, nil
}

// sortEdges dedupes edges and orders them by machine then name.
func sortEdges(edges []Edge) []Edge {
	if len(edges) == 0 {
		return nil
	}
	seen := make(map[Edge]bool, len(edges))
	out := make([]Edge, 0, len(edges))
	for _, e := range edges {
		if !seen[e] {
			seen[e] = true
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].NodeID != out[j].NodeID {
			return cluster.Less(out[i].NodeID, out[j].NodeID)
		}
		return out[i].Name < out[j].Name
	})
	return out
}
