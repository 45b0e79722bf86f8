package cluster

import (
	"sort"

	"github.com/davidthor/taskgraph/pkg/catalog"
)

// Cluster is the snapshot of a cluster a plan is computed for.
type Cluster struct {
	ID             string                 `yaml:"id" json:"id"`
	Name           string                 `yaml:"name,omitempty" json:"name,omitempty"`
	Mode           string                 `yaml:"mode,omitempty" json:"mode,omitempty"`
	ReleaseVersion string                 `yaml:"release" json:"release"`
	Settings       map[string]interface{} `yaml:"settings,omitempty" json:"settings,omitempty"`
	Nodes          []*Node                `yaml:"nodes" json:"nodes"`
	Plugins        []Plugin               `yaml:"plugins,omitempty" json:"plugins,omitempty"`

	// Tasks are cluster level catalog overrides, merged over the release catalog.
	Tasks []*catalog.Template `yaml:"tasks,omitempty" json:"tasks,omitempty"`
}

// Plugin is an enabled cluster plugin.
type Plugin struct {
	Name    string `yaml:"name" json:"name"`
	Version string `yaml:"version,omitempty" json:"version,omitempty"`

	// Tasks are catalog entries contributed by the plugin.
	Tasks []*catalog.Template `yaml:"tasks,omitempty" json:"tasks,omitempty"`

	PreDeployment  []PluginStep `yaml:"pre_deployment,omitempty" json:"pre_deployment,omitempty"`
	PostDeployment []PluginStep `yaml:"post_deployment,omitempty" json:"post_deployment,omitempty"`
}

// PluginStep is one legacy plugin hook action.
type PluginStep struct {
	Type       string                 `yaml:"type" json:"type"`
	Role       []string               `yaml:"role" json:"role"`
	Parameters map[string]interface{} `yaml:"parameters,omitempty" json:"parameters,omitempty"`
}

// Node returns the node with the given id, or nil.
func (c *Cluster) Node(uid NodeID) *Node {
	for _, n := range c.Nodes {
		if n.UID == uid {
			return n
		}
	}
	return nil
}

// NodeIDs returns the ids of every node in sorted order.
func (c *Cluster) NodeIDs() []NodeID {
	ids := make([]NodeID, 0, len(c.Nodes))
	for _, n := range c.Nodes {
		ids = append(ids, n.UID)
	}
	SortIDs(ids)
	return ids
}

// SelectNodes returns the nodes whose ids are listed, in cluster order.
// An empty list selects every node.
func (c *Cluster) SelectNodes(uids []NodeID) []*Node {
	if len(uids) == 0 {
		return append([]*Node(nil), c.Nodes...)
	}
	want := make(map[NodeID]bool, len(uids))
	for _, id := range uids {
		want[id] = true
	}
	var out []*Node
	for _, n := range c.Nodes {
		if want[n.UID] {
			out = append(out, n)
		}
	}
	return out
}

// PluginNames returns the sorted names of the enabled plugins.
func (c *Cluster) PluginNames() []string {
	names := make([]string, 0, len(c.Plugins))
	for _, p := range c.Plugins {
		names = append(names, p.Name)
	}
	sort.Strings(names)
	return names
}

// PluginTasks returns the catalog entries of every plugin in plugin order.
func (c *Cluster) PluginTasks() []*catalog.Template {
	var out []*catalog.Template
	for _, p := range c.Plugins {
		out = append(out, p.Tasks...)
	}
	return out
}
