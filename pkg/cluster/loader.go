package cluster

import (
	"fmt"
	"os"

	"github.com/davidthor/taskgraph/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Load reads a cluster topology file. JSON is accepted as a YAML subset.
func Load(path string) (*Cluster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeParse, fmt.Sprintf("failed to read %s", path), err)
	}
	return LoadFromBytes(data, path)
}

// LoadFromBytes parses and validates a cluster topology.
func LoadFromBytes(data []byte, sourcePath string) (*Cluster, error) {
	var c Cluster
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, errors.ParseError(sourcePath, err)
	}
	if err := validate(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

func validate(c *Cluster) error {
	if c.ID == "" {
		return errors.ValidationError("cluster id is required", map[string]interface{}{"field": "id"})
	}
	seen := make(map[NodeID]bool, len(c.Nodes))
	for i, n := range c.Nodes {
		field := fmt.Sprintf("nodes[%d].uid", i)
		if n == nil || n.UID.IsNull() {
			return errors.ValidationError("node uid is required", map[string]interface{}{"field": field})
		}
		if n.UID == MasterNode {
			return errors.ValidationError(fmt.Sprintf("node uid %q is reserved", MasterNode), map[string]interface{}{"field": field})
		}
		if seen[n.UID] {
			return errors.ValidationError(fmt.Sprintf("duplicate node uid %s", n.UID), map[string]interface{}{"field": field})
		}
		seen[n.UID] = true
	}
	for i, p := range c.Plugins {
		if p.Name == "" {
			return errors.ValidationError("plugin name is required", map[string]interface{}{"field": fmt.Sprintf("plugins[%d].name", i)})
		}
	}
	return nil
}
