// Package cluster models the machines a plan is computed for and the
// resolution of role selectors to machine ids.
package cluster

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"
)

// NodeID identifies a machine. The zero value is the virtual no-machine id
// that owns cluster-wide fragments such as sync points.
type NodeID string

// NullNode is the virtual no-machine id.
const NullNode NodeID = ""

// MasterNode is the id the "master" pseudo-role resolves to.
const MasterNode NodeID = "master"

// IsNull reports whether id is the virtual no-machine id.
func (id NodeID) IsNull() bool { return id == NullNode }

func (id NodeID) String() string {
	if id.IsNull() {
		return "null"
	}
	return string(id)
}

// MarshalJSON renders the virtual id as null.
func (id NodeID) MarshalJSON() ([]byte, error) {
	if id.IsNull() {
		return []byte("null"), nil
	}
	return json.Marshal(string(id))
}

// UnmarshalJSON accepts null, strings and numbers.
func (id *NodeID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*id = NullNode
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = NodeID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("node id must be a string or a number: %w", err)
	}
	*id = NodeID(n.String())
	return nil
}

// MarshalText is used for map keys; the virtual id becomes "null".
func (id NodeID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText reverses MarshalText.
func (id *NodeID) UnmarshalText(text []byte) error {
	if string(text) == "null" {
		*id = NullNode
		return nil
	}
	*id = NodeID(text)
	return nil
}

// MarshalYAML renders the virtual id as null.
func (id NodeID) MarshalYAML() (interface{}, error) {
	if id.IsNull() {
		return nil, nil
	}
	return string(id), nil
}

// UnmarshalYAML accepts null and any scalar.
func (id *NodeID) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: node id must be a scalar", value.Line)
	}
	if value.ShortTag() == "!!null" {
		*id = NullNode
		return nil
	}
	*id = NodeID(value.Value)
	return nil
}

// Less orders node ids: the virtual id first, then numeric ids by value,
// then everything else lexically.
func Less(a, b NodeID) bool {
	if a == b {
		return false
	}
	if a.IsNull() || b.IsNull() {
		return a.IsNull()
	}
	ai, aErr := strconv.Atoi(string(a))
	bi, bErr := strconv.Atoi(string(b))
	switch {
	case aErr == nil && bErr == nil:
		return ai < bi
	case aErr == nil:
		return true
	case bErr == nil:
		return false
	default:
		return a < b
	}
}

// SortIDs sorts ids in place with Less.
func SortIDs(ids []NodeID) {
	sort.Slice(ids, func(i, j int) bool { return Less(ids[i], ids[j]) })
}

// Node is a machine with its assigned roles.
type Node struct {
	UID   NodeID   `yaml:"uid" json:"uid"`
	Name  string   `yaml:"name,omitempty" json:"name,omitempty"`
	Roles []string `yaml:"roles" json:"roles"`
}

// HasRole reports whether the node plays role.
func (n *Node) HasRole(role string) bool {
	for _, r := range n.Roles {
		if r == role {
			return true
		}
	}
	return false
}
