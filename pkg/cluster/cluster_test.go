package cluster

import (
	"encoding/json"
	"testing"

	"github.com/davidthor/taskgraph/pkg/catalog"
	"github.com/davidthor/taskgraph/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func testNodes() []*Node {
	return []*Node{
		{UID: "3", Roles: []string{"compute"}},
		{UID: "1", Roles: []string{"primary-controller"}},
		{UID: "2", Roles: []string{"controller", "cinder"}},
		{UID: "10", Roles: []string{"compute"}},
	}
}

func TestRoleResolver_Resolve(t *testing.T) {
	r := NewRoleResolver(testNodes())

	tests := []struct {
		name   string
		sel    catalog.RoleSelector
		policy catalog.Policy
		want   []NodeID
	}{
		{"all", catalog.AllRoles(), "", []NodeID{"1", "2", "3", "10"}},
		{"by name", catalog.Roles("compute"), "", []NodeID{"3", "10"}},
		{"several names", catalog.Roles("cinder", "compute"), catalog.PolicyAll, []NodeID{"2", "3", "10"}},
		{"regex", catalog.Roles("/(primary-)?controller/"), "", []NodeID{"1", "2"}},
		{"any policy", catalog.Roles("compute"), catalog.PolicyAny, []NodeID{"3"}},
		{"master", catalog.Roles("master"), "", []NodeID{MasterNode}},
		{"null", catalog.NullRole(), "", []NodeID{NullNode}},
		{"absent role", catalog.Roles("mongo"), "", nil},
		{"unset", catalog.RoleSelector{}, "", nil},
		{"self", catalog.SelfRole(), "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Resolve(tt.sel, tt.policy))
		})
	}
}

func TestNullResolver(t *testing.T) {
	r := NewNullResolver("1", "2")
	assert.Equal(t, []NodeID{"1", "2"}, r.Resolve(catalog.Roles("anything"), catalog.PolicyAny))
	assert.Empty(t, NewNullResolver().Resolve(catalog.AllRoles(), ""))
}

func TestNodeID_Marshalling(t *testing.T) {
	out, err := json.Marshal(map[string]interface{}{
		"a": NullNode,
		"b": NodeID("7"),
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a": null, "b": "7"}`, string(out))

	var back map[NodeID]int
	require.NoError(t, json.Unmarshal([]byte(`{"null": 1, "7": 2}`), &back))
	assert.Equal(t, map[NodeID]int{NullNode: 1, "7": 2}, back)

	text, err := NullNode.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "null", string(text))

	var ids []NodeID
	require.NoError(t, json.Unmarshal([]byte(`[null, 5, "x"]`), &ids))
	assert.Equal(t, []NodeID{NullNode, "5", "x"}, ids)

	y, err := yaml.Marshal([]NodeID{NullNode, "5"})
	require.NoError(t, err)
	assert.Equal(t, "- null\n- \"5\"\n", string(y))
}

func TestLess(t *testing.T) {
	ids := []NodeID{"10", "b", NullNode, "2", "a", MasterNode}
	SortIDs(ids)
	assert.Equal(t, []NodeID{NullNode, "2", "10", "a", "b", MasterNode}, ids)
}

func TestLoadFromBytes(t *testing.T) {
	data := `
id: 42
name: prod
mode: ha
release: "9.0"
settings:
  network: neutron
nodes:
  - uid: 1
    roles: [primary-controller]
  - uid: 2
    roles: [compute, virt]
plugins:
  - name: contrail
    version: 4.0.0
    post_deployment:
      - type: shell
        role: [master]
        parameters:
          cmd: ./post.sh
`
	c, err := LoadFromBytes([]byte(data), "cluster.yaml")
	require.NoError(t, err)
	assert.Equal(t, "42", c.ID)
	assert.Equal(t, "9.0", c.ReleaseVersion)
	assert.Equal(t, []NodeID{"1", "2"}, c.NodeIDs())
	assert.True(t, c.Node("2").HasRole("virt"))
	assert.Nil(t, c.Node("9"))
	assert.Equal(t, []string{"contrail"}, c.PluginNames())
	require.Len(t, c.Plugins[0].PostDeployment, 1)
	assert.Equal(t, []string{"master"}, c.Plugins[0].PostDeployment[0].Role)

	assert.Len(t, c.SelectNodes(nil), 2)
	selected := c.SelectNodes([]NodeID{"2"})
	require.Len(t, selected, 1)
	assert.Equal(t, NodeID("2"), selected[0].UID)
}

func TestLoadFromBytes_Invalid(t *testing.T) {
	tests := map[string]string{
		"missing id":   "nodes: []\n",
		"missing uid":  "id: c\nnodes:\n  - roles: [a]\n",
		"duplicate":    "id: c\nnodes:\n  - uid: 1\n  - uid: 1\n",
		"reserved uid": "id: c\nnodes:\n  - uid: master\n",
		"plugin name":  "id: c\nplugins:\n  - version: 1.0.0\n",
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadFromBytes([]byte(data), "cluster.yaml")
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrCodeValidation))
		})
	}

	_, err := LoadFromBytes([]byte("id: [\n"), "cluster.yaml")
	assert.True(t, errors.Is(err, errors.ErrCodeParse))
}
