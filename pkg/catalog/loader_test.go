package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/davidthor/taskgraph/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const yamlCatalog = `
- id: deploy_start
  type: stage
- id: netconfig
  type: puppet
  version: 2.0.0
  role: [controller, compute]
  requires: [deploy_start]
  cross_depends:
    - name: hiera
      role: self
    - name: sync_point
      role: null
    - name: /^database/
      role: [controller]
      policy: any
  reexecute_on: [deploy_changes]
  parameters:
    puppet_manifest: netconfig.pp
    timeout: 3600
- id: tools
  type: shell
  roles: "*"
- id: controller
  type: group
  role: controller
  tasks: [netconfig]
  strategy:
    type: one_by_one
`

func TestLoadFromBytes_YAMLList(t *testing.T) {
	templates, err := NewLoader().LoadFromBytes([]byte(yamlCatalog), "tasks.yaml")
	require.NoError(t, err)
	require.Len(t, templates, 4)

	start := templates[0]
	assert.Equal(t, "deploy_start", start.ID)
	assert.Equal(t, TypeStage, start.Type)
	assert.True(t, start.Role.IsZero())

	net := templates[1]
	assert.Equal(t, SelectorNames, net.Role.Kind())
	assert.Equal(t, []string{"controller", "compute"}, net.Role.Names())
	assert.Equal(t, []string{"deploy_start"}, net.Requires)
	require.Len(t, net.CrossDepends, 3)
	assert.Equal(t, SelectorSelf, net.CrossDepends[0].Role.Kind())
	assert.Equal(t, SelectorNull, net.CrossDepends[1].Role.Kind())
	assert.Equal(t, PolicyAny, net.CrossDepends[2].Policy)
	assert.Equal(t, "netconfig.pp", net.Parameters["puppet_manifest"])
	assert.Equal(t, []string{"deploy_changes"}, net.ReexecuteOn)
	assert.True(t, net.SupportsTaskBasedDeployment())

	tools := templates[2]
	assert.Equal(t, SelectorAll, tools.Role.Kind(), "roles is an alias of role")

	group := templates[3]
	assert.True(t, group.IsGroup())
	assert.Equal(t, Strategy{Type: StrategyOneByOne}, group.DeployStrategy())
}

func TestLoadFromBytes_YAMLMapping(t *testing.T) {
	data := `
tasks:
  - id: a
    type: shell
  - id: b
    type: shell
    requires: [a]
`
	templates, err := NewLoader().LoadFromBytes([]byte(data), "tasks.yml")
	require.NoError(t, err)
	require.Len(t, templates, 2)
	assert.Equal(t, "b", templates[1].ID)
}

func TestLoadFromBytes_MissingID(t *testing.T) {
	_, err := NewLoader().LoadFromBytes([]byte("- type: shell\n"), "tasks.yaml")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeParse))
}

func TestLoadFromBytes_HCL(t *testing.T) {
	data := `
task "deploy_start" {
  type = "stage"
}

task "netconfig" {
  type         = "puppet"
  version      = "2.0.0"
  role         = ["controller"]
  requires     = ["deploy_start"]
  reexecute_on = ["deploy_changes"]
  condition    = "settings.network == \"neutron\""

  parameters = {
    puppet_manifest = "netconfig.pp"
    timeout         = 3600
  }

  cross_depends {
    name = "hiera"
    role = "self"
  }

  cross_depended_by {
    name   = "ceph"
    role   = null
  }
}

task "compute" {
  type = "group"
  role = "compute"

  strategy {
    type   = "parallel"
    amount = 2
  }
}
`
	templates, err := NewLoader().LoadFromBytes([]byte(data), "tasks.hcl")
	require.NoError(t, err)
	require.Len(t, templates, 3)

	net := templates[1]
	assert.Equal(t, "netconfig", net.ID)
	assert.Equal(t, []string{"controller"}, net.Role.Names())
	assert.Equal(t, `settings.network == "neutron"`, net.Condition)
	assert.Equal(t, 3600, net.Parameters["timeout"])
	require.Len(t, net.CrossDepends, 1)
	assert.Equal(t, SelectorSelf, net.CrossDepends[0].Role.Kind())
	require.Len(t, net.CrossDependedBy, 1)
	assert.Equal(t, SelectorNull, net.CrossDependedBy[0].Role.Kind())

	assert.Equal(t, Strategy{Type: StrategyParallel, Amount: 2}, templates[2].DeployStrategy())
}

func TestLoadFromBytes_HCLInvalid(t *testing.T) {
	_, err := NewLoader().LoadFromBytes([]byte(`task "x" { type = ["a"] }`), "tasks.hcl")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeParse))
}

func TestLoadFromBytes_HCLFractionalAmount(t *testing.T) {
	src := `
task "compute" {
  type = "group"
  strategy {
    type   = "parallel"
    amount = 1.5
  }
}
`
	_, err := NewLoader().LoadFromBytes([]byte(src), "tasks.hcl")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeParse))
	assert.Contains(t, err.Error(), "amount must be a whole number")
}

func TestLoad_Directory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "02-work.yaml"), []byte("- id: b\n  type: shell\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "01-stages.hcl"), []byte(`task "a" { type = "stage" }`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0644))

	templates, err := NewLoader().Load(dir)
	require.NoError(t, err)
	require.Len(t, templates, 2)
	assert.Equal(t, "a", templates[0].ID)
	assert.Equal(t, "b", templates[1].ID)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := NewLoader().Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLegacy(t *testing.T) {
	templates, err := Legacy()
	require.NoError(t, err)
	assert.NotEmpty(t, templates)
	for _, tpl := range templates {
		assert.False(t, tpl.SupportsTaskBasedDeployment(), tpl.ID)
	}

	assert.True(t, IsLegacyRelease("5.1.1"))
	assert.False(t, IsLegacyRelease("6.1.0"))
	assert.False(t, IsLegacyRelease("9.0"))
	assert.False(t, IsLegacyRelease("liberty-9.0"))
}
