// Package catalog defines deployment task templates and the loaders that
// read them from YAML and HCL sources.
package catalog

import (
	"github.com/Masterminds/semver/v3"
)

// Template types understood by the engine. Any other value is a work type
// forwarded to the executor unchanged.
const (
	TypeStage      = "stage"
	TypeGroup      = "group"
	TypeSkipped    = "skipped"
	TypePuppet     = "puppet"
	TypeShell      = "shell"
	TypeUploadFile = "upload_file"
	TypeSync       = "sync"
	TypeCopyFiles  = "copy_files"
)

// CrossDependencyVersion is the first template format version that supports
// task based deployment.
const CrossDependencyVersion = "2.0.0"

// defaultVersion is assumed for templates that do not declare one.
const defaultVersion = "1.0.0"

var minTaskBasedVersion = semver.MustParse(CrossDependencyVersion)

// Strategy types for group templates.
const (
	StrategyParallel = "parallel"
	StrategyOneByOne = "one_by_one"
)

// Strategy is the deployment priority hint of a group.
type Strategy struct {
	Type   string `yaml:"type" json:"type"`
	Amount int    `yaml:"amount,omitempty" json:"amount,omitempty"`
}

// Policy narrows the set of machines a role selector resolves to.
type Policy string

const (
	PolicyAll Policy = "all"
	PolicyAny Policy = "any"
)

// CrossDependency is a dependency on a task running on other machines.
type CrossDependency struct {
	Name   string       `yaml:"name" json:"name"`
	Role   RoleSelector `yaml:"role,omitempty" json:"role,omitempty"`
	Policy Policy       `yaml:"policy,omitempty" json:"policy,omitempty"`
}

// Template is one entry of the deployment task catalog.
type Template struct {
	ID              string                 `yaml:"id" json:"id"`
	Type            string                 `yaml:"type" json:"type"`
	Version         string                 `yaml:"version,omitempty" json:"version,omitempty"`
	Role            RoleSelector           `yaml:"role,omitempty" json:"role,omitempty"`
	Groups          []string               `yaml:"groups,omitempty" json:"groups,omitempty"`
	Tasks           []string               `yaml:"tasks,omitempty" json:"tasks,omitempty"`
	Requires        []string               `yaml:"requires,omitempty" json:"requires,omitempty"`
	RequiredFor     []string               `yaml:"required_for,omitempty" json:"required_for,omitempty"`
	CrossDepends    []CrossDependency      `yaml:"cross_depends,omitempty" json:"cross_depends,omitempty"`
	CrossDependedBy []CrossDependency      `yaml:"cross_depended_by,omitempty" json:"cross_depended_by,omitempty"`
	Parameters      map[string]interface{} `yaml:"parameters,omitempty" json:"parameters,omitempty"`
	ReexecuteOn     []string               `yaml:"reexecute_on,omitempty" json:"reexecute_on,omitempty"`
	Strategy        *Strategy              `yaml:"strategy,omitempty" json:"strategy,omitempty"`
	Condition       string                 `yaml:"condition,omitempty" json:"condition,omitempty"`
	FailOnError     *bool                  `yaml:"fail_on_error,omitempty" json:"fail_on_error,omitempty"`

	// Skipped is set by only-tasks masking. A skipped template keeps its
	// place in the graph but does no work.
	Skipped bool `yaml:"skipped,omitempty" json:"skipped,omitempty"`
}

// IsGroup reports whether the template is a group container.
func (t *Template) IsGroup() bool {
	return t.Type == TypeGroup
}

// IsVirtual reports whether the template never does real work by itself.
func (t *Template) IsVirtual() bool {
	switch t.Type {
	case TypeStage, TypeGroup, TypeSkipped:
		return true
	default:
		return false
	}
}

// SupportsTaskBasedDeployment reports whether the template carries the
// version marker required for cross-dependency resolution.
func (t *Template) SupportsTaskBasedDeployment() bool {
	raw := t.Version
	if raw == "" {
		raw = defaultVersion
	}
	v, err := semver.NewVersion(raw)
	if err != nil {
		return false
	}
	return !v.LessThan(minTaskBasedVersion)
}

// DeployStrategy returns the group strategy. The top-level field wins over
// the legacy parameters.strategy location; parallel is the default.
func (t *Template) DeployStrategy() Strategy {
	if t.Strategy != nil && t.Strategy.Type != "" {
		return *t.Strategy
	}
	if raw, ok := toStringMap(t.Parameters["strategy"]); ok {
		s := Strategy{Type: StrategyParallel}
		if typ, ok := raw["type"].(string); ok && typ != "" {
			s.Type = typ
		}
		switch amount := raw["amount"].(type) {
		case int:
			s.Amount = amount
		case int64:
			s.Amount = int(amount)
		case float64:
			s.Amount = int(amount)
		}
		return s
	}
	return Strategy{Type: StrategyParallel}
}

// SubscribedTo reports whether any of the events forces re-execution.
func (t *Template) SubscribedTo(events map[string]bool) bool {
	for _, e := range t.ReexecuteOn {
		if events[e] {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so that per-run mutation never leaks between runs.
func (t *Template) Clone() *Template {
	if t == nil {
		return nil
	}
	c := *t
	c.Role = t.Role.clone()
	c.Groups = cloneStrings(t.Groups)
	c.Tasks = cloneStrings(t.Tasks)
	c.Requires = cloneStrings(t.Requires)
	c.RequiredFor = cloneStrings(t.RequiredFor)
	c.ReexecuteOn = cloneStrings(t.ReexecuteOn)
	c.CrossDepends = cloneCrossDeps(t.CrossDepends)
	c.CrossDependedBy = cloneCrossDeps(t.CrossDependedBy)
	if t.Parameters != nil {
		c.Parameters = cloneValue(t.Parameters).(map[string]interface{})
	}
	if t.Strategy != nil {
		s := *t.Strategy
		c.Strategy = &s
	}
	if t.FailOnError != nil {
		v := *t.FailOnError
		c.FailOnError = &v
	}
	return &c
}

// CloneAll deep-copies a catalog.
func CloneAll(templates []*Template) []*Template {
	out := make([]*Template, len(templates))
	for i, t := range templates {
		out[i] = t.Clone()
	}
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}

func cloneCrossDeps(in []CrossDependency) []CrossDependency {
	if in == nil {
		return nil
	}
	out := make([]CrossDependency, len(in))
	for i, d := range in {
		out[i] = d
		out[i].Role = d.Role.clone()
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		m := make(map[string]interface{}, len(val))
		for k, item := range val {
			m[k] = cloneValue(item)
		}
		return m
	case []interface{}:
		s := make([]interface{}, len(val))
		for i, item := range val {
			s[i] = cloneValue(item)
		}
		return s
	default:
		return val
	}
}
