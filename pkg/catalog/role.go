package catalog

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Role selector keywords.
const (
	RoleAll    = "*"
	RoleSelf   = "self"
	RoleMaster = "master"
)

// SelectorKind distinguishes the forms a role selector can take.
type SelectorKind int

const (
	// SelectorUnset means no role was declared.
	SelectorUnset SelectorKind = iota
	// SelectorNull means the role was explicitly null: the virtual no-machine id.
	SelectorNull
	// SelectorAll matches every machine.
	SelectorAll
	// SelectorSelf matches the machine currently being expanded.
	SelectorSelf
	// SelectorNames matches machines by role name or /regex/ pattern.
	SelectorNames
)

// RoleSelector is the role field of a template or cross-dependency.
type RoleSelector struct {
	kind  SelectorKind
	names []string
}

// AllRoles selects every machine.
func AllRoles() RoleSelector { return RoleSelector{kind: SelectorAll} }

// SelfRole selects the machine being expanded.
func SelfRole() RoleSelector { return RoleSelector{kind: SelectorSelf} }

// NullRole selects the virtual no-machine id.
func NullRole() RoleSelector { return RoleSelector{kind: SelectorNull} }

// Roles selects machines by role names or /regex/ patterns. A "*" entry
// turns the selector into AllRoles.
func Roles(names ...string) RoleSelector {
	for _, n := range names {
		if n == RoleAll {
			return AllRoles()
		}
	}
	if len(names) == 1 && names[0] == RoleSelf {
		return SelfRole()
	}
	return RoleSelector{kind: SelectorNames, names: append([]string(nil), names...)}
}

func (s RoleSelector) Kind() SelectorKind { return s.kind }

// Names returns the role names or patterns of a SelectorNames selector.
func (s RoleSelector) Names() []string { return s.names }

// IsZero reports whether no role was declared. yaml.v3 uses it for omitempty.
func (s RoleSelector) IsZero() bool { return s.kind == SelectorUnset }

func (s RoleSelector) String() string {
	switch s.kind {
	case SelectorNull:
		return "null"
	case SelectorAll:
		return RoleAll
	case SelectorSelf:
		return RoleSelf
	case SelectorNames:
		return "[" + strings.Join(s.names, ", ") + "]"
	default:
		return ""
	}
}

func (s RoleSelector) clone() RoleSelector {
	return RoleSelector{kind: s.kind, names: cloneStrings(s.names)}
}

// UnmarshalYAML accepts "*", "self", a single role name or a list of names.
func (s *RoleSelector) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		if value.ShortTag() == "!!null" {
			*s = NullRole()
			return nil
		}
		*s = Roles(value.Value)
		return nil
	case yaml.SequenceNode:
		var names []string
		if err := value.Decode(&names); err != nil {
			return fmt.Errorf("line %d: role list must contain strings: %w", value.Line, err)
		}
		*s = Roles(names...)
		return nil
	default:
		return fmt.Errorf("line %d: role must be a string or a list of strings", value.Line)
	}
}

// MarshalYAML renders the selector in the form it is declared.
func (s RoleSelector) MarshalYAML() (interface{}, error) {
	return s.plain(), nil
}

// MarshalJSON renders the selector in the form it is declared.
func (s RoleSelector) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.plain())
}

func (s RoleSelector) plain() interface{} {
	switch s.kind {
	case SelectorAll:
		return RoleAll
	case SelectorSelf:
		return RoleSelf
	case SelectorNames:
		return s.names
	default:
		return nil
	}
}

// UnmarshalYAML decodes a template, accepting "roles" as an alias of "role"
// and keeping an explicit null role distinct from an absent one.
func (t *Template) UnmarshalYAML(value *yaml.Node) error {
	type plain Template
	var raw struct {
		plain `yaml:",inline"`
		Roles RoleSelector `yaml:"roles,omitempty"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	*t = Template(raw.plain)
	if t.Role.IsZero() {
		t.Role = raw.Roles
	}
	if isExplicitNull(value, "role") {
		t.Role = NullRole()
	}
	return nil
}

// UnmarshalYAML decodes a cross-dependency; "role: null" targets sync points.
func (d *CrossDependency) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		// shorthand: a bare task name depends on it on every machine
		d.Name = value.Value
		return nil
	}
	type plain CrossDependency
	var raw plain
	if err := value.Decode(&raw); err != nil {
		return err
	}
	*d = CrossDependency(raw)
	if isExplicitNull(value, "role") {
		d.Role = NullRole()
	}
	return nil
}

func isExplicitNull(mapping *yaml.Node, key string) bool {
	if mapping.Kind != yaml.MappingNode {
		return false
	}
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1].ShortTag() == "!!null"
		}
	}
	return false
}
