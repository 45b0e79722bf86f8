package cluster

import (
	"sort"

	"github.com/davidthor/taskgraph/pkg/catalog"
)

// RoleResolver maps a role selector and policy to machine ids.
type RoleResolver interface {
	// Resolve returns the sorted ids of the machines matching sel. Unset
	// and self selectors resolve to nothing; callers that give them a
	// meaning handle them before asking the resolver.
	Resolve(sel catalog.RoleSelector, policy catalog.Policy) []NodeID
}

type roleResolver struct {
	roles    []string
	byRole   map[string][]NodeID
	all      []NodeID
	patterns *catalog.PatternTable
}

// NewRoleResolver creates a resolver over the given machines. The "master"
// role always resolves to MasterNode.
func NewRoleResolver(nodes []*Node) RoleResolver {
	r := &roleResolver{
		byRole:   make(map[string][]NodeID),
		patterns: catalog.NewPatternTable(),
	}
	for _, n := range nodes {
		r.all = append(r.all, n.UID)
		for _, role := range n.Roles {
			if _, ok := r.byRole[role]; !ok {
				r.roles = append(r.roles, role)
			}
			r.byRole[role] = append(r.byRole[role], n.UID)
		}
	}
	sort.Strings(r.roles)
	SortIDs(r.all)
	return r
}

func (r *roleResolver) Resolve(sel catalog.RoleSelector, policy catalog.Policy) []NodeID {
	var result []NodeID
	switch sel.Kind() {
	case catalog.SelectorNull:
		result = []NodeID{NullNode}
	case catalog.SelectorAll:
		result = append([]NodeID(nil), r.all...)
	case catalog.SelectorNames:
		seen := make(map[NodeID]bool)
		for _, name := range sel.Names() {
			if name == catalog.RoleMaster {
				seen[MasterNode] = true
				continue
			}
			for _, role := range r.patterns.MatchAny(name, r.roles) {
				for _, id := range r.byRole[role] {
					seen[id] = true
				}
			}
		}
		for id := range seen {
			result = append(result, id)
		}
		SortIDs(result)
	default:
		return nil
	}
	return applyPolicy(result, policy)
}

func applyPolicy(ids []NodeID, policy catalog.Policy) []NodeID {
	if policy == catalog.PolicyAny && len(ids) > 1 {
		return ids[:1]
	}
	return ids
}

// NullResolver returns a fixed machine set whatever the selector. It
// isolates graph and serializer logic from topology lookup.
type NullResolver struct {
	ids []NodeID
}

// NewNullResolver creates a resolver that always returns ids.
func NewNullResolver(ids ...NodeID) *NullResolver {
	return &NullResolver{ids: append([]NodeID(nil), ids...)}
}

func (r *NullResolver) Resolve(catalog.RoleSelector, catalog.Policy) []NodeID {
	return append([]NodeID(nil), r.ids...)
}
