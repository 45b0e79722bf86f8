package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/davidthor/taskgraph/pkg/catalog"
	"github.com/davidthor/taskgraph/pkg/errors"
)

// Validator checks a raw catalog before a graph is built from it.
type Validator struct {
	templates []*catalog.Template
	patterns  *catalog.PatternTable
}

// NewValidator creates a validator for the given catalog.
func NewValidator(templates []*catalog.Template) *Validator {
	return &Validator{templates: templates, patterns: catalog.NewPatternTable()}
}

// Check fails with INVALID_DATA when the catalog declares an id twice,
// references an unknown id, or contains a dependency cycle.
func (v *Validator) Check() error {
	if err := v.checkDuplicates(); err != nil {
		return err
	}
	if err := v.checkReferences(); err != nil {
		return err
	}
	if _, err := NewFromTemplates(v.templates).TopologicalSort(); err != nil {
		return err
	}
	return nil
}

func (v *Validator) checkDuplicates() error {
	seen := make(map[string]bool, len(v.templates))
	var dups []string
	for _, t := range v.templates {
		if seen[t.ID] {
			dups = append(dups, t.ID)
		}
		seen[t.ID] = true
	}
	if len(dups) > 0 {
		return errors.InvalidData(
			fmt.Sprintf("tasks declared more than once: %s", strings.Join(dups, ", ")),
			map[string]interface{}{"tasks": dups})
	}
	return nil
}

// checkReferences collects every unresolved reference before failing, so a
// single error names all of them.
func (v *Validator) checkReferences() error {
	var groups []string
	known := make(map[string]bool, len(v.templates))
	for _, t := range v.templates {
		known[t.ID] = true
		if t.IsGroup() {
			groups = append(groups, t.ID)
		}
	}
	isGroup := make(map[string]bool, len(groups))
	for _, id := range groups {
		isGroup[id] = true
	}

	missing := make(map[string]map[string]bool) // reference -> owners
	report := func(ref, owner string) {
		if missing[ref] == nil {
			missing[ref] = make(map[string]bool)
		}
		missing[ref][owner] = true
	}

	for _, t := range v.templates {
		deps := append(append([]string(nil), t.Requires...), t.RequiredFor...)
		if t.IsGroup() {
			deps = append(deps, t.Tasks...)
		}
		for _, ref := range deps {
			if catalog.IsPattern(ref) {
				// a pattern dependency is optional but must compile
				if v.patterns.Err(ref) != nil {
					report(ref, t.ID)
				}
				continue
			}
			if !known[ref] {
				report(ref, t.ID)
			}
		}
		for _, ref := range t.Groups {
			if catalog.IsPattern(ref) {
				if len(v.patterns.MatchAny(ref, groups)) == 0 {
					report(ref, t.ID)
				}
				continue
			}
			if !isGroup[ref] {
				report(ref, t.ID)
			}
		}
	}

	if len(missing) == 0 {
		return nil
	}

	refs := make([]string, 0, len(missing))
	ownersByRef := make(map[string][]string, len(missing))
	ownerSet := make(map[string]bool)
	for ref, owners := range missing {
		refs = append(refs, ref)
		for o := range owners {
			ownersByRef[ref] = append(ownersByRef[ref], o)
			ownerSet[o] = true
		}
		sort.Strings(ownersByRef[ref])
	}
	sort.Strings(refs)
	owners := make([]string, 0, len(ownerSet))
	for o := range ownerSet {
		owners = append(owners, o)
	}
	sort.Strings(owners)

	return errors.InvalidData(
		fmt.Sprintf("tasks '%s' referenced by '%s' are not present in the catalog",
			strings.Join(refs, ", "), strings.Join(owners, ", ")),
		map[string]interface{}{
			"missing": refs,
			"owners":  ownersByRef,
		})
}
