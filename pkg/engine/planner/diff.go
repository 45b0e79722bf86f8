package planner

import (
	"fmt"
	"sort"
	"strings"

	"github.com/davidthor/taskgraph/pkg/cluster"
	"github.com/davidthor/taskgraph/pkg/engine/serializer"
	"github.com/google/go-cmp/cmp"
)

// Action represents how a fragment changed between two plans.
type Action string

const (
	ActionCreate  Action = "create"
	ActionUpdate  Action = "update"
	ActionReplace Action = "replace"
	ActionDelete  Action = "delete"
	ActionNoop    Action = "noop"
)

// TaskChange describes the change of one fragment on one machine.
type TaskChange struct {
	NodeID cluster.NodeID
	TaskID string
	Action Action

	// Reason for the change
	Reason string

	// Property changes (for updates)
	PropertyChanges []PropertyChange
}

// PropertyChange describes a change to a property.
type PropertyChange struct {
	Path     string
	OldValue interface{}
	NewValue interface{}
}

// Diff compares a previously computed plan with a new one. Changes follow
// the machine order of the new plan and its fragment order; fragments that
// disappeared come last.
func Diff(previous, next *Plan) []*TaskChange {
	var prevNodes, nextNodes serializer.ExecutionPlan
	if previous != nil {
		prevNodes = previous.Nodes
	}
	if next != nil {
		nextNodes = next.Nodes
	}

	var changes []*TaskChange
	seen := make(map[cluster.NodeID]map[string]bool)
	for _, node := range nextNodes.NodeIDs() {
		seen[node] = make(map[string]bool)
		for _, t := range nextNodes[node] {
			seen[node][t.ID] = true
			changes = append(changes, diffTask(node, prevNodes.Task(node, t.ID), t))
		}
	}

	for _, node := range prevNodes.NodeIDs() {
		for _, t := range prevNodes[node] {
			if seen[node][t.ID] {
				continue
			}
			changes = append(changes, &TaskChange{
				NodeID: node,
				TaskID: t.ID,
				Action: ActionDelete,
				Reason: "fragment no longer planned",
			})
		}
	}
	return changes
}

// HasChanges reports whether any change is not a noop.
func HasChanges(changes []*TaskChange) bool {
	for _, c := range changes {
		if c.Action != ActionNoop {
			return true
		}
	}
	return false
}

func diffTask(node cluster.NodeID, old, cur *serializer.Task) *TaskChange {
	change := &TaskChange{NodeID: node, TaskID: cur.ID}

	if old == nil {
		change.Action = ActionCreate
		change.Reason = "fragment not in previous plan"
		return change
	}

	if old.Type != cur.Type {
		change.Action = ActionReplace
		change.Reason = fmt.Sprintf("type changed from %s to %s", old.Type, cur.Type)
		change.PropertyChanges = []PropertyChange{{Path: "type", OldValue: old.Type, NewValue: cur.Type}}
		return change
	}

	changes := compareParameters(old.Parameters, cur.Parameters)
	if old.FailOnError != cur.FailOnError {
		changes = append(changes, PropertyChange{Path: "fail_on_error", OldValue: old.FailOnError, NewValue: cur.FailOnError})
	}
	if !cmp.Equal(old.Requires, cur.Requires) {
		changes = append(changes, PropertyChange{Path: "requires", OldValue: formatEdges(old.Requires), NewValue: formatEdges(cur.Requires)})
	}
	if !cmp.Equal(old.RequiredFor, cur.RequiredFor) {
		changes = append(changes, PropertyChange{Path: "required_for", OldValue: formatEdges(old.RequiredFor), NewValue: formatEdges(cur.RequiredFor)})
	}

	if len(changes) > 0 {
		change.Action = ActionUpdate
		change.PropertyChanges = changes
		change.Reason = "fragment changed"
		return change
	}

	change.Action = ActionNoop
	change.Reason = "fragment is unchanged"
	return change
}

// compareParameters compares parameter maps key by key, in key order.
func compareParameters(old, cur map[string]interface{}) []PropertyChange {
	keys := make(map[string]bool, len(old)+len(cur))
	for k := range old {
		keys[k] = true
	}
	for k := range cur {
		keys[k] = true
	}
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	var changes []PropertyChange
	for _, key := range sorted {
		oldVal, inOld := old[key]
		curVal, inCur := cur[key]
		if inOld && inCur && cmp.Equal(oldVal, curVal) {
			continue
		}
		changes = append(changes, PropertyChange{
			Path:     "parameters." + key,
			OldValue: oldVal,
			NewValue: curVal,
		})
	}
	return changes
}

func formatEdges(edges []serializer.Edge) string {
	parts := make([]string, len(edges))
	for i, e := range edges {
		parts[i] = e.Name + "@" + e.NodeID.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// FormatChanges formats property changes as a string.
func FormatChanges(changes []PropertyChange) string {
	if len(changes) == 0 {
		return "no changes"
	}

	var b strings.Builder
	for _, c := range changes {
		fmt.Fprintf(&b, "  %s: %v -> %v\n", c.Path, c.OldValue, c.NewValue)
	}
	return b.String()
}
