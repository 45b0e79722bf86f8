package graph

import (
	"strings"
	"testing"

	"github.com/davidthor/taskgraph/pkg/catalog"
	"github.com/davidthor/taskgraph/pkg/errors"
)

func task(id string, requires ...string) *catalog.Template {
	return &catalog.Template{ID: id, Type: catalog.TypePuppet, Version: "2.0.0", Requires: requires}
}

func group(id string, requires ...string) *catalog.Template {
	return &catalog.Template{ID: id, Type: catalog.TypeGroup, Role: catalog.Roles(id), Requires: requires}
}

func inGroups(t *catalog.Template, groups ...string) *catalog.Template {
	t.Groups = groups
	return t
}

func ids(nodes []*Node) string {
	parts := make([]string, len(nodes))
	for i, n := range nodes {
		parts[i] = n.ID
	}
	return strings.Join(parts, ",")
}

func templateIDs(templates []*catalog.Template) string {
	parts := make([]string, len(templates))
	for i, t := range templates {
		parts[i] = t.ID
	}
	return strings.Join(parts, ",")
}

func TestTopology_StableDiamond(t *testing.T) {
	g := NewFromTemplates([]*catalog.Template{
		task("d", "b", "c"),
		task("c", "a"),
		task("b", "a"),
		task("a"),
	})

	for i := 0; i < 5; i++ {
		topo, err := g.Topology()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := templateIDs(topo); got != "a,c,b,d" {
			t.Fatalf("run %d: expected a,c,b,d, got %s", i, got)
		}
	}
}

func TestTopology_UnconstrainedKeepsDeclarationOrder(t *testing.T) {
	g := NewFromTemplates([]*catalog.Template{task("z"), task("m"), task("a"), task("b", "z")})

	topo, err := g.Topology()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := templateIDs(topo); got != "z,m,a,b" {
		t.Errorf("expected z,m,a,b, got %s", got)
	}
}

func TestTopology_RequiredFor(t *testing.T) {
	a := task("a")
	a.RequiredFor = []string{"c"}
	g := NewFromTemplates([]*catalog.Template{task("c"), task("b"), a})

	topo, err := g.Topology()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := templateIDs(topo); got != "b,a,c" {
		t.Errorf("expected b,a,c, got %s", got)
	}
}

func TestTopology_Cycle(t *testing.T) {
	g := NewFromTemplates([]*catalog.Template{task("a", "b"), task("b", "a"), task("c")})

	_, err := g.TopologicalSort()
	if err == nil {
		t.Fatal("expected cycle error")
	}
	if !errors.Is(err, errors.ErrCodeInvalidData) {
		t.Errorf("expected INVALID_DATA, got %v", err)
	}
	if !strings.Contains(err.Error(), "a -> b -> a") {
		t.Errorf("expected cycle path in error, got %v", err)
	}
	if g.IsAcyclic() {
		t.Error("expected graph to be cyclic")
	}
}

func TestGetGroupTasks_RegexMembership(t *testing.T) {
	g := NewFromTemplates([]*catalog.Template{
		group("primary-controller"),
		group("controller", "primary-controller"),
		group("compute", "controller"),
		inGroups(task("globals", "hiera"), "/(primary-)?controller/", "compute"),
		inGroups(task("hiera"), "/(primary-)?controller/", "compute"),
		inGroups(task("ceph"), "controller"),
	})

	if got := ids(g.GetGroupTasks("primary-controller")); got != "hiera,globals" {
		t.Errorf("primary-controller: expected hiera,globals, got %s", got)
	}
	if got := ids(g.GetGroupTasks("controller")); got != "hiera,globals,ceph" {
		t.Errorf("controller: expected hiera,globals,ceph, got %s", got)
	}
	if got := ids(g.GetGroupTasks("compute")); got != "hiera,globals" {
		t.Errorf("compute: expected hiera,globals, got %s", got)
	}
	if got := g.GetGroupTasks("missing"); got != nil {
		t.Errorf("expected nil for unknown group, got %v", got)
	}
}

func TestGetGroupTasks_ExplicitMembers(t *testing.T) {
	ctrl := group("controller")
	ctrl.Tasks = []string{"b", "a"}
	g := NewFromTemplates([]*catalog.Template{ctrl, task("a"), task("b", "a")})

	if got := ids(g.GetGroupTasks("controller")); got != "a,b" {
		t.Errorf("expected a,b, got %s", got)
	}
	topo, _ := g.Topology()
	if got := templateIDs(topo); got != "a,b,controller" {
		t.Errorf("members must precede their group, got %s", got)
	}
}

func TestGetGroupsSubgraph(t *testing.T) {
	g := NewFromTemplates([]*catalog.Template{
		group("d", "c"),
		group("b", "a"),
		group("c", "b"),
		group("a"),
		task("bridge", "a"),
		group("e", "bridge"),
	})

	sub := g.GetGroupsSubgraph()
	if sub.Len() != 5 {
		t.Fatalf("expected 5 groups, got %d", sub.Len())
	}
	if sub.Node("bridge") != nil {
		t.Error("non-group nodes must not be in the groups subgraph")
	}
	topo, err := sub.TopologicalSort()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := ids(topo); got != "a,b,c,d,e" {
		t.Errorf("expected a,b,c,d,e, got %s", got)
	}
	if deps := sub.Node("e").DependsOn; len(deps) != 1 || deps[0] != "a" {
		t.Errorf("expected e to depend on a through bridge, got %v", deps)
	}
}

func TestOnlyTasks_PreservesOrder(t *testing.T) {
	g := NewFromTemplates([]*catalog.Template{
		group("g"),
		inGroups(task("a"), "g"),
		inGroups(task("b", "a"), "g"),
		inGroups(task("c", "b"), "g"),
	})

	g.OnlyTasks([]string{"a", "c"})

	tasks := g.GetGroupTasks("g")
	if got := ids(tasks); got != "a,b,c" {
		t.Fatalf("expected a,b,c, got %s", got)
	}
	if tasks[0].IsSkipped() || !tasks[1].IsSkipped() || tasks[2].IsSkipped() {
		t.Errorf("expected only b to be skipped")
	}
	if got := ids(Executable(tasks)); got != "a,c" {
		t.Errorf("expected executable a,c, got %s", got)
	}
	if len(g.Node("c").DependsOn) != 1 {
		t.Error("edges must be kept")
	}
}

func TestOnlyTasks_Diamond(t *testing.T) {
	g := NewFromTemplates([]*catalog.Template{
		group("g"),
		inGroups(task("task_a"), "g"),
		inGroups(task("task_b", "task_a"), "g"),
		inGroups(task("task_c", "task_a"), "g"),
		inGroups(task("task_d", "task_b", "task_c"), "g"),
	})

	g.OnlyTasks([]string{"task_a", "task_d"})

	if got := ids(g.GetGroupTasks("g")); got != "task_a,task_b,task_c,task_d" {
		t.Errorf("expected all tasks in position, got %s", got)
	}
	if got := ids(Executable(g.GetGroupTasks("g"))); got != "task_a,task_d" {
		t.Errorf("expected task_a,task_d, got %s", got)
	}
}

func TestFindSubgraph(t *testing.T) {
	build := func() *DeploymentGraph {
		return NewFromTemplates([]*catalog.Template{
			task("a"), task("b", "a"), task("c", "b"), task("x"), task("y", "x", "b"),
		})
	}

	tests := []struct {
		name       string
		start, end string
		want       string
	}{
		{"end only", "", "c", "a,b,c"},
		{"start only", "b", "", "b,c,y"},
		{"both", "a", "b", "a,b"},
		{"both disjoint", "x", "c", ""},
		{"neither", "", "", "a,b,c,x,y"},
		{"ancestors across branches", "", "y", "a,b,x,y"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub, err := build().FindSubgraph(tt.start, tt.end)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			topo, err := sub.Topology()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := templateIDs(topo); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}

	if _, err := build().FindSubgraph("nope", ""); !errors.Is(err, errors.ErrCodeNotFound) {
		t.Errorf("expected NOT_FOUND for unknown start, got %v", err)
	}
}

func TestFilterSubgraph(t *testing.T) {
	g := NewFromTemplates([]*catalog.Template{task("a"), task("b", "a"), task("c", "b")})
	g.Node("b").Template.Skipped = true

	sub, err := g.FilterSubgraph("", "c", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	topo, _ := sub.Topology()
	if got := templateIDs(topo); got != "a,c" {
		t.Errorf("expected a,c, got %s", got)
	}

	sub, err = g.FilterSubgraph("", "c", []string{"b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	topo, _ = sub.Topology()
	if got := templateIDs(topo); got != "a,b,c" {
		t.Errorf("expected a,b,c, got %s", got)
	}
}

func TestAddTasks_ReplacesInPlace(t *testing.T) {
	g := NewFromTemplates([]*catalog.Template{task("a"), task("b")})
	g.AddTasks([]*catalog.Template{task("a", "b"), task("c")})

	if g.Len() != 3 {
		t.Fatalf("expected 3 nodes, got %d", g.Len())
	}
	topo, err := g.Topology()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := templateIDs(topo); got != "b,a,c" {
		t.Errorf("expected b,a,c, got %s", got)
	}
}
