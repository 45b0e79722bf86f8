package visual

import (
	"strings"
	"testing"

	"github.com/davidthor/taskgraph/pkg/catalog"
	"github.com/davidthor/taskgraph/pkg/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTestGraph() *graph.DeploymentGraph {
	return graph.NewFromTemplates([]*catalog.Template{
		{ID: "deploy_start", Type: catalog.TypeStage},
		{ID: "a", Type: catalog.TypePuppet, Requires: []string{"deploy_start"}},
		{ID: "b", Type: catalog.TypeShell, Requires: []string{"a"}},
	})
}

func buildGroupedGraph() *graph.DeploymentGraph {
	return graph.NewFromTemplates([]*catalog.Template{
		{ID: "g", Type: catalog.TypeGroup, Tasks: []string{"a", "b"}},
		{ID: "a", Type: catalog.TypePuppet},
		{ID: "b", Type: catalog.TypePuppet, Requires: []string{"a"}},
		{ID: "c", Type: catalog.TypePuppet, Requires: []string{"g"}},
	})
}

func TestRenderMermaid_NilGraph(t *testing.T) {
	_, err := RenderMermaid(nil, MermaidOptions{})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "nil")
}

func TestRenderMermaid_EmptyGraph(t *testing.T) {
	result, err := RenderMermaid(graph.New(), MermaidOptions{})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(result, "flowchart TD\n"))
}

func TestRenderMermaid_Flat(t *testing.T) {
	result, err := RenderMermaid(buildTestGraph(), MermaidOptions{})
	require.NoError(t, err)

	expected := `flowchart TD
    t_deploy_start(["deploy_start"])
    t_a["a (puppet)"]
    t_b["b (shell)"]

    t_deploy_start --> t_a
    t_a --> t_b
`
	assert.Equal(t, expected, result)
}

func TestRenderMermaid_Grouped(t *testing.T) {
	result, err := RenderMermaid(buildGroupedGraph(), MermaidOptions{GroupByGroup: true})
	require.NoError(t, err)

	expected := `flowchart TD
    subgraph sg_g ["g"]
        t_a["a (puppet)"]
        t_b["b (puppet)"]
    end
    t_c["c (puppet)"]

    t_a --> t_b
    sg_g --> t_c
`
	assert.Equal(t, expected, result)
}

func TestRenderMermaid_TitleAndDirection(t *testing.T) {
	result, err := RenderMermaid(buildTestGraph(), MermaidOptions{Title: "Release 9.0", Direction: "LR"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(result, "---\ntitle: Release 9.0\n---\nflowchart LR\n"))
}

func TestRenderMermaid_Skipped(t *testing.T) {
	g := buildTestGraph()
	g.OnlyTasks([]string{"a"})

	result, err := RenderMermaid(g, MermaidOptions{})
	require.NoError(t, err)
	assert.Contains(t, result, "classDef skipped")
	assert.Contains(t, result, "    class t_deploy_start,t_b skipped\n")

	hidden, err := RenderMermaid(g, MermaidOptions{HideSkipped: true})
	require.NoError(t, err)
	assert.NotContains(t, hidden, "t_b")
	assert.NotContains(t, hidden, "classDef")
	assert.Contains(t, hidden, `t_a["a (puppet)"]`)
}

func TestRenderMermaid_Cycle(t *testing.T) {
	g := graph.NewFromTemplates([]*catalog.Template{
		{ID: "a", Type: catalog.TypePuppet, Requires: []string{"b"}},
		{ID: "b", Type: catalog.TypePuppet, Requires: []string{"a"}},
	})
	_, err := RenderMermaid(g, MermaidOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to sort graph")
}

func TestSanitizeMermaidID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"deploy_start", "t_deploy_start"},
		{"end", "t_end"},
		{"nova-compute", "t_nova__compute"},
		{"ceph.osd", "t_ceph_2e_osd"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizeMermaidID("t", tt.in), tt.in)
	}
}

func TestEscapeMermaidLabel(t *testing.T) {
	assert.Equal(t, "say #quot;hi#quot;", escapeMermaidLabel(`say "hi"`))
}
