package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/davidthor/taskgraph/pkg/cluster"
	"github.com/davidthor/taskgraph/pkg/engine/planner"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanCmd_JSON(t *testing.T) {
	resetViper(t)

	stdout, _, err := execute(t, newPlanCmd(), "-c", testCatalog, "-t", testCluster, "-o", "json")
	require.NoError(t, err)

	var plan planner.Plan
	require.NoError(t, json.Unmarshal([]byte(stdout), &plan))
	assert.Equal(t, "42", plan.ClusterID)
	assert.NotEmpty(t, plan.ID)
	assert.Equal(t, 4, plan.Summary.Work)
	assert.Equal(t, 2, plan.Summary.Skipped)
	assert.Equal(t, []cluster.NodeID{cluster.NullNode, "1", "2"}, plan.Nodes.NodeIDs())

	nova := plan.Nodes.Task("2", "nova-compute")
	require.NotNil(t, nova)
	assert.Equal(t, "keystone", nova.Requires[0].Name)
	assert.Equal(t, cluster.NodeID("1"), nova.Requires[0].NodeID)
}

func TestPlanCmd_Deterministic(t *testing.T) {
	resetViper(t)

	first, _, err := execute(t, newPlanCmd(), "-c", testCatalog, "-t", testCluster, "-o", "json")
	require.NoError(t, err)
	second, _, err := execute(t, newPlanCmd(), "-c", testCatalog, "-t", testCluster, "-o", "json")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestPlanCmd_SeveralClusters(t *testing.T) {
	resetViper(t)

	stdout, _, err := execute(t, newPlanCmd(),
		"-c", testCatalog, "-t", testCluster, "-t", testCluster2, "-o", "json", "--concurrency", "2")
	require.NoError(t, err)

	var plans []planner.Plan
	require.NoError(t, json.Unmarshal([]byte(stdout), &plans))
	require.Len(t, plans, 2)
	assert.Equal(t, "42", plans[0].ClusterID)
	assert.Equal(t, "43", plans[1].ClusterID)
	assert.Equal(t, 6, plans[1].Summary.Work)
	assert.NotEqual(t, plans[0].ID, plans[1].ID)
}

func TestPlanCmd_DuplicateCluster(t *testing.T) {
	resetViper(t)

	_, _, err := execute(t, newPlanCmd(), "-c", testCatalog, "-t", testCluster, "-t", testCluster)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cluster 42 is defined in both")
}

func TestPlanCmd_Table(t *testing.T) {
	resetViper(t)

	stdout, _, err := execute(t, newPlanCmd(), "-c", testCatalog, "-t", testCluster)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(stdout, "Cluster 42  plan "))
	assert.Contains(t, stdout, "NODE  TASK")
	assert.Contains(t, stdout, "nova-compute")
	assert.Contains(t, stdout, "keystone@1, hiera@2")
	assert.Contains(t, stdout, "4 to run, 2 skipped")
}

func TestPlanCmd_TableHideSkipped(t *testing.T) {
	resetViper(t)

	stdout, _, err := execute(t, newPlanCmd(), "-c", testCatalog, "-t", testCluster, "--hide-skipped")
	require.NoError(t, err)
	assert.NotContains(t, stdout, "deploy_start  skipped")
	assert.Contains(t, stdout, "hiera")
}

func TestPlanCmd_DefaultFormatFromConfig(t *testing.T) {
	resetViper(t)
	viper.Set(ConfigKeyDefaultFormat, "yaml")

	stdout, _, err := execute(t, newPlanCmd(), "-c", testCatalog, "-t", testCluster)
	require.NoError(t, err)
	assert.Contains(t, stdout, "cluster_id: \"42\"")
}

func TestPlanCmd_Mermaid(t *testing.T) {
	resetViper(t)

	stdout, _, err := execute(t, newPlanCmd(), "-c", testCatalog, "-t", testCluster, "-o", "mermaid")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(stdout, "---\ntitle: cluster 42\n---\nflowchart LR\n"))
	assert.Contains(t, stdout, `subgraph m_2 ["node 2"]`)
	assert.Contains(t, stdout, "f_1_2f_keystone -.-> f_2_2f_nova__compute")
}

func TestPlanCmd_OnlyTasks(t *testing.T) {
	resetViper(t)

	stdout, _, err := execute(t, newPlanCmd(), "-c", testCatalog, "-t", testCluster, "--task", "keystone", "-o", "json")
	require.NoError(t, err)

	var plan planner.Plan
	require.NoError(t, json.Unmarshal([]byte(stdout), &plan))
	assert.Equal(t, 1, plan.Summary.Work)
	assert.Equal(t, []string{"keystone"}, plan.TaskIDs)
}

func TestPlanCmd_Events(t *testing.T) {
	resetViper(t)

	stdout, _, err := execute(t, newPlanCmd(),
		"-c", testCatalog, "-t", testCluster, "--node", "1", "--event", "deploy_changes", "-o", "json")
	require.NoError(t, err)

	var plan planner.Plan
	require.NoError(t, json.Unmarshal([]byte(stdout), &plan))
	assert.False(t, plan.Nodes.Task("2", "nova-compute").IsSkipped())
	assert.True(t, plan.Nodes.Task("2", "hiera").IsSkipped())
}

func TestPlanCmd_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want []string
	}{
		{
			name: "unknown task",
			args: []string{"-c", testCatalog, "-t", testCluster, "--task", "missing"},
			want: []string{"cluster 42", "INVALID_DATA", "missing: missing"},
		},
		{
			name: "legacy release",
			args: []string{"-t", testLegacy},
			want: []string{"cluster 7", "TASK_BASED_DEPLOYMENT_NOT_ALLOWED", "tasks:"},
		},
		{
			name: "unknown format",
			args: []string{"-c", testCatalog, "-t", testCluster, "-o", "xml"},
			want: []string{`unsupported output format "xml"`},
		},
		{
			name: "missing topology file",
			args: []string{"-c", testCatalog, "-t", "does-not-exist.yaml"},
			want: []string{"failed to load topology"},
		},
		{
			name: "no topology",
			args: []string{"-c", testCatalog},
			want: []string{`required flag(s) "topology" not set`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetViper(t)
			_, _, err := execute(t, newPlanCmd(), tt.args...)
			require.Error(t, err)
			for _, w := range tt.want {
				assert.Contains(t, err.Error(), w)
			}
		})
	}
}

func TestPlanCmd_Save(t *testing.T) {
	resetViper(t)
	useLocalStore(t)

	stdout, stderr, err := execute(t, newPlanCmd(), "-c", testCatalog, "-t", testCluster, "-o", "json", "--save")
	require.NoError(t, err)

	var plan planner.Plan
	require.NoError(t, json.Unmarshal([]byte(stdout), &plan))
	assert.Equal(t, "Saved plan "+plan.ID+" for cluster 42\n", stderr)

	_, stderr, err = execute(t, newPlanCmd(), "-c", testCatalog, "-t", testCluster, "-o", "json", "--save")
	require.NoError(t, err)
	assert.Contains(t, stderr, "is already saved")
}

func TestFormatEdgeList(t *testing.T) {
	assert.Equal(t, "-", formatEdgeList(nil))
}

// useFakeMermaidCLI points mermaid_cli at a script that copies the Mermaid
// input to the output file, so PNG output can be checked as text.
func useFakeMermaidCLI(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script stand-in needs a POSIX shell")
	}
	script := filepath.Join(t.TempDir(), "mmdc")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\ncp \"$2\" \"$4\"\n"), 0755))
	viper.Set(ConfigKeyMermaidCLI, script)
}

func TestPlanCmd_Image(t *testing.T) {
	resetViper(t)
	useFakeMermaidCLI(t)
	dir := t.TempDir()

	tests := []struct {
		name      string
		args      []string
		wantFiles []string
	}{
		{
			name:      "one cluster",
			args:      []string{"-t", testCluster, "--image", filepath.Join(dir, "one.png")},
			wantFiles: []string{"one.png"},
		},
		{
			name:      "several clusters",
			args:      []string{"-t", testCluster, "-t", testCluster2, "--image", filepath.Join(dir, "many.png")},
			wantFiles: []string{"many-42.png", "many-43.png"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, stderr, err := execute(t, newPlanCmd(), append([]string{"-c", testCatalog, "-o", "json"}, tt.args...)...)
			require.NoError(t, err)

			for _, name := range tt.wantFiles {
				data, err := os.ReadFile(filepath.Join(dir, name))
				require.NoError(t, err)
				assert.Contains(t, string(data), "flowchart")
				assert.Contains(t, stderr, "Wrote "+filepath.Join(dir, name))
			}
		})
	}
}

func TestPlanCmd_ImageMissingCLI(t *testing.T) {
	resetViper(t)
	viper.Set(ConfigKeyMermaidCLI, filepath.Join(t.TempDir(), "missing-mmdc"))

	_, _, err := execute(t, newPlanCmd(), "-c", testCatalog, "-t", testCluster, "--image", filepath.Join(t.TempDir(), "p.png"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cluster 42")
	assert.Contains(t, err.Error(), "not installed")
}

func TestPlanImagePath(t *testing.T) {
	tests := []struct {
		path    string
		cluster string
		want    string
	}{
		{path: "plan.png", cluster: "42", want: "plan-42.png"},
		{path: "out/plan", cluster: "7", want: "out/plan-7"},
		{path: "a.b/plan.png", cluster: "1", want: "a.b/plan-1.png"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, planImagePath(tt.path, tt.cluster))
	}
}
