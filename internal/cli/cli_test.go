package cli

import (
	"bytes"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	testCatalog  = "../../testdata/release/tasks.yaml"
	testCluster  = "../../testdata/clusters/cluster-42.yaml"
	testCluster2 = "../../testdata/clusters/cluster-43.yaml"
	testLegacy   = "../../testdata/clusters/legacy.yaml"
)

// execute runs a command tree with the given arguments and captures its output.
func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// resetViper isolates a test from global configuration.
func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
}

// useLocalStore points the plan store at a temp directory.
func useLocalStore(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	viper.Set(ConfigKeyStore, "local")
	viper.Set(ConfigKeyStoreConfig, map[string]string{"path": dir})
	return dir
}
