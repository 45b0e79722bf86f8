package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCatalog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tasks.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestValidateCmd(t *testing.T) {
	resetViper(t)

	stdout, _, err := execute(t, newValidateCmd(), testCatalog)
	require.NoError(t, err)
	assert.Equal(t, "Catalog is valid (5 tasks)\n", stdout)
}

func TestValidateCmd_WithTopology(t *testing.T) {
	resetViper(t)

	stdout, _, err := execute(t, newValidateCmd(), testCatalog, "--topology", testCluster)
	require.NoError(t, err)
	assert.Equal(t, "Catalog is valid (5 tasks)\n", stdout)

	stdout, _, err = execute(t, newValidateCmd(), "--topology", testLegacy)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(stdout, "Catalog is valid ("))
}

func TestValidateCmd_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		catalog string
		want    []string
	}{
		{
			name: "missing reference",
			catalog: `
- id: a
  type: puppet
  requires: [nope]
`,
			want: []string{"INVALID_DATA", "Details:", "missing: nope", "owners: nope (a)"},
		},
		{
			name: "duplicate id",
			catalog: `
- id: a
  type: puppet
- id: a
  type: shell
`,
			want: []string{"INVALID_DATA", "tasks: a"},
		},
		{
			name: "cycle",
			catalog: `
- id: a
  type: puppet
  requires: [b]
- id: b
  type: puppet
  requires: [a]
`,
			want: []string{"INVALID_DATA"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetViper(t)
			_, _, err := execute(t, newValidateCmd(), writeCatalog(t, tt.catalog))
			require.Error(t, err)
			for _, w := range tt.want {
				assert.Contains(t, err.Error(), w)
			}
		})
	}
}

func TestValidateCmd_NoInput(t *testing.T) {
	resetViper(t)

	_, _, err := execute(t, newValidateCmd())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a catalog path or --topology is required")
}
