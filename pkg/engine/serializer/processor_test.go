package serializer

import (
	"testing"

	"github.com/davidthor/taskgraph/pkg/catalog"
	"github.com/davidthor/taskgraph/pkg/cluster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func steps(uids ...[]cluster.NodeID) []Step {
	out := make([]Step, len(uids))
	for i, u := range uids {
		out[i] = Step{UIDs: u, Type: catalog.TypeShell, FailOnError: true}
	}
	return out
}

func ids(in ...string) []cluster.NodeID {
	out := make([]cluster.NodeID, len(in))
	for i, s := range in {
		out[i] = cluster.NodeID(s)
	}
	return out
}

func TestProcessTasks_SingleStepKeepsDependencies(t *testing.T) {
	tpl := task("T", catalog.TypeShell, catalog.Roles("r1"))
	tpl.Requires = []string{"a"}
	tpl.RequiredFor = []string{"b"}
	tpl.CrossDepends = []catalog.CrossDependency{{Name: "c"}}
	tpl.CrossDependedBy = []catalog.CrossDependency{{Name: "d"}}

	p := NewTaskProcessor()
	frags := p.ProcessTasks(tpl, steps(ids("1", "2")))

	require.Len(t, frags, 1)
	f := frags[0]
	assert.Equal(t, "T", f.ID)
	assert.Equal(t, []string{"a"}, f.Requires)
	assert.Equal(t, []string{"b"}, f.RequiredFor)
	require.Len(t, f.CrossDepends, 1)
	assert.Equal(t, "c", f.CrossDepends[0].Name)
	require.Len(t, f.CrossDependedBy, 1)
	assert.Equal(t, "d", f.CrossDependedBy[0].Name)
	assert.Equal(t, Unchained, p.Position("T"))

	origin, ok := p.Origin("T")
	assert.True(t, ok)
	assert.Equal(t, "T", origin)
}

func TestProcessTasks_Chain(t *testing.T) {
	tpl := task("T", catalog.TypeShell, catalog.Roles("r1"))
	tpl.Requires = []string{"a"}
	tpl.RequiredFor = []string{"b"}

	p := NewTaskProcessor()
	frags := p.ProcessTasks(tpl, steps(ids("1"), ids("1"), ids("2"), ids("2")))

	require.Len(t, frags, 4)
	assert.Equal(t, []string{"T_start", "T#1", "T#2", "T_end"},
		[]string{frags[0].ID, frags[1].ID, frags[2].ID, frags[3].ID})

	assert.Equal(t, []string{"a"}, frags[0].Requires)
	assert.Empty(t, frags[0].RequiredFor)

	// Same machines: a plain requires on the predecessor.
	assert.Equal(t, []string{"T_start"}, frags[1].Requires)
	assert.Empty(t, frags[1].CrossDepends)

	// Different machines: an explicit cross link.
	assert.Empty(t, frags[2].Requires)
	require.Len(t, frags[2].CrossDepends, 1)
	assert.Equal(t, "T#1", frags[2].CrossDepends[0].Name)
	assert.Equal(t, ids("1"), frags[2].CrossDepends[0].nodes)

	assert.Equal(t, []string{"T#2"}, frags[3].Requires)
	assert.Equal(t, []string{"b"}, frags[3].RequiredFor)

	assert.Equal(t, ChainStart, p.Position("T_start"))
	assert.Equal(t, ChainMiddle, p.Position("T#2"))
	assert.Equal(t, ChainEnd, p.Position("T_end"))
	origin, _ := p.Origin("T#2")
	assert.Equal(t, "T", origin)
}

func TestProcessTasks_Idempotent(t *testing.T) {
	tpl := task("T", catalog.TypeShell, catalog.Roles("r1"))
	tpl.Requires = []string{"a"}

	p := NewTaskProcessor()
	first := p.ProcessTasks(tpl, steps(ids("1"), ids("1"), ids("1")))
	second := p.ProcessTasks(tpl, steps(ids("1"), ids("1"), ids("1")))

	assert.Equal(t, first, second)
	assert.Empty(t, p.ProcessTasks(tpl, nil))
}

func TestProcessTasks_DoesNotMutateTemplate(t *testing.T) {
	tpl := task("T", catalog.TypeShell, catalog.Roles("r1"))
	tpl.Requires = []string{"a"}

	p := NewTaskProcessor()
	p.ProcessTasks(tpl, steps(ids("1"), ids("1")))
	p.ProcessTasks(tpl, steps(ids("1")))

	assert.Equal(t, []string{"a"}, tpl.Requires)
}

func TestChainPositionString(t *testing.T) {
	assert.Equal(t, "unchained", Unchained.String())
	assert.Equal(t, "start", ChainStart.String())
	assert.Equal(t, "middle", ChainMiddle.String())
	assert.Equal(t, "end", ChainEnd.String())
}
