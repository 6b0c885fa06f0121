package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracekit-labs/querygraph/internal/column"
	"github.com/tracekit-labs/querygraph/internal/graph"
	"github.com/tracekit-labs/querygraph/internal/node"
	"github.com/tracekit-labs/querygraph/internal/sq"
)

func buildSample(t *testing.T) *graph.Graph {
	t.Helper()
	gen := node.NewCounter("n")
	g := graph.New()

	slice := node.NewTable(gen, "slice", "slices.with_context", []column.Info{
		column.New("id", column.TypeLong),
		column.New("ts", column.TypeTimestamp),
		column.New("dur", column.TypeDuration),
		column.New("name", column.TypeString),
	})
	thread := node.NewTable(gen, "thread", "", []column.Info{
		column.New("utid", column.TypeLong),
		column.New("name", column.TypeString),
	})

	addCols := node.NewAddColumns(gen, slice)
	addCols.Secondary.Set(0, thread)
	addCols.LeftColumn, addCols.RightColumn = "id", "utid"
	addCols.SelectedColumns = []string{"name"}
	addCols.Aliases = map[string]string{"name": "thread_name"}

	sorted := node.NewModify(gen, addCols)
	sorted.OrderBy = []*sq.OrderingSpec{{ColumnName: "dur", Direction: sq.DirDesc}}
	limit := int64(100)
	sorted.Limit = &limit

	for _, n := range []node.Node{slice, thread, addCols, sorted} {
		require.NoError(t, g.Add(n))
	}
	return g
}

func TestSnapshotAndBuildRoundTrip(t *testing.T) {
	g := buildSample(t)

	doc, err := Snapshot("cpu-analysis", "slices with thread names", g)
	require.NoError(t, err)
	require.Len(t, doc.Nodes, 4)

	rebuilt, err := Build(doc)
	require.NoError(t, err)
	require.Equal(t, g.Len(), rebuilt.Len())

	for _, orig := range g.Nodes() {
		back, ok := rebuilt.Get(orig.ID())
		require.True(t, ok, "node %s missing after rebuild", orig.ID())
		assert.Equal(t, orig.Kind(), back.Kind())
		assert.Equal(t, orig.Validate(), back.Validate())
		assert.Equal(t, column.Names(orig.FinalCols()), column.Names(back.FinalCols()))
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	g := buildSample(t)
	doc, err := Snapshot("cpu-analysis", "", g)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "cpu-analysis.yaml")
	require.NoError(t, Save(path, doc))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, doc.Name, loaded.Name)
	require.Len(t, loaded.Nodes, len(doc.Nodes))

	rebuilt, err := Build(loaded)
	require.NoError(t, err)
	assert.Equal(t, g.Len(), rebuilt.Len())
}

func TestBuildHandlesOutOfOrderNodes(t *testing.T) {
	g := buildSample(t)
	doc, err := Snapshot("p", "", g)
	require.NoError(t, err)

	// Reverse the entries; Build must still resolve inputs.
	for i, j := 0, len(doc.Nodes)-1; i < j; i, j = i+1, j-1 {
		doc.Nodes[i], doc.Nodes[j] = doc.Nodes[j], doc.Nodes[i]
	}
	rebuilt, err := Build(doc)
	require.NoError(t, err)
	assert.Equal(t, g.Len(), rebuilt.Len())
}

func TestBuildRejectsUnknownInput(t *testing.T) {
	doc := &Document{
		Name: "broken",
		Nodes: []NodeDoc{
			{Kind: string(node.KindModify), ID: "m1", Inputs: []string{"ghost"}},
		},
	}
	_, err := Build(doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unresolvable")
}

func TestLoadRejectsNamelessPipeline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.yaml")
	require.NoError(t, os.WriteFile(path, []byte("nodes: []\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no name")
}
