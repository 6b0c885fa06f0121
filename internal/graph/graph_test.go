package graph

import (
	"testing"

	"github.com/tracekit-labs/querygraph/internal/column"
	"github.com/tracekit-labs/querygraph/internal/node"
)

func testCols() []column.Info {
	return []column.Info{
		column.New("id", column.TypeLong),
		column.New("ts", column.TypeTimestamp),
		column.New("dur", column.TypeDuration),
	}
}

func buildChain(t *testing.T) (*Graph, *node.TableNode, *node.ModifyNode, *node.ModifyNode) {
	t.Helper()
	gen := node.NewCounter("n")
	g := New()

	src := node.NewTable(gen, "slice", "", testCols())
	mid := node.NewModify(gen, src)
	leaf := node.NewModify(gen, mid)

	for _, n := range []node.Node{src, mid, leaf} {
		if err := g.Add(n); err != nil {
			t.Fatalf("Add(%s): %v", n.ID(), err)
		}
	}
	return g, src, mid, leaf
}

func TestAddAndEdges(t *testing.T) {
	g, src, mid, leaf := buildChain(t)

	if g.Len() != 3 {
		t.Fatalf("expected 3 nodes, got %d", g.Len())
	}
	children := g.Children(src.ID())
	if len(children) != 1 || children[0] != mid.ID() {
		t.Errorf("unexpected children of %s: %v", src.ID(), children)
	}
	parents := g.Parents(leaf.ID())
	if len(parents) != 1 || parents[0] != mid.ID() {
		t.Errorf("unexpected parents of %s: %v", leaf.ID(), parents)
	}
}

func TestAddRejectsUnknownInput(t *testing.T) {
	gen := node.NewCounter("n")
	g := New()
	src := node.NewTable(gen, "slice", "", testCols())
	m := node.NewModify(gen, src)

	if err := g.Add(m); err == nil {
		t.Fatal("expected error adding node before its input")
	}
}

func TestAddRejectsDuplicate(t *testing.T) {
	gen := node.NewCounter("n")
	g := New()
	src := node.NewTable(gen, "slice", "", testCols())
	if err := g.Add(src); err != nil {
		t.Fatal(err)
	}
	if err := g.Add(src); err == nil {
		t.Fatal("expected duplicate-id error")
	}
}

func TestTopologicalSort(t *testing.T) {
	g, src, mid, leaf := buildChain(t)

	order, err := g.TopologicalSort()
	if err != nil {
		t.Fatal(err)
	}
	pos := make(map[string]int)
	for i, n := range order {
		pos[n.ID()] = i
	}
	if pos[src.ID()] > pos[mid.ID()] || pos[mid.ID()] > pos[leaf.ID()] {
		t.Errorf("topological order violated: %v", pos)
	}
}

func TestAffected(t *testing.T) {
	g, src, mid, leaf := buildChain(t)

	affected := g.Affected(mid.ID())
	want := []string{mid.ID(), leaf.ID()}
	if len(affected) != len(want) {
		t.Fatalf("affected = %v, want %v", affected, want)
	}
	for i := range want {
		if affected[i] != want[i] {
			t.Fatalf("affected = %v, want %v", affected, want)
		}
	}
	if got := g.Affected(src.ID()); len(got) != 3 {
		t.Errorf("changing the root must affect everything, got %v", got)
	}
}

func TestUpstream(t *testing.T) {
	g, src, _, leaf := buildChain(t)

	up := g.Upstream(leaf.ID())
	if len(up) != 2 {
		t.Fatalf("upstream of leaf = %v", up)
	}
	if up[0] != src.ID() && up[1] != src.ID() {
		t.Errorf("expected %s in upstream set, got %v", src.ID(), up)
	}
}

func TestRevalidatePropagatesInvalidity(t *testing.T) {
	g, src, _, leaf := buildChain(t)

	if invalid, err := g.Revalidate(src.ID()); err != nil || len(invalid) != 0 {
		t.Fatalf("expected all valid, got %v (err %v)", invalid, err)
	}

	// Breaking the source invalidates the whole chain.
	src.TableName = ""
	invalid, err := g.Revalidate(src.ID())
	if err != nil {
		t.Fatal(err)
	}
	if len(invalid) != 3 {
		t.Fatalf("expected 3 invalid nodes, got %v", invalid)
	}
	if leaf.Issues().OK() {
		t.Error("leaf should carry a propagated error")
	}
}

func TestReindexRejectedRewireRestoresEdges(t *testing.T) {
	g, src, mid, leaf := buildChain(t)

	// Pointing mid at its own consumer must fail and leave the index as it
	// was before the rewire.
	mid.Primary = leaf
	if err := g.Reindex(mid.ID()); err == nil {
		t.Fatal("expected cycle error")
	}
	if ok, cycle := g.HasCycle(); ok {
		t.Fatalf("rejected rewire left a cycle indexed: %v", cycle)
	}
	if parents := g.Parents(mid.ID()); len(parents) != 1 || parents[0] != src.ID() {
		t.Errorf("expected parents of %s restored to [%s], got %v", mid.ID(), src.ID(), parents)
	}
	if children := g.Children(leaf.ID()); len(children) != 0 {
		t.Errorf("expected no children of %s after rollback, got %v", leaf.ID(), children)
	}

	mid.Primary = src
	if invalid, err := g.Revalidate(src.ID()); err != nil || len(invalid) != 0 {
		t.Fatalf("revalidate after rollback = %v (err %v)", invalid, err)
	}
}

func TestReindexUnknownInputRestoresEdges(t *testing.T) {
	g, src, mid, _ := buildChain(t)

	gen := node.NewCounter("x")
	stranger := node.NewTable(gen, "thread", "", testCols())
	mid.Primary = stranger
	if err := g.Reindex(mid.ID()); err == nil {
		t.Fatal("expected error for input outside the graph")
	}
	if parents := g.Parents(mid.ID()); len(parents) != 1 || parents[0] != src.ID() {
		t.Errorf("expected parents of %s restored to [%s], got %v", mid.ID(), src.ID(), parents)
	}
}

func TestRemove(t *testing.T) {
	g, _, mid, leaf := buildChain(t)

	g.Remove(mid.ID())
	if g.Len() != 2 {
		t.Fatalf("expected 2 nodes after removal, got %d", g.Len())
	}
	if parents := g.Parents(leaf.ID()); len(parents) != 0 {
		t.Errorf("expected no indexed parents for %s, got %v", leaf.ID(), parents)
	}

	// Disconnecting the consumer and reindexing leaves it invalid.
	leaf.Primary = nil
	if err := g.Reindex(leaf.ID()); err != nil {
		t.Fatal(err)
	}
	if leaf.Validate() {
		t.Error("leaf should fail validation after its input is removed")
	}
}

func TestRootsAndLeaves(t *testing.T) {
	g, src, _, leaf := buildChain(t)

	roots := g.Roots()
	if len(roots) != 1 || roots[0] != src.ID() {
		t.Errorf("roots = %v", roots)
	}
	leaves := g.Leaves()
	if len(leaves) != 1 || leaves[0] != leaf.ID() {
		t.Errorf("leaves = %v", leaves)
	}
}
