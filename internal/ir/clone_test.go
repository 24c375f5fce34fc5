package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildSimpleChain(t *testing.T) (*Graph, NodeID, NodeID, NodeID) {
	t.Helper()
	g := NewGraph()
	src := g.AddOperator(KindMemorySource, &MemorySourceNode{TableName: "http_events"})
	filt := g.AddOperator(KindFilter, &FilterNode{ForwardColumns: []string{"latency_ns"}})
	sink := g.AddOperator(KindMemorySink, &MemorySinkNode{Name: "out"})
	require.NoError(t, g.AddEdge(src, filt))
	require.NoError(t, g.AddEdge(filt, sink))
	col := g.AddExpr(ExprColumn, &ColumnExpr{Name: "latency_ns"})
	require.NoError(t, SetFilterExpr(g, filt, col))
	return g, src, filt, sink
}

func TestCloneIsIndependent(t *testing.T) {
	g, src, filt, _ := buildSimpleChain(t)
	clone, idMap := CloneWithIDMap(g)

	require.NoError(t, clone.DeleteNode(idMap[src]))
	assert.True(t, g.HasNode(src), "mutating the clone must not affect the original")
	assert.Empty(t, clone.Parents(idMap[filt]))
	assert.Len(t, g.Parents(filt), 1)
}

func TestCloneSharesNoNodeIDs(t *testing.T) {
	g, _, _, _ := buildSimpleChain(t)
	clone := Clone(g)

	for id := range g.nodes {
		assert.False(t, clone.HasNode(id), "original id %d must not resolve in the clone", id)
	}
	for id := range clone.nodes {
		assert.False(t, g.HasNode(id), "clone id %d must not resolve in the original", id)
	}
}

// Structural equality holds after id renaming: the clone's chain, its
// expression ownership, and the ids embedded in operator payloads all
// line up with the original through the translation table.
func TestCloneIsStructurallyEqualUnderIDMap(t *testing.T) {
	g, src, filt, sink := buildSimpleChain(t)
	clone, idMap := CloneWithIDMap(g)

	assert.Equal(t, []NodeID{idMap[src]}, clone.Parents(idMap[filt]))
	assert.Equal(t, []NodeID{idMap[sink]}, clone.Children(idMap[filt]))
	assert.Equal(t, g.Node(filt).OpKind, clone.Node(idMap[filt]).OpKind)

	origFn := g.OperatorData(filt).(*FilterNode)
	cloneFn := clone.OperatorData(idMap[filt]).(*FilterNode)
	require.True(t, cloneFn.HasFilterExpr)
	assert.Equal(t, idMap[origFn.FilterExpr], cloneFn.FilterExpr,
		"payload expression ids must be remapped, not copied verbatim")

	owner, ok := clone.ExprOwner(cloneFn.FilterExpr)
	require.True(t, ok)
	assert.Equal(t, idMap[filt], owner)
}

func TestPruneCascadesOrphanedExpressions(t *testing.T) {
	g, _, filt, _ := buildSimpleChain(t)
	fn := g.OperatorData(filt).(*FilterNode)
	exprID := fn.FilterExpr

	require.NoError(t, Prune(g, []NodeID{filt}))
	assert.False(t, g.HasNode(exprID))
}

func TestKeepRemovesEverythingElse(t *testing.T) {
	g, src, filt, sink := buildSimpleChain(t)
	require.NoError(t, Keep(g, []NodeID{src, filt}))

	assert.True(t, g.HasNode(src))
	assert.True(t, g.HasNode(filt))
	assert.False(t, g.HasNode(sink))
}

func TestCopySelectedNodesAndDeps(t *testing.T) {
	g, src, filt, _ := buildSimpleChain(t)
	sub, err := CopySelectedNodesAndDeps(g, []NodeID{src, filt})
	require.NoError(t, err)

	assert.Len(t, sub.AllOperatorIDs(), 2)
	assert.Len(t, g.AllOperatorIDs(), 3, "original graph must be untouched")
}
