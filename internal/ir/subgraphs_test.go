package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndependentSubgraphsSplitsDisconnectedChains(t *testing.T) {
	g := NewGraph()
	src1 := g.AddOperator(KindMemorySource, &MemorySourceNode{TableName: "a"})
	sink1 := g.AddOperator(KindMemorySink, &MemorySinkNode{Name: "out1"})
	require.NoError(t, g.AddEdge(src1, sink1))

	src2 := g.AddOperator(KindMemorySource, &MemorySourceNode{TableName: "b"})
	sink2 := g.AddOperator(KindMemorySink, &MemorySinkNode{Name: "out2"})
	require.NoError(t, g.AddEdge(src2, sink2))

	groups := IndependentSubgraphs(g)
	require.Len(t, groups, 2)
	assert.ElementsMatch(t, []NodeID{src1, sink1}, groups[0])
	assert.ElementsMatch(t, []NodeID{src2, sink2}, groups[1])
}

func TestIndependentSubgraphsJoinsSharedComponent(t *testing.T) {
	g := NewGraph()
	left := g.AddOperator(KindMemorySource, &MemorySourceNode{TableName: "a"})
	right := g.AddOperator(KindMemorySource, &MemorySourceNode{TableName: "b"})
	join := g.AddOperator(KindJoin, &JoinNode{})
	require.NoError(t, g.AddEdge(left, join))
	require.NoError(t, g.AddEdge(right, join))

	groups := IndependentSubgraphs(g)
	require.Len(t, groups, 1)
	assert.Len(t, groups[0], 3)
}

func TestTopologicalSortOrdersParentsBeforeChildren(t *testing.T) {
	g := NewGraph()
	src := g.AddOperator(KindMemorySource, &MemorySourceNode{TableName: "a"})
	filt := g.AddOperator(KindFilter, &FilterNode{})
	sink := g.AddOperator(KindMemorySink, &MemorySinkNode{Name: "out"})
	require.NoError(t, g.AddEdge(src, filt))
	require.NoError(t, g.AddEdge(filt, sink))

	order, err := TopologicalSort(g)
	require.NoError(t, err)
	pos := map[NodeID]int{}
	for i, id := range order {
		pos[id] = i
	}
	assert.Less(t, pos[src], pos[filt])
	assert.Less(t, pos[filt], pos[sink])
}
