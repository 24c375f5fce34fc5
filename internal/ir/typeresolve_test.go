package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tableRelation(t *testing.T) Relation {
	t.Helper()
	rel, err := NewRelation(
		Column{Name: "upid", Type: ValueType{DataType: DataUInt128}},
		Column{Name: "latency_ns", Type: ValueType{DataType: DataInt64}},
		Column{Name: "resp_status", Type: ValueType{DataType: DataInt64}},
	)
	require.NoError(t, err)
	return rel
}

func TestResolveTypesMemorySourceAndFilter(t *testing.T) {
	g := NewGraph()
	cs := NewCompilerState()
	cs.SetTable("http_events", tableRelation(t))

	src := g.AddOperator(KindMemorySource, &MemorySourceNode{TableName: "http_events"})
	filt := g.AddOperator(KindFilter, &FilterNode{ForwardColumns: []string{"upid", "latency_ns"}})
	require.NoError(t, g.AddEdge(src, filt))

	cmp := g.AddExpr(ExprFunc, &FuncExpr{Name: "greater_than"})
	col := g.AddExpr(ExprColumn, &ColumnExpr{Name: "latency_ns"})
	lit := g.AddExpr(ExprInt, &IntExpr{Value: 1000})
	fn := g.ExprData(cmp).(*FuncExpr)
	fn.ArgIDs = []NodeID{col, lit}
	g.setOwnership(cmp, col)
	g.setOwnership(cmp, lit)
	require.NoError(t, SetFilterExpr(g, filt, cmp))

	require.NoError(t, ResolveTypes(g, cs))

	rel, ok := g.OperatorData(filt).Relation()
	require.True(t, ok)
	assert.Equal(t, []string{"upid", "latency_ns"}, rel.Names())
}

func TestResolveTypesUnknownTable(t *testing.T) {
	g := NewGraph()
	cs := NewCompilerState()
	src := g.AddOperator(KindMemorySource, &MemorySourceNode{TableName: "does_not_exist"})
	g.AddOperator(KindMemorySink, &MemorySinkNode{Name: "out"})
	_ = src

	err := ResolveTypes(g, cs)
	assert.ErrorIs(t, err, ErrCompiler)
}

func TestResolveTypesUnionSchemaMismatch(t *testing.T) {
	g := NewGraph()
	cs := NewCompilerState()
	cs.SetTable("a", tableRelation(t))
	rel2, err := NewRelation(Column{Name: "only_here", Type: ValueType{DataType: DataString}})
	require.NoError(t, err)
	cs.SetTable("b", rel2)

	srcA := g.AddOperator(KindMemorySource, &MemorySourceNode{TableName: "a"})
	srcB := g.AddOperator(KindMemorySource, &MemorySourceNode{TableName: "b"})
	u := g.AddOperator(KindUnion, &UnionNode{})
	require.NoError(t, g.AddEdge(srcA, u))
	require.NoError(t, g.AddEdge(srcB, u))

	err = ResolveTypes(g, cs)
	assert.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestSemanticTypeCastMismatch(t *testing.T) {
	g := NewGraph()
	cs := NewCompilerState()
	cs.SetTable("a", tableRelation(t))
	src := g.AddOperator(KindMemorySource, &MemorySourceNode{TableName: "a"})
	m := g.AddOperator(KindMap, &MapNode{})
	require.NoError(t, g.AddEdge(src, m))

	col := g.AddExpr(ExprColumn, &ColumnExpr{Name: "upid"})
	colData := g.ExprData(col).(*ColumnExpr)
	colData.SetTypeCast(SemanticPercent) // UInt128 column cannot be a PERCENT
	require.NoError(t, AddColExpr(g, m, "bad_cast", col))

	err := ResolveTypes(g, cs)
	assert.ErrorIs(t, err, ErrSemanticTypeCastMismatch)
}
