package ir

// CompilerState is the external context type resolution consults: the
// set of tables known to the system and their declared schemas. The IR
// core never populates this itself — the compiler that owns the table
// registry does — it only reads from it.
type CompilerState struct {
	tables map[string]Relation
}

// NewCompilerState returns an empty CompilerState.
func NewCompilerState() *CompilerState {
	return &CompilerState{tables: make(map[string]Relation)}
}

// SetTable registers a table's schema under name.
func (cs *CompilerState) SetTable(name string, r Relation) {
	cs.tables[name] = r
}

// Relation returns a table's declared schema, and whether it exists.
func (cs *CompilerState) Relation(name string) (Relation, bool) {
	r, ok := cs.tables[name]
	return r, ok
}

// ResolveTypes walks the graph in topological order and resolves every
// operator's output relation and every expression's value type,
// recording both on the owning Node. It fails fast on the first
// unresolvable operator (unknown table, schema mismatch across a
// Union's parents, or a semantic type cast incompatible with its
// underlying data type).
func ResolveTypes(g *Graph, cs *CompilerState) error {
	order, err := TopologicalSort(g)
	if err != nil {
		return err
	}
	for _, id := range order {
		rel, err := resolveOperatorRelation(g, cs, id)
		if err != nil {
			return err
		}
		g.OperatorData(id).SetRelation(rel)
		g.Node(id).SetResolvedTableType(relationToTableType(rel))
	}
	return nil
}

func relationToTableType(r Relation) *TableType {
	tt := NewTableType()
	for _, c := range r.Columns {
		tt.Set(c.Name, c.Type)
	}
	return tt
}

func parentRelation(g *Graph, id NodeID, idx int) (Relation, error) {
	parents := g.Parents(id)
	if idx >= len(parents) {
		return Relation{}, Internalf("operator %d has no parent at index %d", id, idx)
	}
	rel, ok := g.OperatorData(parents[idx]).Relation()
	if !ok {
		return Relation{}, Internalf("parent %d of operator %d has no resolved relation yet", parents[idx], id)
	}
	return rel, nil
}

func resolveOperatorRelation(g *Graph, cs *CompilerState, id NodeID) (Relation, error) {
	switch op := g.OperatorData(id).(type) {
	case *MemorySourceNode:
		full, ok := cs.Relation(op.TableName)
		if !ok {
			return Relation{}, CompilerErrorf(ErrUnknownTable, SourceSpan{}, "table %q not found", op.TableName)
		}
		if len(op.ColumnNames) == 0 {
			return full, nil
		}
		cols := make([]Column, 0, len(op.ColumnNames))
		for _, name := range op.ColumnNames {
			vt, ok := full.ColumnType(name)
			if !ok {
				return Relation{}, CompilerErrorf(ErrCompiler, SourceSpan{}, "table %q has no column %q", op.TableName, name)
			}
			cols = append(cols, Column{Name: name, Type: vt})
		}
		return Relation{Columns: cols}, nil

	case *EmptySourceNode:
		if rel, ok := op.Relation(); ok {
			return rel, nil
		}
		return Relation{}, nil

	case *MapNode:
		in, err := parentRelation(g, id, 0)
		if err != nil {
			return Relation{}, err
		}
		var cols []Column
		if op.KeepInputColumns {
			cols = append(cols, in.Columns...)
		}
		for _, m := range op.ColExprs {
			vt, err := resolveExprType(g, in, m.Expr)
			if err != nil {
				return Relation{}, err
			}
			cols = append(cols, Column{Name: m.OutputName, Type: vt})
		}
		return NewRelation(cols...)

	case *FilterNode:
		in, err := parentRelation(g, id, 0)
		if err != nil {
			return Relation{}, err
		}
		if op.HasFilterExpr {
			vt, err := resolveExprType(g, in, op.FilterExpr)
			if err != nil {
				return Relation{}, err
			}
			if vt.DataType != DataBoolean {
				return Relation{}, CompilerErrorf(ErrCompiler, SourceSpan{}, "filter expression must resolve to BOOLEAN, got %s", vt.DataType)
			}
		}
		if len(op.ForwardColumns) == 0 {
			return in, nil
		}
		cols := make([]Column, 0, len(op.ForwardColumns))
		for _, name := range op.ForwardColumns {
			vt, ok := in.ColumnType(name)
			if !ok {
				return Relation{}, Internalf("Filter %d forwards unknown column %q", id, name)
			}
			cols = append(cols, Column{Name: name, Type: vt})
		}
		return Relation{Columns: cols}, nil

	case *UnionNode:
		parents := g.Parents(id)
		if len(parents) == 0 {
			return Relation{}, Internalf("Union %d has no parents", id)
		}
		first, err := parentRelation(g, id, 0)
		if err != nil {
			return Relation{}, err
		}
		for i := 1; i < len(parents); i++ {
			rel, err := parentRelation(g, id, i)
			if err != nil {
				return Relation{}, err
			}
			if !sameSchema(first, rel) {
				return Relation{}, CompilerErrorf(ErrSchemaMismatch, SourceSpan{}, "Union %d parent %d schema does not match parent 0", id, i)
			}
		}
		return first, nil

	case *BlockingAggNode:
		in, err := parentRelation(g, id, 0)
		if err != nil {
			return Relation{}, err
		}
		cols := make([]Column, 0, len(op.GroupNames)+len(op.AggExprs))
		for _, name := range op.GroupNames {
			vt, ok := in.ColumnType(name)
			if !ok {
				return Relation{}, CompilerErrorf(ErrCompiler, SourceSpan{}, "BlockingAgg group column %q not in input", name)
			}
			cols = append(cols, Column{Name: name, Type: vt})
		}
		for _, m := range op.AggExprs {
			vt, err := resolveExprType(g, in, m.Expr)
			if err != nil {
				return Relation{}, err
			}
			cols = append(cols, Column{Name: m.OutputName, Type: vt})
		}
		return NewRelation(cols...)

	case *MemorySinkNode:
		return parentRelation(g, id, 0)

	case *GRPCSinkNode:
		return parentRelation(g, id, 0)

	case *JoinNode:
		left, err := parentRelation(g, id, 0)
		if err != nil {
			return Relation{}, err
		}
		right, err := parentRelation(g, id, 1)
		if err != nil {
			return Relation{}, err
		}
		if len(op.LeftOnCols) != len(op.RightOnCols) {
			return Relation{}, CompilerErrorf(ErrCompiler, SourceSpan{}, "Join %d has mismatched on-column counts", id)
		}
		for i := range op.LeftOnCols {
			lt, ok := left.ColumnType(op.LeftOnCols[i])
			if !ok {
				return Relation{}, CompilerErrorf(ErrCompiler, SourceSpan{}, "Join %d left on-column %q not found", id, op.LeftOnCols[i])
			}
			rt, ok := right.ColumnType(op.RightOnCols[i])
			if !ok {
				return Relation{}, CompilerErrorf(ErrCompiler, SourceSpan{}, "Join %d right on-column %q not found", id, op.RightOnCols[i])
			}
			if lt.DataType != rt.DataType {
				return Relation{}, CompilerErrorf(ErrCompiler, SourceSpan{}, "Join %d on-column type mismatch: %s vs %s", id, lt.DataType, rt.DataType)
			}
		}
		if len(op.OutputColumns) > 0 {
			scope := Relation{Columns: append(append([]Column(nil), left.Columns...), right.Columns...)}
			cols := make([]Column, 0, len(op.OutputColumns))
			for _, m := range op.OutputColumns {
				vt, err := resolveExprType(g, scope, m.Expr)
				if err != nil {
					return Relation{}, err
				}
				cols = append(cols, Column{Name: m.OutputName, Type: vt})
			}
			return NewRelation(cols...)
		}
		return Relation{Columns: append(append([]Column(nil), left.Columns...), right.Columns...)}, nil

	default:
		return Relation{}, Internalf("resolveOperatorRelation: unhandled operator kind at node %d", id)
	}
}

func sameSchema(a, b Relation) bool {
	if len(a.Columns) != len(b.Columns) {
		return false
	}
	for i := range a.Columns {
		if a.Columns[i].Name != b.Columns[i].Name || a.Columns[i].Type != b.Columns[i].Type {
			return false
		}
	}
	return true
}

// boolFuncs and numericFuncs classify the small built-in function
// vocabulary the planner recognizes by name; anything else is assumed
// to preserve the type of its first argument (a conservative default
// that covers projection-style helpers without a registry).
var boolFuncs = map[string]bool{
	"equal": true, "not_equal": true, "less_than": true, "greater_than": true,
	"less_than_equal": true, "greater_than_equal": true,
	"and": true, "or": true, "not": true, "contains": true, "matches": true,
}

var countFuncs = map[string]bool{"count": true}
var floatFuncs = map[string]bool{"mean": true, "sum": true}

func resolveExprType(g *Graph, scope Relation, id NodeID) (ValueType, error) {
	data := g.ExprData(id)
	if data == nil {
		return ValueType{}, Internalf("resolveExprType: expression node %d has no data", id)
	}

	var vt ValueType
	switch e := data.(type) {
	case *ColumnExpr:
		ct, ok := scope.ColumnType(e.Name)
		if !ok {
			return ValueType{}, CompilerErrorf(ErrCompiler, SourceSpan{}, "column %q not found in scope", e.Name)
		}
		vt = ct
	case *IntExpr:
		vt = ValueType{DataType: DataInt64}
	case *FloatExpr:
		vt = ValueType{DataType: DataFloat64}
	case *StringExpr:
		vt = ValueType{DataType: DataString}
	case *UInt128Expr:
		vt = ValueType{DataType: DataUInt128}
	case *TimeExpr:
		vt = ValueType{DataType: DataTime}
	case *MetadataExpr:
		vt = ValueType{DataType: DataString}
	case *MetadataLiteralExpr:
		vt = ValueType{DataType: DataString}
	case *FuncExpr:
		if len(e.ArgIDs) == 0 {
			return ValueType{}, CompilerErrorf(ErrCompiler, SourceSpan{}, "function %q called with no arguments", e.Name)
		}
		argTypes := make([]ValueType, len(e.ArgIDs))
		for i, a := range e.ArgIDs {
			at, err := resolveExprType(g, scope, a)
			if err != nil {
				return ValueType{}, err
			}
			argTypes[i] = at
		}
		switch {
		case boolFuncs[e.Name]:
			vt = ValueType{DataType: DataBoolean}
		case countFuncs[e.Name]:
			vt = ValueType{DataType: DataInt64}
		case floatFuncs[e.Name]:
			vt = ValueType{DataType: DataFloat64}
		default:
			vt = argTypes[0]
		}
	default:
		return ValueType{}, Internalf("resolveExprType: unhandled expression kind at node %d", id)
	}

	if withCast, ok := data.(interface{ TypeCast() (SemanticType, bool) }); ok {
		if st, has := withCast.TypeCast(); has {
			if !semanticCompatible(vt.DataType, st) {
				return ValueType{}, CompilerErrorf(ErrSemanticTypeCastMismatch, SourceSpan{},
					"cannot cast %s value to semantic type tag", vt.DataType)
			}
			vt.SemanticType = st
		}
	}
	g.Node(id).SetResolvedValueType(vt)
	return vt, nil
}

func semanticCompatible(dt DataType, st SemanticType) bool {
	switch st {
	case SemanticNone:
		return true
	case SemanticIPAddress:
		return dt == DataString
	case SemanticPortNumber:
		return dt == DataInt64
	case SemanticDuration:
		return dt == DataInt64 || dt == DataTime
	case SemanticBytes:
		return dt == DataInt64
	case SemanticPercent:
		return dt == DataFloat64
	default:
		return true
	}
}
