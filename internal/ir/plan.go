package ir

// PlanProto is the wire-shaped form of a compiled plan sent to an
// executing agent: a flat, topologically-ordered operator list plus
// the agent id the plan (or, for a GRPCSink, its downstream fan-out)
// targets. Field names mirror the IR's own vocabulary rather than a
// separately-maintained schema.
type PlanProto struct {
	AgentID   string          `json:"agent_id"`
	Operators []OperatorProto `json:"operators"`
}

// OperatorProto is one operator node, keyed by OpType to exactly one
// of the per-kind payload fields below.
type OperatorProto struct {
	ID      int64   `json:"id"`
	OpType  string  `json:"op_type"`
	Parents []int64 `json:"parents,omitempty"`

	MemorySource *MemorySourceProto `json:"memory_source,omitempty"`
	EmptySource  *EmptySourceProto  `json:"empty_source,omitempty"`
	Map          *MapProto          `json:"map,omitempty"`
	Filter       *FilterProto       `json:"filter,omitempty"`
	Union        *UnionProto        `json:"union,omitempty"`
	BlockingAgg  *BlockingAggProto  `json:"blocking_agg,omitempty"`
	MemorySink   *MemorySinkProto   `json:"memory_sink,omitempty"`
	GRPCSink     *GRPCSinkProto     `json:"grpc_sink,omitempty"`
	Join         *JoinProto         `json:"join,omitempty"`
}

type ColumnProto struct {
	Name     string `json:"name"`
	DataType string `json:"data_type"`
}

func relationToProto(r Relation) []ColumnProto {
	out := make([]ColumnProto, len(r.Columns))
	for i, c := range r.Columns {
		out[i] = ColumnProto{Name: c.Name, DataType: c.Type.DataType.String()}
	}
	return out
}

type MemorySourceProto struct {
	Table   string        `json:"table"`
	Columns []ColumnProto `json:"columns"`
	Start   *ExprProto    `json:"start_time,omitempty"`
	Stop    *ExprProto    `json:"stop_time,omitempty"`
}

type EmptySourceProto struct {
	Columns []ColumnProto `json:"columns"`
}

type ColumnMappingProto struct {
	OutputName string    `json:"output_name"`
	Expr       ExprProto `json:"expr"`
}

type MapProto struct {
	ColumnExprs      []ColumnMappingProto `json:"column_exprs"`
	KeepInputColumns bool                 `json:"keep_input_columns"`
}

type FilterProto struct {
	Expr           *ExprProto `json:"expr,omitempty"`
	ForwardColumns []string   `json:"forward_columns,omitempty"`
}

type UnionProto struct{}

type BlockingAggProto struct {
	GroupNames []string             `json:"group_names"`
	AggExprs   []ColumnMappingProto `json:"agg_exprs"`
}

type MemorySinkProto struct {
	Name    string        `json:"name"`
	Columns []ColumnProto `json:"columns"`
}

type GRPCSinkProto struct {
	Name    string        `json:"name"`
	AgentID string        `json:"agent_id"`
	Columns []ColumnProto `json:"columns"`
}

type JoinProto struct {
	JoinType      string               `json:"join_type"`
	LeftOnCols    []string             `json:"left_on_columns"`
	RightOnCols   []string             `json:"right_on_columns"`
	OutputColumns []ColumnMappingProto `json:"output_columns,omitempty"`
}

// ExprProto is one expression node, keyed by ExprType.
type ExprProto struct {
	ExprType        string      `json:"expr_type"`
	Func            *FuncProto  `json:"func,omitempty"`
	Column          string      `json:"column,omitempty"`
	Int             *int64      `json:"int,omitempty"`
	Float           *float64    `json:"float,omitempty"`
	String          *string     `json:"string,omitempty"`
	UInt128         *UInt128Pb  `json:"uint128,omitempty"`
	TimeNS          *int64      `json:"time_ns,omitempty"`
	Metadata        string      `json:"metadata,omitempty"`
	MetadataLiteral string      `json:"metadata_literal,omitempty"`
	SemanticCast    string      `json:"semantic_cast,omitempty"`
}

type UInt128Pb struct {
	High uint64 `json:"high"`
	Low  uint64 `json:"low"`
}

type FuncProto struct {
	Name string      `json:"name"`
	Args []ExprProto `json:"args"`
}

// ToPlanProto serializes g into a PlanProto, in topological order, for
// dispatch to agentID. g must already be fully type-resolved: an
// operator whose relation has not been set yet is a programming error,
// not a recoverable one.
func ToPlanProto(g *Graph, agentID string) (*PlanProto, error) {
	order, err := TopologicalSort(g)
	if err != nil {
		return nil, err
	}
	pb := &PlanProto{AgentID: agentID}
	for _, id := range order {
		op, err := operatorToProto(g, id)
		if err != nil {
			return nil, err
		}
		pb.Operators = append(pb.Operators, *op)
	}
	return pb, nil
}

func operatorToProto(g *Graph, id NodeID) (*OperatorProto, error) {
	n := g.Node(id)
	out := &OperatorProto{
		ID:     int64(id),
		OpType: n.OpKind.String(),
	}
	for _, p := range g.Parents(id) {
		out.Parents = append(out.Parents, int64(p))
	}

	switch op := g.OperatorData(id).(type) {
	case *MemorySourceNode:
		rel, _ := op.Relation()
		msp := &MemorySourceProto{Table: op.TableName, Columns: relationToProto(rel)}
		if op.HasStartTime {
			e, err := exprToProto(g, op.StartTimeExpr)
			if err != nil {
				return nil, err
			}
			msp.Start = e
		}
		if op.HasStopTime {
			e, err := exprToProto(g, op.StopTimeExpr)
			if err != nil {
				return nil, err
			}
			msp.Stop = e
		}
		out.MemorySource = msp

	case *EmptySourceNode:
		rel, _ := op.Relation()
		out.EmptySource = &EmptySourceProto{Columns: relationToProto(rel)}

	case *MapNode:
		mp := &MapProto{KeepInputColumns: op.KeepInputColumns}
		for _, m := range op.ColExprs {
			e, err := exprToProto(g, m.Expr)
			if err != nil {
				return nil, err
			}
			mp.ColumnExprs = append(mp.ColumnExprs, ColumnMappingProto{OutputName: m.OutputName, Expr: *e})
		}
		out.Map = mp

	case *FilterNode:
		fp := &FilterProto{ForwardColumns: op.ForwardColumns}
		if op.HasFilterExpr {
			e, err := exprToProto(g, op.FilterExpr)
			if err != nil {
				return nil, err
			}
			fp.Expr = e
		}
		out.Filter = fp

	case *UnionNode:
		out.Union = &UnionProto{}

	case *BlockingAggNode:
		bp := &BlockingAggProto{GroupNames: op.GroupNames}
		for _, m := range op.AggExprs {
			e, err := exprToProto(g, m.Expr)
			if err != nil {
				return nil, err
			}
			bp.AggExprs = append(bp.AggExprs, ColumnMappingProto{OutputName: m.OutputName, Expr: *e})
		}
		out.BlockingAgg = bp

	case *MemorySinkNode:
		rel, _ := op.Relation()
		out.MemorySink = &MemorySinkProto{Name: op.Name, Columns: relationToProto(rel)}

	case *GRPCSinkNode:
		rel, _ := op.Relation()
		out.GRPCSink = &GRPCSinkProto{Name: op.Name, AgentID: op.AgentID, Columns: relationToProto(rel)}

	case *JoinNode:
		jp := &JoinProto{
			JoinType:    op.JoinType.String(),
			LeftOnCols:  op.LeftOnCols,
			RightOnCols: op.RightOnCols,
		}
		for _, m := range op.OutputColumns {
			e, err := exprToProto(g, m.Expr)
			if err != nil {
				return nil, err
			}
			jp.OutputColumns = append(jp.OutputColumns, ColumnMappingProto{OutputName: m.OutputName, Expr: *e})
		}
		out.Join = jp

	default:
		return nil, Internalf("ToPlanProto: unhandled operator kind at node %d", id)
	}
	return out, nil
}

func exprToProto(g *Graph, id NodeID) (*ExprProto, error) {
	data := g.ExprData(id)
	if data == nil {
		return nil, Internalf("exprToProto: expression node %d has no data", id)
	}
	out := &ExprProto{ExprType: g.Node(id).ExprKind.String()}
	if withCast, ok := data.(interface{ TypeCast() (SemanticType, bool) }); ok {
		if st, has := withCast.TypeCast(); has {
			out.SemanticCast = semanticTypeName(st)
		}
	}
	switch e := data.(type) {
	case *FuncExpr:
		fp := &FuncProto{Name: e.Name}
		for _, a := range e.ArgIDs {
			ap, err := exprToProto(g, a)
			if err != nil {
				return nil, err
			}
			fp.Args = append(fp.Args, *ap)
		}
		out.Func = fp
	case *ColumnExpr:
		out.Column = e.Name
	case *IntExpr:
		v := e.Value
		out.Int = &v
	case *FloatExpr:
		v := e.Value
		out.Float = &v
	case *StringExpr:
		v := e.Value
		out.String = &v
	case *UInt128Expr:
		out.UInt128 = &UInt128Pb{High: e.High, Low: e.Low}
	case *TimeExpr:
		v := e.ValueNS
		out.TimeNS = &v
	case *MetadataExpr:
		out.Metadata = e.Name
	case *MetadataLiteralExpr:
		out.MetadataLiteral = e.Value
	default:
		return nil, Internalf("exprToProto: unhandled expression kind at node %d", id)
	}
	return out, nil
}

func semanticTypeName(st SemanticType) string {
	switch st {
	case SemanticIPAddress:
		return "IP_ADDRESS"
	case SemanticPortNumber:
		return "PORT_NUMBER"
	case SemanticDuration:
		return "DURATION"
	case SemanticBytes:
		return "BYTES"
	case SemanticPercent:
		return "PERCENT"
	default:
		return ""
	}
}
