package ir

// OperatorData is the kind-specific payload of an operator node: its
// declared or resolved relation plus whatever fields its kind needs
// (a table name, a column-mapping list, join keys, ...). Like ExprData,
// most concerns dispatch on the concrete type; cloning and relation
// access are interface methods, while column pruning and type
// resolution switch on the concrete type like everything else.
type OperatorData interface {
	setID(NodeID)
	ID() NodeID
	Kind() OperatorKind
	Relation() (Relation, bool)
	SetRelation(Relation)
	CloneData() OperatorData
}

type opBase struct {
	id       NodeID
	relation *Relation
}

func (b *opBase) setID(id NodeID) { b.id = id }
func (b *opBase) ID() NodeID      { return b.id }
func (b *opBase) Relation() (Relation, bool) {
	if b.relation == nil {
		return Relation{}, false
	}
	return *b.relation, true
}
func (b *opBase) SetRelation(r Relation) { b.relation = &r }

// MemorySourceNode reads a named table out of the in-memory table
// store, optionally projected down to a subset of its columns.
type MemorySourceNode struct {
	opBase
	TableName      string
	ColumnNames    []string
	StartTimeExpr  NodeID
	HasStartTime   bool
	StopTimeExpr   NodeID
	HasStopTime    bool
}

func (n *MemorySourceNode) Kind() OperatorKind { return KindMemorySource }
func (n *MemorySourceNode) CloneData() OperatorData {
	c := &MemorySourceNode{
		TableName:     n.TableName,
		ColumnNames:   append([]string(nil), n.ColumnNames...),
		StartTimeExpr: n.StartTimeExpr,
		HasStartTime:  n.HasStartTime,
		StopTimeExpr:  n.StopTimeExpr,
		HasStopTime:   n.HasStopTime,
	}
	if r, ok := n.Relation(); ok {
		c.SetRelation(r)
	}
	return c
}

// EmptySourceNode declares a schema with no backing data, used in
// planning tests and as a placeholder before a source is bound.
type EmptySourceNode struct {
	opBase
}

func (n *EmptySourceNode) Kind() OperatorKind { return KindEmptySource }
func (n *EmptySourceNode) CloneData() OperatorData {
	c := &EmptySourceNode{}
	if r, ok := n.Relation(); ok {
		c.SetRelation(r)
	}
	return c
}

// ColumnMapping names one output column and the expression node that
// computes it, in a Map or a BlockingAgg.
type ColumnMapping struct {
	OutputName string
	Expr       NodeID
}

// MapNode applies an ordered list of column expressions to its single
// parent's rows, optionally keeping the parent's own columns alongside
// the new ones.
type MapNode struct {
	opBase
	ColExprs         []ColumnMapping
	KeepInputColumns bool
}

func (n *MapNode) Kind() OperatorKind { return KindMap }
func (n *MapNode) CloneData() OperatorData {
	c := &MapNode{
		ColExprs:         append([]ColumnMapping(nil), n.ColExprs...),
		KeepInputColumns: n.KeepInputColumns,
	}
	if r, ok := n.Relation(); ok {
		c.SetRelation(r)
	}
	return c
}

// FilterNode keeps rows from its single parent for which FilterExpr
// evaluates true, forwarding exactly the columns in ForwardColumns.
type FilterNode struct {
	opBase
	FilterExpr     NodeID
	HasFilterExpr  bool
	ForwardColumns []string
}

func (n *FilterNode) Kind() OperatorKind { return KindFilter }
func (n *FilterNode) CloneData() OperatorData {
	c := &FilterNode{
		FilterExpr:     n.FilterExpr,
		HasFilterExpr:  n.HasFilterExpr,
		ForwardColumns: append([]string(nil), n.ForwardColumns...),
	}
	if r, ok := n.Relation(); ok {
		c.SetRelation(r)
	}
	return c
}

// UnionNode concatenates rows from one or more parents that share an
// identical relation.
type UnionNode struct {
	opBase
}

func (n *UnionNode) Kind() OperatorKind { return KindUnion }
func (n *UnionNode) CloneData() OperatorData {
	c := &UnionNode{}
	if r, ok := n.Relation(); ok {
		c.SetRelation(r)
	}
	return c
}

// BlockingAggNode groups its single parent's rows by GroupNames and
// computes one aggregate expression per output in AggExprs. It blocks:
// no output row is produced until the parent is fully consumed.
type BlockingAggNode struct {
	opBase
	GroupNames []string
	AggExprs   []ColumnMapping
}

func (n *BlockingAggNode) Kind() OperatorKind { return KindBlockingAgg }
func (n *BlockingAggNode) CloneData() OperatorData {
	c := &BlockingAggNode{
		GroupNames: append([]string(nil), n.GroupNames...),
		AggExprs:   append([]ColumnMapping(nil), n.AggExprs...),
	}
	if r, ok := n.Relation(); ok {
		c.SetRelation(r)
	}
	return c
}

// MemorySinkNode materializes its single parent's full output under a
// name, with no further projection.
type MemorySinkNode struct {
	opBase
	Name string
}

func (n *MemorySinkNode) Kind() OperatorKind { return KindMemorySink }
func (n *MemorySinkNode) CloneData() OperatorData {
	c := &MemorySinkNode{Name: n.Name}
	if r, ok := n.Relation(); ok {
		c.SetRelation(r)
	}
	return c
}

// GRPCSinkNode streams its single parent's output to a remote agent
// identified by AgentID, as opposed to materializing it locally.
type GRPCSinkNode struct {
	opBase
	Name    string
	AgentID string
}

func (n *GRPCSinkNode) Kind() OperatorKind { return KindGRPCSink }
func (n *GRPCSinkNode) CloneData() OperatorData {
	c := &GRPCSinkNode{Name: n.Name, AgentID: n.AgentID}
	if r, ok := n.Relation(); ok {
		c.SetRelation(r)
	}
	return c
}

// JoinKind is the closed set of join semantics a JoinNode can express.
type JoinKind int

const (
	JoinInner JoinKind = iota
	JoinLeftOuter
	JoinFullOuter
)

func (k JoinKind) String() string {
	switch k {
	case JoinInner:
		return "INNER"
	case JoinLeftOuter:
		return "LEFT_OUTER"
	case JoinFullOuter:
		return "FULL_OUTER"
	default:
		return "UNKNOWN_JOIN"
	}
}

// JoinNode combines rows from exactly two parents (index 0 = left,
// index 1 = right, in the order their structural edges were added) on
// equality between LeftOnCols and RightOnCols, paired element-wise.
type JoinNode struct {
	opBase
	JoinType     JoinKind
	LeftOnCols   []string
	RightOnCols  []string
	OutputColumns []ColumnMapping
}

func (n *JoinNode) Kind() OperatorKind { return KindJoin }
func (n *JoinNode) CloneData() OperatorData {
	c := &JoinNode{
		JoinType:      n.JoinType,
		LeftOnCols:    append([]string(nil), n.LeftOnCols...),
		RightOnCols:   append([]string(nil), n.RightOnCols...),
		OutputColumns: append([]ColumnMapping(nil), n.OutputColumns...),
	}
	if r, ok := n.Relation(); ok {
		c.SetRelation(r)
	}
	return c
}
