package ir

// ExprData is the kind-specific payload of an expression node. Dispatch
// is by a closed type switch inside each concern (type resolution,
// column-reference collection, cloning) rather than by a generic
// vtable, except where polymorphism is unavoidable — here, cloning,
// which is why CloneData is an interface method.
type ExprData interface {
	setID(NodeID)
	ID() NodeID
	Kind() ExprKind
	// CloneData returns a copy of the kind-specific fields with no id
	// and no semantic type cast set; the caller assigns the id and
	// carries the cast over.
	CloneData() ExprData
}

type exprBase struct {
	id       NodeID
	typeCast *SemanticType
}

func (b *exprBase) setID(id NodeID) { b.id = id }
func (b *exprBase) ID() NodeID      { return b.id }

// TypeCast returns the semantic-tag-only cast this expression declares,
// if any. Per spec, a declared cast may only change the semantic tag;
// the underlying DataType must already agree with the target, or type
// resolution rejects it with ErrSemanticTypeCastMismatch.
func (b *exprBase) TypeCast() (SemanticType, bool) {
	if b.typeCast == nil {
		return SemanticNone, false
	}
	return *b.typeCast, true
}

func (b *exprBase) SetTypeCast(st SemanticType) { b.typeCast = &st }

// FuncExpr is a function call over an ordered list of argument
// expressions, e.g. `abc == 2` or `mean(xyz)`.
type FuncExpr struct {
	exprBase
	Name   string
	ArgIDs []NodeID
}

func (e *FuncExpr) Kind() ExprKind { return ExprFunc }
func (e *FuncExpr) CloneData() ExprData {
	return &FuncExpr{Name: e.Name, ArgIDs: append([]NodeID(nil), e.ArgIDs...)}
}

// ColumnExpr references a column by name, resolved against whichever
// relation is in scope for the operator that owns it (directly, or
// transitively through an owning Func).
type ColumnExpr struct {
	exprBase
	Name string
}

func (e *ColumnExpr) Kind() ExprKind { return ExprColumn }
func (e *ColumnExpr) CloneData() ExprData {
	return &ColumnExpr{Name: e.Name}
}

type IntExpr struct {
	exprBase
	Value int64
}

func (e *IntExpr) Kind() ExprKind        { return ExprInt }
func (e *IntExpr) CloneData() ExprData   { return &IntExpr{Value: e.Value} }

type FloatExpr struct {
	exprBase
	Value float64
}

func (e *FloatExpr) Kind() ExprKind      { return ExprFloat }
func (e *FloatExpr) CloneData() ExprData { return &FloatExpr{Value: e.Value} }

type StringExpr struct {
	exprBase
	Value string
}

func (e *StringExpr) Kind() ExprKind      { return ExprString }
func (e *StringExpr) CloneData() ExprData { return &StringExpr{Value: e.Value} }

type UInt128Expr struct {
	exprBase
	High, Low uint64
}

func (e *UInt128Expr) Kind() ExprKind      { return ExprUInt128 }
func (e *UInt128Expr) CloneData() ExprData { return &UInt128Expr{High: e.High, Low: e.Low} }

// TimeExpr is a literal timestamp, nanoseconds since the Unix epoch.
type TimeExpr struct {
	exprBase
	ValueNS int64
}

func (e *TimeExpr) Kind() ExprKind      { return ExprTime }
func (e *TimeExpr) CloneData() ExprData { return &TimeExpr{ValueNS: e.ValueNS} }

// MetadataExpr references a piece of out-of-band metadata (e.g. pod
// name) rather than a relation column.
type MetadataExpr struct {
	exprBase
	Name string
}

func (e *MetadataExpr) Kind() ExprKind      { return ExprMetadata }
func (e *MetadataExpr) CloneData() ExprData { return &MetadataExpr{Name: e.Name} }

// MetadataLiteralExpr is a literal value matched against a MetadataExpr
// (e.g. in `pod == "foo"`), kept distinct from StringExpr so the planner
// can special-case metadata filters.
type MetadataLiteralExpr struct {
	exprBase
	Value string
}

func (e *MetadataLiteralExpr) Kind() ExprKind      { return ExprMetadataLiteral }
func (e *MetadataLiteralExpr) CloneData() ExprData { return &MetadataLiteralExpr{Value: e.Value} }

// Args returns the argument node ids of e if it is a Func, else nil.
func Args(data ExprData) []NodeID {
	if f, ok := data.(*FuncExpr); ok {
		return f.ArgIDs
	}
	return nil
}

// ColumnRefs walks the expression subtree rooted at id and returns the
// set of column names referenced anywhere within it (Column expressions
// only — MetadataExpr is a distinct reference kind and is excluded).
func ColumnRefs(g *Graph, id NodeID) map[string]struct{} {
	out := make(map[string]struct{})
	collectColumnRefs(g, id, out)
	return out
}

func collectColumnRefs(g *Graph, id NodeID, out map[string]struct{}) {
	data := g.ExprData(id)
	if data == nil {
		return
	}
	switch e := data.(type) {
	case *ColumnExpr:
		out[e.Name] = struct{}{}
	case *FuncExpr:
		for _, arg := range e.ArgIDs {
			collectColumnRefs(g, arg, out)
		}
	}
}
