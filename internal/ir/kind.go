// Package ir implements the query-plan intermediate representation: a
// typed DAG of operator and expression nodes, mutation primitives that
// preserve expression ownership, and rule-based rewrites such as filter
// push-down.
package ir

// OperatorKind is the closed set of operator node kinds. New operator
// kinds are added here, never via open-ended type assertions elsewhere.
type OperatorKind int

const (
	KindMemorySource OperatorKind = iota
	KindEmptySource
	KindMap
	KindFilter
	KindUnion
	KindBlockingAgg
	KindMemorySink
	KindGRPCSink
	KindJoin
)

func (k OperatorKind) String() string {
	switch k {
	case KindMemorySource:
		return "MemorySource"
	case KindEmptySource:
		return "EmptySource"
	case KindMap:
		return "Map"
	case KindFilter:
		return "Filter"
	case KindUnion:
		return "Union"
	case KindBlockingAgg:
		return "BlockingAgg"
	case KindMemorySink:
		return "MemorySink"
	case KindGRPCSink:
		return "GRPCSink"
	case KindJoin:
		return "Join"
	default:
		return "UnknownOperator"
	}
}

// ExprKind is the closed set of expression node kinds.
type ExprKind int

const (
	ExprFunc ExprKind = iota
	ExprColumn
	ExprInt
	ExprFloat
	ExprString
	ExprUInt128
	ExprTime
	ExprMetadata
	ExprMetadataLiteral
)

func (k ExprKind) String() string {
	switch k {
	case ExprFunc:
		return "Func"
	case ExprColumn:
		return "Column"
	case ExprInt:
		return "Int"
	case ExprFloat:
		return "Float"
	case ExprString:
		return "String"
	case ExprUInt128:
		return "UInt128"
	case ExprTime:
		return "Time"
	case ExprMetadata:
		return "Metadata"
	case ExprMetadataLiteral:
		return "MetadataLiteral"
	default:
		return "UnknownExpr"
	}
}

// NodeClass distinguishes operator nodes (own a place in the structural
// DAG) from expression nodes (owned by exactly one operator at a time).
type NodeClass int

const (
	ClassOperator NodeClass = iota
	ClassExpression
)
