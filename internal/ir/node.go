package ir

// NodeID is a stable integer identity for a node within one Graph.
// IDs are never reused within a graph's lifetime, even after deletion,
// so a dangling reference fails loudly instead of resolving to an
// unrelated node.
type NodeID int64

// Node is the common envelope every operator and expression node
// carries: identity, a closed-set kind tag, and a resolved-type slot
// that starts unset and is filled in by type resolution.
type Node struct {
	ID    NodeID
	Class NodeClass

	OpKind   OperatorKind
	ExprKind ExprKind

	resolvedValue *ValueType
	resolvedTable *TableType
}

// IsOperator reports whether this node is an operator node.
func (n *Node) IsOperator() bool { return n.Class == ClassOperator }

// IsExpression reports whether this node is an expression node.
func (n *Node) IsExpression() bool { return n.Class == ClassExpression }

// ResolvedValueType returns the node's resolved scalar type, if any.
func (n *Node) ResolvedValueType() (ValueType, bool) {
	if n.resolvedValue == nil {
		return ValueType{}, false
	}
	return *n.resolvedValue, true
}

// SetResolvedValueType records an expression node's resolved type.
func (n *Node) SetResolvedValueType(vt ValueType) { n.resolvedValue = &vt }

// ResolvedTableType returns the node's resolved relation type, if any.
func (n *Node) ResolvedTableType() (*TableType, bool) {
	return n.resolvedTable, n.resolvedTable != nil
}

// SetResolvedTableType records an operator node's resolved relation.
func (n *Node) SetResolvedTableType(tt *TableType) { n.resolvedTable = tt }
