package ir

// OptionallyCloneWithEdge attaches expr to owner. If expr is currently
// unowned, it is attached directly (the common case: a freshly built
// expression tree attached for the first time). If expr already has an
// owner — meaning some other part of the plan is already relying on
// it — I2 forbids a second owner, so the whole subtree is deep-copied
// first and the copy is attached instead. The returned id is whichever
// node actually ended up owned by owner: expr itself, or its clone.
func OptionallyCloneWithEdge(g *Graph, owner, expr NodeID) (NodeID, error) {
	if !g.HasNode(expr) {
		return 0, InvalidArgumentf("OptionallyCloneWithEdge: expr %d does not exist", expr)
	}
	if _, owned := g.ExprOwner(expr); !owned {
		g.setOwnership(owner, expr)
		return expr, nil
	}
	clone := cloneExprSubtree(g, expr)
	g.setOwnership(owner, clone)
	return clone, nil
}

func cloneExprSubtree(g *Graph, id NodeID) NodeID {
	data := g.ExprData(id)
	kind := g.Node(id).ExprKind
	newData := data.CloneData()
	newID := g.AddExpr(kind, newData)

	if withCast, ok := data.(interface{ TypeCast() (SemanticType, bool) }); ok {
		if st, has := withCast.TypeCast(); has {
			if setter, ok := newData.(interface{ SetTypeCast(SemanticType) }); ok {
				setter.SetTypeCast(st)
			}
		}
	}

	if fe, ok := newData.(*FuncExpr); ok {
		cloned := make([]NodeID, len(fe.ArgIDs))
		for i, a := range fe.ArgIDs {
			cid := cloneExprSubtree(g, a)
			g.setOwnership(newID, cid)
			cloned[i] = cid
		}
		fe.ArgIDs = cloned
	}
	return newID
}

// DeleteOrphansInSubtree enforces I5: if the expression node id
// currently has no owner, it is deleted, and the same check cascades
// into every node it directly owned (a Func's arguments, for
// instance), since losing their owner makes them orphans in turn. If
// id still has an owner, or no longer exists, this is a no-op.
func DeleteOrphansInSubtree(g *Graph, id NodeID) error {
	n := g.Node(id)
	if n == nil {
		return nil
	}
	if n.IsOperator() {
		return Internalf("DeleteOrphansInSubtree: node %d is an operator, not an expression", id)
	}
	if _, owned := g.ExprOwner(id); owned {
		return nil
	}
	children := g.ExprOwned(id)
	if err := g.DeleteNode(id); err != nil {
		return err
	}
	for _, c := range children {
		if err := DeleteOrphansInSubtree(g, c); err != nil {
			return err
		}
	}
	return nil
}

// DeleteSubtree unconditionally deletes id and everything beneath it.
// For an expression node it detaches the ownership edge first and
// then cascades; unlike DeleteOrphansInSubtree there is no
// still-owned check — the caller has decided the subtree goes. For an
// operator node it reduces to DeleteNode, which already cascades the
// operator's owned expressions.
func DeleteSubtree(g *Graph, id NodeID) error {
	n := g.Node(id)
	if n == nil {
		return InvalidArgumentf("DeleteSubtree: node %d does not exist", id)
	}
	if n.IsOperator() {
		return g.DeleteNode(id)
	}
	if owner, owned := g.ExprOwner(id); owned {
		g.detachOwnership(owner, id)
	}
	return DeleteOrphansInSubtree(g, id)
}

// replaceOwnedExpr implements the attach/replace pattern used by every
// operator-level expression setter: remember the old child, clone-attach
// the new one, detach the old ownership edge, then let
// DeleteOrphansInSubtree decide whether the old subtree is now garbage.
func replaceOwnedExpr(g *Graph, owner, oldExpr NodeID, hadOld bool, newExpr NodeID) (NodeID, error) {
	attached, err := OptionallyCloneWithEdge(g, owner, newExpr)
	if err != nil {
		return 0, err
	}
	if hadOld {
		g.detachOwnership(owner, oldExpr)
		if err := DeleteOrphansInSubtree(g, oldExpr); err != nil {
			return 0, err
		}
	}
	return attached, nil
}

// SetFilterExpr replaces a Filter node's predicate expression.
func SetFilterExpr(g *Graph, filterID, newExpr NodeID) error {
	fn, ok := g.OperatorData(filterID).(*FilterNode)
	if !ok {
		return InvalidArgumentf("SetFilterExpr: %d is not a Filter node", filterID)
	}
	attached, err := replaceOwnedExpr(g, filterID, fn.FilterExpr, fn.HasFilterExpr, newExpr)
	if err != nil {
		return err
	}
	fn.FilterExpr = attached
	fn.HasFilterExpr = true
	return nil
}

// SetColExprs replaces a Map node's entire ordered column-expression
// list: the new expressions are attached first, then every previously
// owned expression is detached and orphan-checked.
func SetColExprs(g *Graph, mapID NodeID, mappings []ColumnMapping) error {
	mn, ok := g.OperatorData(mapID).(*MapNode)
	if !ok {
		return InvalidArgumentf("SetColExprs: %d is not a Map node", mapID)
	}
	old := mn.ColExprs
	mn.ColExprs = nil
	for _, m := range mappings {
		attached, err := OptionallyCloneWithEdge(g, mapID, m.Expr)
		if err != nil {
			return err
		}
		mn.ColExprs = append(mn.ColExprs, ColumnMapping{OutputName: m.OutputName, Expr: attached})
	}
	for _, m := range old {
		g.detachOwnership(mapID, m.Expr)
		if err := DeleteOrphansInSubtree(g, m.Expr); err != nil {
			return err
		}
	}
	return nil
}

// AddColExpr appends a single column expression to a Map node without
// disturbing the ones already present.
func AddColExpr(g *Graph, mapID NodeID, outputName string, expr NodeID) error {
	mn, ok := g.OperatorData(mapID).(*MapNode)
	if !ok {
		return InvalidArgumentf("AddColExpr: %d is not a Map node", mapID)
	}
	attached, err := OptionallyCloneWithEdge(g, mapID, expr)
	if err != nil {
		return err
	}
	mn.ColExprs = append(mn.ColExprs, ColumnMapping{OutputName: outputName, Expr: attached})
	return nil
}

// SetTimeExpressions sets or clears a MemorySource node's start/stop
// time-range bounds. A zero hasStart/hasStop leaves that bound unset
// and orphans whatever expression previously occupied it.
func SetTimeExpressions(g *Graph, sourceID NodeID, start NodeID, hasStart bool, stop NodeID, hasStop bool) error {
	sn, ok := g.OperatorData(sourceID).(*MemorySourceNode)
	if !ok {
		return InvalidArgumentf("SetTimeExpressions: %d is not a MemorySource node", sourceID)
	}
	if hasStart {
		attached, err := replaceOwnedExpr(g, sourceID, sn.StartTimeExpr, sn.HasStartTime, start)
		if err != nil {
			return err
		}
		sn.StartTimeExpr, sn.HasStartTime = attached, true
	} else if sn.HasStartTime {
		g.detachOwnership(sourceID, sn.StartTimeExpr)
		if err := DeleteOrphansInSubtree(g, sn.StartTimeExpr); err != nil {
			return err
		}
		sn.HasStartTime = false
	}
	if hasStop {
		attached, err := replaceOwnedExpr(g, sourceID, sn.StopTimeExpr, sn.HasStopTime, stop)
		if err != nil {
			return err
		}
		sn.StopTimeExpr, sn.HasStopTime = attached, true
	} else if sn.HasStopTime {
		g.detachOwnership(sourceID, sn.StopTimeExpr)
		if err := DeleteOrphansInSubtree(g, sn.StopTimeExpr); err != nil {
			return err
		}
		sn.HasStopTime = false
	}
	return nil
}

// AddColumnMapping appends a single aggregate expression to a
// BlockingAgg node's output list.
func AddColumnMapping(g *Graph, aggID NodeID, outputName string, expr NodeID) error {
	an, ok := g.OperatorData(aggID).(*BlockingAggNode)
	if !ok {
		return InvalidArgumentf("AddColumnMapping: %d is not a BlockingAgg node", aggID)
	}
	attached, err := OptionallyCloneWithEdge(g, aggID, expr)
	if err != nil {
		return err
	}
	an.AggExprs = append(an.AggExprs, ColumnMapping{OutputName: outputName, Expr: attached})
	return nil
}

// ReplaceOperatorChild swaps the structural edge parent->oldChild for
// parent->newChild in one step, used when rewrites (e.g. filter
// push-down) splice a new operator into the DAG in place of another.
func ReplaceOperatorChild(g *Graph, parent, oldChild, newChild NodeID) error {
	if err := g.AddEdge(parent, newChild); err != nil {
		return err
	}
	return g.DeleteEdge(parent, oldChild)
}
