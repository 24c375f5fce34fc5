package ir

import "sort"

// Clone returns a deep, independent copy of g under a fresh id space:
// no NodeID is ever shared between original and clone, and the copy
// is structurally identical to the original after id renaming.
// Callers that captured ids before cloning and need to resolve them
// against the copy use CloneWithIDMap.
func Clone(g *Graph) *Graph {
	ng, _ := CloneWithIDMap(g)
	return ng
}

// CloneWithIDMap is Clone plus the old-id → new-id translation table.
// Fresh ids are assigned in ascending old-id order, so cloning the
// same graph twice produces identical copies, and they start past the
// original's high-water mark so the two id spaces never overlap even
// numerically.
func CloneWithIDMap(g *Graph) (*Graph, map[NodeID]NodeID) {
	ng := NewGraph()
	ng.nextID = g.nextID

	oldIDs := make([]NodeID, 0, len(g.nodes))
	for id := range g.nodes {
		oldIDs = append(oldIDs, id)
	}
	sort.Slice(oldIDs, func(i, j int) bool { return oldIDs[i] < oldIDs[j] })

	idMap := make(map[NodeID]NodeID, len(oldIDs))
	for _, oldID := range oldIDs {
		ng.nextID++
		idMap[oldID] = ng.nextID
	}

	for _, oldID := range oldIDs {
		n := g.nodes[oldID]
		nc := *n
		nc.ID = idMap[oldID]
		if n.resolvedValue != nil {
			v := *n.resolvedValue
			nc.resolvedValue = &v
		}
		if n.resolvedTable != nil {
			nc.resolvedTable = cloneTableType(n.resolvedTable)
		}
		ng.nodes[nc.ID] = &nc
	}
	for id, v := range g.structParents {
		ng.structParents[idMap[id]] = remapIDs(v, idMap)
	}
	for id, v := range g.structChildren {
		ng.structChildren[idMap[id]] = remapIDs(v, idMap)
	}
	for id, v := range g.exprOwner {
		ng.exprOwner[idMap[id]] = idMap[v]
	}
	for id, v := range g.exprOwned {
		ng.exprOwned[idMap[id]] = remapIDs(v, idMap)
	}
	for id, op := range g.operators {
		c := op.CloneData()
		c.setID(idMap[id])
		remapOperatorExprIDs(c, idMap)
		ng.operators[idMap[id]] = c
	}
	for id, e := range g.exprs {
		c := cloneExprWithCast(e)
		c.setID(idMap[id])
		if fe, ok := c.(*FuncExpr); ok {
			fe.ArgIDs = remapIDs(fe.ArgIDs, idMap)
		}
		ng.exprs[idMap[id]] = c
	}
	return ng, idMap
}

func remapIDs(ids []NodeID, idMap map[NodeID]NodeID) []NodeID {
	out := make([]NodeID, len(ids))
	for i, id := range ids {
		out[i] = idMap[id]
	}
	return out
}

// remapOperatorExprIDs rewrites the expression ids an operator payload
// carries into the clone's id space.
func remapOperatorExprIDs(data OperatorData, idMap map[NodeID]NodeID) {
	switch op := data.(type) {
	case *MemorySourceNode:
		if op.HasStartTime {
			op.StartTimeExpr = idMap[op.StartTimeExpr]
		}
		if op.HasStopTime {
			op.StopTimeExpr = idMap[op.StopTimeExpr]
		}
	case *MapNode:
		for i := range op.ColExprs {
			op.ColExprs[i].Expr = idMap[op.ColExprs[i].Expr]
		}
	case *BlockingAggNode:
		for i := range op.AggExprs {
			op.AggExprs[i].Expr = idMap[op.AggExprs[i].Expr]
		}
	case *FilterNode:
		if op.HasFilterExpr {
			op.FilterExpr = idMap[op.FilterExpr]
		}
	case *JoinNode:
		for i := range op.OutputColumns {
			op.OutputColumns[i].Expr = idMap[op.OutputColumns[i].Expr]
		}
	}
}

// cloneExprWithCast copies an expression payload together with its
// semantic type cast, which CloneData leaves unset.
func cloneExprWithCast(e ExprData) ExprData {
	c := e.CloneData()
	if withCast, ok := e.(interface{ TypeCast() (SemanticType, bool) }); ok {
		if st, has := withCast.TypeCast(); has {
			if setter, ok := c.(interface{ SetTypeCast(SemanticType) }); ok {
				setter.SetTypeCast(st)
			}
		}
	}
	return c
}

// copyPreservingIDs duplicates g with NodeIDs kept verbatim. Not part
// of the public clone contract (which requires disjoint id spaces);
// it exists so CopySelectedNodesAndDeps can carve out a component by
// the ids IndependentSubgraphs reported against the original.
func copyPreservingIDs(g *Graph) *Graph {
	ng := &Graph{
		nodes:          make(map[NodeID]*Node, len(g.nodes)),
		nextID:         g.nextID,
		structParents:  make(map[NodeID][]NodeID, len(g.structParents)),
		structChildren: make(map[NodeID][]NodeID, len(g.structChildren)),
		exprOwner:      make(map[NodeID]NodeID, len(g.exprOwner)),
		exprOwned:      make(map[NodeID][]NodeID, len(g.exprOwned)),
		operators:      make(map[NodeID]OperatorData, len(g.operators)),
		exprs:          make(map[NodeID]ExprData, len(g.exprs)),
	}
	for id, n := range g.nodes {
		nc := *n
		if n.resolvedValue != nil {
			v := *n.resolvedValue
			nc.resolvedValue = &v
		}
		if n.resolvedTable != nil {
			nc.resolvedTable = cloneTableType(n.resolvedTable)
		}
		ng.nodes[id] = &nc
	}
	for id, v := range g.structParents {
		ng.structParents[id] = append([]NodeID(nil), v...)
	}
	for id, v := range g.structChildren {
		ng.structChildren[id] = append([]NodeID(nil), v...)
	}
	for id, v := range g.exprOwner {
		ng.exprOwner[id] = v
	}
	for id, v := range g.exprOwned {
		ng.exprOwned[id] = append([]NodeID(nil), v...)
	}
	for id, op := range g.operators {
		c := op.CloneData()
		c.setID(id)
		ng.operators[id] = c
	}
	for id, e := range g.exprs {
		c := cloneExprWithCast(e)
		c.setID(id)
		ng.exprs[id] = c
	}
	return ng
}

func cloneTableType(tt *TableType) *TableType {
	c := NewTableType()
	for _, name := range tt.Names() {
		vt, _ := tt.Get(name)
		c.Set(name, vt)
	}
	return c
}

// Prune deletes the given operator nodes, cascading into any
// expression subtrees that lose their last owner as a result.
// Descendant operators are not deleted; they only lose their edge to
// the pruned node. Ids not present in g are ignored.
func Prune(g *Graph, ids []NodeID) error {
	for _, id := range ids {
		if !g.HasNode(id) {
			continue
		}
		if err := g.DeleteNode(id); err != nil {
			return err
		}
	}
	return nil
}

// Keep deletes every operator node not named in ids, leaving g
// containing only the requested operators (and whatever expression
// subtrees they still own).
func Keep(g *Graph, ids []NodeID) error {
	keep := make(map[NodeID]bool, len(ids))
	for _, id := range ids {
		keep[id] = true
	}
	var toDelete []NodeID
	for _, id := range g.AllOperatorIDs() {
		if !keep[id] {
			toDelete = append(toDelete, id)
		}
	}
	return Prune(g, toDelete)
}

// CopySelectedNodesAndDeps returns a standalone Graph containing only
// the operators named in ids (and the expressions they own) — used to
// carve one connected component out of IndependentSubgraphs into a
// Graph that can be compiled and dispatched independently of the rest
// of the plan. Ids are preserved so the caller's component ids keep
// resolving; use Clone afterwards if a fresh id space is needed.
func CopySelectedNodesAndDeps(g *Graph, ids []NodeID) (*Graph, error) {
	ng := copyPreservingIDs(g)
	if err := Keep(ng, ids); err != nil {
		return nil, err
	}
	return ng, nil
}
