package ir

// RequiredInputColumns returns, for each structural parent of id in
// parent order, the set of that parent's output columns the operator
// at id actually reads — either to compute its own output or to
// forward unchanged. A returned set containing "*" means "all of this
// parent's columns", used for operators (sinks, Union) that pass
// everything through with no way to narrow it further from local
// information alone.
func RequiredInputColumns(g *Graph, id NodeID) []map[string]struct{} {
	switch op := g.OperatorData(id).(type) {
	case *MemorySourceNode, *EmptySourceNode:
		return nil

	case *MapNode:
		need := make(map[string]struct{})
		for _, m := range op.ColExprs {
			for c := range ColumnRefs(g, m.Expr) {
				need[c] = struct{}{}
			}
		}
		if op.KeepInputColumns {
			need["*"] = struct{}{}
		}
		return []map[string]struct{}{need}

	case *FilterNode:
		need := make(map[string]struct{})
		if op.HasFilterExpr {
			for c := range ColumnRefs(g, op.FilterExpr) {
				need[c] = struct{}{}
			}
		}
		for _, c := range op.ForwardColumns {
			need[c] = struct{}{}
		}
		return []map[string]struct{}{need}

	case *UnionNode:
		parents := g.Parents(id)
		out := make([]map[string]struct{}, len(parents))
		for i := range out {
			out[i] = map[string]struct{}{"*": {}}
		}
		return out

	case *BlockingAggNode:
		need := make(map[string]struct{})
		for _, n := range op.GroupNames {
			need[n] = struct{}{}
		}
		for _, m := range op.AggExprs {
			for c := range ColumnRefs(g, m.Expr) {
				need[c] = struct{}{}
			}
		}
		return []map[string]struct{}{need}

	case *MemorySinkNode, *GRPCSinkNode:
		return []map[string]struct{}{{"*": {}}}

	case *JoinNode:
		left := make(map[string]struct{})
		right := make(map[string]struct{})
		for _, c := range op.LeftOnCols {
			left[c] = struct{}{}
		}
		for _, c := range op.RightOnCols {
			right[c] = struct{}{}
		}
		if len(op.OutputColumns) == 0 {
			left["*"] = struct{}{}
			right["*"] = struct{}{}
		} else {
			for _, m := range op.OutputColumns {
				for c := range ColumnRefs(g, m.Expr) {
					left[c] = struct{}{}
					right[c] = struct{}{}
				}
			}
		}
		return []map[string]struct{}{left, right}

	default:
		return nil
	}
}

func hasStar(kept map[string]struct{}) bool {
	_, ok := kept["*"]
	return ok
}

// PruneOutputColumnsTo narrows id's own column-producing fields down to
// the columns named in kept (a nil kept, or one containing "*", means
// no narrowing — every column stays), dropping any now-unused owned
// expressions through the normal orphan path. It then returns what the
// (possibly narrowed) operator needs from each of its own parents, the
// same shape as RequiredInputColumns, so callers can keep propagating
// the demand upward.
func PruneOutputColumnsTo(g *Graph, id NodeID, kept map[string]struct{}) ([]map[string]struct{}, error) {
	all := kept == nil || hasStar(kept)

	switch op := g.OperatorData(id).(type) {
	case *MemorySourceNode:
		if !all && len(op.ColumnNames) > 0 {
			var trimmed []string
			for _, c := range op.ColumnNames {
				if _, ok := kept[c]; ok {
					trimmed = append(trimmed, c)
				}
			}
			op.ColumnNames = trimmed
		}

	case *MapNode:
		if !all {
			var keep []ColumnMapping
			for _, m := range op.ColExprs {
				if _, ok := kept[m.OutputName]; ok {
					keep = append(keep, m)
					continue
				}
				g.detachOwnership(id, m.Expr)
				if err := DeleteOrphansInSubtree(g, m.Expr); err != nil {
					return nil, err
				}
			}
			op.ColExprs = keep
		}

	case *FilterNode:
		if !all && len(op.ForwardColumns) > 0 {
			var trimmed []string
			for _, c := range op.ForwardColumns {
				if _, ok := kept[c]; ok {
					trimmed = append(trimmed, c)
				}
			}
			op.ForwardColumns = trimmed
		}

	case *BlockingAggNode:
		if !all {
			var keep []ColumnMapping
			for _, m := range op.AggExprs {
				if _, ok := kept[m.OutputName]; ok {
					keep = append(keep, m)
					continue
				}
				g.detachOwnership(id, m.Expr)
				if err := DeleteOrphansInSubtree(g, m.Expr); err != nil {
					return nil, err
				}
			}
			op.AggExprs = keep
		}
	}

	return RequiredInputColumns(g, id), nil
}

// PropagateColumnPruning walks the graph bottom-up from its sinks,
// narrowing every operator's output to only the columns something
// downstream actually uses. sinkKept gives the externally-requested
// output projection for each MemorySink/GRPCSink node; a sink absent
// from sinkKept (or mapped to nil) keeps its full output.
func PropagateColumnPruning(g *Graph, sinkKept map[NodeID]map[string]struct{}) error {
	order, err := TopologicalSort(g)
	if err != nil {
		return err
	}
	demand := make(map[NodeID]map[string]struct{}, len(order))
	for _, id := range order {
		if k, ok := sinkKept[id]; ok {
			demand[id] = k
		}
	}

	for i := len(order) - 1; i >= 0; i-- {
		id := order[i]
		needed, err := PruneOutputColumnsTo(g, id, demand[id])
		if err != nil {
			return err
		}
		parents := g.Parents(id)
		for i2, p := range parents {
			if i2 >= len(needed) {
				continue
			}
			merged := demand[p]
			if merged == nil {
				merged = make(map[string]struct{})
			}
			for c := range needed[i2] {
				merged[c] = struct{}{}
			}
			demand[p] = merged
		}
	}
	return nil
}
