// Package rules implements plan-rewrite passes over the query IR.
package rules

import (
	"github.com/obsplane/core/internal/ir"
)

// PushDownFilters repeatedly moves Filter nodes one step closer to
// their data source until no more moves are safe, and reports whether
// it changed anything. Each individual move is driven by the kind of
// the filter's current parent:
//
//   - MemorySource/EmptySource: nothing above a source to push into, stop.
//   - Map: pushable only if every column the filter touches is a pure
//     rename of one input column (no Func) or passes through unchanged;
//     the filter's predicate and forwarded-column list are rewritten to
//     the Map's pre-rename names. Unrelated computed columns on the
//     same Map don't block the push.
//   - BlockingAgg: pushable only if every column the filter touches is
//     one of the aggregate's group keys, never an aggregated value.
//   - Filter: always merged — the two adjacent filters are fused into
//     one whose predicate is the AND of both.
//   - Union, Join, or any parent with more than one consumer of its
//     output: never pushable, since moving the filter would change what
//     the parent's other consumers see.
func PushDownFilters(g *ir.Graph) (bool, error) {
	changedAny := false
	for {
		changed, err := pushOnePass(g)
		if err != nil {
			return changedAny, err
		}
		if !changed {
			return changedAny, nil
		}
		changedAny = true
	}
}

func pushOnePass(g *ir.Graph) (bool, error) {
	for _, fid := range g.FindNodesOfType(ir.KindFilter) {
		moved, err := tryPushFilter(g, fid)
		if err != nil {
			return false, err
		}
		if moved {
			return true, nil
		}
	}
	return false, nil
}

func tryPushFilter(g *ir.Graph, fid ir.NodeID) (bool, error) {
	parents := g.Parents(fid)
	if len(parents) != 1 {
		return false, nil
	}
	pid := parents[0]

	// A parent with more than one consumer can't have a filter spliced
	// below it: the parent's other consumers would start seeing
	// filtered rows they were never meant to.
	if len(g.Children(pid)) != 1 {
		return false, nil
	}

	switch g.Node(pid).OpKind {
	case ir.KindMap:
		return tryPushThroughMap(g, fid, pid)
	case ir.KindBlockingAgg:
		return tryPushThroughAgg(g, fid, pid)
	case ir.KindFilter:
		return tryPushThroughFilter(g, fid, pid)
	default:
		// MemorySource, EmptySource, Union, Join, MemorySink, GRPCSink:
		// none of these is a safe or meaningful place to push through.
		return false, nil
	}
}

func tryPushThroughMap(g *ir.Graph, fid, pid ir.NodeID) (bool, error) {
	mn, ok := g.OperatorData(pid).(*ir.MapNode)
	if !ok {
		return false, nil
	}
	fn, ok := g.OperatorData(fid).(*ir.FilterNode)
	if !ok {
		return false, nil
	}

	// Outputs produced by a bare column reference are pure renames and
	// can be rewritten to their input name. Anything else (a literal, a
	// Func) is a computed output: it shadows whatever input shared its
	// name, but only blocks the push if the filter actually touches it.
	rename := make(map[string]string, len(mn.ColExprs))
	computed := make(map[string]bool)
	for _, m := range mn.ColExprs {
		if ce, ok := g.ExprData(m.Expr).(*ir.ColumnExpr); ok {
			rename[m.OutputName] = ce.Name
		} else {
			computed[m.OutputName] = true
		}
	}

	touch := func(names []string) bool {
		for _, c := range names {
			if computed[c] {
				// The column doesn't exist below the Map.
				return false
			}
			if _, renamed := rename[c]; renamed {
				continue
			}
			if !mn.KeepInputColumns {
				return false
			}
			// Falls through unchanged: must be one of the Map's passed-
			// through input columns, which share their name on both sides.
		}
		return true
	}
	if fn.HasFilterExpr {
		refs := ir.ColumnRefs(g, fn.FilterExpr)
		names := make([]string, 0, len(refs))
		for c := range refs {
			names = append(names, c)
		}
		if !touch(names) {
			return false, nil
		}
	}
	if !touch(fn.ForwardColumns) {
		return false, nil
	}

	var newExprID ir.NodeID
	var err error
	if fn.HasFilterExpr {
		newExprID, err = buildRenamedExpr(g, fn.FilterExpr, rename)
		if err != nil {
			return false, err
		}
	}
	newForward := make([]string, len(fn.ForwardColumns))
	for i, c := range fn.ForwardColumns {
		if nn, ok := rename[c]; ok {
			newForward[i] = nn
		} else {
			newForward[i] = c
		}
	}

	if err := moveFilterAboveParent(g, fid, pid); err != nil {
		return false, err
	}
	if fn.HasFilterExpr {
		if err := ir.SetFilterExpr(g, fid, newExprID); err != nil {
			return false, err
		}
	}
	fn.ForwardColumns = newForward
	return true, nil
}

func tryPushThroughAgg(g *ir.Graph, fid, pid ir.NodeID) (bool, error) {
	an, ok := g.OperatorData(pid).(*ir.BlockingAggNode)
	if !ok {
		return false, nil
	}
	fn, ok := g.OperatorData(fid).(*ir.FilterNode)
	if !ok {
		return false, nil
	}

	groupSet := make(map[string]bool, len(an.GroupNames))
	for _, n := range an.GroupNames {
		groupSet[n] = true
	}
	if fn.HasFilterExpr {
		for c := range ir.ColumnRefs(g, fn.FilterExpr) {
			if !groupSet[c] {
				return false, nil
			}
		}
	}
	for _, c := range fn.ForwardColumns {
		if !groupSet[c] {
			return false, nil
		}
	}

	if err := moveFilterAboveParent(g, fid, pid); err != nil {
		return false, err
	}
	return true, nil
}

// tryPushThroughFilter handles two adjacent Filters. Swapping their
// order would just present the next pass with the same adjacency in
// reverse and oscillate forever, so instead they're fused into one:
// pid keeps its place in the DAG, its predicate becomes the
// conjunction of both, and fid's forwarded-column list (what's
// actually needed further downstream) wins.
func tryPushThroughFilter(g *ir.Graph, fid, pid ir.NodeID) (bool, error) {
	if _, ok := g.OperatorData(pid).(*ir.FilterNode); !ok {
		return false, nil
	}
	if err := mergeAdjacentFilters(g, fid, pid); err != nil {
		return false, err
	}
	return true, nil
}

func mergeAdjacentFilters(g *ir.Graph, fid, pid ir.NodeID) error {
	upper := g.OperatorData(fid).(*ir.FilterNode)
	lower := g.OperatorData(pid).(*ir.FilterNode)

	switch {
	case upper.HasFilterExpr && lower.HasFilterExpr:
		andID := g.AddExpr(ir.ExprFunc, &ir.FuncExpr{Name: "and"})
		a1, err := ir.OptionallyCloneWithEdge(g, andID, lower.FilterExpr)
		if err != nil {
			return err
		}
		a2, err := ir.OptionallyCloneWithEdge(g, andID, upper.FilterExpr)
		if err != nil {
			return err
		}
		g.ExprData(andID).(*ir.FuncExpr).ArgIDs = []ir.NodeID{a1, a2}
		if err := ir.SetFilterExpr(g, pid, andID); err != nil {
			return err
		}
	case upper.HasFilterExpr:
		if err := ir.SetFilterExpr(g, pid, upper.FilterExpr); err != nil {
			return err
		}
	}
	lower.ForwardColumns = append([]string(nil), upper.ForwardColumns...)

	children := g.Children(fid)
	if err := g.DeleteEdge(pid, fid); err != nil {
		return err
	}
	for _, c := range children {
		if err := g.DeleteEdge(fid, c); err != nil {
			return err
		}
	}
	for _, c := range children {
		if err := g.AddEdge(pid, c); err != nil {
			return err
		}
	}
	return g.DeleteNode(fid)
}

// moveFilterAboveParent performs the purely structural half of a push:
// fid and pid trade places in the chain above pid's single remaining
// parent, with fid's own consumers reattached to pid. Any rewriting
// fid's payload needs (Map's column renames) is the caller's job,
// before or after this call.
func moveFilterAboveParent(g *ir.Graph, fid, pid ir.NodeID) error {
	grandparents := g.Parents(pid)
	if len(grandparents) != 1 {
		return ir.Internalf("moveFilterAboveParent: parent %d does not have exactly one parent", pid)
	}
	gpid := grandparents[0]
	children := g.Children(fid)

	if err := g.DeleteEdge(pid, fid); err != nil {
		return err
	}
	if err := g.DeleteEdge(gpid, pid); err != nil {
		return err
	}
	for _, c := range children {
		if err := g.DeleteEdge(fid, c); err != nil {
			return err
		}
	}

	if err := g.AddEdge(gpid, fid); err != nil {
		return err
	}
	if err := g.AddEdge(fid, pid); err != nil {
		return err
	}
	for _, c := range children {
		if err := g.AddEdge(pid, c); err != nil {
			return err
		}
	}
	return nil
}

// buildRenamedExpr deep-copies the expression subtree rooted at
// exprID, substituting any ColumnExpr name found in mapping. It
// returns a fresh, unowned expression tree; the caller attaches it
// (typically via ir.SetFilterExpr, which handles orphaning whatever it
// replaces).
func buildRenamedExpr(g *ir.Graph, exprID ir.NodeID, mapping map[string]string) (ir.NodeID, error) {
	data := g.ExprData(exprID)
	kind := g.Node(exprID).ExprKind

	switch e := data.(type) {
	case *ir.ColumnExpr:
		name := e.Name
		if nn, ok := mapping[name]; ok {
			name = nn
		}
		return g.AddExpr(kind, &ir.ColumnExpr{Name: name}), nil

	case *ir.FuncExpr:
		fn := &ir.FuncExpr{Name: e.Name}
		id := g.AddExpr(kind, fn)
		args := make([]ir.NodeID, len(e.ArgIDs))
		for i, a := range e.ArgIDs {
			rid, err := buildRenamedExpr(g, a, mapping)
			if err != nil {
				return 0, err
			}
			attached, err := ir.OptionallyCloneWithEdge(g, id, rid)
			if err != nil {
				return 0, err
			}
			args[i] = attached
		}
		fn.ArgIDs = args
		return id, nil

	default:
		return g.AddExpr(kind, data.CloneData()), nil
	}
}
