package ir

import "sort"

// TopologicalSort returns the graph's operator nodes in dependency
// order (every parent precedes its children), using Kahn's algorithm
// over the query-plan operator DAG. Ties are broken by ascending
// NodeID so the result is deterministic across runs.
func TopologicalSort(g *Graph) ([]NodeID, error) {
	ids := g.AllOperatorIDs()
	inDegree := make(map[NodeID]int, len(ids))
	for _, id := range ids {
		inDegree[id] = len(g.Parents(id))
	}

	var ready []NodeID
	for _, id := range ids {
		if inDegree[id] == 0 {
			ready = append(ready, id)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })

	order := make([]NodeID, 0, len(ids))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		var justFreed []NodeID
		for _, c := range g.Children(id) {
			inDegree[c]--
			if inDegree[c] == 0 {
				justFreed = append(justFreed, c)
			}
		}
		if len(justFreed) == 0 {
			continue
		}
		sort.Slice(justFreed, func(i, j int) bool { return justFreed[i] < justFreed[j] })
		ready = mergeSorted(ready, justFreed)
	}

	if len(order) != len(ids) {
		return nil, Internalf("topological sort found a cycle among %d operator nodes (ordered %d)", len(ids), len(order))
	}
	return order, nil
}

func mergeSorted(a, b []NodeID) []NodeID {
	out := make([]NodeID, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i] <= b[j] {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}
