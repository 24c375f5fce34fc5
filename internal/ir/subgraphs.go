package ir

import "sort"

// IndependentSubgraphs partitions the graph's operator nodes into
// connected components under the structural (parent/child, treated as
// undirected) edges, using union-find. Two operators end up in the
// same subgraph iff there is some path between them ignoring edge
// direction; a plan with, say, two unrelated MemorySource->MemorySink
// chains produces two independent subgraphs. Each component is
// returned sorted by NodeID, and the components themselves are ordered
// by their smallest member, for determinism.
func IndependentSubgraphs(g *Graph) [][]NodeID {
	ids := g.AllOperatorIDs()
	parent := make(map[NodeID]NodeID, len(ids))
	for _, id := range ids {
		parent[id] = id
	}

	var find func(NodeID) NodeID
	find = func(x NodeID) NodeID {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	union := func(a, b NodeID) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[ra] = rb
		}
	}

	for _, id := range ids {
		for _, c := range g.Children(id) {
			union(id, c)
		}
	}

	groups := make(map[NodeID][]NodeID)
	for _, id := range ids {
		r := find(id)
		groups[r] = append(groups[r], id)
	}

	out := make([][]NodeID, 0, len(groups))
	for _, members := range groups {
		sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
		out = append(out, members)
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}
