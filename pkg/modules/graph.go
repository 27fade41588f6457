package modules

import (
	"strings"

	"github.com/freitascorp/andromeda/pkg/hosterror"
)

// dependencyGraph is a directed multigraph of module ids: edges are
// added only while a record is in the Parsing state, as each of its
// imports resolves to a dependency.
type dependencyGraph struct {
	edges map[ModuleID][]ModuleID
}

func newDependencyGraph() *dependencyGraph {
	return &dependencyGraph{edges: make(map[ModuleID][]ModuleID)}
}

func (g *dependencyGraph) addEdge(from, to ModuleID) {
	g.edges[from] = append(g.edges[from], to)
}

// topologicalOrder computes a load order via Kahn's algorithm so every
// dependency precedes its dependents: g.edges holds importer->imported
// edges, so the algorithm runs over the reverse graph (imported->
// importer) and starts from nodes with no remaining dependency. On a
// cycle, CircularImport is returned naming every module still stuck.
func (g *dependencyGraph) topologicalOrder(specifierOf func(ModuleID) string) ([]ModuleID, error) {
	dependents := make(map[ModuleID][]ModuleID) // imported -> importers
	indegree := make(map[ModuleID]int)          // number of unresolved dependencies
	nodes := make(map[ModuleID]bool)

	for from, tos := range g.edges {
		nodes[from] = true
		if _, ok := indegree[from]; !ok {
			indegree[from] = 0
		}
		for _, to := range tos {
			nodes[to] = true
			indegree[from]++
			dependents[to] = append(dependents[to], from)
		}
	}

	var queue []ModuleID
	for id := range nodes {
		if indegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	var order []ModuleID
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		for _, dependent := range dependents[id] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(order) != len(nodes) {
		var remaining []string
		for id, deg := range indegree {
			if deg > 0 {
				remaining = append(remaining, specifierOf(id))
			}
		}
		return nil, hosterror.Newf(hosterror.KindCircularImport, "circular import among: %s", strings.Join(remaining, " -> "))
	}

	return order, nil
}
