package policy

import (
	"fmt"
	"sort"

	"github.com/terraconstructs/rolewarden/internal/platform"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// buildGraph creates a directed graph with an edge prerequisite → dependent
// for every dependency rule. Node ids are dense indexes, not snowflakes.
func (p *Policy) buildGraph() (*simple.DirectedGraph, map[int64]platform.RoleID) {
	g := simple.NewDirectedGraph()
	roleToNode := make(map[platform.RoleID]int64)
	nodeToRole := make(map[int64]platform.RoleID)

	node := func(role platform.RoleID) int64 {
		if id, ok := roleToNode[role]; ok {
			return id
		}
		id := int64(len(roleToNode))
		roleToNode[role] = id
		nodeToRole[id] = role
		g.AddNode(simple.Node(id))
		return id
	}

	for _, dependent := range p.ruleOrder {
		to := node(dependent)
		for _, prereq := range p.rules[dependent].Requires {
			from := node(prereq)
			if g.HasEdgeFromTo(from, to) {
				continue
			}
			g.SetEdge(g.NewEdge(simple.Node(from), simple.Node(to)))
		}
	}
	return g, nodeToRole
}

// DependencyOrder returns every role that takes part in a dependency rule,
// prerequisites before their dependents. It fails when the rules form a
// cycle, since no member could ever hold a role on such a cycle.
func (p *Policy) DependencyOrder() ([]platform.RoleID, error) {
	g, nodeToRole := p.buildGraph()

	sorted, err := topo.SortStabilized(g, func(nodes []graph.Node) {
		sort.Slice(nodes, func(i, j int) bool {
			return nodeToRole[nodes[i].ID()] < nodeToRole[nodes[j].ID()]
		})
	})
	if err != nil {
		return nil, fmt.Errorf("dependency rules form a cycle: %w", err)
	}

	order := make([]platform.RoleID, 0, len(sorted))
	for _, n := range sorted {
		order = append(order, nodeToRole[n.ID()])
	}
	return order, nil
}
