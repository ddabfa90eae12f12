package transform

import (
	"slices"
	"sort"

	"datawrangler/internal/config"
	"datawrangler/internal/domain"
)

// Graph is an acyclic dependency graph over transformations. An edge A→B
// means A must be applied before B.
type Graph struct {
	nodes      map[string]domain.Transformation
	deps       map[string][]string // id → ids it depends on
	dependents map[string][]string // id → ids depending on it
	order      []string
}

// BuildGraph derives ordering edges between transformations. Two
// transformations touching a common column are ordered by type precedence
// (cast, fill, outliers, encode, normalize); explicit DependsOn entries add
// further edges. A cycle is reported as *domain.DependencyCycleError.
func BuildGraph(ts []domain.Transformation, cfg config.GraphConfig) (*Graph, error) {
	g := &Graph{
		nodes:      make(map[string]domain.Transformation, len(ts)),
		deps:       make(map[string][]string, len(ts)),
		dependents: make(map[string][]string, len(ts)),
	}
	for _, t := range ts {
		if _, dup := g.nodes[t.ID]; dup {
			return nil, domain.ErrValidation("duplicate transformation id %q", t.ID).WithCode(domain.IssueInvalidPlan)
		}
		g.nodes[t.ID] = t
	}

	for i, a := range ts {
		for j, b := range ts {
			if i == j {
				continue
			}
			if precedes(a, b, cfg) {
				g.addEdge(a.ID, b.ID)
			}
		}
	}
	for _, t := range ts {
		for _, dep := range t.DependsOn {
			if _, ok := g.nodes[dep]; !ok {
				return nil, domain.ErrValidation("%s depends on unknown transformation %q", t.ID, dep).WithCode(domain.IssueInvalidPlan)
			}
			if dep == t.ID {
				return nil, &domain.DependencyCycleError{IDs: []string{t.ID, t.ID}}
			}
			g.addEdge(dep, t.ID)
		}
	}
	for id := range g.deps {
		sort.Strings(g.deps[id])
	}
	for id := range g.dependents {
		sort.Strings(g.dependents[id])
	}

	if cycle := g.findCycle(); cycle != nil {
		return nil, &domain.DependencyCycleError{IDs: cycle}
	}
	g.order = g.topoOrder()
	return g, nil
}

// precedes reports whether a must run before b by the implicit rules.
func precedes(a, b domain.Transformation, cfg config.GraphConfig) bool {
	if a.Type == domain.DropDuplicates || b.Type == domain.DropDuplicates {
		return cfg.DropDuplicatesFirst && a.Type == domain.DropDuplicates && b.Type != domain.DropDuplicates
	}
	if a.Type.Precedence() >= b.Type.Precedence() {
		return false
	}
	for _, c := range a.TargetColumns {
		if b.Targets(c) {
			return true
		}
	}
	return false
}

func (g *Graph) addEdge(from, to string) {
	if slices.Contains(g.deps[to], from) {
		return
	}
	g.deps[to] = append(g.deps[to], from)
	g.dependents[from] = append(g.dependents[from], to)
}

// findCycle runs a three-colour DFS and returns the ids on the first cycle
// found, closed with its starting id, or nil.
func (g *Graph) findCycle() []string {
	const (
		white = iota
		grey
		black
	)
	colour := make(map[string]int, len(g.nodes))
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		colour[id] = grey
		stack = append(stack, id)
		for _, next := range g.dependents[id] {
			switch colour[next] {
			case grey:
				start := slices.Index(stack, next)
				cycle = append(slices.Clone(stack[start:]), next)
				return true
			case white:
				if visit(next) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		colour[id] = black
		return false
	}

	for _, id := range g.sortedIDs() {
		if colour[id] == white && visit(id) {
			return cycle
		}
	}
	return nil
}

// topoOrder runs Kahn's algorithm, choosing among ready nodes by
// (precedence, id) so the order is stable.
func (g *Graph) topoOrder() []string {
	inDegree := make(map[string]int, len(g.nodes))
	for id := range g.nodes {
		inDegree[id] = len(g.deps[id])
	}
	var ready []string
	for id, d := range inDegree {
		if d == 0 {
			ready = append(ready, id)
		}
	}

	order := make([]string, 0, len(g.nodes))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return g.less(ready[i], ready[j]) })
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)
		for _, next := range g.dependents[id] {
			inDegree[next]--
			if inDegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}
	return order
}

func (g *Graph) less(a, b string) bool {
	pa, pb := g.nodes[a].Type.Precedence(), g.nodes[b].Type.Precedence()
	if pa != pb {
		return pa < pb
	}
	return a < b
}

func (g *Graph) sortedIDs() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Order returns the transformation ids in topological order.
func (g *Graph) Order() []string {
	return slices.Clone(g.order)
}

// Transformations returns the transformations in topological order.
func (g *Graph) Transformations() []domain.Transformation {
	out := make([]domain.Transformation, len(g.order))
	for i, id := range g.order {
		out[i] = g.nodes[id]
	}
	return out
}

// Node returns the transformation with id.
func (g *Graph) Node(id string) (domain.Transformation, bool) {
	t, ok := g.nodes[id]
	return t, ok
}

// Dependencies returns the ids id directly depends on.
func (g *Graph) Dependencies(id string) []string {
	return slices.Clone(g.deps[id])
}

// Dependents returns the ids directly depending on id.
func (g *Graph) Dependents(id string) []string {
	return slices.Clone(g.dependents[id])
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Levels groups the ids into layers whose members have no edges between
// them; every dependency of a node sits in an earlier layer.
func (g *Graph) Levels() [][]string {
	depth := make(map[string]int, len(g.order))
	var levels [][]string
	for _, id := range g.order {
		d := 0
		for _, dep := range g.deps[id] {
			d = max(d, depth[dep]+1)
		}
		depth[id] = d
		if d == len(levels) {
			levels = append(levels, nil)
		}
		levels[d] = append(levels[d], id)
	}
	for _, l := range levels {
		sort.Strings(l)
	}
	return levels
}
