// Package depgraph maintains the acyclic "depends-on" relation between work items.
package depgraph

import (
	"slices"
	"strings"

	"github.com/MostafaZeid/my-supabase-app-sub002/internal/domain"
)

// Edge is one depends-on relation: ItemID cannot complete before DependsOnID.
type Edge struct {
	ItemID      string `json:"item_id"`
	DependsOnID string `json:"depends_on_id"`
}

// Graph maps each item id to its ordered direct prerequisites. It is not
// safe for concurrent use.
type Graph struct {
	deps map[string][]string
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{deps: map[string][]string{}}
}

// FromItems loads the dependency sets of items, inserting every edge through
// AddDependency. A stored cycle is reported as an InvariantViolation.
func FromItems(items []domain.WorkItem) (*Graph, error) {
	g := New()
	for _, item := range items {
		for _, dep := range item.Dependencies {
			if err := g.AddDependency(item.ID, dep); err != nil {
				return nil, &domain.InvariantViolation{ItemID: item.ID, Detail: err.Error()}
			}
		}
	}
	return g, nil
}

// AddDependency records that itemID depends on dependsOnID. It fails with a
// CycleError, leaving the graph unchanged, when dependsOnID already reaches
// itemID. Adding an existing edge is a no-op.
func (g *Graph) AddDependency(itemID, dependsOnID string) error {
	itemID = strings.TrimSpace(itemID)
	dependsOnID = strings.TrimSpace(dependsOnID)
	if itemID == "" || dependsOnID == "" {
		return &domain.ValidationError{Field: "dependency", Reason: "both ids are required"}
	}
	if itemID == dependsOnID {
		return &domain.CycleError{From: itemID, To: dependsOnID, Path: []string{itemID, itemID}}
	}
	if slices.Contains(g.deps[itemID], dependsOnID) {
		return nil
	}
	if path := g.pathBetween(dependsOnID, itemID); path != nil {
		return &domain.CycleError{From: itemID, To: dependsOnID, Path: append([]string{itemID}, path...)}
	}
	g.deps[itemID] = append(g.deps[itemID], dependsOnID)
	return nil
}

// RemoveDependency drops the edge if present and reports whether it existed.
func (g *Graph) RemoveDependency(itemID, dependsOnID string) bool {
	deps := g.deps[itemID]
	idx := slices.Index(deps, dependsOnID)
	if idx < 0 {
		return false
	}
	deps = slices.Delete(deps, idx, idx+1)
	if len(deps) == 0 {
		delete(g.deps, itemID)
	} else {
		g.deps[itemID] = deps
	}
	return true
}

// HasDependency reports whether the direct edge exists.
func (g *Graph) HasDependency(itemID, dependsOnID string) bool {
	return slices.Contains(g.deps[itemID], dependsOnID)
}

// Dependencies returns the direct prerequisites of itemID.
func (g *Graph) Dependencies(itemID string) []string {
	return slices.Clone(g.deps[itemID])
}

// Dependents returns the ids that directly depend on itemID, sorted.
func (g *Graph) Dependents(itemID string) []string {
	var out []string
	for id, deps := range g.deps {
		if slices.Contains(deps, itemID) {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

// DependencyChain returns every transitive prerequisite of itemID, each once,
// in depth-first first-visit order.
func (g *Graph) DependencyChain(itemID string) []string {
	visited := map[string]bool{itemID: true}
	var out []string
	var visit func(id string)
	visit = func(id string) {
		for _, dep := range g.deps[id] {
			if visited[dep] {
				continue
			}
			visited[dep] = true
			out = append(out, dep)
			visit(dep)
		}
	}
	visit(itemID)
	return out
}

// RemoveItem strips itemID from every dependency set and drops its own
// entry. It returns the ids whose dependency sets changed, sorted.
func (g *Graph) RemoveItem(itemID string) []string {
	delete(g.deps, itemID)
	var changed []string
	for id := range g.deps {
		if g.RemoveDependency(id, itemID) {
			changed = append(changed, id)
		}
	}
	slices.Sort(changed)
	return changed
}

// Edges returns every edge ordered by item id, then insertion order.
func (g *Graph) Edges() []Edge {
	ids := make([]string, 0, len(g.deps))
	for id := range g.deps {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	var out []Edge
	for _, id := range ids {
		for _, dep := range g.deps[id] {
			out = append(out, Edge{ItemID: id, DependsOnID: dep})
		}
	}
	return out
}

// Blockers returns the direct prerequisites of itemID that done reports as
// not yet completed.
func (g *Graph) Blockers(itemID string, done func(string) bool) []string {
	var out []string
	for _, dep := range g.deps[itemID] {
		if !done(dep) {
			out = append(out, dep)
		}
	}
	return out
}

// TopologicalOrder orders ids so every prerequisite precedes its dependents.
// Ready items are emitted in the order they appear in ids; edges to ids
// outside the set are ignored.
func (g *Graph) TopologicalOrder(ids []string) ([]string, error) {
	position := make(map[string]int, len(ids))
	for i, id := range ids {
		if _, ok := position[id]; !ok {
			position[id] = i
		}
	}
	indegree := make(map[string]int, len(position))
	dependents := make(map[string][]string)
	for id := range position {
		for _, dep := range g.deps[id] {
			if _, ok := position[dep]; !ok {
				continue
			}
			indegree[id]++
			dependents[dep] = append(dependents[dep], id)
		}
	}

	byPosition := func(a, b string) int { return position[a] - position[b] }
	queue := make([]string, 0, len(position))
	for id := range position {
		if indegree[id] == 0 {
			queue = append(queue, id)
		}
	}
	slices.SortFunc(queue, byPosition)

	order := make([]string, 0, len(position))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		for _, next := range dependents[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
		slices.SortFunc(queue, byPosition)
	}
	if len(order) != len(position) {
		return nil, &domain.InvariantViolation{Detail: "dependency graph contains a cycle"}
	}
	return order, nil
}

// pathBetween returns a depends-on path from -> ... -> to, or nil when to is
// not reachable from from.
func (g *Graph) pathBetween(from, to string) []string {
	visited := map[string]bool{}
	var walk func(id string) []string
	walk = func(id string) []string {
		if id == to {
			return []string{id}
		}
		if visited[id] {
			return nil
		}
		visited[id] = true
		for _, dep := range g.deps[id] {
			if rest := walk(dep); rest != nil {
				return append([]string{id}, rest...)
			}
		}
		return nil
	}
	return walk(from)
}
