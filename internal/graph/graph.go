// Package graph builds and validates the dependency graph of one objective.
//
// A Graph is immutable once Build returns: node states live elsewhere (see
// package run), so a Graph may be read from any goroutine without locking.
package graph

import (
	"fmt"
	"strings"

	"github.com/felixgeelhaar/taskgraph/internal/task"
)

// Graph is a validated, acyclic set of task specs.
type Graph struct {
	specs      map[string]task.Spec
	order      []string
	deps       map[string][]string
	dependents map[string][]string
	topo       []string
	levels     map[string]int
}

// Build validates specs and freezes them into a Graph. It fails with a
// *BuildError wrapping ErrInvalidSpec, ErrDuplicateID, ErrDanglingDependency
// or ErrCycleDetected, checked in that order.
func Build(specs []task.Spec) (*Graph, error) {
	g := &Graph{
		specs:      make(map[string]task.Spec, len(specs)),
		order:      make([]string, 0, len(specs)),
		deps:       make(map[string][]string, len(specs)),
		dependents: make(map[string][]string, len(specs)),
	}

	for i, spec := range specs {
		if strings.TrimSpace(spec.ID) == "" {
			return nil, &BuildError{Kind: KindInvalidSpec, Detail: fmt.Sprintf("task at index %d has an empty id", i)}
		}
		if strings.TrimSpace(spec.ToolName) == "" {
			return nil, &BuildError{Kind: KindInvalidSpec, Nodes: []string{spec.ID}, Detail: fmt.Sprintf("task %q names no tool", spec.ID)}
		}
		if _, exists := g.specs[spec.ID]; exists {
			return nil, &BuildError{Kind: KindDuplicateID, Nodes: []string{spec.ID}, Detail: fmt.Sprintf("duplicate task ID %q at index %d", spec.ID, i)}
		}
		g.specs[spec.ID] = spec
		g.order = append(g.order, spec.ID)
	}

	for _, id := range g.order {
		seen := make(map[string]bool)
		var deps []string
		for _, dep := range g.specs[id].DependsOn {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			if _, ok := g.specs[dep]; !ok {
				return nil, &BuildError{Kind: KindDanglingDependency, Nodes: []string{id, dep}, Detail: fmt.Sprintf("task %q depends on unknown task %q", id, dep)}
			}
			deps = append(deps, dep)
		}
		g.deps[id] = deps
	}

	if err := g.checkAcyclic(); err != nil {
		return nil, err
	}

	for _, id := range g.order {
		for _, dep := range g.deps[id] {
			g.dependents[dep] = append(g.dependents[dep], id)
		}
	}
	g.computeOrder()

	return g, nil
}

const (
	white = iota
	gray
	black
)

// checkAcyclic runs a three-color DFS from every node in declaration order.
// An edge into a gray node closes a cycle.
func (g *Graph) checkAcyclic() error {
	color := make(map[string]int, len(g.order))
	var stack []string

	var visit func(id string) error
	visit = func(id string) error {
		color[id] = gray
		stack = append(stack, id)

		for _, dep := range g.deps[id] {
			switch color[dep] {
			case gray:
				start := 0
				for i, s := range stack {
					if s == dep {
						start = i
						break
					}
				}
				chain := append(append([]string(nil), stack[start:]...), dep)
				return cycleError(chain)
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}

		stack = stack[:len(stack)-1]
		color[id] = black
		return nil
	}

	for _, id := range g.order {
		if color[id] == white {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// computeOrder fills a stable topological order (Kahn, seeded in
// declaration order) and the level of every node.
func (g *Graph) computeOrder() {
	indegree := make(map[string]int, len(g.order))
	for _, id := range g.order {
		indegree[id] = len(g.deps[id])
	}

	queue := g.Roots()
	g.topo = make([]string, 0, len(g.order))
	g.levels = make(map[string]int, len(g.order))

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		g.topo = append(g.topo, id)

		level := 0
		for _, dep := range g.deps[id] {
			if l := g.levels[dep] + 1; l > level {
				level = l
			}
		}
		g.levels[id] = level

		for _, next := range g.dependents[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.order)
}

// IDs returns node ids in declaration order.
func (g *Graph) IDs() []string {
	return append([]string(nil), g.order...)
}

// Has reports whether id names a node of this graph.
func (g *Graph) Has(id string) bool {
	_, ok := g.specs[id]
	return ok
}

// Spec returns the task.Spec of node id.
func (g *Graph) Spec(id string) (task.Spec, bool) {
	spec, ok := g.specs[id]
	return spec, ok
}

// Specs returns all specs in declaration order.
func (g *Graph) Specs() []task.Spec {
	out := make([]task.Spec, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.specs[id])
	}
	return out
}

// Roots returns the nodes with no dependencies, in declaration order.
func (g *Graph) Roots() []string {
	var roots []string
	for _, id := range g.order {
		if len(g.deps[id]) == 0 {
			roots = append(roots, id)
		}
	}
	return roots
}

// Dependencies returns the direct prerequisites of id.
func (g *Graph) Dependencies(id string) []string {
	return append([]string(nil), g.deps[id]...)
}

// Dependents returns the nodes whose dependency set includes id.
func (g *Graph) Dependents(id string) []string {
	return append([]string(nil), g.dependents[id]...)
}

// Descendants returns every node that transitively depends on id, in
// topological order.
func (g *Graph) Descendants(id string) []string {
	reached := make(map[string]bool)
	queue := g.dependents[id]
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if reached[next] {
			continue
		}
		reached[next] = true
		queue = append(queue, g.dependents[next]...)
	}

	out := make([]string, 0, len(reached))
	for _, n := range g.topo {
		if reached[n] {
			out = append(out, n)
		}
	}
	return out
}

// IsSatisfied reports whether every dependency of id is Succeeded in states.
func (g *Graph) IsSatisfied(id string, states map[string]task.State) bool {
	if !g.Has(id) {
		return false
	}
	for _, dep := range g.deps[id] {
		if states[dep] != task.StateSucceeded {
			return false
		}
	}
	return true
}

// TopologicalOrder returns an order in which every node follows its
// dependencies. Ties keep declaration order.
func (g *Graph) TopologicalOrder() []string {
	return append([]string(nil), g.topo...)
}

// Levels groups nodes by depth: level 0 holds the roots, level n holds
// nodes whose deepest dependency sits at level n-1. Nodes in one level can
// run in parallel.
func (g *Graph) Levels() [][]string {
	var levels [][]string
	for _, id := range g.topo {
		l := g.levels[id]
		for len(levels) <= l {
			levels = append(levels, nil)
		}
		levels[l] = append(levels[l], id)
	}
	return levels
}
