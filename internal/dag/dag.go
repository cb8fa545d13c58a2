// Package dag builds the dependency graph over table references and
// resolves selection expressions into the active set of a run.
package dag

import (
	"sort"

	"github.com/carbonfact/lea/pkg/core"
)

// Graph is a directed acyclic graph of scripts keyed by table reference.
// Edges point from a dependency to its dependents.
type Graph struct {
	scripts  map[string]*core.Script
	refs     map[string]core.TableRef
	children map[string][]string // parent -> children
	parents  map[string][]string // child -> parents
}

// New assembles scripts into a graph and rejects cycles. Edges are created
// only between scripts present in the set; external references are ignored.
func New(scripts []*core.Script) (*Graph, error) {
	g := &Graph{
		scripts:  make(map[string]*core.Script, len(scripts)),
		refs:     make(map[string]core.TableRef, len(scripts)),
		children: make(map[string][]string),
		parents:  make(map[string][]string),
	}
	for _, s := range scripts {
		key := s.Ref.Key()
		if _, ok := g.scripts[key]; ok {
			return nil, core.Parsef(s.Path, 0, "duplicate table %s", s.Ref)
		}
		g.scripts[key] = s
		g.refs[key] = s.Ref
	}
	for _, s := range scripts {
		child := s.Ref.Key()
		for _, dep := range s.Dependencies {
			parent := dep.Key()
			if parent == child {
				continue
			}
			if _, ok := g.scripts[parent]; !ok {
				return nil, core.Parsef(s.Path, 0, "%s depends on %s, which no script produces", s.Ref, dep)
			}
			g.children[parent] = append(g.children[parent], child)
			g.parents[child] = append(g.parents[child], parent)
		}
	}
	if cycle := g.findCycle(); cycle != nil {
		return nil, &core.CycleError{Cycle: cycle}
	}
	return g, nil
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.scripts) }

// Script returns the script for a reference, or nil.
func (g *Graph) Script(ref core.TableRef) *core.Script {
	return g.scripts[ref.Key()]
}

// Refs returns all node references, sorted.
func (g *Graph) Refs() []core.TableRef {
	return g.sortedRefs(g.keys())
}

// Parents returns the direct dependencies of a node.
func (g *Graph) Parents(ref core.TableRef) []core.TableRef {
	return g.sortedRefs(g.parents[ref.Key()])
}

// Children returns the direct dependents of a node.
func (g *Graph) Children(ref core.TableRef) []core.TableRef {
	return g.sortedRefs(g.children[ref.Key()])
}

// Ancestors returns the transitive dependencies of a node.
func (g *Graph) Ancestors(ref core.TableRef) []core.TableRef {
	return g.sortedRefs(g.closure(ref.Key(), g.parents))
}

// Descendants returns the transitive dependents of a node.
func (g *Graph) Descendants(ref core.TableRef) []core.TableRef {
	return g.sortedRefs(g.closure(ref.Key(), g.children))
}

// TopoSort returns the nodes in dependency order. Ties break by key so the
// order is deterministic.
func (g *Graph) TopoSort() []core.TableRef {
	visited := make(map[string]bool, len(g.scripts))
	var order []string

	var visit func(key string)
	visit = func(key string) {
		if visited[key] {
			return
		}
		visited[key] = true
		for _, parent := range sorted(g.parents[key]) {
			visit(parent)
		}
		order = append(order, key)
	}
	for _, key := range sorted(g.keys()) {
		visit(key)
	}

	refs := make([]core.TableRef, len(order))
	for i, key := range order {
		refs[i] = g.refs[key]
	}
	return refs
}

// findCycle returns one dependency cycle, or nil. Depth-first search with a
// recursion stack; the returned path starts and ends at the same node.
func (g *Graph) findCycle() []core.TableRef {
	const (
		white = iota // unvisited
		grey         // on the recursion stack
		black        // done
	)
	color := make(map[string]int, len(g.scripts))
	var stack []string
	var cycle []core.TableRef

	var visit func(key string) bool
	visit = func(key string) bool {
		color[key] = grey
		stack = append(stack, key)
		for _, child := range sorted(g.children[key]) {
			switch color[child] {
			case white:
				if visit(child) {
					return true
				}
			case grey:
				// Found: slice the stack from the first occurrence.
				start := 0
				for i, k := range stack {
					if k == child {
						start = i
						break
					}
				}
				for _, k := range stack[start:] {
					cycle = append(cycle, g.refs[k])
				}
				cycle = append(cycle, g.refs[child])
				return true
			}
		}
		stack = stack[:len(stack)-1]
		color[key] = black
		return false
	}

	for _, key := range sorted(g.keys()) {
		if color[key] == white && visit(key) {
			return cycle
		}
	}
	return nil
}

func (g *Graph) closure(start string, edges map[string][]string) []string {
	seen := make(map[string]bool)
	queue := append([]string{}, edges[start]...)
	for len(queue) > 0 {
		key := queue[0]
		queue = queue[1:]
		if seen[key] {
			continue
		}
		seen[key] = true
		queue = append(queue, edges[key]...)
	}
	out := make([]string, 0, len(seen))
	for key := range seen {
		out = append(out, key)
	}
	return out
}

func (g *Graph) keys() []string {
	keys := make([]string, 0, len(g.scripts))
	for key := range g.scripts {
		keys = append(keys, key)
	}
	return keys
}

func (g *Graph) sortedRefs(keys []string) []core.TableRef {
	refs := make([]core.TableRef, len(keys))
	for i, key := range sorted(keys) {
		refs[i] = g.refs[key]
	}
	return refs
}

func sorted(keys []string) []string {
	out := append([]string{}, keys...)
	sort.Strings(out)
	return out
}
