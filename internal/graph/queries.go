package graph

import (
	"sort"

	"github.com/dshills/codekb/pkg/types"
)

// DefaultRelatedDepth is the hop count used when RelatedSymbols gets depth <= 0
const DefaultRelatedDepth = 1

// matchesLocked returns symbol ids whose name or qualified name equals name
func (g *Graph) matchesLocked(name string) []string {
	ids := make([]string, 0, len(g.byName[name]))
	for id := range g.byName[name] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (g *Graph) summarize(ids map[string]struct{}) []types.RelatedSymbol {
	out := make([]types.RelatedSymbol, 0, len(ids))
	for id := range ids {
		if n, ok := g.nodes[id]; ok {
			out = append(out, n.Summary())
		}
	}
	sortSummaries(out)
	return out
}

func sortSummaries(s []types.RelatedSymbol) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].FilePath != s[j].FilePath {
			return s[i].FilePath < s[j].FilePath
		}
		if s[i].LineStart != s[j].LineStart {
			return s[i].LineStart < s[j].LineStart
		}
		return s[i].ID < s[j].ID
	})
}

// FindSymbol returns every symbol named name (or Class.name), ordered by file and line
func (g *Graph) FindSymbol(name string) []types.RelatedSymbol {
	g.mu.RLock()
	defer g.mu.RUnlock()

	set := make(map[string]struct{})
	for _, id := range g.matchesLocked(name) {
		set[id] = struct{}{}
	}
	return g.summarize(set)
}

// FindCallers returns functions with a CALLS edge into any function named name
func (g *Graph) FindCallers(name string) []types.RelatedSymbol {
	g.mu.RLock()
	defer g.mu.RUnlock()

	set := make(map[string]struct{})
	for _, id := range g.matchesLocked(name) {
		for k := range g.in[id] {
			if k.kind == EdgeCalls {
				set[k.id] = struct{}{}
			}
		}
	}
	return g.summarize(set)
}

// FindCallees returns functions called by any function named name
func (g *Graph) FindCallees(name string) []types.RelatedSymbol {
	g.mu.RLock()
	defer g.mu.RUnlock()

	set := make(map[string]struct{})
	for _, id := range g.matchesLocked(name) {
		for k := range g.out[id] {
			if k.kind == EdgeCalls {
				set[k.id] = struct{}{}
			}
		}
	}
	return g.summarize(set)
}

// FindReferences returns direct neighbours of any symbol named name over every edge kind
func (g *Graph) FindReferences(name string) []types.RelatedSymbol {
	g.mu.RLock()
	defer g.mu.RUnlock()

	matches := g.matchesLocked(name)
	self := make(map[string]struct{}, len(matches))
	for _, id := range matches {
		self[id] = struct{}{}
	}
	set := make(map[string]struct{})
	for _, id := range matches {
		for k := range g.in[id] {
			set[k.id] = struct{}{}
		}
		for k := range g.out[id] {
			set[k.id] = struct{}{}
		}
	}
	for id := range self {
		delete(set, id)
	}
	return g.summarize(set)
}

// ImpactAnalysis returns files that import path directly or transitively, sorted.
// The file itself is excluded and an unknown path yields an empty list.
func (g *Graph) ImpactAnalysis(path string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	start := FileID(path)
	result := []string{}
	if _, ok := g.nodes[start]; !ok {
		return result
	}

	visited := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for k := range g.in[cur] {
			if k.kind != EdgeImports || visited[k.id] {
				continue
			}
			visited[k.id] = true
			queue = append(queue, k.id)
			if n, ok := g.nodes[k.id]; ok {
				result = append(result, n.FilePath)
			}
		}
	}
	sort.Strings(result)
	return result
}

// RelatedSymbols returns symbols within depth hops of any symbol named name, following edges both ways
func (g *Graph) RelatedSymbols(name string, depth int) []types.RelatedSymbol {
	if depth <= 0 {
		depth = DefaultRelatedDepth
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	matches := g.matchesLocked(name)
	visited := make(map[string]bool, len(matches))
	frontier := make([]string, 0, len(matches))
	for _, id := range matches {
		visited[id] = true
		frontier = append(frontier, id)
	}

	set := make(map[string]struct{})
	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		var next []string
		for _, id := range frontier {
			for _, nb := range g.neighboursLocked(id) {
				if visited[nb] {
					continue
				}
				visited[nb] = true
				next = append(next, nb)
				if n := g.nodes[nb]; n != nil && n.Kind.IsSymbol() {
					set[nb] = struct{}{}
				}
			}
		}
		frontier = next
	}
	return g.summarize(set)
}

// Neighbours returns symbols adjacent to the node id over any edge kind
func (g *Graph) Neighbours(id string) []types.RelatedSymbol {
	g.mu.RLock()
	defer g.mu.RUnlock()

	set := make(map[string]struct{})
	for _, nb := range g.neighboursLocked(id) {
		if n := g.nodes[nb]; n != nil && n.Kind.IsSymbol() && nb != id {
			set[nb] = struct{}{}
		}
	}
	return g.summarize(set)
}

func (g *Graph) neighboursLocked(id string) []string {
	out := make([]string, 0, len(g.out[id])+len(g.in[id]))
	for k := range g.out[id] {
		out = append(out, k.id)
	}
	for k := range g.in[id] {
		out = append(out, k.id)
	}
	sort.Strings(out)
	return out
}

// InheritanceChain returns the ancestors of the class named name, nearest first.
// Cycles are cut at the first repeat.
func (g *Graph) InheritanceChain(name string) []types.RelatedSymbol {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var chain []types.RelatedSymbol
	visited := make(map[string]bool)
	var frontier []string
	for _, id := range g.matchesLocked(name) {
		if g.nodes[id].Kind == KindClass {
			visited[id] = true
			frontier = append(frontier, id)
		}
	}
	for len(frontier) > 0 {
		var next []string
		for _, id := range frontier {
			parents := make([]string, 0)
			for k := range g.out[id] {
				if k.kind == EdgeInherits && !visited[k.id] {
					parents = append(parents, k.id)
				}
			}
			sort.Strings(parents)
			for _, p := range parents {
				visited[p] = true
				chain = append(chain, g.nodes[p].Summary())
				next = append(next, p)
			}
		}
		frontier = next
	}
	if chain == nil {
		chain = []types.RelatedSymbol{}
	}
	return chain
}

// FileSymbols returns the symbol nodes defined in path, ordered by line
func (g *Graph) FileSymbols(path string) []Node {
	g.mu.RLock()
	defer g.mu.RUnlock()

	entry, ok := g.files[path]
	if !ok {
		return nil
	}
	out := make([]Node, 0, len(entry.Nodes))
	for _, id := range entry.Nodes {
		if n := g.nodes[id]; n != nil && n.Kind.IsSymbol() {
			out = append(out, *n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LineStart != out[j].LineStart {
			return out[i].LineStart < out[j].LineStart
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// FileNodes returns every FILE node, sorted by path
func (g *Graph) FileNodes() []Node {
	return g.Nodes(KindFile)
}

// Nodes returns copies of all nodes of the given kinds sorted by id. No kinds means all nodes.
func (g *Graph) Nodes(kinds ...NodeKind) []Node {
	g.mu.RLock()
	defer g.mu.RUnlock()

	want := make(map[NodeKind]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}
	out := make([]Node, 0)
	for _, n := range g.nodes {
		if len(want) == 0 || want[n.Kind] {
			out = append(out, *n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Node returns a copy of the node with id
func (g *Graph) Node(id string) (Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// MethodsOf returns the names of methods of class defined in path, ordered by line
func (g *Graph) MethodsOf(path, class string) []string {
	var names []string
	for _, n := range g.FileSymbols(path) {
		if n.Kind == KindFunction && n.ParentClass == class {
			names = append(names, n.Name)
		}
	}
	return names
}

// Edges returns every edge sorted by from, to and kind
func (g *Graph) Edges() []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.edgesLocked()
}

func (g *Graph) edgesLocked() []Edge {
	out := make([]Edge, 0)
	for from, outs := range g.out {
		for k := range outs {
			out = append(out, Edge{From: from, To: k.id, Kind: k.kind})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		if out[i].To != out[j].To {
			return out[i].To < out[j].To
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}
