package graph

import (
	"fmt"
	"sort"
	"sync"

	"github.com/dshills/codekb/pkg/types"
)

// NodeKind labels a graph node
type NodeKind string

const (
	KindFile     NodeKind = "FILE"
	KindFunction NodeKind = "FUNCTION"
	KindClass    NodeKind = "CLASS"
	KindVariable NodeKind = "VARIABLE"
)

// IsSymbol reports whether the kind is a named code unit rather than a file
func (k NodeKind) IsSymbol() bool {
	return k == KindFunction || k == KindClass || k == KindVariable
}

// EdgeKind labels a directed relation
type EdgeKind string

const (
	EdgeContains EdgeKind = "CONTAINS"
	EdgeCalls    EdgeKind = "CALLS"
	EdgeImports  EdgeKind = "IMPORTS"
	EdgeInherits EdgeKind = "INHERITS"
)

// Node is a file or symbol. IDs are derived from path, qualified name and start line.
type Node struct {
	ID          string   `json:"id"`
	Kind        NodeKind `json:"kind"`
	Name        string   `json:"name,omitempty"`
	FilePath    string   `json:"file_path"`
	LineStart   int      `json:"line_start,omitempty"`
	LineEnd     int      `json:"line_end,omitempty"`
	Language    string   `json:"language,omitempty"`
	ParentClass string   `json:"parent_class,omitempty"`
	Docstring   string   `json:"docstring,omitempty"`
	Params      []string `json:"params,omitempty"`
	ReturnType  string   `json:"return_type,omitempty"`
	Bases       []string `json:"bases,omitempty"`
	Scope       string   `json:"scope,omitempty"`
	TypeHint    string   `json:"type_hint,omitempty"`
}

// QualifiedName returns Class.name for methods and class-scoped variables
func (n *Node) QualifiedName() string {
	if n.ParentClass != "" {
		return n.ParentClass + "." + n.Name
	}
	return n.Name
}

// Summary converts the node to its compact query form
func (n *Node) Summary() types.RelatedSymbol {
	return types.RelatedSymbol{
		ID:          n.ID,
		Kind:        string(n.Kind),
		Name:        n.Name,
		FilePath:    n.FilePath,
		LineStart:   n.LineStart,
		LineEnd:     n.LineEnd,
		Docstring:   n.Docstring,
		ParentClass: n.ParentClass,
	}
}

// Edge is a directed relation between two node ids
type Edge struct {
	From string   `json:"from"`
	To   string   `json:"to"`
	Kind EdgeKind `json:"kind"`
}

// FileID returns the node id of a file
func FileID(path string) string {
	return "FILE:" + path
}

// SymbolID returns the deterministic id of a symbol node
func SymbolID(kind NodeKind, path, qualifiedName string, line int) string {
	return fmt.Sprintf("%s:%s::%s@%d", kind, path, qualifiedName, line)
}

// callRef is a call whose callee is resolved by name at link time
type callRef struct {
	Caller string `json:"caller"`
	Callee string `json:"callee"`
}

// baseRef is a base class resolved by name at link time
type baseRef struct {
	Class string `json:"class"`
	Base  string `json:"base"`
}

// fileEntry holds what the graph remembers about one file beyond its nodes
type fileEntry struct {
	Path     string    `json:"path"`
	Language string    `json:"language"`
	Hash     string    `json:"hash"`
	Nodes    []string  `json:"-"`
	Calls    []callRef `json:"calls,omitempty"`
	Bases    []baseRef `json:"bases,omitempty"`
	Imports  []string  `json:"imports,omitempty"`
}

type edgeKey struct {
	id   string
	kind EdgeKind
}

// Graph is an in-memory directed graph of files and symbols
type Graph struct {
	mu     sync.RWMutex
	nodes  map[string]*Node
	out    map[string]map[edgeKey]struct{}
	in     map[string]map[edgeKey]struct{}
	byName map[string]map[string]struct{}
	files  map[string]*fileEntry
}

// New creates an empty graph
func New() *Graph {
	g := &Graph{}
	g.reset()
	return g
}

func (g *Graph) reset() {
	g.nodes = make(map[string]*Node)
	g.out = make(map[string]map[edgeKey]struct{})
	g.in = make(map[string]map[edgeKey]struct{})
	g.byName = make(map[string]map[string]struct{})
	g.files = make(map[string]*fileEntry)
}

// Reset removes every node and edge
func (g *Graph) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reset()
}

// ReplaceWith moves the contents of other into g in one step and leaves other empty.
// Readers of g see either the old or the new graph, never a partial one.
func (g *Graph) ReplaceWith(other *Graph) {
	if other == g {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	other.mu.Lock()
	defer other.mu.Unlock()

	g.nodes, g.out, g.in, g.byName, g.files = other.nodes, other.out, other.in, other.byName, other.files
	other.reset()
}

func (g *Graph) addNode(n *Node) {
	g.nodes[n.ID] = n
	if n.Kind.IsSymbol() {
		for _, key := range []string{n.Name, n.QualifiedName()} {
			ids, ok := g.byName[key]
			if !ok {
				ids = make(map[string]struct{})
				g.byName[key] = ids
			}
			ids[n.ID] = struct{}{}
		}
	}
}

// addEdge adds a directed edge if both endpoints exist. Duplicate edges collapse.
func (g *Graph) addEdge(from, to string, kind EdgeKind) bool {
	if _, ok := g.nodes[from]; !ok {
		return false
	}
	if _, ok := g.nodes[to]; !ok {
		return false
	}
	outs, ok := g.out[from]
	if !ok {
		outs = make(map[edgeKey]struct{})
		g.out[from] = outs
	}
	k := edgeKey{id: to, kind: kind}
	if _, dup := outs[k]; dup {
		return false
	}
	outs[k] = struct{}{}

	ins, ok := g.in[to]
	if !ok {
		ins = make(map[edgeKey]struct{})
		g.in[to] = ins
	}
	ins[edgeKey{id: from, kind: kind}] = struct{}{}
	return true
}

func (g *Graph) removeEdge(from, to string, kind EdgeKind) {
	if outs, ok := g.out[from]; ok {
		delete(outs, edgeKey{id: to, kind: kind})
		if len(outs) == 0 {
			delete(g.out, from)
		}
	}
	if ins, ok := g.in[to]; ok {
		delete(ins, edgeKey{id: from, kind: kind})
		if len(ins) == 0 {
			delete(g.in, to)
		}
	}
}

func (g *Graph) removeNode(id string) {
	n, ok := g.nodes[id]
	if !ok {
		return
	}
	for k := range g.out[id] {
		g.removeEdge(id, k.id, k.kind)
	}
	for k := range g.in[id] {
		g.removeEdge(k.id, id, k.kind)
	}
	if n.Kind.IsSymbol() {
		for _, key := range []string{n.Name, n.QualifiedName()} {
			if ids, ok := g.byName[key]; ok {
				delete(ids, id)
				if len(ids) == 0 {
					delete(g.byName, key)
				}
			}
		}
	}
	delete(g.nodes, id)
}

// AddParsedFile replaces the file's nodes with those of pf.
// A file that failed to parse and yielded no functions or classes is not added; it returns false.
func (g *Graph) AddParsedFile(pf *types.ParsedFile) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.removeFileLocked(pf.Path)
	if pf.Unusable() {
		return false
	}

	path := pf.Path
	entry := &fileEntry{Path: path, Language: pf.Language, Hash: pf.Hash}
	fid := FileID(path)
	g.addNode(&Node{ID: fid, Kind: KindFile, Name: path, FilePath: path, Language: pf.Language})
	entry.Nodes = append(entry.Nodes, fid)

	classIDs := make(map[string]string, len(pf.Classes))
	for _, c := range pf.Classes {
		id := SymbolID(KindClass, path, c.Name, c.LineStart)
		g.addNode(&Node{
			ID:        id,
			Kind:      KindClass,
			Name:      c.Name,
			FilePath:  path,
			LineStart: c.LineStart,
			LineEnd:   c.LineEnd,
			Language:  pf.Language,
			Docstring: c.Docstring,
			Bases:     append([]string(nil), c.Bases...),
		})
		g.addEdge(fid, id, EdgeContains)
		entry.Nodes = append(entry.Nodes, id)
		if _, seen := classIDs[c.Name]; !seen {
			classIDs[c.Name] = id
		}
		for _, base := range c.Bases {
			entry.Bases = append(entry.Bases, baseRef{Class: id, Base: base})
		}
	}

	funcIDs := make(map[string][]types.ParsedFunction)
	for _, fn := range pf.Functions {
		qualified := fn.QualifiedName()
		id := SymbolID(KindFunction, path, qualified, fn.LineStart)
		g.addNode(&Node{
			ID:          id,
			Kind:        KindFunction,
			Name:        fn.Name,
			FilePath:    path,
			LineStart:   fn.LineStart,
			LineEnd:     fn.LineEnd,
			Language:    pf.Language,
			ParentClass: fn.ParentClass,
			Docstring:   fn.Docstring,
			Params:      append([]string(nil), fn.Params...),
			ReturnType:  fn.ReturnType,
		})
		parent := fid
		if cid, ok := classIDs[fn.ParentClass]; ok && fn.ParentClass != "" {
			parent = cid
		}
		g.addEdge(parent, id, EdgeContains)
		entry.Nodes = append(entry.Nodes, id)
		funcIDs[qualified] = append(funcIDs[qualified], fn)
	}

	for _, v := range pf.Variables {
		var parentClass string
		if len(v.Scope) > len("class:") && v.Scope[:len("class:")] == "class:" {
			parentClass = v.Scope[len("class:"):]
		}
		n := &Node{
			Kind:        KindVariable,
			Name:        v.Name,
			FilePath:    path,
			LineStart:   v.Line,
			LineEnd:     v.Line,
			Language:    pf.Language,
			ParentClass: parentClass,
			Scope:       v.Scope,
			TypeHint:    v.TypeHint,
		}
		n.ID = SymbolID(KindVariable, path, n.QualifiedName(), v.Line)
		g.addNode(n)
		g.addEdge(fid, n.ID, EdgeContains)
		entry.Nodes = append(entry.Nodes, n.ID)
	}

	for _, call := range pf.Calls {
		candidates := funcIDs[call.CallerFunction]
		if call.CallerFunction == "" || len(candidates) == 0 {
			continue
		}
		caller := candidates[0]
		for _, c := range candidates {
			if c.LineStart <= call.Line && call.Line <= c.LineEnd {
				caller = c
				break
			}
		}
		entry.Calls = append(entry.Calls, callRef{
			Caller: SymbolID(KindFunction, path, caller.QualifiedName(), caller.LineStart),
			Callee: call.CalleeName,
		})
	}

	seen := make(map[string]bool, len(pf.Imports))
	for _, imp := range pf.Imports {
		if imp.ImportedName != "" && !seen[imp.ImportedName] {
			seen[imp.ImportedName] = true
			entry.Imports = append(entry.Imports, imp.ImportedName)
		}
	}

	g.files[path] = entry
	g.linkFileLocked(entry)
	return true
}

// RemoveFile deletes the file's nodes and every edge touching them. Unknown paths are ignored.
func (g *Graph) RemoveFile(path string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.removeFileLocked(path)
}

func (g *Graph) removeFileLocked(path string) {
	entry, ok := g.files[path]
	if !ok {
		return
	}
	for _, id := range entry.Nodes {
		g.removeNode(id)
	}
	delete(g.files, path)
}

// HasFile reports whether path is in the graph
func (g *Graph) HasFile(path string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.files[path]
	return ok
}

// FileHash returns the content hash recorded when the file was added
func (g *Graph) FileHash(path string) string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if e, ok := g.files[path]; ok {
		return e.Hash
	}
	return ""
}

// resolve picks the node of kind named name, preferring one in file.
// Among several global matches the smallest id wins, so linking is order independent.
func (g *Graph) resolve(name string, kind NodeKind, file string) string {
	var local, global string
	for id := range g.byName[name] {
		n := g.nodes[id]
		if n.Kind != kind {
			continue
		}
		if n.FilePath == file && (local == "" || id < local) {
			local = id
		}
		if global == "" || id < global {
			global = id
		}
	}
	if local != "" {
		return local
	}
	return global
}

// linkFileLocked adds CALLS and INHERITS edges for one file's references
func (g *Graph) linkFileLocked(entry *fileEntry) {
	for _, c := range entry.Calls {
		if to := g.resolve(c.Callee, KindFunction, entry.Path); to != "" {
			g.addEdge(c.Caller, to, EdgeCalls)
		}
	}
	for _, b := range entry.Bases {
		if to := g.resolve(b.Base, KindClass, entry.Path); to != "" && to != b.Class {
			g.addEdge(b.Class, to, EdgeInherits)
		}
	}
}

// Relink recomputes every CALLS and INHERITS edge from the stored references.
// It lets a caller indexed before its callee gain the edge once the callee exists.
func (g *Graph) Relink() {
	g.mu.Lock()
	defer g.mu.Unlock()

	for from, outs := range g.out {
		for k := range outs {
			if k.kind == EdgeCalls || k.kind == EdgeInherits {
				g.removeEdge(from, k.id, k.kind)
			}
		}
	}
	for _, path := range g.sortedPathsLocked() {
		g.linkFileLocked(g.files[path])
	}
}

// ModuleMap maps an importable module name to the files it refers to
type ModuleMap map[string][]string

// ResolveImportEdges adds FILE->FILE IMPORTS edges for every resolvable import and returns how many were added.
// Unresolvable imports are ignored.
func (g *Graph) ResolveImportEdges(mm ModuleMap) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	added := 0
	for _, path := range g.sortedPathsLocked() {
		entry := g.files[path]
		from := FileID(path)
		for _, imp := range entry.Imports {
			for _, target := range mm[imp] {
				if target == path {
					continue
				}
				if g.addEdge(from, FileID(target), EdgeImports) {
					added++
				}
			}
		}
	}
	return added
}

func (g *Graph) sortedPathsLocked() []string {
	paths := make([]string, 0, len(g.files))
	for p := range g.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// FilePaths returns every file in the graph, sorted
func (g *Graph) FilePaths() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.sortedPathsLocked()
}

// FileLanguage returns the language recorded for path, or ""
func (g *Graph) FileLanguage(path string) string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if e, ok := g.files[path]; ok {
		return e.Language
	}
	return ""
}

// Stats holds node and edge counts
type Stats struct {
	Nodes      map[NodeKind]int `json:"nodes"`
	Edges      map[EdgeKind]int `json:"edges"`
	TotalNodes int              `json:"total_nodes"`
	TotalEdges int              `json:"total_edges"`
}

// SymbolCount returns the number of function, class and variable nodes
func (s Stats) SymbolCount() int {
	return s.Nodes[KindFunction] + s.Nodes[KindClass] + s.Nodes[KindVariable]
}

// Stats returns per-kind node and edge counts
func (g *Graph) Stats() Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()

	s := Stats{Nodes: make(map[NodeKind]int), Edges: make(map[EdgeKind]int)}
	for _, n := range g.nodes {
		s.Nodes[n.Kind]++
	}
	for _, outs := range g.out {
		for k := range outs {
			s.Edges[k.kind]++
			s.TotalEdges++
		}
	}
	s.TotalNodes = len(g.nodes)
	return s
}
