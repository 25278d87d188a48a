// Package graph holds the code graph: files, functions, classes and
// variables as nodes, with CONTAINS, CALLS, IMPORTS and INHERITS edges.
//
// Callees and base classes are stored by name when a file is added and
// resolved against the whole graph by Relink, preferring a match in the
// same file. IMPORTS edges are resolved separately from a ModuleMap.
//
// Snapshots are sorted JSON so an unchanged graph always saves to the
// same bytes.
package graph
