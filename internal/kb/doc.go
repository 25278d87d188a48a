// Package kb wires the storage, graph, indexer, embedding, search and context
// packages into one facade per project root. A Registry shares the global
// knowledge base and the background dispatcher across projects.
package kb
