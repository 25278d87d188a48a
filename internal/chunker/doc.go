// Package chunker renders graph symbols as text chunks for embedding.
//
// Every FUNCTION and CLASS node becomes one chunk. A function chunk carries
// its signature parts, docstring and source body (read back from disk by line
// range); a class chunk carries its bases, docstring and method names.
// Missing fields are written as "none".
//
// # Basic Usage
//
//	e := chunker.New(projectRoot)
//	for _, c := range e.ExtractAll(g) {
//	    fmt.Println(c.PointID, c.SymbolName, types.EstimateTokens(c.Text))
//	}
//
// Point ids are UUIDv5 values of file:name:line, so re-embedding a symbol
// overwrites its previous vector.
package chunker
