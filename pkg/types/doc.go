// Package types defines the core types shared across the codekb knowledge base.
//
// The types fall into three groups:
//
//   - Parser output: ParsedFile and its ParsedFunction, ParsedClass,
//     ParsedVariable, ParsedImport and ParsedCall records. Parsers for each
//     supported language produce these language-neutral records; the
//     manifest and code graph consume them.
//
//   - Embedding units: SymbolChunk, the natural-language rendering of one
//     function or class together with its deterministic point id.
//
//   - Query results: SearchResult and RelatedSymbol, returned by the
//     searcher and the context builder.
//
// All paths held by these types are relative to the project root and use
// forward slashes.
package types
