// Package parser turns source files into language-neutral structural records.
//
// Each supported language has a Parser adapter:
//   - GoParser uses go/parser and go/ast. Structs and interfaces are reported as
//     classes, embedded types as bases, and receivers as the parent class.
//   - PythonParser uses tree-sitter. Relative imports are resolved against the
//     file's directory, and 'from x import y' records both x and x.y.
//
// A Registry maps file extensions to adapters and reads, hashes and parses files:
//
//	reg := parser.DefaultRegistry()
//	pf, err := reg.ParseFile(ctx, root, "pkg/service.py")
//
// Syntax errors are not returned as errors. The partial result carries
// ParsedFile.ParseError and the indexer decides whether it is usable.
package parser
