package parser

import (
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strings"

	"github.com/dshills/codekb/pkg/types"
)

// GoParser handles AST-based parsing of Go source files
type GoParser struct{}

// NewGoParser creates a new GoParser instance
func NewGoParser() *GoParser {
	return &GoParser{}
}

// Language returns "go"
func (p *GoParser) Language() string { return "go" }

// Extensions returns the file extensions handled by this parser
func (p *GoParser) Extensions() []string { return []string{".go"} }

// Parse extracts functions, types, variables, imports and call sites from Go source
func (p *GoParser) Parse(ctx context.Context, path string, content []byte) (*types.ParsedFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("parse canceled: %w", err)
	}

	result := &types.ParsedFile{
		Path:     path,
		Language: p.Language(),
	}

	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, content, parser.ParseComments)
	if err != nil {
		// Syntax errors are non-fatal; parser.ParseFile still returns a partial AST
		result.ParseError = fmt.Sprintf("syntax error: %v", err)
	}
	if file == nil {
		return result, nil
	}

	e := &goExtractor{fset: fset, path: path, result: result}
	e.extractImports(file)
	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			e.extractFunction(d)
		case *ast.GenDecl:
			e.extractGenDecl(d)
		}
	}
	return result, nil
}

// goExtractor accumulates records for one file
type goExtractor struct {
	fset   *token.FileSet
	path   string
	result *types.ParsedFile
}

func (e *goExtractor) line(pos token.Pos) int {
	return e.fset.Position(pos).Line
}

// extractImports extracts import specs, keeping aliases
func (e *goExtractor) extractImports(file *ast.File) {
	for _, imp := range file.Imports {
		ref := types.ParsedImport{
			SourceFile:   e.path,
			ImportedName: strings.Trim(imp.Path.Value, `"`),
		}
		if imp.Name != nil {
			ref.Alias = imp.Name.Name
		}
		e.result.Imports = append(e.result.Imports, ref)
	}
}

// extractFunction extracts a function or method and the calls made in its body
func (e *goExtractor) extractFunction(fn *ast.FuncDecl) {
	parsed := types.ParsedFunction{
		Name:      fn.Name.Name,
		FilePath:  e.path,
		LineStart: e.line(fn.Pos()),
		LineEnd:   e.line(fn.End()),
		Docstring: extractDocComment(fn.Doc),
		Params:    paramNames(fn.Type.Params),
	}
	if fn.Recv != nil && len(fn.Recv.List) > 0 {
		parsed.ParentClass = receiverType(fn.Recv.List[0].Type)
	}
	if fn.Type.Results != nil {
		results := fieldListToString(fn.Type.Results)
		if fn.Type.Results.NumFields() > 1 {
			results = "(" + results + ")"
		}
		parsed.ReturnType = results
	}
	e.result.Functions = append(e.result.Functions, parsed)

	if fn.Body == nil {
		return
	}
	caller := parsed.QualifiedName()
	ast.Inspect(fn.Body, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		var callee string
		switch f := call.Fun.(type) {
		case *ast.Ident:
			callee = f.Name
		case *ast.SelectorExpr:
			callee = f.Sel.Name
		case *ast.IndexExpr:
			// Generic instantiation: Fn[T](...)
			if id, ok := f.X.(*ast.Ident); ok {
				callee = id.Name
			}
		}
		if callee != "" {
			e.result.Calls = append(e.result.Calls, types.ParsedCall{
				CallerFunction: caller,
				CalleeName:     callee,
				FilePath:       e.path,
				Line:           e.line(call.Pos()),
			})
		}
		return true
	})
}

// extractGenDecl extracts type, const, and var declarations
func (e *goExtractor) extractGenDecl(gen *ast.GenDecl) {
	for _, spec := range gen.Specs {
		switch s := spec.(type) {
		case *ast.TypeSpec:
			e.extractTypeSpec(s, gen)
		case *ast.ValueSpec:
			e.extractValueSpec(s)
		}
	}
}

// extractTypeSpec records structs and interfaces as classes; embedded types become bases
func (e *goExtractor) extractTypeSpec(spec *ast.TypeSpec, gen *ast.GenDecl) {
	var fields *ast.FieldList
	switch t := spec.Type.(type) {
	case *ast.StructType:
		fields = t.Fields
	case *ast.InterfaceType:
		fields = t.Methods
	default:
		return
	}

	doc := spec.Doc
	if doc == nil && len(gen.Specs) == 1 {
		doc = gen.Doc
	}

	start := spec.Pos()
	if !gen.Lparen.IsValid() {
		start = gen.Pos()
	}

	cls := types.ParsedClass{
		Name:      spec.Name.Name,
		FilePath:  e.path,
		LineStart: e.line(start),
		LineEnd:   e.line(spec.End()),
		Docstring: extractDocComment(doc),
	}
	if fields != nil {
		for _, f := range fields.List {
			if len(f.Names) > 0 {
				continue
			}
			if base := embeddedName(f.Type); base != "" {
				cls.Bases = append(cls.Bases, base)
			}
		}
	}
	e.result.Classes = append(e.result.Classes, cls)
}

// extractValueSpec extracts package-level const and var names
func (e *goExtractor) extractValueSpec(spec *ast.ValueSpec) {
	hint := exprToString(spec.Type)
	for _, name := range spec.Names {
		if name.Name == "_" {
			continue
		}
		e.result.Variables = append(e.result.Variables, types.ParsedVariable{
			Name:     name.Name,
			FilePath: e.path,
			Line:     e.line(name.Pos()),
			Scope:    "module",
			TypeHint: hint,
		})
	}
}

// receiverType extracts the receiver type name from a method, stripping pointers and type params
func receiverType(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.StarExpr:
		return receiverType(t.X)
	case *ast.Ident:
		return t.Name
	case *ast.IndexExpr:
		return receiverType(t.X)
	case *ast.IndexListExpr:
		return receiverType(t.X)
	}
	return ""
}

// embeddedName returns the bare type name of an embedded field
func embeddedName(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		return embeddedName(t.X)
	case *ast.SelectorExpr:
		return t.Sel.Name
	case *ast.IndexExpr:
		return embeddedName(t.X)
	}
	return ""
}

// paramNames returns parameter names, or the type for unnamed parameters
func paramNames(fields *ast.FieldList) []string {
	if fields == nil {
		return nil
	}
	var names []string
	for _, f := range fields.List {
		if len(f.Names) == 0 {
			names = append(names, exprToString(f.Type))
			continue
		}
		for _, n := range f.Names {
			names = append(names, n.Name)
		}
	}
	return names
}

// fieldListToString converts a field list to a string representation
func fieldListToString(fieldList *ast.FieldList) string {
	if fieldList == nil || len(fieldList.List) == 0 {
		return ""
	}

	var parts []string
	for _, field := range fieldList.List {
		typeStr := exprToString(field.Type)
		if len(field.Names) > 0 {
			for _, name := range field.Names {
				parts = append(parts, fmt.Sprintf("%s %s", name.Name, typeStr))
			}
		} else {
			parts = append(parts, typeStr)
		}
	}

	return strings.Join(parts, ", ")
}

// exprToString converts an expression to a string representation
func exprToString(expr ast.Expr) string {
	if expr == nil {
		return ""
	}

	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		return "*" + exprToString(t.X)
	case *ast.ArrayType:
		return "[]" + exprToString(t.Elt)
	case *ast.MapType:
		return fmt.Sprintf("map[%s]%s", exprToString(t.Key), exprToString(t.Value))
	case *ast.ChanType:
		return "chan " + exprToString(t.Value)
	case *ast.FuncType:
		return "func(...)"
	case *ast.InterfaceType:
		return "interface{}"
	case *ast.SelectorExpr:
		return exprToString(t.X) + "." + t.Sel.Name
	case *ast.Ellipsis:
		return "..." + exprToString(t.Elt)
	case *ast.IndexExpr:
		return exprToString(t.X) + "[" + exprToString(t.Index) + "]"
	default:
		return "..."
	}
}

// extractDocComment extracts documentation from a comment group
func extractDocComment(doc *ast.CommentGroup) string {
	if doc == nil {
		return ""
	}
	return strings.TrimSpace(doc.Text())
}
