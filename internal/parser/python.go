package parser

import (
	"context"
	"fmt"
	"path"
	"strings"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/dshills/codekb/pkg/types"
)

// PythonParser parses Python source with tree-sitter.
// Each Parse call creates its own tree-sitter parser, so a PythonParser is safe for concurrent use.
type PythonParser struct{}

// NewPythonParser creates a new PythonParser
func NewPythonParser() *PythonParser {
	return &PythonParser{}
}

// Language returns "python"
func (p *PythonParser) Language() string { return "python" }

// Extensions returns the file extensions handled by this parser
func (p *PythonParser) Extensions() []string { return []string{".py"} }

// Parse extracts functions, classes, variables, imports and call sites from Python source
func (p *PythonParser) Parse(ctx context.Context, filePath string, content []byte) (*types.ParsedFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("parse canceled before start: %w", err)
	}

	result := &types.ParsedFile{
		Path:     filePath,
		Language: p.Language(),
	}
	if !utf8.Valid(content) {
		result.ParseError = "content is not valid UTF-8"
		return result, nil
	}

	ts := sitter.NewParser()
	ts.SetLanguage(python.GetLanguage())

	tree, err := ts.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter parse failed: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil {
		result.ParseError = "tree-sitter returned nil root node"
		return result, nil
	}
	if root.HasError() {
		result.ParseError = "source contains syntax errors"
	}

	e := &pyExtractor{content: content, path: filePath, result: result}
	e.walk(root, pyScope{})
	return result, nil
}

// pyScope is the lexical position of a node: the class whose body directly holds it
// and the qualified name of the enclosing function
type pyScope struct {
	class string
	fn    string
}

type pyExtractor struct {
	content []byte
	path    string
	result  *types.ParsedFile
}

func (e *pyExtractor) text(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return n.Content(e.content)
}

func startLine(n *sitter.Node) int { return int(n.StartPoint().Row) + 1 }
func endLine(n *sitter.Node) int   { return int(n.EndPoint().Row) + 1 }

func (e *pyExtractor) walk(node *sitter.Node, scope pyScope) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "function_definition":
			e.function(child, scope)
		case "class_definition":
			e.class(child, scope)
		case "decorated_definition":
			for j := 0; j < int(child.NamedChildCount()); j++ {
				if dec := child.NamedChild(j); dec.Type() == "decorator" {
					e.walk(dec, scope)
				}
			}
			switch def := child.ChildByFieldName("definition"); {
			case def == nil:
			case def.Type() == "function_definition":
				e.function(def, scope)
			case def.Type() == "class_definition":
				e.class(def, scope)
			}
		case "import_statement":
			e.importStatement(child)
		case "import_from_statement":
			e.importFrom(child)
		case "call":
			e.call(child, scope)
			e.walk(child, scope)
		case "expression_statement":
			if scope.fn == "" && child.NamedChildCount() > 0 {
				if first := child.NamedChild(0); first.Type() == "assignment" {
					e.variable(first, scope)
				}
			}
			e.walk(child, scope)
		default:
			e.walk(child, scope)
		}
	}
}

func (e *pyExtractor) function(node *sitter.Node, scope pyScope) {
	name := e.text(node.ChildByFieldName("name"))
	if name == "" {
		return
	}
	fn := types.ParsedFunction{
		Name:      name,
		FilePath:  e.path,
		LineStart: startLine(node),
		LineEnd:   endLine(node),
		Params:    e.params(node.ChildByFieldName("parameters")),
	}
	if scope.fn == "" {
		fn.ParentClass = scope.class
	}
	if ret := node.ChildByFieldName("return_type"); ret != nil {
		fn.ReturnType = strings.TrimSpace(e.text(ret))
	}
	body := node.ChildByFieldName("body")
	fn.Docstring = e.docstring(body)
	e.result.Functions = append(e.result.Functions, fn)

	if body != nil {
		e.walk(body, pyScope{fn: fn.QualifiedName()})
	}
}

func (e *pyExtractor) class(node *sitter.Node, scope pyScope) {
	name := e.text(node.ChildByFieldName("name"))
	if name == "" {
		return
	}
	cls := types.ParsedClass{
		Name:      name,
		FilePath:  e.path,
		LineStart: startLine(node),
		LineEnd:   endLine(node),
	}
	if supers := node.ChildByFieldName("superclasses"); supers != nil {
		for i := 0; i < int(supers.NamedChildCount()); i++ {
			arg := supers.NamedChild(i)
			if arg.Type() != "identifier" && arg.Type() != "attribute" {
				continue
			}
			base := e.text(arg)
			if base != "" && base != "object" {
				cls.Bases = append(cls.Bases, base)
			}
		}
	}
	body := node.ChildByFieldName("body")
	cls.Docstring = e.docstring(body)
	e.result.Classes = append(e.result.Classes, cls)

	if body != nil {
		e.walk(body, pyScope{class: name})
	}
}

func (e *pyExtractor) call(node *sitter.Node, scope pyScope) {
	fn := node.ChildByFieldName("function")
	if fn == nil {
		return
	}
	var callee string
	switch fn.Type() {
	case "identifier":
		callee = e.text(fn)
	case "attribute":
		callee = e.text(fn.ChildByFieldName("attribute"))
	}
	if callee == "" {
		return
	}
	e.result.Calls = append(e.result.Calls, types.ParsedCall{
		CallerFunction: scope.fn,
		CalleeName:     callee,
		FilePath:       e.path,
		Line:           startLine(node),
	})
}

func (e *pyExtractor) variable(node *sitter.Node, scope pyScope) {
	left := node.ChildByFieldName("left")
	if left == nil || left.Type() != "identifier" {
		return
	}
	v := types.ParsedVariable{
		Name:     e.text(left),
		FilePath: e.path,
		Line:     startLine(node),
		Scope:    "module",
		TypeHint: strings.TrimSpace(e.text(node.ChildByFieldName("type"))),
	}
	if scope.class != "" {
		v.Scope = "class:" + scope.class
	}
	e.result.Variables = append(e.result.Variables, v)
}

// params returns parameter names without self and cls
func (e *pyExtractor) params(node *sitter.Node) []string {
	if node == nil {
		return nil
	}
	var names []string
	add := func(name string) {
		if name != "" && name != "self" && name != "cls" {
			names = append(names, name)
		}
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "identifier":
			add(e.text(child))
		case "default_parameter", "typed_default_parameter":
			add(e.text(child.ChildByFieldName("name")))
		case "typed_parameter":
			if child.NamedChildCount() > 0 {
				add(e.splatName(child.NamedChild(0)))
			}
		case "list_splat_pattern", "dictionary_splat_pattern":
			add(e.splatName(child))
		}
	}
	return names
}

func (e *pyExtractor) splatName(n *sitter.Node) string {
	switch n.Type() {
	case "identifier":
		return e.text(n)
	case "list_splat_pattern":
		if n.NamedChildCount() > 0 {
			return "*" + e.text(n.NamedChild(0))
		}
	case "dictionary_splat_pattern":
		if n.NamedChildCount() > 0 {
			return "**" + e.text(n.NamedChild(0))
		}
	}
	return ""
}

// docstring returns the leading string literal of a block, unquoted
func (e *pyExtractor) docstring(block *sitter.Node) string {
	if block == nil || block.NamedChildCount() == 0 {
		return ""
	}
	first := block.NamedChild(0)
	if first.Type() != "expression_statement" || first.NamedChildCount() == 0 {
		return ""
	}
	str := first.NamedChild(0)
	if str.Type() != "string" {
		return ""
	}
	raw := strings.TrimLeft(e.text(str), "rRbBuUfF")
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if len(raw) >= 2*len(q) && strings.HasPrefix(raw, q) && strings.HasSuffix(raw, q) {
			return strings.TrimSpace(raw[len(q) : len(raw)-len(q)])
		}
	}
	return strings.TrimSpace(raw)
}

// importStatement handles 'import a.b' and 'import a.b as c'
func (e *pyExtractor) importStatement(node *sitter.Node) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "dotted_name":
			e.addImport(e.text(child), "")
		case "aliased_import":
			e.addImport(e.text(child.ChildByFieldName("name")), e.text(child.ChildByFieldName("alias")))
		}
	}
}

// importFrom handles 'from x import y'. Both x and x.y are recorded since y may be a submodule.
func (e *pyExtractor) importFrom(node *sitter.Node) {
	var module string
	var names []string
	sawImport := false

	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "import":
			sawImport = true
		case "relative_import":
			module = e.resolveRelative(child)
			if module == "" {
				return
			}
		case "dotted_name":
			if !sawImport {
				module = e.text(child)
			} else {
				names = append(names, e.text(child))
			}
		case "aliased_import":
			names = append(names, e.text(child.ChildByFieldName("name")))
		}
	}
	if module == "" {
		return
	}
	e.addImport(module, "")
	for _, n := range names {
		if n != "" {
			e.addImport(module+"."+n, "")
		}
	}
}

// resolveRelative turns '.mod' or '..pkg.mod' into an absolute dotted name using the file's directory
func (e *pyExtractor) resolveRelative(node *sitter.Node) string {
	var dots int
	var rest string
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "import_prefix":
			dots = strings.Count(e.text(child), ".")
		case "dotted_name":
			rest = e.text(child)
		}
	}

	var parts []string
	if dir := path.Dir(e.path); dir != "." {
		parts = strings.Split(dir, "/")
	}
	up := dots - 1
	if up > len(parts) {
		return ""
	}
	parts = parts[:len(parts)-up]
	if rest != "" {
		parts = append(parts, rest)
	}
	return strings.Join(parts, ".")
}

func (e *pyExtractor) addImport(name, alias string) {
	if name == "" {
		return
	}
	for _, imp := range e.result.Imports {
		if imp.ImportedName == name {
			return
		}
	}
	e.result.Imports = append(e.result.Imports, types.ParsedImport{
		SourceFile:   e.path,
		ImportedName: name,
		Alias:        alias,
	})
}
