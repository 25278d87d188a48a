package types

import "errors"

// ParsedFunction is a function or method extracted from a source file
type ParsedFunction struct {
	Name        string
	FilePath    string
	LineStart   int
	LineEnd     int
	Docstring   string
	Params      []string
	ReturnType  string
	ParentClass string // Set for methods: enclosing class or receiver type
}

// QualifiedName returns Class.name for methods and name otherwise
func (f *ParsedFunction) QualifiedName() string {
	if f.ParentClass != "" {
		return f.ParentClass + "." + f.Name
	}
	return f.Name
}

// ParsedClass is a class, struct or interface definition
type ParsedClass struct {
	Name      string
	FilePath  string
	LineStart int
	LineEnd   int
	Docstring string
	Bases     []string // Base classes or embedded types
}

// ParsedVariable is a module-level variable or constant
type ParsedVariable struct {
	Name     string
	FilePath string
	Line     int
	Scope    string // "module" or "class:<Name>"
	TypeHint string
}

// ParsedImport is one import reference as written in source
type ParsedImport struct {
	SourceFile   string
	ImportedName string // Dotted module name or package path
	Alias        string
}

// ParsedCall is a call site found inside a function body
type ParsedCall struct {
	CallerFunction string // Qualified caller name; empty for module-level calls
	CalleeName     string
	FilePath       string
	Line           int
}

// ParsedFile holds all structural records extracted from one source file
type ParsedFile struct {
	Path     string // Relative to project root, slash separated
	Language string
	Hash     string // Hex SHA-256 of the file content

	Functions []ParsedFunction
	Classes   []ParsedClass
	Variables []ParsedVariable
	Imports   []ParsedImport
	Calls     []ParsedCall

	// ParseError is set when the parser hit syntax errors; partial records may still be present
	ParseError string
}

// HasParseError returns true if the parser reported a syntax error
func (p *ParsedFile) HasParseError() bool {
	return p.ParseError != ""
}

// IsEmpty returns true if no functions or classes were extracted
func (p *ParsedFile) IsEmpty() bool {
	return len(p.Functions) == 0 && len(p.Classes) == 0
}

// Unusable reports whether the file should be skipped: it failed to parse and yielded nothing
func (p *ParsedFile) Unusable() bool {
	return p.HasParseError() && p.IsEmpty()
}

// SymbolCount returns the number of functions, classes and variables
func (p *ParsedFile) SymbolCount() int {
	return len(p.Functions) + len(p.Classes) + len(p.Variables)
}

// Validate checks required fields and line ranges
func (p *ParsedFile) Validate() error {
	if p.Path == "" {
		return errors.New("parsed file path is required")
	}
	if p.Language == "" {
		return errors.New("parsed file language is required")
	}
	for _, fn := range p.Functions {
		if fn.Name == "" {
			return errors.New("function name is required")
		}
		if fn.LineStart <= 0 || fn.LineStart > fn.LineEnd {
			return ErrInvalidLineRange
		}
	}
	for _, cls := range p.Classes {
		if cls.Name == "" {
			return errors.New("class name is required")
		}
		if cls.LineStart <= 0 || cls.LineStart > cls.LineEnd {
			return ErrInvalidLineRange
		}
	}
	return nil
}
