package types

// SymbolKind is the manifest and payload label for an indexed symbol
type SymbolKind string

const (
	KindFunction SymbolKind = "function"
	KindMethod   SymbolKind = "method"
	KindClass    SymbolKind = "class"
	KindVariable SymbolKind = "variable"
)

// Valid checks if the symbol kind is known
func (k SymbolKind) Valid() bool {
	switch k {
	case KindFunction, KindMethod, KindClass, KindVariable:
		return true
	default:
		return false
	}
}

// FunctionKind returns KindMethod when parentClass is set, KindFunction otherwise
func FunctionKind(parentClass string) SymbolKind {
	if parentClass != "" {
		return KindMethod
	}
	return KindFunction
}

// RelatedSymbol is a compact summary of a graph neighbor
type RelatedSymbol struct {
	ID          string `json:"id"`
	Kind        string `json:"node_type"`
	Name        string `json:"name"`
	FilePath    string `json:"file_path"`
	LineStart   int    `json:"line_start"`
	LineEnd     int    `json:"line_end"`
	Docstring   string `json:"docstring,omitempty"`
	ParentClass string `json:"parent_class,omitempty"`
}
