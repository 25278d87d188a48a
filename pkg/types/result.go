package types

// SearchResult is a single semantic or keyword search hit
type SearchResult struct {
	SymbolName  string          `json:"symbol_name"`
	SymbolType  string          `json:"symbol_type"`
	File        string          `json:"file"`
	LineStart   int             `json:"line_start"`
	LineEnd     int             `json:"line_end"`
	CodeSnippet string          `json:"code_snippet"`
	Score       float64         `json:"score"` // Cosine similarity, or token overlap for keyword fallback
	Related     []RelatedSymbol `json:"related_symbols,omitempty"`
}

// Key identifies the symbol a result points at
func (r *SearchResult) Key() string {
	return SymbolKey(r.File, r.SymbolName, r.LineStart)
}

// Validate checks if the search result is valid
func (r *SearchResult) Validate() error {
	if r.File == "" {
		return ErrMissingFileInfo
	}
	if r.SymbolName == "" {
		return ErrEmptyContent
	}
	if r.Score < 0 {
		return ErrInvalidRelevanceScore
	}
	if r.LineStart > r.LineEnd {
		return ErrInvalidLineRange
	}
	return nil
}
