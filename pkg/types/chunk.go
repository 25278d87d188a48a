package types

import "errors"

// TokensPerChar is the heuristic for estimating tokens (chars/4)
const TokensPerChar = 4

// SymbolChunk is the natural-language rendering of one symbol, the unit of embedding
type SymbolChunk struct {
	// Identification
	PointID     string
	FilePath    string
	SymbolName  string
	SymbolType  SymbolKind
	ParentClass string

	// Location
	LineStart int
	LineEnd   int
	Language  string

	// Embedding text
	Text string
}

// SizeInLines returns the number of source lines covered by the symbol
func (c *SymbolChunk) SizeInLines() int {
	if c.LineStart <= 0 || c.LineEnd < c.LineStart {
		return 0
	}
	return c.LineEnd - c.LineStart + 1
}

// EstimateTokens estimates the token count of text
func EstimateTokens(text string) int {
	return len(text) / TokensPerChar
}

// Validate checks the chunk has an id, a name and text
func (c *SymbolChunk) Validate() error {
	if c.PointID == "" {
		return errors.New("point id is required")
	}
	if c.SymbolName == "" {
		return errors.New("symbol name is required")
	}
	if c.Text == "" {
		return ErrEmptyContent
	}
	if !c.SymbolType.Valid() {
		return errors.New("invalid symbol type")
	}
	return nil
}
