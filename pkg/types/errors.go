package types

import (
	"errors"
	"strconv"
)

// Domain errors for type validation
var (
	ErrInvalidLineRange      = errors.New("invalid line range")
	ErrInvalidRelevanceScore = errors.New("relevance score must be non-negative")
	ErrMissingFileInfo       = errors.New("file info is required")
	ErrEmptyContent          = errors.New("content cannot be empty")
)

// SymbolKey is the file:name:line key shared by point ids and result dedupe
func SymbolKey(file, name string, lineStart int) string {
	return file + ":" + name + ":" + strconv.Itoa(lineStart)
}
