package parser

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dshills/codekb/pkg/types"
)

// DefaultMaxFileSize is the largest file the registry will hand to a parser (10MB)
const DefaultMaxFileSize = 10 * 1024 * 1024

var (
	// ErrUnsupportedLanguage is returned when no parser handles a file extension
	ErrUnsupportedLanguage = errors.New("unsupported language")
	// ErrFileTooLarge is returned when a file exceeds the size limit
	ErrFileTooLarge = errors.New("file too large")
)

// Parser extracts structural records from one language.
// Parse must tolerate syntax errors: it returns partial records with
// ParsedFile.ParseError set instead of failing.
type Parser interface {
	Language() string
	Extensions() []string
	Parse(ctx context.Context, path string, content []byte) (*types.ParsedFile, error)
}

// Registry maps file extensions to parsers
type Registry struct {
	byExt       map[string]Parser
	maxFileSize int64
}

// NewRegistry creates a registry from the given parsers. Later parsers win on extension clashes.
func NewRegistry(parsers ...Parser) *Registry {
	r := &Registry{
		byExt:       make(map[string]Parser),
		maxFileSize: DefaultMaxFileSize,
	}
	for _, p := range parsers {
		r.Register(p)
	}
	return r
}

// DefaultRegistry returns a registry with the Go and Python parsers
func DefaultRegistry() *Registry {
	return NewRegistry(NewGoParser(), NewPythonParser())
}

// Register adds a parser for all of its extensions
func (r *Registry) Register(p Parser) {
	for _, ext := range p.Extensions() {
		r.byExt[strings.ToLower(ext)] = p
	}
}

// ForPath returns the parser registered for the path's extension
func (r *Registry) ForPath(path string) (Parser, bool) {
	p, ok := r.byExt[strings.ToLower(filepath.Ext(path))]
	return p, ok
}

// Supports reports whether a parser is registered for the path
func (r *Registry) Supports(path string) bool {
	_, ok := r.ForPath(path)
	return ok
}

// LanguageFor returns the language name for a path, or "" if unsupported
func (r *Registry) LanguageFor(path string) string {
	if p, ok := r.ForPath(path); ok {
		return p.Language()
	}
	return ""
}

// Languages returns the sorted set of registered languages
func (r *Registry) Languages() []string {
	seen := make(map[string]bool)
	for _, p := range r.byExt {
		seen[p.Language()] = true
	}
	langs := make([]string, 0, len(seen))
	for l := range seen {
		langs = append(langs, l)
	}
	sort.Strings(langs)
	return langs
}

// ParseFile reads root/rel and parses it. rel is stored on the result with forward slashes.
func (r *Registry) ParseFile(ctx context.Context, root, rel string) (*types.ParsedFile, error) {
	p, ok := r.ForPath(rel)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, rel)
	}

	abs := filepath.Join(root, filepath.FromSlash(rel))
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.Size() > r.maxFileSize {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrFileTooLarge, rel, info.Size())
	}

	content, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	rel = filepath.ToSlash(rel)
	parsed, err := p.Parse(ctx, rel, content)
	if err != nil {
		return nil, err
	}
	parsed.Path = rel
	parsed.Language = p.Language()
	parsed.Hash = HashContent(content)
	return parsed, nil
}

// HashContent returns the hex SHA-256 of content
func HashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
