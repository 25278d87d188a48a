package chunker

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/dshills/codekb/internal/graph"
	"github.com/dshills/codekb/pkg/types"
)

// none is written for absent fields so every chunk has the same shape
const none = "none"

// Source is the part of the code graph the extractor reads
type Source interface {
	Nodes(kinds ...graph.NodeKind) []graph.Node
	FileSymbols(path string) []graph.Node
	FileLanguage(path string) string
	MethodsOf(path, class string) []string
}

// Extractor turns FUNCTION and CLASS nodes into embeddable chunks
type Extractor struct {
	root   string
	logger *slog.Logger
}

// Option configures an Extractor
type Option func(*Extractor)

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(e *Extractor) {
		if l != nil {
			e.logger = l
		}
	}
}

// New creates an Extractor reading source bodies under root
func New(root string, opts ...Option) *Extractor {
	e := &Extractor{root: root, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// PointID returns the deterministic vector point id for a symbol
func PointID(file, name string, lineStart int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(types.SymbolKey(file, name, lineStart))).String()
}

// ExtractAll returns one chunk per function and class in the graph, sorted by node id
func (e *Extractor) ExtractAll(src Source) []types.SymbolChunk {
	nodes := src.Nodes(graph.KindFunction, graph.KindClass)
	files := newLineCache(e.root, e.logger)

	chunks := make([]types.SymbolChunk, 0, len(nodes))
	for i := range nodes {
		chunks = append(chunks, e.chunk(src, &nodes[i], files))
	}
	return chunks
}

// ExtractFile returns the chunks of one file, sorted by node id
func (e *Extractor) ExtractFile(src Source, path string) []types.SymbolChunk {
	nodes := src.FileSymbols(path)
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	files := newLineCache(e.root, e.logger)

	chunks := make([]types.SymbolChunk, 0, len(nodes))
	for i := range nodes {
		n := &nodes[i]
		if n.Kind != graph.KindFunction && n.Kind != graph.KindClass {
			continue
		}
		chunks = append(chunks, e.chunk(src, n, files))
	}
	return chunks
}

func (e *Extractor) chunk(src Source, n *graph.Node, files *lineCache) types.SymbolChunk {
	lang := n.Language
	if lang == "" {
		lang = src.FileLanguage(n.FilePath)
	}

	c := types.SymbolChunk{
		PointID:     PointID(n.FilePath, n.Name, n.LineStart),
		FilePath:    n.FilePath,
		SymbolName:  n.Name,
		ParentClass: n.ParentClass,
		LineStart:   n.LineStart,
		LineEnd:     n.LineEnd,
		Language:    lang,
	}

	if n.Kind == graph.KindClass {
		c.SymbolType = types.KindClass
		c.Text = ClassText(lang, n.FilePath, n.Name, n.Bases, n.Docstring, src.MethodsOf(n.FilePath, n.Name))
		return c
	}

	c.SymbolType = types.FunctionKind(n.ParentClass)
	body := files.lines(n.FilePath, n.LineStart, n.LineEnd)
	c.Text = FunctionText(lang, n.FilePath, n.Name, n.Params, n.ReturnType, n.Docstring, body)
	return c
}

// FunctionText renders a function or method for embedding
func FunctionText(language, file, name string, params []string, returns, docstring string, body []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Language: %s\n", language)
	fmt.Fprintf(&sb, "File: %s\n", file)
	fmt.Fprintf(&sb, "Function: %s\n", name)
	fmt.Fprintf(&sb, "Parameters: %s\n", orNone(strings.Join(params, ", ")))
	fmt.Fprintf(&sb, "Returns: %s\n", orNone(returns))
	fmt.Fprintf(&sb, "Docstring: %s\n", orNone(strings.TrimSpace(docstring)))
	sb.WriteString("Body:\n")
	sb.WriteString(strings.TrimSpace(strings.Join(body, "\n")))
	return sb.String()
}

// ClassText renders a class with its method names only
func ClassText(language, file, name string, bases []string, docstring string, methods []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Language: %s\n", language)
	fmt.Fprintf(&sb, "File: %s\n", file)
	fmt.Fprintf(&sb, "Class: %s\n", name)
	fmt.Fprintf(&sb, "Inherits: %s\n", orNone(strings.Join(bases, ", ")))
	fmt.Fprintf(&sb, "Docstring: %s\n", orNone(strings.TrimSpace(docstring)))
	fmt.Fprintf(&sb, "Methods: %s", orNone(strings.Join(methods, ", ")))
	return sb.String()
}

func orNone(s string) string {
	if s == "" {
		return none
	}
	return s
}

// lineCache reads each source file at most once per extraction
type lineCache struct {
	root   string
	logger *slog.Logger
	files  map[string][]string
}

func newLineCache(root string, logger *slog.Logger) *lineCache {
	return &lineCache{root: root, logger: logger, files: make(map[string][]string)}
}

// lines returns lines start..end (1-based, inclusive). An unreadable file yields nil.
func (c *lineCache) lines(path string, start, end int) []string {
	all, ok := c.files[path]
	if !ok {
		var err error
		all, err = ReadLines(filepath.Join(c.root, filepath.FromSlash(path)))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			c.logger.Warn("failed to read source for chunk",
				slog.String("file", path),
				slog.String("error", err.Error()))
		}
		c.files[path] = all
	}
	return sliceLines(all, start, end)
}

func sliceLines(all []string, start, end int) []string {
	if len(all) == 0 {
		return nil
	}
	lo := start - 1
	if lo < 0 {
		lo = 0
	}
	hi := end
	if hi <= 0 || hi > len(all) {
		hi = len(all)
	}
	if lo >= hi {
		return nil
	}
	return all[lo:hi]
}

// ReadLines reads a file split into lines without trailing newlines
func ReadLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	var out []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), len(data)+1)
	for sc.Scan() {
		out = append(out, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to split lines: %w", err)
	}
	return out, nil
}

// Snippet returns at most maxLines source lines of the range start..end, or "" when unreadable
func Snippet(root, path string, start, end, maxLines int) string {
	all, err := ReadLines(filepath.Join(root, filepath.FromSlash(path)))
	if err != nil {
		return ""
	}
	lines := sliceLines(all, start, end)
	if maxLines > 0 && len(lines) > maxLines {
		lines = lines[:maxLines]
	}
	return strings.Join(lines, "\n")
}
