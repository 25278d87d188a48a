package contextbuilder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codekb/internal/globalkb"
	"github.com/dshills/codekb/internal/searcher"
	"github.com/dshills/codekb/pkg/types"
)

type fakeSearcher struct {
	results []types.SearchResult
	last    searcher.SearchRequest
}

func (f *fakeSearcher) Search(_ context.Context, req searcher.SearchRequest) *searcher.SearchResponse {
	f.last = req
	n := len(f.results)
	if req.TopK < n {
		n = req.TopK
	}
	return &searcher.SearchResponse{Results: f.results[:n], Mode: searcher.SearchModeVector}
}

type fakeGraph struct {
	related map[string][]types.RelatedSymbol
	asked   []string
}

func (f *fakeGraph) RelatedSymbols(name string, _ int) []types.RelatedSymbol {
	f.asked = append(f.asked, name)
	return f.related[name]
}

type fakeGlobal struct {
	fixes      []globalkb.ErrorFix
	patterns   []globalkb.Entry
	behavioral []globalkb.Entry
	err        error
	errLang    string
	categories []globalkb.Category
}

func (f *fakeGlobal) SearchErrors(_ context.Context, _ string, language string) ([]globalkb.ErrorFix, error) {
	f.errLang = language
	return f.fixes, f.err
}

func (f *fakeGlobal) Search(_ context.Context, _ string, categories []globalkb.Category, _ int) ([]globalkb.Entry, error) {
	f.categories = categories
	return f.patterns, f.err
}

func (f *fakeGlobal) BehavioralInstructions(context.Context, string) ([]globalkb.Entry, error) {
	return f.behavioral, f.err
}

func hit(name, file string, snippetChars int) types.SearchResult {
	return types.SearchResult{
		SymbolName:  name,
		SymbolType:  "function",
		File:        file,
		LineStart:   1,
		LineEnd:     3,
		CodeSnippet: strings.Repeat("x", snippetChars),
		Score:       0.9,
	}
}

func TestIntentDetection(t *testing.T) {
	tests := []struct {
		task          string
		error, review bool
	}{
		{"Fix the crash in the login handler", true, false},
		{"Refactor the parser for readability", false, true},
		{"Review why the build is broken", true, true},
		{"The upload is not working", true, false},
		{"Add a new endpoint", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.task, func(t *testing.T) {
			assert.Equal(t, tt.error, HasErrorIntent(tt.task))
			assert.Equal(t, tt.review, HasReviewIntent(tt.task))
		})
	}
	assert.Equal(t, "python", DetectLanguage("pkg/mod.PY"))
	assert.Equal(t, "go", DetectLanguage("main.go"))
	assert.Equal(t, "", DetectLanguage("Makefile"))
}

func TestBuildGathersAllSources(t *testing.T) {
	s := &fakeSearcher{results: []types.SearchResult{
		hit("load", "api/load.py", 40), hit("save", "api/save.py", 40), hit("load", "api/other.py", 40), hit("parse", "api/p.py", 40),
	}}
	g := &fakeGraph{related: map[string][]types.RelatedSymbol{
		"load": {{Name: "read"}, {Name: "write"}},
		"save": {{Name: "write"}, {Name: "close"}, {Name: "load"}},
	}}
	kb := &fakeGlobal{
		fixes:      []globalkb.ErrorFix{{ErrorType: "KeyError", FixTemplate: "use get"}},
		patterns:   []globalkb.Entry{{ID: "p", Title: "Pattern", Content: "content"}},
		behavioral: []globalkb.Entry{{ID: "b", Title: "Be careful", Content: "Read first."}},
	}
	b := New(Config{Root: "/repo", Searcher: s, Graph: g, Global: kb})

	bundle := b.Build(context.Background(), "fix the failing review of load", "/repo/api/load.py", 4000)

	assert.True(t, bundle.KBAvailable)
	assert.Equal(t, DefaultSemanticTopK, s.last.TopK)
	assert.Equal(t, "api/", s.last.Filters.File)
	assert.Len(t, bundle.LocalSymbols, 4)

	// only the top three hits are expanded, duplicates by name skipped
	assert.Equal(t, []string{"load", "save"}, g.asked)
	names := []string{}
	for _, r := range bundle.RelatedSymbols {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"read", "write", "close"}, names)

	assert.Equal(t, "python", kb.errLang)
	assert.Equal(t, []globalkb.Category{globalkb.CategoryPattern, globalkb.CategoryADR}, kb.categories)
	assert.Len(t, bundle.ErrorFixes, 1)
	assert.Len(t, bundle.GlobalPatterns, 1)
	assert.Len(t, bundle.Behavioral, 1)
	assert.Equal(t, []string{SourceLocalSemantic, SourceGraph, SourceErrorDict, SourceGlobalKB}, bundle.SourcesUsed)
	assert.Greater(t, bundle.TokenCount, 0)
}

func TestBuildWithoutIndex(t *testing.T) {
	kb := &fakeGlobal{behavioral: []globalkb.Entry{{ID: "b", Content: "Stay in scope."}}}
	s := &fakeSearcher{results: []types.SearchResult{hit("f", "a.py", 10)}}
	b := New(Config{Searcher: s, Global: kb, Available: func() bool { return false }})

	bundle := b.Build(context.Background(), "add a feature", "", 0)
	assert.False(t, bundle.KBAvailable)
	assert.Empty(t, bundle.LocalSymbols)
	assert.Empty(t, bundle.ErrorFixes, "no error intent")
	assert.Empty(t, bundle.GlobalPatterns, "no review intent")
	assert.Len(t, bundle.Behavioral, 1)
	assert.Empty(t, bundle.SourcesUsed)

	out := Format(bundle)
	assert.Contains(t, out, "[BEHAVIORAL INSTRUCTIONS]")
	assert.NotContains(t, out, "[RELEVANT CODE FROM THIS PROJECT]")
}

func TestBuildDegradesOnFailures(t *testing.T) {
	kb := &fakeGlobal{err: errors.New("store down")}
	b := New(Config{Global: kb})
	bundle := b.Build(context.Background(), "fix this bug and review style", "main.go", 100)
	assert.Empty(t, bundle.ErrorFixes)
	assert.Empty(t, bundle.GlobalPatterns)
	assert.Empty(t, bundle.Behavioral)
	assert.Equal(t, "", Format(bundle))
}

func TestTokenBudgetTrimOrder(t *testing.T) {
	newBundle := func() *Bundle {
		return &Bundle{
			LocalSymbols: []types.SearchResult{
				hit("a", "f", 400), hit("b", "f", 400), hit("c", "f", 400), // 100 tokens each
				hit("d", "f", 400), hit("e", "f", 400),
			},
			RelatedSymbols: []types.RelatedSymbol{{Name: strings.Repeat("r", 400)}},     // 100
			GlobalPatterns: []globalkb.Entry{{Content: strings.Repeat("p", 400)}},        // 100
			ErrorFixes:     []globalkb.ErrorFix{{FixTemplate: strings.Repeat("f", 400)}}, // 100
			Behavioral:     []globalkb.Entry{{Content: strings.Repeat("b", 400)}},        // 100
		}
	}

	tests := []struct {
		budget                     int
		symbols, related, patterns int
		tokens                     int
	}{
		{budget: 10000, symbols: 5, related: 1, patterns: 1, tokens: 900},
		{budget: 700, symbols: 3, related: 1, patterns: 1, tokens: 700},
		{budget: 600, symbols: 3, related: 0, patterns: 1, tokens: 600},
		{budget: 500, symbols: 3, related: 0, patterns: 0, tokens: 500},
		{budget: 10, symbols: 3, related: 0, patterns: 0, tokens: 500},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("budget %d", tt.budget), func(t *testing.T) {
			b := newBundle()
			applyBudget(b, tt.budget)
			assert.Len(t, b.LocalSymbols, tt.symbols)
			assert.Len(t, b.RelatedSymbols, tt.related)
			assert.Len(t, b.GlobalPatterns, tt.patterns)
			assert.Len(t, b.ErrorFixes, 1, "error fixes are never trimmed")
			assert.Len(t, b.Behavioral, 1, "behavioral entries are never trimmed")
			assert.Equal(t, tt.tokens, b.TokenCount)
		})
	}
}

func TestFormat(t *testing.T) {
	long := make([]string, 30)
	for i := range long {
		long[i] = fmt.Sprintf("line %d", i+1)
	}
	related := make([]types.RelatedSymbol, 7)
	for i := range related {
		related[i] = types.RelatedSymbol{Name: fmt.Sprintf("n%d", i)}
	}
	bundle := &Bundle{
		KBAvailable: true,
		Behavioral:  []globalkb.Entry{{Title: "Only a title"}},
		LocalSymbols: []types.SearchResult{{
			SymbolName: "run", File: "cmd/run.py", LineStart: 4, LineEnd: 33,
			CodeSnippet: strings.Join(long, "\n"), Related: related,
		}},
		ErrorFixes:     []globalkb.ErrorFix{{ErrorType: "KeyError", Cause: "missing key", FixTemplate: "use get"}},
		GlobalPatterns: []globalkb.Entry{{Title: "Naming", Content: "Name by purpose."}},
	}

	out := Format(bundle)
	require.True(t, strings.HasPrefix(out, "=== KNOWLEDGE BASE CONTEXT ===\n"))
	require.True(t, strings.HasSuffix(out, "=== END KNOWLEDGE BASE CONTEXT ==="))

	assert.Contains(t, out, "[BEHAVIORAL INSTRUCTIONS]\nOnly a title\n")
	assert.Contains(t, out, "File: cmd/run.py (lines 4-33)\nline 1\n")
	assert.Contains(t, out, "line 20\n  ...\n")
	assert.NotContains(t, out, "line 21")
	assert.Contains(t, out, "Related: n0, n1, n2, n3, n4\n")
	assert.Contains(t, out, "Error: KeyError\nCause: missing key\nFix: use get\n")
	assert.Contains(t, out, "[CODING PATTERNS]\nNaming\nName by purpose.\n")

	order := []string{"[BEHAVIORAL INSTRUCTIONS]", "[RELEVANT CODE FROM THIS PROJECT]", "[ERROR FIX PATTERNS]", "[CODING PATTERNS]"}
	last := -1
	for _, h := range order {
		idx := strings.Index(out, h)
		assert.Greater(t, idx, last, h)
		last = idx
	}

	assert.Equal(t, "", Format(&Bundle{}))
	assert.Equal(t, "", Format(nil))
}
