package contextbuilder

import (
	"github.com/dshills/codekb/internal/globalkb"
	"github.com/dshills/codekb/pkg/types"
)

func symbolTokens(items []types.SearchResult) int {
	n := 0
	for _, r := range items {
		n += types.EstimateTokens(r.CodeSnippet) + types.EstimateTokens(r.SymbolName)
	}
	return n
}

func relatedTokens(items []types.RelatedSymbol) int {
	n := 0
	for _, r := range items {
		n += types.EstimateTokens(r.ID + r.Kind + r.Name + r.FilePath + r.Docstring + r.ParentClass)
	}
	return n
}

func fixTokens(items []globalkb.ErrorFix) int {
	n := 0
	for _, ef := range items {
		n += types.EstimateTokens(ef.FixTemplate) + types.EstimateTokens(ef.Cause)
	}
	return n
}

func entryTokens(items []globalkb.Entry) int {
	n := 0
	for _, e := range items {
		n += types.EstimateTokens(e.Content) + types.EstimateTokens(e.Title)
	}
	return n
}

// applyBudget trims sections until the bundle fits maxTokens, in order:
// semantic hits beyond the third, graph neighbours, global patterns.
// Behavioral instructions and error fixes are never trimmed, so the result may still exceed the budget.
func applyBudget(b *Bundle, maxTokens int) {
	head := b.LocalSymbols
	var tail []types.SearchResult
	if len(head) > keptSemantic {
		head, tail = head[:keptSemantic], head[keptSemantic:]
	}
	tailTokens := symbolTokens(tail)
	related := relatedTokens(b.RelatedSymbols)
	patterns := entryTokens(b.GlobalPatterns)

	total := entryTokens(b.Behavioral) + fixTokens(b.ErrorFixes) + symbolTokens(head) + tailTokens + related + patterns

	if total > maxTokens && len(tail) > 0 {
		b.LocalSymbols = head
		total -= tailTokens
	}
	if total > maxTokens && len(b.RelatedSymbols) > 0 {
		b.RelatedSymbols = nil
		total -= related
	}
	if total > maxTokens && len(b.GlobalPatterns) > 0 {
		b.GlobalPatterns = nil
		total -= patterns
	}
	b.TokenCount = total
}
