package contextbuilder

import (
	"fmt"
	"strings"
)

const (
	snippetMaxLines = 20
	relatedMaxNames = 5
)

// Format renders bundle as a plain-text block for prompt injection.
// It returns "" when there is neither a local index nor behavioral guidance.
func Format(bundle *Bundle) string {
	if bundle == nil || (!bundle.KBAvailable && len(bundle.Behavioral) == 0) {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("=== KNOWLEDGE BASE CONTEXT ===\n")

	if len(bundle.Behavioral) > 0 {
		sb.WriteString("\n[BEHAVIORAL INSTRUCTIONS]\n")
		for _, e := range bundle.Behavioral {
			text := strings.TrimSpace(e.Content)
			if text == "" {
				text = e.Title
			}
			if text != "" {
				sb.WriteString(text + "\n")
			}
		}
	}

	if len(bundle.LocalSymbols) > 0 {
		sb.WriteString("\n[RELEVANT CODE FROM THIS PROJECT]\n")
		for _, r := range bundle.LocalSymbols {
			fmt.Fprintf(&sb, "File: %s (lines %d-%d)\n", r.File, r.LineStart, r.LineEnd)
			if r.CodeSnippet != "" {
				lines := strings.Split(r.CodeSnippet, "\n")
				if len(lines) > snippetMaxLines {
					lines = append(lines[:snippetMaxLines], "  ...")
				}
				sb.WriteString(strings.Join(lines, "\n") + "\n")
			}
			if len(r.Related) > 0 {
				names := make([]string, 0, relatedMaxNames)
				for i := 0; i < len(r.Related) && i < relatedMaxNames; i++ {
					names = append(names, r.Related[i].Name)
				}
				sb.WriteString("Related: " + strings.Join(names, ", ") + "\n")
			}
			sb.WriteString("\n")
		}
	}

	if len(bundle.ErrorFixes) > 0 {
		sb.WriteString("[ERROR FIX PATTERNS]\n")
		for _, ef := range bundle.ErrorFixes {
			sb.WriteString("Error: " + ef.ErrorType + "\n")
			if ef.Cause != "" {
				sb.WriteString("Cause: " + ef.Cause + "\n")
			}
			sb.WriteString("Fix: " + ef.FixTemplate + "\n\n")
		}
	}

	if len(bundle.GlobalPatterns) > 0 {
		sb.WriteString("[CODING PATTERNS]\n")
		for _, e := range bundle.GlobalPatterns {
			if e.Title != "" {
				sb.WriteString(e.Title + "\n")
			}
			if c := strings.TrimSpace(e.Content); c != "" {
				sb.WriteString(c + "\n")
			}
			sb.WriteString("\n")
		}
	}

	sb.WriteString("=== END KNOWLEDGE BASE CONTEXT ===")
	return sb.String()
}
