package globalkb

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Category groups global entries
type Category string

const (
	CategoryPattern    Category = "pattern"
	CategoryADR        Category = "adr"
	CategoryDoc        Category = "doc"
	CategoryBehavioral Category = "behavioral"
)

// LanguageAll marks entries that apply to every language
const LanguageAll = "all"

// Valid checks if the category is known
func (c Category) Valid() bool {
	switch c {
	case CategoryPattern, CategoryADR, CategoryDoc, CategoryBehavioral:
		return true
	default:
		return false
	}
}

// Entry is one document of the global knowledge base
type Entry struct {
	ID       string   `yaml:"id" json:"id"`
	Title    string   `yaml:"title" json:"title"`
	Category Category `yaml:"category" json:"category"`
	Language string   `yaml:"language" json:"language"`
	Tags     []string `yaml:"tags" json:"tags,omitempty"`
	Content  string   `yaml:"content" json:"content"`
	Score    float64  `yaml:"-" json:"score,omitempty"`
}

// ErrorFix maps an error signature to a fix
type ErrorFix struct {
	ErrorType   string   `yaml:"error_type" json:"error_type"`
	Language    string   `yaml:"language" json:"language"`
	Pattern     string   `yaml:"pattern" json:"pattern,omitempty"`
	Cause       string   `yaml:"cause" json:"cause,omitempty"`
	FixTemplate string   `yaml:"fix" json:"fix_template"`
	Severity    string   `yaml:"severity" json:"severity,omitempty"`
	Tags        []string `yaml:"tags" json:"tags,omitempty"`
	Source      string   `yaml:"source" json:"source,omitempty"`
}

// Registry is the YAML seed format
type Registry struct {
	Entries []Entry    `yaml:"entries"`
	Errors  []ErrorFix `yaml:"errors"`
}

//go:embed registry/default.yaml
var defaultRegistry []byte

// DefaultRegistry returns the registry compiled into the binary
func DefaultRegistry() (*Registry, error) {
	return ParseRegistry(defaultRegistry)
}

// ParseRegistry decodes and normalizes a registry document
func ParseRegistry(data []byte) (*Registry, error) {
	var reg Registry
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("failed to parse registry: %w", err)
	}
	for i := range reg.Entries {
		e := &reg.Entries[i]
		if e.ID == "" || e.Title == "" {
			return nil, fmt.Errorf("registry entry %d: id and title are required", i)
		}
		if !e.Category.Valid() {
			return nil, fmt.Errorf("registry entry %s: unknown category %q", e.ID, e.Category)
		}
		e.Language = normalizeLanguage(e.Language)
	}
	for i := range reg.Errors {
		ef := &reg.Errors[i]
		if ef.ErrorType == "" || ef.FixTemplate == "" {
			return nil, fmt.Errorf("registry error %d: error_type and fix are required", i)
		}
		ef.Language = normalizeLanguage(ef.Language)
		if ef.Severity == "" {
			ef.Severity = "error"
		}
		if ef.Source == "" {
			ef.Source = "core"
		}
	}
	return &reg, nil
}

// LoadRegistryDir reads every .yaml and .yml file in dir, in name order
func LoadRegistryDir(dir string) (*Registry, error) {
	var names []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		m, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, fmt.Errorf("failed to list registry files: %w", err)
		}
		names = append(names, m...)
	}
	sort.Strings(names)

	merged := &Registry{}
	for _, name := range names {
		data, err := os.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("failed to read registry file: %w", err)
		}
		reg, err := ParseRegistry(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(name), err)
		}
		merged.Entries = append(merged.Entries, reg.Entries...)
		merged.Errors = append(merged.Errors, reg.Errors...)
	}
	return merged, nil
}

func normalizeLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if lang == "" {
		return LanguageAll
	}
	return lang
}
