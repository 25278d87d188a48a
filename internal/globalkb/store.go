package globalkb

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

const (
	entryPrefix = "entry/"
	errorPrefix = "error/"

	// DefaultSearchTopK is used when Search is given a non-positive limit
	DefaultSearchTopK = 5
	// BehavioralTopK caps BehavioralInstructions
	BehavioralTopK = 3
)

// ErrClosed is returned by operations on a closed store
var ErrClosed = errors.New("global knowledge store is closed")

// Stats counts stored content
type Stats struct {
	Entries    map[Category]int `json:"entries"`
	ErrorFixes int              `json:"error_fixes"`
}

// Total returns the number of entries and error fixes
func (s Stats) Total() int {
	n := s.ErrorFixes
	for _, c := range s.Entries {
		n += c
	}
	return n
}

// Store is the global knowledge base shared by every project
type Store struct {
	db     *badger.DB
	logger *slog.Logger

	mu       sync.RWMutex
	patterns map[string]*regexp.Regexp // nil value marks an invalid pattern
}

// Open opens the store and seeds it on first use with the built-in registry
// plus any YAML files in cfg.RegistryDir.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{db: db, logger: logger, patterns: make(map[string]*regexp.Regexp)}

	stats, err := s.Stats(ctx)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if stats.Total() == 0 {
		if err := s.seedDefaults(ctx, cfg.RegistryDir); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) seedDefaults(ctx context.Context, dir string) error {
	reg, err := DefaultRegistry()
	if err != nil {
		return err
	}
	if dir != "" {
		extra, err := LoadRegistryDir(dir)
		if err != nil {
			return err
		}
		reg.Entries = append(reg.Entries, extra.Entries...)
		reg.Errors = append(reg.Errors, extra.Errors...)
	}
	n, err := s.Seed(ctx, reg)
	if err != nil {
		return err
	}
	s.logger.Info("seeded global knowledge base", slog.Int("records", n))
	return nil
}

// Close closes the database
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func entryKey(e *Entry) []byte {
	return []byte(entryPrefix + string(e.Category) + "/" + e.ID)
}

func errorKey(ef *ErrorFix) []byte {
	sum := sha256.Sum256([]byte(ef.Pattern))
	return []byte(errorPrefix + ef.Language + "/" + ef.ErrorType + "/" + hex.EncodeToString(sum[:4]))
}

// Seed writes every registry record, replacing records with the same key, and returns the count written
func (s *Store) Seed(ctx context.Context, reg *Registry) (int, error) {
	if s.db == nil {
		return 0, ErrClosed
	}
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	n := 0
	for i := range reg.Entries {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		e := reg.Entries[i]
		e.Score = 0
		data, err := json.Marshal(e)
		if err != nil {
			return 0, fmt.Errorf("failed to encode entry %s: %w", e.ID, err)
		}
		if err := wb.Set(entryKey(&e), data); err != nil {
			return 0, fmt.Errorf("failed to write entry %s: %w", e.ID, err)
		}
		n++
	}
	for i := range reg.Errors {
		ef := reg.Errors[i]
		s.pattern(ef.Pattern)
		data, err := json.Marshal(ef)
		if err != nil {
			return 0, fmt.Errorf("failed to encode error fix %s: %w", ef.ErrorType, err)
		}
		if err := wb.Set(errorKey(&ef), data); err != nil {
			return 0, fmt.Errorf("failed to write error fix %s: %w", ef.ErrorType, err)
		}
		n++
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("failed to flush seed batch: %w", err)
	}
	return n, nil
}

// scan decodes every value under prefix in key order
func scan[T any](ctx context.Context, db *badger.DB, prefix string) ([]T, error) {
	if db == nil {
		return nil, ErrClosed
	}
	var out []T
	err := db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var v T
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &v)
			})
			if err != nil {
				return fmt.Errorf("failed to decode %s: %w", it.Item().Key(), err)
			}
			out = append(out, v)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", prefix, err)
	}
	return out, nil
}

// Stats counts entries per category and error fixes
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	stats := &Stats{Entries: make(map[Category]int)}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			key := string(it.Item().Key())
			switch {
			case strings.HasPrefix(key, entryPrefix):
				cat, _, _ := strings.Cut(strings.TrimPrefix(key, entryPrefix), "/")
				stats.Entries[Category(cat)]++
			case strings.HasPrefix(key, errorPrefix):
				stats.ErrorFixes++
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to count records: %w", err)
	}
	return stats, nil
}

// Search ranks entries of the given categories (all when empty) by the share of
// query words found in title, tags and content. Entries with no match are dropped.
func (s *Store) Search(ctx context.Context, query string, categories []Category, topK int) ([]Entry, error) {
	if topK <= 0 {
		topK = DefaultSearchTopK
	}
	ranked, err := s.rank(ctx, query, categories)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, topK)
	for _, e := range ranked {
		if e.Score == 0 || len(out) == topK {
			break
		}
		out = append(out, e)
	}
	return out, nil
}

// BehavioralInstructions returns up to three behavioral entries, most relevant to task first.
// Behavioral guidance applies to every task, so entries are returned even without a keyword match.
func (s *Store) BehavioralInstructions(ctx context.Context, task string) ([]Entry, error) {
	ranked, err := s.rank(ctx, task, []Category{CategoryBehavioral})
	if err != nil {
		return nil, err
	}
	if len(ranked) > BehavioralTopK {
		ranked = ranked[:BehavioralTopK]
	}
	return ranked, nil
}

func (s *Store) rank(ctx context.Context, query string, categories []Category) ([]Entry, error) {
	prefixes := []string{entryPrefix}
	if len(categories) > 0 {
		prefixes = prefixes[:0]
		for _, c := range categories {
			prefixes = append(prefixes, entryPrefix+string(c)+"/")
		}
	}

	var entries []Entry
	for _, p := range prefixes {
		found, err := scan[Entry](ctx, s.db, p)
		if err != nil {
			return nil, err
		}
		entries = append(entries, found...)
	}

	words := uniqueWords(query)
	for i := range entries {
		entries[i].Score = overlap(words, &entries[i])
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].ID < entries[j].ID
	})
	return entries, nil
}

func uniqueWords(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, w := range strings.Fields(strings.ToLower(text)) {
		if !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}
	return out
}

func overlap(words []string, e *Entry) float64 {
	if len(words) == 0 {
		return 0
	}
	haystack := strings.ToLower(e.Title + " " + strings.Join(e.Tags, " ") + " " + e.Content)
	hits := 0
	for _, w := range words {
		if strings.Contains(haystack, w) {
			hits++
		}
	}
	return float64(hits) / float64(len(words))
}

var wordRe = regexp.MustCompile(`[a-z_]+`)

// SearchErrors returns fixes for an error message. Language restricts candidates
// to that language plus language-neutral fixes; empty means every language.
// Ranking: error_type contained in the message, then pattern match, then tag overlap.
// Results are unique per error type and language.
func (s *Store) SearchErrors(ctx context.Context, message, language string) ([]ErrorFix, error) {
	prefixes := []string{errorPrefix}
	if language != "" {
		prefixes = []string{errorPrefix + normalizeLanguage(language) + "/", errorPrefix + LanguageAll + "/"}
	}
	var candidates []ErrorFix
	for _, p := range prefixes {
		found, err := scan[ErrorFix](ctx, s.db, p)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, found...)
	}

	lower := strings.ToLower(message)
	words := make(map[string]bool)
	for _, w := range wordRe.FindAllString(lower, -1) {
		words[w] = true
	}

	var exact, pattern, fuzzy []ErrorFix
	for _, ef := range candidates {
		switch {
		case ef.ErrorType != "" && strings.Contains(lower, strings.ToLower(ef.ErrorType)):
			exact = append(exact, ef)
		case s.matchesPattern(ef.Pattern, message):
			pattern = append(pattern, ef)
		case tagsOverlap(ef.Tags, words):
			fuzzy = append(fuzzy, ef)
		}
	}

	seen := make(map[string]bool)
	out := []ErrorFix{}
	for _, group := range [][]ErrorFix{exact, pattern, fuzzy} {
		for _, ef := range group {
			key := ef.ErrorType + ":" + ef.Language
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, ef)
		}
	}
	return out, nil
}

func (s *Store) matchesPattern(pattern, message string) bool {
	re := s.pattern(pattern)
	return re != nil && re.MatchString(message)
}

// pattern returns the compiled case-insensitive form of p, compiling it on first use.
// Invalid patterns are logged once and never match.
func (s *Store) pattern(p string) *regexp.Regexp {
	if p == "" {
		return nil
	}
	s.mu.RLock()
	re, ok := s.patterns[p]
	s.mu.RUnlock()
	if ok {
		return re
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if re, ok := s.patterns[p]; ok {
		return re
	}
	re, err := regexp.Compile("(?i)" + p)
	if err != nil {
		s.logger.Warn("invalid error fix pattern",
			slog.String("pattern", p),
			slog.String("error", err.Error()))
		re = nil
	}
	s.patterns[p] = re
	return re
}

func tagsOverlap(tags []string, words map[string]bool) bool {
	for _, t := range tags {
		if words[strings.ToLower(strings.TrimSpace(t))] {
			return true
		}
	}
	return false
}
