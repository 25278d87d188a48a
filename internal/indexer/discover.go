package indexer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"

	"github.com/dshills/codekb/internal/parser"
)

// SkipDirs are directory names never descended into
var SkipDirs = map[string]bool{
	"node_modules":  true,
	"dist":          true,
	"build":         true,
	"__pycache__":   true,
	".git":          true,
	"vendor":        true,
	DataDirName:     true,
	".venv":         true,
	"venv":          true,
	"env":           true,
	".env":          true,
	".tox":          true,
	".mypy_cache":   true,
	".pytest_cache": true,
	"target":        true,
	"bin":           true,
	"obj":           true,
	"coverage":      true,
	".next":         true,
	".nuxt":         true,
	"out":           true,
	".output":       true,
	"eggs":          true,
	".eggs":         true,
	".cache":        true,
}

// Discoverer decides which project files are indexable
type Discoverer struct {
	root     string
	registry *parser.Registry
	ignore   *ignore.GitIgnore
}

// NewDiscoverer creates a Discoverer honouring root/.gitignore when present
func NewDiscoverer(root string, registry *parser.Registry) *Discoverer {
	d := &Discoverer{root: root, registry: registry}
	if gi, err := ignore.CompileIgnoreFile(filepath.Join(root, ".gitignore")); err == nil {
		d.ignore = gi
	}
	return d
}

// SkipDirName reports whether a directory with this base name is excluded
func SkipDirName(name string) bool {
	return SkipDirs[name] || (strings.HasPrefix(name, ".") && name != "." && name != "..")
}

// SkipDir reports whether the directory at rel (slash separated, relative to root) is excluded
func (d *Discoverer) SkipDir(rel string) bool {
	if rel == "." || rel == "" {
		return false
	}
	for _, part := range strings.Split(rel, "/") {
		if SkipDirName(part) {
			return true
		}
	}
	return d.ignored(rel + "/")
}

// Accept reports whether the file at rel should be indexed
func (d *Discoverer) Accept(rel string) bool {
	if !d.registry.Supports(rel) {
		return false
	}
	if dir := path.Dir(rel); d.SkipDir(dir) {
		return false
	}
	return !d.ignored(rel)
}

func (d *Discoverer) ignored(rel string) bool {
	return d.ignore != nil && d.ignore.MatchesPath(rel)
}

// Rel converts an absolute or root-relative path to the slash-separated form used as a key
func (d *Discoverer) Rel(p string) (string, error) {
	if filepath.IsAbs(p) {
		r, err := filepath.Rel(d.root, p)
		if err != nil {
			return "", fmt.Errorf("failed to relativize path: %w", err)
		}
		p = r
	}
	p = filepath.ToSlash(filepath.Clean(p))
	if p == ".." || strings.HasPrefix(p, "../") {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, p)
	}
	return p, nil
}

// Discover walks the project once and returns indexable files, sorted
func (d *Discoverer) Discover(ctx context.Context) ([]string, error) {
	var files []string
	err := filepath.WalkDir(d.root, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrPermission) && p != d.root {
				return nil
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		rel, relErr := filepath.Rel(d.root, p)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)

		if entry.IsDir() {
			if rel != "." && (SkipDirName(entry.Name()) || d.ignored(rel+"/")) {
				return filepath.SkipDir
			}
			return nil
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		if d.registry.Supports(rel) && !d.ignored(rel) {
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to discover files: %w", err)
	}
	sort.Strings(files)
	return files, nil
}
