package indexer

import (
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dshills/codekb/internal/graph"
)

// goModInfo contains parsed go.mod information
type goModInfo struct {
	Module    string
	GoVersion string
}

// parseGoMod extracts the module path and go version from a go.mod file
func parseGoMod(goModPath string) (*goModInfo, error) {
	content, err := os.ReadFile(goModPath)
	if err != nil {
		return nil, err
	}

	info := &goModInfo{}
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "module ") {
			info.Module = strings.Trim(strings.TrimSpace(strings.TrimPrefix(line, "module")), `"`)
		} else if strings.HasPrefix(line, "go ") {
			info.GoVersion = strings.TrimSpace(strings.TrimPrefix(line, "go"))
		}
	}
	return info, nil
}

// BuildModuleMap maps importable names to the files they refer to.
//
// Python files map by dotted path ("pkg/sub/mod.py" is "pkg.sub.mod", a package's
// __init__.py is the package itself) and files under src/ are also reachable without
// the "src." prefix. Go files map by package import path when root has a go.mod,
// so an import resolves to every file of that package.
func BuildModuleMap(root string, files []string) graph.ModuleMap {
	mm := make(graph.ModuleMap)
	add := func(name, file string) {
		if name != "" {
			mm[name] = append(mm[name], file)
		}
	}

	var goModule string
	if info, err := parseGoMod(filepath.Join(root, "go.mod")); err == nil {
		goModule = info.Module
	}

	for _, f := range files {
		switch {
		case strings.HasSuffix(f, ".py"):
			name := pythonModuleName(f)
			add(name, f)
			if rest, ok := strings.CutPrefix(name, "src."); ok {
				add(rest, f)
			}
		case strings.HasSuffix(f, ".go") && goModule != "":
			dir := path.Dir(f)
			if dir == "." {
				add(goModule, f)
			} else {
				add(goModule+"/"+dir, f)
			}
		}
	}
	for k := range mm {
		sort.Strings(mm[k])
	}
	return mm
}

func pythonModuleName(rel string) string {
	name := strings.ReplaceAll(strings.TrimSuffix(rel, ".py"), "/", ".")
	if name == "__init__" {
		return ""
	}
	return strings.TrimSuffix(name, ".__init__")
}
