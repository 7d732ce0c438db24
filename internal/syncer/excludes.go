package syncer

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
)

// DefaultExcludes covers version-control metadata, bytecode caches, and
// the usual editor and experiment-tracker droppings. Project ignore
// files and caller overrides are layered on top.
var DefaultExcludes = []string{
	".git/",
	"__pycache__/",
	"*.pyc",
	"*.pyo",
	".venv/",
	"venv/",
	"node_modules/",
	"*.egg-info/",
	".mypy_cache/",
	".pytest_cache/",
	".ruff_cache/",
	".ipynb_checkpoints/",
	".DS_Store",
	"wandb/",
	"outputs/",
	".idea/",
	".vscode/",
}

// ignoreFiles are read from the project root when present, in order.
var ignoreFiles = []string{".gitignore", ".dockerignore"}

// ExcludeSet is a compiled exclusion list. Match answers per-path
// questions for tree walks; Patterns exposes the raw list for handing
// to external transfer tools.
type ExcludeSet struct {
	patterns []string
	matcher  *ignore.GitIgnore
}

// CompileExcludes merges the built-in defaults, the project's ignore
// files under root, and caller overrides. Overrides are appended last
// so their negations win over earlier rules.
func CompileExcludes(root string, overrides []string) (*ExcludeSet, error) {
	patterns := make([]string, 0, len(DefaultExcludes)+len(overrides))
	patterns = append(patterns, DefaultExcludes...)
	for _, name := range ignoreFiles {
		lines, err := readIgnoreFile(filepath.Join(root, name))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		patterns = append(patterns, lines...)
	}
	for _, o := range overrides {
		o = strings.TrimSpace(o)
		if o != "" {
			patterns = append(patterns, o)
		}
	}
	return &ExcludeSet{
		patterns: patterns,
		matcher:  ignore.CompileIgnoreLines(patterns...),
	}, nil
}

// Match reports whether the slash-separated relative path is excluded.
// Directories are matched with a trailing slash so dir-only patterns
// like "__pycache__/" apply.
func (e *ExcludeSet) Match(rel string, isDir bool) bool {
	if e.matcher.MatchesPath(rel) {
		return true
	}
	if isDir && e.matcher.MatchesPath(rel+"/") {
		return true
	}
	return false
}

// Patterns returns the merged raw pattern list in rule order.
func (e *ExcludeSet) Patterns() []string { return e.patterns }

func readIgnoreFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines, sc.Err()
}
