package syncer

import (
	"io/fs"
	"path/filepath"
	"sort"
)

// Plan walks root and returns the relative paths of files the exclusion
// set admits, sorted. It performs no transfer; dry runs print this.
func Plan(root string, excl *ExcludeSet) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if excl.Match(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if !excl.Match(rel, false) {
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
