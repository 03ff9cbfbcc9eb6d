// Package locator finds candidate images and markup files under a project
// root while staying out of maintenance directories.
package locator

import (
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// Filter rejects paths that pass through an excluded directory.
type Filter struct {
	excluded map[string]struct{}
}

func NewFilter(excludedDirs []string) *Filter {
	f := &Filter{excluded: make(map[string]struct{}, len(excludedDirs))}
	for _, dir := range excludedDirs {
		f.excluded[dir] = struct{}{}
	}
	return f
}

// ShouldSkip reports whether any component of the root-relative path equals
// an excluded directory name. Both slash and OS separators are accepted.
func (f *Filter) ShouldSkip(rel string) bool {
	rel = filepath.ToSlash(rel)
	for _, part := range strings.Split(rel, "/") {
		if _, ok := f.excluded[part]; ok {
			return true
		}
	}
	return false
}

// FindImages returns the absolute paths of regular files under root whose
// lowercased extension is in exts, sorted by relative path.
func FindImages(root string, filter *Filter, exts []string) ([]string, error) {
	set := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		set[strings.ToLower(ext)] = struct{}{}
	}
	return find(root, filter, func(ext string) bool {
		_, ok := set[ext]
		return ok
	})
}

// FindMarkup returns the absolute paths of markup files under root, sorted
// by relative path.
func FindMarkup(root string, filter *Filter, ext string) ([]string, error) {
	ext = strings.ToLower(ext)
	return find(root, filter, func(candidate string) bool {
		return candidate == ext
	})
}

func find(root string, filter *Filter, match func(ext string) bool) ([]string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	var rels []string
	err = fs.WalkDir(os.DirFS(absRoot), ".", func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if p == "." {
			return nil
		}
		if filter != nil && filter.ShouldSkip(p) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if !match(strings.ToLower(path.Ext(p))) {
			return nil
		}
		rels = append(rels, p)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(rels)
	out := make([]string, 0, len(rels))
	for _, rel := range rels {
		out = append(out, filepath.Join(absRoot, filepath.FromSlash(rel)))
	}
	return out, nil
}
