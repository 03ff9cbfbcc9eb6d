// Package rewrite retargets quoted image references in markup text to the
// converted file extension.
package rewrite

import (
	"path"
	"regexp"
	"sort"
	"strings"
)

// Scope selects which references are retargeted.
type Scope int

const (
	// ScopeExtension rewrites every quoted path ending in an old image
	// extension, whether or not that image was converted.
	ScopeExtension Scope = iota
	// ScopeRenamed rewrites only references that resolve to a key of the
	// rename map.
	ScopeRenamed
)

func ParseScope(s string) Scope {
	if strings.EqualFold(s, "renamed") {
		return ScopeRenamed
	}
	return ScopeExtension
}

type Rewriter struct {
	pattern   *regexp.Regexp
	oldExts   []string
	targetExt string
	scope     Scope
}

// New builds a Rewriter for the given input extensions (with leading dot)
// and canonical target extension.
func New(oldExts []string, targetExt string, scope Scope) *Rewriter {
	exts := make([]string, 0, len(oldExts))
	for _, ext := range oldExts {
		exts = append(exts, strings.ToLower(ext))
	}
	// Longest first so ".jpeg" is tried before a shorter overlapping suffix.
	sort.Slice(exts, func(i, j int) bool {
		if len(exts[i]) != len(exts[j]) {
			return len(exts[i]) > len(exts[j])
		}
		return exts[i] < exts[j]
	})

	alts := make([]string, 0, len(exts))
	for _, ext := range exts {
		alts = append(alts, regexp.QuoteMeta(ext))
	}
	group := "(?:" + strings.Join(alts, "|") + ")"
	pattern := regexp.MustCompile(`(?i)"[^"']+?` + group + `"|'[^"']+?` + group + `'`)

	return &Rewriter{pattern: pattern, oldExts: exts, targetExt: targetExt, scope: scope}
}

// Rewrite returns text with matching references retargeted and the number
// of references changed. markupRel is the slash-separated, root-relative
// path of the markup file; renames maps old to new root-relative paths.
// Both are consulted only in ScopeRenamed. When nothing matches, text is
// returned as is.
func (r *Rewriter) Rewrite(text, markupRel string, renames map[string]string) (string, int) {
	count := 0
	out := r.pattern.ReplaceAllStringFunc(text, func(match string) string {
		quote := match[:1]
		inner := match[1 : len(match)-1]
		ext := r.suffix(inner)
		if ext == "" {
			return match
		}
		body := inner[:len(inner)-len(ext)]

		if r.scope == ScopeRenamed {
			if _, ok := renames[resolve(markupRel, inner)]; !ok {
				return match
			}
		}

		count++
		return quote + body + r.targetExt + quote
	})
	if count == 0 {
		return text, 0
	}
	return out, count
}

// Count reports how many references Rewrite would change.
func (r *Rewriter) Count(text, markupRel string, renames map[string]string) int {
	_, n := r.Rewrite(text, markupRel, renames)
	return n
}

func (r *Rewriter) suffix(inner string) string {
	lower := strings.ToLower(inner)
	for _, ext := range r.oldExts {
		if strings.HasSuffix(lower, ext) {
			return inner[len(inner)-len(ext):]
		}
	}
	return ""
}

// resolve turns a reference found in markupRel into a root-relative slash
// path. References with a scheme or protocol-relative host never resolve.
func resolve(markupRel, ref string) string {
	if strings.Contains(ref, "://") || strings.HasPrefix(ref, "//") || strings.HasPrefix(ref, "data:") {
		return ""
	}
	if strings.HasPrefix(ref, "/") {
		return strings.TrimPrefix(path.Clean(ref), "/")
	}
	return path.Join(path.Dir(markupRel), ref)
}
