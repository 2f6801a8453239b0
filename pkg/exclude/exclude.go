// Package exclude implements the ExclusionSet: an ordered set of
// normalized relative paths used to prune the remote subtree during
// listing.
package exclude

import "strings"

// Set is an ExclusionSet: normalized relative paths, each beginning with
// "/" and never ending with "/", compared case-insensitively.
type Set struct {
	entries []string
}

// New builds a Set from raw paths, normalizing each one.
func New(raw []string) Set {
	entries := make([]string, 0, len(raw))
	for _, r := range raw {
		n := normalize(r)
		if n != "" && n != "/" {
			entries = append(entries, n)
		}
	}
	return Set{entries: entries}
}

func normalize(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	p = strings.ReplaceAll(p, "\\", "/")
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	for strings.HasSuffix(p, "/") && len(p) > 1 {
		p = p[:len(p)-1]
	}
	return p
}

// Excludes reports whether relative path p (normalized the same way) is
// excluded: p equals some exclusion e, or p begins with e + "/".
func (s Set) Excludes(p string) bool {
	n := normalize(p)
	if n == "" {
		return false
	}
	lowered := strings.ToLower(n)
	for _, e := range s.entries {
		le := strings.ToLower(e)
		if lowered == le || strings.HasPrefix(lowered, le+"/") {
			return true
		}
	}
	return false
}

// Len reports the number of normalized exclusions.
func (s Set) Len() int { return len(s.entries) }
