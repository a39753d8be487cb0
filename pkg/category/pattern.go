package category

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

const globMeta = "*?[{\\"

// Match reports whether a project-relative path matches a category glob.
// "**" crosses directory boundaries; "*" stays within one segment.
func Match(pattern, relPath string) bool {
	ok, err := doublestar.Match(pattern, relPath)
	return err == nil && ok
}

// LiteralPrefix returns the leading directory segments of pattern that
// contain no glob metacharacters: "evidence/financial/**" yields
// "evidence/financial", "evidence/*.pdf" yields "evidence", "**" yields "".
func LiteralPrefix(pattern string) string {
	segs := strings.Split(pattern, "/")
	var lit []string
	for i, seg := range segs {
		if strings.ContainsAny(seg, globMeta) {
			break
		}
		// The final segment of a meta-free pattern names a file, not a
		// directory.
		if i == len(segs)-1 {
			break
		}
		lit = append(lit, seg)
	}
	return strings.Join(lit, "/")
}

// isRecursive reports whether pattern covers everything beneath its
// literal prefix.
func isRecursive(pattern string) bool {
	return pattern == "**" || strings.HasSuffix(pattern, "/**")
}

// within reports whether dir equals base or lies beneath it.
func within(dir, base string) bool {
	return base == "" || dir == base || strings.HasPrefix(dir, base+"/")
}

// Nests reports whether pattern lies under ancestor in the category tree:
// ancestor is recursive and pattern's literal prefix is at or beneath
// ancestor's. A pattern never nests under itself.
func Nests(ancestor, pattern string) bool {
	if ancestor == pattern || !isRecursive(ancestor) {
		return false
	}
	return within(LiteralPrefix(pattern), LiteralPrefix(ancestor))
}

// ValidPattern reports whether pattern is a well-formed glob.
func ValidPattern(pattern string) bool {
	return pattern != "" && !strings.HasPrefix(pattern, "/") && doublestar.ValidatePattern(pattern)
}
