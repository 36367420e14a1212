package refcache

import (
	"regexp"
	"strings"
	"sync"
)

// Qualified-name pattern matching for bulk invalidation. Qualified names are
// hierarchical ("default/db/table"), so the common case is a prefix wildcard
// like "default/db/*" after a database-level change.
//
// Supported forms:
//   - Exact:          "default/db/t1"
//   - Prefix:         "default/db/*"
//   - Suffix:         "*/t1"
//   - Contains:       "*staging*"
//   - Mixed wildcard: "default/*/t1" (compiled to a cached regexp)

var regexCache sync.Map // pattern -> *regexp.Regexp

// matchQualifiedName reports whether name matches pattern.
// Complexity: O(k) for the fast paths, regexp cost for mixed wildcards.
func matchQualifiedName(pattern, name string) bool {
	if pattern == "" {
		return false
	}
	if pattern == "*" {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return pattern == name
	}

	inner := strings.Trim(pattern, "*")
	switch {
	case strings.HasPrefix(pattern, "*") && strings.HasSuffix(pattern, "*"):
		return !strings.Contains(inner, "*") && strings.Contains(name, inner)
	case strings.HasSuffix(pattern, "*") && !strings.Contains(inner, "*"):
		return strings.HasPrefix(name, inner)
	case strings.HasPrefix(pattern, "*") && !strings.Contains(inner, "*"):
		return strings.HasSuffix(name, inner)
	}

	re, err := compilePattern(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(name)
}

// compilePattern turns a wildcard pattern into an anchored regexp, caching
// compilations so repeated invalidations don't recompile.
func compilePattern(pattern string) (*regexp.Regexp, error) {
	if cached, ok := regexCache.Load(pattern); ok {
		return cached.(*regexp.Regexp), nil
	}

	expr := "^" + strings.ReplaceAll(regexp.QuoteMeta(pattern), `\*`, ".*") + "$"
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	regexCache.Store(pattern, re)
	return re, nil
}
