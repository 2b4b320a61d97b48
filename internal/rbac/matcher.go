package rbac

import (
	"regexp"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/viralforge/mesh/services/core-platform/M98-tenant-access-service/internal/domain"
)

const defaultPatternCacheSize = 1024

// Matcher decides whether a stored resource or action pattern covers a
// requested value.
type Matcher interface {
	Matches(pattern, candidate string) bool
}

// RegexMatcher treats patterns as regular expressions anchored at both ends,
// so "pets" never matches "pets-archive". "*" matches anything. Invalid
// patterns never match.
type RegexMatcher struct {
	// A nil entry records a pattern that failed to compile.
	cache *lru.Cache[string, *regexp.Regexp]
}

func NewRegexMatcher(cacheSize int) (*RegexMatcher, error) {
	if cacheSize <= 0 {
		cacheSize = defaultPatternCacheSize
	}
	cache, err := lru.New[string, *regexp.Regexp](cacheSize)
	if err != nil {
		return nil, err
	}
	return &RegexMatcher{cache: cache}, nil
}

func (m *RegexMatcher) Matches(pattern, candidate string) bool {
	if pattern == "*" || pattern == domain.MatchAnything {
		return true
	}
	re, ok := m.cache.Get(pattern)
	if !ok {
		compiled, err := regexp.Compile("^(?:" + pattern + ")$")
		if err != nil {
			compiled = nil
		}
		m.cache.Add(pattern, compiled)
		re = compiled
	}
	if re == nil {
		return false
	}
	return re.MatchString(candidate)
}

// LiteralMatcher compares exactly, honouring only the two wildcard spellings.
type LiteralMatcher struct{}

func (LiteralMatcher) Matches(pattern, candidate string) bool {
	return pattern == "*" || pattern == domain.MatchAnything || pattern == candidate
}
