package routing

import (
	"regexp"
	"strings"
	"sync"
	"time"
)

// matchTimeout bounds a single pattern evaluation. Go's regexp engine runs
// in linear time, but the budget still guards against a pathological
// pattern/input pair stalling a delivery.
const matchTimeout = time.Second

type patternKind int

const (
	kindGlob patternKind = iota
	kindRegexp
)

// compiled expressions are cached per pattern string; entries are only ever
// added, never mutated, so a sync.Map fits.
var patternCache sync.Map // string -> *regexp.Regexp

// Matches reports whether value satisfies the pattern expression.
//
// The expression may be a single glob, a single /regex/, or a
// comma-separated list of either form (logical OR). An empty or
// whitespace-only expression matches nothing.
func Matches(value, expression string) bool {
	for _, element := range strings.Split(expression, ",") {
		element = strings.TrimSpace(element)
		if element == "" {
			continue
		}
		if matchElement(value, element) {
			return true
		}
	}
	return false
}

// classify decides which syntax a single pattern element uses and strips
// the regex delimiters. List splitting happens before classification, so a
// pattern element never contains a comma.
func classify(element string) (patternKind, string) {
	if len(element) >= 2 && element[0] == '/' && element[len(element)-1] == '/' {
		return kindRegexp, element[1 : len(element)-1]
	}
	return kindGlob, element
}

func matchElement(value, element string) bool {
	kind, pattern := classify(element)

	var expr string
	switch kind {
	case kindRegexp:
		// Substring semantics: the pattern anchors itself with ^/$ if it
		// wants a whole-string match.
		expr = "(?is)" + pattern
	case kindGlob:
		expr = globToRegexp(pattern)
	}

	re, err := compile(expr)
	if err != nil {
		// Broken pattern, treated as a non-match rather than an error so a
		// single bad rule cannot break delivery of subsequent mail.
		return false
	}
	return matchBounded(re, value)
}

// globToRegexp translates a glob into an anchored, case-insensitive regular
// expression. "*" matches any run of characters, including an empty one;
// everything else is literal.
func globToRegexp(glob string) string {
	var b strings.Builder
	b.WriteString("(?is)^")
	for i, literal := range strings.Split(glob, "*") {
		if i > 0 {
			b.WriteString(".*")
		}
		b.WriteString(regexp.QuoteMeta(literal))
	}
	b.WriteString("$")
	return b.String()
}

func compile(expr string) (*regexp.Regexp, error) {
	if cached, ok := patternCache.Load(expr); ok {
		return cached.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	patternCache.Store(expr, re)
	return re, nil
}

// matchBounded evaluates re against value within matchTimeout. Exhausting
// the budget counts as a non-match.
func matchBounded(re *regexp.Regexp, value string) bool {
	done := make(chan bool, 1)
	go func() {
		done <- re.MatchString(value)
	}()

	select {
	case matched := <-done:
		return matched
	case <-time.After(matchTimeout):
		return false
	}
}
