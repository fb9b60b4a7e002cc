package browser

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// URLPattern matches the page URL in route assertions.
//
// Three spellings are accepted:
//
//	re:.*login          regular expression, unanchored
//	**/jobs/*           glob: "**" spans path segments, "*" stays within one
//	/employer/dashboard exact path (or exact absolute URL)
//
// Paths without a scheme are compared against the path of the observed URL,
// so fixtures do not depend on the configured base URL.
type URLPattern struct {
	raw string
	re  *regexp.Regexp
}

// CompileURLPattern parses a pattern.
func CompileURLPattern(pattern string) (URLPattern, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return URLPattern{}, fmt.Errorf("empty url pattern")
	}

	if expr, ok := strings.CutPrefix(pattern, "re:"); ok {
		re, err := regexp.Compile(expr)
		if err != nil {
			return URLPattern{}, fmt.Errorf("url pattern %q: %w", pattern, err)
		}
		return URLPattern{raw: pattern, re: re}, nil
	}

	if strings.Contains(pattern, "*") {
		re, err := regexp.Compile("^" + globToRegexp(pattern) + "$")
		if err != nil {
			return URLPattern{}, fmt.Errorf("url pattern %q: %w", pattern, err)
		}
		return URLPattern{raw: pattern, re: re}, nil
	}

	return URLPattern{raw: pattern}, nil
}

// MustCompileURLPattern panics on malformed patterns.
func MustCompileURLPattern(pattern string) URLPattern {
	p, err := CompileURLPattern(pattern)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the pattern as written.
func (p URLPattern) String() string { return p.raw }

// Match reports whether observed satisfies the pattern.
func (p URLPattern) Match(observed string) bool {
	if p.re != nil {
		return p.re.MatchString(observed)
	}
	if strings.Contains(p.raw, "://") {
		return strings.TrimSuffix(observed, "/") == strings.TrimSuffix(p.raw, "/")
	}
	u, err := url.Parse(observed)
	if err != nil {
		return false
	}
	return cleanPath(u.Path) == cleanPath(p.raw)
}

func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	if len(p) > 1 {
		p = strings.TrimSuffix(p, "/")
	}
	return p
}

func globToRegexp(glob string) string {
	var b strings.Builder
	runes := []rune(glob)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '*' && i+1 < len(runes) && runes[i+1] == '*':
			b.WriteString(".*")
			i++
		case r == '*':
			b.WriteString("[^/]*")
		case r == '?':
			b.WriteString(`\?`)
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	return b.String()
}

// Resolve joins a route with base. Absolute URLs are returned unchanged.
func Resolve(base, route string) (string, error) {
	r, err := url.Parse(route)
	if err != nil {
		return "", fmt.Errorf("parse route %q: %w", route, err)
	}
	if r.IsAbs() {
		return r.String(), nil
	}
	if base == "" {
		return "", fmt.Errorf("relative route %q needs a base url", route)
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url %q: %w", base, err)
	}
	return b.ResolveReference(r).String(), nil
}
