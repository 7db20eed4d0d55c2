package timemachine

import (
	"fmt"
	"strconv"
	"strings"

	"orgvault/internal/source"
)

// Filters maps field names to match values. A string value containing `*`
// is a wildcard pattern where `*` matches any substring, case-insensitively.
// Any other value requires exact equality. A record matches only if every
// key matches.
type Filters map[string]any

type fieldMatcher struct {
	field   string
	exact   string
	pattern *pattern
}

type compiledFilters []fieldMatcher

// compileFilters builds the matchers once per query so patterns are not
// rebuilt per record.
func compileFilters(filters Filters) compiledFilters {
	compiled := make(compiledFilters, 0, len(filters))
	for field, value := range filters {
		if s, ok := value.(string); ok && strings.Contains(s, "*") {
			compiled = append(compiled, fieldMatcher{field: field, pattern: compilePattern(s)})
			continue
		}
		compiled = append(compiled, fieldMatcher{field: field, exact: formatValue(value)})
	}
	return compiled
}

// matches reports whether every filter key matches the record. A key absent
// from the record never matches.
func (cf compiledFilters) matches(r source.Record) bool {
	for _, m := range cf {
		value, ok := r[m.field]
		if !ok {
			return false
		}
		text := formatValue(value)
		if m.pattern != nil {
			if !m.pattern.match(text) {
				return false
			}
			continue
		}
		if text != m.exact {
			return false
		}
	}
	return true
}

// pattern is a compiled wildcard expression: literal segments separated by
// `*` markers. Not a glob engine — `*` is the only special character and it
// matches any substring.
type pattern struct {
	segments []string
}

func compilePattern(expr string) *pattern {
	return &pattern{segments: strings.Split(strings.ToLower(expr), "*")}
}

// match reports whether v satisfies the pattern, case-insensitively.
// The first and last segments anchor to the start and end of the value when
// non-empty; interior segments must appear in order without overlap.
func (p *pattern) match(v string) bool {
	v = strings.ToLower(v)
	segs := p.segments

	if len(segs) == 1 {
		return v == segs[0]
	}

	pos := 0
	if first := segs[0]; first != "" {
		if !strings.HasPrefix(v, first) {
			return false
		}
		pos = len(first)
	}

	for _, seg := range segs[1 : len(segs)-1] {
		if seg == "" {
			continue
		}
		idx := strings.Index(v[pos:], seg)
		if idx < 0 {
			return false
		}
		pos += idx + len(seg)
	}

	if last := segs[len(segs)-1]; last != "" {
		if !strings.HasSuffix(v, last) || len(v)-len(last) < pos {
			return false
		}
	}
	return true
}

// formatValue renders a record field or filter value for comparison.
// JSON numbers arrive as float64; format them without a trailing ".0" so a
// filter of 100 matches a stored 100.
func formatValue(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case bool:
		return strconv.FormatBool(value)
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	case int:
		return strconv.Itoa(value)
	case int64:
		return strconv.FormatInt(value, 10)
	default:
		return fmt.Sprint(value)
	}
}
