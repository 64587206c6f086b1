package cache

import (
	"fmt"
	"regexp"
	"strings"
)

// namespaced returns the stored id for key.
func (s *Store) namespaced(key string) string {
	if s.namespace == "" {
		return key
	}
	return s.namespace + ":" + key
}

// keyMatcher compiles pattern into an expression over stored ids. Within a
// namespace a pattern anchored with "^" is anchored right after the
// namespace prefix; an unanchored pattern may match anywhere after it. The
// pattern is grouped so alternations cannot escape the namespace.
func keyMatcher(namespace, pattern string) (*regexp.Regexp, error) {
	source := pattern
	if namespace != "" {
		prefix := "^" + regexp.QuoteMeta(namespace) + ":"
		if strings.HasPrefix(source, "^") {
			source = prefix + "(?:" + source[1:] + ")"
		} else {
			source = prefix + ".*(?:" + source + ")"
		}
	}
	re, err := regexp.Compile(source)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidPattern, pattern, err)
	}
	return re, nil
}

// Glob converts a shell-style pattern into an anchored regular expression
// suitable for DeleteMatched. It supports "*", "?" and bracket classes,
// with "[!...]" negation.
func Glob(pattern string) string {
	var b strings.Builder
	b.WriteString("^")
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		switch c {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		case '[':
			end := strings.IndexByte(pattern[i+1:], ']')
			if end < 0 {
				b.WriteString(`\[`)
				continue
			}
			class := pattern[i+1 : i+1+end]
			if strings.HasPrefix(class, "!") {
				class = "^" + class[1:]
			}
			// "[]" and "[!]" match nothing; treat the bracket as a literal.
			if class == "" || class == "^" {
				b.WriteString(`\[`)
				continue
			}
			b.WriteString("[" + strings.ReplaceAll(class, `\`, `\\`) + "]")
			i += end + 1
		case '\\':
			if i+1 < len(pattern) {
				i++
				b.WriteString(regexp.QuoteMeta(string(pattern[i])))
			} else {
				b.WriteString(`\\`)
			}
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteString("$")
	return b.String()
}
