package filter

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// metaChars are regexp metacharacters that must be escaped when they occur
// as literal glob characters (outside bracket expressions) or immediately
// after a glob escape ('\').
const metaChars = `\.+()|[]{}^$`

func escapeLiteral(re *strings.Builder, c rune) {
	if strings.ContainsRune(metaChars, c) {
		re.WriteRune('\\')
	}
	re.WriteRune(c)
}

// compileGlob translates one mask pattern into an anchored regular
// expression, following the teacher's glob-to-regexp idiom (fs/filter's
// GlobToRegexp, known in this pack only via its test file,
// fs/filter/glob_test.go): `*` matches within one path segment, `**`
// matches across segments, `?` matches one non-separator byte, `[...]`
// passes through as a regexp character class, `{a,b,c}` becomes `(a|b|c)`,
// and a leading `/` anchors the whole pattern to the start rather than to
// any path segment boundary.
func compileGlob(glob string, ignoreCase bool) (*regexp.Regexp, error) {
	var re strings.Builder
	if ignoreCase {
		re.WriteString("(?i)")
	}
	if strings.HasPrefix(glob, "/") {
		re.WriteRune('^')
		glob = glob[1:]
	} else {
		re.WriteString("(^|/)")
	}

	consecutiveStars := 0
	insertStars := func() error {
		switch consecutiveStars {
		case 0:
		case 1:
			re.WriteString(`[^/]*`)
		case 2:
			re.WriteString(`.*`)
		default:
			return errors.New("too many stars")
		}
		consecutiveStars = 0
		return nil
	}

	inBracket := false
	inBrace := false
	escapeNext := false

	for _, c := range glob {
		if escapeNext {
			escapeLiteral(&re, c)
			escapeNext = false
			continue
		}
		if c != '*' {
			if err := insertStars(); err != nil {
				return nil, err
			}
		}
		switch {
		case c == '\\':
			escapeNext = true
		case inBracket:
			if c == ']' {
				inBracket = false
			}
			re.WriteRune(c)
		case c == '*':
			consecutiveStars++
		case c == '?':
			re.WriteString(`[^/]`)
		case c == '[':
			inBracket = true
			re.WriteRune(c)
		case c == ']':
			return nil, errors.New("mismatched ']'")
		case inBrace && c == ',':
			re.WriteRune('|')
		case c == '{':
			if inBrace {
				return nil, errors.New("can't nest '{' inside '{' and '}'")
			}
			inBrace = true
			re.WriteRune('(')
		case c == '}':
			if !inBrace {
				return nil, errors.New("mismatched '{' and '}'")
			}
			inBrace = false
			re.WriteRune(')')
		default:
			escapeLiteral(&re, c)
		}
	}
	if err := insertStars(); err != nil {
		return nil, err
	}
	if inBracket {
		return nil, errors.New("mismatched '[' and ']'")
	}
	if inBrace {
		return nil, errors.New("mismatched '{' and '}'")
	}
	re.WriteRune('$')

	result, err := regexp.Compile(re.String())
	if err != nil {
		return nil, fmt.Errorf("bad glob pattern %q: %w", glob, err)
	}
	return result, nil
}
