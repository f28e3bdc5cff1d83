package store

import (
	"fmt"
	"regexp"
	"strings"
)

// compileGlob translates a Redis-style glob into an anchored regexp.
// Supported: * (any run), ? (one char), [abc] / [^abc] / [a-z] classes and
// backslash escapes.
func compileGlob(pattern string) (*regexp.Regexp, error) {
	var sb strings.Builder
	sb.WriteString(`(?s)^`)

	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		switch c := runes[i]; c {
		case '*':
			sb.WriteString(`.*`)
		case '?':
			sb.WriteString(`.`)
		case '\\':
			if i+1 < len(runes) {
				i++
				sb.WriteString(regexp.QuoteMeta(string(runes[i])))
			} else {
				sb.WriteString(`\\`)
			}
		case '[':
			end := i + 1
			for end < len(runes) && runes[end] != ']' {
				if runes[end] == '\\' {
					end++
				}
				end++
			}
			if end >= len(runes) {
				return nil, fmt.Errorf("invalid pattern %q: unterminated class", pattern)
			}
			class := runes[i+1 : end]
			sb.WriteByte('[')
			for j, r := range class {
				if r == '\\' {
					continue
				}
				if j == 0 && r == '^' {
					sb.WriteByte('^')
					continue
				}
				if r == '-' && j > 0 && j < len(class)-1 {
					sb.WriteByte('-')
					continue
				}
				sb.WriteString(regexp.QuoteMeta(string(r)))
			}
			sb.WriteByte(']')
			i = end
		default:
			sb.WriteString(regexp.QuoteMeta(string(c)))
		}
	}

	sb.WriteString(`$`)
	return regexp.Compile(sb.String())
}
