package util

import (
	"encoding/json"
	"regexp"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\$\{([A-Za-z0-9_]+)\.([^}]+)\}`)

// RenderPlaceholders replaces ${prefix.key} markers whose prefix is present in
// scopes. Markers with an unknown prefix or key are left untouched.
func RenderPlaceholders(text string, scopes map[string]map[string]string) string {
	if !strings.Contains(text, "${") {
		return text
	}
	return placeholderRe.ReplaceAllStringFunc(text, func(m string) string {
		sub := placeholderRe.FindStringSubmatch(m)
		if v, ok := lookup(scopes, sub[1], sub[2]); ok {
			return v
		}
		return m
	})
}

// RenderJSONPlaceholders renders a JSON template. Values substituted inside a
// string literal are escaped with EscapeJSON; values outside one are spliced
// in verbatim so objects and arrays can be inserted.
func RenderJSONPlaceholders(text string, scopes map[string]map[string]string) string {
	if !strings.Contains(text, "${") {
		return text
	}
	var (
		b         strings.Builder
		inString  bool
		backslash bool
		pos       int
	)
	for _, loc := range placeholderRe.FindAllStringSubmatchIndex(text, -1) {
		lit := text[pos:loc[0]]
		inString, backslash = scanJSONString(lit, inString, backslash)
		b.WriteString(lit)

		v, ok := lookup(scopes, text[loc[2]:loc[3]], text[loc[4]:loc[5]])
		switch {
		case !ok:
			b.WriteString(text[loc[0]:loc[1]])
		case inString:
			b.WriteString(EscapeJSON(v))
		default:
			b.WriteString(v)
		}
		pos = loc[1]
	}
	b.WriteString(text[pos:])
	return b.String()
}

// scanJSONString tracks whether the end of s lies inside a JSON string.
func scanJSONString(s string, inString, backslash bool) (bool, bool) {
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case backslash:
			backslash = false
		case inString && c == '\\':
			backslash = true
		case c == '"':
			inString = !inString
		}
	}
	return inString, backslash
}

func lookup(scopes map[string]map[string]string, prefix, key string) (string, bool) {
	values, ok := scopes[prefix]
	if !ok {
		return "", false
	}
	v, ok := values[key]
	return v, ok
}

// RenderParameters is RenderPlaceholders with the single "parameters" scope.
func RenderParameters(text string, params map[string]string) string {
	return RenderPlaceholders(text, map[string]map[string]string{"parameters": params})
}

// UnresolvedPlaceholders lists ${prefix.key} markers still present in text.
func UnresolvedPlaceholders(text string) []string {
	return placeholderRe.FindAllString(text, -1)
}

// EscapeJSON escapes s for use inside a JSON string literal, without the
// surrounding quotes.
func EscapeJSON(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return s
	}
	return string(b[1 : len(b)-1])
}
