package chain

import (
	"strings"

	"github.com/ohler55/ojg/oj"
)

// maxUnescapeDepth bounds the recursive unescape fallback. Downstream
// servers have been observed double- and triple-encoding JSON into their
// text payloads; ten layers is far beyond anything seen in the wild.
const maxUnescapeDepth = 10

// coerceJSON tries to interpret s as a JSON value. It first parses s
// directly; failing that, it retries from the first '{' with the recursive
// unescape fallback. The second return is false when s cannot be coerced,
// in which case callers keep the carry as-is.
func coerceJSON(s string) (any, bool) {
	if v, err := oj.ParseString(s); err == nil {
		return v, true
	}
	if i := strings.IndexByte(s, '{'); i >= 0 {
		if v, ok := parseUnescaping(s[i:], maxUnescapeDepth); ok {
			return v, true
		}
	}
	return nil, false
}

// parseUnescaping parses s as JSON, peeling escape layers as needed. Each
// recursion either re-reads s as a JSON string literal (internal quotes
// escaped) and descends into its value, or strips one layer of backslash
// escapes. depth bounds the recursion.
func parseUnescaping(s string, depth int) (any, bool) {
	if v, err := oj.ParseString(s); err == nil {
		return v, true
	}
	if depth <= 0 {
		return nil, false
	}

	wrapped := `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
	if v, err := oj.ParseString(wrapped); err == nil {
		if inner, ok := v.(string); ok && inner != s {
			if v2, ok2 := parseUnescaping(inner, depth-1); ok2 {
				return v2, true
			}
		}
	}

	if strings.ContainsRune(s, '\\') {
		return parseUnescaping(unescapeOnce(s), depth-1)
	}
	return nil, false
}

// unescapeOnce removes one layer of backslash escapes: every `\X` pair
// becomes `X`. A trailing lone backslash is kept.
func unescapeOnce(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// encodeJSON renders v as compact JSON without HTML escaping, so carries
// holding markup survive a round trip intact.
func encodeJSON(v any) string {
	return oj.JSON(v)
}
