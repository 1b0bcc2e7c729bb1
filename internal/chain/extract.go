package chain

import (
	"fmt"

	"github.com/ohler55/ojg/jp"
)

// extractInput applies a JSONPath to the carry before substitution. The
// carry is coerced to a JSON value first; if coercion fails entirely the
// extraction is skipped and the carry passes through unchanged. A singleton
// match unwraps to its element; scalars stay as they are so numeric carries
// splice unquoted, while containers re-encode to a JSON string.
func extractInput(carry string, path string) (any, error) {
	parsed, ok := coerceJSON(carry)
	if !ok {
		return carry, nil
	}

	got, err := applyPath(path, parsed)
	if err != nil {
		return nil, err
	}
	if isScalar(got) {
		return got, nil
	}
	return encodeJSON(got), nil
}

// extractOutput applies a JSONPath to a step's text result to produce the
// next carry. The result is JSON-encoded — even scalars — so the next step's
// input extraction has a uniform starting point. Text that cannot be coerced
// to JSON skips extraction and is returned unchanged.
func extractOutput(text string, path string) (string, error) {
	parsed, ok := coerceJSON(text)
	if !ok {
		return text, nil
	}

	got, err := applyPath(path, parsed)
	if err != nil {
		return "", err
	}
	return encodeJSON(got), nil
}

// applyPath evaluates the JSONPath expression against v and unwraps
// singleton match lists.
func applyPath(path string, v any) (any, error) {
	expr, err := jp.ParseString(path)
	if err != nil {
		return nil, fmt.Errorf("parse JSONPath %q: %w", path, err)
	}

	got := expr.Get(v)
	if len(got) == 1 {
		return got[0], nil
	}
	return got, nil
}

// isScalar reports whether v is a JSON scalar (string, number, bool, null)
// as opposed to an object or array.
func isScalar(v any) bool {
	switch v.(type) {
	case nil, string, bool, int64, float64, int, uint64:
		return true
	}
	return false
}
