package chain

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ohler55/ojg/oj"

	"github.com/localSummer/mcp-tool-chainer/internal/mcp"
)

// Sentinel is the exact token replaced by the previous step's output.
const Sentinel = "CHAIN_RESULT"

// quotedSentinel is the sentinel in its quoted template form, replaced as a
// whole so array templates like ["CHAIN_RESULT"] stay valid JSON.
const quotedSentinel = `"` + Sentinel + `"`

// templatePlaceholder stands in for the sentinel when validating a template:
// replacing the sentinel with a quoted literal sidesteps the embedding
// problem of validating JSON-with-a-hole.
const templatePlaceholder = `"__CR__"`

// validateTemplate reports whether tmpl parses as JSON once the sentinel is
// replaced by a placeholder string. The quoted form is replaced first so it
// collapses to a single string literal.
func validateTemplate(tmpl string) error {
	probe := strings.ReplaceAll(tmpl, quotedSentinel, templatePlaceholder)
	probe = strings.ReplaceAll(probe, Sentinel, templatePlaceholder)
	var v any
	if err := json.Unmarshal([]byte(probe), &v); err != nil {
		return err
	}
	return nil
}

// substitute splices carry into the template and parses the result. first
// marks step 0, whose template is used verbatim. A parse failure after
// substitution is a KindSubstitution error naming the step.
func substitute(step int, tmpl string, carry any, first bool) (any, error) {
	text, err := spliceCarry(tmpl, carry, first)
	if err != nil {
		return nil, err
	}
	args, err := oj.ParseString(text)
	if err != nil {
		return nil, mcp.WrapErr(mcp.KindSubstitution,
			fmt.Sprintf("step %d arguments are not valid JSON after substitution", step), err)
	}
	return args, nil
}

// spliceCarry produces the substituted argument text.
//
// Non-string carries take their textual JSON encoding, unquoted: the
// template is expected to position the sentinel where a JSON value belongs.
// String carries split on the template form: the quoted sentinel is replaced
// by the JSON string encoding of the carry (escaped, so carries holding
// quotes still parse); the bare sentinel tries the carry raw first (it may
// itself be JSON, or sit inside an existing string literal), then
// escaped-without-quotes, then as a full JSON string.
func spliceCarry(tmpl string, carry any, first bool) (string, error) {
	if first || !strings.Contains(tmpl, Sentinel) {
		return tmpl, nil
	}

	s, isString := carry.(string)
	if !isString {
		return strings.ReplaceAll(tmpl, Sentinel, encodeJSON(carry)), nil
	}

	if strings.Contains(tmpl, quotedSentinel) {
		return strings.ReplaceAll(tmpl, quotedSentinel, encodeJSON(s)), nil
	}

	quoted := encodeJSON(s)
	stripped := quoted[1 : len(quoted)-1]
	for _, insert := range []string{s, stripped, quoted} {
		candidate := strings.ReplaceAll(tmpl, Sentinel, insert)
		if _, err := oj.ParseString(candidate); err == nil {
			return candidate, nil
		}
	}
	// None of the splices parse; return the raw form so the caller's parse
	// reports the substitution failure.
	return strings.ReplaceAll(tmpl, Sentinel, s), nil
}
