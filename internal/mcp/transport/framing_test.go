package transport

import (
	"testing"
)

func TestFrameScanner_SplitsCompleteLines(t *testing.T) {
	t.Parallel()
	var sc frameScanner

	lines := sc.feed([]byte("{\"id\":1}\n{\"id\":2}\n"))
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if string(lines[0]) != `{"id":1}` || string(lines[1]) != `{"id":2}` {
		t.Errorf("unexpected lines: %q, %q", lines[0], lines[1])
	}
}

func TestFrameScanner_RetainsPartialLine(t *testing.T) {
	t.Parallel()
	var sc frameScanner

	lines := sc.feed([]byte(`{"id":1,"resu`))
	if len(lines) != 0 {
		t.Fatalf("partial unbalanced line must not flush, got %d lines", len(lines))
	}

	lines = sc.feed([]byte("lt\":\"x\"}\n"))
	if len(lines) != 1 {
		t.Fatalf("expected 1 line after completion, got %d", len(lines))
	}
	if string(lines[0]) != `{"id":1,"result":"x"}` {
		t.Errorf("unexpected line: %q", lines[0])
	}
}

func TestFrameScanner_SkipsEmptyLines(t *testing.T) {
	t.Parallel()
	var sc frameScanner

	lines := sc.feed([]byte("\n\n{\"id\":3}\n\n"))
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
}

func TestFrameScanner_BalancedTailFlushesWithoutNewline(t *testing.T) {
	t.Parallel()
	var sc frameScanner

	// A pretty-printed frame delivered in two chunks, never terminated by a
	// trailing newline.
	lines := sc.feed([]byte("{\n  \"id\": 3,\n  \"result\": {"))
	if len(lines) != 0 {
		t.Fatalf("unbalanced tail must not flush, got %d lines", len(lines))
	}

	lines = sc.feed([]byte("\n    \"ok\": true\n  }\n}"))
	if len(lines) != 1 {
		t.Fatalf("expected balanced tail to flush as 1 candidate, got %d", len(lines))
	}
}

func TestFrameScanner_BalancedTailIgnoresBracesInStrings(t *testing.T) {
	t.Parallel()
	var sc frameScanner

	lines := sc.feed([]byte(`{"id":4,"result":"brace } in \" string"}`))
	if len(lines) != 1 {
		t.Fatalf("string-embedded braces must not affect balance, got %d lines", len(lines))
	}
}

func TestFrameScanner_AssemblesPrettyPrintedFrame(t *testing.T) {
	t.Parallel()
	var sc frameScanner

	// Every line of the pretty-printed frame is newline-terminated; the
	// scanner must reassemble them into one candidate.
	lines := sc.feed([]byte("{\n  \"jsonrpc\": \"2.0\",\n  \"id\": 3,\n  \"result\": {\"ok\": true}\n}\n"))
	if len(lines) != 1 {
		t.Fatalf("expected 1 assembled candidate, got %d: %q", len(lines), lines)
	}
	if !balanced(lines[0]) {
		t.Errorf("assembled candidate is unbalanced: %q", lines[0])
	}
}

func TestFrameScanner_AssemblyInterruptedByStandaloneFrame(t *testing.T) {
	t.Parallel()
	var sc frameScanner

	// A dangling opener must not swallow a later complete frame.
	lines := sc.feed([]byte("{\n{\"id\":7,\"result\":\"x\"}\n"))
	if len(lines) != 2 {
		t.Fatalf("expected abandoned assembly + standalone frame, got %d: %q", len(lines), lines)
	}
	if string(lines[1]) != `{"id":7,"result":"x"}` {
		t.Errorf("standalone frame corrupted: %q", lines[1])
	}
}

func TestFrameScanner_NoiseAroundAssembly(t *testing.T) {
	t.Parallel()
	var sc frameScanner

	input := "[INFO] starting\n" +
		"{\n  \"id\": 1,\n  \"result\": {}\n}\n" +
		"<!DOCTYPE html>\n"
	lines := sc.feed([]byte(input))
	if len(lines) != 3 {
		t.Fatalf("expected noise + frame + noise candidates, got %d: %q", len(lines), lines)
	}
	if !balanced(lines[1]) {
		t.Errorf("pretty frame not reassembled: %q", lines[1])
	}
}

func TestLooksLikeFrame(t *testing.T) {
	t.Parallel()
	cases := []struct {
		line string
		want bool
	}{
		{`{"id":1}`, true},
		{`  {"id":1}`, true},
		{`[1,2,3]`, true},
		{`[ERROR] something broke`, false},
		{`[WARN] heads up`, false},
		{`[INFO] starting`, false},
		{`[DEBUG] verbose`, false},
		{`Error: boom`, false},
		{`Warning: careful`, false},
		{`<!DOCTYPE html>`, false},
		{`<html><body>502</body></html>`, false},
		{`plain log text`, false},
		{``, false},
		{`   `, false},
	}
	for _, tc := range cases {
		if got := looksLikeFrame([]byte(tc.line)); got != tc.want {
			t.Errorf("looksLikeFrame(%q) = %v, want %v", tc.line, got, tc.want)
		}
	}
}

func TestBalanced(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want bool
	}{
		{`{}`, true},
		{`{"a":[1,2]}`, true},
		{`{"a":"}"}`, true},
		{`{"a":"\"}"}`, true},
		{`{"a":1`, false},
		{`{"a":[1}`, false}, // bracket still open
		{`{"a":"unterminated`, false},
	}
	for _, tc := range cases {
		if got := balanced([]byte(tc.in)); got != tc.want {
			t.Errorf("balanced(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
