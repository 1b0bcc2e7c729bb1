package mcp_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/localSummer/mcp-tool-chainer/internal/mcp"
)

func TestAbortChain_NamesStepAndTool(t *testing.T) {
	t.Parallel()
	cause := mcp.Errorf(mcp.KindTimeout, "no response within 30s")
	err := mcp.AbortChain(2, "fetch_fetch", cause)

	msg := err.Error()
	if !strings.Contains(msg, "step 2") || !strings.Contains(msg, "fetch_fetch") {
		t.Errorf("composite message missing step/tool: %q", msg)
	}
	if !errors.Is(err, cause) {
		t.Error("composite must wrap its cause")
	}
	if mcp.KindOf(err) != mcp.KindChainAborted {
		t.Errorf("KindOf = %s", mcp.KindOf(err))
	}
}

func TestErrorIs_MatchesByKind(t *testing.T) {
	t.Parallel()
	err := mcp.Errorf(mcp.KindTimeout, "slow downstream")
	if !errors.Is(err, &mcp.Error{Kind: mcp.KindTimeout}) {
		t.Error("errors.Is should match by kind")
	}
	if errors.Is(err, &mcp.Error{Kind: mcp.KindRemote}) {
		t.Error("errors.Is should not cross kinds")
	}
}

func TestRemoteErr_CarriesCodeVerbatim(t *testing.T) {
	t.Parallel()
	err := mcp.RemoteErr(-32601, "method not found")
	if err.Code != -32601 || err.Msg != "method not found" {
		t.Errorf("err = %+v", err)
	}
	if !strings.Contains(err.Error(), "-32601") {
		t.Errorf("message should include the code: %q", err.Error())
	}
}

func TestKindOf_Wrapped(t *testing.T) {
	t.Parallel()
	inner := mcp.Errorf(mcp.KindTransport, "pipe broke")
	wrapped := mcp.AbortChain(0, "t", inner)

	// KindOf reports the outermost kind; the cause keeps its own.
	if mcp.KindOf(wrapped) != mcp.KindChainAborted {
		t.Errorf("outer kind = %s", mcp.KindOf(wrapped))
	}
	if mcp.KindOf(errors.Unwrap(wrapped)) != mcp.KindTransport {
		t.Errorf("inner kind = %s", mcp.KindOf(errors.Unwrap(wrapped)))
	}
	if mcp.KindOf(errors.New("plain")) != "" {
		t.Error("plain errors have no kind")
	}
}

func TestFirstText(t *testing.T) {
	t.Parallel()
	full := &mcp.CallToolResult{Content: []mcp.Content{{Type: "text", Text: "payload"}}}
	if text, ok := full.FirstText(); !ok || text != "payload" {
		t.Errorf("FirstText = %q, %v", text, ok)
	}

	empty := &mcp.CallToolResult{}
	if _, ok := empty.FirstText(); ok {
		t.Error("empty content must not yield text")
	}

	wrongType := &mcp.CallToolResult{Content: []mcp.Content{{Type: "image"}}}
	if _, ok := wrongType.FirstText(); ok {
		t.Error("non-text first block must not yield text")
	}
}
