package mcp

import (
	"errors"
	"fmt"
)

// Kind classifies an error surfaced by the chainer core.
type Kind string

const (
	// KindConfig indicates a missing or malformed config file.
	KindConfig Kind = "config"

	// KindTransport indicates a spawn, pipe, or write failure, or a closed
	// child process.
	KindTransport Kind = "transport"

	// KindTimeout indicates no response arrived within the request deadline.
	KindTimeout Kind = "timeout"

	// KindRemote indicates the downstream returned a JSON-RPC error object.
	KindRemote Kind = "remote"

	// KindToolNotFound indicates a chain step referenced an unknown alias.
	KindToolNotFound Kind = "tool_not_found"

	// KindSubstitution indicates toolArgs failed to parse as JSON after
	// sentinel substitution.
	KindSubstitution Kind = "substitution"

	// KindEmptyResponse indicates tools/call returned a well-formed envelope
	// with empty content.
	KindEmptyResponse Kind = "empty_response"

	// KindChainAborted wraps a per-step failure with the step index and tool
	// name.
	KindChainAborted Kind = "chain_aborted"
)

// Error is the error type surfaced by the transport, client, registry, and
// chain executor. Step and Tool are set only on chain-aborted composites;
// Code is set only for remote errors.
type Error struct {
	Kind Kind

	// Msg is the human-readable description.
	Msg string

	// Code is the JSON-RPC error code for KindRemote.
	Code int

	// Step is the zero-based chain step index for KindChainAborted.
	Step int

	// Tool is the step's tool alias for KindChainAborted.
	Tool string

	// Err is the wrapped cause, if any.
	Err error
}

func (e *Error) Error() string {
	switch {
	case e.Kind == KindChainAborted:
		if e.Err != nil {
			return fmt.Sprintf("chain aborted at step %d (%s): %v", e.Step, e.Tool, e.Err)
		}
		return fmt.Sprintf("chain aborted at step %d (%s): %s", e.Step, e.Tool, e.Msg)
	case e.Kind == KindRemote:
		return fmt.Sprintf("remote error %d: %s", e.Code, e.Msg)
	case e.Err != nil && e.Msg != "":
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality, so errors.Is(err, &Error{Kind: KindTimeout})
// matches any timeout regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Errorf builds an *Error of the given kind with a formatted message.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// WrapErr builds an *Error of the given kind wrapping cause.
func WrapErr(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

// RemoteErr builds a KindRemote error carrying the downstream code and
// message verbatim.
func RemoteErr(code int, message string) *Error {
	return &Error{Kind: KindRemote, Code: code, Msg: message}
}

// AbortChain wraps cause into a KindChainAborted composite naming the step
// and tool.
func AbortChain(step int, tool string, cause error) *Error {
	return &Error{Kind: KindChainAborted, Step: step, Tool: tool, Err: cause}
}

// KindOf returns the Kind of err when it is (or wraps) an *Error, and ""
// otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
