// Package chain implements the chain executor: it walks a sequence of
// downstream tool calls, threading each step's text output — optionally
// JSONPath-filtered on both sides of the hop — into the next step's argument
// template in place of the CHAIN_RESULT sentinel. Intermediate payloads
// never leave the process.
package chain

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/localSummer/mcp-tool-chainer/internal/mcp"
	"github.com/localSummer/mcp-tool-chainer/internal/observe"
	"github.com/localSummer/mcp-tool-chainer/internal/registry"
)

// Step is one hop of a chain as supplied by the upstream client.
type Step struct {
	// ToolName must resolve to a registry alias.
	ToolName string `json:"toolName"`

	// ToolArgs is a JSON-valued template, optionally containing the
	// CHAIN_RESULT sentinel.
	ToolArgs string `json:"toolArgs"`

	// InputPath is an optional JSONPath applied to the carry before
	// substitution.
	InputPath string `json:"inputPath,omitempty"`

	// OutputPath is an optional JSONPath applied to the step's text result.
	OutputPath string `json:"outputPath,omitempty"`
}

// Finder resolves a tool alias to its downstream record. Satisfied by
// [registry.Registry].
type Finder interface {
	Find(alias string) (*registry.Record, bool)
}

// Executor runs chains against the tool registry. Safe for concurrent use;
// each Run carries only stack-local state.
type Executor struct {
	finder  Finder
	log     *slog.Logger
	metrics *observe.Metrics
}

// New creates an Executor resolving tools through finder.
func New(finder Finder) *Executor {
	return &Executor{
		finder:  finder,
		log:     slog.With("component", "chain"),
		metrics: observe.DefaultMetrics(),
	}
}

// Run validates and executes the chain, returning the final step's textual
// payload. Steps are strictly sequential; the first failure aborts the
// chain with a composite error naming the step and tool. There is no retry.
func (e *Executor) Run(ctx context.Context, steps []Step) (string, error) {
	if err := e.validate(steps); err != nil {
		e.metrics.RecordChainExecution(ctx, "invalid")
		return "", err
	}

	var carry string
	for i, step := range steps {
		text, err := e.runStep(ctx, i, step, carry)
		if err != nil {
			e.metrics.RecordChainStep(ctx, step.ToolName, "error")
			e.metrics.RecordChainExecution(ctx, "error")
			return "", mcp.AbortChain(i, step.ToolName, err)
		}
		e.metrics.RecordChainStep(ctx, step.ToolName, "ok")
		carry = text
	}

	e.metrics.RecordChainExecution(ctx, "ok")
	return carry, nil
}

// validate rejects structurally broken chains before any downstream call:
// empty chains, steps missing toolName or toolArgs, templates that cannot
// parse even with the sentinel plugged, and unresolvable aliases.
func (e *Executor) validate(steps []Step) error {
	if len(steps) == 0 {
		return fmt.Errorf("chain is empty")
	}
	for i, step := range steps {
		if step.ToolName == "" {
			return fmt.Errorf("step %d is missing toolName", i)
		}
		if step.ToolArgs == "" {
			return fmt.Errorf("step %d is missing toolArgs", i)
		}
		if err := validateTemplate(step.ToolArgs); err != nil {
			return mcp.WrapErr(mcp.KindSubstitution,
				fmt.Sprintf("step %d toolArgs is not a valid JSON template", i), err)
		}
		if _, ok := e.finder.Find(step.ToolName); !ok {
			return mcp.Errorf(mcp.KindToolNotFound, "step %d references unknown tool %q", i, step.ToolName)
		}
	}
	return nil
}

// runStep executes one hop: input extraction, sentinel substitution, the
// downstream call, and output extraction.
func (e *Executor) runStep(ctx context.Context, i int, step Step, carry string) (string, error) {
	first := i == 0

	// 1. Input extraction.
	var in any = carry
	if !first && step.InputPath != "" {
		v, err := extractInput(carry, step.InputPath)
		if err != nil {
			return "", err
		}
		in = v
	}

	// 2. Sentinel substitution.
	args, err := substitute(i, step.ToolArgs, in, first)
	if err != nil {
		return "", err
	}

	// 3. Tool call. The record may have vanished in a rediscovery between
	// validation and now; re-resolve and fail cleanly.
	rec, ok := e.finder.Find(step.ToolName)
	if !ok {
		return "", mcp.Errorf(mcp.KindToolNotFound, "tool %q disappeared from the registry", step.ToolName)
	}
	result, err := rec.Client.CallTool(ctx, rec.Tool.Name, args)
	if err != nil {
		return "", err
	}
	text, ok := result.FirstText()
	if !ok {
		return "", mcp.Errorf(mcp.KindEmptyResponse, "step %d returned no text content", i)
	}

	e.log.Debug("chain step complete",
		"step", i,
		"tool", step.ToolName,
		"server", rec.ServerKey,
		"bytes", len(text),
	)

	// 4. Output extraction.
	if step.OutputPath == "" {
		return text, nil
	}
	return extractOutput(text, step.OutputPath)
}
