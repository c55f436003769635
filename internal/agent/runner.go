// Package agent runs bounded conversational turns against the model.
//
// A run is a loop: send the conversation, execute any tool calls the
// model makes, append the results, repeat. The loop is bounded by a
// turn limit so a model stuck calling tools cannot spin forever; an
// exhausted run is reported as aborted with whatever text the model
// produced last.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/aavetis/memory-poc/internal/events"
	"github.com/aavetis/memory-poc/internal/llm"
	"github.com/aavetis/memory-poc/internal/tools"
	"github.com/aavetis/memory-poc/internal/usage"
)

// DefaultMaxTurns bounds the tool loop when no limit is configured.
const DefaultMaxTurns = 8

// fallbackOutput is returned when a run ends without assistant text.
const fallbackOutput = "I wasn't able to produce a response. Please try again."

// ValidationError reports a request rejected before any model call.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid request: " + e.Reason
}

// Request is one conversational run.
type Request struct {
	// Messages is the conversation so far. Messages with neither
	// content nor tool calls are dropped; a request with nothing left
	// is rejected.
	Messages []llm.Message

	// SystemPrompt is prepended as a system message when non-empty.
	SystemPrompt string

	// Tools the model may call during this run.
	Tools []*tools.Tool

	// RunContext carries user identity into tool executors.
	RunContext tools.RunContext
}

// Result is the outcome of a completed run.
type Result struct {
	// RunID identifies this run in logs and the usage ledger.
	RunID string

	// Output is the final assistant text.
	Output string

	// Snapshots holds one usage snapshot per model call, in order.
	Snapshots []usage.Snapshot

	// Usage is the aggregated total across all model calls.
	Usage usage.Totals

	// Turns is the number of model calls made.
	Turns int

	// Aborted is true when the turn limit was reached before the
	// model produced a final answer.
	Aborted bool
}

// Runner executes runs against a model client.
type Runner struct {
	client   llm.Client
	model    string
	maxTurns int
	bus      *events.Bus
	logger   *slog.Logger
}

// NewRunner creates a runner. maxTurns <= 0 uses DefaultMaxTurns.
func NewRunner(client llm.Client, model string, maxTurns int, bus *events.Bus, logger *slog.Logger) *Runner {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		client:   client,
		model:    model,
		maxTurns: maxTurns,
		bus:      bus,
		logger:   logger.With("component", "agent"),
	}
}

// Run executes one bounded conversational run.
//
// Model and argument-validation failures abort the run with an error.
// Tool executor failures do not: their message is appended as the tool
// result so the model can relay the problem conversationally.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	conv := prepare(req)
	if len(conv) == 0 || onlySystem(conv) {
		return nil, &ValidationError{Reason: "no non-empty messages"}
	}

	runID := uuid.Must(uuid.NewV7()).String()
	logger := r.logger.With("run_id", runID)
	toolsByName := indexTools(req.Tools)
	specs := tools.Specs(req.Tools)

	r.bus.Publish(events.Event{
		Source: events.SourceAgent,
		Kind:   events.KindRunStart,
		Data:   map[string]any{"run_id": runID, "messages": len(conv), "tools": len(specs)},
	})

	result := &Result{RunID: runID}
	var lastText string

	for result.Turns < r.maxTurns {
		result.Turns++

		r.bus.Publish(events.Event{
			Source: events.SourceAgent,
			Kind:   events.KindModelCall,
			Data:   map[string]any{"run_id": runID, "turn": result.Turns},
		})

		resp, err := r.client.Chat(ctx, r.model, conv, specs)
		if err != nil {
			return nil, fmt.Errorf("model call (turn %d): %w", result.Turns, err)
		}

		snap := usage.Pick(resp.RawUsage)
		result.Snapshots = append(result.Snapshots, snap)

		r.bus.Publish(events.Event{
			Source: events.SourceAgent,
			Kind:   events.KindModelResponse,
			Data: map[string]any{
				"run_id":      runID,
				"turn":        result.Turns,
				"stop_reason": resp.StopReason,
				"tool_calls":  len(resp.Message.ToolCalls),
			},
		})

		if resp.Message.Content != "" {
			lastText = resp.Message.Content
		}

		if len(resp.Message.ToolCalls) == 0 {
			result.Output = resp.Message.Content
			break
		}

		conv = append(conv, resp.Message)

		for _, call := range resp.Message.ToolCalls {
			text, err := r.dispatch(ctx, logger, runID, toolsByName, req.RunContext, call)
			if err != nil {
				return nil, err
			}
			conv = append(conv, llm.Message{
				Role:       "tool",
				Content:    text,
				ToolCallID: call.ID,
			})
		}
	}

	if result.Output == "" {
		result.Aborted = result.Turns >= r.maxTurns
		if lastText != "" {
			result.Output = lastText
		} else {
			result.Output = fallbackOutput
		}
		if result.Aborted {
			logger.Warn("run aborted at turn limit", "turns", result.Turns)
		}
	}

	result.Usage = usage.Aggregate(result.Snapshots)

	r.bus.Publish(events.Event{
		Source: events.SourceAgent,
		Kind:   events.KindRunComplete,
		Data: map[string]any{
			"run_id":  runID,
			"turns":   result.Turns,
			"aborted": result.Aborted,
		},
	})

	return result, nil
}

// dispatch runs one tool call. Argument-validation failures are
// returned as errors and abort the run; everything else comes back as
// result text.
func (r *Runner) dispatch(ctx context.Context, logger *slog.Logger, runID string, byName map[string]*tools.Tool, rc tools.RunContext, call llm.ToolCall) (string, error) {
	r.bus.Publish(events.Event{
		Source: events.SourceAgent,
		Kind:   events.KindToolCall,
		Data:   map[string]any{"run_id": runID, "tool": call.Name},
	})

	tool, ok := byName[call.Name]
	if !ok {
		// The model called a tool it was never offered. Tell it so
		// rather than failing the whole run.
		logger.Warn("model called undeclared tool", "tool", call.Name)
		return fmt.Sprintf("Tool %q is not available.", call.Name), nil
	}

	text, err := tool.Execute(ctx, rc, call.Arguments)
	if err != nil {
		return "", fmt.Errorf("tool %q: %w", call.Name, err)
	}

	logger.Debug("tool executed", "tool", call.Name, "result_len", len(text))
	r.bus.Publish(events.Event{
		Source: events.SourceAgent,
		Kind:   events.KindToolDone,
		Data:   map[string]any{"run_id": runID, "tool": call.Name},
	})

	return text, nil
}

// prepare drops empty messages and prepends the system prompt.
func prepare(req Request) []llm.Message {
	conv := make([]llm.Message, 0, len(req.Messages)+1)
	if strings.TrimSpace(req.SystemPrompt) != "" {
		conv = append(conv, llm.Message{Role: "system", Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		if strings.TrimSpace(m.Content) == "" && len(m.ToolCalls) == 0 {
			continue
		}
		conv = append(conv, m)
	}
	return conv
}

func onlySystem(conv []llm.Message) bool {
	for _, m := range conv {
		if m.Role != "system" {
			return false
		}
	}
	return true
}

func indexTools(list []*tools.Tool) map[string]*tools.Tool {
	byName := make(map[string]*tools.Tool, len(list))
	for _, t := range list {
		byName[t.Definition.Name] = t
	}
	return byName
}
