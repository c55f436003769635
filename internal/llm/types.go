// Package llm provides the model provider client used by the turn runner.
package llm

import "context"

// Message represents a chat message on the provider boundary.
type Message struct {
	Role       string     `json:"role"` // system, user, assistant, tool
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // set on tool result messages
}

// ToolCall is a model-issued request to execute a named tool.
type ToolCall struct {
	// ID is the provider-assigned call ID, required for result correlation.
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolSpec describes one tool offered to the model.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// ChatResponse is the unified response from the provider. RawUsage is
// the provider's usage object as decoded JSON; field naming varies by
// provider and version, so normalization happens downstream
// (internal/usage).
type ChatResponse struct {
	Model      string
	Message    Message
	StopReason string
	RawUsage   map[string]any
}

// Client is the provider interface the turn runner depends on.
type Client interface {
	Chat(ctx context.Context, model string, messages []Message, tools []ToolSpec) (*ChatResponse, error)
}
