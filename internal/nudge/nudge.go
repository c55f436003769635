// Package nudge generates proactive outreach messages.
//
// A nudge run is a normal agent run with a fixed system prompt that
// instructs the model to recall memories, research recent resources,
// and only then compose one message as a {"finalMessage": ...} JSON
// object. The phase order lives in the prompt, not in code; this
// package validates the shape of what comes back and degrades to the
// raw model text when the contract is missed.
package nudge

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/aavetis/memory-poc/internal/agent"
	"github.com/aavetis/memory-poc/internal/events"
	"github.com/aavetis/memory-poc/internal/llm"
	"github.com/aavetis/memory-poc/internal/prompts"
	"github.com/aavetis/memory-poc/internal/tools"
	"github.com/aavetis/memory-poc/internal/usage"
)

// ErrNoMessage is returned when a run produces neither a structured
// message nor any raw text to fall back on.
var ErrNoMessage = errors.New("nudge: no message produced")

// Nudge is one generated outreach message.
type Nudge struct {
	// Message is the outreach text.
	Message string

	// Structured is true when the model honored the finalMessage
	// JSON contract; false means Message is raw fallback text.
	Structured bool

	// WellFormed is true when Message also passes the markdown
	// structure check (intro plus a "Helpful reads:" link list).
	WellFormed bool

	RunID     string
	Turns     int
	Usage     usage.Totals
	Snapshots []usage.Snapshot
}

// Workflow generates nudges through an agent runner.
type Workflow struct {
	runner   *agent.Runner
	registry *tools.Registry
	bus      *events.Bus
	logger   *slog.Logger
}

// NewWorkflow creates a nudge workflow.
func NewWorkflow(runner *agent.Runner, registry *tools.Registry, bus *events.Bus, logger *slog.Logger) *Workflow {
	if logger == nil {
		logger = slog.Default()
	}
	return &Workflow{
		runner:   runner,
		registry: registry,
		bus:      bus,
		logger:   logger.With("component", "nudge"),
	}
}

// Generate drafts one nudge for userID. An optional topic narrows the
// recall phase.
func (w *Workflow) Generate(ctx context.Context, userID, topic string) (*Nudge, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, &agent.ValidationError{Reason: "userId is required"}
	}

	w.bus.Publish(events.Event{
		Source: events.SourceNudge,
		Kind:   events.KindNudgeStart,
		Data:   map[string]any{"user_id": userID, "topic": topic},
	})

	// A nudge run only retrieves: memory recall plus web research.
	// Offering the write or time tools here would let a drafting run
	// mutate the store.
	toolset := w.registry.Named("search_memories", "web_search")
	webSearch := false
	for _, t := range toolset {
		if t.Kind == tools.KindWebSearch {
			webSearch = true
		}
	}
	if !webSearch {
		w.logger.Warn("web search not configured; nudge research phase runs on memories alone",
			"user_id", userID)
	}

	res, err := w.runner.Run(ctx, agent.Request{
		Messages:     []llm.Message{{Role: "user", Content: prompts.NudgeKickoff}},
		SystemPrompt: prompts.NudgeSystem(topic),
		Tools:        toolset,
		RunContext: tools.RunContext{
			UserID: userID,
			// The research phase asks for recent material.
			SearchFreshness: "pm",
		},
	})
	if err != nil {
		return nil, err
	}

	message, structured := parseFinalMessage(res.Output)
	if message == "" {
		raw := strings.TrimSpace(res.Output)
		if raw == "" {
			return nil, ErrNoMessage
		}
		w.logger.Warn("nudge output missed the finalMessage contract, using raw text",
			"run_id", res.RunID)
		message = raw
	}

	n := &Nudge{
		Message:    message,
		Structured: structured,
		RunID:      res.RunID,
		Turns:      res.Turns,
		Usage:      res.Usage,
		Snapshots:  res.Snapshots,
	}

	if err := ValidateStructure(message); err != nil {
		w.logger.Warn("nudge message structure check failed",
			"run_id", res.RunID, "error", err)
	} else {
		n.WellFormed = true
	}

	w.bus.Publish(events.Event{
		Source: events.SourceNudge,
		Kind:   events.KindNudgeComplete,
		Data: map[string]any{
			"user_id":     userID,
			"run_id":      res.RunID,
			"structured":  n.Structured,
			"well_formed": n.WellFormed,
		},
	})

	return n, nil
}

// parseFinalMessage extracts the finalMessage field from the model's
// output. It tolerates code fences and surrounding prose by decoding
// the outermost JSON object it can find.
func parseFinalMessage(output string) (string, bool) {
	s := strings.TrimSpace(output)
	if s == "" {
		return "", false
	}

	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return "", false
	}

	var payload struct {
		FinalMessage string `json:"finalMessage"`
	}
	if err := json.Unmarshal([]byte(s[start:end+1]), &payload); err != nil {
		return "", false
	}

	msg := strings.TrimSpace(payload.FinalMessage)
	if msg == "" {
		return "", false
	}
	return msg, true
}
