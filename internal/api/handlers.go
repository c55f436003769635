package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aavetis/memory-poc/internal/agent"
	"github.com/aavetis/memory-poc/internal/llm"
	"github.com/aavetis/memory-poc/internal/memory"
	"github.com/aavetis/memory-poc/internal/prompts"
	"github.com/aavetis/memory-poc/internal/tools"
	"github.com/aavetis/memory-poc/internal/toolschema"
	"github.com/aavetis/memory-poc/internal/usage"
)

// chatRequest is the /chat request body.
type chatRequest struct {
	Messages        []chatMessage           `json:"messages"`
	UserID          string                  `json:"userId,omitempty"`
	SystemPrompt    string                  `json:"systemPrompt,omitempty"`
	ToolDefinitions []toolschema.Definition `json:"toolDefinitions,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatResponse is the /chat success body.
type chatResponse struct {
	Reply string    `json:"reply"`
	Usage usageBody `json:"usage"`
}

type usageBody struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	CachedTokens     int `json:"cachedTokens"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	messages := make([]llm.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case "user", "assistant", "system":
		default:
			s.writeError(w, &agent.ValidationError{Reason: "message role must be user, assistant, or system"})
			return
		}
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}

	// Caller-supplied definitions replace the default tool set; the
	// executors behind them stay fixed.
	var toolset []*tools.Tool
	if len(req.ToolDefinitions) > 0 {
		built, err := s.registry.Build(req.ToolDefinitions)
		if err != nil {
			s.writeError(w, err)
			return
		}
		toolset = built
	} else {
		toolset = s.registry.Defaults()
	}

	systemPrompt := req.SystemPrompt
	if strings.TrimSpace(systemPrompt) == "" {
		systemPrompt = prompts.ChatSystem()
	}

	res, err := s.runner.Run(r.Context(), agent.Request{
		Messages:     messages,
		SystemPrompt: systemPrompt,
		Tools:        toolset,
		RunContext:   tools.RunContext{UserID: req.UserID},
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.recordUsage(r.Context(), res.RunID, req.UserID, "chat", res.Snapshots)

	writeJSON(w, http.StatusOK, chatResponse{
		Reply: res.Output,
		Usage: usageBody{
			PromptTokens:     res.Usage.InputTokens,
			CompletionTokens: res.Usage.OutputTokens,
			CachedTokens:     res.Usage.CachedTokens,
		},
	}, s.logger)
}

// pushRequest is the /push request body.
type pushRequest struct {
	UserID string `json:"userId"`
	Topic  string `json:"topic,omitempty"`
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	var req pushRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	n, err := s.workflow.Generate(r.Context(), req.UserID, req.Topic)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.recordUsage(r.Context(), n.RunID, req.UserID, "nudge", n.Snapshots)

	// Broker delivery is best-effort; the caller gets the message
	// either way.
	if s.notifier != nil {
		if err := s.notifier.PublishNudge(r.Context(), req.UserID, n.Message, n.RunID); err != nil {
			s.logger.Warn("nudge broker delivery failed", "user_id", req.UserID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": n.Message}, s.logger)
}

// pushMemoriesRequest is the /push/memories request body.
type pushMemoriesRequest struct {
	UserID string `json:"userId"`
	Limit  int    `json:"limit,omitempty"`
}

// broadRecallQuery surfaces a cross-section of what the store knows
// about a user, for preview ahead of a nudge.
const broadRecallQuery = "the user's interests, preferences, and recent activity"

func (s *Server) handlePushMemories(w http.ResponseWriter, r *http.Request) {
	var req pushMemoriesRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		s.writeError(w, &agent.ValidationError{Reason: "userId is required"})
		return
	}
	if s.store == nil {
		s.writeError(w, &agent.ValidationError{Reason: "memory store is not configured"})
		return
	}

	limit := req.Limit
	if limit <= 0 {
		limit = memory.DefaultLimit
	}

	items, err := s.store.Search(r.Context(), broadRecallQuery, req.UserID, limit)
	if err != nil {
		s.writeError(w, &llm.UpstreamError{Status: http.StatusBadGateway, Body: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"total":    len(items),
		"memories": items,
	}, s.logger)
}

// usageSummaryBody is one aggregate in the /usage response.
type usageSummaryBody struct {
	Records      int   `json:"records"`
	InputTokens  int64 `json:"inputTokens"`
	OutputTokens int64 `json:"outputTokens"`
	CachedTokens int64 `json:"cachedTokens"`
}

func summaryBody(sum *usage.Summary) usageSummaryBody {
	return usageSummaryBody{
		Records:      sum.TotalRecords,
		InputTokens:  sum.TotalInputTokens,
		OutputTokens: sum.TotalOutputTokens,
		CachedTokens: sum.TotalCachedTokens,
	}
}

// handleUsage reports token totals from the ledger, overall and per
// workflow, over a trailing window (?days=N, default 30).
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		s.writeError(w, &agent.ValidationError{Reason: "usage ledger is not configured"})
		return
	}

	days := 30
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 365 {
			s.writeError(w, &agent.ValidationError{Reason: "days must be an integer between 1 and 365"})
			return
		}
		days = n
	}

	end := time.Now()
	start := end.AddDate(0, 0, -days)

	total, err := s.ledger.Summary(start, end)
	if err != nil {
		s.writeError(w, err)
		return
	}
	byWorkflow, err := s.ledger.SummaryByWorkflow(start, end)
	if err != nil {
		s.writeError(w, err)
		return
	}

	workflows := make(map[string]usageSummaryBody, len(byWorkflow))
	for name, sum := range byWorkflow {
		workflows[name] = summaryBody(sum)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"since":      start.UTC().Format(time.RFC3339),
		"until":      end.UTC().Format(time.RFC3339),
		"total":      summaryBody(total),
		"byWorkflow": workflows,
	}, s.logger)
}
