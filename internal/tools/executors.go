package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aavetis/memory-poc/internal/memory"
	"github.com/aavetis/memory-poc/internal/search"
	"github.com/aavetis/memory-poc/internal/toolschema"
)

// noUserID is returned by memory tools on anonymous runs. It tells the
// model why the store is unavailable so it can answer honestly instead
// of hallucinating stored facts.
const noUserID = "No user ID is associated with this conversation, so the memory store is unavailable. Answer from the conversation itself."

func (r *Registry) executorFor(kind Kind) executor {
	switch kind {
	case KindAddMemory:
		return r.execAddMemory
	case KindSearchMemories:
		return r.execSearchMemories
	case KindGetTime:
		return r.execGetTime
	case KindWebSearch:
		return r.execWebSearch
	case KindFetchURL:
		return r.execFetchURL
	}
	// Build only hands out known kinds.
	return func(context.Context, RunContext, map[string]any) string {
		return fmt.Sprintf("Tool kind %v is not implemented.", kind)
	}
}

func (r *Registry) execAddMemory(ctx context.Context, rc RunContext, args map[string]any) string {
	text, _ := args["text"].(string)
	// Definitions are caller-editable, so the schema's length bound
	// cannot be relied on here.
	if strings.TrimSpace(text) == "" {
		return "Nothing to save: the memory text is empty."
	}
	if rc.UserID == "" {
		return noUserID
	}
	if r.writer == nil {
		return "The memory store is not configured."
	}
	if !r.writer.Enqueue(text, rc.UserID) {
		return "Failed to save memory: the write queue is not accepting work."
	}
	// The write completes in the background; acknowledge the intent.
	ack, _ := json.Marshal(map[string]string{"status": "queued"})
	return string(ack)
}

func (r *Registry) execSearchMemories(ctx context.Context, rc RunContext, args map[string]any) string {
	query, _ := args["query"].(string)
	limit := intArg(args, "limit")

	if rc.UserID == "" {
		return noUserID
	}
	if r.store == nil {
		return "The memory store is not configured."
	}

	items, err := r.store.Search(ctx, query, rc.UserID, limit)
	if err != nil {
		r.logger.Warn("memory search failed", "request_id", rc.RequestID, "error", err)
		return fmt.Sprintf("Failed to search memories: %v", err)
	}
	if len(items) == 0 {
		return "No memories found."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d memories:\n", len(items))
	for _, item := range items {
		b.WriteString("- ")
		b.WriteString(item)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (r *Registry) execGetTime(ctx context.Context, rc RunContext, args map[string]any) string {
	tz, _ := args["timezone"].(string)
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return fmt.Sprintf("Unknown timezone %q. Use an IANA name like \"America/New_York\" or \"UTC\".", tz)
	}
	now := time.Now().In(loc)
	return now.Format("Monday, January 2, 2006 at 3:04 PM MST")
}

func (r *Registry) execWebSearch(ctx context.Context, rc RunContext, args map[string]any) string {
	query, _ := args["query"].(string)
	if r.searcher == nil || !r.searcher.Configured() {
		return "Web search is not configured."
	}

	results, err := r.searcher.Search(ctx, query, search.Options{
		Count:     5,
		Freshness: rc.SearchFreshness,
	})
	if err != nil {
		r.logger.Warn("web search failed", "request_id", rc.RequestID, "error", err)
		return fmt.Sprintf("Failed to search the web: %v", err)
	}
	return search.FormatResults(results)
}

func (r *Registry) execFetchURL(ctx context.Context, rc RunContext, args map[string]any) string {
	rawURL, _ := args["url"].(string)
	if r.fetcher == nil {
		return "URL fetching is disabled."
	}

	page, err := r.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		r.logger.Warn("fetch failed", "request_id", rc.RequestID, "url", rawURL, "error", err)
		return fmt.Sprintf("Failed to fetch %s: %v", rawURL, err)
	}

	var b strings.Builder
	if page.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n\n", page.Title)
	}
	b.WriteString(page.Content)
	if page.Truncated {
		b.WriteString("\n\n[content truncated]")
	}
	return b.String()
}

// intArg reads an integer argument. Validation has already confirmed
// it is a whole number.
func intArg(args map[string]any, name string) int {
	switch n := args[name].(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	}
	return 0
}

// DefaultDefinitions returns the definitions of the built-in tool set.
// Every parameter is required; the model must supply all of them.
func DefaultDefinitions() []toolschema.Definition {
	one := 1
	minLimit := 1.0
	maxLimit := float64(memory.MaxLimit)

	return []toolschema.Definition{
		{
			Name:        "add_memory",
			Description: "Save a fact about the user for future conversations. Use when the user shares preferences, interests, or personal details worth remembering.",
			Parameters: toolschema.ObjectSchema{
				Type: "object",
				Properties: []toolschema.Param{
					{Name: "text", Property: toolschema.Property{
						Type:        toolschema.TypeString,
						Description: "The fact to remember, phrased as a standalone statement.",
						MinLength:   &one,
					}},
				},
			},
			Strict: true,
		},
		{
			Name:        "search_memories",
			Description: "Search previously saved facts about the user. Use before answering questions that may depend on the user's history or preferences.",
			Parameters: toolschema.ObjectSchema{
				Type: "object",
				Properties: []toolschema.Param{
					{Name: "query", Property: toolschema.Property{
						Type:        toolschema.TypeString,
						Description: "What to look for.",
						MinLength:   &one,
					}},
					{Name: "limit", Property: toolschema.Property{
						Type:        toolschema.TypeInteger,
						Description: "Maximum number of memories to return.",
						Minimum:     &minLimit,
						Maximum:     &maxLimit,
					}},
				},
			},
			Strict: true,
		},
		{
			Name:        "get_time",
			Description: "Get the current date and time in a given timezone.",
			Parameters: toolschema.ObjectSchema{
				Type: "object",
				Properties: []toolschema.Param{
					{Name: "timezone", Property: toolschema.Property{
						Type:        toolschema.TypeString,
						Description: "IANA timezone name, e.g. \"America/New_York\" or \"UTC\".",
					}},
				},
			},
			Strict: true,
		},
		{
			Name:        "web_search",
			Description: "Search the web for current information.",
			Parameters: toolschema.ObjectSchema{
				Type: "object",
				Properties: []toolschema.Param{
					{Name: "query", Property: toolschema.Property{
						Type:        toolschema.TypeString,
						Description: "The search query.",
						MinLength:   &one,
					}},
				},
			},
			Strict: true,
		},
		{
			Name:        "fetch_url",
			Description: "Fetch a web page and return its readable text content.",
			Parameters: toolschema.ObjectSchema{
				Type: "object",
				Properties: []toolschema.Param{
					{Name: "url", Property: toolschema.Property{
						Type:        toolschema.TypeString,
						Description: "The URL to fetch.",
						MinLength:   &one,
					}},
				},
			},
			Strict: true,
		},
	}
}
