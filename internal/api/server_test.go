package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aavetis/memory-poc/internal/agent"
	"github.com/aavetis/memory-poc/internal/events"
	"github.com/aavetis/memory-poc/internal/llm"
	"github.com/aavetis/memory-poc/internal/memory"
	"github.com/aavetis/memory-poc/internal/nudge"
	"github.com/aavetis/memory-poc/internal/tools"
	"github.com/aavetis/memory-poc/internal/usage"
)

// scriptedClient replays canned responses in order and records every
// conversation it receives.
type scriptedClient struct {
	responses []*llm.ChatResponse
	err       error
	calls     [][]llm.Message
}

func (c *scriptedClient) Chat(ctx context.Context, model string, messages []llm.Message, specs []llm.ToolSpec) (*llm.ChatResponse, error) {
	c.calls = append(c.calls, append([]llm.Message(nil), messages...))
	if c.err != nil {
		return nil, c.err
	}
	i := len(c.calls) - 1
	if i >= len(c.responses) {
		i = len(c.responses) - 1
	}
	return c.responses[i], nil
}

func newTestServer(t *testing.T, client llm.Client, store *memory.Client) *httptest.Server {
	t.Helper()
	bus := events.New()
	runner := agent.NewRunner(client, "test-model", 8, bus, nil)
	registry := tools.NewRegistry(store, nil, nil, nil, nil)
	workflow := nudge.NewWorkflow(runner, registry, bus, nil)
	s := NewServer("127.0.0.1:0", "test-model", runner, registry, workflow, store, nil, nil, bus, nil)

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, decoded
}

func TestChatHappyPath(t *testing.T) {
	client := &scriptedClient{responses: []*llm.ChatResponse{{
		Message:    llm.Message{Role: "assistant", Content: "Hello! How can I help?"},
		StopReason: "end_turn",
		RawUsage:   map[string]any{"input_tokens": 15, "output_tokens": 9},
	}}}
	srv := newTestServer(t, client, nil)

	resp, body := postJSON(t, srv.URL+"/chat", map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %v", resp.StatusCode, body)
	}

	reply, _ := body["reply"].(string)
	if reply == "" {
		t.Error("expected non-empty reply")
	}
	u, _ := body["usage"].(map[string]any)
	if u["promptTokens"] != float64(15) || u["completionTokens"] != float64(9) {
		t.Errorf("unexpected usage: %v", u)
	}
}

func TestChatMemoryScenario(t *testing.T) {
	storeSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{{"memory": "likes CTV"}},
		})
	}))
	defer storeSrv.Close()
	store := memory.NewClient(storeSrv.URL, "k", nil)

	client := &scriptedClient{responses: []*llm.ChatResponse{
		{
			Message: llm.Message{Role: "assistant", ToolCalls: []llm.ToolCall{{
				ID: "toolu_1", Name: "search_memories",
				Arguments: map[string]any{"query": "CTV", "limit": 5},
			}}},
			StopReason: "tool_use",
			RawUsage:   map[string]any{"input_tokens": 30, "output_tokens": 12},
		},
		{
			Message:    llm.Message{Role: "assistant", Content: "You mentioned you like CTV."},
			StopReason: "end_turn",
			RawUsage:   map[string]any{"input_tokens": 45, "output_tokens": 10},
		},
	}}
	srv := newTestServer(t, client, store)

	resp, body := postJSON(t, srv.URL+"/chat", map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "what do I watch?"}},
		"userId":   "u1",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %v", resp.StatusCode, body)
	}
	if body["reply"] != "You mentioned you like CTV." {
		t.Errorf("unexpected reply: %v", body["reply"])
	}

	// The tool result fed back into the second model call.
	second := client.calls[1]
	last := second[len(second)-1]
	if last.Role != "tool" || !strings.Contains(last.Content, "likes CTV") {
		t.Errorf("tool result missing from transcript: %+v", last)
	}

	// Usage summed across both calls.
	u, _ := body["usage"].(map[string]any)
	if u["promptTokens"] != float64(75) || u["completionTokens"] != float64(22) {
		t.Errorf("unexpected usage: %v", u)
	}
}

func TestChatRejectsUnknownToolDefinition(t *testing.T) {
	srv := newTestServer(t, &scriptedClient{}, nil)

	resp, body := postJSON(t, srv.URL+"/chat", map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
		"toolDefinitions": []map[string]any{{
			"name":        "run_shell",
			"description": "nope",
			"parameters": map[string]any{
				"type":       "object",
				"properties": map[string]any{"cmd": map[string]any{"type": "string"}},
			},
		}},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %v", resp.StatusCode, body)
	}
	if body["statusText"] != "Bad Request" || body["error"] == "" {
		t.Errorf("malformed error envelope: %v", body)
	}
}

func TestChatRejectsEmptyMessages(t *testing.T) {
	srv := newTestServer(t, &scriptedClient{}, nil)

	resp, _ := postJSON(t, srv.URL+"/chat", map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "   "}},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestChatRejectsBadRole(t *testing.T) {
	srv := newTestServer(t, &scriptedClient{}, nil)

	resp, _ := postJSON(t, srv.URL+"/chat", map[string]any{
		"messages": []map[string]string{{"role": "wizard", "content": "hi"}},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestChatUpstreamErrorEnvelope(t *testing.T) {
	client := &scriptedClient{err: &llm.UpstreamError{Status: 429, Body: "rate limited"}}
	srv := newTestServer(t, client, nil)

	resp, body := postJSON(t, srv.URL+"/chat", map[string]any{
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	})
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.StatusCode)
	}
	up, _ := body["upstream"].(map[string]any)
	if up["status"] != float64(429) || up["body"] != "rate limited" {
		t.Errorf("upstream diagnostics missing: %v", body)
	}
}

func TestPushGeneratesNudge(t *testing.T) {
	final := `{"finalMessage": "Hey! Thought of you.\n\nHelpful reads:\n- [A](https://a.example)\n- [B](https://b.example)"}`
	client := &scriptedClient{responses: []*llm.ChatResponse{{
		Message:    llm.Message{Role: "assistant", Content: final},
		StopReason: "end_turn",
		RawUsage:   map[string]any{"input_tokens": 80, "output_tokens": 60},
	}}}
	srv := newTestServer(t, client, nil)

	resp, body := postJSON(t, srv.URL+"/push", map[string]any{"userId": "u1", "topic": "streaming"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %v", resp.StatusCode, body)
	}
	msg, _ := body["message"].(string)
	if !strings.Contains(msg, "Helpful reads:") {
		t.Errorf("unexpected message: %q", msg)
	}
}

func TestPushRequiresUserID(t *testing.T) {
	srv := newTestServer(t, &scriptedClient{}, nil)

	resp, _ := postJSON(t, srv.URL+"/push", map[string]any{"topic": "x"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestPushMemories(t *testing.T) {
	storeSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"memories": []map[string]any{
				{"memory": "likes CTV"},
				{"memory": "runs on weekends"},
			},
		})
	}))
	defer storeSrv.Close()
	store := memory.NewClient(storeSrv.URL, "k", nil)
	srv := newTestServer(t, &scriptedClient{}, store)

	resp, body := postJSON(t, srv.URL+"/push/memories", map[string]any{"userId": "u1"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %v", resp.StatusCode, body)
	}
	if body["ok"] != true || body["total"] != float64(2) {
		t.Errorf("unexpected body: %v", body)
	}
	mems, _ := body["memories"].([]any)
	if len(mems) != 2 || mems[0] != "likes CTV" {
		t.Errorf("unexpected memories: %v", mems)
	}
}

func TestPushMemoriesRequiresUserID(t *testing.T) {
	srv := newTestServer(t, &scriptedClient{}, nil)

	resp, _ := postJSON(t, srv.URL+"/push/memories", map[string]any{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestUsageSummary(t *testing.T) {
	ledger, err := usage.NewStore(filepath.Join(t.TempDir(), "usage.db"))
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	defer ledger.Close()

	ctx := context.Background()
	tokens := func(n int) *int { return &n }
	if err := ledger.RecordSnapshot(ctx, "r1", "u1", "chat", "m",
		usage.Snapshot{InputTokens: tokens(30), OutputTokens: tokens(12)}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := ledger.RecordSnapshot(ctx, "r2", "u1", "nudge", "m",
		usage.Snapshot{InputTokens: tokens(80), OutputTokens: tokens(60), CachedTokens: tokens(5)}); err != nil {
		t.Fatalf("record: %v", err)
	}

	bus := events.New()
	runner := agent.NewRunner(&scriptedClient{}, "m", 8, bus, nil)
	registry := tools.NewRegistry(nil, nil, nil, nil, nil)
	workflow := nudge.NewWorkflow(runner, registry, bus, nil)
	s := NewServer("127.0.0.1:0", "m", runner, registry, workflow, nil, ledger, nil, bus, nil)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/usage")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}

	total, _ := body["total"].(map[string]any)
	if total["records"] != float64(2) || total["inputTokens"] != float64(110) ||
		total["outputTokens"] != float64(72) || total["cachedTokens"] != float64(5) {
		t.Errorf("unexpected totals: %v", total)
	}

	byWorkflow, _ := body["byWorkflow"].(map[string]any)
	chat, _ := byWorkflow["chat"].(map[string]any)
	if chat["records"] != float64(1) || chat["inputTokens"] != float64(30) {
		t.Errorf("unexpected chat summary: %v", chat)
	}
	if _, ok := byWorkflow["nudge"]; !ok {
		t.Errorf("nudge workflow missing: %v", byWorkflow)
	}

	// Out-of-range window parameter.
	resp, err = http.Get(srv.URL + "/usage?days=0")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for days=0, got %d", resp.StatusCode)
	}
}

func TestUsageWithoutLedger(t *testing.T) {
	srv := newTestServer(t, &scriptedClient{}, nil)

	resp, err := http.Get(srv.URL + "/usage")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, &scriptedClient{}, nil)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestEventsStream(t *testing.T) {
	bus := events.New()
	runner := agent.NewRunner(&scriptedClient{}, "m", 8, bus, nil)
	registry := tools.NewRegistry(nil, nil, nil, nil, nil)
	workflow := nudge.NewWorkflow(runner, registry, bus, nil)
	s := NewServer("127.0.0.1:0", "m", runner, registry, workflow, nil, nil, nil, bus, nil)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Give the handler a moment to subscribe before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for bus.SubscriberCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	bus.Publish(events.Event{
		Source: events.SourceAgent,
		Kind:   events.KindRunStart,
		Data:   map[string]any{"run_id": "r1"},
	})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev events.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.Source != events.SourceAgent || ev.Kind != events.KindRunStart {
		t.Errorf("unexpected event: %+v", ev)
	}
}
