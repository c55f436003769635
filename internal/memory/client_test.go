package memory

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNormalizeEnvelopeShapes(t *testing.T) {
	tests := []struct {
		name     string
		envelope any
		want     []string
	}{
		{
			name:     "raw array",
			envelope: []any{map[string]any{"memory": "likes CTV"}},
			want:     []string{"likes CTV"},
		},
		{
			name:     "results wrapper",
			envelope: map[string]any{"results": []any{map[string]any{"memory": "likes CTV"}}},
			want:     []string{"likes CTV"},
		},
		{
			name:     "memories wrapper",
			envelope: map[string]any{"memories": []any{map[string]any{"memory": "prefers tea"}}},
			want:     []string{"prefers tea"},
		},
		{
			name:     "data wrapper",
			envelope: map[string]any{"data": []any{map[string]any{"memory": "has a dog"}}},
			want:     []string{"has a dog"},
		},
		{
			name:     "unrecognized shape",
			envelope: map[string]any{"stuff": "nope"},
			want:     []string{},
		},
		{
			name:     "scalar",
			envelope: "just text",
			want:     []string{},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Normalize(tc.envelope)
			if len(got) != len(tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Errorf("item %d: got %q, want %q", i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestNormalizeItemShapes(t *testing.T) {
	envelope := []any{
		"plain string",
		map[string]any{"memory": "from memory field"},
		map[string]any{"data": map[string]any{"memory": "from nested data"}},
		map[string]any{"text": "from text field"},
		map[string]any{"content": "from content field"},
		map[string]any{"id": 7}, // JSON fallback
	}

	got := Normalize(envelope)
	want := []string{
		"plain string",
		"from memory field",
		"from nested data",
		"from text field",
		"from content field",
		`{"id":7}`,
	}
	if len(got) != len(want) {
		t.Fatalf("got %d items, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("item %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSearchSendsScopedRequest(t *testing.T) {
	var gotBody map[string]any
	var gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []any{map[string]any{"memory": "likes CTV"}},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", nil)
	items, err := c.Search(context.Background(), "CTV", "user-1", 0)
	if err != nil {
		t.Fatalf("search: %v", err)
	}

	if gotAuth != "Token secret" {
		t.Errorf("unexpected auth header: %q", gotAuth)
	}
	if gotBody["user_id"] != "user-1" {
		t.Errorf("expected user_id scoping, got %v", gotBody["user_id"])
	}
	if gotBody["limit"] != float64(DefaultLimit) {
		t.Errorf("expected default limit %d, got %v", DefaultLimit, gotBody["limit"])
	}
	if len(items) != 1 || items[0] != "likes CTV" {
		t.Errorf("unexpected items: %v", items)
	}
}

func TestSearchCapsLimit(t *testing.T) {
	var gotLimit float64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotLimit, _ = body["limit"].(float64)
		_ = json.NewEncoder(w).Encode([]any{})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", nil)
	if _, err := c.Search(context.Background(), "q", "u", 100); err != nil {
		t.Fatalf("search: %v", err)
	}
	if int(gotLimit) != MaxLimit {
		t.Errorf("expected limit capped at %d, got %v", MaxLimit, gotLimit)
	}
}

func TestSearchTruncatesResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		many := make([]any, 20)
		for i := range many {
			many[i] = map[string]any{"memory": "m"}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"results": many})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", nil)
	items, err := c.Search(context.Background(), "q", "u", 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(items) != 5 {
		t.Errorf("expected 5 items after truncation, got %d", len(items))
	}
}

func TestSearchUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "store on fire", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", nil)
	if _, err := c.Search(context.Background(), "q", "u", 5); err == nil {
		t.Fatal("expected error from failing store")
	}
}

func TestAddPostsMemory(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k", nil)
	if err := c.Add(context.Background(), "remember this", "user-2"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if gotBody["user_id"] != "user-2" {
		t.Errorf("expected user scoping, got %v", gotBody["user_id"])
	}
	msgs, ok := gotBody["messages"].([]any)
	if !ok || len(msgs) != 1 {
		t.Fatalf("unexpected messages payload: %v", gotBody["messages"])
	}
}
