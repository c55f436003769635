package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const samplePage = `<!DOCTYPE html>
<html>
<head><title>Sample Article</title><script>var x = 1;</script></head>
<body>
<nav>Home | About | Contact</nav>
<header>Site banner</header>
<article>
<h1>Sample Article</h1>
<p>First paragraph of the article body.</p>
<p>Second   paragraph with    extra whitespace.</p>
<ul><li>point one</li><li>point two</li></ul>
</article>
<footer>Copyright 2026</footer>
</body>
</html>`

func TestFetchExtractsReadableText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(samplePage))
	}))
	defer srv.Close()

	f := New(0)
	page, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	if page.Title != "Sample Article" {
		t.Errorf("unexpected title: %q", page.Title)
	}
	if !strings.Contains(page.Content, "First paragraph of the article body.") {
		t.Errorf("missing body text:\n%s", page.Content)
	}
	if strings.Contains(page.Content, "var x = 1") {
		t.Error("script content leaked into extraction")
	}
	if strings.Contains(page.Content, "Home | About") {
		t.Error("nav content leaked into extraction")
	}
	if strings.Contains(page.Content, "Copyright 2026") {
		t.Error("footer content leaked into extraction")
	}
	if strings.Contains(page.Content, "extra whitespace.") &&
		strings.Contains(page.Content, "   ") {
		t.Error("whitespace not normalized")
	}
	if page.StatusCode != http.StatusOK {
		t.Errorf("unexpected status: %d", page.StatusCode)
	}
}

func TestFetchTruncatesAtLimit(t *testing.T) {
	long := strings.Repeat("word ", 2000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(long))
	}))
	defer srv.Close()

	f := New(100)
	page, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !page.Truncated {
		t.Error("expected truncation flag")
	}
	if len(page.Content) > 100 {
		t.Errorf("content exceeds limit: %d", len(page.Content))
	}
}

func TestFetchMultibyteLimitCountsRunes(t *testing.T) {
	// 9 runes, 27 bytes: within a 10-rune limit even though the byte
	// length exceeds it.
	body := "日本語テキスト抽出"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	page, err := New(10).Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if page.Truncated {
		t.Error("content within the rune limit must not be flagged truncated")
	}
	if page.Content != body {
		t.Errorf("content altered: %q", page.Content)
	}

	// Above the limit the flag and the cut must agree.
	page, err = New(5).Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !page.Truncated {
		t.Error("expected truncation flag")
	}
	if page.Content != "日本語テキ" {
		t.Errorf("unexpected cut: %q", page.Content)
	}
}

func TestFetchBinaryContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte{0xff, 0xfe, 0x00, 0x01})
	}))
	defer srv.Close()

	f := New(0)
	page, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !strings.Contains(page.Content, "Binary content") {
		t.Errorf("expected binary placeholder, got %q", page.Content)
	}
}

func TestFetchRequiresURL(t *testing.T) {
	f := New(0)
	if _, err := f.Fetch(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty url")
	}
}

func TestTruncateUTF8RuneBoundary(t *testing.T) {
	s := "héllo wörld"
	got := truncateUTF8(s, 4)
	if got != "héll" {
		t.Errorf("unexpected cut: %q", got)
	}
}
