package memory

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestWriterExecutesQueuedWrites(t *testing.T) {
	var writes atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writes.Add(1)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	w := NewWriter(NewClient(srv.URL, "k", nil), 8, nil, nil)

	if !w.Enqueue("fact one", "u1") {
		t.Fatal("enqueue rejected")
	}
	if !w.Enqueue("fact two", "u1") {
		t.Fatal("enqueue rejected")
	}

	// Close drains the queue before returning.
	w.Close()

	if got := writes.Load(); got != 2 {
		t.Errorf("expected 2 writes, got %d", got)
	}
}

func TestWriterEnqueueNeverBlocks(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()

	w := NewWriter(NewClient(srv.URL, "k", nil), 1, nil, nil)
	defer func() {
		close(block)
		w.Close()
	}()

	// Saturate the worker and the one-slot queue, then confirm further
	// enqueues return immediately instead of blocking.
	w.Enqueue("a", "u")
	w.Enqueue("b", "u")

	done := make(chan bool, 1)
	go func() {
		done <- w.Enqueue("c", "u")
	}()

	select {
	case accepted := <-done:
		if accepted {
			// Either dropped or squeezed in after the worker picked up a job;
			// both are fine; the property under test is non-blocking.
			t.Log("enqueue accepted after worker progress")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Enqueue blocked")
	}
}

func TestWriterFailuresAreLogOnly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	w := NewWriter(NewClient(srv.URL, "k", nil), 4, nil, nil)
	if !w.Enqueue("doomed", "u1") {
		t.Fatal("enqueue rejected")
	}
	// Close must not surface the write failure.
	w.Close()
}

func TestWriterRejectsAfterClose(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	w := NewWriter(NewClient(srv.URL, "k", nil), 4, nil, nil)
	w.Close()

	if w.Enqueue("late", "u1") {
		t.Error("expected enqueue to be rejected after Close")
	}
	// Double close is a no-op.
	w.Close()
}
