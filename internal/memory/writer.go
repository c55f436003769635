package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aavetis/memory-poc/internal/events"
)

// writeTimeout bounds each background store write. Queued writes carry
// no caller deadline: the request that enqueued them has usually
// already been answered.
const writeTimeout = 30 * time.Second

// Writer queues memory writes and executes them in the background.
// Enqueue returns immediately; the write happens best-effort after the
// caller has already received its tool result. Failures are logged,
// never retried, and never surfaced to a run.
type Writer struct {
	client *Client
	queue  chan writeJob
	bus    *events.Bus
	logger *slog.Logger

	wg       sync.WaitGroup
	closedMu sync.Mutex
	closed   bool
}

type writeJob struct {
	text   string
	userID string
}

// NewWriter creates a writer with the given queue depth and starts its
// worker goroutine. Call Close to drain and stop.
func NewWriter(client *Client, queueSize int, bus *events.Bus, logger *slog.Logger) *Writer {
	if queueSize <= 0 {
		queueSize = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	w := &Writer{
		client: client,
		queue:  make(chan writeJob, queueSize),
		bus:    bus,
		logger: logger.With("component", "memory_writer"),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

// Enqueue hands a write to the background worker. It reports whether
// the job was accepted: false means the queue is full or the writer is
// closed, in which case the write is dropped (and logged). It never
// blocks.
func (w *Writer) Enqueue(text, userID string) bool {
	w.closedMu.Lock()
	if w.closed {
		w.closedMu.Unlock()
		w.logger.Warn("memory write dropped: writer closed", "user_id", userID)
		return false
	}

	select {
	case w.queue <- writeJob{text: text, userID: userID}:
		w.closedMu.Unlock()
		w.bus.Publish(events.Event{
			Source: events.SourceMemory,
			Kind:   events.KindWriteQueued,
			Data:   map[string]any{"user_id": userID, "text_len": len(text)},
		})
		return true
	default:
		w.closedMu.Unlock()
		w.logger.Warn("memory write dropped: queue full", "user_id", userID)
		return false
	}
}

// Close stops accepting writes, drains the queue, and waits for the
// worker to finish.
func (w *Writer) Close() {
	w.closedMu.Lock()
	if w.closed {
		w.closedMu.Unlock()
		return
	}
	w.closed = true
	close(w.queue)
	w.closedMu.Unlock()

	w.wg.Wait()
}

func (w *Writer) run() {
	defer w.wg.Done()

	for job := range w.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := w.client.Add(ctx, job.text, job.userID)
		cancel()

		if err != nil {
			// Log-only failure path: the run already got its acknowledgement.
			w.logger.Error("background memory write failed",
				"user_id", job.userID, "error", err)
		} else {
			w.logger.Debug("memory write committed", "user_id", job.userID)
		}
		w.bus.Publish(events.Event{
			Source: events.SourceMemory,
			Kind:   events.KindWriteDone,
			Data:   map[string]any{"user_id": job.userID, "ok": err == nil},
		})
	}
}
