package quotestore

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestFileImportQueuePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "import-queue.json")
	queue, err := NewFileImportQueue(path, 4)
	if err != nil {
		t.Fatalf("new file import queue failed: %v", err)
	}
	if !queue.TryEnqueue("imp_1") || !queue.TryEnqueue("imp_2") {
		t.Fatalf("expected enqueue to succeed")
	}

	reopened, err := NewFileImportQueue(path, 4)
	if err != nil {
		t.Fatalf("reopen file import queue failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	first, ok := reopened.Dequeue(ctx)
	if !ok || first != "imp_1" {
		t.Fatalf("expected first dequeued import imp_1, got %q (ok=%v)", first, ok)
	}
	second, ok := reopened.Dequeue(ctx)
	if !ok || second != "imp_2" {
		t.Fatalf("expected second dequeued import imp_2, got %q (ok=%v)", second, ok)
	}
}

func TestFileArchiveQueuePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive-queue.json")
	queue, err := NewFileArchiveQueue(path, 4)
	if err != nil {
		t.Fatalf("new file archive queue failed: %v", err)
	}
	if !queue.TryEnqueue(ArchiveQueueItem{WorkspaceID: "ws_1", OpID: "op_1", QuoteID: 1}) {
		t.Fatalf("expected first archive enqueue to succeed")
	}
	if !queue.TryEnqueue(ArchiveQueueItem{WorkspaceID: "ws_2", OpID: "op_2", QuoteID: 2}) {
		t.Fatalf("expected second archive enqueue to succeed")
	}

	reopened, err := NewFileArchiveQueue(path, 4)
	if err != nil {
		t.Fatalf("reopen file archive queue failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	first, ok := reopened.Dequeue(ctx)
	if !ok || first.OpID != "op_1" {
		t.Fatalf("expected first dequeued task op_1, got %+v (ok=%v)", first, ok)
	}
	second, ok := reopened.Dequeue(ctx)
	if !ok || second.OpID != "op_2" {
		t.Fatalf("expected second dequeued task op_2, got %+v (ok=%v)", second, ok)
	}
}

func TestFileQueueCapacityAndTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capacity-import-queue.json")
	queue, err := NewFileImportQueue(path, 1)
	if err != nil {
		t.Fatalf("new queue failed: %v", err)
	}
	if !queue.TryEnqueue("imp_cap_1") {
		t.Fatalf("expected first enqueue to succeed")
	}
	if queue.TryEnqueue("imp_cap_2") {
		t.Fatalf("expected second enqueue to fail at capacity")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, ok := queue.Dequeue(ctx)
	if !ok {
		t.Fatalf("expected first dequeue to succeed")
	}
	_, ok = queue.Dequeue(ctx)
	if ok {
		t.Fatalf("expected dequeue to time out when queue is empty")
	}
}
