package quotestore

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// StateBackend persists the store snapshot across restarts.
type StateBackend interface {
	Load() (*persistedState, error)
	Save(state *persistedState) error
}

type stateBackendCloser interface {
	Close() error
}

type JSONFileStateBackend struct {
	Path string
}

func NewJSONFileStateBackend(path string) *JSONFileStateBackend {
	return &JSONFileStateBackend{Path: strings.TrimSpace(path)}
}

func (b *JSONFileStateBackend) Load() (*persistedState, error) {
	if b == nil || strings.TrimSpace(b.Path) == "" {
		return nil, nil
	}
	data, err := os.ReadFile(b.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var snapshot persistedState
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

func (b *JSONFileStateBackend) Save(state *persistedState) error {
	if b == nil || strings.TrimSpace(b.Path) == "" || state == nil {
		return nil
	}
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	dir := filepath.Dir(b.Path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := b.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, b.Path)
}

type InMemoryStateBackend struct {
	mu       sync.Mutex
	snapshot *persistedState
}

func NewInMemoryStateBackend() *InMemoryStateBackend {
	return &InMemoryStateBackend{}
}

func (b *InMemoryStateBackend) Load() (*persistedState, error) {
	if b == nil {
		return nil, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.snapshot == nil {
		return nil, nil
	}
	data, err := json.Marshal(b.snapshot)
	if err != nil {
		return nil, err
	}
	var clone persistedState
	if err := json.Unmarshal(data, &clone); err != nil {
		return nil, err
	}
	return &clone, nil
}

func (b *InMemoryStateBackend) Save(state *persistedState) error {
	if b == nil || state == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	var clone persistedState
	if err := json.Unmarshal(data, &clone); err != nil {
		return err
	}
	b.snapshot = &clone
	return nil
}

type inMemoryImportQueue struct {
	ch chan string
}

func NewInMemoryImportQueue(capacity int) ImportQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &inMemoryImportQueue{
		ch: make(chan string, capacity),
	}
}

func (q *inMemoryImportQueue) TryEnqueue(importID string) bool {
	if q == nil || importID == "" {
		return false
	}
	select {
	case q.ch <- importID:
		return true
	default:
		return false
	}
}

func (q *inMemoryImportQueue) Enqueue(ctx context.Context, importID string) bool {
	if q == nil || importID == "" {
		return false
	}
	select {
	case q.ch <- importID:
		return true
	case <-ctx.Done():
		return false
	}
}

func (q *inMemoryImportQueue) Dequeue(ctx context.Context) (string, bool) {
	if q == nil {
		return "", false
	}
	select {
	case importID := <-q.ch:
		return importID, true
	case <-ctx.Done():
		return "", false
	}
}

func (q *inMemoryImportQueue) Depth() int {
	if q == nil {
		return 0
	}
	return len(q.ch)
}

func (q *inMemoryImportQueue) Capacity() int {
	if q == nil {
		return 0
	}
	return cap(q.ch)
}

func (q *inMemoryImportQueue) Close() error {
	return nil
}

type inMemoryArchiveQueue struct {
	ch    chan ArchiveQueueItem
	items map[string]ArchiveQueueItem
	mu    sync.Mutex
}

func NewInMemoryArchiveQueue(capacity int) ArchiveQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &inMemoryArchiveQueue{
		ch:    make(chan ArchiveQueueItem, capacity),
		items: make(map[string]ArchiveQueueItem),
	}
}

func (q *inMemoryArchiveQueue) TryEnqueue(task ArchiveQueueItem) bool {
	if q == nil || task.OpID == "" {
		return false
	}
	select {
	case q.ch <- task:
		q.mu.Lock()
		q.items[task.OpID] = task
		q.mu.Unlock()
		return true
	default:
		return false
	}
}

func (q *inMemoryArchiveQueue) Enqueue(ctx context.Context, task ArchiveQueueItem) bool {
	if q == nil || task.OpID == "" {
		return false
	}
	select {
	case q.ch <- task:
		q.mu.Lock()
		q.items[task.OpID] = task
		q.mu.Unlock()
		return true
	case <-ctx.Done():
		return false
	}
}

func (q *inMemoryArchiveQueue) Dequeue(ctx context.Context) (ArchiveQueueItem, bool) {
	if q == nil {
		return ArchiveQueueItem{}, false
	}
	select {
	case task := <-q.ch:
		q.mu.Lock()
		delete(q.items, task.OpID)
		q.mu.Unlock()
		return task, true
	case <-ctx.Done():
		return ArchiveQueueItem{}, false
	}
}

func (q *inMemoryArchiveQueue) SnapshotArchiveTasks() []ArchiveQueueItem {
	if q == nil {
		return []ArchiveQueueItem{}
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	result := make([]ArchiveQueueItem, 0, len(q.items))
	for _, item := range q.items {
		result = append(result, item)
	}
	return result
}

func (q *inMemoryArchiveQueue) Depth() int {
	if q == nil {
		return 0
	}
	return len(q.ch)
}

func (q *inMemoryArchiveQueue) Capacity() int {
	if q == nil {
		return 0
	}
	return cap(q.ch)
}

func (q *inMemoryArchiveQueue) Close() error {
	return nil
}
