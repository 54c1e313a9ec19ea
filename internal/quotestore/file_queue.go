package quotestore

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

type fileImportQueue struct {
	path         string
	capacity     int
	pollInterval time.Duration
	mu           sync.Mutex
	items        []string
}

type fileArchiveQueue struct {
	path         string
	capacity     int
	pollInterval time.Duration
	mu           sync.Mutex
	items        []ArchiveQueueItem
}

type fileImportQueueState struct {
	Items []string `json:"items"`
}

type fileArchiveQueueState struct {
	Items []ArchiveQueueItem `json:"items"`
}

func NewFileImportQueue(path string, capacity int) (ImportQueue, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	if capacity <= 0 {
		capacity = 1024
	}
	q := &fileImportQueue{
		path:         path,
		capacity:     capacity,
		pollInterval: 10 * time.Millisecond,
		items:        []string{},
	}
	if err := q.load(); err != nil {
		return nil, err
	}
	return q, nil
}

func NewFileArchiveQueue(path string, capacity int) (ArchiveQueue, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	if capacity <= 0 {
		capacity = 1024
	}
	q := &fileArchiveQueue{
		path:         path,
		capacity:     capacity,
		pollInterval: 10 * time.Millisecond,
		items:        []ArchiveQueueItem{},
	}
	if err := q.load(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *fileImportQueue) TryEnqueue(importID string) bool {
	if strings.TrimSpace(importID) == "" {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.capacity {
		return false
	}
	q.items = append(q.items, importID)
	if err := q.saveLocked(); err != nil {
		q.items = q.items[:len(q.items)-1]
		return false
	}
	return true
}

func (q *fileImportQueue) Enqueue(ctx context.Context, importID string) bool {
	for {
		if q.TryEnqueue(importID) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(q.pollInterval):
		}
	}
}

func (q *fileImportQueue) Dequeue(ctx context.Context) (string, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items = q.items[1:]
			if err := q.saveLocked(); err != nil {
				q.items = append([]string{item}, q.items...)
				q.mu.Unlock()
				select {
				case <-ctx.Done():
					return "", false
				case <-time.After(q.pollInterval):
					continue
				}
			}
			q.mu.Unlock()
			return item, true
		}
		q.mu.Unlock()
		select {
		case <-ctx.Done():
			return "", false
		case <-time.After(q.pollInterval):
		}
	}
}

func (q *fileImportQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *fileImportQueue) Capacity() int {
	return q.capacity
}

func (q *fileImportQueue) SnapshotImportIDs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.items...)
}

func (q *fileImportQueue) Close() error {
	return nil
}

func (q *fileImportQueue) load() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	data, err := os.ReadFile(q.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	var snapshot fileImportQueueState
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return err
	}
	if len(snapshot.Items) > q.capacity {
		q.items = append([]string(nil), snapshot.Items[len(snapshot.Items)-q.capacity:]...)
		return q.saveLocked()
	}
	q.items = append([]string(nil), snapshot.Items...)
	return nil
}

func (q *fileImportQueue) saveLocked() error {
	snapshot := fileImportQueueState{
		Items: append([]string(nil), q.items...),
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(q.path), 0o755); err != nil {
		return err
	}
	tmp := q.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, q.path)
}

func (q *fileArchiveQueue) TryEnqueue(task ArchiveQueueItem) bool {
	if strings.TrimSpace(task.OpID) == "" {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.capacity {
		return false
	}
	q.items = append(q.items, task)
	if err := q.saveLocked(); err != nil {
		q.items = q.items[:len(q.items)-1]
		return false
	}
	return true
}

func (q *fileArchiveQueue) Enqueue(ctx context.Context, task ArchiveQueueItem) bool {
	for {
		if q.TryEnqueue(task) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(q.pollInterval):
		}
	}
}

func (q *fileArchiveQueue) Dequeue(ctx context.Context) (ArchiveQueueItem, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items = q.items[1:]
			if err := q.saveLocked(); err != nil {
				q.items = append([]ArchiveQueueItem{item}, q.items...)
				q.mu.Unlock()
				select {
				case <-ctx.Done():
					return ArchiveQueueItem{}, false
				case <-time.After(q.pollInterval):
					continue
				}
			}
			q.mu.Unlock()
			return item, true
		}
		q.mu.Unlock()
		select {
		case <-ctx.Done():
			return ArchiveQueueItem{}, false
		case <-time.After(q.pollInterval):
		}
	}
}

func (q *fileArchiveQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *fileArchiveQueue) Capacity() int {
	return q.capacity
}

func (q *fileArchiveQueue) SnapshotArchiveTasks() []ArchiveQueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]ArchiveQueueItem(nil), q.items...)
}

func (q *fileArchiveQueue) Close() error {
	return nil
}

func (q *fileArchiveQueue) load() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	data, err := os.ReadFile(q.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	var snapshot fileArchiveQueueState
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return err
	}
	if len(snapshot.Items) > q.capacity {
		q.items = append([]ArchiveQueueItem(nil), snapshot.Items[len(snapshot.Items)-q.capacity:]...)
		return q.saveLocked()
	}
	q.items = append([]ArchiveQueueItem(nil), snapshot.Items...)
	return nil
}

func (q *fileArchiveQueue) saveLocked() error {
	snapshot := fileArchiveQueueState{
		Items: append([]ArchiveQueueItem(nil), q.items...),
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(q.path), 0o755); err != nil {
		return err
	}
	tmp := q.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, q.path)
}
