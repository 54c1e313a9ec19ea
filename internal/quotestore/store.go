package quotestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bennah995/quoterelay/internal/quote"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrRevisionConflict    = errors.New("revision conflict")
	ErrMissingPrecondition = errors.New("missing precondition")
	ErrInvalidInput        = errors.New("invalid input")
	ErrInvalidState        = errors.New("invalid state")
	ErrQueueFull           = errors.New("queue full")
	ErrNotImplemented      = errors.New("not implemented")
)

type ConflictError struct {
	ExpectedRevision string
	CurrentRevision  string
}

func (e *ConflictError) Error() string {
	return "revision conflict"
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrRevisionConflict
}

// StoredQuote is a quote as the server keeps it: the record plus the
// revision fencing concurrent writers.
type StoredQuote struct {
	quote.Quote
	Revision  string `json:"revision"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

type QuoteList struct {
	Items      []StoredQuote `json:"items"`
	NextCursor *string       `json:"nextCursor"`
}

type Event struct {
	EventID       string `json:"eventId"`
	Type          string `json:"type"`
	QuoteID       int64  `json:"quoteId"`
	Revision      string `json:"revision"`
	Origin        string `json:"origin"`
	CorrelationID string `json:"correlationId"`
	Timestamp     string `json:"timestamp"`
}

type EventFeed struct {
	Events     []Event `json:"events"`
	NextCursor *string `json:"nextCursor"`
}

type WriteRequest struct {
	WorkspaceID   string
	Quote         quote.Quote
	IfMatch       string
	CorrelationID string
}

type DeleteRequest struct {
	WorkspaceID   string
	QuoteID       int64
	IfMatch       string
	CorrelationID string
}

type WriteResult struct {
	OpID           string `json:"opId"`
	Status         string `json:"status"`
	TargetRevision string `json:"targetRevision"`
	Archive        struct {
		State string `json:"state"`
	} `json:"archive"`
}

type OperationStatus struct {
	OpID          string  `json:"opId"`
	QuoteID       int64   `json:"quoteId,omitempty"`
	Revision      string  `json:"revision,omitempty"`
	Action        string  `json:"action,omitempty"`
	Status        string  `json:"status"`
	AttemptCount  int     `json:"attemptCount"`
	NextAttemptAt *string `json:"nextAttemptAt,omitempty"`
	LastError     *string `json:"lastError,omitempty"`
	CorrelationID string  `json:"correlationId,omitempty"`
}

type OperationFeed struct {
	Items      []OperationStatus `json:"items"`
	NextCursor *string           `json:"nextCursor"`
}

// ImportRequest is a queued bulk-import envelope: a quote document from
// some external source waiting to be merged into a workspace.
type ImportRequest struct {
	ImportID      string          `json:"importId"`
	WorkspaceID   string          `json:"workspaceId"`
	Source        string          `json:"source,omitempty"`
	ReceivedAt    string          `json:"receivedAt"`
	Document      json.RawMessage `json:"document"`
	CorrelationID string          `json:"correlationId"`
}

type ImportDeadLetter struct {
	ImportID      string `json:"importId"`
	WorkspaceID   string `json:"workspaceId"`
	Source        string `json:"source,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
	FailedAt      string `json:"failedAt"`
	AttemptCount  int    `json:"attemptCount"`
	LastError     string `json:"lastError"`
}

type DeadLetterFeed struct {
	Items      []ImportDeadLetter `json:"items"`
	NextCursor *string            `json:"nextCursor"`
}

type ImportStats struct {
	Applied   int `json:"applied"`
	Added     int `json:"added"`
	Conflicts int `json:"conflicts"`
}

type SyncStatus struct {
	WorkspaceID string      `json:"workspaceId"`
	QuoteCount  int         `json:"quoteCount"`
	LastEventID string      `json:"lastEventId,omitempty"`
	PendingOps  int         `json:"pendingOps"`
	DeadLetters int         `json:"deadLetters"`
	Imports     ImportStats `json:"imports"`
}

type BackendStatus struct {
	BackendProfile  string `json:"backendProfile,omitempty"`
	StateBackend    string `json:"stateBackend"`
	ImportQueue     string `json:"importQueue"`
	ImportQueueDep  int    `json:"importQueueDepth"`
	ImportQueueCap  int    `json:"importQueueCapacity"`
	ArchiveQueue    string `json:"archiveQueue"`
	ArchiveQueueDep int    `json:"archiveQueueDepth"`
	ArchiveQueueCap int    `json:"archiveQueueCapacity"`
}

type QueuedResponse struct {
	Status        string `json:"status"`
	ID            string `json:"id"`
	CorrelationID string `json:"correlationId,omitempty"`
}

type AckResponse struct {
	Status        string `json:"status"`
	ID            string `json:"id"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// ImportQueue carries import IDs awaiting the merge worker.
type ImportQueue interface {
	TryEnqueue(importID string) bool
	Enqueue(ctx context.Context, importID string) bool
	Dequeue(ctx context.Context) (string, bool)
	Depth() int
	Capacity() int
	Close() error
}

// ArchiveQueue carries accepted writes awaiting the archive push worker.
type ArchiveQueue interface {
	TryEnqueue(task ArchiveQueueItem) bool
	Enqueue(ctx context.Context, task ArchiveQueueItem) bool
	Dequeue(ctx context.Context) (ArchiveQueueItem, bool)
	Depth() int
	Capacity() int
	Close() error
}

type ArchiveQueueItem struct {
	WorkspaceID   string `json:"workspaceId"`
	OpID          string `json:"opId"`
	QuoteID       int64  `json:"quoteId"`
	Revision      string `json:"revision"`
	CorrelationID string `json:"correlationId"`
}

type archiveTask = ArchiveQueueItem

type importQueueSnapshotter interface {
	SnapshotImportIDs() []string
}

type archiveQueueSnapshotter interface {
	SnapshotArchiveTasks() []ArchiveQueueItem
}

type StoreOptions struct {
	StateFile          string
	StateBackend       StateBackend
	ArchiveClient      ArchiveClient
	MaxArchiveAttempts int
	ArchiveRetryDelay  time.Duration
	MaxImportAttempts  int
	ImportRetryDelay   time.Duration
	MaxStoredImports   int
	DisableWorkers     bool
	ImportQueueSize    int
	ImportQueue        ImportQueue
	ArchiveQueue       ArchiveQueue
	BackendProfile     string
	ImportWorkers      int
	ArchiveWorkers     int
}

type Store struct {
	mu             sync.RWMutex
	queueMu        sync.Mutex
	workspaces     map[string]*workspaceState
	revCounter     uint64
	opCounter      uint64
	eventCounter   uint64
	importsByID    map[string]ImportRequest
	processedImps  map[string]bool
	importAttempts map[string]int
	importNextTry  map[string]time.Time
	deadLetters    map[string]ImportDeadLetter

	stateBackend     StateBackend
	importQueue      ImportQueue
	archiveQueue     ArchiveQueue
	queuedImports    map[string]struct{}
	queuedArchives   map[string]struct{}
	archiveClient    ArchiveClient
	backendProfile   string
	maxArchiveTries  int
	archiveDelay     time.Duration
	maxImportTries   int
	importDelay      time.Duration
	maxStoredImports int

	subsMu      sync.Mutex
	subs        map[string]map[int]chan Event
	subsCounter int

	closed      chan struct{}
	queueCtx    context.Context
	queueCancel context.CancelFunc
	closeOnce   sync.Once
	wg          sync.WaitGroup
}

type workspaceState struct {
	Quotes  map[string]StoredQuote     `json:"quotes"`
	Events  []Event                    `json:"events"`
	Ops     map[string]OperationStatus `json:"ops"`
	Imports ImportStats                `json:"imports"`
}

type persistedState struct {
	RevCounter     uint64                      `json:"revCounter"`
	OpCounter      uint64                      `json:"opCounter"`
	EventCounter   uint64                      `json:"eventCounter"`
	Workspaces     map[string]*workspaceState  `json:"workspaces"`
	ImportsByID    map[string]ImportRequest    `json:"importsById"`
	ProcessedImps  map[string]bool             `json:"processedImports"`
	ImportAttempts map[string]int              `json:"importAttempts"`
	ImportNextTry  map[string]time.Time        `json:"importNextAttempt"`
	DeadLetters    map[string]ImportDeadLetter `json:"deadLetters"`
}

func NewStore() *Store {
	return NewStoreWithOptions(StoreOptions{})
}

func NewStoreWithOptions(opts StoreOptions) *Store {
	maxArchiveTries := opts.MaxArchiveAttempts
	if maxArchiveTries <= 0 {
		maxArchiveTries = 3
	}
	archiveDelay := opts.ArchiveRetryDelay
	if archiveDelay <= 0 {
		archiveDelay = 50 * time.Millisecond
	}
	maxImportTries := opts.MaxImportAttempts
	if maxImportTries <= 0 {
		maxImportTries = 3
	}
	importDelay := opts.ImportRetryDelay
	if importDelay <= 0 {
		importDelay = 50 * time.Millisecond
	}
	maxStoredImports := opts.MaxStoredImports
	if maxStoredImports <= 0 {
		maxStoredImports = 10000
	}
	queueSize := opts.ImportQueueSize
	if queueSize <= 0 {
		queueSize = 1024
	}
	importQueue := opts.ImportQueue
	if importQueue == nil {
		importQueue = NewInMemoryImportQueue(queueSize)
	}
	archiveQueue := opts.ArchiveQueue
	if archiveQueue == nil {
		archiveQueue = NewInMemoryArchiveQueue(1024)
	}
	importWorkers := opts.ImportWorkers
	if importWorkers <= 0 {
		importWorkers = 1
	}
	archiveWorkers := opts.ArchiveWorkers
	if archiveWorkers <= 0 {
		archiveWorkers = 1
	}
	stateBackend := opts.StateBackend
	if stateBackend == nil && strings.TrimSpace(opts.StateFile) != "" {
		stateBackend = NewJSONFileStateBackend(opts.StateFile)
	}
	backendProfile := strings.ToLower(strings.TrimSpace(opts.BackendProfile))
	if backendProfile == "" {
		backendProfile = "custom"
	}
	queueCtx, queueCancel := context.WithCancel(context.Background())

	s := &Store{
		workspaces:       map[string]*workspaceState{},
		importsByID:      map[string]ImportRequest{},
		processedImps:    map[string]bool{},
		importAttempts:   map[string]int{},
		importNextTry:    map[string]time.Time{},
		deadLetters:      map[string]ImportDeadLetter{},
		stateBackend:     stateBackend,
		importQueue:      importQueue,
		archiveQueue:     archiveQueue,
		queuedImports:    map[string]struct{}{},
		queuedArchives:   map[string]struct{}{},
		archiveClient:    opts.ArchiveClient,
		backendProfile:   backendProfile,
		maxArchiveTries:  maxArchiveTries,
		archiveDelay:     archiveDelay,
		maxImportTries:   maxImportTries,
		importDelay:      importDelay,
		maxStoredImports: maxStoredImports,
		subs:             map[string]map[int]chan Event{},
		closed:           make(chan struct{}),
		queueCtx:         queueCtx,
		queueCancel:      queueCancel,
	}
	s.seedQueuedIndexesFromQueues()
	_ = s.loadFromDisk()
	if !opts.DisableWorkers {
		s.wg.Add(importWorkers + archiveWorkers)
		for i := 0; i < importWorkers; i++ {
			go func() {
				defer s.wg.Done()
				s.importWorker()
			}()
		}
		for i := 0; i < archiveWorkers; i++ {
			go func() {
				defer s.wg.Done()
				s.archiveWorker()
			}()
		}
		s.requeuePendingWork()
	}
	return s
}

func (s *Store) seedQueuedIndexesFromQueues() {
	if snapshotter, ok := s.importQueue.(importQueueSnapshotter); ok {
		for _, importID := range snapshotter.SnapshotImportIDs() {
			s.queuedImports[importID] = struct{}{}
		}
	}
	if snapshotter, ok := s.archiveQueue.(archiveQueueSnapshotter); ok {
		for _, task := range snapshotter.SnapshotArchiveTasks() {
			s.queuedArchives[task.OpID] = struct{}{}
		}
	}
}

// requeuePendingWork re-enqueues imports and archive ops that survived a
// restart in the persisted state but not in a durable queue.
func (s *Store) requeuePendingWork() {
	type delayedImport struct {
		id    string
		delay time.Duration
	}
	s.mu.RLock()
	pendingImports := make([]string, 0, len(s.importsByID))
	delayedImports := make([]delayedImport, 0)
	for importID := range s.importsByID {
		if s.processedImps[importID] {
			continue
		}
		if nextTry, ok := s.importNextTry[importID]; ok {
			if until := time.Until(nextTry); until > 0 {
				delayedImports = append(delayedImports, delayedImport{id: importID, delay: until})
				continue
			}
		}
		pendingImports = append(pendingImports, importID)
	}
	pendingArchives := make([]archiveTask, 0)
	for workspaceID, ws := range s.workspaces {
		for opID, op := range ws.Ops {
			if op.Status != "pending" && op.Status != "running" {
				continue
			}
			pendingArchives = append(pendingArchives, archiveTask{
				WorkspaceID:   workspaceID,
				OpID:          opID,
				QuoteID:       op.QuoteID,
				Revision:      op.Revision,
				CorrelationID: op.CorrelationID,
			})
		}
	}
	s.mu.RUnlock()
	for _, importID := range pendingImports {
		s.enqueueImport(importID)
	}
	for _, delayed := range delayedImports {
		s.scheduleImportRetry(delayed.id, delayed.delay)
	}
	for _, task := range pendingArchives {
		s.enqueueArchive(task)
	}
}

func (s *Store) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.queueCancel()
		s.wg.Wait()
		_ = s.importQueue.Close()
		_ = s.archiveQueue.Close()
		if closer, ok := s.stateBackend.(stateBackendCloser); ok {
			_ = closer.Close()
		}
	})
}

// Subscribe returns a channel receiving every event recorded for the
// workspace from now on. Slow subscribers lose events rather than block
// writers. The returned cancel func must be called to release the slot.
func (s *Store) Subscribe(workspaceID string) (<-chan Event, func()) {
	ch := make(chan Event, 64)
	s.subsMu.Lock()
	s.subsCounter++
	id := s.subsCounter
	byID, ok := s.subs[workspaceID]
	if !ok {
		byID = map[int]chan Event{}
		s.subs[workspaceID] = byID
	}
	byID[id] = ch
	s.subsMu.Unlock()
	cancel := func() {
		s.subsMu.Lock()
		if byID, ok := s.subs[workspaceID]; ok {
			delete(byID, id)
			if len(byID) == 0 {
				delete(s.subs, workspaceID)
			}
		}
		s.subsMu.Unlock()
	}
	return ch, cancel
}

func (s *Store) notifySubscribers(workspaceID string, events []Event) {
	if len(events) == 0 {
		return
	}
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs[workspaceID] {
		for _, event := range events {
			select {
			case ch <- event:
			default:
			}
		}
	}
}

func (s *Store) ListQuotes(workspaceID, category, cursor string, limit int) (QuoteList, error) {
	if strings.TrimSpace(workspaceID) == "" {
		return QuoteList{}, ErrInvalidInput
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ws, ok := s.workspaces[workspaceID]
	if !ok {
		return QuoteList{Items: []StoredQuote{}}, nil
	}
	items := sortedQuotesLocked(ws)
	if category != "" && !strings.EqualFold(category, "all") {
		filtered := make([]StoredQuote, 0, len(items))
		for _, item := range items {
			if strings.EqualFold(item.Category, category) {
				filtered = append(filtered, item)
			}
		}
		items = filtered
	}
	start := 0
	if cursor != "" {
		cursorID, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			return QuoteList{}, fmt.Errorf("%w: invalid cursor", ErrInvalidInput)
		}
		for start < len(items) && items[start].ID <= cursorID {
			start++
		}
	}
	end := start + limit
	if end > len(items) {
		end = len(items)
	}
	page := append([]StoredQuote(nil), items[start:end]...)
	var nextCursor *string
	if end < len(items) && len(page) > 0 {
		next := strconv.FormatInt(page[len(page)-1].ID, 10)
		nextCursor = &next
	}
	return QuoteList{Items: page, NextCursor: nextCursor}, nil
}

func (s *Store) GetQuote(workspaceID string, quoteID int64) (StoredQuote, error) {
	if strings.TrimSpace(workspaceID) == "" || quoteID <= 0 {
		return StoredQuote{}, ErrInvalidInput
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ws, ok := s.workspaces[workspaceID]
	if !ok {
		return StoredQuote{}, ErrNotFound
	}
	stored, ok := ws.Quotes[quoteKey(quoteID)]
	if !ok {
		return StoredQuote{}, ErrNotFound
	}
	return stored, nil
}

// RandomQuote picks uniformly from the workspace, optionally restricted
// to a category. pick receives the candidate count and returns an index;
// a nil pick takes the first candidate, which keeps tests deterministic.
func (s *Store) RandomQuote(workspaceID, category string, pick func(n int) int) (StoredQuote, error) {
	if strings.TrimSpace(workspaceID) == "" {
		return StoredQuote{}, ErrInvalidInput
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ws, ok := s.workspaces[workspaceID]
	if !ok {
		return StoredQuote{}, ErrNotFound
	}
	candidates := sortedQuotesLocked(ws)
	if category != "" && !strings.EqualFold(category, "all") {
		filtered := make([]StoredQuote, 0, len(candidates))
		for _, item := range candidates {
			if strings.EqualFold(item.Category, category) {
				filtered = append(filtered, item)
			}
		}
		candidates = filtered
	}
	if len(candidates) == 0 {
		return StoredQuote{}, ErrNotFound
	}
	idx := 0
	if pick != nil {
		idx = pick(len(candidates))
		if idx < 0 || idx >= len(candidates) {
			idx = 0
		}
	}
	return candidates[idx], nil
}

func (s *Store) ExportQuotes(workspaceID string) ([]quote.Quote, error) {
	if strings.TrimSpace(workspaceID) == "" {
		return nil, ErrInvalidInput
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ws, ok := s.workspaces[workspaceID]
	if !ok {
		return []quote.Quote{}, nil
	}
	items := sortedQuotesLocked(ws)
	out := make([]quote.Quote, 0, len(items))
	for _, item := range items {
		out = append(out, item.Quote)
	}
	return out, nil
}

func (s *Store) PutQuote(req WriteRequest) (WriteResult, error) {
	if strings.TrimSpace(req.WorkspaceID) == "" {
		return WriteResult{}, ErrInvalidInput
	}
	normalized := quote.Normalize(req.Quote)
	if err := quote.Validate(normalized); err != nil {
		return WriteResult{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	s.mu.Lock()
	ws := s.ensureWorkspaceLocked(req.WorkspaceID)
	key := quoteKey(normalized.ID)
	existing, exists := ws.Quotes[key]
	if exists {
		if req.IfMatch == "" {
			s.mu.Unlock()
			return WriteResult{}, ErrMissingPrecondition
		}
		if req.IfMatch != existing.Revision {
			s.mu.Unlock()
			return WriteResult{}, &ConflictError{
				ExpectedRevision: req.IfMatch,
				CurrentRevision:  existing.Revision,
			}
		}
	} else if req.IfMatch != "" && req.IfMatch != "0" {
		s.mu.Unlock()
		return WriteResult{}, &ConflictError{ExpectedRevision: req.IfMatch}
	}

	eventType := "quote.created"
	if exists {
		eventType = "quote.updated"
	}
	revision := s.nextRevisionLocked()
	ws.Quotes[key] = StoredQuote{
		Quote:     normalized,
		Revision:  revision,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	result, task, event := s.recordWriteLocked(req.WorkspaceID, ws, normalized.ID, revision, eventType, req.CorrelationID)
	saveErr := s.saveLocked()
	s.mu.Unlock()

	if saveErr != nil {
		return WriteResult{}, saveErr
	}
	s.notifySubscribers(req.WorkspaceID, []Event{event})
	s.enqueueArchive(task)
	return result, nil
}

func (s *Store) DeleteQuote(req DeleteRequest) (WriteResult, error) {
	if strings.TrimSpace(req.WorkspaceID) == "" || req.QuoteID <= 0 {
		return WriteResult{}, ErrInvalidInput
	}
	s.mu.Lock()
	ws, ok := s.workspaces[req.WorkspaceID]
	if !ok {
		s.mu.Unlock()
		return WriteResult{}, ErrNotFound
	}
	key := quoteKey(req.QuoteID)
	existing, ok := ws.Quotes[key]
	if !ok {
		s.mu.Unlock()
		return WriteResult{}, ErrNotFound
	}
	if req.IfMatch == "" {
		s.mu.Unlock()
		return WriteResult{}, ErrMissingPrecondition
	}
	if req.IfMatch != existing.Revision {
		s.mu.Unlock()
		return WriteResult{}, &ConflictError{
			ExpectedRevision: req.IfMatch,
			CurrentRevision:  existing.Revision,
		}
	}
	delete(ws.Quotes, key)
	revision := s.nextRevisionLocked()
	result, task, event := s.recordWriteLocked(req.WorkspaceID, ws, req.QuoteID, revision, "quote.deleted", req.CorrelationID)
	saveErr := s.saveLocked()
	s.mu.Unlock()

	if saveErr != nil {
		return WriteResult{}, saveErr
	}
	s.notifySubscribers(req.WorkspaceID, []Event{event})
	s.enqueueArchive(task)
	return result, nil
}

func (s *Store) GetEvents(workspaceID, cursor string, limit int) (EventFeed, error) {
	if strings.TrimSpace(workspaceID) == "" {
		return EventFeed{}, ErrInvalidInput
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ws, ok := s.workspaces[workspaceID]
	if !ok {
		return EventFeed{Events: []Event{}}, nil
	}
	start := 0
	if cursor != "" {
		found := false
		for i, event := range ws.Events {
			if event.EventID == cursor {
				start = i + 1
				found = true
				break
			}
		}
		if !found {
			return EventFeed{}, fmt.Errorf("%w: unknown cursor", ErrInvalidInput)
		}
	}
	end := start + limit
	if end > len(ws.Events) {
		end = len(ws.Events)
	}
	page := append([]Event(nil), ws.Events[start:end]...)
	var nextCursor *string
	if end < len(ws.Events) && len(page) > 0 {
		next := page[len(page)-1].EventID
		nextCursor = &next
	}
	return EventFeed{Events: page, NextCursor: nextCursor}, nil
}

func (s *Store) GetSyncStatus(workspaceID string) (SyncStatus, error) {
	if strings.TrimSpace(workspaceID) == "" {
		return SyncStatus{}, ErrInvalidInput
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	status := SyncStatus{WorkspaceID: workspaceID}
	ws, ok := s.workspaces[workspaceID]
	if ok {
		status.QuoteCount = len(ws.Quotes)
		if len(ws.Events) > 0 {
			status.LastEventID = ws.Events[len(ws.Events)-1].EventID
		}
		for _, op := range ws.Ops {
			if op.Status == "pending" || op.Status == "running" {
				status.PendingOps++
			}
		}
		status.Imports = ws.Imports
	}
	for _, letter := range s.deadLetters {
		if letter.WorkspaceID == workspaceID {
			status.DeadLetters++
		}
	}
	return status, nil
}

func (s *Store) GetBackendStatus() BackendStatus {
	status := BackendStatus{
		BackendProfile: s.backendProfile,
		StateBackend:   backendName(s.stateBackend),
		ImportQueue:    queueName(s.importQueue),
		ArchiveQueue:   queueName(s.archiveQueue),
	}
	status.ImportQueueDep = s.importQueue.Depth()
	status.ImportQueueCap = s.importQueue.Capacity()
	status.ArchiveQueueDep = s.archiveQueue.Depth()
	status.ArchiveQueueCap = s.archiveQueue.Capacity()
	return status
}

func (s *Store) ensureWorkspaceLocked(workspaceID string) *workspaceState {
	ws, ok := s.workspaces[workspaceID]
	if !ok {
		ws = &workspaceState{
			Quotes: map[string]StoredQuote{},
			Events: []Event{},
			Ops:    map[string]OperationStatus{},
		}
		s.workspaces[workspaceID] = ws
	}
	if ws.Quotes == nil {
		ws.Quotes = map[string]StoredQuote{}
	}
	if ws.Ops == nil {
		ws.Ops = map[string]OperationStatus{}
	}
	return ws
}

func (s *Store) nextRevisionLocked() string {
	s.revCounter++
	return fmt.Sprintf("rev_%d", s.revCounter)
}

func (s *Store) nextOperationIDLocked() string {
	s.opCounter++
	return fmt.Sprintf("op_%d", s.opCounter)
}

func (s *Store) nextEventIDLocked() string {
	s.eventCounter++
	return fmt.Sprintf("evt_%d", s.eventCounter)
}

func (s *Store) recordWriteLocked(workspaceID string, ws *workspaceState, quoteID int64, revision, eventType, correlationID string) (WriteResult, archiveTask, Event) {
	event := Event{
		EventID:       s.nextEventIDLocked(),
		Type:          eventType,
		QuoteID:       quoteID,
		Revision:      revision,
		Origin:        "api",
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
	}
	ws.Events = append(ws.Events, event)

	opID := s.nextOperationIDLocked()
	action := "quote_upsert"
	if eventType == "quote.deleted" {
		action = "quote_delete"
	}
	ws.Ops[opID] = OperationStatus{
		OpID:          opID,
		QuoteID:       quoteID,
		Revision:      revision,
		Action:        action,
		Status:        "pending",
		CorrelationID: correlationID,
	}
	result := WriteResult{
		OpID:           opID,
		Status:         "accepted",
		TargetRevision: revision,
	}
	result.Archive.State = "pending"
	task := archiveTask{
		WorkspaceID:   workspaceID,
		OpID:          opID,
		QuoteID:       quoteID,
		Revision:      revision,
		CorrelationID: correlationID,
	}
	return result, task, event
}

func sortedQuotesLocked(ws *workspaceState) []StoredQuote {
	items := make([]StoredQuote, 0, len(ws.Quotes))
	for _, stored := range ws.Quotes {
		items = append(items, stored)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items
}

func quoteKey(quoteID int64) string {
	return strconv.FormatInt(quoteID, 10)
}

func backendName(backend StateBackend) string {
	switch backend.(type) {
	case nil:
		return "none"
	case *JSONFileStateBackend:
		return "file"
	case *InMemoryStateBackend:
		return "memory"
	case *PostgresStateBackend:
		return "postgres"
	default:
		return "custom"
	}
}

func queueName(q any) string {
	switch q.(type) {
	case nil:
		return "none"
	case *inMemoryImportQueue, *inMemoryArchiveQueue:
		return "memory"
	case *fileImportQueue, *fileArchiveQueue:
		return "file"
	case *PostgresImportQueue, *PostgresArchiveQueue:
		return "postgres"
	default:
		return "custom"
	}
}

func (s *Store) loadFromDisk() error {
	if s.stateBackend == nil {
		return nil
	}
	snapshot, err := s.stateBackend.Load()
	if err != nil || snapshot == nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revCounter = snapshot.RevCounter
	s.opCounter = snapshot.OpCounter
	s.eventCounter = snapshot.EventCounter
	if snapshot.Workspaces != nil {
		s.workspaces = snapshot.Workspaces
	}
	if snapshot.ImportsByID != nil {
		s.importsByID = snapshot.ImportsByID
	}
	if snapshot.ProcessedImps != nil {
		s.processedImps = snapshot.ProcessedImps
	}
	if snapshot.ImportAttempts != nil {
		s.importAttempts = snapshot.ImportAttempts
	}
	if snapshot.ImportNextTry != nil {
		s.importNextTry = snapshot.ImportNextTry
	}
	if snapshot.DeadLetters != nil {
		s.deadLetters = snapshot.DeadLetters
	}
	for _, ws := range s.workspaces {
		if ws.Quotes == nil {
			ws.Quotes = map[string]StoredQuote{}
		}
		if ws.Ops == nil {
			ws.Ops = map[string]OperationStatus{}
		}
	}
	return nil
}

func (s *Store) saveLocked() error {
	if s.stateBackend == nil {
		return nil
	}
	snapshot := persistedState{
		RevCounter:     s.revCounter,
		OpCounter:      s.opCounter,
		EventCounter:   s.eventCounter,
		Workspaces:     s.workspaces,
		ImportsByID:    s.importsByID,
		ProcessedImps:  s.processedImps,
		ImportAttempts: s.importAttempts,
		ImportNextTry:  s.importNextTry,
		DeadLetters:    s.deadLetters,
	}
	return s.stateBackend.Save(&snapshot)
}
