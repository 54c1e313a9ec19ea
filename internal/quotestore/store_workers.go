package quotestore

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bennah995/quoterelay/internal/quote"
)

// IngestImport accepts a quote document for asynchronous merging into a
// workspace. Duplicate import IDs are acknowledged without requeueing.
func (s *Store) IngestImport(req ImportRequest) (QueuedResponse, error) {
	if strings.TrimSpace(req.ImportID) == "" ||
		strings.TrimSpace(req.WorkspaceID) == "" ||
		len(req.Document) == 0 {
		return QueuedResponse{}, fmt.Errorf("%w: importId, workspaceId and document are required", ErrInvalidInput)
	}
	if strings.TrimSpace(req.ReceivedAt) == "" {
		req.ReceivedAt = time.Now().UTC().Format(time.RFC3339Nano)
	}

	s.mu.Lock()
	if _, exists := s.importsByID[req.ImportID]; exists {
		s.mu.Unlock()
		return QueuedResponse{
			Status:        "duplicate",
			ID:            req.ImportID,
			CorrelationID: req.CorrelationID,
		}, nil
	}
	s.importsByID[req.ImportID] = req
	s.pruneProcessedImportsLocked()
	saveErr := s.saveLocked()
	s.mu.Unlock()
	if saveErr != nil {
		return QueuedResponse{}, saveErr
	}

	if !s.tryEnqueueImport(req.ImportID) {
		s.mu.Lock()
		delete(s.importsByID, req.ImportID)
		_ = s.saveLocked()
		s.mu.Unlock()
		return QueuedResponse{}, ErrQueueFull
	}
	return QueuedResponse{
		Status:        "queued",
		ID:            req.ImportID,
		CorrelationID: req.CorrelationID,
	}, nil
}

// ReplayImport requeues a dead-lettered or processed import for another
// merge pass.
func (s *Store) ReplayImport(workspaceID, importID, correlationID string) (QueuedResponse, error) {
	s.mu.Lock()
	req, ok := s.importsByID[importID]
	if !ok || (workspaceID != "" && req.WorkspaceID != workspaceID) {
		s.mu.Unlock()
		return QueuedResponse{}, ErrNotFound
	}
	delete(s.processedImps, importID)
	delete(s.deadLetters, importID)
	s.importAttempts[importID] = 0
	delete(s.importNextTry, importID)
	_ = s.saveLocked()
	s.mu.Unlock()

	s.enqueueImport(importID)
	return QueuedResponse{
		Status:        "queued",
		ID:            importID,
		CorrelationID: correlationID,
	}, nil
}

func (s *Store) tryEnqueueImport(importID string) bool {
	if importID == "" || s.importQueue == nil {
		return false
	}
	select {
	case <-s.closed:
		return false
	default:
	}
	s.queueMu.Lock()
	if _, exists := s.queuedImports[importID]; exists {
		s.queueMu.Unlock()
		return true
	}
	s.queuedImports[importID] = struct{}{}
	s.queueMu.Unlock()
	if s.importQueue.TryEnqueue(importID) {
		return true
	}
	s.queueMu.Lock()
	delete(s.queuedImports, importID)
	s.queueMu.Unlock()
	return false
}

func (s *Store) enqueueImport(importID string) {
	if importID == "" || s.importQueue == nil {
		return
	}
	select {
	case <-s.closed:
		return
	default:
	}
	s.queueMu.Lock()
	if _, exists := s.queuedImports[importID]; exists {
		s.queueMu.Unlock()
		return
	}
	s.queuedImports[importID] = struct{}{}
	s.queueMu.Unlock()
	if s.importQueue.TryEnqueue(importID) {
		return
	}
	go func() {
		if !s.importQueue.Enqueue(s.queueCtx, importID) {
			s.queueMu.Lock()
			delete(s.queuedImports, importID)
			s.queueMu.Unlock()
		}
	}()
}

func (s *Store) scheduleImportRetry(importID string, delay time.Duration) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-s.queueCtx.Done():
			return
		case <-timer.C:
		}
		s.enqueueImport(importID)
	}()
}

func (s *Store) importWorker() {
	for {
		importID, ok := s.importQueue.Dequeue(s.queueCtx)
		if !ok {
			return
		}
		s.queueMu.Lock()
		delete(s.queuedImports, importID)
		s.queueMu.Unlock()
		s.processImport(importID)
	}
}

func (s *Store) processImport(importID string) {
	s.mu.Lock()
	req, ok := s.importsByID[importID]
	if !ok || s.processedImps[importID] {
		s.mu.Unlock()
		return
	}
	s.importAttempts[importID]++
	attempt := s.importAttempts[importID]
	s.mu.Unlock()

	events, mergeErr := s.applyImport(req)
	if mergeErr == nil {
		s.mu.Lock()
		s.processedImps[importID] = true
		delete(s.importAttempts, importID)
		delete(s.importNextTry, importID)
		_ = s.saveLocked()
		s.mu.Unlock()
		s.notifySubscribers(req.WorkspaceID, events)
		return
	}

	if attempt >= s.maxImportTries {
		s.mu.Lock()
		s.processedImps[importID] = true
		s.deadLetters[importID] = ImportDeadLetter{
			ImportID:      importID,
			WorkspaceID:   req.WorkspaceID,
			Source:        req.Source,
			CorrelationID: req.CorrelationID,
			FailedAt:      time.Now().UTC().Format(time.RFC3339Nano),
			AttemptCount:  attempt,
			LastError:     mergeErr.Error(),
		}
		delete(s.importAttempts, importID)
		delete(s.importNextTry, importID)
		_ = s.saveLocked()
		s.mu.Unlock()
		return
	}

	delay := s.importDelay * time.Duration(1<<uint(attempt-1))
	s.mu.Lock()
	s.importNextTry[importID] = time.Now().Add(delay)
	_ = s.saveLocked()
	s.mu.Unlock()
	s.scheduleImportRetry(importID, delay)
}

// applyImport parses the envelope's document and merges it into the
// workspace with the imported records winning collisions, the same
// policy the sync agent applies against the server.
func (s *Store) applyImport(req ImportRequest) ([]Event, error) {
	imported, err := quote.ParseDocument(req.Document)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	ws := s.ensureWorkspaceLocked(req.WorkspaceID)
	current := make([]quote.Quote, 0, len(ws.Quotes))
	for _, stored := range sortedQuotesLocked(ws) {
		current = append(current, stored.Quote)
	}
	merged, result := quote.Merge(current, imported)

	events := make([]Event, 0)
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, mergedQuote := range merged {
		key := quoteKey(mergedQuote.ID)
		existing, exists := ws.Quotes[key]
		if exists && quote.Equal(existing.Quote, mergedQuote) {
			continue
		}
		eventType := "quote.created"
		if exists {
			eventType = "quote.updated"
		}
		revision := s.nextRevisionLocked()
		ws.Quotes[key] = StoredQuote{
			Quote:     mergedQuote,
			Revision:  revision,
			UpdatedAt: now,
		}
		event := Event{
			EventID:       s.nextEventIDLocked(),
			Type:          eventType,
			QuoteID:       mergedQuote.ID,
			Revision:      revision,
			Origin:        "import",
			CorrelationID: req.CorrelationID,
			Timestamp:     now,
		}
		ws.Events = append(ws.Events, event)
		events = append(events, event)
	}
	ws.Imports.Applied++
	ws.Imports.Added += result.Added
	ws.Imports.Conflicts += result.Conflicts
	if err := s.saveLocked(); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *Store) pruneProcessedImportsLocked() {
	if len(s.importsByID) <= s.maxStoredImports {
		return
	}
	type agedImport struct {
		id         string
		receivedAt string
	}
	processed := make([]agedImport, 0)
	for importID := range s.importsByID {
		if !s.processedImps[importID] {
			continue
		}
		if _, dead := s.deadLetters[importID]; dead {
			continue
		}
		processed = append(processed, agedImport{
			id:         importID,
			receivedAt: s.importsByID[importID].ReceivedAt,
		})
	}
	sort.Slice(processed, func(i, j int) bool {
		return processed[i].receivedAt < processed[j].receivedAt
	})
	for _, aged := range processed {
		if len(s.importsByID) <= s.maxStoredImports {
			return
		}
		delete(s.importsByID, aged.id)
		delete(s.processedImps, aged.id)
	}
}

func (s *Store) enqueueArchive(task archiveTask) {
	if task.OpID == "" || s.archiveQueue == nil {
		return
	}
	select {
	case <-s.closed:
		return
	default:
	}
	s.queueMu.Lock()
	if _, exists := s.queuedArchives[task.OpID]; exists {
		s.queueMu.Unlock()
		return
	}
	s.queuedArchives[task.OpID] = struct{}{}
	s.queueMu.Unlock()
	if s.archiveQueue.TryEnqueue(task) {
		return
	}
	go func() {
		if !s.archiveQueue.Enqueue(s.queueCtx, task) {
			s.queueMu.Lock()
			delete(s.queuedArchives, task.OpID)
			s.queueMu.Unlock()
		}
	}()
}

func (s *Store) archiveWorker() {
	for {
		task, ok := s.archiveQueue.Dequeue(s.queueCtx)
		if !ok {
			return
		}
		s.queueMu.Lock()
		delete(s.queuedArchives, task.OpID)
		s.queueMu.Unlock()
		s.processArchive(task)
	}
}

func (s *Store) processArchive(task archiveTask) {
	s.mu.Lock()
	ws, ok := s.workspaces[task.WorkspaceID]
	if !ok {
		s.mu.Unlock()
		return
	}
	op, ok := ws.Ops[task.OpID]
	if !ok || (op.Status != "pending" && op.Status != "running") {
		s.mu.Unlock()
		return
	}
	op.Status = "running"
	op.AttemptCount++
	attempt := op.AttemptCount
	op.NextAttemptAt = nil
	ws.Ops[task.OpID] = op
	var payload *StoredQuote
	if stored, exists := ws.Quotes[quoteKey(task.QuoteID)]; exists {
		clone := stored
		payload = &clone
	}
	action := op.Action
	_ = s.saveLocked()
	s.mu.Unlock()

	var pushErr error
	if s.archiveClient != nil {
		ctx, cancel := context.WithTimeout(s.queueCtx, 30*time.Second)
		switch action {
		case "quote_delete":
			pushErr = s.archiveClient.DeleteQuote(ctx, ArchiveDeleteRequest{
				WorkspaceID:   task.WorkspaceID,
				QuoteID:       task.QuoteID,
				Revision:      task.Revision,
				CorrelationID: task.CorrelationID,
			})
		default:
			upsert := ArchiveUpsertRequest{
				WorkspaceID:   task.WorkspaceID,
				QuoteID:       task.QuoteID,
				Revision:      task.Revision,
				CorrelationID: task.CorrelationID,
			}
			if payload != nil {
				upsert.Text = payload.Text
				upsert.Category = payload.Category
			}
			pushErr = s.archiveClient.UpsertQuote(ctx, upsert)
		}
		cancel()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	ws, ok = s.workspaces[task.WorkspaceID]
	if !ok {
		return
	}
	op, ok = ws.Ops[task.OpID]
	if !ok {
		return
	}
	if pushErr == nil {
		op.Status = "succeeded"
		op.LastError = nil
		op.NextAttemptAt = nil
		ws.Ops[task.OpID] = op
		_ = s.saveLocked()
		return
	}
	errText := pushErr.Error()
	op.LastError = &errText
	if attempt >= s.maxArchiveTries {
		op.Status = "failed"
		op.NextAttemptAt = nil
		ws.Ops[task.OpID] = op
		_ = s.saveLocked()
		return
	}
	delay := s.archiveDelay * time.Duration(1<<uint(attempt-1))
	nextAt := time.Now().Add(delay).Format(time.RFC3339Nano)
	op.Status = "pending"
	op.NextAttemptAt = &nextAt
	ws.Ops[task.OpID] = op
	_ = s.saveLocked()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-s.queueCtx.Done():
			return
		case <-timer.C:
		}
		s.enqueueArchive(task)
	}()
}

func operationIDSeq(opID string) int64 {
	trimmed := strings.TrimPrefix(opID, "op_")
	seq, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0
	}
	return seq
}
