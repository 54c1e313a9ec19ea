package quotestore

import (
	"sort"
	"strings"
)

func (s *Store) GetOperation(workspaceID, opID string) (OperationStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ws, ok := s.workspaces[workspaceID]
	if !ok {
		return OperationStatus{}, ErrNotFound
	}
	op, ok := ws.Ops[opID]
	if !ok {
		return OperationStatus{}, ErrNotFound
	}
	return op, nil
}

func (s *Store) ListOperations(workspaceID, status, action, cursor string, limit int) (OperationFeed, error) {
	if workspaceID == "" {
		return OperationFeed{}, ErrInvalidInput
	}
	if limit <= 0 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	ws, ok := s.workspaces[workspaceID]
	if !ok {
		if cursor != "" {
			return OperationFeed{}, ErrInvalidInput
		}
		return OperationFeed{Items: []OperationStatus{}, NextCursor: nil}, nil
	}
	opIDs := make([]string, 0, len(ws.Ops))
	for opID, op := range ws.Ops {
		if status != "" && op.Status != status {
			continue
		}
		if action != "" && op.Action != action {
			continue
		}
		opIDs = append(opIDs, opID)
	}
	sort.Slice(opIDs, func(i, j int) bool {
		left := operationIDSeq(opIDs[i])
		right := operationIDSeq(opIDs[j])
		if left == right {
			return opIDs[i] > opIDs[j]
		}
		return left > right
	})
	start := 0
	if cursor != "" {
		found := false
		for i := range opIDs {
			if opIDs[i] == cursor {
				start = i + 1
				found = true
				break
			}
		}
		if !found {
			return OperationFeed{}, ErrInvalidInput
		}
	}
	if start >= len(opIDs) {
		return OperationFeed{Items: []OperationStatus{}, NextCursor: nil}, nil
	}
	end := start + limit
	if end > len(opIDs) {
		end = len(opIDs)
	}
	items := make([]OperationStatus, 0, end-start)
	for _, opID := range opIDs[start:end] {
		items = append(items, ws.Ops[opID])
	}
	var next *string
	if end < len(opIDs) {
		cursorValue := opIDs[end-1]
		next = &cursorValue
	}
	return OperationFeed{Items: items, NextCursor: next}, nil
}

// ReplayOperation requeues a failed archive push. Ops that are still
// pending or already succeeded cannot be replayed.
func (s *Store) ReplayOperation(workspaceID, opID, correlationID string) (QueuedResponse, error) {
	s.mu.Lock()
	ws, ok := s.workspaces[workspaceID]
	if !ok {
		s.mu.Unlock()
		return QueuedResponse{}, ErrNotFound
	}
	op, ok := ws.Ops[opID]
	if !ok {
		s.mu.Unlock()
		return QueuedResponse{}, ErrNotFound
	}
	if op.Status != "failed" {
		s.mu.Unlock()
		return QueuedResponse{}, ErrInvalidState
	}
	op.Status = "pending"
	op.AttemptCount = 0
	op.LastError = nil
	op.CorrelationID = correlationID
	op.NextAttemptAt = nil
	ws.Ops[opID] = op
	_ = s.saveLocked()
	s.mu.Unlock()

	s.enqueueArchive(archiveTask{
		WorkspaceID:   workspaceID,
		OpID:          opID,
		QuoteID:       op.QuoteID,
		Revision:      op.Revision,
		CorrelationID: correlationID,
	})
	return QueuedResponse{Status: "queued", ID: opID, CorrelationID: correlationID}, nil
}

func (s *Store) ListDeadLetters(workspaceID, cursor string, limit int) (DeadLetterFeed, error) {
	if workspaceID == "" {
		return DeadLetterFeed{}, ErrInvalidInput
	}
	if limit <= 0 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]ImportDeadLetter, 0, len(s.deadLetters))
	for _, dead := range s.deadLetters {
		if dead.WorkspaceID != workspaceID {
			continue
		}
		items = append(items, dead)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].FailedAt == items[j].FailedAt {
			return items[i].ImportID < items[j].ImportID
		}
		return items[i].FailedAt > items[j].FailedAt
	})

	start := 0
	if cursor != "" {
		found := false
		for i := range items {
			if items[i].ImportID == cursor {
				start = i + 1
				found = true
				break
			}
		}
		if !found {
			return DeadLetterFeed{}, ErrInvalidInput
		}
	}
	if start >= len(items) {
		return DeadLetterFeed{Items: []ImportDeadLetter{}, NextCursor: nil}, nil
	}
	end := start + limit
	if end > len(items) {
		end = len(items)
	}
	slice := append([]ImportDeadLetter(nil), items[start:end]...)
	var next *string
	if end < len(items) {
		cursorValue := items[end-1].ImportID
		next = &cursorValue
	}
	return DeadLetterFeed{Items: slice, NextCursor: next}, nil
}

func (s *Store) GetDeadLetter(workspaceID, importID string) (ImportDeadLetter, error) {
	if workspaceID == "" || importID == "" {
		return ImportDeadLetter{}, ErrInvalidInput
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.deadLetters[importID]
	if !ok || item.WorkspaceID != workspaceID {
		return ImportDeadLetter{}, ErrNotFound
	}
	return item, nil
}

func (s *Store) AcknowledgeDeadLetter(workspaceID, importID, correlationID string) (AckResponse, error) {
	if workspaceID == "" || importID == "" {
		return AckResponse{}, ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.deadLetters[importID]
	if !ok || item.WorkspaceID != workspaceID {
		return AckResponse{}, ErrNotFound
	}
	delete(s.deadLetters, importID)
	_ = s.saveLocked()
	return AckResponse{
		Status:        "acknowledged",
		ID:            importID,
		CorrelationID: correlationID,
	}, nil
}

// ReplayOperationAny finds the op across all workspaces and requeues it.
// Admin tooling uses this when the workspace is not known up front.
func (s *Store) ReplayOperationAny(opID, correlationID string) (QueuedResponse, error) {
	s.mu.RLock()
	owner := ""
	for workspaceID, ws := range s.workspaces {
		if _, ok := ws.Ops[opID]; ok {
			owner = workspaceID
			break
		}
	}
	s.mu.RUnlock()
	if owner == "" {
		return QueuedResponse{}, ErrNotFound
	}
	return s.ReplayOperation(owner, opID, correlationID)
}

func (s *Store) GetImport(workspaceID, importID string) (ImportRequest, string, error) {
	if workspaceID == "" || strings.TrimSpace(importID) == "" {
		return ImportRequest{}, "", ErrInvalidInput
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.importsByID[importID]
	if !ok || req.WorkspaceID != workspaceID {
		return ImportRequest{}, "", ErrNotFound
	}
	status := "queued"
	if _, dead := s.deadLetters[importID]; dead {
		status = "dead_lettered"
	} else if s.processedImps[importID] {
		status = "applied"
	}
	return req, status, nil
}
