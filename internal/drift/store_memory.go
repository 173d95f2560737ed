package drift

import (
	"context"
	"sort"
	"sync"
	"time"

	"redline/internal/severity"
	id "redline/pkg/domain"
	"redline/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu    sync.RWMutex
	items map[id.DriftItemID]Item
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{items: make(map[id.DriftItemID]Item)}
}

func (s *InMemoryStore) Create(_ context.Context, item *Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[item.ID]; exists {
		return sentinel.ErrConflict
	}
	s.items[item.ID] = *item
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, itemID id.DriftItemID) (*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[itemID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &item, nil
}

func (s *InMemoryStore) UpdateDetection(_ context.Context, itemID id.DriftItemID, currentValue string, sev severity.Level, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[itemID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if item.Status != StatusUnresolved {
		return sentinel.ErrInvalidState
	}
	item.CurrentValue = currentValue
	item.Severity = sev
	item.DetectedAt = at
	s.items[itemID] = item
	return nil
}

func (s *InMemoryStore) Resolve(_ context.Context, item *Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.items[item.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if stored.Status != StatusUnresolved {
		return sentinel.ErrInvalidState
	}
	s.items[item.ID] = *item
	return nil
}

func (s *InMemoryStore) List(_ context.Context, workspaceID id.WorkspaceID, status *Status) ([]Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Item
	for _, item := range s.items {
		if item.WorkspaceID != workspaceID {
			continue
		}
		if status != nil && item.Status != *status {
			continue
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt.Before(out[j].DetectedAt) })
	return out, nil
}

func (s *InMemoryStore) ListUnresolved(ctx context.Context, workspaceID id.WorkspaceID) ([]Item, error) {
	status := StatusUnresolved
	return s.List(ctx, workspaceID, &status)
}

func (s *InMemoryStore) ListByVariable(_ context.Context, workspaceID id.WorkspaceID, variableID id.VariableID) ([]Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Item
	for _, item := range s.items {
		if item.WorkspaceID == workspaceID && item.VariableID != nil && *item.VariableID == variableID {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt.Before(out[j].DetectedAt) })
	return out, nil
}

func (s *InMemoryStore) FindUnresolvedForClause(_ context.Context, workspaceID id.WorkspaceID, clauseID id.ClauseID) (*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, item := range s.items {
		if item.WorkspaceID == workspaceID && item.ClauseID == clauseID &&
			item.VariableID == nil && item.Status == StatusUnresolved {
			found := item
			return &found, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryStore) CountUnresolved(_ context.Context, workspaceID id.WorkspaceID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, item := range s.items {
		if item.WorkspaceID == workspaceID && item.Status == StatusUnresolved {
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) CountUnresolvedBySeverity(_ context.Context, workspaceID id.WorkspaceID, sev severity.Level) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, item := range s.items {
		if item.WorkspaceID == workspaceID && item.Status == StatusUnresolved && item.Severity == sev {
			n++
		}
	}
	return n, nil
}
